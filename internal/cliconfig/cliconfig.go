// Package cliconfig resolves the config file path every cmd/* binary
// needs, in one place instead of each main.go repeating the same
// flag/env/default chain.
package cliconfig

import "os"

// DefaultPath is used when neither a flag nor the environment variable
// names a config file.
const DefaultPath = "config.yaml"

// EnvVar is the environment variable original_source's five main.rs files
// each checked independently.
const EnvVar = "CONFIG_PATH"

// Resolve returns, in priority order: flagValue if non-empty, else
// $CONFIG_PATH if set, else DefaultPath.
func Resolve(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv(EnvVar); v != "" {
		return v
	}
	return DefaultPath
}
