package cliconfig

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve_FlagTakesPriority(t *testing.T) {
	t.Setenv(EnvVar, "/from/env.yaml")
	assert.Equal(t, "/from/flag.yaml", Resolve("/from/flag.yaml"))
}

func TestResolve_FallsBackToEnv(t *testing.T) {
	t.Setenv(EnvVar, "/from/env.yaml")
	assert.Equal(t, "/from/env.yaml", Resolve(""))
}

func TestResolve_FallsBackToDefault(t *testing.T) {
	os.Unsetenv(EnvVar)
	assert.Equal(t, DefaultPath, Resolve(""))
}
