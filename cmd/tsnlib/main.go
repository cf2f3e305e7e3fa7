// Command tsnlib is the Link/Qdisc Administrator's CLI surface: create,
// delete, and describe a VLAN sub-interface from a config.yaml document.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tsnkit/tsnkit/internal/cliconfig"
	"github.com/tsnkit/tsnkit/pkg/tsnadmin"
	"github.com/tsnkit/tsnkit/pkg/tsnconfig"
	"github.com/tsnkit/tsnkit/pkg/tsnlog"
	"github.com/tsnkit/tsnkit/pkg/yamldoc"
)

var (
	configPath string
	debug      bool
)

func main() {
	root := &cobra.Command{
		Use:          "tsnlib",
		Short:        "Create, delete, and inspect TSN VLAN sub-interfaces",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: $CONFIG_PATH or ./config.yaml)")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(createCmd(), deleteCmd(), infoCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadRegistry() (tsnconfig.Registry, error) {
	doc, err := yamldoc.Load(cliconfig.Resolve(configPath))
	if err != nil {
		return nil, err
	}
	return tsnconfig.Normalize(doc)
}

func createCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <interface> <vlanId>",
		Short: "Bring up a VLAN sub-interface per its NIC config",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			nic := args[0]
			vlanID, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("tsnlib: invalid vlanId %q: %w", args[1], err)
			}

			log := tsnlog.New("tsnlib", debug)
			reg, err := loadRegistry()
			if err != nil {
				return err
			}
			cfg, ok := reg[nic]
			if !ok {
				return fmt.Errorf("tsnlib: no config for nic %q", nic)
			}
			admin := tsnadmin.New(log)
			if err := admin.Apply(context.Background(), nic, vlanID, cfg); err != nil {
				return err
			}
			fmt.Println(tsnadmin.VlanName(nic, vlanID), "up")
			return nil
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <interface> <vlanId>",
		Short: "Tear down a VLAN sub-interface and its qdiscs",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			nic := args[0]
			vlanID, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("tsnlib: invalid vlanId %q: %w", args[1], err)
			}

			log := tsnlog.New("tsnlib", debug)
			admin := tsnadmin.New(log)
			if err := admin.Revert(context.Background(), nic, vlanID); err != nil {
				return err
			}
			fmt.Println(tsnadmin.VlanName(nic, vlanID), "removed")
			return nil
		},
	}
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info [interface...]",
		Short: "Print NIC normalized TAS/CBS configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadRegistry()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				for name, cfg := range reg {
					fmt.Printf("=== %s ===\n%s\n", name, cfg.Describe())
				}
				return nil
			}
			for _, nic := range args {
				cfg, ok := reg[nic]
				if !ok {
					return fmt.Errorf("tsnlib: no config for nic %q", nic)
				}
				fmt.Printf("=== %s ===\n%s\n", nic, cfg.Describe())
			}
			return nil
		},
	}
}
