package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flashkit/flashkit/internal/config"
	"github.com/flashkit/flashkit/internal/output"
)

func addConfigCommands(parent *cobra.Command) {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Get or set persisted configuration values",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Print a config value",
		Args:  cobra.ExactArgs(1),
		RunE:  runConfigGet,
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Persist a config value",
		Args:  cobra.ExactArgs(2),
		RunE:  runConfigSet,
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List valid config keys",
		Args:  cobra.NoArgs,
		RunE:  runConfigList,
	})
	parent.AddCommand(configCmd)
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	v, err := config.Get(args[0])
	if err != nil {
		return err
	}
	if output.IsJSON() {
		return output.PrintJSON(cmd.OutOrStdout(), map[string]string{args[0]: v})
	}
	fmt.Fprintln(cmd.OutOrStdout(), v)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	return config.Set(args[0], args[1])
}

func runConfigList(cmd *cobra.Command, args []string) error {
	keys := config.Keys()
	if output.IsJSON() {
		return output.PrintJSON(cmd.OutOrStdout(), keys)
	}
	for _, k := range keys {
		fmt.Fprintln(cmd.OutOrStdout(), k)
	}
	return nil
}
