package main

import (
	"fmt"

	"github.com/cuemby/topology/pkg/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a topology configuration file without running it",
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().StringP("config", "c", "", "configuration file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	root, err := config.Load(configPath)
	if err != nil {
		return err
	}

	fmt.Printf("OK: %d topologies configured for self=%s\n", len(root.Topologies), root.Self)
	for name, t := range root.Topologies {
		fmt.Printf("  - %s: strategy=%s\n", name, t.Strategy)
	}
	return nil
}
