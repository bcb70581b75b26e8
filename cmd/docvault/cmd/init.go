package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/docvault/docvault/internal/config"
	"github.com/docvault/docvault/internal/output"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default .docvault.yaml in the target directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			root, err := resolveRoot(path)
			if err != nil {
				return err
			}
			cfg := config.NewConfig()
			cfg.Documents.Dir = root

			configPath := filepath.Join(root, ".docvault.yaml")
			if err := cfg.WriteYAML(configPath); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			output.New(cmd.OutOrStdout()).Successf("Wrote %s", configPath)
			return nil
		},
	}
	return cmd
}
