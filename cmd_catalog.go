package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect or refresh the cached CNAE catalog",
}

var catalogInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the cache slot and index state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp(cfg, logger, offline)
		defer a.close()

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(a.svc.Status(cmd.Context()))
	},
}

var catalogRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Drop the cached catalog and download it again",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp(cfg, logger, offline)
		defer a.close()

		n, err := a.svc.Reload(cmd.Context())
		if err != nil {
			return fmt.Errorf("refresh catalog: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "catalog reloaded: %d subclasses\n", n)
		return nil
	},
}
