package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lucasfdcampos/cnae-search/internal/cnae"
	"github.com/lucasfdcampos/cnae-search/internal/smartsearch"
)

var (
	searchJSON  bool
	searchLimit int
	searchUser  string
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Run one smart search and print the results",
	Long: `Runs the full search pipeline once, against a freshly loaded index.

Example:
  cnae-search search padaria artesanal --limit 5`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "print the raw response as JSON")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "maximum number of results")
	searchCmd.Flags().StringVar(&searchUser, "user", "", "user id recorded with the search")
}

func runSearch(cmd *cobra.Command, args []string) error {
	a := newApp(cfg, logger, offline)
	defer a.close()

	ctx := cmd.Context()
	if _, err := a.svc.Warm(ctx); err != nil {
		return fmt.Errorf("load index: %w", err)
	}

	resp := a.svc.Search(ctx, strings.Join(args, " "), smartsearch.Options{
		UserID: searchUser,
		Limit:  searchLimit,
	})

	out := cmd.OutOrStdout()
	if searchJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	fmt.Fprintf(out, "%q: %d result(s), source=%s, ai=%t, %dms\n",
		resp.Query, resp.Total, resp.Source, resp.AIUsed, resp.DurationMs)
	for _, w := range resp.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	for _, r := range resp.Results {
		fmt.Fprintf(out, "%3d%%  %s  %s\n", r.Relevance, cnae.FormatDisplay(r.Code), r.Description)
		if r.Reasoning != "" && r.Reasoning != "fallback" {
			fmt.Fprintf(out, "      %s\n", r.Reasoning)
		}
	}
	return nil
}
