package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowpbx/callsearch/internal/search"
)

var (
	searchCreatedAt    int64
	searchTerminatedAt int64
	searchJSON         bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search correlated calls within a time window",
	Long: `Runs a free-text query against the correlation search engine and
prints matching correlated calls within the given time window
(milliseconds since epoch).`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().Int64Var(&searchCreatedAt, "created-at", 0, "start of the time window (ms since epoch)")
	searchCmd.Flags().Int64Var(&searchTerminatedAt, "terminated-at", 0, "end of the time window (ms since epoch)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as newline-delimited JSON")
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := args[0]

	svc := searchService
	var cleanup func()
	if svc == nil {
		var err error
		svc, cleanup, err = connect()
		if err != nil {
			return err
		}
		defer cleanup()
	}

	ctx := context.Background()
	results, err := svc.Search(ctx, search.Request{
		CreatedAt:    searchCreatedAt,
		TerminatedAt: searchTerminatedAt,
		Query:        query,
	})
	if err != nil {
		if errors.Is(err, search.ErrInvalidQuery) {
			return fmt.Errorf("invalid query: %w", err)
		}
		return fmt.Errorf("search failed: %w", err)
	}

	count := 0
	var streamErr error
	results(func(res search.Result, err error) bool {
		if err != nil {
			streamErr = err
			return false
		}
		count++
		if searchJSON {
			data, _ := json.Marshal(res)
			cmd.Println(string(data))
		} else {
			cmd.Printf("[%d] %s -> %s (%s, %s)\n", count, res.Caller, res.Callee, res.Method, res.State)
		}
		return true
	})
	if streamErr != nil {
		return fmt.Errorf("search interrupted: %w", streamErr)
	}

	if count == 0 {
		cmd.Println("No results found.")
	}
	return nil
}
