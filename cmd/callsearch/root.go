package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowpbx/callsearch/internal/correlate"
	"github.com/flowpbx/callsearch/internal/query"
	"github.com/flowpbx/callsearch/internal/search"
	"github.com/flowpbx/callsearch/internal/store/postgres"
)

var (
	postgresDSN string

	searchService *search.Service
)

var rootCmd = &cobra.Command{
	Use:   "callsearch",
	Short: "Ad hoc telephony session correlation search",
	Long: `callsearch runs the same correlation search engine the HTTP
service uses, directly against a configured store, for operators
investigating call records without standing up the HTTP service.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&postgresDSN, "postgres-dsn", "", "PostgreSQL connection string for the document store")
	rootCmd.AddCommand(searchCmd)
}

// connect opens the production store and wires a search.Service, used by
// every subcommand that needs live access rather than a test double.
func connect() (*search.Service, func(), error) {
	if postgresDSN == "" {
		return nil, nil, fmt.Errorf("--postgres-dsn is required")
	}

	db, err := postgres.Open(postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}

	catalog := query.NewCachedCatalog(db)
	svc := search.NewService(db, catalog, correlate.DefaultConfig())

	return svc, func() { db.Close() }, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
