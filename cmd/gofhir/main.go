package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/robertoaraneda/gofhir/internal/config"
	"github.com/robertoaraneda/gofhir/internal/crud"
	"github.com/robertoaraneda/gofhir/internal/history"
	"github.com/robertoaraneda/gofhir/internal/httpapi"
	"github.com/robertoaraneda/gofhir/internal/search"
	"github.com/robertoaraneda/gofhir/internal/search/compartment"
	"github.com/robertoaraneda/gofhir/internal/search/resolve"
	"github.com/robertoaraneda/gofhir/internal/store"
	"github.com/robertoaraneda/gofhir/internal/terminology"
	"github.com/robertoaraneda/gofhir/pkg/fhirpath"
)

// servedResourceTypes lists every resource type internal/search/resolve's
// DefaultDefs knows about; serve hands it to the search type probe and to
// httpapi.Server.ResourceTypes.
var servedResourceTypes = []string{"Patient", "Practitioner", "Organization", "Observation", "Condition", "Encounter"}

var version = "dev"

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func execute() error {
	rootCmd := newRootCmd()
	return rootCmd.Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gofhir",
		Short: "GoFHIR - a relational FHIR server for Go",
		Long: `GoFHIR is a FHIR server backed by a relational store.

It provides:
  - serve: the FHIR REST API (CRUD, search, history, terminology operations)
  - migrate: applies the resource/search-index schema
  - fhirpath: evaluate a FHIRPath expression against a resource file

For more information, visit: https://github.com/robertoaraneda/gofhir`,
	}

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newFHIRPathCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())

	return rootCmd
}

// connectStore loads configuration from the environment, connects the
// pgxpool, and runs Migrate so serve/migrate always start from a
// schema-current database.
func connectStore(ctx context.Context) (*store.Store, *config.Server, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("parse database DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxPoolConns
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	s := store.New(pool)
	if err := s.Migrate(ctx); err != nil {
		return nil, nil, fmt.Errorf("migrate schema: %w", err)
	}
	return s, cfg, nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the resource and search-index schema to the configured database",
		RunE: func(_ *cobra.Command, _ []string) error {
			_, _, err := connectStore(context.Background())
			if err != nil {
				return err
			}
			fmt.Println("schema up to date")
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the FHIR HTTP server",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx := context.Background()
			s, cfg, err := connectStore(ctx)
			if err != nil {
				return err
			}

			cache := resolve.NewCache(resolve.DefaultDefs())
			compartments := compartment.DefaultRegistry()
			probe := search.NewStoreProbe(s, servedResourceTypes)
			term := terminology.New(s, terminology.NewStoreResolver(s))

			searchSvc := search.New(cache, compartments, s, term, probe, cfg.DefaultPageSize, cfg.MaxPageSize)
			indexer := search.NewIndexer(cache, store.NewIndexWriter())
			crudSvc := crud.New(s, indexer, searchSvc, nil)
			historySvc := history.New(s, "")

			srv := &httpapi.Server{
				CRUD:          crudSvc,
				Search:        searchSvc,
				History:       historySvc,
				Terminology:   term,
				Log:           slog.Default(),
				ResourceTypes: servedResourceTypes,
			}

			slog.Info("gofhir listening", "addr", cfg.Addr)
			return http.ListenAndServe(cfg.Addr, srv.NewRouter())
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("gofhir version %s\n", version)
		},
	}
}

func newFHIRPathCmd() *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "fhirpath [expression] [file]",
		Short: "Evaluate a FHIRPath expression",
		Long: `Evaluate a FHIRPath expression against a FHIR resource.

Examples:
  gofhir fhirpath "Patient.name.given" patient.json
  gofhir fhirpath "Observation.value.ofType(Quantity).value" observation.json
  gofhir fhirpath "Bundle.entry.resource.ofType(Patient)" bundle.json --output json`,
		Args: cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			expression := args[0]
			filePath := args[1]

			// Read the FHIR resource file
			resourceData, err := os.ReadFile(filePath)
			if err != nil {
				return fmt.Errorf("failed to read file %s: %w", filePath, err)
			}

			// Compile the expression (with caching for repeated use)
			compiled, err := fhirpath.Compile(expression)
			if err != nil {
				return fmt.Errorf("invalid FHIRPath expression: %w", err)
			}

			// Evaluate the expression
			result, err := compiled.Evaluate(resourceData)
			if err != nil {
				return fmt.Errorf("evaluation error: %w", err)
			}

			// Output the result
			switch outputFormat {
			case "json":
				return outputJSON(result)
			default:
				return outputText(result)
			}
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "output", "o", "text", "Output format (text, json)")

	return cmd
}

func outputText(result fhirpath.Collection) error {
	if result.Empty() {
		fmt.Println("(empty)")
		return nil
	}

	for i, value := range result {
		if len(result) > 1 {
			fmt.Printf("[%d] ", i)
		}
		fmt.Println(value.String())
	}
	return nil
}

func outputJSON(result fhirpath.Collection) error {
	if result.Empty() {
		fmt.Println("[]")
		return nil
	}

	// Convert to JSON-serializable format
	output := make([]interface{}, len(result))
	for i, value := range result {
		output[i] = valueToInterface(value)
	}

	jsonBytes, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	fmt.Println(string(jsonBytes))
	return nil
}

func valueToInterface(v fhirpath.Value) interface{} {
	switch val := v.(type) {
	case interface{ Bool() bool }:
		return val.Bool()
	case interface{ Value() int64 }:
		return val.Value()
	case interface{ Value() string }:
		return val.Value()
	default:
		return v.String()
	}
}

