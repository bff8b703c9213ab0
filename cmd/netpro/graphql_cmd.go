package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	netpro "github.com/jamespap1/SwiftNetworkPro-sub002"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	gqlEndpoint  string
	gqlVars      string
	gqlOperation string
)

func init() {
	rootCmd.AddCommand(graphqlCmd)
	graphqlCmd.Flags().StringVar(&gqlEndpoint, "endpoint", "", "GraphQL endpoint URL (defaults to default.graphql_url)")
	graphqlCmd.Flags().StringVar(&gqlVars, "vars", "", "Operation variables as a JSON object")
	graphqlCmd.Flags().StringVar(&gqlOperation, "operation", "", "Operation name for multi-operation documents")
}

// ============================================================================
// graphql
// ============================================================================

var graphqlCmd = &cobra.Command{
	Use:   "graphql <query>",
	Short: "Execute a GraphQL operation",
	Long: "Execute a GraphQL query or mutation and pretty-print the data payload.\n" +
		"Pass @file to read the document from a file, or - to read stdin.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		query, err := readDocument(args[0])
		if err != nil {
			return err
		}

		endpoint := gqlEndpoint
		if endpoint == "" {
			endpoint = cfg.Default.GraphQLURL
		}
		if endpoint == "" {
			return fmt.Errorf("no endpoint: pass --endpoint or set default.graphql_url")
		}

		var vars map[string]any
		if gqlVars != "" {
			if err := json.Unmarshal([]byte(gqlVars), &vars); err != nil {
				return fmt.Errorf("invalid --vars: %w", err)
			}
		}

		client := newHTTPClient(cfg, newLogger())
		gql := netpro.NewGraphQL(endpoint, client)

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout(cfg))
		defer cancel()

		data, err := gql.Execute(ctx, netpro.GraphQLRequest{
			Query:         query,
			Variables:     vars,
			OperationName: gqlOperation,
		})
		if err != nil {
			return err
		}

		var pretty map[string]any
		if err := json.Unmarshal(data, &pretty); err != nil {
			os.Stdout.Write(data)
			fmt.Println()
			return nil
		}
		out, err := json.MarshalIndent(pretty, "", "  ")
		if err != nil {
			return err
		}
		os.Stdout.Write(out)
		fmt.Println()
		return nil
	},
}

// readDocument resolves the query argument: literal text, @file, or -
// for stdin.
func readDocument(arg string) (string, error) {
	switch {
	case arg == "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	case strings.HasPrefix(arg, "@"):
		data, err := os.ReadFile(arg[1:])
		if err != nil {
			return "", fmt.Errorf("read query file: %w", err)
		}
		return string(data), nil
	default:
		return arg, nil
	}
}
