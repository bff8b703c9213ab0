package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	netpro "github.com/jamespap1/SwiftNetworkPro-sub002"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	// get
	getHeaders []string
	getQuery   []string

	// post
	postHeaders []string
	postQuery   []string
	postData    string
	postJSON    bool
	postForm    []string
	postFiles   []string
)

func init() {
	rootCmd.AddCommand(getCmd)
	getCmd.Flags().StringArrayVarP(&getHeaders, "header", "H", nil, "Request header (\"Name: value\", repeatable)")
	getCmd.Flags().StringArrayVarP(&getQuery, "query", "q", nil, "Query parameter (key=value, repeatable)")

	rootCmd.AddCommand(postCmd)
	postCmd.Flags().StringArrayVarP(&postHeaders, "header", "H", nil, "Request header (\"Name: value\", repeatable)")
	postCmd.Flags().StringArrayVarP(&postQuery, "query", "q", nil, "Query parameter (key=value, repeatable)")
	postCmd.Flags().StringVarP(&postData, "data", "d", "", "Raw request body")
	postCmd.Flags().BoolVar(&postJSON, "json", false, "Send --data as application/json")
	postCmd.Flags().StringArrayVarP(&postForm, "form", "F", nil, "Form field (key=value, repeatable)")
	postCmd.Flags().StringArrayVar(&postFiles, "file", nil, "File attachment (field=path, repeatable; switches to multipart)")
}

// requestOptions converts header and query flags into request options.
func requestOptions(headers, query []string) ([]netpro.RequestOption, error) {
	var opts []netpro.RequestOption
	h, err := parseHeaders(headers)
	if err != nil {
		return nil, err
	}
	for name, values := range h {
		for _, v := range values {
			opts = append(opts, netpro.Header(name, v))
		}
	}
	q, err := parsePairs(query, "query")
	if err != nil {
		return nil, err
	}
	if len(q) > 0 {
		opts = append(opts, netpro.QueryMap(q))
	}
	return opts, nil
}

// requestTimeout bounds one-shot commands, leaving headroom over the
// client's own timeout.
func requestTimeout(cfg *Config) time.Duration {
	if cfg.Default.TimeoutSeconds > 0 {
		return time.Duration(cfg.Default.TimeoutSeconds+5) * time.Second
	}
	return 60 * time.Second
}

// ============================================================================
// get
// ============================================================================

var getCmd = &cobra.Command{
	Use:   "get <url>",
	Short: "Perform an HTTP GET request",
	Long:  "Perform a GET request and print the response body.\nRelative URLs resolve against default.base_url from the config.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		opts, err := requestOptions(getHeaders, getQuery)
		if err != nil {
			return err
		}

		client := newHTTPClient(cfg, newLogger())
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout(cfg))
		defer cancel()

		resp, err := client.Get(ctx, args[0], opts...)
		if err != nil {
			return err
		}
		printResponse(resp)
		return resp.Err()
	},
}

// ============================================================================
// post
// ============================================================================

var postCmd = &cobra.Command{
	Use:   "post <url>",
	Short: "Perform an HTTP POST request",
	Long: "Perform a POST request and print the response body.\n" +
		"--data sends a raw body (--json marks it as JSON), --form sends\n" +
		"URL-encoded fields, and --file attachments switch to multipart/form-data.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		opts, err := requestOptions(postHeaders, postQuery)
		if err != nil {
			return err
		}

		client := newHTTPClient(cfg, newLogger())
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout(cfg))
		defer cancel()

		var resp *netpro.Response
		switch {
		case len(postFiles) > 0:
			resp, err = postMultipart(ctx, client, args[0], opts)
		case len(postForm) > 0:
			fields, perr := parsePairs(postForm, "form")
			if perr != nil {
				return perr
			}
			resp, err = client.Post(ctx, args[0], append(opts, netpro.FormData(fields))...)
		case postJSON:
			resp, err = client.Post(ctx, args[0],
				append(opts, netpro.Header("Content-Type", "application/json"), netpro.Body(postData))...)
		default:
			resp, err = client.Post(ctx, args[0], append(opts, netpro.Body(postData))...)
		}
		if err != nil {
			return err
		}
		printResponse(resp)
		return resp.Err()
	},
}

// postMultipart builds a multipart form from --form and --file flags.
func postMultipart(ctx context.Context, client *netpro.Client, url string, opts []netpro.RequestOption) (*netpro.Response, error) {
	form := netpro.NewForm()

	fields, err := parsePairs(postForm, "form")
	if err != nil {
		return nil, err
	}
	form.AddFields(fields)

	files, err := parsePairs(postFiles, "file")
	if err != nil {
		return nil, err
	}
	for field, path := range files {
		if err := form.AddFilePath(field, path); err != nil {
			return nil, fmt.Errorf("attach %s: %w", path, err)
		}
	}

	return client.PostMultipart(ctx, url, form, opts...)
}
