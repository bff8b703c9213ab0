package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	netpro "github.com/jamespap1/SwiftNetworkPro-sub002"
)

// newLogger builds a console logger. --verbose lowers the level to debug.
func newLogger() *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// newHTTPClient builds a netpro client from the loaded config.
func newHTTPClient(cfg *Config, logger *zap.Logger) *netpro.Client {
	opts := []netpro.ClientOption{netpro.WithLogger(logger)}
	if cfg.Default.BaseURL != "" {
		opts = append(opts, netpro.WithBaseURL(cfg.Default.BaseURL))
	}
	if cfg.Default.Token != "" {
		opts = append(opts, netpro.WithBearerToken(cfg.Default.Token))
	}
	if cfg.Default.TimeoutSeconds > 0 {
		opts = append(opts, netpro.WithTimeout(time.Duration(cfg.Default.TimeoutSeconds)*time.Second))
	}
	if cfg.Default.UserAgent != "" {
		opts = append(opts, netpro.WithUserAgent(cfg.Default.UserAgent))
	}
	return netpro.NewClient(opts...)
}

// reconnectPolicy maps stream config onto a ReconnectPolicy, leaving
// zero fields to the library defaults.
func reconnectPolicy(cfg *Config) netpro.ReconnectPolicy {
	return netpro.ReconnectPolicy{
		InitialDelay: time.Duration(cfg.Stream.InitialDelayMS) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Stream.MaxDelayMS) * time.Millisecond,
		MaxAttempts:  cfg.Stream.MaxAttempts,
	}
}

// parseHeaders turns repeated "Name: value" flags into an http.Header.
func parseHeaders(raw []string) (http.Header, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	h := make(http.Header, len(raw))
	for _, item := range raw {
		name, value, ok := strings.Cut(item, ":")
		if !ok {
			return nil, fmt.Errorf("invalid header %q (want \"Name: value\")", item)
		}
		h.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return h, nil
}

// parsePairs turns repeated "key=value" flags into a map.
func parsePairs(raw []string, flag string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	m := make(map[string]string, len(raw))
	for _, item := range raw {
		key, value, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --%s %q (want key=value)", flag, item)
		}
		m[key] = value
	}
	return m, nil
}

// printResponse writes the status line to stderr and the body to stdout
// so piped output stays clean.
func printResponse(resp *netpro.Response) {
	fmt.Fprintf(os.Stderr, "%s in %s\n", resp.Status, resp.Duration.Round(time.Millisecond))
	if len(resp.Body) == 0 {
		return
	}
	os.Stdout.Write(resp.Body)
	if resp.Body[len(resp.Body)-1] != '\n' {
		fmt.Println()
	}
}
