package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	netpro "github.com/jamespap1/SwiftNetworkPro-sub002"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	// ws
	wsHeaders     []string
	wsProtocols   []string
	wsNoReconnect bool

	// sse
	sseHeaders     []string
	sseLastEventID string
	sseNoReconnect bool
)

func init() {
	rootCmd.AddCommand(wsCmd)
	wsCmd.Flags().StringArrayVarP(&wsHeaders, "header", "H", nil, "Handshake header (\"Name: value\", repeatable)")
	wsCmd.Flags().StringArrayVar(&wsProtocols, "protocol", nil, "Subprotocol to offer (repeatable)")
	wsCmd.Flags().BoolVar(&wsNoReconnect, "no-reconnect", false, "Exit on connection loss instead of reconnecting")

	rootCmd.AddCommand(sseCmd)
	sseCmd.Flags().StringArrayVarP(&sseHeaders, "header", "H", nil, "Request header (\"Name: value\", repeatable)")
	sseCmd.Flags().StringVar(&sseLastEventID, "last-event-id", "", "Resume the stream from this event ID")
	sseCmd.Flags().BoolVar(&sseNoReconnect, "no-reconnect", false, "Exit on connection loss instead of reconnecting")
}

// ============================================================================
// ws
// ============================================================================

var wsCmd = &cobra.Command{
	Use:   "ws <url>",
	Short: "Connect to a WebSocket endpoint",
	Long: "Open a WebSocket connection, print incoming frames to stdout, and\n" +
		"send each stdin line as a text message. Ctrl-C closes the connection.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		headers, err := parseHeaders(wsHeaders)
		if err != nil {
			return err
		}

		client := netpro.NewWebSocket(args[0], &netpro.WebSocketConfig{
			Headers:       headers,
			Subprotocols:  wsProtocols,
			AutoReconnect: !wsNoReconnect,
			Reconnect:     reconnectPolicy(cfg),
			Logger:        newLogger(),
		})
		client.OnState(func(ch netpro.StateChange) {
			fmt.Fprintf(os.Stderr, "* %s\n", ch.To)
		})
		client.OnError(func(err error) {
			fmt.Fprintf(os.Stderr, "! %v\n", err)
		})
		client.OnMessage(func(m netpro.Message) {
			if m.Type == netpro.MessageBinary {
				fmt.Printf("[binary %d bytes]\n", len(m.Data))
				return
			}
			fmt.Println(m.Text())
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := client.Connect(ctx); err != nil {
			return err
		}

		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				if err := client.SendText(ctx, scanner.Text()); err != nil {
					fmt.Fprintf(os.Stderr, "! send: %v\n", err)
				}
			}
		}()

		<-ctx.Done()
		return client.Disconnect(netpro.CloseNormalClosure, "client exit")
	},
}

// ============================================================================
// sse
// ============================================================================

var sseCmd = &cobra.Command{
	Use:   "sse <url>",
	Short: "Tail a Server-Sent-Events stream",
	Long: "Subscribe to an SSE endpoint and print events as they arrive.\n" +
		"On reconnect the stream resumes from the last seen event ID.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		headers, err := parseHeaders(sseHeaders)
		if err != nil {
			return err
		}

		client := netpro.NewSSE(args[0], &netpro.SSEConfig{
			Headers:       headers,
			LastEventID:   sseLastEventID,
			AutoReconnect: !sseNoReconnect,
			Reconnect:     reconnectPolicy(cfg),
			Logger:        newLogger(),
		})
		client.OnState(func(ch netpro.StateChange) {
			fmt.Fprintf(os.Stderr, "* %s\n", ch.To)
		})
		client.OnError(func(err error) {
			fmt.Fprintf(os.Stderr, "! %v\n", err)
		})
		client.OnEvent(func(ev netpro.Event) {
			if ev.ID != "" {
				fmt.Printf("[%s#%s] %s\n", ev.Type, ev.ID, ev.Data)
				return
			}
			fmt.Printf("[%s] %s\n", ev.Type, ev.Data)
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := client.Connect(ctx); err != nil {
			return err
		}

		<-ctx.Done()
		return client.Disconnect()
	},
}
