package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/mimirlabs/runner/internal/types"
)

var (
	version = "1.0.0"
	commit  = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "runner",
		Short:   "Mimir Runner CLI - Execute code against a runner server",
		Version: fmt.Sprintf("%s (%s)", version, commit),
	}

	rootCmd.PersistentFlags().StringP("url", "u", "http://localhost:4000", "Runner API URL")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")

	rootCmd.AddCommand(
		newRunCommand(),
		newRuntimesCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRunCommand() *cobra.Command {
	var code string
	var timeoutMillis int

	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Execute a code submission",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if code == "" {
				if len(args) == 0 {
					return fmt.Errorf("provide a file argument or -e code")
				}
				data, err := os.ReadFile(args[0])
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", args[0], err)
				}
				code = string(data)
			}

			baseURL, _ := cmd.Flags().GetString("url")
			verbose, _ := cmd.Flags().GetBool("verbose")
			return runOverWebSocket(baseURL, code, timeoutMillis, verbose)
		},
	}

	cmd.Flags().StringVarP(&code, "eval", "e", "", "Code to execute inline")
	cmd.Flags().IntVarP(&timeoutMillis, "timeout", "t", 0, "Run deadline in milliseconds (0 uses the server default)")
	return cmd
}

func runOverWebSocket(baseURL, code string, timeoutMillis int, verbose bool) error {
	wsURL, err := toWebSocketURL(baseURL)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/api/v1/connect", nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	if verbose {
		fmt.Printf("Connected to %s\n", wsURL+"/api/v1/connect")
	}

	// Safe even when the server initializes eagerly: repeat inits are
	// no-ops and exactly one ready notification arrives.
	if err := conn.WriteJSON(types.Request{Type: types.RequestInit}); err != nil {
		return fmt.Errorf("failed to send init: %w", err)
	}

	run := types.Request{Type: types.RequestRun, Code: code}
	if timeoutMillis > 0 {
		run.Timeout = &timeoutMillis
	}

	for {
		var resp types.Response
		conn.SetReadDeadline(time.Now().Add(10 * time.Minute))
		if err := conn.ReadJSON(&resp); err != nil {
			return fmt.Errorf("connection lost: %w", err)
		}

		switch resp.Type {
		case types.ResponseReady:
			if verbose {
				color.Cyan("session ready")
			}
			if err := conn.WriteJSON(run); err != nil {
				return fmt.Errorf("failed to send run: %w", err)
			}

		case types.ResponseSuccess:
			fmt.Println(resp.Output)
			color.Green("completed in %.1fms", resp.ExecutionTime)
			return nil

		case types.ResponseError:
			if resp.Output != "" {
				fmt.Println(resp.Output)
			}
			color.Red("error: %s", resp.Error)
			return fmt.Errorf("execution failed")

		case types.ResponseInterrupted:
			color.Yellow("interrupted: %s (%.1fms)", resp.Error, resp.ExecutionTime)
			return fmt.Errorf("execution interrupted")
		}
	}
}

func newRuntimesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "runtimes",
		Short: "List interpreter engines available on the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, _ := cmd.Flags().GetString("url")

			resp, err := http.Get(strings.TrimRight(baseURL, "/") + "/api/v1/runtimes")
			if err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
			defer resp.Body.Close()

			var runtimes []types.RuntimeInfo
			if err := json.NewDecoder(resp.Body).Decode(&runtimes); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}

			for _, rt := range runtimes {
				fmt.Printf("%-10s %-10s %s\n", rt.Language, rt.Version, rt.Engine)
			}
			return nil
		},
	}
}

// toWebSocketURL converts an http(s) base URL to its ws(s) form.
func toWebSocketURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL %s: %w", baseURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %s", u.Scheme)
	}
	return strings.TrimRight(u.String(), "/"), nil
}
