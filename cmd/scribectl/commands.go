package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var errDaemon = errors.New("daemon reported an error")

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print host, session and connection state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+opts.addr+"/api/v1/status", nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("status: %s: %s", resp.Status, strings.TrimSpace(string(body)))
			}
			return printJSON(cmd.OutOrStdout(), body)
		},
	}
}

func newStartCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start recording the active tab",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordingCommand(cmd, opts, "start-recording", func(evt event) bool {
				return evt.Type == "recording-started"
			})
		},
	}
}

func newStopCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the current recording",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecordingCommand(cmd, opts, "stop-recording", func(evt event) bool {
				return evt.Type == "recording-stopped"
			})
		},
	}
}

// runRecordingCommand sends typ and prints progress until done matches, a
// warn is received, or an error is broadcast.
func runRecordingCommand(cmd *cobra.Command, opts *rootOptions, typ string, done func(event) bool) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()
	c, err := dialPanel(ctx, opts.addr)
	if err != nil {
		return err
	}
	defer c.Close()

	// The greeting carries the current status; consume it before acting.
	if _, err := c.next(ctx); err != nil {
		return err
	}
	if err := c.send(map[string]any{"type": typ}); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	return c.waitFor(ctx, func(evt event) (bool, error) {
		switch {
		case done(evt):
			fmt.Fprintln(out, evt.Type)
			return true, nil
		case evt.Type == "warn":
			fmt.Fprintln(out, "warn:", evt.Text)
			return true, nil
		case evt.Type == "error":
			return true, fmt.Errorf("%w: %s", errDaemon, evt.Text)
		case evt.Type == "status" || evt.Type == "recording-status":
			fmt.Fprintln(out, describe(evt))
		}
		return false, nil
	})
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		tabUUID       string
		limit         int
		noTranscripts bool
		outputDir     string
	)
	cmd := &cobra.Command{
		Use:   "history [tab-id]",
		Short: "Print recording history for a tab",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := map[string]any{
				"type":               "request-tab-history",
				"includeTranscripts": !noTranscripts,
			}
			if len(args) == 1 {
				msg["tabId"] = args[0]
			}
			if tabUUID != "" {
				msg["tabUUID"] = tabUUID
			}
			if msg["tabId"] == nil && tabUUID == "" {
				return errors.New("history: a tab id or --uuid is required")
			}
			if limit > 0 {
				msg["limit"] = limit
			}
			if outputDir != "" {
				msg["outputDir"] = outputDir
			}
			evt, err := request(cmd, opts, msg, "tab-history-result", "tab-history-error")
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), evt.Entries)
		},
	}
	cmd.Flags().StringVar(&tabUUID, "uuid", "", "durable tab identity")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum entries (0 for host default)")
	cmd.Flags().BoolVar(&noTranscripts, "no-transcripts", false, "omit transcript text")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "recordings directory override")
	return cmd
}

func newPlayCmd(opts *rootOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "play <audio-path>",
		Short: "Fetch a saved recording through the host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			evt, err := request(cmd, opts, map[string]any{
				"type":      "request-audio-playback",
				"audioPath": args[0],
			}, "audio-file", "audio-file-error")
			if err != nil {
				return err
			}
			data, err := base64.StdEncoding.DecodeString(evt.Base64)
			if err != nil {
				return fmt.Errorf("play: decode audio: %w", err)
			}
			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d bytes (%s) to %s\n", len(data), evt.MimeType, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write audio to file instead of stdout")
	return cmd
}

// request sends a correlated command and waits for its reply.
func request(cmd *cobra.Command, opts *rootOptions, msg map[string]any, okType, errType string) (event, error) {
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()
	c, err := dialPanel(ctx, opts.addr)
	if err != nil {
		return event{}, err
	}
	defer c.Close()

	id := uuid.NewString()
	msg["requestId"] = id
	if err := c.send(msg); err != nil {
		return event{}, err
	}

	var reply event
	err = c.waitFor(ctx, func(evt event) (bool, error) {
		if evt.RequestID != id {
			if evt.Type == "error" {
				return true, fmt.Errorf("%w: %s", errDaemon, evt.Text)
			}
			return false, nil
		}
		switch evt.Type {
		case okType:
			reply = evt
			return true, nil
		case errType:
			return true, fmt.Errorf("%w: %s", errDaemon, evt.Text)
		}
		return false, nil
	})
	return reply, err
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream daemon events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := dialPanel(ctx, opts.addr)
			if err != nil {
				return err
			}
			defer c.Close()
			out := cmd.OutOrStdout()
			err = c.waitFor(ctx, func(evt event) (bool, error) {
				if raw {
					fmt.Fprintln(out, string(evt.Raw))
				} else {
					fmt.Fprintln(out, describe(evt))
				}
				return false, nil
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print events as JSON")
	return cmd
}

func describe(evt event) string {
	switch evt.Type {
	case "recording-status":
		if evt.TabTitle != "" {
			return fmt.Sprintf("recording-status: %s (%s)", evt.Status, evt.TabTitle)
		}
		return "recording-status: " + evt.Status
	case "status", "warn", "error", "result":
		return evt.Type + ": " + evt.Text
	case "audio-file":
		return fmt.Sprintf("audio-file: %s (%d bytes base64)", evt.RequestID, len(evt.Base64))
	case "audio-file-error", "tab-history-error":
		return fmt.Sprintf("%s: %s: %s", evt.Type, evt.RequestID, evt.Text)
	case "tab-history-result":
		return fmt.Sprintf("tab-history-result: %s", evt.RequestID)
	}
	return evt.Type
}

func printJSON(w io.Writer, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		_, err = w.Write(data)
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
