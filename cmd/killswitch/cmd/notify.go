package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/killswitch/internal/api"
	"github.com/hugo-lorenzo-mato/killswitch/internal/core"
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Send an exhaustion notification to a running watcher",
	Long: `Send one resource exhaustion notification to 'killswitch watch' over HTTP.

The call returns once the watcher has handled it; if the notification
escalates, that includes running every diagnostic and killing the target.

Examples:
  killswitch notify --flags heap
  killswitch notify --flags threads,oom --addr 10.0.0.5:7070`,
	RunE: runNotify,
}

var (
	notifyFlags   string
	notifyAddr    string
	notifySource  string
	notifyTimeout time.Duration
	notifyJSON    bool
)

func init() {
	rootCmd.AddCommand(notifyCmd)

	notifyCmd.Flags().StringVar(&notifyFlags, "flags", "", "exhaustion flags: heap, threads, oom (comma separated)")
	notifyCmd.Flags().StringVar(&notifyAddr, "addr", "", "watcher address (default: watch.listen from config)")
	notifyCmd.Flags().StringVar(&notifySource, "source", "cli", "source recorded with the notification")
	notifyCmd.Flags().DurationVar(&notifyTimeout, "timeout", 2*time.Minute, "request timeout")
	notifyCmd.Flags().BoolVar(&notifyJSON, "json", false, "print the response as JSON")
	_ = notifyCmd.MarkFlagRequired("flags")
}

func runNotify(cmd *cobra.Command, _ []string) error {
	// Fail on bad flags before reaching the watcher.
	if _, err := core.ParseFlags(notifyFlags); err != nil {
		return err
	}

	addr := notifyAddr
	if addr == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		addr = cfg.Watch.Listen
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), notifyTimeout)
	defer cancel()

	resp, err := sendNotification(ctx, http.DefaultClient, addr, api.NotificationRequest{
		Flags:  notifyFlags,
		Source: notifySource,
	})
	if err != nil {
		return err
	}

	if notifyJSON {
		return outputJSON(cmd.OutOrStdout(), resp)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s (flags: %s, state: %s)\n", resp.Outcome, resp.Flags, resp.State)
	return nil
}

func notificationURL(addr string) string {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return strings.TrimSuffix(addr, "/") + "/api/v1/notifications"
}

func sendNotification(ctx context.Context, client *http.Client, addr string, body api.NotificationRequest) (*api.NotificationResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, notificationURL(addr), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return nil, fmt.Errorf("watcher rejected notification: %s", apiErr.Error)
	}

	var out api.NotificationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &out, nil
}
