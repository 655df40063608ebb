package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

// errUnsupportedFormat is returned when --format names neither table nor json.
var errUnsupportedFormat = errors.New("unsupported output format")

// stats mirrors the admin surface's GET /sessions response body. It is
// kept as a plain struct here rather than importing internal/game so
// the CLI only ever depends on the documented wire shape, the same
// boundary a client talking to a real network service would have.
type stats struct {
	SlotsTotal       int    `json:"slots_total"`
	SlotsInUse       int    `json:"slots_in_use"`
	LiveHandlers     int64  `json:"live_handlers"`
	SessionsCreated  uint64 `json:"sessions_created"`
	CapacityRejected uint64 `json:"capacity_rejected"`
	SessionsReaped   uint64 `json:"sessions_reaped"`
}

type sessionsResponse struct {
	Stats stats `json:"stats"`
}

type healthResponse struct {
	Status string `json:"status"`
}

func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "Show scheduler session statistics",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var body sessionsResponse
			if err := getJSON(adminURL("/sessions"), &body); err != nil {
				return fmt.Errorf("get sessions: %w", err)
			}

			out, err := formatStats(body.Stats, outputFormat)
			if err != nil {
				return fmt.Errorf("format sessions: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check daemon liveness",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var body healthResponse
			if err := getJSON(adminURL("/healthz"), &body); err != nil {
				return fmt.Errorf("get health: %w", err)
			}

			fmt.Println(body.Status)
			return nil
		},
	}
}

// getJSON performs an HTTP GET against url and decodes the JSON body into dst.
func getJSON(url string, dst any) error {
	resp, err := httpClient.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(b))
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
