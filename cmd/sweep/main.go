// Command sweep is the external billing timer. It triggers the service's
// sweep endpoint either once or on a cron schedule and logs the run summary.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rjcarver/chainbill/internal/billing"
	"github.com/rjcarver/chainbill/internal/logging"
)

func main() {
	var (
		url      = flag.String("url", envOr("CHAINBILL_URL", "http://localhost:8090"), "chainbill service base URL")
		token    = flag.String("token", os.Getenv("CHAINBILL_SWEEP_TOKEN"), "sweep bearer token")
		schedule = flag.String("schedule", "0 6 * * *", "cron schedule for recurring sweeps")
		once     = flag.Bool("once", false, "run a single sweep and exit")
	)
	flag.Parse()

	logger := logging.Setup(os.Getenv("CHAINBILL_LOG_LEVEL"))

	if *once {
		if err := runSweep(logger, *url, *token); err != nil {
			logger.Error("sweep failed", "error", err)
			os.Exit(1)
		}
		return
	}

	c := cron.New()
	_, err := c.AddFunc(*schedule, func() {
		if err := runSweep(logger, *url, *token); err != nil {
			logger.Error("sweep failed", "error", err)
		}
	})
	if err != nil {
		logger.Error("invalid schedule", "schedule", *schedule, "error", err)
		os.Exit(1)
	}

	logger.Info("sweep timer starting", "schedule", *schedule, "url", *url)
	c.Run()
}

func runSweep(logger *slog.Logger, baseURL, token string) error {
	client := &http.Client{Timeout: 10 * time.Minute}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/internal/sweep", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("trigger sweep: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sweep returned status %d", resp.StatusCode)
	}

	var summary billing.Summary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return fmt.Errorf("decode summary: %w", err)
	}

	logger.Info("sweep run",
		"total", summary.TotalProcessed,
		"charged", summary.Charged,
		"pending", summary.Pending,
		"past_due", summary.PastDue,
		"cancelled", summary.Cancelled,
		"errors", summary.Errors,
	)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
