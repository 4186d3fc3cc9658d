package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rjcarver/chainbill/internal/backup"
	"github.com/rjcarver/chainbill/internal/database"
	"github.com/rjcarver/chainbill/internal/ledger"
	"github.com/rjcarver/chainbill/internal/logging"
	"github.com/rjcarver/chainbill/internal/server"
	"github.com/rjcarver/chainbill/internal/swap"
)

func main() {
	logger := logging.Setup(os.Getenv("CHAINBILL_LOG_LEVEL"))

	port := os.Getenv("CHAINBILL_PORT")
	if port == "" {
		port = "8090"
	}

	dbPath := os.Getenv("CHAINBILL_DB_PATH")
	if dbPath == "" {
		dbPath = "chainbill.db"
	}

	amount, err := decimal.NewFromString(envOr("CHAINBILL_MONTHLY_AMOUNT_USD", "9.99"))
	if err != nil {
		slog.Error("invalid monthly amount", "error", err)
		os.Exit(1)
	}

	licenseDays, err := strconv.Atoi(envOr("CHAINBILL_LICENSE_DAYS", "30"))
	if err != nil {
		slog.Error("invalid license days", "error", err)
		os.Exit(1)
	}

	db, err := database.Open(dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	cfg := server.Config{
		Swap: swap.Config{
			BaseURL:           os.Getenv("SWAP_BASE_URL"),
			APIKey:            os.Getenv("SWAP_API_KEY"),
			SettlementAccount: os.Getenv("SWAP_SETTLEMENT_ACCOUNT"),
			DestinationAsset:  os.Getenv("SWAP_DESTINATION_ASSET"),
		},
		Ledger: ledger.Config{
			BaseURL:  os.Getenv("LEDGER_BASE_URL"),
			APIToken: os.Getenv("LEDGER_API_TOKEN"),
		},
		MonthlyAmountUSD:   amount,
		LicenseDays:        licenseDays,
		DefaultOriginAsset: envOr("CHAINBILL_DEFAULT_ORIGIN_ASSET", "eth"),
		SweepTokenHash:     os.Getenv("CHAINBILL_SWEEP_TOKEN_HASH"),
		EVMRPCURL:          os.Getenv("CHAINBILL_EVM_RPC_URL"),
		NEARRPCURL:         os.Getenv("CHAINBILL_NEAR_RPC_URL"),
	}

	srv := server.New(db, cfg, logger)

	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	backupHour, _ := strconv.Atoi(envOr("CHAINBILL_BACKUP_HOUR", "4"))
	retentionDays, _ := strconv.Atoi(envOr("CHAINBILL_BACKUP_RETENTION_DAYS", "30"))
	backupMgr := backup.NewManager(backup.Config{
		S3: backup.S3Config{
			Endpoint:  os.Getenv("CHAINBILL_S3_ENDPOINT"),
			Bucket:    os.Getenv("CHAINBILL_S3_BUCKET"),
			Region:    envOr("CHAINBILL_S3_REGION", "auto"),
			AccessKey: os.Getenv("CHAINBILL_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("CHAINBILL_S3_SECRET_KEY"),
		},
		DBPath:        dbPath,
		Hour:          backupHour,
		RetentionDays: retentionDays,
	}, db, logger.With("component", "backup"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	backupMgr.Start(ctx)

	// Background cleanup goroutine
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.RateLimiter().Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		slog.Info("chainbill service starting", "addr", ":"+port, "backup_enabled", backupMgr.Enabled())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cancel()
	backupMgr.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
