// Package main provides an operator tool that forces re-aggregation of a set
// of addresses and then runs one rank pass.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/activity-scorer/internal/app"
	"github.com/activity-scorer/internal/config"
	"github.com/activity-scorer/internal/logging"
)

func main() {
	addresses := flag.String("addresses", "", "Comma-separated addresses to refresh")
	flag.Parse()

	list := splitAddresses(*addresses)
	if len(list) == 0 {
		fmt.Fprintln(os.Stderr, "usage: refresh -addresses 0xabc...,0xdef...")
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	defer func() { _ = logger.Sync() }()

	services, err := app.New(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize services")
	}
	defer services.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	failed := 0
	for _, address := range list {
		rec, err := services.Activity.ForceRefresh(ctx, address)
		if err != nil {
			failed++
			logger.WithField("address", address).WithError(err).Error("Refresh failed")
			continue
		}
		logger.WithFields(map[string]interface{}{
			"address":  rec.Address,
			"score":    rec.Score,
			"totalTxs": rec.TotalTxs,
		}).Info("Refreshed")
	}

	if err := services.Activity.RecalculateRanks(ctx); err != nil {
		logger.WithError(err).Fatal("Rank pass failed")
	}

	logger.WithFields(map[string]interface{}{
		"refreshed": len(list) - failed,
		"failed":    failed,
	}).Info("Refresh complete")

	if failed > 0 {
		services.Close()
		os.Exit(1)
	}
}

func splitAddresses(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
