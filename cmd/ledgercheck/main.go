// Command ledgercheck is a diagnostic tool for the remote entitlement
// ledger. It prints this machine's device identity and the active ledger
// record for it, and can mark a stale record inactive.
//
// Configuration comes from the environment (a .env file is loaded when
// present):
//
//	LEDGER_URL       base URL of the ledger REST endpoint
//	LEDGER_API_KEY   service key sent as apikey and bearer token
//	IDENTITY_PATH    bolt file holding the device identity (default ./premium.db)
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/xinyao/wuxing-premium/identity"
	"github.com/xinyao/wuxing-premium/ledger"
	"github.com/xinyao/wuxing-premium/store/bolt"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ledgercheck:", err)
		os.Exit(1)
	}
}

func run() error {
	markExpired := flag.String("mark-expired", "", "mark the given transaction ID inactive and exit")
	timeout := flag.Duration("timeout", 30*time.Second, "overall request timeout")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	baseURL := os.Getenv("LEDGER_URL")
	apiKey := os.Getenv("LEDGER_API_KEY")
	if baseURL == "" || apiKey == "" {
		return errors.New("LEDGER_URL and LEDGER_API_KEY must be set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := ledger.New(baseURL, apiKey, ledger.WithLogger(logger))

	if *markExpired != "" {
		if err := client.MarkExpired(ctx, *markExpired); err != nil {
			return fmt.Errorf("mark expired: %w", err)
		}
		logger.Info("record marked inactive", "transaction_id", *markExpired)
		return nil
	}

	idPath := os.Getenv("IDENTITY_PATH")
	if idPath == "" {
		idPath = "premium.db"
	}

	kv, err := bolt.New(idPath)
	if err != nil {
		return fmt.Errorf("open identity store: %w", err)
	}
	defer kv.Close()

	ident := identity.New(kv, identity.WithLogger(logger))
	deviceID, err := ident.Identity(ctx)
	if err != nil {
		return fmt.Errorf("device identity: %w", err)
	}
	logger.Info("resolved device identity", "device_id", deviceID)

	rec, err := client.Query(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("query ledger: %w", err)
	}
	if rec == nil {
		fmt.Println("no active ledger record for this device")
		return nil
	}

	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if rec.Expired(time.Now()) {
		fmt.Println("record is past its expiration date; rerun with -mark-expired", rec.TransactionID)
	}

	return nil
}
