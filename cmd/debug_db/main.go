package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/vitos/crypto_dip_bot/internal/config"
	"github.com/vitos/crypto_dip_bot/internal/infrastructure/storage"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to config.yaml")
	limit := flag.Int("n", 10, "journal rows to print")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	ctx := context.Background()

	// State file
	stateStore := storage.NewJSONStateStore(cfg.Storage.StatePath)
	st, err := stateStore.Load(ctx)
	switch {
	case err != nil:
		fmt.Printf("❌ Failed to load state %s: %v\n", stateStore.Path(), err)
	case st == nil:
		fmt.Printf("⚠️ No state file at %s\n", stateStore.Path())
	default:
		out, _ := json.MarshalIndent(st, "", "  ")
		fmt.Printf("State (%s):\n%s\n", stateStore.Path(), out)
		ref, ok := st.ReferencePrice()
		fmt.Printf("Running=%t Lots=%d Invested=%.4f Remaining=%.4f Reference=%v(%t)\n",
			st.Running, st.OpenLotCount(), st.Invested(), st.RemainingBudget, ref, ok)
	}

	// Journal
	store, err := storage.NewSQLiteStore(cfg.Storage.JournalPath)
	if err != nil {
		fmt.Printf("Failed to init sqlite: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	trades, err := store.ListTrades(ctx, *limit)
	if err != nil {
		fmt.Printf("Failed to list trades: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nFound %d trades:\n", len(trades))
	for _, t := range trades {
		fmt.Printf("- %s %s %s qty=%.8f price=%.8f quote=%.4f fee=%.4f profit=%.4f %s\n",
			t.CreatedAt.Format("2006-01-02 15:04:05"), t.Side, t.Symbol,
			t.Quantity, t.Price, t.QuoteAmount, t.Commission, t.Profit, t.Reason)
	}

	history, err := store.ListPositionHistory(ctx, *limit)
	if err != nil {
		fmt.Printf("Failed to list position history: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nFound %d closed lots:\n", len(history))
	for _, h := range history {
		fmt.Printf("- %s %s entry=%.8f exit=%.8f invested=%.4f net=%.4f profit=%.4f (%s)\n",
			h.ClosedAt.Format("2006-01-02 15:04:05"), h.Symbol,
			h.EntryPrice, h.ExitPrice, h.TotalInvested, h.NetRevenue, h.Profit, h.Reason)
	}

	summary, err := store.Summary(ctx)
	if err != nil {
		fmt.Printf("Failed to summarize: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\n✅ Closed lots: %d, total profit: %.4f\n", summary.ClosedLots, summary.TotalProfit)
}
