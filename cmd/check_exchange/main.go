package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_dip_bot/internal/config"
	"github.com/vitos/crypto_dip_bot/internal/infrastructure/exchange"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to config.yaml")
	symbol := flag.String("symbol", "", "symbol to check (defaults to config defaults.symbol)")
	streamWait := flag.Duration("stream", 0, "also wait this long for a websocket price")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *symbol == "" {
		*symbol = cfg.Defaults.Symbol
	}

	fmt.Printf("Testing Binance Interaction...\n")
	fmt.Printf("Testnet: %t\n", cfg.Binance.Testnet)
	if len(cfg.Binance.APIKey) >= 4 {
		fmt.Printf("API Key: %s...\n", cfg.Binance.APIKey[:4])
	} else {
		fmt.Printf("API Key: not set\n")
	}

	gateway := exchange.NewBinanceGateway(cfg.Binance.APIKey, cfg.Binance.APISecret, cfg.Binance.Testnet, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 2. Check Public Endpoint (Price)
	price, err := gateway.CurrentPrice(ctx, *symbol)
	if err != nil {
		fmt.Printf("❌ Failed to get price: %v\n", err)
	} else {
		fmt.Printf("✅ Current Price (%s): %f\n", *symbol, price)
	}

	// 3. Check Symbol Metadata (LOT_SIZE)
	step, err := gateway.LotStep(ctx, *symbol)
	if err != nil {
		fmt.Printf("❌ Failed to get lot step: %v\n", err)
	} else {
		fmt.Printf("✅ Lot step (%s): %s\n", *symbol, step)
		if price > 0 {
			raw := decimal.NewFromFloat(cfg.Defaults.TxAmount).Div(decimal.NewFromFloat(price))
			qty := exchange.RoundToStep(raw, step)
			fmt.Printf("   %.2f quote buys %s %s\n", cfg.Defaults.TxAmount, qty, *symbol)
		}
	}

	// 4. Check Price Stream
	if *streamWait <= 0 {
		return
	}
	wsURL := exchange.BinanceWSURL
	if cfg.Binance.Testnet {
		wsURL = exchange.BinanceTestnetWSURL
	}
	stream := exchange.NewPriceStream(wsURL, zap.NewNop())
	if err := stream.Subscribe(*symbol); err != nil {
		fmt.Printf("❌ Failed to subscribe: %v\n", err)
		return
	}
	got := make(chan float64, 1)
	stream.OnPriceUpdate(func(_ string, p float64) {
		select {
		case got <- p:
		default:
		}
	})

	streamCtx, stopStream := context.WithTimeout(context.Background(), *streamWait)
	defer stopStream()
	go stream.Run(streamCtx)

	select {
	case p := <-got:
		fmt.Printf("✅ Stream Price (%s): %f\n", *symbol, p)
	case <-streamCtx.Done():
		fmt.Printf("❌ No stream price within %s\n", *streamWait)
	}
}
