package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_dip_bot/internal/domain"
)

// StateFileVersion 1 is the unversioned single-position layout; 2 keeps a
// list of lots per symbol.
const StateFileVersion = 2

// ErrUnsupportedStateVersion is returned for files written by a newer layout.
var ErrUnsupportedStateVersion = errors.New("unsupported state file version")

// pricePrecision bounds the fractional digits written to disk.
const pricePrecision = 10

var legacyTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// JSONStateStore persists the State aggregate as one JSON document.
type JSONStateStore struct {
	path string
	mu   sync.Mutex
}

func NewJSONStateStore(path string) *JSONStateStore {
	return &JSONStateStore{path: path}
}

func (s *JSONStateStore) Path() string {
	return s.path
}

type stateFile struct {
	Version              int                        `json:"version"`
	Params               paramsFile                 `json:"params"`
	RemainingBudget      *float64                   `json:"remaining_budget"`
	Positions            map[string]json.RawMessage `json:"positions"`
	LastReferencePrice   *float64                   `json:"last_reference_price"`
	LastPositionBuyPrice *float64                   `json:"last_position_buy_price,omitempty"`
	SessionProfit        float64                    `json:"session_profit"`
	Running              bool                       `json:"running"`
}

type paramsFile struct {
	Symbol          string   `json:"symbol"`
	DecreasePct     float64  `json:"decrease_pct"`
	IncreasePct     float64  `json:"increase_pct"`
	TxAmount        float64  `json:"tx_amount"`
	AllocatedBudget float64  `json:"allocated_budget"`
	CommissionPct   *float64 `json:"commission_pct"`
	MaxBuyPrice     *float64 `json:"max_buy_price"`
}

type lotFile struct {
	ID            string   `json:"id,omitempty"`
	Symbol        string   `json:"symbol"`
	Quantity      float64  `json:"quantity"`
	BuyPrice      float64  `json:"buy_price"`
	LastBuyPrice  *float64 `json:"last_buy_price"`
	HighestPrice  *float64 `json:"highest_price"`
	EntryTime     string   `json:"entry_time"`
	TotalInvested *float64 `json:"total_invested"`
}

// Load returns (nil, nil) when no state file exists yet.
func (s *JSONStateStore) Load(ctx context.Context) (*domain.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	return decodeState(data)
}

func decodeState(data []byte) (*domain.State, error) {
	var raw stateFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	if raw.Version > StateFileVersion {
		return nil, fmt.Errorf("%w: %d (newest known is %d)", ErrUnsupportedStateVersion, raw.Version, StateFileVersion)
	}

	params := domain.Parameters{
		Symbol:          raw.Params.Symbol,
		DecreasePct:     raw.Params.DecreasePct,
		IncreasePct:     raw.Params.IncreasePct,
		TxAmount:        raw.Params.TxAmount,
		AllocatedBudget: raw.Params.AllocatedBudget,
		CommissionPct:   domain.DefaultCommissionPct,
		MaxBuyPrice:     raw.Params.MaxBuyPrice,
	}
	if raw.Params.CommissionPct != nil {
		params.CommissionPct = *raw.Params.CommissionPct
	}

	st := domain.NewState(params)
	if raw.RemainingBudget != nil {
		st.RemainingBudget = *raw.RemainingBudget
	}
	st.LastReferencePrice = raw.LastReferencePrice
	st.LastPositionBuyPrice = raw.LastPositionBuyPrice
	st.SessionProfit = raw.SessionProfit
	st.Running = raw.Running

	for symbol, msg := range raw.Positions {
		lots, err := decodeLots(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse positions for %s: %w", symbol, err)
		}
		for _, lf := range lots {
			lot := upgradeLot(symbol, lf)
			st.Positions[symbol] = append(st.Positions[symbol], lot)
		}
	}
	return st, nil
}

// decodeLots accepts both a list of lots and the legacy single-lot object.
func decodeLots(msg json.RawMessage) ([]lotFile, error) {
	trimmed := bytes.TrimSpace(msg)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var lots []lotFile
		if err := json.Unmarshal(trimmed, &lots); err != nil {
			return nil, err
		}
		return lots, nil
	}
	var lot lotFile
	if err := json.Unmarshal(trimmed, &lot); err != nil {
		return nil, err
	}
	return []lotFile{lot}, nil
}

func upgradeLot(symbol string, lf lotFile) *domain.Lot {
	lot := &domain.Lot{
		ID:            lf.ID,
		Symbol:        lf.Symbol,
		Quantity:      lf.Quantity,
		BuyPrice:      lf.BuyPrice,
		LastBuyPrice:  lf.BuyPrice,
		HighestPrice:  lf.BuyPrice,
		EntryTime:     parseEntryTime(lf.EntryTime),
		TotalInvested: lf.Quantity * lf.BuyPrice,
	}
	if lot.ID == "" {
		lot.ID = uuid.NewString()
	}
	if lot.Symbol == "" {
		lot.Symbol = symbol
	}
	if lf.LastBuyPrice != nil {
		lot.LastBuyPrice = *lf.LastBuyPrice
	}
	if lf.HighestPrice != nil {
		lot.HighestPrice = *lf.HighestPrice
	}
	if lf.TotalInvested != nil {
		lot.TotalInvested = *lf.TotalInvested
	}
	return lot
}

func parseEntryTime(v string) time.Time {
	for _, layout := range legacyTimeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// Save writes the state atomically: a temp file in the same directory is
// fsynced and renamed over the old one.
func (s *JSONStateStore) Save(ctx context.Context, st *domain.State) error {
	data, err := encodeState(st)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

func encodeState(st *domain.State) ([]byte, error) {
	out := stateFile{
		Version: StateFileVersion,
		Params: paramsFile{
			Symbol:          st.Params.Symbol,
			DecreasePct:     round(st.Params.DecreasePct),
			IncreasePct:     round(st.Params.IncreasePct),
			TxAmount:        round(st.Params.TxAmount),
			AllocatedBudget: round(st.Params.AllocatedBudget),
			CommissionPct:   roundPtr(&st.Params.CommissionPct),
			MaxBuyPrice:     roundPtr(st.Params.MaxBuyPrice),
		},
		RemainingBudget:      roundPtr(&st.RemainingBudget),
		Positions:            make(map[string]json.RawMessage, len(st.Positions)),
		LastReferencePrice:   roundPtr(st.LastReferencePrice),
		LastPositionBuyPrice: roundPtr(st.LastPositionBuyPrice),
		SessionProfit:        round(st.SessionProfit),
		Running:              st.Running,
	}

	for symbol, lots := range st.Positions {
		if len(lots) == 0 {
			continue
		}
		files := make([]lotFile, 0, len(lots))
		for _, l := range lots {
			files = append(files, lotFile{
				ID:            l.ID,
				Symbol:        l.Symbol,
				Quantity:      round(l.Quantity),
				BuyPrice:      round(l.BuyPrice),
				LastBuyPrice:  roundPtr(&l.LastBuyPrice),
				HighestPrice:  roundPtr(&l.HighestPrice),
				EntryTime:     l.EntryTime.UTC().Format(time.RFC3339Nano),
				TotalInvested: roundPtr(&l.TotalInvested),
			})
		}
		msg, err := json.Marshal(files)
		if err != nil {
			return nil, fmt.Errorf("failed to encode lots for %s: %w", symbol, err)
		}
		out.Positions[symbol] = msg
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	return data, nil
}

func round(v float64) float64 {
	return decimal.NewFromFloat(v).Round(pricePrecision).InexactFloat64()
}

func roundPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := round(*v)
	return &r
}
