// Package store persists market snapshots so evaluations can be replayed
// offline against the exact positions, chains and signals they saw.
package store

import (
	"context"
	"time"

	"options-advisor/internal/models"
)

// SnapshotStore is a read/write snapshot of everything an evaluation reads.
// The read side satisfies the engine's portfolio, market data and sentiment
// provider interfaces.
type SnapshotStore interface {
	GetPositions(ctx context.Context) ([]models.Position, error)
	GetFunds(ctx context.Context) (models.Funds, error)
	GetOptionChain(ctx context.Context, symbol string) (*models.OptionChain, error)
	GetSentiment(ctx context.Context, symbol string) (models.SentimentSignal, error)

	SavePositions(ctx context.Context, positions []models.Position) error
	SaveFunds(ctx context.Context, funds models.Funds) error
	SaveChain(ctx context.Context, chain *models.OptionChain) error
	SaveSentiment(ctx context.Context, signal models.SentimentSignal) error

	Info(ctx context.Context) (*SnapshotInfo, error)
	Ping(ctx context.Context) error
	Close() error
}

// Data types tracked in sync_status.
const (
	SyncPositions = "positions"
	SyncFunds     = "funds"
	SyncChains    = "chains"
	SyncSentiment = "sentiment"
)

// ChainInfo summarizes one stored chain.
type ChainInfo struct {
	Symbol    string    `json:"symbol"`
	SpotPrice float64   `json:"spot_price"`
	Quotes    int       `json:"quotes"`
	AsOf      time.Time `json:"as_of"`
}

// SnapshotInfo summarizes the stored snapshot.
type SnapshotInfo struct {
	Positions int                  `json:"positions"`
	Funds     *models.Funds        `json:"funds,omitempty"`
	Chains    []ChainInfo          `json:"chains"`
	Sentiment []string             `json:"sentiment"`
	Synced    map[string]time.Time `json:"synced"`
}
