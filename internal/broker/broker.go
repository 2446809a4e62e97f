// Package broker provides read-only broker integrations that feed positions,
// funds and option chains to the engine.
package broker

import (
	"context"
	"time"

	"options-advisor/internal/models"
)

// Broker is the read side of a broker account.
type Broker interface {
	IsAuthenticated() bool

	GetPositions(ctx context.Context) ([]models.Position, error)
	GetFunds(ctx context.Context) (models.Funds, error)
	GetOptionChain(ctx context.Context, symbol string) (*models.OptionChain, error)
}

// Instrument is a derivatives contract from the broker's instrument dump.
type Instrument struct {
	Token         uint32
	TradingSymbol string
	Name          string // underlying as the exchange names it
	Exchange      models.Exchange
	Strike        float64
	Type          string // CE, PE or FUT
	Expiry        time.Time
	LotSize       int
}

// IsOption reports whether the instrument is a CE or PE contract.
func (i Instrument) IsOption() bool {
	return i.Type == string(models.OptionTypeCall) || i.Type == string(models.OptionTypePut)
}
