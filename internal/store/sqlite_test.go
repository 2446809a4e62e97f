package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-advisor/internal/errors"
	"options-advisor/internal/models"
)

var (
	captured = time.Date(2030, 1, 10, 9, 30, 0, 0, time.UTC)
	expiry   = time.Date(2030, 1, 30, 0, 0, 0, 0, time.UTC)
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "snapshot.db"))
	require.NoError(t, err)
	s.now = func() time.Time { return captured }
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_Positions(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	positions := []models.Position{
		{Symbol: "INFY", TradingSymbol: "INFY30JAN1800CE", Strike: 1800, OptionType: models.OptionTypeCall,
			Quantity: -400, LotSize: 400, MarginUsed: 90000, PremiumCollected: 8000, SpotPrice: 1700, Expiry: expiry},
		{Symbol: "icicibank", Strike: 1400, OptionType: models.OptionTypePut, Quantity: -700, LotSize: 700,
			MarginUsed: 120000, PremiumCollected: 10500, SpotPrice: 1500, Sector: "Banking", PnL: 1200.5, Expiry: expiry},
	}
	require.NoError(t, s.SavePositions(ctx, positions))

	got, err := s.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ICICIBANK", got[0].Symbol)
	assert.Equal(t, "Banking", got[0].Sector)
	assert.Equal(t, 1200.5, got[0].PnL)
	assert.Equal(t, positions[0], got[1])

	// Saving again replaces rather than appends.
	require.NoError(t, s.SavePositions(ctx, positions[:1]))
	got, err = s.GetPositions(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, captured, s.GetLastSync(SyncPositions))
}

func TestSQLiteStore_Funds(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.GetFunds(ctx)
	assert.True(t, errors.Is(err, errors.ErrSnapshotNotFound))

	want := models.Funds{Available: 50000, Used: 210000, Collateral: 100000}
	require.NoError(t, s.SaveFunds(ctx, want))
	got, err := s.GetFunds(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSQLiteStore_Chain(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.GetOptionChain(ctx, "ICICIBANK")
	assert.True(t, errors.Is(err, errors.ErrDataUnavailable))
	assert.True(t, errors.Is(err, errors.ErrSnapshotNotFound))

	chain := &models.OptionChain{
		Symbol:    "ICICIBANK",
		SpotPrice: 1500,
		AsOf:      captured,
		Quotes: []models.OptionQuote{
			{Symbol: "ICICIBANK", Strike: 1600, OptionType: models.OptionTypeCall, Expiry: expiry, LastPrice: 5, LotSize: 700},
			{Symbol: "ICICIBANK", Strike: 1400, OptionType: models.OptionTypePut, Expiry: expiry, Bid: 7.5, Ask: 8.5, LastPrice: 8, LotSize: 700, OpenInterest: 120000},
			{Symbol: "ICICIBANK", Strike: 1460, OptionType: models.OptionTypePut, Expiry: expiry, Bid: 16.5, Ask: 17.5, LastPrice: 17, LotSize: 700, MarginPerLot: 98000, ImpliedVolatility: 0.21},
		},
	}
	require.NoError(t, s.SaveChain(ctx, chain))

	got, err := s.GetOptionChain(ctx, "icicibank")
	require.NoError(t, err)
	assert.Equal(t, chain, got)

	chain.Quotes = chain.Quotes[:1]
	require.NoError(t, s.SaveChain(ctx, chain))
	got, err = s.GetOptionChain(ctx, "ICICIBANK")
	require.NoError(t, err)
	assert.Len(t, got.Quotes, 1)
}

func TestSQLiteStore_Sentiment(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	bad := models.SentimentSignal{Symbol: "INFY", RiskIndicator: 11, Confidence: 5}
	assert.True(t, errors.Is(s.SaveSentiment(ctx, bad), errors.ErrInvalidSignal))

	want := models.SentimentSignal{
		Symbol:          "INFY",
		ShortTermLabel:  "Cautiously Positive",
		MediumTermLabel: "Neutral",
		RiskIndicator:   4,
		Confidence:      7,
		KeyDrivers:      []string{"deal wins"},
		Risks:           []string{"US slowdown"},
		AsOf:            captured,
	}
	require.NoError(t, s.SaveSentiment(ctx, want))
	got, err := s.GetSentiment(ctx, "infy")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = s.GetSentiment(ctx, "TCS")
	assert.True(t, errors.Is(err, errors.ErrDataUnavailable))
}

func TestSQLiteStore_Info(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))

	info, err := s.Info(ctx)
	require.NoError(t, err)
	assert.Zero(t, info.Positions)
	assert.Nil(t, info.Funds)
	assert.Empty(t, info.Synced)

	require.NoError(t, s.SaveFunds(ctx, models.Funds{Available: 1000}))
	require.NoError(t, s.SaveChain(ctx, &models.OptionChain{Symbol: "TCS", SpotPrice: 4000, AsOf: captured,
		Quotes: []models.OptionQuote{{Symbol: "TCS", Strike: 3800, OptionType: models.OptionTypePut, Expiry: expiry, LastPrice: 20, LotSize: 175}}}))
	require.NoError(t, s.SaveChain(ctx, &models.OptionChain{Symbol: "SBIN", SpotPrice: 800, AsOf: captured}))

	info, err = s.Info(ctx)
	require.NoError(t, err)
	require.NotNil(t, info.Funds)
	assert.Equal(t, 1000.0, info.Funds.Available)
	require.Len(t, info.Chains, 2)
	assert.Equal(t, ChainInfo{Symbol: "SBIN", SpotPrice: 800, AsOf: captured}, info.Chains[0])
	assert.Equal(t, 1, info.Chains[1].Quotes)
	assert.Equal(t, captured, info.Synced[SyncChains])
}

// Property: any quote saved in a chain is read back unchanged.
func TestProperty_ChainRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("saved quotes read back", prop.ForAll(
		func(strike, bid, spread float64, lot int, put bool) bool {
			optType := models.OptionTypeCall
			if put {
				optType = models.OptionTypePut
			}
			q := models.OptionQuote{Symbol: "NIFTY", Strike: strike, OptionType: optType, Expiry: expiry,
				Bid: bid, Ask: bid + spread, LastPrice: bid, LotSize: lot}
			if err := s.SaveChain(ctx, &models.OptionChain{Symbol: "NIFTY", SpotPrice: 24000, AsOf: captured, Quotes: []models.OptionQuote{q}}); err != nil {
				return false
			}
			got, err := s.GetOptionChain(ctx, "NIFTY")
			return err == nil && len(got.Quotes) == 1 && got.Quotes[0] == q
		},
		gen.Float64Range(100, 50000),
		gen.Float64Range(0.05, 500),
		gen.Float64Range(0, 10),
		gen.IntRange(1, 2000),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
