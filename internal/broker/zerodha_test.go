package broker

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	kitemodels "github.com/zerodha/gokiteconnect/v4/models"

	"options-advisor/internal/errors"
	"options-advisor/internal/models"
	"options-advisor/pkg/utils"
)

var (
	nearExpiry = time.Date(2030, 1, 31, 0, 0, 0, 0, utils.IndiaLocation)
	farExpiry  = time.Date(2030, 2, 28, 0, 0, 0, 0, utils.IndiaLocation)
	asOf       = time.Date(2030, 1, 10, 10, 0, 0, 0, utils.IndiaLocation)
)

type fakeKite struct {
	positions   kiteconnect.Positions
	margins     kiteconnect.AllMargins
	instruments kiteconnect.Instruments
	quotes      map[string]json.RawMessage
	err         error

	instrumentCalls int
	quoteCalls      [][]string
}

func (f *fakeKite) GetPositions() (kiteconnect.Positions, error) { return f.positions, f.err }

func (f *fakeKite) GetUserMargins() (kiteconnect.AllMargins, error) { return f.margins, f.err }

func (f *fakeKite) GetInstrumentsByExchange(exchange string) (kiteconnect.Instruments, error) {
	f.instrumentCalls++
	return f.instruments, f.err
}

func (f *fakeKite) GetQuote(instruments ...string) (kiteconnect.Quote, error) {
	f.quoteCalls = append(f.quoteCalls, instruments)
	if f.err != nil {
		return nil, f.err
	}
	raw := make(map[string]json.RawMessage)
	for _, key := range instruments {
		if q, ok := f.quotes[key]; ok {
			raw[key] = q
		}
	}
	data, _ := json.Marshal(raw)
	var out kiteconnect.Quote
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func option(tradingSymbol, name, typ string, strike float64, expiry time.Time, lot float64) kiteconnect.Instrument {
	return kiteconnect.Instrument{
		Tradingsymbol:  tradingSymbol,
		Name:           name,
		Exchange:       "NFO",
		InstrumentType: typ,
		StrikePrice:    strike,
		Expiry:         kitemodels.Time{Time: expiry},
		LotSize:        lot,
	}
}

func quote(last, bid, ask, oi float64) json.RawMessage {
	return json.RawMessage(`{"last_price":` + ftoa(last) + `,"oi":` + ftoa(oi) +
		`,"depth":{"buy":[{"price":` + ftoa(bid) + `}],"sell":[{"price":` + ftoa(ask) + `}]}}`)
}

func ftoa(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}

func newFake() *fakeKite {
	return &fakeKite{
		instruments: kiteconnect.Instruments{
			option("ICICIBANK30JAN1400PE", "ICICIBANK", "PE", 1400, nearExpiry, 700),
			option("ICICIBANK30JAN1460PE", "ICICIBANK", "PE", 1460, nearExpiry, 700),
			option("ICICIBANK30JAN1560CE", "ICICIBANK", "CE", 1560, nearExpiry, 700),
			option("ICICIBANK30JAN1000PE", "ICICIBANK", "PE", 1000, nearExpiry, 700),
			option("ICICIBANK30FEB1400PE", "ICICIBANK", "PE", 1400, farExpiry, 700),
			option("ICICIBANK30JANFUT", "ICICIBANK", "FUT", 0, nearExpiry, 700),
			option("NIFTY30JAN24000PE", "NIFTY", "PE", 24000, nearExpiry, 75),
		},
		quotes: map[string]json.RawMessage{
			"NSE:ICICIBANK":            quote(1500, 0, 0, 0),
			"NSE:NIFTY 50":             quote(24500, 0, 0, 0),
			"NFO:ICICIBANK30JAN1400PE": quote(8, 7.5, 8.5, 120000),
			"NFO:ICICIBANK30JAN1460PE": quote(17, 16.5, 17.5, 90000),
			"NFO:ICICIBANK30JAN1560CE": quote(12, 11.5, 12.5, 40000),
			"NFO:NIFTY30JAN24000PE":    quote(60, 59, 61, 10),
			"NFO:ICICIBANK30FEB1400PE": quote(20, 19, 21, 5),
		},
	}
}

func newTestProvider(f *fakeKite) *KiteProvider {
	p := newKiteProvider(f, 0.15, zerolog.Nop())
	p.now = func() time.Time { return asOf }
	return p
}

func TestKiteProvider_GetOptionChain(t *testing.T) {
	f := newFake()
	p := newTestProvider(f)

	chain, err := p.GetOptionChain(context.Background(), "icicibank")
	require.NoError(t, err)

	assert.Equal(t, "ICICIBANK", chain.Symbol)
	assert.Equal(t, 1500.0, chain.SpotPrice)
	require.Len(t, chain.Quotes, 3, "far expiry, futures and strikes outside the window are excluded")

	assert.Equal(t, models.OptionTypeCall, chain.Quotes[0].OptionType)
	assert.Equal(t, models.OptionQuote{
		Symbol:        "ICICIBANK",
		TradingSymbol: "ICICIBANK30JAN1400PE",
		Strike:        1400,
		OptionType:    models.OptionTypePut,
		Expiry:        nearExpiry,
		Bid:           7.5,
		Ask:           8.5,
		LastPrice:     8,
		LotSize:       700,
		OpenInterest:  120000,
	}, chain.Quotes[1])
	assert.Equal(t, 1460.0, chain.Quotes[2].Strike)

	// The instrument dump is cached for the day.
	_, err = p.GetOptionChain(context.Background(), "ICICIBANK")
	require.NoError(t, err)
	assert.Equal(t, 1, f.instrumentCalls)
}

func TestKiteProvider_IndexChain(t *testing.T) {
	p := newTestProvider(newFake())

	chain, err := p.GetOptionChain(context.Background(), "NIFTY50")
	require.NoError(t, err)
	assert.Equal(t, "NIFTY50", chain.Symbol)
	assert.Equal(t, 24500.0, chain.SpotPrice)
	require.Len(t, chain.Quotes, 1)
	assert.Equal(t, "NIFTY50", chain.Quotes[0].Symbol)
}

func TestKiteProvider_ChainUnavailable(t *testing.T) {
	p := newTestProvider(newFake())

	_, err := p.GetOptionChain(context.Background(), "TCS")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDataUnavailable))
}

func TestKiteProvider_GetPositions(t *testing.T) {
	f := newFake()
	f.positions = kiteconnect.Positions{
		Net: []kiteconnect.Position{
			{Tradingsymbol: "ICICIBANK30JAN1400PE", Exchange: "NFO", Quantity: -700, AveragePrice: 15, LastPrice: 8, Multiplier: 1},
			{Tradingsymbol: "NIFTY30JAN24000PE", Exchange: "NFO", Quantity: 75, AveragePrice: 40, LastPrice: 60, Multiplier: 1},
			{Tradingsymbol: "ICICIBANK30JANFUT", Exchange: "NFO", Quantity: 700, AveragePrice: 1490, LastPrice: 1500},
			{Tradingsymbol: "INFY", Exchange: "NSE", Quantity: 10, AveragePrice: 1700},
			{Tradingsymbol: "ICICIBANK30JAN1460PE", Exchange: "NFO", Quantity: 0},
		},
	}
	p := newTestProvider(f)

	positions, err := p.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2)

	short := positions[0]
	assert.Equal(t, "ICICIBANK", short.Symbol)
	assert.Equal(t, models.OptionTypePut, short.OptionType)
	assert.Equal(t, 1, short.Lots())
	assert.True(t, short.IsShort())
	assert.Equal(t, 10500.0, short.PremiumCollected)
	assert.InDelta(t, 0.15*1500*700, short.MarginUsed, 1e-6)
	assert.Equal(t, 4900.0, short.PnL)
	assert.NoError(t, short.Validate(asOf))

	long := positions[1]
	assert.Equal(t, "NIFTY50", long.Symbol)
	assert.Equal(t, 24500.0, long.SpotPrice)
	assert.Zero(t, long.PremiumCollected)
	assert.Equal(t, 1500.0, long.PnL)
}

func TestKiteProvider_GetFunds(t *testing.T) {
	f := newFake()
	f.margins.Equity.Net = 50000
	f.margins.Equity.Used.Debits = 210000
	f.margins.Equity.Available.Collateral = 100000

	funds, err := newTestProvider(f).GetFunds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.Funds{Available: 50000, Used: 210000, Collateral: 100000}, funds)
}

func TestKiteProvider_Errors(t *testing.T) {
	t.Run("unauthenticated", func(t *testing.T) {
		p := newTestProvider(newFake())
		p.authenticated = false
		_, err := p.GetPositions(context.Background())
		assert.True(t, errors.Is(err, errors.ErrNotAuthenticated))
	})

	t.Run("token exception", func(t *testing.T) {
		f := newFake()
		f.err = kiteconnect.NewError(kiteconnect.TokenError, "Incorrect api_key or access_token.", nil)
		_, err := newTestProvider(f).GetFunds(context.Background())
		assert.True(t, errors.Is(err, errors.ErrNotAuthenticated), "got %v", err)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := newTestProvider(newFake()).GetOptionChain(ctx, "ICICIBANK")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestLoadSession(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, s sessionData) string {
		path := filepath.Join(dir, name)
		data, err := json.Marshal(s)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, data, 0600))
		return path
	}

	valid := write("valid.json", sessionData{AccessToken: "tok", ExpiresAt: asOf.Add(time.Hour)})
	s, err := loadSession(valid, asOf)
	require.NoError(t, err)
	assert.Equal(t, "tok", s.AccessToken)

	expired := write("expired.json", sessionData{AccessToken: "tok", ExpiresAt: asOf.Add(-time.Minute)})
	_, err = loadSession(expired, asOf)
	assert.Error(t, err)

	empty := write("empty.json", sessionData{ExpiresAt: asOf.Add(time.Hour)})
	_, err = loadSession(empty, asOf)
	assert.Error(t, err)

	_, err = loadSession(filepath.Join(dir, "missing.json"), asOf)
	assert.Error(t, err)
}

func TestUnderlyingNames(t *testing.T) {
	assert.Equal(t, "NIFTY", nfoName("NIFTY50"))
	assert.Equal(t, "NSE:NIFTY 50", spotKey("NIFTY"))
	assert.Equal(t, "NSE:NIFTY BANK", spotKey("BANKNIFTY"))
	assert.Equal(t, "NSE:INFY", spotKey(nfoName("INFY")))
	assert.Equal(t, "NIFTY50", canonicalSymbol("NIFTY"))
	assert.Equal(t, "SBIN", canonicalSymbol("sbin"))
}
