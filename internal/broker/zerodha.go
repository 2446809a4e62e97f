package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"options-advisor/internal/analysis/metrics"
	"options-advisor/internal/errors"
	"options-advisor/internal/models"
	"options-advisor/pkg/utils"
)

const (
	// Kite accepts at most this many instruments per quote call.
	maxQuoteBatch = 500
	// Strikes further than this fraction from spot are not quoted.
	defaultStrikeWindow = 0.15
)

// kiteClient is the subset of the Kite Connect client the provider reads.
type kiteClient interface {
	GetPositions() (kiteconnect.Positions, error)
	GetUserMargins() (kiteconnect.AllMargins, error)
	GetInstrumentsByExchange(exchange string) (kiteconnect.Instruments, error)
	GetQuote(instruments ...string) (kiteconnect.Quote, error)
}

// KiteProvider reads positions, funds and option chains from Zerodha Kite
// Connect. It never places orders and never performs a login: it reuses an
// access token from config or from the session file a separate login wrote.
type KiteProvider struct {
	client        kiteClient
	authenticated bool
	marginRate    float64
	strikeWindow  float64
	logger        zerolog.Logger
	now           func() time.Time

	mu          sync.RWMutex
	instruments map[string]Instrument // key: tradingsymbol
	loadedOn    string                // IST date the instrument dump was fetched
}

// KiteConfig holds configuration for the Kite provider.
type KiteConfig struct {
	APIKey      string
	AccessToken string
	SessionFile string
	MarginRate  float64 // notional fraction used as margin estimate
	Timeout     time.Duration
}

// sessionData is the session file written at login.
type sessionData struct {
	AccessToken string    `json:"access_token"`
	UserID      string    `json:"user_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// NewKiteProvider creates a read-only Kite provider. A missing or expired
// session leaves the provider unauthenticated; every call then fails with
// ErrNotAuthenticated.
func NewKiteProvider(cfg KiteConfig, logger zerolog.Logger) *KiteProvider {
	client := kiteconnect.New(cfg.APIKey)
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client.SetHTTPClient(&http.Client{Timeout: timeout})

	token := cfg.AccessToken
	if token == "" && cfg.SessionFile != "" {
		session, err := loadSession(cfg.SessionFile, time.Now())
		if err != nil {
			logger.Debug().Err(err).Str("path", cfg.SessionFile).Msg("No usable Kite session")
		} else {
			token = session.AccessToken
		}
	}
	if token != "" {
		client.SetAccessToken(token)
	}

	p := newKiteProvider(client, cfg.MarginRate, logger)
	p.authenticated = token != ""
	return p
}

func newKiteProvider(client kiteClient, marginRate float64, logger zerolog.Logger) *KiteProvider {
	if marginRate <= 0 {
		marginRate = metrics.DefaultMarginRate
	}
	return &KiteProvider{
		client:        client,
		authenticated: true,
		marginRate:    marginRate,
		strikeWindow:  defaultStrikeWindow,
		logger:        logger.With().Str("component", "kite").Logger(),
		now:           time.Now,
		instruments:   make(map[string]Instrument),
	}
}

// loadSession reads a session file, rejecting tokens past their expiry.
func loadSession(path string, now time.Time) (sessionData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return sessionData{}, err
	}

	var session sessionData
	if err := json.Unmarshal(data, &session); err != nil {
		return sessionData{}, fmt.Errorf("invalid session file: %w", err)
	}
	if session.AccessToken == "" {
		return sessionData{}, fmt.Errorf("session file has no access token")
	}

	// Kite tokens lapse at 06:00 IST; files without an expiry are assumed
	// written today.
	expires := session.ExpiresAt
	if expires.IsZero() {
		if info, err := os.Stat(path); err == nil {
			expires = utils.NextSessionExpiry(info.ModTime())
		}
	}
	if !now.Before(expires) {
		return sessionData{}, fmt.Errorf("session expired at %s", expires.Format(time.RFC3339))
	}
	return session, nil
}

// IsAuthenticated reports whether an access token is configured.
func (k *KiteProvider) IsAuthenticated() bool {
	return k.authenticated
}

func (k *KiteProvider) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !k.authenticated {
		return errors.Wrap(errors.ErrNotAuthenticated, "kite")
	}
	return nil
}

// classify maps Kite token failures onto ErrNotAuthenticated.
func classify(err error) error {
	var kerr kiteconnect.Error
	if errors.As(err, &kerr) && kerr.ErrorType == kiteconnect.TokenError {
		return fmt.Errorf("%w: %s", errors.ErrNotAuthenticated, kerr.Message)
	}
	return err
}

// GetPositions returns open NFO option positions.
func (k *KiteProvider) GetPositions(ctx context.Context) ([]models.Position, error) {
	if err := k.ready(ctx); err != nil {
		return nil, err
	}

	positions, err := k.client.GetPositions()
	if err != nil {
		return nil, errors.NewProviderError("kite", "positions", classify(err))
	}
	insts, err := k.loadInstruments(ctx)
	if err != nil {
		return nil, err
	}

	type held struct {
		pos  kiteconnect.Position
		inst Instrument
	}
	var open []held
	var underlyings []string
	seen := make(map[string]bool)
	for _, p := range positions.Net {
		if p.Exchange != string(models.NFO) || p.Quantity == 0 {
			continue
		}
		inst, ok := insts[p.Tradingsymbol]
		if !ok || !inst.IsOption() {
			continue
		}
		open = append(open, held{pos: p, inst: inst})
		if !seen[inst.Name] {
			seen[inst.Name] = true
			underlyings = append(underlyings, inst.Name)
		}
	}
	if len(open) == 0 {
		return nil, nil
	}

	spots, err := k.spotPrices(ctx, underlyings)
	if err != nil {
		return nil, err
	}

	result := make([]models.Position, 0, len(open))
	for _, h := range open {
		result = append(result, mapPosition(h.pos, h.inst, spots[h.inst.Name], k.marginRate))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Key() < result[j].Key()
	})
	return result, nil
}

// mapPosition converts a Kite net position on a known option contract.
func mapPosition(p kiteconnect.Position, inst Instrument, spot, marginRate float64) models.Position {
	qty := p.Quantity
	absQty := math.Abs(float64(qty))
	multiplier := p.Multiplier
	if multiplier == 0 {
		multiplier = 1
	}

	pos := models.Position{
		Symbol:        canonicalSymbol(inst.Name),
		TradingSymbol: p.Tradingsymbol,
		Strike:        inst.Strike,
		OptionType:    models.OptionType(inst.Type),
		Quantity:      qty,
		LotSize:       inst.LotSize,
		SpotPrice:     spot,
		LastPrice:     p.LastPrice,
		Expiry:        inst.Expiry,
		PnL:           (p.LastPrice - p.AveragePrice) * float64(qty) * multiplier,
	}
	if qty < 0 {
		pos.PremiumCollected = p.AveragePrice * absQty
		pos.MarginUsed = marginRate * spot * absQty
	} else {
		pos.MarginUsed = p.AveragePrice * absQty
	}
	return pos
}

// GetFunds returns equity segment margins.
func (k *KiteProvider) GetFunds(ctx context.Context) (models.Funds, error) {
	if err := k.ready(ctx); err != nil {
		return models.Funds{}, err
	}

	margins, err := k.client.GetUserMargins()
	if err != nil {
		return models.Funds{}, errors.NewProviderError("kite", "margins", classify(err))
	}

	equity := margins.Equity
	return models.Funds{
		Available:  equity.Net,
		Used:       equity.Used.Debits,
		Collateral: equity.Available.Collateral,
	}, nil
}

// GetOptionChain returns the nearest-expiry chain for symbol, quoting
// strikes within the strike window around spot.
func (k *KiteProvider) GetOptionChain(ctx context.Context, symbol string) (*models.OptionChain, error) {
	if err := k.ready(ctx); err != nil {
		return nil, err
	}
	symbol = models.NormalizeSymbol(symbol)
	name := nfoName(symbol)

	insts, err := k.loadInstruments(ctx)
	if err != nil {
		return nil, err
	}
	spots, err := k.spotPrices(ctx, []string{name})
	if err != nil {
		return nil, err
	}
	spot, ok := spots[name]
	if !ok || spot <= 0 {
		return nil, errors.NewDataError("option_chain", symbol, "no spot price", nil)
	}

	now := k.now()
	contracts := chainContracts(insts, name, spot, k.strikeWindow, now)
	if len(contracts) == 0 {
		return nil, errors.NewDataError("option_chain", symbol, "no live option contracts", nil)
	}

	keys := make([]string, len(contracts))
	for i, c := range contracts {
		keys[i] = "NFO:" + c.TradingSymbol
	}
	quotes, err := k.quotes(ctx, keys)
	if err != nil {
		return nil, errors.NewDataError("option_chain", symbol, "quote fetch failed", err)
	}

	chain := &models.OptionChain{Symbol: symbol, SpotPrice: spot, AsOf: now}
	for _, c := range contracts {
		q, ok := quotes["NFO:"+c.TradingSymbol]
		if !ok {
			continue
		}
		chain.Quotes = append(chain.Quotes, optionQuote(symbol, c, q))
	}
	return chain, nil
}

// chainContracts selects the option contracts on the nearest live expiry of
// an underlying, within window of spot, ordered by type then strike.
func chainContracts(insts map[string]Instrument, name string, spot, window float64, now time.Time) []Instrument {
	today := now.In(utils.IndiaLocation)
	cutoff := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, utils.IndiaLocation)

	var expiry time.Time
	var candidates []Instrument
	for _, inst := range insts {
		if inst.Name != name || !inst.IsOption() || inst.Expiry.Before(cutoff) {
			continue
		}
		candidates = append(candidates, inst)
		if expiry.IsZero() || inst.Expiry.Before(expiry) {
			expiry = inst.Expiry
		}
	}

	var out []Instrument
	for _, inst := range candidates {
		if !inst.Expiry.Equal(expiry) {
			continue
		}
		if math.Abs(inst.Strike-spot)/spot > window {
			continue
		}
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Strike < out[j].Strike
	})
	return out
}

// quoteData is the part of a Kite quote the chain uses.
type quoteData struct {
	LastPrice float64
	Bid       float64
	Ask       float64
	OI        float64
}

func optionQuote(symbol string, inst Instrument, q quoteData) models.OptionQuote {
	return models.OptionQuote{
		Symbol:        symbol,
		TradingSymbol: inst.TradingSymbol,
		Strike:        inst.Strike,
		OptionType:    models.OptionType(inst.Type),
		Expiry:        inst.Expiry,
		Bid:           q.Bid,
		Ask:           q.Ask,
		LastPrice:     q.LastPrice,
		LotSize:       inst.LotSize,
		OpenInterest:  int64(q.OI),
	}
}

// quotes fetches quotes in batches Kite accepts.
func (k *KiteProvider) quotes(ctx context.Context, keys []string) (map[string]quoteData, error) {
	out := make(map[string]quoteData, len(keys))
	for start := 0; start < len(keys); start += maxQuoteBatch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + maxQuoteBatch
		if end > len(keys) {
			end = len(keys)
		}
		resp, err := k.client.GetQuote(keys[start:end]...)
		if err != nil {
			return nil, classify(err)
		}
		for key, q := range resp {
			d := quoteData{LastPrice: q.LastPrice, OI: q.OI}
			if len(q.Depth.Buy) > 0 {
				d.Bid = q.Depth.Buy[0].Price
			}
			if len(q.Depth.Sell) > 0 {
				d.Ask = q.Depth.Sell[0].Price
			}
			out[key] = d
		}
	}
	return out, nil
}

// spotPrices returns last prices keyed by NFO underlying name.
func (k *KiteProvider) spotPrices(ctx context.Context, names []string) (map[string]float64, error) {
	keys := make([]string, len(names))
	for i, n := range names {
		keys[i] = spotKey(n)
	}
	quotes, err := k.quotes(ctx, keys)
	if err != nil {
		return nil, errors.NewProviderError("kite", "spot", err)
	}
	out := make(map[string]float64, len(names))
	for _, n := range names {
		if q, ok := quotes[spotKey(n)]; ok {
			out[n] = q.LastPrice
		}
	}
	return out, nil
}

// loadInstruments returns the NFO instrument dump, fetched once per trading
// day.
func (k *KiteProvider) loadInstruments(ctx context.Context) (map[string]Instrument, error) {
	today := k.now().In(utils.IndiaLocation).Format("2006-01-02")

	k.mu.RLock()
	if k.loadedOn == today {
		insts := k.instruments
		k.mu.RUnlock()
		return insts, nil
	}
	k.mu.RUnlock()

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.loadedOn == today {
		return k.instruments, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	dump, err := k.client.GetInstrumentsByExchange(string(models.NFO))
	if err != nil {
		return nil, errors.NewProviderError("kite", "instruments", classify(err))
	}

	insts := make(map[string]Instrument, len(dump))
	for _, inst := range dump {
		insts[inst.Tradingsymbol] = Instrument{
			Token:         uint32(inst.InstrumentToken),
			TradingSymbol: inst.Tradingsymbol,
			Name:          inst.Name,
			Exchange:      models.Exchange(inst.Exchange),
			Strike:        inst.StrikePrice,
			Type:          inst.InstrumentType,
			Expiry:        inst.Expiry.Time,
			LotSize:       int(inst.LotSize),
		}
	}
	k.instruments = insts
	k.loadedOn = today
	k.logger.Debug().Int("count", len(insts)).Dur("duration", time.Since(start)).Msg("Loaded NFO instruments")
	return insts, nil
}

// Index underlyings whose NFO name and NSE quote key differ from the symbol.
var indexUnderlyings = map[string]struct {
	nfo  string
	spot string
}{
	"NIFTY50":   {nfo: "NIFTY", spot: "NSE:NIFTY 50"},
	"NIFTY":     {nfo: "NIFTY", spot: "NSE:NIFTY 50"},
	"BANKNIFTY": {nfo: "BANKNIFTY", spot: "NSE:NIFTY BANK"},
	"FINNIFTY":  {nfo: "FINNIFTY", spot: "NSE:NIFTY FIN SERVICE"},
}

// nfoName returns the NFO underlying name for a symbol.
func nfoName(symbol string) string {
	if u, ok := indexUnderlyings[symbol]; ok {
		return u.nfo
	}
	return symbol
}

// spotKey returns the NSE quote key for an NFO underlying name.
func spotKey(name string) string {
	if u, ok := indexUnderlyings[name]; ok {
		return u.spot
	}
	return "NSE:" + name
}

// canonicalSymbol maps an NFO underlying name to the symbol used in scope
// lists.
func canonicalSymbol(name string) string {
	if strings.EqualFold(name, "NIFTY") {
		return "NIFTY50"
	}
	return models.NormalizeSymbol(name)
}

var _ Broker = (*KiteProvider)(nil)
