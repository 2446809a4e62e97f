package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"options-advisor/internal/errors"
	"options-advisor/internal/models"
)

// SQLiteStore implements SnapshotStore using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	syncTimes map[string]time.Time
	now       func() time.Time
}

var _ SnapshotStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a snapshot database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:        db,
		syncTimes: make(map[string]time.Time),
		now:       time.Now,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Open derivative positions
	CREATE TABLE IF NOT EXISTS positions (
		contract TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		trading_symbol TEXT,
		strike REAL NOT NULL,
		option_type TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		lot_size INTEGER NOT NULL,
		margin_used REAL NOT NULL,
		premium_collected REAL NOT NULL,
		spot_price REAL,
		last_price REAL,
		expiry TEXT,
		sector TEXT,
		pnl REAL
	);

	-- Single-row funds table
	CREATE TABLE IF NOT EXISTS funds (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		available REAL NOT NULL,
		used REAL NOT NULL,
		collateral REAL NOT NULL
	);

	-- Option chain headers
	CREATE TABLE IF NOT EXISTS chains (
		symbol TEXT PRIMARY KEY,
		spot_price REAL NOT NULL,
		as_of TEXT NOT NULL
	);

	-- Option chain quotes
	CREATE TABLE IF NOT EXISTS quotes (
		symbol TEXT NOT NULL,
		trading_symbol TEXT,
		strike REAL NOT NULL,
		option_type TEXT NOT NULL,
		expiry TEXT NOT NULL,
		bid REAL,
		ask REAL,
		last_price REAL,
		lot_size INTEGER NOT NULL,
		iv REAL,
		oi INTEGER,
		margin_per_lot REAL,
		PRIMARY KEY (symbol, strike, option_type, expiry),
		FOREIGN KEY (symbol) REFERENCES chains(symbol)
	);

	-- Analyst signals
	CREATE TABLE IF NOT EXISTS sentiment (
		symbol TEXT PRIMARY KEY,
		short_term TEXT,
		medium_term TEXT,
		risk_indicator INTEGER NOT NULL,
		confidence REAL NOT NULL,
		key_drivers TEXT,
		risks TEXT,
		as_of TEXT
	);

	-- Capture times per data type
	CREATE TABLE IF NOT EXISTS sync_status (
		data_type TEXT PRIMARY KEY,
		last_sync TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_positions_symbol ON positions(symbol);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ============================================================================
// Portfolio Methods
// ============================================================================

// SavePositions replaces the stored positions.
func (s *SQLiteStore) SavePositions(ctx context.Context, positions []models.Position) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM positions`); err != nil {
		return fmt.Errorf("failed to clear positions: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO positions (contract, symbol, trading_symbol, strike, option_type, quantity,
			lot_size, margin_used, premium_collected, spot_price, last_price, expiry, sector, pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range positions {
		_, err := stmt.ExecContext(ctx, p.Key(), models.NormalizeSymbol(p.Symbol), p.TradingSymbol, p.Strike,
			string(p.OptionType), p.Quantity, p.LotSize, p.MarginUsed, p.PremiumCollected, p.SpotPrice,
			p.LastPrice, encodeTime(p.Expiry), p.Sector, p.PnL)
		if err != nil {
			return fmt.Errorf("failed to insert position %s: %w", p.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return s.SetLastSync(SyncPositions, s.now())
}

// GetPositions returns the stored positions ordered by contract.
func (s *SQLiteStore) GetPositions(ctx context.Context) ([]models.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, trading_symbol, strike, option_type, quantity, lot_size, margin_used,
			premium_collected, spot_price, last_price, expiry, sector, pnl
		FROM positions
		ORDER BY symbol, strike, option_type, expiry
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []models.Position
	for rows.Next() {
		var p models.Position
		var optType, expiry string
		var tradingSymbol, sector sql.NullString
		if err := rows.Scan(&p.Symbol, &tradingSymbol, &p.Strike, &optType, &p.Quantity, &p.LotSize,
			&p.MarginUsed, &p.PremiumCollected, &p.SpotPrice, &p.LastPrice, &expiry, &sector, &p.PnL); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		p.TradingSymbol = tradingSymbol.String
		p.Sector = sector.String
		p.OptionType = models.OptionType(optType)
		if p.Expiry, err = decodeTime(expiry); err != nil {
			return nil, fmt.Errorf("position %s: %w", p.Symbol, err)
		}
		positions = append(positions, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}
	return positions, nil
}

// SaveFunds replaces the stored funds.
func (s *SQLiteStore) SaveFunds(ctx context.Context, funds models.Funds) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO funds (id, available, used, collateral) VALUES (1, ?, ?, ?)
	`, funds.Available, funds.Used, funds.Collateral)
	if err != nil {
		return fmt.Errorf("failed to save funds: %w", err)
	}
	return s.SetLastSync(SyncFunds, s.now())
}

// GetFunds returns the stored funds, or ErrSnapshotNotFound.
func (s *SQLiteStore) GetFunds(ctx context.Context) (models.Funds, error) {
	var f models.Funds
	err := s.db.QueryRowContext(ctx, `
		SELECT available, used, collateral FROM funds WHERE id = 1
	`).Scan(&f.Available, &f.Used, &f.Collateral)
	if err == sql.ErrNoRows {
		return models.Funds{}, errors.Wrap(errors.ErrSnapshotNotFound, "funds")
	}
	if err != nil {
		return models.Funds{}, fmt.Errorf("failed to query funds: %w", err)
	}
	return f, nil
}

// ============================================================================
// Market Data Methods
// ============================================================================

// SaveChain replaces the stored chain for chain.Symbol.
func (s *SQLiteStore) SaveChain(ctx context.Context, chain *models.OptionChain) error {
	if chain == nil {
		return nil
	}
	symbol := models.NormalizeSymbol(chain.Symbol)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM quotes WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("failed to clear quotes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO chains (symbol, spot_price, as_of) VALUES (?, ?, ?)
	`, symbol, chain.SpotPrice, encodeTime(chain.AsOf)); err != nil {
		return fmt.Errorf("failed to save chain: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO quotes (symbol, trading_symbol, strike, option_type, expiry, bid, ask,
			last_price, lot_size, iv, oi, margin_per_lot)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, q := range chain.Quotes {
		_, err := stmt.ExecContext(ctx, symbol, q.TradingSymbol, q.Strike, string(q.OptionType),
			encodeTime(q.Expiry), q.Bid, q.Ask, q.LastPrice, q.LotSize, q.ImpliedVolatility,
			q.OpenInterest, q.MarginPerLot)
		if err != nil {
			return fmt.Errorf("failed to insert quote %s: %w", q.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return s.SetLastSync(SyncChains, s.now())
}

// GetOptionChain returns the stored chain for symbol. A missing chain is a
// DataError wrapping ErrSnapshotNotFound.
func (s *SQLiteStore) GetOptionChain(ctx context.Context, symbol string) (*models.OptionChain, error) {
	symbol = models.NormalizeSymbol(symbol)

	chain := &models.OptionChain{Symbol: symbol}
	var asOf string
	err := s.db.QueryRowContext(ctx, `
		SELECT spot_price, as_of FROM chains WHERE symbol = ?
	`, symbol).Scan(&chain.SpotPrice, &asOf)
	if err == sql.ErrNoRows {
		return nil, errors.NewDataError("option_chain", symbol, "not in snapshot", errors.ErrSnapshotNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query chain: %w", err)
	}
	if chain.AsOf, err = decodeTime(asOf); err != nil {
		return nil, fmt.Errorf("chain %s: %w", symbol, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT trading_symbol, strike, option_type, expiry, bid, ask, last_price, lot_size, iv, oi, margin_per_lot
		FROM quotes
		WHERE symbol = ?
		ORDER BY expiry, option_type, strike
	`, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query quotes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		q := models.OptionQuote{Symbol: symbol}
		var tradingSymbol sql.NullString
		var optType, expiry string
		if err := rows.Scan(&tradingSymbol, &q.Strike, &optType, &expiry, &q.Bid, &q.Ask, &q.LastPrice,
			&q.LotSize, &q.ImpliedVolatility, &q.OpenInterest, &q.MarginPerLot); err != nil {
			return nil, fmt.Errorf("failed to scan quote: %w", err)
		}
		q.TradingSymbol = tradingSymbol.String
		q.OptionType = models.OptionType(optType)
		if q.Expiry, err = decodeTime(expiry); err != nil {
			return nil, fmt.Errorf("quote %s: %w", symbol, err)
		}
		chain.Quotes = append(chain.Quotes, q)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating quotes: %w", err)
	}
	return chain, nil
}

// ============================================================================
// Sentiment Methods
// ============================================================================

// SaveSentiment stores a validated signal, replacing any earlier one.
func (s *SQLiteStore) SaveSentiment(ctx context.Context, signal models.SentimentSignal) error {
	if err := signal.Validate(); err != nil {
		return err
	}
	drivers, _ := json.Marshal(signal.KeyDrivers)
	risks, _ := json.Marshal(signal.Risks)

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sentiment (symbol, short_term, medium_term, risk_indicator, confidence, key_drivers, risks, as_of)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, models.NormalizeSymbol(signal.Symbol), signal.ShortTermLabel, signal.MediumTermLabel,
		signal.RiskIndicator, signal.Confidence, string(drivers), string(risks), encodeTime(signal.AsOf))
	if err != nil {
		return fmt.Errorf("failed to save sentiment: %w", err)
	}
	return s.SetLastSync(SyncSentiment, s.now())
}

// GetSentiment returns the stored signal for symbol.
func (s *SQLiteStore) GetSentiment(ctx context.Context, symbol string) (models.SentimentSignal, error) {
	symbol = models.NormalizeSymbol(symbol)

	sig := models.SentimentSignal{Symbol: symbol}
	var drivers, risks sql.NullString
	var shortTerm, mediumTerm sql.NullString
	var asOf string
	err := s.db.QueryRowContext(ctx, `
		SELECT short_term, medium_term, risk_indicator, confidence, key_drivers, risks, as_of
		FROM sentiment WHERE symbol = ?
	`, symbol).Scan(&shortTerm, &mediumTerm, &sig.RiskIndicator, &sig.Confidence, &drivers, &risks, &asOf)
	if err == sql.ErrNoRows {
		return models.SentimentSignal{}, errors.NewDataError("sentiment", symbol, "not in snapshot", errors.ErrSnapshotNotFound)
	}
	if err != nil {
		return models.SentimentSignal{}, fmt.Errorf("failed to query sentiment: %w", err)
	}

	sig.ShortTermLabel = shortTerm.String
	sig.MediumTermLabel = mediumTerm.String
	if drivers.Valid {
		json.Unmarshal([]byte(drivers.String), &sig.KeyDrivers)
	}
	if risks.Valid {
		json.Unmarshal([]byte(risks.String), &sig.Risks)
	}
	if sig.AsOf, err = decodeTime(asOf); err != nil {
		return models.SentimentSignal{}, fmt.Errorf("sentiment %s: %w", symbol, err)
	}
	return sig, nil
}

// ============================================================================
// Snapshot Summary
// ============================================================================

// Info summarizes the stored snapshot.
func (s *SQLiteStore) Info(ctx context.Context) (*SnapshotInfo, error) {
	info := &SnapshotInfo{Synced: make(map[string]time.Time)}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM positions`).Scan(&info.Positions); err != nil {
		return nil, fmt.Errorf("failed to count positions: %w", err)
	}

	funds, err := s.GetFunds(ctx)
	switch {
	case err == nil:
		info.Funds = &funds
	case !errors.Is(err, errors.ErrSnapshotNotFound):
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.symbol, c.spot_price, c.as_of, COUNT(q.strike)
		FROM chains c LEFT JOIN quotes q ON q.symbol = c.symbol
		GROUP BY c.symbol
		ORDER BY c.symbol
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query chains: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ci ChainInfo
		var asOf string
		if err := rows.Scan(&ci.Symbol, &ci.SpotPrice, &asOf, &ci.Quotes); err != nil {
			return nil, fmt.Errorf("failed to scan chain: %w", err)
		}
		ci.AsOf, _ = decodeTime(asOf)
		info.Chains = append(info.Chains, ci)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chains: %w", err)
	}

	srows, err := s.db.QueryContext(ctx, `SELECT symbol FROM sentiment ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sentiment: %w", err)
	}
	defer srows.Close()
	for srows.Next() {
		var sym string
		if err := srows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("failed to scan sentiment: %w", err)
		}
		info.Sentiment = append(info.Sentiment, sym)
	}
	if err := srows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sentiment: %w", err)
	}

	for _, dt := range []string{SyncPositions, SyncFunds, SyncChains, SyncSentiment} {
		if t := s.GetLastSync(dt); !t.IsZero() {
			info.Synced[dt] = t
		}
	}
	return info, nil
}

// ============================================================================
// Sync Methods
// ============================================================================

// GetLastSync returns the last capture time for a data type.
func (s *SQLiteStore) GetLastSync(dataType string) time.Time {
	s.mu.RLock()
	if t, ok := s.syncTimes[dataType]; ok {
		s.mu.RUnlock()
		return t
	}
	s.mu.RUnlock()

	var raw string
	err := s.db.QueryRow(`
		SELECT last_sync FROM sync_status WHERE data_type = ?
	`, dataType).Scan(&raw)
	if err != nil {
		return time.Time{}
	}
	lastSync, err := decodeTime(raw)
	if err != nil {
		return time.Time{}
	}

	s.mu.Lock()
	s.syncTimes[dataType] = lastSync
	s.mu.Unlock()

	return lastSync
}

// SetLastSync sets the last capture time for a data type.
func (s *SQLiteStore) SetLastSync(dataType string, t time.Time) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sync_status (data_type, last_sync) VALUES (?, ?)
	`, dataType, encodeTime(t))
	if err != nil {
		return fmt.Errorf("failed to set last sync: %w", err)
	}

	s.mu.Lock()
	s.syncTimes[dataType] = t
	s.mu.Unlock()

	return nil
}

// Times are stored as RFC 3339 text in UTC; the zero time is stored empty.
func encodeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}
