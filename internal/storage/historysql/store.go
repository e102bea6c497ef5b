// Package historysql implements the history store on an embedded sqlite
// database.
package historysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bobmcallan/quotefeed/internal/common"
	"github.com/bobmcallan/quotefeed/internal/interfaces"
	"github.com/bobmcallan/quotefeed/internal/models"
)

// DefaultFile is the database file name under the storage path.
const DefaultFile = "history.db"

const dateLayout = "2006-01-02"

// Store persists histories and the download log in sqlite.
type Store struct {
	db     *sql.DB
	path   string
	logger *common.Logger
}

// NewStore opens (creating if needed) the database at path.
func NewStore(logger *common.Logger, path string) (*Store, error) {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, logger: logger}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate %s: %w", path, err)
	}

	logger.Info().Str("path", path).Msg("History sqlite store opened")
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS histories (
  symbol TEXT PRIMARY KEY,
  name TEXT NOT NULL DEFAULT '',
  complete INTEGER NOT NULL DEFAULT 0,
  not_found INTEGER NOT NULL DEFAULT 0,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS quotes (
  symbol TEXT NOT NULL,
  date TEXT NOT NULL,
  open REAL NOT NULL,
  high REAL NOT NULL,
  low REAL NOT NULL,
  close REAL NOT NULL,
  volume INTEGER NOT NULL,
  downloaded_at INTEGER NOT NULL,
  PRIMARY KEY(symbol, date)
);

CREATE TABLE IF NOT EXISTS downloads (
  symbol TEXT PRIMARY KEY,
  downloaded_at INTEGER NOT NULL
);
`)
	return err
}

// Load returns the stored history for symbol, or an empty one.
func (s *Store) Load(ctx context.Context, symbol string) (*models.QuoteHistory, error) {
	h := models.NewQuoteHistory(symbol)

	var complete, notFound int
	err := s.db.QueryRowContext(ctx,
		`SELECT name, complete, not_found FROM histories WHERE symbol = ?`, symbol,
	).Scan(&h.Name, &complete, &notFound)
	if errors.Is(err, sql.ErrNoRows) {
		return h, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", symbol, err)
	}
	h.Complete = complete != 0
	h.NotFound = notFound != 0

	rows, err := s.db.QueryContext(ctx, `
SELECT date, open, high, low, close, volume, downloaded_at
FROM quotes WHERE symbol = ? ORDER BY date ASC`, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to load quotes for %s: %w", symbol, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			date         string
			downloadedMs int64
			q            = models.Quote{Symbol: symbol}
		)
		if err := rows.Scan(&date, &q.Open, &q.High, &q.Low, &q.Close, &q.Volume, &downloadedMs); err != nil {
			return nil, fmt.Errorf("failed to scan quote for %s: %w", symbol, err)
		}
		q.Date, err = time.Parse(dateLayout, date)
		if err != nil {
			continue
		}
		if downloadedMs > 0 {
			q.DownloadedAt = time.UnixMilli(downloadedMs).UTC()
		}
		h.Quotes = append(h.Quotes, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read quotes for %s: %w", symbol, err)
	}
	h.Dedup()
	return h, nil
}

// Save replaces the stored history for h.Symbol in one transaction.
func (s *Store) Save(ctx context.Context, h *models.QuoteHistory) error {
	if h == nil || h.Symbol == "" {
		return fmt.Errorf("history has no symbol")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
INSERT INTO histories(symbol, name, complete, not_found, updated_at)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(symbol) DO UPDATE SET
  name = excluded.name,
  complete = excluded.complete,
  not_found = excluded.not_found,
  updated_at = excluded.updated_at`,
		h.Symbol, h.Name, boolInt(h.Complete), boolInt(h.NotFound), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save history for %s: %w", h.Symbol, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM quotes WHERE symbol = ?`, h.Symbol); err != nil {
		return fmt.Errorf("failed to clear quotes for %s: %w", h.Symbol, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO quotes(symbol, date, open, high, low, close, volume, downloaded_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(symbol, date) DO UPDATE SET
  open = excluded.open, high = excluded.high, low = excluded.low,
  close = excluded.close, volume = excluded.volume, downloaded_at = excluded.downloaded_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare quote insert: %w", err)
	}
	defer stmt.Close()

	for _, q := range h.Quotes {
		if q.Date.IsZero() {
			continue
		}
		var downloadedMs int64
		if !q.DownloadedAt.IsZero() {
			downloadedMs = q.DownloadedAt.UnixMilli()
		}
		if _, err := stmt.ExecContext(ctx, h.Symbol, q.Date.Format(dateLayout),
			q.Open, q.High, q.Low, q.Close, q.Volume, downloadedMs); err != nil {
			return fmt.Errorf("failed to save quote %s %s: %w", h.Symbol, q.Date.Format(dateLayout), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit history for %s: %w", h.Symbol, err)
	}
	return nil
}

// Delete removes the history and its quotes.
func (s *Store) Delete(ctx context.Context, symbol string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM quotes WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("failed to delete quotes for %s: %w", symbol, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM histories WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("failed to delete history for %s: %w", symbol, err)
	}
	return tx.Commit()
}

// Symbols lists every stored symbol, sorted.
func (s *Store) Symbols(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol FROM histories ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to list symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

// DownloadLog returns the log backed by the downloads table.
func (s *Store) DownloadLog() interfaces.DownloadLog {
	return downloadLog{db: s.db}
}

type downloadLog struct {
	db *sql.DB
}

func (d downloadLog) LastDownloaded(ctx context.Context, symbol string) (time.Time, bool, error) {
	var ms int64
	err := d.db.QueryRowContext(ctx,
		`SELECT downloaded_at FROM downloads WHERE symbol = ?`, models.NormalizeSymbol(symbol),
	).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read download log: %w", err)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

func (d downloadLog) MarkDownloaded(ctx context.Context, symbol string, at time.Time) error {
	_, err := d.db.ExecContext(ctx, `
INSERT INTO downloads(symbol, downloaded_at) VALUES(?, ?)
ON CONFLICT(symbol) DO UPDATE SET downloaded_at = excluded.downloaded_at`,
		models.NormalizeSymbol(symbol), at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write download log: %w", err)
	}
	return nil
}

func (d downloadLog) Entries(ctx context.Context) ([]models.DownloadRecord, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT symbol, downloaded_at FROM downloads ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to list download log: %w", err)
	}
	defer rows.Close()

	var records []models.DownloadRecord
	for rows.Next() {
		var (
			r  models.DownloadRecord
			ms int64
		)
		if err := rows.Scan(&r.Symbol, &ms); err != nil {
			return nil, err
		}
		r.Downloaded = time.UnixMilli(ms).UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ interfaces.HistoryStore = (*Store)(nil)
