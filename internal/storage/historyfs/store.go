// Package historyfs implements file-based storage for quote histories: one
// JSON document per symbol plus a shared download log.
package historyfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bobmcallan/quotefeed/internal/common"
	"github.com/bobmcallan/quotefeed/internal/interfaces"
	"github.com/bobmcallan/quotefeed/internal/models"
	"github.com/bobmcallan/quotefeed/internal/storage/jsonfile"
)

const downloadsFile = "downloads.json"

// Store provides file-based JSON storage for quote histories.
type Store struct {
	basePath   string
	historyDir string
	logger     *common.Logger

	mu        sync.Mutex // serialises writers per store
	downloads *downloadLog
}

// NewStore creates the history store rooted at path. Histories live in
// path/history, the download log in path/downloads.json.
func NewStore(logger *common.Logger, path string) (*Store, error) {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	historyDir := filepath.Join(path, "history")
	if err := os.MkdirAll(historyDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history store path %s: %w", historyDir, err)
	}

	s := &Store{
		basePath:   path,
		historyDir: historyDir,
		logger:     logger,
	}
	s.downloads = &downloadLog{path: filepath.Join(path, downloadsFile), logger: logger}

	logger.Info().Str("path", path).Msg("History file store opened")
	return s, nil
}

// DataPath returns the base data path.
func (s *Store) DataPath() string {
	return s.basePath
}

// Load reads the history for symbol. A missing file yields an empty
// history; duplicate and zero-dated entries are dropped on the way in.
func (s *Store) Load(ctx context.Context, symbol string) (*models.QuoteHistory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := models.NewQuoteHistory(symbol)
	err := jsonfile.Read(jsonfile.Path(s.historyDir, symbol), h)
	if errors.Is(err, jsonfile.ErrNotExist) {
		return models.NewQuoteHistory(symbol), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", symbol, err)
	}
	if h.Symbol == "" {
		h.Symbol = symbol
	}
	if n := h.Dedup(); n > 0 {
		s.logger.Warn().Str("symbol", symbol).Int("removed", n).Msg("Dropped duplicate history entries")
	}
	return h, nil
}

// Save writes the history atomically.
func (s *Store) Save(ctx context.Context, h *models.QuoteHistory) error {
	if h == nil || h.Symbol == "" {
		return fmt.Errorf("history has no symbol")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := jsonfile.Write(jsonfile.Path(s.historyDir, h.Symbol), h); err != nil {
		return fmt.Errorf("failed to save history for %s: %w", h.Symbol, err)
	}
	return nil
}

// Delete removes the stored history for symbol.
func (s *Store) Delete(ctx context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return jsonfile.Remove(jsonfile.Path(s.historyDir, symbol))
}

// Symbols lists the symbols with a stored history, sorted.
func (s *Store) Symbols(ctx context.Context) ([]string, error) {
	keys, err := jsonfile.Keys(s.historyDir)
	if err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(keys))
	for _, key := range keys {
		var head struct {
			Symbol string `json:"symbol"`
		}
		if err := jsonfile.Read(jsonfile.Path(s.historyDir, key), &head); err != nil || head.Symbol == "" {
			symbols = append(symbols, key)
			continue
		}
		symbols = append(symbols, head.Symbol)
	}
	sort.Strings(symbols)
	return symbols, nil
}

// DownloadLog returns the download log kept beside the histories.
func (s *Store) DownloadLog() interfaces.DownloadLog {
	return s.downloads
}

func (s *Store) Close() error {
	return nil
}

// downloadLog keeps symbol → last download time in one JSON document.
type downloadLog struct {
	path   string
	logger *common.Logger

	mu      sync.Mutex
	entries map[string]time.Time
}

func (d *downloadLog) load() error {
	if d.entries != nil {
		return nil
	}
	var records []models.DownloadRecord
	err := jsonfile.Read(d.path, &records)
	if err != nil && !errors.Is(err, jsonfile.ErrNotExist) {
		// Treated as empty; histories are re-downloaded.
		d.logger.Warn().Err(err).Str("path", d.path).Msg("Download log unreadable, starting empty")
	}
	d.entries = make(map[string]time.Time, len(records))
	for _, r := range records {
		d.entries[models.NormalizeSymbol(r.Symbol)] = r.Downloaded
	}
	return nil
}

func (d *downloadLog) LastDownloaded(ctx context.Context, symbol string) (time.Time, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.load(); err != nil {
		return time.Time{}, false, err
	}
	at, ok := d.entries[models.NormalizeSymbol(symbol)]
	return at, ok, nil
}

func (d *downloadLog) MarkDownloaded(ctx context.Context, symbol string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.load(); err != nil {
		return err
	}
	d.entries[models.NormalizeSymbol(symbol)] = at
	if err := jsonfile.Write(d.path, d.recordsLocked()); err != nil {
		return fmt.Errorf("failed to save download log: %w", err)
	}
	return nil
}

func (d *downloadLog) Entries(ctx context.Context) ([]models.DownloadRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.load(); err != nil {
		return nil, err
	}
	return d.recordsLocked(), nil
}

func (d *downloadLog) recordsLocked() []models.DownloadRecord {
	records := make([]models.DownloadRecord, 0, len(d.entries))
	for sym, at := range d.entries {
		records = append(records, models.DownloadRecord{Symbol: sym, Downloaded: at})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Symbol < records[j].Symbol })
	return records
}

var _ interfaces.HistoryStore = (*Store)(nil)
