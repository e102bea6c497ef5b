// Package portfolio provides the in-memory holdings ledger the quote
// subsystem watches, persisted as one JSON document.
package portfolio

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/bobmcallan/quotefeed/internal/common"
	"github.com/bobmcallan/quotefeed/internal/interfaces"
	"github.com/bobmcallan/quotefeed/internal/models"
	"github.com/bobmcallan/quotefeed/internal/storage/jsonfile"
)

// document is the on-disk form.
type document struct {
	Securities   []models.Security    `json:"securities"`
	Transactions []models.Transaction `json:"transactions"`
}

// Service implements interfaces.Portfolio.
type Service struct {
	path   string
	logger *common.Logger

	mu           sync.RWMutex
	securities   map[string]*models.Security
	transactions map[string][]models.Transaction

	updMu  sync.Mutex
	depth  int
	queued []models.ChangeEvent

	obsMu     sync.Mutex
	observers map[int]func(models.ChangeEvent)
	nextObs   int
}

// NewService creates the ledger, loading path if it exists. An empty path
// keeps the ledger in memory only.
func NewService(logger *common.Logger, path string) (*Service, error) {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	s := &Service{
		path:         path,
		logger:       logger,
		securities:   make(map[string]*models.Security),
		transactions: make(map[string][]models.Transaction),
		observers:    make(map[int]func(models.ChangeEvent)),
	}
	if path == "" {
		return s, nil
	}

	var doc document
	err := jsonfile.Read(path, &doc)
	if errors.Is(err, jsonfile.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load portfolio: %w", err)
	}
	for _, sec := range doc.Securities {
		sec := sec
		sec.Symbol = models.NormalizeSymbol(sec.Symbol)
		s.securities[sec.Symbol] = &sec
	}
	for _, tx := range doc.Transactions {
		tx.Symbol = models.NormalizeSymbol(tx.Symbol)
		s.transactions[tx.Symbol] = append(s.transactions[tx.Symbol], tx)
	}
	for sym := range s.transactions {
		sortTransactions(s.transactions[sym])
	}

	logger.Info().Str("path", path).Int("securities", len(s.securities)).Msg("Portfolio loaded")
	return s, nil
}

func sortTransactions(txs []models.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].Date.Before(txs[j].Date) })
}

// Securities returns every held security sorted by symbol.
func (s *Service) Securities() []models.Security {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Security, 0, len(s.securities))
	for _, sec := range s.securities {
		out = append(out, *sec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (s *Service) Security(symbol string) (models.Security, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sec, ok := s.securities[models.NormalizeSymbol(symbol)]
	if !ok {
		return models.Security{}, false
	}
	return *sec, true
}

func (s *Service) Transactions(symbol string) []models.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Transaction(nil), s.transactions[models.NormalizeSymbol(symbol)]...)
}

// AddSecurity inserts or replaces a security.
func (s *Service) AddSecurity(sec models.Security) {
	sec.Symbol = models.NormalizeSymbol(sec.Symbol)
	s.mu.Lock()
	_, existed := s.securities[sec.Symbol]
	s.securities[sec.Symbol] = &sec
	s.mu.Unlock()

	change := models.ChangeInserted
	if existed {
		change = models.ChangeChanged
	}
	s.changed(models.ChangeEvent{Kind: models.ItemSecurity, Symbol: sec.Symbol, Type: change})
}

// RemoveSecurity deletes a security and its transactions.
func (s *Service) RemoveSecurity(symbol string) bool {
	symbol = models.NormalizeSymbol(symbol)
	s.mu.Lock()
	_, ok := s.securities[symbol]
	delete(s.securities, symbol)
	delete(s.transactions, symbol)
	s.mu.Unlock()
	if ok {
		s.changed(models.ChangeEvent{Kind: models.ItemSecurity, Symbol: symbol, Type: models.ChangeDeleted})
	}
	return ok
}

// AddTransaction records a trade, creating the security if it is not held.
func (s *Service) AddTransaction(tx models.Transaction) models.Transaction {
	tx.Symbol = models.NormalizeSymbol(tx.Symbol)
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}

	s.BeginUpdate()
	defer s.EndUpdate()

	if _, held := s.Security(tx.Symbol); !held {
		s.AddSecurity(models.Security{Symbol: tx.Symbol})
	}

	s.mu.Lock()
	s.transactions[tx.Symbol] = append(s.transactions[tx.Symbol], tx)
	sortTransactions(s.transactions[tx.Symbol])
	s.mu.Unlock()

	s.changed(models.ChangeEvent{Kind: models.ItemTransaction, Symbol: tx.Symbol, Type: models.ChangeInserted})
	return tx
}

// UpdateSecurity applies fn to the stored security.
func (s *Service) UpdateSecurity(symbol string, fn func(sec *models.Security)) bool {
	symbol = models.NormalizeSymbol(symbol)
	s.mu.Lock()
	sec, ok := s.securities[symbol]
	if ok {
		fn(sec)
		sec.Symbol = symbol
	}
	s.mu.Unlock()
	if ok {
		s.changed(models.ChangeEvent{Kind: models.ItemSecurity, Symbol: symbol, Type: models.ChangeChanged})
	}
	return ok
}

// BeginUpdate opens (or nests) a bulk update.
func (s *Service) BeginUpdate() {
	s.updMu.Lock()
	s.depth++
	s.updMu.Unlock()
}

// EndUpdate closes a bulk update. The outermost call delivers the queued
// notifications, one per distinct change, and persists the ledger.
func (s *Service) EndUpdate() {
	s.updMu.Lock()
	if s.depth == 0 {
		s.updMu.Unlock()
		return
	}
	s.depth--
	if s.depth > 0 {
		s.updMu.Unlock()
		return
	}
	queued := s.queued
	s.queued = nil
	s.updMu.Unlock()

	if len(queued) == 0 {
		return
	}
	s.persist()

	seen := make(map[models.ChangeEvent]struct{}, len(queued))
	for _, ev := range queued {
		if _, dup := seen[ev]; dup {
			continue
		}
		seen[ev] = struct{}{}
		s.notify(ev)
	}
}

func (s *Service) changed(ev models.ChangeEvent) {
	s.updMu.Lock()
	if s.depth > 0 {
		s.queued = append(s.queued, ev)
		s.updMu.Unlock()
		return
	}
	s.updMu.Unlock()

	s.persist()
	s.notify(ev)
}

// Subscribe registers fn for change notifications.
func (s *Service) Subscribe(fn func(models.ChangeEvent)) (unsubscribe func()) {
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.obsMu.Lock()
			delete(s.observers, id)
			s.obsMu.Unlock()
		})
	}
}

func (s *Service) notify(ev models.ChangeEvent) {
	s.obsMu.Lock()
	fns := make([]func(models.ChangeEvent), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.obsMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Save writes the ledger to its file.
func (s *Service) Save() error {
	if s.path == "" {
		return nil
	}
	s.mu.RLock()
	doc := document{}
	for _, sec := range s.securities {
		doc.Securities = append(doc.Securities, *sec)
	}
	for _, txs := range s.transactions {
		doc.Transactions = append(doc.Transactions, txs...)
	}
	s.mu.RUnlock()

	sort.Slice(doc.Securities, func(i, j int) bool { return doc.Securities[i].Symbol < doc.Securities[j].Symbol })
	sort.SliceStable(doc.Transactions, func(i, j int) bool {
		if doc.Transactions[i].Symbol != doc.Transactions[j].Symbol {
			return doc.Transactions[i].Symbol < doc.Transactions[j].Symbol
		}
		return doc.Transactions[i].Date.Before(doc.Transactions[j].Date)
	})
	return jsonfile.Write(s.path, doc)
}

func (s *Service) persist() {
	if err := s.Save(); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("Failed to save portfolio")
	}
}

var _ interfaces.Portfolio = (*Service)(nil)
