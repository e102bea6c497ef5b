// Package storage selects the history store backend.
package storage

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bobmcallan/quotefeed/internal/common"
	"github.com/bobmcallan/quotefeed/internal/interfaces"
	"github.com/bobmcallan/quotefeed/internal/storage/historyfs"
	"github.com/bobmcallan/quotefeed/internal/storage/historysql"
)

// Backend type constants.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// NewHistoryStore creates a history store based on the configuration.
// Supported backends: "file" (default), "sqlite".
func NewHistoryStore(logger *common.Logger, config *common.StorageConfig) (interfaces.HistoryStore, error) {
	backend := strings.ToLower(strings.TrimSpace(config.Backend))
	if backend == "" {
		backend = BackendFile
	}

	switch backend {
	case BackendFile:
		return historyfs.NewStore(logger, config.Path)

	case BackendSQLite:
		return historysql.NewStore(logger, filepath.Join(config.Path, historysql.DefaultFile))

	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: file, sqlite)", config.Backend)
	}
}
