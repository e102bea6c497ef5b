package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/quotefeed/internal/common"
	"github.com/bobmcallan/quotefeed/internal/storage/historyfs"
	"github.com/bobmcallan/quotefeed/internal/storage/historysql"
)

func TestNewHistoryStore_Backends(t *testing.T) {
	logger := common.NewSilentLogger()

	fs, err := NewHistoryStore(logger, &common.StorageConfig{Path: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &historyfs.Store{}, fs)

	db, err := NewHistoryStore(logger, &common.StorageConfig{Path: t.TempDir(), Backend: "SQLite"})
	require.NoError(t, err)
	defer db.Close()
	assert.IsType(t, &historysql.Store{}, db)

	h, err := db.Load(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Empty(t, h.Quotes)

	_, err = NewHistoryStore(logger, &common.StorageConfig{Path: t.TempDir(), Backend: "postgres"})
	assert.Error(t, err)
}
