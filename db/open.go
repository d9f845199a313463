package db

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/GollyTicker/ethereum-bridge-when-cheap/logging"
)

const (
	postgresScheme   = "postgres://"
	postgresqlScheme = "postgresql://"
	sqliteScheme     = "sqlite://"
	memoryScheme     = "memory://"
)

// Open selects the store implementation from the URL scheme:
// postgres:// and postgresql:// use lib/pq, sqlite://<path> uses go-sqlite3
// and memory:// keeps everything in process.
func Open(ctx context.Context, databaseURL string, logger zerolog.Logger) (Database, error) {
	logger = logger.With().Str(logging.FieldModule, "db").Logger()

	switch {
	case strings.HasPrefix(databaseURL, postgresScheme), strings.HasPrefix(databaseURL, postgresqlScheme):
		logger.Info().Msg("Using PostgreSQL storage")
		return NewSQLDB(ctx, "postgres", databaseURL)

	case strings.HasPrefix(databaseURL, sqliteScheme):
		path := strings.TrimPrefix(databaseURL, sqliteScheme)
		if path == "" {
			return nil, errors.Wrap(ErrUnsupportedURL, "sqlite url without path")
		}

		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrapf(err, "failed to create database directory %s", dir)
			}
		}

		logger.Info().Str("path", path).Msg("Using SQLite storage")
		return NewSQLDB(ctx, "sqlite3", "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL")

	case strings.HasPrefix(databaseURL, memoryScheme):
		logger.Warn().Msg("Using in-memory storage, nothing survives a restart")
		return NewMemoryDB(), nil

	default:
		return nil, errors.Wrapf(ErrUnsupportedURL, "%q", databaseURL)
	}
}
