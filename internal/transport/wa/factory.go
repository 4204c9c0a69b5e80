// Package wa implements transport.Client on top of whatsmeow. Every bot gets
// its own SQLite device store under <dir>/session-<botId>/.
package wa

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow/store/sqlstore"

	"github.com/LeventeLantos/whatsapp-relay/internal/logging"
	"github.com/LeventeLantos/whatsapp-relay/internal/transport"
)

const storeFile = "whatsmeow.db"

type Factory struct {
	dir     string
	log     *slog.Logger
	waLevel string
}

func NewFactory(dir string, log *slog.Logger, waLevel string) *Factory {
	return &Factory{dir: dir, log: log, waLevel: waLevel}
}

func (f *Factory) SessionDir(botID string) string {
	return filepath.Join(f.dir, "session-"+sanitize(botID))
}

func (f *Factory) New(botID string, h transport.Handler) (transport.Client, error) {
	dir := f.SessionDir(botID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", filepath.Join(dir, storeFile))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	waLog := logging.WA(f.log, "wa", f.waLevel).Sub(botID)
	container := sqlstore.NewWithDB(db, "sqlite3", waLog.Sub("db"))
	if err := container.Upgrade(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("upgrade device store: %w", err)
	}

	return newClient(botID, db, container, waLog, h), nil
}

// Purge removes everything stored on disk for botID. A missing directory is
// not an error.
func (f *Factory) Purge(botID string) error {
	if err := os.RemoveAll(f.SessionDir(botID)); err != nil {
		return fmt.Errorf("purge session dir: %w", err)
	}
	return nil
}

func sanitize(botID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, botID)
}
