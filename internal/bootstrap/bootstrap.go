// Package bootstrap restores bot sessions recorded in the record store after
// a process restart.
package bootstrap

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/LeventeLantos/whatsapp-relay/internal/model"
)

const defaultParallelism = 4

type BotLister interface {
	ListRecoverable(ctx context.Context) ([]model.BotRecord, error)
}

type SessionCreator interface {
	Create(botID, customerID, botName string) (model.BotSnapshot, error)
}

type Summary struct {
	Found   int
	Started int
	Failed  int
}

type Recoverer struct {
	bots        BotLister
	sessions    SessionCreator
	parallelism int
}

func New(bots BotLister, sessions SessionCreator) *Recoverer {
	return &Recoverer{bots: bots, sessions: sessions, parallelism: defaultParallelism}
}

func (r *Recoverer) WithParallelism(n int) *Recoverer {
	if n > 0 {
		r.parallelism = n
	}
	return r
}

// Run re-creates one session per recoverable bot. A failing bot is logged and
// counted; it never stops the others, and a failing listing is not fatal.
func (r *Recoverer) Run(ctx context.Context) Summary {
	records, err := r.bots.ListRecoverable(ctx)
	if err != nil {
		slog.Error("bootstrap: listing bots failed", "err", err)
		return Summary{}
	}

	var started, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)

	for _, rec := range records {
		g.Go(func() error {
			if gctx.Err() != nil {
				failed.Add(1)
				return nil
			}
			name := rec.BotName
			if name == "" {
				name = rec.ExternalBotID
			}
			if _, err := r.sessions.Create(rec.ExternalBotID, rec.CustomerID, name); err != nil {
				failed.Add(1)
				slog.Error("bootstrap: bot restore failed", "bot_id", rec.ExternalBotID, "err", err)
				return nil
			}
			started.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	sum := Summary{Found: len(records), Started: int(started.Load()), Failed: int(failed.Load())}
	slog.Info("bootstrap finished", "found", sum.Found, "started", sum.Started, "failed", sum.Failed)
	return sum
}
