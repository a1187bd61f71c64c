package session

import (
	"context"
	"log/slog"
	"time"
)

// Pruner periodically deletes rows that expired more than Config.PruneGrace ago.
type Pruner struct {
	store    Store
	cfg      Config
	log      *slog.Logger
	now      func() time.Time
	observer Observer
}

// NewPruner builds a Pruner. A nil logger uses slog.Default().
func NewPruner(store Store, cfg Config, log *slog.Logger, observer Observer) *Pruner {
	if log == nil {
		log = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Pruner{store: store, cfg: cfg, log: log, now: time.Now, observer: observer}
}

// Run prunes every PruneInterval until ctx is done.
func (p *Pruner) Run(ctx context.Context) {
	if p.cfg.PruneInterval <= 0 {
		return
	}

	t := time.NewTicker(p.cfg.PruneInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = p.PruneOnce(ctx)
		}
	}
}

// PruneOnce runs a single prune pass.
func (p *Pruner) PruneOnce(ctx context.Context) (int64, error) {
	if p.cfg.PruneTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.PruneTimeout)
		defer cancel()
	}

	cutoff := p.now().Add(-p.cfg.PruneGrace)
	n, err := p.store.PruneExpired(ctx, cutoff)
	if err != nil {
		p.log.Warn("session.prune.failed", "err", err)
		return 0, err
	}

	p.observer.Pruned(n)
	if n > 0 {
		p.log.Info("session.prune.ok", "deleted", n, "cutoff", cutoff)
	}
	return n, nil
}
