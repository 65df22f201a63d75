package engine

import (
	"context"
	"sync"
	"time"

	"github.com/pacekit/syncd/pkg/log"
)

// maintenance periodically sweeps expired idempotency records and
// tombstones so they never accumulate unbounded.
type maintenance struct {
	e      *Engine
	logger log.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

func newMaintenance(e *Engine) *maintenance {
	return &maintenance{
		e:      e,
		logger: e.logger.WithComponent("maintenance"),
		stopCh: make(chan struct{}),
	}
}

func (m *maintenance) start(ctx context.Context) {
	interval := m.e.cfg.MaintenanceInterval
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

func (m *maintenance) stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *maintenance) sweep() {
	idem, err := m.e.idem.Sweep()
	if err != nil {
		m.logger.Warn("idempotency sweep failed", log.Err(err))
	}

	tombs := 0
	owners, err := m.e.repo.Owners()
	if err != nil {
		m.logger.Warn("owner listing failed during sweep", log.Err(err))
	} else {
		for _, owner := range owners {
			n, serr := m.e.tomb.Sweep(owner)
			if serr != nil {
				m.logger.Warn("tombstone sweep failed", log.Str("owner", owner), log.Err(serr))
				continue
			}
			tombs += n
		}
	}
	if idem > 0 || tombs > 0 {
		m.logger.Debug("maintenance sweep complete",
			log.Int("idempotency", idem),
			log.Int("tombstones", tombs))
	}
}
