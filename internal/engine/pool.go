package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/pacekit/syncd/internal/breaker"
	"github.com/pacekit/syncd/internal/conflict"
	"github.com/pacekit/syncd/internal/entity"
	"github.com/pacekit/syncd/internal/queue"
	"github.com/pacekit/syncd/internal/remote"
	"github.com/pacekit/syncd/internal/telemetry"
	"github.com/pacekit/syncd/pkg/log"
)

// workerPool drains the queue with bounded concurrency. Workers claim an
// owner key before touching its items, so two workers never execute
// operations for the same owner concurrently.
type workerPool struct {
	e      *Engine
	logger log.Logger

	kickCh chan struct{}
	stop   chan struct{}
	wg     sync.WaitGroup

	mu   sync.Mutex
	busy map[string]struct{}
}

func newWorkerPool(e *Engine) *workerPool {
	return &workerPool{
		e:      e,
		logger: e.logger.WithComponent("workers"),
		kickCh: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		busy:   make(map[string]struct{}),
	}
}

func (p *workerPool) start(ctx context.Context) {
	for i := 0; i < p.e.cfg.Workers.MaxCount; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

func (p *workerPool) stopAll() {
	close(p.stop)
	p.wg.Wait()
}

// kick wakes the pool without blocking; one pending wake-up is enough.
func (p *workerPool) kick() {
	select {
	case p.kickCh <- struct{}{}:
	default:
	}
}

func (p *workerPool) run(ctx context.Context, slot int) {
	defer p.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-p.kickCh:
		case <-ticker.C:
		}
		// Workers above the adaptive concurrency target stay idle.
		if slot >= p.e.opt.Size() {
			continue
		}
		for p.drainOne(ctx) {
			select {
			case <-ctx.Done():
				return
			case <-p.stop:
				return
			default:
			}
		}
	}
}

// claim picks the next eligible item and marks its owner in flight. It
// returns false when nothing is dispatchable right now.
func (p *workerPool) claim(now time.Time) (queue.Item, string, bool) {
	p.e.mu.Lock()
	defer p.e.mu.Unlock()

	owners, err := p.e.repo.Owners()
	if err != nil {
		p.logger.Warn("owner listing failed", log.Err(err))
		return queue.Item{}, "", false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, owner := range owners {
		if _, inFlight := p.busy[owner]; inFlight {
			continue
		}
		items, err := p.e.repo.Load(owner)
		if err != nil {
			if !errors.Is(err, queue.ErrHalted) {
				p.logger.Warn("queue load failed", log.Str("owner", owner), log.Err(err))
			}
			continue
		}
		idx := queue.NextEligible(items, nil, now)
		if idx < 0 {
			continue
		}
		p.busy[owner] = struct{}{}
		return items[idx], owner, true
	}
	return queue.Item{}, "", false
}

func (p *workerPool) release(owner string) {
	p.mu.Lock()
	delete(p.busy, owner)
	p.mu.Unlock()
}

// drainOne processes a single item. It reports whether it did any work.
func (p *workerPool) drainOne(ctx context.Context) bool {
	if !p.e.monitor.Online() {
		return false
	}
	item, owner, ok := p.claim(time.Now())
	if !ok {
		return false
	}
	defer p.release(owner)

	started := time.Now()
	err := p.e.brk.Execute(func() error { return p.dispatch(ctx, &item) })
	latency := time.Since(started)

	if errors.Is(err, breaker.ErrOpen) {
		// The item stays queued untouched; no retry cycle is consumed.
		p.logger.Debug("dispatch skipped, circuit open", log.Str("owner", owner))
		return false
	}
	p.e.opt.Record(err == nil, latency)

	if err == nil {
		p.complete(item)
		return true
	}
	return p.fail(item, err)
}

// dispatch invokes the remote operation for one item.
func (p *workerPool) dispatch(ctx context.Context, item *queue.Item) error {
	switch item.Operation {
	case queue.OpCreate:
		remoteID, err := p.e.remote.Create(ctx, item.Payload)
		if err != nil {
			return err
		}
		if local := localEntityID(item.Payload); local != "" {
			if merr := p.e.idmap.Put(local, remoteID); merr != nil {
				p.logger.Warn("id mapping write failed", log.Err(merr))
			}
		}
		item.RemoteID = remoteID
		return nil
	case queue.OpUpdate:
		remoteID := item.RemoteID
		if remoteID == "" {
			// An update for an entity created offline in this same queue run.
			if mapped, ok, _ := p.e.idmap.RemoteFor(localEntityID(item.Payload)); ok {
				remoteID = mapped
			}
		}
		if remoteID == "" {
			// Never created remotely: an update degrades to a create.
			created, err := p.e.remote.Create(ctx, item.Payload)
			if err != nil {
				return err
			}
			if local := localEntityID(item.Payload); local != "" {
				if merr := p.e.idmap.Put(local, created); merr != nil {
					p.logger.Warn("id mapping write failed", log.Err(merr))
				}
			}
			return nil
		}
		return p.e.remote.Update(ctx, remoteID, item.Payload)
	case queue.OpDelete:
		remoteID := item.RemoteID
		if remoteID == "" {
			if mapped, ok, _ := p.e.idmap.RemoteFor(localEntityID(item.Payload)); ok {
				remoteID = mapped
			}
		}
		if remoteID == "" {
			// Nothing to delete remotely; the tombstone already suppresses it.
			return nil
		}
		// The id mapping outlives the delete: merge suppression uses it to
		// match stale remote copies against the tombstone.
		return p.e.remote.Delete(ctx, item.EntityType(), remoteID)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidOperation, item.Operation)
	}
}

// complete removes a synced item and signals the caches that depend on it.
func (p *workerPool) complete(item queue.Item) {
	owner := item.OwnerID()
	if err := p.removeItem(owner, item); err != nil {
		p.logger.Error("failed to remove synced item", log.Err(err))
		return
	}
	if err := p.e.idem.MarkProcessed(owner, item.IdempotencyKey, item.EntityType()); err != nil {
		p.logger.Warn("mark processed failed", log.Err(err))
	}
	p.e.bus.Publish(telemetry.Event{
		Kind:       telemetry.KindSynced,
		Owner:      owner,
		EntityType: item.EntityType().String(),
		Fields:     map[string]interface{}{"item": item.ID.String()},
	})
	p.e.bus.Publish(telemetry.Event{
		Kind:       telemetry.KindInvalidation,
		Owner:      owner,
		EntityType: item.EntityType().String(),
	})
	p.logger.Info("item synced",
		log.Str("owner", owner),
		log.Str("entity", item.EntityType().String()),
		log.Str("operation", string(item.Operation)))
}

// fail classifies a dispatch failure and applies the matching policy.
func (p *workerPool) fail(item queue.Item, err error) bool {
	owner := item.OwnerID()
	switch {
	case remote.IsValidation(err):
		// Structurally invalid by the server's rules: drop with a logged
		// reason, it will never succeed.
		p.logger.Warn("item dropped, remote validation",
			log.Str("owner", owner), log.Err(err))
		if rerr := p.removeItem(owner, item); rerr != nil {
			p.logger.Error("failed to drop invalid item", log.Err(rerr))
		}
		p.markFailed(owner, item)
		p.publishFailure(item, "validation", err)
		return true
	case remote.IsForbidden(err):
		// Permanent: straight to the dead-letter store.
		if rerr := p.removeItem(owner, item); rerr != nil {
			p.logger.Error("failed to remove forbidden item", log.Err(rerr))
		}
		if _, derr := p.e.dlq.Add(item, "authorization denied"); derr != nil {
			p.logger.Error("dead-letter handoff failed", log.Err(derr))
		}
		p.markFailed(owner, item)
		p.publishFailure(item, "forbidden", err)
		return true
	case remote.IsConflict(err):
		return p.resolveConflict(item, err)
	default:
		return p.retryLater(item, err)
	}
}

// resolveConflict runs the detector/resolver over the server's copy and
// requeues the resolved document as an update. Conflicts are never surfaced
// as failures.
func (p *workerPool) resolveConflict(item queue.Item, cause error) bool {
	var rerr *remote.Error
	if !errors.As(cause, &rerr) || rerr.Remote == nil {
		// No server copy to resolve against; retry and let the next attempt
		// carry the conflict payload.
		return p.retryLater(item, cause)
	}

	localDoc := entity.ToMap(item.Payload)
	ctype := p.e.detect.Classify(localDoc, rerr.Remote, item.EntityType())
	if ctype == conflict.None {
		ctype = conflict.UpdateConflict
	}
	resolved := p.e.resolve.Resolve(localDoc, rerr.Remote, conflict.Context{
		ConflictType: ctype,
		EntityType:   item.EntityType(),
	})

	merged, err := payloadFromDoc(item.EntityType(), resolved)
	if err != nil {
		p.logger.Error("resolved document does not decode, retrying original", log.Err(err))
		return p.retryLater(item, cause)
	}

	owner := item.OwnerID()
	p.e.mu.Lock()
	defer p.e.mu.Unlock()
	items, lerr := p.e.repo.Load(owner)
	if lerr != nil {
		p.logger.Error("queue load failed during conflict resolution", log.Err(lerr))
		return false
	}
	for i := range items {
		if items[i].ID == item.ID {
			items[i].Payload = merged
			items[i].Operation = queue.OpUpdate
			if id, ok := resolved["id"].(string); ok && id != "" {
				items[i].RemoteID = id
			}
			items[i].RetryAt = time.Time{}
			break
		}
	}
	queue.Sort(items)
	if serr := p.e.repo.Save(owner, items); serr != nil {
		p.logger.Error("queue save failed during conflict resolution", log.Err(serr))
		return false
	}
	p.e.bus.Publish(telemetry.Event{
		Kind:       telemetry.KindResolution,
		Owner:      owner,
		EntityType: item.EntityType().String(),
		Fields:     map[string]interface{}{"conflict": string(ctype)},
	})
	return true
}

// retryLater applies backoff or, past the ceiling, dead-letters the item.
func (p *workerPool) retryLater(item queue.Item, cause error) bool {
	owner := item.OwnerID()
	item.RetryCount++
	now := time.Now()
	item.LastAttemptAt = now

	if item.RetryCount > p.e.cfg.Queue.RetryCeiling {
		if rerr := p.removeItem(owner, item); rerr != nil {
			p.logger.Error("failed to remove exhausted item", log.Err(rerr))
			return false
		}
		if _, derr := p.e.dlq.Add(item, "max retries exceeded"); derr != nil {
			p.logger.Error("dead-letter handoff failed", log.Err(derr))
		}
		p.markFailed(owner, item)
		p.e.bus.Publish(telemetry.Event{
			Kind:       telemetry.KindDeadLettered,
			Owner:      owner,
			EntityType: item.EntityType().String(),
			Fields:     map[string]interface{}{"retries": item.RetryCount, "error": cause.Error()},
		})
		return true
	}

	delay := backoffDelay(p.e.cfg.Queue.BackoffBase, p.e.cfg.Queue.BackoffCap, item.RetryCount)
	item.RetryAt = now.Add(delay)
	if err := p.updateItem(owner, item); err != nil {
		p.logger.Error("failed to persist retry state", log.Err(err))
		return false
	}
	p.publishFailure(item, "transient", cause)
	p.logger.Debug("item scheduled for retry",
		log.Str("owner", owner),
		log.Int("retry", item.RetryCount),
		log.Duration("delay", delay))
	return true
}

func (p *workerPool) markFailed(owner string, item queue.Item) {
	if item.IdempotencyKey == "" {
		return
	}
	if err := p.e.idem.MarkFailed(owner, item.IdempotencyKey, item.EntityType()); err != nil {
		p.logger.Warn("mark failed failed", log.Err(err))
	}
}

func (p *workerPool) publishFailure(item queue.Item, class string, cause error) {
	p.e.bus.Publish(telemetry.Event{
		Kind:       telemetry.KindFailed,
		Owner:      item.OwnerID(),
		EntityType: item.EntityType().String(),
		Fields: map[string]interface{}{
			"class": class,
			"error": cause.Error(),
			"retry": item.RetryCount,
		},
	})
}

func (p *workerPool) removeItem(owner string, item queue.Item) error {
	p.e.mu.Lock()
	defer p.e.mu.Unlock()
	items, err := p.e.repo.Load(owner)
	if err != nil {
		return err
	}
	kept := items[:0]
	for i := range items {
		if items[i].ID != item.ID {
			kept = append(kept, items[i])
		}
	}
	return p.e.repo.Save(owner, kept)
}

func (p *workerPool) updateItem(owner string, item queue.Item) error {
	p.e.mu.Lock()
	defer p.e.mu.Unlock()
	items, err := p.e.repo.Load(owner)
	if err != nil {
		return err
	}
	for i := range items {
		if items[i].ID == item.ID {
			items[i] = item
			break
		}
	}
	queue.Sort(items)
	return p.e.repo.Save(owner, items)
}

// backoffDelay computes min(base * 2^(retry-1), limit) plus up to 10%
// jitter.
func backoffDelay(base, limit time.Duration, retry int) time.Duration {
	if base <= 0 {
		base = 2 * time.Second
	}
	if limit <= 0 {
		limit = 5 * time.Minute
	}
	d := base
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= limit {
			break
		}
	}
	if d > limit {
		d = limit
	}
	jitter := time.Duration(rand.Int63n(int64(d)/10 + 1))
	return d + jitter
}

// payloadFromDoc decodes a resolved field map back into a typed payload.
func payloadFromDoc(t entity.Type, doc map[string]interface{}) (entity.Payload, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	p, err := entity.New(t)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
