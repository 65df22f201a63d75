package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pacekit/syncd/internal/breaker"
	"github.com/pacekit/syncd/internal/config"
	"github.com/pacekit/syncd/internal/conflict"
	"github.com/pacekit/syncd/internal/entity"
	"github.com/pacekit/syncd/internal/idempotency"
	"github.com/pacekit/syncd/internal/keystore"
	"github.com/pacekit/syncd/internal/netmon"
	"github.com/pacekit/syncd/internal/queue"
	"github.com/pacekit/syncd/internal/remote"
	pebblestore "github.com/pacekit/syncd/internal/storage/pebble"
	"github.com/pacekit/syncd/internal/telemetry"
	"github.com/pacekit/syncd/internal/tombstone"
	"github.com/pacekit/syncd/pkg/id"
	"github.com/pacekit/syncd/pkg/log"
)

const deviceIDKey = "device/id"

// ErrInvalidOperation is returned when Enqueue is called with an unknown
// operation kind.
var ErrInvalidOperation = errors.New("engine: invalid operation")

// Engine is the sync engine handle. Construct one with New and share it;
// there are no package-level singletons.
type Engine struct {
	cfg      config.Config
	logger   log.Logger
	deviceID string

	db      *pebblestore.DB
	ks      keystore.Store
	repo    *queue.Repository
	dlq     *queue.DeadLetter
	guard   *queue.OverflowGuard
	idmap   *queue.IDMap
	idem    *idempotency.Guard
	tomb    *tombstone.Cache
	detect  *conflict.Detector
	resolve *conflict.Resolver
	brk     *breaker.Breaker
	remote  remote.Store
	monitor *netmon.Monitor
	bus     *telemetry.Bus
	gen     *id.Generator
	opt     *Optimizer
	pool    *workerPool
	maint   *maintenance

	// mu serializes every load-mutate-save cycle against the repository,
	// the single persistence path for queue state.
	mu sync.Mutex

	unsub     func()
	closeOnce sync.Once
}

// New builds an engine from configuration. secret keys the encrypted
// keystore; probe may be nil when connectivity is reported through
// SetOnline.
func New(cfg config.Config, secret []byte, store remote.Store, probe netmon.Probe, logger log.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewNop()
	}
	logger = logger.WithComponent("engine")

	fsync := pebblestore.FsyncModeAlways
	switch cfg.Fsync {
	case "interval":
		fsync = pebblestore.FsyncModeInterval
	case "never":
		fsync = pebblestore.FsyncModeNever
	}
	bus := telemetry.NewBus()
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir: cfg.DataDir,
		Fsync:   fsync,
		Metrics: storeMetrics{bus: bus},
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	ks, err := keystore.NewAES(db, secret)
	if err != nil {
		db.Close()
		return nil, err
	}

	repo, err := queue.NewRepository(ks, db, bus, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		ks:      ks,
		repo:    repo,
		dlq:     queue.NewDeadLetter(db, logger),
		idmap:   queue.NewIDMap(db),
		idem:    idempotency.NewGuard(db, logger),
		tomb:    tombstone.NewCache(ks, cfg.TombstoneTTL, logger),
		detect:  conflict.NewDetector(),
		resolve: conflict.NewResolver(logger),
		brk: breaker.New(breaker.Options{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			FailureWindow:    cfg.Breaker.FailureWindow,
			Cooldown:         cfg.Breaker.Cooldown,
		}, logger),
		remote:  store,
		monitor: netmon.NewMonitor(probe, 0, logger),
		bus:     bus,
		gen:     id.NewGenerator(),
		opt:     NewOptimizer(cfg.Workers.Count, cfg.Workers.MaxCount),
	}
	e.guard = queue.NewOverflowGuard(cfg.Queue.MaxSize, cfg.Queue.EvictFraction, e.dlq, ks, bus, logger)
	e.pool = newWorkerPool(e)
	e.maint = newMaintenance(e)

	if err := e.initDeviceID(); err != nil {
		db.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) initDeviceID() error {
	if e.cfg.DeviceID != "" {
		e.deviceID = e.cfg.DeviceID
		return nil
	}
	v, err := e.db.Get([]byte(deviceIDKey))
	if err == nil {
		e.deviceID = string(v)
		return nil
	}
	if !errors.Is(err, pebblestore.ErrNotFound) {
		return fmt.Errorf("read device id: %w", err)
	}
	e.deviceID = uuid.NewString()
	if err := e.db.Set([]byte(deviceIDKey), []byte(e.deviceID)); err != nil {
		return fmt.Errorf("persist device id: %w", err)
	}
	return nil
}

// Start launches the worker pool, the network monitor, and the maintenance
// sweeper. The engine runs until Close.
func (e *Engine) Start(ctx context.Context) {
	e.pool.start(ctx)
	e.maint.start(ctx)
	// One drain trigger per offline-to-online transition.
	e.unsub = e.monitor.Subscribe(func(online bool) {
		if online {
			e.pool.kick()
		}
	})
	e.monitor.Start(ctx)
	e.logger.Info("engine started",
		log.Str("device", e.deviceID),
		log.Int("workers", e.cfg.Workers.Count),
		log.Bool("online", e.monitor.Online()))
}

// Close stops background work and releases the store.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		if e.unsub != nil {
			e.unsub()
		}
		e.monitor.Stop()
		e.maint.stop()
		e.pool.stopAll()
		e.bus.Close()
		err = e.db.Close()
	})
	return err
}

// SetOnline feeds connectivity state from a platform hook.
func (e *Engine) SetOnline(online bool) { e.monitor.Set(online) }

// Online reports the current connectivity state.
func (e *Engine) Online() bool { return e.monitor.Online() }

// Events exposes the telemetry bus for subscribers.
func (e *Engine) Events() *telemetry.Bus { return e.bus }

// Resolutions returns the bounded conflict-resolution audit trail.
func (e *Engine) Resolutions() []conflict.Resolution { return e.resolve.Audit() }

// EnqueueResult reports what Enqueue did with a mutation.
type EnqueueResult struct {
	// Deduplicated means an equivalent mutation was already queued or
	// applied inside its idempotency window; nothing was enqueued.
	Deduplicated bool
	// ItemID identifies the queued item when one was created.
	ItemID id.ID
	// IdempotencyKey is the mutation's dedup key.
	IdempotencyKey string
}

// Enqueue validates, deduplicates, and appends a mutation to the owner's
// durable queue. If the engine is online a drain is triggered.
func (e *Engine) Enqueue(ctx context.Context, op queue.Operation, p entity.Payload) (EnqueueResult, error) {
	if !op.Valid() {
		return EnqueueResult{}, fmt.Errorf("%w: %q", ErrInvalidOperation, op)
	}
	if err := p.Validate(); err != nil {
		e.logger.Warn("mutation rejected at enqueue",
			log.Str("entity", p.EntityType().String()), log.Err(err))
		return EnqueueResult{}, err
	}

	check, err := e.idem.Check(string(op), p)
	if err != nil {
		e.logger.Warn("idempotency check degraded", log.Err(err))
	}
	if check.IsDuplicate {
		e.bus.Publish(telemetry.Event{
			Kind:       telemetry.KindDuplicate,
			Owner:      p.Owner(),
			EntityType: p.EntityType().String(),
		})
		return EnqueueResult{Deduplicated: true, IdempotencyKey: check.Key}, nil
	}

	owner := p.Owner()
	item := queue.Item{
		ID:             e.gen.Next(),
		Operation:      op,
		Payload:        p,
		EnqueuedAt:     time.Now().UTC(),
		DeviceID:       e.deviceID,
		IdempotencyKey: check.Key,
	}
	if op != queue.OpCreate {
		if remoteID, ok, lerr := e.idmap.RemoteFor(localEntityID(p)); lerr == nil && ok {
			item.RemoteID = remoteID
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	items, err := e.repo.Load(owner)
	if err != nil {
		return EnqueueResult{}, err
	}
	items, err = e.guard.Admit(owner, items)
	if err != nil {
		return EnqueueResult{}, err
	}
	items = append(items, item)
	queue.Sort(items)
	if err := e.repo.Save(owner, items); err != nil {
		return EnqueueResult{}, err
	}

	if err := e.idem.MarkQueued(owner, check.Key, p.EntityType()); err != nil {
		e.logger.Warn("mark queued failed", log.Err(err))
	}
	if op == queue.OpDelete {
		if err := e.tomb.MarkDeleted(owner, localEntityID(p), "user delete"); err != nil {
			e.logger.Warn("tombstone write failed", log.Err(err))
		}
	}

	e.bus.Publish(telemetry.Event{
		Kind:       telemetry.KindEnqueued,
		Owner:      owner,
		EntityType: p.EntityType().String(),
		Fields: map[string]interface{}{
			"operation": string(op),
			"item":      item.ID.String(),
			"queueSize": len(items),
		},
	})
	e.logger.Debug("mutation enqueued",
		log.Str("owner", owner),
		log.Str("operation", string(op)),
		log.Str("entity", p.EntityType().String()),
		log.Int("queueSize", len(items)))

	if e.monitor.Online() {
		e.pool.kick()
	}
	return EnqueueResult{ItemID: item.ID, IdempotencyKey: check.Key}, nil
}

// localEntityID is the client-side identity of a payload, the anchor for
// tombstones and the local/remote ID mapping. Profiles are per-owner
// singletons.
func localEntityID(p entity.Payload) string {
	switch v := p.(type) {
	case *entity.Profile:
		return "profile/" + v.OwnerID
	case *entity.TrackedEvent:
		return v.EventID
	case *entity.Achievement:
		return v.Code
	case *entity.VoiceNote:
		return v.NoteID
	}
	return ""
}

// Status is a point-in-time engine snapshot.
type Status struct {
	Online     bool
	Halted     bool
	Breaker    breaker.State
	QueueSizes map[string]int
	DeadLetter int
	Workers    int
}

// Status reports the engine's current state.
func (e *Engine) Status() (Status, error) {
	st := Status{
		Online:     e.monitor.Online(),
		Halted:     e.repo.Halted(),
		Breaker:    e.brk.State(),
		QueueSizes: map[string]int{},
		Workers:    e.opt.Size(),
	}
	if !st.Halted {
		owners, err := e.repo.Owners()
		if err != nil {
			return Status{}, err
		}
		for _, owner := range owners {
			items, err := e.repo.Load(owner)
			if err != nil {
				return Status{}, err
			}
			if len(items) > 0 {
				st.QueueSizes[owner] = len(items)
			}
		}
	}
	entries, err := e.dlq.List(0)
	if err != nil {
		return Status{}, err
	}
	st.DeadLetter = len(entries)
	return st, nil
}

// Queue returns a copy of an owner's pending items in dispatch order.
func (e *Engine) Queue(ownerID string) ([]queue.Item, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.repo.Load(ownerID)
}

// Owners lists owners with persisted queue state.
func (e *Engine) Owners() ([]string, error) { return e.repo.Owners() }

// DeadLetters lists dead-letter entries, oldest first.
func (e *Engine) DeadLetters(max int) ([]queue.DeadLetterEntry, error) {
	return e.dlq.List(max)
}

// RetryDeadLetter moves a dead-letter entry back into the live queue with a
// fresh retry budget.
func (e *Engine) RetryDeadLetter(entryID string) error {
	entry, err := e.dlq.Take(entryID)
	if err != nil {
		return err
	}
	item := entry.Item
	item.RetryCount = 0
	item.RetryAt = time.Time{}
	item.LastAttemptAt = time.Time{}

	owner := item.OwnerID()
	e.mu.Lock()
	defer e.mu.Unlock()
	items, err := e.repo.Load(owner)
	if err != nil {
		return err
	}
	items, err = e.guard.Admit(owner, items)
	if err != nil {
		return err
	}
	items = append(items, item)
	queue.Sort(items)
	if err := e.repo.Save(owner, items); err != nil {
		return err
	}
	if e.monitor.Online() {
		e.pool.kick()
	}
	return nil
}

// PurgeDeadLetters drops every dead-letter entry.
func (e *Engine) PurgeDeadLetters() (int, error) { return e.dlq.Purge() }

// ClearHalt lifts a persisted encryption halt after operator intervention.
func (e *Engine) ClearHalt() error { return e.repo.ClearHalt() }

// storeMetrics bridges storage commit observations onto the telemetry bus.
// Reads are not reported; the bus drops events when nobody listens.
type storeMetrics struct {
	bus *telemetry.Bus
}

func (storeMetrics) ObserveRead(time.Duration, int) {}

func (m storeMetrics) ObserveCommit(elapsed time.Duration, bytes int) {
	m.bus.Publish(telemetry.Event{
		Kind: telemetry.KindStoreCommit,
		Fields: map[string]interface{}{
			"elapsedUs": elapsed.Microseconds(),
			"bytes":     bytes,
		},
	})
}
