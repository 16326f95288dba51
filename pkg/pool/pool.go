// Package pool implements the connection-pool core: a bounded set of live
// driver sessions handed out to callers under mutual exclusion, validated
// before delivery, and reclaimed by a background reaper. The pool is
// driver-agnostic; see package driver for the capability surface a dialect
// adapter must implement.
package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sqlpool/sqlpool/internal/metrics"
	"github.com/sqlpool/sqlpool/internal/poolerr"
	"github.com/sqlpool/sqlpool/pkg/driver"
)

// state models the Pool's lifecycle (spec §4.1): Created -> Configured ->
// Running -> Stopped, with Running -> Running self-loops for reap wakes
// and Stopped -> Running re-entry on a second start.
type state int

const (
	stateCreated state = iota
	stateConfigured
	stateRunning
	stateStopped
)

// Config holds the parameters supplied to Pool.Configure.
type Config struct {
	URL string

	Initial       int
	Max           int
	IdleTimeout   time.Duration
	SweepInterval time.Duration

	QueryTimeoutMs int
	FetchSize      int
	MaxRows        int
}

// Coordinator is the optional distributed-capacity gate a Pool consults
// before growing beyond its locally-tracked slots (spec §12). A nil
// Coordinator means capacity is governed purely by Config.Max.
type Coordinator interface {
	TryReserve(ctx context.Context, dataSourceID string) (bool, error)
	Release(ctx context.Context, dataSourceID string) error
}

// Pool owns a set of Connections against a single data source and serves
// them to callers. The zero value is not usable; build one with New.
type Pool struct {
	mu   sync.Mutex
	drv  driver.Driver
	cfg  Config

	dataSourceID string
	logger       *zap.Logger
	coordinator  Coordinator

	state state
	slots []*Connection

	stopCh chan struct{}
	wg     sync.WaitGroup

	abortHandler atomic.Value // func(error)
}

// New constructs a Pool bound to drv, identified by dataSourceID for
// logging and metrics labels. Call Configure then Start before Acquire.
func New(dataSourceID string, drv driver.Driver, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		drv:          drv,
		dataSourceID: dataSourceID,
		logger:       logger,
		state:        stateCreated,
		stopCh:       make(chan struct{}),
	}
}

// SetCoordinator installs a distributed capacity coordinator. Must be
// called before Start.
func (p *Pool) SetCoordinator(c Coordinator) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.coordinator = c
}

// SetAbortHandler installs the process-wide callback invoked on Fatal
// errors (spec §6.3). If none is set, Fatal errors terminate the process.
func (p *Pool) SetAbortHandler(h func(error)) {
	p.abortHandler.Store(h)
}

func (p *Pool) abort(err error) {
	if v := p.abortHandler.Load(); v != nil {
		if h, ok := v.(func(error)); ok && h != nil {
			h(err)
			return
		}
	}
	p.logger.Fatal("unrecoverable pool error", zap.String("data_source", p.dataSourceID), zap.Error(err))
}

// Configure validates and stores cfg. It never touches live slots, but on a
// running pool the stored values take effect at once: Acquire (Max, and URL
// plus session tunables for newly opened connections) and ReapOnce
// (Initial, IdleTimeout) read the latest Configure on their next call. Only
// the warm fill of Initial connections and the reaper's SweepInterval wait
// for the next Start.
func (p *Pool) Configure(cfg Config) error {
	if cfg.Max < cfg.Initial {
		return poolerr.Misuse(fmt.Sprintf("max (%d) must be >= initial (%d)", cfg.Max, cfg.Initial))
	}
	if cfg.IdleTimeout <= 0 {
		return poolerr.Misuse("idleTimeout must be > 0")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
	if p.state == stateCreated {
		p.state = stateConfigured
	}
	return nil
}

// Start opens Initial sessions and, if SweepInterval > 0, launches the
// reaper. The first session-open failure aborts start with PoolStart;
// subsequent failures after at least one success are tolerated — partial
// fill is acceptable because the pool grows lazily on Acquire.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state == stateRunning {
		p.mu.Unlock()
		return nil
	}
	if p.state == stateStopped {
		p.stopCh = make(chan struct{}) // the previous Stop closed it
	}
	cfg := p.cfg
	p.mu.Unlock()

	opened := 0
	for i := 0; i < cfg.Initial; i++ {
		conn, err := p.createConn(ctx)
		if err != nil {
			if opened == 0 {
				return poolerr.Start(fmt.Sprintf("opening first session for %s", p.dataSourceID), err)
			}
			p.logger.Warn("start: warm fill failed after partial success",
				zap.String("data_source", p.dataSourceID), zap.Int("opened", opened), zap.Error(err))
			break
		}
		p.mu.Lock()
		p.slots = append(p.slots, conn)
		p.mu.Unlock()
		opened++
	}

	p.mu.Lock()
	p.state = stateRunning
	p.updateMetricsLocked()
	p.mu.Unlock()

	p.logger.Info("pool started",
		zap.String("data_source", p.dataSourceID), zap.Int("opened", opened), zap.Int("max", cfg.Max))

	if cfg.SweepInterval > 0 {
		p.wg.Add(1)
		go p.reaperLoop(cfg.SweepInterval)
	}
	return nil
}

// Stop signals the reaper, joins it, and drains and closes every slot.
// In-flight Acquire calls that observe the stop fail with ApiMisuse
// (spec §9, Open Questions) rather than racing the drain.
func (p *Pool) Stop() error {
	p.mu.Lock()
	if p.state == stateStopped {
		p.mu.Unlock()
		return nil
	}
	p.state = stateStopped
	slots := p.slots
	p.slots = nil
	p.mu.Unlock()

	close(p.stopCh)
	p.wg.Wait()

	for _, c := range slots {
		if err := p.drv.Close(c.session); err != nil {
			p.logger.Warn("stop: closing session failed",
				zap.String("data_source", p.dataSourceID), zap.Error(err))
		}
	}

	p.mu.Lock()
	p.updateMetricsLocked()
	p.mu.Unlock()

	p.logger.Info("pool stopped", zap.String("data_source", p.dataSourceID))
	return nil
}

// Acquire returns an available Connection, pinging it before delivery.
// It never blocks: a pool at capacity with no usable idle connection
// fails immediately with PoolFull (spec §9, Open Questions).
func (p *Pool) Acquire(ctx context.Context) (*Connection, error) {
	start := time.Now()
	defer func() {
		metrics.AcquireDuration.WithLabelValues(p.dataSourceID).Observe(time.Since(start).Seconds())
	}()

	for {
		p.mu.Lock()
		if p.state == stateStopped {
			p.mu.Unlock()
			metrics.AcquireTotal.WithLabelValues(p.dataSourceID, "api_misuse").Inc()
			return nil, poolerr.Misuse("acquire called after pool stop")
		}

		idx := p.findIdleLocked()
		if idx >= 0 {
			conn := p.slots[idx]
			conn.markAcquired()
			p.updateMetricsLocked()
			p.mu.Unlock()

			if err := conn.Ping(ctx); err != nil {
				p.mu.Lock()
				p.removeSlotLocked(conn)
				p.updateMetricsLocked()
				p.mu.Unlock()
				if err := p.drv.Close(conn.session); err != nil {
					p.logger.Warn("acquire: closing failed ping session",
						zap.String("data_source", p.dataSourceID), zap.Error(err))
				}
				metrics.ReapEvictionsTotal.WithLabelValues(p.dataSourceID, "ping_failed").Inc()
				continue // treat as if no idle was found on the next pass
			}
			metrics.AcquireTotal.WithLabelValues(p.dataSourceID, "acquired").Inc()
			return conn, nil
		}

		if len(p.slots) >= p.cfg.Max {
			p.mu.Unlock()
			metrics.AcquireTotal.WithLabelValues(p.dataSourceID, "pool_full").Inc()
			return nil, poolerr.Full(fmt.Sprintf("data source %s at capacity (%d)", p.dataSourceID, p.cfg.Max))
		}
		p.mu.Unlock()

		if p.coordinator != nil {
			ok, err := p.coordinator.TryReserve(ctx, p.dataSourceID)
			if err == nil && !ok {
				metrics.AcquireTotal.WithLabelValues(p.dataSourceID, "pool_full").Inc()
				return nil, poolerr.Full(fmt.Sprintf("data source %s denied by coordinator", p.dataSourceID))
			}
			if err != nil {
				p.logger.Warn("acquire: coordinator reservation failed, falling back to local capacity",
					zap.String("data_source", p.dataSourceID), zap.Error(err))
			}
		}

		conn, err := p.createConn(ctx)
		if err != nil {
			metrics.AcquireTotal.WithLabelValues(p.dataSourceID, "driver_open_error").Inc()
			return nil, poolerr.Open(fmt.Sprintf("opening session for %s", p.dataSourceID), err)
		}
		conn.markAcquired()

		p.mu.Lock()
		if p.state == stateStopped {
			p.mu.Unlock()
			_ = p.drv.Close(conn.session)
			metrics.AcquireTotal.WithLabelValues(p.dataSourceID, "api_misuse").Inc()
			return nil, poolerr.Misuse("acquire raced with pool stop")
		}
		p.slots = append(p.slots, conn)
		p.updateMetricsLocked()
		p.mu.Unlock()

		metrics.AcquireTotal.WithLabelValues(p.dataSourceID, "acquired").Inc()
		return conn, nil
	}
}

// Release returns conn to the pool: rolls back any open transaction,
// invalidates its current result set, and marks it available.
func (p *Pool) Release(conn *Connection) {
	if conn == nil {
		return
	}

	if conn.inTransaction {
		if err := conn.Rollback(context.Background()); err != nil {
			p.logger.Warn("release: auto-rollback failed",
				zap.String("data_source", p.dataSourceID), zap.Error(err))
			metrics.RollbackFailuresTotal.WithLabelValues(p.dataSourceID).Inc()
		}
	}
	conn.Clear()

	p.mu.Lock()
	conn.markIdle()
	p.updateMetricsLocked()
	p.mu.Unlock()
}

// ReapOnce evicts idle connections past their deadline or failing ping,
// down to the Initial floor, and returns the number evicted. The walk is
// bounded by `eligible = len(slots) - active - initial` so a single sweep
// never drops below the floor; the front-to-back order favors evicting
// the oldest idle connections first (the "rolling window"). Pings run while
// the pool mutex is held, so a sweep can stall concurrent Acquire/Release
// calls for up to the sum of the ping latencies of the connections it checks.
func (p *Pool) ReapOnce(ctx context.Context) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	active := 0
	for _, c := range p.slots {
		if !c.available {
			active++
		}
	}
	eligible := len(p.slots) - active - p.cfg.Initial
	if eligible <= 0 {
		return 0
	}

	remaining := make([]*Connection, 0, len(p.slots))
	evicted := 0
	for _, conn := range p.slots {
		if evicted >= eligible || !conn.available {
			remaining = append(remaining, conn)
			continue
		}

		reason := ""
		if p.cfg.IdleTimeout > 0 && time.Since(conn.lastUsed) > p.cfg.IdleTimeout {
			reason = "idle_timeout"
		} else if conn.Ping(ctx) != nil {
			reason = "ping_failed"
		}

		if reason == "" {
			remaining = append(remaining, conn)
			continue
		}
		if err := p.drv.Close(conn.session); err != nil {
			p.logger.Warn("reap: closing evicted session failed",
				zap.String("data_source", p.dataSourceID), zap.Error(err))
		}
		metrics.ReapEvictionsTotal.WithLabelValues(p.dataSourceID, reason).Inc()
		evicted++
	}
	p.slots = remaining

	if evicted > 0 {
		p.logger.Info("reap cycle evicted connections",
			zap.String("data_source", p.dataSourceID), zap.Int("evicted", evicted))
		p.updateMetricsLocked()
	}
	return evicted
}

// Size returns the current number of slots (idle+active).
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

// Active returns the current number of in-use connections.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.slots {
		if !c.available {
			n++
		}
	}
	return n
}

// IsFull reports whether the pool has reached Config.Max slots.
func (p *Pool) IsFull() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots) >= p.cfg.Max
}

// ── internals ────────────────────────────────────────────────────────────

// findIdleLocked returns the index of the lowest-index available slot, or
// -1. Preferring the lowest index reuses older connections first and
// cooperates with the reaper's rolling-window eviction.
func (p *Pool) findIdleLocked() int {
	for i, c := range p.slots {
		if c.available {
			return i
		}
	}
	return -1
}

func (p *Pool) removeSlotLocked(target *Connection) {
	for i, c := range p.slots {
		if c == target {
			p.slots = append(p.slots[:i], p.slots[i+1:]...)
			return
		}
	}
}

func (p *Pool) createConn(ctx context.Context) (*Connection, error) {
	session, err := p.drv.Open(ctx, p.cfg.URL)
	if err != nil {
		return nil, err
	}
	if p.cfg.QueryTimeoutMs > 0 {
		_ = p.drv.SetQueryTimeout(session, p.cfg.QueryTimeoutMs)
	}
	if p.cfg.FetchSize > 0 {
		_ = p.drv.SetFetchSize(session, p.cfg.FetchSize)
	}
	if p.cfg.MaxRows > 0 {
		_ = p.drv.SetMaxRows(session, p.cfg.MaxRows)
	}
	return newConnection(p, session), nil
}

func (p *Pool) updateMetricsLocked() {
	active := 0
	for _, c := range p.slots {
		if !c.available {
			active++
		}
	}
	metrics.ConnectionsActive.WithLabelValues(p.dataSourceID).Set(float64(active))
	metrics.ConnectionsIdle.WithLabelValues(p.dataSourceID).Set(float64(len(p.slots) - active))
	metrics.ConnectionsSize.WithLabelValues(p.dataSourceID).Set(float64(len(p.slots)))
}

// reaperLoop is the single background worker started by Start when
// SweepInterval > 0. It wakes on a fixed interval (a ticker, not a timer
// wheel — this pool never tracks enough live timers to need one) and
// calls ReapOnce, which takes the pool mutex itself.
func (p *Pool) reaperLoop(interval time.Duration) {
	defer p.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.ReapOnce(context.Background())
		}
	}
}
