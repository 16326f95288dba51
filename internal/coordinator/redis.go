// Package coordinator implements distributed capacity coordination across
// multiple sqlpool processes sharing the same backend data sources (spec
// §12). It is a non-blocking capacity gate only: TryReserve either grants
// a slot immediately or reports denial, never queues a caller, preserving
// the core Pool's non-blocking Acquire contract.
package coordinator

import (
	"context"
	_ "embed"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sqlpool/sqlpool/internal/config"
	"github.com/sqlpool/sqlpool/internal/metrics"
)

//go:embed lua/acquire.lua
var acquireLuaScript string

//go:embed lua/release.lua
var releaseLuaScript string

const (
	keyDSCount      = "sqlpool:ds:%s:count"
	keyDSMax        = "sqlpool:ds:%s:max"
	keyInstanceConn = "sqlpool:instance:%s:conns"
	keyInstanceHB   = "sqlpool:instance:%s:heartbeat"
	keyInstanceList = "sqlpool:instances"
	channelRelease  = "sqlpool:release:%s"
)

// Redis coordinates distributed capacity for a set of data sources over a
// shared Redis instance. It satisfies pool.Coordinator.
type Redis struct {
	client     redis.UniversalClient
	cfg        config.RedisConfig
	instanceID string
	logger     *zap.Logger

	maxByDataSource map[string]int

	acquireSHA string
	releaseSHA string

	// fallbackMode governs whether capacity decisions fall back to a
	// purely local counter when Redis is unreachable.
	fallbackMode    atomic.Bool
	fallbackEnabled bool
	fallbackMu      sync.Mutex
	fallbackCounts  map[string]int
	fallbackDivisor int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates and initializes a Redis coordinator for the given data
// sources (id -> max connections). fallbackEnabled controls whether an
// unreachable Redis degrades to local-only limits rather than failing
// every reservation.
func New(ctx context.Context, cfg config.RedisConfig, instanceID string, maxByDataSource map[string]int, fallbackEnabled bool, fallbackDivisor int, logger *zap.Logger) (*Redis, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fallbackDivisor <= 0 {
		fallbackDivisor = 3
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	rc := &Redis{
		client:          client,
		cfg:             cfg,
		instanceID:      instanceID,
		logger:          logger,
		maxByDataSource: maxByDataSource,
		fallbackEnabled: fallbackEnabled,
		fallbackCounts:  make(map[string]int),
		fallbackDivisor: fallbackDivisor,
		stopCh:          make(chan struct{}),
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		if fallbackEnabled {
			logger.Warn("redis unavailable, starting in fallback mode", zap.Error(err))
			rc.fallbackMode.Store(true)
			metrics.CoordinatorReservationsTotal.WithLabelValues("_coordinator", "fallback").Inc()
			return rc, nil
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	if err := rc.loadScripts(ctx); err != nil {
		return nil, fmt.Errorf("loading lua scripts: %w", err)
	}
	if err := rc.initLimits(ctx); err != nil {
		return nil, fmt.Errorf("initializing data source limits: %w", err)
	}
	if err := rc.registerInstance(ctx); err != nil {
		return nil, fmt.Errorf("registering instance: %w", err)
	}

	logger.Info("coordinator initialized", zap.String("instance_id", instanceID), zap.Int("data_sources", len(maxByDataSource)))
	return rc, nil
}

func (rc *Redis) loadScripts(ctx context.Context) error {
	sha, err := rc.client.ScriptLoad(ctx, acquireLuaScript).Result()
	if err != nil {
		return fmt.Errorf("loading acquire.lua: %w", err)
	}
	rc.acquireSHA = sha

	sha, err = rc.client.ScriptLoad(ctx, releaseLuaScript).Result()
	if err != nil {
		return fmt.Errorf("loading release.lua: %w", err)
	}
	rc.releaseSHA = sha
	return nil
}

func (rc *Redis) initLimits(ctx context.Context) error {
	pipe := rc.client.Pipeline()
	for id, max := range rc.maxByDataSource {
		pipe.Set(ctx, fmt.Sprintf(keyDSMax, id), max, 0)
		pipe.SetNX(ctx, fmt.Sprintf(keyDSCount, id), 0, 0)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (rc *Redis) registerInstance(ctx context.Context) error {
	pipe := rc.client.Pipeline()
	pipe.SAdd(ctx, keyInstanceList, rc.instanceID)
	instKey := fmt.Sprintf(keyInstanceConn, rc.instanceID)
	for id := range rc.maxByDataSource {
		pipe.HSetNX(ctx, instKey, id, 0)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// TryReserve attempts to reserve one slot of global capacity for
// dataSourceID, returning (true, nil) on success and (false, nil) when
// capacity is exhausted. A non-nil error means the attempt itself
// failed (e.g. Redis unreachable and fallback disabled); callers should
// treat that as "coordinator unavailable", not "denied".
func (rc *Redis) TryReserve(ctx context.Context, dataSourceID string) (bool, error) {
	if rc.fallbackMode.Load() {
		ok := rc.reserveFallback(dataSourceID)
		metrics.CoordinatorReservationsTotal.WithLabelValues(dataSourceID, outcomeLabel(ok)).Inc()
		return ok, nil
	}

	countKey := fmt.Sprintf(keyDSCount, dataSourceID)
	maxKey := fmt.Sprintf(keyDSMax, dataSourceID)
	instKey := fmt.Sprintf(keyInstanceConn, rc.instanceID)

	result, err := rc.client.EvalSha(ctx, rc.acquireSHA, []string{countKey, maxKey, instKey}, dataSourceID, rc.instanceID).Int64()
	if err != nil {
		if rc.fallbackEnabled {
			rc.enterFallback()
			ok := rc.reserveFallback(dataSourceID)
			metrics.CoordinatorReservationsTotal.WithLabelValues(dataSourceID, outcomeLabel(ok)).Inc()
			return ok, nil
		}
		return false, fmt.Errorf("redis acquire: %w", err)
	}

	switch result {
	case 1:
		metrics.CoordinatorReservationsTotal.WithLabelValues(dataSourceID, "reserved").Inc()
		return true, nil
	case -1:
		metrics.CoordinatorReservationsTotal.WithLabelValues(dataSourceID, "denied").Inc()
		return false, nil
	default: // -2: max not configured for this data source
		return false, fmt.Errorf("data source %s has no max registered in coordinator", dataSourceID)
	}
}

// Release returns a previously reserved slot for dataSourceID.
func (rc *Redis) Release(ctx context.Context, dataSourceID string) error {
	if rc.fallbackMode.Load() {
		rc.releaseFallback(dataSourceID)
		return nil
	}

	countKey := fmt.Sprintf(keyDSCount, dataSourceID)
	instKey := fmt.Sprintf(keyInstanceConn, rc.instanceID)
	channel := fmt.Sprintf(channelRelease, dataSourceID)

	_, err := rc.client.EvalSha(ctx, rc.releaseSHA, []string{countKey, instKey}, dataSourceID, channel).Int64()
	if err != nil {
		if rc.fallbackEnabled {
			rc.enterFallback()
			rc.releaseFallback(dataSourceID)
			return nil
		}
		return fmt.Errorf("redis release: %w", err)
	}
	return nil
}

// Ping reports whether the coordinator's Redis connection is reachable.
func (rc *Redis) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

func (rc *Redis) enterFallback() {
	if rc.fallbackMode.CompareAndSwap(false, true) {
		rc.logger.Warn("entering coordinator fallback mode")
	}
}

// ExitFallback attempts to reconnect to Redis and reconcile local counts.
func (rc *Redis) ExitFallback(ctx context.Context) error {
	if err := rc.client.Ping(ctx).Err(); err != nil {
		return err
	}
	if err := rc.loadScripts(ctx); err != nil {
		return err
	}
	if err := rc.reconcileCounts(ctx); err != nil {
		return err
	}
	rc.fallbackMode.Store(false)
	rc.logger.Info("exited coordinator fallback mode")
	return nil
}

// IsFallback reports whether the coordinator is currently operating on
// local-only limits.
func (rc *Redis) IsFallback() bool {
	return rc.fallbackMode.Load()
}

func (rc *Redis) reserveFallback(dataSourceID string) bool {
	rc.fallbackMu.Lock()
	defer rc.fallbackMu.Unlock()

	limit := rc.localLimit(dataSourceID)
	current := rc.fallbackCounts[dataSourceID]
	if current >= limit {
		return false
	}
	rc.fallbackCounts[dataSourceID] = current + 1
	return true
}

func (rc *Redis) releaseFallback(dataSourceID string) {
	rc.fallbackMu.Lock()
	defer rc.fallbackMu.Unlock()
	if rc.fallbackCounts[dataSourceID] > 0 {
		rc.fallbackCounts[dataSourceID]--
	}
}

func (rc *Redis) localLimit(dataSourceID string) int {
	max, ok := rc.maxByDataSource[dataSourceID]
	if !ok {
		return 1
	}
	limit := max / rc.fallbackDivisor
	if limit < 1 {
		limit = 1
	}
	return limit
}

func (rc *Redis) reconcileCounts(ctx context.Context) error {
	rc.fallbackMu.Lock()
	counts := make(map[string]int, len(rc.fallbackCounts))
	for k, v := range rc.fallbackCounts {
		counts[k] = v
	}
	rc.fallbackMu.Unlock()

	pipe := rc.client.Pipeline()
	instKey := fmt.Sprintf(keyInstanceConn, rc.instanceID)
	for id, count := range counts {
		pipe.HSet(ctx, instKey, id, count)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Close unregisters this instance and closes the Redis connection.
func (rc *Redis) Close(ctx context.Context) error {
	close(rc.stopCh)
	rc.wg.Wait()

	if !rc.fallbackMode.Load() {
		rc.client.SRem(ctx, keyInstanceList, rc.instanceID)
		rc.client.Del(ctx, fmt.Sprintf(keyInstanceConn, rc.instanceID))
		rc.client.Del(ctx, fmt.Sprintf(keyInstanceHB, rc.instanceID))
	}
	return rc.client.Close()
}

func outcomeLabel(ok bool) string {
	if ok {
		return "reserved"
	}
	return "denied"
}
