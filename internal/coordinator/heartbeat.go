package coordinator

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Heartbeat periodically refreshes this instance's presence key in Redis
// and cleans up orphaned reservations from instances whose heartbeat has
// expired (e.g. a crashed process that never released its slots).
type Heartbeat struct {
	rc       *Redis
	interval time.Duration
	ttl      time.Duration
	stopCh   chan struct{}
}

// NewHeartbeat builds a heartbeat worker for rc, defaulting interval/ttl
// to 10s/30s when unset.
func NewHeartbeat(rc *Redis, interval, ttl time.Duration) *Heartbeat {
	if interval == 0 {
		interval = 10 * time.Second
	}
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	return &Heartbeat{rc: rc, interval: interval, ttl: ttl, stopCh: make(chan struct{})}
}

// Start launches the heartbeat loop in a background goroutine.
func (hb *Heartbeat) Start(ctx context.Context) {
	hb.rc.wg.Add(1)
	go hb.loop(ctx)
	hb.rc.logger.Info("heartbeat started",
		zap.Duration("interval", hb.interval), zap.Duration("ttl", hb.ttl), zap.String("instance_id", hb.rc.instanceID))
}

// Stop signals the heartbeat loop to exit.
func (hb *Heartbeat) Stop() {
	close(hb.stopCh)
}

func (hb *Heartbeat) loop(ctx context.Context) {
	defer hb.rc.wg.Done()

	hb.send(ctx)

	ticker := time.NewTicker(hb.interval)
	defer ticker.Stop()

	cleanupCounter := 0
	for {
		select {
		case <-hb.stopCh:
			return
		case <-hb.rc.stopCh:
			return
		case <-ticker.C:
			if hb.rc.IsFallback() {
				if err := hb.rc.ExitFallback(ctx); err != nil {
					continue
				}
			}
			hb.send(ctx)

			cleanupCounter++
			if cleanupCounter%3 == 0 {
				hb.cleanupDead(ctx)
			}
		}
	}
}

func (hb *Heartbeat) send(ctx context.Context) {
	if hb.rc.IsFallback() {
		return
	}
	hbKey := fmt.Sprintf(keyInstanceHB, hb.rc.instanceID)
	if err := hb.rc.client.Set(ctx, hbKey, time.Now().Unix(), hb.ttl).Err(); err != nil {
		hb.rc.logger.Warn("heartbeat send failed", zap.Error(err))
	}
}

// cleanupDead reconciles global counts against instances whose heartbeat
// key has expired, returning their orphaned reservations to the pool.
func (hb *Heartbeat) cleanupDead(ctx context.Context) {
	if hb.rc.IsFallback() {
		return
	}

	instances, err := hb.rc.client.SMembers(ctx, keyInstanceList).Result()
	if err != nil {
		hb.rc.logger.Warn("heartbeat: listing instances failed", zap.Error(err))
		return
	}

	for _, instID := range instances {
		if instID == hb.rc.instanceID {
			continue
		}
		exists, err := hb.rc.client.Exists(ctx, fmt.Sprintf(keyInstanceHB, instID)).Result()
		if err != nil || exists > 0 {
			continue
		}
		hb.reclaim(ctx, instID)
	}
}

func (hb *Heartbeat) reclaim(ctx context.Context, deadInstanceID string) {
	instKey := fmt.Sprintf(keyInstanceConn, deadInstanceID)
	counts, err := hb.rc.client.HGetAll(ctx, instKey).Result()
	if err != nil {
		hb.rc.logger.Warn("heartbeat: reading dead instance counts failed",
			zap.String("instance_id", deadInstanceID), zap.Error(err))
		return
	}

	pipe := hb.rc.client.Pipeline()
	recovered := 0
	for dataSourceID, countStr := range counts {
		count, err := strconv.Atoi(countStr)
		if err != nil || count <= 0 {
			continue
		}
		pipe.DecrBy(ctx, fmt.Sprintf(keyDSCount, dataSourceID), int64(count))
		recovered += count
	}
	pipe.Del(ctx, instKey)
	pipe.SRem(ctx, keyInstanceList, deadInstanceID)

	if _, err := pipe.Exec(ctx); err != nil {
		hb.rc.logger.Warn("heartbeat: reclaiming dead instance failed",
			zap.String("instance_id", deadInstanceID), zap.Error(err))
		return
	}
	if recovered > 0 {
		hb.rc.logger.Info("reclaimed slots from dead instance",
			zap.String("instance_id", deadInstanceID), zap.Int("recovered", recovered))
	}

	for dataSourceID := range counts {
		countKey := fmt.Sprintf(keyDSCount, dataSourceID)
		if val, err := hb.rc.client.Get(ctx, countKey).Int64(); err == nil && val < 0 {
			hb.rc.client.Set(ctx, countKey, 0, 0)
		}
	}
}
