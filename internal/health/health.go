// Package health exposes an HTTP health-check surface over the pools and
// the distributed coordinator, mirroring the shape of the library's
// Prometheus metrics but meant for a process supervisor / load balancer
// rather than a time-series backend.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sqlpool/sqlpool/internal/poolerr"
	"github.com/sqlpool/sqlpool/pkg/pool"
)

// Status represents the health of a single component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// ComponentHealth is the health of one pool or coordinator.
type ComponentHealth struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency"`
}

// Report is the overall health report.
type Report struct {
	Status     Status            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	InstanceID string            `json:"instance_id"`
	Components []ComponentHealth `json:"components"`
}

// CoordinatorPinger is the subset of the distributed coordinator's
// surface the health checker needs; satisfied by *coordinator.Redis.
type CoordinatorPinger interface {
	Ping(ctx context.Context) error
}

// Checker runs health checks against every configured pool and, if
// present, the distributed coordinator.
type Checker struct {
	instanceID  string
	healthPort  int
	pools       map[string]*pool.Pool
	coordinator CoordinatorPinger
	logger      *zap.Logger
}

// NewChecker builds a Checker over pools keyed by data source ID. A nil
// coordinator means no coordinator component is reported.
func NewChecker(instanceID string, healthPort int, pools map[string]*pool.Pool, coordinator CoordinatorPinger, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		instanceID:  instanceID,
		healthPort:  healthPort,
		pools:       pools,
		coordinator: coordinator,
		logger:      logger,
	}
}

// Check runs all component checks concurrently and aggregates them.
func (c *Checker) Check(ctx context.Context) *Report {
	report := &Report{
		Status:     StatusHealthy,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		InstanceID: c.instanceID,
	}

	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		components []ComponentHealth
	)

	if c.coordinator != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch := c.checkCoordinator(ctx)
			mu.Lock()
			components = append(components, ch)
			mu.Unlock()
		}()
	}

	for id, p := range c.pools {
		id, p := id, p
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch := c.checkPool(ctx, id, p)
			mu.Lock()
			components = append(components, ch)
			mu.Unlock()
		}()
	}

	wg.Wait()

	report.Components = components
	for _, comp := range components {
		if comp.Status == StatusUnhealthy {
			report.Status = StatusUnhealthy
			break
		}
	}
	return report
}

// checkPool acquires and immediately releases a connection. PoolFull is
// reported healthy (the pool is merely busy, not broken) — any other
// Acquire error (e.g. DriverOpen, or ApiMisuse on a stopped pool) marks
// the component unhealthy.
func (c *Checker) checkPool(ctx context.Context, id string, p *pool.Pool) ComponentHealth {
	start := time.Now()
	name := fmt.Sprintf("pool-%s", id)

	conn, err := p.Acquire(ctx)
	latency := time.Since(start)
	if err != nil {
		if errors.Is(err, poolerr.ErrPoolFull) {
			return ComponentHealth{Name: name, Status: StatusHealthy, Message: "at capacity", Latency: latency.String()}
		}
		return ComponentHealth{Name: name, Status: StatusUnhealthy, Message: err.Error(), Latency: latency.String()}
	}
	defer conn.Close()

	return ComponentHealth{Name: name, Status: StatusHealthy, Message: "ok", Latency: latency.String()}
}

func (c *Checker) checkCoordinator(ctx context.Context) ComponentHealth {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.coordinator.Ping(ctx); err != nil {
		return ComponentHealth{Name: "coordinator", Status: StatusUnhealthy, Message: err.Error(), Latency: time.Since(start).String()}
	}
	return ComponentHealth{Name: "coordinator", Status: StatusHealthy, Message: "PONG", Latency: time.Since(start).String()}
}

// ServeHTTP starts the health-check HTTP server in the background and
// returns it so the caller can Shutdown it.
func (c *Checker) ServeHTTP(ctx context.Context) *http.Server {
	mux := http.NewServeMux()

	serve := func(w http.ResponseWriter, r *http.Request) {
		report := c.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(report)
	}

	mux.HandleFunc("/health", serve)
	mux.HandleFunc("/health/ready", serve)
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})

	addr := fmt.Sprintf(":%d", c.healthPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		c.logger.Info("health check server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("health check server error", zap.Error(err))
		}
	}()

	return server
}
