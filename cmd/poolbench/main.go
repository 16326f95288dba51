// Command poolbench is a runnable demonstration of the pool library: it
// loads a runtime + data-source configuration, starts a Pool per data
// source against the matching driver adapter, serves metrics and health
// endpoints, and runs a configurable acquire/query/release workload
// against one of them, reporting pool stats when that workload finishes.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sqlpool/sqlpool/internal/config"
	"github.com/sqlpool/sqlpool/internal/coordinator"
	"github.com/sqlpool/sqlpool/internal/drivers/mssql"
	"github.com/sqlpool/sqlpool/internal/drivers/mysql"
	"github.com/sqlpool/sqlpool/internal/drivers/postgres"
	"github.com/sqlpool/sqlpool/internal/drivers/sqlite"
	"github.com/sqlpool/sqlpool/internal/health"
	"github.com/sqlpool/sqlpool/internal/logging"
	"github.com/sqlpool/sqlpool/pkg/driver"
	"github.com/sqlpool/sqlpool/pkg/pool"
)

func main() {
	runtimeConfigPath := flag.String("runtime-config", "config/runtime.yaml", "path to the runtime config file")
	dataSourcesPath := flag.String("datasources-config", "config/datasources.yaml", "path to the data sources config file")
	benchDataSource := flag.String("bench", "", "data source id to run the acquire/release workload against")
	benchOps := flag.Int("bench-ops", 1000, "number of acquire/execute/release cycles to run")
	flag.Parse()

	cfg, err := config.Load(*runtimeConfigPath, *dataSourcesPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "loading config:", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Runtime.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "building logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pools := make(map[string]*pool.Pool, len(cfg.DataSources))

	var coord *coordinator.Redis
	var hb *coordinator.Heartbeat
	if cfg.Redis.Addr != "" {
		maxByDS := make(map[string]int, len(cfg.DataSources))
		for _, ds := range cfg.DataSources {
			maxByDS[ds.ID] = ds.Max
		}
		coord, err = coordinator.New(ctx, cfg.Redis, cfg.Runtime.InstanceID, maxByDS, true, 2, logger)
		if err != nil {
			logger.Warn("distributed coordinator unavailable, running with local capacity only", zap.Error(err))
			coord = nil
		} else {
			hb = coordinator.NewHeartbeat(coord, cfg.Redis.HeartbeatInterval, cfg.Redis.HeartbeatTTL)
			hb.Start(ctx)
		}
	}

	for _, ds := range cfg.DataSources {
		drv, err := driverFor(ds.Driver)
		if err != nil {
			logger.Error("skipping data source with unknown driver", zap.String("data_source", ds.ID), zap.Error(err))
			continue
		}

		p := pool.New(ds.ID, drv, logger)
		if coord != nil {
			p.SetCoordinator(coord)
		}
		p.SetAbortHandler(func(err error) {
			logger.Error("pool reported a fatal error", zap.String("data_source", ds.ID), zap.Error(err))
		})

		if err := p.Configure(pool.Config{
			URL:            ds.DSN(),
			Initial:        ds.Initial,
			Max:            ds.Max,
			IdleTimeout:    ds.IdleTimeout,
			SweepInterval:  ds.SweepInterval,
			QueryTimeoutMs: int(ds.QueryTimeout / time.Millisecond),
			FetchSize:      ds.FetchSize,
			MaxRows:        ds.MaxRows,
		}); err != nil {
			logger.Error("configuring pool failed", zap.String("data_source", ds.ID), zap.Error(err))
			continue
		}

		startCtx, cancel := context.WithTimeout(ctx, ds.ConnectionTimeout)
		err = p.Start(startCtx)
		cancel()
		if err != nil {
			logger.Error("starting pool failed", zap.String("data_source", ds.ID), zap.Error(err))
			continue
		}
		pools[ds.ID] = p
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", cfg.Runtime.MetricsPort)
		logger.Info("serving metrics", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	var pinger health.CoordinatorPinger
	if coord != nil {
		pinger = coord
	}
	checker := health.NewChecker(cfg.Runtime.InstanceID, cfg.Runtime.HealthCheckPort, pools, pinger, logger)
	healthSrv := checker.ServeHTTP(ctx)

	if *benchDataSource != "" {
		p, ok := pools[*benchDataSource]
		if !ok {
			logger.Error("bench data source not found or failed to start", zap.String("data_source", *benchDataSource))
		} else {
			runBench(ctx, logger, p, *benchDataSource, *benchOps)
		}
	}

	<-ctx.Done()
	logger.Info("shutting down")

	if hb != nil {
		hb.Stop()
	}
	for id, p := range pools {
		if err := p.Stop(); err != nil {
			logger.Warn("stopping pool failed", zap.String("data_source", id), zap.Error(err))
		}
	}
	if coord != nil {
		coord.Close(context.Background())
	}
	_ = healthSrv.Close()
}

func driverFor(name string) (driver.Driver, error) {
	switch name {
	case "mssql":
		return mssql.New(), nil
	case "mysql":
		return mysql.New(), nil
	case "postgres":
		return postgres.New(), nil
	case "sqlite":
		return sqlite.New(), nil
	default:
		return nil, fmt.Errorf("unknown driver %q", name)
	}
}

func runBench(ctx context.Context, logger *zap.Logger, p *pool.Pool, dataSourceID string, ops int) {
	start := time.Now()
	var acquired, poolFull, failed int

	for i := 0; i < ops; i++ {
		conn, err := p.Acquire(ctx)
		if err != nil {
			poolFull++
			continue
		}
		acquired++

		if _, err := conn.Execute(ctx, "SELECT 1"); err != nil {
			failed++
		}
		conn.Close()
	}

	logger.Info("bench run complete",
		zap.String("data_source", dataSourceID),
		zap.Int("ops", ops),
		zap.Int("acquired", acquired),
		zap.Int("pool_full", poolFull),
		zap.Int("exec_failed", failed),
		zap.Int("final_size", p.Size()),
		zap.Int("final_active", p.Active()),
		zap.Duration("elapsed", time.Since(start)),
	)
}
