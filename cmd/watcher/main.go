package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"main/internal/api"
	"main/internal/detect"
	"main/internal/ingest"
	"main/internal/ingest/binance"
	"main/internal/model"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/retention"
	"main/internal/store"
	"main/internal/universe"
	"main/pkg/conn"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

func main() {
	if err := run(); err != nil {
		logs.Errorf("watcher: %+v", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := ops.Load()
	if err != nil {
		return errors.Wrap(err, "load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Pyroscope.Addr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "market-anomaly-watcher",
			ServerAddress:   cfg.Pyroscope.Addr,
			Logger:          emptyLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return errors.Wrap(err, "start profiler")
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	client, err := conn.New(conn.Option{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return errors.Wrap(err, "connect postgres")
	}
	defer client.Close()

	if err := client.Migrate(&model.Bar{}, &model.AnomalyRecord{}); err != nil {
		return errors.Wrap(err, "migrate")
	}

	db := client.DB()
	bars := store.NewBarStore(db)
	sink := store.NewAnomalySink(db)
	health := obs.NewHealth()

	rest := binance.NewREST(cfg.Feed.RestURL, cfg.Feed.Timeout)
	selector := universe.NewSelector(rest, cfg.Universe.TopN, cfg.Universe.MinQuoteVolume)
	if err := selector.Refresh(ctx); err != nil {
		// non-fatal: the periodic refresh keeps retrying
		logs.Warnf("initial universe refresh: %+v", err)
	}

	newFeed := func(ctx context.Context) ingest.LiveFeed {
		return binance.NewFeed(ctx, cfg.Feed.WsURL)
	}
	pipeline := ingest.NewPipeline(
		cfg.Ingest,
		cfg.Universe.RefreshInterval,
		cfg.Detect.WindowSize,
		bars,
		selector,
		rest,
		newFeed,
		health,
	)
	engine := detect.NewEngine(
		cfg.Detect,
		cfg.Ingest.Interval,
		bars,
		sink,
		selector,
		pipeline.Degraded,
		health,
	)
	sweeper := retention.NewSweeper(bars, sink, model.RetentionPolicy{
		MaxAge:           cfg.Retention.MaxAge,
		MaxRowsPerSymbol: cfg.Retention.MaxRowsPerSymbol,
		MaxTotalBytes:    cfg.Retention.MaxTotalBytes,
		SweepInterval:    cfg.Retention.SweepInterval,
	}, health)
	server := api.NewServer(sink, bars, selector, health)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		pipeline.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		engine.Run(ctx, pipeline.Finalized())
	}()
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	err = server.Run(ctx, cfg.API.Addr)
	wg.Wait()
	return err
}

type emptyLogger struct{}

func (emptyLogger) Infof(string, ...any)  {}
func (emptyLogger) Debugf(string, ...any) {}
func (emptyLogger) Errorf(string, ...any) {}
