// Command unload exports the star schema to parquet snapshots at UNLOAD.TARGET.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/withObsrvr/sparkify-dwh/internal/config"
	"github.com/withObsrvr/sparkify-dwh/internal/logging"
	"github.com/withObsrvr/sparkify-dwh/internal/metrics"
	"github.com/withObsrvr/sparkify-dwh/internal/pipeline"
	"github.com/withObsrvr/sparkify-dwh/internal/queries"
	"github.com/withObsrvr/sparkify-dwh/internal/source"
	"github.com/withObsrvr/sparkify-dwh/internal/storage"
	"github.com/withObsrvr/sparkify-dwh/internal/unload"
	"github.com/withObsrvr/sparkify-dwh/internal/warehouse"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("[main] unload %s (%s)", pipeline.Version, pipeline.GitSHA)

	cfg := config.MustLoad()
	logging.Setup(logging.Config{Format: cfg.Logging.Format, Level: cfg.Logging.Level})
	m := metrics.Init(cfg.Metrics.Job)
	mcfg := metrics.Config{Pushgateway: cfg.Metrics.Pushgateway, Job: cfg.Metrics.Job, Listen: cfg.Metrics.Listen}

	if mcfg.Listen != "" {
		go func() {
			log.Printf("[metrics] serving on %s", mcfg.Listen)
			if err := m.StartServer(mcfg.Listen); err != nil {
				log.Printf("[metrics] server stopped: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown handler
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		log.Printf("[shutdown] received signal: %v", sig)
		cancel()
	}()

	err := run(ctx, cfg)

	pushCtx, pushCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if perr := m.Push(pushCtx, mcfg); perr != nil {
		log.Printf("[main] metrics push failed: %v", perr)
	}
	pushCancel()

	if err != nil {
		log.Printf("[main] unload failed: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	if cfg.Unload.Target == "" {
		return errors.New("UNLOAD.TARGET is not set")
	}

	store, err := storage.Open(ctx, cfg.Unload.Target, source.Options{Region: cfg.Region, Endpoint: cfg.S3.Endpoint})
	if err != nil {
		return err
	}
	defer store.Close()

	conn, err := warehouse.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	runID := logging.NewRunID()
	u := unload.New(conn, store, unload.Options{
		RunID:   runID,
		Dialect: queries.Dialect(cfg.Warehouse.Dialect),
		Producer: storage.ProducerInfo{
			Name:    "sparkify-unload",
			Version: pipeline.Version,
			GitSHA:  pipeline.GitSHA,
		},
	}, nil)

	manifest, err := u.Run(ctx)
	if err != nil {
		return err
	}
	if _, err := unload.Verify(ctx, store, runID); err != nil {
		return err
	}
	log.Printf("[main] snapshot %s published with %d tables", runID, len(manifest.Tables))
	return nil
}
