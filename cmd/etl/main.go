// Command etl loads the raw event and song logs into staging tables and
// builds the star schema from them.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/withObsrvr/sparkify-dwh/internal/config"
	"github.com/withObsrvr/sparkify-dwh/internal/loader"
	"github.com/withObsrvr/sparkify-dwh/internal/logging"
	"github.com/withObsrvr/sparkify-dwh/internal/metrics"
	"github.com/withObsrvr/sparkify-dwh/internal/pipeline"
	"github.com/withObsrvr/sparkify-dwh/internal/queries"
	"github.com/withObsrvr/sparkify-dwh/internal/warehouse"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("[main] etl %s (%s)", pipeline.Version, pipeline.GitSHA)

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

	runID, err := run(ctx, cfg)

	pushCtx, pushCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if perr := m.Push(pushCtx, mcfg); perr != nil {
		log.Printf("[main] metrics push failed: %v", perr)
	}
	pushCancel()

	if err != nil {
		log.Printf("[main] etl run %s failed: %v", runID, err)
		os.Exit(1)
	}
	log.Printf("[main] etl run %s complete", runID)
}

func run(ctx context.Context, cfg config.Config) (string, error) {
	conn, err := warehouse.Open(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer conn.Close(context.Background())

	ld, err := loader.New(ctx, cfg, conn, nil)
	if err != nil {
		return "", err
	}

	p := pipeline.New(conn, ld, pipeline.Options{Dialect: queries.Dialect(cfg.Warehouse.Dialect)})
	return p.RunID(), p.RunETL(ctx)
}
