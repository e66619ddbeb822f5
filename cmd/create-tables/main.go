// Command create-tables drops and recreates every warehouse table.
package main

import (
	"context"
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
	"github.com/withObsrvr/sparkify-dwh/internal/warehouse"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("[main] create-tables %s (%s)", pipeline.Version, pipeline.GitSHA)

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
		log.Printf("[main] create-tables failed: %v", err)
		os.Exit(1)
	}
	log.Println("[main] tables recreated")
}

func run(ctx context.Context, cfg config.Config) error {
	conn, err := warehouse.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	p := pipeline.New(conn, nil, pipeline.Options{Dialect: queries.Dialect(cfg.Warehouse.Dialect)})
	return p.ResetSchema(ctx)
}
