package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_contingency/internal/lib/engine/natsengine"
	"github.com/ohowland/cgc_contingency/internal/lib/engine/virtualengine"
	"github.com/ohowland/cgc_contingency/internal/pkg/config"
	"github.com/ohowland/cgc_contingency/internal/pkg/datastreams/mongodb"
	"github.com/ohowland/cgc_contingency/internal/pkg/datastreams/natshandler"
	"github.com/ohowland/cgc_contingency/internal/pkg/datastreams/sqldb"
	"github.com/ohowland/cgc_contingency/internal/pkg/engine"
	"github.com/ohowland/cgc_contingency/internal/pkg/msg"
	"github.com/ohowland/cgc_contingency/internal/pkg/retention"
	"github.com/ohowland/cgc_contingency/internal/pkg/runner"
	"github.com/ohowland/cgc_contingency/internal/pkg/webservice"
)

type stream interface {
	Process()
	Stop()
}

func main() {
	configPath := flag.String("config", "./config/contingency.json", "path of the JSON configuration")
	once := flag.Bool("once", false, "run the configured window once and exit instead of serving HTTP")
	flag.Parse()

	log.Println("[Main] Starting Contingency Runner v0.1.0")
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	log.Println("[Main] Reading Configuration", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	pid, _ := uuid.NewUUID()
	publisher := msg.NewPublisher(pid)

	log.Println("[Main] Building Runner")
	service, err := buildService(cfg, publisher)
	if err != nil {
		panic(err)
	}

	log.Println("[Main] Linking Data Streams")
	streams, err := linkStreams(cfg, publisher)
	if err != nil {
		panic(err)
	}
	defer stopStreams(streams)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *once {
		runOnce(ctx, cancel, service, sigs)
		return
	}

	app := &webservice.App{
		Config:    cfg.Webservice,
		Runner:    service,
		Publisher: publisher,
		Context:   ctx,
	}
	srv := app.Server()
	go func() {
		log.Println("[Main] Starting Server on", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Println("[Main] Server:", err)
			sigs <- syscall.SIGTERM
		}
	}()

	<-sigs
	log.Println("[Main] Stopping system")
	cancel()

	// an active run finishes its current case before the request returns
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Webservice.ShutdownWait())
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Println("[Main] Server shutdown:", err)
	}
}

func runOnce(ctx context.Context, cancel context.CancelFunc, service *runner.Service, sigs chan os.Signal) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		summary, err := service.Run(ctx)
		if err != nil {
			log.Println("[Main] Run failed:", err)
			return
		}
		log.Printf("[Main] Run %v %s: %d run, %d failed, %d flagged\n",
			summary.PID, summary.Status, summary.CasesRun, summary.CasesFailed, summary.CasesFlagged)
	}()

	select {
	case <-done:
	case <-sigs:
		log.Println("[Main] Cancelling run at the next case boundary")
		cancel()
		<-done
	}
}

func buildService(cfg config.Config, publisher *msg.PubSub) (*runner.Service, error) {
	rm, err := retention.New(cfg.Retention)
	if err != nil {
		return nil, err
	}
	dial, err := buildDialer(cfg.Engine)
	if err != nil {
		return nil, err
	}
	controller := runner.NewController(cfg.Runner, rm, publisher)
	return runner.NewService(cfg.Cases, dial, controller), nil
}

func buildDialer(cfg config.Engine) (runner.Dialer, error) {
	switch cfg.Type {
	case config.EngineVirtual:
		ve, err := buildVirtualEngine(cfg)
		if err != nil {
			return nil, err
		}
		log.Println("[Main] Using virtual engine", ve.PID())
		return func(ctx context.Context) (engine.Client, error) {
			return ve, nil
		}, nil
	default:
		return func(ctx context.Context) (engine.Client, error) {
			c, err := natsengine.Dial(cfg.NATS)
			if err != nil {
				return nil, err
			}
			return c, nil
		}, nil
	}
}

func buildVirtualEngine(cfg config.Engine) (*virtualengine.VirtualEngine, error) {
	if cfg.VirtualPath != "" {
		return virtualengine.New(cfg.VirtualPath)
	}
	if cfg.Virtual != nil {
		return virtualengine.NewFromConfig(*cfg.Virtual), nil
	}
	return virtualengine.NewFromConfig(virtualengine.Config{}), nil
}

func linkStreams(cfg config.Config, publisher *msg.PubSub) ([]stream, error) {
	streams := make([]stream, 0, 3)
	if cfg.MongoDB != nil {
		h, err := mongodb.New(*cfg.MongoDB, publisher)
		if err != nil {
			return streams, err
		}
		streams = append(streams, h)
	}
	if cfg.SQL != nil {
		h, err := sqldb.New(*cfg.SQL, publisher)
		if err != nil {
			return streams, err
		}
		streams = append(streams, h)
	}
	if cfg.NATS != nil {
		h, err := natshandler.New(*cfg.NATS, publisher)
		if err != nil {
			return streams, err
		}
		streams = append(streams, h)
	}
	for _, s := range streams {
		go s.Process()
	}
	return streams, nil
}

func stopStreams(streams []stream) {
	for _, s := range streams {
		s.Stop()
	}
	// let the handlers log their shutdown
	time.Sleep(500 * time.Millisecond)
}
