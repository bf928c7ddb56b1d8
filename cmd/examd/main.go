package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "github.com/frankdogbe328/signals-sub000/internal/api/http"
	auth "github.com/frankdogbe328/signals-sub000/internal/auth/middleware"
	"github.com/frankdogbe328/signals-sub000/internal/clock"
	"github.com/frankdogbe328/signals-sub000/internal/config"
	"github.com/frankdogbe328/signals-sub000/internal/db"
	"github.com/frankdogbe328/signals-sub000/internal/exam"
	"github.com/frankdogbe328/signals-sub000/internal/grading"
	"github.com/frankdogbe328/signals-sub000/internal/notify"
	"github.com/frankdogbe328/signals-sub000/internal/semester"
	"github.com/frankdogbe328/signals-sub000/internal/session"
	"github.com/frankdogbe328/signals-sub000/internal/sweeper"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- DB ---
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	dbh, err := db.Open(openCtx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	cancel()
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	defer dbh.Close()
	store := exam.NewSQLStore(dbh, cfg.DBDriver)

	// --- Notices: log + event log, result webhook behind a queue ---
	sinks := notify.Multi{notify.Log{}, notify.NewEventLog(dbh, string(cfg.Mode))}
	var queue *notify.Queue
	if cfg.ResultWebhookURL != "" {
		queue = notify.NewQueue(notify.NewWebhook(notify.WebhookConfig{
			URL:          cfg.ResultWebhookURL,
			TokenURL:     cfg.ResultWebhookTokenURL,
			ClientID:     cfg.ResultWebhookClientID,
			ClientSecret: cfg.ResultWebhookClientSecret,
		}), 256)
		sinks = append(sinks, queue)
	}

	// --- Session engine ---
	scfg := session.DefaultConfig()
	scfg.DebounceDelay = cfg.DebounceDelay
	scfg.CheckpointEvery = cfg.CheckpointEvery
	scfg.ReconcileWallClock = cfg.ReconcileWallClock
	scfg.Thresholds = cfg.Thresholds
	// not tied to ctx: answers debounced during shutdown are flushed by mgr.Shutdown
	mgr := session.NewManager(store, clock.Real{}, grading.New(), sinks, scfg)

	sw := sweeper.New(store, mgr, clock.Real{}, sweeper.Config{
		Schedule:   cfg.SweepSchedule,
		StaleAfter: cfg.SweepStaleAfter,
	})
	if cfg.SweepSchedule != "" {
		if err := sw.Start(ctx); err != nil {
			log.Fatalf("sweeper: %v", err)
		}
	}

	// --- Router ---
	r := api.NewRouter(api.Deps{
		Store:         store,
		Sessions:      mgr,
		Semester:      semester.NewService(store, cfg.Thresholds),
		Auth:          auth.NewAuthService(cfg.AuthHMACSecret),
		AdminUser:     cfg.AdminUser,
		AdminPassHash: cfg.AdminPassHash,
		CORSOrigins:   cfg.CORSOrigins(),
		Ready:         dbh.PingContext,
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Printf("listening on %s (mode=%s, db=%s)", cfg.HTTPAddr, cfg.Mode, cfg.DBDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if err := sw.Stop(shutCtx); err != nil {
		log.Printf("sweeper stop: %v", err)
	}
	// live attempts stay in progress with their answers and remaining time saved
	if err := mgr.Shutdown(shutCtx); err != nil {
		log.Printf("session shutdown: %v", err)
	}
	if queue != nil {
		if err := queue.Close(shutCtx); err != nil {
			log.Printf("notify queue: %v", err)
		}
	}
}
