package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vedran77/huddle/internal/config"
	"github.com/vedran77/huddle/internal/crypto"
	"github.com/vedran77/huddle/internal/logger"
	"github.com/vedran77/huddle/internal/pubsub"
	"github.com/vedran77/huddle/internal/service"
	"github.com/vedran77/huddle/internal/transport/http/handlers"
	"github.com/vedran77/huddle/internal/transport/http/middleware"
	"github.com/vedran77/huddle/internal/transport/ws"
)

const (
	backgroundTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
	auditBuffer       = 1024
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	repos, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer repos.close()

	cipher, err := crypto.New(crypto.Config{Key: cfg.Encryption.Key, AcceptLegacy: cfg.Encryption.LegacyTokens})
	if err != nil {
		return err
	}

	// Services
	bg := service.NewBackground(backgroundTimeout, log)
	conversationService := service.NewConversationService(repos.conversations, repos.messages, repos.users, cipher, bg, log)
	messageService := service.NewMessageService(repos.conversations, repos.messages, cipher, bg, log)

	dispatcher, stopAudit := startAudit(cfg, log)
	defer stopAudit()
	conversationService.SetAuditor(dispatcher)
	messageService.SetAuditor(dispatcher)

	// WebSocket
	hub := ws.NewHub(log)
	messageService.SetNotifier(ws.NewHubNotifier(hub, log))
	gateway := ws.NewGateway(hub, conversationService, messageService, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		bus := pubsub.NewRedisBus(client, cfg.Redis.Channel, log)
		hub.SetBus(bus)
		g.Go(func() error { return bus.Run(gctx, hub.Deliver) })
		log.Info("room fan-out via redis", zap.String("addr", cfg.Redis.Addr), zap.String("channel", cfg.Redis.Channel))
	}

	// Routes
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "ok"}`))
	})
	handlers.Register(mux, conversationService, messageService, cfg.JWT.Secret, log)
	mux.HandleFunc("GET /ws", ws.ServeWS(hub, gateway, ws.Options{
		JWTSecret:      cfg.JWT.Secret,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		SendRate:       cfg.WS.SendRatePerSecond,
		SendBurst:      cfg.WS.SendBurst,
	}, log))
	mux.HandleFunc("GET /ws/stats", ws.StatsHandler(hub))

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           middleware.CORS(cfg.Server.AllowedOrigins)(middleware.RequestLogger(log)(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Info("starting server", zap.String("addr", srv.Addr), zap.String("storage", cfg.Storage.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	bg.Wait()
	stopAudit()
	log.Info("server stopped")
	return err
}
