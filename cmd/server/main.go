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

	"github.com/AnshRaj112/persona-guard/internal/config"
	"github.com/AnshRaj112/persona-guard/internal/database"
	"github.com/AnshRaj112/persona-guard/internal/handlers"
	"github.com/AnshRaj112/persona-guard/internal/logger"
	"github.com/AnshRaj112/persona-guard/internal/middleware"
	"github.com/AnshRaj112/persona-guard/internal/routes"
	"github.com/AnshRaj112/persona-guard/internal/services"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging.Level, cfg.IsProduction())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("Server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := database.ConnectPostgres(cfg.Postgres.URI, log)
	if err != nil {
		return err
	}
	defer pg.Close()

	rdb, err := database.ConnectRedis(cfg.Redis.URI, log)
	if err != nil {
		return err
	}
	defer rdb.Close()

	mongoClient, mongoDB, err := database.ConnectMongo(cfg.Mongo.URI, cfg.Mongo.Database, log)
	if err != nil {
		return err
	}
	defer func() { _ = database.DisconnectMongo(mongoClient) }()

	violationStore := database.NewViolationStore(mongoDB)
	indexCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := violationStore.EnsureIndexes(indexCtx); err != nil {
		log.Warn("Failed to ensure violation indexes", zap.Error(err))
	}
	cancel()

	notifiers := []services.Notifier{services.NewRedisNotifier(rdb, cfg.Notifications.Channel)}
	if cfg.Notifications.WebhookURL != "" {
		notifiers = append(notifiers, services.NewWebhookNotifier(cfg.Notifications.WebhookURL, cfg.Notifications.Timeout))
	}
	alerter := services.NewAdminNotifier(cfg.Notifications, services.NewRedisDeduper(rdb), log, notifiers...)
	defer alerter.Wait()

	var classifier services.Classifier
	if cfg.Moderation.APIKey != "" {
		classifier = services.NewHTTPClassifier(cfg.Moderation.Endpoint, cfg.Moderation.APIKey, cfg.Moderation.Model, cfg.Moderation.Timeout)
	} else {
		log.Warn("MODERATION_API_KEY not set, only local moderation rules are active")
	}
	gateway := services.NewGateway(cfg.Moderation, classifier, services.DefaultCategoryRules(), alerter, log)

	sanctionStore := database.NewSanctionStore(pg)
	ledger := services.NewLedger(violationStore, cfg.Ledger, log)
	locker := services.NewRedisLocker(rdb, cfg.Sanctions.LockTTL, log)
	engine := services.NewSanctionEngine(cfg.Sanctions, sanctionStore, ledger, locker, alerter, log)
	gate := services.NewPermissionGate(sanctionStore, log)
	guard := services.NewChatGuard(gate, services.NewBlockedWordFilter(cfg.Moderation.BlockedWords), gateway, ledger, engine, log)

	feed := services.NewAdminFeed(rdb, cfg.Notifications.Channel, log)
	go feed.Run(ctx)
	tickets := services.NewStreamTickets(rdb, cfg.Admin.StreamTicketTTL)

	if cfg.Admin.KeyHash == "" {
		log.Warn("ADMIN_KEY_HASH not set, admin routes will reject every request")
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	if cfg.IsProduction() {
		r.Use(middleware.SecurityHeaders)
	}

	routes.SetupRoutes(r, routes.Deps{
		Chat:         handlers.NewChatHandler(guard, services.NewSessionResolver(rdb), cfg.Server.TrustProxy, log),
		Admin:        handlers.NewAdminHandler(ledger, engine, log),
		Feed:         handlers.NewAdminFeedHandler(feed, tickets, log),
		Tickets:      tickets,
		AdminKeyHash: cfg.Admin.KeyHash,
		Logger:       log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Persona guard running", zap.String("addr", srv.Addr), zap.String("env", cfg.Server.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
