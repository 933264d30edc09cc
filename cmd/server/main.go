// Command server runs the billing API: subscription lifecycle, payment
// ledger, and the processor webhook ingress.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	billingmod "github.com/subkit/subkit/modules/billing"
	"github.com/subkit/subkit/pkg/broadcast"
	"github.com/subkit/subkit/pkg/config"
	"github.com/subkit/subkit/pkg/email"
	"github.com/subkit/subkit/pkg/httpserver"
	"github.com/subkit/subkit/pkg/logger"
	"github.com/subkit/subkit/pkg/mongo"
	"github.com/subkit/subkit/pkg/redis"
	"github.com/subkit/subkit/svc/billing"
	"github.com/subkit/subkit/svc/notification"
	"github.com/subkit/subkit/svc/payment"
	"github.com/subkit/subkit/svc/subscription"
	"github.com/subkit/subkit/svc/webhook"
)

type appConfig struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// DedupRedis enables the Redis-backed webhook dedup window; without it
	// a single-replica in-memory window is used.
	DedupRedis bool `env:"WEBHOOK_DEDUP_REDIS" envDefault:"false"`

	// DevEmailDir enables the filesystem email sender for development.
	DevEmailDir string `env:"DEV_EMAIL_DIR"`

	HTTP   httpserver.Config
	Mongo  mongo.Config
	Redis  redis.Config
	Stripe billing.StripeConfig
	Email  email.Config
}

func main() {
	var cfg appConfig
	config.MustLoad(&cfg)

	log := logger.New(logger.WithEnvironment(cfg.Environment, "billing-api"))
	logger.SetAsDefault(log)

	if err := run(context.Background(), cfg, log); err != nil {
		log.Error("server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg appConfig, log *slog.Logger) error {
	db, err := mongo.ConnectDatabase(ctx, cfg.Mongo)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Client().Disconnect(context.Background()); err != nil {
			log.Error("mongodb disconnect failed", slog.Any("error", err))
		}
	}()

	subStore := subscription.NewMongoStore(db)
	if err := subStore.EnsureIndexes(ctx); err != nil {
		return err
	}
	payStore := payment.NewMongoStore(db)
	if err := payStore.EnsureIndexes(ctx); err != nil {
		return err
	}

	gateway, err := billing.NewStripeGateway(cfg.Stripe)
	if err != nil {
		return err
	}

	// No user directory runs alongside this binary, so there is nothing to
	// resolve a user ID into an email address with. Subscription emails still
	// go out (the caller supplies the address); payment receipt and failure
	// emails are skipped until a resolver backed by an account service is
	// plugged in here.
	notifier := notification.NewService(newEmailSender(cfg, log), nil, log)
	log.Warn("no email resolver configured, payment receipt and failure emails are disabled")

	events := broadcast.NewMemoryBroadcaster[subscription.DomainEvent](256)
	defer events.Close()

	subs := subscription.NewService(subStore, gateway, log,
		subscription.WithNotifier(notifier),
		subscription.WithEventPublisher(subscription.NewBroadcastPublisher(events)),
	)
	payments := payment.NewService(payStore, gateway, log,
		payment.WithNotifier(notifier),
	)

	dedup, err := newDedup(ctx, cfg)
	if err != nil {
		return err
	}
	ingress := webhook.NewIngress(gateway, dedup, subs, payments, log)

	api := billingmod.NewHandler(subs, payments, ingress, billingmod.HeaderIdentityResolver, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Mount("/", api.Router())

	return httpserver.New(cfg.HTTP, log).Run(ctx, r)
}

func newDedup(ctx context.Context, cfg appConfig) (webhook.EventDedup, error) {
	if !cfg.DedupRedis {
		return webhook.NewMemoryDedup(webhook.DefaultDedupTTL), nil
	}
	client, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	return webhook.NewRedisDedup(client, webhook.DefaultDedupTTL), nil
}

func newEmailSender(cfg appConfig, log *slog.Logger) email.EmailSender {
	if cfg.DevEmailDir != "" {
		log.Info("using filesystem email sender", slog.String("dir", cfg.DevEmailDir))
		return email.NewDevSender(cfg.DevEmailDir)
	}
	sender, err := email.NewPostmarkClient(cfg.Email)
	if err != nil {
		log.Warn("postmark unavailable, falling back to filesystem sender", slog.Any("error", err))
		return email.NewDevSender(os.TempDir())
	}
	return sender
}
