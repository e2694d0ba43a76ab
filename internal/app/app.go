// Package app wires configuration into a ready CampaignService and its HTTP
// routes. Both binaries build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/unclebandit/campaign-mailer/internal/backend"
	"github.com/unclebandit/campaign-mailer/internal/backoff"
	"github.com/unclebandit/campaign-mailer/internal/config"
	"github.com/unclebandit/campaign-mailer/internal/controller"
	"github.com/unclebandit/campaign-mailer/internal/db"
	"github.com/unclebandit/campaign-mailer/internal/handler"
	"github.com/unclebandit/campaign-mailer/internal/logger"
	"github.com/unclebandit/campaign-mailer/internal/mailer"
	"github.com/unclebandit/campaign-mailer/internal/metrics"
	"github.com/unclebandit/campaign-mailer/internal/model"
	"github.com/unclebandit/campaign-mailer/internal/queue"
	"github.com/unclebandit/campaign-mailer/internal/repository"
	"github.com/unclebandit/campaign-mailer/internal/service"
	"github.com/unclebandit/campaign-mailer/internal/suppression"
	"github.com/unclebandit/campaign-mailer/internal/tracking"
)

type App struct {
	Config  config.Config
	Log     *slog.Logger
	Metrics *metrics.Metrics
	Service *service.CampaignService

	closers []func() error
}

// New builds every collaborator named by cfg. The job queue is left to the
// caller; see UseQueue.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log, Metrics: metrics.New()}

	sender, err := newSender(cfg.Mail, log, a.Metrics)
	if err != nil {
		return nil, err
	}

	svc := &service.CampaignService{
		Sender: sender,
		Renderer: &service.RenderService{
			Injector:    tracking.NewInjector(cfg.AppBaseURL, cfg.PrivacyURL),
			DefaultFrom: model.Address{Email: cfg.Mail.FromEmail, Name: cfg.Mail.FromName},
		},
		Dispatch: service.DispatchOptions{
			BatchSize:   cfg.Dispatch.BatchSize,
			BatchDelay:  cfg.Dispatch.BatchDelay,
			Concurrency: cfg.Dispatch.Concurrency,
		},
		Metrics: a.Metrics,
		Log:     log.With(logger.Component("campaign")),
	}
	a.Service = svc

	if cfg.NeedsDatabase() {
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required for the postgres campaign source or suppression mode")
		}
		conn, err := db.Open(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, err
		}
		a.onClose(conn.Close)
		if cfg.CampaignSource == config.SourcePostgres {
			svc.CampaignRepo = &repository.CampaignRepository{DB: conn}
			svc.ContactRepo = &repository.ContactRepository{DB: conn}
		}
		if cfg.Suppression.Mode == config.SuppressionPostgres {
			svc.Suppression = &repository.SuppressionRepository{DB: conn}
		}
	}

	if cfg.CampaignSource == config.SourceBackend {
		if cfg.Backend.BaseURL == "" {
			a.Close()
			return nil, errors.New("BACKEND_BASE_URL is required for the backend campaign source")
		}
		policy := backoff.Default
		policy.MaxRetries = cfg.Backend.MaxRetries
		client := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout, policy)
		svc.CampaignRepo = client
		svc.ContactRepo = client
	}

	switch cfg.Suppression.Mode {
	case config.SuppressionHTTP:
		if cfg.Suppression.URL == "" {
			a.Close()
			return nil, errors.New("SUPPRESSION_URL is required for http suppression")
		}
		svc.Suppression = suppression.NewHTTPChecker(cfg.Suppression.URL, cfg.Backend.Timeout, backoff.Default)
	case config.SuppressionRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		a.onClose(client.Close)
		svc.Suppression = suppression.NewRedisChecker(client, cfg.Suppression.RedisKey)
	case config.SuppressionNone:
		svc.Suppression = suppression.Noop{}
	}

	log.Info("application configured",
		slog.String("campaign_source", cfg.CampaignSource),
		slog.String("suppression", cfg.Suppression.Mode),
		slog.String("mail_provider", cfg.Mail.Provider),
		slog.Bool("mail_configured", sender != nil),
	)
	return a, nil
}

// newSender returns a nil Sender when the provider has no credentials, which
// makes every send fail with ErrMailNotConfigured.
func newSender(cfg config.MailConfig, log *slog.Logger, m *metrics.Metrics) (mailer.Sender, error) {
	if !cfg.Configured() {
		log.Warn("mail provider credentials missing", slog.String("provider", cfg.Provider))
		return nil, nil
	}
	var (
		sender mailer.Sender
		err    error
	)
	switch cfg.Provider {
	case config.ProviderPostmark:
		sender, err = mailer.NewPostmarkSender(cfg.PostmarkServer, cfg.PostmarkAccount, cfg.Timeout, log)
	default:
		sender, err = mailer.NewSendGridSender(cfg.SendGridAPIKey, cfg.SendGridBaseURL, cfg.Timeout, log)
	}
	if err != nil {
		return nil, err
	}
	return mailer.Instrument(sender, cfg.Provider, m), nil
}

// UseQueue connects the service to the job queue. With AMQP_URL set jobs go
// through RabbitMQ and are consumed here only when consume is true (cmd/worker);
// otherwise an in-process queue runs them. Jobs run under ctx, so cancelling
// it stops sends in flight; WaitForJobs then blocks until they return.
func (a *App) UseQueue(ctx context.Context, consume bool) error {
	if a.Config.AMQPURL != "" {
		q, err := queue.DialAMQP(a.Config.AMQPURL, a.Log)
		if err != nil {
			return err
		}
		a.onClose(q.Close)
		a.Service.Queue = q
		if consume {
			return q.Subscribe(ctx, queue.TopicCampaignSends, a.Service.HandleSendJob)
		}
		return nil
	}

	q := queue.NewInMemoryQueue(a.Log)
	a.Service.Queue = q
	return q.Subscribe(ctx, queue.TopicCampaignSends, a.Service.HandleSendJob)
}

// WaitForJobs blocks until queued sends already running have returned.
func (a *App) WaitForJobs() {
	if a.Service.Queue != nil {
		a.Service.Queue.Wait()
	}
}

// Router mounts the HTTP API.
func (a *App) Router() http.Handler {
	ctrl := &controller.CampaignController{CampaignService: a.Service, Log: a.Log}
	h := &handler.CampaignHandler{Service: a.Service, Metrics: a.Metrics, Log: a.Log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(controller.Recoverer(a.Log))
	r.NotFound(controller.NotFound)
	r.MethodNotAllowed(controller.MethodNotAllowed)

	r.Get("/healthz", h.HealthHandler)
	r.Method(http.MethodGet, "/metrics", h.MetricsHandler())

	r.Route("/api", func(r chi.Router) {
		r.HandleFunc("/send-campaign", ctrl.SendCampaign)
		r.Post("/send-test-email", ctrl.SendTest)
		r.Post("/campaigns/preview", h.PreviewHandler)
		r.Post("/campaigns/{id}/enqueue", ctrl.Enqueue)
		r.Get("/variables", h.VariablesHandler)
	})
	return r
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases connections in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
