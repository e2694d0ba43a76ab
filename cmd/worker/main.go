package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/unclebandit/campaign-mailer/internal/app"
	"github.com/unclebandit/campaign-mailer/internal/config"
	"github.com/unclebandit/campaign-mailer/internal/logger"
	"github.com/unclebandit/campaign-mailer/internal/queue"
	"github.com/unclebandit/campaign-mailer/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", logger.Error(err))
		os.Exit(1)
	}
	log := logger.New(os.Stdout, cfg.LogLevel, cfg.LogFormat).With(logger.Component("worker"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("worker stopped", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if cfg.AMQPURL == "" {
		return errors.New("AMQP_URL is required to run the worker")
	}
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	q, err := queue.DialAMQP(cfg.AMQPURL, log)
	if err != nil {
		return err
	}
	defer q.Close()
	a.Service.Queue = q

	if err := consume(ctx, q, a.Service); err != nil {
		return err
	}

	log.Info("worker running, waiting for campaign send jobs", slog.String("queue", queue.TopicCampaignSends))
	<-ctx.Done()
	log.Info("shutting down, finishing the job in flight")
	q.Wait()
	return nil
}

// consume runs every campaign send job through the service until ctx is done.
func consume(ctx context.Context, q queue.Queue, svc *service.CampaignService) error {
	return q.Subscribe(ctx, queue.TopicCampaignSends, svc.HandleSendJob)
}
