// internal/service/dispatcher.go
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/campaign-mailer/internal/logger"
	"github.com/unclebandit/campaign-mailer/internal/mailer"
	"github.com/unclebandit/campaign-mailer/internal/metrics"
	"github.com/unclebandit/campaign-mailer/internal/model"
)

// DispatchOptions bound how fast a campaign goes out.
type DispatchOptions struct {
	BatchSize   int
	BatchDelay  time.Duration
	Concurrency int
}

// DefaultDispatchOptions sends 100 recipients at a time, one by one, with a
// one second pause between batches.
var DefaultDispatchOptions = DispatchOptions{BatchSize: 100, BatchDelay: time.Second, Concurrency: 1}

// Dispatcher renders and sends a prepared campaign to recipients in batches.
// A failing recipient never stops the others.
type Dispatcher struct {
	sender   mailer.Sender
	renderer *RenderService
	opts     DispatchOptions
	log      *slog.Logger
	metrics  *metrics.Metrics
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(sender mailer.Sender, renderer *RenderService, opts DispatchOptions, log *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if opts.BatchSize < 1 {
		opts.BatchSize = DefaultDispatchOptions.BatchSize
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Dispatcher{sender: sender, renderer: renderer, opts: opts, log: log, metrics: m, sleep: sleepContext}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Dispatch returns the sent and failed counts. When ctx ends, no further
// batch starts and every recipient not yet attempted counts as failed.
func (d *Dispatcher) Dispatch(ctx context.Context, p *PreparedCampaign, recipients []model.Recipient) (sent, failed int) {
	total := len(recipients)
	for start := 0; start < total; start += d.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			d.log.Warn("dispatch cancelled", logger.CampaignID(p.Campaign.ID), logger.Count("remaining", total-start), logger.Error(err))
			failed += total - start
			d.metrics.RecipientFailed(total - start)
			break
		}
		end := min(start+d.opts.BatchSize, total)

		began := time.Now()
		s, f := d.runBatch(ctx, p, recipients[start:end])
		d.metrics.ObserveBatch(time.Since(began))
		sent += s
		failed += f
		d.log.Info("batch sent",
			logger.CampaignID(p.Campaign.ID),
			logger.Count("batch", start/d.opts.BatchSize+1),
			logger.Count("sent", s),
			logger.Count("failed", f),
		)

		if end < total && d.opts.BatchDelay > 0 {
			if err := d.sleep(ctx, d.opts.BatchDelay); err != nil {
				d.log.Warn("dispatch cancelled", logger.CampaignID(p.Campaign.ID), logger.Count("remaining", total-end), logger.Error(err))
				failed += total - end
				d.metrics.RecipientFailed(total - end)
				break
			}
		}
	}
	return sent, failed
}

// runBatch never panics: a panic outside a single recipient's send marks
// every recipient of the batch not yet accounted for as failed.
func (d *Dispatcher) runBatch(ctx context.Context, p *PreparedCampaign, batch []model.Recipient) (sent, failed int) {
	var okCount, failCount atomic.Int64
	defer func() {
		if rec := recover(); rec != nil {
			d.log.Error("batch panicked", logger.CampaignID(p.Campaign.ID), slog.Any("panic", rec))
			rest := len(batch) - int(okCount.Load()+failCount.Load())
			d.metrics.RecipientFailed(rest)
			failCount.Add(int64(rest))
		}
		sent, failed = int(okCount.Load()), int(failCount.Load())
	}()

	var g errgroup.Group
	g.SetLimit(d.opts.Concurrency)
	for _, r := range batch {
		r := r
		g.Go(func() error {
			if err := d.sendOne(ctx, p, r); err != nil {
				failCount.Add(1)
				d.metrics.RecipientFailed(1)
				d.log.Warn("send failed", logger.CampaignID(p.Campaign.ID), logger.Email(r.Email), logger.Error(err))
				return nil
			}
			okCount.Add(1)
			d.metrics.RecipientSent()
			return nil
		})
	}
	_ = g.Wait()
	return
}

// sendOne turns a panic in rendering or sending into that recipient's error.
func (d *Dispatcher) sendOne(ctx context.Context, p *PreparedCampaign, r model.Recipient) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	email, err := d.renderer.Render(p, r)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	return d.sender.Send(ctx, email)
}
