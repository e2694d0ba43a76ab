// Package suppression removes unsubscribed, bounced or complained addresses
// from a send. Lookups fail open: when a checker errors for an address, that
// recipient is kept.
package suppression

import (
	"context"
	"log/slog"

	"github.com/unclebandit/campaign-mailer/internal/logger"
	"github.com/unclebandit/campaign-mailer/internal/model"
)

// Checker answers whether one address is on a suppression list.
type Checker interface {
	IsSuppressed(ctx context.Context, email string) (bool, error)
}

// Filter returns the recipients that may be mailed, in input order, and how
// many were suppressed.
func Filter(ctx context.Context, recipients []model.Recipient, checker Checker, log *slog.Logger) ([]model.Recipient, int) {
	if checker == nil {
		return recipients, 0
	}
	if log == nil {
		log = logger.Discard()
	}
	valid := make([]model.Recipient, 0, len(recipients))
	suppressed := 0
	for _, r := range recipients {
		ok, err := checker.IsSuppressed(ctx, r.Email)
		if err != nil {
			log.Warn("suppression check failed, sending anyway", logger.Email(r.Email), logger.Error(err))
			valid = append(valid, r)
			continue
		}
		if ok {
			suppressed++
			continue
		}
		valid = append(valid, r)
	}
	return valid, suppressed
}

// Noop suppresses nothing.
type Noop struct{}

func (Noop) IsSuppressed(context.Context, string) (bool, error) { return false, nil }
