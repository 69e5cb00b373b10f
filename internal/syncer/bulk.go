package syncer

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/wilfranr/control-id-miid/internal/errors"
	"github.com/wilfranr/control-id-miid/internal/logger"
	"github.com/wilfranr/control-id-miid/internal/reconcile"
)

// BulkSummary counts the outcomes of a bulk pass
type BulkSummary struct {
	Total     int                      `json:"total"`
	Processed int                      `json:"processed"`
	Actions   map[reconcile.Action]int `json:"actions"`
	Duration  time.Duration            `json:"duration"`
}

// Bulk reconciles documents one after another, in input order, pausing
// sync.bulk_delay between records. It stops between records when ctx is
// done and after an authentication failure. fn, when set, sees every outcome.
func (s *Service) Bulk(ctx context.Context, documents []string, fn func(*reconcile.Outcome)) (BulkSummary, error) {
	start := time.Now()
	summary := BulkSummary{Total: len(documents), Actions: make(map[reconcile.Action]int)}

	limit := rate.Inf
	if s.settings.BulkDelay > 0 {
		limit = rate.Every(s.settings.BulkDelay)
	}
	limiter := rate.NewLimiter(limit, 1)

	log := s.log.With(logger.Int("documents", len(documents)))
	log.Info("bulk pass started", logger.Duration("delay", s.settings.BulkDelay))

	for i, document := range documents {
		if err := limiter.Wait(ctx); err != nil {
			summary.Duration = time.Since(start)
			return summary, errors.New(err).
				Component("bulk").
				Category(errors.CategoryCancellation).
				Context("processed", summary.Processed).
				Build()
		}

		out, err := s.ReconcileDocument(ctx, document)
		if out != nil {
			summary.Processed++
			summary.Actions[out.Action]++
			if fn != nil {
				fn(out)
			}
		}
		if err != nil {
			summary.Duration = time.Since(start)
			log.Error("bulk pass aborted",
				logger.Int("index", i),
				logger.String("document", document),
				logger.Error(err))
			return summary, err
		}
	}

	summary.Duration = time.Since(start)
	log.Info("bulk pass finished",
		logger.Int("processed", summary.Processed),
		logger.Duration("duration", summary.Duration))
	return summary, nil
}
