// Package sweeper periodically expires consent requests and access grants
// whose expiry has passed.
package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/carebridge/consent-api/internal/system/error/serviceerror"
	"github.com/carebridge/consent-api/internal/system/log"
)

// RequestExpirer is the consent request side of a sweep.
type RequestExpirer interface {
	ListExpiredApprovedIDs(ctx context.Context, now time.Time, limit int) ([]string, *serviceerror.ServiceError)
	Expire(ctx context.Context, requestID string, now time.Time) (bool, *serviceerror.ServiceError)
}

// GrantExpirer expires grants that are past their expiry on their own.
type GrantExpirer interface {
	ExpireOverdue(ctx context.Context, now time.Time) (int64, *serviceerror.ServiceError)
}

// Config holds the parameters for New.
type Config struct {
	// Interval between passes. Defaults to one minute.
	Interval time.Duration
	// BatchSize caps how many requests are read per query. Defaults to 100.
	BatchSize int
}

// Result summarises one pass.
type Result struct {
	RequestsExpired int
	RequestsSkipped int
	RequestsFailed  int
	GrantsExpired   int64
}

// Sweeper runs expiry passes on a fixed interval. Every write it makes is
// conditional on the row still being approved or active, so several
// replicas can sweep the same database.
type Sweeper struct {
	requests RequestExpirer
	grants   GrantExpirer
	interval time.Duration
	batch    int
	now      func() time.Time
	logger   *log.Logger
}

// New creates a sweeper but does not start it. A nil clock defaults to time.Now.
func New(requests RequestExpirer, grants GrantExpirer, cfg Config, now func() time.Time) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if now == nil {
		now = time.Now
	}
	return &Sweeper{
		requests: requests,
		grants:   grants,
		interval: cfg.Interval,
		batch:    cfg.BatchSize,
		now:      now,
		logger:   log.GetLogger().With(log.String(log.LoggerKeyComponentName, "Sweeper")),
	}
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
// A failed pass is logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("Expiration sweeper started",
		log.String("interval", s.interval.String()),
		log.Int("batch_size", s.batch))

	s.runPass(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Expiration sweeper stopped")
			return nil
		case <-ticker.C:
			s.runPass(ctx)
		}
	}
}

func (s *Sweeper) runPass(ctx context.Context) {
	result, err := s.SweepOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("Sweep pass failed", log.Error(err))
		}
		return
	}
	if result.RequestsExpired > 0 || result.GrantsExpired > 0 || result.RequestsFailed > 0 {
		s.logger.Info("Sweep pass completed",
			log.Int("requests_expired", result.RequestsExpired),
			log.Int("requests_skipped", result.RequestsSkipped),
			log.Int("requests_failed", result.RequestsFailed),
			log.Int64("grants_expired", result.GrantsExpired))
	}
}

// SweepOnce runs a single pass at the current time. Requests are expired
// first, each in its own transaction with its linked grants; any active
// grant still past its expiry afterwards is expired directly.
func (s *Sweeper) SweepOnce(ctx context.Context) (Result, error) {
	var result Result
	now := s.now()

	seen := make(map[string]struct{})
	for {
		// Rows that failed stay eligible, so widen the window past them.
		limit := s.batch + result.RequestsFailed
		ids, serviceErr := s.requests.ListExpiredApprovedIDs(ctx, now, limit)
		if serviceErr != nil {
			return result, errors.New(serviceErr.ErrorDescription)
		}

		progressed := false
		for _, id := range ids {
			if _, done := seen[id]; done {
				continue
			}
			seen[id] = struct{}{}
			progressed = true

			acted, serviceErr := s.requests.Expire(ctx, id, now)
			switch {
			case serviceErr != nil:
				result.RequestsFailed++
				s.logger.Warn("Failed to expire consent request",
					log.String("request_id", id),
					log.String("error", serviceErr.ErrorDescription))
			case acted:
				result.RequestsExpired++
			default:
				// Another sweeper got there first.
				result.RequestsSkipped++
			}
		}

		if len(ids) < limit || !progressed {
			break
		}
	}

	grants, serviceErr := s.grants.ExpireOverdue(ctx, now)
	if serviceErr != nil {
		return result, errors.New(serviceErr.ErrorDescription)
	}
	result.GrantsExpired = grants

	return result, nil
}
