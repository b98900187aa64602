package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/edulink-io/crm-bridge/internal/dispatch"
	"github.com/edulink-io/crm-bridge/pkg/config"
	"github.com/edulink-io/crm-bridge/pkg/db/models"
	"github.com/edulink-io/crm-bridge/pkg/logger"
)

const (
	defaultBatchSize    = 100
	defaultPollInterval = 30 * time.Second
	defaultMaxRetries   = 10
	maxPollBackoff      = 5 * time.Minute
	jitterWindow        = 2 * time.Second
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type dbClient interface {
	Ping(ctx context.Context) error
}

type candidateSource interface {
	ListRetryCandidates(ctx context.Context, maxRetries int, now time.Time, limit int) ([]models.CRMEvent, error)
}

type redeliverer interface {
	Redeliver(ctx context.Context, event models.CRMEvent) (*dispatch.Outcome, error)
}

type ServiceParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         dbClient
	Events     candidateSource
	Dispatcher redeliverer
	Now        func() time.Time
}

// Service drives the durable retry cycle: it polls the event store for due
// candidates and redelivers each one. All status bookkeeping happens inside
// the dispatcher, so a redelivery failure here only means waiting for the
// next poll.
type Service struct {
	cfg          *config.Config
	logg         *logger.Logger
	db           dbClient
	events       candidateSource
	dispatcher   redeliverer
	now          func() time.Time
	maxRetries   int
	batchSize    int
	pollInterval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Events == nil {
		return nil, errors.New("event source is required")
	}
	if params.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}

	maxRetries := params.Config.Retry.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	batchSize := params.Config.Retry.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	pollInterval := params.Config.Retry.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		cfg:          params.Config,
		logg:         params.Logger,
		db:           params.DB,
		events:       params.Events,
		dispatcher:   params.Dispatcher,
		now:          now,
		maxRetries:   maxRetries,
		batchSize:    batchSize,
		pollInterval: pollInterval,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		s.logg.Error(ctx, "database ping failed", err)
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// Run polls until the context is canceled. Scan errors back the poll off
// exponentially; a non-empty batch polls again immediately.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	backoff := s.pollInterval
	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "retry worker context canceled")
			return ctx.Err()
		default:
		}

		processed, err := s.processBatch(ctx)
		if err != nil {
			s.logg.Error(ctx, "retry batch error", err)
			backoff = nextBackoff(backoff, s.pollInterval, maxPollBackoff)
			if err := s.sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}

		backoff = s.pollInterval

		if processed {
			continue
		}
		if err := s.sleep(ctx, withJitter(s.pollInterval)); err != nil {
			return err
		}
	}
}

// processBatch scans one page of due candidates and redelivers each. It
// reports whether any work was found.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	candidates, err := s.events.ListRetryCandidates(ctx, s.maxRetries, s.now(), s.batchSize)
	if err != nil {
		return false, fmt.Errorf("list retry candidates: %w", err)
	}
	if len(candidates) == 0 {
		return false, nil
	}

	s.logg.Info(s.logg.WithField(ctx, "batch_size", len(candidates)), "redelivering due events")
	delivered := 0
	for _, event := range candidates {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		outcome, err := s.dispatcher.Redeliver(ctx, event)
		if err != nil {
			// Status bookkeeping failed; surface it and let the backoff
			// slow the loop down.
			return true, fmt.Errorf("redeliver %s: %w", event.ID, err)
		}
		if outcome.Success {
			delivered++
		}
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"batch_size": len(candidates),
		"delivered":  delivered,
	}), "retry batch finished")
	return true, nil
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	jitter := time.Duration(jitterSource.Int63n(int64(jitterWindow)))
	return d + jitter
}
