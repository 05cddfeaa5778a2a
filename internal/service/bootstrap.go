// Package service provides the business logic layer (use cases).
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/boddenberg/ledger-sync/internal/domain"
	"github.com/boddenberg/ledger-sync/internal/infra/observability"
	"github.com/boddenberg/ledger-sync/internal/localcache"
	"github.com/boddenberg/ledger-sync/internal/migration"
	"github.com/boddenberg/ledger-sync/internal/ownership"
	"github.com/boddenberg/ledger-sync/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("service")

// BootstrapResult is what a client needs after signing in.
type BootstrapResult struct {
	Identity string                  `json:"identity"`
	Decision string                  `json:"decision"`
	Source   string                  `json:"source"`
	Journal  domain.MigrationJournal `json:"journal"`
	Failed   []domain.Collection     `json:"failed,omitempty"`
	State    *domain.AppState        `json:"state"`
}

// Migration sources.
const (
	SourceGuest    = "guest"
	SourceIdentity = "identity"
)

// BootstrapService reconciles the device cache with the remote ledger around
// a sign-in.
type BootstrapService struct {
	session port.SessionProvider
	cache   *localcache.Cache
	engine  *migration.Engine
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewBootstrapService creates a new bootstrap service.
func NewBootstrapService(session port.SessionProvider, cache *localcache.Cache, engine *migration.Engine, metrics *observability.Metrics, logger *zap.Logger) *BootstrapService {
	return &BootstrapService{session: session, cache: cache, engine: engine, metrics: metrics, logger: logger}
}

// Bootstrap runs the ownership guard and the migration for the caller, then
// replaces the identity's cached collections with what the remote holds.
//
// The guest slot is the migration source when it has data; otherwise the
// identity's own slot is (it may hold an upgraded legacy blob). A collection
// that failed keeps its cached slice and is retried on the next bootstrap.
func (s *BootstrapService) Bootstrap(ctx context.Context) (*BootstrapResult, error) {
	ctx, span := tracer.Start(ctx, "BootstrapService.Bootstrap")
	defer span.End()

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("bootstrap", time.Since(start)) }()

	identity, err := s.session.Session(ctx)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("identity", identity))

	guest, err := s.cache.Load(ctx, "")
	if err != nil {
		return nil, err
	}
	current, err := s.cache.Load(ctx, identity)
	if err != nil {
		return nil, err
	}

	source, sourceName := current, SourceIdentity
	if hasData(guest) {
		source, sourceName = guest, SourceGuest
	}
	local, decision := ownership.Apply(source, identity)
	span.SetAttributes(attribute.String("ownership.decision", decision.String()))

	// A guest slot kept after a partial run must name its owner.
	if sourceName == SourceGuest && decision == ownership.Stamp {
		if _, err := s.cache.Update(ctx, "", func(st *domain.AppState) error {
			st.OwnerUserID = identity
			return nil
		}); err != nil {
			return nil, fmt.Errorf("stamp guest cache: %w", err)
		}
	}

	var prior domain.MigrationJournal
	if current != nil {
		prior = current.Migration
	}

	report, runErr := s.engine.Run(ctx, migration.Input{
		Identity: identity,
		Local:    local,
		Decision: decision,
		Prior:    prior,
	})
	if report == nil {
		return nil, runErr
	}

	state, err := s.cache.Update(ctx, identity, func(st *domain.AppState) error {
		if current == nil && decision != ownership.DifferentOwner {
			st.BaseCurrency = local.BaseCurrency
			st.MonthlyIncomeTarget = local.MonthlyIncomeTarget
			st.FxRatesToUSD = local.FxRatesToUSD
			st.FxUpdatedAt = local.FxUpdatedAt
		}
		st.OwnerUserID = identity
		if report.Accounts != nil {
			st.Accounts = report.Accounts
		}
		if report.Buckets != nil {
			st.Buckets = report.Buckets
		}
		if report.Transactions != nil {
			st.Transactions = report.Transactions
		}
		st.Migration = report.Journal
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &BootstrapResult{
		Identity: identity,
		Decision: decision.String(),
		Source:   sourceName,
		Journal:  report.Journal,
		State:    state,
	}
	for _, c := range []domain.Collection{domain.CollectionAccounts, domain.CollectionBuckets, domain.CollectionTransactions} {
		if report.Errors[c] != nil {
			result.Failed = append(result.Failed, c)
		}
	}

	if runErr != nil {
		s.logger.Warn("bootstrap: migration incomplete",
			zap.String("identity", identity),
			zap.Error(runErr),
		)
		return result, nil
	}

	if guest != nil {
		if err := s.cache.Clear(ctx, ""); err != nil {
			s.logger.Warn("bootstrap: failed to clear guest cache", zap.Error(err))
		}
	}

	s.logger.Info("bootstrap: completed",
		zap.String("identity", identity),
		zap.String("decision", decision.String()),
		zap.String("source", sourceName),
	)
	return result, nil
}

func hasData(st *domain.AppState) bool {
	return st != nil && (len(st.Accounts) > 0 || len(st.Buckets) > 0 || len(st.Transactions) > 0)
}
