// Package migration copies a device's cached ledger into an identity's
// remote records, once, one collection at a time.
//
// Each collection walks NotStarted -> InProgress -> Completed | Skipped | Failed.
// Accounts and buckets run concurrently; transactions run after both because
// their account and bucket references are remapped onto the new remote ids.
package migration

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/boddenberg/ledger-sync/internal/domain"
	"github.com/boddenberg/ledger-sync/internal/fx"
	"github.com/boddenberg/ledger-sync/internal/infra/observability"
	"github.com/boddenberg/ledger-sync/internal/ownership"
	"github.com/boddenberg/ledger-sync/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("migration")

// Skip reasons recorded in the journal.
const (
	ReasonRemoteNotEmpty   = "remote_not_empty"
	ReasonForeignCache     = "foreign_cache"
	ReasonLocalEmpty       = "local_empty"
	ReasonAlreadyMigrated  = "already_migrated"
	ReasonDependencyFailed = "dependency_failed"
)

// Input is everything one run needs.
type Input struct {
	Identity string
	// Local is the cached state to migrate from, already passed through the
	// ownership guard.
	Local    *domain.AppState
	Decision ownership.Decision
	// Prior is the journal of earlier runs for this identity.
	Prior domain.MigrationJournal
}

// Report is the outcome of a run. A nil slice means the collection failed
// (or was not refreshed) and the cached slice must be kept as is.
type Report struct {
	Journal      domain.MigrationJournal
	Accounts     []domain.Account
	Buckets      []domain.Bucket
	Transactions []domain.Transaction
	Errors       map[domain.Collection]error
}

// Engine runs migrations against the remote ledger.
type Engine struct {
	ledger  port.LedgerStore
	metrics *observability.Metrics
	logger  *zap.Logger
	newID   func() string
	now     func() time.Time
}

// NewEngine creates a migration engine.
func NewEngine(ledger port.LedgerStore, metrics *observability.Metrics, logger *zap.Logger) *Engine {
	return &Engine{
		ledger:  ledger,
		metrics: metrics,
		logger:  logger,
		newID:   uuid.NewString,
		now:     time.Now,
	}
}

// run tracks one collection's state machine.
type run struct {
	e        *Engine
	identity string
	rec      domain.MigrationRecord
}

func (e *Engine) start(identity string, c domain.Collection) *run {
	r := &run{e: e, identity: identity, rec: domain.MigrationRecord{Collection: c, Status: domain.MigrationNotStarted}}
	r.to(domain.MigrationInProgress, "")
	return r
}

func (r *run) to(status domain.MigrationStatus, reason string) {
	from := r.rec.Status
	r.rec.Status = status
	r.rec.Reason = reason
	r.rec.UpdatedAt = r.e.now()

	fields := []zap.Field{
		zap.String("identity", r.identity),
		zap.String("collection", string(r.rec.Collection)),
		zap.String("from", string(from)),
		zap.String("to", string(status)),
	}
	if reason != "" {
		fields = append(fields, zap.String("reason", reason))
	}
	if status == domain.MigrationCompleted {
		fields = append(fields, zap.Int("migrated", r.rec.Migrated), zap.Int("dropped", r.rec.Dropped))
	}
	r.e.logger.Info("migration: transition", fields...)
	r.e.metrics.RecordMigration(string(r.rec.Collection), string(status), migratedIf(status, r.rec.Migrated))
}

func migratedIf(status domain.MigrationStatus, n int) int {
	if status == domain.MigrationCompleted {
		return n
	}
	return 0
}

func (r *run) fail(err error) error {
	r.rec.Error = err.Error()
	r.to(domain.MigrationFailed, "")
	r.e.logger.Warn("migration: collection failed",
		zap.String("identity", r.identity),
		zap.String("collection", string(r.rec.Collection)),
		zap.Error(err),
	)
	return err
}

// Run migrates in.Local into the remote ledger of in.Identity. The returned
// error joins every collection failure; the report is always usable.
func (e *Engine) Run(ctx context.Context, in Input) (*Report, error) {
	if in.Identity == "" {
		return nil, &domain.ErrNotAuthenticated{Reason: "migration requires an identity"}
	}
	ctx, span := tracer.Start(ctx, "Migration.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("identity", in.Identity),
		attribute.String("ownership.decision", in.Decision.String()),
	)

	start := time.Now()
	defer func() { e.metrics.RecordRequestDuration("migration", time.Since(start)) }()

	local := in.Local
	if local == nil {
		local = domain.NewAppState()
	}

	var (
		accRes, bktRes result
		accMap, bktMap map[string]string
		remoteAccounts []domain.Account
		remoteBuckets  []domain.Bucket
	)

	// Plain Group: one collection failing must not cancel the other.
	var g errgroup.Group
	g.Go(func() error {
		accRes, accMap, remoteAccounts = e.migrateAccounts(ctx, in, local.Accounts)
		return nil
	})
	g.Go(func() error {
		bktRes, bktMap, remoteBuckets = e.migrateBuckets(ctx, in, local.Buckets)
		return nil
	})
	_ = g.Wait()

	txRes, remoteTxs := e.migrateTransactions(ctx, in, local.Transactions, accRes, bktRes, accMap, bktMap, remoteAccounts, remoteBuckets)

	report := &Report{
		Journal: domain.MigrationJournal{
			domain.CollectionAccounts:     accRes.rec,
			domain.CollectionBuckets:      bktRes.rec,
			domain.CollectionTransactions: txRes.rec,
		},
		Errors: map[domain.Collection]error{},
	}
	if accRes.err == nil {
		report.Accounts = remoteAccounts
	}
	if bktRes.err == nil {
		report.Buckets = remoteBuckets
	}
	if txRes.err == nil {
		report.Transactions = remoteTxs
	}

	var errs []error
	for _, res := range []result{accRes, bktRes, txRes} {
		if res.err != nil {
			report.Errors[res.rec.Collection] = res.err
			errs = append(errs, fmt.Errorf("migrate %s: %w", res.rec.Collection, res.err))
		}
	}
	return report, errors.Join(errs...)
}

type result struct {
	rec domain.MigrationRecord
	err error
}

func (r *run) done(err error) result {
	return result{rec: r.rec, err: err}
}

// gate applies the checks every collection shares before reading local data.
// It returns true when the collection must be skipped.
func (r *run) gate(in Input, remoteCount int) bool {
	switch {
	case remoteCount > 0:
		r.to(domain.MigrationSkipped, ReasonRemoteNotEmpty)
	case in.Prior[r.rec.Collection].Status == domain.MigrationCompleted:
		r.to(domain.MigrationSkipped, ReasonAlreadyMigrated)
	case in.Decision == ownership.DifferentOwner:
		r.to(domain.MigrationSkipped, ReasonForeignCache)
	default:
		return false
	}
	return true
}

func insertError(table, op string, err error) error {
	var (
		rejected *domain.ErrRemoteRejected
		external *domain.ErrExternalService
		open     *domain.ErrCircuitOpen
		unauth   *domain.ErrNotAuthenticated
	)
	if errors.As(err, &rejected) || errors.As(err, &external) || errors.As(err, &open) || errors.As(err, &unauth) {
		return err
	}
	return &domain.ErrRemoteRejected{Table: table, Op: op, Err: err}
}

func (e *Engine) migrateAccounts(ctx context.Context, in Input, local []domain.Account) (result, map[string]string, []domain.Account) {
	r := e.start(in.Identity, domain.CollectionAccounts)

	remote, err := e.ledger.ListAccounts(ctx, in.Identity)
	if err != nil {
		return r.done(r.fail(err)), nil, nil
	}
	if r.gate(in, len(remote)) {
		r.rec.IDMap = in.Prior[domain.CollectionAccounts].IDMap
		return r.done(nil), r.rec.IDMap, remote
	}

	idMap := make(map[string]string)
	rows := make([]domain.Account, 0, len(local))
	for _, a := range local {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			r.rec.Dropped++
			continue
		}
		id := e.newID()
		if a.ID != "" {
			idMap[a.ID] = id
		}
		rows = append(rows, domain.Account{ID: id, Name: name, Currency: fx.NormalizeCurrency(a.Currency)})
	}
	if len(rows) == 0 {
		r.to(domain.MigrationSkipped, ReasonLocalEmpty)
		return r.done(nil), nil, remote
	}

	if err := e.ledger.InsertAccounts(ctx, in.Identity, rows); err != nil {
		return r.done(r.fail(insertError("accounts", "insert", err))), nil, nil
	}
	r.rec.Migrated = len(rows)
	r.rec.IDMap = idMap

	refreshed, err := e.ledger.ListAccounts(ctx, in.Identity)
	if err != nil {
		return r.done(r.fail(err)), idMap, nil
	}
	r.to(domain.MigrationCompleted, "")
	return r.done(nil), idMap, refreshed
}

func (e *Engine) migrateBuckets(ctx context.Context, in Input, local []domain.Bucket) (result, map[string]string, []domain.Bucket) {
	r := e.start(in.Identity, domain.CollectionBuckets)

	remote, err := e.ledger.ListBuckets(ctx, in.Identity)
	if err != nil {
		return r.done(r.fail(err)), nil, nil
	}
	if r.gate(in, len(remote)) {
		r.rec.IDMap = in.Prior[domain.CollectionBuckets].IDMap
		return r.done(nil), r.rec.IDMap, remote
	}

	idMap := make(map[string]string)
	rows := make([]domain.Bucket, 0, len(local))
	for _, b := range local {
		name := strings.TrimSpace(b.Name)
		if name == "" {
			r.rec.Dropped++
			continue
		}
		kind, ok := domain.ParseKind(string(b.Kind))
		if !ok {
			kind = domain.KindExpense
		}
		id := e.newID()
		if b.ID != "" {
			idMap[b.ID] = id
		}
		rows = append(rows, domain.Bucket{ID: id, Name: name, Kind: kind, Percent: b.Percent})
	}
	if len(rows) == 0 {
		r.to(domain.MigrationSkipped, ReasonLocalEmpty)
		return r.done(nil), nil, remote
	}

	if err := e.ledger.InsertBuckets(ctx, in.Identity, rows); err != nil {
		return r.done(r.fail(insertError("buckets", "insert", err))), nil, nil
	}
	r.rec.Migrated = len(rows)
	r.rec.IDMap = idMap

	refreshed, err := e.ledger.ListBuckets(ctx, in.Identity)
	if err != nil {
		return r.done(r.fail(err)), idMap, nil
	}
	r.to(domain.MigrationCompleted, "")
	return r.done(nil), idMap, refreshed
}

func (e *Engine) migrateTransactions(
	ctx context.Context,
	in Input,
	local []domain.Transaction,
	accRes, bktRes result,
	accMap, bktMap map[string]string,
	remoteAccounts []domain.Account,
	remoteBuckets []domain.Bucket,
) (result, []domain.Transaction) {
	r := e.start(in.Identity, domain.CollectionTransactions)

	if accRes.err != nil || bktRes.err != nil {
		r.to(domain.MigrationSkipped, ReasonDependencyFailed)
		return r.done(nil), nil
	}

	remote, err := e.ledger.ListTransactions(ctx, in.Identity)
	if err != nil {
		return r.done(r.fail(err)), nil
	}
	if r.gate(in, len(remote)) {
		return r.done(nil), remote
	}

	accounts := make(map[string]bool, len(remoteAccounts))
	for _, a := range remoteAccounts {
		accounts[a.ID] = true
	}
	buckets := make(map[string]bool, len(remoteBuckets))
	for _, b := range remoteBuckets {
		buckets[b.ID] = true
	}

	seen := make(map[string]bool, len(local))
	rows := make([]domain.Transaction, 0, len(local))
	for _, t := range local {
		if strings.TrimSpace(t.AccountID) == "" || strings.TrimSpace(t.DateISO) == "" || strings.TrimSpace(t.Currency) == "" {
			r.rec.Dropped++
			continue
		}

		accountID, ok := resolve(t.AccountID, accMap, accounts)
		if !ok {
			r.rec.Dropped++
			continue
		}
		bucketID, _ := resolve(t.BucketID, bktMap, buckets)

		id := t.ID
		if id == "" || seen[id] {
			id = e.newID()
		}
		seen[id] = true

		kind, ok := domain.ParseKind(string(t.Kind))
		if !ok {
			kind = domain.KindExpense
		}
		amount := t.Amount
		if math.IsNaN(amount) || math.IsInf(amount, 0) {
			amount = 0
		}
		var base *float64
		if t.BaseAmount != nil && !math.IsNaN(*t.BaseAmount) && !math.IsInf(*t.BaseAmount, 0) {
			v := *t.BaseAmount
			base = &v
		}
		snapshot := ""
		if base != nil {
			snapshot = t.BaseCurrencySnapshot
		}

		rows = append(rows, domain.Transaction{
			ID:                   id,
			Kind:                 kind,
			Amount:               amount,
			Currency:             fx.NormalizeCurrency(t.Currency),
			AccountID:            accountID,
			DateISO:              t.DateISO,
			Note:                 t.Note,
			BucketID:             bucketID,
			BaseAmount:           base,
			BaseCurrencySnapshot: snapshot,
		})
	}
	if len(rows) == 0 {
		r.to(domain.MigrationSkipped, ReasonLocalEmpty)
		return r.done(nil), remote
	}

	if err := e.ledger.InsertTransactions(ctx, in.Identity, rows); err != nil {
		return r.done(r.fail(insertError("transactions", "insert", err))), nil
	}
	r.rec.Migrated = len(rows)

	refreshed, err := e.ledger.ListTransactions(ctx, in.Identity)
	if err != nil {
		return r.done(r.fail(err)), nil
	}
	r.to(domain.MigrationCompleted, "")
	return r.done(nil), refreshed
}

// resolve maps a local reference onto a remote id: through the id map of
// this run first, then by confirming the id already exists remotely.
func resolve(localID string, idMap map[string]string, remote map[string]bool) (string, bool) {
	if localID == "" {
		return "", false
	}
	if id, ok := idMap[localID]; ok {
		return id, true
	}
	if remote[localID] {
		return localID, true
	}
	return "", false
}
