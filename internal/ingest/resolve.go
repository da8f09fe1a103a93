package ingest

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/medreg-data/regsync/internal/db"
	"github.com/medreg-data/regsync/internal/regno"
	"github.com/medreg-data/regsync/internal/registry"
)

// ResolveResult is the outcome of a manual reconciliation.
type ResolveResult struct {
	PendingID      int64  `json:"pending_id"`
	RegistrationNo string `json:"registration_no"`
	RegistrationID int64  `json:"registration_id"`
	Idempotent     bool   `json:"idempotent"`
}

// Resolver executes the reconciliation-resolution contract: a pending entry
// plus a manually supplied registration string re-enters the normal upsert
// path with the entry's originally-captured source metadata.
type Resolver struct {
	pool db.Pool
}

// NewResolver creates a Resolver over a connection pool.
func NewResolver(pool db.Pool) *Resolver {
	return &Resolver{pool: pool}
}

// ResolvePending resolves one pending record. Calling it twice with the same
// input returns the same outcome with Idempotent set, without re-writing
// already-applied state.
func (r *Resolver) ResolvePending(ctx context.Context, pendingID int64, rawRegNo string) (*ResolveResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "resolve: begin transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	pendingStore := NewPendingStore(tx)
	regStore := registry.NewPostgresStore(tx)

	p, err := pendingStore.Get(ctx, pendingID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, eris.Errorf("resolve: pending record %d not found", pendingID)
	}

	if p.Status == PendingResolved {
		reg, err := regStore.GetByRegistrationNo(ctx, p.ResolvedRegNo)
		if err != nil {
			return nil, err
		}
		result := &ResolveResult{
			PendingID:      pendingID,
			RegistrationNo: p.ResolvedRegNo,
			Idempotent:     true,
		}
		if reg != nil {
			result.RegistrationID = reg.ID
		}
		return result, nil
	}

	norm := regno.Normalize(rawRegNo)
	if !norm.Level.Anchorable() {
		return nil, eris.Errorf("resolve: supplied registration number %q did not normalize: %s", rawRegNo, norm.Reason)
	}

	upserted, err := registry.NewUpserter(regStore).Upsert(ctx, registry.UpsertInput{
		RegistrationNo: norm.Normalized,
		Fields:         p.Payload.TrackedValues(),
		Meta:           p.CapturedMeta,
		RawPayload:     p.Payload,
		SourceRunID:    p.SourceRunID,
	})
	if err != nil {
		return nil, err
	}

	if err := pendingStore.MarkResolved(ctx, pendingID, norm.Normalized); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "resolve: commit transaction")
	}

	zap.L().Info("resolve: pending record resolved",
		zap.Int64("pending_id", pendingID),
		zap.String("registration_no", norm.Normalized),
		zap.Bool("created", upserted.Created),
	)

	return &ResolveResult{
		PendingID:      pendingID,
		RegistrationNo: norm.Normalized,
		RegistrationID: upserted.RegistrationID,
	}, nil
}
