// Package jobstore persists job records across a set of storage tiers.
//
// Writes go to every configured tier independently; a failing tier is
// logged and skipped so persistence degrades instead of failing the caller.
// Reads walk the tiers in priority order (authoritative database first,
// then durable file, then the in-process cache, then Redis fallback keys)
// and backfill the faster tiers on a hit.
package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/clincite/clincite/internal/job"
)

// ErrNotFound is returned by Get when no tier has the record.
var ErrNotFound = errors.New("job not found")

// Store is the job persistence contract used by the pipeline and endpoints.
type Store interface {
	// Put writes a full record to every tier.
	Put(ctx context.Context, rec *job.Record) error

	// Set merges the update into the existing record (creating a bare one
	// if absent) and writes the result to every tier.
	Set(ctx context.Context, id string, upd job.Update) error

	// Get returns the record from the highest-priority tier that has it.
	Get(ctx context.Context, id string) (*job.Record, error)
}

// Tier is a single storage backend. Implementations must be safe for
// concurrent use.
type Tier interface {
	Name() string
	Write(ctx context.Context, rec *job.Record) error
	Read(ctx context.Context, id string) (*job.Record, error)
}

// Tiered fans writes out to all tiers and reads in priority order.
type Tiered struct {
	// readOrder is the Get priority; writes hit the same tiers.
	readOrder []Tier
	memory    *MemoryTier
	logger    *slog.Logger
}

// Config selects which tiers back the store. Memory and file are always on;
// Redis and Postgres join when configured.
type Config struct {
	File     *FileTier
	Redis    *RedisTier
	Postgres *PostgresTier
	Logger   *slog.Logger
}

// New builds a tiered store. Read priority: Postgres, file, memory, Redis.
func New(cfg Config) *Tiered {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	mem := NewMemoryTier()

	order := make([]Tier, 0, 4)
	if cfg.Postgres != nil {
		order = append(order, cfg.Postgres)
	}
	if cfg.File != nil {
		order = append(order, cfg.File)
	}
	order = append(order, mem)
	if cfg.Redis != nil {
		order = append(order, cfg.Redis)
	}

	return &Tiered{
		readOrder: order,
		memory:    mem,
		logger:    cfg.Logger,
	}
}

func (t *Tiered) Put(ctx context.Context, rec *job.Record) error {
	t.writeAll(ctx, rec)
	return nil
}

func (t *Tiered) Set(ctx context.Context, id string, upd job.Update) error {
	rec, err := t.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		rec = &job.Record{ID: id, Status: job.StatusWaiting}
	} else if err != nil {
		return err
	}
	rec.Apply(upd)
	t.writeAll(ctx, rec)
	return nil
}

func (t *Tiered) Get(ctx context.Context, id string) (*job.Record, error) {
	for i, tier := range t.readOrder {
		rec, err := tier.Read(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			t.logger.Warn("job store tier read failed",
				"tier", tier.Name(), "job_id", id, "error", err)
			continue
		}
		t.backfill(ctx, i, rec)
		return rec, nil
	}
	return nil, ErrNotFound
}

// writeAll writes the record to every tier. A tier failure never blocks the
// others and never propagates; it surfaces as a structured log event.
func (t *Tiered) writeAll(ctx context.Context, rec *job.Record) {
	for _, tier := range t.readOrder {
		if err := tier.Write(ctx, rec); err != nil {
			t.logger.Warn("job store tier write failed",
				"tier", tier.Name(), "job_id", rec.ID, "error", err)
		}
	}
}

// backfill refreshes the in-process cache when the hit came from a slower or
// remote tier, so repeated polls stay cheap.
func (t *Tiered) backfill(ctx context.Context, hitIdx int, rec *job.Record) {
	if t.readOrder[hitIdx] == Tier(t.memory) {
		return
	}
	if err := t.memory.Write(ctx, rec); err != nil {
		t.logger.Warn("job store cache backfill failed", "job_id", rec.ID, "error", err)
	}
}

// encode and decode centralize record serialization for the durable tiers.

func encode(rec *job.Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job record: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*job.Record, error) {
	var rec job.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode job record: %w", err)
	}
	return &rec, nil
}

// clone deep-copies a record so tiers never share mutable state with callers.
func clone(rec *job.Record) *job.Record {
	data, err := json.Marshal(rec)
	if err != nil {
		// Record is plain data; marshal cannot fail in practice.
		panic(fmt.Sprintf("jobstore: clone: %v", err))
	}
	out := &job.Record{}
	if err := json.Unmarshal(data, out); err != nil {
		panic(fmt.Sprintf("jobstore: clone: %v", err))
	}
	return out
}
