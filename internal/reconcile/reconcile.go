// Package reconcile implements the Reconciler / Cleanup (C11): periodic
// sweeps that repair drift between the relational store, the vector
// multi-store, and session cache state.
//
// Grounded on original_source/crates/mira-server/src/background/team_monitor.rs
// (stale-session sweep, checked-before-acted counting style) and the
// teacher's internal/workspaces/kafka_events.go publisher shape for
// announcing sweep results.
package reconcile

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/conarylabs/mira/internal/chunker"
	"github.com/conarylabs/mira/internal/embedpipeline"
	"github.com/conarylabs/mira/internal/miraerr"
	"github.com/conarylabs/mira/internal/obs"
	"github.com/conarylabs/mira/internal/sessioncache"
	"github.com/conarylabs/mira/internal/store"
	"github.com/conarylabs/mira/internal/vectorstore"
)

// SweepReport is the uniform result shape every sweep returns (spec.md
// §4.10: "Each sweep reports (checked, found, acted, errors)").
type SweepReport struct {
	Name    string
	Checked int
	Found   int
	Acted   int
	Errors  int
	DryRun  bool
}

// TeamSessionTracker is the ambient heartbeat registry the stale-session
// sweep consumes. It is intentionally small: the transport layer (out of
// scope beyond contract types) owns heartbeat delivery, this package only
// owns the staleness decision.
type TeamSessionTracker interface {
	// StaleSince returns sessions whose last heartbeat predates cutoff.
	StaleSince(ctx context.Context, cutoff time.Time) ([]string, error)
	// MarkStopped flips a session to the stopped state.
	MarkStopped(ctx context.Context, sessionID string) error
}

// EventPublisher is the narrow interface the Reconciler needs to announce
// sweep completions; *kafka.Writer satisfies it directly, matching the
// teacher's KafkaCommitPublisher.Publish pattern.
type EventPublisher interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// SweepEvent is the JSON payload of a published "reconcile.swept" message.
type SweepEvent struct {
	Sweep   string    `json:"sweep"`
	Checked int       `json:"checked"`
	Found   int       `json:"found"`
	Acted   int       `json:"acted"`
	Errors  int       `json:"errors"`
	At      time.Time `json:"at"`
}

// Reconciler owns the five periodic sweeps of spec.md §4.10.
type Reconciler struct {
	Rel      store.RelationalStore
	Vec      vectorstore.Store
	Pipeline *embedpipeline.Pipeline
	Cache    *sessioncache.Manager
	Teams    TeamSessionTracker

	Heads []chunker.Head

	Topic     string
	Publisher EventPublisher
}

const staleTeamSessionThreshold = 30 * time.Minute

// hasBackingRow enforces I-4: a vector point is backed either by a Fact row
// (point_id = Fact.id) or a Message row (point_id = Message.id for a
// head's first chunk, or embedpipeline.PointID's synthetic encoding for
// later chunks — embedpipeline.BaseMessageID recovers the owning message id
// in that case).
func (r *Reconciler) hasBackingRow(ctx context.Context, pointID uint64) (bool, error) {
	if _, err := r.Rel.GetFact(ctx, pointID); err == nil {
		return true, nil
	} else if !miraerr.Is(err, miraerr.NotFound) {
		return false, err
	}
	ok, err := r.Rel.MessageExists(ctx, pointID)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	if base := embedpipeline.BaseMessageID(pointID); base != pointID {
		return r.Rel.MessageExists(ctx, base)
	}
	return false, nil
}

// EmbeddingBackfill re-runs the embedding pipeline for analysis rows whose
// routed_to_heads is non-empty but that never got a vector point.
func (r *Reconciler) EmbeddingBackfill(ctx context.Context, limit int) SweepReport {
	rep := SweepReport{Name: "embedding_backfill"}
	rows, err := r.Rel.AnalysesMissingEmbeddings(ctx, limit)
	if err != nil {
		rep.Errors++
		r.publish(ctx, rep)
		return rep
	}
	rep.Checked = len(rows)
	rep.Found = len(rows)
	for _, a := range rows {
		heads := make([]chunker.Head, 0, len(a.RoutedToHeads))
		for _, h := range a.RoutedToHeads {
			heads = append(heads, chunker.Head(h))
		}
		results, err := r.Pipeline.GenerateForHeads(ctx, a.Summary, heads)
		if err != nil {
			rep.Errors++
			continue
		}
		msg, err := r.Rel.GetMessage(ctx, a.MessageID)
		if err != nil {
			rep.Errors++
			continue
		}
		if err := r.Pipeline.StoreAll(ctx, a.MessageID, scopePayload(msg.SessionID), results); err != nil {
			rep.Errors++
			continue
		}
		a.HasEmbedding = true
		if err := r.Rel.UpsertAnalysis(ctx, a); err != nil {
			rep.Errors++
			continue
		}
		rep.Acted++
	}
	r.publish(ctx, rep)
	return rep
}

// OrphanVectorPurge scans each head collection's point ids and drops any
// whose relational row is missing (I-4). dryRun produces the report
// without mutating anything.
func (r *Reconciler) OrphanVectorPurge(ctx context.Context, dryRun bool) SweepReport {
	rep := SweepReport{Name: "orphan_vector_purge", DryRun: dryRun}
	for _, head := range r.Heads {
		ids, err := r.Vec.ListPointIDs(ctx, string(head))
		if err != nil {
			rep.Errors++
			continue
		}
		rep.Checked += len(ids)
		for _, id := range ids {
			backed, err := r.hasBackingRow(ctx, id)
			if err != nil {
				rep.Errors++
				continue
			}
			if backed {
				continue
			}
			rep.Found++
			if dryRun {
				continue
			}
			if err := r.Vec.Delete(ctx, string(head), id); err != nil {
				rep.Errors++
				continue
			}
			rep.Acted++
		}
	}
	r.publish(ctx, rep)
	return rep
}

// SessionCacheAging evicts SessionCacheState rows past maxAge, cascading
// their file-hash children (the store's ON DELETE CASCADE).
func (r *Reconciler) SessionCacheAging(ctx context.Context, maxAge time.Duration) SweepReport {
	rep := SweepReport{Name: "session_cache_aging"}
	n, err := r.Cache.EvictStale(ctx, maxAge)
	if err != nil {
		rep.Errors++
		r.publish(ctx, rep)
		return rep
	}
	rep.Checked = int(n)
	rep.Found = int(n)
	rep.Acted = int(n)
	r.publish(ctx, rep)
	return rep
}

// SalienceDecay reduces Analysis.Salience toward
// original_salience * decay^days for rows not recalled in olderThanDays,
// never rewriting OriginalSalience (I-2).
func (r *Reconciler) SalienceDecay(ctx context.Context, olderThanDays int, decay float64) SweepReport {
	rep := SweepReport{Name: "salience_decay"}
	acted, err := r.Rel.DecaySalience(ctx, olderThanDays, decay)
	if err != nil {
		rep.Errors++
		r.publish(ctx, rep)
		return rep
	}
	rep.Checked = acted
	rep.Found = acted
	rep.Acted = acted
	r.publish(ctx, rep)
	return rep
}

// StaleSessions flips team_sessions rows with no heartbeat in the last 30
// minutes to stopped, grounded on team_monitor.rs's STALE_THRESHOLD_MINUTES.
func (r *Reconciler) StaleSessions(ctx context.Context) SweepReport {
	rep := SweepReport{Name: "stale_sessions"}
	if r.Teams == nil {
		return rep
	}
	stale, err := r.Teams.StaleSince(ctx, time.Now().Add(-staleTeamSessionThreshold))
	if err != nil {
		rep.Errors++
		r.publish(ctx, rep)
		return rep
	}
	rep.Checked = len(stale)
	rep.Found = len(stale)
	for _, sid := range stale {
		if err := r.Teams.MarkStopped(ctx, sid); err != nil {
			rep.Errors++
			continue
		}
		rep.Acted++
	}
	r.publish(ctx, rep)
	return rep
}

// RunAll runs every sweep once, in the fixed order spec.md §4.10 lists
// them, and returns all five reports.
func (r *Reconciler) RunAll(ctx context.Context, opts SweepOptions) []SweepReport {
	return []SweepReport{
		r.EmbeddingBackfill(ctx, opts.BackfillLimit),
		r.OrphanVectorPurge(ctx, opts.DryRunPurge),
		r.SessionCacheAging(ctx, opts.SessionCacheMaxAge),
		r.SalienceDecay(ctx, opts.SalienceOlderThanDays, opts.SalienceDecayFactor),
		r.StaleSessions(ctx),
	}
}

// SweepOptions configures a RunAll pass.
type SweepOptions struct {
	BackfillLimit         int
	DryRunPurge           bool
	SessionCacheMaxAge    time.Duration
	SalienceOlderThanDays int
	SalienceDecayFactor   float64
}

// scopePayload builds the I-8 vector payload for a message-keyed point: a
// message carries only session_id (project/team/branch/fact_type are
// fact-level scope, set by the ingest path's own payload instead).
func scopePayload(sessionID string) map[string]string {
	return map[string]string{"session_id": sessionID}
}

func (r *Reconciler) publish(ctx context.Context, rep SweepReport) {
	if r.Publisher == nil {
		return
	}
	ev := SweepEvent{Sweep: rep.Name, Checked: rep.Checked, Found: rep.Found, Acted: rep.Acted, Errors: rep.Errors, At: time.Now()}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := r.Publisher.WriteMessages(ctx, kafka.Message{Topic: r.Topic, Value: payload, Time: ev.At}); err != nil {
		obs.LoggerWithTrace(ctx).Warn().Err(err).Str("sweep", rep.Name).Msg("reconcile: failed to publish sweep event")
	}
}
