package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/conarylabs/mira/internal/chunker"
	"github.com/conarylabs/mira/internal/embedpipeline"
	"github.com/conarylabs/mira/internal/sessioncache"
	"github.com/conarylabs/mira/internal/store"
	"github.com/conarylabs/mira/internal/testsupport"
)

type fakePublisher struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (f *fakePublisher) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msgs...)
	return nil
}

type fakeCacheStore struct {
	mu   sync.Mutex
	rows map[string]sessioncache.State
}

func newFakeCacheStore() *fakeCacheStore { return &fakeCacheStore{rows: map[string]sessioncache.State{}} }

func (f *fakeCacheStore) Get(ctx context.Context, id string) (*sessioncache.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}
func (f *fakeCacheStore) Upsert(ctx context.Context, s sessioncache.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[s.SessionID] = s
	return nil
}
func (f *fakeCacheStore) Invalidate(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, id)
	return nil
}
func (f *fakeCacheStore) CleanupOldStates(ctx context.Context, maxAgeHours int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-time.Duration(maxAgeHours) * time.Hour)
	var n int64
	for id, s := range f.rows {
		if s.LastCallAt.Before(cutoff) {
			delete(f.rows, id)
			n++
		}
	}
	return n, nil
}
func (f *fakeCacheStore) AggregateStats(ctx context.Context) (sessioncache.AggregateStats, error) {
	return sessioncache.AggregateStats{}, nil
}

type fakeTeams struct {
	stale   []string
	stopped []string
}

func (f *fakeTeams) StaleSince(ctx context.Context, cutoff time.Time) ([]string, error) {
	return f.stale, nil
}
func (f *fakeTeams) MarkStopped(ctx context.Context, sessionID string) error {
	f.stopped = append(f.stopped, sessionID)
	return nil
}

func TestOrphanVectorPurge_DropsMissingRelationalRow(t *testing.T) {
	ctx := context.Background()
	fx := testsupport.NewFixture(4)

	require.NoError(t, fx.Vec.EnsureCollection(ctx, "semantic", 4))
	require.NoError(t, fx.Vec.Upsert(ctx, "semantic", 1, []float32{0.1, 0.2, 0.3, 0.4}, nil))
	require.NoError(t, fx.Vec.Upsert(ctx, "semantic", 2, []float32{0.1, 0.2, 0.3, 0.4}, nil))

	// Fact 1 exists in the relational store; fact 2 is orphaned.
	_, err := fx.Rel.InsertOrUpsertFact(ctx, store.MemoryFact{Content: "x", Scope: store.ScopeGlobal})
	require.NoError(t, err)

	pub := &fakePublisher{}
	r := &Reconciler{
		Rel:       fx.Rel,
		Vec:       fx.Vec,
		Heads:     []chunker.Head{"semantic"},
		Topic:     "reconcile.swept",
		Publisher: pub,
	}

	rep := r.OrphanVectorPurge(ctx, false)
	require.Equal(t, 2, rep.Checked)
	require.Equal(t, 1, rep.Found)
	require.Equal(t, 1, rep.Acted)

	ids, err := fx.Vec.ListPointIDs(ctx, "semantic")
	require.NoError(t, err)
	require.Equal(t, []uint64{1}, ids)

	require.Len(t, pub.msgs, 1)
}

func TestOrphanVectorPurge_MessageBackedPointsAreNotOrphans(t *testing.T) {
	ctx := context.Background()
	fx := testsupport.NewFixture(4)

	id, err := fx.Rel.InsertMessage(ctx, store.Message{SessionID: "s1", Role: store.RoleUser, Content: "hi"})
	require.NoError(t, err)

	require.NoError(t, fx.Vec.EnsureCollection(ctx, "semantic", 4))
	// First-chunk point id (bare message id) and a synthetic later-chunk id.
	require.NoError(t, fx.Vec.Upsert(ctx, "semantic", id, []float32{0.1, 0.2, 0.3, 0.4}, nil))
	require.NoError(t, fx.Vec.Upsert(ctx, "semantic", embedpipeline.PointID(id, 1), []float32{0.1, 0.2, 0.3, 0.4}, nil))

	r := &Reconciler{Rel: fx.Rel, Vec: fx.Vec, Heads: []chunker.Head{"semantic"}}
	rep := r.OrphanVectorPurge(ctx, false)
	require.Equal(t, 2, rep.Checked)
	require.Equal(t, 0, rep.Found)
	require.Equal(t, 0, rep.Acted)

	ids, err := fx.Vec.ListPointIDs(ctx, "semantic")
	require.NoError(t, err)
	require.Len(t, ids, 2)
}

func TestOrphanVectorPurge_DryRunDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	fx := testsupport.NewFixture(4)
	require.NoError(t, fx.Vec.EnsureCollection(ctx, "semantic", 4))
	require.NoError(t, fx.Vec.Upsert(ctx, "semantic", 9, []float32{0.1, 0.2, 0.3, 0.4}, nil))

	r := &Reconciler{Rel: fx.Rel, Vec: fx.Vec, Heads: []chunker.Head{"semantic"}}
	rep := r.OrphanVectorPurge(ctx, true)
	require.Equal(t, 1, rep.Found)
	require.Equal(t, 0, rep.Acted)

	ids, err := fx.Vec.ListPointIDs(ctx, "semantic")
	require.NoError(t, err)
	require.Len(t, ids, 1)
}

func TestEmbeddingBackfill_StoresPointsWithSessionScopedPayload(t *testing.T) {
	ctx := context.Background()
	fx := testsupport.NewFixture(4)

	id, err := fx.Rel.InsertMessage(ctx, store.Message{SessionID: "s1", Role: store.RoleUser, Content: "hi there"})
	require.NoError(t, err)
	require.NoError(t, fx.Rel.UpsertAnalysis(ctx, store.Analysis{
		MessageID:     id,
		Summary:       "hi there",
		RoutedToHeads: []string{"semantic"},
		HasEmbedding:  false,
	}))

	r := &Reconciler{Rel: fx.Rel, Vec: fx.Vec, Pipeline: fx.Pipeline, Heads: []chunker.Head{"semantic"}}
	rep := r.EmbeddingBackfill(ctx, 10)
	require.Equal(t, 1, rep.Checked)
	require.Equal(t, 1, rep.Acted)
	require.Equal(t, 0, rep.Errors)

	vecs, err := fx.Embedder.EmbedBatch(ctx, []string{"hi there"})
	require.NoError(t, err)
	results, err := fx.Vec.Search(ctx, "semantic", vecs[0], 5, map[string]string{"session_id": "s1"})
	require.NoError(t, err)
	require.NotEmpty(t, results)
}

func TestStaleSessions_MarksStopped(t *testing.T) {
	ctx := context.Background()
	teams := &fakeTeams{stale: []string{"s1", "s2"}}
	r := &Reconciler{Teams: teams}
	rep := r.StaleSessions(ctx)
	require.Equal(t, 2, rep.Checked)
	require.Equal(t, 2, rep.Acted)
	require.ElementsMatch(t, []string{"s1", "s2"}, teams.stopped)
}

func TestSessionCacheAging_EvictsPastMaxAge(t *testing.T) {
	ctx := context.Background()
	cs := newFakeCacheStore()
	require.NoError(t, cs.Upsert(ctx, sessioncache.State{SessionID: "old", LastCallAt: time.Now().Add(-48 * time.Hour)}))
	require.NoError(t, cs.Upsert(ctx, sessioncache.State{SessionID: "fresh", LastCallAt: time.Now()}))

	r := &Reconciler{Cache: sessioncache.NewManager(cs)}
	rep := r.SessionCacheAging(ctx, 24*time.Hour)
	require.Equal(t, 1, rep.Acted)

	_, err := cs.Get(ctx, "old")
	require.NoError(t, err)
	remaining, err := cs.Get(ctx, "fresh")
	require.NoError(t, err)
	require.NotNil(t, remaining)
}
