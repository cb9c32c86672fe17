// Command mirad is the process entrypoint: it wires the ambient stack
// (config, logging, otel) to the C1-C13 components and exposes health
// endpoints, a WebSocket chat stream, and an MCP tool endpoint, both
// driven by the same in-process transport dispatcher.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/conarylabs/mira/internal/budget"
	"github.com/conarylabs/mira/internal/chunker"
	"github.com/conarylabs/mira/internal/classifier"
	"github.com/conarylabs/mira/internal/config"
	memctx "github.com/conarylabs/mira/internal/context"
	"github.com/conarylabs/mira/internal/embedclient"
	"github.com/conarylabs/mira/internal/embedpipeline"
	"github.com/conarylabs/mira/internal/miraerr"
	"github.com/conarylabs/mira/internal/obs"
	"github.com/conarylabs/mira/internal/objectstore"
	"github.com/conarylabs/mira/internal/operation"
	"github.com/conarylabs/mira/internal/rank"
	"github.com/conarylabs/mira/internal/recall"
	"github.com/conarylabs/mira/internal/reconcile"
	"github.com/conarylabs/mira/internal/sessioncache"
	"github.com/conarylabs/mira/internal/store"
	"github.com/conarylabs/mira/internal/transport"
	"github.com/conarylabs/mira/internal/vectorstore"
)

func main() {
	obs.InitLogger(os.Getenv("LOG_PATH"), os.Getenv("LOG_LEVEL"))

	cfg, err := config.Load(os.Getenv("MIRA_CONFIG_OVERLAY"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := obs.InitOTel(ctx, cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdownOTel = nil
	}
	if shutdownOTel != nil {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	deps, err := wire(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire components")
	}
	defer deps.Close()

	dispatcher, methods := buildDispatcher(deps)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ready")
	})

	mcpServer := transport.NewMCPServer(dispatcher, methods, cfg.Obs.ServiceName, cfg.Obs.ServiceVersion)
	mux.Handle("/mcp", transport.NewMCPHTTPHandler(mcpServer))

	hub := transport.NewHub(newHubHandler(deps), cfg.Transport.HeartbeatIdle)
	mux.Handle("/ws", hub)

	srv := &http.Server{Addr: ":8081", Handler: mux}
	go runReconcileLoop(ctx, deps.reconciler)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", srv.Addr).Msg("mirad listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
}

// components holds every wired C1-C13 piece so main can expose health
// checks and hand the pieces to the transport dispatcher.
type components struct {
	relPool    *pgxpool.Pool
	rel        store.RelationalStore
	vec        vectorstore.Store
	embedder   embedclient.Embedder
	pipeline   *embedpipeline.Pipeline
	classifier classifier.Classifier
	recallEng  *recall.Engine
	assembler  *memctx.Assembler
	cache      *sessioncache.Manager
	reconciler *reconcile.Reconciler
	engine     *operation.Engine
	tracker    *budget.Tracker
	ops        *sessionOpIndex
}

// sessionOpIndex remembers the most recent operation a session started, so
// the WebSocket Hub's "sync"/"cancel" commands (spec.md §6.1) have an
// operation id to ask the Operation Engine about. The Engine itself is
// keyed by operation id, not session id, so this is main's own bit of
// wiring, not a capability the engine needs to expose generally.
type sessionOpIndex struct {
	mu  sync.Mutex
	ops map[string]string // session id -> operation id
}

func newSessionOpIndex() *sessionOpIndex {
	return &sessionOpIndex{ops: make(map[string]string)}
}

func (s *sessionOpIndex) set(sessionID, operationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[sessionID] = operationID
}

func (s *sessionOpIndex) get(sessionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.ops[sessionID]
	return id, ok
}

func (c *components) Close() {
	if c.rel != nil {
		_ = c.rel.Close()
	}
	if c.vec != nil {
		_ = c.vec.Close()
	}
	if c.relPool != nil {
		c.relPool.Close()
	}
	if w, ok := c.reconciler.Publisher.(*kafka.Writer); ok && w != nil {
		_ = w.Close()
	}
}

func wire(ctx context.Context, cfg config.Config) (*components, error) {
	var relPool *pgxpool.Pool
	var rel store.RelationalStore
	if cfg.DB.RelationalDSN != "" {
		pg, err := store.OpenPostgresStore(ctx, cfg.DB.RelationalDSN)
		if err != nil {
			return nil, fmt.Errorf("open relational store: %w", err)
		}
		rel = pg
		pool, err := pgxpool.New(ctx, cfg.DB.RelationalDSN)
		if err != nil {
			return nil, fmt.Errorf("open budget pool: %w", err)
		}
		relPool = pool
	} else {
		rel = store.NewMemoryStore()
	}

	var vec vectorstore.Store
	switch cfg.DB.VectorBackend {
	case "qdrant":
		qs, err := vectorstore.NewQdrantStore(cfg.DB.QdrantDSN, "mira", cfg.DB.VectorMetric)
		if err != nil {
			return nil, fmt.Errorf("open vector store: %w", err)
		}
		vec = qs
	default:
		vec = vectorstore.NewMemoryStore()
	}

	embedder, err := embedclient.Build(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("build embedder: %w", err)
	}

	heads := []chunker.Head{chunker.HeadSemantic, chunker.HeadCode, chunker.HeadSummary}
	pipeline := embedpipeline.New(chunker.HeadChunker{}, embedder, vec, chunker.Options{})

	clf := classifier.NewHeuristicClassifier(classifier.DefaultConfig())

	recallEng := recall.New(rel, vec)
	assembler := memctx.New(8000, 4000)

	var cacheStore sessioncache.Store
	if relPool != nil {
		cacheStore = sessioncache.NewPostgresStore(relPool)
	} else {
		cacheStore = sessioncache.NewMemoryStore()
	}
	cache := sessioncache.NewManager(cacheStore)

	var objStore objectstore.ObjectStore
	switch cfg.ObjectStore.Backend {
	case "s3":
		s3store, err := objectstore.NewS3Store(ctx, config.S3Config{
			Bucket: cfg.ObjectStore.Bucket,
			Region: cfg.ObjectStore.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("open object store: %w", err)
		}
		objStore = s3store
	default:
		objStore = objectstore.NewMemoryStore()
	}

	seq := operation.NewSequencer()
	artifacts := operation.NewArtifactManager(objStore, seq)
	opEngine := operation.NewEngine(operation.NewMemoryStore(), artifacts, seq)

	var tracker *budget.Tracker
	if relPool != nil {
		tracker = budget.New(relPool, cfg.Budget.DailyUSD, cfg.Budget.MonthlyUSD)
	}

	var publisher reconcile.EventPublisher
	if len(cfg.DB.KafkaBrokers) > 0 {
		publisher = &kafka.Writer{
			Addr:     kafka.TCP(cfg.DB.KafkaBrokers...),
			Topic:    cfg.DB.KafkaTopic,
			Balancer: &kafka.LeastBytes{},
		}
	}

	reconciler := &reconcile.Reconciler{
		Rel:       rel,
		Vec:       vec,
		Pipeline:  pipeline,
		Cache:     cache,
		Heads:     heads,
		Topic:     cfg.DB.KafkaTopic,
		Publisher: publisher,
	}

	return &components{
		relPool:    relPool,
		rel:        rel,
		vec:        vec,
		embedder:   embedder,
		pipeline:   pipeline,
		classifier: clf,
		recallEng:  recallEng,
		assembler:  assembler,
		cache:      cache,
		reconciler: reconciler,
		engine:     opEngine,
		tracker:    tracker,
		ops:        newSessionOpIndex(),
	}, nil
}

// hubHandler bridges transport.Hub's sync/cancel commands to the Operation
// Engine via the session's most recently started operation.
type hubHandler struct {
	engine *operation.Engine
	ops    *sessionOpIndex
}

func newHubHandler(deps *components) *hubHandler {
	return &hubHandler{engine: deps.engine, ops: deps.ops}
}

func (h *hubHandler) Sync(ctx context.Context, sessionID, lastEventID string) ([]transport.WSServerMessage, error) {
	opID, ok := h.ops.get(sessionID)
	if !ok {
		return nil, nil
	}
	events, err := h.engine.Events(ctx, opID)
	if err != nil {
		return nil, err
	}
	var after int64 = -1
	if lastEventID != "" {
		if n, err := parseSequenceNumber(lastEventID); err == nil {
			after = n
		}
	}
	var out []transport.WSServerMessage
	for _, ev := range events {
		if ev.SequenceNumber <= after {
			continue
		}
		msg, err := transport.NewDataMessage(opID, map[string]any{
			"event_type":      ev.EventType,
			"sequence_number": ev.SequenceNumber,
			"data":            ev.Data,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func (h *hubHandler) Cancel(ctx context.Context, sessionID string) error {
	opID, ok := h.ops.get(sessionID)
	if !ok {
		return miraerr.New("mirad.hubHandler.Cancel", miraerr.NotFound, fmt.Errorf("no operation in flight for session %s", sessionID))
	}
	return h.engine.Cancel(ctx, opID)
}

func parseSequenceNumber(s string) (int64, error) {
	var n int64
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

// buildDispatcher registers the MCP method handlers this module owns
// (memory ingest and recall operations) against the in-process Dispatcher
// contract, and returns the method names registered so the MCP server
// (which needs to publish a fixed tool list up front) and the dispatcher
// stay in sync.
func buildDispatcher(deps *components) (*transport.Dispatcher, []string) {
	d := transport.NewDispatcher()
	methods := []string{transport.MethodRemember, transport.MethodRecall}

	d.Register(transport.MethodRemember, rememberHandler(deps))
	d.Register(transport.MethodRecall, func(ctx context.Context, params []byte) (any, error) {
		var req struct {
			SessionID string `json:"session_id"`
			Query     string `json:"query"`
			Mode      string `json:"mode"`
		}
		if err := unmarshalParams(params, &req); err != nil {
			return nil, err
		}
		rows, err := deps.recallEng.Recall(ctx, recall.Mode(req.Mode), recall.Query{
			SessionID: req.SessionID,
			Text:      req.Query,
		})
		if err != nil {
			return nil, err
		}
		return rowsToPayload(rows), nil
	})
	return d, methods
}

// rememberRequest is the "remember" method's argument shape (spec.md §6.2):
// a message plus the scope fields spec.md §9's ScopeFilter needs to be able
// to find it again.
type rememberRequest struct {
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	ProjectID string `json:"project_id,omitempty"`
	TeamID    string `json:"team_id,omitempty"`
	Branch    string `json:"branch,omitempty"`
}

// rememberHandler implements the ingest side of spec.md §4: persist the
// message, classify it into a routing decision (C5), and—when the
// classifier says to—run it through the Embedding Pipeline (C6) with an
// I-8-compliant scope payload so recall (C7) can filter on it later.
// Grounded on original_source/src/memory/mod.rs's remember_message, which
// chains the same insert -> classify -> embed -> record-analysis steps.
func rememberHandler(deps *components) transport.Handler {
	return func(ctx context.Context, params []byte) (any, error) {
		const op = "mirad.remember"
		var req rememberRequest
		if err := unmarshalParams(params, &req); err != nil {
			return nil, miraerr.New(op, miraerr.Validation, err)
		}
		if req.SessionID == "" || req.Content == "" {
			return nil, miraerr.New(op, miraerr.Validation, fmt.Errorf("session_id and content are required"))
		}
		role := store.Role(req.Role)
		if role == "" {
			role = store.RoleUser
		}

		opRecord, err := deps.engine.Start(ctx, req.SessionID, "remember", req.Content)
		if err != nil {
			return nil, err
		}
		deps.ops.set(req.SessionID, opRecord.ID)

		msgID, err := deps.rel.InsertMessage(ctx, store.Message{
			SessionID: req.SessionID,
			Role:      role,
			Content:   req.Content,
		})
		if err != nil {
			_ = deps.engine.Fail(ctx, opRecord.ID, err)
			return nil, err
		}

		decision, err := deps.classifier.MakeRoutingDecision(ctx, req.Content, string(role), nil)
		if err != nil {
			_ = deps.engine.Fail(ctx, opRecord.ID, err)
			return nil, err
		}

		analysis := store.Analysis{
			MessageID:     msgID,
			Summary:       req.Content,
			RoutedToHeads: headNames(decision.Heads),
			HasEmbedding:  false,
		}

		if decision.ShouldEmbed && len(decision.Heads) > 0 {
			results, err := deps.pipeline.GenerateForHeads(ctx, req.Content, decision.Heads)
			if err != nil {
				_ = deps.engine.Fail(ctx, opRecord.ID, err)
				return nil, err
			}
			payload := scopePayload(req.SessionID, req.ProjectID, req.TeamID, req.Branch)
			if err := deps.pipeline.StoreAll(ctx, msgID, payload, results); err != nil {
				_ = deps.engine.Fail(ctx, opRecord.ID, err)
				return nil, err
			}
			analysis.HasEmbedding = true
		}

		if err := deps.rel.UpsertAnalysis(ctx, analysis); err != nil {
			_ = deps.engine.Fail(ctx, opRecord.ID, err)
			return nil, err
		}

		if err := deps.engine.Complete(ctx, opRecord.ID, "stored"); err != nil {
			return nil, err
		}

		return map[string]any{
			"message_id":      msgID,
			"routed_to_heads": analysis.RoutedToHeads,
			"embedded":        analysis.HasEmbedding,
			"skip_reason":     decision.SkipReason,
		}, nil
	}
}

// scopePayload builds the I-8 vector payload from a remember call's scope
// fields; project_id/team_id/branch are only present when the caller
// supplied them, matching vectorstore.RequiredPayloadFields's optional
// fields being absent for a session-only message.
func scopePayload(sessionID, projectID, teamID, branch string) map[string]string {
	payload := map[string]string{"session_id": sessionID}
	if projectID != "" {
		payload["project_id"] = projectID
	}
	if teamID != "" {
		payload["team_id"] = teamID
	}
	if branch != "" {
		payload["branch"] = branch
	}
	return payload
}

func headNames(heads []chunker.Head) []string {
	out := make([]string, len(heads))
	for i, h := range heads {
		out[i] = string(h)
	}
	return out
}

func rowsToPayload(rows []rank.Row) any {
	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, map[string]any{
			"id":       r.ID,
			"distance": r.Distance,
			"content":  r.Content,
		})
	}
	return out
}

func unmarshalParams(params []byte, v any) error {
	return json.Unmarshal(params, v)
}

func runReconcileLoop(ctx context.Context, r *reconcile.Reconciler) {
	if r == nil {
		return
	}
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reports := r.RunAll(ctx, reconcile.SweepOptions{
				BackfillLimit:         200,
				SessionCacheMaxAge:    24 * time.Hour,
				SalienceOlderThanDays: 30,
				SalienceDecayFactor:   0.9,
			})
			for _, rep := range reports {
				log.Info().Str("sweep", rep.Name).Int("checked", rep.Checked).
					Int("found", rep.Found).Int("acted", rep.Acted).Int("errors", rep.Errors).
					Msg("reconcile sweep complete")
			}
		}
	}
}
