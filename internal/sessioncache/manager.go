package sessioncache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"
)

// PrefixInputs are the components that make up a turn's static prefix:
// everything before the rolling, turn-dependent portion of the prompt.
// Grounded on spec.md §4.9 step 1.
type PrefixInputs struct {
	Persona          string
	Capabilities     string
	ProjectOverlay   string
	SessionOverlay   string
}

// Hash returns the static_prefix_hash for these inputs.
func (p PrefixInputs) Hash() string {
	h := sha256.New()
	for _, part := range []string{p.Persona, p.Capabilities, p.ProjectOverlay, p.SessionOverlay} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// TurnPlan is the result of comparing a turn's prefix against the stored
// state: which files the caller must actually send, and whether the prior
// cache entry was invalidated.
type TurnPlan struct {
	StaticPrefixHash string
	Invalidated      bool
	FilesToSend      []string // paths whose content_hash changed or were never sent
}

// Manager drives the per-turn prefix-cache algorithm of spec.md §4.9 on
// top of a durable Store. Grounded on
// original_source/backend/src/cache/session_state_store.rs's
// get/upsert/invalidate sequence; the Go addition is the orchestration
// around it, since the Rust source keeps that logic at the call site.
type Manager struct {
	store Store
}

func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// HashFile returns the content hash used for a file's content_hash field.
func HashFile(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// PlanTurn implements algorithm steps 1-2: compute the static prefix hash,
// compare it with the stored one, and decide which files must be sent.
// fileContents maps a path to its current on-disk content hash; callers
// compute it with HashFile.
func (m *Manager) PlanTurn(ctx context.Context, sessionID string, prefix PrefixInputs, fileContents map[string]string) (TurnPlan, error) {
	newHash := prefix.Hash()
	plan := TurnPlan{StaticPrefixHash: newHash}

	existing, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return TurnPlan{}, err
	}

	if existing == nil || existing.StaticPrefixHash != newHash {
		// Mismatch (or first turn): invalidate whatever was there and
		// start fresh. I-6/P-8.
		if existing != nil {
			if err := m.store.Invalidate(ctx, sessionID); err != nil {
				return TurnPlan{}, err
			}
			plan.Invalidated = true
		}
		plan.FilesToSend = sortedKeys(fileContents)
		return plan, nil
	}

	// Match: only resend files whose hash changed or that were never sent.
	for path, hash := range fileContents {
		prior, ok := existing.ContextHashes.FileContents[path]
		if !ok || prior.ContentHash != hash {
			plan.FilesToSend = append(plan.FilesToSend, path)
		}
	}
	sort.Strings(plan.FilesToSend)
	return plan, nil
}

// CommitTurn implements algorithm step 3: persist the new prefix hash and
// file hashes, and accumulate cached_input_tokens reported by the provider.
func (m *Manager) CommitTurn(ctx context.Context, sessionID string, plan TurnPlan, sentFiles map[string]FileContentHash, staticPrefixTokens, cachedInputTokens int64) error {
	existing, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	st := State{
		SessionID:          sessionID,
		StaticPrefixHash:   plan.StaticPrefixHash,
		LastCallAt:         time.Now(),
		StaticPrefixTokens: staticPrefixTokens,
	}
	if existing != nil && existing.StaticPrefixHash == plan.StaticPrefixHash {
		st.ContextHashes.FileContents = mergeFileHashes(existing.ContextHashes.FileContents, sentFiles)
		st.TotalRequests = existing.TotalRequests + 1
		st.TotalCachedTokens = existing.TotalCachedTokens + cachedInputTokens
	} else {
		st.ContextHashes.FileContents = sentFiles
		st.TotalRequests = 1
		st.TotalCachedTokens = cachedInputTokens
	}
	st.LastReportedCachedTokens = cachedInputTokens

	return m.store.Upsert(ctx, st)
}

// EvictStale implements algorithm step 4: the periodic background sweep
// dropping entries whose last_call_at predates maxAge. The Reconciler
// (C11) calls this on a timer.
func (m *Manager) EvictStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	hours := int64(maxAge.Hours())
	if hours <= 0 {
		hours = 24
	}
	return m.store.CleanupOldStates(ctx, hours)
}

func mergeFileHashes(prior, sent map[string]FileContentHash) map[string]FileContentHash {
	out := make(map[string]FileContentHash, len(prior)+len(sent))
	for k, v := range prior {
		out[k] = v
	}
	for k, v := range sent {
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
