package store

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/conarylabs/mira/internal/miraerr"
)

// MemoryStore is an in-memory RelationalStore used by tests and by the
// "memory" backend selection, grounded on the teacher's
// persistence/databases/factory.go memory/noop backend switch.
type MemoryStore struct {
	mu sync.Mutex

	nextMessageID uint64
	messages      map[uint64]Message
	analyses      map[uint64]Analysis
	sessions      map[string]*Session

	nextFactID uint64
	facts      map[uint64]MemoryFact
	factByKey  map[string]uint64 // "<projectID>|<key>" -> id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages:  make(map[uint64]Message),
		analyses:  make(map[uint64]Analysis),
		sessions:  make(map[string]*Session),
		facts:     make(map[uint64]MemoryFact),
		factByKey: make(map[string]uint64),
	}
}

func (m *MemoryStore) InsertMessage(ctx context.Context, msg Message) (uint64, error) {
	const op = "store.MemoryStore.InsertMessage"
	if msg.SessionID == "" {
		return 0, miraerr.New(op, miraerr.Validation, errMissingSessionID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextMessageID++
	id := m.nextMessageID
	msg.ID = id
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.messages[id] = msg

	sess := m.sessionLocked(msg.SessionID)
	sess.MessageCounter++
	sess.TotalMessages++
	sess.LastActivity = msg.Timestamp
	sess.Active = true

	return id, nil
}

func (m *MemoryStore) sessionLocked(sessionID string) *Session {
	s, ok := m.sessions[sessionID]
	if !ok {
		s = &Session{SessionID: sessionID, CreatedAt: time.Now(), Active: true}
		m.sessions[sessionID] = s
	}
	return s
}

func (m *MemoryStore) UpsertAnalysis(ctx context.Context, a Analysis) error {
	const op = "store.MemoryStore.UpsertAnalysis"
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[a.MessageID]; !ok {
		return miraerr.New(op, miraerr.NotFound, errMessageNotFound)
	}
	if existing, ok := m.analyses[a.MessageID]; ok {
		// I-2: preserve OriginalSalience on conflict.
		a.OriginalSalience = existing.OriginalSalience
	} else {
		a.OriginalSalience = a.Salience
	}
	if a.AnalyzedAt.IsZero() {
		a.AnalyzedAt = time.Now()
	}
	m.analyses[a.MessageID] = a
	return nil
}

func (m *MemoryStore) InsertOrUpsertFact(ctx context.Context, f MemoryFact) (uint64, error) {
	const op = "store.MemoryStore.InsertOrUpsertFact"
	if f.Content == "" {
		return 0, miraerr.New(op, miraerr.Validation, errMissingContent)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if f.Key != nil {
		key := factKey(f.ProjectID, *f.Key)
		if id, ok := m.factByKey[key]; ok {
			existing := m.facts[id]
			f.ID = id
			f.SessionCount = existing.SessionCount
			f.Status = promote(existing, f)
			m.facts[id] = f
			return id, nil
		}
		m.nextFactID++
		f.ID = m.nextFactID
		if f.Status == "" {
			f.Status = FactCandidate
		}
		if f.Status == FactCandidate && f.IsConfirmed() {
			f.Status = FactConfirmed
		}
		m.facts[f.ID] = f
		m.factByKey[key] = f.ID
		return f.ID, nil
	}

	m.nextFactID++
	f.ID = m.nextFactID
	if f.Status == "" {
		f.Status = FactCandidate
	}
	if f.Status == FactCandidate && f.IsConfirmed() {
		f.Status = FactConfirmed
	}
	m.facts[f.ID] = f
	return f.ID, nil
}

// promote applies I-3's monotonic promotion rule: once confirmed, a fact
// never reverts to candidate.
func promote(existing, incoming MemoryFact) FactStatus {
	if existing.Status == FactConfirmed {
		return FactConfirmed
	}
	if incoming.IsConfirmed() {
		return FactConfirmed
	}
	if incoming.Status != "" {
		return incoming.Status
	}
	return existing.Status
}

func factKey(projectID *int64, key string) string {
	if projectID == nil {
		return "nil|" + key
	}
	return itoa(*projectID) + "|" + key
}

func (m *MemoryStore) UpdateFactStatusOnAccess(ctx context.Context, factID uint64, sessionID string) error {
	const op = "store.MemoryStore.UpdateFactStatusOnAccess"
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.facts[factID]
	if !ok {
		return miraerr.New(op, miraerr.NotFound, errFactNotFound)
	}
	if f.LastSessionID != sessionID {
		f.SessionCount++
		f.LastSessionID = sessionID
		if f.IsConfirmed() {
			f.Status = FactConfirmed
		}
		f.UpdatedAt = time.Now()
		m.facts[factID] = f
	}
	return nil
}

func (m *MemoryStore) LoadRecent(ctx context.Context, sessionID string, n int) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	for _, msg := range m.messages {
		if msg.SessionID == sessionID {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *MemoryStore) LoadWithAnalysis(ctx context.Context, sessionID string, n int) ([]MessageWithAnalysis, error) {
	msgs, err := m.LoadRecent(ctx, sessionID, n)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MessageWithAnalysis, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, MessageWithAnalysis{Message: msg, Analysis: m.analyses[msg.ID]})
	}
	return out, nil
}

func (m *MemoryStore) QueryFactsByScope(ctx context.Context, filter ScopeFilter, extra FactQuery) ([]MemoryFact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	typeSet := make(map[FactType]bool, len(extra.FactTypes))
	for _, t := range extra.FactTypes {
		typeSet[t] = true
	}
	var out []MemoryFact
	for _, f := range m.facts {
		if !filter.Matches(f) {
			continue
		}
		if extra.ExcludeArchived && f.Status == FactArchived {
			continue
		}
		if extra.ExcludeSuspicious && f.Suspicious {
			continue
		}
		if len(typeSet) > 0 && !typeSet[f.FactType] {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if extra.Limit > 0 && len(out) > extra.Limit {
		out = out[:extra.Limit]
	}
	return out, nil
}

func (m *MemoryStore) GetFact(ctx context.Context, id uint64) (MemoryFact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.facts[id]
	if !ok {
		return MemoryFact{}, miraerr.New("store.MemoryStore.GetFact", miraerr.NotFound, errFactNotFound)
	}
	return f, nil
}

func (m *MemoryStore) MessageExists(ctx context.Context, id uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.messages[id]
	return ok, nil
}

func (m *MemoryStore) GetMessage(ctx context.Context, id uint64) (Message, error) {
	const op = "store.MemoryStore.GetMessage"
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return Message{}, miraerr.New(op, miraerr.NotFound, errMessageNotFound)
	}
	return msg, nil
}

func (m *MemoryStore) CleanupInactiveSessions(ctx context.Context, maxAgeSecs int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-time.Duration(maxAgeSecs) * time.Second)
	removed := 0
	for id, s := range m.sessions {
		if s.LastActivity.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) AnalysesMissingEmbeddings(ctx context.Context, limit int) ([]Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Analysis
	for _, a := range m.analyses {
		if len(a.RoutedToHeads) > 0 && !a.HasEmbedding {
			out = append(out, a)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) DecaySalience(ctx context.Context, olderThanDays int, decay float64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	acted := 0
	for id, a := range m.analyses {
		if a.LastRecalled != nil && a.LastRecalled.Before(cutoff) {
			days := time.Since(*a.LastRecalled).Hours() / 24
			a.Salience = float32(float64(a.OriginalSalience) * math.Pow(decay, days))
			m.analyses[id] = a
			acted++
		}
	}
	return acted, nil
}

func (m *MemoryStore) GetSession(ctx context.Context, sessionID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, miraerr.New("store.MemoryStore.GetSession", miraerr.NotFound, errSessionNotFound)
	}
	return *s, nil
}

func (m *MemoryStore) EnsureSession(ctx context.Context, sessionID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessionLocked(sessionID)
	return *s, nil
}

func (m *MemoryStore) Close() error { return nil }

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }

const (
	errMissingSessionID sentinelErr = "session_id is required"
	errMissingContent   sentinelErr = "content is required"
	errMessageNotFound  sentinelErr = "message not found"
	errFactNotFound     sentinelErr = "fact not found"
	errSessionNotFound  sentinelErr = "session not found"
)
