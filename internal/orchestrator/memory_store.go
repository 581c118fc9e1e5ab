package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore implements RunStore using in-memory maps. Used when no
// database is configured and in tests.
type InMemoryStore struct {
	mu        sync.RWMutex
	runs      map[uuid.UUID]*RunRecord
	envelopes map[uuid.UUID][]Envelope                  // keyed by run ID
	artifacts map[uuid.UUID]map[string]json.RawMessage // keyed by run ID, then artifact name
}

// NewInMemoryStore creates an empty in-memory run store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		runs:      make(map[uuid.UUID]*RunRecord),
		envelopes: make(map[uuid.UUID][]Envelope),
		artifacts: make(map[uuid.UUID]map[string]json.RawMessage),
	}
}

func (s *InMemoryStore) CreateRun(_ context.Context, run *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *InMemoryStore) UpdateRun(_ context.Context, run *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; !exists {
		return fmt.Errorf("run %s not found", run.ID)
	}
	cp := *run
	cp.UpdatedAt = time.Now().UTC()
	s.runs[run.ID] = &cp
	return nil
}

func (s *InMemoryStore) GetRun(_ context.Context, id uuid.UUID) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s not found", id)
	}
	cp := *run
	return &cp, nil
}

func (s *InMemoryStore) AppendEnvelope(_ context.Context, env *Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envelopes[env.RunID] = append(s.envelopes[env.RunID], *env)
	return nil
}

func (s *InMemoryStore) ListEnvelopes(_ context.Context, runID uuid.UUID) ([]Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Envelope, len(s.envelopes[runID]))
	copy(out, s.envelopes[runID])
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *InMemoryStore) SaveArtifact(_ context.Context, runID uuid.UUID, artifact *ParsedArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byName, ok := s.artifacts[runID]
	if !ok {
		byName = make(map[string]json.RawMessage)
		s.artifacts[runID] = byName
	}
	raw := make(json.RawMessage, len(artifact.Raw))
	copy(raw, artifact.Raw)
	byName[artifact.Name] = raw
	return nil
}

func (s *InMemoryStore) ListArtifacts(_ context.Context, runID uuid.UUID) (map[string]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(s.artifacts[runID]))
	for name, raw := range s.artifacts[runID] {
		cp := make(json.RawMessage, len(raw))
		copy(cp, raw)
		out[name] = cp
	}
	return out, nil
}

// Compile-time check.
var _ RunStore = (*InMemoryStore)(nil)
