package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/climate-ref/refcore/internal/diagnostic"
	"github.com/climate-ref/refcore/internal/fsmove"
	"github.com/climate-ref/refcore/internal/validate"
)

// MemoryRegistry implements Store with in-memory maps guarded by a single
// mutex. It backs unit tests and small single-process deployments that do
// not need durable history; the semantics match PostgresRegistry exactly.
type MemoryRegistry struct {
	mu sync.Mutex

	paths Paths

	providers   map[string]string                 // provider slug -> version
	diagnostics map[string]struct{}               // "provider/diagnostic"
	groups      map[string]*Group                 // group id -> group
	groupIDs    map[string]string                 // "provider/diagnostic/key" -> group id
	attempts    map[string][]Attempt              // group id -> attempts ordered by index
	metrics     map[string][]validate.MetricValue // execution id -> recorded leaves
	executions  map[string]string                 // execution id -> group id
}

// NewMemoryRegistry returns an empty in-memory registry. Paths may be zero,
// in which case RecordOutcome skips the scratch-to-results move.
func NewMemoryRegistry(paths Paths) *MemoryRegistry {
	return &MemoryRegistry{
		paths:       paths,
		providers:   make(map[string]string),
		diagnostics: make(map[string]struct{}),
		groups:      make(map[string]*Group),
		groupIDs:    make(map[string]string),
		attempts:    make(map[string][]Attempt),
		metrics:     make(map[string][]validate.MetricValue),
		executions:  make(map[string]string),
	}
}

func diagKey(providerSlug, diagnosticSlug string) string {
	return providerSlug + "/" + diagnosticSlug
}

func groupKey(providerSlug, diagnosticSlug, key string) string {
	return providerSlug + "/" + diagnosticSlug + "/" + key
}

// RegisterProvider upserts the provider and its diagnostics.
func (m *MemoryRegistry) RegisterProvider(_ context.Context, p *diagnostic.Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.providers[p.Slug] = p.Version
	for _, d := range p.Diagnostics {
		m.diagnostics[diagKey(p.Slug, d.Slug())] = struct{}{}
	}

	return nil
}

// Reserve applies the same upsert-decide-create sequence as the Postgres
// implementation, serialized by the registry mutex.
func (m *MemoryRegistry) Reserve(_ context.Context, req ReserveRequest) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.diagnostics[diagKey(req.ProviderSlug, req.DiagnosticSlug)]; !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrDiagnosticNotRegistered, req.ProviderSlug, req.DiagnosticSlug)
	}

	res := &Reservation{}
	gk := groupKey(req.ProviderSlug, req.DiagnosticSlug, req.Key)

	id, ok := m.groupIDs[gk]
	if !ok {
		now := time.Now().UTC()
		group := &Group{
			ID:           uuid.NewString(),
			DiagnosticID: diagKey(req.ProviderSlug, req.DiagnosticSlug),
			Key:          req.Key,
			Dirty:        true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		m.groups[group.ID] = group
		m.groupIDs[gk] = group.ID
		id = group.ID
		res.GroupCreated = true
	}

	group := m.groups[id]
	res.Group = *group

	attempts := m.attempts[id]

	var latest *Attempt
	if len(attempts) > 0 {
		latest = &attempts[len(attempts)-1]
	}

	if latest != nil && inFlight(latest.Status) {
		res.InFlight = true
		return res, nil
	}

	res.NeedsRun = needsNewAttempt(*group, latest, req.DatasetHash)
	if !res.NeedsRun || req.DryRun {
		return res, nil
	}

	nextIndex := 0
	if latest != nil {
		nextIndex = latest.AttemptIndex + 1
	}

	attempt := Attempt{
		ID:           uuid.NewString(),
		GroupID:      id,
		AttemptIndex: nextIndex,
		DatasetHash:  req.DatasetHash,
		OutputFragment: OutputFragment(
			req.ProviderSlug, req.DiagnosticSlug, req.Key, nextIndex,
		),
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}

	m.attempts[id] = append(attempts, attempt)
	m.executions[attempt.ID] = id
	res.Attempt = &attempt

	return res, nil
}

// RecordOutcome mirrors PostgresRegistry.RecordOutcome, including the
// exactly-once guard and the latest-attempt dirty-flag rule.
func (m *MemoryRegistry) RecordOutcome(_ context.Context, executionID string, outcome Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	groupID, ok := m.executions[executionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}

	attempts := m.attempts[groupID]

	idx := -1
	for i := range attempts {
		if attempts[i].ID == executionID {
			idx = i
			break
		}
	}

	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}

	if !inFlight(attempts[idx].Status) {
		return fmt.Errorf("%w: %s", ErrOutcomeAlreadyRecorded, executionID)
	}

	if outcome.Kind == OutcomeSuccess && m.paths.ScratchRoot != "" {
		fragment := filepath.FromSlash(attempts[idx].OutputFragment)

		_, err := fsmove.Move(
			filepath.Join(m.paths.ScratchRoot, fragment),
			filepath.Join(m.paths.ResultsRoot, fragment),
		)
		if err != nil {
			return fmt.Errorf("move artifacts for execution %s: %w", executionID, err)
		}
	}

	now := time.Now().UTC()
	attempts[idx].FinishedAt = &now
	attempts[idx].Reason = outcome.Reason

	if outcome.Kind == OutcomeSuccess {
		attempts[idx].Status = StatusSuccess

		if idx == len(attempts)-1 {
			group := m.groups[groupID]
			group.Dirty = false
			group.UpdatedAt = now
		}
	} else {
		attempts[idx].Status = StatusFailure
	}

	return nil
}

// RecordMetricValues keeps the flattened leaves in memory, keyed by
// execution id.
func (m *MemoryRegistry) RecordMetricValues(_ context.Context, executionID string, bundle validate.MetricBundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, leaf := range flattenLeaves(bundle) {
		m.metrics[executionID] = append(m.metrics[executionID], leaf.value)
	}

	return nil
}

// GetGroup fetches a group by diagnostic identity and key.
func (m *MemoryRegistry) GetGroup(_ context.Context, providerSlug, diagnosticSlug, key string) (*Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.groupIDs[groupKey(providerSlug, diagnosticSlug, key)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s %q", ErrGroupNotFound, providerSlug, diagnosticSlug, key)
	}

	group := *m.groups[id]

	return &group, nil
}

// ListAttempts returns a copy of a group's attempts ordered by index.
func (m *MemoryRegistry) ListAttempts(_ context.Context, groupID string) ([]Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	attempts := m.attempts[groupID]
	out := make([]Attempt, len(attempts))
	copy(out, attempts)

	return out, nil
}

// ShouldRun reports the staleness decision without reserving anything.
func (m *MemoryRegistry) ShouldRun(_ context.Context, providerSlug, diagnosticSlug, key, candidateHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.groupIDs[groupKey(providerSlug, diagnosticSlug, key)]
	if !ok {
		return true, nil
	}

	attempts := m.attempts[id]

	var latest *Attempt
	if len(attempts) > 0 {
		latest = &attempts[len(attempts)-1]
	}

	return needsNewAttempt(*m.groups[id], latest, candidateHash), nil
}

// MetricValues returns the leaves recorded for an execution, for assertions
// in tests.
func (m *MemoryRegistry) MetricValues(executionID string) []validate.MetricValue {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]validate.MetricValue(nil), m.metrics[executionID]...)
}
