package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/climate-ref/refcore/internal/config"
	"github.com/climate-ref/refcore/internal/diagnostic"
	"github.com/climate-ref/refcore/internal/fsmove"
	"github.com/climate-ref/refcore/internal/validate"
)

// Paths locates the scratch and results areas RecordOutcome moves artifacts
// between. The per-execution subdirectory is derived from the attempt's
// output fragment and never collides across executions.
type Paths struct {
	ScratchRoot string
	ResultsRoot string
}

// PostgresRegistry implements Store with a PostgreSQL backend. All mutations
// to any one execution group run inside a transaction holding that group's
// row lock, which serializes concurrent solves per group.
type PostgresRegistry struct {
	conn   *Connection
	paths  Paths
	logger *slog.Logger
}

// NewPostgresRegistry creates a production-ready registry on an existing
// pooled connection.
func NewPostgresRegistry(conn *Connection, paths Paths) *PostgresRegistry {
	return &PostgresRegistry{
		conn:  conn,
		paths: paths,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

// Close closes the underlying connection pool. Safe to call multiple times.
func (r *PostgresRegistry) Close() error {
	if r.conn != nil {
		return r.conn.Close()
	}

	return nil
}

// RegisterProvider upserts the provider row and one diagnostic row per
// diagnostic, keyed by slug. A version change appends a version-history row;
// existing execution groups are untouched.
func (r *PostgresRegistry) RegisterProvider(ctx context.Context, p *diagnostic.Provider) error {
	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin register provider: %w", err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	var (
		providerID  string
		prevVersion string
	)

	err = tx.QueryRowContext(ctx,
		`SELECT id, version FROM provider WHERE slug = $1`, p.Slug,
	).Scan(&providerID, &prevVersion)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		providerID = uuid.NewString()

		_, err = tx.ExecContext(ctx,
			`INSERT INTO provider (id, slug, name, version) VALUES ($1, $2, $3, $4)`,
			providerID, p.Slug, p.Slug, p.Version,
		)
		if err != nil {
			return fmt.Errorf("insert provider %q: %w", p.Slug, err)
		}
	case err != nil:
		return fmt.Errorf("query provider %q: %w", p.Slug, err)
	case prevVersion != p.Version:
		_, err = tx.ExecContext(ctx,
			`UPDATE provider SET version = $1, updated_at = now() WHERE id = $2`,
			p.Version, providerID,
		)
		if err != nil {
			return fmt.Errorf("update provider %q: %w", p.Slug, err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO provider_version_history (id, provider_id, version) VALUES ($1, $2, $3)`,
			uuid.NewString(), providerID, p.Version,
		)
		if err != nil {
			return fmt.Errorf("record provider version history %q: %w", p.Slug, err)
		}

		r.logger.Info("provider version changed",
			slog.String("provider", p.Slug),
			slog.String("from", prevVersion),
			slog.String("to", p.Version),
		)
	}

	for _, d := range p.Diagnostics {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO diagnostic (id, provider_id, slug, name)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (provider_id, slug) DO NOTHING`,
			uuid.NewString(), providerID, d.Slug(), d.Slug(),
		)
		if err != nil {
			return fmt.Errorf("upsert diagnostic %q: %w", d.Slug(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit register provider: %w", err)
	}

	return nil
}

// diagnosticID resolves a (provider_slug, diagnostic_slug) pair to its row id.
func diagnosticID(ctx context.Context, tx *sql.Tx, providerSlug, diagnosticSlug string) (string, error) {
	var id string

	err := tx.QueryRowContext(ctx,
		`SELECT d.id
		 FROM diagnostic d
		 JOIN provider p ON p.id = d.provider_id
		 WHERE p.slug = $1 AND d.slug = $2`,
		providerSlug, diagnosticSlug,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s/%s", ErrDiagnosticNotRegistered, providerSlug, diagnosticSlug)
	}

	if err != nil {
		return "", fmt.Errorf("resolve diagnostic %s/%s: %w", providerSlug, diagnosticSlug, err)
	}

	return id, nil
}

// Reserve upserts the execution group, applies the staleness decision under
// the group's row lock, and creates the next attempt row unless dry-run. The
// row lock guarantees two concurrent Reserve calls for one group serialize,
// and the in-flight check guarantees at most one unrecorded attempt exists
// per group at any time.
func (r *PostgresRegistry) Reserve(ctx context.Context, req ReserveRequest) (*Reservation, error) {
	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reserve: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	diagID, err := diagnosticID(ctx, tx, req.ProviderSlug, req.DiagnosticSlug)
	if err != nil {
		return nil, err
	}

	res := &Reservation{}

	err = tx.QueryRowContext(ctx,
		`SELECT id, diagnostic_id, key, dirty, created_at, updated_at
		 FROM execution_group
		 WHERE diagnostic_id = $1 AND key = $2
		 FOR UPDATE`,
		diagID, req.Key,
	).Scan(&res.Group.ID, &res.Group.DiagnosticID, &res.Group.Key,
		&res.Group.Dirty, &res.Group.CreatedAt, &res.Group.UpdatedAt)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		res.GroupCreated = true
		res.Group = Group{
			ID:           uuid.NewString(),
			DiagnosticID: diagID,
			Key:          req.Key,
			Dirty:        true,
		}

		err = tx.QueryRowContext(ctx,
			`INSERT INTO execution_group (id, diagnostic_id, key, dataset_hash, dirty)
			 VALUES ($1, $2, $3, $4, true)
			 RETURNING created_at, updated_at`,
			res.Group.ID, diagID, req.Key, req.DatasetHash,
		).Scan(&res.Group.CreatedAt, &res.Group.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("insert execution group %q: %w", req.Key, err)
		}
	case err != nil:
		return nil, fmt.Errorf("query execution group %q: %w", req.Key, err)
	}

	latest, err := latestAttempt(ctx, tx, res.Group.ID)
	if err != nil {
		return nil, err
	}

	if latest != nil && inFlight(latest.Status) {
		res.InFlight = true

		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit reserve: %w", err)
		}

		return res, nil
	}

	res.NeedsRun = needsNewAttempt(res.Group, latest, req.DatasetHash)
	if !res.NeedsRun || req.DryRun {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit reserve: %w", err)
		}

		return res, nil
	}

	nextIndex := 0
	if latest != nil {
		nextIndex = latest.AttemptIndex + 1
	}

	attempt := Attempt{
		ID:           uuid.NewString(),
		GroupID:      res.Group.ID,
		AttemptIndex: nextIndex,
		DatasetHash:  req.DatasetHash,
		OutputFragment: OutputFragment(
			req.ProviderSlug, req.DiagnosticSlug, req.Key, nextIndex,
		),
		Status: StatusRunning,
	}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO execution (id, execution_group_id, attempt_index, dataset_hash, output_fragment, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING started_at`,
		attempt.ID, attempt.GroupID, attempt.AttemptIndex,
		attempt.DatasetHash, attempt.OutputFragment, attempt.Status,
	).Scan(&attempt.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("insert execution attempt: %w", err)
	}

	res.Attempt = &attempt

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reserve: %w", err)
	}

	return res, nil
}

func latestAttempt(ctx context.Context, tx *sql.Tx, groupID string) (*Attempt, error) {
	var a Attempt

	err := tx.QueryRowContext(ctx,
		`SELECT id, execution_group_id, attempt_index, dataset_hash, output_fragment,
		        status, COALESCE(reason, ''), started_at, finished_at
		 FROM execution
		 WHERE execution_group_id = $1
		 ORDER BY attempt_index DESC
		 LIMIT 1`,
		groupID,
	).Scan(&a.ID, &a.GroupID, &a.AttemptIndex, &a.DatasetHash, &a.OutputFragment,
		&a.Status, &a.Reason, &a.StartedAt, &a.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("query latest attempt: %w", err)
	}

	return &a, nil
}

// RecordOutcome mutates the execution exactly once: it sets the status and
// reason, moves scratch artifacts into the results area, records the output
// rows, and flips the group clean when the outcome is success and the
// execution is the group's latest attempt. Failures leave the group dirty so
// the next solve retries it.
func (r *PostgresRegistry) RecordOutcome(ctx context.Context, executionID string, outcome Outcome) error {
	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record outcome: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	var (
		groupID  string
		fragment string
		hash     string
		status   string
	)

	// Lock the group row first so concurrent outcome recording and Reserve
	// calls for one group serialize.
	err = tx.QueryRowContext(ctx,
		`SELECT e.execution_group_id, e.output_fragment, e.dataset_hash, e.status
		 FROM execution e
		 JOIN execution_group g ON g.id = e.execution_group_id
		 WHERE e.id = $1
		 FOR UPDATE OF g`,
		executionID,
	).Scan(&groupID, &fragment, &hash, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}

	if err != nil {
		return fmt.Errorf("query execution %s: %w", executionID, err)
	}

	if !inFlight(status) {
		return fmt.Errorf("%w: %s", ErrOutcomeAlreadyRecorded, executionID)
	}

	newStatus := StatusFailure
	if outcome.Kind == OutcomeSuccess {
		newStatus = StatusSuccess
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE execution SET status = $1, reason = NULLIF($2, ''), finished_at = now() WHERE id = $3`,
		newStatus, outcome.Reason, executionID,
	)
	if err != nil {
		return fmt.Errorf("update execution %s: %w", executionID, err)
	}

	// Move artifacts before commit. A failed move aborts the transaction and
	// keeps the attempt in flight for inspection rather than marking the
	// group clean against missing artifacts. Failed executions retain their
	// scratch output in place.
	artifacts := outcome.Bundles

	if outcome.Kind == OutcomeSuccess {
		moved, moveErr := fsmove.Move(
			filepath.Join(r.paths.ScratchRoot, filepath.FromSlash(fragment)),
			filepath.Join(r.paths.ResultsRoot, filepath.FromSlash(fragment)),
		)
		if moveErr != nil {
			return fmt.Errorf("move artifacts for execution %s: %w", executionID, moveErr)
		}

		artifacts = append(artifacts, moved...)
	}

	for _, path := range dedupe(artifacts) {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO execution_output (id, execution_id, kind, path) VALUES ($1, $2, $3, $4)`,
			uuid.NewString(), executionID, artifactKind(path), path,
		)
		if err != nil {
			return fmt.Errorf("insert execution output %q: %w", path, err)
		}
	}

	if outcome.Kind == OutcomeSuccess {
		var latestID string

		err = tx.QueryRowContext(ctx,
			`SELECT id FROM execution
			 WHERE execution_group_id = $1
			 ORDER BY attempt_index DESC LIMIT 1`,
			groupID,
		).Scan(&latestID)
		if err != nil {
			return fmt.Errorf("query latest attempt for group %s: %w", groupID, err)
		}

		if latestID == executionID {
			_, err = tx.ExecContext(ctx,
				`UPDATE execution_group SET dirty = false, dataset_hash = $1, updated_at = now() WHERE id = $2`,
				hash, groupID,
			)
			if err != nil {
				return fmt.Errorf("clear dirty flag for group %s: %w", groupID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record outcome: %w", err)
	}

	r.logger.Info("execution outcome recorded",
		slog.String("execution_id", executionID),
		slog.String("status", newStatus),
	)

	return nil
}

// RecordMetricValues flattens the bundle's leaves into metric_value rows,
// one per scalar or series, with the dimension assignment stored as JSONB.
func (r *PostgresRegistry) RecordMetricValues(ctx context.Context, executionID string, bundle validate.MetricBundle) error {
	leaves := flattenLeaves(bundle)
	if len(leaves) == 0 {
		return nil
	}

	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record metric values: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	for _, leaf := range leaves {
		dims, err := json.Marshal(leaf.dimensions)
		if err != nil {
			return fmt.Errorf("marshal dimensions: %w", err)
		}

		switch v := leaf.value.(type) {
		case validate.ScalarValue:
			_, err = tx.ExecContext(ctx,
				`INSERT INTO metric_value (id, execution_id, dimensions, kind, value)
				 VALUES ($1, $2, $3, 'scalar', $4)`,
				uuid.NewString(), executionID, dims, v.Value,
			)
		case validate.SeriesValue:
			var index, values []byte

			if index, err = json.Marshal(v.Index); err != nil {
				return fmt.Errorf("marshal series index: %w", err)
			}

			if values, err = json.Marshal(v.Values); err != nil {
				return fmt.Errorf("marshal series values: %w", err)
			}

			_, err = tx.ExecContext(ctx,
				`INSERT INTO metric_value (id, execution_id, dimensions, kind, series_index, series_values)
				 VALUES ($1, $2, $3, 'series', $4, $5)`,
				uuid.NewString(), executionID, dims, index, values,
			)
		}

		if err != nil {
			return fmt.Errorf("insert metric value: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record metric values: %w", err)
	}

	return nil
}

// GetGroup fetches a group by diagnostic identity and key.
func (r *PostgresRegistry) GetGroup(ctx context.Context, providerSlug, diagnosticSlug, key string) (*Group, error) {
	var g Group

	err := r.conn.QueryRowContext(ctx,
		`SELECT g.id, g.diagnostic_id, g.key, g.dirty, g.created_at, g.updated_at
		 FROM execution_group g
		 JOIN diagnostic d ON d.id = g.diagnostic_id
		 JOIN provider p ON p.id = d.provider_id
		 WHERE p.slug = $1 AND d.slug = $2 AND g.key = $3`,
		providerSlug, diagnosticSlug, key,
	).Scan(&g.ID, &g.DiagnosticID, &g.Key, &g.Dirty, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s %q", ErrGroupNotFound, providerSlug, diagnosticSlug, key)
	}

	if err != nil {
		return nil, fmt.Errorf("query execution group: %w", err)
	}

	return &g, nil
}

// ListAttempts returns a group's attempts ordered by attempt index.
func (r *PostgresRegistry) ListAttempts(ctx context.Context, groupID string) ([]Attempt, error) {
	rows, err := r.conn.QueryContext(ctx,
		`SELECT id, execution_group_id, attempt_index, dataset_hash, output_fragment,
		        status, COALESCE(reason, ''), started_at, finished_at
		 FROM execution
		 WHERE execution_group_id = $1
		 ORDER BY attempt_index ASC`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("query attempts for group %s: %w", groupID, err)
	}
	defer rows.Close()

	var attempts []Attempt

	for rows.Next() {
		var a Attempt

		err := rows.Scan(&a.ID, &a.GroupID, &a.AttemptIndex, &a.DatasetHash,
			&a.OutputFragment, &a.Status, &a.Reason, &a.StartedAt, &a.FinishedAt)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}

		attempts = append(attempts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}

	return attempts, nil
}

// ShouldRun reports the staleness decision without reserving anything.
func (r *PostgresRegistry) ShouldRun(ctx context.Context, providerSlug, diagnosticSlug, key, candidateHash string) (bool, error) {
	group, err := r.GetGroup(ctx, providerSlug, diagnosticSlug, key)
	if errors.Is(err, ErrGroupNotFound) {
		return true, nil
	}

	if err != nil {
		return false, err
	}

	attempts, err := r.ListAttempts(ctx, group.ID)
	if err != nil {
		return false, err
	}

	var latest *Attempt
	if len(attempts) > 0 {
		latest = &attempts[len(attempts)-1]
	}

	return needsNewAttempt(*group, latest, candidateHash), nil
}

// OutputFragment builds the deterministic per-execution relative path
// {provider_slug}/{diagnostic_slug}/{group_key}/{attempt_index}.
func OutputFragment(providerSlug, diagnosticSlug, key string, attemptIndex int) string {
	return fmt.Sprintf("%s/%s/%s/%d", providerSlug, diagnosticSlug, key, attemptIndex)
}

// artifactKind classifies an artifact path into the execution_output kinds.
func artifactKind(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".svg", ".jpg", ".jpeg", ".html", ".pdf":
		return "plot"
	default:
		return "data_file"
	}
}

func dedupe(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))

	for _, p := range paths {
		if _, dup := seen[p]; dup {
			continue
		}

		seen[p] = struct{}{}
		out = append(out, p)
	}

	return out
}

type metricLeaf struct {
	dimensions map[string]string
	value      validate.MetricValue
}

func flattenLeaves(node any) []metricLeaf {
	switch v := node.(type) {
	case validate.MetricBundle:
		return flattenLeaves(map[string]any(v))
	case map[string]any:
		var leaves []metricLeaf
		for _, child := range v {
			leaves = append(leaves, flattenLeaves(child)...)
		}

		return leaves
	case validate.ScalarValue:
		return []metricLeaf{{dimensions: v.Dimensions, value: v}}
	case validate.SeriesValue:
		return []metricLeaf{{dimensions: v.Dimensions, value: v}}
	default:
		return nil
	}
}
