package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/climate-ref/refcore/internal/catalog"
	"github.com/climate-ref/refcore/internal/validate"
)

// LoadCatalog reads the dataset and dataset_file tables into an in-memory
// catalog snapshot. Rows are emitted one per file, sharing the dataset's
// instance id; a dataset with no file rows still contributes one pathless
// row so facet-only requirements can match it. The snapshot is read-only
// for the duration of a solve.
func (r *PostgresRegistry) LoadCatalog(ctx context.Context) (*catalog.Catalog, error) {
	rows, err := r.conn.QueryContext(ctx,
		`SELECT d.source_type, d.instance_id, d.facets, COALESCE(f.path, '')
		 FROM dataset d
		 LEFT JOIN dataset_file f ON f.dataset_id = d.id
		 ORDER BY d.instance_id, f.path`,
	)
	if err != nil {
		return nil, fmt.Errorf("query datasets: %w", err)
	}
	defer rows.Close()

	partitions := make(map[catalog.SourceType][]catalog.Dataset)

	for rows.Next() {
		var (
			sourceType string
			instanceID string
			facetsJSON []byte
			path       string
		)

		if err := rows.Scan(&sourceType, &instanceID, &facetsJSON, &path); err != nil {
			return nil, fmt.Errorf("scan dataset row: %w", err)
		}

		var facets catalog.Facets
		if err := json.Unmarshal(facetsJSON, &facets); err != nil {
			return nil, fmt.Errorf("parse facets for %s: %w", instanceID, err)
		}

		st := catalog.SourceType(sourceType)
		partitions[st] = append(partitions[st], catalog.Dataset{
			SourceType: st,
			InstanceID: instanceID,
			Facets:     facets,
			Path:       path,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate datasets: %w", err)
	}

	cat := catalog.New()
	for st, datasets := range partitions {
		cat.Load(st, datasets)
	}

	return cat, nil
}

// LoadControlledVocabulary reads the cv_dimension and cv_dimension_value
// tables into a validator-ready vocabulary. Returns nil (no error) when no
// dimensions are defined, in which case result validation is skipped.
func (r *PostgresRegistry) LoadControlledVocabulary(ctx context.Context) (*validate.ControlledVocabulary, error) {
	rows, err := r.conn.QueryContext(ctx,
		`SELECT d.name, d.allow_extra_values, COALESCE(v.value, '')
		 FROM cv_dimension d
		 LEFT JOIN cv_dimension_value v ON v.dimension_id = d.id
		 ORDER BY d.name, v.value`,
	)
	if err != nil {
		return nil, fmt.Errorf("query controlled vocabulary: %w", err)
	}
	defer rows.Close()

	var (
		dimensions []validate.Dimension
		current    *validate.Dimension
	)

	for rows.Next() {
		var (
			name       string
			allowExtra bool
			value      string
		)

		if err := rows.Scan(&name, &allowExtra, &value); err != nil {
			return nil, fmt.Errorf("scan dimension row: %w", err)
		}

		if current == nil || current.Name != name {
			dimensions = append(dimensions, validate.Dimension{Name: name, AllowExtraValues: allowExtra})
			current = &dimensions[len(dimensions)-1]
		}

		if value != "" {
			current.Values = append(current.Values, value)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dimensions: %w", err)
	}

	if len(dimensions) == 0 {
		return nil, nil
	}

	return validate.NewControlledVocabulary(dimensions)
}

// SaveControlledVocabulary replaces the persisted vocabulary wholesale.
// Vocabulary loading happens outside the core; this is the hook its owner
// writes through.
func (r *PostgresRegistry) SaveControlledVocabulary(ctx context.Context, cv *validate.ControlledVocabulary) error {
	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save controlled vocabulary: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cv_dimension`); err != nil {
		return fmt.Errorf("clear controlled vocabulary: %w", err)
	}

	for _, dim := range cv.Dimensions {
		dimID := uuid.NewString()

		_, err := tx.ExecContext(ctx,
			`INSERT INTO cv_dimension (id, name, allow_extra_values) VALUES ($1, $2, $3)`,
			dimID, dim.Name, dim.AllowExtraValues,
		)
		if err != nil {
			return fmt.Errorf("insert dimension %q: %w", dim.Name, err)
		}

		for _, value := range dim.Values {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO cv_dimension_value (id, dimension_id, value) VALUES ($1, $2, $3)`,
				uuid.NewString(), dimID, value,
			)
			if err != nil {
				return fmt.Errorf("insert dimension value %q=%q: %w", dim.Name, value, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save controlled vocabulary: %w", err)
	}

	return nil
}
