package registry

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/climate-ref/refcore/internal/catalog"
	"github.com/climate-ref/refcore/internal/validate"
)

func TestPostgresRegistry_LoadCatalog(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	reg := setupPostgresRegistry(ctx, t)

	datasetID := uuid.NewString()

	_, err := reg.conn.ExecContext(ctx,
		`INSERT INTO dataset (id, source_type, instance_id, facets)
		 VALUES ($1, 'cmip6', 'CMIP6.tas.historical.r1', '{"variable_id": "tas", "experiment_id": "historical"}')`,
		datasetID,
	)
	require.NoError(t, err)

	for _, path := range []string{"/data/tas_2000.nc", "/data/tas_2010.nc"} {
		_, err = reg.conn.ExecContext(ctx,
			`INSERT INTO dataset_file (id, dataset_id, path, size_bytes, checksum)
			 VALUES ($1, $2, $3, 1024, 'sha256:abc')`,
			uuid.NewString(), datasetID, path,
		)
		require.NoError(t, err)
	}

	cat, err := reg.LoadCatalog(ctx)
	require.NoError(t, err)

	rows := cat.Partition(catalog.SourceTypeCMIP6)
	require.Len(t, rows, 2, "one catalog row per file")
	require.Equal(t, "CMIP6.tas.historical.r1", rows[0].InstanceID)
	require.Equal(t, "tas", rows[0].Facets["variable_id"])
	require.Equal(t, "/data/tas_2000.nc", rows[0].Path)
}

func TestPostgresRegistry_ControlledVocabularyRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	reg := setupPostgresRegistry(ctx, t)

	// An empty store yields no vocabulary, which disables validation.
	cv, err := reg.LoadControlledVocabulary(ctx)
	require.NoError(t, err)
	require.Nil(t, cv)

	saved, err := validate.NewControlledVocabulary([]validate.Dimension{
		{Name: "region", Values: []string{"global", "tropics"}},
		{Name: "statistic", AllowExtraValues: true},
	})
	require.NoError(t, err)
	require.NoError(t, reg.SaveControlledVocabulary(ctx, saved))

	loaded, err := reg.LoadControlledVocabulary(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Len(t, loaded.Dimensions, 2)

	region, ok := loaded.Dimension("region")
	require.True(t, ok)
	require.Equal(t, []string{"global", "tropics"}, region.Values)

	statistic, ok := loaded.Dimension("statistic")
	require.True(t, ok)
	require.True(t, statistic.AllowExtraValues)
	require.Empty(t, statistic.Values)
}
