//go:build integration

package search

import (
	"context"
	"testing"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcelastic "github.com/testcontainers/testcontainers-go/modules/elasticsearch"

	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
)

func TestIndexer_AgainstElasticsearch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	container, err := tcelastic.Run(ctx,
		"docker.elastic.co/elasticsearch/elasticsearch:8.11.0",
		tcelastic.WithPassword("changeme"),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	client, err := es.NewClient(es.Config{
		Addresses: []string{container.Settings.Address},
		Username:  "elastic",
		Password:  container.Settings.Password,
		CACert:    container.Settings.CACert,
	})
	require.NoError(t, err)

	idx := New(client, Config{Index: "properties-it", Refresh: true}, infralogger.NewNop())
	require.NoError(t, idx.EnsureIndex(ctx))
	require.NoError(t, idx.EnsureIndex(ctx))

	prop := sampleProperty()
	require.NoError(t, idx.IndexProperty(ctx, prop))

	res, err := idx.Search(ctx, Query{Text: "providencia", City: "Guadalajara", Operation: "sale", MaxPrice: 5000000})
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Total)
	assert.Equal(t, prop.ID, res.Hits[0].Document.ID)

	res, err = idx.Search(ctx, Query{Operation: "rent", MaxPrice: 10000})
	require.NoError(t, err)
	assert.Zero(t, res.Total)

	res, err = idx.Search(ctx, Query{Near: &GeoPoint{Lat: 20.66, Lon: -103.35}, RadiusKm: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Total)

	require.NoError(t, idx.DeleteProperty(ctx, prop.ID))
	require.NoError(t, idx.DeleteProperty(ctx, prop.ID))
}
