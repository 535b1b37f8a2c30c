package cache

import (
	"context"
	"courier-dispatch-service/internal/adapters/repositories"
	"courier-dispatch-service/internal/domain"
	"courier-dispatch-service/internal/platform/db"
	"courier-dispatch-service/internal/ports"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real Postgres when TEST_DATABASE_URL is set.
func TestSQLLegCacheRoundTrip(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, url, db.DefaultOptions())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, repositories.InitSchema(ctx, conn))

	c := NewSQLLegCache(conn, nil)
	origin := domain.GeoPoint{Lat: 52.5, Lon: 13.4}
	dest := domain.GeoPoint{Lat: 52.6, Lon: 13.5}

	require.NoError(t, c.PutMany(ctx, origin, map[string]ports.RoadLeg{
		dest.Key(): {DistanceMeters: 1234.5, Duration: 3 * time.Minute},
	}))

	got, err := c.GetMany(ctx, origin, []domain.GeoPoint{dest, dest, {Lat: 1, Lon: 1}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1234.5, got[dest.Key()].DistanceMeters)
	assert.Equal(t, 3*time.Minute, got[dest.Key()].Duration)
}

func TestSQLLegCacheNilDB(t *testing.T) {
	c := NewSQLLegCache(nil, nil)
	_, err := c.GetMany(context.Background(), domain.GeoPoint{}, []domain.GeoPoint{{Lat: 1, Lon: 1}})
	assert.Error(t, err)
	assert.Error(t, c.PutMany(context.Background(), domain.GeoPoint{}, map[string]ports.RoadLeg{"x": {}}))
}
