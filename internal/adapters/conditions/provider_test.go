package conditions

import (
	"context"
	"courier-dispatch-service/internal/adapters/cache"
	"courier-dispatch-service/internal/domain"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubWeather struct {
	w     domain.Weather
	err   error
	calls int
}

func (s *stubWeather) Current(context.Context, domain.GeoPoint) (domain.Weather, error) {
	s.calls++
	return s.w, s.err
}

func newProvider(t *testing.T, weather *stubWeather) (*CachedProvider, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	p := NewCachedProvider(weather, NewHourlyTraffic(time.UTC), cache.NewRedisSnapshotCache(client), 30*time.Minute, nil)
	p.now = func() time.Time { return time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC) }
	return p, mr
}

func TestCachedProviderCachesSnapshots(t *testing.T) {
	weather := &stubWeather{w: domain.Weather{Condition: domain.WeatherRainy, PrecipitationMm: 3}}
	p, mr := newProvider(t, weather)
	ctx := context.Background()

	at := domain.GeoPoint{Lat: 52.5213, Lon: 13.4049}
	first, err := p.Snapshot(ctx, at)
	require.NoError(t, err)
	assert.Equal(t, domain.TrafficHeavy, first.Traffic.Level)
	assert.Equal(t, domain.ImpactHigh, first.ImpactLevel)
	assert.Equal(t, domain.ConfidenceHigh, first.Confidence)

	// A point rounding to the same key is served from cache.
	second, err := p.Snapshot(ctx, domain.GeoPoint{Lat: 52.5249, Lon: 13.4001})
	require.NoError(t, err)
	assert.Equal(t, 1, weather.calls)
	assert.Equal(t, first.ImpactScore, second.ImpactScore)

	assert.Equal(t, 30*time.Minute, mr.TTL("conditions:52.52,13.40"))
}

func TestCachedProviderDegradesWithoutCaching(t *testing.T) {
	weather := &stubWeather{err: errors.New("timeout")}
	p, mr := newProvider(t, weather)

	snap, err := p.Snapshot(context.Background(), domain.GeoPoint{Lat: 1, Lon: 1})
	require.NoError(t, err)
	assert.Equal(t, domain.ConfidenceLow, snap.Confidence)
	assert.Equal(t, domain.WeatherClear, snap.Weather.Condition)
	assert.Empty(t, mr.Keys())
}

func TestCachedProviderRejectsBadCoordinates(t *testing.T) {
	p, _ := newProvider(t, &stubWeather{})
	_, err := p.Snapshot(context.Background(), domain.GeoPoint{Lat: 100})
	assert.ErrorIs(t, err, domain.ErrInvalidCoordinates)
}
