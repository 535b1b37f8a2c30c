package conditions

import (
	"context"
	"courier-dispatch-service/internal/domain"
	"courier-dispatch-service/internal/platform/logger"
	"courier-dispatch-service/internal/ports"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// CachedProvider combines a weather source and a traffic model into condition
// snapshots, caching them briefly per rounded location. A failed weather read
// yields an uncached default snapshot tagged low confidence.
type CachedProvider struct {
	weather ports.WeatherSource
	traffic ports.TrafficSource
	cache   ports.SnapshotCache
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

func NewCachedProvider(
	weather ports.WeatherSource,
	traffic ports.TrafficSource,
	cache ports.SnapshotCache,
	ttl time.Duration,
	log *zap.Logger,
) *CachedProvider {
	return &CachedProvider{
		weather: weather,
		traffic: traffic,
		cache:   cache,
		ttl:     ttl,
		logger:  logger.OrNop(log),
		now:     time.Now,
	}
}

// CacheKey rounds to two decimals (about 1 km) so nearby lookups share an entry.
func CacheKey(p domain.GeoPoint) string {
	return fmt.Sprintf("%.2f,%.2f", p.Lat, p.Lon)
}

func (p *CachedProvider) Snapshot(ctx context.Context, at domain.GeoPoint) (domain.ConditionSnapshot, error) {
	if err := at.Validate(); err != nil {
		return domain.ConditionSnapshot{}, fmt.Errorf("conditions snapshot: %w", err)
	}

	key := CacheKey(at)
	if p.cache != nil {
		snap, ok, err := p.cache.Get(ctx, key)
		if err != nil {
			p.logger.Warn("snapshot cache read failed", zap.String("key", key), zap.Error(err))
		} else if ok {
			return snap, nil
		}
	}

	now := p.now()

	w, err := p.weather.Current(ctx, at)
	if err != nil {
		p.logger.Warn("weather unavailable, assuming clear", zap.String("key", key), zap.Error(err))
		return domain.DefaultSnapshot(now), nil
	}

	t := domain.Traffic{Level: domain.TrafficLight}
	if p.traffic != nil {
		if t, err = p.traffic.Traffic(ctx, at, now); err != nil {
			p.logger.Warn("traffic unavailable", zap.String("key", key), zap.Error(err))
			t = domain.Traffic{Level: domain.TrafficLight}
		}
	}

	snap := domain.NewSnapshot(w, t, now, domain.ConfidenceHigh)

	if p.cache != nil {
		if err := p.cache.Set(ctx, key, snap, p.ttl); err != nil {
			p.logger.Warn("snapshot cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return snap, nil
}
