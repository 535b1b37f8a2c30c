package roadnetwork

import (
	"bytes"
	"context"
	"courier-dispatch-service/internal/domain"
	"courier-dispatch-service/internal/platform/logger"
	"courier-dispatch-service/internal/platform/obs"
	"courier-dispatch-service/internal/ports"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const defaultORSBaseURL = "https://api.openrouteservice.org"

// ORSClient implements RoadNetwork using the OpenRouteService directions API.
//
// It coordinates:
//   - Persistent leg caching
//   - External API calls with retry/backoff
//
// The client is safe for concurrent use.
type ORSClient struct {
	session  *http.Client
	apiKey   string
	baseURL  string
	profile  string
	legCache ports.LegCache
	logger   *zap.Logger
	backoff  time.Duration
}

type ORSOptions struct {
	BaseURL string
	Profile string
	Timeout time.Duration
	// Initial retry delay; doubles per attempt.
	RetryBackoff time.Duration
}

func NewORSClient(apiKey string, opts ORSOptions, legCache ports.LegCache, log *zap.Logger) (*ORSClient, error) {
	if apiKey == "" {
		return nil, errors.New("ORS api key is empty")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultORSBaseURL
	}
	if opts.Profile == "" {
		opts.Profile = "driving-car"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	return &ORSClient{
		session:  &http.Client{Timeout: opts.Timeout},
		apiKey:   apiKey,
		baseURL:  opts.BaseURL,
		profile:  opts.Profile,
		legCache: legCache,
		logger:   logger.OrNop(log),
		backoff:  opts.RetryBackoff,
	}, nil
}

type directionsRequest struct {
	Coordinates [][]float64 `json:"coordinates"`
}

type directionsResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties struct {
			Segments []struct {
				Distance float64 `json:"distance"`
				Duration float64 `json:"duration"`
			} `json:"segments"`
		} `json:"properties"`
	} `json:"features"`
}

// Route returns the road path through points in order. Fully cached paths
// are answered without an API call; their Path is the input points.
func (o *ORSClient) Route(ctx context.Context, points []domain.GeoPoint) (_ ports.RoadRoute, err error) {
	defer obs.Time(ctx, o.logger, "ors.Route")(&err)

	for i, p := range points {
		if err := p.Validate(); err != nil {
			return ports.RoadRoute{}, fmt.Errorf("ORS route: point %d: %w", i, err)
		}
	}
	if len(points) < 2 {
		return ports.RoadRoute{Path: points, Confidence: domain.ConfidenceHigh}, nil
	}

	if legs, ok := o.cachedLegs(ctx, points); ok {
		return assemble(legs, points, domain.ConfidenceHigh), nil
	}

	route, err := o.fetchDirections(ctx, points)
	if err != nil {
		return ports.RoadRoute{}, fmt.Errorf("fetching directions: %w", err)
	}

	if o.legCache != nil {
		for i, leg := range route.Legs {
			entry := map[string]ports.RoadLeg{points[i+1].Key(): leg}
			if err := o.legCache.PutMany(ctx, points[i], entry); err != nil {
				o.logger.Warn("leg cache write failed", zap.Error(err))
				break
			}
		}
	}

	return route, nil
}

// cachedLegs returns every leg of points from the cache, or ok=false on any miss.
func (o *ORSClient) cachedLegs(ctx context.Context, points []domain.GeoPoint) ([]ports.RoadLeg, bool) {
	if o.legCache == nil {
		return nil, false
	}

	legs := make([]ports.RoadLeg, 0, len(points)-1)
	for i := 0; i+1 < len(points); i++ {
		hits, err := o.legCache.GetMany(ctx, points[i], []domain.GeoPoint{points[i+1]})
		if err != nil {
			o.logger.Warn("leg cache read failed", zap.Error(err))
			return nil, false
		}
		leg, ok := hits[points[i+1].Key()]
		if !ok {
			return nil, false
		}
		legs = append(legs, leg)
	}
	return legs, true
}

func (o *ORSClient) fetchDirections(ctx context.Context, points []domain.GeoPoint) (ports.RoadRoute, error) {
	coords := make([][]float64, 0, len(points))
	for _, p := range points {
		coords = append(coords, p.CoordsToList())
	}

	payload, err := json.Marshal(directionsRequest{Coordinates: coords})
	if err != nil {
		return ports.RoadRoute{}, fmt.Errorf("encode directions request: %w", err)
	}

	url := fmt.Sprintf("%s/v2/directions/%s/geojson", o.baseURL, o.profile)
	resp, err := o.doWithRetry(ctx, func() (*http.Request, error) {
		return o.newRequest(ctx, http.MethodPost, url, bytes.NewReader(payload))
	})
	if err != nil {
		return ports.RoadRoute{}, err
	}
	defer resp.Body.Close()

	var body directionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ports.RoadRoute{}, fmt.Errorf("decode directions response: %w", err)
	}
	if len(body.Features) == 0 {
		return ports.RoadRoute{}, errors.New("directions response has no features")
	}

	feature := body.Features[0]
	segments := feature.Properties.Segments
	if len(segments) != len(points)-1 {
		return ports.RoadRoute{}, fmt.Errorf("directions returned %d segments for %d points", len(segments), len(points))
	}

	legs := make([]ports.RoadLeg, 0, len(segments))
	for _, s := range segments {
		legs = append(legs, ports.RoadLeg{
			DistanceMeters: s.Distance,
			Duration:       time.Duration(s.Duration * float64(time.Second)),
		})
	}

	path := make([]domain.GeoPoint, 0, len(feature.Geometry.Coordinates))
	for _, c := range feature.Geometry.Coordinates {
		if len(c) < 2 {
			continue
		}
		path = append(path, domain.GeoPoint{Lat: c[1], Lon: c[0]})
	}
	if len(path) == 0 {
		path = points
	}

	return assemble(legs, path, domain.ConfidenceHigh), nil
}

func assemble(legs []ports.RoadLeg, path []domain.GeoPoint, confidence domain.Confidence) ports.RoadRoute {
	out := ports.RoadRoute{Legs: legs, Path: path, Confidence: confidence}
	for _, l := range legs {
		out.DistanceMeters += l.DistanceMeters
		out.Duration += l.Duration
	}
	return out
}
