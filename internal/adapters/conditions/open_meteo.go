package conditions

import (
	"context"
	"courier-dispatch-service/internal/domain"
	"courier-dispatch-service/internal/platform/logger"
	"courier-dispatch-service/internal/platform/obs"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultOpenMeteoURL = "https://api.open-meteo.com"

// OpenMeteoClient reads current weather from the Open-Meteo forecast API.
type OpenMeteoClient struct {
	session *http.Client
	baseURL string
	logger  *zap.Logger
}

func NewOpenMeteoClient(baseURL string, timeout time.Duration, log *zap.Logger) *OpenMeteoClient {
	if baseURL == "" {
		baseURL = defaultOpenMeteoURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &OpenMeteoClient{
		session: &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.OrNop(log),
	}
}

type forecastResponse struct {
	Current struct {
		Temperature   float64  `json:"temperature_2m"`
		WeatherCode   int      `json:"weather_code"`
		WindSpeed     float64  `json:"wind_speed_10m"`
		Precipitation float64  `json:"precipitation"`
		Visibility    *float64 `json:"visibility"`
	} `json:"current"`
}

func (c *OpenMeteoClient) Current(ctx context.Context, at domain.GeoPoint) (_ domain.Weather, err error) {
	defer obs.Time(ctx, c.logger, "openmeteo.Current")(&err)

	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(at.Lat, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(at.Lon, 'f', 4, 64))
	q.Set("current", "temperature_2m,weather_code,wind_speed_10m,precipitation,visibility")
	q.Set("wind_speed_unit", "kmh")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/forecast?"+q.Encode(), nil)
	if err != nil {
		return domain.Weather{}, fmt.Errorf("open-meteo: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.session.Do(req)
	if err != nil {
		return domain.Weather{}, fmt.Errorf("open-meteo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.Weather{}, fmt.Errorf("open-meteo: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var body forecastResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.Weather{}, fmt.Errorf("open-meteo: decode response: %w", err)
	}

	cur := body.Current
	w := domain.Weather{
		Condition:       ClassifyWeatherCode(cur.WeatherCode),
		Code:            cur.WeatherCode,
		TemperatureC:    cur.Temperature,
		WindKmh:         cur.WindSpeed,
		PrecipitationMm: cur.Precipitation,
	}
	if cur.Visibility != nil {
		w.VisibilityM = *cur.Visibility
	}
	return w, nil
}

// ClassifyWeatherCode maps a WMO weather code to a condition.
func ClassifyWeatherCode(code int) domain.WeatherCondition {
	switch code {
	case 61, 63, 65, 80, 81, 82:
		return domain.WeatherRainy
	case 71, 73, 75, 85, 86:
		return domain.WeatherSnowy
	case 45, 48:
		return domain.WeatherFoggy
	case 95, 96, 99:
		return domain.WeatherStormy
	case 3:
		return domain.WeatherCloudy
	default:
		return domain.WeatherClear
	}
}
