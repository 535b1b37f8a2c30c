package domain

import "time"

type WeatherCondition string

const (
	WeatherClear  WeatherCondition = "clear"
	WeatherCloudy WeatherCondition = "cloudy"
	WeatherRainy  WeatherCondition = "rainy"
	WeatherSnowy  WeatherCondition = "snowy"
	WeatherFoggy  WeatherCondition = "foggy"
	WeatherStormy WeatherCondition = "stormy"
)

type Weather struct {
	Condition       WeatherCondition `json:"condition"`
	Code            int              `json:"code"`
	TemperatureC    float64          `json:"temperature_c"`
	WindKmh         float64          `json:"wind_kmh"`
	PrecipitationMm float64          `json:"precipitation_mm"`
	VisibilityM     float64          `json:"visibility_m"`
}

// Wet reports rain or storm, either classified or measured above threshold mm/h.
func (w Weather) Wet(threshold float64) bool {
	return w.Condition == WeatherRainy || w.Condition == WeatherStormy || w.PrecipitationMm > threshold
}

type TrafficLevel string

const (
	TrafficLight    TrafficLevel = "light"
	TrafficModerate TrafficLevel = "moderate"
	TrafficHeavy    TrafficLevel = "heavy"
)

type Traffic struct {
	Level   TrafficLevel `json:"level"`
	Density float64      `json:"density"`
}

type ImpactLevel string

const (
	ImpactLow    ImpactLevel = "low"
	ImpactMedium ImpactLevel = "medium"
	ImpactHigh   ImpactLevel = "high"
)

// Point-in-time read of weather and traffic around one location.
// ImpactScore is normalised to [0,1], higher meaning worse conditions.
type ConditionSnapshot struct {
	Weather     Weather     `json:"weather"`
	Traffic     Traffic     `json:"traffic"`
	ImpactScore float64     `json:"impact_score"`
	ImpactLevel ImpactLevel `json:"impact_level"`
	ObservedAt  time.Time   `json:"observed_at"`
	Confidence  Confidence  `json:"confidence"`
}

const maxImpactPoints = 11.0

// ComputeImpact scores weather and traffic on a point scale, then normalises it.
func ComputeImpact(w Weather, t Traffic) (float64, ImpactLevel) {
	points := 0.0

	switch w.Condition {
	case WeatherRainy, WeatherSnowy, WeatherStormy:
		points += 3
	case WeatherCloudy, WeatherFoggy:
		points++
	}

	if w.VisibilityM > 0 {
		switch {
		case w.VisibilityM < 1000:
			points += 3
		case w.VisibilityM < 5000:
			points++
		}
	}

	switch {
	case w.WindKmh > 54:
		points += 2
	case w.WindKmh > 36:
		points++
	}

	switch t.Level {
	case TrafficHeavy:
		points += 3
	case TrafficModerate:
		points++
	}

	level := ImpactLow
	switch {
	case points >= 5:
		level = ImpactHigh
	case points >= 3:
		level = ImpactMedium
	}

	return points / maxImpactPoints, level
}

// NewSnapshot builds a snapshot with its impact fields filled in.
func NewSnapshot(w Weather, t Traffic, observedAt time.Time, confidence Confidence) ConditionSnapshot {
	score, level := ComputeImpact(w, t)
	return ConditionSnapshot{
		Weather:     w,
		Traffic:     t,
		ImpactScore: score,
		ImpactLevel: level,
		ObservedAt:  observedAt,
		Confidence:  confidence,
	}
}

// Worse returns whichever snapshot has the higher impact score.
func Worse(a, b ConditionSnapshot) ConditionSnapshot {
	if b.ImpactScore > a.ImpactScore {
		return b
	}
	return a
}

// DefaultSnapshot is the clear-weather stand-in used when no observation is available.
func DefaultSnapshot(at time.Time) ConditionSnapshot {
	return NewSnapshot(
		Weather{Condition: WeatherClear, TemperatureC: 20, VisibilityM: 10000},
		Traffic{Level: TrafficLight},
		at,
		ConfidenceLow,
	)
}
