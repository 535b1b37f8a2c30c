package config

import (
	"courier-dispatch-service/internal/services"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. DISPATCH_KAFKA_BROKERS.
const EnvPrefix = "DISPATCH"

type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	ORS          ORSConfig          `mapstructure:"ors"`
	OpenMeteo    OpenMeteoConfig    `mapstructure:"open_meteo"`
	Conditions   ConditionsConfig   `mapstructure:"conditions"`
	Scoring      ScoringConfig      `mapstructure:"scoring"`
	Tracking     TrackingConfig     `mapstructure:"tracking"`
	Reevaluation ReevaluationConfig `mapstructure:"reevaluation"`
	Optimizer    OptimizerConfig    `mapstructure:"optimizer"`
	Couriers     CouriersConfig     `mapstructure:"couriers"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LegCacheMaxAge  time.Duration `mapstructure:"leg_cache_max_age"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers"`
	EventsTopic string   `mapstructure:"events_topic"`
	PingsTopic  string   `mapstructure:"pings_topic"`
	GroupID     string   `mapstructure:"group_id"`
}

type ORSConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Profile      string        `mapstructure:"profile"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	FallbackKmh  float64       `mapstructure:"fallback_kmh"`
}

type OpenMeteoConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ConditionsConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	Timezone string        `mapstructure:"timezone"`
}

type ScoringConfig struct {
	ProximityWeight   float64 `mapstructure:"proximity_weight"`
	LoadWeight        float64 `mapstructure:"load_weight"`
	SuitabilityWeight float64 `mapstructure:"suitability_weight"`
	RatingWeight      float64 `mapstructure:"rating_weight"`
	SpecialtyWeight   float64 `mapstructure:"specialty_weight"`
	ProximityHalfKm   float64 `mapstructure:"proximity_half_km"`
	MetroRadiusKm     float64 `mapstructure:"metro_radius_km"`
	CrossZonePenalty  float64 `mapstructure:"cross_zone_penalty"`
	SevereWindKmh     float64 `mapstructure:"severe_wind_kmh"`
	SeverePrecipMm    float64 `mapstructure:"severe_precip_mm"`
	RainyPrecipMm     float64 `mapstructure:"rainy_precip_mm"`
	ExpressTripKm     float64 `mapstructure:"express_trip_km"`
	LongHaulKm        float64 `mapstructure:"long_haul_km"`
	Parallelism       int     `mapstructure:"parallelism"`
}

type TrackingConfig struct {
	PickupRadiusMeters  float64 `mapstructure:"pickup_radius_m"`
	DropoffRadiusMeters float64 `mapstructure:"dropoff_radius_m"`
	MinMotionKmh        float64 `mapstructure:"min_motion_kmh"`
	DefaultSpeedKmh     float64 `mapstructure:"default_speed_kmh"`
	MaxSpeedKmh         float64 `mapstructure:"max_speed_kmh"`
	SpeedWindow         int     `mapstructure:"speed_window"`
	HistorySize         int     `mapstructure:"history_size"`
}

type ReevaluationConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	RerouteMargin  float64       `mapstructure:"reroute_margin"`
	DistanceWeight float64       `mapstructure:"distance_weight"`
	DurationWeight float64       `mapstructure:"duration_weight"`
}

type OptimizerConfig struct {
	TravelMinutesPerKm float64       `mapstructure:"travel_minutes_per_km"`
	PickupDwell        time.Duration `mapstructure:"pickup_dwell"`
	DropoffDwell       time.Duration `mapstructure:"dropoff_dwell"`
	FuelCostPerKm      float64       `mapstructure:"fuel_cost_per_km"`
	TimeCostPerMinute  float64       `mapstructure:"time_cost_per_minute"`
}

type CouriersConfig struct {
	SeedPath string `mapstructure:"seed_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.leg_cache_max_age", 7*24*time.Hour)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.events_topic", "dispatch.events")
	v.SetDefault("kafka.pings_topic", "courier.pings")
	v.SetDefault("kafka.group_id", "courier-dispatch")

	v.SetDefault("ors.api_key", "")
	v.SetDefault("ors.base_url", "https://api.openrouteservice.org")
	v.SetDefault("ors.profile", "driving-car")
	v.SetDefault("ors.timeout", 10*time.Second)
	v.SetDefault("ors.retry_backoff", 200*time.Millisecond)
	v.SetDefault("ors.fallback_kmh", 30.0)

	v.SetDefault("open_meteo.base_url", "https://api.open-meteo.com")
	v.SetDefault("open_meteo.timeout", 5*time.Second)

	v.SetDefault("conditions.cache_ttl", 30*time.Minute)
	v.SetDefault("conditions.timezone", "UTC")

	s := services.DefaultScoringConfig()
	v.SetDefault("scoring.proximity_weight", s.Weights.Proximity)
	v.SetDefault("scoring.load_weight", s.Weights.Load)
	v.SetDefault("scoring.suitability_weight", s.Weights.Suitability)
	v.SetDefault("scoring.rating_weight", s.Weights.Rating)
	v.SetDefault("scoring.specialty_weight", s.Weights.Specialty)
	v.SetDefault("scoring.proximity_half_km", s.ProximityHalfKm)
	v.SetDefault("scoring.metro_radius_km", s.MetroRadiusKm)
	v.SetDefault("scoring.cross_zone_penalty", s.CrossZonePenalty)
	v.SetDefault("scoring.severe_wind_kmh", s.SevereWindKmh)
	v.SetDefault("scoring.severe_precip_mm", s.SeverePrecipMm)
	v.SetDefault("scoring.rainy_precip_mm", s.RainyPrecipMm)
	v.SetDefault("scoring.express_trip_km", s.ExpressTripKm)
	v.SetDefault("scoring.long_haul_km", s.LongHaulKm)
	v.SetDefault("scoring.parallelism", s.Parallelism)

	tr := services.DefaultTrackingConfig()
	v.SetDefault("tracking.pickup_radius_m", tr.PickupRadiusMeters)
	v.SetDefault("tracking.dropoff_radius_m", tr.DropoffRadiusMeters)
	v.SetDefault("tracking.min_motion_kmh", tr.MinMotionKmh)
	v.SetDefault("tracking.default_speed_kmh", tr.DefaultSpeedKmh)
	v.SetDefault("tracking.max_speed_kmh", tr.MaxSpeedKmh)
	v.SetDefault("tracking.speed_window", tr.SpeedWindow)
	v.SetDefault("tracking.history_size", tr.HistorySize)

	re := services.DefaultReevaluationConfig()
	v.SetDefault("reevaluation.interval", re.Interval)
	v.SetDefault("reevaluation.reroute_margin", re.RerouteMargin)
	v.SetDefault("reevaluation.distance_weight", re.DistanceWeight)
	v.SetDefault("reevaluation.duration_weight", re.DurationWeight)

	o := services.DefaultOptimizerConfig()
	v.SetDefault("optimizer.travel_minutes_per_km", o.TravelMinutesPerKm)
	v.SetDefault("optimizer.pickup_dwell", o.PickupDwell)
	v.SetDefault("optimizer.dropoff_dwell", o.DropoffDwell)
	v.SetDefault("optimizer.fuel_cost_per_km", o.FuelCostPerKm)
	v.SetDefault("optimizer.time_cost_per_minute", o.TimeCostPerMinute)

	v.SetDefault("couriers.seed_path", "data/seeds/couriers.json")
}

// Load reads .env (if present), then the optional config file at path, then
// DISPATCH_* environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	var cfg Config
	decoderConfigOption := viper.DecoderConfigOption(func(dc *mapstructure.DecoderConfig) {
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	})
	if err := v.Unmarshal(&cfg, decoderConfigOption); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Conditions.CacheTTL <= 0 {
		errs = append(errs, errors.New("conditions.cache_ttl must be positive"))
	}
	if c.Reevaluation.Interval <= 0 {
		errs = append(errs, errors.New("reevaluation.interval must be positive"))
	}
	if c.Reevaluation.RerouteMargin < 0 {
		errs = append(errs, errors.New("reevaluation.reroute_margin must be >= 0"))
	}
	if c.Tracking.PickupRadiusMeters <= 0 || c.Tracking.DropoffRadiusMeters <= 0 {
		errs = append(errs, errors.New("tracking geofence radii must be positive"))
	}
	if c.Tracking.MaxSpeedKmh < c.Tracking.MinMotionKmh {
		errs = append(errs, errors.New("tracking.max_speed_kmh must be >= min_motion_kmh"))
	}
	w := c.Scoring
	if w.ProximityWeight < 0 || w.LoadWeight < 0 || w.SuitabilityWeight < 0 || w.RatingWeight < 0 || w.SpecialtyWeight < 0 {
		errs = append(errs, errors.New("scoring weights must be >= 0"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) ScoringConfig() services.ScoringConfig {
	s := c.Scoring
	return services.ScoringConfig{
		Weights: services.ScoringWeights{
			Proximity:   s.ProximityWeight,
			Load:        s.LoadWeight,
			Suitability: s.SuitabilityWeight,
			Rating:      s.RatingWeight,
			Specialty:   s.SpecialtyWeight,
		},
		ProximityHalfKm:  s.ProximityHalfKm,
		MetroRadiusKm:    s.MetroRadiusKm,
		CrossZonePenalty: s.CrossZonePenalty,
		SevereWindKmh:    s.SevereWindKmh,
		SeverePrecipMm:   s.SeverePrecipMm,
		RainyPrecipMm:    s.RainyPrecipMm,
		ExpressTripKm:    s.ExpressTripKm,
		LongHaulKm:       s.LongHaulKm,
		Parallelism:      s.Parallelism,
	}
}

func (c *Config) TrackingConfig() services.TrackingConfig {
	return services.TrackingConfig(c.Tracking)
}

func (c *Config) ReevaluationConfig() services.ReevaluationConfig {
	return services.ReevaluationConfig(c.Reevaluation)
}

func (c *Config) OptimizerConfig() services.OptimizerConfig {
	return services.OptimizerConfig(c.Optimizer)
}
