package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Census  CensusConfig  `yaml:"census" mapstructure:"census"`
	Tiles   TilesConfig   `yaml:"tiles" mapstructure:"tiles"`
	Render  RenderConfig  `yaml:"render" mapstructure:"render"`
	Cache   CacheConfig   `yaml:"cache" mapstructure:"cache"`
	PostGIS PostGISConfig `yaml:"postgis" mapstructure:"postgis"`
	Report  ReportConfig  `yaml:"report" mapstructure:"report"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// CensusConfig holds Census Data API settings. Key is passed explicitly to
// the census client and never stored in package state.
type CensusConfig struct {
	Key             string `yaml:"key" mapstructure:"key"`
	BaseURL         string `yaml:"base_url" mapstructure:"base_url"`
	BoundaryBaseURL string `yaml:"boundary_base_url" mapstructure:"boundary_base_url"`
	Dataset         string `yaml:"dataset" mapstructure:"dataset"`
	Year            int    `yaml:"year" mapstructure:"year"`
	TimeoutSecs     int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts     int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	TempDir         string `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// TilesConfig configures the raster basemap tile source.
type TilesConfig struct {
	URL         string        `yaml:"url" mapstructure:"url"`
	Format      string        `yaml:"format" mapstructure:"format"`
	Dir         string        `yaml:"dir" mapstructure:"dir"`
	UserAgent   string        `yaml:"user_agent" mapstructure:"user_agent"`
	RatePerSec  float64       `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	CacheSize   int           `yaml:"cache_size" mapstructure:"cache_size"`
	CacheTTL    time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	Concurrency int           `yaml:"concurrency" mapstructure:"concurrency"`
	TimeoutSecs int           `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	Attribution string        `yaml:"attribution" mapstructure:"attribution"`
}

// RenderConfig holds plot defaults.
type RenderConfig struct {
	Width   int     `yaml:"width" mapstructure:"width"`
	Height  int     `yaml:"height" mapstructure:"height"`
	Padding float64 `yaml:"padding" mapstructure:"padding"`
	Columns int     `yaml:"columns" mapstructure:"columns"`
}

// CacheConfig configures the persistent SQLite response cache.
type CacheConfig struct {
	Path string        `yaml:"path" mapstructure:"path"`
	TTL  time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// PostGISConfig configures the optional PostGIS export target.
type PostGISConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Schema      string `yaml:"schema" mapstructure:"schema"`
	BatchSize   int    `yaml:"batch_size" mapstructure:"batch_size"`
}

// ReportConfig holds defaults for the full report run.
type ReportConfig struct {
	OutputDir  string `yaml:"output_dir" mapstructure:"output_dir"`
	DeathLayer string `yaml:"death_layer" mapstructure:"death_layer"`
	PumpLayer  string `yaml:"pump_layer" mapstructure:"pump_layer"`
	CountField string `yaml:"count_field" mapstructure:"count_field"`
	TargetEPSG int    `yaml:"target_epsg" mapstructure:"target_epsg"`
	State      string `yaml:"state" mapstructure:"state"`
	County     string `yaml:"county" mapstructure:"county"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	Dataset     string   `yaml:"dataset" mapstructure:"dataset"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config file and environment.
func Load() (*Config, error) {
	// .env is optional; values already in the environment win.
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GEOREPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("census.key", "")
	v.SetDefault("census.base_url", "https://api.census.gov/data")
	v.SetDefault("census.boundary_base_url", "https://www2.census.gov/geo/tiger")
	v.SetDefault("census.dataset", "acs/acs5")
	v.SetDefault("census.year", 2019)
	v.SetDefault("census.timeout_secs", 60)
	v.SetDefault("census.max_attempts", 3)
	v.SetDefault("census.temp_dir", "/tmp/geo-report")
	v.SetDefault("tiles.url", "https://tile.openstreetmap.org")
	v.SetDefault("tiles.format", "png")
	v.SetDefault("tiles.dir", "")
	v.SetDefault("tiles.user_agent", "geo-report/1.0")
	v.SetDefault("tiles.rate_per_sec", 2.0)
	v.SetDefault("tiles.cache_size", 2000)
	v.SetDefault("tiles.cache_ttl", time.Hour)
	v.SetDefault("tiles.concurrency", 4)
	v.SetDefault("tiles.timeout_secs", 30)
	v.SetDefault("tiles.max_attempts", 3)
	v.SetDefault("tiles.attribution", "© OpenStreetMap contributors")
	v.SetDefault("render.width", 1024)
	v.SetDefault("render.height", 1024)
	v.SetDefault("render.padding", 0.05)
	v.SetDefault("render.columns", 2)
	v.SetDefault("cache.path", "")
	v.SetDefault("cache.ttl", 24*time.Hour)
	v.SetDefault("postgis.database_url", "")
	v.SetDefault("postgis.schema", "public")
	v.SetDefault("postgis.batch_size", 5000)
	v.SetDefault("report.output_dir", "out")
	v.SetDefault("report.death_layer", "Cholera_Deaths")
	v.SetDefault("report.pump_layer", "Pumps")
	v.SetDefault("report.count_field", "Count")
	v.SetDefault("report.target_epsg", 3857)
	v.SetDefault("report.state", "IL")
	v.SetDefault("report.county", "031")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.dataset", "")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
