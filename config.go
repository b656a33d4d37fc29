package main

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the edge settings, read from the environment (and an
// optional .env file).
type Config struct {
	Port        string `env:"PORT" envDefault:"8050"`
	UpstreamURL string `env:"UPSTREAM_URL" envDefault:"http://127.0.0.1:5000"`

	DataDir              string `env:"DATA_DIR" envDefault:"static/data"`
	DataURL              string `env:"DATA_URL"` // fetch datasets over HTTP instead of DataDir
	DescriptionsResource string `env:"DESCRIPTIONS_RESOURCE" envDefault:"symptom_Description.csv"`
	PrecautionsResource  string `env:"PRECAUTIONS_RESOURCE" envDefault:"symptom_precaution.csv"`
	VaccinationResource  string `env:"VACCINATION_RESOURCE" envDefault:"vaccination_schedule.json"`
	WatchDatasets        bool   `env:"WATCH_DATASETS" envDefault:"true"`

	CachePath    string `env:"CACHE_PATH" envDefault:"data/offline-cache.db"`
	ManifestPath string `env:"MANIFEST_PATH"`
	SkipWaiting  bool   `env:"SKIP_WAITING" envDefault:"true"`
	LookupDBPath string `env:"LOOKUP_DB_PATH" envDefault:"data/lookups.db"`

	ChatPathMarker string `env:"CHAT_PATH_MARKER" envDefault:"/get_response"`
	APIPathMarker  string `env:"API_PATH_MARKER" envDefault:"/api/"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`
}

// LoadConfig loads .env if present and parses the environment.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// DatasetFiles returns the configured dataset resource ids.
func (c Config) DatasetFiles() DatasetFiles {
	return DatasetFiles{
		Descriptions: c.DescriptionsResource,
		Precautions:  c.PrecautionsResource,
		Vaccinations: c.VaccinationResource,
	}
}

// RouterConfig returns the request classification markers.
func (c Config) RouterConfig() RouterConfig {
	return RouterConfig{ChatMarker: c.ChatPathMarker, APIMarker: c.APIPathMarker}
}

// Manifest returns the configured manifest, or the built-in one.
func (c Config) Manifest() (Manifest, error) {
	if c.ManifestPath == "" {
		return DefaultManifest, nil
	}
	return LoadManifest(c.ManifestPath)
}

// DatasetSource returns the dataset source: HTTP when DataURL is set,
// otherwise the DataDir directory.
func (c Config) DatasetSource() (Source, error) {
	if c.DataURL != "" {
		return NewHTTPSource(c.DataURL, nil)
	}
	return NewDirSource(c.DataDir), nil
}
