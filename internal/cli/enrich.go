package cli

import (
	"fmt"
	"log/slog"

	"snapspend/internal/cache"
	"snapspend/internal/cloud"
	"snapspend/internal/config"
	"snapspend/internal/core"
	"snapspend/internal/enrich"
	"snapspend/internal/metrics"
)

// Enrichment bundles the pipeline with the geocode cache it reads through.
type Enrichment struct {
	Pipeline *enrich.Pipeline
	Geocodes *enrich.CachingGeocoder
}

// InitEnrichment builds the enrichment pipeline. Without GEOCODING_API_KEY
// every located expense falls back to the uncategorized category.
func InitEnrichment(logger *slog.Logger, cfg *config.Config, store enrich.Store, gateway cloud.ExpenseWriter, identity core.Member, m *metrics.Metrics) (*Enrichment, error) {
	var geocoder enrich.Geocoder = enrich.NoopGeocoder{}
	if cfg.GeocodingAPIKey != "" {
		g, err := enrich.NewGoogleGeocoder(cfg.GeocodingAPIKey)
		if err != nil {
			return nil, fmt.Errorf("create geocoder: %w", err)
		}
		geocoder = g
		logger.Info("Google geocoding enabled", "cache_size", cfg.GeocodeCacheSize, "cache_ttl", cfg.GeocodeCacheTTL)
	} else {
		logger.Info("Geocoding disabled - no GEOCODING_API_KEY provided")
	}

	if !cfg.HasDeviceLocation() {
		logger.Warn("Device location not configured, enrichment jobs will retry until it is")
	}

	cached := enrich.NewCachingGeocoder(geocoder, cfg.GeocodeCacheSize, cfg.GeocodeCacheTTL)
	locator := enrich.NewFixedLocator(cfg.DeviceLatitude, cfg.DeviceLongitude)

	return &Enrichment{
		Pipeline: enrich.NewPipeline(store, locator, cached, gateway, identity, m),
		Geocodes: cached,
	}, nil
}

// RegisterCaches adds the enrichment caches to a cleanup manager.
func (e *Enrichment) RegisterCaches(m *cache.Manager) {
	m.Register(e.Geocodes.Cache())
}
