package position

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"googlemaps.github.io/maps"
)

// GoogleSource resolves position fixes through the Google Maps Geolocation
// API using nearby WiFi access points and cell towers.
type GoogleSource struct {
	client *maps.Client
	logger zerolog.Logger
}

// NewGoogleSource creates a GoogleSource with the given API key.
func NewGoogleSource(apiKey string, logger zerolog.Logger) (*GoogleSource, error) {
	c, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &GoogleSource{client: c, logger: logger}, nil
}

// RequestPermission is a no-op grant; access control happens at the API key.
func (g *GoogleSource) RequestPermission(ctx context.Context) error {
	return nil
}

// Current retrieves a single fix from the Geolocation API.
func (g *GoogleSource) Current(ctx context.Context) (Sample, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req := &maps.GeolocationRequest{ConsiderIP: true}

	if wifiAPs, err := getWiFiAccessPoints(ctx); err == nil {
		req.WiFiAccessPoints = wifiAPs
	} else {
		g.logger.Debug().Err(err).Msg("WiFi scan unavailable, falling back to IP geolocation")
	}

	if cellTowers, err := getCellTowers(ctx, 0); err == nil {
		req.CellTowers = cellTowers
	} else {
		g.logger.Debug().Err(err).Msg("Cell tower scan unavailable")
	}

	resp, err := g.client.Geolocate(ctx, req)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return Sample{
		Latitude:   resp.Location.Lat,
		Longitude:  resp.Location.Lng,
		Accuracy:   resp.Accuracy,
		CapturedAt: time.Now(),
	}, nil
}

// Watch polls the Geolocation API at the configured interval. The API has no
// native streaming mode, so continuous acquisition degrades to gated polling.
func (g *GoogleSource) Watch(ctx context.Context, cfg WatchConfig) (Watcher, error) {
	cfg = cfg.withDefaults()
	w := newChannelWatcher()

	go func() {
		defer w.close()

		gate := newGate(cfg)
		ticker := time.NewTicker(cfg.MinInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				sample, err := g.Current(ctx)
				if err != nil {
					g.logger.Error().Err(err).Msg("Geolocation poll failed")
					continue
				}
				if gate.admit(sample) {
					w.emit(ctx, sample)
				}
			case <-w.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return w, nil
}
