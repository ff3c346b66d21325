package influx

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/rs/zerolog"

	"github.com/ryanhale/tracksync/internal/models"
)

// Config holds the InfluxDB connection settings for the history sink.
type Config struct {
	URL          string
	Token        string
	Organization string
	Bucket       string
}

// HistoryWriter appends every persisted sample to InfluxDB. The document
// store only keeps the latest sample per owner; this is the append-only
// history the deployment can opt into.
type HistoryWriter struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   zerolog.Logger
}

// NewHistoryWriter connects to InfluxDB and verifies its health.
func NewHistoryWriter(cfg Config, logger zerolog.Logger) (*HistoryWriter, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("error connecting to InfluxDB: %v", err)
	}
	if health.Status != "pass" {
		return nil, fmt.Errorf("InfluxDB health check failed: %s", health.Status)
	}

	return &HistoryWriter{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Organization, cfg.Bucket),
		logger:   logger,
	}, nil
}

// Record appends one sample to the history measurement.
func (w *HistoryWriter) Record(ctx context.Context, sample models.LocationSample) error {
	point := influxdb2.NewPoint(
		"location_history",
		sample.ToInfluxTags(),
		sample.ToInfluxFields(),
		sample.CapturedAt,
	)
	w.writeAPI.WritePoint(point)

	w.logger.Debug().
		Str("owner_id", sample.OwnerID).
		Float64("latitude", sample.Latitude).
		Float64("longitude", sample.Longitude).
		Msg("Appended sample to location history")
	return nil
}

// Close flushes pending points and closes the client.
func (w *HistoryWriter) Close() {
	w.writeAPI.Flush()
	w.client.Close()
}
