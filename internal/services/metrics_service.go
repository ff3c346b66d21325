package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"

	"github.com/ryanhale/tracksync/internal/models"
	"github.com/ryanhale/tracksync/pkg/mqtt"
)

// MetricsService periodically publishes agent health and per-session
// tracking counters to the metrics topic.
type MetricsService struct {
	interval     time.Duration
	qos          int
	tracker      *TrackerService
	mqttClient   mqtt.MQTTClient
	topicManager *mqtt.TopicManager
	logger       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMetricsService creates a MetricsService.
func NewMetricsService(interval time.Duration, qos int, tracker *TrackerService, mqttClient mqtt.MQTTClient,
	topicManager *mqtt.TopicManager, logger zerolog.Logger) *MetricsService {
	return &MetricsService{
		interval:     interval,
		qos:          qos,
		tracker:      tracker,
		mqttClient:   mqttClient,
		topicManager: topicManager,
		logger:       logger,
	}
}

// Start launches the metrics loop in a separate goroutine.
func (m *MetricsService) Start() error {
	if m.ctx != nil {
		m.logger.Warn().Msg("MetricsService is already running")
		return errors.New("metrics service is already running")
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runMetricsLoop()
	}()

	m.logger.Info().Dur("interval", m.interval).Msg("MetricsService started")
	return nil
}

// Stop gracefully stops the metrics service.
func (m *MetricsService) Stop() error {
	if m.ctx == nil {
		m.logger.Warn().Msg("MetricsService is not running")
		return errors.New("metrics service is not running")
	}

	m.cancel()
	m.wg.Wait()

	m.ctx = nil
	m.cancel = nil

	m.logger.Info().Msg("MetricsService stopped")
	return nil
}

func (m *MetricsService) runMetricsLoop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.publishMetrics(); err != nil {
				m.logger.Error().Err(err).Msg("Failed to publish metrics")
			}
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *MetricsService) publishMetrics() error {
	metrics := models.AgentMetrics{
		Timestamp: time.Now(),
		Sessions:  m.tracker.Statuses(),
	}

	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		metrics.CPUPercent = percentages[0]
	} else if err != nil {
		m.logger.Debug().Err(err).Msg("CPU usage unavailable")
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		metrics.MemoryPercent = vm.UsedPercent
	} else {
		m.logger.Debug().Err(err).Msg("Memory usage unavailable")
	}

	payload, err := json.Marshal(metrics)
	if err != nil {
		return err
	}

	token := m.mqttClient.Publish(m.topicManager.MetricsTopic(), byte(m.qos), false, payload)
	token.Wait()
	return token.Error()
}
