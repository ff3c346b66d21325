package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ryanhale/tracksync/internal/models"
	"github.com/ryanhale/tracksync/internal/store"
	"github.com/ryanhale/tracksync/pkg/mqtt"
)

// MirrorService republishes every location change to MQTT so external map
// viewers can follow the live feed without talking to the document store.
// The latest sample per owner is retained on its topic, mirroring the
// store's last-write-wins model.
type MirrorService struct {
	qos          int
	principal    models.Principal
	feedService  *FeedService
	mqttClient   mqtt.MQTTClient
	topicManager *mqtt.TopicManager
	logger       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	feed   *Feed
}

// NewMirrorService creates a MirrorService publishing under the principal's
// authority.
func NewMirrorService(qos int, principal models.Principal, feedService *FeedService, mqttClient mqtt.MQTTClient,
	topicManager *mqtt.TopicManager, logger zerolog.Logger) *MirrorService {
	return &MirrorService{
		qos:          qos,
		principal:    principal,
		feedService:  feedService,
		mqttClient:   mqttClient,
		topicManager: topicManager,
		logger:       logger,
	}
}

// Start opens a match-all feed and begins mirroring.
func (m *MirrorService) Start() error {
	if m.ctx != nil {
		m.logger.Warn().Msg("MirrorService is already running")
		return errors.New("mirror service is already running")
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())

	feed, err := m.feedService.Subscribe(m.ctx, m.principal, store.Filter{})
	if err != nil {
		m.ctx = nil
		m.cancel = nil
		return err
	}
	m.feed = feed

	// Seed the retained topics with the current result set.
	m.publishAll(feed.Snapshot())

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runMirrorLoop()
	}()

	m.logger.Info().Msg("MirrorService started")
	return nil
}

// Stop unsubscribes the feed and waits for the mirror loop to finish.
func (m *MirrorService) Stop() error {
	if m.ctx == nil {
		m.logger.Warn().Msg("MirrorService is not running")
		return errors.New("mirror service is not running")
	}

	m.cancel()
	m.feed.Unsubscribe()
	m.wg.Wait()

	m.ctx = nil
	m.cancel = nil

	m.logger.Info().Msg("MirrorService stopped")
	return nil
}

func (m *MirrorService) runMirrorLoop() {
	for {
		select {
		case snapshot, ok := <-m.feed.Updates():
			if !ok {
				return
			}
			m.publishAll(snapshot)
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *MirrorService) publishAll(snapshot []models.LocationSample) {
	for _, sample := range snapshot {
		payload, err := json.Marshal(sample)
		if err != nil {
			m.logger.Error().Err(err).Msg("Failed to serialize location for mirror")
			continue
		}

		topic := m.topicManager.LocationEventTopic(sample.OwnerID)
		token := m.mqttClient.Publish(topic, byte(m.qos), true, payload)
		token.Wait()

		if err := token.Error(); err != nil {
			m.logger.Error().Err(err).Str("topic", topic).Msg("Failed to mirror location to MQTT")
		}
	}
}
