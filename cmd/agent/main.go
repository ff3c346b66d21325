package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ryanhale/tracksync/internal/api"
	"github.com/ryanhale/tracksync/internal/logger"
	"github.com/ryanhale/tracksync/internal/models"
	"github.com/ryanhale/tracksync/internal/service_registry"
	"github.com/ryanhale/tracksync/internal/services"
	"github.com/ryanhale/tracksync/internal/store"
	"github.com/ryanhale/tracksync/internal/store/influx"
	"github.com/ryanhale/tracksync/internal/store/postgres"
	"github.com/ryanhale/tracksync/internal/utils"
	"github.com/ryanhale/tracksync/pkg/file"
	"github.com/ryanhale/tracksync/pkg/identity"
	"github.com/ryanhale/tracksync/pkg/mqtt"
	"github.com/ryanhale/tracksync/pkg/position"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

	fileClient := file.NewFileService()

	config, err := utils.LoadConfig(*configPath, fileClient)
	if err != nil {
		bootLog := logger.NewLogger(logger.Config{Level: "info"})
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.NewLogger(config.Logger)
	log.Info().Str("version", config.Agent.Version).Msg("Setting up tracksync agent...")

	// Local identity: the owner every location record is keyed by.
	ownerInfo := identity.NewOwnerInfo(config.Identity.IdentityFile, fileClient)
	if err := ownerInfo.LoadIdentity(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load owner identity")
	}

	// Remote store.
	conn, err := postgres.NewConnection(config.PostgresDSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to the document store")
	}
	defer conn.Close()

	remoteStore, err := postgres.NewStore(conn, config.PostgresDSN(), logger.GetLogger("store"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize the document store")
	}
	if err := remoteStore.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start the change notifier")
	}
	defer remoteStore.Stop()

	// Optional append-only history beside the latest-only documents.
	var history store.HistoryRecorder
	if config.Influx.Enabled {
		writer, err := influx.NewHistoryWriter(influx.Config{
			URL:          config.Influx.URL,
			Token:        config.Influx.Token,
			Organization: config.Influx.Organization,
			Bucket:       config.Influx.Bucket,
		}, logger.GetLogger("history-writer"))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to InfluxDB")
		}
		defer writer.Close()
		history = writer
	}

	// Shared MQTT connection.
	config.MQTT.ClientID = config.MQTT.ClientID + "-" + uuid.New().String()
	mqttClient := mqtt.NewMqttService(fileClient)
	err = mqttClient.Initialize(mqtt.Options{
		Broker:        config.MQTT.Broker,
		ClientID:      config.MQTT.ClientID,
		Username:      config.MQTT.Username,
		Password:      config.MQTT.Password,
		CACertPath:    config.MQTT.CACertificate,
		KeepAlive:     config.MQTT.KeepAlive,
		AutoReconnect: config.MQTT.AutoReconnect,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize MQTT connection")
	}
	defer mqttClient.Disconnect(250)

	topicManager := &mqtt.TopicManager{BaseTopic: config.MQTT.BaseTopic}

	// Identity resolution comes before any tracker or feed activation;
	// activating first would write records under an empty owner.
	principal := resolvePrincipal(config, remoteStore, ownerInfo, log)

	source := buildPositionSource(config, mqttClient, topicManager, ownerInfo, log)

	trackerService := services.NewTrackerService(trackerConfig(config), ownerInfo, source,
		remoteStore, history, logger.GetLogger("tracker-service"))
	feedService := services.NewFeedService(remoteStore, logger.GetLogger("feed-service"))
	pairingService := services.NewPairingService(config.Agent.Version, remoteStore, ownerInfo,
		logger.GetLogger("pairing-service"))

	serviceRegistry := service_registry.NewServiceRegistry(logger.GetLogger("service-registry"))
	serviceRegistry.RegisterService("feed", feedService)

	if config.Services.Tracker.Enabled {
		serviceRegistry.RegisterService("tracker", trackerService)
	}
	if config.Services.Mirror.Enabled {
		if principal.OwnerID == "" {
			log.Warn().Msg("Mirror disabled: no authenticated principal")
		} else {
			serviceRegistry.RegisterService("mirror", services.NewMirrorService(
				config.Services.Mirror.QOS, principal, feedService, mqttClient,
				topicManager, logger.GetLogger("mirror-service")))
		}
	}
	if config.Services.Metrics.Enabled {
		serviceRegistry.RegisterService("metrics", services.NewMetricsService(
			config.Services.Metrics.Interval, config.Services.Metrics.QOS, trackerService,
			mqttClient, topicManager, logger.GetLogger("metrics-service")))
	}
	if config.API.Enabled {
		serviceRegistry.RegisterService("api", api.NewServer(config.API.ListenAddress,
			remoteStore, trackerService, feedService, pairingService, logger.GetLogger("api-server")))
	}

	if err := serviceRegistry.StartServices(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start services")
	}
	log.Info().Msg("All services started successfully")

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	log.Info().Msg("Shutting down gracefully...")
	if err := serviceRegistry.StopServices(); err != nil {
		log.Error().Err(err).Msg("Shutdown finished with errors")
	}
}

// resolvePrincipal authenticates the agent's own principal when credentials
// are configured. A failed login leaves the agent unauthenticated: tracking
// stays inactive until a principal is resolved through the API.
func resolvePrincipal(config *utils.Config, remoteStore store.Store, ownerInfo identity.OwnerInfoInterface,
	log zerolog.Logger) models.Principal {
	if config.Auth.Email == "" {
		log.Info().Msg("No agent credentials configured, waiting for API login")
		return models.Principal{}
	}

	principal, err := remoteStore.Authenticate(context.Background(), config.Auth.Email, config.Auth.Password)
	if err != nil {
		if errors.Is(err, models.ErrUnauthenticated) {
			log.Warn().Str("email", config.Auth.Email).Msg("Agent credentials rejected")
		} else {
			log.Error().Err(err).Msg("Failed to authenticate agent")
		}
		return models.Principal{}
	}

	if ownerInfo.GetOwnerID() == "" {
		if err := ownerInfo.SaveOwnerID(principal.OwnerID); err != nil {
			log.Error().Err(err).Msg("Failed to persist owner identity")
		}
	}

	log.Info().Str("owner_id", principal.OwnerID).Msg("Agent authenticated")
	return principal
}

// buildPositionSource selects the configured acquisition backend.
func buildPositionSource(config *utils.Config, mqttClient mqtt.MQTTClient, topicManager *mqtt.TopicManager,
	ownerInfo identity.OwnerInfoInterface, log zerolog.Logger) position.Source {
	trackerCfg := config.Services.Tracker

	switch trackerCfg.Source {
	case "google":
		source, err := position.NewGoogleSource(trackerCfg.MapsAPIKey, logger.GetLogger("google-source"))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Google geolocation source")
		}
		return source
	case "mqtt":
		ownerID := ownerInfo.GetOwnerID()
		if ownerID == "" {
			// No resolved owner yet, follow every tracker under the base topic.
			ownerID = "+"
		}
		return position.NewMQTTSource(topicManager.PositionTopic(ownerID), config.MQTT.QOS,
			mqttClient, logger.GetLogger("mqtt-source"))
	default:
		return position.NewSerialSource(trackerCfg.GPSDevicePort, trackerCfg.GPSDeviceBaudRate,
			logger.GetLogger("serial-source"))
	}
}

func trackerConfig(config *utils.Config) services.TrackerConfig {
	trackerCfg := config.Services.Tracker

	accuracy := position.AccuracyBalanced
	switch trackerCfg.Accuracy {
	case "coarse":
		accuracy = position.AccuracyCoarse
	case "high":
		accuracy = position.AccuracyHigh
	}

	mode := services.ModeOneShot
	if trackerCfg.Mode == string(services.ModeContinuous) {
		mode = services.ModeContinuous
	}

	return services.TrackerConfig{
		Mode: mode,
		Watch: position.WatchConfig{
			Accuracy:    accuracy,
			MinInterval: trackerCfg.MinInterval,
			MinDistance: trackerCfg.MinDistance,
		},
	}
}
