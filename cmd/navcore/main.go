package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/benmeehan/nav-core/internal/service_registry"
	"github.com/benmeehan/nav-core/internal/tiles"
	"github.com/benmeehan/nav-core/internal/tracking"
	"github.com/benmeehan/nav-core/internal/utils"
	"github.com/benmeehan/nav-core/internal/viewport"
	"github.com/benmeehan/nav-core/pkg/file"
	"github.com/benmeehan/nav-core/pkg/location"
	"github.com/benmeehan/nav-core/pkg/mqtt"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment variables")
	}

	configPath := os.Getenv("NAVCORE_CONFIG")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	fileClient := file.NewFileService()

	config, err := utils.LoadConfig(configPath, fileClient)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("Failed to load configuration")
	}
	log = log.Level(config.Level())
	log.Info().Str("version", config.Version.String()).Msg("Configuration loaded")

	source, err := newSource(config, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create location source")
	}

	tracker := tracking.NewTracker(source, config.TrackerConfig(), log.With().Str("component", "tracker").Logger())
	fetcher := tiles.NewHTTPFetcher(config.Tiles.RequestTimeout, config.Tiles.UserAgent, log.With().Str("component", "fetcher").Logger())
	coordinator := tiles.NewCoordinator(fetcher, config.CoordinatorConfig(), log.With().Str("component", "tiles").Logger())
	view := viewport.New(config.Viewport.CenterLat, config.Viewport.CenterLng, config.Viewport.Zoom, log)

	// A shared MQTT connection is only opened when a broker is configured
	var mqttClient mqtt.MQTTClient
	if config.MQTT.Broker != "" {
		clientID := mqtt.UniqueClientID(config.MQTT.ClientID)
		log.Info().Str("client_id", clientID).Msg("Using MQTT Client ID")

		svc := mqtt.NewMqttService(fileClient, log)
		err = svc.Initialize(mqtt.Options{
			Broker:         config.MQTT.Broker,
			ClientID:       clientID,
			CACertificate:  config.MQTT.CACertificate,
			Username:       config.MQTT.Username,
			Password:       config.MQTT.Password,
			ConnectTimeout: config.MQTT.ConnectTimeout,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize MQTT connection")
		}
		mqttClient = svc
	}

	serviceRegistry := service_registry.NewServiceRegistry(mqttClient, log)
	err = serviceRegistry.RegisterServices(config, service_registry.Components{
		Tracker:     tracker,
		Coordinator: coordinator,
		Viewport:    view,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to register services")
	}

	if err := serviceRegistry.StartServices(); err != nil {
		if code, ok := location.CodeOf(err); ok {
			log.Fatal().Err(err).Str("code", code.String()).Msg(code.Message())
		}
		log.Fatal().Err(err).Msg("Failed to start services")
	}
	log.Info().Msg("All services started successfully")

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	log.Info().Msg("Shutting down gracefully...")
	if err := serviceRegistry.StopServices(); err != nil {
		log.Error().Err(err).Msg("Some services failed to stop")
	}
	coordinator.CancelAll()

	stats := coordinator.Stats()
	log.Info().
		Float64("distance_m", tracker.TotalDistanceMeters()).
		Int("track_points", len(tracker.History())).
		Int64("tile_fetches", stats.Fetches).
		Int64("tile_hits", stats.Hits).
		Msg("Session summary")

	if mqttClient != nil {
		mqttClient.Disconnect(250)
	}
}

// newSource builds the configured device source.
func newSource(config *utils.Config, log zerolog.Logger) (location.Source, error) {
	switch config.Location.Source {
	case "google":
		provider, err := location.NewGoogleGeolocationProvider(config.Location.MapsAPIKey, config.Location.ModemIndex, log)
		if err != nil {
			return nil, err
		}
		return location.NewPollingSource(provider, config.Location.PollInterval, log), nil
	default:
		return location.NewNMEASource(config.Location.GPSDevicePort, config.Location.GPSDeviceBaudRate, log), nil
	}
}
