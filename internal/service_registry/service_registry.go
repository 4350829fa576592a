package service_registry

import (
	"errors"
	"fmt"

	"github.com/benmeehan/nav-core/internal/navigation"
	"github.com/benmeehan/nav-core/internal/registry"
	"github.com/benmeehan/nav-core/internal/services"
	"github.com/benmeehan/nav-core/internal/tiles"
	"github.com/benmeehan/nav-core/internal/tracking"
	"github.com/benmeehan/nav-core/internal/utils"
	"github.com/benmeehan/nav-core/internal/viewport"
	"github.com/benmeehan/nav-core/pkg/mqtt"
	"github.com/rs/zerolog"
)

// Components are the long-lived objects the services are built around.
type Components struct {
	Tracker     *tracking.Tracker
	Coordinator *tiles.Coordinator
	Viewport    *viewport.Viewport
}

// ServiceRegistry manages the lifecycle of various services in the system.
type ServiceRegistry struct {
	services    map[string]registry.Service // Stores registered services
	serviceKeys []string                    // Maintains order of service registration
	mqttClient  mqtt.MQTTClient
	follower    *navigation.Follower
	Logger      zerolog.Logger
}

// NewServiceRegistry initializes a new service registry. mqttClient may be nil when
// no broker is configured.
func NewServiceRegistry(mqttClient mqtt.MQTTClient, logger zerolog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		services:   make(map[string]registry.Service),
		mqttClient: mqttClient,
		Logger:     logger,
	}
}

// RegisterService adds a new service to the registry.
func (sr *ServiceRegistry) RegisterService(name string, svc registry.Service) {
	if _, exists := sr.services[name]; exists {
		sr.Logger.Warn().Msgf("Service %s is already registered", name)
		return
	}
	sr.services[name] = svc
	sr.serviceKeys = append(sr.serviceKeys, name)
	sr.Logger.Info().Msgf("Registered service: %s", name)
}

// Services returns the registered service names in start order.
func (sr *ServiceRegistry) Services() []string {
	return append([]string(nil), sr.serviceKeys...)
}

// Follower returns the navigation follower, or nil when navigation is disabled.
func (sr *ServiceRegistry) Follower() *navigation.Follower {
	return sr.follower
}

// StartServices initiates all registered services in order.
// If a service fails to start, it stops already started services.
func (sr *ServiceRegistry) StartServices() error {
	startedServices := []string{}

	for _, name := range sr.serviceKeys {
		svc := sr.services[name]
		sr.Logger.Info().Msgf("Starting service: %s", name)
		if err := svc.Start(); err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to start service: %s", name)

			sr.Logger.Warn().Msg("Stopping already started services due to startup failure...")
			for i := len(startedServices) - 1; i >= 0; i-- {
				_ = sr.services[startedServices[i]].Stop()
			}
			return fmt.Errorf("start %s: %w", name, err)
		}
		startedServices = append(startedServices, name)
	}

	return nil
}

// StopServices stops all services in reverse order.
func (sr *ServiceRegistry) StopServices() error {
	var stopErrors []error
	for i := len(sr.serviceKeys) - 1; i >= 0; i-- {
		name := sr.serviceKeys[i]
		if err := sr.services[name].Stop(); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop %s: %w", name, err))
		}
	}
	if len(stopErrors) > 0 {
		for _, e := range stopErrors {
			sr.Logger.Error().Err(e).Msg("Service stop failure")
		}
		return errors.Join(stopErrors...)
	}
	return nil
}

// RegisterServices initializes and registers enabled services based on configuration.
// Consumers of accepted positions are registered ahead of tracking so that they are
// running before the first sample arrives, and stop after it.
func (sr *ServiceRegistry) RegisterServices(config *utils.Config, c Components) error {
	if c.Tracker == nil {
		return errors.New("service registry requires a tracker")
	}

	servicesInOrder := []struct {
		name        string
		enabled     bool
		constructor func() (registry.Service, error)
	}{
		{
			name:    "track_publisher",
			enabled: config.Services.TrackPublisher.Enabled,
			constructor: func() (registry.Service, error) {
				if sr.mqttClient == nil {
					return nil, errors.New("track publisher requires an MQTT connection")
				}
				publisher := services.NewTrackPublisher(
					config.Services.TrackPublisher.Topic,
					config.Services.TrackPublisher.QOS,
					config.Services.TrackPublisher.QueueSize,
					config.Services.TrackPublisher.PublishTimeout,
					config.ClientVersion,
					sr.mqttClient,
					sr.Logger,
				)
				publisher.Attach(c.Tracker)
				return publisher, nil
			},
		},
		{
			name:    "navigation",
			enabled: config.Services.Navigation.Enabled,
			constructor: func() (registry.Service, error) {
				if c.Coordinator == nil || c.Viewport == nil {
					return nil, errors.New("navigation requires a tile coordinator and a viewport")
				}
				sr.follower = navigation.NewFollower(
					c.Viewport,
					c.Tracker,
					c.Coordinator,
					tiles.Layer(config.Tiles.Layer),
					config.ScreenSize(),
					sr.Logger,
				)
				return sr.follower, nil
			},
		},
		{
			name:    "tracking",
			enabled: true,
			constructor: func() (registry.Service, error) {
				return services.NewTrackingService(c.Tracker, sr.Logger), nil
			},
		},
	}

	registeredServices := []string{}
	for _, svc := range servicesInOrder {
		if svc.enabled {
			serviceInstance, err := svc.constructor()
			if err != nil {
				sr.Logger.Error().Err(err).Msgf("Failed to create %s service", svc.name)
				return err
			}
			sr.RegisterService(svc.name, serviceInstance)
			registeredServices = append(registeredServices, svc.name)
		}
	}

	sr.Logger.Info().Msgf("Registered services in order: %v", registeredServices)
	return nil
}
