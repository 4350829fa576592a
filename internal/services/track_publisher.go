package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benmeehan/nav-core/internal/models"
	"github.com/benmeehan/nav-core/pkg/location"
	"github.com/benmeehan/nav-core/pkg/mqtt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PositionFeed is the part of the tracker the publisher listens to.
type PositionFeed interface {
	OnAccepted(fn func(location.Position))
	TotalDistanceMeters() float64
}

// TrackPublisher streams accepted positions to an MQTT topic.
type TrackPublisher struct {
	Topic          string
	QOS            int
	PublishTimeout time.Duration
	SessionID      string
	ClientVersion  string
	MqttClient     mqtt.MQTTClient
	Logger         zerolog.Logger

	queue   chan models.TrackPoint
	seq     atomic.Uint64
	dropped atomic.Uint64
	running atomic.Bool

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTrackPublisher initializes a publisher with a fresh session id.
func NewTrackPublisher(topic string, qos int, queueSize int, publishTimeout time.Duration, clientVersion string,
	mqttClient mqtt.MQTTClient, logger zerolog.Logger) *TrackPublisher {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &TrackPublisher{
		Topic:          topic,
		QOS:            qos,
		PublishTimeout: publishTimeout,
		SessionID:      uuid.New().String(),
		ClientVersion:  clientVersion,
		MqttClient:     mqttClient,
		Logger:         logger,
		queue:          make(chan models.TrackPoint, queueSize),
	}
}

// Attach subscribes the publisher to every accepted position of feed.
func (t *TrackPublisher) Attach(feed PositionFeed) {
	feed.OnAccepted(func(p location.Position) {
		t.Enqueue(p, feed.TotalDistanceMeters())
	})
}

// Enqueue hands a position to the publish loop without blocking. It reports false when
// the publisher is stopped or the queue is full.
func (t *TrackPublisher) Enqueue(p location.Position, totalDistance float64) bool {
	if !t.running.Load() {
		return false
	}

	point := models.TrackPoint{
		SessionID:      t.SessionID,
		ClientVersion:  t.ClientVersion,
		Sequence:       t.seq.Add(1),
		Timestamp:      p.Timestamp,
		Latitude:       p.Latitude,
		Longitude:      p.Longitude,
		Accuracy:       p.Accuracy,
		Altitude:       p.Altitude,
		Speed:          p.Speed,
		Heading:        p.Heading,
		TotalDistanceM: totalDistance,
	}

	select {
	case t.queue <- point:
		return true
	default:
		if n := t.dropped.Add(1); n == 1 || n%100 == 0 {
			t.Logger.Warn().Uint64("dropped", n).Msg("Track publish queue full, dropping point")
		}
		return false
	}
}

// Dropped returns how many points were discarded because the queue was full.
func (t *TrackPublisher) Dropped() uint64 {
	return t.dropped.Load()
}

// Start launches the publish loop in a separate goroutine.
func (t *TrackPublisher) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ctx != nil {
		t.Logger.Warn().Msg("TrackPublisher is already running")
		return errors.New("track publisher is already running")
	}

	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.running.Store(true)

	t.wg.Add(1)
	go func(ctx context.Context) {
		defer t.wg.Done()
		t.runPublishLoop(ctx)
	}(t.ctx)

	t.Logger.Info().
		Str("topic", t.Topic).
		Str("session_id", t.SessionID).
		Msg("TrackPublisher started successfully")
	return nil
}

// Stop gracefully stops the publish loop. Points still queued are discarded.
func (t *TrackPublisher) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ctx == nil {
		t.Logger.Warn().Msg("TrackPublisher is not running")
		return errors.New("track publisher is not running")
	}

	t.running.Store(false)
	t.cancel()
	t.wg.Wait()

	t.ctx = nil
	t.cancel = nil

	t.Logger.Info().Uint64("dropped", t.dropped.Load()).Msg("TrackPublisher stopped successfully")
	return nil
}

func (t *TrackPublisher) runPublishLoop(ctx context.Context) {
	for {
		select {
		case point := <-t.queue:
			t.publish(point)
		case <-ctx.Done():
			t.Logger.Info().Msg("TrackPublisher stopping gracefully")
			return
		}
	}
}

func (t *TrackPublisher) publish(point models.TrackPoint) {
	payload, err := json.Marshal(point)
	if err != nil {
		t.Logger.Error().Err(err).Msg("Failed to serialize track point")
		return
	}

	token := t.MqttClient.Publish(t.Topic, byte(t.QOS), false, payload)
	if !token.WaitTimeout(t.PublishTimeout) {
		t.Logger.Warn().Uint64("seq", point.Sequence).Msg("Timed out publishing track point")
		return
	}
	if err := token.Error(); err != nil {
		t.Logger.Error().Err(err).Uint64("seq", point.Sequence).Msg("Failed to publish track point")
		return
	}
	t.Logger.Debug().Uint64("seq", point.Sequence).Msg("Track point published")
}
