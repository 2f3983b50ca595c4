// Package emitter bridges the in-process bus to an optional local MQTT
// broker: alert transitions and health snapshots go out, remote control
// commands come in. The appliance runs fine with no broker configured;
// nothing on the hot path ever waits for the network.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/vigil-mirror/internal/bus"
	"github.com/e7canasta/vigil-mirror/internal/config"
	"github.com/e7canasta/vigil-mirror/internal/types"
)

// healthInterval is the cadence of outbound health snapshots.
const healthInterval = 30 * time.Second

// HealthSource produces the payload for the periodic health publication.
type HealthSource func(ctx context.Context) (any, error)

// controlMessage is the JSON shape accepted on the control topic.
type controlMessage struct {
	Command string `json:"command"`
}

// MQTTEmitter publishes telemetry and accepts remote control commands.
type MQTTEmitter struct {
	cfg        config.MQTTConfig
	instanceID string
	eventBus   *bus.Bus
	health     HealthSource
	client     mqtt.Client

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
}

// NewMQTTEmitter creates an emitter. Connect must be called before Run.
func NewMQTTEmitter(cfg config.MQTTConfig, instanceID string, eventBus *bus.Bus, health HealthSource) *MQTTEmitter {
	return &MQTTEmitter{
		cfg:        cfg,
		instanceID: instanceID,
		eventBus:   eventBus,
		health:     health,
	}
}

// Connect establishes the broker connection with auto-reconnect.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.Broker))
	opts.SetClientID(e.instanceID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	if e.cfg.Username != "" {
		opts.SetUsername(e.cfg.Username)
		opts.SetPassword(e.cfg.Password)
	}

	opts.OnConnect = func(c mqtt.Client) {
		e.mu.Lock()
		e.connected = true
		e.mu.Unlock()
		slog.Info("mqtt connection established",
			"broker", e.cfg.Broker,
			"client_id", e.instanceID,
		)
		e.subscribeControl(c)
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.Broker,
		)
	}

	e.client = mqtt.NewClient(opts)

	slog.Info("connecting to mqtt broker", "broker", e.cfg.Broker)

	token := e.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("emitter: mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("emitter: mqtt connection failed: %w", err)
	}
	return nil
}

// Run forwards alert snapshots and health reports until the context is
// cancelled.
func (e *MQTTEmitter) Run(ctx context.Context) error {
	alerts, err := e.eventBus.Subscribe("emitter", 16, types.TopicAlert)
	if err != nil {
		return fmt.Errorf("emitter: subscription failed: %w", err)
	}
	defer e.eventBus.Unsubscribe("emitter")

	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev := <-alerts:
			snap, ok := ev.Payload.(types.AlertSnapshot)
			if !ok {
				continue
			}
			e.publishJSON(e.cfg.TopicAlerts, snap)

		case <-ticker.C:
			if e.health == nil {
				continue
			}
			report, err := e.health(ctx)
			if err != nil {
				slog.Warn("health snapshot failed", "error", err)
				continue
			}
			e.publishJSON(e.cfg.TopicHealth, report)
		}
	}
}

// subscribeControl installs the remote command handler. Remote inputs map
// onto the same bus events the voice and button paths produce, so the
// alert manager needs no special cases.
func (e *MQTTEmitter) subscribeControl(c mqtt.Client) {
	token := c.Subscribe(e.cfg.TopicControl, 1, func(_ mqtt.Client, msg mqtt.Message) {
		var cm controlMessage
		if err := json.Unmarshal(msg.Payload(), &cm); err != nil {
			// Bare command words are accepted too.
			cm.Command = string(msg.Payload())
		}

		slog.Info("remote control command", "command", cm.Command)
		now := time.Now()

		switch cm.Command {
		case "status":
			e.eventBus.Publish(types.TopicVoice, types.VoiceCommand{Intent: types.IntentStatusQuery, Timestamp: now})
		case "pause":
			e.eventBus.Publish(types.TopicVoice, types.VoiceCommand{Intent: types.IntentStopMonitoring, Timestamp: now})
		case "resume":
			e.eventBus.Publish(types.TopicVoice, types.VoiceCommand{Intent: types.IntentResume, Timestamp: now})
		case "shutdown":
			e.eventBus.Publish(types.TopicGesture, types.ButtonGesture{Kind: types.GestureVeryLong, Timestamp: now})
		default:
			slog.Warn("unknown remote command", "command", cm.Command)
		}
	})
	if !token.WaitTimeout(2 * time.Second) {
		slog.Warn("control topic subscription timeout", "topic", e.cfg.TopicControl)
		return
	}
	if err := token.Error(); err != nil {
		slog.Warn("control topic subscription failed", "topic", e.cfg.TopicControl, "error", err)
	}
}

func (e *MQTTEmitter) publishJSON(topic string, payload any) {
	if !e.isConnected() {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		slog.Error("failed to marshal telemetry", "topic", topic, "error", err)
		return
	}

	token := e.client.Publish(topic, 0, false, data)
	if !token.WaitTimeout(2 * time.Second) {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		slog.Warn("telemetry publish timeout", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		slog.Warn("telemetry publish failed", "topic", topic, "error", err)
		return
	}

	e.mu.Lock()
	e.published++
	e.mu.Unlock()

	slog.Debug("telemetry published", "topic", topic, "size", len(data))
}

// Disconnect closes the broker connection with a short grace period.
func (e *MQTTEmitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		slog.Info("mqtt disconnected")
	}
	e.mu.Lock()
	e.connected = false
	e.mu.Unlock()
}

// Stats contains emitter counters.
type Stats struct {
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
}

// Stats returns a snapshot of emitter counters.
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{Connected: e.connected, Published: e.published, Errors: e.errors}
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}
