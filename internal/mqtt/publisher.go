package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/sayang/internal/config"
)

// Snapshot is the sensor data for one publish cycle.
type Snapshot struct {
	Uptime        time.Duration
	Version       string
	Conversations int
	Reminders     int
	Received      int64     // inbound messages since start
	LastTick      time.Time // zero when no tick has run
	LastTickSent  int
}

// StatsSource supplies sensor data. main wires an adapter over the
// store, scheduler, and bridge so this package stays independent of
// them.
type StatsSource interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Publisher owns the broker connection and the periodic state loop.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	device     DeviceInfo
	stats      StatsSource
	logger     *slog.Logger
	cm         *autopaho.ConnectionManager
}

// New creates a Publisher but does not connect.
func New(cfg config.MQTTConfig, instanceID string, stats StatsSource, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:        cfg,
		instanceID: instanceID,
		device:     NewDeviceInfo(instanceID, cfg.DeviceName),
		stats:      stats,
		logger:     logger,
	}
}

// Start connects and publishes sensor states every
// PublishIntervalSec until ctx is cancelled.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishDiscovery(ctx, cm)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "sayang-" + p.cfg.DeviceName,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.runLoop(ctx)
	return nil
}

// Stop publishes "offline" and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

func (p *Publisher) baseTopic() string {
	return "sayang/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) stateTopic(entity string) string {
	return p.baseTopic() + "/" + entity + "/state"
}

func (p *Publisher) discoveryTopic(component, entity string) string {
	return p.cfg.DiscoveryPrefix + "/" + component + "/" + p.cfg.DeviceName + "/" + entity + "/config"
}

type sensorDef struct {
	entity string
	config SensorConfig
}

func (p *Publisher) sensor(entity, label, icon string, extra func(*SensorConfig)) sensorDef {
	sc := SensorConfig{
		Name:              label,
		ObjectID:          entity,
		HasEntityName:     true,
		UniqueID:          p.instanceID + "_" + entity,
		StateTopic:        p.stateTopic(entity),
		AvailabilityTopic: p.availabilityTopic(),
		Device:            p.device,
		Icon:              icon,
	}
	if extra != nil {
		extra(&sc)
	}
	return sensorDef{entity: entity, config: sc}
}

func (p *Publisher) sensorDefinitions() []sensorDef {
	diagnostic := func(sc *SensorConfig) { sc.EntityCategory = "diagnostic" }
	measurement := func(sc *SensorConfig) { sc.StateClass = "measurement" }
	return []sensorDef{
		p.sensor("uptime", "Uptime", "mdi:clock-outline", diagnostic),
		p.sensor("version", "Version", "mdi:tag", diagnostic),
		p.sensor("conversations", "Conversations", "mdi:account-heart", measurement),
		p.sensor("reminders", "Reminders", "mdi:bell-ring", measurement),
		p.sensor("messages_received", "Messages Received", "mdi:message-text", func(sc *SensorConfig) {
			sc.StateClass = "total_increasing"
			sc.UnitOfMeasurement = "messages"
		}),
		p.sensor("last_tick", "Last Scheduler Tick", "mdi:timer-outline", func(sc *SensorConfig) {
			sc.DeviceClass = "timestamp"
			sc.EntityCategory = "diagnostic"
		}),
		p.sensor("last_tick_sent", "Last Tick Messages", "mdi:send", measurement),
	}
}

func (p *Publisher) publishDiscovery(ctx context.Context, cm *autopaho.ConnectionManager) {
	for _, s := range p.sensorDefinitions() {
		topic := p.discoveryTopic("sensor", s.entity)
		payload, err := json.Marshal(s.config)
		if err != nil {
			p.logger.Error("mqtt marshal discovery payload", "entity", s.entity, "error", err)
			continue
		}
		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   topic,
			Payload: payload,
			QoS:     1,
			Retain:  true,
		}); err != nil {
			p.logger.Warn("mqtt discovery publish failed", "entity", s.entity, "topic", topic, "error", err)
		}
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

func (p *Publisher) runLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(p.cfg.PublishIntervalSec) * time.Second)
	defer ticker.Stop()

	p.publishStates(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishStates(ctx)
		}
	}
}

// states renders a snapshot as entity -> state payload.
func states(s Snapshot) map[string]string {
	out := map[string]string{
		"uptime":            s.Uptime.Truncate(time.Second).String(),
		"version":           s.Version,
		"conversations":     strconv.Itoa(s.Conversations),
		"reminders":         strconv.Itoa(s.Reminders),
		"messages_received": strconv.FormatInt(s.Received, 10),
		"last_tick_sent":    strconv.Itoa(s.LastTickSent),
		"last_tick":         "unknown",
	}
	if !s.LastTick.IsZero() {
		out["last_tick"] = s.LastTick.UTC().Format(time.RFC3339)
	}
	return out
}

func (p *Publisher) publishStates(ctx context.Context) {
	if p.cm == nil {
		return
	}

	snap, err := p.stats.Snapshot(ctx)
	if err != nil {
		p.logger.Warn("mqtt stats snapshot failed", "error", err)
		return
	}

	st := states(snap)
	for entity, value := range st {
		if _, err := p.cm.Publish(ctx, &paho.Publish{
			Topic:   p.stateTopic(entity),
			Payload: []byte(value),
			QoS:     0,
			Retain:  true,
		}); err != nil {
			p.logger.Debug("mqtt state publish failed", "entity", entity, "error", err)
		}
	}
	p.logger.Debug("mqtt sensor states published", "entities", len(st))
}
