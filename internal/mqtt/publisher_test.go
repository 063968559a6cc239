package mqtt

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nugget/sayang/internal/config"
)

func TestLoadOrCreateInstanceID(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	first, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateInstanceID() error = %v", err)
	}
	if len(strings.Split(first, "-")) != 5 {
		t.Errorf("id %q does not look like a UUID", first)
	}

	data, err := os.ReadFile(filepath.Join(dir, "instance_id"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != first {
		t.Errorf("file content = %q, want %q", got, first)
	}

	second, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("second call error = %v", err)
	}
	if second != first {
		t.Errorf("second = %q, want %q (should be stable)", second, first)
	}
}

func TestNewDeviceInfo(t *testing.T) {
	info := NewDeviceInfo("test-instance-id", "sayang-home")
	if info.Name != "sayang-home" {
		t.Errorf("Name = %q, want sayang-home", info.Name)
	}
	if len(info.Identifiers) != 1 || info.Identifiers[0] != "test-instance-id" {
		t.Errorf("Identifiers = %v, want [test-instance-id]", info.Identifiers)
	}
}

func testPublisher() *Publisher {
	cfg := config.MQTTConfig{
		Broker:             "mqtt://localhost:1883",
		DeviceName:         "sayang-home",
		DiscoveryPrefix:    "homeassistant",
		PublishIntervalSec: 60,
	}
	return New(cfg, "instance-123", nil, nil)
}

func TestPublisher_TopicPaths(t *testing.T) {
	p := testPublisher()

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"baseTopic", p.baseTopic(), "sayang/sayang-home"},
		{"availabilityTopic", p.availabilityTopic(), "sayang/sayang-home/availability"},
		{"stateTopic", p.stateTopic("uptime"), "sayang/sayang-home/uptime/state"},
		{"discoveryTopic", p.discoveryTopic("sensor", "uptime"), "homeassistant/sensor/sayang-home/uptime/config"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestPublisher_SensorDefinitions(t *testing.T) {
	p := testPublisher()
	defs := p.sensorDefinitions()

	want := []string{
		"uptime", "version", "conversations", "reminders",
		"messages_received", "last_tick", "last_tick_sent",
	}
	if len(defs) != len(want) {
		t.Fatalf("got %d sensor definitions, want %d", len(defs), len(want))
	}

	snap := states(Snapshot{})
	for i, d := range defs {
		if d.entity != want[i] {
			t.Errorf("defs[%d] = %q, want %q", i, d.entity, want[i])
		}
		if strings.Contains(d.config.Name, "sayang-home") {
			t.Errorf("sensor %s: Name %q repeats the device name", d.entity, d.config.Name)
		}
		if !d.config.HasEntityName || d.config.ObjectID != d.entity {
			t.Errorf("sensor %s: HasEntityName=%v ObjectID=%q", d.entity, d.config.HasEntityName, d.config.ObjectID)
		}
		if d.config.UniqueID != "instance-123_"+d.entity {
			t.Errorf("sensor %s: UniqueID = %q", d.entity, d.config.UniqueID)
		}
		if d.config.AvailabilityTopic != "sayang/sayang-home/availability" {
			t.Errorf("sensor %s: AvailabilityTopic = %q", d.entity, d.config.AvailabilityTopic)
		}
		if _, ok := snap[d.entity]; !ok {
			t.Errorf("sensor %s has no state value", d.entity)
		}
	}
}

func TestSensorConfig_JSON(t *testing.T) {
	p := testPublisher()
	data, err := json.Marshal(p.sensorDefinitions()[5].config)
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	if !strings.Contains(s, `"device_class":"timestamp"`) {
		t.Errorf("last_tick discovery missing device_class:\n%s", s)
	}
	if strings.Contains(s, "unit_of_measurement") {
		t.Errorf("empty unit_of_measurement should be omitted:\n%s", s)
	}
}

func TestStates(t *testing.T) {
	tick := time.Date(2026, 3, 14, 0, 0, 5, 0, time.UTC)
	got := states(Snapshot{
		Uptime:        90*time.Minute + 500*time.Millisecond,
		Version:       "1.2.3",
		Conversations: 4,
		Reminders:     7,
		Received:      120,
		LastTick:      tick,
		LastTickSent:  4,
	})

	want := map[string]string{
		"uptime":            "1h30m0s",
		"version":           "1.2.3",
		"conversations":     "4",
		"reminders":         "7",
		"messages_received": "120",
		"last_tick":         "2026-03-14T00:00:05Z",
		"last_tick_sent":    "4",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("states()[%q] = %q, want %q", k, got[k], v)
		}
	}

	if got := states(Snapshot{})["last_tick"]; got != "unknown" {
		t.Errorf("last_tick before any tick = %q, want unknown", got)
	}
}

func TestMQTTConfig_Configured(t *testing.T) {
	if !(config.MQTTConfig{Broker: "mqtt://localhost"}).Configured() {
		t.Error("Configured() = false with broker set")
	}
	if (config.MQTTConfig{}).Configured() {
		t.Error("Configured() = true with no broker")
	}
}
