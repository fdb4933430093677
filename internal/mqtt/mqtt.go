// Package mqtt bridges the engine to an MQTT broker: every reading of a pass
// is published under the topic prefix, and command topics are turned into
// parameter writes.
package mqtt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/petero-dk/danfoss-air-api/internal/dfair"
)

// Writer accepts parameter writes.
type Writer interface {
	WriteParameterValue(id string, v dfair.Value) error
}

type Config struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         byte
	Retain      bool
}

// Bridge owns the broker connection.
type Bridge struct {
	cfg    Config
	client paho.Client
	writer Writer
	log    zerolog.Logger
}

// Payload is the JSON body published per parameter.
type Payload struct {
	Value     dfair.Value `json:"value"`
	Unit      string      `json:"unit"`
	Timestamp string      `json:"timestamp"`
}

type message struct {
	topic   string
	payload []byte
}

const connectTimeout = 10 * time.Second

// New prepares a bridge. Commands on <prefix>/set/<id> are forwarded to w;
// w may be nil for a publish-only bridge.
func New(cfg Config, w Writer, log zerolog.Logger) *Bridge {
	b := &Bridge{
		cfg:    cfg,
		writer: w,
		log:    log.With().Str("component", "mqtt").Logger(),
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout).
		SetWill(b.statusTopic(), "offline", cfg.QoS, true).
		SetOnConnectHandler(b.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			b.log.Warn().Err(err).Msg("connection lost")
		})
	b.client = paho.NewClient(opts)
	return b
}

// Connect dials the broker once.
func (b *Bridge) Connect() error {
	tok := b.client.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt connect %s: timed out", b.cfg.Broker)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", b.cfg.Broker, err)
	}
	return nil
}

// Close announces the bridge offline and disconnects.
func (b *Bridge) Close() error {
	if b.client.IsConnected() {
		b.client.Publish(b.statusTopic(), b.cfg.QoS, true, "offline").WaitTimeout(time.Second)
		b.client.Disconnect(250)
	}
	return nil
}

// Publish sends one message per reading. Never-read parameters are skipped.
func (b *Bridge) Publish(readings []dfair.Reading, at time.Time) {
	if !b.client.IsConnected() {
		return
	}
	for _, m := range messages(b.cfg.TopicPrefix, readings, at) {
		b.client.Publish(m.topic, b.cfg.QoS, b.cfg.Retain, m.payload)
	}
}

func (b *Bridge) onConnect(c paho.Client) {
	b.log.Info().Str("broker", b.cfg.Broker).Msg("connected")
	c.Publish(b.statusTopic(), b.cfg.QoS, true, "online")
	if b.writer == nil {
		return
	}
	filter := join(b.cfg.TopicPrefix, "set", "+")
	tok := c.Subscribe(filter, b.cfg.QoS, func(_ paho.Client, m paho.Message) {
		if err := b.handleCommand(m.Topic(), m.Payload()); err != nil {
			b.log.Warn().Err(err).Str("topic", m.Topic()).Msg("command rejected")
		}
	})
	if tok.WaitTimeout(connectTimeout) && tok.Error() != nil {
		b.log.Error().Err(tok.Error()).Str("filter", filter).Msg("subscribe failed")
	}
}

// handleCommand turns <prefix>/set/<id> with a JSON {"value":..}, a bare
// JSON value or plain text payload into a write.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	id, ok := strings.CutPrefix(topic, join(b.cfg.TopicPrefix, "set")+"/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return fmt.Errorf("unexpected topic %q", topic)
	}
	v, err := parsePayload(payload)
	if err != nil {
		return err
	}
	if err := b.writer.WriteParameterValue(id, v); err != nil {
		return err
	}
	b.log.Info().Str("param", id).Stringer("value", v).Msg("write queued")
	return nil
}

func parsePayload(payload []byte) (dfair.Value, error) {
	var wrapped struct {
		Value *dfair.Value `json:"value"`
	}
	if err := json.Unmarshal(payload, &wrapped); err == nil && wrapped.Value != nil {
		return *wrapped.Value, nil
	}
	return dfair.ParseValue(string(payload))
}

func messages(prefix string, readings []dfair.Reading, at time.Time) []message {
	stamp := at.UTC().Format(time.RFC3339)
	out := make([]message, 0, len(readings))
	for _, r := range readings {
		if r.Value.IsUnread() {
			continue
		}
		data, err := json.Marshal(Payload{Value: r.Value, Unit: r.Unit, Timestamp: stamp})
		if err != nil {
			continue
		}
		out = append(out, message{topic: Topic(prefix, r.Name), payload: data})
	}
	return out
}

var spaces = regexp.MustCompile(`\s+`)

// Topic returns the state topic for a parameter display name:
// "Room Temperature" becomes <prefix>/room_temperature.
func Topic(prefix, name string) string {
	return join(prefix, strings.ToLower(spaces.ReplaceAllString(name, "_")))
}

func (b *Bridge) statusTopic() string { return join(b.cfg.TopicPrefix, "status") }

func join(parts ...string) string {
	for i, p := range parts {
		parts[i] = strings.Trim(p, "/")
	}
	return strings.Join(parts, "/")
}
