// Package mqtt connects the state registry to an MQTT broker. Devices
// publish their state under <base>/<entity_id>/state, commands go out on
// <base>/<entity_id>/set/<service>, and the thermostat itself is exposed
// under <base>/thermostat/<name>/.
package mqtt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/universal-thermostat/internal/actuator"
	"github.com/thatsimonsguy/universal-thermostat/internal/model"
	"github.com/thatsimonsguy/universal-thermostat/internal/state"
	"github.com/thatsimonsguy/universal-thermostat/internal/thermostat"
)

type Config struct {
	BrokerURL string
	ClientID  string
	BaseTopic string
	QoS       byte
	Username  string
	Password  string
}

// Thermostat is the part of the engine reachable over MQTT.
type Thermostat interface {
	Name() string
	SetHVACMode(ctx context.Context, mode model.HVACMode) error
	SetTemperature(ctx context.Context, req thermostat.TemperatureRequest) error
	SetPresetMode(ctx context.Context, name string) error
}

type Bridge struct {
	reg    *state.Registry
	cfg    Config
	thermo Thermostat
	client paho.Client
}

func New(reg *state.Registry, cfg Config) (*Bridge, error) {
	if cfg.BrokerURL == "" {
		cfg.BrokerURL = "tcp://localhost:1883"
	}
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = "thermostat"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "universal-thermostat"
	}
	if cfg.QoS > 1 {
		return nil, errors.New("mqtt: QoS must be 0 or 1")
	}
	return &Bridge{reg: reg, cfg: cfg}, nil
}

// Attach exposes the thermostat's command topics. It must be called before
// Connect.
func (b *Bridge) Attach(t Thermostat) { b.thermo = t }

func (b *Bridge) Connect(ctx context.Context) error {
	opts := paho.NewClientOptions().
		AddBroker(b.cfg.BrokerURL).
		SetClientID(b.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second)

	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
		opts.SetPassword(b.cfg.Password)
	}
	opts.OnConnect = b.subscribe

	b.client = paho.NewClient(opts)
	tok := b.client.Connect()
	select {
	case <-tok.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	log.Info().Str("broker", b.cfg.BrokerURL).Str("base_topic", b.cfg.BaseTopic).Msg("MQTT bridge connected")
	return nil
}

// subscribe runs on every (re)connect.
func (b *Bridge) subscribe(cl paho.Client) {
	topics := map[string]byte{b.topic("+", "state"): b.cfg.QoS}
	if b.thermo != nil {
		topics[b.thermostatTopic("set", "+")] = b.cfg.QoS
	}
	tok := cl.SubscribeMultiple(topics, b.onMessage)
	tok.Wait()
	if err := tok.Error(); err != nil {
		log.Error().Err(err).Msg("MQTT subscribe failed")
	}
}

func (b *Bridge) Close() {
	if b.client != nil {
		b.client.Disconnect(250)
	}
}

func (b *Bridge) topic(parts ...string) string {
	return strings.TrimRight(b.cfg.BaseTopic, "/") + "/" + strings.Join(parts, "/")
}

func (b *Bridge) thermostatTopic(parts ...string) string {
	name := "thermostat"
	if b.thermo != nil {
		name = slug(b.thermo.Name())
	}
	return b.topic(append([]string{"thermostat", name}, parts...)...)
}

func slug(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
}

type commandPayload struct {
	Value   any    `json:"value,omitempty"`
	Context string `json:"context,omitempty"`
}

// Call publishes a command for a device. Delivery errors are logged once
// the broker answers; the control pass never waits on the network.
func (b *Bridge) Call(_ context.Context, cmd actuator.Command) error {
	if b.client == nil {
		return errors.New("mqtt: not connected")
	}
	body, err := json.Marshal(commandPayload{Value: cmd.Value, Context: cmd.ContextID})
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	topic := b.topic(cmd.EntityID, "set", cmd.Service)
	tok := b.client.Publish(topic, b.cfg.QoS, false, body)
	go func() {
		<-tok.Done()
		if err := tok.Error(); err != nil {
			log.Error().Err(err).Str("topic", topic).Msg("MQTT command publish failed")
		}
	}()
	log.Debug().Str("topic", topic).RawJSON("payload", body).Msg("MQTT command published")
	return nil
}

// WriteState publishes the thermostat status, retained.
func (b *Bridge) WriteState(st thermostat.Status) {
	if b.client == nil {
		return
	}
	body, err := json.Marshal(st)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal thermostat status")
		return
	}
	b.client.Publish(b.thermostatTopic("status"), b.cfg.QoS, true, body)
}

type statePayload struct {
	State      any            `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

func stateValue(v any) *string {
	var s string
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		s = x
	case bool:
		s = model.StateOff
		if x {
			s = model.StateOn
		}
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	default:
		s = fmt.Sprint(x)
	}
	return &s
}

func (b *Bridge) onMessage(_ paho.Client, msg paho.Message) {
	rest, ok := strings.CutPrefix(msg.Topic(), strings.TrimRight(b.cfg.BaseTopic, "/")+"/")
	if !ok {
		return
	}
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 2 && parts[1] == "state":
		b.onState(parts[0], msg.Payload())
	case len(parts) == 4 && parts[0] == "thermostat" && parts[2] == "set":
		b.onCommand(parts[3], msg.Payload())
	}
}

// onState accepts either a JSON object {"state": ..., "attributes": {...}}
// or a bare value such as "on" or "21.5".
func (b *Bridge) onState(entityID string, payload []byte) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var p statePayload
		if err := json.Unmarshal(trimmed, &p); err != nil {
			log.Warn().Err(err).Str("entity", entityID).Msg("Ignoring malformed MQTT state")
			return
		}
		b.reg.Merge(entityID, stateValue(p.State), p.Attributes)
		return
	}
	b.reg.Set(entityID, string(trimmed), nil)
}

// Command payload format: {"value": ...}
type valueReq[T any] struct {
	Value *T `json:"value"`
}

func (b *Bridge) onCommand(field string, payload []byte) {
	if b.thermo == nil {
		return
	}
	ctx := actuator.WithCommandID(context.Background(), actuator.NewCommandID())

	var err error
	switch field {
	case "hvac_mode":
		var s string
		if s, err = decodeValueStrict[string](payload); err == nil {
			var mode model.HVACMode
			if mode, err = model.ParseHVACMode(s); err == nil {
				err = b.thermo.SetHVACMode(ctx, mode)
			}
		}
	case "temperature", "target_temp_low", "target_temp_high":
		var v float64
		if v, err = decodeValueStrict[float64](payload); err == nil {
			var req thermostat.TemperatureRequest
			switch field {
			case "temperature":
				req.Temperature = &v
			case "target_temp_low":
				req.Low = &v
			default:
				req.High = &v
			}
			err = b.thermo.SetTemperature(ctx, req)
		}
	case "preset_mode":
		var s string
		if s, err = decodeValueStrict[string](payload); err == nil {
			err = b.thermo.SetPresetMode(ctx, s)
		}
	default:
		err = fmt.Errorf("unknown field %q", field)
	}
	if err != nil {
		log.Warn().Err(err).Str("field", field).Msg("MQTT thermostat command rejected")
	}
}

func decodeValueStrict[T any](b []byte) (T, error) {
	var zero T
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var req valueReq[T]
	if err := dec.Decode(&req); err != nil {
		return zero, err
	}
	if req.Value == nil {
		return zero, errors.New("missing field 'value'")
	}
	return *req.Value, nil
}
