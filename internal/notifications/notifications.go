// Package notifications delivers thermostat events to people (ntfy) and to
// other services (Kafka).
package notifications

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrNotConfigured = errors.New("notifications not configured")

// Notifier is anything that can deliver a titled message.
type Notifier interface {
	Send(title, message string) error
}

// Ntfy posts notifications to an ntfy server.
type Ntfy struct {
	client *http.Client
	server string
	topic  string
}

func NewNtfy(server, topic string) *Ntfy {
	if topic == "" {
		log.Warn().Msg("Ntfy topic not configured - notifications disabled")
	} else {
		log.Info().
			Str("server", server).
			Str("topic", topic).
			Msg("Ntfy notifications initialized")
	}
	return &Ntfy{
		client: &http.Client{Timeout: 10 * time.Second},
		server: strings.TrimRight(server, "/"),
		topic:  topic,
	}
}

func (n *Ntfy) Send(title, message string) error {
	if n == nil || n.topic == "" {
		return ErrNotConfigured
	}

	payload := map[string]interface{}{
		"topic":   n.topic,
		"title":   title,
		"message": message,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, n.server+"/"+n.topic, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy returned non-success status: %d", resp.StatusCode)
	}

	log.Debug().
		Str("title", title).
		Int("status", resp.StatusCode).
		Msg("Notification sent successfully")
	return nil
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Send(title, message string) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(title, message); err != nil && !errors.Is(err, ErrNotConfigured) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
