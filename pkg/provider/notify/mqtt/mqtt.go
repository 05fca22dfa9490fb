// Package mqtt implements notify.Notifier over an MQTT broker, letting a
// dashboard or companion device subscribe to safety alerts. Publishes are
// best-effort: while the broker is unreachable, alerts are buffered in a
// bounded ring and flushed on reconnect.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kavach-app/kavach/pkg/provider/notify"
)

const (
	// TopicAlerts carries detection and escalation alerts.
	TopicAlerts = "kavach/alerts"
	// TopicStatus carries engine lifecycle messages (online/offline).
	TopicStatus = "kavach/status"

	publishTimeout = 5 * time.Second
	maxBuffered    = 128
)

// Option is a functional option for configuring the Notifier.
type Option func(*Notifier)

// WithLogger sets the logger for connection and delivery events.
func WithLogger(log *slog.Logger) Option {
	return func(n *Notifier) {
		n.log = log
	}
}

// WithCredentials sets broker credentials.
func WithCredentials(username, password string) Option {
	return func(n *Notifier) {
		n.username = username
		n.password = password
	}
}

// Notifier implements notify.Notifier over MQTT.
type Notifier struct {
	client   paho.Client
	log      *slog.Logger
	username string
	password string

	mu      sync.Mutex
	pending []notify.Alert
}

var _ notify.Notifier = (*Notifier)(nil)

// New connects to the broker at brokerURL (e.g. "tcp://localhost:1883").
// The initial connect is attempted synchronously but failure is not fatal;
// paho retries in the background and buffered alerts flush on reconnect.
func New(brokerURL, clientID string, opts ...Option) (*Notifier, error) {
	if brokerURL == "" {
		return nil, fmt.Errorf("mqtt: broker URL must not be empty")
	}

	n := &Notifier{log: slog.Default()}
	for _, o := range opts {
		o(n)
	}

	o := paho.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)
	if n.username != "" {
		o.SetUsername(n.username)
		o.SetPassword(n.password)
	}
	o.SetOnConnectHandler(func(paho.Client) {
		n.log.Info("mqtt connected", "broker", brokerURL)
		n.flush()
	})
	o.SetConnectionLostHandler(func(_ paho.Client, err error) {
		n.log.Warn("mqtt connection lost", "error", err)
	})

	n.client = paho.NewClient(o)
	token := n.client.Connect()
	if token.WaitTimeout(publishTimeout) && token.Error() != nil {
		n.log.Warn("mqtt initial connect failed, retrying in background", "error", token.Error())
	}
	return n, nil
}

// Alert publishes a to TopicAlerts at QoS 1. When disconnected the alert is
// buffered for the next reconnect.
func (n *Notifier) Alert(ctx context.Context, a notify.Alert) error {
	if !n.client.IsConnectionOpen() {
		n.buffer(a)
		return nil
	}
	return n.publish(a)
}

func (n *Notifier) publish(a notify.Alert) error {
	payload, err := json.Marshal(alertMessage{
		Severity:  string(a.Severity),
		Title:     a.Title,
		Body:      a.Body,
		Source:    a.Source,
		Number:    a.Number,
		Timestamp: a.Timestamp.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("mqtt: marshal alert: %w", err)
	}

	token := n.client.Publish(TopicAlerts, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		n.buffer(a)
		return fmt.Errorf("mqtt: publish timeout")
	}
	if err := token.Error(); err != nil {
		n.buffer(a)
		return fmt.Errorf("mqtt: publish: %w", err)
	}
	return nil
}

// buffer keeps the newest maxBuffered alerts while the broker is down.
func (n *Notifier) buffer(a notify.Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.pending) >= maxBuffered {
		n.pending = n.pending[1:]
	}
	n.pending = append(n.pending, a)
}

// flush re-publishes buffered alerts after a reconnect.
func (n *Notifier) flush() {
	n.mu.Lock()
	pending := n.pending
	n.pending = nil
	n.mu.Unlock()

	for _, a := range pending {
		if err := n.publish(a); err != nil {
			n.log.Warn("mqtt flush failed", "title", a.Title, "error", err)
		}
	}
}

// PublishStatus publishes an engine lifecycle message to TopicStatus at QoS 1.
func (n *Notifier) PublishStatus(status string) {
	payload, _ := json.Marshal(map[string]string{
		"status": status,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
	token := n.client.Publish(TopicStatus, 1, true, payload)
	token.WaitTimeout(publishTimeout)
}

// Close disconnects from the broker.
func (n *Notifier) Close() error {
	n.client.Disconnect(250)
	return nil
}

type alertMessage struct {
	Severity  string `json:"severity"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Source    string `json:"source"`
	Number    string `json:"number,omitempty"`
	Timestamp string `json:"timestamp"`
}
