// Package notify pushes rollout notices to devices over MQTT.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/KevinKickass/OpenFacilityCore/internal/config"
	"github.com/KevinKickass/OpenFacilityCore/internal/metrics"
	"github.com/KevinKickass/OpenFacilityCore/internal/rollout"
	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"go.uber.org/zap"
)

// Message is the JSON payload published for a rollout.
type Message struct {
	rollout.Notice
	DownloadPath string `json:"downloadPath"`
}

const defaultPublishTimeout = time.Second

// ErrNotConnected is returned by Publish while the broker connection is down.
var ErrNotConnected = errors.New("mqtt broker not connected")

// publisher is the part of the connection manager the notifier needs.
type publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

type MQTTNotifier struct {
	pub     publisher
	topics  *Topics
	timeout time.Duration
	logger  *zap.Logger
}

var _ rollout.Notifier = (*MQTTNotifier)(nil)

func newMQTTNotifier(pub publisher, cfg config.MQTTConfig, logger *zap.Logger) *MQTTNotifier {
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &MQTTNotifier{
		pub:     pub,
		topics:  NewTopics(cfg.TopicRoot),
		timeout: timeout,
		logger:  logger,
	}
}

// NotifyRollout publishes the notice to the device's update topic with QoS 1.
func (n *MQTTNotifier) NotifyRollout(ctx context.Context, notice rollout.Notice) (err error) {
	defer func() {
		metrics.NotificationsTotal.WithLabelValues(metrics.Status(err)).Inc()
	}()

	payload, err := json.Marshal(Message{
		Notice:       notice,
		DownloadPath: fmt.Sprintf("/api/v1/firmware/%s/download", notice.FirmwareID),
	})
	if err != nil {
		return fmt.Errorf("failed to encode notice: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	topic := n.topics.FirmwareUpdate(notice.DeviceID)
	if err := n.pub.Publish(ctx, topic, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	n.logger.Debug("Rollout notice published",
		zap.String("topic", topic),
		zap.String("device_id", notice.DeviceID))
	return nil
}

// Connection wraps an autopaho connection manager.
type Connection struct {
	cm        *autopaho.ConnectionManager
	connected atomic.Bool
	logger    *zap.Logger
}

// Connect starts the MQTT connection and returns a notifier publishing on
// it. It does not wait for the broker; autopaho keeps reconnecting in the
// background until ctx is cancelled.
func Connect(ctx context.Context, cfg config.MQTTConfig, logger *zap.Logger) (*MQTTNotifier, *Connection, error) {
	brokerURL, err := url.Parse(cfg.Broker)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid mqtt broker url: %w", err)
	}

	keepAlive := uint16(cfg.KeepAlive / time.Second)
	if keepAlive == 0 {
		keepAlive = 60
	}
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}

	conn := &Connection{logger: logger}
	pahoCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{brokerURL},
		KeepAlive:                     keepAlive,
		CleanStartOnInitialConnection: true,
		ReconnectBackoff:              autopaho.NewConstantBackoff(3 * time.Second),
		ConnectTimeout:                connectTimeout,
		ConnectUsername:               cfg.Username,
		ConnectPassword:               []byte(cfg.Password),
		ClientConfig: paho.ClientConfig{
			ClientID:           cfg.ClientID,
			OnClientError:      conn.onClientError,
			OnServerDisconnect: conn.onServerDisconnect,
		},
		OnConnectionUp: conn.onConnectionUp,
		OnConnectError: conn.onConnectError,
	}

	logger.Info("Starting MQTT client",
		zap.String("broker", cfg.Broker),
		zap.String("client_id", cfg.ClientID))

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start mqtt connection: %w", err)
	}
	conn.cm = cm

	return newMQTTNotifier(conn, cfg, logger), conn, nil
}

// Publish sends with QoS 1. It fails fast while the connection is down
// instead of waiting for autopaho to reconnect.
func (c *Connection) Publish(ctx context.Context, topic string, payload []byte) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	_, err := c.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     1,
		Payload: payload,
	})
	return err
}

// Close disconnects from the broker.
func (c *Connection) Close(ctx context.Context) error {
	c.setConnected(false)
	if err := c.cm.Disconnect(ctx); err != nil {
		return fmt.Errorf("mqtt disconnect: %w", err)
	}
	c.logger.Info("MQTT client disconnected")
	return nil
}

func (c *Connection) setConnected(up bool) {
	c.connected.Store(up)
	if up {
		metrics.BrokerConnected.Set(1)
	} else {
		metrics.BrokerConnected.Set(0)
	}
}

func (c *Connection) onConnectionUp(cm *autopaho.ConnectionManager, ack *paho.Connack) {
	c.setConnected(true)
	c.logger.Info("MQTT connection established")
}

func (c *Connection) onConnectError(err error) {
	c.setConnected(false)
	c.logger.Warn("MQTT connection failed, retrying", zap.Error(err))
}

func (c *Connection) onClientError(err error) {
	c.setConnected(false)
	c.logger.Error("MQTT client error", zap.Error(err))
}

func (c *Connection) onServerDisconnect(d *paho.Disconnect) {
	c.setConnected(false)
	reason := ""
	if d.Properties != nil {
		reason = d.Properties.ReasonString
	}
	c.logger.Warn("MQTT server requested disconnect", zap.String("reason", reason))
}
