package persistence

import (
	"context"
	"errors"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/config"
)

// MQTT wraps a connected paho client.
type MQTT struct {
	Client mqtt.Client

	mu    sync.Mutex
	hooks []func()
}

// NewMQTT connects to the broker with automatic reconnects.
func NewMQTT(cfg config.MQTTConfig, logger *zap.Logger) (*MQTT, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("MQTT_BROKER_URL is required for the mqtt event transport")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "ticket-lifecycle"
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(clientID).
		SetConnectTimeout(5 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second)
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	}
	m := &MQTT{}
	opts.OnConnect = func(_ mqtt.Client) {
		logger.Info("connected to mqtt", zap.String("broker", cfg.BrokerURL), zap.String("client_id", clientID))
		m.runHooks()
	}

	m.Client = mqtt.NewClient(opts)
	token := m.Client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, errors.New("mqtt connect timed out")
	}
	if err := token.Error(); err != nil {
		return nil, err
	}
	return m, nil
}

// OnConnect registers fn to run after every successful connect, including
// automatic reconnects. Hooks registered after the first connect only see
// reconnects.
func (m *MQTT) OnConnect(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, fn)
}

func (m *MQTT) runHooks() {
	m.mu.Lock()
	hooks := append([]func(){}, m.hooks...)
	m.mu.Unlock()
	for _, hook := range hooks {
		hook()
	}
}

// Close disconnects after letting in-flight work finish.
func (m *MQTT) Close() {
	if m != nil && m.Client != nil {
		m.Client.Disconnect(250)
	}
}

// Ping reports whether the client currently holds a broker connection.
func (m *MQTT) Ping(_ context.Context) error {
	if m == nil || m.Client == nil {
		return errors.New("mqtt client not configured")
	}
	if !m.Client.IsConnectionOpen() {
		return errors.New("mqtt connection not open")
	}
	return nil
}
