package tactile

import (
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTClient manages the broker connection used for publishing poses.
type MQTTClient struct {
	client      mqtt.Client
	logger      *zap.SugaredLogger
	isConnected bool
	mu          sync.RWMutex
}

// resolveMQTTConfig applies MQTT_* environment overrides on top of cfg.
func resolveMQTTConfig(cfg MQTTConfig) MQTTConfig {
	override := func(env string, dst *string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	override("MQTT_BROKER", &cfg.Broker)
	override("MQTT_CLIENT_ID", &cfg.ClientID)
	override("MQTT_USERNAME", &cfg.Username)
	override("MQTT_PASSWORD", &cfg.Password)
	override("MQTT_PUBLISH_PREFIX", &cfg.PublishPrefix)
	if cfg.ClientID == "" {
		cfg.ClientID = "tactiletrack"
	}
	if cfg.PublishPrefix == "" {
		cfg.PublishPrefix = "tactiletrack"
	}
	return cfg
}

// ConnectMQTT starts connecting to the configured broker in the background.
// With no broker configured MQTT is disabled and it returns nil.
func ConnectMQTT(cfg MQTTConfig, logger *zap.SugaredLogger) *MQTTClient {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	cfg = resolveMQTTConfig(cfg)
	if cfg.Broker == "" {
		logger.Info("MQTT disabled: no broker configured")
		return nil
	}

	c := &MQTTClient{logger: logger}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)

	c.client = mqtt.NewClient(opts)
	go c.connectWithRetry()
	return c
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		c.logger.Info("connecting to MQTT broker")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				c.setConnected(true)
				return
			}
			c.logger.Warnw("MQTT connection failed", "error", token.Error())
		} else {
			c.logger.Warn("MQTT connection timeout")
		}

		c.logger.Infow("retrying MQTT connection", "delay", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

func (c *MQTTClient) onConnect(mqtt.Client) {
	c.logger.Info("MQTT connected")
	c.setConnected(true)
}

// onConnectionLost is called when the MQTT connection is lost
// Auto-reconnect is enabled, so this is typically a transient event
func (c *MQTTClient) onConnectionLost(_ mqtt.Client, err error) {
	c.logger.Warnw("MQTT connection interrupted, auto-reconnect will retry", "error", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(mqtt.Client, *mqtt.ClientOptions) {
	c.logger.Info("MQTT reconnecting")
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.logger.Info("disconnecting from MQTT broker")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// Client returns the underlying MQTT client for publishing
func (c *MQTTClient) Client() mqtt.Client {
	return c.client
}

// newMQTTClientWithMock wraps a provided mqtt.Client for tests.
func newMQTTClientWithMock(client mqtt.Client) *MQTTClient {
	return &MQTTClient{client: client, logger: zap.NewNop().Sugar()}
}
