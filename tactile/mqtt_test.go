package tactile

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func clearMQTTEnv(t *testing.T) {
	for _, env := range []string{"MQTT_BROKER", "MQTT_CLIENT_ID", "MQTT_USERNAME", "MQTT_PASSWORD", "MQTT_PUBLISH_PREFIX"} {
		t.Setenv(env, "")
	}
}

func TestResolveMQTTConfig(t *testing.T) {
	clearMQTTEnv(t)

	cfg := resolveMQTTConfig(MQTTConfig{Broker: "tcp://broker:1883"})
	assert.Equal(t, "tcp://broker:1883", cfg.Broker)
	assert.Equal(t, "tactiletrack", cfg.ClientID)
	assert.Equal(t, "tactiletrack", cfg.PublishPrefix)

	t.Setenv("MQTT_BROKER", "tcp://env:1883")
	t.Setenv("MQTT_USERNAME", "gel")
	cfg = resolveMQTTConfig(MQTTConfig{Broker: "tcp://broker:1883", ClientID: "left", PublishPrefix: "p"})
	assert.Equal(t, "tcp://env:1883", cfg.Broker, "environment overrides the file")
	assert.Equal(t, "gel", cfg.Username)
	assert.Equal(t, "left", cfg.ClientID)
	assert.Equal(t, "p", cfg.PublishPrefix)
}

func TestConnectMQTT_Disabled(t *testing.T) {
	clearMQTTEnv(t)
	assert.Nil(t, ConnectMQTT(MQTTConfig{}, nil))
}

func TestMQTTClient_IsConnected(t *testing.T) {
	client := &MQTTClient{}
	assert.False(t, client.IsConnected(), "New client should not be connected")

	client.setConnected(true)
	assert.True(t, client.IsConnected())

	client.setConnected(false)
	assert.False(t, client.IsConnected())
}

func TestMQTTClient_ConnectionHandlers(t *testing.T) {
	mock := NewMockClient()
	client := newMQTTClientWithMock(mock)

	client.onConnect(mock)
	assert.True(t, client.IsConnected())

	client.onConnectionLost(mock, errors.New("eof"))
	assert.False(t, client.IsConnected())
}

func TestMQTTClient_Disconnect(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)
	client := newMQTTClientWithMock(mock)
	client.setConnected(true)

	client.Disconnect()
	assert.False(t, client.IsConnected())
	assert.False(t, mock.IsConnected())
	assert.Same(t, mock, client.Client())
}

func TestMockClient_Publish(t *testing.T) {
	mock := NewMockClient()
	token := mock.Publish("a", 0, false, "x")
	assert.Error(t, token.Error(), "publishing while disconnected fails")

	mock.Connect()
	assert.NoError(t, mock.Publish("a", 1, true, "x").Error())
	assert.NoError(t, mock.Publish("b", 0, false, []byte("y")).Error())

	assert.Len(t, mock.Published(), 2)
	assert.Equal(t, []MockMessage{{Topic: "a", Payload: []byte("x"), QoS: 1, Retain: true}}, mock.PublishedTo("a"))
}
