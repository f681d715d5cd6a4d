package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap/zaptest"

	"github.com/kwv/tactiletrack/tactile"
)

// TestMQTTPublishesTrackedPoses runs a short tracking job against a real
// broker and checks that every tracked frame arrives on the pose topic.
func TestMQTTPublishesTrackedPoses(t *testing.T) {
	// Skip if not running integration tests
	if os.Getenv("RUN_INTEGRATION_TESTS") != "1" {
		t.Skip("Skipping integration test (set RUN_INTEGRATION_TESTS=1 to run)")
	}
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" {
		broker = "tcp://localhost:1883"
	}
	prefix := "tactiletrack-test-" + time.Now().Format("150405")

	var (
		mu       sync.Mutex
		received []tactile.PoseMessage
	)
	subOpts := mqtt.NewClientOptions().AddBroker(broker).SetClientID(prefix + "-sub")
	sub := mqtt.NewClient(subOpts)
	if token := sub.Connect(); !token.WaitTimeout(10*time.Second) || token.Error() != nil {
		t.Fatalf("subscriber could not connect to %s: %v", broker, token.Error())
	}
	defer sub.Disconnect(250)
	token := sub.Subscribe(prefix+"/pose", 1, func(_ mqtt.Client, msg mqtt.Message) {
		var pm tactile.PoseMessage
		if err := json.Unmarshal(msg.Payload(), &pm); err != nil {
			t.Errorf("bad pose payload: %v", err)
			return
		}
		mu.Lock()
		received = append(received, pm)
		mu.Unlock()
	})
	if !token.WaitTimeout(10*time.Second) || token.Error() != nil {
		t.Fatalf("subscribe failed: %v", token.Error())
	}

	logger := zaptest.NewLogger(t).Sugar()
	app := newTestApp(t, &bytes.Buffer{}, AppOptions{MqttMode: true, Samples: -1})
	app.Config.MQTT = tactile.MQTTConfig{Broker: broker, PublishPrefix: prefix, ClientID: prefix + "-pub"}
	app.MQTTClient = tactile.ConnectMQTT(app.Config.MQTT, logger)
	if app.MQTTClient == nil {
		t.Fatal("expected an MQTT client")
	}
	deadline := time.Now().Add(10 * time.Second)
	for !app.MQTTClient.IsConnected() {
		if time.Now().After(deadline) {
			t.Fatal("publisher did not connect")
		}
		time.Sleep(50 * time.Millisecond)
	}

	if _, err := app.track(context.Background()); err != nil {
		t.Fatalf("track: %v", err)
	}
	app.Close()

	deadline = time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("received %d pose messages, want 2", n)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
