//go:build integration

package mqtt

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

// These tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func connectTest(t *testing.T, clientID, feederID string) *Client {
	t.Helper()
	cfg := testConfig()
	cfg.Broker.ClientID = clientID

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := Connect(ctx, cfg, feederID)
	if err != nil {
		t.Skipf("broker unavailable: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestIntegration_PublishSubscribe(t *testing.T) {
	c := connectTest(t, "catfeeder-it-pubsub", "it-feeder")

	received := make(chan []byte, 1)
	topic := c.Topics().Feed()
	if err := c.Subscribe(topic, 1, func(_ string, payload []byte) error {
		received <- payload
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() = %v", err)
	}
	if !c.HasSubscription(topic) {
		t.Fatal("subscription not recorded")
	}

	if err := c.Publish(topic, []byte(`{"portions":2}`), 1, false); err != nil {
		t.Fatalf("Publish() = %v", err)
	}

	select {
	case got := <-received:
		if string(got) != `{"portions":2}` {
			t.Errorf("payload = %s", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}
}

func TestIntegration_OnlineAvailability(t *testing.T) {
	watcher := connectTest(t, "catfeeder-it-watcher", "it-watcher")

	got := make(chan availability, 4)
	if err := watcher.Subscribe(Topics{FeederID: "it-avail"}.Availability(), 1, func(_ string, payload []byte) error {
		var a availability
		if err := json.Unmarshal(payload, &a); err != nil {
			return err
		}
		got <- a
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() = %v", err)
	}

	connectTest(t, "catfeeder-it-avail", "it-avail")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case a := <-got:
			if a.Status == "online" {
				return
			}
		case <-deadline:
			t.Fatal("online availability not published")
		}
	}
}
