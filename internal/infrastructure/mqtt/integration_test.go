//go:build integration

package mqtt

import (
	"testing"
	"time"
)

// These tests need a broker at 127.0.0.1:1883:
//
//	go test -tags=integration ./internal/infrastructure/mqtt/...

func TestIntegration_PublishSubscribe(t *testing.T) {
	client, err := ConnectAs(testConfig(), "brewlink-int-roundtrip")
	if err != nil {
		t.Skipf("broker unavailable: %v", err)
	}
	defer client.Close()

	topic := Topics{}.DeviceCommand("int-test")
	got := make(chan string, 1)
	err = client.Subscribe(topic, 1, func(_ string, payload []byte) error {
		got <- string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(topic) {
		t.Error("subscription not tracked")
	}

	if err := client.Publish(topic, []byte("setBeer=20"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-got:
		if msg != "setBeer=20" {
			t.Errorf("payload = %q, want setBeer=20", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}

	if err := client.Unsubscribe(topic); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
}
