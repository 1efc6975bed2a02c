package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"
)

const commsTestPrefix = "events:comms_publisher_integration_test"

// startTestServer starts an in-process NATS server for testing.
func startTestServer(t *testing.T) (*comms.Conn, func()) {
	t.Helper()

	opts := &commsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := commsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("%s - failed to create server: %v", commsTestPrefix, err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", commsTestPrefix)
	}

	nc, err := comms.Connect(ns.ClientURL(), comms.Timeout(5*time.Second))
	if err != nil {
		ns.Shutdown()
		t.Fatalf("%s - failed to connect: %v", commsTestPrefix, err)
	}

	cleanup := func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	}

	return nc, cleanup
}

func subscribeEvents(t *testing.T, nc *comms.Conn, subject string) (<-chan *InvalidatedEvent, func()) {
	t.Helper()
	received := make(chan *InvalidatedEvent, 4)
	sub, err := nc.Subscribe(subject, func(msg *comms.Msg) {
		var event InvalidatedEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			t.Errorf("%s - failed to unmarshal: %v", commsTestPrefix, err)
			return
		}
		received <- &event
	})
	if err != nil {
		t.Fatalf("%s - failed to subscribe to %s: %v", commsTestPrefix, subject, err)
	}
	return received, func() { _ = sub.Unsubscribe() }
}

func TestCommsPublisher_PublishInvalidated(t *testing.T) {
	nc, cleanup := startTestServer(t)
	defer cleanup()

	perKey, unsubKey := subscribeEvents(t, nc, "livequery.invalidated.counter:getCounter")
	defer unsubKey()
	global, unsubGlobal := subscribeEvents(t, nc, "livequery.invalidated")
	defer unsubGlobal()

	publisher := NewCommsPublisher(nc, nil)
	err := publisher.PublishInvalidated(context.Background(), &InvalidatedEvent{
		QueryKey:   "counter:getCounter",
		Recipients: 3,
		Timestamp:  "2025-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("%s - PublishInvalidated failed: %v", commsTestPrefix, err)
	}
	nc.Flush()

	for name, ch := range map[string]<-chan *InvalidatedEvent{"per-key": perKey, "global": global} {
		select {
		case got := <-ch:
			if got.QueryKey != "counter:getCounter" {
				t.Errorf("%s - %s QueryKey = %q", commsTestPrefix, name, got.QueryKey)
			}
			if got.Recipients != 3 {
				t.Errorf("%s - %s Recipients = %d, want 3", commsTestPrefix, name, got.Recipients)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("%s - timed out waiting for %s event", commsTestPrefix, name)
		}
	}
}

func TestCommsPublisher_CustomGlobalSubject(t *testing.T) {
	nc, cleanup := startTestServer(t)
	defer cleanup()

	global, unsub := subscribeEvents(t, nc, "custom.invalidations")
	defer unsub()
	perKey, unsubKey := subscribeEvents(t, nc, "custom.invalidations.guestbook:listEntries")
	defer unsubKey()

	publisher := NewCommsPublisher(nc, &CommsPublisherOpts{GlobalSubject: "custom.invalidations"})
	if err := publisher.PublishInvalidated(context.Background(), &InvalidatedEvent{QueryKey: "guestbook:listEntries"}); err != nil {
		t.Fatalf("%s - PublishInvalidated failed: %v", commsTestPrefix, err)
	}
	nc.Flush()

	for _, ch := range []<-chan *InvalidatedEvent{global, perKey} {
		select {
		case got := <-ch:
			if got.QueryKey != "guestbook:listEntries" {
				t.Errorf("%s - QueryKey = %q", commsTestPrefix, got.QueryKey)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("%s - timed out waiting for event", commsTestPrefix)
		}
	}
}

func TestCommsPublisher_ClosedConnection(t *testing.T) {
	nc, cleanup := startTestServer(t)
	defer cleanup()
	nc.Close()

	publisher := NewCommsPublisher(nc, nil)
	if err := publisher.PublishInvalidated(context.Background(), &InvalidatedEvent{QueryKey: "counter:getCounter"}); err == nil {
		t.Errorf("%s - expected error publishing on a closed connection", commsTestPrefix)
	}
}
