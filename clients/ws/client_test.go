package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dohr-michael/fintellix/internal/events"
	wsprotocol "github.com/dohr-michael/fintellix/internal/gateway/ws"
)

func TestClientWatchesSubject(t *testing.T) {
	bus := events.NewBus(16)
	defer bus.Close()
	hub := wsprotocol.NewHub(bus, nil)
	defer hub.Close()

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	client, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws", Options{Subject: "xyz"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	for hub.Clients() == 0 {
		time.Sleep(time.Millisecond)
	}
	bus.Publish(events.NewSubjectEvent(events.SourceSession, "ABC", events.ConversationUpdatedPayload{Role: "user", MessageCount: 1}))
	bus.Publish(events.NewSubjectEvent(events.SourceSession, "XYZ", events.ConversationUpdatedPayload{Role: "user", MessageCount: 1}))

	f, err := client.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if f.Subject != "XYZ" || f.Event != string(events.EventConversationUpdated) {
		t.Fatalf("frame = %+v", f)
	}

	// Without a controller the hub answers requests with an error.
	id, err := client.SubmitQuery("XYZ", "hi")
	if err != nil {
		t.Fatalf("SubmitQuery: %v", err)
	}
	f, err = client.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if f.ID != id || f.OK == nil || *f.OK {
		t.Fatalf("response = %+v", f)
	}

	// Switching the watch takes effect for later events.
	id, err = client.Watch("abc")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if f, err = client.ReadFrame(); err != nil || f.ID != id || f.OK == nil || !*f.OK {
		t.Fatalf("watch response = %+v, %v", f, err)
	}
	bus.Publish(events.NewSubjectEvent(events.SourceSession, "XYZ", events.ConversationUpdatedPayload{Role: "assistant", MessageCount: 2}))
	bus.Publish(events.NewSubjectEvent(events.SourceSession, "ABC", events.ConversationUpdatedPayload{Role: "assistant", MessageCount: 2}))
	if f, err = client.ReadFrame(); err != nil || f.Subject != "ABC" {
		t.Fatalf("after watch = %+v, %v", f, err)
	}
}
