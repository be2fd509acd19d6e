package storage

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dohr-michael/fintellix/internal/events"
)

// readLog waits for path to hold n events and returns them.
func readLog(t *testing.T, path string, n int) []events.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		var out []events.Event
		if f, err := os.Open(path); err == nil {
			scanner := bufio.NewScanner(f)
			for scanner.Scan() {
				var e events.Event
				if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
					f.Close()
					t.Fatalf("unmarshal line %d: %v", len(out), err)
				}
				out = append(out, e)
			}
			f.Close()
		}
		if len(out) >= n || time.Now().After(deadline) {
			return out
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEventLogger_SubjectRouting(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "events")
	bus := events.NewBus(64)
	defer bus.Close()

	el := NewEventLogger(dir, bus)
	defer el.Close()

	bus.Publish(events.NewTypedEvent(events.SourceSession, events.ConversationClearedPayload{Subjects: 2}))
	bus.Publish(events.NewSubjectEvent(events.SourceScheduler, "XYZ", events.TaskCreatedPayload{TaskID: "task_1"}))
	bus.Publish(events.NewSubjectEvent(events.SourceScheduler, "XYZ", events.TaskCompletedPayload{TaskID: "task_1"}))

	global := readLog(t, el.Path(""), 1)
	if len(global) != 1 || global[0].Type != events.EventConversationCleared {
		t.Fatalf("global log = %+v", global)
	}

	xyz := readLog(t, filepath.Join(dir, "XYZ.jsonl"), 2)
	if len(xyz) != 2 {
		t.Fatalf("XYZ log has %d events, want 2", len(xyz))
	}
	if xyz[0].Type != events.EventTaskCreated || xyz[1].Type != events.EventTaskCompleted {
		t.Errorf("XYZ order = %s, %s", xyz[0].Type, xyz[1].Type)
	}
	if xyz[1].Subject != "XYZ" {
		t.Errorf("subject = %q", xyz[1].Subject)
	}
}

func TestEventLogger_CloseStopsLogging(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewBus(64)
	defer bus.Close()

	el := NewEventLogger(dir, bus)
	el.Close()

	bus.Publish(events.NewSubjectEvent(events.SourceSession, "ABC", events.ConversationUpdatedPayload{Role: "user", MessageCount: 1}))
	time.Sleep(50 * time.Millisecond)

	if _, err := os.Stat(el.Path("ABC")); !os.IsNotExist(err) {
		t.Errorf("expected no log after Close, stat err = %v", err)
	}
}
