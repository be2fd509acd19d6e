package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dohr-michael/fintellix/internal/events"
	"github.com/dohr-michael/fintellix/internal/subjects"
)

func TestHTTPSourceSubstitutesTemplate(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"close":[1,2,3]}`)
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL+"/history/{symbol}?limit={limit}", time.Second)
	data, err := src.History(context.Background(), "BRK.B", 7)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if gotPath != "/history/BRK.B" || gotQuery != "limit=7" {
		t.Errorf("request = %s?%s", gotPath, gotQuery)
	}
	if string(data) != `{"close":[1,2,3]}` {
		t.Errorf("data = %s", data)
	}
}

func TestHTTPSourceRejectsBadResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/down") {
			http.Error(w, "nope", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, "<html>rate limited</html>")
	}))
	defer srv.Close()

	for _, path := range []string{"/down", "/html"} {
		src := NewHTTPSource(srv.URL+path, time.Second)
		if _, err := src.History(context.Background(), "XYZ", 1); err == nil {
			t.Errorf("%s: expected error", path)
		}
	}

	var nilSource *HTTPSource
	if _, err := nilSource.History(context.Background(), "XYZ", 1); !errors.Is(err, ErrNoSource) {
		t.Errorf("nil source err = %v", err)
	}
	if NewHTTPSource("", 0) != nil {
		t.Error("empty template should give a nil source")
	}
}

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule("30 16 * * 1-5")
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	friday := time.Date(2026, 10, 16, 16, 30, 20, 0, time.UTC)
	if !s.Due(friday) {
		t.Error("expected Friday 16:30 to be due")
	}
	if s.Due(friday.Add(time.Minute)) {
		t.Error("16:31 should not be due")
	}
	if s.Due(time.Date(2026, 10, 17, 16, 30, 0, 0, time.UTC)) {
		t.Error("Saturday should not be due")
	}
	want := time.Date(2026, 10, 19, 16, 30, 0, 0, time.UTC)
	if got := s.Next(friday); !got.Equal(want) {
		t.Errorf("Next = %v, want %v", got, want)
	}

	if _, err := ParseSchedule("every day"); err == nil {
		t.Error("expected parse error")
	}
}

type mapSource struct {
	mu    sync.Mutex
	data  map[subjects.Key]string
	calls int
}

func (s *mapSource) History(_ context.Context, subject subjects.Key, _ int) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	d, ok := s.data[subject]
	if !ok {
		return nil, fmt.Errorf("no data for %s", subject)
	}
	return json.RawMessage(d), nil
}

type memTarget struct {
	mu   sync.Mutex
	keys []subjects.Key
	data map[subjects.Key]string
}

func (m *memTarget) Subjects() []subjects.Key { return m.keys }

func (m *memTarget) SetSupplementary(subject subjects.Key, data json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[subject] = string(data)
	return nil
}

func TestRefreshAllKeepsPreviousDataOnFailure(t *testing.T) {
	src := &mapSource{data: map[subjects.Key]string{"AAPL": `[1]`, "MSFT": `[2]`}}
	target := &memTarget{
		keys: []subjects.Key{"AAPL", "MSFT", "GONE"},
		data: map[subjects.Key]string{"GONE": `[0]`},
	}
	bus := events.NewBus(16)
	defer bus.Close()

	r := NewRefresher(Config{Source: src, Target: target, Bus: bus, Concurrency: 2})
	n, err := r.RefreshAll(context.Background())
	if n != 2 {
		t.Errorf("refreshed = %d, want 2", n)
	}
	if err == nil || !strings.Contains(err.Error(), "GONE") {
		t.Errorf("err = %v", err)
	}
	if target.data["AAPL"] != `[1]` || target.data["MSFT"] != `[2]` {
		t.Errorf("data = %v", target.data)
	}
	if target.data["GONE"] != `[0]` {
		t.Errorf("failed refresh replaced data: %q", target.data["GONE"])
	}
	if src.calls != 3 {
		t.Errorf("calls = %d", src.calls)
	}
}

func TestRefreshPublishesEvent(t *testing.T) {
	bus := events.NewBus(16)
	defer bus.Close()
	ch, unsub := bus.SubscribeChan(4, events.EventMarketDataRefreshed)
	defer unsub()

	target := &memTarget{keys: []subjects.Key{"AAPL"}, data: map[subjects.Key]string{}}
	r := NewRefresher(Config{Source: &mapSource{data: map[subjects.Key]string{"AAPL": `[42]`}}, Target: target, Bus: bus})
	if err := r.Refresh(context.Background(), "AAPL"); err != nil {
		t.Fatal(err)
	}

	select {
	case e := <-ch:
		p, ok := events.ExtractPayload[events.MarketDataRefreshedPayload](e)
		if !ok || p.Bytes != 4 || e.Subject != "AAPL" {
			t.Errorf("event = %+v payload = %+v", e, p)
		}
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
}

func TestRefresherWithoutSource(t *testing.T) {
	var none *HTTPSource
	r := NewRefresher(Config{Source: none, Target: &memTarget{keys: []subjects.Key{"A"}}})
	if err := r.Refresh(context.Background(), "A"); !errors.Is(err, ErrNoSource) {
		t.Errorf("err = %v", err)
	}
	r.Track("A")
	r.Start()
	r.Stop()
	r.Stop()
}

func TestTrackFetchesInBackground(t *testing.T) {
	target := &memTarget{data: map[subjects.Key]string{}}
	r := NewRefresher(Config{Source: &mapSource{data: map[subjects.Key]string{"NEW": `{}`}}, Target: target})
	r.Track("NEW")
	r.Stop()

	target.mu.Lock()
	defer target.mu.Unlock()
	if target.data["NEW"] != `{}` {
		t.Errorf("data = %v", target.data)
	}
}

func TestHistoryTool(t *testing.T) {
	src := &mapSource{data: map[subjects.Key]string{"AAPL": `[1,2]`}}
	ht := NewHistoryTool(src, 10)

	info, err := ht.Info(context.Background())
	if err != nil || info.Name != "price_history" {
		t.Fatalf("Info = %+v, %v", info, err)
	}

	out, err := ht.InvokableRun(context.Background(), `{"symbol":"aapl"}`)
	if err != nil || out != `[1,2]` {
		t.Errorf("run = %q, %v", out, err)
	}
	out, err = ht.InvokableRun(context.Background(), `{"symbol":"ZZZ"}`)
	if err != nil || !strings.HasPrefix(out, "price history unavailable for ZZZ") {
		t.Errorf("missing = %q, %v", out, err)
	}
	if _, err := ht.InvokableRun(context.Background(), `{"symbol":"not valid!"}`); err == nil {
		t.Error("expected invalid symbol error")
	}

	var none *HTTPSource
	if NewHistoryTool(none, 5) != nil || NewHistoryTool(nil, 5) != nil {
		t.Error("expected nil tool without source")
	}
}
