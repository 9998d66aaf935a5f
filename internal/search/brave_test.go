package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestBrave_ParsesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Subscription-Token") != "key-1" {
			t.Errorf("missing subscription token")
		}
		q := r.URL.Query()
		if q.Get("q") != "bun runtime" || q.Get("count") != "5" || q.Get("safesearch") != "moderate" {
			t.Errorf("unexpected query params: %v", q)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"web":{"results":[
			{"title":"Bun","url":"https://bun.sh","description":"runtime","page_age":"2024-01-01"},
			{"title":"","url":"https://skip.me","description":"no title"}
		]}}`))
	}))
	defer srv.Close()

	b := &Brave{BaseURL: srv.URL, APIKey: "key-1"}
	results, err := b.Search(context.Background(), Query{Query: "bun runtime", Count: 5})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].URL != "https://bun.sh" || results[0].Source != "brave" {
		t.Fatalf("unexpected result: %+v", results[0])
	}
}

func TestBrave_429RetriedOnceThenParsed(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"web":{"results":[{"title":"Bun","url":"https://bun.sh","description":"runtime"}]}}`))
	}))
	defer srv.Close()

	c := NewClient(&Brave{BaseURL: srv.URL, APIKey: "k"}, true, 1, zerolog.Nop())
	var slept []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	c.jitter = func() time.Duration { return 0 }

	results, err := c.Search(context.Background(), Query{Query: "bun"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected parsed results after retry, got %v", results)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 upstream calls, got %d", calls)
	}
	if len(slept) != 1 || slept[0] != time.Second {
		t.Fatalf("expected exactly one 1s sleep, got %v", slept)
	}
}

func TestBrave_OtherStatusesNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(&Brave{BaseURL: srv.URL, APIKey: "k"}, true, 3, zerolog.Nop())
	if _, err := c.Search(context.Background(), Query{Query: "q"}); err == nil {
		t.Fatal("expected error")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("5xx must not retry, got %d calls", calls)
	}
}

func TestSearxNG_ParsesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("format") != "json" || q.Get("safesearch") != "2" {
			t.Errorf("unexpected query params: %v", q)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[{"title":"Doc","url":"https://doc.test","content":"snippet"}]}`))
	}))
	defer srv.Close()

	s := &SearxNG{BaseURL: srv.URL}
	results, err := s.Search(context.Background(), Query{Query: "doc", Safesearch: "strict"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].Source != "searxng" {
		t.Fatalf("unexpected results: %+v", results)
	}
}
