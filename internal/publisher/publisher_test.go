package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type relayRecorder struct {
	mu     sync.Mutex
	bodies []map[string]any
	status int
}

func newRelayRecorder() *relayRecorder {
	return &relayRecorder{status: http.StatusOK}
}

func (r *relayRecorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	raw, _ := io.ReadAll(req.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)
	r.mu.Lock()
	r.bodies = append(r.bodies, body)
	status := r.status
	r.mu.Unlock()
	w.WriteHeader(status)
}

func (r *relayRecorder) posts() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]map[string]any(nil), r.bodies...)
}

func TestChunksWithinWindowBatchIntoOneFlush(t *testing.T) {
	recorder := newRelayRecorder()
	server := httptest.NewServer(recorder)
	defer server.Close()

	p := New(server.URL, "req-1", "ai.chunk", WithInterval(100*time.Millisecond))
	for i := 0; i < 10; i++ {
		p.Write(fmt.Sprintf("chunk%d ", i))
	}
	if err := p.Drain(context.Background()); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	posts := recorder.posts()
	if len(posts) != 1 {
		t.Fatalf("expected exactly 1 flush POST, got %d", len(posts))
	}
	want := "chunk0 chunk1 chunk2 chunk3 chunk4 chunk5 chunk6 chunk7 chunk8 chunk9 "
	if got := posts[0]["body"]; got != want {
		t.Errorf("expected concatenated chunks in arrival order, got %q", got)
	}
	if posts[0]["requestId"] != "req-1" || posts[0]["name"] != "ai.chunk" {
		t.Errorf("expected request tagging, got %+v", posts[0])
	}
}

func TestDrainDeliversFinalPartialBuffer(t *testing.T) {
	recorder := newRelayRecorder()
	server := httptest.NewServer(recorder)
	defer server.Close()

	p := New(server.URL, "req-2", "ai.chunk", WithInterval(50*time.Millisecond))
	p.Write("first window ")
	if err := p.Drain(context.Background()); err != nil {
		t.Fatalf("first Drain failed: %v", err)
	}

	// Stream ends mid-interval; Drain must not return before the last
	// buffer reaches the relay.
	p.Write("tail")
	if err := p.Drain(context.Background()); err != nil {
		t.Fatalf("second Drain failed: %v", err)
	}

	posts := recorder.posts()
	if len(posts) != 2 {
		t.Fatalf("expected 2 flush POSTs, got %d", len(posts))
	}
	if got := posts[1]["body"]; got != "tail" {
		t.Errorf("expected final partial buffer %q, got %q", "tail", got)
	}
}

func TestDrainWithoutWritesReturnsImmediately(t *testing.T) {
	p := New("http://relay.invalid", "req-3", "ai.chunk")
	done := make(chan error, 1)
	go func() { done <- p.Drain(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Drain failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Drain blocked with no pending flush")
	}
}

func TestFlushFailureIsSwallowedAndLogged(t *testing.T) {
	recorder := newRelayRecorder()
	recorder.status = http.StatusBadGateway
	server := httptest.NewServer(recorder)
	defer server.Close()

	var mu sync.Mutex
	var logged []string
	logf := func(format string, args ...any) {
		mu.Lock()
		logged = append(logged, fmt.Sprintf(format, args...))
		mu.Unlock()
	}

	p := New(server.URL, "req-4", "ai.chunk", WithInterval(20*time.Millisecond), WithLogf(logf))
	p.Write("lost interval")
	if err := p.Drain(context.Background()); err != nil {
		t.Fatalf("Drain must not surface flush failures, got %v", err)
	}

	mu.Lock()
	loggedCount := len(logged)
	mu.Unlock()
	if loggedCount != 1 {
		t.Fatalf("expected 1 logged failure, got %d", loggedCount)
	}

	// The failed window's buffer is discarded, not retried.
	p.Write("next window")
	if err := p.Drain(context.Background()); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	posts := recorder.posts()
	last := posts[len(posts)-1]
	if last["body"] != "next window" {
		t.Errorf("expected fresh buffer only, got %q", last["body"])
	}
}

func TestUnreachableRelayDoesNotPropagate(t *testing.T) {
	logged := make(chan string, 1)
	p := New("http://127.0.0.1:1", "req-5", "ai.chunk",
		WithInterval(10*time.Millisecond),
		WithClient(&http.Client{Timeout: 200 * time.Millisecond}),
		WithLogf(func(format string, args ...any) {
			select {
			case logged <- fmt.Sprintf(format, args...):
			default:
			}
		}))

	p.Write("never arrives")
	if err := p.Drain(context.Background()); err != nil {
		t.Fatalf("Drain must not surface network failures, got %v", err)
	}
	select {
	case <-logged:
	case <-time.After(time.Second):
		t.Fatal("expected the dropped flush to be logged")
	}
}

func TestPublishAssemblesFullText(t *testing.T) {
	recorder := newRelayRecorder()
	server := httptest.NewServer(recorder)
	defer server.Close()

	p := New(server.URL, "req-6", "ai.chunk", WithInterval(20*time.Millisecond))
	source := make(chan string)
	go func() {
		for _, chunk := range []string{"The ", "quick ", "brown ", "fox"} {
			source <- chunk
		}
		close(source)
	}()

	full, err := Publish(context.Background(), p, source)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if full != "The quick brown fox" {
		t.Errorf("expected assembled text, got %q", full)
	}
	if len(recorder.posts()) == 0 {
		t.Error("expected at least one flush POST")
	}
}
