// Package publisher batches a token-by-token generation stream into periodic
// posts against a room's broadcast relay. Long-running jobs (AI completions,
// transcript assembly) use it to surface incremental output in the live room
// without one HTTP call per token.
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultInterval is the flush window between relay posts.
const DefaultInterval = 250 * time.Millisecond

// Publisher accumulates chunks and flushes them to the relay endpoint at a
// bounded rate. One flush is outstanding at a time: the first chunk of a
// window arms the timer, later chunks only append.
//
// Delivery is at most once per window. A failed flush is logged through Logf
// and its buffer discarded; the generation job's own result is assembled
// elsewhere, so a gap only affects the live broadcast view.
type Publisher struct {
	endpoint  string
	requestID string
	name      string
	interval  time.Duration
	client    *http.Client
	logf      func(format string, args ...any)

	mu      sync.Mutex
	buf     strings.Builder
	armed   bool
	settled chan struct{}
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithInterval overrides the flush window.
func WithInterval(d time.Duration) Option {
	return func(p *Publisher) { p.interval = d }
}

// WithClient overrides the HTTP client used for flush posts.
func WithClient(client *http.Client) Option {
	return func(p *Publisher) { p.client = client }
}

// WithLogf overrides the failure logging hook.
func WithLogf(logf func(string, ...any)) Option {
	return func(p *Publisher) { p.logf = logf }
}

// New builds a publisher that posts to the given room relay endpoint,
// tagging every envelope with the stream's request id and name.
func New(endpoint, requestID, name string, opts ...Option) *Publisher {
	p := &Publisher{
		endpoint:  endpoint,
		requestID: requestID,
		name:      name,
		interval:  DefaultInterval,
		client:    &http.Client{Timeout: 10 * time.Second},
		logf:      log.Printf,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Write appends a chunk to the current window. The first chunk of a window
// schedules the flush; subsequent chunks ride along.
func (p *Publisher) Write(chunk string) {
	if chunk == "" {
		return
	}
	p.mu.Lock()
	p.buf.WriteString(chunk)
	if !p.armed {
		p.armed = true
		p.settled = make(chan struct{})
		time.AfterFunc(p.interval, p.flush)
	}
	p.mu.Unlock()
}

// flush posts the window's buffer and signals flush-settled.
func (p *Publisher) flush() {
	p.mu.Lock()
	data := p.buf.String()
	p.buf.Reset()
	p.armed = false
	settled := p.settled
	p.mu.Unlock()

	if data != "" {
		if err := p.post(data); err != nil {
			p.logf("publisher %s: flush dropped: %v", p.requestID, err)
		}
	}
	close(settled)
}

func (p *Publisher) post(data string) error {
	payload, err := json.Marshal(map[string]any{
		"requestId": p.requestID,
		"body":      data,
		"name":      p.name,
	})
	if err != nil {
		return err
	}
	resp, err := p.client.Post(p.endpoint, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay responded %d", resp.StatusCode)
	}
	return nil
}

// Drain waits until the final pending flush has settled. Callers must invoke
// it after the source stream ends so no chunk is lost mid-interval.
func (p *Publisher) Drain(ctx context.Context) error {
	p.mu.Lock()
	settled := p.settled
	armed := p.armed
	p.mu.Unlock()

	if settled == nil || (!armed && isClosed(settled)) {
		return nil
	}
	select {
	case <-settled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// Publish streams every chunk from source through the publisher and drains
// it when the stream closes, returning the fully assembled text.
func Publish(ctx context.Context, p *Publisher, source <-chan string) (string, error) {
	var full strings.Builder
	for chunk := range source {
		full.WriteString(chunk)
		p.Write(chunk)
	}
	if err := p.Drain(ctx); err != nil {
		return full.String(), err
	}
	return full.String(), nil
}
