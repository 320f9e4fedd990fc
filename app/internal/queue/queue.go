package queue

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/marketconnect/llm-workbench/app/domain/entities"
)

// ErrQueueClosed is returned by Push after Close.
var ErrQueueClosed = errors.New("queue closed")

// Queue admits upstream requests at a fixed per-minute rate.
type Queue struct {
	ch      chan entities.UpstreamRequest
	done    chan struct{}
	limiter *rate.Limiter
	client  *http.Client

	mu      sync.RWMutex
	closed  bool
	senders sync.WaitGroup
}

// NewQueue creates a new queue. A non-positive limit disables rate limiting.
// The client must not set a Timeout, since streamed bodies outlive Do; use
// request contexts instead. A nil client means http.DefaultClient.
func NewQueue(limitPerMin int, client *http.Client) *Queue {
	return newQueue(limitPerMin, client, 1000)
}

func newQueue(limitPerMin int, client *http.Client, size int) *Queue {
	if client == nil {
		client = http.DefaultClient
	}

	limit := rate.Inf
	if limitPerMin > 0 {
		limit = rate.Every(time.Minute / time.Duration(limitPerMin))
	}

	q := &Queue{
		ch:      make(chan entities.UpstreamRequest, size),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(limit, 1),
		client:  client,
	}

	go func() {
		for req := range q.ch {
			if err := q.limiter.Wait(req.Ctx); err != nil {
				req.Reply <- entities.UpstreamResponse{Err: err}
				continue
			}
			go q.handle(req)
		}
	}()

	return q
}

// Push queues the request and returns the upstream response once it has been
// admitted and answered. The caller owns the response body.
func (q *Queue) Push(ctx context.Context, req *http.Request) (*http.Response, error) {
	r := entities.UpstreamRequest{
		Ctx:     ctx,
		Request: req.WithContext(ctx),
		Reply:   make(chan entities.UpstreamResponse, 1),
	}

	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return nil, ErrQueueClosed
	}
	q.senders.Add(1)
	q.mu.RUnlock()

	select {
	case q.ch <- r:
		q.senders.Done()
	case <-q.done:
		q.senders.Done()
		return nil, ErrQueueClosed
	case <-ctx.Done():
		q.senders.Done()
		return nil, ctx.Err()
	}

	select {
	case reply := <-r.Reply:
		return reply.Response, reply.Err
	case <-ctx.Done():
		// Exactly one reply is always sent; release it once it arrives.
		go func() {
			if reply := <-r.Reply; reply.Response != nil {
				reply.Response.Body.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Close gracefully shuts down the queue. Requests already queued are still
// dispatched; pushes still waiting for room fail with ErrQueueClosed.
// Close is safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()

	q.senders.Wait()
	close(q.ch)
}

func (q *Queue) handle(p entities.UpstreamRequest) {
	log.Printf("forwarding %s %s", p.Request.Method, p.Request.URL.Path)

	resp, err := q.client.Do(p.Request)
	if err != nil {
		log.Printf("upstream request failed: %v", err)
		p.Reply <- entities.UpstreamResponse{Err: err}
		return
	}

	log.Printf("upstream responded with status: %d", resp.StatusCode)
	p.Reply <- entities.UpstreamResponse{Response: resp}
}
