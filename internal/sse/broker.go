// Package sse implements a Server-Sent Events broker for per-project change events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/piko/internal/metrics"
)

// Event types.
const (
	EventGraphSaved     = "graph.saved"
	EventProjectRenamed = "project.renamed"
	EventProjectDeleted = "project.deleted"
	EventMemberRemoved  = "member.removed"
)

// MemberRemoved is the payload of a member.removed event. The removed user's
// streams on the project are closed after it is delivered.
type MemberRemoved struct {
	ProjectID string `json:"id"`
	UserID    string `json:"userId"`
}

// Event represents an SSE event to broadcast to one project's subscribers.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type publishReq struct {
	project string
	event   Event
}

type subReq struct {
	project string
	actor   string
	ch      chan []byte
}

// Broker manages SSE client connections grouped by project.
//
// Concurrency model: a single internal event loop owns mutable state
// (topics, per-project graph throttle). Public methods communicate with the
// loop through channels, so no mutexes are required.
type Broker struct {
	graphMin time.Duration
	metrics  *metrics.Collector

	subscribeCh   chan subReq
	unsubscribeCh chan subReq
	publishCh     chan publishReq
	graphCh       chan publishReq
	flushCh       chan string
	countReqCh    chan countReq

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

type countReq struct {
	project string // empty counts every client
	resp    chan int
}

// NewBroker creates a broker. graph.saved events for one project are sent at
// most once per graphThrottle; the latest suppressed one is delivered when
// the window ends.
func NewBroker(graphThrottle time.Duration, m *metrics.Collector) *Broker {
	if graphThrottle <= 0 {
		graphThrottle = 2 * time.Second
	}

	b := &Broker{
		graphMin:      graphThrottle,
		metrics:       m,
		subscribeCh:   make(chan subReq),
		unsubscribeCh: make(chan subReq),
		publishCh:     make(chan publishReq, 256),
		graphCh:       make(chan publishReq, 256),
		flushCh:       make(chan string, 64),
		countReqCh:    make(chan countReq),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	topics := make(map[string]map[chan []byte]string) // ch -> actor
	lastGraph := make(map[string]time.Time)
	pending := make(map[string]Event)
	total := 0

	broadcast := func(project string, event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		raw := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload))

		for ch := range topics[project] {
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip to avoid blocking broker loop.
			}
		}
	}

	dropTopic := func(project string) {
		for ch := range topics[project] {
			close(ch)
			total--
		}
		delete(topics, project)
		delete(lastGraph, project)
		delete(pending, project)
		b.metrics.SSEClients(total)
	}

	revoke := func(project, actor string) {
		for ch, who := range topics[project] {
			if who == actor {
				delete(topics[project], ch)
				close(ch)
				total--
			}
		}
		if len(topics[project]) == 0 {
			delete(topics, project)
		}
		b.metrics.SSEClients(total)
	}

	for {
		select {
		case <-b.stopCh:
			for project := range topics {
				dropTopic(project)
			}
			return

		case req := <-b.subscribeCh:
			if topics[req.project] == nil {
				topics[req.project] = make(map[chan []byte]string)
			}
			topics[req.project][req.ch] = req.actor
			total++
			b.metrics.SSEClients(total)

		case req := <-b.unsubscribeCh:
			if _, ok := topics[req.project][req.ch]; ok {
				delete(topics[req.project], req.ch)
				close(req.ch)
				total--
				if len(topics[req.project]) == 0 {
					delete(topics, req.project)
				}
				b.metrics.SSEClients(total)
			}

		case req := <-b.publishCh:
			broadcast(req.project, req.event)
			switch req.event.Type {
			case EventProjectDeleted:
				dropTopic(req.project)
			case EventMemberRemoved:
				if m, ok := req.event.Data.(MemberRemoved); ok {
					revoke(req.project, m.UserID)
				}
			}

		case req := <-b.graphCh:
			now := time.Now()
			since := now.Sub(lastGraph[req.project])
			if since >= b.graphMin {
				lastGraph[req.project] = now
				broadcast(req.project, req.event)
				continue
			}
			if _, queued := pending[req.project]; !queued {
				project := req.project
				time.AfterFunc(b.graphMin-since, func() {
					select {
					case b.flushCh <- project:
					case <-b.stopped:
					}
				})
			}
			pending[req.project] = req.event

		case project := <-b.flushCh:
			if ev, ok := pending[project]; ok {
				delete(pending, project)
				lastGraph[project] = time.Now()
				broadcast(project, ev)
			}

		case req := <-b.countReqCh:
			if req.project == "" {
				req.resp <- total
			} else {
				req.resp <- len(topics[req.project])
			}
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds actor's client to project's topic and returns its channel.
func (b *Broker) Subscribe(project, actor string) chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subReq{project: project, actor: actor, ch: ch}:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(project string, ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- subReq{project: project, ch: ch}:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients of project, or of all
// projects when project is empty.
func (b *Broker) ClientCount(project string) int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- countReq{project: project, resp: resp}:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to every subscriber of project. A project.deleted
// event also disconnects them; member.removed disconnects the removed user.
func (b *Broker) Publish(project string, event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- publishReq{project: project, event: event}:
	case <-b.stopped:
	}
}

// PublishGraphSaved sends a throttled graph.saved event.
func (b *Broker) PublishGraphSaved(project string, data any) {
	if b.closed.Load() {
		return
	}
	select {
	case b.graphCh <- publishReq{project: project, event: Event{Type: EventGraphSaved, Data: data}}:
	case <-b.stopped:
	}
}

// ProjectEvent implements the project service's notifier.
func (b *Broker) ProjectEvent(project, kind string, data any) {
	if kind == EventGraphSaved {
		b.PublishGraphSaved(project, data)
		return
	}
	b.Publish(project, Event{Type: kind, Data: data})
}

// Stream writes project's events to w until the request ends, the topic is
// dropped or actor loses access. Authorization is the caller's job.
func (b *Broker) Stream(w http.ResponseWriter, r *http.Request, project, actor string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(project, actor)
	defer b.Unsubscribe(project, ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
