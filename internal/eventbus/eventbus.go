// Package eventbus implements the Event Bus: per-apiKey SSE fan-out from
// the Session Supervisor to connected HTTP clients.
package eventbus

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/fahrizalm14/wasap-gateway/internal/models"
)

const (
	clientBufSize     = 16
	heartbeatInterval = 25 * time.Second
)

// ConnectionInfo is the payload broadcast on the "status" event.
type ConnectionInfo struct {
	ApiKey    string               `json:"apiKey"`
	Status    models.SessionStatus `json:"status"`
	Connected bool                 `json:"connected"`
}

// QrInfo is the payload broadcast on the "qr" event.
type QrInfo struct {
	ApiKey string  `json:"apiKey"`
	Qr     *string `json:"qr"`
}

type frame struct {
	event string
	data  []byte
}

type subscriber struct {
	ch chan frame
}

// Bus is the process-wide, per-apiKey Event Bus.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[*subscriber]struct{}
}

// New builds an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string]map[*subscriber]struct{})}
}

// Initial carries the last known state sent to a subscriber immediately
// on attach, before any new event arrives.
type Initial struct {
	Status *ConnectionInfo
	Qr     *QrInfo
}

// Subscribe blocks serving Server-Sent Events to w until the request
// context is cancelled or the transport stops accepting writes.
func (b *Bus) Subscribe(w http.ResponseWriter, r *http.Request, apiKey string, initial Initial) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	sub := &subscriber{ch: make(chan frame, clientBufSize)}
	b.attach(apiKey, sub)
	defer b.detach(apiKey, sub)

	if initial.Status != nil {
		writeFrame(w, flusher, "status", initial.Status)
	}
	if initial.Qr != nil {
		writeFrame(w, flusher, "qr", initial.Qr)
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-sub.ch:
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.event, f.data); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// PublishStatus broadcasts a status update to every subscriber of
// info.ApiKey.
func (b *Bus) PublishStatus(info ConnectionInfo) {
	b.broadcast(info.ApiKey, "status", info)
}

// PublishQr broadcasts a QR update (qr == nil clears it) to every
// subscriber of apiKey.
func (b *Bus) PublishQr(apiKey string, qr *string) {
	b.broadcast(apiKey, "qr", QrInfo{ApiKey: apiKey, Qr: qr})
}

func (b *Bus) broadcast(apiKey, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers[apiKey] {
		select {
		case sub.ch <- frame{event: event, data: data}:
		default:
			// Subscriber fell behind; drop the frame rather than block the
			// publisher. The subscriber stays attached and never receives
			// this frame.
		}
	}
}

func (b *Bus) attach(apiKey string, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.subscribers[apiKey]
	if !ok {
		set = make(map[*subscriber]struct{})
		b.subscribers[apiKey] = set
	}
	set[sub] = struct{}{}
}

func (b *Bus) detach(apiKey string, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.subscribers[apiKey]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subscribers, apiKey)
	}
}

func writeFrame(w http.ResponseWriter, flusher http.Flusher, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}
