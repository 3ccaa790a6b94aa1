package eventbus

import (
	"bufio"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fahrizalm14/wasap-gateway/internal/models"
)

func TestSubscribeReceivesInitialStatusAndQr(t *testing.T) {
	bus := New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest("GET", "/whatsapp/sessions/k1/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	qr := "qr-payload"
	done := make(chan struct{})
	go func() {
		bus.Subscribe(rec, req, "k1", Initial{
			Status: &ConnectionInfo{ApiKey: "k1", Status: models.StatusQR, Connected: false},
			Qr:     &QrInfo{ApiKey: "k1", Qr: &qr},
		})
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	if !strings.Contains(body, "event: status") {
		t.Fatalf("expected a status frame, got body: %q", body)
	}
	if !strings.Contains(body, "event: qr") {
		t.Fatalf("expected a qr frame, got body: %q", body)
	}
	if !strings.Contains(body, "qr-payload") {
		t.Fatalf("expected qr payload in body: %q", body)
	}
}

func TestPublishStatusFansOutToSubscriber(t *testing.T) {
	bus := New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest("GET", "/whatsapp/sessions/k1/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		bus.Subscribe(rec, req, "k1", Initial{})
		close(done)
	}()
	<-started
	time.Sleep(20 * time.Millisecond) // let Subscribe register before publishing

	bus.PublishStatus(ConnectionInfo{ApiKey: "k1", Status: models.StatusConnected, Connected: true})
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	scanner := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	found := false
	for scanner.Scan() {
		if strings.Contains(scanner.Text(), `"status":"CONNECTED"`) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a CONNECTED status frame, got body: %q", rec.Body.String())
	}
}

func TestPublishDoesNotReachOtherApiKeys(t *testing.T) {
	bus := New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest("GET", "/whatsapp/sessions/k1/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		bus.Subscribe(rec, req, "k1", Initial{})
		close(done)
	}()
	<-started
	time.Sleep(20 * time.Millisecond)

	bus.PublishStatus(ConnectionInfo{ApiKey: "other-key", Status: models.StatusConnected, Connected: true})
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	if strings.Contains(rec.Body.String(), "CONNECTED") {
		t.Fatalf("expected no cross-key delivery, got body: %q", rec.Body.String())
	}
}

func TestDetachRemovesSubscriberOnContextDone(t *testing.T) {
	bus := New()

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/whatsapp/sessions/k1/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		bus.Subscribe(rec, req, "k1", Initial{})
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	bus.mu.RLock()
	remaining := len(bus.subscribers["k1"])
	bus.mu.RUnlock()
	if remaining != 0 {
		t.Fatalf("expected subscriber to be detached, got %d remaining", remaining)
	}
}
