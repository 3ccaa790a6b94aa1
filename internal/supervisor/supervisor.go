// Package supervisor implements the Session Lifecycle Engine's Session
// Supervisor: the finite state machine driving each tenant's WhatsApp Web
// socket from DISCONNECTED through QR/CONNECTED and back, coordinating the
// Tenant Key Registry, Credential Store, Session Lock, Event Bus and
// Upstream Adapter.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/types"
	"gorm.io/gorm"

	"github.com/fahrizalm14/wasap-gateway/internal/config"
	"github.com/fahrizalm14/wasap-gateway/internal/credentials"
	"github.com/fahrizalm14/wasap-gateway/internal/engineerr"
	"github.com/fahrizalm14/wasap-gateway/internal/eventbus"
	"github.com/fahrizalm14/wasap-gateway/internal/models"
	"github.com/fahrizalm14/wasap-gateway/internal/upstream"
	"github.com/fahrizalm14/wasap-gateway/pkg/logger"
)

// Registry is the narrow slice of the Tenant Key Registry the Supervisor
// needs: validating that a bearer key is active.
type Registry interface {
	AssertActive(key string) (*models.ApiKey, error)
}

// CredentialStore is the narrow slice of the Credential Store the
// Supervisor needs to persist and recall a session's identity.
type CredentialStore interface {
	LoadCreds(sessionID uint) (credentials.Creds, error)
	SaveCreds(sessionID uint, creds credentials.Creds) error
	ClearSessionData(sessionID uint) error
}

// LockManager is the narrow slice of the Session Lock the Supervisor needs.
type LockManager interface {
	TryAcquire(apiKey, ownerID string) (bool, error)
	Touch(apiKey, ownerID string) error
	Release(apiKey, ownerID string) error
	ReleaseAll(ownerID string) error
	IsOwned(apiKey string) (string, error)
}

// EventBus is the narrow slice of the Event Bus the Supervisor publishes
// through.
type EventBus interface {
	PublishStatus(info eventbus.ConnectionInfo)
	PublishQr(apiKey string, qr *string)
}

// UpstreamAdapter is the narrow slice of the Upstream Adapter the
// Supervisor drives.
type UpstreamAdapter interface {
	NewSocket(ctx context.Context, existingJID *types.JID) (upstream.Socket, error)
}

// GetQrResult is returned by GetQr.
type GetQrResult struct {
	ApiKey string
	Status models.SessionStatus
	Qr     *string
}

// ConnectionStatusResult is returned by GetConnectionStatus.
type ConnectionStatusResult struct {
	ApiKey    string
	Status    models.SessionStatus
	Connected bool
}

// SendTextResult is returned by SendText.
type SendTextResult struct {
	MessageID string
}

// WarmResult is returned by WarmSessions.
type WarmResult struct {
	Total     int
	Attempted int
	Connected int
	Failed    int
}

// Supervisor is the Session Supervisor.
type Supervisor struct {
	registry Registry
	creds    CredentialStore
	locks    LockManager
	bus      EventBus
	upstream UpstreamAdapter
	sessions *sessionRepo
	cfg      config.EngineConfig
	log      logger.Logger
	ownerID  string

	mu       sync.Mutex
	managed  map[string]*managedSession
	stopped  chan struct{}
	stopOnce sync.Once
}

// New builds a Supervisor. ownerID is this process's lock-ownership
// identity, generated once at boot (see lock.InstanceID).
func New(
	db *gorm.DB,
	registry Registry,
	creds CredentialStore,
	locks LockManager,
	bus EventBus,
	upstreamAdapter UpstreamAdapter,
	cfg config.EngineConfig,
	log logger.Logger,
	ownerID string,
) *Supervisor {
	return &Supervisor{
		registry: registry,
		creds:    creds,
		locks:    locks,
		bus:      bus,
		upstream: upstreamAdapter,
		sessions: newSessionRepo(db),
		cfg:      cfg,
		log:      log,
		ownerID:  ownerID,
		managed:  make(map[string]*managedSession),
		stopped:  make(chan struct{}),
	}
}

// GetQr implements §4.6's getQr operation.
func (s *Supervisor) GetQr(ctx context.Context, apiKey string, displayName *string) (GetQrResult, error) {
	if _, err := s.registry.AssertActive(apiKey); err != nil {
		return GetQrResult{}, err
	}

	session, err := s.sessions.upsert(apiKey, displayName)
	if err != nil {
		return GetQrResult{}, engineerr.Internal(err)
	}
	if session.Status == models.StatusLoggedOut {
		return GetQrResult{ApiKey: apiKey, Status: models.StatusLoggedOut}, nil
	}

	ms := s.getOrCreateManaged(apiKey, session.ID)
	if err := s.initializeSocket(ctx, ms); err != nil {
		return GetQrResult{}, engineerr.Internal(err)
	}

	ms.mu.Lock()
	if ms.status == models.StatusConnected {
		ms.mu.Unlock()
		return GetQrResult{ApiKey: apiKey, Status: models.StatusConnected}, nil
	}
	if ms.currentQr != nil {
		qr := *ms.currentQr
		ms.mu.Unlock()
		return GetQrResult{ApiKey: apiKey, Status: models.StatusQR, Qr: &qr}, nil
	}
	wait := make(chan waitOutcome, 1)
	ms.qrWaiters = append(ms.qrWaiters, wait)
	ms.mu.Unlock()

	select {
	case outcome := <-wait:
		if outcome.err != nil {
			return GetQrResult{}, engineerr.Internal(outcome.err)
		}
		return s.currentQrResult(apiKey, ms)
	case <-time.After(s.cfg.QRWaitTimeout):
		ms.removeQrWaiter(wait)
		return GetQrResult{}, engineerr.Internal(errors.New("QR code generation timeout"))
	case <-ctx.Done():
		ms.removeQrWaiter(wait)
		return GetQrResult{}, ctx.Err()
	}
}

// currentQrResult re-reads ms's fresh state after a waiter wakeup: by the
// time the caller wakes, the event that triggered it may already be stale.
func (s *Supervisor) currentQrResult(apiKey string, ms *managedSession) (GetQrResult, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.status == models.StatusConnected {
		return GetQrResult{ApiKey: apiKey, Status: models.StatusConnected}, nil
	}
	if ms.currentQr != nil {
		qr := *ms.currentQr
		return GetQrResult{ApiKey: apiKey, Status: models.StatusQR, Qr: &qr}, nil
	}
	return GetQrResult{}, engineerr.Internal(errors.New("QR code generation timeout"))
}

// Logout implements §4.6's logout operation.
func (s *Supervisor) Logout(ctx context.Context, apiKey string) error {
	if _, err := s.registry.AssertActive(apiKey); err != nil {
		return err
	}

	session, err := s.sessions.getByApiKey(apiKey)
	if err != nil {
		return engineerr.Internal(err)
	}
	if session == nil {
		return engineerr.SessionNotFound()
	}

	if ms := s.lookupManaged(apiKey); ms != nil {
		ms.mu.Lock()
		sock := ms.socket
		ms.mu.Unlock()
		if sock != nil {
			if err := sock.Logout(ctx); err != nil {
				s.log.Error("upstream logout failed", err, logger.F("apiKey", apiKey))
			}
			sock.Close()
		}
		s.removeManaged(apiKey)
	}

	if err := s.creds.ClearSessionData(session.ID); err != nil {
		s.log.Error("failed to clear session data", err, logger.F("apiKey", apiKey))
	}
	if err := s.sessions.setStatus(session.ID, models.StatusLoggedOut); err != nil {
		s.log.Error("failed to persist logged-out status", err, logger.F("apiKey", apiKey))
	}
	s.bus.PublishQr(apiKey, nil)
	if err := s.locks.Release(apiKey, s.ownerID); err != nil {
		s.log.Error("failed to release session lock", err, logger.F("apiKey", apiKey))
	}

	return nil
}

// GetConnectionStatus implements §4.6's getConnectionStatus operation.
func (s *Supervisor) GetConnectionStatus(apiKey string) (ConnectionStatusResult, error) {
	if _, err := s.registry.AssertActive(apiKey); err != nil {
		return ConnectionStatusResult{}, err
	}

	if ms := s.lookupManaged(apiKey); ms != nil {
		ms.mu.Lock()
		status := ms.status
		connected := ms.socket != nil && ms.socket.IsLoggedIn() && ms.socket.JID() != nil
		ms.mu.Unlock()
		return ConnectionStatusResult{ApiKey: apiKey, Status: status, Connected: connected}, nil
	}

	session, err := s.sessions.getByApiKey(apiKey)
	if err != nil {
		return ConnectionStatusResult{}, engineerr.Internal(err)
	}
	if session == nil {
		return ConnectionStatusResult{}, engineerr.SessionNotFound()
	}
	return ConnectionStatusResult{ApiKey: apiKey, Status: session.Status, Connected: false}, nil
}

// GetCurrentQr returns the memory-only last QR, used to seed new SSE
// subscribers.
func (s *Supervisor) GetCurrentQr(apiKey string) *string {
	ms := s.lookupManaged(apiKey)
	if ms == nil {
		return nil
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.currentQr == nil {
		return nil
	}
	qr := *ms.currentQr
	return &qr
}

// SessionSummary is one row of ListSessions.
type SessionSummary struct {
	ApiKey      string
	DisplayName *string
	Status      models.SessionStatus
	Connected   bool
}

// ListSessions returns every known session, merging the persisted status
// with the live connected flag for whichever sessions are managed.
func (s *Supervisor) ListSessions() ([]SessionSummary, error) {
	rows, err := s.sessions.listAll()
	if err != nil {
		return nil, engineerr.Internal(err)
	}

	summaries := make([]SessionSummary, 0, len(rows))
	for _, row := range rows {
		summary := SessionSummary{ApiKey: row.ApiKey, DisplayName: row.DisplayName, Status: row.Status}
		if ms := s.lookupManaged(row.ApiKey); ms != nil {
			ms.mu.Lock()
			summary.Status = ms.status
			summary.Connected = ms.socket != nil && ms.socket.IsLoggedIn() && ms.socket.JID() != nil
			ms.mu.Unlock()
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// SendText implements §4.6's sendText operation.
func (s *Supervisor) SendText(ctx context.Context, apiKey, to, text string) (SendTextResult, error) {
	if _, err := s.registry.AssertActive(apiKey); err != nil {
		return SendTextResult{}, err
	}

	session, err := s.sessions.getByApiKey(apiKey)
	if err != nil {
		return SendTextResult{}, engineerr.Internal(err)
	}
	if session == nil {
		return SendTextResult{}, engineerr.SessionNotFound()
	}
	if session.Status == models.StatusLoggedOut {
		return SendTextResult{}, engineerr.SessionLoggedOut()
	}

	msisdn, ok := normaliseMSISDN(to, s.cfg.DefaultCountryPrefix)
	if !ok {
		return SendTextResult{}, engineerr.Validation("Invalid 'to' (use digits, 8-15, with country code)")
	}
	if len(text) < 1 || len(text) > 1000 {
		return SendTextResult{}, engineerr.Validation("Invalid 'text' (1-1000 chars)")
	}

	ms := s.getOrCreateManaged(apiKey, session.ID)
	if err := s.initializeSocket(ctx, ms); err != nil {
		return SendTextResult{}, engineerr.Internal(err)
	}

	ms.mu.Lock()
	owned := ms.lockOwned
	connected := ms.socket != nil && ms.socket.IsLoggedIn() && ms.socket.JID() != nil
	ms.mu.Unlock()

	if !owned && !connected {
		owner, _ := s.locks.IsOwned(apiKey)
		return SendTextResult{}, engineerr.SessionLocked(owner)
	}

	if !connected {
		if err := s.awaitConnected(ctx, ms, s.cfg.SendWaitTimeout); err != nil {
			return SendTextResult{}, engineerr.NotConnected()
		}
	}

	ms.mu.Lock()
	sock := ms.socket
	ms.mu.Unlock()
	if sock == nil {
		return SendTextResult{}, engineerr.NotConnected()
	}

	result, err := sock.SendText(ctx, msisdn+"@s.whatsapp.net", text)
	if err != nil {
		return SendTextResult{}, engineerr.Internal(err)
	}
	if err := s.locks.Touch(apiKey, s.ownerID); err != nil {
		s.log.Error("failed to touch session lock after send", err, logger.F("apiKey", apiKey))
	}

	return SendTextResult{MessageID: result.MessageID}, nil
}

// WarmSessions implements §4.6's warmSessions operation, called once on
// process start.
func (s *Supervisor) WarmSessions(ctx context.Context) (WarmResult, error) {
	sessions, err := s.sessions.listWarmable()
	if err != nil {
		return WarmResult{}, err
	}

	result := WarmResult{Total: len(sessions)}
	for _, session := range sessions {
		result.Attempted++

		ms := s.getOrCreateManaged(session.ApiKey, session.ID)
		if err := s.initializeSocket(ctx, ms); err != nil {
			result.Failed++
			continue
		}
		if err := s.awaitConnected(ctx, ms, s.cfg.WarmupWaitTimeout); err != nil {
			result.Failed++
			continue
		}
		result.Connected++
	}
	return result, nil
}

// Stop releases every lock this process owns and force-closes all live
// sockets, used on graceful shutdown.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopped)

		s.mu.Lock()
		sockets := make([]upstream.Socket, 0, len(s.managed))
		for _, ms := range s.managed {
			ms.mu.Lock()
			if ms.socket != nil {
				sockets = append(sockets, ms.socket)
			}
			ms.mu.Unlock()
		}
		s.mu.Unlock()

		for _, sock := range sockets {
			sock.Close()
		}

		if err := s.locks.ReleaseAll(s.ownerID); err != nil {
			s.log.Error("failed to release locks on shutdown", err)
		}
	})
}

func (s *Supervisor) getOrCreateManaged(apiKey string, sessionID uint) *managedSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ms, ok := s.managed[apiKey]; ok {
		return ms
	}
	ms := &managedSession{apiKey: apiKey, sessionID: sessionID, status: models.StatusDisconnected}
	s.managed[apiKey] = ms
	return ms
}

func (s *Supervisor) lookupManaged(apiKey string) *managedSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.managed[apiKey]
}

func (s *Supervisor) removeManaged(apiKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.managed, apiKey)
}

// initializeSocket is idempotent: concurrent callers for the same key
// share one in-flight attempt.
func (s *Supervisor) initializeSocket(ctx context.Context, ms *managedSession) error {
	ms.mu.Lock()
	if ms.socket != nil {
		ms.mu.Unlock()
		return nil
	}
	if ms.connecting {
		done := ms.connectDone
		ms.mu.Unlock()
		<-done
		return nil
	}
	ms.connecting = true
	ms.connectDone = make(chan struct{})
	ms.mu.Unlock()

	err := s.doInitializeSocket(ctx, ms)

	ms.mu.Lock()
	ms.connecting = false
	close(ms.connectDone)
	ms.mu.Unlock()

	return err
}

func (s *Supervisor) doInitializeSocket(ctx context.Context, ms *managedSession) error {
	acquired, err := s.locks.TryAcquire(ms.apiKey, s.ownerID)
	if err != nil {
		return fmt.Errorf("supervisor: acquire lock: %w", err)
	}
	if !acquired {
		ms.mu.Lock()
		ms.lockOwned = false
		ms.mu.Unlock()
		return nil
	}

	existingJID := s.loadExistingJID(ms.sessionID)

	sock, err := s.upstream.NewSocket(ctx, existingJID)
	if err != nil {
		if releaseErr := s.locks.Release(ms.apiKey, s.ownerID); releaseErr != nil {
			s.log.Error("failed to release lock after failed socket construction", releaseErr, logger.F("apiKey", ms.apiKey))
		}
		ms.mu.Lock()
		ms.status = models.StatusError
		ms.lockOwned = false
		ms.mu.Unlock()
		if err := s.sessions.setStatus(ms.sessionID, models.StatusError); err != nil {
			s.log.Error("failed to persist error status", err, logger.F("apiKey", ms.apiKey))
		}
		ms.rejectQrWaiters(err)
		return fmt.Errorf("supervisor: new socket: %w", err)
	}

	ms.mu.Lock()
	ms.socket = sock
	ms.lockOwned = true
	ms.mu.Unlock()

	go s.runEventLoop(ms, sock)

	return nil
}

func (s *Supervisor) runEventLoop(ms *managedSession, sock upstream.Socket) {
	for {
		select {
		case <-s.stopped:
			return
		case evt, ok := <-sock.ConnectionUpdate():
			if !ok {
				return
			}
			s.handleConnectionEvent(ms, evt)
		case _, ok := <-sock.CredsUpdate():
			if !ok {
				return
			}
			s.persistJID(ms.sessionID, sock.JID())
		}
	}
}

func (s *Supervisor) handleConnectionEvent(ms *managedSession, evt upstream.ConnectionEvent) {
	if evt.Qr != nil {
		ms.mu.Lock()
		ms.currentQr = evt.Qr
		ms.status = models.StatusQR
		waiters := ms.takeQrWaiters()
		ms.mu.Unlock()

		s.bus.PublishQr(ms.apiKey, evt.Qr)
		if err := s.sessions.setStatus(ms.sessionID, models.StatusQR); err != nil {
			s.log.Error("failed to persist QR status", err, logger.F("apiKey", ms.apiKey))
		}
		for _, w := range waiters {
			sendWaitOutcome(w, nil)
		}
	}

	switch evt.Connection {
	case upstream.ConnectionOpen:
		ms.mu.Lock()
		ms.currentQr = nil
		ms.status = models.StatusConnected
		ms.cancelReconnectLocked()
		ms.reconnectAttempt = 0
		qrWaiters := ms.takeQrWaiters()
		connWaiters := ms.takeConnWaiters()
		ms.mu.Unlock()

		s.bus.PublishQr(ms.apiKey, nil)
		if err := s.sessions.setStatus(ms.sessionID, models.StatusConnected); err != nil {
			s.log.Error("failed to persist connected status", err, logger.F("apiKey", ms.apiKey))
		}
		if err := s.locks.Touch(ms.apiKey, s.ownerID); err != nil {
			s.log.Error("failed to touch lock on connect", err, logger.F("apiKey", ms.apiKey))
		}
		s.bus.PublishStatus(eventbus.ConnectionInfo{ApiKey: ms.apiKey, Status: models.StatusConnected, Connected: true})
		for _, w := range qrWaiters {
			sendWaitOutcome(w, nil)
		}
		for _, w := range connWaiters {
			sendWaitOutcome(w, nil)
		}

	case upstream.ConnectionClose:
		loggedOut := evt.LoggedOutReason != nil

		ms.mu.Lock()
		ms.cancelReconnectLocked()
		sock := ms.socket
		ms.socket = nil
		qrWaiters := ms.takeQrWaiters()
		connWaiters := ms.takeConnWaiters()
		ms.mu.Unlock()

		if sock != nil {
			sock.Close()
		}

		if loggedOut {
			if err := s.creds.ClearSessionData(ms.sessionID); err != nil {
				s.log.Error("failed to clear session data on logout", err, logger.F("apiKey", ms.apiKey))
			}
			if err := s.sessions.setStatus(ms.sessionID, models.StatusLoggedOut); err != nil {
				s.log.Error("failed to persist logged-out status", err, logger.F("apiKey", ms.apiKey))
			}
			if err := s.locks.Release(ms.apiKey, s.ownerID); err != nil {
				s.log.Error("failed to release lock on logout", err, logger.F("apiKey", ms.apiKey))
			}
			s.bus.PublishQr(ms.apiKey, nil)
			s.removeManaged(ms.apiKey)
		} else {
			ms.mu.Lock()
			ms.status = models.StatusDisconnected
			ms.mu.Unlock()
			if err := s.sessions.setStatus(ms.sessionID, models.StatusDisconnected); err != nil {
				s.log.Error("failed to persist disconnected status", err, logger.F("apiKey", ms.apiKey))
			}
			s.scheduleReconnect(ms)
		}

		connErr := errors.New("WhatsApp connection closed")
		for _, w := range qrWaiters {
			sendWaitOutcome(w, connErr)
		}
		for _, w := range connWaiters {
			sendWaitOutcome(w, connErr)
		}
	}
}

// scheduleReconnect arms a timer for attempt n = ms.reconnectAttempt+1 with
// delay min(30s, 1s * 2^min(n-1,5)) + rand[0,500)ms.
func (s *Supervisor) scheduleReconnect(ms *managedSession) {
	ms.mu.Lock()
	ms.reconnectAttempt++
	n := ms.reconnectAttempt
	delay := reconnectDelay(n, s.cfg.ReconnectBaseDelay, s.cfg.ReconnectMaxDelay, s.cfg.ReconnectMaxAttemptsForBackoff)
	ms.cancelReconnectLocked()
	ms.reconnectTimer = time.AfterFunc(delay, func() { s.fireReconnect(ms) })
	ms.mu.Unlock()
}

func (s *Supervisor) fireReconnect(ms *managedSession) {
	select {
	case <-s.stopped:
		return
	default:
	}

	if err := s.initializeSocket(context.Background(), ms); err != nil {
		s.log.Error("reconnect attempt failed", err, logger.F("apiKey", ms.apiKey))
		s.scheduleReconnect(ms)
	}
}

// reconnectDelay computes the backoff delay for attempt n >= 1.
func reconnectDelay(n int, base, max time.Duration, maxAttemptsForBackoff int) time.Duration {
	exp := n - 1
	if exp > maxAttemptsForBackoff {
		exp = maxAttemptsForBackoff
	}
	delay := base * time.Duration(1<<exp)
	if delay > max {
		delay = max
	}
	jitter := time.Duration(rand.Intn(500)) * time.Millisecond
	return delay + jitter
}

func (s *Supervisor) awaitConnected(ctx context.Context, ms *managedSession, timeout time.Duration) error {
	ms.mu.Lock()
	if ms.status == models.StatusConnected && ms.socket != nil {
		ms.mu.Unlock()
		return nil
	}
	wait := make(chan waitOutcome, 1)
	ms.connWaiters = append(ms.connWaiters, wait)
	ms.mu.Unlock()

	select {
	case outcome := <-wait:
		return outcome.err
	case <-time.After(timeout):
		ms.removeConnWaiter(wait)
		return errors.New("timed out waiting for connection")
	case <-ctx.Done():
		ms.removeConnWaiter(wait)
		return ctx.Err()
	}
}

type jidBlob struct {
	JID string `json:"jid,omitempty"`
}

func (s *Supervisor) loadExistingJID(sessionID uint) *types.JID {
	raw, err := s.creds.LoadCreds(sessionID)
	if err != nil || raw == nil {
		return nil
	}
	var blob jidBlob
	if err := json.Unmarshal(raw, &blob); err != nil || blob.JID == "" {
		return nil
	}
	jid, err := types.ParseJID(blob.JID)
	if err != nil {
		return nil
	}
	return &jid
}

func (s *Supervisor) persistJID(sessionID uint, jid *types.JID) {
	if jid == nil {
		return
	}
	data, err := json.Marshal(jidBlob{JID: jid.String()})
	if err != nil {
		return
	}
	if err := s.creds.SaveCreds(sessionID, models.RawBytes(data)); err != nil {
		s.log.Error("failed to persist session identity", err, logger.F("sessionId", sessionID))
	}
}
