package supervisor

import (
	"context"
	"sync"

	"go.mau.fi/whatsmeow/types"

	"github.com/fahrizalm14/wasap-gateway/internal/engineerr"
	"github.com/fahrizalm14/wasap-gateway/internal/eventbus"
	"github.com/fahrizalm14/wasap-gateway/internal/models"
	"github.com/fahrizalm14/wasap-gateway/internal/upstream"
)

type fakeRegistry struct {
	active bool
}

func newFakeRegistry() *fakeRegistry { return &fakeRegistry{active: true} }

func (r *fakeRegistry) AssertActive(key string) (*models.ApiKey, error) {
	if !r.active {
		return nil, engineerr.KeyNotRegistered()
	}
	return &models.ApiKey{Key: key, IsActive: true}, nil
}

type fakeCredStore struct {
	mu    sync.Mutex
	creds map[uint]models.RawBytes
}

func newFakeCredStore() *fakeCredStore {
	return &fakeCredStore{creds: make(map[uint]models.RawBytes)}
}

func (c *fakeCredStore) LoadCreds(sessionID uint) (models.RawBytes, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds[sessionID], nil
}

func (c *fakeCredStore) SaveCreds(sessionID uint, creds models.RawBytes) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds[sessionID] = creds
	return nil
}

func (c *fakeCredStore) ClearSessionData(sessionID uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.creds, sessionID)
	return nil
}

type fakeLockManager struct {
	mu      sync.Mutex
	owners  map[string]string
	denyKey string
}

func newFakeLockManager() *fakeLockManager {
	return &fakeLockManager{owners: make(map[string]string)}
}

func (l *fakeLockManager) TryAcquire(apiKey, ownerID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if apiKey == l.denyKey {
		return false, nil
	}
	l.owners[apiKey] = ownerID
	return true, nil
}

func (l *fakeLockManager) Touch(apiKey, ownerID string) error { return nil }

func (l *fakeLockManager) Release(apiKey, ownerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.owners, apiKey)
	return nil
}

func (l *fakeLockManager) ReleaseAll(ownerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, v := range l.owners {
		if v == ownerID {
			delete(l.owners, k)
		}
	}
	return nil
}

func (l *fakeLockManager) IsOwned(apiKey string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owners[apiKey], nil
}

func (l *fakeLockManager) isReleased(apiKey string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.owners[apiKey]
	return !ok
}

type fakeBus struct {
	mu       sync.Mutex
	statuses []eventbus.ConnectionInfo
	qrs      []eventbus.QrInfo
}

func newFakeBus() *fakeBus { return &fakeBus{} }

func (b *fakeBus) PublishStatus(info eventbus.ConnectionInfo) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses = append(b.statuses, info)
}

func (b *fakeBus) PublishQr(apiKey string, qr *string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.qrs = append(b.qrs, eventbus.QrInfo{ApiKey: apiKey, Qr: qr})
}

func (b *fakeBus) lastQr() *eventbus.QrInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.qrs) == 0 {
		return nil
	}
	last := b.qrs[len(b.qrs)-1]
	return &last
}

type sendCall struct {
	jid  string
	text string
}

type fakeSocket struct {
	mu        sync.Mutex
	connCh    chan upstream.ConnectionEvent
	credsCh   chan struct{}
	loggedIn  bool
	jid       *types.JID
	sendCalls []sendCall
	sendErr   error
	closed    bool
	loggedOut bool
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{connCh: make(chan upstream.ConnectionEvent, 8), credsCh: make(chan struct{}, 1)}
}

func (f *fakeSocket) CredsUpdate() <-chan struct{}                      { return f.credsCh }
func (f *fakeSocket) ConnectionUpdate() <-chan upstream.ConnectionEvent { return f.connCh }

func (f *fakeSocket) IsLoggedIn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loggedIn
}

func (f *fakeSocket) JID() *types.JID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jid
}

func (f *fakeSocket) SendText(ctx context.Context, jid, text string) (upstream.SendResult, error) {
	f.mu.Lock()
	f.sendCalls = append(f.sendCalls, sendCall{jid: jid, text: text})
	err := f.sendErr
	f.mu.Unlock()
	if err != nil {
		return upstream.SendResult{}, err
	}
	return upstream.SendResult{MessageID: "msg-1"}, nil
}

func (f *fakeSocket) Logout(ctx context.Context) error {
	f.mu.Lock()
	f.loggedOut = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSocket) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

// markConnected flips IsLoggedIn/JID the way a real socket would once
// whatsmeow reports *events.Connected, without going through connCh.
func (f *fakeSocket) markConnected(jidStr string) {
	jid, err := types.ParseJID(jidStr)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	f.loggedIn = true
	f.jid = &jid
	f.mu.Unlock()
}

type fakeUpstream struct {
	mu   sync.Mutex
	next *fakeSocket
	err  error
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{}
}

// withNext queues the socket to be handed back by the next NewSocket call.
func (u *fakeUpstream) withNext(s *fakeSocket) *fakeUpstream {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.next = s
	return u
}

func (u *fakeUpstream) NewSocket(ctx context.Context, existingJID *types.JID) (upstream.Socket, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return nil, u.err
	}
	if u.next != nil {
		s := u.next
		u.next = nil
		return s, nil
	}
	return newFakeSocket(), nil
}
