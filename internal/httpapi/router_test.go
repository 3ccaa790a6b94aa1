package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"go.mau.fi/whatsmeow/types"
	"gorm.io/gorm"

	"github.com/fahrizalm14/wasap-gateway/internal/config"
	"github.com/fahrizalm14/wasap-gateway/internal/eventbus"
	"github.com/fahrizalm14/wasap-gateway/internal/models"
	"github.com/fahrizalm14/wasap-gateway/internal/registry"
	"github.com/fahrizalm14/wasap-gateway/internal/supervisor"
	"github.com/fahrizalm14/wasap-gateway/internal/upstream"
	"github.com/fahrizalm14/wasap-gateway/pkg/logger"
)

const testSecret = "top-secret"

// stubCredStore, stubLockManager and stubUpstream are minimal
// implementations of the Supervisor's consumer-defined interfaces, kept
// local to this package rather than reusing the supervisor package's own
// unexported test fakes.

type stubCredStore struct {
	mu    sync.Mutex
	creds map[uint]models.RawBytes
}

func newStubCredStore() *stubCredStore { return &stubCredStore{creds: make(map[uint]models.RawBytes)} }

func (c *stubCredStore) LoadCreds(sessionID uint) (models.RawBytes, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds[sessionID], nil
}

func (c *stubCredStore) SaveCreds(sessionID uint, creds models.RawBytes) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds[sessionID] = creds
	return nil
}

func (c *stubCredStore) ClearSessionData(sessionID uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.creds, sessionID)
	return nil
}

type stubLockManager struct {
	mu     sync.Mutex
	owners map[string]string
}

func newStubLockManager() *stubLockManager { return &stubLockManager{owners: make(map[string]string)} }

func (l *stubLockManager) TryAcquire(apiKey, ownerID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.owners[apiKey] = ownerID
	return true, nil
}
func (l *stubLockManager) Touch(apiKey, ownerID string) error { return nil }
func (l *stubLockManager) Release(apiKey, ownerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.owners, apiKey)
	return nil
}
func (l *stubLockManager) ReleaseAll(ownerID string) error { return nil }
func (l *stubLockManager) IsOwned(apiKey string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owners[apiKey], nil
}

type stubSocket struct {
	connCh  chan upstream.ConnectionEvent
	credsCh chan struct{}
}

func newStubSocket() *stubSocket {
	return &stubSocket{connCh: make(chan upstream.ConnectionEvent, 4), credsCh: make(chan struct{}, 1)}
}

func (s *stubSocket) CredsUpdate() <-chan struct{}                      { return s.credsCh }
func (s *stubSocket) ConnectionUpdate() <-chan upstream.ConnectionEvent { return s.connCh }
func (s *stubSocket) IsLoggedIn() bool                                  { return true }
func (s *stubSocket) JID() *types.JID {
	jid, _ := types.ParseJID("628123456789@s.whatsapp.net")
	return &jid
}
func (s *stubSocket) SendText(ctx context.Context, jid, text string) (upstream.SendResult, error) {
	return upstream.SendResult{MessageID: "msg-1"}, nil
}
func (s *stubSocket) Logout(ctx context.Context) error { return nil }
func (s *stubSocket) Close()                           {}

type stubUpstream struct{}

func (stubUpstream) NewSocket(ctx context.Context, existingJID *types.JID) (upstream.Socket, error) {
	sock := newStubSocket()
	sock.connCh <- upstream.ConnectionEvent{Connection: upstream.ConnectionOpen}
	return sock, nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.ApiKey{}, &models.Session{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newTestDB(t)
	reg := registry.New(db)
	bus := eventbus.New()

	cfg := config.EngineConfig{
		DefaultCountryPrefix:           "62",
		QRWaitTimeout:                  2 * time.Second,
		SendWaitTimeout:                2 * time.Second,
		WarmupWaitTimeout:              2 * time.Second,
		ReconnectBaseDelay:             10 * time.Millisecond,
		ReconnectMaxDelay:              50 * time.Millisecond,
		ReconnectMaxAttemptsForBackoff: 5,
	}
	sup := supervisor.New(db, reg, newStubCredStore(), newStubLockManager(), bus, stubUpstream{}, cfg, logger.Nop(), "test-owner")

	rt := New(RouterConfig{APIPrefix: "/api/v1", SecretKey: testSecret}, sup, reg, bus, nil, &Readiness{}, logger.Nop())
	return rt.Engine()
}

func doRequest(engine *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestAdminRoutesRejectMissingSecret(t *testing.T) {
	engine := newTestEngine(t)

	rec := doRequest(engine, http.MethodGet, "/api/v1/api-keys", "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateAndListApiKeys(t *testing.T) {
	engine := newTestEngine(t)
	headers := map[string]string{"x-secret-key": testSecret}

	rec := doRequest(engine, http.MethodPost, "/api/v1/api-keys", `{"label":"bot-1"}`, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var created struct {
		Data struct {
			Key string `json:"key"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if !strings.HasPrefix(created.Data.Key, "wg_") {
		t.Fatalf("expected generated key with wg_ prefix, got %q", created.Data.Key)
	}

	rec = doRequest(engine, http.MethodGet, "/api/v1/api-keys", "", headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), created.Data.Key) {
		t.Fatalf("expected listed key to include %q, got %s", created.Data.Key, rec.Body.String())
	}
}

func TestLogoutUnknownSessionReturns404(t *testing.T) {
	engine := newTestEngine(t)
	headers := map[string]string{"x-secret-key": testSecret}

	createRec := doRequest(engine, http.MethodPost, "/api/v1/api-keys", `{}`, headers)
	var created struct {
		Data struct {
			Key string `json:"key"`
		} `json:"data"`
	}
	json.Unmarshal(createRec.Body.Bytes(), &created)

	rec := doRequest(engine, http.MethodPost, "/api/v1/whatsapp/sessions/"+created.Data.Key+"/logout", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSendTextValidatesPhoneNumber(t *testing.T) {
	engine := newTestEngine(t)
	headers := map[string]string{"x-secret-key": testSecret}

	createRec := doRequest(engine, http.MethodPost, "/api/v1/api-keys", `{}`, headers)
	var created struct {
		Data struct {
			Key string `json:"key"`
		} `json:"data"`
	}
	json.Unmarshal(createRec.Body.Bytes(), &created)

	qrRec := doRequest(engine, http.MethodPost, "/api/v1/whatsapp/sessions/"+created.Data.Key+"/qr", `{}`, nil)
	if qrRec.Code != http.StatusOK {
		t.Fatalf("expected 200 from getQr, got %d: %s", qrRec.Code, qrRec.Body.String())
	}

	rec := doRequest(engine, http.MethodPost, "/api/v1/whatsapp/message/"+created.Data.Key+"/send", `{"to":"abc","text":"hi"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Invalid 'to'") {
		t.Fatalf("expected 'to' validation message, got %s", rec.Body.String())
	}
}
