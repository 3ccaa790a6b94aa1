// Package upstream is a narrow facade hiding the WhatsApp Web client from
// the Session Supervisor. The concrete implementation wraps
// go.mau.fi/whatsmeow; the Socket it hands back is async and single-
// threaded per connection, never shared between goroutines for writes.
package upstream

import (
	"context"
	"fmt"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

// Connection is the polymorphic state carried by a ConnectionUpdate.
type Connection string

const (
	ConnectionConnecting Connection = "connecting"
	ConnectionOpen       Connection = "open"
	ConnectionClose      Connection = "close"
)

// ConnectionEvent is the translated shape of whatsmeow's disjoint
// *events.Connected / *events.Disconnected / *events.QR / *events.LoggedOut
// notifications, collapsed into one polymorphic value.
type ConnectionEvent struct {
	Connection               Connection
	Qr                       *string
	LastDisconnectStatusCode *int
	LoggedOutReason          *string
}

// SendResult is returned by SendText.
type SendResult struct {
	MessageID string
}

// Socket is the facade the Supervisor drives. Implementations are not
// safe for concurrent writes from more than one goroutine.
type Socket interface {
	CredsUpdate() <-chan struct{}
	ConnectionUpdate() <-chan ConnectionEvent
	SendText(ctx context.Context, jid, text string) (SendResult, error)
	IsLoggedIn() bool
	JID() *types.JID
	Logout(ctx context.Context) error
	Close()
}

// Adapter constructs Sockets backed by a single whatsmeow device store
// container shared across all tenants.
type Adapter struct {
	container *sqlstore.Container
	waLogger  waLog.Logger

	versionOnce sync.Once
	version     string
}

// New builds an Adapter over an already-opened sqlstore.Container.
func New(container *sqlstore.Container) *Adapter {
	return &Adapter{
		container: container,
		waLogger:  waLog.Stdout("whatsmeow", "WARN", true),
	}
}

// Version resolves the client's protocol version string, cached per
// process after the first call.
func (a *Adapter) Version() string {
	a.versionOnce.Do(func() {
		a.version = fmt.Sprintf("%v", store.GetWAVersion())
	})
	return a.version
}

// NewSocket opens a Socket for existingJID, or a brand new, unpaired
// device when existingJID is nil. It starts connecting immediately in the
// background.
func (a *Adapter) NewSocket(ctx context.Context, existingJID *types.JID) (Socket, error) {
	var device *store.Device
	var err error

	if existingJID != nil {
		device, err = a.container.GetDevice(ctx, *existingJID)
		if err != nil {
			return nil, fmt.Errorf("upstream: load device: %w", err)
		}
	}
	if device == nil {
		device = a.container.NewDevice()
	}

	client := whatsmeow.NewClient(device, a.waLogger)

	sock := &socket{
		client:  client,
		credsCh: make(chan struct{}, 1),
		connCh:  make(chan ConnectionEvent, 8),
	}
	client.AddEventHandler(sock.handle)

	go func() {
		if err := client.Connect(); err != nil {
			sock.connCh <- ConnectionEvent{Connection: ConnectionClose}
		}
	}()

	return sock, nil
}

type socket struct {
	client  *whatsmeow.Client
	credsCh chan struct{}
	connCh  chan ConnectionEvent
}

func (s *socket) CredsUpdate() <-chan struct{}             { return s.credsCh }
func (s *socket) ConnectionUpdate() <-chan ConnectionEvent { return s.connCh }

func (s *socket) IsLoggedIn() bool { return s.client.IsLoggedIn() }

func (s *socket) JID() *types.JID {
	if s.client.Store == nil {
		return nil
	}
	return s.client.Store.ID
}

func (s *socket) SendText(ctx context.Context, jid, text string) (SendResult, error) {
	recipient, err := types.ParseJID(jid)
	if err != nil {
		return SendResult{}, fmt.Errorf("upstream: invalid jid: %w", err)
	}

	resp, err := s.client.SendMessage(ctx, recipient, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return SendResult{}, fmt.Errorf("upstream: send message: %w", err)
	}
	return SendResult{MessageID: resp.ID}, nil
}

func (s *socket) Logout(ctx context.Context) error {
	if err := s.client.Logout(ctx); err != nil {
		return fmt.Errorf("upstream: logout: %w", err)
	}
	return nil
}

func (s *socket) Close() {
	s.client.Disconnect()
}

func (s *socket) handle(evt interface{}) {
	switch v := evt.(type) {
	case *events.QR:
		if len(v.Codes) == 0 {
			return
		}
		code := v.Codes[0]
		s.emitConn(ConnectionEvent{Connection: ConnectionConnecting, Qr: &code})

	case *events.Connected:
		s.emitConn(ConnectionEvent{Connection: ConnectionOpen})
		s.emitCreds()

	case *events.PairSuccess:
		s.emitCreds()

	case *events.Disconnected:
		s.emitConn(ConnectionEvent{Connection: ConnectionClose})

	case *events.LoggedOut:
		reason := v.Reason.String()
		statusCode := int(v.Reason)
		s.emitConn(ConnectionEvent{
			Connection:               ConnectionClose,
			LastDisconnectStatusCode: &statusCode,
			LoggedOutReason:          &reason,
		})

	case *events.KeepAliveTimeout, *events.StreamReplaced, *events.ConnectFailure:
		s.emitConn(ConnectionEvent{Connection: ConnectionClose})
	}
}

func (s *socket) emitConn(e ConnectionEvent) {
	select {
	case s.connCh <- e:
	default:
	}
}

func (s *socket) emitCreds() {
	select {
	case s.credsCh <- struct{}{}:
	default:
	}
}
