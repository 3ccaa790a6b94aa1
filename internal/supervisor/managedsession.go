package supervisor

import (
	"sync"
	"time"

	"github.com/fahrizalm14/wasap-gateway/internal/models"
	"github.com/fahrizalm14/wasap-gateway/internal/upstream"
)

// waitOutcome is sent to a parked getQr/sendText caller to wake it up. It
// carries only success/failure: a successful wakeup means the caller must
// re-read managedSession's current status and QR, since by the time it
// wakes the state may already have moved past what triggered the wakeup.
type waitOutcome struct {
	err error
}

func sendWaitOutcome(ch chan waitOutcome, err error) {
	select {
	case ch <- waitOutcome{err: err}:
	default:
	}
}

// managedSession is the in-memory half of a session: the live socket, its
// current status and QR, and the waiter lists blocking getQr/sendText
// callers until the connection-update handler resolves them.
type managedSession struct {
	mu sync.Mutex

	apiKey    string
	sessionID uint

	status    models.SessionStatus
	currentQr *string
	socket    upstream.Socket

	connecting  bool
	connectDone chan struct{}
	lockOwned   bool

	qrWaiters   []chan waitOutcome
	connWaiters []chan waitOutcome

	reconnectAttempt int
	reconnectTimer   *time.Timer
}

func (m *managedSession) removeQrWaiter(target chan waitOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.qrWaiters = removeChan(m.qrWaiters, target)
}

func (m *managedSession) removeConnWaiter(target chan waitOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connWaiters = removeChan(m.connWaiters, target)
}

// takeQrWaiters must be called with m.mu held; it detaches and returns the
// current waiter list so the caller can dispatch outside the lock.
func (m *managedSession) takeQrWaiters() []chan waitOutcome {
	waiters := m.qrWaiters
	m.qrWaiters = nil
	return waiters
}

// takeConnWaiters must be called with m.mu held.
func (m *managedSession) takeConnWaiters() []chan waitOutcome {
	waiters := m.connWaiters
	m.connWaiters = nil
	return waiters
}

// rejectQrWaiters resolves every outstanding QR waiter with err. Safe to
// call without holding m.mu.
func (m *managedSession) rejectQrWaiters(err error) {
	m.mu.Lock()
	waiters := m.takeQrWaiters()
	m.mu.Unlock()
	for _, w := range waiters {
		sendWaitOutcome(w, err)
	}
}

// cancelReconnectLocked must be called with m.mu held.
func (m *managedSession) cancelReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

func removeChan[T any](list []chan T, target chan T) []chan T {
	out := list[:0]
	for _, ch := range list {
		if ch != target {
			out = append(out, ch)
		}
	}
	return out
}
