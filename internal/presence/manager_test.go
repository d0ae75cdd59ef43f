package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vkdesk/presenced/internal/domain"
	"go.uber.org/zap"
)

// fakeClient is a controllable PresenceClient recording every call
type fakeClient struct {
	mu           sync.Mutex
	connectErr   error
	setErr       error
	activities   int
	clears       int
	closed       bool
	disconnected chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{disconnected: make(chan struct{})}
}

func (f *fakeClient) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectErr
}

func (f *fakeClient) SetActivity(ctx context.Context, activity domain.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.activities++
	return nil
}

func (f *fakeClient) ClearActivity(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return nil
}

func (f *fakeClient) Disconnected() <-chan struct{} { return f.disconnected }

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeClient) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeClient) clearCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clears
}

// waitFor polls a condition with a deadline
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("Timeout: " + msg)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// quietCfg keeps the reconnect timer from firing during a test
func quietCfg() ManagerConfig {
	return ManagerConfig{ReconnectDelays: []time.Duration{time.Hour}}
}

func TestConnect_Success(t *testing.T) {
	client := newFakeClient()
	m := NewManager(zap.NewNop(), quietCfg(), func() domain.PresenceClient { return client }, nil)
	defer m.Destroy()

	if !m.Connect() {
		t.Fatal("Connect should succeed")
	}

	st := m.Status()
	if !st.Connected || st.RetryCount != 0 || st.ConsecutiveErrors != 0 {
		t.Errorf("Unexpected status after connect: %+v", st)
	}

	// A second call is a no-op on an established connection
	if !m.Connect() {
		t.Error("Connect on a live connection should report success")
	}
}

func TestConnect_FailureSchedulesBackoff(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	newClient := func() domain.PresenceClient {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		c := newFakeClient()
		if n == 1 {
			c.connectErr = errors.New("service unavailable")
		}
		return c
	}

	cfg := ManagerConfig{ReconnectDelays: []time.Duration{10 * time.Millisecond}}
	m := NewManager(zap.NewNop(), cfg, newClient, nil)
	defer m.Destroy()

	if m.Connect() {
		t.Fatal("First attempt should fail")
	}
	if st := m.Status(); st.RetryCount != 1 {
		t.Errorf("Retry count after failure: want 1, got %d", st.RetryCount)
	}

	// The armed timer retries on its own and the second attempt succeeds
	waitFor(t, func() bool { return m.Status().Connected }, "automatic reconnect")
	if st := m.Status(); st.RetryCount != 0 {
		t.Errorf("Retry count not reset on success: %d", st.RetryCount)
	}
}

func TestConnect_RefusesAfterRetryBudget(t *testing.T) {
	client := newFakeClient()
	cfg := quietCfg()
	cfg.MaxRetry = 3
	m := NewManager(zap.NewNop(), cfg, func() domain.PresenceClient { return client }, nil)
	defer m.Destroy()

	m.mu.Lock()
	m.retryCount = cfg.MaxRetry
	m.mu.Unlock()

	if m.Connect() {
		t.Error("Connect must refuse once the retry budget is spent")
	}
}

func TestStatus_ReconnectPending(t *testing.T) {
	client := newFakeClient()
	client.connectErr = errors.New("service unavailable")
	m := NewManager(zap.NewNop(), quietCfg(), func() domain.PresenceClient { return client }, nil)
	defer m.Destroy()

	if m.Status().ReconnectPending {
		t.Error("No reconnect may be pending before any attempt")
	}

	if m.Connect() {
		t.Fatal("Connect should fail")
	}
	if !m.Status().ReconnectPending {
		t.Error("Failed attempt must leave the reconnect timer armed")
	}

	client.mu.Lock()
	client.connectErr = nil
	client.mu.Unlock()
	if !m.Connect() {
		t.Fatal("Connect should succeed")
	}
	if st := m.Status(); st.ReconnectPending {
		t.Errorf("Pending reconnect reported on a live connection: %+v", st)
	}
}

func TestBackoffDelay_TableAndClamp(t *testing.T) {
	m := NewManager(zap.NewNop(), ManagerConfig{}, nil, nil)
	delays := m.cfg.ReconnectDelays

	for i, want := range delays {
		if got := m.backoffDelay(i); got != want {
			t.Errorf("Attempt %d: want %v, got %v", i, want, got)
		}
	}
	last := delays[len(delays)-1]
	if got := m.backoffDelay(len(delays) + 5); got != last {
		t.Errorf("Past the table: want %v, got %v", last, got)
	}
}

func TestSendActivity_NotConnected(t *testing.T) {
	m := NewManager(zap.NewNop(), quietCfg(), func() domain.PresenceClient { return newFakeClient() }, nil)
	defer m.Destroy()

	if err := m.SendActivity(domain.Activity{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
	if err := m.ClearActivity(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}

func TestHardReset_AfterConsecutiveErrors(t *testing.T) {
	client := newFakeClient()
	client.setErr = errors.New("pipe broken")

	resets := make(chan struct{}, 1)
	cfg := quietCfg()
	cfg.MaxErrorsInARow = 2
	m := NewManager(zap.NewNop(), cfg, func() domain.PresenceClient { return client }, func() {
		resets <- struct{}{}
	})
	defer m.Destroy()

	if !m.Connect() {
		t.Fatal("Connect failed")
	}

	if err := m.SendActivity(domain.Activity{}); err == nil {
		t.Fatal("Expected send failure")
	}
	if st := m.Status(); !st.Connected {
		t.Error("One failure must not drop the connection")
	}

	if err := m.SendActivity(domain.Activity{}); err == nil {
		t.Fatal("Expected send failure")
	}

	select {
	case <-resets:
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout: reset callback was not invoked")
	}

	st := m.Status()
	if st.Connected {
		t.Error("Hard reset must drop the connection")
	}
	if st.RetryCount == 0 {
		t.Error("Hard reset must keep the backoff progressing")
	}
	if st.ConsecutiveErrors != 0 {
		t.Errorf("Error counter not cleared: %d", st.ConsecutiveErrors)
	}
	if !client.isClosed() {
		t.Error("Old client not closed")
	}
}

func TestSendActivity_SuccessResetsErrorCounter(t *testing.T) {
	client := newFakeClient()
	m := NewManager(zap.NewNop(), quietCfg(), func() domain.PresenceClient { return client }, nil)
	defer m.Destroy()

	if !m.Connect() {
		t.Fatal("Connect failed")
	}

	client.mu.Lock()
	client.setErr = errors.New("transient")
	client.mu.Unlock()
	m.SendActivity(domain.Activity{})

	client.mu.Lock()
	client.setErr = nil
	client.mu.Unlock()
	if err := m.SendActivity(domain.Activity{}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if st := m.Status(); st.ConsecutiveErrors != 0 {
		t.Errorf("Success must reset the error counter, got %d", st.ConsecutiveErrors)
	}
}

func TestWatchDisconnect_Reconnects(t *testing.T) {
	var mu sync.Mutex
	var clients []*fakeClient
	newClient := func() domain.PresenceClient {
		c := newFakeClient()
		mu.Lock()
		clients = append(clients, c)
		mu.Unlock()
		return c
	}

	cfg := ManagerConfig{ReconnectDelays: []time.Duration{10 * time.Millisecond}}
	m := NewManager(zap.NewNop(), cfg, newClient, nil)
	defer m.Destroy()

	if !m.Connect() {
		t.Fatal("Connect failed")
	}

	mu.Lock()
	first := clients[0]
	mu.Unlock()
	close(first.disconnected)

	waitFor(t, func() bool { return first.isClosed() }, "dropped client close")
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(clients) >= 2
	}, "reconnect attempt")
	waitFor(t, func() bool { return m.Status().Connected }, "re-established connection")
}

func TestDestroy_Idempotent(t *testing.T) {
	client := newFakeClient()
	m := NewManager(zap.NewNop(), quietCfg(), func() domain.PresenceClient { return client }, nil)

	if !m.Connect() {
		t.Fatal("Connect failed")
	}

	m.Destroy()
	m.Destroy()

	if client.clearCount() != 1 {
		t.Errorf("Best-effort clear: want 1 call, got %d", client.clearCount())
	}
	if !client.isClosed() {
		t.Error("Client not closed on destroy")
	}
	if m.Connect() {
		t.Error("Connect after Destroy must refuse")
	}
	if err := m.SendActivity(domain.Activity{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected after destroy, got %v", err)
	}
}
