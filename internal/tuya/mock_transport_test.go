package tuya

import (
	"context"
	"sync"
)

// mockTransport is an in-memory Transport double: writes are recorded
// and passed to an optional onWrite hook (so a test can act as the device
// and answer requests by delivering notifications to the subscribed
// handler) and Close/Open flip a connected flag. It mirrors the shape of the
// teacher's fake packet source used in the netio test suite, but speaks
// the narrow Transport contract instead of a raw socket.
type mockTransport struct {
	mu          sync.Mutex
	connected   bool
	addr        string
	rssi        int16
	handler     NotifyHandler
	written     [][]byte
	onWrite     func(data []byte) // optional hook invoked synchronously from Write
	openErr     error
	writeErr    error
	subErr      error
	closeCalled int
}

func newMockTransport(addr string) *mockTransport {
	return &mockTransport{addr: addr, rssi: -50}
}

func (m *mockTransport) Open(context.Context) error {
	if m.openErr != nil {
		return m.openErr
	}
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	return nil
}

func (m *mockTransport) Subscribe(_ context.Context, handler NotifyHandler) error {
	if m.subErr != nil {
		return m.subErr
	}
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
	return nil
}

func (m *mockTransport) Unsubscribe(context.Context) error {
	m.mu.Lock()
	m.handler = nil
	m.mu.Unlock()
	return nil
}

func (m *mockTransport) Write(_ context.Context, data []byte) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.mu.Lock()
	m.written = append(m.written, append([]byte(nil), data...))
	hook := m.onWrite
	m.mu.Unlock()
	if hook != nil {
		hook(data)
	}
	return nil
}

func (m *mockTransport) Close(context.Context) error {
	m.mu.Lock()
	m.connected = false
	m.closeCalled++
	m.mu.Unlock()
	return nil
}

func (m *mockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockTransport) Address() string { return m.addr }

func (m *mockTransport) RSSI() (int16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rssi, nil
}

// deliver feeds raw notification bytes to the registered handler, as a
// device-originated GATT notification would arrive.
func (m *mockTransport) deliver(data []byte) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h(data)
	}
}

// takeWritten drains and returns every fragment written so far.
func (m *mockTransport) takeWritten() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.written
	m.written = nil
	return out
}
