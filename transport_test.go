package gattc

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// fakeConn is an in-memory Conn recording everything the engine sends.
// Tests play the peripheral by feeding PDUs back through the sink.
type fakeConn struct {
	mu      sync.Mutex
	sent    [][]byte
	sentCh  chan []byte
	sink    PDUSink
	sendErr error
	closed  bool
}

func newFakeConn(sink PDUSink) *fakeConn {
	return &fakeConn{
		sink:   sink,
		sentCh: make(chan []byte, 16),
	}
}

func (c *fakeConn) Send(pdu []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	b := append([]byte(nil), pdu...)
	c.sent = append(c.sent, b)
	c.sentCh <- b
	return nil
}

func (c *fakeConn) RemoteAddr() Addr { return NewAddr("11:22:33:44:55:66") }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.sink.HandleDisconnect()
	return nil
}

// awaitSend returns the next PDU the engine sent, or nil after a second.
func (c *fakeConn) awaitSend() []byte {
	select {
	case b := <-c.sentCh:
		return b
	case <-time.After(time.Second):
		return nil
	}
}

// deliver feeds one inbound PDU through the sink on its own goroutine,
// the way a transport's delivery unit would.
func (c *fakeConn) deliver(pdu []byte) {
	done := make(chan struct{})
	go func() {
		c.sink.HandlePDU(pdu)
		close(done)
	}()
	<-done
}

// disconnect plays a link loss.
func (c *fakeConn) disconnect() {
	c.sink.HandleDisconnect()
}

func (c *fakeConn) sentOps() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	ops := make([]byte, 0, len(c.sent))
	for _, b := range c.sent {
		ops = append(ops, b[0])
	}
	return ops
}

// fakeTransport hands out fakeConns and fakeScans.
type fakeTransport struct {
	mu      sync.Mutex
	conn    *fakeConn
	dialErr error
	scan    *fakeScan
	scanErr error
}

func (t *fakeTransport) Dial(addr Addr, sink PDUSink) (Conn, error) {
	if t.dialErr != nil {
		return nil, t.dialErr
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conn = newFakeConn(sink)
	return t.conn, nil
}

func (t *fakeTransport) Scan(adapterID string) (ScanHandle, error) {
	if t.scanErr != nil {
		return nil, t.scanErr
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scan = newFakeScan()
	return t.scan, nil
}

// awaitScan waits for a scan to be handed out.
func (t *fakeTransport) awaitScan() *fakeScan {
	for i := 0; i < 1000; i++ {
		t.mu.Lock()
		s := t.scan
		t.mu.Unlock()
		if s != nil {
			return s
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}

type fakeScan struct {
	reports chan DeviceReport

	mu      sync.Mutex
	stopped int
}

func newFakeScan() *fakeScan {
	return &fakeScan{reports: make(chan DeviceReport, 32)}
}

func (s *fakeScan) Reports() <-chan DeviceReport { return s.reports }

func (s *fakeScan) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
	return nil
}

func (s *fakeScan) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// sight reports one device sighting.
func (s *fakeScan) sight(addr, name string) {
	s.reports <- DeviceReport{Addr: NewAddr(addr), Name: name, Time: time.Now()}
}

var errDialRefused = errors.New("refused")
