package gattc

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func discoveryFixture(t *testing.T) (*DiscoveryService, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	ds, err := NewDiscoveryService(tr, "hci0")
	if err != nil {
		t.Fatalf("can't create discovery service: %s", err)
	}
	return ds, tr
}

// recorder collects handler invocations for inspection.
type recorder struct {
	mu    sync.Mutex
	seen  []string
	fired chan struct{}
}

func newRecorder() *recorder {
	return &recorder{fired: make(chan struct{}, 32)}
}

func (r *recorder) HandleDevice(name string, addr Addr) {
	r.mu.Lock()
	r.seen = append(r.seen, addr.String()+"/"+name)
	r.mu.Unlock()
	r.fired <- struct{}{}
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func (r *recorder) await(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.fired:
		case <-time.After(time.Second):
			t.Fatalf("handler fired %d times, wanted %d", i, n)
		}
	}
}

func TestDiscoverNeedsTimeoutOrHandler(t *testing.T) {
	ds, _ := discoveryFixture(t)
	if _, err := ds.Discover(0, nil); errors.Cause(err) != ErrInvalidConfiguration {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}
	if s := ds.State(); s != Idle {
		t.Fatalf("rejected discover changed state to %v", s)
	}
}

func TestDiscoverBoundedWindow(t *testing.T) {
	ds, tr := discoveryFixture(t)

	go func() {
		s := tr.awaitScan()
		s.sight("AA:BB:CC:DD:EE:01", "alpha")
		s.sight("AA:BB:CC:DD:EE:02", "bravo")
	}()

	devices, err := ds.Discover(100*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("discover failed: %s", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %v", devices)
	}
	if devices["aa:bb:cc:dd:ee:01"] != "alpha" || devices["aa:bb:cc:dd:ee:02"] != "bravo" {
		t.Fatalf("unexpected mapping %v", devices)
	}
	if s := ds.State(); s != TimedOut {
		t.Fatalf("expected TimedOut, got %v", s)
	}
	if tr.scan.stopCount() != 1 {
		t.Fatal("scan was not stopped at the deadline")
	}
}

func TestDiscoverDeduplicatesByAddress(t *testing.T) {
	ds, tr := discoveryFixture(t)

	go func() {
		s := tr.awaitScan()
		s.sight("AA:BB:CC:DD:EE:01", "")
		s.sight("AA:BB:CC:DD:EE:01", "alpha")
		s.sight("AA:BB:CC:DD:EE:01", "") // nameless repeat keeps the name
		s.sight("AA:BB:CC:DD:EE:01", "alpha-renamed")
	}()

	devices, err := ds.Discover(100*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("discover failed: %s", err)
	}
	if len(devices) != 1 {
		t.Fatalf("expected 1 device, got %v", devices)
	}
	if devices["aa:bb:cc:dd:ee:01"] != "alpha-renamed" {
		t.Fatalf("expected the latest name, got %q", devices["aa:bb:cc:dd:ee:01"])
	}
}

func TestDiscoverHandlerFiresOncePerAddress(t *testing.T) {
	ds, tr := discoveryFixture(t)
	rec := newRecorder()

	go func() {
		s := tr.awaitScan()
		s.sight("AA:BB:CC:DD:EE:01", "alpha")
		s.sight("AA:BB:CC:DD:EE:01", "alpha") // repeat, same name
		s.sight("AA:BB:CC:DD:EE:01", "beta")  // name change fires again
		s.sight("AA:BB:CC:DD:EE:02", "gamma")
	}()

	if _, err := ds.Discover(100*time.Millisecond, rec); err != nil {
		t.Fatalf("discover failed: %s", err)
	}

	want := []string{
		"aa:bb:cc:dd:ee:01/alpha",
		"aa:bb:cc:dd:ee:01/beta",
		"aa:bb:cc:dd:ee:02/gamma",
	}
	got := rec.events()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}
}

func TestDiscoverUnboundedStops(t *testing.T) {
	ds, tr := discoveryFixture(t)
	rec := newRecorder()

	devices, err := ds.Discover(0, rec)
	if err != nil {
		t.Fatalf("discover failed: %s", err)
	}
	if devices != nil {
		t.Fatalf("unbounded discover returned a mapping: %v", devices)
	}
	if s := ds.State(); s != Scanning {
		t.Fatalf("expected Scanning, got %v", s)
	}

	tr.scan.sight("AA:BB:CC:DD:EE:01", "alpha")
	rec.await(t, 1)

	if err := ds.Stop(); err != nil {
		t.Fatalf("stop failed: %s", err)
	}
	// Stop is asynchronous to the scan goroutine.
	for i := 0; ds.State() == Scanning && i < 100; i++ {
		time.Sleep(5 * time.Millisecond)
	}
	if s := ds.State(); s != Stopped {
		t.Fatalf("expected Stopped, got %v", s)
	}
	if tr.scan.stopCount() != 1 {
		t.Fatal("scan was not stopped")
	}
	if got := ds.Devices(); got["aa:bb:cc:dd:ee:01"] != "alpha" {
		t.Fatalf("unexpected mapping %v", got)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	ds, _ := discoveryFixture(t)
	if err := ds.Stop(); err != nil {
		t.Fatalf("stop without a scan failed: %s", err)
	}

	if _, err := ds.Discover(0, newRecorder()); err != nil {
		t.Fatalf("discover failed: %s", err)
	}
	if err := ds.Stop(); err != nil {
		t.Fatalf("first stop failed: %s", err)
	}
	if err := ds.Stop(); err != nil {
		t.Fatalf("second stop failed: %s", err)
	}
}

func TestStopDoesNotCutBoundedWindow(t *testing.T) {
	ds, _ := discoveryFixture(t)

	go func() {
		time.Sleep(20 * time.Millisecond)
		ds.Stop()
	}()

	start := time.Now()
	if _, err := ds.Discover(120*time.Millisecond, nil); err != nil {
		t.Fatalf("discover failed: %s", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("stop cut the window short after %s", elapsed)
	}
	if s := ds.State(); s != TimedOut {
		t.Fatalf("expected TimedOut, got %v", s)
	}
}

func TestDiscoverRejectsOverlap(t *testing.T) {
	ds, _ := discoveryFixture(t)

	if _, err := ds.Discover(0, newRecorder()); err != nil {
		t.Fatalf("discover failed: %s", err)
	}
	defer ds.Stop()

	if _, err := ds.Discover(time.Second, nil); errors.Cause(err) != ErrScanActive {
		t.Fatalf("expected ErrScanActive, got %v", err)
	}
}

func TestDiscoverScanError(t *testing.T) {
	tr := &fakeTransport{scanErr: errDialRefused}
	ds, err := NewDiscoveryService(tr, "hci0")
	if err != nil {
		t.Fatalf("can't create discovery service: %s", err)
	}

	if _, err := ds.Discover(time.Second, nil); err == nil {
		t.Fatal("expected a scan failure")
	}
	if s := ds.State(); s != ScanError {
		t.Fatalf("expected ScanError, got %v", s)
	}

	// The failed scan does not hold the slot.
	tr.scanErr = nil
	if _, err := ds.Discover(50*time.Millisecond, nil); err != nil {
		t.Fatalf("discover after failure rejected: %s", err)
	}
}

func TestDiscoverAdapterEndsScan(t *testing.T) {
	ds, tr := discoveryFixture(t)
	rec := newRecorder()

	if _, err := ds.Discover(0, rec); err != nil {
		t.Fatalf("discover failed: %s", err)
	}

	close(tr.scan.reports)
	for i := 0; ds.State() == Scanning && i < 100; i++ {
		time.Sleep(5 * time.Millisecond)
	}
	if s := ds.State(); s != ScanError {
		t.Fatalf("expected ScanError, got %v", s)
	}
}
