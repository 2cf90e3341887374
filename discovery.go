package gattc

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// A DeviceHandler receives live discovery events. It is invoked on the
// scan goroutine and must not block.
type DeviceHandler interface {
	HandleDevice(name string, addr Addr)
}

// DeviceHandlerFunc adapts a plain function to a DeviceHandler.
type DeviceHandlerFunc func(name string, addr Addr)

// HandleDevice calls f(name, addr).
func (f DeviceHandlerFunc) HandleDevice(name string, addr Addr) { f(name, addr) }

// DiscoveryState is the observable state of a DiscoveryService.
type DiscoveryState int

const (
	// Idle means no scan has run yet.
	Idle DiscoveryState = iota
	// Scanning means a scan is in progress.
	Scanning
	// TimedOut means the last scan ran its full window.
	TimedOut
	// Stopped means the last scan was ended by Stop.
	Stopped
	// ScanError means the last scan died on an adapter error.
	ScanError
)

// A DiscoveryService drives device-discovery scans on one adapter,
// independently of any GATT session.
//
// Devices are deduplicated by address: a repeat sighting updates the
// stored name (a later non-empty name wins), and the live handler fires
// once per address, firing again only when the advertised name changes.
type DiscoveryService struct {
	tr      Transport
	adapter string
	log     Logger

	mu      sync.Mutex
	state   DiscoveryState
	devices map[Addr]string
	done    chan struct{} // closed by Stop; nil when not scanning
}

// NewDiscoveryService creates a discovery service on the named adapter
// (e.g. "hci0").
func NewDiscoveryService(tr Transport, adapterID string, opts ...Option) (*DiscoveryService, error) {
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}
	return &DiscoveryService{
		tr:      tr,
		adapter: adapterID,
		log:     cfg.logger.ChildLogger(map[string]interface{}{"adapter": adapterID}),
	}, nil
}

// Discover runs one scan. Four configurations are supported:
//
//   - timeout > 0, handler nil: blocks for the full window, then returns
//     the deduplicated address-to-name mapping collected during it.
//   - timeout == 0, handler set: starts scanning on its own goroutine and
//     returns (nil, nil) immediately; scanning continues until Stop.
//   - both set: blocks for the full window, invoking handler live, then
//     returns the mapping.
//   - neither set: ErrInvalidConfiguration.
//
// Stop ends the unbounded mode; a timeout-bounded call always runs its
// full window.
func (d *DiscoveryService) Discover(timeout time.Duration, handler DeviceHandler) (map[string]string, error) {
	if timeout <= 0 && handler == nil {
		return nil, errors.WithMessage(ErrInvalidConfiguration, "discover needs a timeout or a handler")
	}

	d.mu.Lock()
	if d.done != nil {
		d.mu.Unlock()
		return nil, ErrScanActive
	}
	done := make(chan struct{})
	d.done = done
	d.devices = make(map[Addr]string)
	d.state = Scanning
	d.mu.Unlock()

	h, err := d.tr.Scan(d.adapter)
	if err != nil {
		d.finish(ScanError)
		return nil, errors.Wrap(err, "can't start scan")
	}

	d.log.Debugf("scanning, timeout %s", timeout)

	if timeout <= 0 {
		go d.collect(h, nil, done, handler)
		return nil, nil
	}

	deadline := time.After(timeout)
	d.collect(h, deadline, done, handler)
	return d.snapshot(), nil
}

// Stop requests the running scan to halt. Idempotent; a no-op when no
// scan is running or when the scan is timeout-bounded (which always runs
// its full window).
func (d *DiscoveryService) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done == nil {
		return nil
	}
	select {
	case <-d.done:
		// stop already requested
	default:
		close(d.done)
	}
	return nil
}

// State returns the state of the service's most recent scan.
func (d *DiscoveryService) State() DiscoveryState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Devices returns the mapping collected by the current or most recent
// scan. Useful with the unbounded mode, where Discover itself returns no
// mapping.
func (d *DiscoveryService) Devices() map[string]string {
	return d.snapshot()
}

// collect is the scan loop. With a deadline it runs on the caller's
// goroutine and ignores stop requests; without one it runs on its own
// goroutine until the done channel closes or the adapter gives up.
func (d *DiscoveryService) collect(h ScanHandle, deadline <-chan time.Time, done chan struct{}, handler DeviceHandler) {
	bounded := deadline != nil
	for {
		select {
		case rep, ok := <-h.Reports():
			if !ok {
				d.log.Warn("adapter ended the scan")
				d.finish(ScanError)
				return
			}
			d.sighted(rep, handler)

		case <-deadline:
			if err := h.Stop(); err != nil {
				d.log.Errorf("can't stop scan: %s", err)
			}
			d.finish(TimedOut)
			return

		case <-done:
			if bounded {
				// Stop does not cut a bounded window short; keep
				// collecting until the deadline.
				done = nil
				continue
			}
			if err := h.Stop(); err != nil {
				d.log.Errorf("can't stop scan: %s", err)
			}
			d.finish(Stopped)
			return
		}
	}
}

// sighted records one device report and decides whether the live handler
// fires: once per address, and again only on a name change.
func (d *DiscoveryService) sighted(rep DeviceReport, handler DeviceHandler) {
	d.mu.Lock()
	prev, seen := d.devices[rep.Addr]
	name := rep.Name
	if name == "" {
		name = prev
	}
	d.devices[rep.Addr] = name
	d.mu.Unlock()

	if !seen {
		d.log.Debugf("discovered %s (%q)", rep.Addr, name)
	}
	if handler != nil && (!seen || name != prev) {
		handler.HandleDevice(name, rep.Addr)
	}
}

func (d *DiscoveryService) finish(s DiscoveryState) {
	d.mu.Lock()
	d.state = s
	d.done = nil
	d.mu.Unlock()
}

func (d *DiscoveryService) snapshot() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]string, len(d.devices))
	for a, n := range d.devices {
		out[a.String()] = n
	}
	return out
}
