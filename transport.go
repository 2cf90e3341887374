package gattc

import (
	"time"
)

// PDUSink receives inbound traffic for one connection. The transport
// invokes it from a single delivery goroutine per connection, in arrival
// order. HandleDisconnect is invoked at most once, after which no further
// PDUs are delivered.
type PDUSink interface {
	HandlePDU(pdu []byte)
	HandleDisconnect()
}

// Conn is one open link to a peripheral. Send may be called from any
// goroutine; the transport serializes writes.
type Conn interface {
	// Send transmits one raw PDU to the peripheral.
	Send(pdu []byte) error

	// RemoteAddr returns the peripheral's address.
	RemoteAddr() Addr

	// Close tears the connection down. The sink's HandleDisconnect is
	// invoked as the link goes away.
	Close() error
}

// DeviceReport is one sighting of a peripheral during a scan.
type DeviceReport struct {
	Addr Addr
	Name string // may be empty
	Time time.Time
}

// ScanHandle is one running scan on an adapter.
type ScanHandle interface {
	// Reports returns the channel device sightings arrive on. The
	// transport closes it once the scan has stopped.
	Reports() <-chan DeviceReport

	// Stop ends the scan. Idempotent.
	Stop() error
}

// Transport moves raw PDUs between this host and peripherals. The engine
// treats it as a black box; linux/bluez provides the system-bus backed
// implementation.
type Transport interface {
	// Dial opens a connection to the peripheral at addr and registers
	// sink for its inbound traffic.
	Dial(addr Addr, sink PDUSink) (Conn, error)

	// Scan starts device discovery on the named adapter (e.g. "hci0").
	Scan(adapterID string) (ScanHandle, error)
}
