package bluez

import (
	"encoding/binary"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"

	"github.com/calliere/gattc"
	"github.com/calliere/gattc/att"
)

// bridgeMTU is the receive MTU the bridge reports on an MTU exchange.
// BlueZ negotiates the real link MTU itself; attribute values cross the
// bus whole either way.
const bridgeMTU = 517

const servicesResolvedTimeout = 10 * time.Second

// attribute is one GATT characteristic or descriptor object under the
// device, addressable both by handle and by type.
type attribute struct {
	path   dbus.ObjectPath
	iface  string
	handle uint16
	uuid   string // canonical BlueZ form
	flags  []string
}

// conn bridges one peripheral's GATT objects to the raw PDU contract.
// Outgoing request PDUs are decoded and mapped onto bus calls; results
// come back to the sink re-encoded as response PDUs, from a dedicated
// delivery goroutine.
type conn struct {
	t    *Transport
	path dbus.ObjectPath
	addr gattc.Addr
	sink gattc.PDUSink
	log  gattc.Logger

	byHandle map[uint16]*attribute
	inOrder  []*attribute

	matches [][]dbus.MatchOption
	signals chan *dbus.Signal
	tx      chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the peripheral at addr and registers sink for inbound
// traffic. It blocks until BlueZ reports the device's services resolved.
func (t *Transport) Dial(addr gattc.Addr, sink gattc.PDUSink) (gattc.Conn, error) {
	path, err := t.findDevice(addr)
	if err != nil {
		return nil, err
	}

	dev := t.bus.Object(bluezService, path)
	if err := dev.Call(deviceIface+".Connect", 0).Err; err != nil {
		return nil, errors.Wrap(err, "can't connect device")
	}

	if err := t.waitServicesResolved(dev); err != nil {
		_ = dev.Call(deviceIface+".Disconnect", 0).Err
		return nil, err
	}

	c := &conn{
		t:       t,
		path:    path,
		addr:    addr,
		sink:    sink,
		log:     t.log.ChildLogger(map[string]interface{}{"peer": addr.String()}),
		signals: make(chan *dbus.Signal, 64),
		tx:      make(chan []byte, 8),
		done:    make(chan struct{}),
	}
	if err := c.loadAttributes(); err != nil {
		_ = dev.Call(deviceIface+".Disconnect", 0).Err
		return nil, err
	}

	c.matches = [][]dbus.MatchOption{{
		dbus.WithMatchInterface(propertiesIface),
		dbus.WithMatchMember(propertiesChangedMember),
		dbus.WithMatchPathNamespace(path),
	}}
	for _, m := range c.matches {
		if err := t.bus.AddMatchSignal(m...); err != nil {
			_ = dev.Call(deviceIface+".Disconnect", 0).Err
			return nil, errors.Wrap(err, "can't match bus signals")
		}
	}
	t.bus.Signal(c.signals)

	c.subscribeAll()

	go c.deliveryLoop()
	go c.requestLoop()
	return c, nil
}

// waitServicesResolved polls the device until its GATT database is
// available on the bus.
func (t *Transport) waitServicesResolved(dev dbus.BusObject) error {
	deadline := time.Now().Add(servicesResolvedTimeout)
	for {
		v, err := dev.GetProperty(deviceIface + ".ServicesResolved")
		if err != nil {
			return errors.Wrap(err, "can't read ServicesResolved")
		}
		if resolved, ok := v.Value().(bool); ok && resolved {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New("services not resolved in time")
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// loadAttributes builds the handle and type tables from the device's
// characteristic and descriptor objects.
func (c *conn) loadAttributes() error {
	objs, err := c.t.managed()
	if err != nil {
		return err
	}

	for path, ifaces := range objs {
		if !strings.HasPrefix(string(path), string(c.path)+"/") {
			continue
		}
		for _, iface := range []string{charIface, descIface} {
			props, ok := ifaces[iface]
			if !ok {
				continue
			}
			a := &attribute{
				path:  path,
				iface: iface,
				uuid:  strings.ToLower(variantString(props, "UUID")),
			}
			if h, ok := props["Handle"].Value().(uint16); ok {
				a.handle = h
			}
			if ff, ok := props["Flags"].Value().([]string); ok {
				a.flags = ff
			}
			c.inOrder = append(c.inOrder, a)
		}
	}
	if len(c.inOrder) == 0 {
		return errors.New("device exposes no attributes")
	}

	sort.Slice(c.inOrder, func(i, j int) bool { return c.inOrder[i].handle < c.inOrder[j].handle })
	c.byHandle = make(map[uint16]*attribute, len(c.inOrder))
	for _, a := range c.inOrder {
		c.byHandle[a.handle] = a
	}
	return nil
}

// subscribeAll enables value updates on every characteristic that can
// push them; their PropertiesChanged signals become notification PDUs.
func (c *conn) subscribeAll() {
	for _, a := range c.inOrder {
		if a.iface != charIface || !hasAny(a.flags, "notify", "indicate") {
			continue
		}
		obj := c.t.bus.Object(bluezService, a.path)
		if err := obj.Call(charIface+".StartNotify", 0).Err; err != nil {
			c.log.Warnf("can't start notify on %s: %s", a.uuid, err)
		}
	}
}

func hasAny(ss []string, want ...string) bool {
	for _, s := range ss {
		for _, w := range want {
			if s == w {
				return true
			}
		}
	}
	return false
}

func (c *conn) RemoteAddr() gattc.Addr { return c.addr }

// Send accepts one outgoing PDU. The bus call happens on the request
// goroutine; the caller never blocks on BlueZ.
func (c *conn) Send(pdu []byte) error {
	if len(pdu) == 0 {
		return errors.New("empty pdu")
	}
	select {
	case <-c.done:
		return errors.New("connection closed")
	case c.tx <- pdu:
		return nil
	}
}

// Close disconnects the device and tears the bridge down.
func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.t.bus.Object(bluezService, c.path).Call(deviceIface+".Disconnect", 0).Err
		for _, m := range c.matches {
			if rerr := c.t.bus.RemoveMatchSignal(m...); rerr != nil {
				c.log.Warnf("can't remove signal match: %s", rerr)
			}
		}
		c.t.bus.RemoveSignal(c.signals)
		close(c.signals)
		c.sink.HandleDisconnect()
	})
	return errors.Wrap(err, "disconnect")
}

// deliveryLoop turns bus signals into inbound PDUs and the disconnect
// marker.
func (c *conn) deliveryLoop() {
	for sig := range c.signals {
		if sig.Name != propertiesIface+"."+propertiesChangedMember || len(sig.Body) < 2 {
			continue
		}
		iface, _ := sig.Body[0].(string)
		changed, ok := sig.Body[1].(map[string]dbus.Variant)
		if !ok {
			continue
		}

		switch iface {
		case charIface:
			v, ok := changed["Value"]
			if !ok {
				continue
			}
			value, ok := v.Value().([]byte)
			if !ok {
				continue
			}
			if a := c.attrByPath(sig.Path); a != nil {
				c.sink.HandlePDU(att.NewHandleValueNotification(a.handle, value))
			}

		case deviceIface:
			v, ok := changed["Connected"]
			if !ok {
				continue
			}
			if connected, ok := v.Value().(bool); ok && !connected && sig.Path == c.path {
				c.log.Debug("link lost")
				c.Close()
				return
			}
		}
	}
}

func (c *conn) attrByPath(path dbus.ObjectPath) *attribute {
	for _, a := range c.inOrder {
		if a.path == path {
			return a
		}
	}
	return nil
}

// requestLoop executes outgoing request PDUs against the bus, one at a
// time, and feeds the synthesized response PDUs back to the sink. The
// engine guarantees at most one request/response transaction in flight;
// write commands simply queue behind it.
func (c *conn) requestLoop() {
	for {
		select {
		case <-c.done:
			return
		case pdu := <-c.tx:
			if rsp := c.execute(pdu); rsp != nil {
				c.sink.HandlePDU(rsp)
			}
		}
	}
}

// execute maps one PDU onto the corresponding GATT bus call and returns
// the response PDU, or nil for operations without one.
func (c *conn) execute(pdu []byte) []byte {
	op := pdu[0]
	switch op {
	case att.ReadRequestCode:
		if len(pdu) != 3 {
			return att.NewErrorResponse(op, 0, att.ErrInvalidPDU)
		}
		return c.executeRead(binary.LittleEndian.Uint16(pdu[1:3]))

	case att.ReadByTypeRequestCode:
		return c.executeReadByType(pdu)

	case att.WriteRequestCode:
		if len(pdu) < 3 {
			return att.NewErrorResponse(op, 0, att.ErrInvalidPDU)
		}
		h := binary.LittleEndian.Uint16(pdu[1:3])
		if err := c.writeValue(h, pdu[3:], "request"); err != nil {
			c.log.Warnf("write %#04x: %s", h, err)
			return att.NewErrorResponse(op, h, attErrorFor(err))
		}
		return att.NewWriteResponse()

	case att.WriteCommandCode:
		if len(pdu) < 3 {
			return nil
		}
		h := binary.LittleEndian.Uint16(pdu[1:3])
		if err := c.writeValue(h, pdu[3:], "command"); err != nil {
			c.log.Warnf("write cmd %#04x: %s", h, err)
		}
		return nil

	case att.ExchangeMTURequestCode:
		return att.NewExchangeMTUResponse(bridgeMTU)

	case att.HandleValueConfirmationCode:
		// BlueZ confirms indications on the link itself.
		return nil

	default:
		c.log.Warnf("unsupported opcode %#02x", op)
		return att.NewErrorResponse(op, 0, att.ErrReqNotSupp)
	}
}

func (c *conn) executeRead(h uint16) []byte {
	a, ok := c.byHandle[h]
	if !ok {
		return att.NewErrorResponse(att.ReadRequestCode, h, att.ErrInvalidHandle)
	}
	value, err := c.readValue(a)
	if err != nil {
		c.log.Warnf("read %#04x: %s", h, err)
		return att.NewErrorResponse(att.ReadRequestCode, h, attErrorFor(err))
	}
	return att.NewReadResponse(value)
}

// executeReadByType reads every attribute whose type matches the request
// UUID. ATT requires uniform value lengths within one response; matches
// whose length differs from the first are left for a follow-up request,
// which this bridge does not paginate.
func (c *conn) executeReadByType(pdu []byte) []byte {
	if len(pdu) != 7 && len(pdu) != 21 {
		return att.NewErrorResponse(att.ReadByTypeRequestCode, 0, att.ErrInvalidPDU)
	}
	uuid := canonicalUUID(gattc.UUID(pdu[5:]))

	var vv []att.TypedValue
	for _, a := range c.inOrder {
		if a.uuid != uuid {
			continue
		}
		value, err := c.readValue(a)
		if err != nil {
			c.log.Warnf("read by type %s at %#04x: %s", uuid, a.handle, err)
			continue
		}
		if len(vv) > 0 && len(value) != len(vv[0].Value) {
			continue
		}
		vv = append(vv, att.TypedValue{Handle: a.handle, Value: value})
	}
	if len(vv) == 0 {
		return att.NewErrorResponse(att.ReadByTypeRequestCode, 0, att.ErrAttrNotFound)
	}
	rsp, err := att.NewReadByTypeResponse(vv)
	if err != nil {
		return att.NewErrorResponse(att.ReadByTypeRequestCode, 0, att.ErrUnlikely)
	}
	return rsp
}

func (c *conn) readValue(a *attribute) ([]byte, error) {
	var value []byte
	obj := c.t.bus.Object(bluezService, a.path)
	err := obj.Call(a.iface+".ReadValue", 0, map[string]dbus.Variant{}).Store(&value)
	return value, err
}

func (c *conn) writeValue(h uint16, value []byte, mode string) error {
	a, ok := c.byHandle[h]
	if !ok {
		return att.ErrInvalidHandle
	}
	opts := map[string]dbus.Variant{"type": dbus.MakeVariant(mode)}
	obj := c.t.bus.Object(bluezService, a.path)
	return obj.Call(a.iface+".WriteValue", 0, value, opts).Err
}

// attErrorFor maps a bus-level failure onto the closest attribute error
// code.
func attErrorFor(err error) att.Error {
	if e, ok := err.(att.Error); ok {
		return e
	}
	derr, ok := err.(dbus.Error)
	if !ok {
		return att.ErrUnlikely
	}
	switch derr.Name {
	case "org.bluez.Error.NotPermitted":
		return att.ErrReadNotPerm
	case "org.bluez.Error.NotAuthorized":
		return att.ErrAuthorization
	case "org.bluez.Error.NotSupported":
		return att.ErrReqNotSupp
	case "org.bluez.Error.InvalidValueLength":
		return att.ErrInvalAttrValueLen
	default:
		return att.ErrUnlikely
	}
}
