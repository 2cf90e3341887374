// Package bluez implements the transport contract of gattc on top of the
// system message bus. BlueZ brokers the radio: scanning maps onto
// Adapter1 discovery and the ObjectManager signals, connections onto
// Device1, and attribute PDUs onto GattCharacteristic1 calls, so the
// engine above sees plain GATT wire semantics.
package bluez

import (
	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"

	"github.com/calliere/gattc"
)

// Transport talks to the BlueZ daemon over the system bus. It implements
// gattc.Transport.
type Transport struct {
	bus *dbus.Conn
	log gattc.Logger
}

// New connects to the system bus.
func New() (*Transport, error) {
	bus, err := dbus.SystemBus()
	if err != nil {
		return nil, errors.Wrap(err, "can't connect to system bus")
	}
	return &Transport{
		bus: bus,
		log: gattc.GetLogger().ChildLogger(map[string]interface{}{"transport": "bluez"}),
	}, nil
}

// managed fetches the full BlueZ object tree.
func (t *Transport) managed() (managedObjects, error) {
	var objs managedObjects
	obj := t.bus.Object(bluezService, "/")
	if err := obj.Call(objectManagerIface+".GetManagedObjects", 0).Store(&objs); err != nil {
		return nil, errors.Wrap(err, "can't get managed objects")
	}
	return objs, nil
}

// checkAdapter verifies the named adapter exists on the bus.
func (t *Transport) checkAdapter(adapterID string) (dbus.ObjectPath, error) {
	objs, err := t.managed()
	if err != nil {
		return "", err
	}
	path := adapterPath(adapterID)
	if _, ok := objs[path][adapterIface]; !ok {
		return "", errors.Errorf("adapter %s unavailable", adapterID)
	}
	return path, nil
}

// findDevice locates the device object carrying the given address, on any
// adapter.
func (t *Transport) findDevice(addr gattc.Addr) (dbus.ObjectPath, error) {
	objs, err := t.managed()
	if err != nil {
		return "", err
	}
	for path, ifaces := range objs {
		dev, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		if a, ok := dev["Address"].Value().(string); ok && gattc.NewAddr(a) == addr {
			return path, nil
		}
	}
	return "", errors.Errorf("no such device %s", addr)
}

// variantString extracts a string property, tolerating absence.
func variantString(props map[string]dbus.Variant, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.Value().(string); ok {
			return s
		}
	}
	return ""
}
