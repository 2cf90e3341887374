package bluez

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/calliere/gattc"
)

// The bus and interface names of the BlueZ object tree.
const (
	bluezService = "org.bluez"

	adapterIface = "org.bluez.Adapter1"
	deviceIface  = "org.bluez.Device1"
	charIface    = "org.bluez.GattCharacteristic1"
	descIface    = "org.bluez.GattDescriptor1"

	objectManagerIface = "org.freedesktop.DBus.ObjectManager"
	propertiesIface    = "org.freedesktop.DBus.Properties"

	interfacesAddedMember   = "InterfacesAdded"
	propertiesChangedMember = "PropertiesChanged"
)

// bluetoothBaseUUID fills in the tail of a 16-bit UUID.
const bluetoothBaseUUID = "-0000-1000-8000-00805f9b34fb"

// managedObjects is the shape GetManagedObjects returns.
type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// adapterPath builds the object path of a named adapter ("hci0").
func adapterPath(adapterID string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + adapterID)
}

// addrFromPath recovers a peripheral address from a device object path
// like /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF.
func addrFromPath(path dbus.ObjectPath) (gattc.Addr, bool) {
	s := string(path)
	i := strings.LastIndex(s, "/")
	if i < 0 {
		return "", false
	}
	name := s[i+1:]
	if !strings.HasPrefix(name, "dev_") {
		return "", false
	}
	return gattc.NewAddr(strings.ReplaceAll(name[len("dev_"):], "_", ":")), true
}

// devicePath builds the object path of a device under an adapter.
func devicePath(adapterID string, addr gattc.Addr) dbus.ObjectPath {
	name := "dev_" + strings.ToUpper(strings.ReplaceAll(addr.String(), ":", "_"))
	return dbus.ObjectPath("/org/bluez/" + adapterID + "/" + name)
}

// canonicalUUID renders a UUID the way BlueZ properties carry them: the
// full 128-bit form, lower case, dash separated.
func canonicalUUID(u gattc.UUID) string {
	s := strings.ToLower(u.String())
	if u.Len() == 2 {
		return "0000" + s + bluetoothBaseUUID
	}
	return fmt.Sprintf("%s-%s-%s-%s-%s", s[0:8], s[8:12], s[12:16], s[16:20], s[20:32])
}
