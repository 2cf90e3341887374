package bluez

import (
	"testing"

	"github.com/godbus/dbus/v5"

	"github.com/calliere/gattc"
)

func TestAddrFromPath(t *testing.T) {
	addr, ok := addrFromPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")
	if !ok {
		t.Fatal("device path not recognized")
	}
	if addr.String() != "aa:bb:cc:dd:ee:ff" {
		t.Fatalf("got %q", addr)
	}

	for _, p := range []dbus.ObjectPath{
		"/org/bluez/hci0",
		"/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF/service000c/char000d",
		"",
	} {
		if _, ok := addrFromPath(p); ok {
			t.Errorf("%q recognized as a device path", p)
		}
	}
}

func TestDevicePathRoundTrip(t *testing.T) {
	addr := gattc.NewAddr("AA:BB:CC:DD:EE:FF")
	path := devicePath("hci0", addr)
	if path != "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF" {
		t.Fatalf("got %q", path)
	}

	back, ok := addrFromPath(path)
	if !ok || back != addr {
		t.Fatalf("round trip gave %q, %v", back, ok)
	}
}

func TestAdapterPath(t *testing.T) {
	if p := adapterPath("hci1"); p != "/org/bluez/hci1" {
		t.Fatalf("got %q", p)
	}
}

func TestCanonicalUUID(t *testing.T) {
	if s := canonicalUUID(gattc.UUID16(0x2A00)); s != "00002a00-0000-1000-8000-00805f9b34fb" {
		t.Fatalf("got %q", s)
	}

	u := gattc.MustParse("34DA3AD1-7110-41A1-B1EF-4430F509CDE7")
	if s := canonicalUUID(u); s != "34da3ad1-7110-41a1-b1ef-4430f509cde7" {
		t.Fatalf("got %q", s)
	}
}
