package bluez

import (
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"

	"github.com/calliere/gattc"
)

// Scan starts discovery on the named adapter. Devices BlueZ already knows
// are reported immediately; new sightings arrive via the ObjectManager
// InterfacesAdded signal and Device1 PropertiesChanged updates.
func (t *Transport) Scan(adapterID string) (gattc.ScanHandle, error) {
	path, err := t.checkAdapter(adapterID)
	if err != nil {
		return nil, err
	}

	matches := [][]dbus.MatchOption{
		{
			dbus.WithMatchInterface(objectManagerIface),
			dbus.WithMatchMember(interfacesAddedMember),
		},
		{
			dbus.WithMatchInterface(propertiesIface),
			dbus.WithMatchMember(propertiesChangedMember),
			dbus.WithMatchPathNamespace(path),
		},
	}
	for _, m := range matches {
		if err := t.bus.AddMatchSignal(m...); err != nil {
			return nil, errors.Wrap(err, "can't match bus signals")
		}
	}

	h := &scanHandle{
		t:       t,
		adapter: path,
		matches: matches,
		signals: make(chan *dbus.Signal, 64),
		reports: make(chan gattc.DeviceReport, 16),
		stopped: make(chan struct{}),
	}
	t.bus.Signal(h.signals)

	if err := t.bus.Object(bluezService, path).Call(adapterIface+".StartDiscovery", 0).Err; err != nil {
		h.teardown()
		return nil, errors.Wrap(err, "can't start discovery")
	}

	go h.loop(t.seedReports(path))
	return h, nil
}

// seedReports turns the already-known device objects under the adapter
// into initial reports.
func (t *Transport) seedReports(adapter dbus.ObjectPath) []gattc.DeviceReport {
	objs, err := t.managed()
	if err != nil {
		t.log.Warnf("can't seed scan results: %s", err)
		return nil
	}

	var seed []gattc.DeviceReport
	now := time.Now()
	for path, ifaces := range objs {
		dev, ok := ifaces[deviceIface]
		if !ok || !strings.HasPrefix(string(path), string(adapter)+"/") {
			continue
		}
		addr := variantString(dev, "Address")
		if addr == "" {
			continue
		}
		seed = append(seed, gattc.DeviceReport{
			Addr: gattc.NewAddr(addr),
			Name: variantString(dev, "Name"),
			Time: now,
		})
	}
	return seed
}

type scanHandle struct {
	t       *Transport
	adapter dbus.ObjectPath
	matches [][]dbus.MatchOption
	signals chan *dbus.Signal
	reports chan gattc.DeviceReport

	once    sync.Once
	stopped chan struct{}
}

func (h *scanHandle) Reports() <-chan gattc.DeviceReport { return h.reports }

// Stop ends the scan. Idempotent.
func (h *scanHandle) Stop() error {
	var err error
	h.once.Do(func() {
		close(h.stopped)
		err = h.t.bus.Object(bluezService, h.adapter).Call(adapterIface+".StopDiscovery", 0).Err
		h.teardown()
	})
	return errors.Wrap(err, "can't stop discovery")
}

func (h *scanHandle) teardown() {
	for _, m := range h.matches {
		if err := h.t.bus.RemoveMatchSignal(m...); err != nil {
			h.t.log.Warnf("can't remove signal match: %s", err)
		}
	}
	h.t.bus.RemoveSignal(h.signals)
	close(h.signals)
}

// loop translates bus signals into device reports until the scan stops.
func (h *scanHandle) loop(seed []gattc.DeviceReport) {
	defer close(h.reports)

	for _, rep := range seed {
		select {
		case h.reports <- rep:
		case <-h.stopped:
			return
		}
	}

	for sig := range h.signals {
		rep, ok := h.report(sig)
		if !ok {
			continue
		}
		select {
		case h.reports <- rep:
		case <-h.stopped:
			return
		}
	}
}

// report extracts a device sighting from one bus signal, if it carries one.
func (h *scanHandle) report(sig *dbus.Signal) (gattc.DeviceReport, bool) {
	switch sig.Name {
	case objectManagerIface + "." + interfacesAddedMember:
		if len(sig.Body) != 2 {
			return gattc.DeviceReport{}, false
		}
		ifaces, ok := sig.Body[1].(map[string]map[string]dbus.Variant)
		if !ok {
			return gattc.DeviceReport{}, false
		}
		dev, ok := ifaces[deviceIface]
		if !ok {
			return gattc.DeviceReport{}, false
		}
		addr := variantString(dev, "Address")
		if addr == "" {
			return gattc.DeviceReport{}, false
		}
		return gattc.DeviceReport{
			Addr: gattc.NewAddr(addr),
			Name: variantString(dev, "Name"),
			Time: time.Now(),
		}, true

	case propertiesIface + "." + propertiesChangedMember:
		// Repeat sightings of known devices surface as property updates
		// (RSSI, Name) rather than InterfacesAdded.
		if len(sig.Body) < 2 {
			return gattc.DeviceReport{}, false
		}
		if iface, ok := sig.Body[0].(string); !ok || iface != deviceIface {
			return gattc.DeviceReport{}, false
		}
		addr, ok := addrFromPath(sig.Path)
		if !ok {
			return gattc.DeviceReport{}, false
		}
		changed, ok := sig.Body[1].(map[string]dbus.Variant)
		if !ok {
			return gattc.DeviceReport{}, false
		}
		return gattc.DeviceReport{
			Addr: addr,
			Name: variantString(changed, "Name"),
			Time: time.Now(),
		}, true
	}
	return gattc.DeviceReport{}, false
}
