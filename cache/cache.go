// Package cache persists discovered-device records between runs, so tools
// can resolve a peripheral name without rescanning.
package cache

import (
	"fmt"
	"io/ioutil"
	"os"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/calliere/gattc"
)

// Device is one persisted discovery record.
type Device struct {
	Name     string    `json:"name"`
	LastSeen time.Time `json:"last_seen"`
}

// DeviceCache stores discovered devices keyed by address in a JSON file.
type DeviceCache struct {
	filename string
	lock     sync.RWMutex
}

// New creates a cache backed by filename. The file is created on first
// store.
func New(filename string) *DeviceCache {
	return &DeviceCache{filename: filename}
}

// Store records every entry of devices (an address-to-name mapping, as
// returned by DiscoveryService.Discover), overwriting older sightings of
// the same address.
func (dc *DeviceCache) Store(devices map[string]string) error {
	dc.lock.Lock()
	defer dc.lock.Unlock()

	cache, err := dc.loadExisting()
	if err != nil {
		return err
	}

	now := time.Now()
	for addr, name := range devices {
		cache[gattc.NewAddr(addr).String()] = Device{Name: name, LastSeen: now}
	}

	return dc.storeCache(cache)
}

// Load returns the record for addr.
func (dc *DeviceCache) Load(addr gattc.Addr) (Device, error) {
	dc.lock.RLock()
	defer dc.lock.RUnlock()

	cache, err := dc.loadExisting()
	if err != nil {
		return Device{}, err
	}

	d, ok := cache[addr.String()]
	if !ok {
		return Device{}, fmt.Errorf("device %s not found in cache", addr)
	}

	return d, nil
}

// All returns every cached record keyed by address.
func (dc *DeviceCache) All() (map[string]Device, error) {
	dc.lock.RLock()
	defer dc.lock.RUnlock()

	return dc.loadExisting()
}

// Clear removes the cache file.
func (dc *DeviceCache) Clear() error {
	dc.lock.Lock()
	defer dc.lock.Unlock()

	return os.Remove(dc.filename)
}

func (dc *DeviceCache) loadExisting() (map[string]Device, error) {
	_, err := os.Stat(dc.filename)
	if os.IsNotExist(err) {
		return map[string]Device{}, nil
	}

	in, err := ioutil.ReadFile(dc.filename)
	if err != nil {
		return nil, err
	}

	var cache map[string]Device
	err = jsoniter.Unmarshal(in, &cache)
	if err != nil {
		return nil, err
	}

	return cache, nil
}

func (dc *DeviceCache) storeCache(cache map[string]Device) error {
	out, err := jsoniter.Marshal(cache)
	if err != nil {
		return err
	}

	return ioutil.WriteFile(dc.filename, out, 0644)
}
