package cache

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calliere/gattc"
)

func tempCache(t *testing.T) *DeviceCache {
	t.Helper()
	dir, err := ioutil.TempDir("", "gattc-cache")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return New(filepath.Join(dir, "devices.json"))
}

func TestStoreAndLoad(t *testing.T) {
	dc := tempCache(t)

	err := dc.Store(map[string]string{
		"AA:BB:CC:DD:EE:01": "alpha",
		"aa:bb:cc:dd:ee:02": "bravo",
	})
	require.NoError(t, err)

	d, err := dc.Load(gattc.NewAddr("AA:BB:CC:DD:EE:01"))
	require.NoError(t, err)
	assert.Equal(t, "alpha", d.Name)
	assert.False(t, d.LastSeen.IsZero())

	// Addresses are normalized, so case does not matter.
	d, err = dc.Load(gattc.NewAddr("AA:BB:CC:DD:EE:02"))
	require.NoError(t, err)
	assert.Equal(t, "bravo", d.Name)
}

func TestLoadUnknownDevice(t *testing.T) {
	dc := tempCache(t)
	_, err := dc.Load(gattc.NewAddr("aa:bb:cc:dd:ee:ff"))
	assert.Error(t, err)
}

func TestStoreMergesWithExisting(t *testing.T) {
	dc := tempCache(t)

	require.NoError(t, dc.Store(map[string]string{"aa:bb:cc:dd:ee:01": "alpha"}))
	require.NoError(t, dc.Store(map[string]string{"aa:bb:cc:dd:ee:02": "bravo"}))

	all, err := dc.All()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// A later sighting of the same address overwrites the record.
	require.NoError(t, dc.Store(map[string]string{"aa:bb:cc:dd:ee:01": "alpha-renamed"}))
	d, err := dc.Load(gattc.NewAddr("aa:bb:cc:dd:ee:01"))
	require.NoError(t, err)
	assert.Equal(t, "alpha-renamed", d.Name)
}

func TestAllOnEmptyCache(t *testing.T) {
	dc := tempCache(t)
	all, err := dc.All()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestClear(t *testing.T) {
	dc := tempCache(t)
	require.NoError(t, dc.Store(map[string]string{"aa:bb:cc:dd:ee:01": "alpha"}))
	require.NoError(t, dc.Clear())

	all, err := dc.All()
	require.NoError(t, err)
	assert.Empty(t, all)
}
