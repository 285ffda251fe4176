package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadItems(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	require.NoError(t, os.WriteFile(good, []byte(`[{"sku":"A","on_hand":"1.5","average_cost_cents":100}]`), 0o600))
	items, err := loadItems(good)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "1.5", items[0].OnHand.String())

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[{"sku":"B","on_hand":"-1"}]`), 0o600))
	_, err = loadItems(bad)
	require.ErrorContains(t, err, "negative")

	_, err = loadItems(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}
