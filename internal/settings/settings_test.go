package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SetGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := NewStore(path)
	require.NoError(t, err)

	require.NoError(t, s.Set("theme", "dark"))
	require.NoError(t, s.Set("autoLaunch", true))

	assert.Equal(t, "dark", s.GetString("theme", ""))
	assert.True(t, s.GetBool("autoLaunch", false))
	assert.Equal(t, "fallback", s.GetString("missing", "fallback"))

	// Reload from disk
	s2, err := NewStore(path)
	require.NoError(t, err)
	assert.Equal(t, "dark", s2.GetString("theme", ""))
}

func TestStore_UnknownKeysRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"future":{"nested":1},"theme":"light"}`), 0644))

	s, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Set("theme", "dark"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.JSONEq(t, `{"nested":1}`, string(doc["future"]))
	assert.JSONEq(t, `"dark"`, string(doc["theme"]))
}

func TestStore_ListenersFireSynchronously(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := NewStore(path)
	require.NoError(t, err)

	var gotKey string
	var gotValue string
	s.Subscribe(func(key string, value json.RawMessage) {
		gotKey = key
		_ = json.Unmarshal(value, &gotValue)
	})

	require.NoError(t, s.Set("track", "latest"))
	assert.Equal(t, "track", gotKey)
	assert.Equal(t, "latest", gotValue)
}
