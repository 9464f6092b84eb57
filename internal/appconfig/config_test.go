package appconfig

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func lookupFrom(values map[string]string) envLookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestLoadAppliesDefaultsWhenEnvEmpty(t *testing.T) {
	loader := NewLoaderWithEnv(lookupFrom(nil))
	cfg := loader.Load("1.2.3")

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, ".", cfg.GameDir)
	assert.Equal(t, "mp3", cfg.AudioExtension)
	assert.False(t, cfg.ControlOnly)
	assert.Equal(t, 16, cfg.MaxNameLength)
	assert.Equal(t, 5, cfg.DefaultCountdownSeconds)
	assert.Equal(t, 10*time.Second, cfg.StaleThreshold)
	assert.Equal(t, "1.2.3", cfg.Version)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	loader := NewLoaderWithEnv(lookupFrom(map[string]string{
		"KARAOKED_LISTEN_ADDR":               ":9090",
		"KARAOKED_CONTROL_ONLY":              "true",
		"KARAOKED_MAX_NAME_LENGTH":           "24",
		"KARAOKED_DEFAULT_COUNTDOWN_SECONDS": "10",
		"KARAOKED_STALE_THRESHOLD":           "30s",
	}))
	cfg := loader.Load("dev")

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.True(t, cfg.ControlOnly)
	assert.Equal(t, 24, cfg.MaxNameLength)
	assert.Equal(t, 10, cfg.DefaultCountdownSeconds)
	assert.Equal(t, 30*time.Second, cfg.StaleThreshold)
}

func TestLoadFallsBackOnUnparseableValues(t *testing.T) {
	loader := NewLoaderWithEnv(lookupFrom(map[string]string{
		"KARAOKED_CONTROL_ONLY":    "not-a-bool",
		"KARAOKED_MAX_NAME_LENGTH": "not-an-int",
		"KARAOKED_STALE_THRESHOLD": "not-a-duration",
	}))
	cfg := loader.Load("dev")

	assert.False(t, cfg.ControlOnly)
	assert.Equal(t, 16, cfg.MaxNameLength)
	assert.Equal(t, 10*time.Second, cfg.StaleThreshold)
}

func TestLoadTracksConsumedEnvKeys(t *testing.T) {
	loader := NewLoaderWithEnv(lookupFrom(nil))
	loader.Load("dev")

	_, ok := loader.ConsumedEnvKeys["KARAOKED_LISTEN_ADDR"]
	assert.True(t, ok)
	_, ok = loader.ConsumedEnvKeys["KARAOKED_GAME_DIR"]
	assert.True(t, ok)
}

func TestLoadTreatsBlankStringAsUnset(t *testing.T) {
	loader := NewLoaderWithEnv(lookupFrom(map[string]string{
		"KARAOKED_LISTEN_ADDR": "   ",
	}))
	cfg := loader.Load("dev")
	assert.Equal(t, ":8080", cfg.ListenAddr)
}

func TestLoadConfigFileAppliesBetweenDefaultsAndEnv(t *testing.T) {
	path := writeTempYAML(t, `
listenAddr: ":9999"
gameDir: /srv/karaoke
maxNameLength: 20
staleThreshold: "15s"
`)

	loader := NewLoaderWithEnv(lookupFrom(map[string]string{
		"KARAOKED_CONFIG_FILE": path,
	}))
	cfg := loader.Load("dev")

	assert.NoError(t, loader.FileConfigErr)
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, "/srv/karaoke", cfg.GameDir)
	assert.Equal(t, 20, cfg.MaxNameLength)
	assert.Equal(t, 15*time.Second, cfg.StaleThreshold)
	// Untouched by the file, still defaulted.
	assert.Equal(t, "mp3", cfg.AudioExtension)
}

func TestLoadConfigFileIsOverriddenByEnv(t *testing.T) {
	path := writeTempYAML(t, `
listenAddr: ":9999"
`)

	loader := NewLoaderWithEnv(lookupFrom(map[string]string{
		"KARAOKED_CONFIG_FILE": path,
		"KARAOKED_LISTEN_ADDR": ":7070",
	}))
	cfg := loader.Load("dev")

	assert.NoError(t, loader.FileConfigErr)
	assert.Equal(t, ":7070", cfg.ListenAddr)
}

func TestLoadConfigFileUnknownKeyRecordsErrorWithoutAborting(t *testing.T) {
	path := writeTempYAML(t, `
notARealKey: true
`)

	loader := NewLoaderWithEnv(lookupFrom(map[string]string{
		"KARAOKED_CONFIG_FILE": path,
	}))
	cfg := loader.Load("dev")

	assert.Error(t, loader.FileConfigErr)
	assert.Equal(t, ":8080", cfg.ListenAddr)
}

func TestLoadConfigFileMissingPathRecordsErrorWithoutAborting(t *testing.T) {
	loader := NewLoaderWithEnv(lookupFrom(map[string]string{
		"KARAOKED_CONFIG_FILE": "/nonexistent/karaoked.yaml",
	}))
	cfg := loader.Load("dev")

	assert.Error(t, loader.FileConfigErr)
	assert.Equal(t, ":8080", cfg.ListenAddr)
}

func writeTempYAML(t *testing.T, contents string) string {
	t.Helper()
	path := t.TempDir() + "/karaoked.yaml"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing temp yaml: %v", err)
	}
	return path
}
