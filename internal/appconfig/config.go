// Package appconfig loads karaoked's daemon configuration from
// environment variables, mirroring the env-driven Loader used by the
// reference daemon this project is modeled on (consumed-key tracking,
// typed env* helpers, defaults applied up front). It also supports an
// optional YAML config file as a lower-precedence layer beneath env
// vars, grounded on that same daemon's file+env merge loader.
package appconfig

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fully resolved daemon configuration.
type Config struct {
	ListenAddr    string
	HotspotIface  string
	InternetIface string

	TLSEnable bool
	TLSCert   string
	TLSKey    string

	GameDir         string
	PlaylistFile    string
	AudioExtension  string
	SkipScan        bool
	GameConfigPath  string
	GameLogPath     string
	SongIndexPath   string
	CapacityPath    string

	ControlPassphrase string
	ControlOnly       bool

	MaxNameLength           int
	DefaultCountdownSeconds int
	StaleThreshold          time.Duration

	AudioGraphTool    string // pw-link
	AudioGraphCtlTool string // pactl (sink creation/teardown)
	IngressBin        string
	InputSynthTool    string // xdotool
	OverlayScript     string

	Version string
}

// FileConfig is the optional YAML config-file layer, loaded beneath
// env vars: any field an operator sets here is overridden by the
// matching env var if that is also set, and falls back to Config's
// hardcoded default otherwise. Pointer fields distinguish "absent from
// the file" from "present with a zero value."
type FileConfig struct {
	ListenAddr    *string `yaml:"listenAddr"`
	HotspotIface  *string `yaml:"hotspotIface"`
	InternetIface *string `yaml:"internetIface"`

	TLSEnable *bool   `yaml:"tlsEnable"`
	TLSCert   *string `yaml:"tlsCert"`
	TLSKey    *string `yaml:"tlsKey"`

	GameDir        *string `yaml:"gameDir"`
	PlaylistFile   *string `yaml:"playlistFile"`
	AudioExtension *string `yaml:"audioExtension"`
	SkipScan       *bool   `yaml:"skipScan"`
	GameConfigPath *string `yaml:"gameConfigPath"`
	GameLogPath    *string `yaml:"gameLogPath"`
	SongIndexPath  *string `yaml:"songIndexPath"`
	CapacityPath   *string `yaml:"capacityPath"`

	ControlPassphrase *string `yaml:"controlPassphrase"`
	ControlOnly       *bool   `yaml:"controlOnly"`

	MaxNameLength           *int    `yaml:"maxNameLength"`
	DefaultCountdownSeconds *int    `yaml:"defaultCountdownSeconds"`
	StaleThreshold          *string `yaml:"staleThreshold"`

	AudioGraphTool    *string `yaml:"audioGraphTool"`
	AudioGraphCtlTool *string `yaml:"audioGraphCtlTool"`
	IngressBin        *string `yaml:"ingressBin"`
	InputSynthTool    *string `yaml:"inputSynthTool"`
	OverlayScript     *string `yaml:"overlayScript"`
}

// LoadConfigFile reads and strictly decodes a YAML config file. An
// unknown key is a hard error, matching the teacher loader's
// KnownFields(true) decode discipline so a typo'd key never silently
// falls back to defaults.
func LoadConfigFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	var fc FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &fc, nil
}

type envLookupFunc func(key string) (string, bool)

// Loader resolves Config from the process environment, tracking which
// keys it consulted so operators can audit what actually took effect.
type Loader struct {
	ConsumedEnvKeys map[string]struct{}
	lookupEnvFn     envLookupFunc

	// FileConfigErr records a failure loading KARAOKED_CONFIG_FILE, if
	// set. Load never aborts on this: the file layer is a convenience
	// beneath env vars, not a required source.
	FileConfigErr error
}

// NewLoader creates a Loader reading from the real process environment.
func NewLoader() *Loader {
	return NewLoaderWithEnv(os.LookupEnv)
}

// NewLoaderWithEnv creates a Loader with an injected environment
// source, for tests.
func NewLoaderWithEnv(lookup envLookupFunc) *Loader {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &Loader{
		ConsumedEnvKeys: make(map[string]struct{}),
		lookupEnvFn:     lookup,
	}
}

func (l *Loader) envLookup(key string) (string, bool) {
	l.ConsumedEnvKeys[key] = struct{}{}
	return l.lookupEnvFn(key)
}

func (l *Loader) envString(key, def string) string {
	if v, ok := l.envLookup(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func (l *Loader) envBool(key string, def bool) bool {
	v, ok := l.envLookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return parsed
}

func (l *Loader) envInt(key string, def int) int {
	v, ok := l.envLookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func (l *Loader) envDuration(key string, def time.Duration) time.Duration {
	v, ok := l.envLookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return parsed
}

// fileStr/fileBool/fileInt/fileDuration apply the FileConfig value (if
// present) as the fallback default before consulting the env var,
// giving the three-tier precedence env > file > hardcoded default.

func (l *Loader) fileStr(file *string, key, def string) string {
	if file != nil {
		def = *file
	}
	return l.envString(key, def)
}

func (l *Loader) fileBool(file *bool, key string, def bool) bool {
	if file != nil {
		def = *file
	}
	return l.envBool(key, def)
}

func (l *Loader) fileInt(file *int, key string, def int) int {
	if file != nil {
		def = *file
	}
	return l.envInt(key, def)
}

func (l *Loader) fileDuration(file *string, key string, def time.Duration) time.Duration {
	if file != nil {
		if parsed, err := time.ParseDuration(*file); err == nil {
			def = parsed
		}
	}
	return l.envDuration(key, def)
}

// Load resolves the full Config. Precedence, highest first: env vars,
// then the optional YAML file named by KARAOKED_CONFIG_FILE (if set
// and readable), then hardcoded defaults.
func (l *Loader) Load(version string) Config {
	var file FileConfig
	if path := l.envString("KARAOKED_CONFIG_FILE", ""); path != "" {
		fc, err := LoadConfigFile(path)
		if err != nil {
			l.FileConfigErr = err
		} else {
			file = *fc
		}
	}

	cfg := Config{
		ListenAddr:    l.fileStr(file.ListenAddr, "KARAOKED_LISTEN_ADDR", ":8080"),
		HotspotIface:  l.fileStr(file.HotspotIface, "KARAOKED_HOTSPOT_IFACE", "wlan0"),
		InternetIface: l.fileStr(file.InternetIface, "KARAOKED_INTERNET_IFACE", "eth0"),

		TLSEnable: l.fileBool(file.TLSEnable, "KARAOKED_TLS_ENABLE", false),
		TLSCert:   l.fileStr(file.TLSCert, "KARAOKED_TLS_CERT", ""),
		TLSKey:    l.fileStr(file.TLSKey, "KARAOKED_TLS_KEY", ""),

		GameDir:        l.fileStr(file.GameDir, "KARAOKED_GAME_DIR", "."),
		PlaylistFile:   l.fileStr(file.PlaylistFile, "KARAOKED_PLAYLIST_FILE", "playlist.txt"),
		AudioExtension: l.fileStr(file.AudioExtension, "KARAOKED_AUDIO_EXT", "mp3"),
		SkipScan:       l.fileBool(file.SkipScan, "KARAOKED_SKIP_SCAN", false),
		GameConfigPath: l.fileStr(file.GameConfigPath, "KARAOKED_GAME_CONFIG_PATH", "config.ini"),
		GameLogPath:    l.fileStr(file.GameLogPath, "KARAOKED_GAME_LOG_PATH", "usdx.log"),
		SongIndexPath:  l.fileStr(file.SongIndexPath, "KARAOKED_SONG_INDEX_PATH", "song_index.json"),
		CapacityPath:   l.fileStr(file.CapacityPath, "KARAOKED_CAPACITY_PATH", "capacity.json"),

		ControlPassphrase: l.fileStr(file.ControlPassphrase, "KARAOKED_CONTROL_PASSPHRASE", ""),
		ControlOnly:       l.fileBool(file.ControlOnly, "KARAOKED_CONTROL_ONLY", false),

		MaxNameLength:           l.fileInt(file.MaxNameLength, "KARAOKED_MAX_NAME_LENGTH", 16),
		DefaultCountdownSeconds: l.fileInt(file.DefaultCountdownSeconds, "KARAOKED_DEFAULT_COUNTDOWN_SECONDS", 5),
		StaleThreshold:          l.fileDuration(file.StaleThreshold, "KARAOKED_STALE_THRESHOLD", 10*time.Second),

		AudioGraphTool:    l.fileStr(file.AudioGraphTool, "KARAOKED_PW_LINK_BIN", "pw-link"),
		AudioGraphCtlTool: l.fileStr(file.AudioGraphCtlTool, "KARAOKED_PACTL_BIN", "pactl"),
		IngressBin:        l.fileStr(file.IngressBin, "KARAOKED_INGRESS_BIN", "webrtc-ingress"),
		InputSynthTool:    l.fileStr(file.InputSynthTool, "KARAOKED_XDOTOOL_BIN", "xdotool"),
		OverlayScript:     l.fileStr(file.OverlayScript, "KARAOKED_OVERLAY_SCRIPT", "countdown_overlay.py"),

		Version: version,
	}
	return cfg
}
