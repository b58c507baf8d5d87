package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by FromEnv.
const EnvPrefix = "CONVSYNC"

// MemoryDSN is the SQLite DSN used when no data directory is configured.
const MemoryDSN = "file::memory:"

// Defaults applied by FromEnv/FromViper when nothing else is set.
const (
	DefaultMode             = "dev"
	DefaultAddr             = "127.0.0.1"
	DefaultPort             = 8081
	DefaultDriver           = "sqlite"
	DefaultLogLevel         = "info"
	DefaultSyncInterval     = 5 * time.Second
	DefaultReloadEvery      = 250 * time.Millisecond
	DefaultReloadBurst      = 4
	DefaultPreviewLength    = 80
	DefaultPreviewCacheSize = 512
)

// Profile is the configuration to start the reconciler and its local backend.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Addr is the binding address for the debug server
	Addr string
	// Port is the binding port for the debug server
	Port int
	// Data is the data directory of the local backend
	Data string
	// DSN points to where the local backend stores conversations
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Version is the current version of the binary
	Version string
	// LogLevel is one of debug, info, warn, error
	LogLevel string

	// Sync Configuration
	SyncInterval time.Duration // CONVSYNC_SYNC_INTERVAL (default: 5s, 0 disables the polling backstop)
	ReloadEvery  time.Duration // CONVSYNC_RELOAD_EVERY (default: 250ms between paced reloads)
	ReloadBurst  int           // CONVSYNC_RELOAD_BURST (default: 4)

	// Presentation Configuration
	PreviewLength    int // CONVSYNC_PREVIEW_LENGTH (default: 80 runes)
	PreviewCacheSize int // CONVSYNC_PREVIEW_CACHE_SIZE (default: 512 entries)

	// DefaultModel is the model label the local backend reports for AI
	// conversations. Empty means unresolved.
	DefaultModel string // CONVSYNC_DEFAULT_MODEL
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// NewViper returns a viper instance reading CONVSYNC_* environment variables
// with every default registered.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", DefaultMode)
	v.SetDefault("addr", DefaultAddr)
	v.SetDefault("port", DefaultPort)
	v.SetDefault("driver", DefaultDriver)
	v.SetDefault("log-level", DefaultLogLevel)
	v.SetDefault("sync-interval", DefaultSyncInterval)
	v.SetDefault("reload-every", DefaultReloadEvery)
	v.SetDefault("reload-burst", DefaultReloadBurst)
	v.SetDefault("preview-length", DefaultPreviewLength)
	v.SetDefault("preview-cache-size", DefaultPreviewCacheSize)
	return v
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.FromViper(NewViper())
}

// FromViper loads configuration from v. Flags bound to v take precedence over
// the environment, which takes precedence over defaults.
func (p *Profile) FromViper(v *viper.Viper) {
	p.Mode = v.GetString("mode")
	p.Addr = v.GetString("addr")
	p.Port = v.GetInt("port")
	p.Data = v.GetString("data")
	p.DSN = v.GetString("dsn")
	p.Driver = v.GetString("driver")
	p.LogLevel = v.GetString("log-level")
	p.SyncInterval = v.GetDuration("sync-interval")
	p.ReloadEvery = v.GetDuration("reload-every")
	p.ReloadBurst = v.GetInt("reload-burst")
	p.PreviewLength = v.GetInt("preview-length")
	p.PreviewCacheSize = v.GetInt("preview-cache-size")
	p.DefaultModel = v.GetString("default-model")
}

// SlogLevel maps LogLevel to a slog.Level, defaulting to info.
func (p *Profile) SlogLevel() slog.Level {
	switch strings.ToLower(p.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		absDir, err := filepath.Abs(dataDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}
	if p.Driver == "" {
		p.Driver = DefaultDriver
	}
	if p.SyncInterval < 0 {
		return errors.Errorf("sync interval must not be negative, got %s", p.SyncInterval)
	}
	if p.ReloadEvery < 0 {
		return errors.Errorf("reload pacing must not be negative, got %s", p.ReloadEvery)
	}
	if p.ReloadBurst <= 0 {
		p.ReloadBurst = DefaultReloadBurst
	}
	if p.PreviewLength <= 0 {
		p.PreviewLength = DefaultPreviewLength
	}
	if p.PreviewCacheSize <= 0 {
		p.PreviewCacheSize = DefaultPreviewCacheSize
	}

	if p.Data != "" {
		dataDir, err := checkDataDir(p.Data)
		if err != nil {
			slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
			return err
		}
		p.Data = dataDir
	}

	if p.Driver == "sqlite" && p.DSN == "" {
		if p.Data == "" {
			p.DSN = MemoryDSN
		} else {
			p.DSN = filepath.Join(p.Data, fmt.Sprintf("convsync_%s.db", p.Mode))
		}
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("postgres driver requires a dsn")
	}

	return nil
}
