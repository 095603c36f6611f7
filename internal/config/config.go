// Package config provides functionality for managing configuration options
// for the heartline client using defaults, an optional JSON file,
// command-line flags and environment variables.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
)

// Storage backends for the persisted session snapshot.
const (
	StorageFile     = "file"
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
)

// Cross-tab channel backends.
const (
	TabSyncMemory = "memory"
	TabSyncRedis  = "redis"
)

// Options holds the configuration values for the client.
type Options struct {
	// BaseURL is the origin of the dating API, e.g. https://app.example.com.
	BaseURL string `json:"base_url" env:"HEARTLINE_BASE_URL"`

	// Storage selects the snapshot backend: file, memory, redis or postgres.
	Storage string `json:"storage" env:"HEARTLINE_STORAGE"`
	// StoragePath is the snapshot file used by the file backend.
	StoragePath string `json:"storage_path" env:"HEARTLINE_STORAGE_PATH"`
	// StorageKey is the key the snapshot is stored under.
	StorageKey string `json:"storage_key" env:"HEARTLINE_STORAGE_KEY"`
	// EncryptionKey, when set, seals file snapshots with AES-GCM.
	EncryptionKey string `json:"encryption_key" env:"HEARTLINE_ENCRYPTION_KEY"`

	// RedisAddr is used by the redis storage and tab-sync backends.
	RedisAddr string `json:"redis_addr" env:"HEARTLINE_REDIS_ADDR"`
	// DatabaseDSN is the Postgres connection string for the postgres backend.
	DatabaseDSN string `json:"database_dsn" env:"HEARTLINE_DATABASE_DSN"`
	// SnapshotRetention bounds how long untouched postgres snapshots live.
	SnapshotRetention Duration `json:"snapshot_retention" env:"HEARTLINE_SNAPSHOT_RETENTION"`

	// TabSync selects the cross-tab channel: memory or redis.
	TabSync string `json:"tab_sync" env:"HEARTLINE_TAB_SYNC"`

	// Debounce is the coalescing window of the "me" probe.
	Debounce Duration `json:"debounce" env:"HEARTLINE_DEBOUNCE"`
	// ProbeTimeout bounds a single "me" request.
	ProbeTimeout Duration `json:"probe_timeout" env:"HEARTLINE_PROBE_TIMEOUT"`
	// MutationTimeout bounds a single mutation request.
	MutationTimeout Duration `json:"mutation_timeout" env:"HEARTLINE_MUTATION_TIMEOUT"`
	// CSRFTimeout bounds a CSRF token refresh.
	CSRFTimeout Duration `json:"csrf_timeout" env:"HEARTLINE_CSRF_TIMEOUT"`
	// BootstrapTimeout bounds the whole bootstrap.
	BootstrapTimeout Duration `json:"bootstrap_timeout" env:"HEARTLINE_BOOTSTRAP_TIMEOUT"`
	// RevalidateInterval re-probes the session periodically; zero disables it.
	RevalidateInterval Duration `json:"revalidate_interval" env:"HEARTLINE_REVALIDATE_INTERVAL"`

	// LogLevel is passed to the zap logger.
	LogLevel string `json:"log_level" env:"HEARTLINE_LOG_LEVEL"`

	// CAFile, CertFile and KeyFile configure TLS towards the API.
	CAFile   string `json:"ca_file" env:"HEARTLINE_CA_FILE"`
	CertFile string `json:"cert_file" env:"HEARTLINE_CERT_FILE"`
	KeyFile  string `json:"key_file" env:"HEARTLINE_KEY_FILE"`

	// Config is the path to the JSON config file.
	Config string `json:"-" env:"CONFIG"`
}

// Duration is a time.Duration that reads "1.5s" style strings from JSON and
// the environment.
type Duration time.Duration

// UnmarshalJSON accepts a duration string or integer nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("duration must be a string or integer: %w", err)
	}
	*d = Duration(n)
	return nil
}

// Decode implements envdecode.Decoder.
func (d *Duration) Decode(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// String implements flag.Value.
func (d Duration) String() string { return time.Duration(d).String() }

// Set implements flag.Value.
func (d *Duration) Set(s string) error { return d.Decode(s) }

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// Default returns the built-in defaults.
func Default() *Options {
	return &Options{
		BaseURL:            "https://localhost:8080",
		Storage:            StorageFile,
		StoragePath:        "session.json",
		StorageKey:         "heartline-auth",
		RedisAddr:          "localhost:6379",
		SnapshotRetention:  Duration(30 * 24 * time.Hour),
		TabSync:            TabSyncMemory,
		Debounce:           Duration(200 * time.Millisecond),
		ProbeTimeout:       Duration(10 * time.Second),
		MutationTimeout:    Duration(15 * time.Second),
		CSRFTimeout:        Duration(5 * time.Second),
		BootstrapTimeout:   Duration(30 * time.Second),
		RevalidateInterval: 0,
		LogLevel:           "info",
		Config:             "config.json",
	}
}

// Parse parses os.Args and the environment. It exits the process on invalid
// configuration, like the rest of the binary entry points.
func Parse() *Options {
	opts, err := ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return opts
}

// ParseArgs builds Options from defaults, the JSON config file, args and the
// environment, in that order of increasing precedence.
func ParseArgs(args []string) (*Options, error) {
	opts := Default()

	fs := flag.NewFlagSet("heartline", flag.ContinueOnError)
	fs.StringVar(&opts.Config, "config", opts.Config, "path to config file")
	fs.StringVar(&opts.Config, "c", opts.Config, "path to config file (shorthand)")
	// The config path must be known before the file overlay, so scan once.
	fs.SetOutput(io.Discard)
	_ = fs.Parse(filterConfigArgs(args))
	if configPath := os.Getenv("CONFIG"); configPath != "" {
		opts.Config = configPath
	}

	if err := loadJSON(opts); err != nil {
		return nil, err
	}

	fs = flag.NewFlagSet("heartline", flag.ContinueOnError)
	fs.StringVar(&opts.Config, "config", opts.Config, "path to config file")
	fs.StringVar(&opts.Config, "c", opts.Config, "path to config file (shorthand)")
	fs.StringVar(&opts.BaseURL, "url", opts.BaseURL, "API base URL")
	fs.StringVar(&opts.Storage, "storage", opts.Storage, "snapshot storage: file | memory | redis | postgres")
	fs.StringVar(&opts.StoragePath, "storage-path", opts.StoragePath, "snapshot file path")
	fs.StringVar(&opts.RedisAddr, "redis", opts.RedisAddr, "redis address")
	fs.StringVar(&opts.DatabaseDSN, "d", opts.DatabaseDSN, "postgres DSN")
	fs.StringVar(&opts.TabSync, "tabsync", opts.TabSync, "cross-tab channel: memory | redis")
	fs.StringVar(&opts.StorageKey, "storage-key", opts.StorageKey, "snapshot key")
	fs.Var(&opts.SnapshotRetention, "retention", "postgres snapshot retention")
	fs.Var(&opts.Debounce, "debounce", "session probe coalescing window")
	fs.Var(&opts.ProbeTimeout, "probe-timeout", "session probe request timeout")
	fs.Var(&opts.MutationTimeout, "mutation-timeout", "mutation request timeout")
	fs.Var(&opts.CSRFTimeout, "csrf-timeout", "csrf refresh timeout")
	fs.Var(&opts.BootstrapTimeout, "bootstrap-timeout", "bootstrap timeout")
	fs.Var(&opts.RevalidateInterval, "revalidate", "session revalidation interval, 0 disables")
	fs.StringVar(&opts.LogLevel, "log", opts.LogLevel, "log level")
	fs.StringVar(&opts.CAFile, "ca", opts.CAFile, "path to CA cert")
	fs.StringVar(&opts.CertFile, "cert", opts.CertFile, "path to client cert")
	fs.StringVar(&opts.KeyFile, "key", opts.KeyFile, "path to client key")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := envdecode.Decode(opts); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("error while reading environment: %w", err)
	}

	return opts, opts.Validate()
}

// Validate checks enumerated fields and required combinations.
func (o *Options) Validate() error {
	switch o.Storage {
	case StorageFile, StorageMemory, StorageRedis:
	case StoragePostgres:
		if o.DatabaseDSN == "" {
			return errors.New("postgres storage requires a database DSN")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", o.Storage)
	}
	switch o.TabSync {
	case TabSyncMemory, TabSyncRedis:
	default:
		return fmt.Errorf("unknown tab sync backend %q", o.TabSync)
	}
	if o.BaseURL == "" {
		return errors.New("base URL is required")
	}
	return nil
}

func loadJSON(opts *Options) error {
	if opts.Config == "" {
		return nil
	}
	if _, err := os.Stat(opts.Config); err != nil {
		return nil
	}
	data, err := os.ReadFile(opts.Config)
	if err != nil {
		return fmt.Errorf("error while reading config file: %w", err)
	}
	if err := json.Unmarshal(data, opts); err != nil {
		return fmt.Errorf("error while parsing config file: %w", err)
	}
	return nil
}

// filterConfigArgs keeps only the -c/-config flags and their values.
func filterConfigArgs(args []string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch a {
		case "-c", "--c", "-config", "--config":
			out = append(out, a)
			if i+1 < len(args) {
				out = append(out, args[i+1])
				i++
			}
			continue
		}
		for _, p := range []string{"-c=", "--c=", "-config=", "--config="} {
			if len(a) > len(p) && a[:len(p)] == p {
				out = append(out, a)
			}
		}
	}
	return out
}
