package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

// Flags holds the command-line overrides. Only flags the user actually set
// are applied.
type Flags struct {
	fs *pflag.FlagSet

	ConfigPath   string
	Listen       string
	LogLevel     string
	StoreBackend string
	StoreDSN     string
	RedisAddr    string
	Publisher    string
	Compression  string
}

// RegisterFlags adds the shared service flags to fs.
func RegisterFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	fs.StringVarP(&f.ConfigPath, "config", "c", "", "path to a YAML config file (default $IDENTITY_CONFIG)")
	fs.StringVar(&f.Listen, "listen", "", "HTTP listen address")
	fs.StringVar(&f.LogLevel, "log-level", "", "log level: debug, info, warn or error")
	fs.StringVar(&f.StoreBackend, "store", "", "event store backend: memory, redis, sqlite or postgres")
	fs.StringVar(&f.StoreDSN, "dsn", "", "SQL data source name")
	fs.StringVar(&f.RedisAddr, "redis-addr", "", "Redis address")
	fs.StringVar(&f.Publisher, "publisher", "", "event publisher: none, slog, kafka, amqp or redis")
	fs.StringVar(&f.Compression, "compression", "", "payload compression: none, lz4 or zstd")
	return f
}

func (f *Flags) apply(file *File) {
	if f.fs.Changed("listen") {
		file.Listen = f.Listen
	}
	if f.fs.Changed("log-level") {
		file.LogLevel = f.LogLevel
	}
	if f.fs.Changed("store") {
		file.Store.Backend = f.StoreBackend
	}
	if f.fs.Changed("dsn") {
		file.Store.DSN = f.StoreDSN
	}
	if f.fs.Changed("redis-addr") {
		file.Redis.Addr = f.RedisAddr
	}
	if f.fs.Changed("publisher") {
		file.Publisher.Kind = f.Publisher
	}
	if f.fs.Changed("compression") {
		file.Store.Compression = f.Compression
	}
}

// Load layers defaults, the YAML file, the environment and the parsed flags.
// fs must already be parsed. A nil environ reads the process environment.
func Load(flags *Flags, environ map[string]string) (File, error) {
	file := Default()

	path := flags.ConfigPath
	if path == "" {
		path = lookup(environ, EnvPrefix+"CONFIG")
	}
	if path != "" {
		if err := ReadFile(path, &file); err != nil {
			return File{}, err
		}
	}
	if err := ApplyEnv(&file, environ); err != nil {
		return File{}, err
	}
	flags.apply(&file)

	if err := file.Validate(); err != nil {
		return File{}, fmt.Errorf("invalid config: %w", err)
	}
	return file, nil
}

func lookup(environ map[string]string, key string) string {
	if environ != nil {
		return environ[key]
	}
	return os.Getenv(key)
}
