// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads passport settings from a YAML file, the environment and
// command-line flags.
package config

import (
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/passport/internal/auth"
)

// EnvPrefix namespaces passport environment variables.
const EnvPrefix = "PASSPORT_"

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Mail transports.
const (
	MailLog   = "log"
	MailSMTP  = "smtp"
	MailQueue = "queue"
)

// Defaults.
const (
	DefaultHTTPAddr          = "127.0.0.1:8080"
	DefaultMetricsAddr       = "127.0.0.1:9100"
	DefaultLogFormat         = "json"
	DefaultMailFrom          = "forgot_password@example.com"
	DefaultSMTPPort          = 587
	DefaultQueueRedis        = "127.0.0.1:6379"
	DefaultWorkerConcurrency = 4
	DefaultShutdownTimeout   = 10 * time.Second
)

// Config is the full passport configuration.
type Config struct {
	HTTP     HTTPConfig     `koanf:"http"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
	Store    StoreConfig    `koanf:"store"`
	Database DatabaseConfig `koanf:"database"`
	Auth     AuthConfig     `koanf:"auth"`
	Hash     HashConfig     `koanf:"hash"`
	Mail     MailConfig     `koanf:"mail"`
	Worker   WorkerConfig   `koanf:"worker"`
}

type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown"`
	CORS            CORSConfig    `koanf:"cors"`
}

type CORSConfig struct {
	Origins []string `koanf:"origins"`
}

// MetricsConfig configures the observability listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

type LogConfig struct {
	Format string `koanf:"format"`
}

type StoreConfig struct {
	Driver string `koanf:"driver"`
}

type DatabaseConfig struct {
	URL         string `koanf:"url"`
	AutoMigrate bool   `koanf:"automigrate"`
}

type AuthConfig struct {
	Secret string `koanf:"secret"`
	Issuer string `koanf:"issuer"`
}

type HashConfig struct {
	Time    uint32 `koanf:"time"`
	Memory  uint32 `koanf:"memory"`
	Threads uint8  `koanf:"threads"`
}

// Params converts the settings to argon2id parameters.
func (h HashConfig) Params() auth.HashParams {
	return auth.HashParams{Time: h.Time, Memory: h.Memory, Threads: h.Threads}
}

type MailConfig struct {
	Transport string      `koanf:"transport"`
	From      string      `koanf:"from"`
	Link      string      `koanf:"link"`
	SMTP      SMTPConfig  `koanf:"smtp"`
	Queue     QueueConfig `koanf:"queue"`
}

type SMTPConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
}

type QueueConfig struct {
	Redis string `koanf:"redis"`
}

type WorkerConfig struct {
	Concurrency int `koanf:"concurrency"`
}

// RegisterFlags adds every setting to fs. Flag names are keys with dots
// replaced by dashes, so "mail.smtp.host" becomes --mail-smtp-host.
func RegisterFlags(fs *pflag.FlagSet) {
	d := auth.DefaultHashParams

	fs.String("http-addr", DefaultHTTPAddr, "HTTP listen address")
	fs.Duration("http-shutdown", DefaultShutdownTimeout, "graceful shutdown timeout")
	fs.StringSlice("http-cors-origins", nil, "allowed CORS origins (empty disables CORS)")
	fs.String("metrics-addr", DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	fs.String("log-format", DefaultLogFormat, "log format (json or text)")
	fs.String("store-driver", StorePostgres, "user store (postgres or memory)")
	fs.String("database-url", "", "PostgreSQL connection URL")
	fs.Bool("database-automigrate", true, "apply pending migrations when serving")
	fs.String("auth-secret", "", "session token signing secret")
	fs.String("auth-issuer", "", "session token issuer claim")
	fs.Uint32("hash-time", d.Time, "argon2id iterations")
	fs.Uint32("hash-memory", d.Memory, "argon2id memory in KiB")
	fs.Uint8("hash-threads", d.Threads, "argon2id parallelism")
	fs.String("mail-transport", MailLog, "mail transport (log, smtp or queue)")
	fs.String("mail-from", DefaultMailFrom, "sender address for reset mail")
	fs.String("mail-link", "", "base URL of the reset page")
	fs.String("mail-smtp-host", "", "SMTP relay host")
	fs.Int("mail-smtp-port", DefaultSMTPPort, "SMTP relay port")
	fs.String("mail-smtp-user", "", "SMTP username")
	fs.String("mail-smtp-password", "", "SMTP password")
	fs.String("mail-queue-redis", DefaultQueueRedis, "Redis address for the mail queue")
	fs.Int("worker-concurrency", DefaultWorkerConcurrency, "mail worker concurrency")
}

// Sources names the inputs Load reads besides flags.
type Sources struct {
	// File is a YAML config file. Empty skips it.
	File string
	// EnvFile is a dotenv file loaded into the process environment first.
	EnvFile string
}

// Load merges the config file, environment and flags into a Config. Flags
// given on the command line win over the environment, which wins over the
// file. Unset flags supply defaults.
func Load(fs *pflag.FlagSet, src Sources) (*Config, error) {
	if src.EnvFile != "" {
		if err := godotenv.Load(src.EnvFile); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").
				With("source", "env-file").
				With("path", src.EnvFile).
				Wrap(err)
		}
	}

	k := koanf.New(".")

	if src.File != "" {
		if err := k.Load(file.Provider(src.File), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").
				With("source", "file").
				With("path", src.File).
				Wrap(err)
		}
	}

	if err := k.Load(env.ProviderWithValue("DATABASE_URL", ".", func(name, value string) (string, any) {
		if name != "DATABASE_URL" || value == "" {
			return "", nil
		}
		return "database.url", value
	}), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			return flagKey(f.Name), posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}
	return &cfg, nil
}

// envKey maps PASSPORT_MAIL_SMTP_HOST to mail.smtp.host. List values are
// comma separated. Empty values are skipped so they do not mask the file.
func envKey(name, value string) (string, any) {
	if value == "" {
		return "", nil
	}
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	key = strings.ReplaceAll(key, "_", ".")
	if key == "http.cors.origins" {
		return key, splitList(value)
	}
	return key, value
}

func flagKey(name string) string {
	return strings.ReplaceAll(name, "-", ".")
}

func splitList(v string) []string {
	var out []string
	for part := range strings.SplitSeq(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the settings a server needs. Mail and store settings are
// only checked for the transport and driver in use.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return oops.Code("CONFIG_INVALID").With("key", "http.addr").Errorf("http.addr is required")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return oops.Code("CONFIG_INVALID").With("key", "log.format").
			Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if err := c.ValidateStore(); err != nil {
		return err
	}
	if len(c.Auth.Secret) < auth.MinSecretLength {
		return oops.Code("CONFIG_INVALID").With("key", "auth.secret").
			Errorf("auth.secret must be at least %d bytes", auth.MinSecretLength)
	}
	if err := c.Hash.Params().Validate(); err != nil {
		return oops.Code("CONFIG_INVALID").With("key", "hash").Wrap(err)
	}
	return c.ValidateMail()
}

// ValidateStore checks the store driver and, for postgres, the database URL.
func (c *Config) ValidateStore() error {
	switch c.Store.Driver {
	case StoreMemory:
		return nil
	case StorePostgres:
		if c.Database.URL == "" {
			return oops.Code("CONFIG_INVALID").With("key", "database.url").
				Errorf("database.url (or DATABASE_URL) is required for the postgres store")
		}
		return nil
	default:
		return oops.Code("CONFIG_INVALID").With("key", "store.driver").
			Errorf("store.driver must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store.Driver)
	}
}

// ValidateMail checks the mail transport settings.
func (c *Config) ValidateMail() error {
	if c.Mail.From == "" {
		return oops.Code("CONFIG_INVALID").With("key", "mail.from").Errorf("mail.from is required")
	}
	transports := []string{MailLog, MailSMTP, MailQueue}
	if !slices.Contains(transports, c.Mail.Transport) {
		return oops.Code("CONFIG_INVALID").With("key", "mail.transport").
			Errorf("mail.transport must be one of %v, got %q", transports, c.Mail.Transport)
	}
	switch c.Mail.Transport {
	case MailSMTP:
		if c.Mail.SMTP.Host == "" {
			return oops.Code("CONFIG_INVALID").With("key", "mail.smtp.host").
				Errorf("mail.smtp.host is required for the smtp transport")
		}
	case MailQueue:
		if c.Mail.Queue.Redis == "" {
			return oops.Code("CONFIG_INVALID").With("key", "mail.queue.redis").
				Errorf("mail.queue.redis is required for the queue transport")
		}
	}
	return nil
}

// ValidateWorker checks the settings the mail worker needs. The worker
// delivers through SMTP when mail.smtp.host is set and logs otherwise.
func (c *Config) ValidateWorker() error {
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return oops.Code("CONFIG_INVALID").With("key", "log.format").
			Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if c.Mail.Queue.Redis == "" {
		return oops.Code("CONFIG_INVALID").With("key", "mail.queue.redis").Errorf("mail.queue.redis is required")
	}
	if c.Worker.Concurrency < 1 {
		return oops.Code("CONFIG_INVALID").With("key", "worker.concurrency").
			Errorf("worker.concurrency must be positive, got %d", c.Worker.Concurrency)
	}
	return nil
}
