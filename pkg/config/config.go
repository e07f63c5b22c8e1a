// Package config loads the server and engine configuration.
//
// Values are resolved in order: built-in defaults, an optional YAML file,
// CLUSOKV_* environment variables, then whatever the command line sets on
// the returned struct. Validate must be called once all sources are applied.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-kv/pkg/lsm"
	tlspkg "github.com/dd0wney/cluso-kv/pkg/tls"
	"github.com/dd0wney/cluso-kv/pkg/validation"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CLUSOKV_"

const maxCompactionLevels = 16

// Config is the complete runtime configuration
type Config struct {
	WALDir     string `yaml:"wal_dir" validate:"required"`
	SegmentDir string `yaml:"segment_dir" validate:"required"`

	FlushThreshold        int           `yaml:"flush_threshold"`
	CompactionFileLimit   int           `yaml:"compaction_file_limit"`
	CompactionLevels      int           `yaml:"compaction_levels"`
	MaxSegmentBytes       int64         `yaml:"max_segment_bytes"`
	CompactionInterval    time.Duration `yaml:"compaction_interval"`
	DisableAutoCompaction bool          `yaml:"disable_auto_compaction"`
	ReadCacheSize         int           `yaml:"read_cache_size"`

	ListenAddr      string        `yaml:"listen_addr" validate:"required,hostname_port"`
	AdminAddr       string        `yaml:"admin_addr" validate:"omitempty,hostname_port"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	MaxConnections  int           `yaml:"max_connections"`
	RequirePassHash string        `yaml:"requirepass_hash"`

	LogLevel string `yaml:"log_level" validate:"loglevel"`

	TLS    tlspkg.Config `yaml:"tls"`
	Backup BackupConfig  `yaml:"backup"`
}

// BackupConfig configures offsite backup uploads. An empty bucket keeps
// backups local.
type BackupConfig struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint" validate:"omitempty,url"`
}

// Default returns the configuration used when nothing else is supplied
func Default() *Config {
	opts := lsm.DefaultOptions("./data/wal", "./data/segments")
	return &Config{
		WALDir:              opts.WALDir,
		SegmentDir:          opts.SegmentDir,
		FlushThreshold:      opts.FlushThreshold,
		CompactionFileLimit: opts.CompactionFileLimit,
		CompactionLevels:    opts.CompactionLevels,
		MaxSegmentBytes:     opts.MaxSegmentBytes,
		ReadCacheSize:       opts.ReadCacheSize,
		ListenAddr:          "0.0.0.0:6379",
		AdminAddr:           "127.0.0.1:9121",
		LogLevel:            "info",
		TLS:                 tlspkg.DefaultConfig(),
		Backup: BackupConfig{
			Prefix: "cluso-kv/",
			Region: "us-east-1",
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path, if any, and
// the environment. A missing file is an error only when path is non-empty.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from CLUSOKV_* variables. LOG_LEVEL is honoured
// as well so the logger and the config agree.
func (c *Config) ApplyEnv() error {
	var errs []error

	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	str("WAL_DIR", &c.WALDir)
	str("SEGMENT_DIR", &c.SegmentDir)
	num("FLUSH_THRESHOLD", &c.FlushThreshold)
	num("COMPACTION_FILE_LIMIT", &c.CompactionFileLimit)
	num("COMPACTION_LEVELS", &c.CompactionLevels)
	dur("COMPACTION_INTERVAL", &c.CompactionInterval)
	num("READ_CACHE_SIZE", &c.ReadCacheSize)
	str("LISTEN_ADDR", &c.ListenAddr)
	str("ADMIN_ADDR", &c.AdminAddr)
	dur("IDLE_TIMEOUT", &c.IdleTimeout)
	num("MAX_CONNECTIONS", &c.MaxConnections)
	str("REQUIREPASS_HASH", &c.RequirePassHash)
	str("TLS_CERT_FILE", &c.TLS.CertFile)
	str("TLS_KEY_FILE", &c.TLS.KeyFile)
	if v, ok := os.LookupEnv(EnvPrefix + "TLS_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sTLS_ENABLED: %w", EnvPrefix, err))
		} else {
			c.TLS.Enabled = b
		}
	}
	str("BACKUP_BUCKET", &c.Backup.Bucket)
	str("BACKUP_ENDPOINT", &c.Backup.Endpoint)

	if v, ok := os.LookupEnv("LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	str("LOG_LEVEL", &c.LogLevel)

	return errors.Join(errs...)
}

// Validate checks struct tags first, then the cross-field rules the tags
// cannot express.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	return validation.NewConfigValidator("Config").
		Dir("WALDir", c.WALDir).
		Dir("SegmentDir", c.SegmentDir).
		Positive("FlushThreshold", c.FlushThreshold).
		Positive("CompactionFileLimit", c.CompactionFileLimit).
		RangeInt("CompactionLevels", c.CompactionLevels, 1, maxCompactionLevels).
		NonNegativeInt64("MaxSegmentBytes", c.MaxSegmentBytes). // 0 means unbounded
		MinDuration("CompactionInterval", c.CompactionInterval, 0).
		NonNegative("ReadCacheSize", c.ReadCacheSize).
		MinDuration("IdleTimeout", c.IdleTimeout, 0).
		NonNegative("MaxConnections", c.MaxConnections).
		Address("ListenAddr", c.ListenAddr, false).
		Address("AdminAddr", c.AdminAddr, true).
		Custom("AdminAddr", func() error {
			if c.AdminAddr != "" && c.AdminAddr == c.ListenAddr {
				return errors.New("must differ from ListenAddr")
			}
			return nil
		}).
		When(c.RequirePassHash != "", func(cv *validation.ConfigValidator) {
			cv.Custom("RequirePassHash", func() error {
				if len(c.RequirePassHash) < 4 || c.RequirePassHash[0] != '$' {
					return errors.New("must be a bcrypt hash")
				}
				return nil
			})
		}).
		When(c.TLS.Enabled, func(cv *validation.ConfigValidator) {
			cv.Required("TLS.CertFile", c.TLS.CertFile).
				Required("TLS.KeyFile", c.TLS.KeyFile).
				When(c.TLS.RequireClientCert, func(cv *validation.ConfigValidator) {
					cv.Required("TLS.CAFile", c.TLS.CAFile)
				})
		}).
		When(c.Backup.Bucket != "", func(cv *validation.ConfigValidator) {
			cv.Required("Backup.Region", c.Backup.Region)
		}).
		Validate()
}

// Options converts the engine part of the configuration
func (c *Config) Options() lsm.Options {
	opts := lsm.DefaultOptions(c.WALDir, c.SegmentDir)
	opts.FlushThreshold = c.FlushThreshold
	opts.CompactionFileLimit = c.CompactionFileLimit
	opts.CompactionLevels = c.CompactionLevels
	opts.MaxSegmentBytes = c.MaxSegmentBytes
	opts.CompactionInterval = c.CompactionInterval
	opts.EnableAutoCompaction = !c.DisableAutoCompaction
	opts.ReadCacheSize = c.ReadCacheSize
	return opts
}

// Marshal renders the configuration as YAML
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
