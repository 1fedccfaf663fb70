package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"synthtrend/internal/indicator"
	"synthtrend/internal/model"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SYNTH_"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config holds the indengine configuration. Values come from an optional
// YAML file and are then overridden by SYNTH_* environment variables.
type Config struct {
	// Infrastructure
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	SQLitePath    string `yaml:"sqlite_path"`
	HTTPAddr      string `yaml:"http_addr"`
	LogLevel      string `yaml:"log_level"`

	// Stream consumption
	ConsumerGroup string `yaml:"consumer_group"`
	ConsumerName  string `yaml:"consumer_name"`

	// Snapshots
	SnapshotKey      string        `yaml:"snapshot_key"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`

	// Config reload channel (Redis PubSub)
	ReloadChannel string `yaml:"reload_channel"`

	Pairs []indicator.PairConfig `yaml:"pairs"`
}

// Default returns the built-in defaults. The consumer name gets a random
// suffix so parallel instances never share a PEL.
func Default() Config {
	return Config{
		RedisAddr:        "localhost:6379",
		SQLitePath:       "data/synth.db",
		HTTPAddr:         ":9095",
		LogLevel:         "info",
		ConsumerGroup:    "indengine",
		ConsumerName:     "indengine-" + uuid.NewString()[:8],
		SnapshotKey:      "synth:snapshot",
		SnapshotInterval: 30 * time.Second,
		ReloadChannel:    "config:synth",
	}
}

// Load reads path (skipped when empty or missing), applies environment
// overrides, fills pair defaults and validates.
func Load(path string) (*Config, error) {
	c := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &c); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	for i := range c.Pairs {
		c.Pairs[i] = c.Pairs[i].WithDefaults()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyEnv() error {
	c.RedisAddr = getEnv(EnvPrefix+"REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv(EnvPrefix+"REDIS_PASSWORD", c.RedisPassword)
	c.SQLitePath = getEnv(EnvPrefix+"SQLITE_PATH", c.SQLitePath)
	c.HTTPAddr = getEnv(EnvPrefix+"HTTP_ADDR", c.HTTPAddr)
	c.LogLevel = getEnv(EnvPrefix+"LOG_LEVEL", c.LogLevel)
	c.ConsumerGroup = getEnv(EnvPrefix+"CONSUMER_GROUP", c.ConsumerGroup)
	c.ConsumerName = getEnv(EnvPrefix+"CONSUMER_NAME", c.ConsumerName)
	c.SnapshotKey = getEnv(EnvPrefix+"SNAPSHOT_KEY", c.SnapshotKey)
	c.ReloadChannel = getEnv(EnvPrefix+"RELOAD_CHANNEL", c.ReloadChannel)

	var err error
	if v := os.Getenv(EnvPrefix + "REDIS_DB"); v != "" {
		n, perr := strconv.Atoi(v)
		if perr != nil {
			err = multierr.Append(err, fmt.Errorf("%w: %sREDIS_DB=%q", ErrInvalid, EnvPrefix, v))
		}
		c.RedisDB = n
	}
	if v := os.Getenv(EnvPrefix + "SNAPSHOT_INTERVAL"); v != "" {
		d, perr := time.ParseDuration(v)
		if perr != nil {
			err = multierr.Append(err, fmt.Errorf("%w: %sSNAPSHOT_INTERVAL=%q", ErrInvalid, EnvPrefix, v))
		}
		c.SnapshotInterval = d
	}
	if v := os.Getenv(EnvPrefix + "PAIRS"); v != "" {
		pairs, perr := ParsePairs(v)
		if perr != nil {
			err = multierr.Append(err, perr)
		}
		c.Pairs = pairs
	}
	return err
}

// Validate checks infrastructure settings and every pair.
func (c *Config) Validate() error {
	var err error
	if c.RedisAddr == "" {
		err = multierr.Append(err, fmt.Errorf("%w: redis_addr is empty", ErrInvalid))
	}
	if c.ConsumerGroup == "" || c.ConsumerName == "" {
		err = multierr.Append(err, fmt.Errorf("%w: consumer group and name are required", ErrInvalid))
	}
	if c.SnapshotInterval < time.Second {
		err = multierr.Append(err, fmt.Errorf("%w: snapshot_interval=%s below 1s", ErrInvalid, c.SnapshotInterval))
	}
	if len(c.Pairs) == 0 {
		err = multierr.Append(err, fmt.Errorf("%w: no pairs configured", ErrInvalid))
	}
	return multierr.Append(err, indicator.ValidateConfigs(c.Pairs))
}

// TFs returns the distinct timeframes used by the pairs, in config order.
func (c *Config) TFs() []int {
	seen := make(map[int]bool)
	var tfs []int
	for _, p := range c.Pairs {
		if !seen[p.TF] {
			seen[p.TF] = true
			tfs = append(tfs, p.TF)
		}
	}
	return tfs
}

// ParsePairs parses the compact pair list used by SYNTH_PAIRS:
//
//	NAME@TF=A_KEY/B_KEY:FORMULA:FA:FB:PRICE:PERIOD:FACTOR;...
//
// Everything after the source keys is optional and defaults per
// PairConfig.WithDefaults (formula defaults to sum, price type to median).
// The TF suffix on the name defaults to 60.
// Source keys contain a colon ("exchange:symbol"), so the settings part
// starts after the B key's symbol.
func ParsePairs(s string) ([]indicator.PairConfig, error) {
	var (
		out []indicator.PairConfig
		err error
	)
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		p, perr := parsePair(entry)
		if perr != nil {
			err = multierr.Append(err, fmt.Errorf("%w: pair %q: %v", ErrInvalid, entry, perr))
			continue
		}
		out = append(out, p)
	}
	return out, err
}

func parsePair(entry string) (indicator.PairConfig, error) {
	p := indicator.PairConfig{TF: 60, Formula: model.FormulaSum, PriceType: model.PriceMedian}

	name, rest, ok := strings.Cut(entry, "=")
	if !ok {
		return p, errors.New("missing '='")
	}
	if n, tf, ok := strings.Cut(name, "@"); ok {
		v, err := strconv.Atoi(tf)
		if err != nil {
			return p, fmt.Errorf("tf %q: %w", tf, err)
		}
		name, p.TF = n, v
	}
	p.Name = strings.TrimSpace(name)

	srcA, rest, ok := strings.Cut(rest, "/")
	if !ok {
		return p, errors.New("missing '/' between sources")
	}
	p.SourceA = strings.TrimSpace(srcA)

	// rest = exchange:symbol[:FORMULA:FA:FB:PRICE:PERIOD:FACTOR]
	parts := strings.Split(rest, ":")
	if len(parts) < 2 {
		return p, fmt.Errorf("source B %q is not exchange:symbol", rest)
	}
	p.SourceB = strings.TrimSpace(parts[0]) + ":" + strings.TrimSpace(parts[1])

	var err error
	opts := parts[2:]
	for i, v := range opts {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		switch i {
		case 0:
			p.Formula, err = model.ParseFormula(v)
		case 1:
			p.FactorA, err = strconv.ParseFloat(v, 64)
		case 2:
			p.FactorB, err = strconv.ParseFloat(v, 64)
		case 3:
			p.PriceType, err = model.ParsePriceType(v)
		case 4:
			p.ATRPeriod, err = strconv.Atoi(v)
		case 5:
			p.ATRFactor, err = strconv.ParseFloat(v, 64)
		default:
			err = fmt.Errorf("unexpected field %q", v)
		}
		if err != nil {
			return p, err
		}
	}
	return p.WithDefaults(), nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
