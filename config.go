package cfddns

import (
	"fmt"
	"math"
	"path/filepath"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/samber/lo"
	"github.com/spf13/viper"
)

// EnvAPIToken overrides auth.api_token when set.
const EnvAPIToken = "CFDDNS_API_TOKEN"

const placeholderToken = "your_api_token_here"

const (
	MinInterval = 30 * time.Second
	MaxInterval = 3600 * time.Second
)

var recordNameRE = regexp.MustCompile(`^(@|[A-Za-z0-9.*_-]+)$`)

// Config is the validated configuration of one zone.
// It is not modified after Load returns; a reload produces a new value.
type Config struct {
	Auth    Credentials    `mapstructure:"auth" yaml:"auth"`
	ZoneID  string         `mapstructure:"zone_id" yaml:"zone_id"`
	Records []RecordConfig `mapstructure:"records" yaml:"records"`
	IP      IPConfig       `mapstructure:"ip" yaml:"ip"`
}

// Credentials selects how the Cloudflare API is authenticated.
// api_token takes precedence over api_token_file, which takes precedence over api_key.
type Credentials struct {
	APIToken     string  `mapstructure:"api_token" yaml:"api_token,omitempty"`
	APITokenFile string  `mapstructure:"api_token_file" yaml:"api_token_file,omitempty"`
	APIKey       *APIKey `mapstructure:"api_key" yaml:"api_key,omitempty"`
}

// APIKey is a legacy global API key and the email of the account that owns it.
type APIKey struct {
	Key   string `mapstructure:"key" yaml:"key"`
	Email string `mapstructure:"email" yaml:"email"`
}

// Token returns the API token, reading it from api_token_file if necessary.
// It returns an empty string when the credentials use an API key.
func (a Credentials) Token() (string, error) {
	if t := strings.TrimSpace(a.APIToken); t != "" && t != placeholderToken {
		return t, nil
	}
	if a.APITokenFile != "" {
		t, err := ReadTokenFile(a.APITokenFile)
		if err != nil {
			return "", &ConfigError{Field: "auth.api_token_file", Msg: "unable to read token", Err: err}
		}
		return t, nil
	}
	return "", nil
}

func (a Credentials) hasToken() bool {
	t := strings.TrimSpace(a.APIToken)
	return (t != "" && t != placeholderToken) || a.APITokenFile != ""
}

type RecordConfig struct {
	Name    string `mapstructure:"name" yaml:"name"`
	Type    string `mapstructure:"type" yaml:"type,omitempty"`
	Proxied *bool  `mapstructure:"proxied" yaml:"proxied,omitempty"`
	TTL     TTL    `mapstructure:"ttl" yaml:"ttl,omitempty"`
}

// TTL is a record time to live in seconds.
// 1 means automatic and is written as "auto"; zero means keep the record's current TTL.
type TTL int

const TTLAuto TTL = 1

// ParseTTL accepts "auto", 1, or a number of seconds between 60 and 86400.
func ParseTTL(v any) (TTL, error) {
	var n int64
	switch v := v.(type) {
	case TTL:
		n = int64(v)
	case int:
		n = int64(v)
	case int64:
		n = v
	case uint64:
		if v > math.MaxInt32 {
			return 0, fmt.Errorf("ttl %d out of range", v)
		}
		n = int64(v)
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("ttl %v is not a whole number", v)
		}
		n = int64(v)
	case string:
		s := strings.TrimSpace(v)
		if strings.EqualFold(s, "auto") {
			return TTLAuto, nil
		}
		i, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("ttl %q must be \"auto\" or a number of seconds", v)
		}
		n = i
	default:
		return 0, fmt.Errorf("ttl has unsupported type %T", v)
	}
	if n == int64(TTLAuto) || (n >= 60 && n <= 86400) {
		return TTL(n), nil
	}
	return 0, fmt.Errorf("ttl %d must be \"auto\", 1, or between 60 and 86400", n)
}

func (t TTL) MarshalYAML() (any, error) {
	if t == TTLAuto {
		return "auto", nil
	}
	return int(t), nil
}

func (t TTL) String() string {
	if t == TTLAuto {
		return "auto"
	}
	return strconv.Itoa(int(t))
}

// IPConfig selects the resolver used when no static address is given.
// Interface takes precedence over URLs.
type IPConfig struct {
	URLs      []string      `mapstructure:"urls" yaml:"urls,omitempty"`
	Interface string        `mapstructure:"interface" yaml:"interface,omitempty"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`
}

// Load reads a YAML or JSON config file, chosen by extension, and validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		v.SetConfigType("json")
	default:
		v.SetConfigType("yaml")
	}
	if err := v.BindEnv("auth.api_token", EnvAPIToken); err != nil {
		return nil, &ConfigError{Msg: "unable to bind environment", Err: err}
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, &ConfigError{Msg: fmt.Sprintf("unable to read %s", path), Err: err}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := new(Config)
	err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		ttlHook,
		mapstructure.StringToTimeDurationHookFunc(),
	)), func(dc *mapstructure.DecoderConfig) {
		dc.ErrorUnused = true
	})
	if err != nil {
		return nil, &ConfigError{Msg: "unable to decode", Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func ttlHook(from, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(TTL(0)) {
		return data, nil
	}
	return ParseTTL(data)
}

// Validate checks the config and fills in defaults.
func (c *Config) Validate() error {
	switch {
	case c.Auth.hasToken():
	case c.Auth.APIKey != nil:
		if c.Auth.APIKey.Key == "" || c.Auth.APIKey.Email == "" {
			return configErr("auth.api_key", "both key and email are required")
		}
	default:
		return configErr("auth", "one of api_token, api_token_file or api_key is required")
	}

	c.ZoneID = strings.TrimSpace(c.ZoneID)
	if c.ZoneID == "" {
		return configErr("zone_id", "is required")
	}

	if len(c.Records) == 0 {
		return configErr("records", "at least one record is required")
	}
	for i := range c.Records {
		r := &c.Records[i]
		field := fmt.Sprintf("records[%d]", i)
		r.Name = strings.TrimSpace(r.Name)
		if r.Name == "" {
			return configErr(field+".name", "is required")
		}
		if !recordNameRE.MatchString(r.Name) {
			return configErr(field+".name", "%q contains invalid characters", r.Name)
		}
		r.Type = strings.ToUpper(strings.TrimSpace(r.Type))
		if r.Type != "" && r.Type != "A" && r.Type != "AAAA" {
			return configErr(field+".type", "%q must be A or AAAA", r.Type)
		}
		if r.TTL != 0 {
			if _, err := ParseTTL(r.TTL); err != nil {
				return &ConfigError{Field: field + ".ttl", Msg: "invalid ttl", Err: err}
			}
		}
	}
	if dups := lo.FindDuplicates(lo.Map(c.Records, func(r RecordConfig, _ int) string { return normalizeName(r.Name) })); len(dups) > 0 {
		return configErr("records", "duplicate record names: %s", strings.Join(dups, ", "))
	}

	if c.IP.Interface == "" && len(c.IP.URLs) == 0 {
		c.IP.URLs = []string{DefaultIPServiceURL}
	}
	if c.IP.Timeout < 0 {
		return configErr("ip.timeout", "must not be negative")
	}
	if c.IP.Timeout == 0 {
		c.IP.Timeout = defaultLookupTimeout
	}
	return nil
}

// Redacted returns a copy safe to print, with secrets replaced.
func (c Config) Redacted() Config {
	const mask = "REDACTED"
	if c.Auth.APIToken != "" {
		c.Auth.APIToken = mask
	}
	if c.Auth.APIKey != nil {
		k := *c.Auth.APIKey
		k.Key = mask
		c.Auth.APIKey = &k
	}
	c.Records = append([]RecordConfig(nil), c.Records...)
	return c
}

// ValidateInterval converts a polling interval in seconds, which must be between 30 and 3600 inclusive.
func ValidateInterval(seconds int) (time.Duration, error) {
	d := time.Duration(seconds) * time.Second
	if d < MinInterval || d > MaxInterval {
		return 0, &ConfigError{
			Field: "interval",
			Msg:   fmt.Sprintf("%d seconds is outside %d..%d", seconds, int(MinInterval.Seconds()), int(MaxInterval.Seconds())),
			Err:   ErrInvalidInterval,
		}
	}
	return d, nil
}

// ResolverFromConfig builds the resolver described by cfg.
func ResolverFromConfig(cfg IPConfig) (Resolver, error) {
	if cfg.Interface != "" {
		return InterfaceResolver(cfg.Interface), nil
	}
	urls := cfg.URLs
	if len(urls) == 0 {
		urls = []string{DefaultIPServiceURL}
	}
	wr, err := newWebResolver(cfg.Timeout, urls...)
	if err != nil {
		return nil, &ConfigError{Field: "ip.urls", Msg: "invalid URL", Err: err}
	}
	return wr, nil
}
