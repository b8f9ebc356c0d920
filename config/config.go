package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const defaultPath = "."

type Config struct {
	Env struct {
		Env         string `json:"env" yaml:"env"`
		ServiceName string `json:"serviceName" yaml:"serviceName"`
	} `json:"env" yaml:"env"`

	Log Log `json:"log" yaml:"log"`

	HTTP struct {
		Port               int           `json:"port" yaml:"port"`
		MaxRequestBodySize int64         `json:"maxRequestBodySize" yaml:"maxRequestBodySize"`
		RequestTimeout     time.Duration `json:"requestTimeout" yaml:"requestTimeout"`
		ShutdownTimeout    time.Duration `json:"shutdownTimeout" yaml:"shutdownTimeout"`
		Timeouts           struct {
			ReadTimeout       time.Duration `json:"readTimeout" yaml:"readTimeout"`
			ReadHeaderTimeout time.Duration `json:"readHeaderTimeout" yaml:"readHeaderTimeout"`
			WriteTimeout      time.Duration `json:"writeTimeout" yaml:"writeTimeout"`
			IdleTimeout       time.Duration `json:"idleTimeout" yaml:"idleTimeout"`
		} `json:"timeouts" yaml:"timeouts"`
	} `json:"http" yaml:"http"`

	Session SessionConfig `json:"session" yaml:"session"`

	Redis RedisConfig `json:"redis" yaml:"redis"`

	Catalog struct {
		DBPath string `json:"dbPath" yaml:"dbPath"`
	} `json:"catalog" yaml:"catalog"`

	Backend BackendConfig `json:"backend" yaml:"backend"`

	Checkout CheckoutConfig `json:"checkout" yaml:"checkout"`

	Kafka KafkaConfig `json:"kafka" yaml:"kafka"`
}

type Log struct {
	Pretty bool   `json:"pretty" yaml:"pretty"`
	Level  string `json:"level" yaml:"level"`
}

type SessionConfig struct {
	IdleTTL       time.Duration `json:"idleTTL" yaml:"idleTTL"`
	SweepInterval time.Duration `json:"sweepInterval" yaml:"sweepInterval"`
}

type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// BackendConfig addresses the gRPC service holding server carts and orders.
type BackendConfig struct {
	Addr        string        `json:"addr" yaml:"addr"`
	CallTimeout time.Duration `json:"callTimeout" yaml:"callTimeout"`
	Breaker     struct {
		ConsecutiveFailures uint32        `json:"consecutiveFailures" yaml:"consecutiveFailures"`
		OpenTimeout         time.Duration `json:"openTimeout" yaml:"openTimeout"`
		HalfOpenRequests    uint32        `json:"halfOpenRequests" yaml:"halfOpenRequests"`
	} `json:"breaker" yaml:"breaker"`
}

type CheckoutConfig struct {
	FreeShippingThreshold decimal.Decimal `json:"freeShippingThreshold" yaml:"freeShippingThreshold"`
	StandardShippingFee   decimal.Decimal `json:"standardShippingFee" yaml:"standardShippingFee"`
	Currency              string          `json:"currency" yaml:"currency"`
	SubmitTimeout         time.Duration   `json:"submitTimeout" yaml:"submitTimeout"`
}

type KafkaConfig struct {
	Enabled        bool          `json:"enabled" yaml:"enabled"`
	Brokers        []string      `json:"brokers" yaml:"brokers"`
	PublishTimeout time.Duration `json:"publishTimeout" yaml:"publishTimeout"`
}

// LoadWithEnv loads .yaml files through koanf.
func LoadWithEnv[T any](currEnv string, configPath ...string) (*T, error) {
	cfg := new(T)
	koanfInstance := koanf.New(".")

	// Build list of paths to search for config file
	searchPaths := []string{defaultPath}
	if len(configPath) != 0 {
		pwd, err := os.Getwd()
		if err != nil {
			return nil, errors.Wrap(err, "os.Getwd")
		}
		for _, path := range configPath {
			searchPaths = append(searchPaths, filepath.Join(pwd, path))
		}
	}

	var configFile string
	for _, path := range searchPaths {
		candidate := filepath.Join(path, currEnv+".yaml")
		if _, err := os.Stat(candidate); err == nil {
			configFile = candidate

			break
		}
	}

	if configFile == "" {
		return nil, errors.Errorf("config file %s.yaml not found in any search path", currEnv)
	}

	if err := koanfInstance.Load(file.Provider(configFile), yaml.Parser()); err != nil {
		return nil, errors.Wrapf(err, "read %s config failed", currEnv)
	}

	existingConfigMap := koanfInstance.Raw()

	// Environment overrides, e.g. CHECKOUT_FREESHIPPINGTHRESHOLD -> checkout.freeShippingThreshold
	if err := koanfInstance.Load(env.Provider(".", env.Opt{
		TransformFunc: func(k, v string) (string, any) {
			return canonicalizeEnvKey(k, existingConfigMap), v
		},
	}), nil); err != nil {
		return nil, errors.Wrap(err, "load env variables failed")
	}

	if err := koanfInstance.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				toDecimalHookFunc(),
			),
			MatchName: func(mapKey, fieldName string) bool {
				return strings.EqualFold(mapKey, fieldName)
			},
		},
	}); err != nil {
		return nil, errors.Wrapf(err, "unmarshal %s config failed", currEnv)
	}

	return cfg, nil
}

// New loads config.yaml from the usual locations and validates it.
func New() (*Config, error) {
	cfg, err := LoadWithEnv[Config]("config", "config", "../config", "../../config")
	if err != nil {
		return nil, err
	}

	if cfg.Session.SweepInterval <= 0 {
		cfg.Session.SweepInterval = cfg.Session.IdleTTL / 2
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Checkout.FreeShippingThreshold.IsNegative():
		return errors.New("checkout.freeShippingThreshold must not be negative")
	case c.Checkout.StandardShippingFee.IsNegative():
		return errors.New("checkout.standardShippingFee must not be negative")
	case strings.TrimSpace(c.Backend.Addr) == "":
		return errors.New("backend.addr is required")
	case c.Session.IdleTTL <= 0:
		return errors.New("session.idleTTL must be positive")
	case c.Kafka.Enabled && len(c.Kafka.Brokers) == 0:
		return errors.New("kafka.brokers is required when kafka is enabled")
	}
	return nil
}

// toDecimalHookFunc decodes yaml numbers and env strings into money amounts.
func toDecimalHookFunc() mapstructure.DecodeHookFuncType {
	decimalType := reflect.TypeOf(decimal.Decimal{})

	return func(_ reflect.Type, t reflect.Type, data any) (any, error) {
		if t != decimalType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			d, err := decimal.NewFromString(strings.TrimSpace(v))
			if err != nil {
				return nil, errors.Wrapf(err, "parse amount %q", v)
			}
			return d, nil
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		case float64:
			return decimal.NewFromFloat(v), nil
		}
		return data, nil
	}
}

func canonicalizeEnvKey(rawKey string, existing map[string]any) string {
	segments := strings.Split(strings.ToLower(rawKey), "_")
	canonical := make([]string, 0, len(segments))
	current := existing

	for _, segment := range segments {
		if segment == "" {
			continue
		}

		if matched, next, ok := findExistingSegment(current, segment); ok {
			canonical = append(canonical, matched)
			current = next
		} else {
			canonical = append(canonical, segment)
			current = nil
		}
	}

	return strings.Join(canonical, ".")
}

func findExistingSegment(current map[string]any, segment string) (matched string, next map[string]any, ok bool) {
	if len(current) == 0 {
		return "", nil, false
	}

	needle := normalizeToken(segment)
	for key, value := range current {
		if normalizeToken(key) != needle {
			continue
		}

		child, _ := value.(map[string]any)

		return key, child, true
	}

	return "", nil, false
}

func normalizeToken(s string) string {
	var normalized strings.Builder
	normalized.Grow(len(s))

	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		normalized.WriteRune(unicode.ToLower(r))
	}

	return normalized.String()
}
