// Package config carrega a configuração do gateway: defaults, arquivo YAML,
// variáveis de ambiente FRONTEIRA_* e validação, nessa ordem.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cyph3rk/fronteira/internal/logger"
	"github.com/cyph3rk/fronteira/middleware/ratelimit/domain"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix é o prefixo das variáveis de ambiente. O nome segue o caminho do
// campo: FRONTEIRA_RATELIMIT_GLOBAL_MAX, FRONTEIRA_SERVER_UPSTREAM_URL, ...
const EnvPrefix = "FRONTEIRA"

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         logger.Config     `yaml:"log"`
	RateLimit   RateLimitConfig   `yaml:"ratelimit"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Stats       StatsConfig       `yaml:"stats"`
	Redis       RedisConfig       `yaml:"redis"`
	CORS        CORSConfig        `yaml:"cors"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

type ServerConfig struct {
	Addr              string        `yaml:"addr" validate:"required"`
	UpstreamURL       string        `yaml:"upstream_url" split_words:"true" validate:"required,url"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" split_words:"true" validate:"gt=0"`
	ReadTimeout       time.Duration `yaml:"read_timeout" split_words:"true" validate:"gte=0"`
	WriteTimeout      time.Duration `yaml:"write_timeout" split_words:"true" validate:"gte=0"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" split_words:"true" validate:"gte=0"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" split_words:"true" validate:"gt=0"`
	// DebugEndpoints expõe /debug/ratelimit/stats.
	DebugEndpoints bool `yaml:"debug_endpoints" split_words:"true"`
}

type RateLimitConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Backend     string `yaml:"backend" validate:"oneof=memory redis"`
	Precedence  string `yaml:"precedence" validate:"oneof=override strictest"`
	FailureMode string `yaml:"failure_mode" split_words:"true" validate:"oneof=open closed"`
	// MaxKeys limita as chaves vivas por regra (0 = sem limite).
	MaxKeys      int           `yaml:"max_keys" split_words:"true" validate:"gte=0"`
	CleanupEvery time.Duration `yaml:"cleanup_every" split_words:"true" validate:"gte=0"`
	RedisPrefix  string        `yaml:"redis_prefix" split_words:"true"`

	KeyHeader    string `yaml:"key_header" split_words:"true"`
	TrustXFF     bool   `yaml:"trust_xff" split_words:"true"`
	TrustRealIP  bool   `yaml:"trust_real_ip" split_words:"true"`
	DebugHeaders bool   `yaml:"debug_headers" split_words:"true"`

	Identity IdentityConfig `yaml:"identity"`
	Global   GlobalRule     `yaml:"global"`
	Routes   []RuleConfig   `yaml:"routes" ignored:"true" validate:"dive"`
}

// GlobalRule é a regra padrão, aplicada a qualquer rota.
type GlobalRule struct {
	Enabled   bool          `yaml:"enabled"`
	Window    time.Duration `yaml:"window"`
	Max       int           `yaml:"max"`
	KeyBy     string        `yaml:"key_by" split_words:"true" validate:"omitempty,oneof=ip user"`
	Algorithm string        `yaml:"algorithm" validate:"omitempty,oneof=sliding_window token_bucket fixed_window"`
}

type RuleConfig struct {
	Name      string        `yaml:"name"`
	Route     string        `yaml:"route" validate:"required,route"`
	Window    time.Duration `yaml:"window"`
	Max       int           `yaml:"max"`
	KeyBy     string        `yaml:"key_by" validate:"omitempty,oneof=ip user"`
	Algorithm string        `yaml:"algorithm" validate:"omitempty,oneof=sliding_window token_bucket fixed_window"`
}

type IdentityConfig struct {
	Mode        string `yaml:"mode" validate:"oneof=none jwt header"`
	JWTSecret   string `yaml:"jwt_secret" split_words:"true" validate:"required_if=Mode jwt"`
	JWTIssuer   string `yaml:"jwt_issuer" split_words:"true"`
	JWTAudience string `yaml:"jwt_audience" split_words:"true"`
	Header      string `yaml:"header" validate:"required_if=Mode header"`
}

type ConcurrencyConfig struct {
	// Max = 0 desliga o limite.
	Max            int           `yaml:"max" validate:"gte=0"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout" split_words:"true" validate:"gte=0"`
}

type StatsConfig struct {
	Backend   string        `yaml:"backend" validate:"oneof=none memory redis"`
	TrackKeys bool          `yaml:"track_keys" split_words:"true"`
	Prefix    string        `yaml:"prefix"`
	TTL       time.Duration `yaml:"ttl" validate:"gte=0"`
	Bucket    string        `yaml:"bucket" validate:"oneof=minute none"`

	// MaxKeys limita as chaves contadas no backend memory (0 = sem limite).
	MaxKeys int `yaml:"max_keys" split_words:"true" validate:"gte=0"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" split_words:"true"`
	AllowedMethods []string `yaml:"allowed_methods" split_words:"true"`
	AllowedHeaders []string `yaml:"allowed_headers" split_words:"true"`
}

type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint" validate:"required_if=Enabled true"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name" split_words:"true"`
	SampleRatio float64 `yaml:"sample_ratio" split_words:"true" validate:"gte=0,lte=1"`
}

// Default retorna a configuração usada quando nada é informado.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       90 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Log: logger.Config{Level: "info", Format: "json"},
		RateLimit: RateLimitConfig{
			Enabled:      true,
			Backend:      "memory",
			Precedence:   "override",
			FailureMode:  "open",
			CleanupEvery: time.Minute,
			RedisPrefix:  "ratelimit:window",
			Identity:     IdentityConfig{Mode: "none"},
			Global: GlobalRule{
				Enabled: true,
				Window:  time.Minute,
				Max:     60,
			},
		},
		Concurrency: ConcurrencyConfig{Max: 100},
		Stats: StatsConfig{
			Backend: "memory",
			MaxKeys: 10000,
			Prefix:  "ratelimit:stats",
			TTL:     24 * time.Hour,
			Bucket:  "minute",
		},
		CORS: CORSConfig{
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-ID", "X-Request-ID"},
		},
		Telemetry: TelemetryConfig{ServiceName: "fronteira", SampleRatio: 1},
	}
}

// Load aplica defaults, o arquivo (se path != "") e o ambiente, e valida.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("route", func(fl validator.FieldLevel) bool {
		_, err := domain.ParseRoute(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate confere tags, dependências entre seções e as regras de rate limit.
// Todos os problemas são reportados juntos.
func (c *Config) Validate() error {
	var errs []error

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q", fieldPath(fe.Namespace()), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	if u, err := url.Parse(c.Server.UpstreamURL); err == nil && c.Server.UpstreamURL != "" {
		if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, fmt.Errorf("server.upstream_url: scheme must be http or https"))
		}
	}
	if c.Redis.Addr == "" && (c.RateLimit.Enabled && c.RateLimit.Backend == "redis" || c.Stats.Backend == "redis") {
		errs = append(errs, errors.New("redis.addr is required when a redis backend is selected"))
	}

	if c.RateLimit.Enabled {
		global, routes := c.RateLimit.Rules()
		if global != nil {
			if err := global.Validate(); err != nil {
				errs = append(errs, err)
			}
		}
		seen := make(map[string]bool, len(routes))
		for _, r := range routes {
			if err := r.Validate(); err != nil {
				errs = append(errs, err)
			}
			if seen[r.Name] {
				errs = append(errs, fmt.Errorf("%w: duplicate rule name %q", domain.ErrInvalidRule, r.Name))
			}
			seen[r.Name] = true
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// Rules converte a configuração em regras de domínio (com defaults aplicados).
// global é nil quando a regra global está desligada.
func (c RateLimitConfig) Rules() (global *domain.Rule, routes []domain.Rule) {
	if c.Global.Enabled {
		g := domain.Rule{
			Name:      domain.GlobalScope,
			Window:    c.Global.Window,
			Max:       c.Global.Max,
			KeyBy:     domain.KeyPolicy(c.Global.KeyBy),
			Algorithm: domain.Algorithm(c.Global.Algorithm),
		}.WithDefaults()
		global = &g
	}
	for _, rc := range c.Routes {
		routes = append(routes, domain.Rule{
			Name:      rc.Name,
			Route:     strings.TrimSpace(rc.Route),
			Window:    rc.Window,
			Max:       rc.Max,
			KeyBy:     domain.KeyPolicy(rc.KeyBy),
			Algorithm: domain.Algorithm(rc.Algorithm),
		}.WithDefaults())
	}
	return global, routes
}

// fieldPath transforma "Config.RateLimit.Global.Max" em "ratelimit.global.max".
func fieldPath(ns string) string {
	ns = strings.TrimPrefix(ns, "Config.")
	return strings.ToLower(ns)
}
