package gateway

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

type GatewayService struct {
	Name        string   `yaml:"name"`
	Host        string   `yaml:"host"`
	SchemaFiles []string `yaml:"schema_files"`
	// Timeout overrides timeout_duration for this service.
	Timeout string `yaml:"timeout,omitempty"`
}

type GatewayOption struct {
	Endpoint                    string               `yaml:"endpoint"`
	ServiceName                 string               `yaml:"service_name"`
	Port                        int                  `yaml:"port"`
	TimeoutDuration             string               `yaml:"timeout_duration"`
	EnableHangOverRequestHeader *bool                `yaml:"enable_hang_over_request_header"`
	Services                    []GatewayService     `yaml:"services"`
	Retry                       RetryOption          `yaml:"retry"`
	Authorization               AuthorizationSetting `yaml:"authorization"`
	Log                         LogSetting           `yaml:"log"`
	Metrics                     MetricsSetting       `yaml:"metrics"`
	Opentelemetry               OpentelemetrySetting `yaml:"opentelemetry"`
}

type OpentelemetrySetting struct {
	TracingSetting OpentelemetryTracingSetting `yaml:"tracing"`
}

type OpentelemetryTracingSetting struct {
	Enable bool `yaml:"enable"`
}

// AuthorizationSetting configures the built-in header role policy.
type AuthorizationSetting struct {
	Directive     string `yaml:"directive"`
	RoleHeader    string `yaml:"role_header"`
	RoleSeparator string `yaml:"role_separator"`
	RoleArgument  string `yaml:"role_argument"`
	DefaultRole   string `yaml:"default_role"`
}

type LogSetting struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

type MetricsSetting struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

// LoadOption reads a YAML config file and applies defaults.
func LoadOption(path string) (GatewayOption, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return GatewayOption{}, fmt.Errorf("failed to read config: %w", err)
	}

	var opt GatewayOption
	if err := yaml.Unmarshal(src, &opt); err != nil {
		return GatewayOption{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	opt.applyDefaults()

	if err := opt.Validate(); err != nil {
		return GatewayOption{}, err
	}
	return opt, nil
}

// DefaultOption is the configuration written by `init`.
func DefaultOption() GatewayOption {
	hangOver := true
	opt := GatewayOption{
		ServiceName:                 "auth-gateway",
		EnableHangOverRequestHeader: &hangOver,
		Services: []GatewayService{
			{Name: "users", Host: "http://localhost:4001/query"},
			{Name: "posts", Host: "http://localhost:4002/query", SchemaFiles: []string{"./schemas/posts.graphql"}},
		},
		Metrics: MetricsSetting{Enable: true},
	}
	opt.applyDefaults()
	return opt
}

func (o *GatewayOption) applyDefaults() {
	if o.Endpoint == "" {
		o.Endpoint = "/graphql"
	}
	if o.Port == 0 {
		o.Port = 8080
	}
	if o.TimeoutDuration == "" {
		o.TimeoutDuration = "5s"
	}
	if o.EnableHangOverRequestHeader == nil {
		v := true
		o.EnableHangOverRequestHeader = &v
	}
	if o.Retry.Attempts == 0 {
		o.Retry.Attempts = 3
	}
	if o.Retry.Timeout == "" {
		o.Retry.Timeout = "5s"
	}
	if o.Authorization.Directive == "" {
		o.Authorization.Directive = "auth"
	}
	if o.Authorization.RoleHeader == "" {
		o.Authorization.RoleHeader = "x-user"
	}
	if o.Authorization.RoleSeparator == "" {
		o.Authorization.RoleSeparator = ","
	}
	if o.Authorization.RoleArgument == "" {
		o.Authorization.RoleArgument = "requires"
	}
	if o.Log.Level == "" {
		o.Log.Level = "info"
	}
	if o.Log.Format == "" {
		o.Log.Format = "json"
	}
	if o.Metrics.Path == "" {
		o.Metrics.Path = "/metrics"
	}
}

// Validate reports configuration errors that would otherwise surface at request time.
func (o GatewayOption) Validate() error {
	if len(o.Services) == 0 {
		return fmt.Errorf("no services configured")
	}
	seen := make(map[string]bool, len(o.Services))
	for _, s := range o.Services {
		if s.Name == "" {
			return fmt.Errorf("service without name")
		}
		if seen[s.Name] {
			return fmt.Errorf("service %q is configured twice", s.Name)
		}
		seen[s.Name] = true
		if s.Timeout != "" {
			if _, err := time.ParseDuration(s.Timeout); err != nil {
				return fmt.Errorf("service %q: invalid timeout: %w", s.Name, err)
			}
		}
	}
	if _, err := time.ParseDuration(o.TimeoutDuration); err != nil {
		return fmt.Errorf("invalid timeout_duration: %w", err)
	}
	return nil
}

func (o GatewayOption) timeout() time.Duration {
	d, _ := time.ParseDuration(o.TimeoutDuration)
	return d
}

// Marshal renders the option as YAML.
func (o GatewayOption) Marshal() ([]byte, error) {
	return yaml.Marshal(o)
}
