package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable Load reads.
const EnvPrefix = "RULEFLOW"

// Merge policies accepted in Settings.MergePolicy.
const (
	MergeLast   = "last"
	MergeFields = "fields"
)

// Settings are the process-wide ruleflow settings.
type Settings struct {
	// EnforceConsents enables the consent filter on routing rules.
	EnforceConsents bool `mapstructure:"enforce_consents"`

	// PostponeDestinationSync defers destination delivery by this long.
	// Zero delivers immediately.
	PostponeDestinationSync time.Duration `mapstructure:"postpone_destination_sync" validate:"gte=0"`

	// DiagnosticsByRuleID keys diagnostics by rule id instead of rule name.
	DiagnosticsByRuleID bool `mapstructure:"diagnostics_by_rule_id"`

	// MergePolicy selects how concurrent workflow results are merged.
	MergePolicy string `mapstructure:"merge_policy" validate:"oneof=last fields"`

	// InstanceID identifies this process on deferred calls. Generated when
	// empty.
	InstanceID string `mapstructure:"instance_id"`

	Batch   BatchSettings   `mapstructure:"batch"`
	Logging LoggingSettings `mapstructure:"logging"`
	Metrics MetricsSettings `mapstructure:"metrics"`

	// Tracing installs a stdout span exporter.
	Tracing bool `mapstructure:"tracing"`

	// CatalogPath is the SQLite flow/resource catalog. Empty uses memory.
	CatalogPath string `mapstructure:"catalog_path"`
}

// BatchSettings configure destination batching.
type BatchSettings struct {
	MaxSize     int           `mapstructure:"max_size" validate:"gte=1"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"gte=0"`
}

// LoggingSettings configure the process logger.
type LoggingSettings struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// MetricsSettings select the metrics backend.
type MetricsSettings struct {
	Backend string `mapstructure:"backend" validate:"oneof=otel prometheus none"`
}

var settingsValidator = validator.New(validator.WithRequiredStructEnabled())

func setDefaults(v *viper.Viper) {
	v.SetDefault("enforce_consents", false)
	v.SetDefault("postpone_destination_sync", "0s")
	v.SetDefault("diagnostics_by_rule_id", false)
	v.SetDefault("merge_policy", MergeLast)
	v.SetDefault("instance_id", "")
	v.SetDefault("batch.max_size", 100)
	v.SetDefault("batch.idle_timeout", "5s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("metrics.backend", "none")
	v.SetDefault("tracing", false)
	v.SetDefault("catalog_path", "")
}

// Default returns the settings Load produces with no file and no
// environment.
func Default() *Settings {
	s, err := load(viper.New(), "")
	if err != nil {
		panic(fmt.Sprintf("config: defaults invalid: %v", err))
	}
	return s
}

// Load reads settings from path, the environment and defaults. An empty
// path searches ./ruleflow.{yaml,yml,json} and ./configs/ and tolerates a
// missing file; an explicit path must exist.
func Load(path string) (*Settings, error) {
	return load(viper.New(), path)
}

func load(v *viper.Viper, path string) (*Settings, error) {
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("ruleflow")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if s.InstanceID == "" {
		s.InstanceID = uuid.NewString()
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks field constraints.
func (s *Settings) Validate() error {
	if err := settingsValidator.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("invalid setting %s: failed %q (got %v)", f.Namespace(), f.Tag(), f.Value())
		}
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}

// SlogLevel maps Logging.Level to a slog level.
func (s *Settings) SlogLevel() slog.Level {
	switch s.Logging.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
