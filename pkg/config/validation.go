package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Log level normalization is handled in ApplyDefaults; validation accepts
// both upper and lower case levels.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if cfg.Content.RateLimit.Burst > 0 && cfg.Content.RateLimit.RequestsPerSecond == 0 {
		return fmt.Errorf("content.rate_limit: burst is set but requests_per_second is 0")
	}
	if cfg.Mirror.FetchRateLimit.Burst > 0 && cfg.Mirror.FetchRateLimit.RequestsPerSecond == 0 {
		return fmt.Errorf("mirror.fetch_rate_limit: burst is set but requests_per_second is 0")
	}

	if cfg.Server.Metrics.Enabled {
		if cfg.Server.Metrics.Port == cfg.Content.Port {
			return fmt.Errorf("server.metrics.port %d collides with content.port", cfg.Server.Metrics.Port)
		}
		if cfg.Server.Metrics.Port == cfg.Mirror.Port {
			return fmt.Errorf("server.metrics.port %d collides with mirror.port", cfg.Server.Metrics.Port)
		}
	}

	switch cfg.Mirror.Output.Type {
	case "filesystem":
		if p, _ := cfg.Mirror.Output.Filesystem["path"].(string); p == "" {
			return fmt.Errorf("mirror.output.filesystem.path is required")
		}
	case "s3":
		if b, _ := cfg.Mirror.Output.S3["bucket"].(string); b == "" {
			return fmt.Errorf("mirror.output.s3.bucket is required")
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
