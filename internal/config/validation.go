package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/go-playground/validator/v10"

	appErrors "toaupdate/internal/errors"
)

var validate = validator.New()

// Validate checks struct tags and the rules tags cannot express. Failures
// carry CodeConfigurationError.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return appErrors.New(appErrors.CodeConfigurationError, "invalid configuration", formatValidationError(err))
	}
	if err := validateCustomRules(cfg); err != nil {
		return appErrors.New(appErrors.CodeConfigurationError, "invalid configuration", err)
	}
	return nil
}

func validateCustomRules(cfg *Config) error {
	if !filepath.IsAbs(cfg.InstallDir) {
		return fmt.Errorf("install_dir: %q must be absolute", cfg.InstallDir)
	}
	if filepath.IsAbs(cfg.DataDir) || !filepath.IsLocal(cfg.DataDir) {
		return fmt.Errorf("data_dir: %q must be a relative path inside install_dir", cfg.DataDir)
	}

	switch cfg.Source.Type {
	case "s3":
		if cfg.Source.S3.Bucket == "" {
			return fmt.Errorf("source.s3.bucket: required when source.type is s3")
		}
		if (cfg.Source.S3.AccessKeyID == "") != (cfg.Source.S3.SecretAccessKey == "") {
			return fmt.Errorf("source.s3: access_key_id and secret_access_key must be set together")
		}
	case "http":
		if cfg.Repository.RawURL == "" && (cfg.Repository.Owner == "" || cfg.Repository.Name == "") {
			return fmt.Errorf("repository: owner and name are required without raw_url")
		}
	}

	for _, c := range cfg.Categories.Code {
		if slices.Contains(cfg.Categories.Assets, c) {
			return fmt.Errorf("categories: %q cannot be both code and assets", c)
		}
	}
	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
