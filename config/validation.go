package config

import (
	"errors"
	"fmt"
	"mime"

	"github.com/go-playground/validator/v10"
	"github.com/ruteri/nexus-storage-gateway/storage"
)

var validate = validator.New()

// Validate checks struct tags and the rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	providers := storage.NewProviders(cfg.Remote.Providers)
	if _, err := providers.Lookup(cfg.Remote.DefaultProvider); err != nil {
		return fmt.Errorf("remote.default_provider: %w", err)
	}

	for _, mt := range cfg.Uploads.AllowedMimeTypes {
		if _, _, err := mime.ParseMediaType(mt); err != nil {
			return fmt.Errorf("uploads.allowed_mime_types: invalid media type %q: %w", mt, err)
		}
	}
	return nil
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
