package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
	// sector sizes are powers of two between 512 and 64 KiB
	_ = validate.RegisterValidation("sector", func(fl validator.FieldLevel) bool {
		n := fl.Field().Uint()
		return n >= 512 && n <= 64<<10 && n&(n-1) == 0
	})
}

// Validate checks cfg with struct tags and the rules tags cannot express
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	if cfg.Reader.ChunkSize%cfg.Reader.SectorSize != 0 {
		return fmt.Errorf("reader.chunk_size: %d is not a multiple of the sector size %d", cfg.Reader.ChunkSize, cfg.Reader.SectorSize)
	}
	if cfg.Scan.WindowSize%uint64(cfg.Reader.SectorSize) != 0 {
		return fmt.Errorf("scan.window_size: %d is not a multiple of the sector size %d", cfg.Scan.WindowSize, cfg.Reader.SectorSize)
	}
	if cfg.S3.Endpoint != "" && cfg.S3.Bucket == "" {
		return errors.New("s3: bucket is required when an endpoint is set")
	}
	if (cfg.S3.AccessKey == "") != (cfg.S3.SecretKey == "") {
		return errors.New("s3: access_key and secret_key must be set together")
	}
	return nil
}

// formatValidationError reports the first failed field
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
