package manager

import (
	"errors"
	"fmt"
	"time"

	"github.com/adamwoolhether/xfer/session"
	"github.com/adamwoolhether/xfer/transfer"
)

// ErrInvalidConfig is returned for a configuration that fails validation.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the configuration shared by the three transport sessions.
type Config struct {
	TimeoutInterval        time.Duration       `yaml:"timeout_interval" validate:"gt=0"`
	MaxConnectionsPerHost  int                 `yaml:"max_connections_per_host" validate:"gte=1"`
	MaxDownloadConcurrency int                 `yaml:"max_download_concurrency" validate:"gte=1"`
	MaxUploadConcurrency   int                 `yaml:"max_upload_concurrency" validate:"gte=1"`
	AllowsMeteredAccess    bool                `yaml:"allows_metered_access"`
	CachePolicy            session.CachePolicy `yaml:"cache_policy" validate:"gte=0,lte=3"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		TimeoutInterval:        180 * time.Second,
		MaxConnectionsPerHost:  10,
		MaxDownloadConcurrency: 5,
		MaxUploadConcurrency:   1,
		AllowsMeteredAccess:    true,
		CachePolicy:            session.CacheUseProtocol,
	}
}

// Validate checks every field of c.
func (c Config) Validate() error {
	if err := check(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Settings returns the session settings of class.
func (c Config) Settings(class transfer.Class) session.Settings {
	s := session.Settings{
		MaxConnsPerHost: c.MaxConnectionsPerHost,
		Timeout:         c.TimeoutInterval,
		AllowsMetered:   c.AllowsMeteredAccess,
	}

	switch class {
	case transfer.ClassDownload:
		s.MaxConcurrency = c.MaxDownloadConcurrency
	case transfer.ClassUpload:
		s.MaxConcurrency = c.MaxUploadConcurrency
	case transfer.ClassRequest:
		s.MaxConcurrency = c.MaxConnectionsPerHost
		s.CachePolicy = c.CachePolicy
	}

	return s
}
