package config

import (
	"time"

	"github.com/caarlos0/env/v11"

	dErrors "custodia/pkg/domain-errors"
)

// Config carries the tunables for the security subsystem. Hosts usually
// call Load once at startup and hand the values to the component
// constructors; every field has a safe default so an empty environment
// still yields a working configuration.
type Config struct {
	// Key vault
	VaultDir string `env:"CUSTODIA_VAULT_DIR" envDefault:".custodia/vault"`

	// Audit trail
	AuditFile      string        `env:"CUSTODIA_AUDIT_FILE" envDefault:".custodia/audit.dat"`
	FlushInterval  time.Duration `env:"CUSTODIA_FLUSH_INTERVAL" envDefault:"30s"`
	FlushThreshold int           `env:"CUSTODIA_FLUSH_THRESHOLD" envDefault:"50"`
	RetainedEvents int           `env:"CUSTODIA_RETAINED_EVENTS" envDefault:"1000"`
	RetentionDays  int           `env:"CUSTODIA_RETENTION_DAYS" envDefault:"365"`

	// Security monitoring
	HealthInterval    time.Duration `env:"CUSTODIA_HEALTH_INTERVAL" envDefault:"5m"`
	AlertCooldown     time.Duration `env:"CUSTODIA_ALERT_COOLDOWN" envDefault:"5m"`
	AnomalyWindow     time.Duration `env:"CUSTODIA_ANOMALY_WINDOW" envDefault:"1h"`
	FailedAuthLimit   int           `env:"CUSTODIA_FAILED_AUTH_LIMIT" envDefault:"5"`
	SuspiciousLimit   int           `env:"CUSTODIA_SUSPICIOUS_LIMIT" envDefault:"10"`
	ResourceRateLimit int           `env:"CUSTODIA_RESOURCE_RATE_LIMIT" envDefault:"50"`

	// Privacy
	PolicyVersion string `env:"CUSTODIA_POLICY_VERSION" envDefault:"1.0"`
}

// Load parses configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, dErrors.Wrap(err, dErrors.CodeValidation, "could not parse environment configuration")
	}
	if cfg.FlushThreshold <= 0 {
		return Config{}, dErrors.New(dErrors.CodeValidation, "flush threshold must be positive")
	}
	if cfg.FlushInterval <= 0 {
		return Config{}, dErrors.New(dErrors.CodeValidation, "flush interval must be positive")
	}
	return cfg, nil
}
