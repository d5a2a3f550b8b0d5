package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// InitDB opens the postgres connection from environment variables.
func InitDB() *gorm.DB {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
			envOr("DB_HOST", "localhost"),
			envOr("DB_USER", "postgres"),
			os.Getenv("DB_PASSWORD"),
			envOr("DB_NAME", "reconciliation"),
			envOr("DB_PORT", "5432"),
		)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	return db
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// VerificationMode selects how a provider's webhooks are authenticated.
type VerificationMode string

const (
	ModeHMAC       VerificationMode = "hmac"
	ModeClientCert VerificationMode = "client_cert"
)

// ProviderCredentials holds per-tenant secret material for one provider.
type ProviderCredentials struct {
	Mode            VerificationMode `mapstructure:"mode"`
	Secret          string           `mapstructure:"secret"`
	SignatureHeader string           `mapstructure:"signature_header"`
	TrustedIssuers  []string         `mapstructure:"trusted_issuers"`
}

// TenantSettings carries the per-tenant knobs of the matching pipeline.
type TenantSettings struct {
	// Providers maps provider name (bank, card_processor) to credentials.
	Providers map[string]ProviderCredentials `mapstructure:"providers"`

	// AutoApplyThreshold enables fully automated mode when > 0: the top
	// proposal is applied without operator review at or above it.
	AutoApplyThreshold float64 `mapstructure:"auto_apply_threshold"`

	// OnExhausted decides where a transaction goes when its last pending
	// proposal is rejected: "unmatched" to re-score, "ignored" to park.
	OnExhausted string `mapstructure:"on_exhausted"`
}

// Settings is the engine configuration, loaded once at startup and passed
// explicitly to the components that need it.
type Settings struct {
	ConfidenceFloor   float64       `mapstructure:"confidence_floor"`
	FuzzyMaxDistance  int           `mapstructure:"fuzzy_max_distance"`
	LookBack          time.Duration `mapstructure:"look_back"`
	LookAhead         time.Duration `mapstructure:"look_ahead"`
	MaxMatchPasses    int           `mapstructure:"max_match_passes"`
	WriteBackAttempts int           `mapstructure:"write_back_attempts"`
	WriteBackTimeout  time.Duration `mapstructure:"write_back_timeout"`
	BillingBaseURL    string        `mapstructure:"billing_base_url"`
	BillingToken      string        `mapstructure:"billing_token"`

	Tenants map[string]TenantSettings `mapstructure:"tenants"`
}

// Tenant returns the settings for one tenant, falling back to zero-value
// defaults for tenants with no explicit entry.
func (s *Settings) Tenant(id string) TenantSettings {
	if t, ok := s.Tenants[id]; ok {
		return t
	}
	return TenantSettings{}
}

// Load reads settings from an optional config file plus RECON_* env
// overrides. A missing file is fine; env and defaults still apply.
func Load(path string) (*Settings, error) {
	v := viper.New()

	v.SetDefault("confidence_floor", 0.30)
	v.SetDefault("fuzzy_max_distance", 2)
	v.SetDefault("look_back", 90*24*time.Hour)
	v.SetDefault("look_ahead", 30*24*time.Hour)
	v.SetDefault("max_match_passes", 3)
	v.SetDefault("write_back_attempts", 3)
	v.SetDefault("write_back_timeout", 10*time.Second)

	v.SetEnvPrefix("RECON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
			log.WithField("path", path).Warn("config file not found, using defaults")
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &s, nil
}
