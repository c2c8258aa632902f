package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

//go:embed config.yml
var embeddedConfig []byte

// JWTConfig carries token signing material and lifetimes. The two secrets are
// never read from the config file: they must come from the environment
// (JWT_SECRET / JWT_REFRESH_SECRET) and startup fails when either is missing.
type JWTConfig struct {
	SecretKey        string
	RefreshSecretKey string
	Issuer           string        `mapstructure:"issuer"`
	Audience         string        `mapstructure:"audience"`
	AccessTokenTTL   time.Duration `mapstructure:"accessTokenTTL"`
	RefreshTokenTTL  time.Duration `mapstructure:"refreshTokenTTL"`
}

// BreakglassConfig describes the reserved identity that stays usable when the
// database is unreachable. It is seeded into storage at startup when possible.
type BreakglassConfig struct {
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	Email       string `mapstructure:"email"`
	FirstName   string `mapstructure:"firstName"`
	LastName    string `mapstructure:"lastName"`
	Phone       string `mapstructure:"phone"`
	Department  string `mapstructure:"department"`
	Position    string `mapstructure:"position"`
	ProfileFile string `mapstructure:"profileFile"`
}

type AuthConfig struct {
	SessionCacheTTL time.Duration    `mapstructure:"sessionCacheTTL"`
	Breakglass      BreakglassConfig `mapstructure:"breakglass"`
	SeedDemoData    bool             `mapstructure:"seedDemoData"`
}

type Config struct {
	Mode     string `mapstructure:"mode"`
	Handlers struct {
		Prometheus struct {
			Port      string `mapstructure:"port"`
			CertFile  string `mapstructure:"certFile"`
			KeyFile   string `mapstructure:"keyFile"`
			EnableTLS bool   `mapstructure:"enableTLS"`
		} `mapstructure:"prometheus"`
	} `mapstructure:"handlers"`
	Repositories struct {
		Postgres struct {
			Host              string `mapstructure:"host"`
			Password          string `mapstructure:"password"`
			Port              string `mapstructure:"port"`
			Username          string `mapstructure:"username"`
			DB                string `mapstructure:"db"`
			SSLMODE           string `mapstructure:"SSLMODE"`
			MAXCONWAITINGTIME int    `mapstructure:"MAXCONWAITINGTIME"`
		} `mapstructure:"postgres"`
	} `mapstructure:"repositories"`
	Server struct {
		HTTPPort string        `mapstructure:"HTTPPort"`
		Timeout  time.Duration `mapstructure:"HTTPTimeout"`
	} `mapstructure:"server"`
	JWT  JWTConfig  `mapstructure:"jwt"`
	Auth AuthConfig `mapstructure:"auth"`
}

func InitConfig() (Config, error) {
	var config Config
	v := viper.New()

	// Add file-based config paths
	v.AddConfigPath(".")
	v.AddConfigPath("config")
	v.AddConfigPath("/app/config")

	v.SetConfigName("config")
	v.SetConfigType("yml")

	// Try to load file-based config
	err := v.ReadInConfig()
	if err != nil {
		fmt.Printf("Warning: Failed to find file-based config: %s. Falling back to embedded config.\n", err)
		if err = v.ReadConfig(bytes.NewReader(embeddedConfig)); err != nil {
			return Config{}, fmt.Errorf("failed to read embedded config: %s", err)
		}
	}

	// Unmarshal the config into the Config struct
	if err = v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %s", err)
	}

	// Signing secrets come from the environment only, with no fallback value.
	config.JWT.SecretKey = os.Getenv("JWT_SECRET")
	config.JWT.RefreshSecretKey = os.Getenv("JWT_REFRESH_SECRET")
	if config.JWT.SecretKey == "" || config.JWT.RefreshSecretKey == "" {
		return Config{}, errors.New("JWT_SECRET and JWT_REFRESH_SECRET must be set")
	}
	if config.JWT.SecretKey == config.JWT.RefreshSecretKey {
		return Config{}, errors.New("JWT_SECRET and JWT_REFRESH_SECRET must differ")
	}

	if config.JWT.AccessTokenTTL <= 0 {
		config.JWT.AccessTokenTTL = 24 * time.Hour
	}
	if config.JWT.RefreshTokenTTL <= 0 {
		config.JWT.RefreshTokenTTL = 7 * 24 * time.Hour
	}

	return config, nil
}
