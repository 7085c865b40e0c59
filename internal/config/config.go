package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Auth         AuthConfig         `yaml:"auth"`
	Registration RegistrationConfig `yaml:"registration"`
	Password     PasswordConfig     `yaml:"password"`
	Email        EmailConfig        `yaml:"email"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	BaseURL string `yaml:"base_url"`

	// TrustedProxies lists proxy IPs or CIDRs whose forwarding headers may
	// be believed when resolving the client address.
	TrustedProxies []string `yaml:"trusted_proxies"`

	// AllowedOrigins is the CORS allow-list. Loopback origins are always
	// accepted so local frontends work without configuration.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type AuthConfig struct {
	JWTSecret             string        `yaml:"jwt_secret"`
	AccessTokenTTL        time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL       time.Duration `yaml:"refresh_token_ttl"`
	RememberMeRefreshTTL  time.Duration `yaml:"remember_me_refresh_ttl"`
	ActivationTokenTTL    time.Duration `yaml:"activation_token_ttl"`
	PasswordResetTokenTTL time.Duration `yaml:"password_reset_token_ttl"`
	EmailChangeTokenTTL   time.Duration `yaml:"email_change_token_ttl"`
}

type RegistrationConfig struct {
	ResendCooldown time.Duration `yaml:"resend_cooldown"`
	ResendDailyCap int           `yaml:"resend_daily_cap"`
}

// PasswordConfig is the password policy. All enabled checks are independent
// and all must pass.
type PasswordConfig struct {
	MinLength        int  `yaml:"min_length"`
	RequireLowercase bool `yaml:"require_lowercase"`
	RequireUppercase bool `yaml:"require_uppercase"`
	RequireDigit     bool `yaml:"require_digit"`
	RequireSymbol    bool `yaml:"require_symbol"`
}

type EmailConfig struct {
	SMTP SMTPConfig `yaml:"smtp"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("IDENTITY_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("IDENTITY_SMTP_PASSWORD"); v != "" {
		c.Email.SMTP.Password = v
	}
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}
	if c.Email.SMTP.Host == "" {
		return fmt.Errorf("email.smtp.host is required")
	}
	if c.Email.SMTP.Port == 0 {
		return fmt.Errorf("email.smtp.port is required")
	}
	if c.Email.SMTP.From == "" {
		return fmt.Errorf("email.smtp.from is required")
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Name == "" {
		c.Server.Name = "Identity Server"
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = fmt.Sprintf("http://%s:%d", c.Server.Host, c.Server.Port)
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/identity.db"
	}
	if c.Auth.AccessTokenTTL == 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL == 0 {
		c.Auth.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if c.Auth.RememberMeRefreshTTL == 0 {
		c.Auth.RememberMeRefreshTTL = 30 * 24 * time.Hour
	}
	if c.Auth.ActivationTokenTTL == 0 {
		c.Auth.ActivationTokenTTL = 24 * time.Hour
	}
	if c.Auth.PasswordResetTokenTTL == 0 {
		c.Auth.PasswordResetTokenTTL = 1 * time.Hour
	}
	if c.Auth.EmailChangeTokenTTL == 0 {
		c.Auth.EmailChangeTokenTTL = 24 * time.Hour
	}
	if c.Registration.ResendCooldown == 0 {
		c.Registration.ResendCooldown = 60 * time.Second
	}
	if c.Registration.ResendDailyCap == 0 {
		c.Registration.ResendDailyCap = 5
	}
	if c.Password.MinLength == 0 {
		c.Password.MinLength = 8
	}
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
