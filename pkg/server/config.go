package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/aeolun/ninechess/pkg/accounts"
	"github.com/aeolun/ninechess/pkg/logging"
	"github.com/aeolun/ninechess/pkg/mailer"
)

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server     ServerSection     `toml:"server"`
	Game       GameSection       `toml:"game"`
	Limits     LimitsSection     `toml:"limits"`
	Security   SecuritySection   `toml:"security"`
	ResetCodes ResetCodesSection `toml:"reset_codes"`
	SMTP       SMTPSection       `toml:"smtp"`
	Logging    LoggingSection    `toml:"logging"`
}

type ServerSection struct {
	TCPPort      int    `toml:"tcp_port"`
	HTTPPort     int    `toml:"http_port"` // 0 disables /health, /metrics and /ws
	DatabasePath string `toml:"database_path"`
}

type GameSection struct {
	// Pointer so an omitted key keeps the default of true.
	AllowPromotionChoice *bool `toml:"allow_promotion_choice"`
	CleanupDelayMs       int   `toml:"cleanup_delay_ms"`
}

type LimitsSection struct {
	MaxFrameSize            int `toml:"max_frame_size"`
	LoginAttemptsPerMinute  int `toml:"login_attempts_per_minute"`
	HandshakeTimeoutSeconds int `toml:"handshake_timeout_seconds"`
}

type SecuritySection struct {
	Pepper              string `toml:"pepper"`
	KDFIterations       int    `toml:"kdf_iterations"`
	BcryptCost          int    `toml:"bcrypt_cost"`
	ResetCodeTTLMinutes int    `toml:"reset_code_ttl_minutes"`
}

type ResetCodesSection struct {
	Backend   string `toml:"backend"` // "memory" or "redis"
	RedisAddr string `toml:"redis_addr"`
	RedisDB   int    `toml:"redis_db"`
	KeyPrefix string `toml:"key_prefix"`
}

// SMTPSection configures reset code delivery. An empty host logs codes
// instead of mailing them.
type SMTPSection struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	From     string `toml:"from"`
}

type LoggingSection struct {
	Level         string `toml:"level"`
	Format        string `toml:"format"`
	File          string `toml:"file"`
	IncludeCaller bool   `toml:"include_caller"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	allowPromotion := true
	return TOMLConfig{
		Server: ServerSection{
			TCPPort:      5555,
			HTTPPort:     9090,
			DatabasePath: "~/.ninechess/ninechess.db",
		},
		Game: GameSection{
			AllowPromotionChoice: &allowPromotion,
			CleanupDelayMs:       1000,
		},
		Limits: LimitsSection{
			MaxFrameSize:            1024 * 1024,
			LoginAttemptsPerMinute:  10,
			HandshakeTimeoutSeconds: 30,
		},
		Security: SecuritySection{
			KDFIterations:       100000,
			ResetCodeTTLMinutes: 10,
		},
		ResetCodes: ResetCodesSection{
			Backend:   "memory",
			RedisAddr: "localhost:6379",
			KeyPrefix: "ninechess:",
		},
		SMTP: SMTPSection{
			Port: 587,
		},
		Logging: LoggingSection{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates default if not found
func LoadConfig(path string) (TOMLConfig, error) {
	path, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path, config); err != nil {
			// Unwritable location; run on defaults anyway
			return config, nil
		}
		return config, nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	switch config.ResetCodes.Backend {
	case "", "memory", "redis":
	default:
		return TOMLConfig{}, fmt.Errorf("unknown reset_codes backend %q", config.ResetCodes.Backend)
	}

	return config, nil
}

// writeDefaultConfig writes the default config to a file
func writeDefaultConfig(path string, config TOMLConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# ninechess Server Configuration
# This file was auto-generated with default values
# Edit as needed and restart the server for changes to take effect

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ToServerConfig converts TOMLConfig to ServerConfig
func (c *TOMLConfig) ToServerConfig() ServerConfig {
	cfg := DefaultConfig()

	if c.Server.TCPPort != 0 {
		cfg.TCPPort = c.Server.TCPPort
	}

	if c.Server.HTTPPort != 0 {
		cfg.HTTPPort = c.Server.HTTPPort
	}

	if c.Game.AllowPromotionChoice != nil {
		cfg.AllowPromotionChoice = *c.Game.AllowPromotionChoice
	}

	if c.Game.CleanupDelayMs != 0 {
		cfg.CleanupDelay = time.Duration(c.Game.CleanupDelayMs) * time.Millisecond
	}

	if c.Limits.MaxFrameSize != 0 {
		cfg.MaxFrameSize = uint32(c.Limits.MaxFrameSize)
	}

	if c.Limits.LoginAttemptsPerMinute != 0 {
		cfg.LoginAttemptsPerMinute = c.Limits.LoginAttemptsPerMinute
	}

	if c.Limits.HandshakeTimeoutSeconds != 0 {
		cfg.HandshakeTimeout = time.Duration(c.Limits.HandshakeTimeoutSeconds) * time.Second
	}

	if c.Security.KDFIterations != 0 {
		cfg.KDFIterations = c.Security.KDFIterations
	}

	return cfg
}

// AccountsConfig returns the credential service settings.
func (c *TOMLConfig) AccountsConfig() accounts.Config {
	return accounts.Config{
		Pepper:       c.Security.Pepper,
		BcryptCost:   c.Security.BcryptCost,
		ResetCodeTTL: time.Duration(c.Security.ResetCodeTTLMinutes) * time.Minute,
	}
}

// SMTPConfig returns the relay settings, or false when mail is not configured.
func (c *TOMLConfig) SMTPConfig() (mailer.SMTPConfig, bool) {
	if strings.TrimSpace(c.SMTP.Host) == "" {
		return mailer.SMTPConfig{}, false
	}
	return mailer.SMTPConfig{
		Host:     c.SMTP.Host,
		Port:     c.SMTP.Port,
		Username: c.SMTP.Username,
		Password: c.SMTP.Password,
		From:     c.SMTP.From,
	}, true
}

// LoggingConfig returns the logger settings with ~ expanded in the file path.
func (c *TOMLConfig) LoggingConfig() (logging.Config, error) {
	file, err := expandHome(c.Logging.File)
	if err != nil {
		return logging.Config{}, err
	}
	return logging.Config{
		Level:         c.Logging.Level,
		Format:        c.Logging.Format,
		FilePath:      file,
		IncludeCaller: c.Logging.IncludeCaller,
	}, nil
}

// GetDatabasePath returns the database path with ~ expanded
func (c *TOMLConfig) GetDatabasePath() (string, error) {
	return expandHome(c.Server.DatabasePath)
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}
