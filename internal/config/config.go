package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"mysql-oss-backup/internal/errors"
)

const (
	defaultMySQLHost     = "localhost"
	defaultMySQLPort     = 3306
	defaultMysqldumpPath = "mysqldump"
	defaultOSSPrefix     = "mysql-backups/"
	defaultOSSRegion     = "auto"
	defaultKeepOSSDays   = 30
	defaultKeepLocalDays = 3
)

// Config holds everything one backup run needs. It is built once at startup
// from the process environment; no other code reads environment variables.
type Config struct {
	// MySQL settings
	MySQLHost     string
	MySQLPort     int
	MySQLUser     string
	MySQLPassword string
	Schema        string
	MysqldumpPath string

	// Object store settings
	OSSEndpoint        string
	OSSRegion          string
	OSSBucket          string
	OSSAccessKeyID     string
	OSSAccessKeySecret string
	OSSPrefix          string
	KeepOSSDays        int

	// Local staging (disabled when LocalBackupDir is empty)
	LocalBackupDir string
	KeepLocalDays  int

	// When true, artifact names carry an HHMMSS suffix so same-day reruns
	// produce distinct objects instead of overwriting.
	TimeSuffix bool

	// Logging
	LogLevel string
	LogFile  string
}

func Load() (*Config, error) {
	cfg := &Config{
		MySQLHost:     getEnv("MYSQL_HOST", defaultMySQLHost),
		MySQLUser:     getEnv("MYSQL_USER", ""),
		MySQLPassword: getEnv("MYSQL_PASSWORD", ""),
		Schema:        getEnv("MYSQL_DATABASE", ""),
		MysqldumpPath: getEnv("MYSQLDUMP_PATH", defaultMysqldumpPath),

		OSSEndpoint:        getEnv("OSS_ENDPOINT", ""),
		OSSRegion:          getEnv("OSS_REGION", defaultOSSRegion),
		OSSBucket:          getEnv("OSS_BUCKET", ""),
		OSSAccessKeyID:     getEnv("OSS_ACCESS_KEY_ID", ""),
		OSSAccessKeySecret: getEnv("OSS_ACCESS_KEY_SECRET", ""),
		OSSPrefix:          getEnv("OSS_PREFIX", defaultOSSPrefix),

		LocalBackupDir: getEnv("LOCAL_BACKUP_DIR", ""),

		TimeSuffix: getEnvBool("BACKUP_TIME_SUFFIX", false),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),
	}

	var err error
	if cfg.MySQLPort, err = getEnvInt("MYSQL_PORT", defaultMySQLPort); err != nil {
		return nil, err
	}
	if cfg.KeepOSSDays, err = getEnvInt("KEEP_OSS_DAYS", defaultKeepOSSDays); err != nil {
		return nil, err
	}
	if cfg.KeepLocalDays, err = getEnvInt("KEEP_LOCAL_DAYS", defaultKeepLocalDays); err != nil {
		return nil, err
	}

	// Objects live under "<prefix><name>", so a non-empty prefix always
	// ends in a slash.
	if cfg.OSSPrefix != "" && !strings.HasSuffix(cfg.OSSPrefix, "/") {
		cfg.OSSPrefix += "/"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate fails the run on the first missing or invalid value, before any
// side-effecting step starts.
func (c *Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"MYSQL_USER", c.MySQLUser},
		{"MYSQL_PASSWORD", c.MySQLPassword},
		{"MYSQL_DATABASE", c.Schema},
		{"OSS_ACCESS_KEY_ID", c.OSSAccessKeyID},
		{"OSS_ACCESS_KEY_SECRET", c.OSSAccessKeySecret},
		{"OSS_ENDPOINT", c.OSSEndpoint},
		{"OSS_BUCKET", c.OSSBucket},
	}
	for _, r := range required {
		if r.value == "" {
			return errors.NewConfigError(r.name, "is required")
		}
	}

	if c.MySQLPort < 1 || c.MySQLPort > 65535 {
		return errors.NewConfigError("MYSQL_PORT", fmt.Sprintf("must be a valid TCP port, got %d", c.MySQLPort))
	}
	if c.KeepOSSDays < 1 {
		return errors.NewConfigError("KEEP_OSS_DAYS", fmt.Sprintf("must be a positive integer, got %d", c.KeepOSSDays))
	}
	if c.LocalBackupDir != "" && c.KeepLocalDays < 1 {
		return errors.NewConfigError("KEEP_LOCAL_DAYS", fmt.Sprintf("must be a positive integer, got %d", c.KeepLocalDays))
	}

	return nil
}

// HasLocalStaging reports whether compressed artifacts are also kept in a
// local directory.
func (c *Config) HasLocalStaging() bool {
	return c.LocalBackupDir != ""
}

func getEnv(name, defaultVal string) string {
	val := strings.TrimSpace(os.Getenv(name))
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(name string, defaultVal int) (int, error) {
	val := strings.TrimSpace(os.Getenv(name))
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, errors.NewConfigError(name, fmt.Sprintf("must be an integer, got %q", val))
	}
	return i, nil
}

func getEnvBool(name string, defaultVal bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	if val == "" {
		return defaultVal
	}
	return val == "true" || val == "yes" || val == "1"
}
