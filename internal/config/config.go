// Package config loads server settings from a YAML file, a .env file and
// MAKHZAN_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/erazemk/makhzan/internal/model"
)

const envPrefix = "MAKHZAN_"

// Login controls failed-login lockout.
type Login struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Lockout     time.Duration `yaml:"lockout"`
	TokenTTL    time.Duration `yaml:"token_ttl"`
}

// Roster lists accounts created on first start.
type Roster struct {
	Instructors []string `yaml:"instructors"`
	Supervisors []string `yaml:"supervisors"`
}

// Photo storage drivers.
const (
	PhotosDB = "db"
	PhotosS3 = "s3"
)

// Photos selects where item photos are kept.
type Photos struct {
	Driver string `yaml:"driver"`
	S3     S3     `yaml:"s3"`
}

// S3 addresses an S3-compatible bucket. Credentials come from the usual
// AWS_* variables or shared config.
type S3 struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
	Prefix    string `yaml:"prefix"`
}

// Config is the full server configuration.
type Config struct {
	Addr                      string `yaml:"addr"`
	Database                  string `yaml:"database"`
	LogFile                   string `yaml:"log_file"`
	AdminUser                 string `yaml:"admin_user"`
	Locale                    string `yaml:"locale"`
	MaxImageDimension         int    `yaml:"max_image_dimension"`
	DefaultInstructorPassword string `yaml:"default_instructor_password"`
	Login                     Login  `yaml:"login"`
	Roster                    Roster `yaml:"roster"`
	Photos                    Photos `yaml:"photos"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:                      ":8080",
		Database:                  "makhzan.sqlite3",
		AdminUser:                 "Admin",
		Locale:                    "ar",
		MaxImageDimension:         800,
		DefaultInstructorPassword: "1234",
		Login: Login{
			MaxAttempts: 5,
			Lockout:     30 * time.Second,
			TokenTTL:    7 * 24 * time.Hour,
		},
		Photos: Photos{Driver: PhotosDB},
	}
}

// Load builds a Config from the defaults, the YAML file at path and the
// environment. envFiles are loaded into the environment first without
// overriding variables that are already set. Missing files are skipped.
func Load(path string, envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	cfg := Default()
	if path != "" {
		buf, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config: %w", err)
		default:
			if err := yaml.Unmarshal(buf, &cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = v
		}
	}
	str("ADDR", &c.Addr)
	str("DATABASE", &c.Database)
	str("LOG_FILE", &c.LogFile)
	str("ADMIN_USER", &c.AdminUser)
	str("LOCALE", &c.Locale)
	str("DEFAULT_INSTRUCTOR_PASSWORD", &c.DefaultInstructorPassword)
	str("PHOTOS_DRIVER", &c.Photos.Driver)
	str("S3_BUCKET", &c.Photos.S3.Bucket)
	str("S3_REGION", &c.Photos.S3.Region)
	str("S3_ENDPOINT", &c.Photos.S3.Endpoint)
	str("S3_PREFIX", &c.Photos.S3.Prefix)
	if v, ok := lookup(envPrefix + "S3_PATH_STYLE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sS3_PATH_STYLE: %w", envPrefix, err)
		}
		c.Photos.S3.PathStyle = b
	}

	if v, ok := lookup(envPrefix + "MAX_IMAGE_DIMENSION"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sMAX_IMAGE_DIMENSION: %w", envPrefix, err)
		}
		c.MaxImageDimension = n
	}
	if v, ok := lookup(envPrefix + "LOGIN_MAX_ATTEMPTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sLOGIN_MAX_ATTEMPTS: %w", envPrefix, err)
		}
		c.Login.MaxAttempts = n
	}
	for key, dst := range map[string]*time.Duration{
		"LOGIN_LOCKOUT": &c.Login.Lockout,
		"TOKEN_TTL":     &c.Login.TokenTTL,
	} {
		if v, ok := lookup(envPrefix + key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, key, err)
			}
			*dst = d
		}
	}
	if v, ok := lookup(envPrefix + "INSTRUCTORS"); ok {
		c.Roster.Instructors = splitList(v)
	}
	if v, ok := lookup(envPrefix + "SUPERVISORS"); ok {
		c.Roster.Supervisors = splitList(v)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if strings.TrimSpace(c.AdminUser) == "" {
		return fmt.Errorf("admin_user is required")
	}
	if _, err := c.Tag(); err != nil {
		return err
	}
	if c.MaxImageDimension <= 0 {
		return fmt.Errorf("max_image_dimension must be positive, got %d", c.MaxImageDimension)
	}
	if err := model.ValidatePassword(c.DefaultInstructorPassword); err != nil {
		return fmt.Errorf("default_instructor_password: %w", err)
	}
	if c.Login.MaxAttempts <= 0 {
		return fmt.Errorf("login.max_attempts must be positive, got %d", c.Login.MaxAttempts)
	}
	if c.Login.Lockout <= 0 || c.Login.TokenTTL <= 0 {
		return fmt.Errorf("login durations must be positive")
	}
	switch c.Photos.Driver {
	case PhotosDB:
	case PhotosS3:
		if c.Photos.S3.Bucket == "" {
			return fmt.Errorf("photos.s3.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("unknown photos.driver %q", c.Photos.Driver)
	}
	return nil
}

// Tag is the collation language for item names.
func (c *Config) Tag() (language.Tag, error) {
	tag, err := language.Parse(c.Locale)
	if err != nil {
		return language.Und, fmt.Errorf("locale %q: %w", c.Locale, err)
	}
	return tag, nil
}
