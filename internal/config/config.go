package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hperssn/trialclock/internal/domain"
)

const (
	StorageNone     = "none"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

type Config struct {
	Port      string `env:"PORT" envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`

	BackendURL     string        `env:"BACKEND_URL"`
	BackendToken   string        `env:"BACKEND_TOKEN"`
	BackendTimeout time.Duration `env:"BACKEND_TIMEOUT" envDefault:"10s"`

	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"none"`
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"trials.db"`
	DB            DBConfig

	NATSURL           string `env:"NATS_URL"`
	NATSStream        string `env:"NATS_STREAM" envDefault:"TRIAL_EVENTS"`
	NATSSubjectPrefix string `env:"NATS_SUBJECT_PREFIX" envDefault:"trial.events"`

	DisplayInterval time.Duration `env:"DISPLAY_INTERVAL" envDefault:"100ms"`
	StaleAfter      time.Duration `env:"STALE_AFTER" envDefault:"1h"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"5m"`
	StrictObstacles bool          `env:"STRICT_OBSTACLES" envDefault:"false"`
	CourseFile      string        `env:"COURSE_FILE"`

	AuthDisabled bool     `env:"AUTH_DISABLED" envDefault:"false"`
	JWTSecret    string   `env:"JWT_SECRET"`
	CORSOrigins  []string `env:"CORS_ORIGINS" envDefault:"*" envSeparator:","`
}

type DBConfig struct {
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     int    `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD"`
	Name     string `env:"DB_NAME" envDefault:"trialclock"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageNone, StorageSQLite, StoragePostgres:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		return fmt.Errorf("unknown LOG_FORMAT %q", c.LogFormat)
	}
	if c.StaleAfter <= 0 || c.CleanupInterval <= 0 {
		return errors.New("STALE_AFTER and CLEANUP_INTERVAL must be positive")
	}
	return nil
}

// LoadCourse returns the course described by the YAML file at path, or the
// default course when path is empty.
func LoadCourse(path string) (domain.Course, error) {
	if path == "" {
		return domain.DefaultCourse, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Course{}, fmt.Errorf("read course file: %w", err)
	}

	var course domain.Course
	if err := yaml.Unmarshal(data, &course); err != nil {
		return domain.Course{}, fmt.Errorf("parse course file %s: %w", path, err)
	}
	for i, o := range course.Obstacles {
		course.Obstacles[i] = strings.TrimSpace(o)
	}
	if err := course.Validate(); err != nil {
		return domain.Course{}, fmt.Errorf("invalid course file %s: %w", path, err)
	}
	return course, nil
}
