package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// DefaultPath is where the config file lives unless --config says otherwise.
const DefaultPath = "./visage.toml"

type Config struct {
	Owner      OwnerConfig
	System     SystemConfig
	Verify     VerifyConfig
	Camera     CameraConfig
	Controller ControllerConfig
	Resource   ResourceConfig
	Database   DatabaseConfig
	Log        LogConfig
}

type OwnerConfig struct {
	Name string
}

type SystemConfig struct {
	DataDir      string
	ImageDir     string
	FeaturesFile string
}

type VerifyConfig struct {
	Threshold          float64
	Engine             []string
	DetectionThreshold float64
	EngineTimeout      time.Duration
}

type CameraConfig struct {
	Device string
	Format string // empty picks the OS default
}

type ControllerConfig struct {
	Interval  time.Duration
	MissLimit int
}

type ResourceConfig struct {
	ActivePath string   // empty resolves the Chrome profile for this OS
	StatusFile string   // empty resolves ~/chrome_data_status.txt
	Processes  []string // empty picks the Chrome process names for this OS
}

type DatabaseConfig struct {
	URL string // PostgreSQL connection URL, empty disables the journal
}

type LogConfig struct {
	Level string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		System: SystemConfig{
			DataDir:      "./data",
			ImageDir:     "./data/imageDir",
			FeaturesFile: "./data/features.bin",
		},
		Verify: VerifyConfig{
			Threshold:          0.8,
			Engine:             []string{"python3", "-u", "python/engine.py"},
			DetectionThreshold: 0.9,
			EngineTimeout:      30 * time.Second,
		},
		Controller: ControllerConfig{
			Interval:  5 * time.Second,
			MissLimit: 5,
		},
		Log: LogConfig{Level: "info"},
	}
}

// fileConfig mirrors the TOML layout. Durations are strings ("5s").
type fileConfig struct {
	Owner struct {
		Name string `toml:"name"`
	} `toml:"owner"`
	System struct {
		DataDir      string `toml:"data_dir"`
		ImageDir     string `toml:"image_dir"`
		FeaturesFile string `toml:"features_file"`
	} `toml:"system"`
	Verify struct {
		Threshold          float64  `toml:"threshold"`
		Engine             []string `toml:"engine"`
		DetectionThreshold float64  `toml:"detection_threshold"`
		EngineTimeout      string   `toml:"engine_timeout"`
	} `toml:"verify"`
	Camera struct {
		Device string `toml:"device"`
		Format string `toml:"format"`
	} `toml:"camera"`
	Controller struct {
		Interval  string `toml:"interval"`
		MissLimit int    `toml:"miss_limit"`
	} `toml:"controller"`
	Resource struct {
		ActivePath string   `toml:"active_path"`
		StatusFile string   `toml:"status_file"`
		Processes  []string `toml:"processes"`
	} `toml:"resource"`
	Database struct {
		URL string `toml:"url"`
	} `toml:"database"`
	Log struct {
		Level string `toml:"level"`
	} `toml:"log"`
}

// Load reads path over the defaults and then applies environment overrides.
// A missing file is created with the defaults. A file that cannot be parsed is
// replaced by a fresh default file, once.
func Load(path string) (Config, error) {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()

	cfg, err := loadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := WriteDefault(path); err != nil {
			return Config{}, fmt.Errorf("create default config: %w", err)
		}
		cfg, err = loadFile(path)
	} else if err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			return Config{}, fmt.Errorf("%w (and could not remove it: %v)", err, rmErr)
		}
		if err := WriteDefault(path); err != nil {
			return Config{}, fmt.Errorf("recreate default config: %w", err)
		}
		cfg, err = loadFile(path)
	}
	if err != nil {
		return Config{}, err
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}

	if meta.IsDefined("owner", "name") {
		cfg.Owner.Name = strings.TrimSpace(raw.Owner.Name)
	}
	if meta.IsDefined("system", "data_dir") {
		cfg.System.DataDir = raw.System.DataDir
	}
	if meta.IsDefined("system", "image_dir") {
		cfg.System.ImageDir = raw.System.ImageDir
	}
	if meta.IsDefined("system", "features_file") {
		cfg.System.FeaturesFile = raw.System.FeaturesFile
	}
	if meta.IsDefined("verify", "threshold") {
		cfg.Verify.Threshold = raw.Verify.Threshold
	}
	if meta.IsDefined("verify", "engine") {
		cfg.Verify.Engine = raw.Verify.Engine
	}
	if meta.IsDefined("verify", "detection_threshold") {
		cfg.Verify.DetectionThreshold = raw.Verify.DetectionThreshold
	}
	if meta.IsDefined("verify", "engine_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Verify.EngineTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse verify.engine_timeout: %w", err)
		}
		cfg.Verify.EngineTimeout = d
	}
	if meta.IsDefined("camera", "device") {
		cfg.Camera.Device = raw.Camera.Device
	}
	if meta.IsDefined("camera", "format") {
		cfg.Camera.Format = raw.Camera.Format
	}
	if meta.IsDefined("controller", "interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Controller.Interval))
		if err != nil {
			return Config{}, fmt.Errorf("parse controller.interval: %w", err)
		}
		cfg.Controller.Interval = d
	}
	if meta.IsDefined("controller", "miss_limit") {
		cfg.Controller.MissLimit = raw.Controller.MissLimit
	}
	if meta.IsDefined("resource", "active_path") {
		cfg.Resource.ActivePath = raw.Resource.ActivePath
	}
	if meta.IsDefined("resource", "status_file") {
		cfg.Resource.StatusFile = raw.Resource.StatusFile
	}
	if meta.IsDefined("resource", "processes") {
		cfg.Resource.Processes = raw.Resource.Processes
	}
	if meta.IsDefined("database", "url") {
		cfg.Database.URL = raw.Database.URL
	}
	if meta.IsDefined("log", "level") {
		cfg.Log.Level = raw.Log.Level
	}
	return cfg, nil
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func applyEnv(cfg *Config) {
	cfg.Owner.Name = envString("VISAGE_OWNER", cfg.Owner.Name)
	cfg.Verify.Threshold = envFloat("VISAGE_THRESHOLD", cfg.Verify.Threshold)
	cfg.Camera.Device = envString("VISAGE_CAMERA", cfg.Camera.Device)
	cfg.Controller.Interval = envDuration("VISAGE_INTERVAL", cfg.Controller.Interval)
	cfg.Controller.MissLimit = envInt("VISAGE_MISS_LIMIT", cfg.Controller.MissLimit)
	cfg.Resource.ActivePath = envString("VISAGE_ACTIVE_PATH", cfg.Resource.ActivePath)
	cfg.Database.URL = envString("VISAGE_DATABASE_URL", cfg.Database.URL)
	if cfg.Database.URL == "" {
		cfg.Database.URL = postgresURLFromEnv()
	}
	cfg.Log.Level = envString("VISAGE_LOG_LEVEL", cfg.Log.Level)
}

// postgresURLFromEnv builds a connection string from the POSTGRES_* variables
// used by the docker-compose setup. Empty when POSTGRES_HOST is unset.
func postgresURLFromEnv() string {
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	port := envString("POSTGRES_PORT", "5432")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"),
		os.Getenv("POSTGRES_PASSWORD"),
		host, port,
		os.Getenv("POSTGRES_DB"),
	)
}

// Validate rejects values the controller cannot run with.
func (c Config) Validate() error {
	if c.Verify.Threshold <= 0 {
		return fmt.Errorf("verify.threshold must be > 0, got %v", c.Verify.Threshold)
	}
	if c.Controller.Interval <= 0 {
		return fmt.Errorf("controller.interval must be > 0, got %s", c.Controller.Interval)
	}
	if c.Controller.MissLimit < 1 {
		return fmt.Errorf("controller.miss_limit must be >= 1, got %d", c.Controller.MissLimit)
	}
	if len(c.Verify.Engine) == 0 {
		return errors.New("verify.engine must name a command")
	}
	return nil
}

// EnsureDirs creates the data and reference image directories.
func (c Config) EnsureDirs() error {
	for _, dir := range []string{c.System.DataDir, c.System.ImageDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// SetOwner rewrites the owner name in the file at path. Environment overrides
// are not written back.
func SetOwner(path, name string) error {
	cfg, err := loadFile(path)
	if err != nil {
		return err
	}
	cfg.Owner.Name = strings.TrimSpace(name)
	return Write(path, cfg)
}

// WriteDefault writes the default configuration to path.
func WriteDefault(path string) error {
	return Write(path, Default())
}

// Write serialises cfg as TOML.
func Write(path string, cfg Config) error {
	var raw fileConfig
	raw.Owner.Name = cfg.Owner.Name
	raw.System.DataDir = cfg.System.DataDir
	raw.System.ImageDir = cfg.System.ImageDir
	raw.System.FeaturesFile = cfg.System.FeaturesFile
	raw.Verify.Threshold = cfg.Verify.Threshold
	raw.Verify.Engine = cfg.Verify.Engine
	raw.Verify.DetectionThreshold = cfg.Verify.DetectionThreshold
	raw.Verify.EngineTimeout = cfg.Verify.EngineTimeout.String()
	raw.Camera.Device = cfg.Camera.Device
	raw.Camera.Format = cfg.Camera.Format
	raw.Controller.Interval = cfg.Controller.Interval.String()
	raw.Controller.MissLimit = cfg.Controller.MissLimit
	raw.Resource.ActivePath = cfg.Resource.ActivePath
	raw.Resource.StatusFile = cfg.Resource.StatusFile
	raw.Resource.Processes = cfg.Resource.Processes
	raw.Database.URL = cfg.Database.URL
	raw.Log.Level = cfg.Log.Level

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(raw); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
