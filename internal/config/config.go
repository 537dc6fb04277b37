package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Store       StoreConfig       `yaml:"store"`
	Database    DatabaseConfig    `yaml:"database"`
	NATS        NATSConfig        `yaml:"nats"`
	MinIO       MinIOConfig       `yaml:"minio"`
	Vision      VisionConfig      `yaml:"vision"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Capture     CaptureConfig     `yaml:"capture"`
	Door        DoorConfig        `yaml:"door"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`

	// RecognizeRate limits recognition requests per second; zero disables the limiter.
	RecognizeRate  float64 `yaml:"recognize_rate"`
	RecognizeBurst int     `yaml:"recognize_burst"`
}

// StoreConfig selects where the identity store is persisted.
type StoreConfig struct {
	Backend  string `yaml:"backend"` // file or postgres
	Dir      string `yaml:"dir"`
	ImageDir string `yaml:"image_dir"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// Enabled reports whether a database host was configured.
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	// PublicURL is the base used to build image URLs; defaults to the endpoint.
	PublicURL string `yaml:"public_url"`
}

type VisionConfig struct {
	Backend            string        `yaml:"backend"` // onnx or remote
	ModelsDir          string        `yaml:"models_dir"`
	CascadePath        string        `yaml:"cascade_path"`
	DetectionThreshold float64       `yaml:"detection_threshold"`
	DefaultDetector    string        `yaml:"default_detector"`
	RemoteURL          string        `yaml:"remote_url"`
	RemoteTimeout      time.Duration `yaml:"remote_timeout"`
	TempDir            string        `yaml:"temp_dir"`
}

// ProfileConfig is one extraction profile (enrollment or recognition).
type ProfileConfig struct {
	Detector         string `yaml:"detector"`
	EnforceDetection bool   `yaml:"enforce_detection"`
	Align            bool   `yaml:"align"`
	Normalization    string `yaml:"normalization"`
}

type RecognitionConfig struct {
	Model         string  `yaml:"model"`
	Metric        string  `yaml:"metric"`
	MinConfidence float64 `yaml:"min_confidence"`
	TopN          int     `yaml:"top_n"`
	// Thresholds overrides the built-in table: model -> metric -> threshold.
	Thresholds  map[string]map[string]float64 `yaml:"thresholds"`
	Enrollment  ProfileConfig                 `yaml:"enrollment"`
	Recognition ProfileConfig                 `yaml:"recognition"`
}

type CaptureConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// DoorConfig configures the door agent (cmd/door).
type DoorConfig struct {
	DeviceID      string        `yaml:"device_id"`
	MetricsPort   int           `yaml:"metrics_port"`
	OpenDuration  time.Duration `yaml:"open_duration"`
	MaxCommandAge time.Duration `yaml:"max_command_age"`
	// Hook is an optional executable run with the command id and name to
	// drive the lock hardware.
	Hook string `yaml:"hook"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies .env and environment variable overrides.
// A missing config file is not an error; defaults and the environment still apply.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "file", "postgres":
	default:
		return fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend)
	}
	if c.Store.Backend == "postgres" && !c.Database.Enabled() {
		return fmt.Errorf("store.backend postgres requires database.host")
	}
	switch c.Vision.Backend {
	case "onnx", "remote":
	default:
		return fmt.Errorf("vision.backend: unknown backend %q", c.Vision.Backend)
	}
	if c.Vision.Backend == "remote" && c.Vision.RemoteURL == "" {
		return fmt.Errorf("vision.backend remote requires vision.remote_url")
	}
	// The bundled ONNX models only produce ArcFace embeddings.
	if c.Vision.Backend == "onnx" && c.Recognition.Model != "ArcFace" {
		return fmt.Errorf("vision.backend onnx only serves model ArcFace, got %q", c.Recognition.Model)
	}
	switch c.Recognition.Metric {
	case "cosine", "euclidean", "euclidean_l2":
	default:
		return fmt.Errorf("recognition.metric: unknown metric %q", c.Recognition.Metric)
	}
	if c.Recognition.MinConfidence < 0 || c.Recognition.MinConfidence > 1 {
		return fmt.Errorf("recognition.min_confidence must be within [0, 1]")
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.RecognizeBurst == 0 {
		cfg.Server.RecognizeBurst = 5
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "file"
	}
	if cfg.Store.Dir == "" {
		cfg.Store.Dir = "data"
	}
	if cfg.Store.ImageDir == "" {
		cfg.Store.ImageDir = "data/faces"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "faces"
	}
	if cfg.Vision.Backend == "" {
		cfg.Vision.Backend = "onnx"
	}
	if cfg.Vision.ModelsDir == "" {
		cfg.Vision.ModelsDir = "models"
	}
	if cfg.Vision.CascadePath == "" {
		cfg.Vision.CascadePath = "haarcascade_frontalface_default.xml"
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.DefaultDetector == "" {
		cfg.Vision.DefaultDetector = "opencv"
	}
	if cfg.Vision.RemoteTimeout == 0 {
		cfg.Vision.RemoteTimeout = 30 * time.Second
	}
	if cfg.Recognition.Model == "" {
		cfg.Recognition.Model = "ArcFace"
	}
	if cfg.Recognition.Metric == "" {
		cfg.Recognition.Metric = "cosine"
	}
	if cfg.Recognition.TopN == 0 {
		cfg.Recognition.TopN = 3
	}
	if cfg.Recognition.Enrollment.Detector == "" {
		cfg.Recognition.Enrollment = ProfileConfig{
			Detector:         "retinaface",
			EnforceDetection: true,
			Align:            true,
			Normalization:    "base",
		}
	}
	if cfg.Recognition.Recognition.Detector == "" {
		cfg.Recognition.Recognition = ProfileConfig{
			Detector:         cfg.Vision.DefaultDetector,
			EnforceDetection: false,
			Align:            true,
			Normalization:    "base",
		}
	}
	if cfg.Recognition.Enrollment.Normalization == "" {
		cfg.Recognition.Enrollment.Normalization = "base"
	}
	if cfg.Recognition.Recognition.Normalization == "" {
		cfg.Recognition.Recognition.Normalization = "base"
	}
	if cfg.Capture.Timeout == 0 {
		cfg.Capture.Timeout = 10 * time.Second
	}
	if cfg.Door.DeviceID == "" {
		cfg.Door.DeviceID = "door-1"
	}
	if cfg.Door.MetricsPort == 0 {
		cfg.Door.MetricsPort = 8082
	}
	if cfg.Door.OpenDuration == 0 {
		cfg.Door.OpenDuration = 5 * time.Second
	}
	if cfg.Door.MaxCommandAge == 0 {
		cfg.Door.MaxCommandAge = 10 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FACEDOOR_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FACEDOOR_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("FACEDOOR_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("FACEDOOR_STORE_DIR"); v != "" {
		cfg.Store.Dir = v
	}
	if v := os.Getenv("FACEDOOR_IMAGE_DIR"); v != "" {
		cfg.Store.ImageDir = v
	}
	if v := os.Getenv("FACEDOOR_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("FACEDOOR_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("FACEDOOR_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("FACEDOOR_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("FACEDOOR_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("FACEDOOR_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FACEDOOR_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("FACEDOOR_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("FACEDOOR_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("FACEDOOR_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("FACEDOOR_VISION_BACKEND"); v != "" {
		cfg.Vision.Backend = v
	}
	if v := os.Getenv("FACEDOOR_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("FACEDOOR_REMOTE_URL"); v != "" {
		cfg.Vision.RemoteURL = v
	}
	if v := os.Getenv("FACEDOOR_MODEL"); v != "" {
		cfg.Recognition.Model = v
	}
	if v := os.Getenv("FACEDOOR_METRIC"); v != "" {
		cfg.Recognition.Metric = v
	}
	if v := os.Getenv("FACEDOOR_CAMERA_URL"); v != "" {
		cfg.Capture.URL = v
	}
	if v := os.Getenv("FACEDOOR_DOOR_DEVICE_ID"); v != "" {
		cfg.Door.DeviceID = v
	}
	if v := os.Getenv("FACEDOOR_DOOR_HOOK"); v != "" {
		cfg.Door.Hook = v
	}
	if v := os.Getenv("FACEDOOR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
