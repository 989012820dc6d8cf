package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Detection service
	DetectionURL         string        `yaml:"detection_url"`
	DetectionHealthPath  string        `yaml:"detection_health_path"`
	DetectionDetectPath  string        `yaml:"detection_detect_path"`
	DetectionTimeout     time.Duration `yaml:"detection_timeout"`
	ConfidenceThreshold  float64       `yaml:"confidence_threshold"`
	MinInferenceInterval time.Duration `yaml:"min_inference_interval"`

	// Capture
	CaptureSource string        `yaml:"capture_source"` // "camera", "udp://host:port" or a sample image directory
	CameraDevice  int           `yaml:"camera_device"`
	FrameWidth    int           `yaml:"frame_width"`
	FrameHeight   int           `yaml:"frame_height"`
	FrameInterval time.Duration `yaml:"frame_interval"` // display refresh cadence
	JPEGQuality   int           `yaml:"jpeg_quality"`

	// Changed pixels needed before a live frame is sent to detection, 0 disables the gate
	MotionThreshold int `yaml:"motion_threshold"`

	// Map annotations
	DisplayDuration time.Duration `yaml:"display_duration"`
	FadeDuration    time.Duration `yaml:"fade_duration"`
	MapCenterLat    float64       `yaml:"map_center_lat"`
	MapCenterLon    float64       `yaml:"map_center_lon"`
	MapSpanLat      float64       `yaml:"map_span_lat"`
	MapSpanLon      float64       `yaml:"map_span_lon"`

	// Optional Kafka marker feed, disabled when no bootstrap servers are set
	KafkaBootstrapServers string `yaml:"kafka_bootstrap_servers"`
	KafkaTopic            string `yaml:"kafka_topic"`
	KafkaSecurityProtocol string `yaml:"kafka_security_protocol"`
	KafkaSASLMechanism    string `yaml:"kafka_sasl_mechanism"`
	KafkaSASLUsername     string `yaml:"kafka_sasl_username"`
	KafkaSASLPassword     string `yaml:"kafka_sasl_password"`

	HistoryLimit    int           `yaml:"history_limit"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	StaticDirectory string        `yaml:"static_dir"`
	LogDirectory    string        `yaml:"log_dir"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Mock drone server
	DemoHost          string        `yaml:"demo_host"`
	DemoPort          int           `yaml:"demo_port"`
	DemoPublicDir     string        `yaml:"demo_public_dir"`
	TelemetryInterval time.Duration `yaml:"telemetry_interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Host:                 "",
		Port:                 8080,
		DetectionURL:         "http://127.0.0.1:8000",
		DetectionHealthPath:  "/health",
		DetectionDetectPath:  "/detect",
		DetectionTimeout:     10 * time.Second,
		ConfidenceThreshold:  0.6,
		MinInferenceInterval: 200 * time.Millisecond,

		CaptureSource: "camera",
		CameraDevice:  0,
		FrameWidth:    640,
		FrameHeight:   480,
		FrameInterval: 33 * time.Millisecond,
		JPEGQuality:   80,

		MotionThreshold: 0,

		DisplayDuration: 5 * time.Second,
		FadeDuration:    500 * time.Millisecond,
		MapCenterLat:    18.2208, // Puerto Rico
		MapCenterLon:    -66.5901,
		MapSpanLat:      0.5,
		MapSpanLon:      1.0,

		KafkaTopic:            "droneaid-markers",
		KafkaSecurityProtocol: "PLAINTEXT",
		KafkaSASLMechanism:    "PLAIN",

		HistoryLimit:    50,
		AllowedOrigins:  []string{"*"},
		StaticDirectory: filepath.Join(".", "static"),
		LogDirectory:    filepath.Join(".", "logs"),
		ShutdownTimeout: 5 * time.Second,

		DemoHost:          "127.0.0.1",
		DemoPort:          5000,
		DemoPublicDir:     filepath.Join(".", "public"),
		TelemetryInterval: time.Second,
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// CONFIG_FILE, and finally environment variables (a .env file is read first
// when present).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Host = getEnv("HOST", c.Host)
	c.Port = getEnvAsInt("PORT", c.Port)

	c.DetectionURL = strings.TrimRight(getEnv("DETECTION_URL", c.DetectionURL), "/")
	c.DetectionHealthPath = getEnv("DETECTION_HEALTH_PATH", c.DetectionHealthPath)
	c.DetectionDetectPath = getEnv("DETECTION_DETECT_PATH", c.DetectionDetectPath)
	c.DetectionTimeout = getEnvAsDuration("DETECTION_TIMEOUT", c.DetectionTimeout)
	c.ConfidenceThreshold = getEnvAsFloat("CONFIDENCE_THRESHOLD", c.ConfidenceThreshold)
	c.MinInferenceInterval = getEnvAsDuration("MIN_INFERENCE_INTERVAL", c.MinInferenceInterval)

	c.CaptureSource = getEnv("CAPTURE_SOURCE", c.CaptureSource)
	c.CameraDevice = getEnvAsInt("CAMERA_DEVICE", c.CameraDevice)
	c.FrameWidth = getEnvAsInt("FRAME_WIDTH", c.FrameWidth)
	c.FrameHeight = getEnvAsInt("FRAME_HEIGHT", c.FrameHeight)
	c.FrameInterval = getEnvAsDuration("FRAME_INTERVAL", c.FrameInterval)
	c.JPEGQuality = getEnvAsInt("JPEG_QUALITY", c.JPEGQuality)
	c.MotionThreshold = getEnvAsInt("MOTION_THRESHOLD", c.MotionThreshold)

	c.DisplayDuration = getEnvAsDuration("DISPLAY_DURATION", c.DisplayDuration)
	c.FadeDuration = getEnvAsDuration("FADE_DURATION", c.FadeDuration)
	c.MapCenterLat = getEnvAsFloat("MAP_CENTER_LAT", c.MapCenterLat)
	c.MapCenterLon = getEnvAsFloat("MAP_CENTER_LON", c.MapCenterLon)
	c.MapSpanLat = getEnvAsFloat("MAP_SPAN_LAT", c.MapSpanLat)
	c.MapSpanLon = getEnvAsFloat("MAP_SPAN_LON", c.MapSpanLon)

	c.KafkaBootstrapServers = getEnv("KAFKA_BOOTSTRAP_SERVERS", c.KafkaBootstrapServers)
	c.KafkaTopic = getEnv("KAFKA_TOPIC", c.KafkaTopic)
	c.KafkaSecurityProtocol = getEnv("KAFKA_SECURITY_PROTOCOL", c.KafkaSecurityProtocol)
	c.KafkaSASLMechanism = getEnv("KAFKA_SASL_MECHANISM", c.KafkaSASLMechanism)
	c.KafkaSASLUsername = getEnv("KAFKA_SASL_USERNAME", c.KafkaSASLUsername)
	c.KafkaSASLPassword = getEnv("KAFKA_SASL_PASSWORD", c.KafkaSASLPassword)

	c.HistoryLimit = getEnvAsInt("HISTORY_LIMIT", c.HistoryLimit)
	c.AllowedOrigins = getEnvAsList("ALLOWED_ORIGINS", c.AllowedOrigins)
	c.StaticDirectory = getEnv("STATIC_DIR", c.StaticDirectory)
	c.LogDirectory = getEnv("LOG_DIR", c.LogDirectory)
	c.ShutdownTimeout = getEnvAsDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)

	c.DemoHost = getEnv("DEMO_HOST", c.DemoHost)
	c.DemoPort = getEnvAsInt("DEMO_PORT", c.DemoPort)
	c.DemoPublicDir = getEnv("DEMO_PUBLIC_DIR", c.DemoPublicDir)
	c.TelemetryInterval = getEnvAsDuration("TELEMETRY_INTERVAL", c.TelemetryInterval)
}

// Validate rejects values the services cannot run with.
func (c *Config) Validate() error {
	if math.IsNaN(c.ConfidenceThreshold) || c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be within [0,1], got %v", c.ConfidenceThreshold)
	}
	durations := map[string]time.Duration{
		"detection_timeout":  c.DetectionTimeout,
		"frame_interval":     c.FrameInterval,
		"display_duration":   c.DisplayDuration,
		"fade_duration":      c.FadeDuration,
		"telemetry_interval": c.TelemetryInterval,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, d)
		}
	}
	if c.MinInferenceInterval < 0 {
		return fmt.Errorf("min_inference_interval must not be negative, got %v", c.MinInferenceInterval)
	}
	if c.MotionThreshold < 0 {
		return fmt.Errorf("motion threshold must not be negative, got %d", c.MotionThreshold)
	}
	if c.MapSpanLat < 0 || c.MapSpanLon < 0 {
		return fmt.Errorf("map span must not be negative")
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("jpeg quality must be within [1,100], got %d", c.JPEGQuality)
	}
	return nil
}

// Addr is the dashboard listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DemoAddr is the mock drone listen address.
func (c *Config) DemoAddr() string {
	return fmt.Sprintf("%s:%d", c.DemoHost, c.DemoPort)
}

// KafkaEnabled reports whether the marker feed should be produced to Kafka.
func (c *Config) KafkaEnabled() bool {
	return c.KafkaBootstrapServers != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go duration strings ("250ms") or plain milliseconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
