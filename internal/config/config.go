package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Chrome   ChromeConfig
	Vision   VisionConfig
	Share    ShareConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Mode         string
	ReadTimeout  int
	WriteTimeout int
}

type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Charset  string
}

type ChromeConfig struct {
	ExecPath     string
	HeadlessMode bool
	WindowWidth  int
	WindowHeight int
	// CaptureWSURL is where the injected capture script connects back to.
	// Derived from the server address when unset.
	CaptureWSURL string
}

// VisionConfig points at the AI collaborator used for element location and
// action descriptions. An empty endpoint disables the feature.
type VisionConfig struct {
	Endpoint string
	APIKey   string
}

// ShareConfig points at the automation sharing service. An empty endpoint
// disables sharing.
type ShareConfig struct {
	Endpoint string
	APIKey   string
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: .env not loaded: %v", err)
	}

	config := &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Mode:         getEnv("SERVER_MODE", "debug"),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 30),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "127.0.0.1"),
			Port:     getEnv("DB_PORT", "3306"),
			Username: getEnv("DB_USERNAME", "root"),
			Password: getEnv("DB_PASSWORD", "root"),
			Database: getEnv("DB_NAME", "webpilot"),
			Charset:  getEnv("DB_CHARSET", "utf8mb4"),
		},
		Chrome: ChromeConfig{
			ExecPath:     getEnv("CHROME_PATH", ""),
			HeadlessMode: getEnvAsBool("CHROME_HEADLESS", false),
			WindowWidth:  getEnvAsInt("CHROME_WINDOW_WIDTH", 1280),
			WindowHeight: getEnvAsInt("CHROME_WINDOW_HEIGHT", 800),
			CaptureWSURL: getEnv("CAPTURE_WS_URL", ""),
		},
		Vision: VisionConfig{
			Endpoint: getEnv("VISION_ENDPOINT", ""),
			APIKey:   getEnv("VISION_API_KEY", ""),
		},
		Share: ShareConfig{
			Endpoint: getEnv("SHARE_ENDPOINT", ""),
			APIKey:   getEnv("SHARE_API_KEY", ""),
		},
	}

	if config.Chrome.CaptureWSURL == "" {
		host := config.Server.Host
		if host == "" || host == "0.0.0.0" {
			host = "127.0.0.1"
		}
		config.Chrome.CaptureWSURL = fmt.Sprintf("ws://%s:%s/api/v1/ws/recording", host, config.Server.Port)
	}

	return config, nil
}

func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=%s&parseTime=True&loc=Local",
		c.Database.Username,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.Charset,
	)
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

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
