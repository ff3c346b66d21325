package utils

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/ryanhale/tracksync/internal/logger"
	"github.com/ryanhale/tracksync/pkg/file"
)

// Config represents the structure of the configuration file.
type Config struct {
	Agent struct {
		Version string `yaml:"version" validate:"required"` // Agent version, checked against the backend during pairing
	} `yaml:"agent"`

	Postgres struct {
		Host     string `yaml:"host" validate:"required"` // Document store host
		Port     int    `yaml:"port" validate:"required"` // Document store port
		User     string `yaml:"user" validate:"required"` // Database user
		Password string `yaml:"password"`                 // Database password (overridable via POSTGRES_PASSWORD)
		Database string `yaml:"database" validate:"required"`
		SSLMode  string `yaml:"ssl_mode"`
	} `yaml:"postgres"`

	Influx struct {
		Enabled      bool   `yaml:"enabled"`                                 // Enable append-only location history
		URL          string `yaml:"url" validate:"required_if=Enabled true"` // InfluxDB URL
		Token        string `yaml:"token"`                                   // API token (overridable via INFLUXDB_TOKEN)
		Organization string `yaml:"organization"`
		Bucket       string `yaml:"bucket"`
	} `yaml:"influx"`

	MQTT struct {
		Broker        string        `yaml:"broker" validate:"required"` // MQTT broker address
		ClientID      string        `yaml:"client_id"`                  // MQTT client ID, suffixed with a UUID at startup
		Username      string        `yaml:"username"`
		Password      string        `yaml:"password"` // Overridable via MQTT_PASSWORD
		CACertificate string        `yaml:"ca_certificate"`
		BaseTopic     string        `yaml:"base_topic" validate:"required"`
		QOS           int           `yaml:"qos" validate:"min=0,max=2"`
		KeepAlive     time.Duration `yaml:"keep_alive"`
		AutoReconnect bool          `yaml:"auto_reconnect"`
	} `yaml:"mqtt"`

	Logger logger.Config `yaml:"logger"`

	Identity struct {
		IdentityFile string `yaml:"identity_file" validate:"required"` // Path to the local identity file
	} `yaml:"identity"`

	Auth struct {
		Email    string `yaml:"email"`    // Credentials the agent authenticates with
		Password string `yaml:"password"` // Overridable via AUTH_PASSWORD
	} `yaml:"auth"`

	API struct {
		Enabled       bool   `yaml:"enabled"`
		ListenAddress string `yaml:"listen_address" validate:"required_if=Enabled true"` // HTTP presentation boundary
	} `yaml:"api"`

	Services struct {
		Tracker struct {
			Enabled     bool          `yaml:"enabled"`
			Mode        string        `yaml:"mode" validate:"omitempty,oneof=one_shot continuous"` // Acquisition mode
			Source      string        `yaml:"source" validate:"omitempty,oneof=serial google mqtt"`
			Accuracy    string        `yaml:"accuracy" validate:"omitempty,oneof=coarse balanced high"`
			MinInterval time.Duration `yaml:"min_interval"` // Minimum time between continuous reports
			MinDistance float64       `yaml:"min_distance"` // Minimum distance in meters between continuous reports

			GPSDevicePort     string `yaml:"gps_device_port"` // Serial source: device node
			GPSDeviceBaudRate int    `yaml:"gps_baud_rate"`   // Serial source: baud rate
			MapsAPIKey        string `yaml:"maps_api_key"`    // Google source: API key (overridable via MAPS_API_KEY)
		} `yaml:"tracker"`

		Mirror struct {
			Enabled bool `yaml:"enabled"` // Republish location changes to MQTT
			QOS     int  `yaml:"qos" validate:"min=0,max=2"`
		} `yaml:"mirror"`

		Metrics struct {
			Enabled  bool          `yaml:"enabled"`
			Interval time.Duration `yaml:"interval"` // Interval between health reports
			QOS      int           `yaml:"qos" validate:"min=0,max=2"`
		} `yaml:"metrics"`
	} `yaml:"services"`
}

// PostgresDSN builds the connection string for the document store.
func (c *Config) PostgresDSN() string {
	sslMode := c.Postgres.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		c.Postgres.Host, c.Postgres.Port, c.Postgres.User,
		c.Postgres.Password, c.Postgres.Database, sslMode,
	)
}

// LoadConfig loads the YAML configuration from the specified file, overlays
// secrets from the environment (a .env file is honoured when present) and
// validates the result.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	_ = godotenv.Load()

	var config Config
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, err
	}

	overlayEnv(&config)

	if err := validator.New().Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

// overlayEnv lets secrets stay out of the config file.
func overlayEnv(config *Config) {
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		config.Postgres.Password = v
	}
	if v := os.Getenv("INFLUXDB_TOKEN"); v != "" {
		config.Influx.Token = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		config.MQTT.Password = v
	}
	if v := os.Getenv("MAPS_API_KEY"); v != "" {
		config.Services.Tracker.MapsAPIKey = v
	}
	if v := os.Getenv("AUTH_PASSWORD"); v != "" {
		config.Auth.Password = v
	}
}
