package config

import (
	"fmt"
	"log"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config struct to hold the configuration
type Config struct {
	Port     string `envconfig:"PORT" default:"8080"`
	DataDir  string `envconfig:"DATA_DIR" default:"./data"`
	StoreDir string `envconfig:"STORE_DIR" default:"./store"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Account used for the interactive authentication fallback.
	AccountPhone    string `envconfig:"ACCOUNT_PHONE"`
	AccountPassword string `envconfig:"ACCOUNT_PASSWORD"`

	ConnectAttempts    int `envconfig:"CONNECT_ATTEMPTS" default:"5"`
	ConnectBaseDelayMs int `envconfig:"CONNECT_BASE_DELAY_MS" default:"1000"`
	MediaAttempts      int `envconfig:"MEDIA_ATTEMPTS" default:"3"`
	ProcessedSetSize   int `envconfig:"PROCESSED_SET_SIZE" default:"4096"`

	// BridgeAPIBaseURL is where the MCP server reaches the bridge for sends.
	BridgeAPIBaseURL string `envconfig:"BRIDGE_API_BASE_URL" default:"http://localhost:8080/api"`
}

// Load function to load the configuration from the environment variables
func Load() (Config, error) {
	err := godotenv.Load(".env")
	if err != nil {
		log.Println("No .env file found")
	}

	var c Config
	err = envconfig.Process("", &c)
	if err != nil {
		return Config{}, fmt.Errorf("unable to get envconfig: %w", err)
	}

	return c, nil
}
