package utils

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/joho/godotenv"
)

// In-memory map of the environment variables the service cares about.
var envVars map[string]string
var once sync.Once

// ReloadEnvironmentVariables re-reads the .env file and rebuilds the map.
func ReloadEnvironmentVariables() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Utils: ReloadEnvironmentVariables: no .env file loaded: %v", err)
	}

	envVars = make(map[string]string)

	// Load the variables one by one under the name the rest of the code uses.
	envVars["SecretKey"] = os.Getenv("SECRET_KEY")
	envVars["PortServer"] = os.Getenv("EXP_PORT")
	envVars["NameServer"] = os.Getenv("NAME_SERVER")
	envVars["URIMongo"] = os.Getenv("MONGODB_URI")
	envVars["NameMongo"] = os.Getenv("NAME_MONGO")
	envVars["RedisAddr"] = os.Getenv("REDIS_ADDR")
	envVars["RedisPassword"] = os.Getenv("REDIS_PASSWORD")
	envVars["BrokerKind"] = os.Getenv("BROKER_KIND")
	envVars["NatsURL"] = os.Getenv("NATS_URL")
	envVars["KafkaBrokers"] = os.Getenv("KAFKA_BROKERS")
	envVars["FallbackQueuePath"] = os.Getenv("FALLBACK_QUEUE_PATH")
	envVars["AllowedOrigins"] = os.Getenv("ALLOWED_ORIGINS")
	envVars["GinMode"] = os.Getenv("GIN_MODE")
}

// LoadEnvironmentVariables loads the .env file once per process.
func LoadEnvironmentVariables() {
	once.Do(func() {
		ReloadEnvironmentVariables()
	})
}

// GetEnvVariable returns the value of a loaded environment variable.
func GetEnvVariable(name string) (string, error) {
	value, exists := envVars[name]
	if !exists || value == "" {
		return "", fmt.Errorf("the environment variable %s is not configured", name)
	}
	return value, nil
}
