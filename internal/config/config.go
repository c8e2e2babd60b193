// README: Config loader with env defaults for HTTP, Mongo, Redis, Maps, and matching settings.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type MatchingConfig struct {
	// MaxDistanceKm is the starting driver-to-pickup distance threshold.
	MaxDistanceKm float64
	// PerDriverCap bounds how many rides one driver may be offered per run.
	PerDriverCap int
	// PerRideCap bounds how many candidate drivers one ride is shown.
	PerRideCap int
}

type Config struct {
	HTTP struct {
		Addr string
	}
	Mongo struct {
		URI      string
		Database string
		User     string
		Password string
	}
	Redis struct {
		Addr string
	}
	Maps struct {
		APIKey string
	}
	Matching MatchingConfig
	LogLevel string
}

func Load() (Config, error) {
	// Pick up a .env file if one exists; real env always wins.
	godotenv.Load()

	var cfg Config
	cfg.HTTP.Addr = envOrDefault("ROUTESCC_HTTP_ADDR", ":8080")
	cfg.Mongo.URI = envOrDefault("ROUTESCC_MONGO_URI", "mongodb://localhost:27017")
	cfg.Mongo.Database = envOrDefault("ROUTESCC_MONGO_DB", "routescc")
	cfg.Mongo.User = os.Getenv("ROUTESCC_MONGO_USER")
	cfg.Mongo.Password = os.Getenv("ROUTESCC_MONGO_PASSWORD")
	cfg.Redis.Addr = envOrDefault("ROUTESCC_REDIS_ADDR", "localhost:6379")
	cfg.Maps.APIKey = os.Getenv("GOOGLE_MAPS_API_KEY")
	cfg.Matching.MaxDistanceKm = envOrDefaultFloat("ROUTESCC_MATCH_MAX_DIST_KM", 10)
	cfg.Matching.PerDriverCap = envOrDefaultInt("ROUTESCC_MATCH_PER_DRIVER_CAP", 200)
	cfg.Matching.PerRideCap = envOrDefaultInt("ROUTESCC_MATCH_PER_RIDE_CAP", 5)
	cfg.LogLevel = envOrDefault("ROUTESCC_LOG_LEVEL", "info")
	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}
