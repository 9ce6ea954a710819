package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

type AppConfig struct {
	Port     string
	Env      string
	Timezone string
	DBPath   string
	Store    string

	TxMaxAttempts   int
	TelemetryWindow int
	SharedSensorID  string
	BandsPath       string

	MQTTBroker   string
	MQTTTopic    string
	MQTTClientID string

	EnableDevLogin bool
}

// Location resolves Timezone, which Load has already validated.
func (c AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c AppConfig) Production() bool { return c.Env == "production" }

// Load reads optional .env files, then the process environment. Variables
// already set in the environment win over the files.
func Load(files ...string) (AppConfig, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return AppConfig{}, fmt.Errorf("config: load env file: %w", err)
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds the config from lookup, applying defaults and validating.
func FromLookup(lookup func(string) (string, bool)) (AppConfig, error) {
	get := func(k, def string) string {
		if v, ok := lookup(k); ok && v != "" {
			return v
		}
		return def
	}
	getInt := func(k string, def int) (int, error) {
		v := get(k, "")
		if v == "" {
			return def, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("config: %s must be a positive integer, got %q", k, v)
		}
		return n, nil
	}

	cfg := AppConfig{
		Port:           get("PORT", "8080"),
		Env:            get("APP_ENV", "development"),
		Timezone:       get("TZ", "Asia/Kolkata"),
		DBPath:         get("DB_PATH", "farmdash.db"),
		Store:          get("STORE_DRIVER", StoreSQLite),
		SharedSensorID: get("TELEMETRY_SHARED_SENSOR_ID", ""),
		BandsPath:      get("MOISTURE_BANDS_PATH", ""),
		MQTTBroker:     get("MQTT_BROKER", ""),
		MQTTTopic:      get("MQTT_TOPIC", "farmdash/readings"),
		MQTTClientID:   get("MQTT_CLIENT_ID", "farmdash-server"),
	}
	cfg.EnableDevLogin = get("ENABLE_DEV_LOGIN", strconv.FormatBool(!cfg.Production())) == "true"

	var err error
	if cfg.TxMaxAttempts, err = getInt("TX_MAX_ATTEMPTS", 5); err != nil {
		return cfg, err
	}
	if cfg.TelemetryWindow, err = getInt("TELEMETRY_WINDOW", 60); err != nil {
		return cfg, err
	}
	if cfg.Store != StoreSQLite && cfg.Store != StoreMemory {
		return cfg, fmt.Errorf("config: STORE_DRIVER must be %q or %q, got %q", StoreSQLite, StoreMemory, cfg.Store)
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return cfg, fmt.Errorf("config: TZ: %w", err)
	}
	return cfg, nil
}
