// Package config loads the Lightspeed client configuration from the
// environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/lightspeed-client/pkg/auth"
	"github.com/Sternrassler/lightspeed-client/pkg/client"
	"github.com/Sternrassler/lightspeed-client/pkg/logging"
)

// Config holds the runtime configuration of a Lightspeed client process.
type Config struct {
	Client  client.Config
	Logging logging.Config

	// Token persistence, disabled when RedisAddr is empty
	RedisAddr     string // e.g. localhost:6379
	RedisDB       int
	RedisPassword string
}

// Load reads configuration from environment variables. Values from the
// given .env files (or ./.env when none is given) fill in variables that
// are not already set. A missing ./.env is not an error; a missing
// explicit file is.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	} else if err := godotenv.Load(files...); err != nil {
		return nil, fmt.Errorf("load env files: %w", err)
	}

	creds := auth.Credentials{
		ClientID:     GetEnv("LIGHTSPEED_CLIENT_ID", ""),
		ClientSecret: GetEnv("LIGHTSPEED_CLIENT_SECRET", ""),
		RefreshToken: GetEnv("LIGHTSPEED_REFRESH_TOKEN", ""),
		AccountID:    GetEnv("LIGHTSPEED_ACCOUNT_ID", ""),
	}

	cc := client.DefaultConfig(creds)
	cc.APIURL = GetEnv("LIGHTSPEED_API_URL", cc.APIURL)
	cc.TokenURL = GetEnv("LIGHTSPEED_TOKEN_URL", cc.TokenURL)
	cc.HTTPTimeout = GetEnvDuration("LIGHTSPEED_HTTP_TIMEOUT", cc.HTTPTimeout)
	cc.UserAgent = GetEnv("LIGHTSPEED_USER_AGENT", "")
	cc.Retry.MaxAttempts = GetEnvInt("LIGHTSPEED_MAX_ATTEMPTS", cc.Retry.MaxAttempts)
	cc.Retry.Cooldown = GetEnvDuration("LIGHTSPEED_RETRY_COOLDOWN", cc.Retry.Cooldown)
	cc.InitialAvailability = GetEnvFloat("LIGHTSPEED_INITIAL_AVAILABILITY", cc.InitialAvailability)
	cc.InitialDripRate = GetEnvFloat("LIGHTSPEED_INITIAL_DRIP_RATE", cc.InitialDripRate)
	cc.LogRequests = GetEnvBool("LIGHTSPEED_LOG_REQUESTS", false)

	mode, err := client.ParseErrorMode(GetEnv("LIGHTSPEED_ERROR_MODE", ""))
	if err != nil {
		return nil, fmt.Errorf("LIGHTSPEED_ERROR_MODE: %w", err)
	}
	cc.ErrorMode = mode

	level, err := logging.ParseLevel(GetEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	return &Config{
		Client: cc,
		Logging: logging.Config{
			Level:  level,
			Pretty: GetEnvBool("LOG_PRETTY", false),
			Output: os.Stderr,
		},
		RedisAddr:     GetEnv("REDIS_ADDR", ""),
		RedisDB:       GetEnvInt("REDIS_DB", 0),
		RedisPassword: GetEnv("REDIS_PASSWORD", ""),
	}, nil
}

// NewRedis returns a Redis client for token persistence, or nil when no
// address is configured.
func (c *Config) NewRedis() *redis.Client {
	if c.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     c.RedisAddr,
		DB:       c.RedisDB,
		Password: c.RedisPassword,
	})
}

// NewClient sets up logging and creates a client, persisting tokens in
// Redis when configured. The caller owns the returned Redis client.
func (c *Config) NewClient() (*client.Client, *redis.Client, error) {
	logging.Setup(c.Logging)

	cc := c.Client
	rdb := c.NewRedis()
	if rdb != nil {
		cc.Redis = rdb
	}

	lc, err := client.New(cc)
	if err != nil {
		if rdb != nil {
			rdb.Close() //nolint:errcheck
		}
		return nil, nil, err
	}
	return lc, rdb, nil
}
