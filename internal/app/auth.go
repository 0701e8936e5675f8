// internal/app/auth.go
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/shrimpsizemoose/trekker/logger"
)

var (
	ErrTokenNotFound = errors.New("token not found")
	ErrInvalidToken  = errors.New("invalid token")
)

// Auth checks API tokens stored as redis hashes under keyTemplate, where
// {client} is replaced by the calling client's name.
type Auth struct {
	enabled      bool
	redis        *redis.Client
	keyTemplate  string
	tokenHeader  string
	clientHeader string
}

func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func NewAuth(config *Config) (*Auth, error) {
	if !config.Server.EnableAuth {
		return &Auth{enabled: false}, nil
	}

	client, err := NewRedisClient(context.Background(), config.Auth.RedisURL)
	if err != nil {
		return nil, err
	}

	return newAuth(client, config), nil
}

func newAuth(client *redis.Client, config *Config) *Auth {
	return &Auth{
		enabled:      true,
		redis:        client,
		keyTemplate:  config.Auth.TokenKeyTemplate,
		tokenHeader:  config.Auth.TokenHeader,
		clientHeader: config.Auth.ClientHeader,
	}
}

func (a *Auth) Close() error {
	if a.redis != nil {
		return a.redis.Close()
	}
	return nil
}

func (a *Auth) Enabled() bool {
	return a.enabled
}

func tokenKey(template, client string) string {
	return strings.NewReplacer("{client}", client).Replace(template)
}

func (a *Auth) ValidateToken(ctx context.Context, client, token string) error {
	if !a.enabled {
		return nil
	}

	key := tokenKey(a.keyTemplate, client)
	fields, err := a.redis.HGetAll(ctx, key).Result()
	if err != nil {
		logger.Debug.Printf("Redis error: %v", err)
		return fmt.Errorf("redis error: %w", err)
	}
	if len(fields) == 0 {
		logger.Debug.Printf("Token not found for key: %s", key)
		return ErrTokenNotFound
	}

	if fields["token"] != token {
		logger.Debug.Printf("Token mismatch for client %s and what's found in %s", client, key)
		return ErrInvalidToken
	}

	if err := a.redis.HIncrBy(ctx, key, "request_count", 1).Err(); err != nil {
		logger.Debug.Printf("Failed to count request for %s: %v", key, err)
	}
	return nil
}
