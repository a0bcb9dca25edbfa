package storage

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/loraedge/edge-network-server/internal/config"
)

var redisClient redis.UniversalClient

// Setup configures the storage backend.
func Setup(c config.Config) error {
	log.Info("storage: setting up storage module")

	log.Info("storage: setting up Redis client")
	if len(c.Redis.Servers) == 0 {
		return errors.New("at least one redis server must be configured")
	}

	var tlsConfig *tls.Config
	if c.Redis.TLSEnabled {
		tlsConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
	}

	if c.Redis.Cluster {
		redisClient = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:     c.Redis.Servers,
			PoolSize:  c.Redis.PoolSize,
			Password:  c.Redis.Password,
			TLSConfig: tlsConfig,
		})
	} else if c.Redis.MasterName != "" {
		redisClient = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:       c.Redis.MasterName,
			SentinelAddrs:    c.Redis.Servers,
			SentinelPassword: c.Redis.Password,
			DB:               c.Redis.Database,
			PoolSize:         c.Redis.PoolSize,
			TLSConfig:        tlsConfig,
		})
	} else {
		redisClient = redis.NewClient(&redis.Options{
			Addr:      c.Redis.Servers[0],
			DB:        c.Redis.Database,
			Password:  c.Redis.Password,
			PoolSize:  c.Redis.PoolSize,
			TLSConfig: tlsConfig,
		})
	}

	return nil
}

// RedisClient returns the Redis client.
func RedisClient() redis.UniversalClient {
	return redisClient
}

// SetRedisClient overrides the Redis client.
func SetRedisClient(c redis.UniversalClient) {
	redisClient = c
}

// GetRedisKey returns the Redis key given a template and parameters.
func GetRedisKey(tmpl string, params ...interface{}) string {
	return fmt.Sprintf(tmpl, params...)
}

// GetJSON reads the value stored under key and unmarshals it into v.
// ErrDoesNotExist is returned when the key is not set.
func GetJSON(ctx context.Context, c redis.UniversalClient, key string, v interface{}) error {
	b, err := c.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return ErrDoesNotExist
		}
		return errors.Wrap(err, "get error")
	}

	if err := json.Unmarshal(b, v); err != nil {
		return ErrInvalidValue
	}

	return nil
}

// SetJSON stores v as JSON under key. A zero ttl means no expiration.
func SetJSON(ctx context.Context, c redis.UniversalClient, key string, v interface{}, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal json error")
	}

	if err := c.Set(ctx, key, b, ttl).Err(); err != nil {
		return errors.Wrap(err, "set error")
	}

	return nil
}
