package config

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

var (
	rdb    *redis.Client
	locker *redislock.Client
)

func GetRedisDB() *redis.Client {
	return rdb
}

// GetRedisLock returns the distributed lock client, or nil when Redis is not
// connected. Callers must treat the lock as a best-effort optimization only.
func GetRedisLock() *redislock.Client {
	return locker
}

// ConnectRedisWithRetry connects and sets the global Redis client + locker.
// Call this from main() AFTER the HTTP server is listening.
func ConnectRedisWithRetry() {
	address := os.Getenv("REDIS_ADDRESS")
	if address == "" {
		address = "127.0.0.1:6379"
	}

	var attempt int
	for {
		attempt++
		client := redis.NewClient(&redis.Options{
			Addr:     address,
			Password: os.Getenv("REDIS_PASSWORD"),
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err == nil {
			rdb = client
			locker = redislock.New(rdb)
			log.Printf("connected to redis (attempt=%d)", attempt)
			return
		}
		_ = client.Close()

		if attempt >= 5 {
			// Redis is an optimization (locks, rate limiting); the engine stays
			// correct without it because posting is serialized in the database.
			log.Printf("redis unavailable after %d attempts: %v; continuing without redis", attempt, err)
			return
		}
		sleep := time.Second * time.Duration(1<<minInt(attempt, 5))
		log.Printf("failed to connect redis (attempt=%d): %v; retrying in %s", attempt, err, sleep)
		time.Sleep(sleep)
	}
}
