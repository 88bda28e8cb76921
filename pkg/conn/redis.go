package conn

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/yanun0323/errors"
)

const defaultRedisPingTimeout = 5 * time.Second

// RedisOption defines connection options for Redis.
type RedisOption struct {
	Addr     string
	Password string
	// DB is the numeric database index as a string, empty means 0.
	DB          string
	PingTimeout time.Duration
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, opt RedisOption) (*redis.Client, error) {
	if opt.Addr == "" {
		return nil, errors.New("redis addr is empty")
	}
	db := 0
	if opt.DB != "" {
		n, err := strconv.Atoi(opt.DB)
		if err != nil || n < 0 {
			return nil, errors.Errorf("invalid redis db %q", opt.DB)
		}
		db = n
	}
	if opt.PingTimeout <= 0 {
		opt.PingTimeout = defaultRedisPingTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opt.Addr,
		Password: opt.Password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opt.PingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis").With("addr", opt.Addr)
	}
	return client, nil
}
