package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "castbot/pkg/logx"
)

// redisDirectory stores each list as a sorted set; the score is the position.
type redisDirectory struct {
	rdb      *redis.Client
	prefix   string
	pageSize int
	log      logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (Directory, error) {
	raw := strings.TrimSpace(cfg.URL)
	if raw == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout())
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "castbot:directory:"
	}
	return &redisDirectory{rdb: rdb, prefix: prefix, pageSize: cfg.pageSize(), log: log}, nil
}

func (d *redisDirectory) FetchPage(ctx context.Context, key string, page int) (Page, error) {
	if page < 1 {
		page = 1
	}
	k := d.prefix + key
	total, err := d.rdb.ZCard(ctx, k).Result()
	if err != nil {
		return Page{}, fmt.Errorf("zcard failed: %w", err)
	}
	start := int64((page - 1) * d.pageSize)
	stop := start + int64(d.pageSize) - 1
	ids, err := d.rdb.ZRange(ctx, k, start, stop).Result()
	if err != nil {
		return Page{}, fmt.Errorf("zrange failed: %w", err)
	}
	return Page{IDs: ids, TotalUsers: int(total), TotalPages: pages(int(total), d.pageSize)}, nil
}

// Add appends ids after the current last member; existing members are left in place.
func (d *redisDirectory) Add(ctx context.Context, key string, ids ...string) error {
	k := d.prefix + key
	var next float64
	last, err := d.rdb.ZRangeWithScores(ctx, k, -1, -1).Result()
	if err != nil {
		return fmt.Errorf("zrange failed: %w", err)
	}
	if len(last) > 0 {
		next = last[0].Score
	}
	members := make([]redis.Z, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		next++
		members = append(members, redis.Z{Score: next, Member: id})
	}
	if len(members) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return d.rdb.ZAddNX(ctx, k, members...).Err()
}

func (d *redisDirectory) Close() error {
	return d.rdb.Close()
}
