package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/govmatrix/backend/internal/storage/models"
	"github.com/govmatrix/backend/pkg/logger"
)

// Client caches the latest governance score per project. The store remains
// authoritative; cache failures are reported but never fatal to a read.
type Client struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(host string, port int, password string, db int, ttl time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client, ttl: ttl}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func scoreKey(projectID string) string {
	return fmt.Sprintf("score:latest:%s", projectID)
}

func (c *Client) GetLatestScore(ctx context.Context, projectID string) (*models.ScoreSnapshot, bool, error) {
	data, err := c.client.Get(ctx, scoreKey(projectID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get score cache: %w", err)
	}

	var snapshot models.ScoreSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached score: %w", err)
	}

	logger.Debug("Score cache hit", zap.String("project_id", projectID))
	return &snapshot, true, nil
}

func (c *Client) SetLatestScore(ctx context.Context, projectID string, snapshot *models.ScoreSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal score: %w", err)
	}

	if err := c.client.Set(ctx, scoreKey(projectID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set score cache: %w", err)
	}

	logger.Debug("Score cached", zap.String("project_id", projectID), zap.Duration("ttl", c.ttl))
	return nil
}

// InvalidateScore drops the cached latest score after a new snapshot lands.
func (c *Client) InvalidateScore(ctx context.Context, projectID string) error {
	if err := c.client.Del(ctx, scoreKey(projectID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate score cache: %w", err)
	}
	return nil
}
