package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/streamvault/streamvault/pkg/models"
)

// Cache provides caching functionality using Redis
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Download Cache Operations

// SetDownload caches download metadata
func (c *Cache) SetDownload(ctx context.Context, download *models.Download, ttl time.Duration) error {
	data, err := json.Marshal(download)
	if err != nil {
		return fmt.Errorf("failed to marshal download: %w", err)
	}

	key := fmt.Sprintf("download:%s", download.ID)
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetDownload retrieves download metadata from cache
func (c *Cache) GetDownload(ctx context.Context, downloadID string) (*models.Download, error) {
	key := fmt.Sprintf("download:%s", downloadID)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get download from cache: %w", err)
	}

	var download models.Download
	if err := json.Unmarshal(data, &download); err != nil {
		return nil, fmt.Errorf("failed to unmarshal download: %w", err)
	}

	return &download, nil
}

// DeleteDownload removes download from cache
func (c *Cache) DeleteDownload(ctx context.Context, downloadID string) error {
	key := fmt.Sprintf("download:%s", downloadID)
	return c.client.Del(ctx, key).Err()
}

// SetDownloadProgress caches download progress for quick retrieval; the UI
// polls this instead of hitting Postgres on every tick.
func (c *Cache) SetDownloadProgress(ctx context.Context, downloadID string, progress float64, ttl time.Duration) error {
	key := fmt.Sprintf("download:progress:%s", downloadID)
	return c.client.Set(ctx, key, progress, ttl).Err()
}

// GetDownloadProgress retrieves download progress from cache
func (c *Cache) GetDownloadProgress(ctx context.Context, downloadID string) (float64, error) {
	key := fmt.Sprintf("download:progress:%s", downloadID)
	return c.client.Get(ctx, key).Float64()
}

// Video Cache Operations

// SetVideo caches video metadata
func (c *Cache) SetVideo(ctx context.Context, video *models.Video, ttl time.Duration) error {
	data, err := json.Marshal(video)
	if err != nil {
		return fmt.Errorf("failed to marshal video: %w", err)
	}

	key := fmt.Sprintf("video:%s", video.ID)
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetVideo retrieves video metadata from cache
func (c *Cache) GetVideo(ctx context.Context, videoID string) (*models.Video, error) {
	key := fmt.Sprintf("video:%s", videoID)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get video from cache: %w", err)
	}

	var video models.Video
	if err := json.Unmarshal(data, &video); err != nil {
		return nil, fmt.Errorf("failed to unmarshal video: %w", err)
	}

	return &video, nil
}

// DeleteVideo removes video from cache
func (c *Cache) DeleteVideo(ctx context.Context, videoID string) error {
	key := fmt.Sprintf("video:%s", videoID)
	return c.client.Del(ctx, key).Err()
}

// Preference Operations

// SetPreferredQuality stores the user's last chosen quality label
func (c *Cache) SetPreferredQuality(ctx context.Context, resolution string) error {
	return c.client.Set(ctx, "prefs:preferred_quality", resolution, 0).Err()
}

// GetPreferredQuality retrieves the preferred quality label, empty when unset
func (c *Cache) GetPreferredQuality(ctx context.Context) (string, error) {
	val, err := c.client.Get(ctx, "prefs:preferred_quality").Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", fmt.Errorf("failed to get preferred quality: %w", err)
	}
	return val, nil
}

// Stats Cache Operations

// IncrementStat increments a statistic counter
func (c *Cache) IncrementStat(ctx context.Context, stat string) error {
	key := fmt.Sprintf("stats:%s", stat)
	return c.client.Incr(ctx, key).Err()
}

// GetStat retrieves a statistic value
func (c *Cache) GetStat(ctx context.Context, stat string) (int64, error) {
	key := fmt.Sprintf("stats:%s", stat)
	return c.client.Get(ctx, key).Int64()
}

// SetStat sets a statistic value
func (c *Cache) SetStat(ctx context.Context, stat string, value int64, ttl time.Duration) error {
	key := fmt.Sprintf("stats:%s", stat)
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Rate Limiting Operations

// CheckRateLimit checks if a rate limit has been exceeded
func (c *Cache) CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, error) {
	rateLimitKey := fmt.Sprintf("ratelimit:%s", key)

	// Increment counter
	count, err := c.client.Incr(ctx, rateLimitKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	// Set expiry on first request
	if count == 1 {
		if err := c.client.Expire(ctx, rateLimitKey, window).Err(); err != nil {
			return false, fmt.Errorf("failed to set expiry: %w", err)
		}
	}

	// Check if limit exceeded
	return count <= limit, nil
}

// Locking Operations for Distributed Systems

// AcquireLock attempts to acquire a distributed lock
func (c *Cache) AcquireLock(ctx context.Context, resource string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("lock:%s", resource)
	return c.client.SetNX(ctx, key, "locked", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Cache) ReleaseLock(ctx context.Context, resource string) error {
	key := fmt.Sprintf("lock:%s", resource)
	return c.client.Del(ctx, key).Err()
}

// Batch Operations

// DeletePattern deletes all keys matching a pattern
func (c *Cache) DeletePattern(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
		}
	}
	return iter.Err()
}

// Exists checks if a key exists
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	result, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}

// SetWithJSON sets a value with JSON marshaling
func (c *Cache) SetWithJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetWithJSON gets a value with JSON unmarshaling
func (c *Cache) GetWithJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil // Cache miss
		}
		return fmt.Errorf("failed to get value from cache: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal value: %w", err)
	}

	return nil
}

// Health check
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
