package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache Redis缓存/流实现
// 针对不同流量类别使用三个逻辑连接：
// primary用于通用键值操作，cache用于TTL缓存，streams用于变更事件流
type RedisCache struct {
	primary *redis.Client
	cache   *redis.Client
	streams *redis.Client
	prefix  string
}

// Config Redis配置
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	CacheDB  int
	StreamDB int
	Prefix   string
}

// NewRedisCache 创建Redis缓存实例
func NewRedisCache(config *Config) *RedisCache {
	newClient := func(db int) *redis.Client {
		return redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", config.Host, config.Port),
			Password: config.Password,
			DB:       db,
		})
	}

	prefix := config.Prefix
	if prefix == "" {
		prefix = "snowbridge"
	}

	return &RedisCache{
		primary: newClient(config.DB),
		cache:   newClient(config.CacheDB),
		streams: newClient(config.StreamDB),
		prefix:  prefix,
	}
}

// Close 关闭所有Redis连接
func (r *RedisCache) Close() error {
	var firstErr error
	for _, client := range []*redis.Client{r.primary, r.cache, r.streams} {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Ping 测试Redis连接
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.primary.Ping(ctx).Err()
}

// HealthCheck 检查Redis是否可用
func (r *RedisCache) HealthCheck(ctx context.Context) bool {
	return r.Ping(ctx) == nil
}

// ========== TTL缓存操作 ==========

// Get 获取缓存值
func (r *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	value, err := r.cache.Get(ctx, r.cacheKey(key)).Result()
	if err != nil {
		return "", false
	}
	return value, true
}

// Set 设置缓存值，ttl为0表示不过期
func (r *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.cache.Set(ctx, r.cacheKey(key), value, ttl).Err()
}

// SetJSON 序列化后设置缓存值
func (r *RedisCache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("序列化缓存值失败: %v", err)
	}
	return r.Set(ctx, key, string(data), ttl)
}

// Del 删除缓存值
func (r *RedisCache) Del(ctx context.Context, keys ...string) error {
	prefixed := make([]string, 0, len(keys))
	for _, key := range keys {
		prefixed = append(prefixed, r.cacheKey(key))
	}
	return r.cache.Del(ctx, prefixed...).Err()
}

// ========== 发布/订阅 ==========

// Publish 发布消息到指定频道
func (r *RedisCache) Publish(ctx context.Context, channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %v", err)
	}

	channelKey := fmt.Sprintf("%s:channel:%s", r.prefix, channel)
	if err := r.primary.Publish(ctx, channelKey, data).Err(); err != nil {
		return fmt.Errorf("发布消息失败: %v", err)
	}

	return nil
}

// Subscribe 订阅指定频道
func (r *RedisCache) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	channelKey := fmt.Sprintf("%s:channel:%s", r.prefix, channel)
	return r.primary.Subscribe(ctx, channelKey)
}

// ========== 变更事件流 ==========

// XAdd 向指定流追加事件
func (r *RedisCache) XAdd(ctx context.Context, stream string, values map[string]interface{}) error {
	return r.streams.XAdd(ctx, &redis.XAddArgs{
		Stream: r.streamKey(stream),
		Values: values,
	}).Err()
}

// XRead 阻塞读取指定流中lastID之后的事件
// 超过block时长没有新事件时返回redis.Nil
func (r *RedisCache) XRead(ctx context.Context, stream, lastID string, block time.Duration) ([]redis.XMessage, error) {
	result, err := r.streams.XRead(ctx, &redis.XReadArgs{
		Streams: []string{r.streamKey(stream), lastID},
		Count:   100,
		Block:   block,
	}).Result()
	if err != nil {
		return nil, err
	}

	var messages []redis.XMessage
	for _, s := range result {
		messages = append(messages, s.Messages...)
	}
	return messages, nil
}

// GetClient 获取主Redis客户端（用于高级操作）
func (r *RedisCache) GetClient() *redis.Client {
	return r.primary
}

// 辅助方法

func (r *RedisCache) cacheKey(key string) string {
	return fmt.Sprintf("%s:cache:%s", r.prefix, key)
}

func (r *RedisCache) streamKey(stream string) string {
	return fmt.Sprintf("%s:stream:%s", r.prefix, stream)
}
