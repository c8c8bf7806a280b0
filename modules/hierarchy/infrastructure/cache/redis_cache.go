package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/domain/access"
	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/services"
)

const defaultPrefix = "hierarchy:effective_permissions:v1"

// RedisPermissionCache keeps one hash per role; each field holds the
// effective permission set of one filter. Invalidation drops the whole hash.
// Redis failures degrade to cache misses.
type RedisPermissionCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    *logrus.Entry
}

var _ services.PermissionCache = (*RedisPermissionCache)(nil)

func NewRedisPermissionCache(client *redis.Client, ttl time.Duration, log *logrus.Logger) *RedisPermissionCache {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RedisPermissionCache{
		client: client,
		prefix: defaultPrefix,
		ttl:    ttl,
		log:    log.WithField("component", "hierarchy.permission_cache"),
	}
}

func (c *RedisPermissionCache) hashKey(tenantID, roleID uuid.UUID) string {
	return fmt.Sprintf("%s:{%s}:%s", c.prefix, tenantID.String(), roleID.String())
}

func (c *RedisPermissionCache) Get(ctx context.Context, tenantID, roleID uuid.UUID, key string) (map[string]access.Permission, bool) {
	raw, err := c.client.HGet(ctx, c.hashKey(tenantID, roleID), key).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.WithError(err).Warn("permission cache read failed")
		}
		return nil, false
	}
	var out map[string]access.Permission
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		c.log.WithError(err).Warn("permission cache entry is corrupt")
		return nil, false
	}
	if out == nil {
		out = map[string]access.Permission{}
	}
	return out, true
}

func (c *RedisPermissionCache) Set(ctx context.Context, tenantID, roleID uuid.UUID, key string, perms map[string]access.Permission) {
	body, err := json.Marshal(perms)
	if err != nil {
		c.log.WithError(err).Warn("permission cache encode failed")
		return
	}
	hashKey := c.hashKey(tenantID, roleID)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, hashKey, key, body)
		if c.ttl > 0 {
			pipe.Expire(ctx, hashKey, c.ttl)
		}
		return nil
	})
	if err != nil {
		c.log.WithError(err).Warn("permission cache write failed")
	}
}

func (c *RedisPermissionCache) InvalidateRole(ctx context.Context, tenantID, roleID uuid.UUID) {
	if err := c.client.Del(ctx, c.hashKey(tenantID, roleID)).Err(); err != nil {
		c.log.WithError(err).Error("permission cache invalidation failed")
	}
}
