package refreshtokens

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/crmkeeper/internal/common"
	"github.com/dmitrijs2005/crmkeeper/internal/server/models"
	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "crmkeeper:refresh:"

// RedisStore implements Store on Redis. Each record is a hash under
// crmkeeper:refresh:<jti> that Redis evicts at its expiry; rotation is a
// WATCH/MULTI transaction over the old and new keys.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

// NewRedisClient connects to addr and pings it.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func redisKey(jti string) string { return redisKeyPrefix + jti }

func (s *RedisStore) Create(ctx context.Context, userID, jti string, expiresAt time.Time) (*models.RefreshToken, error) {
	key := redisKey(jti)
	var rt *models.RefreshToken
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return common.ErrAlreadyExists
		}
		rt = s.record(userID, jti, expiresAt)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.write(ctx, pipe, rt)
			return nil
		})
		return err
	}, key)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return nil, common.ErrAlreadyExists
		}
		return nil, wrapRedis(err)
	}
	return rt, nil
}

func (s *RedisStore) Get(ctx context.Context, jti string) (*models.RefreshToken, error) {
	rt, err := read(ctx, s.client, jti)
	if err != nil {
		return nil, wrapRedis(err)
	}
	return rt, nil
}

func (s *RedisStore) IsValid(ctx context.Context, jti string) (bool, error) {
	rt, err := read(ctx, s.client, jti)
	if errors.Is(err, common.ErrorNotFound) {
		return false, nil
	}
	if err != nil {
		return false, wrapRedis(err)
	}
	return rt.ExpiresAt.After(truncate(s.now())), nil
}

func (s *RedisStore) Delete(ctx context.Context, jti string) error {
	if err := s.client.Del(ctx, redisKey(jti)).Err(); err != nil {
		return wrapRedis(err)
	}
	return nil
}

func (s *RedisStore) Rotate(ctx context.Context, userID, oldJTI, newJTI string, expiresAt time.Time) (*models.RefreshToken, error) {
	oldKey, newKey := redisKey(oldJTI), redisKey(newJTI)
	var created *models.RefreshToken
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		old, err := read(ctx, tx, oldJTI)
		if err != nil {
			return err
		}
		if old.UserID != userID || !old.ExpiresAt.After(truncate(s.now())) {
			return common.ErrorNotFound
		}
		n, err := tx.Exists(ctx, newKey).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return common.ErrAlreadyExists
		}
		created = s.record(userID, newJTI, expiresAt)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, oldKey)
			s.write(ctx, pipe, created)
			return nil
		})
		return err
	}, oldKey, newKey)
	if err != nil {
		// Someone else touched the old key between WATCH and EXEC.
		if errors.Is(err, redis.TxFailedErr) {
			return nil, common.ErrorNotFound
		}
		return nil, wrapRedis(err)
	}
	return created, nil
}

// DeleteExpired removes records whose expiry has passed but that Redis has
// not evicted yet.
func (s *RedisStore) DeleteExpired(ctx context.Context) (int64, error) {
	now := truncate(s.now())
	var deleted int64
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := s.client.HGet(ctx, iter.Val(), "expires_at").Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return deleted, wrapRedis(err)
		}
		exp, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || time.Unix(exp, 0).After(now) {
			continue
		}
		n, err := s.client.Del(ctx, iter.Val()).Result()
		if err != nil {
			return deleted, wrapRedis(err)
		}
		deleted += n
	}
	if err := iter.Err(); err != nil {
		return deleted, wrapRedis(err)
	}
	return deleted, nil
}

func (s *RedisStore) record(userID, jti string, expiresAt time.Time) *models.RefreshToken {
	return &models.RefreshToken{
		JTI:       jti,
		UserID:    userID,
		ExpiresAt: truncate(expiresAt),
		CreatedAt: truncate(s.now()),
	}
}

func (s *RedisStore) write(ctx context.Context, pipe redis.Pipeliner, rt *models.RefreshToken) {
	key := redisKey(rt.JTI)
	pipe.HSet(ctx, key,
		"user_id", rt.UserID,
		"expires_at", rt.ExpiresAt.Unix(),
		"created_at", rt.CreatedAt.Unix(),
	)
	pipe.ExpireAt(ctx, key, rt.ExpiresAt)
}

type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.StringStringMapCmd
}

func read(ctx context.Context, c hashReader, jti string) (*models.RefreshToken, error) {
	m, err := c.HGetAll(ctx, redisKey(jti)).Result()
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, common.ErrorNotFound
	}
	exp, err := strconv.ParseInt(m["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt refresh record %s: %w", jti, err)
	}
	created, _ := strconv.ParseInt(m["created_at"], 10, 64)
	return &models.RefreshToken{
		JTI:       jti,
		UserID:    m["user_id"],
		ExpiresAt: time.Unix(exp, 0).UTC(),
		CreatedAt: time.Unix(created, 0).UTC(),
	}, nil
}

// wrapRedis keeps sentinels intact and tags everything else as a store
// failure.
func wrapRedis(err error) error {
	if errors.Is(err, common.ErrorNotFound) || errors.Is(err, common.ErrAlreadyExists) {
		return err
	}
	return fmt.Errorf("redis error: %w", err)
}
