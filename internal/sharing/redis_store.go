package sharing

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each account's latest share as a JSON value.
type RedisStore struct {
	rdb       *redis.Client
	retention time.Duration
}

// NewRedisStore keeps snapshots for retention after their last save.
func NewRedisStore(rdb *redis.Client, retention time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, retention: retention}
}

func snapshotKey(accountID string) string {
	return "sharing:" + accountID + ":snapshot"
}

func (r *RedisStore) Save(ctx context.Context, share ShareSession) error {
	payload, err := json.Marshal(share)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, snapshotKey(share.AccountID), payload, r.retention).Err()
}

func (r *RedisStore) Load(ctx context.Context, accountID string) (ShareSession, bool, error) {
	payload, err := r.rdb.Get(ctx, snapshotKey(accountID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ShareSession{}, false, nil
	}
	if err != nil {
		return ShareSession{}, false, err
	}
	var share ShareSession
	if err := json.Unmarshal(payload, &share); err != nil {
		return ShareSession{}, false, err
	}
	return share, true, nil
}
