// Package presence tracks which portal users are currently online,
// backed by Redis. Each online user holds a TTL key plus membership in
// a roster set:
//
//	Key:   presence:user:<id>
//	Value: <instance name that saw the user>
//	TTL:   PresenceTTL (refreshed by heartbeats)
//	Set:   presence:online (roster of user IDs)
//
// The roster set can briefly contain users whose TTL key has expired
// (missed heartbeat without a clean offline event); Online prunes such
// entries as it reads.
package presence

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// UserPrefix is the Redis key prefix for per-user presence records.
	UserPrefix = "presence:user:"

	// RosterKey is the Redis set holding the IDs of online users.
	RosterKey = "presence:online"

	// PresenceTTL is how long a user stays online without a heartbeat.
	PresenceTTL = 2 * time.Minute
)

// Store manages online-presence records in Redis.
type Store struct {
	client   *redis.Client
	instance string // identifier for the relay instance writing records
}

// NewStore creates a presence store using the provided Redis client.
func NewStore(client *redis.Client, instance string) *Store {
	return &Store{client: client, instance: instance}
}

func userKey(userID int64) string {
	return UserPrefix + strconv.FormatInt(userID, 10)
}

// MarkOnline records a user as online and adds them to the roster.
func (s *Store) MarkOnline(ctx context.Context, userID int64) error {
	pipe := s.client.Pipeline()
	pipe.Set(ctx, userKey(userID), s.instance, PresenceTTL)
	pipe.SAdd(ctx, RosterKey, userID)
	_, err := pipe.Exec(ctx)
	return err
}

// MarkOffline removes a user's presence record and roster entry.
func (s *Store) MarkOffline(ctx context.Context, userID int64) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, userKey(userID))
	pipe.SRem(ctx, RosterKey, userID)
	_, err := pipe.Exec(ctx)
	return err
}

// Touch refreshes the TTL on a user's presence record. Returns false
// if the record no longer exists (the caller should re-mark online).
func (s *Store) Touch(ctx context.Context, userID int64) (bool, error) {
	ok, err := s.client.Expire(ctx, userKey(userID), PresenceTTL).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// IsOnline reports whether a user currently has a live presence record.
func (s *Store) IsOnline(ctx context.Context, userID int64) (bool, error) {
	n, err := s.client.Exists(ctx, userKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Online returns the IDs of all users whose presence record is still
// live. Roster entries whose TTL key has expired are pruned on read.
func (s *Store) Online(ctx context.Context) ([]int64, error) {
	members, err := s.client.SMembers(ctx, RosterKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	online := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			// Garbage roster entry, drop it.
			s.client.SRem(ctx, RosterKey, m)
			continue
		}
		live, err := s.IsOnline(ctx, id)
		if err != nil {
			return nil, err
		}
		if !live {
			s.client.SRem(ctx, RosterKey, m)
			continue
		}
		online = append(online, id)
	}
	return online, nil
}
