package shared

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// AccountLockKey builds redis keys for per-account posting critical sections.
func AccountLockKey(orgID, accountID int64) string {
	return fmt.Sprintf("posting:org:%d:account:%d:lock", orgID, accountID)
}

// releaseScript deletes a lock key only when it still holds our token.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

// AccountLocker serializes postings that touch the same account. Locks are
// plain redis SET NX keys with a TTL so a crashed poster cannot wedge an
// account forever.
type AccountLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewAccountLocker constructs an AccountLocker.
func NewAccountLocker(client *redis.Client, ttl, wait time.Duration) *AccountLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if wait <= 0 {
		wait = 3 * time.Second
	}
	return &AccountLocker{client: client, ttl: ttl, wait: wait}
}

// LockLease holds acquired lock keys until released.
type LockLease struct {
	client *redis.Client
	token  string
	keys   []string
}

// LockAccounts acquires every account lock in ascending account id order so
// concurrent multi-account documents cannot deadlock each other. The whole
// scope must be acquired within the configured wait or ErrLockTimeout is
// returned with nothing held.
func (l *AccountLocker) LockAccounts(ctx context.Context, orgID int64, accountIDs []int64) (*LockLease, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("account locker not initialised")
	}
	ids := dedupeSorted(accountIDs)
	lease := &LockLease{client: l.client, token: uuid.NewString()}
	deadline := time.Now().Add(l.wait)
	for _, id := range ids {
		key := AccountLockKey(orgID, id)
		if err := l.acquire(ctx, key, lease.token, deadline); err != nil {
			lease.Release(ctx)
			return nil, err
		}
		lease.keys = append(lease.keys, key)
	}
	return lease, nil
}

func (l *AccountLocker) acquire(ctx context.Context, key, token string, deadline time.Time) error {
	backoff := 25 * time.Millisecond
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().Add(backoff).After(deadline) {
			return ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 200*time.Millisecond {
			backoff *= 2
		}
	}
}

// Release frees all held keys. Safe to call more than once.
func (lease *LockLease) Release(ctx context.Context) {
	if lease == nil || lease.client == nil {
		return
	}
	for _, key := range lease.keys {
		_ = lease.client.Eval(ctx, releaseScript, []string{key}, lease.token).Err()
	}
	lease.keys = nil
}

func dedupeSorted(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
