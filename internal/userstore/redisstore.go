package userstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Backend on Redis.
//
// Layout under the key prefix:
//
//	<p>seq        INCR counter for IDs
//	<p>user:<id>  hash {name, email}
//	<p>ids        sorted set of IDs, score = ID
//	<p>emails     hash email -> ID, the uniqueness index
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

var _ Backend = (*RedisStore)(nil)

// maxWatchRetries bounds optimistic retries of Replace and Delete.
const maxWatchRetries = 100

// RedisOptions configures NewRedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisStore connects to Redis and pings it.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewRedisStoreFromClient(rdb, opts.Prefix), nil
}

// NewRedisStoreFromClient wraps an existing client. An empty prefix
// defaults to "roster:".
func NewRedisStoreFromClient(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "roster:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) seqKey() string { return s.prefix + "seq" }
func (s *RedisStore) idsKey() string { return s.prefix + "ids" }
func (s *RedisStore) emailsKey() string { return s.prefix + "emails" }
func (s *RedisStore) userKey(id int64) string { return s.prefix + "user:" + strconv.FormatInt(id, 10) }

// InitSchema is a no-op; Redis keys are created on first write.
func (s *RedisStore) InitSchema(_ context.Context) error {
	return nil
}

// List returns all users ordered by ID.
func (s *RedisStore) List(ctx context.Context) ([]User, error) {
	members, err := s.rdb.ZRange(ctx, s.idsKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list ids: %w", err)
	}
	if len(members) == 0 {
		return []User{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(members))
	_, err = s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, m := range members {
			cmds[i] = p.HGetAll(ctx, s.prefix+"user:"+m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis: list users: %w", err)
	}

	out := make([]User, 0, len(members))
	for i, m := range members {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			continue
		}
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis: bad id %q: %w", m, err)
		}
		out = append(out, User{ID: id, Name: fields["name"], Email: fields["email"]})
	}
	return out, nil
}

// Get returns the user with the given ID, or nil if not found.
func (s *RedisStore) Get(ctx context.Context, id int64) (*User, error) {
	fields, err := s.rdb.HGetAll(ctx, s.userKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get user: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return &User{ID: id, Name: fields["name"], Email: fields["email"]}, nil
}

// GetByEmail resolves email through the index hash.
func (s *RedisStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	raw, err := s.rdb.HGet(ctx, s.emailsKey(), email).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get email index: %w", err)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis: bad id %q: %w", raw, err)
	}
	return s.Get(ctx, id)
}

// Insert claims email with HSETNX before writing the user hash, so two
// concurrent inserts of one address cannot both succeed.
func (s *RedisStore) Insert(ctx context.Context, name, email string) (User, error) {
	id, err := s.rdb.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return User{}, fmt.Errorf("redis: next id: %w", err)
	}

	claimed, err := s.rdb.HSetNX(ctx, s.emailsKey(), email, id).Result()
	if err != nil {
		return User{}, fmt.Errorf("redis: claim email: %w", err)
	}
	if !claimed {
		return User{}, ErrConflict
	}

	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.userKey(id), "name", name, "email", email)
		p.ZAdd(ctx, s.idsKey(), redis.Z{Score: float64(id), Member: strconv.FormatInt(id, 10)})
		return nil
	})
	if err != nil {
		// Release the claim so the address is not left orphaned.
		s.rdb.HDel(ctx, s.emailsKey(), email)
		return User{}, fmt.Errorf("redis: write user: %w", err)
	}
	return User{ID: id, Name: name, Email: email}, nil
}

// Replace swaps the user's fields and email index entry in one MULTI block
// guarded by WATCH on the user hash and the index.
func (s *RedisStore) Replace(ctx context.Context, u User) error {
	key := s.userKey(u.ID)
	idStr := strconv.FormatInt(u.ID, 10)

	err := s.watch(ctx, func(tx *redis.Tx) error {
		old, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(old) == 0 {
			return ErrNotFound
		}
		owner, err := tx.HGet(ctx, s.emailsKey(), u.Email).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil && owner != idStr {
			return ErrConflict
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			if old["email"] != u.Email {
				p.HDel(ctx, s.emailsKey(), old["email"])
				p.HSet(ctx, s.emailsKey(), u.Email, idStr)
			}
			p.HSet(ctx, key, "name", u.Name, "email", u.Email)
			return nil
		})
		return err
	}, key, s.emailsKey())

	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return err
	}
	if err != nil {
		return fmt.Errorf("redis: update user: %w", err)
	}
	return nil
}

// Delete removes the user hash, its ID entry, and its email index entry.
func (s *RedisStore) Delete(ctx context.Context, id int64) (bool, error) {
	key := s.userKey(id)
	removed := false

	err := s.watch(ctx, func(tx *redis.Tx) error {
		removed = false
		email, err := tx.HGet(ctx, key, "email").Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, key)
			p.ZRem(ctx, s.idsKey(), strconv.FormatInt(id, 10))
			p.HDel(ctx, s.emailsKey(), email)
			return nil
		})
		if err == nil {
			removed = true
		}
		return err
	}, key)
	if err != nil {
		return false, fmt.Errorf("redis: delete user: %w", err)
	}
	return removed, nil
}

// watch runs fn under WATCH on keys and starts over when another client
// touched a watched key before EXEC.
func (s *RedisStore) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	var err error
	for range maxWatchRetries {
		err = s.rdb.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return err
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
