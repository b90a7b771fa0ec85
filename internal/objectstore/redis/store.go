// Package redis provides a Redis-backed object store. Each ref is one hash
// holding file contents and versions; a global counter issues versions and
// Lua scripts make ref creation and conditional writes atomic.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/matt-davison/agent-quest/internal/objectstore"
	"github.com/matt-davison/agent-quest/internal/platform/timeouts"
)

// DefaultNamespace prefixes every key the store touches.
const DefaultNamespace = "questline:"

const (
	contentField = "c:"
	versionField = "v:"
)

// KEYS[1]=refs KEYS[2]=new ref hash KEYS[3]=base ref hash; ARGV[1]=name ARGV[2]=base
// Returns 1 created, 0 already present, -1 base missing.
var luaEnsureRef = goredis.NewScript(`
  if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 1 then
    return 0
  end
  local tip = redis.call('HGET', KEYS[1], ARGV[2])
  if not tip then
    return -1
  end
  local fields = redis.call('HGETALL', KEYS[3])
  if #fields > 0 then
    redis.call('HSET', KEYS[2], unpack(fields))
  end
  redis.call('HSET', KEYS[1], ARGV[1], tip)
  return 1
`)

// KEYS[1]=refs KEYS[2]=ref hash KEYS[3]=counter
// ARGV[1]=name ARGV[2]=content field ARGV[3]=version field ARGV[4]=content ARGV[5]=expected
// Returns the new version, -1 ref missing, -2 version mismatch.
var luaPut = goredis.NewScript(`
  if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 0 then
    return -1
  end
  local current = redis.call('HGET', KEYS[2], ARGV[3])
  local expected = ARGV[5]
  if expected == '' then
    if current then
      return -2
    end
  elseif current ~= expected then
    return -2
  end
  local v = redis.call('INCR', KEYS[3])
  redis.call('HSET', KEYS[2], ARGV[2], ARGV[4], ARGV[3], v)
  redis.call('HSET', KEYS[1], ARGV[1], v)
  return v
`)

// Config locates the Redis server.
type Config struct {
	Addr      string
	Password  string
	DB        int
	Namespace string
}

// Store implements objectstore.Store on Redis hashes.
type Store struct {
	rdb goredis.UniversalClient
	ns  string
}

// Open connects to Redis, pings it and makes sure the default base ref
// exists.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, timeouts.RedisDial)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	store, err := New(ctx, rdb, cfg.Namespace)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an existing client.
func New(ctx context.Context, rdb goredis.UniversalClient, namespace string) (*Store, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	s := &Store{rdb: rdb, ns: namespace}
	if err := rdb.HSetNX(ctx, s.refsKey(), objectstore.DefaultBaseRef, 0).Err(); err != nil {
		return nil, fmt.Errorf("seed base ref: %w", err)
	}
	return s, nil
}

func (s *Store) refsKey() string           { return s.ns + "refs" }
func (s *Store) counterKey() string        { return s.ns + "version" }
func (s *Store) refKey(name string) string { return s.ns + "ref:" + name }

// EnsureRef copies baseRef's hash into a new ref when name is absent.
func (s *Store) EnsureRef(ctx context.Context, name, baseRef string) (bool, error) {
	name = objectstore.NormalizeRef(name)
	if name == "" {
		return false, fmt.Errorf("ref name is required")
	}
	baseRef = objectstore.NormalizeRef(baseRef)
	if baseRef == "" {
		baseRef = objectstore.DefaultBaseRef
	}
	result, err := luaEnsureRef.Run(ctx, s.rdb,
		[]string{s.refsKey(), s.refKey(name), s.refKey(baseRef)},
		name, baseRef,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("ensure ref %s: %w", name, err)
	}
	switch result {
	case -1:
		return false, fmt.Errorf("base %s: %w", baseRef, objectstore.ErrRefNotFound)
	case 1:
		return true, nil
	default:
		return false, nil
	}
}

// Get reads one file.
func (s *Store) Get(ctx context.Context, name, path string) (objectstore.Object, error) {
	name = objectstore.NormalizeRef(name)
	path = objectstore.NormalizePath(path)

	values, err := s.rdb.HMGet(ctx, s.refKey(name), contentField+path, versionField+path).Result()
	if err != nil {
		return objectstore.Object{}, fmt.Errorf("get %s@%s: %w", path, name, err)
	}
	content, hasContent := values[0].(string)
	version, hasVersion := values[1].(string)
	if !hasContent || !hasVersion {
		exists, err := s.rdb.HExists(ctx, s.refsKey(), name).Result()
		if err != nil {
			return objectstore.Object{}, fmt.Errorf("check ref %s: %w", name, err)
		}
		if !exists {
			return objectstore.Object{}, objectstore.ErrRefNotFound
		}
		return objectstore.Object{}, objectstore.ErrNotFound
	}
	return objectstore.Object{Content: []byte(content), Version: version}, nil
}

// Put writes one file when expectedVersion matches.
func (s *Store) Put(ctx context.Context, name, path string, content []byte, expectedVersion, _ string) (string, error) {
	name = objectstore.NormalizeRef(name)
	path = objectstore.NormalizePath(path)
	if path == "" {
		return "", fmt.Errorf("file path is required")
	}
	result, err := luaPut.Run(ctx, s.rdb,
		[]string{s.refsKey(), s.refKey(name), s.counterKey()},
		name, contentField+path, versionField+path, string(content), expectedVersion,
	).Int64()
	if err != nil {
		return "", fmt.Errorf("put %s@%s: %w", path, name, err)
	}
	switch result {
	case -1:
		return "", objectstore.ErrRefNotFound
	case -2:
		return "", objectstore.ErrVersionMismatch
	}
	return strconv.FormatInt(result, 10), nil
}

// ListRefs returns refs whose name starts with prefix.
func (s *Store) ListRefs(ctx context.Context, prefix string) ([]objectstore.Ref, error) {
	prefix = strings.TrimPrefix(strings.TrimSpace(prefix), "refs/heads/")
	all, err := s.rdb.HGetAll(ctx, s.refsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	var out []objectstore.Ref
	for name, tip := range all {
		if strings.HasPrefix(name, prefix) {
			out = append(out, objectstore.Ref{Name: name, Tip: tip})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DeleteRef removes the ref hash and its entry in the ref index.
func (s *Store) DeleteRef(ctx context.Context, name string) error {
	name = objectstore.NormalizeRef(name)
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, s.refKey(name))
		pipe.HDel(ctx, s.refsKey(), name)
		return nil
	})
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("delete ref %s: %w", name, err)
	}
	return nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

var _ objectstore.Store = (*Store)(nil)
