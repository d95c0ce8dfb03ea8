package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"giveawaybot/internal/giveaway"
	logx "giveawaybot/pkg/logx"
)

// Redis layout, all under Prefix:
//
//	<p>:giveaways:<community>           hash  ref -> JSON of the immutable fields
//	<p>:giveaways:<community>:state     hash  ref -> "active" | "ended"
//	<p>:giveaways:<community>:ended_at  hash  ref -> unix ms
//	<p>:entries:<community>:<ref>       zset  user -> insertion sequence
//	<p>:entries:<community>:<ref>:seq   counter for the zset scores
//	<p>:active                          set   "<community>:<ref>"
//	<p>:audit                           stream
//
// Community and ref are escaped with EscapeKey. Every mutation is one Lua
// script, which Redis runs atomically.
type redisStore struct {
	rdb    *redis.Client
	prefix string
	log    logx.Logger
}

var (
	redisCreate = redis.NewScript(`
if redis.call('HEXISTS', KEYS[2], ARGV[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[2], ARGV[1], 'active')
redis.call('SADD', KEYS[3], ARGV[3])
return 1`)

	redisAddEntry = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], ARGV[1])
if not st then return -1 end
if st ~= 'active' then return -2 end
if redis.call('ZSCORE', KEYS[2], ARGV[2]) then return -3 end
local seq = redis.call('INCR', KEYS[3])
redis.call('ZADD', KEYS[2], seq, ARGV[2])
return redis.call('ZCARD', KEYS[2])`)

	redisRemoveEntry = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], ARGV[1])
if not st then return -1 end
if st ~= 'active' then return -2 end
if redis.call('ZREM', KEYS[2], ARGV[2]) == 0 then return -3 end
return redis.call('ZCARD', KEYS[2])`)

	redisEnd = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], ARGV[1])
if not st then return -1 end
if st ~= 'active' then return 0 end
redis.call('HSET', KEYS[1], ARGV[1], 'ended')
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('SREM', KEYS[3], ARGV[3])
return 1`)
)

type redisMeta struct {
	ExpiresAt    int64  `json:"expires_at"`
	Prize        string `json:"prize"`
	WinnerCount  int    `json:"winners"`
	RequiredRole string `json:"role,omitempty"`
	Message      string `json:"message,omitempty"`
	CreatedBy    string `json:"created_by,omitempty"`
	CreatedAt    int64  `json:"created_at"`
}

func openRedis(cfg RedisConfig, log logx.Logger) (*redisStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("redis addr is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		MaxRetries:      5,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
		PoolSize:        10,
	})
	return newRedisStore(rdb, cfg.Prefix, log), nil
}

func newRedisStore(rdb *redis.Client, prefix string, log logx.Logger) *redisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "giveawaybot"
	}
	return &redisStore{rdb: rdb, prefix: prefix, log: log}
}

func (s *redisStore) metaKey(community string) string {
	return s.prefix + ":giveaways:" + EscapeKey(community)
}
func (s *redisStore) stateKey(community string) string { return s.metaKey(community) + ":state" }
func (s *redisStore) endedKey(community string) string { return s.metaKey(community) + ":ended_at" }
func (s *redisStore) entriesKey(k giveaway.Key) string {
	return s.prefix + ":entries:" + EscapeKey(k.CommunityID) + ":" + EscapeKey(k.Reference)
}
func (s *redisStore) seqKey(k giveaway.Key) string { return s.entriesKey(k) + ":seq" }
func (s *redisStore) activeKey() string { return s.prefix + ":active" }
func (s *redisStore) auditKey() string { return s.prefix + ":audit" }

func activeMember(k giveaway.Key) string {
	return EscapeKey(k.CommunityID) + ":" + EscapeKey(k.Reference)
}

func parseActiveMember(m string) (giveaway.Key, bool) {
	c, r, ok := strings.Cut(m, ":")
	if !ok {
		return giveaway.Key{}, false
	}
	return giveaway.Key{CommunityID: UnescapeKey(c), Reference: UnescapeKey(r)}, true
}

func (s *redisStore) Close() error { return s.rdb.Close() }

func (s *redisStore) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

func (s *redisStore) Create(ctx context.Context, g giveaway.Giveaway) error {
	if err := checkNew(g); err != nil {
		return err
	}
	createdAt := g.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	meta, err := json.Marshal(redisMeta{
		ExpiresAt:    timeToMS(g.ExpiresAt),
		Prize:        g.Prize,
		WinnerCount:  g.WinnerCount,
		RequiredRole: g.RequiredRole,
		Message:      g.Message,
		CreatedBy:    g.CreatedBy,
		CreatedAt:    timeToMS(createdAt),
	})
	if err != nil {
		return err
	}
	key := g.Key()
	n, err := redisCreate.Run(ctx, s.rdb,
		[]string{s.metaKey(key.CommunityID), s.stateKey(key.CommunityID), s.activeKey()},
		EscapeKey(key.Reference), string(meta), activeMember(key),
	).Int64()
	if err != nil {
		return fmt.Errorf("redis create: %w", err)
	}
	if n == 0 {
		return giveaway.ErrExists
	}
	return nil
}

func (s *redisStore) Get(ctx context.Context, key giveaway.Key) (giveaway.Giveaway, error) {
	if err := checkKey(key); err != nil {
		return giveaway.Giveaway{}, err
	}
	field := EscapeKey(key.Reference)
	var (
		metaCmd, stateCmd, endedCmd *redis.StringCmd
		entriesCmd                  *redis.StringSliceCmd
	)
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		metaCmd = p.HGet(ctx, s.metaKey(key.CommunityID), field)
		stateCmd = p.HGet(ctx, s.stateKey(key.CommunityID), field)
		endedCmd = p.HGet(ctx, s.endedKey(key.CommunityID), field)
		entriesCmd = p.ZRange(ctx, s.entriesKey(key), 0, -1)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return giveaway.Giveaway{}, fmt.Errorf("redis get: %w", err)
	}

	state, err := stateCmd.Result()
	if errors.Is(err, redis.Nil) {
		return giveaway.Giveaway{}, giveaway.ErrNotFound
	}
	if err != nil {
		return giveaway.Giveaway{}, fmt.Errorf("redis get state: %w", err)
	}
	raw, err := metaCmd.Result()
	if err != nil {
		return giveaway.Giveaway{}, fmt.Errorf("redis get meta: %w", err)
	}
	var meta redisMeta
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return giveaway.Giveaway{}, fmt.Errorf("redis decode meta: %w", err)
	}
	entries, err := entriesCmd.Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return giveaway.Giveaway{}, fmt.Errorf("redis get entries: %w", err)
	}
	var endedMS int64
	if v, err := endedCmd.Result(); err == nil {
		endedMS, _ = strconv.ParseInt(v, 10, 64)
	}

	if entries == nil {
		entries = []string{}
	}
	return giveaway.Giveaway{
		CommunityID:  key.CommunityID,
		Reference:    key.Reference,
		State:        giveaway.State(state),
		ExpiresAt:    msToTime(meta.ExpiresAt),
		Prize:        meta.Prize,
		WinnerCount:  meta.WinnerCount,
		RequiredRole: meta.RequiredRole,
		Message:      meta.Message,
		CreatedBy:    meta.CreatedBy,
		CreatedAt:    msToTime(meta.CreatedAt),
		EndedAt:      msToTime(endedMS),
		Entries:      entries,
	}, nil
}

func (s *redisStore) ListActive(ctx context.Context) ([]giveaway.Giveaway, error) {
	members, err := s.rdb.SMembers(ctx, s.activeKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list active: %w", err)
	}
	out := make([]giveaway.Giveaway, 0, len(members))
	for _, m := range members {
		key, ok := parseActiveMember(m)
		if !ok {
			s.log.Warn("skipping malformed active member", logx.String("member", m))
			continue
		}
		g, err := s.Get(ctx, key)
		if errors.Is(err, giveaway.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		// A concurrent End may have landed between SMEMBERS and Get.
		if g.Active() {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

func (s *redisStore) runEntry(ctx context.Context, script *redis.Script, key giveaway.Key, userID string, noop error) (int, error) {
	if err := checkKey(key); err != nil {
		return 0, err
	}
	n, err := script.Run(ctx, s.rdb,
		[]string{s.stateKey(key.CommunityID), s.entriesKey(key), s.seqKey(key)},
		EscapeKey(key.Reference), userID,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis entry: %w", err)
	}
	switch n {
	case -1:
		return 0, giveaway.ErrNotFound
	case -2:
		return 0, giveaway.ErrNotActive
	case -3:
		return 0, noop
	}
	return int(n), nil
}

func (s *redisStore) AddEntry(ctx context.Context, key giveaway.Key, userID string) (int, error) {
	return s.runEntry(ctx, redisAddEntry, key, userID, giveaway.ErrAlreadyEntered)
}

func (s *redisStore) RemoveEntry(ctx context.Context, key giveaway.Key, userID string) (int, error) {
	return s.runEntry(ctx, redisRemoveEntry, key, userID, giveaway.ErrNotEntered)
}

func (s *redisStore) End(ctx context.Context, key giveaway.Key, at time.Time) (giveaway.Giveaway, bool, error) {
	if err := checkKey(key); err != nil {
		return giveaway.Giveaway{}, false, err
	}
	n, err := redisEnd.Run(ctx, s.rdb,
		[]string{s.stateKey(key.CommunityID), s.endedKey(key.CommunityID), s.activeKey()},
		EscapeKey(key.Reference), strconv.FormatInt(timeToMS(at), 10), activeMember(key),
	).Int64()
	if err != nil {
		return giveaway.Giveaway{}, false, fmt.Errorf("redis end: %w", err)
	}
	if n == -1 {
		return giveaway.Giveaway{}, false, giveaway.ErrNotFound
	}
	// Entries are frozen once the state hash says ended, so a read after the
	// script sees exactly the set the transition closed.
	g, err := s.Get(ctx, key)
	if err != nil {
		return giveaway.Giveaway{}, false, err
	}
	return g, n == 1, nil
}

func (s *redisStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.auditKey(),
		MaxLen: 10000,
		Approx: true,
		Values: map[string]any{
			"at":             e.At.Format(time.RFC3339Nano),
			"actor_id":       e.ActorID,
			"actor_username": e.ActorUsername,
			"chat_id":        e.ChatID,
			"component":      e.Component,
			"action":         e.Action,
			"target":         e.Target,
			"ok":             e.OK,
			"err":            e.Error,
			"took_ms":        e.TookMS,
			"meta":           e.MetaJSON,
		},
	}).Err()
}
