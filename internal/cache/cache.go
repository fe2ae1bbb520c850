package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Key layout:
//
//	bot:heartbeat:{mt5_account_id}          hash, TTL = heartbeat interval
//	config_version:account:{mt5_account_id} integer counter
//	config_version:strategy:{strategy_id}   integer counter
//
// The cache is a soft dependency. Every method swallows transport errors,
// logs them, and returns the conservative default, so a dead Redis never
// fails a request or blocks a database write. Liveness comes from key
// presence alone; the relational store stays the source of truth for
// configuration.

const (
	heartbeatPrefix       = "bot:heartbeat:"
	accountVersionPrefix  = "config_version:account:"
	strategyVersionPrefix = "config_version:strategy:"
	defaultHeartbeatTTL   = 60 * time.Second
)

// Heartbeat is the per-account liveness record the bot refreshes every cycle.
type Heartbeat struct {
	LastSeen       time.Time
	BotStatus      string
	CurrentBalance decimal.Decimal
	PeakBalance    decimal.Decimal
	DDBlocked      bool
	DDBlockReason  string
}

type Cache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// New connects to Redis. A failed ping is logged, not fatal: the returned
// cache still works once Redis comes back, and degrades softly until then.
func New(redisURL string, ttl time.Duration, timeout time.Duration, logger *slog.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	opts.DialTimeout = timeout
	opts.ReadTimeout = timeout
	opts.WriteTimeout = timeout
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("redis unreachable, running degraded", slog.Any("error", err))
	}
	if ttl <= 0 {
		ttl = defaultHeartbeatTTL
	}
	return &Cache{rdb: rdb, ttl: ttl, logger: logger}, nil
}

// NewWithClient wires an existing client, used by tests.
func NewWithClient(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = defaultHeartbeatTTL
	}
	return &Cache{rdb: rdb, ttl: ttl, logger: logger}
}

func (c *Cache) Close() error {
	return c.rdb.Close()
}

// RecordHeartbeat overwrites the account's heartbeat hash and resets its TTL.
// Presence of the key is the liveness signal; there is no separate flag.
func (c *Cache) RecordHeartbeat(ctx context.Context, mt5AccountID string, hb Heartbeat) bool {
	key := heartbeatPrefix + mt5AccountID
	fields := map[string]any{
		"last_seen":       hb.LastSeen.UTC().Format(time.RFC3339),
		"bot_status":      hb.BotStatus,
		"current_balance": hb.CurrentBalance.String(),
		"peak_balance":    hb.PeakBalance.String(),
		"dd_blocked":      boolString(hb.DDBlocked),
		"dd_block_reason": hb.DDBlockReason,
	}
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Error("record heartbeat failed", slog.String("account", mt5AccountID), slog.Any("error", err))
		return false
	}
	return true
}

// ReadHeartbeat returns nil when the key is absent, expired, or Redis is
// down. Callers must treat nil as "bot is DOWN" regardless of the bot_status
// column in the relational store.
func (c *Cache) ReadHeartbeat(ctx context.Context, mt5AccountID string) *Heartbeat {
	fields, err := c.rdb.HGetAll(ctx, heartbeatPrefix+mt5AccountID).Result()
	if err != nil {
		c.logger.Error("read heartbeat failed", slog.String("account", mt5AccountID), slog.Any("error", err))
		return nil
	}
	if len(fields) == 0 {
		return nil
	}
	return heartbeatFromFields(fields)
}

// ReadHeartbeatsBatch reads many accounts in one pipelined round trip.
// Missing or unreadable entries map to nil. A transport failure returns a
// map of all-nil entries so dashboards render every bot as DOWN.
func (c *Cache) ReadHeartbeatsBatch(ctx context.Context, mt5AccountIDs []string) map[string]*Heartbeat {
	result := make(map[string]*Heartbeat, len(mt5AccountIDs))
	for _, id := range mt5AccountIDs {
		result[id] = nil
	}
	if len(mt5AccountIDs) == 0 {
		return result
	}
	pipe := c.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(mt5AccountIDs))
	for i, id := range mt5AccountIDs {
		cmds[i] = pipe.HGetAll(ctx, heartbeatPrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Error("batch heartbeat read failed", slog.Any("error", err))
		return result
	}
	for i, id := range mt5AccountIDs {
		fields, err := cmds[i].Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		result[id] = heartbeatFromFields(fields)
	}
	return result
}

// BumpAccountConfigVersion atomically increments the account's counter and
// returns the new value. INCR on an absent key yields 1, which is exactly
// the required first-use initialization: the bot never observes 0 for a
// live account. Returns 0 only on transport failure.
func (c *Cache) BumpAccountConfigVersion(ctx context.Context, mt5AccountID string) int64 {
	version, err := c.rdb.Incr(ctx, accountVersionPrefix+mt5AccountID).Result()
	if err != nil {
		c.logger.Error("bump account version failed", slog.String("account", mt5AccountID), slog.Any("error", err))
		return 0
	}
	return version
}

// AccountConfigVersion returns the current counter, 0 when unset or on
// failure. The bot treats 0 / unknown as "changed" and re-fetches.
func (c *Cache) AccountConfigVersion(ctx context.Context, mt5AccountID string) int64 {
	return c.readCounter(ctx, accountVersionPrefix+mt5AccountID)
}

// BumpStrategyConfigVersion increments the global counter for one strategy.
// One bump is visible to every account running that strategy on its next
// heartbeat, without touching per-account keys.
func (c *Cache) BumpStrategyConfigVersion(ctx context.Context, strategyID string) int64 {
	version, err := c.rdb.Incr(ctx, strategyVersionPrefix+strategyID).Result()
	if err != nil {
		c.logger.Error("bump strategy version failed", slog.String("strategy", strategyID), slog.Any("error", err))
		return 0
	}
	return version
}

func (c *Cache) StrategyConfigVersion(ctx context.Context, strategyID string) int64 {
	return c.readCounter(ctx, strategyVersionPrefix+strategyID)
}

// ClearAccountKeys deletes the heartbeat and version keys of an account
// identity that is being abandoned (MT5 reset rotated the external id).
// Without this the orphaned version counter would never expire.
func (c *Cache) ClearAccountKeys(ctx context.Context, mt5AccountID string) bool {
	err := c.rdb.Del(ctx, heartbeatPrefix+mt5AccountID, accountVersionPrefix+mt5AccountID).Err()
	if err != nil {
		c.logger.Error("clear account keys failed", slog.String("account", mt5AccountID), slog.Any("error", err))
		return false
	}
	return true
}

func (c *Cache) readCounter(ctx context.Context, key string) int64 {
	value, err := c.rdb.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0
	}
	if err != nil {
		c.logger.Error("read counter failed", slog.String("key", key), slog.Any("error", err))
		return 0
	}
	return value
}

func heartbeatFromFields(fields map[string]string) *Heartbeat {
	hb := &Heartbeat{
		BotStatus:     fields["bot_status"],
		DDBlocked:     fields["dd_blocked"] == "true",
		DDBlockReason: fields["dd_block_reason"],
	}
	if ts, err := time.Parse(time.RFC3339, fields["last_seen"]); err == nil {
		hb.LastSeen = ts
	}
	if balance, err := decimal.NewFromString(fields["current_balance"]); err == nil {
		hb.CurrentBalance = balance
	}
	if peak, err := decimal.NewFromString(fields["peak_balance"]); err == nil {
		hb.PeakBalance = peak
	}
	return hb
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
