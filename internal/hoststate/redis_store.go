// Package hoststate keeps compact per-source incident counters in Redis so
// repeat offenders can be listed across correlator restarts.
package hoststate

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"threatlens/pkg/models"
)

// DefaultKeyPrefix namespaces every key written by the store.
const DefaultKeyPrefix = "threatlens:host_state"

// RedisConfig configures Redis access for host-state persistence.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// HostState is the accumulated incident history of one source address.
type HostState struct {
	IP             string    `json:"ip"`
	IncidentCount  int64     `json:"incident_count"`
	MaxRiskScore   int64     `json:"max_risk_score"`
	Classification string    `json:"last_classification"`
	FirstSeen      time.Time `json:"first_seen,omitzero"`
	LastSeen       time.Time `json:"last_seen,omitzero"`
	UpdatedAt      time.Time `json:"updated_at,omitzero"`
}

// WatchEntry is a host flagged for follow-up.
type WatchEntry struct {
	HostState
	Repeat   bool `json:"repeat"`
	HighRisk bool `json:"high_risk"`
}

// RedisStore records aggregated views per source host.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore constructs a Redis-backed host-state store.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis host-state: %w", err)
	}

	return &RedisStore{client: client, prefix: strings.TrimSpace(cfg.KeyPrefix), now: time.Now}, nil
}

// WriteView folds one aggregated view into the state of its source host.
func (s *RedisStore) WriteView(view *models.AggregatedView) error {
	if view == nil {
		return nil
	}
	ip := strings.TrimSpace(view.Analysis.SourceIP)
	if ip == "" || ip == models.Unknown {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	seen := view.UpdatedAt
	if seen.IsZero() {
		seen = s.now()
	}
	ts := float64(seen.Unix())
	nowUnix := s.now().Unix()
	risk := float64(view.Analysis.RiskScore)

	pipe := s.client.TxPipeline()
	stateKey := s.hostKey(ip)
	pipe.HSet(ctx, stateKey,
		"ip", ip,
		"classification", view.Analysis.Classification,
		"updated_at", strconv.FormatInt(nowUnix, 10),
	)
	pipe.HIncrBy(ctx, stateKey, "incident_count", 1)
	pipe.ZAddArgs(ctx, s.riskSetKey(), redis.ZAddArgs{GT: true, Members: []redis.Z{{Score: risk, Member: ip}}})
	pipe.ZAddArgs(ctx, s.firstSetKey(), redis.ZAddArgs{LT: true, Members: []redis.Z{{Score: ts, Member: ip}}})
	pipe.ZAddArgs(ctx, s.lastSetKey(), redis.ZAddArgs{GT: true, Members: []redis.Z{{Score: ts, Member: ip}}})
	pipe.ZAdd(ctx, s.activeSetKey(), redis.Z{Score: float64(nowUnix), Member: ip})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update host-state redis keys: %w", err)
	}
	return nil
}

// FetchActiveSince returns hosts updated at or after since, most recently
// active first, so limit drops the stalest hosts.
func (s *RedisStore) FetchActiveSince(ctx context.Context, since time.Time, limit int64) ([]HostState, error) {
	if limit <= 0 {
		limit = 1000
	}
	members, err := s.client.ZRevRangeByScore(ctx, s.activeSetKey(), &redis.ZRangeBy{
		Min:   strconv.FormatInt(since.Unix(), 10),
		Max:   "+inf",
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("read active hosts: %w", err)
	}

	states := make([]HostState, 0, len(members))
	for _, ip := range members {
		hash, err := s.client.HGetAll(ctx, s.hostKey(ip)).Result()
		if err != nil {
			return nil, fmt.Errorf("read host %s: %w", ip, err)
		}
		if len(hash) == 0 {
			continue
		}
		st := stateFromHash(ip, hash)
		if risk, err := s.client.ZScore(ctx, s.riskSetKey(), ip).Result(); err == nil {
			st.MaxRiskScore = int64(risk)
		}
		if first, err := s.client.ZScore(ctx, s.firstSetKey(), ip).Result(); err == nil && first > 0 {
			st.FirstSeen = time.Unix(int64(first), 0).UTC()
		}
		if last, err := s.client.ZScore(ctx, s.lastSetKey(), ip).Result(); err == nil && last > 0 {
			st.LastSeen = time.Unix(int64(last), 0).UTC()
		}
		states = append(states, st)
	}
	return states, nil
}

// Close closes Redis resources.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Watchlist keeps hosts seen in more than one incident or whose worst score
// exceeded threshold.
func Watchlist(states []HostState, threshold int64) []WatchEntry {
	out := make([]WatchEntry, 0, len(states))
	for _, st := range states {
		entry := WatchEntry{
			HostState: st,
			Repeat:    st.IncidentCount > 1,
			HighRisk:  st.MaxRiskScore > threshold,
		}
		if entry.Repeat || entry.HighRisk {
			out = append(out, entry)
		}
	}
	return out
}

func stateFromHash(ip string, hash map[string]string) HostState {
	count, _ := strconv.ParseInt(hash["incident_count"], 10, 64)
	st := HostState{
		IP:             ip,
		IncidentCount:  count,
		Classification: hash["classification"],
	}
	if updated, _ := strconv.ParseInt(hash["updated_at"], 10, 64); updated > 0 {
		st.UpdatedAt = time.Unix(updated, 0).UTC()
	}
	return st
}

func (s *RedisStore) hostKey(ip string) string {
	return s.prefix + ":host:" + ip
}

func (s *RedisStore) riskSetKey() string {
	return s.prefix + ":max_risk"
}

func (s *RedisStore) firstSetKey() string {
	return s.prefix + ":first"
}

func (s *RedisStore) lastSetKey() string {
	return s.prefix + ":last"
}

func (s *RedisStore) activeSetKey() string {
	return s.prefix + ":active"
}
