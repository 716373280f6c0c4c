package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// StatusChange is the payload published for every applied call-status
// transition, for dashboards and ops tooling that subscribe out-of-band.
type StatusChange struct {
	CampaignID string    `json:"campaign_id"`
	Recipient  string    `json:"recipient"`
	Status     string    `json:"status"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher fans call-status transitions out to interested consumers.
// Publishing is strictly best-effort: failures are logged and never block or
// fail call handling.
type Publisher interface {
	Publish(ctx context.Context, change StatusChange)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Publish(context.Context, StatusChange) {}

const channel = "dialcast:call_status"

// RedisPublisher publishes status changes on a Redis pub/sub channel.
type RedisPublisher struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewRedisPublisher(rdb *redis.Client, log *slog.Logger) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, log: log}
}

func (p *RedisPublisher) Publish(ctx context.Context, change StatusChange) {
	payload, err := json.Marshal(change)
	if err != nil {
		p.log.Error("status change marshal failed", "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		p.log.Warn("status change publish failed", "err", err)
	}
}
