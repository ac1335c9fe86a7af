package redis

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"bridgesync/internal/application/port"
)

// Publisher 将缓存写入镜像到 Redis，并在频道上发布变更主题，
// 作为 UI 层的变更通知机制。失败只记录日志，不影响缓存一致性。
type Publisher struct {
	rdb       *redis.Client
	keyLatest string // prefix + ":latest"
	channel   string
}

func New(rdb *redis.Client, prefix, channel string) *Publisher {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "bridgesync"
	}
	if strings.TrimSpace(channel) == "" {
		channel = prefix + ":updates"
	}
	return &Publisher{
		rdb:       rdb,
		keyLatest: prefix + ":latest",
		channel:   channel,
	}
}

// Notify implements port.Notifier.
func (p *Publisher) Notify(topic port.Topic, value any) {
	b, err := json.Marshal(value)
	if err != nil {
		log.Warn().Err(err).Str("topic", string(topic)).Msg("cache mirror marshal failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Hash: field = topic -> latest json; Publish 只携带主题名
	pipe := p.rdb.Pipeline()
	pipe.HSet(ctx, p.keyLatest, string(topic), string(b))
	pipe.Publish(ctx, p.channel, string(topic))
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("topic", string(topic)).Msg("cache mirror failed")
	}
}
