package port

// Topic 缓存主题：UI 层以只读方式按主题读取最新值
type Topic string

const (
	TopicStats     Topic = "stats"
	TopicSignals   Topic = "signals"
	TopicTrades    Topic = "trades"
	TopicAccount   Topic = "account"
	TopicPositions Topic = "positions"
)

// Cache is the topic-keyed read cache the router reconciles into.
// The router is the sole writer; entries are never deleted, the latest
// value persists for the session.
type Cache interface {
	Get(topic Topic) (any, bool)
	Set(topic Topic, value any)
}

// Notifier observes cache writes. Implementations carry the change
// notification to the UI layer (e.g. the redis publisher).
type Notifier interface {
	Notify(topic Topic, value any)
}
