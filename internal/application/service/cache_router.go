package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"bridgesync/internal/application/port"
	"bridgesync/internal/domain"
)

// maxListEntries 列表型主题（signals/trades）的上限，最新在前
const maxListEntries = 50

// CacheRouter applies the per-tag reconciliation rules to the cache.
// It is the sole cache writer; the session run loop calls Handle for
// each decoded frame, one at a time, in arrival order.
type CacheRouter struct {
	cache port.Cache
	repo  port.Repository // optional history journal, may be nil
}

func NewCacheRouter(cache port.Cache, repo port.Repository) *CacheRouter {
	return &CacheRouter{cache: cache, repo: repo}
}

func (r *CacheRouter) Handle(ctx context.Context, f *domain.Frame) {
	switch f.Kind {
	case domain.FrameSignal:
		r.applySignal(ctx, f.Signal)

	case domain.FrameTrade:
		r.applyTrade(ctx, f.Payload)

	case domain.FrameStats:
		// 整体替换 stats 快照
		r.cache.Set(port.TopicStats, f.Stats)

	case domain.FrameConnectionStatus:
		r.applyConnectionStatus(f.Status)

	case domain.FrameAccountInfo:
		r.cache.Set(port.TopicAccount, f.Payload)

	case domain.FramePositionList:
		// 服务端权威快照，整体替换，不做合并去重
		r.cache.Set(port.TopicPositions, f.Payload)

	case domain.FramePing:
		// keepalive is client→server only; nothing to reconcile

	default:
		log.Warn().Str("kind", string(f.Kind)).Msg("frame kind without route")
	}
}

// applySignal 按 id 原位替换，否则前插；截断到 maxListEntries
func (r *CacheRouter) applySignal(ctx context.Context, sig *domain.Signal) {
	var prev []domain.Signal
	if v, ok := r.cache.Get(port.TopicSignals); ok {
		prev, _ = v.([]domain.Signal)
	}

	replaced := false
	next := make([]domain.Signal, 0, len(prev)+1)
	for _, s := range prev {
		if s.ID == sig.ID {
			next = append(next, *sig)
			replaced = true
			continue
		}
		next = append(next, s)
	}
	if !replaced {
		next = append([]domain.Signal{*sig}, next...)
	}
	if len(next) > maxListEntries {
		next = next[:maxListEntries]
	}
	r.cache.Set(port.TopicSignals, next)

	r.journalSignal(ctx, sig)
}

func (r *CacheRouter) applyTrade(ctx context.Context, payload json.RawMessage) {
	var prev []json.RawMessage
	if v, ok := r.cache.Get(port.TopicTrades); ok {
		prev, _ = v.([]json.RawMessage)
	}

	next := make([]json.RawMessage, 0, len(prev)+1)
	next = append(next, payload)
	next = append(next, prev...)
	if len(next) > maxListEntries {
		next = next[:maxListEntries]
	}
	r.cache.Set(port.TopicTrades, next)

	if r.repo != nil {
		if err := r.repo.InsertTrade(ctx, time.Now().UnixMilli(), string(payload)); err != nil {
			log.Warn().Err(err).Msg("trade journal insert failed")
		}
	}
}

// applyConnectionStatus 浅合并 isConnected，保留 stats 其余字段
func (r *CacheRouter) applyConnectionStatus(st *domain.ConnectionStatus) {
	var prev map[string]any
	if v, ok := r.cache.Get(port.TopicStats); ok {
		prev, _ = v.(map[string]any)
	}

	next := make(map[string]any, len(prev)+1)
	for k, v := range prev {
		next[k] = v
	}
	next["isConnected"] = st.IsConnected
	r.cache.Set(port.TopicStats, next)
}

func (r *CacheRouter) journalSignal(ctx context.Context, sig *domain.Signal) {
	if r.repo == nil {
		return
	}
	if err := r.repo.InsertSignal(ctx, time.Now().UnixMilli(), sig.ID, string(sig.Payload)); err != nil {
		log.Warn().Err(err).Str("id", sig.ID).Msg("signal journal insert failed")
	}
}
