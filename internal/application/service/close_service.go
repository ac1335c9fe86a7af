package service

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"bridgesync/internal/application/port"
	"bridgesync/internal/domain"
)

// DefaultPendingWindow 乐观超时：无论服务端是否真正平仓，
// 到期后一律清除 pending 状态
const DefaultPendingWindow = 3 * time.Second

var (
	// ErrAlreadyPending 错误：该 ticket 已有命令在途（提示用户，不重试）
	ErrAlreadyPending = errors.New("close already pending for ticket")

	// ErrNotConnected 错误：连接非 Open 状态（提示用户，不排队不重试）
	ErrNotConnected = errors.New("bridge not connected")
)

// PendingAction 一条在途命令的记录
type PendingAction struct {
	Ticket    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type pendingEntry struct {
	action PendingAction
	timer  *time.Timer
}

// PendingTracker keeps at most one in-flight close command per ticket.
// Entries expire unconditionally after the window; there is no server
// acknowledgment in this protocol.
type PendingTracker struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]*pendingEntry
}

func NewPendingTracker(window time.Duration) *PendingTracker {
	if window <= 0 {
		window = DefaultPendingWindow
	}
	return &PendingTracker{
		window:  window,
		entries: make(map[string]*pendingEntry),
	}
}

// Begin reserves the ticket. Returns ErrAlreadyPending if in flight.
func (t *PendingTracker) Begin(ticket string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[ticket]; ok {
		return ErrAlreadyPending
	}

	now := time.Now()
	t.entries[ticket] = &pendingEntry{
		action: PendingAction{
			Ticket:    ticket,
			CreatedAt: now,
			ExpiresAt: now.Add(t.window),
		},
		timer: time.AfterFunc(t.window, func() { t.expire(ticket) }),
	}
	return nil
}

// Cancel removes a reservation early (rollback when the send fails).
func (t *PendingTracker) Cancel(ticket string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[ticket]; ok {
		e.timer.Stop()
		delete(t.entries, ticket)
	}
}

func (t *PendingTracker) IsPending(ticket string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[ticket]
	return ok
}

// Pending returns a snapshot of the in-flight actions (UI reads this).
func (t *PendingTracker) Pending() []PendingAction {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]PendingAction, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.action)
	}
	return out
}

// Stop cancels all expiry timers. Safe to call more than once.
func (t *PendingTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for ticket, e := range t.entries {
		e.timer.Stop()
		delete(t.entries, ticket)
	}
}

func (t *PendingTracker) expire(ticket string) {
	t.mu.Lock()
	_, ok := t.entries[ticket]
	delete(t.entries, ticket)
	t.mu.Unlock()
	if ok {
		log.Debug().Str("ticket", ticket).Msg("pending close expired")
	}
}

// CloseService dispatches close_position commands, gated on connection
// state and deduplicated per ticket.
type CloseService struct {
	conn    port.CommandConn
	pending *PendingTracker
}

func NewCloseService(conn port.CommandConn, pending *PendingTracker) *CloseService {
	return &CloseService{conn: conn, pending: pending}
}

// RequestClose 下发平仓命令：
// 1) ticket 已在途 → ErrAlreadyPending，无网络副作用
// 2) 连接非 Open → ErrNotConnected，无网络副作用
// 3) 发送 close_position 帧并登记 pending，窗口到期自动清除
func (s *CloseService) RequestClose(ticket string) error {
	if s.pending.IsPending(ticket) {
		return ErrAlreadyPending
	}
	if !s.conn.IsOpen() {
		return ErrNotConnected
	}
	if err := s.pending.Begin(ticket); err != nil {
		return err
	}
	if err := s.conn.SendCommand(domain.NewClosePositionFrame(ticket)); err != nil {
		s.pending.Cancel(ticket)
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	log.Info().Str("ticket", ticket).Msg("close_position dispatched")
	return nil
}

// Tracker exposes the pending tracker for UI reads.
func (s *CloseService) Tracker() *PendingTracker {
	return s.pending
}
