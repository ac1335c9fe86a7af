package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"bridgesync/internal/domain"
)

// State 连接状态机：Idle → Connecting → Open → Closed → (固定延迟) → Connecting
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	DefaultReconnectDelay  = 3 * time.Second
	DefaultKeepalivePeriod = 25 * time.Second
	DefaultHealthPeriod    = 4 * time.Minute
	DefaultDialTimeout     = 10 * time.Second

	writeWait = 5 * time.Second
)

// ErrNotOpen 错误：连接非 Open 状态时尝试发送
var ErrNotOpen = errors.New("session not open")

// FrameHandler consumes decoded inbound frames, one at a time,
// in arrival order.
type FrameHandler interface {
	Handle(ctx context.Context, f *domain.Frame)
}

// Conn is the slice of *websocket.Conn the session uses; tests swap in
// a scripted fake through Options.Dial.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type DialFunc func(ctx context.Context, url string) (Conn, error)

// Options 会话配置；零值时长回退到协议默认
type Options struct {
	URL       string
	HealthURL string // empty disables the health probe
	Handler   FrameHandler

	ReconnectDelay  time.Duration
	KeepalivePeriod time.Duration
	HealthPeriod    time.Duration
	DialTimeout     time.Duration

	Dial DialFunc // nil → gorilla dialer
}

func (o *Options) applyDefaults() {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.KeepalivePeriod <= 0 {
		o.KeepalivePeriod = DefaultKeepalivePeriod
	}
	if o.HealthPeriod <= 0 {
		o.HealthPeriod = DefaultHealthPeriod
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.Dial == nil {
		o.Dial = gorillaDial
	}
}

func gorillaDial(ctx context.Context, url string) (Conn, error) {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return c, nil
}

type dialOutcome struct {
	conn Conn
	err  error
}

// Session owns one outbound persistent connection: reconnect policy,
// keepalive pings and the independent backend health probe. All socket
// and timer handles live inside the run loop; nothing else may touch
// them.
type Session struct {
	opts Options

	ctx    context.Context
	cancel context.CancelFunc

	started  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}

	state atomic.Int32

	// guards conn for concurrent writers (run loop pings + command sends)
	mu   sync.Mutex
	conn Conn
}

func NewSession(opts Options) *Session {
	opts.applyDefaults()
	s := &Session{
		opts: opts,
		done: make(chan struct{}),
	}
	s.state.Store(int32(StateIdle))
	return s
}

// Start 启动会话：连接循环 + 健康探测循环。只能调用一次。
func (s *Session) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	go s.run()
	if s.opts.HealthURL != "" {
		go s.healthLoop()
	}
}

// Stop 幂等拆除：取消重连定时器、保活定时器、健康探测并关闭套接字。
// 重复调用安全。
func (s *Session) Stop() {
	if !s.started.Load() {
		return
	}
	s.stopOnce.Do(func() {
		s.cancel()
		<-s.done
	})
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) IsOpen() bool {
	return s.State() == StateOpen
}

// SendCommand writes one outbound frame, gated on the Open state.
func (s *Session) SendCommand(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != StateOpen || s.conn == nil {
		return ErrNotOpen
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

func (s *Session) setState(next State) {
	prev := State(s.state.Swap(int32(next)))
	if prev != next {
		log.Debug().Str("from", prev.String()).Str("to", next.String()).Msg("bridge state")
	}
}

// run 是唯一持有连接与定时器句柄的事件循环。
// 入站帧逐条按到达顺序处理，不存在并发解码/分发。
func (s *Session) run() {
	defer close(s.done)

	var (
		dialResult  = make(chan dialOutcome, 1)
		dialPending bool

		frames   chan []byte
		readErr  chan error
		connDone chan struct{}

		keepalive *time.Ticker
		reconnect *time.Timer
	)

	teardownConn := func() {
		if keepalive != nil {
			keepalive.Stop()
			keepalive = nil
		}
		if connDone != nil {
			close(connDone)
			connDone = nil
		}
		s.mu.Lock()
		if s.conn != nil {
			_ = s.conn.Close()
			s.conn = nil
		}
		s.mu.Unlock()
		frames = nil
		readErr = nil
	}

	s.beginDial(dialResult)
	dialPending = true

	for {
		var keepaliveC <-chan time.Time
		if keepalive != nil {
			keepaliveC = keepalive.C
		}
		var reconnectC <-chan time.Time
		if reconnect != nil {
			reconnectC = reconnect.C
		}

		select {
		case <-s.ctx.Done():
			// 会话结束：四项拆除必须全部发生，即使部分已触发
			if reconnect != nil {
				reconnect.Stop()
				reconnect = nil
			}
			teardownConn()
			if dialPending {
				// 迟到的拨号结果不能泄漏句柄
				go func() {
					if out := <-dialResult; out.conn != nil {
						_ = out.conn.Close()
					}
				}()
			}
			s.setState(StateClosed)
			return

		case out := <-dialResult:
			dialPending = false
			if out.err != nil {
				log.Error().Err(out.err).Str("url", s.opts.URL).Msg("bridge dial failed")
				s.setState(StateClosed)
				reconnect = time.NewTimer(s.opts.ReconnectDelay)
				continue
			}
			s.mu.Lock()
			s.conn = out.conn
			s.mu.Unlock()
			s.setState(StateOpen)
			log.Info().Str("url", s.opts.URL).Msg("bridge connected")

			keepalive = time.NewTicker(s.opts.KeepalivePeriod)
			frames = make(chan []byte, 256)
			readErr = make(chan error, 1)
			connDone = make(chan struct{})
			go readLoop(out.conn, frames, readErr, connDone)

		case <-reconnectC:
			reconnect = nil
			s.beginDial(dialResult)
			dialPending = true

		case <-keepaliveC:
			s.sendPing()

		case raw := <-frames:
			f, err := domain.DecodeFrame(raw)
			if err != nil {
				// 解码失败：记录并丢帧，连接保持打开
				log.Warn().Err(err).Msg("bridge frame dropped")
				continue
			}
			if s.opts.Handler != nil {
				s.opts.Handler.Handle(s.ctx, f)
			}

		case err := <-readErr:
			log.Warn().Err(err).Msg("bridge disconnected, reconnect scheduled")
			teardownConn()
			s.setState(StateClosed)
			reconnect = time.NewTimer(s.opts.ReconnectDelay)
		}
	}
}

// beginDial 异步拨号，循环保持响应；同一时刻至多一个拨号在途
func (s *Session) beginDial(result chan<- dialOutcome) {
	s.setState(StateConnecting)
	go func() {
		dctx, cancel := context.WithTimeout(s.ctx, s.opts.DialTimeout)
		defer cancel()
		c, err := s.opts.Dial(dctx, s.opts.URL)
		result <- dialOutcome{conn: c, err: err}
	}()
}

func (s *Session) sendPing() {
	if err := s.SendCommand(domain.NewPingFrame(time.Now().UnixMilli())); err != nil {
		log.Warn().Err(err).Msg("keepalive ping failed")
	}
}

// readLoop 将入站字节送入 frames；出错后通过 readErr 通知循环。
// connDone 关闭后不再投递，避免拆除竞态。
func readLoop(conn Conn, frames chan<- []byte, readErr chan<- error, connDone <-chan struct{}) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErr <- err:
			case <-connDone:
			}
			return
		}
		select {
		case frames <- raw:
		case <-connDone:
			return
		}
	}
}
