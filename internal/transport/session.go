package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"

	xerrors "AgentOS-Bridge/internal/errors"
	"AgentOS-Bridge/internal/observability/metrics"
	"AgentOS-Bridge/pkg/logger"
)

// State 表示会话所处阶段。
type State int

const (
	StateConnecting State = iota
	StateReady
	StateDegraded
	StateClosed
)

// String 实现 fmt.Stringer。
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StateChange 通过 Subscribe 广播给订阅者。
type StateChange struct {
	From   State
	To     State
	Reason string
	At     time.Time
}

// ReconnectPolicy 控制 I/O 失败后的重新发现。
type ReconnectPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

type sessionOptions struct {
	reconnect      ReconnectPolicy
	maxFrameBytes  int
	chunkSize      int
	bytesPerSecond int
	inboundBuffer  int
	logger         *slog.Logger
}

// Option 定义会话的可选配置。
type Option func(*sessionOptions)

// WithReconnectPolicy 设置重连策略。
func WithReconnectPolicy(policy ReconnectPolicy) Option {
	return func(o *sessionOptions) {
		o.reconnect = policy
	}
}

// WithMaxFrameBytes 设置单帧上限。
func WithMaxFrameBytes(n int) Option {
	return func(o *sessionOptions) {
		o.maxFrameBytes = n
	}
}

// WithWritePacing 开启分块限速写出。
func WithWritePacing(chunkSize, bytesPerSecond int) Option {
	return func(o *sessionOptions) {
		o.chunkSize = chunkSize
		o.bytesPerSecond = bytesPerSecond
	}
}

// WithInboundBuffer 设置入站请求与事件的缓冲长度。
func WithInboundBuffer(n int) Option {
	return func(o *sessionOptions) {
		if n > 0 {
			o.inboundBuffer = n
		}
	}
}

// WithSessionLogger 指定日志输出。
func WithSessionLogger(l *slog.Logger) Option {
	return func(o *sessionOptions) {
		o.logger = l
	}
}

type result struct {
	frame Frame
	err   error
}

// Session 是一条存活的通道连接。它由调用方显式创建和关闭，不存在进程级全局状态。
//
// mu 保护关联表以及连接相关字段；调用方只在等待各自关联 ID 的响应时阻塞，阻塞期间不持有 mu。
// writeMu 串行化帧写出，加锁顺序为 writeMu → mu。
type Session struct {
	discoverer Discoverer
	endpoint   string
	opts       sessionOptions
	logger     *slog.Logger

	mu         sync.Mutex
	state      State
	conn       io.ReadWriteCloser
	enc        *Encoder
	ready      chan struct{}
	recovering bool
	pending    map[string]chan result
	inSeq      uint64
	outSeq     uint64
	closeErr   error

	writeMu   sync.Mutex
	inbound   chan Frame
	done      chan struct{}
	closeOnce sync.Once

	feed   event.Feed
	events chan StateChange
}

// Open 通过 discoverer 建立会话。发现失败时返回 ErrEndpointNotFound。
func Open(ctx context.Context, discoverer Discoverer, opts ...Option) (*Session, error) {
	options := sessionOptions{
		reconnect:     ReconnectPolicy{MaxAttempts: 5, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second},
		maxFrameBytes: DefaultMaxFrameBytes,
		inboundBuffer: 64,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.logger == nil {
		options.logger = logger.Named("transport")
	}

	s := &Session{
		discoverer: discoverer,
		endpoint:   fmt.Sprint(discoverer),
		opts:       options,
		logger:     options.logger,
		state:      StateConnecting,
		ready:      make(chan struct{}),
		pending:    make(map[string]chan result),
		inbound:    make(chan Frame, options.inboundBuffer),
		done:       make(chan struct{}),
		events:     make(chan StateChange, 64),
	}
	go s.dispatchEvents()
	metrics.SessionTransitions.WithLabelValues(StateConnecting.String()).Inc()

	conn, err := discoverer.Discover(ctx)
	if err != nil {
		s.shutdown(err)
		return nil, err
	}
	s.attach(conn)
	return s, nil
}

// Endpoint 返回对端描述。
func (s *Session) Endpoint() string {
	return s.endpoint
}

// State 返回当前状态。
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending 返回尚未得到响应的请求数量。
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Subscribe 订阅状态变化。订阅者需要持续读取 ch，直到收到 StateClosed 或取消订阅。
func (s *Session) Subscribe(ch chan<- StateChange) event.Subscription {
	return s.feed.Subscribe(ch)
}

// Send 发送一帧并分配序号。通道恢复期间帧被暂存，直到恢复成功或会话关闭。
func (s *Session) Send(ctx context.Context, f Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	for {
		enc, conn, err := s.acquire(ctx)
		if err != nil {
			return err
		}

		s.writeMu.Lock()
		s.mu.Lock()
		if s.conn != conn {
			s.mu.Unlock()
			s.writeMu.Unlock()
			continue
		}
		s.outSeq++
		f.Sequence = s.outSeq
		s.mu.Unlock()
		err = enc.Encode(f)
		s.writeMu.Unlock()

		if err == nil {
			metrics.FramesSent.WithLabelValues(string(f.Kind)).Inc()
			return nil
		}
		s.fail(conn, err)
	}
}

// Request 发送请求帧并等待关联的响应。
func (s *Session) Request(ctx context.Context, payload any) (Frame, error) {
	req, err := NewRequest(payload)
	if err != nil {
		return Frame{}, err
	}

	ch := make(chan result, 1)
	s.mu.Lock()
	if s.state == StateClosed {
		err := s.closedErrorLocked()
		s.mu.Unlock()
		return Frame{}, err
	}
	s.pending[req.CorrelationID] = ch
	s.mu.Unlock()
	defer s.forget(req.CorrelationID)

	if err := s.Send(ctx, req); err != nil {
		return Frame{}, err
	}
	select {
	case r := <-ch:
		return r.frame, r.err
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// Reply 针对收到的请求帧发送响应。
func (s *Session) Reply(ctx context.Context, req Frame, payload any) error {
	resp, err := req.Response(payload)
	if err != nil {
		return err
	}
	return s.Send(ctx, resp)
}

// Notify 发送不期待响应的事件帧。
func (s *Session) Notify(ctx context.Context, payload any) error {
	ev, err := NewEvent(payload)
	if err != nil {
		return err
	}
	return s.Send(ctx, ev)
}

// Receive 返回下一条入站请求或事件帧，响应帧由关联表直接分发。
func (s *Session) Receive(ctx context.Context) (Frame, error) {
	select {
	case f := <-s.inbound:
		return f, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-s.done:
		select {
		case f := <-s.inbound:
			return f, nil
		default:
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		return Frame{}, s.closedErrorLocked()
	}
}

// Close 关闭会话，所有等待中的请求以 ErrClosed 失败。
func (s *Session) Close() error {
	s.shutdown(xerrors.New(CodeClosed, "会话已关闭"))
	return nil
}

func (s *Session) acquire(ctx context.Context) (*Encoder, io.ReadWriteCloser, error) {
	for {
		s.mu.Lock()
		if s.state == StateClosed {
			err := s.closedErrorLocked()
			s.mu.Unlock()
			return nil, nil, err
		}
		ready := s.ready
		select {
		case <-ready:
			enc, conn := s.enc, s.conn
			s.mu.Unlock()
			return enc, conn, nil
		default:
		}
		s.mu.Unlock()

		select {
		case <-ready:
		case <-s.done:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
}

func (s *Session) attach(conn io.ReadWriteCloser) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conn = conn
	s.enc = NewEncoder(newPacedWriter(conn, s.opts.chunkSize, s.opts.bytesPerSecond))
	s.inSeq, s.outSeq = 0, 0
	s.recovering = false
	prev := s.state
	s.state = StateReady
	close(s.ready)
	s.mu.Unlock()

	s.emit(prev, StateReady, "connected")
	go s.readLoop(conn)
}

func (s *Session) readLoop(conn io.ReadWriteCloser) {
	dec := NewDecoder(conn, s.opts.maxFrameBytes)
	dec.OnDiscard(func(reason string) {
		metrics.FramesDiscarded.WithLabelValues(reason).Inc()
		s.logger.Debug("丢弃无效数据", slog.String("reason", reason))
	})
	for {
		f, err := dec.Decode()
		if err != nil {
			s.fail(conn, err)
			return
		}
		metrics.FramesReceived.WithLabelValues(string(f.Kind)).Inc()
		if !s.accept(conn, f) {
			continue
		}
		if f.Kind == KindResponse {
			s.resolve(f)
			continue
		}
		select {
		case s.inbound <- f:
		case <-s.done:
			return
		default:
			// 无人消费时丢弃请求与事件，避免阻塞后续响应的关联。
			metrics.FramesDiscarded.WithLabelValues("inbound_full").Inc()
			s.logger.Warn("入站缓冲已满，丢弃帧",
				slog.String("correlation_id", f.CorrelationID), slog.String("kind", string(f.Kind)))
		}
	}
}

// accept 校验入站序号：缺口触发 Degraded，重复或倒序的帧被丢弃，序号 1 视为对端重启。
func (s *Session) accept(conn io.ReadWriteCloser, f Frame) bool {
	s.mu.Lock()
	if s.conn != conn || s.state == StateClosed {
		s.mu.Unlock()
		return false
	}
	expected := s.inSeq + 1
	var change *StateChange
	switch {
	case f.Sequence == expected:
		s.inSeq = f.Sequence
		if s.state == StateDegraded && !s.recovering {
			change = &StateChange{From: s.state, To: StateReady, Reason: "sequence resumed"}
			s.state = StateReady
		}
	case f.Sequence > expected:
		change = &StateChange{From: s.state, To: StateDegraded, Reason: fmt.Sprintf("sequence gap: expected %d, got %d", expected, f.Sequence)}
		s.state = StateDegraded
		s.inSeq = f.Sequence
	case f.Sequence == 1:
		s.inSeq = 1
	default:
		s.mu.Unlock()
		metrics.FramesDiscarded.WithLabelValues("out_of_order").Inc()
		return false
	}
	s.mu.Unlock()

	if change != nil {
		s.emit(change.From, change.To, change.Reason)
	}
	return true
}

func (s *Session) resolve(f Frame) {
	s.mu.Lock()
	ch, ok := s.pending[f.CorrelationID]
	if ok {
		delete(s.pending, f.CorrelationID)
	}
	s.mu.Unlock()
	if !ok {
		metrics.FramesDiscarded.WithLabelValues("unknown_correlation").Inc()
		s.logger.Debug("丢弃未知关联 ID 的响应", slog.String("correlation_id", f.CorrelationID))
		return
	}
	ch <- result{frame: f}
}

func (s *Session) forget(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// fail 处理某个连接上的 I/O 错误。对同一连接只生效一次，随后进入恢复流程。
func (s *Session) fail(conn io.ReadWriteCloser, cause error) {
	s.mu.Lock()
	if s.conn != conn || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	_ = conn.Close()
	s.conn, s.enc = nil, nil
	s.ready = make(chan struct{})
	s.recovering = true
	prev := s.state
	s.state = StateDegraded
	s.mu.Unlock()

	s.logger.Warn("通道 I/O 失败，开始重新发现", slog.String("endpoint", s.endpoint), slog.Any("error", cause))
	s.emit(prev, StateDegraded, cause.Error())
	go s.recover(cause)
}

func (s *Session) recover(cause error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	policy := s.opts.reconnect
	delay := policy.BaseDelay
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		conn, err := s.discoverer.Discover(ctx)
		if err == nil {
			metrics.Reconnects.WithLabelValues("succeeded").Inc()
			s.logger.Info("通道恢复", slog.String("endpoint", s.endpoint), slog.Int("attempt", attempt))
			s.attach(conn)
			return
		}
		metrics.Reconnects.WithLabelValues("failed").Inc()
		s.logger.Warn("重新发现失败", slog.Int("attempt", attempt), slog.Any("error", err))
		if delay *= 2; policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
	s.shutdown(xerrors.Wrap(CodeClosed, cause, fmt.Sprintf("重连 %d 次后仍失败", policy.MaxAttempts)))
}

func (s *Session) shutdown(cause error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		prev := s.state
		s.state = StateClosed
		s.closeErr = cause
		conn := s.conn
		s.conn, s.enc = nil, nil
		pending := s.pending
		s.pending = make(map[string]chan result)
		s.mu.Unlock()

		if conn != nil {
			_ = conn.Close()
		}
		failure := s.closedError()
		for _, ch := range pending {
			ch <- result{err: failure}
		}
		reason := "closed"
		if cause != nil {
			reason = cause.Error()
		}
		s.emit(prev, StateClosed, reason)
		close(s.done)
		logger.Audit().Info("通道会话关闭",
			slog.String("endpoint", s.endpoint),
			slog.Int("released_requests", len(pending)),
			slog.String("reason", reason),
		)
	})
}

func (s *Session) closedError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closedErrorLocked()
}

func (s *Session) closedErrorLocked() error {
	if e, ok := xerrors.From(s.closeErr); ok && e.Code() == CodeClosed {
		return e
	}
	if s.closeErr != nil {
		return xerrors.Wrap(CodeClosed, s.closeErr, "通道已关闭")
	}
	return ErrClosed
}

func (s *Session) emit(from, to State, reason string) {
	metrics.SessionTransitions.WithLabelValues(to.String()).Inc()
	select {
	case s.events <- StateChange{From: from, To: to, Reason: reason, At: time.Now()}:
	default:
		s.logger.Warn("状态事件缓冲已满，丢弃事件", slog.String("to", to.String()))
	}
}

// dispatchEvents 将状态事件按顺序投递给订阅者，会话关闭后投递剩余事件再退出。
func (s *Session) dispatchEvents() {
	for {
		select {
		case ev := <-s.events:
			s.feed.Send(ev)
		case <-s.done:
			for {
				select {
				case ev := <-s.events:
					s.feed.Send(ev)
				default:
					return
				}
			}
		}
	}
}
