// Package alerting delivers alert events for terminal job failures to the
// configured notifiers.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	xerrors "AgentOS-Bridge/internal/errors"
	"AgentOS-Bridge/pkg/logger"
)

// Event 描述一次需要告警的事件。
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	JobID      string
	Attempts   int
	MaxRetries int
	Metadata   map[string]string
	OccurredAt time.Time
}

// Notifier 负责将事件发送到某个渠道。
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 接收事件并决定投递到哪些通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 将事件投递给所有通知器，单个通知器失败不影响其他通知器。
type FanoutDispatcher struct {
	notifiers   []Notifier
	minSeverity xerrors.Severity
}

// FanoutOption 配置 FanoutDispatcher。
type FanoutOption func(*FanoutDispatcher)

// WithMinSeverity 丢弃低于指定严重程度的事件。
func WithMinSeverity(sev xerrors.Severity) FanoutOption {
	return func(d *FanoutDispatcher) {
		d.minSeverity = sev
	}
}

// NewFanout 创建 FanoutDispatcher，同名通知器只保留最后一个。
func NewFanout(notifiers []Notifier, opts ...FanoutOption) *FanoutDispatcher {
	byName := make(map[string]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			byName[n.Name()] = n
		}
	}
	d := &FanoutDispatcher{}
	for _, n := range byName {
		d.notifiers = append(d.notifiers, n)
	}
	sort.Slice(d.notifiers, func(i, j int) bool { return d.notifiers[i].Name() < d.notifiers[j].Name() })
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify 将事件广播至所有通知器。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil || severityRank(event.Severity) < severityRank(d.minSeverity) {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("notifier %s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func severityRank(sev xerrors.Severity) int {
	switch sev {
	case xerrors.SeverityCritical:
		return 2
	case xerrors.SeverityWarning:
		return 1
	default:
		return 0
	}
}

// LogNotifier 将告警写入日志，Critical 级别同时写入审计日志。
type LogNotifier struct {
	Logger *slog.Logger
}

// Name 实现 Notifier。
func (n *LogNotifier) Name() string { return "log" }

// Notify 记录事件。
func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	log := n.Logger
	if log == nil {
		log = logger.Named("alerting")
	}
	attrs := []any{
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("job_id", event.JobID),
		slog.Int("attempts", event.Attempts),
		slog.Int("max_retries", event.MaxRetries),
		slog.Time("occurred_at", event.OccurredAt),
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.String(k, v))
	}
	switch event.Severity {
	case xerrors.SeverityCritical:
		log.Error(event.Message, attrs...)
		logger.Audit().Error("告警", attrs...)
	case xerrors.SeverityWarning:
		log.Warn(event.Message, attrs...)
	default:
		log.Info(event.Message, attrs...)
	}
	return nil
}

// Recorder 在内存中保留最近的告警，供健康检查接口展示。
type Recorder struct {
	mu     sync.Mutex
	limit  int
	events []Event
}

// NewRecorder 创建最多保留 limit 条事件的 Recorder。
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = 50
	}
	return &Recorder{limit: limit}
}

// Name 实现 Notifier。
func (r *Recorder) Name() string { return "recorder" }

// Notify 保存事件。
func (r *Recorder) Notify(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	if len(r.events) > r.limit {
		r.events = r.events[len(r.events)-r.limit:]
	}
	return nil
}

// Events 返回事件副本，最新的在最后。
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
