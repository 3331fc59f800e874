package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"

	xerrors "AgentOS-Bridge/internal/errors"
	"AgentOS-Bridge/pkg/logger"
)

// Discoverer 定位并连接对端端点。
type Discoverer interface {
	Discover(ctx context.Context) (io.ReadWriteCloser, error)
}

// Policy 控制轮询发现的节奏与上限。MaxAttempts 为 0 表示仅受 Timeout 约束。
type Policy struct {
	Interval    time.Duration
	Timeout     time.Duration
	MaxAttempts int
}

// DefaultPolicy 与内核侧桥接脚本保持一致：每秒探测一次。
func DefaultPolicy() Policy {
	return Policy{Interval: time.Second, Timeout: time.Minute}
}

// Poller 按照 Policy 反复拨号直到成功、超时或次数耗尽。
type Poller struct {
	dialer Dialer
	policy Policy
	logger *slog.Logger
}

// NewPoller 创建 Poller。
func NewPoller(dialer Dialer, policy Policy) *Poller {
	if policy.Interval <= 0 {
		policy.Interval = time.Second
	}
	return &Poller{dialer: dialer, policy: policy, logger: logger.Named("transport.discovery")}
}

// String 返回端点描述。
func (p *Poller) String() string {
	return p.dialer.String()
}

// Discover 实现 Discoverer。超时或次数耗尽时返回 ErrEndpointNotFound。
func (p *Poller) Discover(ctx context.Context) (io.ReadWriteCloser, error) {
	parent := ctx
	if p.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.policy.Timeout)
		defer cancel()
	}
	wake := p.watch(ctx)

	var lastErr error
	attempt := 0
	for {
		attempt++
		conn, err := p.dialer.Dial(ctx)
		if err == nil {
			p.logger.Info("发现对端", slog.String("endpoint", p.dialer.String()), slog.Int("attempt", attempt))
			return conn, nil
		}
		lastErr = err
		p.logger.Debug("对端尚未就绪", slog.String("endpoint", p.dialer.String()), slog.Int("attempt", attempt), slog.Any("error", err))
		if p.policy.MaxAttempts > 0 && attempt >= p.policy.MaxAttempts {
			break
		}

		timer := time.NewTimer(p.policy.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			if parent.Err() != nil {
				return nil, parent.Err()
			}
			return nil, p.notFound(attempt, lastErr)
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
	return nil, p.notFound(attempt, lastErr)
}

func (p *Poller) notFound(attempts int, cause error) error {
	return xerrors.Wrap(CodeEndpointNotFound, cause,
		fmt.Sprintf("%d 次探测后仍未发现对端 %s", attempts, p.dialer.String()),
		xerrors.WithMetadata("endpoint", p.dialer.String()))
}

// watch 在端点是文件系统路径时监听其目录，新文件出现时立即触发一次探测。
func (p *Poller) watch(ctx context.Context) <-chan struct{} {
	watchable, ok := p.dialer.(interface{ WatchDir() string })
	if !ok {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil
	}
	if err := watcher.Add(watchable.WatchDir()); err != nil {
		watcher.Close()
		return nil
	}

	wake := make(chan struct{}, 1)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Create) {
					select {
					case wake <- struct{}{}:
					default:
					}
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return wake
}
