package main

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"AgentOS-Bridge/internal/api"
	"AgentOS-Bridge/internal/bridge"
	"AgentOS-Bridge/internal/config"
	"AgentOS-Bridge/internal/transport"
	"AgentOS-Bridge/pkg/logger"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	var (
		direct   bool
		noAPI    bool
		endpoint string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Discover the kernel-side peer, bridge its frames and expose the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := root.cfg
			if endpoint != "" {
				cfg.Transport.Endpoint = endpoint
			}
			return serve(cmd.Context(), cfg, direct, !noAPI && cfg.Server.Enabled)
		},
	}
	cmd.Flags().BoolVar(&direct, "direct", false, "handle channel utterances inline instead of through the job queue")
	cmd.Flags().BoolVar(&noAPI, "no-api", false, "do not start the HTTP API even if it is enabled in the configuration")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "override transport.endpoint (tcp://, unix://, file://, ws://)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, direct, withAPI bool) error {
	log := logger.Named("agentosd")

	dialer, err := transport.ParseEndpoint(cfg.Transport.Endpoint)
	if err != nil {
		return err
	}

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := createPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	channel := &liveChannel{}
	dispatcherOpts := []bridge.DispatcherOption{bridge.WithConcurrency(cfg.Queue.Workers)}
	if !direct {
		dispatcherOpts = append(dispatcherOpts, bridge.WithJobService(p.service))
	}
	dispatcher := bridge.NewDispatcher(a.handler, channel, dispatcherOpts...)
	processor := p.processor(cfg, dispatcher, dispatcher.Complete)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return processor.Start(ctx) })
	g.Go(func() error {
		return bridgeLoop(ctx, cfg.Transport, dialer, channel, dispatcher)
	})
	if withAPI {
		server := api.NewServer(cfg.Server.Address, cfg.Server.AuthToken, api.Dependencies{
			Utterer: a.handler,
			Tools:   a.registry,
			Records: a.records,
			Jobs:    p.service,
			Alerts:  p.alerts,
			Channel: channel,
		})
		g.Go(func() error { return server.Start(ctx) })
	}

	log.Info("agentosd 已启动",
		"endpoint", dialer.String(),
		"queued", !direct,
		"api", withAPI,
		"tools", len(a.registry.Definitions(true)),
	)
	err = g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	log.Info("agentosd 已退出")
	return err
}

// bridgeLoop 反复发现对端并分发帧。会话不可恢复地关闭后重新发现，直到 ctx 取消。
func bridgeLoop(ctx context.Context, cfg config.TransportConfig, dialer transport.Dialer, channel *liveChannel, dispatcher *bridge.Dispatcher) error {
	log := logger.Named("agentosd")
	poller := transport.NewPoller(dialer, transport.Policy{
		Interval:    cfg.DiscoveryInterval.Std(),
		Timeout:     cfg.DiscoveryTimeout.Std(),
		MaxAttempts: cfg.DiscoveryAttempts,
	})

	for ctx.Err() == nil {
		session, err := transport.Open(ctx, poller, sessionOptions(cfg)...)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Warn("未发现内核侧对端，稍后重试", "endpoint", poller.String(), "error", err)
			if !sleep(ctx, cfg.DiscoveryInterval.Std()) {
				break
			}
			continue
		}

		log.Info("内核侧对端已连接", "endpoint", session.Endpoint())
		channel.attach(session)
		serveErr := dispatcher.Serve(ctx)
		channel.attach(nil)
		_ = session.Close()
		if serveErr != nil {
			log.Warn("会话已关闭，重新发现对端", "endpoint", session.Endpoint(), "error", serveErr)
		}
	}
	return nil
}

func sessionOptions(cfg config.TransportConfig) []transport.Option {
	return []transport.Option{
		transport.WithReconnectPolicy(transport.ReconnectPolicy{
			MaxAttempts: cfg.ReconnectAttempts,
			BaseDelay:   cfg.ReconnectBaseDelay.Std(),
			MaxDelay:    cfg.ReconnectMaxDelay.Std(),
		}),
		transport.WithMaxFrameBytes(cfg.MaxFrameBytes),
		transport.WithWritePacing(cfg.ChunkSize, cfg.BytesPerSecond),
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// liveChannel 指向当前存活的会话。重新发现期间发送与接收均以 ErrClosed 失败。
type liveChannel struct {
	session atomic.Pointer[transport.Session]
}

func (c *liveChannel) attach(s *transport.Session) {
	c.session.Store(s)
}

func (c *liveChannel) current() (*transport.Session, error) {
	s := c.session.Load()
	if s == nil {
		return nil, transport.ErrClosed
	}
	return s, nil
}

func (c *liveChannel) Receive(ctx context.Context) (transport.Frame, error) {
	s, err := c.current()
	if err != nil {
		return transport.Frame{}, err
	}
	return s.Receive(ctx)
}

func (c *liveChannel) Reply(ctx context.Context, req transport.Frame, payload any) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	return s.Reply(ctx, req, payload)
}

func (c *liveChannel) Notify(ctx context.Context, payload any) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	return s.Notify(ctx, payload)
}

// State 在尚未发现对端时报告 Connecting。
func (c *liveChannel) State() transport.State {
	if s := c.session.Load(); s != nil {
		return s.State()
	}
	return transport.StateConnecting
}

var _ bridge.Channel = (*liveChannel)(nil)
