package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"AgentOS-Bridge/internal/bridge"
	"AgentOS-Bridge/internal/transport"
	"AgentOS-Bridge/pkg/logger"
)

func newPeerCommand(root *rootOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "peer",
		Short: "Listen on a TCP address and act as a line-oriented presentation shell",
		Long: `peer stands in for the kernel-side presentation shell. It waits for
"agentosd serve" to connect, then sends every stdin line as an utterance
and prints the reply and any progress events.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			ln, err := net.Listen("tcp", listen)
			if err != nil {
				return err
			}
			defer ln.Close()

			fmt.Fprintf(cmd.ErrOrStderr(), "waiting for agentosd on %s\n", ln.Addr())
			session, err := transport.Open(ctx, &listenerDiscoverer{ln: ln}, sessionOptions(root.cfg.Transport)...)
			if err != nil {
				return err
			}
			defer session.Close()

			return runShell(ctx, session, cmd.InOrStdin(), cmd.OutOrStdout(), root.cfg.Transport.RequestTimeout.Std())
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:1234", "TCP address to listen on")
	return cmd
}

// listenerDiscoverer 把监听端口上的下一条入站连接作为对端。
type listenerDiscoverer struct {
	ln net.Listener
}

func (l *listenerDiscoverer) Discover(ctx context.Context) (io.ReadWriteCloser, error) {
	type accepted struct {
		conn net.Conn
		err  error
	}
	ch := make(chan accepted, 1)
	go func() {
		conn, err := l.ln.Accept()
		ch <- accepted{conn: conn, err: err}
	}()
	select {
	case <-ctx.Done():
		l.ln.Close()
		return nil, ctx.Err()
	case a := <-ch:
		if a.err != nil {
			return nil, a.err
		}
		return a.conn, nil
	}
}

func (l *listenerDiscoverer) String() string {
	return "listen://" + l.ln.Addr().String()
}

// runShell 逐行读取 in 作为话语发送，把答复与事件写入 out。
func runShell(ctx context.Context, session *transport.Session, in io.Reader, out io.Writer, timeout time.Duration) error {
	var mu sync.Mutex
	printf := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, format, args...)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		for {
			f, err := session.Receive(ctx)
			if err != nil {
				return
			}
			var ev bridge.Event
			if err := f.Decode(&ev); err != nil {
				logger.Named("peer").Debug("无法解析事件帧", "error", err)
				continue
			}
			printf("… [%s] %s\n", ev.Type, ev.Message)
		}
	}()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		reqCtx, reqCancel := context.WithTimeout(ctx, timeout)
		resp, err := session.Request(reqCtx, bridge.Request{Utterance: line})
		reqCancel()
		if err != nil {
			printf("! %v\n", err)
			continue
		}
		var reply bridge.Reply
		if err := resp.Decode(&reply); err != nil {
			printf("! %v\n", err)
			continue
		}
		printf("%s\n", reply.DisplayText)
	}
	return scanner.Err()
}
