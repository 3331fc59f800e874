package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"AgentOS-Bridge/internal/bridge"
	"AgentOS-Bridge/internal/config"
	"AgentOS-Bridge/internal/transport"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	dir := t.TempDir()
	cfg.Runtime.DataDir = dir
	cfg.Storage.Records.Path = dir + "/records"
	cfg.Tools.WorkspaceDir = dir + "/workspace"
	cfg.Transport.ReconnectAttempts = 1
	return cfg
}

func TestPeerShellAgainstBridge(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, err := buildApp(ctx, cfg)
	require.NoError(t, err)
	defer a.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	peerCh := make(chan *transport.Session, 1)
	go func() {
		s, err := transport.Open(ctx, &listenerDiscoverer{ln: ln}, sessionOptions(cfg.Transport)...)
		if err != nil {
			close(peerCh)
			return
		}
		peerCh <- s
	}()

	dialer, err := transport.ParseEndpoint("tcp://" + ln.Addr().String())
	require.NoError(t, err)
	bridgeSide, err := transport.Open(ctx, transport.NewPoller(dialer, transport.Policy{Interval: 50 * time.Millisecond, Timeout: 2 * time.Second}))
	require.NoError(t, err)
	defer bridgeSide.Close()

	peer, ok := <-peerCh
	require.True(t, ok, "peer side did not accept the bridge")
	defer peer.Close()

	go bridge.NewDispatcher(a.handler, bridgeSide).Serve(ctx)

	var out lockedBuffer
	in := strings.NewReader("Pause the music\n\ncalculate 2+3\n")
	require.NoError(t, runShell(ctx, peer, in, &out, 5*time.Second))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	var replies []string
	for _, line := range lines {
		if !strings.HasPrefix(line, "…") {
			replies = append(replies, line)
		}
	}
	require.Len(t, replies, 2, out.String())
	require.NotEmpty(t, replies[0])
	require.Equal(t, "5", replies[1])
}

func TestLiveChannelWithoutSession(t *testing.T) {
	var c liveChannel
	require.Equal(t, transport.StateConnecting, c.State())

	_, err := c.Receive(context.Background())
	require.ErrorIs(t, err, transport.ErrClosed)
	require.ErrorIs(t, c.Notify(context.Background(), bridge.Event{Type: "progress"}), transport.ErrClosed)
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	var names []string
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	for _, want := range []string{"serve", "ask", "arena", "tools", "peer"} {
		require.Contains(t, names, want)
	}
}

func TestAskCommandPrintsDisplayText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentos.yaml")
	require.NoError(t, os.WriteFile(path, []byte("runtime:\n  data_dir: data\n"), 0o644))

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", path, "ask", "calculate", "6*7"})
	require.NoError(t, root.ExecuteContext(context.Background()))
	require.Equal(t, "42", strings.TrimSpace(out.String()))
}
