package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Dialer 尝试一次连接到对端。
type Dialer interface {
	Dial(ctx context.Context) (io.ReadWriteCloser, error)
	String() string
}

// DialerFunc 将函数适配为 Dialer，主要用于测试和嵌入场景。
type DialerFunc func(ctx context.Context) (io.ReadWriteCloser, error)

// Dial 实现 Dialer。
func (f DialerFunc) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	return f(ctx)
}

// String 实现 Dialer。
func (f DialerFunc) String() string {
	return "func"
}

// ParseEndpoint 根据端点 URI 选择拨号方式。支持 tcp://、unix://、file://（可带通配符）、ws:// 与 wss://；
// 无 scheme 时按 TCP 地址处理。
func ParseEndpoint(raw string) (Dialer, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("端点地址不能为空")
	}
	if !strings.Contains(raw, "://") {
		return netDialer{network: "tcp", address: raw}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("解析端点 %q 失败: %w", raw, err)
	}
	switch u.Scheme {
	case "tcp":
		return netDialer{network: "tcp", address: u.Host}, nil
	case "unix":
		return netDialer{network: "unix", address: u.Path}, nil
	case "file":
		return deviceDialer{pattern: u.Path}, nil
	case "ws", "wss":
		return wsDialer{url: raw}, nil
	default:
		return nil, fmt.Errorf("不支持的端点类型 %q", u.Scheme)
	}
}

type netDialer struct {
	network string
	address string
}

func (d netDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	var dialer net.Dialer
	return dialer.DialContext(ctx, d.network, d.address)
}

func (d netDialer) String() string {
	return d.network + "://" + d.address
}

// deviceDialer 打开字符设备（如 QEMU 暴露的 PTY）。pattern 可以是通配符，匹配多个时选择最新的设备。
type deviceDialer struct {
	pattern string
}

func (d deviceDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := d.resolve()
	if err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_RDWR, 0)
}

func (d deviceDialer) resolve() (string, error) {
	matches, err := filepath.Glob(d.pattern)
	if err != nil {
		return "", fmt.Errorf("匹配设备路径失败: %w", err)
	}
	newest := ""
	var newestMod int64
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); newest == "" || mod > newestMod {
			newest, newestMod = path, mod
		}
	}
	if newest == "" {
		return "", fmt.Errorf("设备 %s 不存在", d.pattern)
	}
	return newest, nil
}

// WatchDir 返回需要监听的目录，设备出现时可以提前唤醒发现流程。
func (d deviceDialer) WatchDir() string {
	return filepath.Dir(d.pattern)
}

func (d deviceDialer) String() string {
	return "file://" + d.pattern
}

type wsDialer struct {
	url string
}

func (d wsDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, d.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsStream{conn: conn}, nil
}

func (d wsDialer) String() string {
	return d.url
}

// wsStream 将 websocket 消息流适配为字节流，消息边界对帧解码器透明。
type wsStream struct {
	conn   *websocket.Conn
	reader io.Reader
	wmu    sync.Mutex
}

func (s *wsStream) Read(p []byte) (int, error) {
	for {
		if s.reader == nil {
			_, r, err := s.conn.NextReader()
			if err != nil {
				return 0, err
			}
			s.reader = r
		}
		n, err := s.reader.Read(p)
		if err == io.EOF {
			s.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *wsStream) Write(p []byte) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}
