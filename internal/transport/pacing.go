package transport

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

const defaultChunkSize = 32

// pacedWriter 按固定块大小与字节速率写出数据，避免压垮对端较小的串口缓冲区。
type pacedWriter struct {
	w       io.Writer
	chunk   int
	limiter *rate.Limiter
}

// newPacedWriter 在 bytesPerSecond <= 0 时直接返回原 writer。
func newPacedWriter(w io.Writer, chunk, bytesPerSecond int) io.Writer {
	if bytesPerSecond <= 0 {
		return w
	}
	if chunk <= 0 {
		chunk = defaultChunkSize
	}
	return &pacedWriter{
		w:       w,
		chunk:   chunk,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), chunk),
	}
}

func (p *pacedWriter) Write(data []byte) (int, error) {
	written := 0
	for written < len(data) {
		end := min(written+p.chunk, len(data))
		if err := p.limiter.WaitN(context.Background(), end-written); err != nil {
			return written, err
		}
		n, err := p.w.Write(data[written:end])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
