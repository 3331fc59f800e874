package transport

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"strconv"

	xerrors "AgentOS-Bridge/internal/errors"
)

// 帧在字节流上的格式: 0x02 "AOS" <十进制长度> ':' <JSON> '\n'。
// 标记之前的任何字节（例如内核输出的诊断文本）都会被跳过。
const (
	envelopeMarker  = "\x02AOS"
	maxLengthDigits = 9

	// DefaultMaxFrameBytes 是单帧 JSON 的默认上限。
	DefaultMaxFrameBytes = 1 << 20
)

// Marshal 将帧编码为线上格式。
func Marshal(f Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(f)
	if err != nil {
		return nil, xerrors.Wrap(CodeFrameInvalid, err, "序列化帧失败")
	}
	var buf bytes.Buffer
	buf.Grow(len(envelopeMarker) + maxLengthDigits + len(body) + 2)
	buf.WriteString(envelopeMarker)
	buf.WriteString(strconv.Itoa(len(body)))
	buf.WriteByte(':')
	buf.Write(body)
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Encoder 将帧写入底层 writer，每帧一次 Write 调用。
type Encoder struct {
	w io.Writer
}

// NewEncoder 创建 Encoder。
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode 写出一帧。
func (e *Encoder) Encode(f Frame) error {
	data, err := Marshal(f)
	if err != nil {
		return err
	}
	_, err = e.w.Write(data)
	return err
}

// Decoder 从字节流中提取帧，遇到噪声或损坏的帧时在下一个标记处重新同步。
type Decoder struct {
	r         *bufio.Reader
	maxFrame  int
	onDiscard func(reason string)
}

// NewDecoder 创建 Decoder。maxFrame <= 0 时使用 DefaultMaxFrameBytes。
func NewDecoder(r io.Reader, maxFrame int) *Decoder {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameBytes
	}
	return &Decoder{r: bufio.NewReader(r), maxFrame: maxFrame}
}

// OnDiscard 注册被丢弃数据的回调，reason 取值 noise/header/oversize/terminator/payload/invalid。
func (d *Decoder) OnDiscard(fn func(reason string)) {
	d.onDiscard = fn
}

// Decode 阻塞直到读取到下一帧有效数据或底层 reader 返回错误。
func (d *Decoder) Decode() (Frame, error) {
	for {
		if err := d.seekMarker(); err != nil {
			return Frame{}, err
		}
		n, ok, err := d.readLength()
		if err != nil {
			return Frame{}, err
		}
		if !ok {
			d.discard("header")
			continue
		}
		if n > d.maxFrame {
			d.discard("oversize")
			continue
		}

		body := make([]byte, n+1)
		if _, err := io.ReadFull(d.r, body); err != nil {
			return Frame{}, err
		}
		if body[n] != '\n' {
			d.discard("terminator")
			continue
		}
		var frame Frame
		if err := json.Unmarshal(body[:n], &frame); err != nil {
			d.discard("payload")
			continue
		}
		if err := frame.Validate(); err != nil {
			d.discard("invalid")
			continue
		}
		return frame, nil
	}
}

func (d *Decoder) seekMarker() error {
	skipped := false
	defer func() {
		if skipped {
			d.discard("noise")
		}
	}()
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return err
		}
		if b != envelopeMarker[0] {
			skipped = true
			continue
		}
		rest, err := d.r.Peek(len(envelopeMarker) - 1)
		if err != nil {
			return err
		}
		if string(rest) != envelopeMarker[1:] {
			skipped = true
			continue
		}
		_, _ = d.r.Discard(len(rest))
		return nil
	}
}

func (d *Decoder) readLength() (int, bool, error) {
	n, digits := 0, 0
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return 0, false, err
		}
		switch {
		case b >= '0' && b <= '9':
			if digits == maxLengthDigits {
				return 0, false, nil
			}
			n = n*10 + int(b-'0')
			digits++
		case b == ':' && digits > 0:
			return n, true, nil
		default:
			if b == envelopeMarker[0] {
				_ = d.r.UnreadByte()
			}
			return 0, false, nil
		}
	}
}

func (d *Decoder) discard(reason string) {
	if d.onDiscard != nil {
		d.onDiscard(reason)
	}
}
