package realtime

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/go-stomp/stomp/v3/frame"
)

// Every WebSocket message carries exactly one STOMP frame, so frames are
// encoded and decoded one message at a time.

func newFrame(command string, kv ...string) *frame.Frame {
	return frame.New(command, kv...)
}

// withBody attaches body and its content-length, which keeps embedded NUL
// bytes intact on the wire.
func withBody(f *frame.Frame, body []byte) *frame.Frame {
	f.Body = body
	if len(body) > 0 {
		f.Header.Set(frame.ContentLength, strconv.Itoa(len(body)))
	}
	return f
}

func encodeFrame(f *frame.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, fmt.Errorf("stomp: encode %s: %w", f.Command, err)
	}
	return buf.Bytes(), nil
}

// decodeFrame parses one message. A heart-beat yields a nil frame.
func decodeFrame(data []byte) (*frame.Frame, error) {
	f, err := frame.NewReader(bytes.NewReader(data)).Read()
	if errors.Is(err, io.EOF) && len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stomp: decode: %w", err)
	}
	return f, nil
}
