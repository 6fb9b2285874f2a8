package chatrelay

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Frame types carried on the canonical client stream.
const (
	FrameDelta = "delta"
	FrameDone  = "done"
	FrameError = "error"
)

// FrameDelimiter separates frames on the wire. One frame per line.
const FrameDelimiter = '\n'

// StreamFrame is one decoded unit of incremental output: a content delta, the
// done control signal, or an error. Frames are transient and never stored.
type StreamFrame struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
}

// DeltaFrame builds a content-delta frame.
func DeltaFrame(text string) StreamFrame {
	return StreamFrame{Type: FrameDelta, Text: text}
}

// DoneFrame builds the terminal control frame.
func DoneFrame() StreamFrame {
	return StreamFrame{Type: FrameDone}
}

// ErrorFrame builds an error frame.
func ErrorFrame(message string) StreamFrame {
	return StreamFrame{Type: FrameError, Message: message}
}

// EncodeFrame marshals a frame with its trailing delimiter.
func EncodeFrame(frame StreamFrame) ([]byte, error) {
	encoded, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return append(encoded, FrameDelimiter), nil
}

// DecodeFrame parses a single frame payload. Callers treat a failure as a
// malformed frame to skip, not a reason to abort the stream.
func DecodeFrame(data []byte) (StreamFrame, error) {
	var frame StreamFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return StreamFrame{}, fmt.Errorf("failed to decode frame: %w", err)
	}
	switch frame.Type {
	case FrameDelta, FrameDone, FrameError:
		return frame, nil
	default:
		return StreamFrame{}, fmt.Errorf("unknown frame type %q", frame.Type)
	}
}

// SplitFrames appends chunk to buf and splits out every complete frame
// payload, returning the payloads (delimiters stripped) and the retained
// remainder. Network reads may split a frame at any byte boundary; feeding the
// fragments through SplitFrames yields the same payload sequence as feeding
// the stream whole.
func SplitFrames(buf []byte, chunk []byte) (frames [][]byte, rest []byte) {
	rest = append(buf, chunk...)
	for {
		idx := bytes.IndexByte(rest, FrameDelimiter)
		if idx < 0 {
			return frames, rest
		}
		line := rest[:idx]
		rest = rest[idx+1:]
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		frames = append(frames, line)
	}
}
