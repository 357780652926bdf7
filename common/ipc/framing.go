package ipc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Frames are newline-delimited JSON: one document per line, terminated by
// '\n'. encoding/json escapes control characters inside strings, so an
// encoded document never contains a raw newline.

// MaxFrameSize bounds a single frame, terminator excluded.
const MaxFrameSize = 4 << 20

const frameDelim = '\n'

// EncodeCommand renders cmd as one frame, trailing newline included.
func EncodeCommand(cmd Command) ([]byte, error) {
	if err := ValidateName(cmd.name); err != nil {
		return nil, err
	}
	params := cmd.params
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	return encodeFrame(envelope{Type: cmd.name, Params: params})
}

// EncodeResponse renders resp as one frame, trailing newline included.
func EncodeResponse(resp Response) ([]byte, error) {
	switch resp.Status {
	case StatusSuccess:
		if resp.Result == nil {
			resp.Result = map[string]any{}
		}
		resp.Message = ""
	case StatusError:
		if resp.Message == "" {
			resp.Message = defaultFailureMessage
		}
		resp.Result = map[string]any{}
	default:
		return nil, fmt.Errorf("%w: unknown response status %q", ErrMalformedFrame, resp.Status)
	}
	return encodeFrame(resp)
}

func encodeFrame(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encode appends the '\n' terminator.
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if buf.Len()-1 > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds limit", ErrMalformedFrame, buf.Len()-1)
	}
	return buf.Bytes(), nil
}

// DecodeCommand parses one frame (with or without its terminator).
func DecodeCommand(frame []byte) (Command, error) {
	body, err := frameBody(frame)
	if err != nil {
		return Command{}, err
	}
	var env envelope
	if err := decodeStrict(body, &env); err != nil {
		return Command{}, err
	}
	if env.Type == "" {
		return Command{}, fmt.Errorf("%w: missing command type", ErrMalformedFrame)
	}
	if err := ValidateName(env.Type); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	params, err := objectOrEmpty(env.Params, "params")
	if err != nil {
		return Command{}, err
	}
	return Command{name: env.Type, params: params}, nil
}

// DecodeResponse parses one frame (with or without its terminator) into
// exactly one of Success or Failure.
func DecodeResponse(frame []byte) (Response, error) {
	body, err := frameBody(frame)
	if err != nil {
		return Response{}, err
	}
	var wire struct {
		Status  string          `json:"status"`
		Result  json.RawMessage `json:"result"`
		Message string          `json:"message"`
	}
	if err := decodeStrict(body, &wire); err != nil {
		return Response{}, err
	}

	switch wire.Status {
	case StatusSuccess:
		raw, err := objectOrEmpty(wire.Result, "result")
		if err != nil {
			return Response{}, err
		}
		result := map[string]any{}
		if err := json.Unmarshal(raw, &result); err != nil {
			return Response{}, fmt.Errorf("%w: result: %v", ErrMalformedFrame, err)
		}
		return Response{Status: StatusSuccess, Result: result}, nil
	case StatusError:
		return Failure(wire.Message), nil
	case "":
		return Response{}, fmt.Errorf("%w: missing status", ErrMalformedFrame)
	default:
		return Response{}, fmt.Errorf("%w: unknown status %q", ErrMalformedFrame, wire.Status)
	}
}

// frameBody strips one trailing terminator and rejects empty or multi-line input.
func frameBody(frame []byte) ([]byte, error) {
	body := bytes.TrimSuffix(frame, []byte{frameDelim})
	body = bytes.TrimSuffix(body, []byte{'\r'})
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformedFrame)
	}
	if bytes.IndexByte(body, frameDelim) >= 0 {
		return nil, fmt.Errorf("%w: unescaped newline inside frame", ErrMalformedFrame)
	}
	if len(body) > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds limit", ErrMalformedFrame, len(body))
	}
	return body, nil
}

// decodeStrict decodes exactly one JSON document and rejects trailing data.
func decodeStrict(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data after document", ErrMalformedFrame)
	}
	return nil
}

// objectOrEmpty accepts a JSON object, or null/absent as {}.
func objectOrEmpty(raw json.RawMessage, field string) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}"), nil
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: %s must be an object", ErrMalformedFrame, field)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, field, err)
	}
	return buf.Bytes(), nil
}

// FrameReader splits a byte stream into frames.
type FrameReader struct {
	r *bufio.Reader
}

func NewFrameReader(r io.Reader) *FrameReader {
	if br, ok := r.(*bufio.Reader); ok {
		return &FrameReader{r: br}
	}
	return &FrameReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// ReadFrame returns the next frame without its terminator. A clean EOF
// between frames is ErrStreamClosed; EOF inside a frame or an oversized
// frame is ErrMalformedFrame. Other read errors are returned as is.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	var acc []byte
	for {
		chunk, err := fr.r.ReadSlice(frameDelim)
		if len(acc)+len(chunk) > MaxFrameSize+1 {
			return nil, fmt.Errorf("%w: frame exceeds %d bytes", ErrMalformedFrame, MaxFrameSize)
		}
		switch {
		case err == nil:
			if acc == nil {
				out := make([]byte, len(chunk)-1)
				copy(out, chunk)
				return out, nil
			}
			acc = append(acc, chunk...)
			return acc[:len(acc)-1], nil
		case errors.Is(err, bufio.ErrBufferFull):
			acc = append(acc, chunk...)
		case errors.Is(err, io.EOF):
			if len(acc)+len(chunk) == 0 {
				return nil, ErrStreamClosed
			}
			return nil, fmt.Errorf("%w: incomplete frame at end of stream", ErrMalformedFrame)
		default:
			return nil, err
		}
	}
}

// WriteFrame writes one encoded frame and reports how many bytes made it
// out, so callers can tell a partial write from a clean failure.
func WriteFrame(w io.Writer, frame []byte) (int, error) {
	total := 0
	for total < len(frame) {
		n, err := w.Write(frame[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}
