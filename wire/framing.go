package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"

	"github.com/ckoons/Tekton-sub006/errors"
)

// maxLineBytes bounds a single reply line. Specialists stream large completions
// in one line, so the limit is generous but finite.
const maxLineBytes = 16 << 20

// WriteRequest serializes req as one newline-terminated JSON line.
func WriteRequest(w io.Writer, req Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return errors.WrapInvalid(err, "Codec", "WriteRequest", "marshal request")
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return errors.WrapTransient(err, "Codec", "WriteRequest", "write request line")
	}
	return nil
}

// ReadResponse reads exactly one reply line and normalizes it. I/O errors are
// returned as transient; decode and shape errors carry ErrInvalidResponse.
func ReadResponse(r *bufio.Reader) (Response, error) {
	line, err := readLine(r)
	if err != nil {
		return Response{}, err
	}
	return Normalize(line)
}

func readLine(r *bufio.Reader) ([]byte, error) {
	var buf bytes.Buffer
	for {
		chunk, err := r.ReadSlice('\n')
		buf.Write(chunk)
		switch {
		case err == nil:
			trimmed := bytes.TrimRight(buf.Bytes(), "\r\n")
			if len(trimmed) == 0 {
				return nil, errors.WrapInvalid(
					errors.ErrInvalidResponse, "Codec", "ReadResponse", "empty reply line")
			}
			return trimmed, nil
		case err == bufio.ErrBufferFull:
			if buf.Len() > maxLineBytes {
				return nil, errors.WrapInvalid(
					errors.ErrInvalidResponse, "Codec", "ReadResponse", "reply line exceeds size limit")
			}
			// keep accumulating
		default:
			return nil, errors.WrapTransient(err, "Codec", "ReadResponse", "read reply line")
		}
	}
}
