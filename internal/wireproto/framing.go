package wireproto

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// WriteDelimitedRequest writes a varint length prefix followed by the
// marshaled request, then flushes w if it has a Flush() error method.
func WriteDelimitedRequest(w io.Writer, req WorkRequest) error {
	body := req.Marshal()

	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(body)))
	if _, err := w.Write(lenBuf[:n]); err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	if f, ok := w.(flusher); ok {
		return f.Flush()
	}
	return nil
}

type flusher interface {
	Flush() error
}

// ReadDelimitedResponse reads one varint-length-prefixed WorkResponse from
// r. It returns (WorkResponse{}, io.EOF) when the stream ends before a
// full message: either before any byte of the length prefix or partway
// through the message body. The caller (internal/driver) treats that as
// WORKER_NO_RESPONSE rather than a parse failure. A stream that ends
// partway through the length prefix yields a non-EOF error instead.
func ReadDelimitedResponse(r *bufio.Reader) (WorkResponse, error) {
	size, err := binary.ReadUvarint(r)
	if err != nil {
		if err == io.EOF {
			return WorkResponse{}, io.EOF
		}
		return WorkResponse{}, fmt.Errorf("reading response length: %w", err)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return WorkResponse{}, io.EOF
		}
		return WorkResponse{}, fmt.Errorf("reading response body: %w", err)
	}

	return UnmarshalWorkResponse(body)
}
