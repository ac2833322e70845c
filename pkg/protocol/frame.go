package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/hothouse-labs/hothouse/pkg/secure"
)

// MaxFrameSize bounds a single encrypted frame. Anything larger is a
// malformed length prefix, not a legitimate payload.
const MaxFrameSize = 1 << 20

// ProtocolError marks a framing or payload defect that is fatal to the
// current connection. Transport errors pass through unwrapped so callers
// can tell the two apart with errors.As.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Codec moves opaque payloads across a stream as length-prefixed
// encrypted frames: u32 big-endian ciphertext length, then the
// ciphertext itself.
type Codec struct {
	box *secure.Box
}

func NewCodec(box *secure.Box) *Codec {
	return &Codec{box: box}
}

// WriteFrame encrypts payload and writes one frame. The prefix and body
// go out in a single Write so a frame is never interleaved mid-header.
func (c *Codec) WriteFrame(w io.Writer, payload []byte) error {
	sealed, err := c.box.Encrypt(payload)
	if err != nil {
		return &ProtocolError{Op: "encrypt", Err: err}
	}
	frame := make([]byte, 4+len(sealed))
	binary.BigEndian.PutUint32(frame, uint32(len(sealed)))
	copy(frame[4:], sealed)
	if _, err := w.Write(frame); err != nil {
		return err
	}
	return nil
}

// ReadFrame reads exactly one frame and returns the decrypted payload.
// Partial reads on the stream are accumulated; a frame is either read
// whole or the connection is dead.
func (c *Codec) ReadFrame(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(prefix[:])
	if length == 0 || length > MaxFrameSize {
		return nil, &ProtocolError{Op: "length", Err: fmt.Errorf("frame length %d out of range", length)}
	}
	sealed := make([]byte, length)
	if _, err := io.ReadFull(r, sealed); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, &ProtocolError{Op: "body", Err: err}
	}
	payload, err := c.box.Decrypt(sealed)
	if err != nil {
		return nil, &ProtocolError{Op: "decrypt", Err: err}
	}
	return payload, nil
}

// WriteJSON marshals v and sends it as one frame.
func (c *Codec) WriteJSON(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return &ProtocolError{Op: "marshal", Err: err}
	}
	return c.WriteFrame(w, payload)
}

// ReadJSON reads one frame and unmarshals it into v.
func (c *Codec) ReadJSON(r io.Reader, v any) error {
	payload, err := c.ReadFrame(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return &ProtocolError{Op: "unmarshal", Err: err}
	}
	return nil
}
