package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/mattjoyce/tasklog/internal/command"
)

const (
	frameMagic   byte = 0xBE
	frameVersion byte = 1
	headerSize        = 16

	// DefaultMaxFrameSize bounds a single decoded body.
	DefaultMaxFrameSize = 64 << 20
)

var (
	ErrBadMagic      = errors.New("bad frame magic")
	ErrBadVersion    = errors.New("unsupported frame version")
	ErrFrameTooLarge = command.ErrBodyTooLarge
)

// Codec reads and writes command frames:
//
//	magic u8 | version u8 | type u8 | flags u8 | opaque u64 | len u32 | body
//
// Integers are big endian. Bodies of at least CompressThreshold bytes are
// zstd-compressed and flagged with FlagCompressed. A zero threshold disables
// compression on write; compressed frames are always accepted on read.
type Codec struct {
	MaxFrameSize      int
	CompressThreshold int

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewCodec creates a Codec. maxFrame <= 0 selects DefaultMaxFrameSize.
func NewCodec(maxFrame, compressThreshold int) (*Codec, error) {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(maxFrame)))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &Codec{MaxFrameSize: maxFrame, CompressThreshold: compressThreshold, enc: enc, dec: dec}, nil
}

// Close releases the zstd decoder.
func (c *Codec) Close() {
	c.dec.Close()
}

// WriteFrame encodes cmd onto w in a single Write call.
func (c *Codec) WriteFrame(w io.Writer, cmd *command.Command) error {
	body := cmd.Body
	flags := cmd.Flags &^ command.FlagCompressed
	if c.CompressThreshold > 0 && len(body) >= c.CompressThreshold {
		body = c.enc.EncodeAll(body, make([]byte, 0, len(body)/2))
		flags |= command.FlagCompressed
	}
	if len(body) > c.MaxFrameSize {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(body), c.MaxFrameSize)
	}

	buf := make([]byte, headerSize+len(body))
	buf[0] = frameMagic
	buf[1] = frameVersion
	buf[2] = byte(cmd.Type)
	buf[3] = byte(flags)
	binary.BigEndian.PutUint64(buf[4:12], cmd.Opaque)
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(body)))
	copy(buf[headerSize:], body)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// ReadFrame decodes the next frame from r. The returned command never carries
// FlagCompressed; its body is already decompressed.
func (c *Codec) ReadFrame(r io.Reader) (*command.Command, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	if hdr[0] != frameMagic {
		return nil, fmt.Errorf("%w: 0x%02x", ErrBadMagic, hdr[0])
	}
	if hdr[1] != frameVersion {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, hdr[1])
	}

	n := binary.BigEndian.Uint32(hdr[12:16])
	if int64(n) > int64(c.MaxFrameSize) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, c.MaxFrameSize)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("failed to read frame body: %w", err)
	}

	cmd := &command.Command{
		Type:   command.Type(hdr[2]),
		Flags:  command.Flags(hdr[3]),
		Opaque: binary.BigEndian.Uint64(hdr[4:12]),
		Body:   body,
	}
	if cmd.Flags&command.FlagCompressed != 0 {
		plain, err := c.dec.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress frame body: %w", err)
		}
		if len(plain) > c.MaxFrameSize {
			return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(plain), c.MaxFrameSize)
		}
		cmd.Body = plain
		cmd.Flags &^= command.FlagCompressed
	}
	return cmd, nil
}
