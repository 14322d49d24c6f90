// Package compress implements the framed block compressor used by the RAP
// container. The stream is a sequence of independent blocks, each prefixed
// by a 2-byte big-endian length, so an image can be decompressed without
// seeking and a damaged stream is detected by an impossible block length.
package compress

import (
	"io"

	"github.com/rapld/rapld/pkg/ld"
)

// DefaultBlockSize is the block size the linker uses for output images.
const DefaultBlockSize = 64 * 1024

// MaxBlockSize is the largest block the 16-bit length prefix can frame.
const MaxBlockSize = 0xffff

// Compressor streams bytes through fixed-size blocks in one direction:
// either writing to a sink or reading from a source. In compressed mode
// each block is fastlz-encoded; in pass-through mode raw bytes move
// unframed.
type Compressor struct {
	w        io.Writer
	r        io.Reader
	size     int
	compress bool
	buffer   []byte
	io       []byte
	level    int
	total    uint64
	totalOut uint64
}

// NewWriter creates a compressor writing blocks of the given size to w.
func NewWriter(w io.Writer, size int, compressed bool) (*Compressor, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	return &Compressor{
		w:        w,
		size:     size,
		compress: compressed,
		buffer:   make([]byte, 0, size),
		io:       make([]byte, size+size/10+16),
	}, nil
}

// NewReader creates a compressor reading blocks of up to size bytes from r.
func NewReader(r io.Reader, size int, compressed bool) (*Compressor, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	return &Compressor{
		r:        r,
		size:     size,
		compress: compressed,
		buffer:   make([]byte, 0, size),
		io:       make([]byte, size+size/10+16),
	}, nil
}

func checkSize(size int) error {
	if size <= 0 || size > MaxBlockSize+1 {
		return ld.MakeError(ld.ErrBadBlock, "compression", "block size %d does not fit 16 bits", size)
	}
	return nil
}

// Write appends data to the current block, emitting blocks as they fill.
func (c *Compressor) Write(data []byte) (int, error) {
	if c.w == nil {
		return 0, ld.MakeError(ld.ErrWriteOnRead, "compression", "stream is read-only")
	}

	written := len(data)
	for len(data) > 0 {
		appending := c.size - c.level
		if appending > len(data) {
			appending = len(data)
		}

		c.buffer = append(c.buffer, data[:appending]...)
		c.level += appending
		c.total += uint64(appending)
		data = data[appending:]

		if err := c.output(false); err != nil {
			return 0, err
		}
	}
	return written, nil
}

// WriteFrom streams length bytes of in, starting at offset, through the
// compressor.
func (c *Compressor) WriteFrom(in io.ReaderAt, offset int64, length int) error {
	if c.w == nil {
		return ld.MakeError(ld.ErrWriteOnRead, "compression", "stream is read-only")
	}

	chunk := make([]byte, c.size)
	for length > 0 {
		appending := len(chunk)
		if appending > length {
			appending = length
		}
		if _, err := in.ReadAt(chunk[:appending], offset); err != nil {
			return err
		}
		if _, err := c.Write(chunk[:appending]); err != nil {
			return err
		}
		offset += int64(appending)
		length -= appending
	}
	return nil
}

// Read fills data from the input stream, pulling blocks on demand. It
// returns the number of bytes read; 0 means the input is exhausted.
func (c *Compressor) Read(data []byte) (int, error) {
	if c.r == nil {
		return 0, ld.MakeError(ld.ErrReadOnWrite, "compression", "stream is write-only")
	}

	amount := 0
	for len(data) > 0 {
		if err := c.input(); err != nil {
			return amount, err
		}
		if c.level == 0 {
			break
		}

		appending := c.level
		if appending > len(data) {
			appending = len(data)
		}

		copy(data, c.buffer[:appending])
		c.buffer = c.buffer[:copy(c.buffer, c.buffer[appending:c.level])]
		c.level -= appending
		c.total += uint64(appending)
		amount += appending
		data = data[appending:]
	}
	return amount, nil
}

// Flush forces the current partial block out.
func (c *Compressor) Flush() error {
	return c.output(true)
}

// Transferred returns the number of uncompressed bytes moved through the
// stream.
func (c *Compressor) Transferred() uint64 {
	return c.total
}

// Compressed returns the number of bytes written to or consumed from the
// underlying image, block headers included.
func (c *Compressor) Compressed() uint64 {
	return c.totalOut
}

func (c *Compressor) output(forced bool) error {
	if c.w == nil || (!forced && c.level < c.size) || c.level == 0 {
		return nil
	}

	if c.compress {
		// An encoding too long for the 16-bit length prefix is split into
		// two half-size blocks, each framed on its own.
		pending := [][]byte{c.buffer[:c.level]}
		for len(pending) > 0 {
			part := pending[0]
			pending = pending[1:]
			block := fastlzCompress(part, c.io)
			if len(block) > MaxBlockSize {
				half := len(part) / 2
				pending = append([][]byte{part[:half], part[half:]}, pending...)
				continue
			}

			var header [2]byte
			header[0] = byte(len(block) >> 8)
			header[1] = byte(len(block))

			if _, err := c.w.Write(header[:]); err != nil {
				return err
			}
			if _, err := c.w.Write(block); err != nil {
				return err
			}
			c.totalOut += uint64(2 + len(block))
		}
	} else {
		if _, err := c.w.Write(c.buffer[:c.level]); err != nil {
			return err
		}
		c.totalOut += uint64(c.level)
	}

	c.level = 0
	c.buffer = c.buffer[:0]
	return nil
}

func (c *Compressor) input() error {
	if c.r == nil || c.level != 0 {
		return nil
	}

	if c.compress {
		var header [2]byte
		if _, err := io.ReadFull(c.r, header[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		blockSize := int(header[0])<<8 | int(header[1])
		if blockSize == 0 {
			return ld.MakeError(ld.ErrBadBlock, "compression", "block size is 0")
		}

		if _, err := io.ReadFull(c.r, c.io[:blockSize]); err != nil {
			return ld.MakeError(ld.ErrBadBlock, "compression", "truncated block: %v", err)
		}

		c.buffer = c.buffer[:cap(c.buffer)]
		n, err := fastlzDecompress(c.io[:blockSize], c.buffer)
		if err != nil {
			return err
		}
		c.buffer = c.buffer[:n]
		c.level = n
		c.totalOut += uint64(2 + blockSize)
	} else {
		c.buffer = c.buffer[:cap(c.buffer)]
		n, err := c.r.Read(c.buffer)
		if err != nil && err != io.EOF {
			return err
		}
		c.buffer = c.buffer[:n]
		c.level = n
		c.totalOut += uint64(n)
	}
	return nil
}

// WriteUint8 writes v to the stream.
func (c *Compressor) WriteUint8(v uint8) error {
	_, err := c.Write([]byte{v})
	return err
}

// WriteUint16 writes v to the stream in big-endian order.
func (c *Compressor) WriteUint16(v uint16) error {
	_, err := c.Write([]byte{byte(v >> 8), byte(v)})
	return err
}

// WriteUint32 writes v to the stream in big-endian order.
func (c *Compressor) WriteUint32(v uint32) error {
	_, err := c.Write([]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
	return err
}

// WriteUint64 writes v to the stream in big-endian order.
func (c *Compressor) WriteUint64(v uint64) error {
	if err := c.WriteUint32(uint32(v >> 32)); err != nil {
		return err
	}
	return c.WriteUint32(uint32(v))
}

// ReadUint32 reads a big-endian value from the stream.
func (c *Compressor) ReadUint32() (uint32, error) {
	var buf [4]byte
	n, err := c.Read(buf[:])
	if err != nil {
		return 0, err
	}
	if n != len(buf) {
		return 0, ld.MakeError(ld.ErrBadBlock, "compression", "short read: %d of %d bytes", n, len(buf))
	}
	return uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3]), nil
}
