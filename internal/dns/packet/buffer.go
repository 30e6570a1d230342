package packet

import (
	"errors"
	"strings"
)

// BytePacketBuffer simplifies reading and writing the DNS packet buffer.
// Reads are bounded by the loaded message length, not the buffer capacity,
// so a malformed length field can never walk past attacker-controlled input.
type BytePacketBuffer struct {
	Buf   []byte
	Pos   int
	limit int
}

const MaxPacketSize = 65535

func NewBytePacketBuffer() *BytePacketBuffer {
	return &BytePacketBuffer{
		Buf:   make([]byte, MaxPacketSize),
		Pos:   0,
		limit: MaxPacketSize,
	}
}

// Load fills the buffer with a received message and bounds all reads to it.
func (b *BytePacketBuffer) Load(data []byte) {
	n := copy(b.Buf, data)
	b.Pos = 0
	b.limit = n
}

// Limit returns the number of readable bytes in the buffer.
func (b *BytePacketBuffer) Limit() int {
	return b.limit
}

// Remaining returns the number of unread bytes before the limit.
func (b *BytePacketBuffer) Remaining() int {
	if b.Pos >= b.limit {
		return 0
	}
	return b.limit - b.Pos
}

// Position returns the current cursor position.
func (b *BytePacketBuffer) Position() int {
	return b.Pos
}

// Step moves the cursor forward, failing if it would pass the limit.
func (b *BytePacketBuffer) Step(steps int) error {
	if steps < 0 || b.Pos+steps > b.limit {
		return errors.New("end of buffer")
	}
	b.Pos += steps
	return nil
}

// Seek moves the cursor to a specific position.
func (b *BytePacketBuffer) Seek(pos int) error {
	if pos < 0 || pos > b.limit {
		return errors.New("seek out of bounds")
	}
	b.Pos = pos
	return nil
}

// Read reads a single byte.
func (b *BytePacketBuffer) Read() (byte, error) {
	if b.Pos >= b.limit {
		return 0, errors.New("end of buffer")
	}
	res := b.Buf[b.Pos]
	b.Pos++
	return res, nil
}

// Readu16 reads 2 bytes as uint16 (big endian).
func (b *BytePacketBuffer) Readu16() (uint16, error) {
	if b.Pos+2 > b.limit {
		return 0, errors.New("end of buffer")
	}
	b1, _ := b.Read()
	b2, _ := b.Read()
	return uint16(b1)<<8 | uint16(b2), nil
}

// Readu32 reads 4 bytes as uint32 (big endian).
func (b *BytePacketBuffer) Readu32() (uint32, error) {
	if b.Pos+4 > b.limit {
		return 0, errors.New("end of buffer")
	}
	b1, _ := b.Read()
	b2, _ := b.Read()
	b3, _ := b.Read()
	b4, _ := b.Read()
	return uint32(b1)<<24 | uint32(b2)<<16 | uint32(b3)<<8 | uint32(b4), nil
}

// Get reads a byte at a specific position without moving the cursor.
func (b *BytePacketBuffer) Get(pos int) (byte, error) {
	if pos < 0 || pos >= b.limit {
		return 0, errors.New("end of buffer")
	}
	return b.Buf[pos], nil
}

// GetRange reads a range without moving the cursor.
func (b *BytePacketBuffer) GetRange(start int, length int) ([]byte, error) {
	if start < 0 || length < 0 || start+length > b.limit {
		return nil, errors.New("out of bounds")
	}
	return b.Buf[start : start+length], nil
}

// ReadName reads a domain name, handling compression. The returned name is
// lowercase and absolute (trailing dot).
func (b *BytePacketBuffer) ReadName() (string, error) {
	pos := b.Pos
	jumped := false
	maxJumps := 5
	jumpsPerformed := 0

	var out strings.Builder

	for {
		if jumpsPerformed > maxJumps {
			return "", errors.New("limit of jumps exceeded")
		}

		lenByte, err := b.Get(pos)
		if err != nil {
			return "", err
		}

		// End of labels
		if lenByte == 0 {
			pos++
			if !jumped {
				if err := b.Seek(pos); err != nil {
					return "", err
				}
			}
			if out.Len() == 0 {
				return ".", nil
			}
			return out.String(), nil
		}

		// Compression pointer (11xxxxxx)
		if (lenByte & 0xC0) == 0xC0 {
			if !jumped {
				if err := b.Seek(pos + 2); err != nil {
					return "", err
				}
			}
			b2, err := b.Get(pos + 1)
			if err != nil {
				return "", err
			}
			offset := ((uint16(lenByte) ^ 0xC0) << 8) | uint16(b2)
			pos = int(offset)
			jumped = true
			jumpsPerformed++
			continue
		}

		// Normal label
		pos++
		lenInt := int(lenByte)

		strBuffer, err := b.GetRange(pos, lenInt)
		if err != nil {
			return "", err
		}
		out.WriteString(strings.ToLower(string(strBuffer)))
		out.WriteString(".")

		pos += lenInt
	}
}

// SkipName advances the cursor over a (possibly compressed) domain name
// without building a string. The cursor ends right after the name even when
// the name jumps backwards through a compression pointer.
func (b *BytePacketBuffer) SkipName() error {
	pos := b.Pos
	jumped := false
	maxJumps := 5
	jumpsPerformed := 0

	for {
		if jumpsPerformed > maxJumps {
			return errors.New("limit of jumps exceeded")
		}
		lenByte, err := b.Get(pos)
		if err != nil {
			return err
		}
		if lenByte == 0 {
			pos++
			if !jumped {
				return b.Seek(pos)
			}
			return nil
		}
		if (lenByte & 0xC0) == 0xC0 {
			if !jumped {
				if err := b.Seek(pos + 2); err != nil {
					return err
				}
			}
			b2, err := b.Get(pos + 1)
			if err != nil {
				return err
			}
			pos = int(((uint16(lenByte) ^ 0xC0) << 8) | uint16(b2))
			jumped = true
			jumpsPerformed++
			continue
		}
		pos += int(lenByte) + 1
	}
}

// SkipRR advances the cursor over one complete resource record: name, fixed
// header, and RDLENGTH bytes of rdata. With withRdata false it skips a
// question entry instead (name, type, class).
func (b *BytePacketBuffer) SkipRR(withRdata bool) error {
	if err := b.SkipName(); err != nil {
		return err
	}
	if err := b.Step(4); err != nil { // type + class
		return err
	}
	if !withRdata {
		return nil
	}
	if err := b.Step(4); err != nil { // ttl
		return err
	}
	rdlen, err := b.Readu16()
	if err != nil {
		return err
	}
	return b.Step(int(rdlen))
}

// Write writes a single byte.
func (b *BytePacketBuffer) Write(val byte) error {
	if b.Pos >= len(b.Buf) {
		return errors.New("end of buffer")
	}
	b.Buf[b.Pos] = val
	b.Pos++
	if b.Pos > b.limit {
		b.limit = b.Pos
	}
	return nil
}

// Writeu16 writes a uint16.
func (b *BytePacketBuffer) Writeu16(val uint16) error {
	if err := b.Write(byte(val >> 8)); err != nil {
		return err
	}
	return b.Write(byte(val & 0xFF))
}

// Writeu32 writes a uint32.
func (b *BytePacketBuffer) Writeu32(val uint32) error {
	if err := b.Writeu16(uint16(val >> 16)); err != nil {
		return err
	}
	return b.Writeu16(uint16(val & 0xFFFF))
}

// Setu16 back-patches a uint16 at an earlier position (RDLENGTH fixups).
func (b *BytePacketBuffer) Setu16(pos int, val uint16) error {
	if pos < 0 || pos+2 > len(b.Buf) {
		return errors.New("out of bounds")
	}
	b.Buf[pos] = byte(val >> 8)
	b.Buf[pos+1] = byte(val & 0xFF)
	return nil
}

// WriteName writes a domain name uncompressed.
func (b *BytePacketBuffer) WriteName(name string) error {
	parts := strings.Split(name, ".")
	for _, part := range parts {
		lenPart := len(part)
		if lenPart > 63 {
			return errors.New("label too long")
		}
		if lenPart == 0 {
			continue
		}
		if err := b.Write(byte(lenPart)); err != nil {
			return err
		}
		for i := 0; i < lenPart; i++ {
			if err := b.Write(part[i]); err != nil {
				return err
			}
		}
	}
	return b.Write(0)
}

// Bytes returns a copy of the written message.
func (b *BytePacketBuffer) Bytes() []byte {
	out := make([]byte, b.Pos)
	copy(out, b.Buf[:b.Pos])
	return out
}
