package packet

import (
	"bytes"
	"testing"
)

func TestReadWriteRoundTrip(t *testing.T) {
	buf := NewBytePacketBuffer()
	if err := buf.Writeu16(0xBEEF); err != nil {
		t.Fatalf("Writeu16 failed: %v", err)
	}
	if err := buf.Writeu32(0xDEADBEEF); err != nil {
		t.Fatalf("Writeu32 failed: %v", err)
	}
	if err := buf.Write(0x7F); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	out := buf.Bytes()
	rd := NewBytePacketBuffer()
	rd.Load(out)

	v16, err := rd.Readu16()
	if err != nil || v16 != 0xBEEF {
		t.Errorf("Readu16 = %x, %v", v16, err)
	}
	v32, err := rd.Readu32()
	if err != nil || v32 != 0xDEADBEEF {
		t.Errorf("Readu32 = %x, %v", v32, err)
	}
	b, err := rd.Read()
	if err != nil || b != 0x7F {
		t.Errorf("Read = %x, %v", b, err)
	}
	if rd.Remaining() != 0 {
		t.Errorf("Remaining = %d, want 0", rd.Remaining())
	}
}

func TestReadBeyondLimit(t *testing.T) {
	buf := NewBytePacketBuffer()
	buf.Load([]byte{1, 2})
	if _, err := buf.Readu32(); err == nil {
		t.Errorf("Expected error reading past the loaded data")
	}
	if err := buf.Seek(0); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if err := buf.Step(3); err == nil {
		t.Errorf("Expected error stepping past the loaded data")
	}
}

func TestWriteName(t *testing.T) {
	buf := NewBytePacketBuffer()
	if err := buf.WriteName("example.com."); err != nil {
		t.Fatalf("WriteName failed: %v", err)
	}
	want := []byte{7, 'e', 'x', 'a', 'm', 'p', 'l', 'e', 3, 'c', 'o', 'm', 0}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("WriteName wrote % x, want % x", buf.Bytes(), want)
	}
}

func TestReadNameCompressed(t *testing.T) {
	// "example.com." at offset 0, then a pointer to it at offset 13.
	raw := []byte{
		7, 'e', 'x', 'a', 'm', 'p', 'l', 'e', 3, 'c', 'o', 'm', 0,
		0xC0, 0x00,
	}
	buf := NewBytePacketBuffer()
	buf.Load(raw)
	if err := buf.Seek(13); err != nil {
		t.Fatal(err)
	}
	name, err := buf.ReadName()
	if err != nil {
		t.Fatalf("ReadName failed: %v", err)
	}
	if name != "example.com." {
		t.Errorf("ReadName = %q", name)
	}
	if buf.Position() != 15 {
		t.Errorf("Cursor at %d, want just past the pointer", buf.Position())
	}
}

func TestReadNamePointerLoop(t *testing.T) {
	// Two pointers chasing each other.
	raw := []byte{0xC0, 0x02, 0xC0, 0x00}
	buf := NewBytePacketBuffer()
	buf.Load(raw)
	if _, err := buf.ReadName(); err == nil {
		t.Errorf("Expected jump limit error for pointer loop")
	}
}

func TestSkipName(t *testing.T) {
	raw := []byte{
		7, 'e', 'x', 'a', 'm', 'p', 'l', 'e', 3, 'c', 'o', 'm', 0,
		0xC0, 0x00,
		0xFF,
	}
	buf := NewBytePacketBuffer()
	buf.Load(raw)
	if err := buf.SkipName(); err != nil {
		t.Fatalf("SkipName failed: %v", err)
	}
	if buf.Position() != 13 {
		t.Errorf("Cursor at %d after plain name, want 13", buf.Position())
	}
	if err := buf.SkipName(); err != nil {
		t.Fatalf("SkipName over pointer failed: %v", err)
	}
	if buf.Position() != 15 {
		t.Errorf("Cursor at %d after pointer, want 15", buf.Position())
	}
}

func TestSetu16PatchesEarlierWrite(t *testing.T) {
	buf := NewBytePacketBuffer()
	pos := buf.Position()
	buf.Writeu16(0)
	buf.Writeu32(0x01020304)
	if err := buf.Setu16(pos, 4); err != nil {
		t.Fatalf("Setu16 failed: %v", err)
	}
	out := buf.Bytes()
	if out[0] != 0 || out[1] != 4 {
		t.Errorf("Patched prefix = % x", out[:2])
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	h := NewDnsHeader()
	h.ID = 0x1234
	h.Response = true
	h.TruncatedMessage = true
	h.ResCode = 3
	h.Questions = 1
	h.Answers = 2

	buf := NewBytePacketBuffer()
	if err := h.Write(buf); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	rd := NewBytePacketBuffer()
	rd.Load(buf.Bytes())
	got := NewDnsHeader()
	if err := got.Read(rd); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got.ID != 0x1234 || !got.Response || !got.TruncatedMessage || got.ResCode != 3 {
		t.Errorf("Header flags lost: %+v", got)
	}
	if got.Questions != 1 || got.Answers != 2 {
		t.Errorf("Header counts lost: %+v", got)
	}
}

func TestQuestionRoundTrip(t *testing.T) {
	q := NewDnsQuestion("example.com.", IXFR)
	buf := NewBytePacketBuffer()
	if err := q.Write(buf); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	rd := NewBytePacketBuffer()
	rd.Load(buf.Bytes())
	got := &DnsQuestion{}
	if err := got.Read(rd); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got.Name != "example.com." || got.QType != IXFR {
		t.Errorf("Question lost: %+v", got)
	}
}
