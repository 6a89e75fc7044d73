package runtime

import "testing"

func TestUint32LittleEndianRoundTrip(t *testing.T) {
	// spec.md S1
	enc := NewBitStreamEncoder(MSBFirst)
	enc.WriteUint32(1000000, LittleEndian)
	got := enc.Finish()
	want := []byte{0x40, 0x42, 0x0F, 0x00}
	if len(got) != len(want) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, got[i], want[i])
		}
	}

	dec := NewBitStreamDecoder(got, MSBFirst)
	v, err := dec.ReadUint32(LittleEndian)
	if err != nil {
		t.Fatal(err)
	}
	if v != 1000000 {
		t.Fatalf("decoded %d, want 1000000", v)
	}
}

func TestFloat64NegativeZero(t *testing.T) {
	// spec.md S5
	enc := NewBitStreamEncoder(MSBFirst)
	enc.WriteFloat64(negativeZero(), LittleEndian)
	got := enc.Finish()
	for i, b := range got {
		if b != 0 {
			t.Fatalf("byte %d = %#x, want 0", i, b)
		}
	}
	dec := NewBitStreamDecoder(got, MSBFirst)
	v, err := dec.ReadFloat64(LittleEndian)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0 {
		t.Fatalf("decoded %v, want +0.0", v)
	}
}

func negativeZero() float64 {
	zero := 0.0
	return -zero
}

func TestPeekDoesNotAdvance(t *testing.T) {
	dec := NewBitStreamDecoder([]byte{0x07, 0xAA}, MSBFirst)
	peeked, err := dec.PeekUint8()
	if err != nil {
		t.Fatal(err)
	}
	if dec.Position() != 0 {
		t.Fatalf("position advanced after peek: %d", dec.Position())
	}
	read, err := dec.ReadUint8()
	if err != nil {
		t.Fatal(err)
	}
	if peeked != read {
		t.Fatalf("peek %#x != read %#x", peeked, read)
	}
	if dec.Position() != 1 {
		t.Fatalf("position = %d after read, want 1", dec.Position())
	}
}

func TestPushPopPositionIsolation(t *testing.T) {
	dec := NewBitStreamDecoder([]byte{1, 2, 3, 4, 5}, MSBFirst)
	dec.Seek(2)
	dec.PushPosition()
	dec.Seek(4)
	if _, err := dec.ReadUint8(); err != nil {
		t.Fatal(err)
	}
	dec.PopPosition()
	if dec.Position() != 2 {
		t.Fatalf("position after pop = %d, want 2", dec.Position())
	}
}

func TestPeekRequiresByteAlignment(t *testing.T) {
	dec := NewBitStreamDecoder([]byte{0xFF}, MSBFirst)
	if _, err := dec.ReadBits(3); err != nil {
		t.Fatal(err)
	}
	if _, err := dec.PeekUint8(); err == nil {
		t.Fatal("expected NotByteAligned error")
	} else if se, ok := err.(*StreamError); !ok || se.Code != CodeNotByteAligned {
		t.Fatalf("expected NotByteAligned, got %v", err)
	}
}

func TestVarlengthDER(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 255, 256, 1 << 20}
	for _, v := range cases {
		enc := NewBitStreamEncoder(MSBFirst)
		enc.WriteVarlengthDER(v)
		bytes := enc.Finish()
		if len(bytes) != VarlengthDERSize(v) {
			t.Fatalf("DER size mismatch for %d: got %d, want %d", v, len(bytes), VarlengthDERSize(v))
		}
		dec := NewBitStreamDecoder(bytes, MSBFirst)
		got, err := dec.ReadVarlengthDER()
		if err != nil {
			t.Fatal(err)
		}
		if got != v {
			t.Fatalf("DER round trip %d != %d", got, v)
		}
	}
}

func TestVarlengthLEB128NonCanonicalRejected(t *testing.T) {
	// 0x80 0x00 is a redundant continuation for value 0; canonical form is just 0x00.
	dec := NewBitStreamDecoder([]byte{0x80, 0x00}, MSBFirst)
	if _, err := dec.ReadVarlengthLEB128(); err == nil {
		t.Fatal("expected non-canonical LEB128 to be rejected")
	}
}

func TestVarlengthEBMLRoundTrip(t *testing.T) {
	cases := []uint64{0, 100, 127, 128, 16383, 16384, 2097151}
	for _, v := range cases {
		enc := NewBitStreamEncoder(MSBFirst)
		enc.WriteVarlengthEBML(v)
		bytes := enc.Finish()
		dec := NewBitStreamDecoder(bytes, MSBFirst)
		got, err := dec.ReadVarlengthEBML()
		if err != nil {
			t.Fatal(err)
		}
		if got != v {
			t.Fatalf("EBML round trip %d != %d", got, v)
		}
	}
}

func TestVarlengthVLQRoundTrip(t *testing.T) {
	cases := []uint64{0, 0x7F, 0x80, 0x3FFF, 0x4000, 0x0FFFFFFF}
	for _, v := range cases {
		enc := NewBitStreamEncoder(MSBFirst)
		enc.WriteVarlengthVLQ(v)
		bytes := enc.Finish()
		dec := NewBitStreamDecoder(bytes, MSBFirst)
		got, err := dec.ReadVarlengthVLQ()
		if err != nil {
			t.Fatal(err)
		}
		if got != v {
			t.Fatalf("VLQ round trip %d != %d", got, v)
		}
	}
}

func TestCRC32MatchesIEEE(t *testing.T) {
	data := []byte("123456789")
	if CRC32(data) != 0xCBF43926 {
		t.Fatalf("CRC32 = %#x, want 0xCBF43926", CRC32(data))
	}
}

func TestBitOrderPacking(t *testing.T) {
	enc := NewBitStreamEncoder(MSBFirst)
	enc.WriteBits(0b101, 3)
	enc.WriteBits(0b11111, 5)
	got := enc.Finish()
	if got[0] != 0b10111111 {
		t.Fatalf("packed byte = %08b, want 10111111", got[0])
	}
}
