package codec

import "testing"

func TestUint16RoundTrip(t *testing.T) {
	cases := []uint16{0, 1, 0x00FF, 0xFF00, 0xFFFF}
	for _, v := range cases {
		buf := make([]byte, 2)
		PutUint16(buf, v)
		if got := Uint16(buf); got != v {
			t.Errorf("Uint16 round trip: want %d, got %d", v, got)
		}
	}
}

func TestUint32RoundTrip(t *testing.T) {
	cases := []uint32{0, 1, 0xFFFFFFFF, 0x01020304}
	for _, v := range cases {
		buf := make([]byte, 4)
		PutUint32(buf, v)
		if got := Uint32(buf); got != v {
			t.Errorf("Uint32 round trip: want %d, got %d", v, got)
		}
	}
}

func TestUint64RoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 0xFFFFFFFFFFFFFFFF, 0x0102030405060708}
	for _, v := range cases {
		buf := make([]byte, 8)
		PutUint64(buf, v)
		if got := Uint64(buf); got != v {
			t.Errorf("Uint64 round trip: want %d, got %d", v, got)
		}
	}
}

func TestInt64RoundTrip(t *testing.T) {
	cases := []int64{0, -1, 1, -9223372036854775808, 9223372036854775807}
	for _, v := range cases {
		buf := make([]byte, 8)
		PutInt64(buf, v)
		if got := Int64(buf); got != v {
			t.Errorf("Int64 round trip: want %d, got %d", v, got)
		}
	}
}

func TestBigEndianByteOrder(t *testing.T) {
	buf := make([]byte, 4)
	PutUint32(buf, 0x01020304)
	want := []byte{0x01, 0x02, 0x03, 0x04}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("byte %d: want %#x, got %#x", i, want[i], buf[i])
		}
	}
}
