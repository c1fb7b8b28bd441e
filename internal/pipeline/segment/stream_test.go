package segment

import (
	"bytes"
	"testing"
	"time"
)

func TestStream_WriteThenRead(t *testing.T) {
	s := NewStream()
	s.Write([]byte{1, 2})
	s.Write([]byte{3})
	s.Close()

	chunk, ok := s.Next()
	if !ok || !bytes.Equal(chunk, []byte{1, 2}) {
		t.Fatalf("first chunk = %v, %v", chunk, ok)
	}
	chunk, ok = s.Next()
	if !ok || !bytes.Equal(chunk, []byte{3}) {
		t.Fatalf("second chunk = %v, %v", chunk, ok)
	}
	if _, ok = s.Next(); ok {
		t.Fatal("expected EOF after drain")
	}
}

func TestStream_WriteAfterCloseDropped(t *testing.T) {
	s := NewStream()
	s.Close()
	s.Write([]byte{1})
	if s.Buffered() != 0 {
		t.Fatalf("buffered = %d, want 0", s.Buffered())
	}
}

func TestStream_WriteCopiesInput(t *testing.T) {
	s := NewStream()
	p := []byte{1, 2, 3}
	s.Write(p)
	p[0] = 99
	chunk, _ := s.Next()
	if chunk[0] != 1 {
		t.Fatal("stream chunk aliases caller buffer")
	}
}

func TestStream_ReaderBlocksUntilWrite(t *testing.T) {
	s := NewStream()
	got := make(chan []byte, 1)
	go func() {
		chunk, _ := s.Next()
		got <- chunk
	}()

	time.Sleep(20 * time.Millisecond)
	s.Write([]byte{7})

	select {
	case chunk := <-got:
		if !bytes.Equal(chunk, []byte{7}) {
			t.Fatalf("chunk = %v", chunk)
		}
	case <-time.After(time.Second):
		t.Fatal("reader never woke up")
	}
}

func TestStream_ReaderUnblocksOnClose(t *testing.T) {
	s := NewStream()
	done := make(chan bool, 1)
	go func() {
		_, ok := s.Next()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	s.Close()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected EOF")
		}
	case <-time.After(time.Second):
		t.Fatal("reader never woke up on close")
	}
}
