package audio

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func chunk(seq uint64, data string) Chunk {
	return Chunk{Seq: seq, Data: []byte(data), ReceivedAt: time.Now()}
}

func TestAppendSequenceOrdering(t *testing.T) {
	b := NewBuffer(0)

	for _, seq := range []uint64{1, 2, 3} {
		if err := b.Append(chunk(seq, "pcm")); err != nil {
			t.Fatalf("Chunk %d should be accepted: %v", seq, err)
		}
	}

	// Duplicate of an accepted sequence is rejected.
	if err := b.Append(chunk(2, "pcm")); !errors.Is(err, ErrStaleSequence) {
		t.Errorf("Duplicate sequence should be rejected, got %v", err)
	}

	// An older sequence after a newer one is rejected.
	if err := b.Append(chunk(1, "pcm")); !errors.Is(err, ErrStaleSequence) {
		t.Errorf("Out-of-order sequence should be rejected, got %v", err)
	}

	// The rejection does not advance the watermark.
	if err := b.Append(chunk(4, "pcm")); err != nil {
		t.Errorf("Next sequence should still be accepted: %v", err)
	}

	if b.Len() != 4 {
		t.Errorf("Expected 4 buffered frames, got %d", b.Len())
	}
}

func TestAppendFirstSequenceArbitrary(t *testing.T) {
	b := NewBuffer(0)

	if err := b.Append(chunk(10, "pcm")); err != nil {
		t.Fatalf("First chunk may use any sequence: %v", err)
	}
	if err := b.Append(chunk(5, "pcm")); !errors.Is(err, ErrStaleSequence) {
		t.Errorf("Sequence below the watermark should be rejected, got %v", err)
	}

	seq, ok := b.LastSeq()
	if !ok || seq != 10 {
		t.Errorf("Expected watermark 10, got %d (ok=%v)", seq, ok)
	}
}

func TestDrainReturnsOldestFirst(t *testing.T) {
	b := NewBuffer(0)
	payloads := []string{"first", "second", "third"}
	for i, p := range payloads {
		if err := b.Append(chunk(uint64(i+1), p)); err != nil {
			t.Fatalf("Append %d failed: %v", i+1, err)
		}
	}

	chunks := b.Drain()
	if len(chunks) != 3 {
		t.Fatalf("Expected 3 drained chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Seq != uint64(i+1) {
			t.Errorf("Chunk %d: expected seq %d, got %d", i, i+1, c.Seq)
		}
		if !bytes.Equal(c.Data, []byte(payloads[i])) {
			t.Errorf("Chunk %d: expected data %q, got %q", i, payloads[i], c.Data)
		}
	}

	if b.Len() != 0 {
		t.Errorf("Buffer should be empty after drain, got %d frames", b.Len())
	}

	// Draining does not reset the watermark.
	if err := b.Append(chunk(2, "pcm")); !errors.Is(err, ErrStaleSequence) {
		t.Errorf("Watermark should survive a drain, got %v", err)
	}
}

func TestResetClearsWatermark(t *testing.T) {
	b := NewBuffer(0)
	if err := b.Append(chunk(5, "pcm")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	b.Reset()

	if b.Len() != 0 || b.Bytes() != 0 {
		t.Error("Reset should discard buffered audio")
	}
	// A new stream numbers its chunks from scratch.
	if err := b.Append(chunk(1, "pcm")); err != nil {
		t.Errorf("Sequence numbering should restart after reset: %v", err)
	}
}

func TestEvictionDropsOldestFrames(t *testing.T) {
	// Room for only a few frames so eviction kicks in quickly.
	b := NewBuffer(256)
	payload := make([]byte, 48)

	total := 20
	for i := 1; i <= total; i++ {
		if err := b.Append(Chunk{Seq: uint64(i), Data: payload, ReceivedAt: time.Now()}); err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
	}

	if b.Len() >= total {
		t.Fatalf("Expected eviction, still holding %d frames", b.Len())
	}

	chunks := b.Drain()
	if len(chunks) == 0 {
		t.Fatal("Expected surviving frames after eviction")
	}
	if chunks[0].Seq == 1 {
		t.Error("Oldest frame should have been evicted first")
	}
	if last := chunks[len(chunks)-1].Seq; last != uint64(total) {
		t.Errorf("Newest frame must survive eviction, got seq %d", last)
	}
}

func TestFrameTooLarge(t *testing.T) {
	b := NewBuffer(64)
	huge := Chunk{Seq: 1, Data: make([]byte, 128), ReceivedAt: time.Now()}

	if err := b.Append(huge); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Expected ErrFrameTooLarge, got %v", err)
	}
}
