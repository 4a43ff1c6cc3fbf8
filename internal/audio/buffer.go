package audio

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/smallnest/ringbuffer"
)

// DefaultCapacity holds roughly eight seconds of 16kHz 16-bit mono audio.
const DefaultCapacity = 256 << 10

// Chunk is one audio frame received from the client.
type Chunk struct {
	Seq        uint64
	Data       []byte
	ReceivedAt time.Time
}

const chunkHeaderSize = 8 + 8 + 4 // seq + unixnano + dataLen

// MarshalBinary encodes the chunk as seq(8) + timestamp(8) + dataLen(4) + data.
func (c *Chunk) MarshalBinary() ([]byte, error) {
	buf := make([]byte, chunkHeaderSize+len(c.Data))

	offset := 0
	binary.LittleEndian.PutUint64(buf[offset:], c.Seq)
	offset += 8

	binary.LittleEndian.PutUint64(buf[offset:], uint64(c.ReceivedAt.UnixNano()))
	offset += 8

	binary.LittleEndian.PutUint32(buf[offset:], uint32(len(c.Data)))
	offset += 4

	copy(buf[offset:], c.Data)
	return buf, nil
}

func (c *Chunk) UnmarshalBinary(data []byte) error {
	if len(data) < chunkHeaderSize {
		return errors.New("audio frame truncated")
	}

	offset := 0
	c.Seq = binary.LittleEndian.Uint64(data[offset:])
	offset += 8

	c.ReceivedAt = time.Unix(0, int64(binary.LittleEndian.Uint64(data[offset:])))
	offset += 8

	dataLen := binary.LittleEndian.Uint32(data[offset:])
	offset += 4

	if len(data[offset:]) < int(dataLen) {
		return errors.New("audio frame truncated")
	}
	c.Data = make([]byte, dataLen)
	copy(c.Data, data[offset:offset+int(dataLen)])
	return nil
}

var (
	// ErrStaleSequence rejects a chunk whose sequence number does not
	// strictly increase over the last accepted one. Covers duplicates and
	// reordered frames alike.
	ErrStaleSequence = errors.New("chunk sequence not increasing")
	ErrFrameTooLarge = errors.New("audio frame too large for buffer")
)

// Buffer holds the most recent audio of one stream. It enforces strictly
// increasing sequence numbers and evicts the oldest frames once full, so a
// stalled consumer can never block ingestion.
type Buffer struct {
	mu      sync.Mutex
	rb      *ringbuffer.RingBuffer
	lastSeq uint64
	hasSeq  bool
	frames  int
}

func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		rb: ringbuffer.New(capacity).SetBlocking(false),
	}
}

// Append validates the chunk's sequence number and stores it, evicting the
// oldest frames if there is no room left.
func (b *Buffer) Append(chunk Chunk) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.hasSeq && chunk.Seq <= b.lastSeq {
		return ErrStaleSequence
	}

	data, err := chunk.MarshalBinary()
	if err != nil {
		return err
	}

	required := len(data) + 4
	if required > b.rb.Capacity() {
		return ErrFrameTooLarge
	}

	for b.rb.Free() < required {
		if !b.removeOldestFrame() {
			b.rb.Reset()
			b.frames = 0
			break
		}
	}

	sizeBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(sizeBytes, uint32(len(data)))
	if _, err := b.rb.Write(sizeBytes); err != nil {
		return err
	}
	if _, err := b.rb.Write(data); err != nil {
		return err
	}

	b.lastSeq = chunk.Seq
	b.hasSeq = true
	b.frames++
	return nil
}

func (b *Buffer) removeOldestFrame() bool {
	if b.rb.IsEmpty() {
		return false
	}

	sizeBytes := make([]byte, 4)
	n, err := b.rb.Read(sizeBytes)
	if err != nil || n != 4 {
		return false
	}

	size := int(binary.LittleEndian.Uint32(sizeBytes))
	if size > 0 {
		skip := make([]byte, size)
		n, err := b.rb.Read(skip)
		if err != nil || n != size {
			return false
		}
	}

	b.frames--
	return true
}

func (b *Buffer) dequeue() (Chunk, bool) {
	if b.rb.IsEmpty() {
		return Chunk{}, false
	}

	sizeBytes := make([]byte, 4)
	n, err := b.rb.Read(sizeBytes)
	if err != nil || n != 4 {
		return Chunk{}, false
	}

	size := int(binary.LittleEndian.Uint32(sizeBytes))
	data := make([]byte, size)
	n, err = b.rb.Read(data)
	if err != nil || n != size {
		return Chunk{}, false
	}

	var chunk Chunk
	if err := chunk.UnmarshalBinary(data); err != nil {
		return Chunk{}, false
	}
	b.frames--
	return chunk, true
}

// Drain removes and returns all buffered chunks, oldest first. Used to flush
// pre-roll audio into a freshly opened recognition stream.
func (b *Buffer) Drain() []Chunk {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Chunk
	for {
		chunk, ok := b.dequeue()
		if !ok {
			break
		}
		out = append(out, chunk)
	}
	return out
}

// Reset discards buffered audio and the sequence watermark. Called when a
// stream ends; numbering starts fresh on the next stream.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rb.Reset()
	b.frames = 0
	b.lastSeq = 0
	b.hasSeq = false
}

// Len returns the number of buffered frames.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frames
}

// Bytes returns the buffered payload size, framing included.
func (b *Buffer) Bytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rb.Length()
}

// LastSeq returns the highest accepted sequence number, if any.
func (b *Buffer) LastSeq() (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSeq, b.hasSeq
}
