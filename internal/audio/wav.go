package audio

import (
	"bytes"
	"encoding/binary"
)

// EncodeWAV wraps raw 16-bit mono PCM in a WAV container. The local
// recognition and wake-model services only accept WAV uploads.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	var buf bytes.Buffer

	dataSize := uint32(len(pcm))

	buf.WriteString("RIFF")
	writeUint32(&buf, dataSize+36)
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	writeUint32(&buf, 16) // PCM format chunk size
	writeUint16(&buf, 1)  // PCM
	writeUint16(&buf, 1)  // mono
	writeUint32(&buf, uint32(sampleRate))
	writeUint32(&buf, uint32(sampleRate*2)) // byte rate
	writeUint16(&buf, 2)                    // block align
	writeUint16(&buf, 16)                   // bits per sample

	buf.WriteString("data")
	writeUint32(&buf, dataSize)
	buf.Write(pcm)

	return buf.Bytes()
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}
