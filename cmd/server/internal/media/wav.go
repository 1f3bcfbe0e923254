package media

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// WavData holds a decoded PCM WAV: format parameters plus raw little-endian
// sample bytes. All pipeline-internal audio is 16 kHz mono s16le, but the
// reader accepts any PCM layout and lets callers check.
type WavData struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	Data          []byte
}

// FrameSize returns bytes per sample frame (all channels).
func (w *WavData) FrameSize() int {
	return w.Channels * w.BitsPerSample / 8
}

// Frames returns the number of sample frames.
func (w *WavData) Frames() int {
	fs := w.FrameSize()
	if fs == 0 {
		return 0
	}
	return len(w.Data) / fs
}

// Duration returns the audio duration in seconds.
func (w *WavData) Duration() float64 {
	if w.SampleRate == 0 {
		return 0
	}
	return float64(w.Frames()) / float64(w.SampleRate)
}

// ReadWAV parses a PCM RIFF/WAVE file, walking chunks until it has seen both
// fmt and data.
func ReadWAV(path string) (*WavData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeWAV(f)
}

// DecodeWAV parses a PCM RIFF/WAVE stream.
func DecodeWAV(r io.Reader) (*WavData, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, fmt.Errorf("media: reading RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, fmt.Errorf("media: not a RIFF/WAVE stream")
	}

	wav := &WavData{}
	haveFmt := false
	for {
		var chunkHeader [8]byte
		if _, err := io.ReadFull(r, chunkHeader[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, fmt.Errorf("media: reading chunk header: %w", err)
		}
		chunkID := string(chunkHeader[0:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])

		switch chunkID {
		case "fmt ":
			body := make([]byte, chunkSize)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, fmt.Errorf("media: reading fmt chunk: %w", err)
			}
			if len(body) < 16 {
				return nil, fmt.Errorf("media: fmt chunk too short (%d bytes)", len(body))
			}
			audioFormat := binary.LittleEndian.Uint16(body[0:2])
			if audioFormat != 1 { // PCM only
				return nil, fmt.Errorf("media: unsupported WAV audio format %d", audioFormat)
			}
			wav.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			wav.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			wav.BitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("media: data chunk before fmt chunk")
			}
			wav.Data = make([]byte, chunkSize)
			if _, err := io.ReadFull(r, wav.Data); err != nil {
				return nil, fmt.Errorf("media: reading data chunk: %w", err)
			}
			return wav, nil
		default:
			// Skip LIST/INFO and other chunks ffmpeg likes to emit.
			if _, err := io.CopyN(io.Discard, r, int64(chunkSize)); err != nil {
				return nil, fmt.Errorf("media: skipping %q chunk: %w", chunkID, err)
			}
		}
		// Chunks are word-aligned; odd sizes carry a pad byte.
		if chunkSize%2 == 1 {
			if _, err := io.CopyN(io.Discard, r, 1); err != nil && err != io.EOF {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("media: no data chunk found")
}

// WriteWAV writes a PCM WAV file with a standard 44-byte header.
func WriteWAV(path string, wav *WavData) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := EncodeWAV(f, wav); err != nil {
		return err
	}
	return f.Sync()
}

// EncodeWAV writes the RIFF header followed by the sample data.
func EncodeWAV(w io.Writer, wav *WavData) error {
	byteRate := wav.SampleRate * wav.Channels * wav.BitsPerSample / 8
	blockAlign := wav.Channels * wav.BitsPerSample / 8
	dataSize := len(wav.Data)
	chunkSize := 36 + dataSize

	buf := &bytes.Buffer{}
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(chunkSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))                 // Subchunk1Size
	binary.Write(buf, binary.LittleEndian, uint16(1))                  // PCM
	binary.Write(buf, binary.LittleEndian, uint16(wav.Channels))       // NumChannels
	binary.Write(buf, binary.LittleEndian, uint32(wav.SampleRate))     // SampleRate
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))           // ByteRate
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))         // BlockAlign
	binary.Write(buf, binary.LittleEndian, uint16(wav.BitsPerSample))  // BitsPerSample
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataSize))

	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(wav.Data)
	return err
}

// wavFileDuration reads only as much of the file as needed to compute the
// audio duration.
func wavFileDuration(path string) (float64, error) {
	wav, err := ReadWAV(path)
	if err != nil {
		return 0, err
	}
	return wav.Duration(), nil
}
