package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/takejohn/voicevox-core/pkg/types"
)

// pcmFormatTag is the WAVE format tag for integer PCM.
const pcmFormatTag = 1

// EncodeWAV writes pcm as a 16-bit RIFF/WAVE file.
func EncodeWAV(w io.WriteSeeker, pcm []byte, f Format) error {
	if err := f.Validate(); err != nil {
		return err
	}
	data := make([]int, len(pcm)/2)
	for i := range data {
		data[i] = int(sampleAt(pcm, i))
	}

	enc := wav.NewEncoder(w, f.SampleRate, 16, f.Channels, pcmFormatTag)
	buf := &goaudio.IntBuffer{
		Data:           data,
		Format:         &goaudio.Format{SampleRate: f.SampleRate, NumChannels: f.Channels},
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audio: write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: finish wav: %w", err)
	}
	return nil
}

// WAV encodes pcm into an in-memory WAV file.
func WAV(pcm []byte, f Format) ([]byte, error) {
	var ws writeSeeker
	if err := EncodeWAV(&ws, pcm, f); err != nil {
		return nil, err
	}
	return ws.buf, nil
}

// DecodeWAV reads a 16-bit PCM WAV file.
func DecodeWAV(r io.ReadSeeker) ([]byte, Format, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, Format{}, fmt.Errorf("audio: %w: not a valid wav file", types.ErrFormat)
	}
	if dec.BitDepth != 16 {
		return nil, Format{}, fmt.Errorf("audio: %w: bit depth %d unsupported", types.ErrFormat, dec.BitDepth)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, fmt.Errorf("audio: %w: read wav samples: %w", types.ErrFormat, err)
	}
	pcm := make([]byte, len(buf.Data)*2)
	for i, v := range buf.Data {
		putSample(pcm, i, int16(v))
	}
	return pcm, Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}, nil
}

// DecodeWAVBytes is [DecodeWAV] over an in-memory file.
func DecodeWAVBytes(b []byte) ([]byte, Format, error) {
	return DecodeWAV(bytes.NewReader(b))
}

// writeSeeker is an in-memory io.WriteSeeker; the WAV encoder seeks back to
// patch chunk sizes.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	if end := w.pos + len(p); end > len(w.buf) {
		w.buf = append(w.buf, make([]byte, end-len(w.buf))...)
	}
	n := copy(w.buf[w.pos:], p)
	w.pos += n
	return n, nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(w.pos)
	case io.SeekEnd:
		base = int64(len(w.buf))
	default:
		return 0, errors.New("audio: invalid whence")
	}
	next := base + offset
	if next < 0 {
		return 0, errors.New("audio: negative seek position")
	}
	w.pos = int(next)
	return next, nil
}
