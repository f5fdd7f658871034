package audio

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MinOutputBytes is the smallest plausible size for a synthesized sentence.
// Truncated downloads and empty API responses fall well under it.
const MinOutputBytes = 512

// ValidateOutput checks that a synthesized file exists, is big enough to hold
// real audio, and starts with a header matching its extension. A unit's audio
// only counts as done once this passes.
func ValidateOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("audio file missing: %w", err)
	}
	if info.Size() < MinOutputBytes {
		return fmt.Errorf("audio file %s is %d bytes, below the %d byte minimum",
			filepath.Base(path), info.Size(), MinOutputBytes)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	header := make([]byte, 12)
	if _, err := f.Read(header); err != nil {
		return fmt.Errorf("failed to read audio header: %w", err)
	}

	if err := checkHeader(filepath.Ext(path), header); err != nil {
		return fmt.Errorf("audio file %s: %w", filepath.Base(path), err)
	}
	return nil
}

func checkHeader(ext string, header []byte) error {
	switch strings.ToLower(ext) {
	case ".mp3":
		// ID3 tag or a bare MPEG frame sync.
		if bytes.HasPrefix(header, []byte("ID3")) {
			return nil
		}
		if header[0] == 0xFF && header[1]&0xE0 == 0xE0 {
			return nil
		}
		return fmt.Errorf("not an MP3 stream")
	case ".wav":
		if bytes.HasPrefix(header, []byte("RIFF")) && bytes.Equal(header[8:12], []byte("WAVE")) {
			return nil
		}
		return fmt.Errorf("not a WAV stream")
	case ".flac":
		if bytes.HasPrefix(header, []byte("fLaC")) {
			return nil
		}
		return fmt.Errorf("not a FLAC stream")
	case ".opus", ".ogg":
		if bytes.HasPrefix(header, []byte("OggS")) {
			return nil
		}
		return fmt.Errorf("not an Ogg stream")
	default:
		// Unknown extension: size check already passed, accept.
		return nil
	}
}
