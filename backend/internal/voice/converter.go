package voice

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os/exec"
	"runtime"
)

// AudioConverter shells out to ffmpeg for container decoding. Synthesized
// clips arrive as WAV (or whatever the TTS backend emits); Discord wants
// raw 48kHz stereo PCM for opus encoding.
type AudioConverter struct {
	ffmpegPath string
}

// NewAudioConverter creates a converter using the given ffmpeg binary.
func NewAudioConverter(ffmpegPath string) *AudioConverter {
	return &AudioConverter{ffmpegPath: ffmpegPath}
}

// FindFFmpeg locates the ffmpeg executable on PATH.
func FindFFmpeg() string {
	if path, err := exec.LookPath("ffmpeg"); err == nil {
		return path
	}

	if runtime.GOOS == "windows" {
		if path, err := exec.LookPath("ffmpeg.exe"); err == nil {
			return path
		}
	}

	return ""
}

// ToPCM decodes any audio container readable by ffmpeg into raw s16le
// 48kHz stereo PCM. The returned ReadCloser must be closed to reap the
// ffmpeg process.
func (ac *AudioConverter) ToPCM(ctx context.Context, audio io.Reader) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, ac.ffmpegPath,
		"-i", "pipe:0", // Read from stdin, container autodetected
		"-f", "s16le", // Output format: PCM 16-bit little-endian
		"-ar", "48000", // Sample rate: 48kHz
		"-ac", "2", // Channels: stereo (Discord format)
		"-acodec", "pcm_s16le",
		"pipe:1", // Write to stdout
	)

	cmd.Stdin = audio
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	cmd.Stderr = io.Discard // Suppress ffmpeg output

	if err := cmd.Start(); err != nil {
		stdout.Close()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	return &cmdReadCloser{Reader: stdout, cmd: cmd}, nil
}

// cmdReadCloser wraps a command's stdout and reaps the process on Close.
type cmdReadCloser struct {
	io.Reader
	cmd *exec.Cmd
}

func (c *cmdReadCloser) Close() error {
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	return c.cmd.Wait()
}

// PCMToWAV wraps s16le PCM in a WAV container for the STT service.
func PCMToWAV(pcm []byte, sampleRate, channels int) []byte {
	var buf bytes.Buffer

	bitsPerSampleWAV := 16
	byteRate := sampleRate * channels * bitsPerSampleWAV / 8
	blockAlign := channels * bitsPerSampleWAV / 8
	dataSize := len(pcm)
	fileSize := 36 + dataSize

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(fileSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16)) // fmt chunk size
	binary.Write(&buf, binary.LittleEndian, uint16(1))  // audio format (PCM)
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSampleWAV))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	buf.Write(pcm)

	return buf.Bytes()
}

// DownmixToMono averages interleaved channels of s16le PCM into one.
func DownmixToMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}

	frameBytes := channels * bytesPerSample
	frames := len(pcm) / frameBytes
	out := make([]byte, frames*bytesPerSample)
	for i := 0; i < frames; i++ {
		var sum int
		for ch := 0; ch < channels; ch++ {
			offset := i*frameBytes + ch*bytesPerSample
			sum += int(int16(binary.LittleEndian.Uint16(pcm[offset : offset+2])))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sum/channels)))
	}
	return out
}

// Int16ToBytes converts PCM samples to s16le bytes.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
