package transform

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/mediarelay/internal/common"
	"github.com/dmitrijs2005/mediarelay/internal/logging"
	"gopkg.in/vansante/go-ffprobe.v2"
)

// FFmpeg implements Adapter on top of the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	ffmpegPath string
	log        logging.Logger
}

// NewFFmpeg configures the binary paths. ffprobe's path is process-wide
// in the go-ffprobe library.
func NewFFmpeg(ffmpegPath, ffprobePath string, log logging.Logger) *FFmpeg {
	if ffprobePath != "" {
		ffprobe.SetFFProbeBinPath(ffprobePath)
	}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpeg{ffmpegPath: ffmpegPath, log: log.With("module", "transform")}
}

// probeURL is a seam for tests.
var probeURL = ffprobe.ProbeURL

// commandContext is a seam for tests.
var commandContext = exec.CommandContext

func (f *FFmpeg) Probe(ctx context.Context, inputPath string) (*ProbeResult, error) {
	data, err := probeURL(ctx, inputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: ffprobe %s: %w", common.ErrTransform, filepath.Base(inputPath), err)
	}
	return fromProbeData(data), nil
}

func fromProbeData(data *ffprobe.ProbeData) *ProbeResult {
	res := &ProbeResult{}
	if data == nil {
		return res
	}
	if data.Format != nil {
		res.Format = Format{
			Duration: data.Format.DurationSeconds,
			BitRate:  parseInt(data.Format.BitRate),
			Size:     parseInt(data.Format.Size),
		}
	}
	for _, s := range data.Streams {
		if s == nil {
			continue
		}
		res.Streams = append(res.Streams, Stream{
			CodecType:    s.CodecType,
			CodecName:    s.CodecName,
			Width:        s.Width,
			Height:       s.Height,
			AvgFrameRate: s.AvgFrameRate,
		})
	}
	return res
}

func parseInt(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// TranscodeToStreaming writes {outDir}/{prefix}.m3u8 plus {prefix}_NNN.ts
// segments of ten seconds each.
func (f *FFmpeg) TranscodeToStreaming(ctx context.Context, inputPath, outDir, prefix string) (string, error) {
	playlist := filepath.Join(outDir, prefix+".m3u8")
	args := []string{
		"-y", "-i", inputPath,
		"-c:v", "libx264", "-preset", "veryfast", "-crf", "23",
		"-c:a", "aac", "-b:a", "128k",
		"-f", "hls",
		"-hls_time", "10",
		"-hls_list_size", "0",
		"-hls_segment_filename", filepath.Join(outDir, prefix+"_%03d.ts"),
		"-start_number", "0",
		playlist,
	}
	if err := f.run(ctx, outDir, args); err != nil {
		return "", err
	}
	return playlist, nil
}

// TranscodeToCompressedAudio writes {outDir}/{name}.m4a (AAC, 128 kbit/s).
func (f *FFmpeg) TranscodeToCompressedAudio(ctx context.Context, inputPath, outDir, name string) (string, error) {
	out := filepath.Join(outDir, name+".m4a")
	args := []string{
		"-y", "-i", inputPath,
		"-vn",
		"-c:a", "aac", "-b:a", "128k",
		"-f", "mp4",
		out,
	}
	if err := f.run(ctx, outDir, args); err != nil {
		_ = os.Remove(out)
		return "", err
	}
	return out, nil
}

func (f *FFmpeg) run(ctx context.Context, outDir string, args []string) error {
	if err := os.MkdirAll(outDir, 0o770); err != nil {
		return fmt.Errorf("%w: mkdir %s: %w", common.ErrTransform, outDir, err)
	}

	cmd := commandContext(ctx, f.ffmpegPath, args...)
	f.log.Debug(ctx, "spawning ffmpeg", "args", strings.Join(args, " "))

	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.Join(err, ctxErr)
		}
		return fmt.Errorf("%w: ffmpeg: %w: %s", common.ErrTransform, err, tail(out, 512))
	}
	return nil
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return strings.TrimSpace(string(b))
}
