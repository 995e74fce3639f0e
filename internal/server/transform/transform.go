// Package transform wraps the external media tools used by the upload
// pipeline: ffprobe for metadata, ffmpeg for HLS and M4A transcodes, and a
// zip archiver for attachments that are not served as-is. Calls are not
// cached or retried; callers bound them with a context deadline.
package transform

import "context"

// Adapter is the set of transforms the upload pipeline depends on. Each
// operation reads inputPath and writes into outDir, returning the path of
// the produced artifact.
type Adapter interface {
	Probe(ctx context.Context, inputPath string) (*ProbeResult, error)
	TranscodeToStreaming(ctx context.Context, inputPath, outDir, prefix string) (string, error)
	TranscodeToCompressedAudio(ctx context.Context, inputPath, outDir, name string) (string, error)
	Archive(ctx context.Context, inputPath, outDir, name string) (string, error)
}

type Format struct {
	Duration float64
	BitRate  int64
	Size     int64
}

type Stream struct {
	CodecType    string
	CodecName    string
	Width        int
	Height       int
	AvgFrameRate string
}

type ProbeResult struct {
	Format  Format
	Streams []Stream
}

// FirstStream returns the first stream of codecType ("video", "audio"), or nil.
func (p *ProbeResult) FirstStream(codecType string) *Stream {
	if p == nil {
		return nil
	}
	for i := range p.Streams {
		if p.Streams[i].CodecType == codecType {
			return &p.Streams[i]
		}
	}
	return nil
}
