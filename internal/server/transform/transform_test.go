package transform

import (
	"context"
	"errors"
	"testing"

	"github.com/dmitrijs2005/mediarelay/internal/common"
	"github.com/dmitrijs2005/mediarelay/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/vansante/go-ffprobe.v2"
)

func TestProbeResult_FirstStream(t *testing.T) {
	p := &ProbeResult{Streams: []Stream{
		{CodecType: "audio", CodecName: "aac"},
		{CodecType: "video", CodecName: "h264", Width: 1280, Height: 720},
		{CodecType: "video", CodecName: "mjpeg"},
	}}

	v := p.FirstStream("video")
	require.NotNil(t, v)
	assert.Equal(t, "h264", v.CodecName)
	assert.Equal(t, "aac", p.FirstStream("audio").CodecName)
	assert.Nil(t, p.FirstStream("subtitle"))

	var nilResult *ProbeResult
	assert.Nil(t, nilResult.FirstStream("video"))
}

func TestFromProbeData(t *testing.T) {
	data := &ffprobe.ProbeData{
		Format: &ffprobe.Format{DurationSeconds: 12.5, BitRate: "800000", Size: "1250000"},
		Streams: []*ffprobe.Stream{
			{CodecType: "video", CodecName: "h264", Width: 640, Height: 360, AvgFrameRate: "30/1"},
			nil,
			{CodecType: "audio", CodecName: "aac"},
		},
	}

	got := fromProbeData(data)
	assert.Equal(t, Format{Duration: 12.5, BitRate: 800000, Size: 1250000}, got.Format)
	require.Len(t, got.Streams, 2)
	assert.Equal(t, Stream{CodecType: "video", CodecName: "h264", Width: 640, Height: 360, AvgFrameRate: "30/1"}, got.Streams[0])

	assert.Equal(t, &ProbeResult{}, fromProbeData(nil))
	assert.Equal(t, Format{}, fromProbeData(&ffprobe.ProbeData{Format: &ffprobe.Format{BitRate: "N/A"}}).Format)
}

func TestProbe_UsesFFprobe(t *testing.T) {
	orig := probeURL
	defer func() { probeURL = orig }()

	probeURL = func(ctx context.Context, fileURL string, extra ...string) (*ffprobe.ProbeData, error) {
		assert.Equal(t, "/tmp/in.mp4", fileURL)
		return &ffprobe.ProbeData{Format: &ffprobe.Format{DurationSeconds: 3}}, nil
	}

	f := NewFFmpeg("", "", logging.Nop())
	res, err := f.Probe(context.Background(), "/tmp/in.mp4")
	require.NoError(t, err)
	assert.Equal(t, 3.0, res.Format.Duration)
}

func TestProbe_Error(t *testing.T) {
	orig := probeURL
	defer func() { probeURL = orig }()

	probeURL = func(ctx context.Context, fileURL string, extra ...string) (*ffprobe.ProbeData, error) {
		return nil, errors.New("invalid data found when processing input")
	}

	_, err := NewFFmpeg("", "", logging.Nop()).Probe(context.Background(), "/tmp/bad.bin")
	assert.ErrorIs(t, err, common.ErrTransform)
}
