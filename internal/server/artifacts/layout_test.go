package artifacts

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/mediarelay/internal/common"
	"github.com/dmitrijs2005/mediarelay/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedLayout(root string) *Layout {
	l := NewLayout(root)
	l.now = func() time.Time { return time.UnixMilli(1700000000123) }
	l.rand = func(n int) (string, error) { return "Ab3dEf7h"[:n], nil }
	return l
}

func TestLayout_Directories(t *testing.T) {
	l := NewLayout("/srv/uploads")

	assert.Equal(t, filepath.FromSlash("/srv/uploads/messages/attachment/c1"), l.AttachmentDir("c1"))
	assert.Equal(t, filepath.FromSlash("/srv/uploads/messages/attachment/hls/c1"), l.HLSDir("c1"))
	assert.Equal(t, filepath.FromSlash("/srv/uploads/messages/voice_notes/original/c1"), l.VoiceOriginalDir("c1"))
	assert.Equal(t, filepath.FromSlash("/srv/uploads/messages/voice_notes/m4a/c1"), l.VoiceM4ADir("c1"))
}

func TestLayout_URLFor(t *testing.T) {
	l := NewLayout("/srv/uploads")

	cases := map[string]string{
		l.AttachmentDir("c1") + "/u1-msg-Ab3dEf7h-1.png": "/uploads/messages/attachment/c1/u1-msg-Ab3dEf7h-1.png",
		l.AttachmentDir("c1") + "/tok.zip":               "/uploads/messages/attachment/c1/tok.zip",
		l.HLSDir("c1") + "/u1-video-tok.m3u8":            "/uploads/messages/attachment/hls/c1/u1-video-tok.m3u8",
		l.VoiceM4ADir("c1") + "/u1-voice-Ab3dEf7h.m4a":   "/uploads/messages/voice_notes/m4a/c1/u1-voice-Ab3dEf7h.m4a",
	}
	for in, want := range cases {
		got, err := l.URLFor(filepath.FromSlash(in))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := l.URLFor("/etc/passwd")
	assert.Error(t, err)
	_, err = l.URLFor("/srv/uploads")
	assert.Error(t, err)

	key, err := l.ObjectKey(filepath.FromSlash(l.AttachmentDir("c1") + "/tok.zip"))
	require.NoError(t, err)
	assert.Equal(t, "uploads/messages/attachment/c1/tok.zip", key)
}

func TestLayout_AttachmentURL(t *testing.T) {
	l := NewLayout("/srv/uploads")
	assert.Equal(t, "/uploads/messages/attachment/c1/tok.zip", l.AttachmentURL("c1", "tok.zip"))
}

func TestLayout_PathFor(t *testing.T) {
	l := NewLayout("/srv/uploads")

	p, err := l.PathFor("/uploads/messages/attachment/c1/tok.zip")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(l.AttachmentDir("c1"), "tok.zip"), p)

	for _, bad := range []string{"/static/x.png", "/uploads/../etc/passwd", "uploads/x"} {
		_, err := l.PathFor(bad)
		assert.Error(t, err, bad)
	}
}

func TestLayout_RelativeRoot(t *testing.T) {
	l := NewLayout("uploads")
	u, err := l.URLFor(filepath.Join(l.AttachmentDir("c9"), "x.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "/uploads/messages/attachment/c9/x.pdf", u)
}

func TestLayout_IncomingPath(t *testing.T) {
	l := fixedLayout("/srv/uploads")

	p, err := l.IncomingPath(models.KindImage, "c1", "u1", "Holiday.JPG")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(l.AttachmentDir("c1"), "u1-msg-Ab3dEf7h-1700000000123.jpg"), p)

	p, err = l.IncomingPath(models.KindVoiceNote, "c1", "u1", "rec.webm")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(l.VoiceOriginalDir("c1"), "u1-voice-original-Ab3dEf7h-1700000000123.webm"), p)

	p, err = l.IncomingPath(models.KindFile, "c1", "u1", "Makefile")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(l.AttachmentDir("c1"), "u1-msg-Ab3dEf7h-1700000000123"), p)
}

func TestLayout_Names(t *testing.T) {
	l := fixedLayout("/srv/uploads")

	n, err := l.VoiceM4AName("u1")
	require.NoError(t, err)
	assert.Equal(t, "u1-voice-Ab3dEf7h", n)

	n, err = l.MovedAttachmentName("u1", "notes.TXT")
	require.NoError(t, err)
	assert.Equal(t, "u1-Ab3dEf7h.txt", n)

	assert.Equal(t, "u1-video-tok-9", HLSPrefix("u1", "tok-9"))
}

func TestValidateSegment(t *testing.T) {
	assert.NoError(t, ValidateSegment("conversation_id", "3f2b9c1e-0000-4000-8000-000000000000"))

	for _, bad := range []string{"", ".", "..", "../etc", `a\b`, "a/b", "nul\x00"} {
		err := ValidateSegment("conversation_id", bad)
		assert.ErrorIs(t, err, common.ErrorValidation, "%q", bad)
	}
}
