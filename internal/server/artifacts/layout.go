// Package artifacts owns where upload artifacts live on disk, which public
// URL each one is served under, and the optional S3 mirror of finished files.
package artifacts

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/mediarelay/internal/common"
	"github.com/dmitrijs2005/mediarelay/internal/server/models"
	"github.com/dmitrijs2005/mediarelay/internal/shared"
)

// URLPrefix is the public path the upload root is served under.
const URLPrefix = "/uploads"

// Layout maps conversations to directories below the upload root.
type Layout struct {
	root string
	now  func() time.Time
	rand func(n int) (string, error)
}

func NewLayout(root string) *Layout {
	return &Layout{root: filepath.Clean(root), now: time.Now, rand: shared.RandomAlphaNumeric}
}

func (l *Layout) Root() string { return l.root }

func (l *Layout) AttachmentDir(conversationID string) string {
	return filepath.Join(l.root, "messages", "attachment", conversationID)
}

func (l *Layout) HLSDir(conversationID string) string {
	return filepath.Join(l.root, "messages", "attachment", "hls", conversationID)
}

func (l *Layout) VoiceOriginalDir(conversationID string) string {
	return filepath.Join(l.root, "messages", "voice_notes", "original", conversationID)
}

func (l *Layout) VoiceM4ADir(conversationID string) string {
	return filepath.Join(l.root, "messages", "voice_notes", "m4a", conversationID)
}

// AttachmentURL is the public URL of a file stored in AttachmentDir.
func (l *Layout) AttachmentURL(conversationID, name string) string {
	return URLPrefix + "/messages/attachment/" + conversationID + "/" + name
}

// URLFor returns the public URL of a file below the upload root.
func (l *Layout) URLFor(path string) (string, error) {
	rel, err := filepath.Rel(l.root, filepath.Clean(path))
	if err != nil {
		return "", err
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the upload root", path)
	}
	return URLPrefix + "/" + filepath.ToSlash(rel), nil
}

// PathFor is the inverse of URLFor.
func (l *Layout) PathFor(url string) (string, error) {
	rel, ok := strings.CutPrefix(url, URLPrefix+"/")
	if !ok {
		return "", fmt.Errorf("%s is not an upload url", url)
	}
	rel = filepath.FromSlash(rel)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%s escapes the upload root", url)
	}
	return filepath.Join(l.root, rel), nil
}

// ObjectKey is the mirror key of a file: its URL without the leading slash.
func (l *Layout) ObjectKey(path string) (string, error) {
	u, err := l.URLFor(path)
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(u, "/"), nil
}

// IncomingPath picks where freshly received bytes for kind are written.
// Voice notes land in the originals directory, everything else directly in
// the conversation's attachment directory.
func (l *Layout) IncomingPath(kind models.UploadKind, conversationID, userID, originalName string) (string, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	if kind == models.KindVoiceNote {
		name, err := l.name(userID+"-voice-original-", ext)
		if err != nil {
			return "", err
		}
		return filepath.Join(l.VoiceOriginalDir(conversationID), name), nil
	}

	name, err := l.name(userID+"-msg-", ext)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.AttachmentDir(conversationID), name), nil
}

// name returns {prefix}{rand8}-{unixMillis}{ext}.
func (l *Layout) name(prefix, ext string) (string, error) {
	token, err := l.rand(8)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%s-%d%s", prefix, token, l.now().UnixMilli(), ext), nil
}

// VoiceM4AName is the base name (without .m4a) of a transcoded voice note.
func (l *Layout) VoiceM4AName(userID string) (string, error) {
	token, err := l.rand(8)
	if err != nil {
		return "", err
	}
	return userID + "-voice-" + token, nil
}

// MovedAttachmentName names a non-video file received on the video endpoint.
func (l *Layout) MovedAttachmentName(userID, originalName string) (string, error) {
	token, err := l.rand(8)
	if err != nil {
		return "", err
	}
	return userID + "-" + token + strings.ToLower(filepath.Ext(originalName)), nil
}

// HLSPrefix names the playlist and segments of a streaming conversion.
func HLSPrefix(userID, token string) string {
	return userID + "-video-" + token
}

// ValidateSegment rejects identifiers that cannot be used as a single path
// component (conversation ids, client tokens).
func ValidateSegment(field, v string) error {
	if v == "" {
		return fmt.Errorf("%w: %s is required", common.ErrorValidation, field)
	}
	if v == "." || v == ".." || strings.ContainsAny(v, `/\`+"\x00") || len(v) > 255 {
		return fmt.Errorf("%w: invalid %s", common.ErrorValidation, field)
	}
	return nil
}
