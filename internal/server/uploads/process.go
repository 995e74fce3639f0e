package uploads

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/mediarelay/internal/common"
	"github.com/dmitrijs2005/mediarelay/internal/filex"
	"github.com/dmitrijs2005/mediarelay/internal/logging"
	"github.com/dmitrijs2005/mediarelay/internal/server/artifacts"
	"github.com/dmitrijs2005/mediarelay/internal/server/models"
	"github.com/dmitrijs2005/mediarelay/internal/server/transform"
)

const (
	mimeZip = "application/zip"
	mimeHLS = "application/x-mpegURL"
	mimeM4A = "audio/mp4"
)

func (s *Service) processImage(ctx context.Context, log logging.Logger, op *operation) (*models.UploadResult, error) {
	if op.status != models.StatusReceived {
		return s.resume(ctx, log, op)
	}

	url := s.layout.AttachmentURL(op.req.ConversationID, filepath.Base(op.file.Path))

	w, h, err := s.inspect.ImageDimensions(op.file.Path)
	if err != nil {
		log.Warn(ctx, "reading image dimensions failed", "error", err)
		return &models.UploadResult{URL: url, Metadata: &models.AttachmentMetadata{
			MimeType: op.file.MimeType,
			Size:     op.file.Size,
		}}, nil
	}

	return s.finalize(ctx, log, op, url, imageMetadata(op.file, w, h), "", op.file.Path)
}

func (s *Service) processFile(ctx context.Context, log logging.Logger, op *operation) (*models.UploadResult, error) {
	if op.status != models.StatusReceived {
		return s.resume(ctx, log, op)
	}

	if !IsPassThrough(op.file.MimeType) {
		return s.archive(ctx, log, op)
	}

	url := s.layout.AttachmentURL(op.req.ConversationID, filepath.Base(op.file.Path))
	md, ok := s.extract(ctx, log, op.file)
	if !ok {
		return &models.UploadResult{URL: url, Metadata: md}, nil
	}

	s.advance(ctx, log, op, models.StatusMetadataExtracted, "", md)
	return s.finalize(ctx, log, op, url, md, "", op.file.Path)
}

func (s *Service) processVideo(ctx context.Context, log logging.Logger, op *operation) (*models.UploadResult, error) {
	if majorType(op.file.MimeType) != "video" {
		if op.status == models.StatusReceived {
			return s.storeAttachment(ctx, log, op)
		}
		return s.resume(ctx, log, op)
	}

	switch op.status {
	case models.StatusReceived:
		p, err := s.probe(ctx, op.file.Path)
		if err != nil {
			log.Warn(ctx, "probing video failed, returning partial metadata", "error", err)
			return &models.UploadResult{
				URL:      s.layout.AttachmentURL(op.req.ConversationID, filepath.Base(op.file.Path)),
				Metadata: partialMetadata(op.file),
			}, nil
		}
		s.advance(ctx, log, op, models.StatusMetadataExtracted, "", sourceVideoMetadata(op.file, p))
		return s.stream(ctx, log, op)
	case models.StatusMetadataExtracted:
		return s.stream(ctx, log, op)
	}
	return s.resume(ctx, log, op)
}

func (s *Service) processVoice(ctx context.Context, log logging.Logger, op *operation) (*models.UploadResult, error) {
	if op.status != models.StatusReceived {
		return s.resume(ctx, log, op)
	}

	name, err := s.layout.VoiceM4AName(op.req.UserID)
	if err != nil {
		return nil, fmt.Errorf("voice note name: %w", err)
	}

	var out string
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.adapter.TranscodeToCompressedAudio(ctx, op.file.Path, s.layout.VoiceM4ADir(op.req.ConversationID), name)
		return err
	})
	if err != nil {
		log.Error(ctx, "voice note conversion failed, original kept", "error", err)
		return nil, transformError("voice note", err)
	}

	fi, err := os.Stat(out)
	if err != nil {
		return nil, transformError("voice note", err)
	}
	url, err := s.layout.URLFor(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrNoSafeArtifact, err)
	}

	if err := filex.RemoveQuietly(op.file.Path); err != nil {
		log.Warn(ctx, "removing voice note original failed", "error", err)
	}

	md := &models.AttachmentMetadata{
		Type:     "audio",
		MimeType: mimeM4A,
		Codec:    "aac",
		Size:     fi.Size(),
	}
	if p, err := s.probe(ctx, out); err == nil && p.Format.Duration > 0 {
		md.Duration = ptr(p.Format.Duration)
	}

	message := msgVoiceConverted
	if op.resumed {
		message = msgVoiceRecovered
	}
	return s.finalize(ctx, log, op, url, md, message, out)
}

// resume finalizes a record that already holds everything the response
// needs.
func (s *Service) resume(ctx context.Context, log logging.Logger, op *operation) (*models.UploadResult, error) {
	switch op.status {
	case models.StatusMetadataExtracted:
		url := s.layout.AttachmentURL(op.req.ConversationID, filepath.Base(op.file.Path))
		return s.finalize(ctx, log, op, url, op.meta, "", op.file.Path)
	case models.StatusArchived:
		var files []string
		if p, err := s.layout.PathFor(op.url); err == nil {
			files = append(files, p)
		}
		return s.finalize(ctx, log, op, op.url, op.meta, "", files...)
	}
	return nil, fmt.Errorf("%w: cannot resume from %s", common.ErrNoSafeArtifact, op.status)
}

// archive zips an attachment that is not served as uploaded. The original
// is removed only after the zip exists.
func (s *Service) archive(ctx context.Context, log logging.Logger, op *operation) (*models.UploadResult, error) {
	var out string
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.adapter.Archive(ctx, op.file.Path, s.layout.AttachmentDir(op.req.ConversationID), op.req.Token)
		return err
	})
	if err != nil {
		log.Error(ctx, "archiving attachment failed, original kept", "error", err)
		return nil, transformError("archive", err)
	}

	fi, err := os.Stat(out)
	if err != nil {
		return nil, transformError("archive", err)
	}

	if err := filex.RemoveQuietly(op.file.Path); err != nil {
		log.Warn(ctx, "removing archived original failed", "error", err)
	}

	modified := fi.ModTime().UTC()
	md := &models.AttachmentMetadata{
		Type:             "application",
		Subtype:          "zip",
		MimeType:         mimeZip,
		OriginalMimeType: op.file.MimeType,
		OriginalFilename: op.file.OriginalName,
		Size:             fi.Size(),
		CreatedAt:        &modified,
		ModifiedAt:       &modified,
	}
	url := s.layout.AttachmentURL(op.req.ConversationID, filepath.Base(out))

	s.advance(ctx, log, op, models.StatusArchived, url, md)
	return s.finalize(ctx, log, op, url, md, "", out)
}

// stream converts the source video to HLS and finalizes with the playlist.
func (s *Service) stream(ctx context.Context, log logging.Logger, op *operation) (*models.UploadResult, error) {
	dir := s.layout.HLSDir(op.req.ConversationID)
	prefix := artifacts.HLSPrefix(op.req.UserID, op.req.Token)

	var playlist string
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		playlist, err = s.adapter.TranscodeToStreaming(ctx, op.file.Path, dir, prefix)
		return err
	})
	if err != nil {
		log.Error(ctx, "hls conversion failed, original kept", "error", err)
		return nil, transformError("hls", err)
	}
	if !filex.Exists(playlist) {
		return nil, transformError("hls", fmt.Errorf("playlist %s not produced", playlist))
	}

	url, err := s.layout.URLFor(playlist)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrNoSafeArtifact, err)
	}

	md := &models.AttachmentMetadata{Type: "video", Size: op.file.Size}
	if op.meta != nil {
		cp := *op.meta
		md = &cp
	}
	md.Type = "video"
	md.MimeType = mimeHLS
	md.HLSPlaylistURL = url
	md.IsHLSConverted = ptr(true)

	if p, err := s.probe(ctx, playlist); err != nil {
		log.Warn(ctx, "probing hls playlist failed, keeping source metadata", "error", err)
	} else {
		if p.Format.Duration > 0 {
			md.Duration = ptr(p.Format.Duration)
		}
		if p.Format.Size > 0 {
			md.Size = p.Format.Size
		}
		if p.Format.BitRate > 0 {
			md.BitRate = ptr(p.Format.BitRate)
		}
	}

	if err := filex.RemoveQuietly(op.file.Path); err != nil {
		log.Warn(ctx, "removing source video failed", "error", err)
	}

	files := append([]string{playlist}, segments(dir, prefix)...)
	return s.finalize(ctx, log, op, url, md, msgVideoConverted, files...)
}

// storeAttachment handles a non-video file sent to the video endpoint: it
// is renamed into the attachment directory and probed best effort.
func (s *Service) storeAttachment(ctx context.Context, log logging.Logger, op *operation) (*models.UploadResult, error) {
	name, err := s.layout.MovedAttachmentName(op.req.UserID, op.file.OriginalName)
	if err != nil {
		return nil, fmt.Errorf("attachment name: %w", err)
	}

	dir, err := filex.EnsureDir(s.layout.AttachmentDir(op.req.ConversationID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrNoSafeArtifact, err)
	}
	dst := filepath.Join(dir, name)
	if err := filex.Move(op.file.Path, dst); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrNoSafeArtifact, err)
	}

	md := &models.AttachmentMetadata{
		Type:           majorType(op.file.MimeType),
		MimeType:       op.file.MimeType,
		Size:           op.file.Size,
		IsHLSConverted: ptr(false),
	}
	if p, err := s.probe(ctx, dst); err != nil {
		log.Debug(ctx, "probing attachment failed", "error", err)
	} else {
		if p.Format.Size > 0 {
			md.Size = p.Format.Size
		}
		if p.Format.Duration > 0 {
			md.Duration = ptr(p.Format.Duration)
		}
		if p.Format.BitRate > 0 {
			md.BitRate = ptr(p.Format.BitRate)
		}
	}

	url := s.layout.AttachmentURL(op.req.ConversationID, name)
	return s.finalize(ctx, log, op, url, md, msgAttachmentStored, dst)
}

// extract builds metadata for a pass-through attachment. ok is false when
// a media probe failed and only partial metadata is available.
func (s *Service) extract(ctx context.Context, log logging.Logger, fd models.RawDescriptor) (md *models.AttachmentMetadata, ok bool) {
	switch major := majorType(fd.MimeType); {
	case major == "image":
		if w, h, err := s.inspect.ImageDimensions(fd.Path); err == nil {
			return imageMetadata(fd, w, h), true
		}
		p, err := s.probe(ctx, fd.Path)
		if err != nil {
			log.Warn(ctx, "reading image metadata failed", "error", err)
			return partialMetadata(fd), false
		}
		if vs := p.FirstStream("video"); vs != nil && vs.Width > 0 && vs.Height > 0 {
			return imageMetadata(fd, vs.Width, vs.Height), true
		}
		log.Warn(ctx, "reading image metadata failed", "reason", "no stream with dimensions")
		return partialMetadata(fd), false

	case major == "video":
		p, err := s.probe(ctx, fd.Path)
		if err != nil {
			log.Warn(ctx, "probing video failed", "error", err)
			return partialMetadata(fd), false
		}
		md := &models.AttachmentMetadata{
			Type:     "video",
			MimeType: fd.MimeType,
			Size:     fd.Size,
			Duration: ptr(p.Format.Duration),
			BitRate:  ptr(p.Format.BitRate),
		}
		if vs := p.FirstStream("video"); vs != nil {
			md.Width, md.Height = ptr(vs.Width), ptr(vs.Height)
		}
		return md, true

	case major == "audio":
		p, err := s.probe(ctx, fd.Path)
		if err != nil {
			log.Warn(ctx, "probing audio failed", "error", err)
			return partialMetadata(fd), false
		}
		md := &models.AttachmentMetadata{
			Type:     "audio",
			MimeType: fd.MimeType,
			Size:     fd.Size,
			Duration: ptr(p.Format.Duration),
			BitRate:  ptr(p.Format.BitRate),
		}
		if as := p.FirstStream("audio"); as != nil {
			md.Codec = as.CodecName
		}
		return md, true

	case baseMime(fd.MimeType) == "application/pdf":
		md := &models.AttachmentMetadata{Type: "document", Subtype: "pdf", Size: fd.Size}
		pages, err := s.inspect.PDFPageCount(fd.Path)
		if err != nil {
			log.Warn(ctx, "parsing pdf failed", "error", err)
			md.Error = "Failed to parse PDF."
			return md, true
		}
		md.Pages = ptr(pages)
		return md, true
	}

	return &models.AttachmentMetadata{
		Type:     "application",
		Subtype:  extSubtype(fd.OriginalName),
		MimeType: fd.MimeType,
		Size:     fd.Size,
	}, true
}

func imageMetadata(fd models.RawDescriptor, w, h int) *models.AttachmentMetadata {
	md := &models.AttachmentMetadata{
		Type:     "image",
		MimeType: fd.MimeType,
		Size:     fd.Size,
		Width:    ptr(w),
		Height:   ptr(h),
	}
	if h > 0 {
		md.AspectRatio = ptr(float64(w) / float64(h))
	}
	return md
}

func partialMetadata(fd models.RawDescriptor) *models.AttachmentMetadata {
	return &models.AttachmentMetadata{
		Type:     majorType(fd.MimeType),
		MimeType: fd.MimeType,
		Size:     fd.Size,
	}
}

// sourceVideoMetadata is recorded before the HLS conversion and used as the
// fallback when the playlist cannot be probed.
func sourceVideoMetadata(fd models.RawDescriptor, p *transform.ProbeResult) *models.AttachmentMetadata {
	md := &models.AttachmentMetadata{
		Type:           "video",
		MimeType:       fd.MimeType,
		Size:           fd.Size,
		Duration:       ptr(p.Format.Duration),
		BitRate:        ptr(p.Format.BitRate),
		IsHLSConverted: ptr(false),
	}
	if p.Format.Size > 0 {
		md.Size = p.Format.Size
	}
	if vs := p.FirstStream("video"); vs != nil {
		md.Width, md.Height = ptr(vs.Width), ptr(vs.Height)
		md.AvgFrameRate = vs.AvgFrameRate
		if vs.Height > 0 {
			md.DisplayAspectRatio = ptr(float64(vs.Width) / float64(vs.Height))
		}
	}
	return md
}

// segments lists the .ts files written next to the playlist.
func segments(dir, prefix string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		n := e.Name()
		if !e.IsDir() && strings.HasPrefix(n, prefix+"_") && strings.HasSuffix(n, ".ts") {
			out = append(out, filepath.Join(dir, n))
		}
	}
	return out
}

func ptr[T any](v T) *T { return &v }
