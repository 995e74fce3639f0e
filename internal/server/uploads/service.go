// Package uploads drives one attachment upload from the first sighting of
// its client token to a finalized artifact URL. Progress is recorded in the
// idempotency store after every stage so a retry with the same token either
// returns the cached result or resumes where the previous attempt stopped.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/mediarelay/internal/common"
	"github.com/dmitrijs2005/mediarelay/internal/filex"
	"github.com/dmitrijs2005/mediarelay/internal/logging"
	"github.com/dmitrijs2005/mediarelay/internal/server/artifacts"
	"github.com/dmitrijs2005/mediarelay/internal/server/idempotency"
	"github.com/dmitrijs2005/mediarelay/internal/server/models"
	"github.com/dmitrijs2005/mediarelay/internal/server/transform"
)

const (
	msgVideoConverted   = "Video uploaded and converted to HLS successfully"
	msgAttachmentStored = "Attachment uploaded successfully"
	msgAttachmentCached = "Attachment already processed successfully"
	msgVoiceConverted   = "Voice note uploaded and converted to M4A successfully"
	msgVoiceRecovered   = "Voice note recovered and converted to M4A successfully"
	msgVoiceCached      = "Voice note already uploaded and converted."
)

// Inspector extracts metadata that does not need ffprobe.
type Inspector interface {
	ImageDimensions(path string) (width, height int, err error)
	PDFPageCount(path string) (int, error)
}

// Request is one received upload. File describes bytes already written to
// disk at File.Path.
type Request struct {
	Kind           models.UploadKind
	Token          string
	ConversationID string
	UserID         string
	File           models.RawDescriptor
}

type Service struct {
	records *idempotency.Records
	adapter transform.Adapter
	inspect Inspector
	layout  *artifacts.Layout
	mirror  artifacts.Mirror
	timeout time.Duration
	log     logging.Logger

	// inflight holds tokens being processed by this process. A record in
	// RECEIVED looks the same whether its owner crashed or is still working.
	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewService wires the upload pipeline. timeout bounds every transform
// call; zero disables the bound.
func NewService(records *idempotency.Records, adapter transform.Adapter, inspect Inspector,
	layout *artifacts.Layout, mirror artifacts.Mirror, timeout time.Duration, log logging.Logger) *Service {
	if mirror == nil {
		mirror = artifacts.NopMirror{}
	}
	return &Service{
		records:  records,
		adapter:  adapter,
		inspect:  inspect,
		layout:   layout,
		mirror:   mirror,
		timeout:  timeout,
		log:      log.With("module", "uploads"),
		inflight: make(map[string]struct{}),
	}
}

func (s *Service) begin(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[token]; busy {
		return false
	}
	s.inflight[token] = struct{}{}
	return true
}

func (s *Service) end(token string) {
	s.mu.Lock()
	delete(s.inflight, token)
	s.mu.Unlock()
}

// operation is the in-flight state of one request.
type operation struct {
	req     Request
	dedup   bool
	resumed bool
	status  models.UploadStatus
	file    models.RawDescriptor
	url     string
	meta    *models.AttachmentMetadata
}

// releaser removes superseded files when the request ends.
type releaser struct {
	paths []string
}

func (r *releaser) add(path string) {
	if path != "" {
		r.paths = append(r.paths, path)
	}
}

func (r *releaser) release(ctx context.Context, log logging.Logger) {
	for _, p := range r.paths {
		if err := filex.RemoveQuietly(p); err != nil {
			log.Warn(ctx, "removing superseded upload failed", "path", p, "error", err)
		}
	}
}

// HandleUpload processes req and returns the artifact URL with its metadata.
//
// Errors: common.ErrorValidation for malformed requests, common.ErrInProgress
// when a concurrent first attempt holds the token, common.ErrTransform or
// common.ErrNoSafeArtifact when no artifact could be produced.
func (s *Service) HandleUpload(ctx context.Context, req Request) (*models.UploadResult, error) {
	log := s.log.With("token", req.Token, "kind", string(req.Kind), "conversation_id", req.ConversationID)

	var rel releaser
	defer rel.release(ctx, log)

	if err := validate(req); err != nil {
		rel.add(req.File.Path)
		return nil, err
	}

	if !s.begin(req.Token) {
		rel.add(req.File.Path)
		return nil, common.ErrInProgress
	}
	defer s.end(req.Token)

	op, cached, err := s.discover(ctx, log, req, &rel)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}

	switch req.Kind {
	case models.KindImage:
		return s.processImage(ctx, log, op)
	case models.KindFile:
		return s.processFile(ctx, log, op)
	case models.KindVideo:
		return s.processVideo(ctx, log, op)
	case models.KindVoiceNote:
		return s.processVoice(ctx, log, op)
	}
	return nil, fmt.Errorf("%w: unknown upload kind %q", common.ErrorValidation, req.Kind)
}

func validate(req Request) error {
	if req.UserID == "" {
		return common.ErrorUnauthorized
	}
	if err := artifacts.ValidateSegment("conversation_id", req.ConversationID); err != nil {
		return err
	}
	if err := artifacts.ValidateSegment("client_message_id", req.Token); err != nil {
		return err
	}
	if req.File.Path == "" {
		return fmt.Errorf("%w: file is required", common.ErrorValidation)
	}

	switch req.Kind {
	case models.KindImage, models.KindFile, models.KindVideo:
	case models.KindVoiceNote:
		if majorType(req.File.MimeType) != "audio" {
			return fmt.Errorf("%w: only audio files are allowed for voice notes", common.ErrorValidation)
		}
	default:
		return fmt.Errorf("%w: unknown upload kind %q", common.ErrorValidation, req.Kind)
	}
	return nil
}

// discover decides whether req is a duplicate, a resumption, or a first
// attempt. Duplicates return the cached result.
func (s *Service) discover(ctx context.Context, log logging.Logger, req Request, rel *releaser) (*operation, *models.UploadResult, error) {
	op := &operation{req: req, dedup: true, file: req.File}

	rec, err := s.load(ctx, log, req.Token)
	if err != nil {
		log.Error(ctx, "idempotency store unavailable, processing without deduplication", "error", err)
		op.dedup = false
		rec = nil
	}

	if rec != nil && rec.Status == models.StatusSuccess {
		rel.add(req.File.Path)
		log.Info(ctx, "duplicate upload, returning cached result")
		return nil, cachedResult(req.Kind, rec), nil
	}

	if rec != nil && s.artifactMissing(rec) {
		log.Warn(ctx, "upload record points at a missing file, restarting", "status", rec.Status.String())
		s.discard(ctx, log, req.Token)
		rec = nil
	}

	if rec != nil {
		if rec.File == nil || rec.File.Path != req.File.Path {
			rel.add(req.File.Path)
		}
		op.resumed = true
		op.status = rec.Status
		op.url = rec.URL
		op.meta = rec.Metadata
		if rec.File != nil {
			op.file = *rec.File
		}
		log.Info(ctx, "resuming upload", "status", rec.Status.String())
		return op, nil, nil
	}

	if op.dedup {
		acquired, err := s.acquire(ctx, req)
		switch {
		case err != nil:
			log.Error(ctx, "creating upload record failed, processing without deduplication", "error", err)
			op.dedup = false
		case !acquired:
			rel.add(req.File.Path)
			return nil, nil, common.ErrInProgress
		}
	}

	op.status = models.StatusReceived
	return op, nil, nil
}

// load returns the stored record of token. Corrupted records are deleted
// and reported as absent.
func (s *Service) load(ctx context.Context, log logging.Logger, token string) (*models.UploadRecord, error) {
	fields, err := s.records.Get(ctx, token)
	var rec *models.UploadRecord
	if err == nil {
		rec, err = decodeRecord(fields)
	}
	if errors.Is(err, common.ErrCorruptedRecord) {
		log.Warn(ctx, "discarding corrupted upload record", "error", err)
		s.discard(ctx, log, token)
		return nil, nil
	}
	return rec, err
}

func (s *Service) acquire(ctx context.Context, req Request) (bool, error) {
	fields, err := receivedFields(&req.File)
	if err != nil {
		return false, err
	}
	return s.records.Acquire(ctx, req.Token, fields)
}

func (s *Service) discard(ctx context.Context, log logging.Logger, token string) {
	if err := s.records.Delete(ctx, token); err != nil {
		log.Error(ctx, "deleting upload record failed", "error", err)
	}
}

// artifactMissing reports whether the file a resumable record depends on
// is gone from disk.
func (s *Service) artifactMissing(rec *models.UploadRecord) bool {
	switch rec.Status {
	case models.StatusReceived, models.StatusMetadataExtracted:
		return !filex.Exists(rec.File.Path)
	case models.StatusArchived:
		p, err := s.layout.PathFor(rec.URL)
		return err != nil || !filex.Exists(p)
	}
	return false
}

func cachedResult(kind models.UploadKind, rec *models.UploadRecord) *models.UploadResult {
	res := &models.UploadResult{URL: rec.URL, Metadata: rec.Metadata}
	switch kind {
	case models.KindVideo:
		res.Message = msgAttachmentCached
	case models.KindVoiceNote:
		res.Message = msgVoiceCached
	}
	return res
}

// advance records an intermediate stage. Store failures are logged; the
// request carries on without a resumption point.
func (s *Service) advance(ctx context.Context, log logging.Logger, op *operation, status models.UploadStatus, url string, md *models.AttachmentMetadata) {
	op.status = status
	op.meta = md
	if url != "" {
		op.url = url
	}
	if !op.dedup {
		return
	}

	fields, err := stageFields(status, url, md)
	if err == nil {
		err = s.records.Update(ctx, op.req.Token, fields)
	}
	if err != nil {
		log.Error(ctx, "recording upload stage failed", "status", status.String(), "error", err)
	}
}

// finalize records SUCCESS, mirrors the produced files and builds the result.
func (s *Service) finalize(ctx context.Context, log logging.Logger, op *operation, url string, md *models.AttachmentMetadata, message string, files ...string) (*models.UploadResult, error) {
	if op.dedup {
		fields, err := stageFields(models.StatusSuccess, url, md)
		if err == nil {
			err = s.records.Update(ctx, op.req.Token, fields)
		}
		if err != nil {
			log.Error(ctx, "recording upload success failed", "error", err)
		}
	}

	if err := s.mirror.Mirror(ctx, files...); err != nil {
		log.Warn(ctx, "mirroring artifact failed", "error", err)
	}

	log.Info(ctx, "upload finalized", "url", url)
	return &models.UploadResult{URL: url, Metadata: md, Message: message}, nil
}

// call bounds one transform invocation by the configured timeout.
func (s *Service) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return fn(ctx)
}

func (s *Service) probe(ctx context.Context, path string) (*transform.ProbeResult, error) {
	var res *transform.ProbeResult
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.adapter.Probe(ctx, path)
		return err
	})
	return res, err
}

func transformError(op string, err error) error {
	if errors.Is(err, common.ErrTransform) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, common.ErrTransform, err)
}
