package models

import (
	"encoding/json"
	"time"
)

// UploadKind selects the processing path of an upload endpoint.
type UploadKind string

const (
	KindImage     UploadKind = "image"
	KindFile      UploadKind = "file"
	KindVideo     UploadKind = "video"
	KindVoiceNote UploadKind = "voice_note"
)

// UploadStatus is the stage an upload reached. The zero value is StatusAbsent.
type UploadStatus int

const (
	StatusAbsent UploadStatus = iota
	StatusReceived
	StatusMetadataExtracted
	StatusArchived
	StatusSuccess
)

func (s UploadStatus) String() string {
	switch s {
	case StatusAbsent:
		return "ABSENT"
	case StatusReceived:
		return "RECEIVED"
	case StatusMetadataExtracted:
		return "METADATA_EXTRACTED"
	case StatusArchived:
		return "ARCHIVED"
	case StatusSuccess:
		return "SUCCESS"
	}
	return "UNKNOWN"
}

// ParseUploadStatus maps a stored status string to an UploadStatus. Records
// written by the previous gateway used UPLOAD_COMPLETE and
// ZIP_CONVERSION_COMPLETE; both are still accepted.
func ParseUploadStatus(s string) (UploadStatus, bool) {
	switch s {
	case "RECEIVED", "UPLOAD_COMPLETE":
		return StatusReceived, true
	case "METADATA_EXTRACTED":
		return StatusMetadataExtracted, true
	case "ARCHIVED", "ZIP_CONVERSION_COMPLETE":
		return StatusArchived, true
	case "SUCCESS":
		return StatusSuccess, true
	}
	return StatusAbsent, false
}

// RawDescriptor describes the bytes received for an upload. Field names
// match the records already present in the store.
type RawDescriptor struct {
	Path         string `json:"path"`
	MimeType     string `json:"mimetype"`
	Size         int64  `json:"size"`
	OriginalName string `json:"originalname"`
	Filename     string `json:"filename"`
}

// AttachmentMetadata is the type-tagged metadata returned to clients and
// cached with the upload record. Only the fields relevant to Type are set.
type AttachmentMetadata struct {
	Type     string `json:"type,omitempty"`
	Subtype  string `json:"subtype,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size"`

	Width       *int     `json:"width,omitempty"`
	Height      *int     `json:"height,omitempty"`
	AspectRatio *float64 `json:"aspect_ratio,omitempty"`

	Duration           *float64 `json:"duration,omitempty"`
	BitRate            *int64   `json:"bit_rate,omitempty"`
	Codec              string   `json:"codec,omitempty"`
	AvgFrameRate       string   `json:"avg_frame_rate,omitempty"`
	DisplayAspectRatio *float64 `json:"display_aspect_ratio,omitempty"`
	HLSPlaylistURL     string   `json:"hls_playlist_url,omitempty"`
	IsHLSConverted     *bool    `json:"is_hls_converted,omitempty"`

	Pages *int   `json:"pages,omitempty"`
	Error string `json:"error,omitempty"`

	OriginalMimeType string     `json:"original_mime_type,omitempty"`
	OriginalFilename string     `json:"original_filename,omitempty"`
	CreatedAt        *time.Time `json:"created_at,omitempty"`
	ModifiedAt       *time.Time `json:"modified_at,omitempty"`
}

// MarshalJSON keeps "pages": null for PDFs whose page count is unknown.
func (m AttachmentMetadata) MarshalJSON() ([]byte, error) {
	type plain AttachmentMetadata
	if m.Subtype == "pdf" && m.Pages == nil {
		return json.Marshal(struct {
			plain
			Pages *int `json:"pages"`
		}{plain: plain(m)})
	}
	return json.Marshal(plain(m))
}

// UploadRecord is the idempotency record of one upload token.
type UploadRecord struct {
	Status   UploadStatus
	URL      string
	Metadata *AttachmentMetadata
	File     *RawDescriptor
}

// UploadResult is what an upload endpoint answers with.
type UploadResult struct {
	URL      string              `json:"url"`
	Metadata *AttachmentMetadata `json:"attachment_metadata,omitempty"`
	Message  string              `json:"message,omitempty"`
}
