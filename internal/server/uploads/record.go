package uploads

import (
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/mediarelay/internal/common"
	"github.com/dmitrijs2005/mediarelay/internal/server/idempotency"
	"github.com/dmitrijs2005/mediarelay/internal/server/models"
)

// Field names of an upload record.
const (
	fieldURL      = "url"
	fieldMetadata = "attachment_metadata"
	fieldFile     = "file_data"
)

// decodeRecord parses stored fields. An empty map decodes to nil. Records
// whose status is unknown, or that lack what their status requires, are
// reported as common.ErrCorruptedRecord.
func decodeRecord(fields map[string]string) (*models.UploadRecord, error) {
	if len(fields) == 0 {
		return nil, nil
	}

	raw, ok := fields[idempotency.StatusField]
	if !ok {
		return nil, fmt.Errorf("%w: status missing", common.ErrCorruptedRecord)
	}
	status, ok := models.ParseUploadStatus(raw)
	if !ok {
		return nil, fmt.Errorf("%w: unknown status %q", common.ErrCorruptedRecord, raw)
	}

	rec := &models.UploadRecord{Status: status, URL: fields[fieldURL]}

	if s, ok := fields[fieldFile]; ok && s != "" {
		var fd models.RawDescriptor
		if err := json.Unmarshal([]byte(s), &fd); err != nil {
			return nil, fmt.Errorf("%w: file_data: %v", common.ErrCorruptedRecord, err)
		}
		rec.File = &fd
	}
	if s, ok := fields[fieldMetadata]; ok && s != "" {
		var md models.AttachmentMetadata
		if err := json.Unmarshal([]byte(s), &md); err != nil {
			return nil, fmt.Errorf("%w: attachment_metadata: %v", common.ErrCorruptedRecord, err)
		}
		rec.Metadata = &md
	}

	needFile := rec.File != nil && rec.File.Path != ""
	switch status {
	case models.StatusReceived:
		if !needFile {
			return nil, fmt.Errorf("%w: %s without file_data", common.ErrCorruptedRecord, status)
		}
	case models.StatusMetadataExtracted:
		if !needFile || rec.Metadata == nil {
			return nil, fmt.Errorf("%w: %s without file_data or metadata", common.ErrCorruptedRecord, status)
		}
	case models.StatusArchived:
		if rec.URL == "" || rec.Metadata == nil {
			return nil, fmt.Errorf("%w: %s without url or metadata", common.ErrCorruptedRecord, status)
		}
	case models.StatusSuccess:
		if rec.URL == "" {
			return nil, fmt.Errorf("%w: %s without url", common.ErrCorruptedRecord, status)
		}
	case models.StatusAbsent:
		return nil, fmt.Errorf("%w: absent status stored", common.ErrCorruptedRecord)
	}

	return rec, nil
}

func receivedFields(fd *models.RawDescriptor) (map[string]string, error) {
	b, err := json.Marshal(fd)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		idempotency.StatusField: models.StatusReceived.String(),
		fieldFile:               string(b),
	}, nil
}

func stageFields(status models.UploadStatus, url string, md *models.AttachmentMetadata) (map[string]string, error) {
	fields := map[string]string{idempotency.StatusField: status.String()}
	if url != "" {
		fields[fieldURL] = url
	}
	if md != nil {
		b, err := json.Marshal(md)
		if err != nil {
			return nil, err
		}
		fields[fieldMetadata] = string(b)
	}
	return fields, nil
}
