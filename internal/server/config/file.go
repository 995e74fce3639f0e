package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/mediarelay/internal/flagx"
	"github.com/dmitrijs2005/mediarelay/internal/timex"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk shape of the config file. Durations use
// timex.Duration so both "90s" and integer nanoseconds are accepted.
// Zero values leave the current setting untouched.
type FileConfig struct {
	HTTPAddr           string         `json:"http_addr" yaml:"http_addr"`
	GRPCAddr           string         `json:"grpc_addr" yaml:"grpc_addr"`
	DatabaseDSN        string         `json:"database_dsn" yaml:"database_dsn"`
	SecretKey          string         `json:"secret_key" yaml:"secret_key"`
	UploadRoot         string         `json:"upload_root" yaml:"upload_root"`
	MaxAttachmentBytes int64          `json:"max_attachment_bytes" yaml:"max_attachment_bytes"`
	MaxVoiceNoteBytes  int64          `json:"max_voice_note_bytes" yaml:"max_voice_note_bytes"`
	FFmpegPath         string         `json:"ffmpeg_path" yaml:"ffmpeg_path"`
	FFprobePath        string         `json:"ffprobe_path" yaml:"ffprobe_path"`
	TransformTimeout   timex.Duration `json:"transform_timeout" yaml:"transform_timeout"`
	StoreBackend       string         `json:"store_backend" yaml:"store_backend"`
	RedisAddr          string         `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword      string         `json:"redis_password" yaml:"redis_password"`
	RedisDB            int            `json:"redis_db" yaml:"redis_db"`
	UploadRecordTTL    timex.Duration `json:"upload_record_ttl" yaml:"upload_record_ttl"`
	SendRecordTTL      timex.Duration `json:"send_record_ttl" yaml:"send_record_ttl"`
	S3Enabled          bool           `json:"s3_enabled" yaml:"s3_enabled"`
	S3RootUser         string         `json:"s3_root_user" yaml:"s3_root_user"`
	S3RootPassword     string         `json:"s3_root_password" yaml:"s3_root_password"`
	S3Bucket           string         `json:"s3_bucket" yaml:"s3_bucket"`
	S3Region           string         `json:"s3_region" yaml:"s3_region"`
	S3BaseEndpoint     string         `json:"s3_base_endpoint" yaml:"s3_base_endpoint"`
	LogLevel           string         `json:"log_level" yaml:"log_level"`
	LogFormat          string         `json:"log_format" yaml:"log_format"`
}

// parseFile overlays values from the file named by -c/-config, if any.
// Files ending in .yaml or .yml are decoded as YAML, everything else as JSON.
func parseFile(config *Config, args []string) error {
	path := flagx.ConfigFileFlag(args)
	if path == "" {
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	fc := &FileConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, fc)
	default:
		err = json.Unmarshal(raw, fc)
	}
	if err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}

	fc.apply(config)
	return nil
}

func (fc *FileConfig) apply(c *Config) {
	setString(&c.HTTPAddr, fc.HTTPAddr)
	setString(&c.GRPCAddr, fc.GRPCAddr)
	setString(&c.DatabaseDSN, fc.DatabaseDSN)
	setString(&c.SecretKey, fc.SecretKey)
	setString(&c.UploadRoot, fc.UploadRoot)
	setString(&c.FFmpegPath, fc.FFmpegPath)
	setString(&c.FFprobePath, fc.FFprobePath)
	setString(&c.StoreBackend, fc.StoreBackend)
	setString(&c.RedisAddr, fc.RedisAddr)
	setString(&c.RedisPassword, fc.RedisPassword)
	setString(&c.S3RootUser, fc.S3RootUser)
	setString(&c.S3RootPassword, fc.S3RootPassword)
	setString(&c.S3Bucket, fc.S3Bucket)
	setString(&c.S3Region, fc.S3Region)
	setString(&c.S3BaseEndpoint, fc.S3BaseEndpoint)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.LogFormat, fc.LogFormat)

	if fc.MaxAttachmentBytes > 0 {
		c.MaxAttachmentBytes = fc.MaxAttachmentBytes
	}
	if fc.MaxVoiceNoteBytes > 0 {
		c.MaxVoiceNoteBytes = fc.MaxVoiceNoteBytes
	}
	if fc.RedisDB > 0 {
		c.RedisDB = fc.RedisDB
	}
	if fc.TransformTimeout.Duration > 0 {
		c.TransformTimeout = fc.TransformTimeout.Duration
	}
	if fc.UploadRecordTTL.Duration > 0 {
		c.UploadRecordTTL = fc.UploadRecordTTL.Duration
	}
	if fc.SendRecordTTL.Duration > 0 {
		c.SendRecordTTL = fc.SendRecordTTL.Duration
	}
	if fc.S3Enabled {
		c.S3Enabled = true
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
