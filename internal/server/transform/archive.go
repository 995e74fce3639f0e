package transform

import (
	"archive/zip"
	"compress/flate"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/mediarelay/internal/common"
)

// Archive writes a single-entry zip {outDir}/{name}.zip holding inputPath
// under its base name, compressed at the best deflate level. A partially
// written archive is removed.
func (f *FFmpeg) Archive(ctx context.Context, inputPath, outDir, name string) (string, error) {
	return archive(ctx, inputPath, outDir, name)
}

func archive(ctx context.Context, inputPath, outDir, name string) (out string, err error) {
	if err := os.MkdirAll(outDir, 0o770); err != nil {
		return "", fmt.Errorf("%w: mkdir %s: %w", common.ErrTransform, outDir, err)
	}

	in, err := os.Open(inputPath)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %w", common.ErrTransform, inputPath, err)
	}
	defer in.Close()

	out = filepath.Join(outDir, name+".zip")
	dst, err := os.Create(out)
	if err != nil {
		return "", fmt.Errorf("%w: create %s: %w", common.ErrTransform, out, err)
	}
	defer func() {
		if cerr := dst.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("%w: close %s: %w", common.ErrTransform, out, cerr)
		}
		if err != nil {
			_ = os.Remove(out)
			out = ""
		}
	}()

	zw := zip.NewWriter(dst)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestCompression)
	})

	hdr := &zip.FileHeader{Name: filepath.Base(inputPath), Method: zip.Deflate}
	if fi, err := in.Stat(); err == nil {
		hdr.Modified = fi.ModTime()
	}
	entry, err := zw.CreateHeader(hdr)
	if err != nil {
		return "", fmt.Errorf("%w: zip header: %w", common.ErrTransform, err)
	}
	if _, err := io.Copy(entry, &ctxReader{ctx: ctx, r: in}); err != nil {
		return "", fmt.Errorf("%w: zip %s: %w", common.ErrTransform, inputPath, err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("%w: zip close: %w", common.ErrTransform, err)
	}
	return out, nil
}

// ctxReader aborts a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
