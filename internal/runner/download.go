package runner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// downloadOptions configures a single artifact download.
type downloadOptions struct {
	URL          string
	OutputDir    string
	OutputFile   string
	RemoteID     string
	AutoFilename bool
}

// downloadFile fetches url and writes it to a resolved path under
// OutputDir/OutputFile, returning the final path. The body is streamed to
// a temp file in the destination directory and renamed into place only on
// full success; any error along the way removes the partial file so a
// failed download never leaves debris behind.
func downloadFile(ctx context.Context, httpClient *http.Client, opts downloadOptions) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.URL, nil)
	if err != nil {
		return "", err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("runner: download %s: %w", opts.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("runner: download %s: unexpected status %d", opts.URL, resp.StatusCode)
	}

	ext := ""
	if opts.OutputFile != "" {
		ext = filepath.Ext(opts.OutputFile)
	}
	if ext == "" {
		ext = extFromContentType(resp.Header.Get("Content-Type"))
	}
	if ext == "" {
		ext = extFromURL(opts.URL)
	}

	var autoFilename string
	switch {
	case opts.OutputFile != "":
		autoFilename = filepath.Base(opts.OutputFile)
	case opts.AutoFilename:
		autoFilename = generateAutoFilename(opts.RemoteID, ext, time.Now())
	default:
		if cd := contentDispositionFilename(resp.Header.Get("Content-Disposition")); cd != "" {
			autoFilename = cd
		} else if fromURL := filenameFromURL(opts.URL); fromURL != "" {
			autoFilename = fromURL
		} else if opts.RemoteID != "" {
			autoFilename = opts.RemoteID + ext
		} else {
			autoFilename = "output" + ext
		}
	}

	finalPath, err := resolveOutputPath(opts.OutputDir, opts.OutputFile, autoFilename)
	if err != nil {
		return "", err
	}

	tmpPath := finalPath + ".part"
	out, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("runner: create %s: %w", tmpPath, err)
	}

	// Stream in 8 KiB chunks. Wrapping out hides *os.File's ReadFrom so
	// io.CopyBuffer actually uses buf.
	buf := make([]byte, 8*1024)
	if _, err := io.CopyBuffer(struct{ io.Writer }{out}, resp.Body, buf); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("runner: write %s: %w", tmpPath, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("runner: close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("runner: finalize %s: %w", finalPath, err)
	}
	return finalPath, nil
}
