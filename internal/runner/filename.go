package runner

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// contentTypeExt maps a MIME type (no parameters) to its canonical file
// extension, covering the media types the remote async tools in practice
// return (images, video, audio, and the common document/text formats).
var contentTypeExt = map[string]string{
	"image/png":         ".png",
	"image/jpeg":        ".jpg",
	"image/jpg":         ".jpg",
	"image/webp":        ".webp",
	"image/gif":         ".gif",
	"image/bmp":         ".bmp",
	"image/tiff":        ".tiff",
	"video/mp4":         ".mp4",
	"video/webm":        ".webm",
	"video/quicktime":   ".mov",
	"video/x-msvideo":   ".avi",
	"video/mpeg":        ".mpeg",
	"audio/mpeg":        ".mp3",
	"audio/wav":         ".wav",
	"audio/x-wav":       ".wav",
	"audio/ogg":         ".ogg",
	"audio/flac":        ".flac",
	"audio/aac":         ".aac",
	"application/pdf":   ".pdf",
	"application/json":  ".json",
	"application/zip":   ".zip",
	"text/plain":        ".txt",
	"text/html":         ".html",
	"text/csv":          ".csv",
}

// extFromContentType strips any "; charset=..." parameter and looks up the
// base MIME type.
func extFromContentType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mime := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	return contentTypeExt[mime]
}

// extFromURL returns the URL path's extension if it's a plausible file
// extension (at most 5 characters including the dot).
func extFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := filepath.Ext(u.Path)
	if ext != "" && len(ext) <= 5 {
		return strings.ToLower(ext)
	}
	return ""
}

// filenameFromURL returns the basename of the URL's path, or "" if the path
// is empty or root.
func filenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return ""
	}
	name := filepath.Base(u.Path)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// uniqueFilepath appends "_1", "_2", ... before the extension until it finds
// a path that doesn't already exist on disk.
func uniqueFilepath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", base, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// resolveOutputPath computes the final on-disk path for a downloaded
// artifact. When outputFile is set (explicit user choice) it is used as
// given if it is absolute or has a directory part, otherwise it is placed
// under outputDir (default "."); either way collisions are allowed to
// overwrite. When outputFile is empty, autoFilename
// is placed under outputDir (default "./output") and disambiguated against
// existing files.
func resolveOutputPath(outputDir, outputFile, autoFilename string) (string, error) {
	var path string
	if outputFile != "" {
		if filepath.IsAbs(outputFile) || filepath.Dir(outputFile) != "." {
			path = outputFile
		} else {
			base := outputDir
			if base == "" {
				base = "."
			}
			path = filepath.Join(base, outputFile)
		}
	} else {
		base := outputDir
		if base == "" {
			base = "./output"
		}
		path = filepath.Join(base, autoFilename)
		path = uniqueFilepath(path)
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("runner: create output directory %s: %w", dir, err)
		}
	}
	return path, nil
}

// sanitizeID keeps only alphanumerics, '-', and '_' from id, truncated to
// 32 runes, matching the Python sanitizer used for auto filenames.
func sanitizeID(id string) string {
	if runes := []rune(id); len(runes) > 32 {
		id = string(runes[:32])
	}
	var b strings.Builder
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

// generateAutoFilename builds a "{sanitized_id}_{timestamp}{ext}" name, or
// "output_{timestamp}{ext}" when remoteID is empty.
func generateAutoFilename(remoteID, ext string, now time.Time) string {
	ts := now.Format("20060102_150405")
	if remoteID == "" {
		return fmt.Sprintf("output_%s%s", ts, ext)
	}
	return fmt.Sprintf("%s_%s%s", sanitizeID(remoteID), ts, ext)
}

// contentDispositionFilename extracts a filename from a Content-Disposition
// header value of the form `attachment; filename="name.ext"`, or "" if
// absent.
func contentDispositionFilename(header string) string {
	idx := strings.Index(header, "filename=")
	if idx < 0 {
		return ""
	}
	name := header[idx+len("filename="):]
	return strings.Trim(name, `"'`)
}
