// Package media classifies attachment paths and prepares them for model
// consumption. Attachments arrive as local file paths or URLs; preparation
// turns images into raw bytes and documents into extracted text. A failed
// attachment is dropped with a warning, never fatal for the turn.
package media

import (
	"log/slog"
	"mime"
	"net/url"
	"path/filepath"
	"strings"
)

// Kind is the media category of a prepared attachment.
type Kind int

const (
	KindImage Kind = iota
	KindDocument
)

// Item is one prepared attachment.
type Item struct {
	Kind   Kind
	MIME   string
	Data   []byte // image bytes
	Text   string // extracted document text
	Source string
}

// Class groups attachment paths by media category.
type Class struct {
	Images    []string
	Videos    []string
	Audios    []string
	Documents []string
}

// Classify buckets paths by their extension-derived MIME type. URLs are
// classified by the path component of the URL; a URL with no recognizable
// extension is treated as a document to fetch. Local paths with unknown
// types are dropped with a warning.
func Classify(paths []string) Class {
	var c Class
	for _, path := range paths {
		target := path
		remote := false
		if u, err := url.Parse(path); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
			target = u.Path
			remote = true
		}
		mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(target)))
		// TypeByExtension appends charset parameters for text types.
		if i := strings.IndexByte(mimeType, ';'); i >= 0 {
			mimeType = mimeType[:i]
		}
		switch {
		case strings.HasPrefix(mimeType, "image/"):
			c.Images = append(c.Images, path)
		case strings.HasPrefix(mimeType, "video/"):
			c.Videos = append(c.Videos, path)
		case strings.HasPrefix(mimeType, "audio/"):
			c.Audios = append(c.Audios, path)
		case mimeType == "application/pdf", strings.HasPrefix(mimeType, "text/"):
			c.Documents = append(c.Documents, path)
		case remote && mimeType == "":
			c.Documents = append(c.Documents, path)
		default:
			slog.Warn("dropping attachment of unknown type", "path", path)
		}
	}
	return c
}
