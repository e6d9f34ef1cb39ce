package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
)

// maxFetchBytes caps remote attachment downloads.
const maxFetchBytes = 8 << 20

// Preparer loads classified attachments with a bounded worker pool.
type Preparer struct {
	client  *http.Client
	workers int
}

func NewPreparer(workers int, fetchTimeout time.Duration) *Preparer {
	if workers < 1 {
		workers = 1
	}
	return &Preparer{
		client:  &http.Client{Timeout: fetchTimeout},
		workers: workers,
	}
}

// Prepare loads every image and document in c concurrently, preserving the
// classification order in the result. Per-attachment failures are logged and
// omitted. Video and audio attachments are not prepared; they are skipped
// with a diagnostic so the caller still handles the rest of the batch.
func (p *Preparer) Prepare(ctx context.Context, c Class) []Item {
	for _, path := range c.Videos {
		slog.Warn("skipping video attachment, video is not supported", "path", path)
	}
	for _, path := range c.Audios {
		slog.Warn("skipping audio attachment, audio is not supported", "path", path)
	}

	type job struct {
		kind Kind
		path string
	}
	jobs := make([]job, 0, len(c.Images)+len(c.Documents))
	for _, path := range c.Images {
		jobs = append(jobs, job{KindImage, path})
	}
	for _, path := range c.Documents {
		jobs = append(jobs, job{KindDocument, path})
	}

	prepared := make([]*Item, len(jobs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, j := range jobs {
		g.Go(func() error {
			var (
				item Item
				err  error
			)
			switch j.kind {
			case KindImage:
				item, err = p.prepareImage(ctx, j.path)
			case KindDocument:
				item, err = p.prepareDocument(ctx, j.path)
			}
			if err != nil {
				slog.Warn("skipping attachment", "path", j.path, "error", err)
				return nil
			}
			prepared[i] = &item
			return nil
		})
	}
	// Workers never return errors, so Wait only synchronizes.
	_ = g.Wait()

	items := make([]Item, 0, len(jobs))
	for _, item := range prepared {
		if item != nil {
			items = append(items, *item)
		}
	}
	return items
}

func (p *Preparer) prepareImage(ctx context.Context, path string) (Item, error) {
	if isRemote(path) {
		data, contentType, err := p.fetch(ctx, path)
		if err != nil {
			return Item{}, err
		}
		if contentType == "" {
			contentType = http.DetectContentType(data)
		}
		return Item{Kind: KindImage, MIME: contentType, Data: data, Source: path}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Item{}, fmt.Errorf("reading image: %w", err)
	}
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return Item{Kind: KindImage, MIME: mimeType, Data: data, Source: path}, nil
}

func (p *Preparer) prepareDocument(ctx context.Context, path string) (Item, error) {
	var (
		data        []byte
		contentType string
		err         error
	)
	if isRemote(path) {
		data, contentType, err = p.fetch(ctx, path)
	} else {
		data, err = os.ReadFile(path)
		contentType = mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	}
	if err != nil {
		return Item{}, err
	}

	var text string
	switch {
	case strings.HasPrefix(contentType, "application/pdf") || bytes.HasPrefix(data, []byte("%PDF")):
		text, err = pdfText(data)
	case strings.HasPrefix(contentType, "text/html") || looksLikeHTML(data):
		text, err = htmlText(data)
	default:
		text = string(data)
	}
	if err != nil {
		return Item{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Item{}, fmt.Errorf("document %s has no extractable text", path)
	}
	return Item{Kind: KindDocument, MIME: contentType, Text: text, Source: path}, nil
}

func (p *Preparer) fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("building request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetching attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetching attachment: unexpected status %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, "", fmt.Errorf("reading attachment body: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return data, contentType, nil
}

func pdfText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	text, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return string(text), nil
}

// htmlText flattens an HTML document to its visible text, skipping script
// and style subtrees.
func htmlText(data []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if trimmed := strings.TrimSpace(n.Data); trimmed != "" {
				b.WriteString(trimmed)
				b.WriteString("\n")
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return b.String(), nil
}

func isRemote(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}

func looksLikeHTML(data []byte) bool {
	head := bytes.ToLower(bytes.TrimSpace(data))
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}
