package extraction

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"github.com/mohammad-safakhou/docrelay/models"
)

var (
	reBlankLines = regexp.MustCompile(`\n\s*\n+`)
	reSpaces     = regexp.MustCompile(`[ \t]+`)
)

// HTMLExtractor extracts readable text from HTML documents without calling out.
type HTMLExtractor struct {
	// MaxChunks caps how many paragraphs become chunks. Zero means no cap.
	MaxChunks int
}

func (h HTMLExtractor) Extract(_ context.Context, path, filename, contentType string) (*models.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	pageURL := &url.URL{Scheme: "file", Path: "/" + filename}
	article, err := readability.FromReader(f, pageURL)
	if err != nil {
		return nil, fmt.Errorf("readability: %w", err)
	}

	var chunks []models.Chunk
	for _, para := range reBlankLines.Split(article.TextContent, -1) {
		para = strings.TrimSpace(reSpaces.ReplaceAllString(para, " "))
		if para == "" {
			continue
		}
		chunks = append(chunks, models.Chunk{
			ID:   fmt.Sprintf("html-%d", len(chunks)),
			Type: "text",
			Text: para,
		})
		if h.MaxChunks > 0 && len(chunks) >= h.MaxChunks {
			break
		}
	}
	if len(chunks) == 0 {
		return nil, ErrEmptyDocument
	}

	var md strings.Builder
	if title := strings.TrimSpace(article.Title); title != "" {
		md.WriteString("# " + title + "\n\n")
	}
	for i, c := range chunks {
		if i > 0 {
			md.WriteString("\n\n")
		}
		md.WriteString(c.Text)
	}

	return &models.Document{
		Markdown: md.String(),
		Chunks:   chunks,
		Metadata: map[string]interface{}{
			"filename":     filename,
			"content_type": contentType,
			"title":        strings.TrimSpace(article.Title),
			"byline":       strings.TrimSpace(article.Byline),
			"site_name":    article.SiteName,
			"excerpt":      article.Excerpt,
		},
	}, nil
}
