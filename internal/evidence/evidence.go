// Package evidence picks the chunks most relevant to a question and packs
// them into the JSON blob handed to the LLM.
package evidence

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve"
	"github.com/mohammad-safakhou/docrelay/models"
)

const DefaultTopK = 8

// Source is the extracted content of one file.
type Source struct {
	Filename string
	Chunks   []models.Chunk
}

// Item is one chunk of evidence as the model sees it.
type Item struct {
	Filename string `json:"filename,omitempty"`
	ChunkID  string `json:"chunk_id"`
	Type     string `json:"chunk_type,omitempty"`
	Text     string `json:"text"`
	Pages    []int  `json:"pages,omitempty"`
}

type indexed struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

// Select returns up to topK chunks across sources ranked by relevance to the
// question. When nothing matches (or there is no question) the first topK
// chunks in document order are returned.
func Select(sources []Source, question string, topK int) ([]Item, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	var all []Item
	for _, src := range sources {
		for _, c := range src.Chunks {
			if strings.TrimSpace(c.Text) == "" {
				continue
			}
			all = append(all, Item{
				Filename: src.Filename,
				ChunkID:  c.ID,
				Type:     c.Type,
				Text:     c.Text,
				Pages:    c.Pages(),
			})
		}
	}
	if len(all) <= topK {
		return all, nil
	}
	if strings.TrimSpace(question) == "" {
		return all[:topK], nil
	}

	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("evidence index: %w", err)
	}
	defer index.Close()

	batch := index.NewBatch()
	for i, it := range all {
		if err := batch.Index(strconv.Itoa(i), indexed{Text: it.Text, Type: it.Type}); err != nil {
			return nil, fmt.Errorf("index chunk %s: %w", it.ChunkID, err)
		}
	}
	if err := index.Batch(batch); err != nil {
		return nil, fmt.Errorf("index chunks: %w", err)
	}

	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(question), topK, 0, false)
	res, err := index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	if len(res.Hits) == 0 {
		return all[:topK], nil
	}
	out := make([]Item, 0, len(res.Hits))
	for _, hit := range res.Hits {
		i, err := strconv.Atoi(hit.ID)
		if err != nil || i < 0 || i >= len(all) {
			continue
		}
		out = append(out, all[i])
	}
	return out, nil
}

// Blob serializes items as the evidence payload.
func Blob(items []Item) ([]byte, error) {
	if items == nil {
		items = []Item{}
	}
	return json.Marshal(items)
}

// SourceFrom turns an extracted document into a Source. A document without
// chunks contributes its markdown as a single chunk.
func SourceFrom(filename string, doc *models.Document) Source {
	src := Source{Filename: filename}
	if doc == nil {
		return src
	}
	src.Chunks = doc.Chunks
	if len(src.Chunks) == 0 && strings.TrimSpace(doc.Markdown) != "" {
		src.Chunks = []models.Chunk{{ID: "markdown", Type: "text", Text: doc.Markdown}}
	}
	return src
}
