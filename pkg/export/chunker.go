package export

import (
	"regexp"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

// Chunk is one retrieval-sized piece of a page's markdown
type Chunk struct {
	Content          string
	HeadingHierarchy []string
	Length           int // In the chunker's length unit (tokens if a tokenizer is loaded)
}

// ChunkerConfig holds the chunk size limits, in the length unit of the chunker
type ChunkerConfig struct {
	MaxChunkSize int
	ChunkOverlap int
}

var headingRegex = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)

// ChunkMarkdown splits markdown by headers, keeping the heading hierarchy of each chunk,
// and splits any section still larger than MaxChunkSize recursively by characters.
func ChunkMarkdown(markdown string, cfg ChunkerConfig, length func(string) int) ([]Chunk, error) {
	if strings.TrimSpace(markdown) == "" {
		return nil, nil
	}

	recursive := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(cfg.MaxChunkSize),
		textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
		textsplitter.WithLenFunc(length),
	)
	splitter := textsplitter.NewMarkdownTextSplitter(
		textsplitter.WithHeadingHierarchy(true),
		textsplitter.WithChunkSize(cfg.MaxChunkSize),
		textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
		textsplitter.WithSecondSplitter(recursive),
		textsplitter.WithLenFunc(length),
	)

	parts, err := splitter.SplitText(markdown)
	if err != nil {
		return nil, err
	}

	chunks := make([]Chunk, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			Content:          part,
			HeadingHierarchy: headingHierarchy(part),
			Length:           length(part),
		})
	}
	return chunks, nil
}

// headingHierarchy lists the markdown headings of a chunk in order
func headingHierarchy(content string) []string {
	var hierarchy []string
	for _, match := range headingRegex.FindAllStringSubmatch(content, -1) {
		if heading := strings.TrimSpace(match[2]); heading != "" {
			hierarchy = append(hierarchy, heading)
		}
	}
	return hierarchy
}
