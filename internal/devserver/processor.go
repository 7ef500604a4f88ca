package devserver

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// errNoContent mirrors the backend's message for files that parse but yield
// nothing usable.
var errNoContent = fmt.Errorf("No processable content found or generated.")

// deferredExtensions are office formats that get no synchronous document
// descriptor on upload; callers see an empty details list and the document
// appears on a later re-fetch.
var deferredExtensions = map[string]bool{
	".xlsx": true,
	".docx": true,
	".pptx": true,
}

func descriptorDeferred(filename string) bool {
	return deferredExtensions[strings.ToLower(filepath.Ext(filename))]
}

// extractText pulls plain text out of an uploaded file based on its
// extension. Unknown extensions are treated as UTF-8 text.
func extractText(filename string, data []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return extractPDF(data)
	case ".html", ".htm":
		return extractHTML(data)
	default:
		if !utf8.Valid(data) {
			return "", fmt.Errorf("file %s is not valid text", filename)
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			return "", errNoContent
		}
		return text, nil
	}
}

func extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("parsing PDF: %w", err)
	}

	var sb strings.Builder
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", errNoContent
	}
	return text, nil
}

func extractHTML(data []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parsing HTML: %w", err)
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				sb.WriteString(t)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", errNoContent
	}
	return text, nil
}

// chunkText splits extracted text into retrieval units: paragraphs, capped at
// maxChunkLen runes.
const maxChunkLen = 800

func chunkText(text string) []string {
	var chunks []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		runes := []rune(para)
		for len(runes) > maxChunkLen {
			chunks = append(chunks, string(runes[:maxChunkLen]))
			runes = runes[maxChunkLen:]
		}
		if len(runes) > 0 {
			chunks = append(chunks, string(runes))
		}
	}
	return chunks
}

// scoreChunk counts query-word hits, a stand-in for the real semantic search
// that lives behind the production backend.
func scoreChunk(chunk, query string) int {
	lc := strings.ToLower(chunk)
	score := 0
	for _, word := range strings.Fields(strings.ToLower(query)) {
		if len(word) < 3 {
			continue
		}
		score += strings.Count(lc, word)
	}
	return score
}
