package ingest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// Document is one loaded file's full text before splitting.
type Document struct {
	Name string
	Path string
	Text string
}

// Load reads a file and extracts its plain text based on extension.
// name is the user-facing filename, which may differ from the on-disk
// path for uploaded files.
func Load(path, name string) (Document, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		ext = strings.ToLower(filepath.Ext(path))
	}

	var text string
	var err error
	switch ext {
	case ".pdf":
		text, err = extractPDF(path)
	case ".html", ".htm":
		text, err = extractHTML(path)
	case ".txt", ".md":
		text, err = extractPlain(path)
	default:
		return Document{}, fmt.Errorf("unsupported file type %q", ext)
	}
	if err != nil {
		return Document{}, fmt.Errorf("loading %s: %w", name, err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return Document{}, fmt.Errorf("no extractable text in %s", name)
	}

	return Document{Name: name, Path: path, Text: text}, nil
}

// SupportedExtensions lists the file types Load understands.
func SupportedExtensions() []string {
	return []string{".pdf", ".html", ".htm", ".txt", ".md"}
}

// IsSupported reports whether a filename has a loadable extension.
func IsSupported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, s := range SupportedExtensions() {
		if ext == s {
			return true
		}
	}
	return false
}

func extractPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return buf.String(), nil
}

// extractHTML parses the file and collects the text content of body
// nodes, skipping script and style subtrees.
func extractHTML(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	doc, err := html.Parse(f)
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			}
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				sb.WriteString(text)
				sb.WriteString("\n")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return sb.String(), nil
}

func extractPlain(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
