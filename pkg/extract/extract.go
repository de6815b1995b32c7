// Package extract turns uploaded files into raw text for the retrieval
// pipeline. Unreadable or corrupt files fail with an error; a readable file
// that simply contains no text yields an empty result, callers distinguish
// the two.
package extract

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// Result is the raw output of one extraction, before normalization.
type Result struct {
	Text      string
	PageCount int
}

// File extracts text from path, choosing a parser by the original filename's
// extension. PDF uses pdftotext when available (better layout and CJK
// support) with the Go library as fallback; HTML strips markup; anything
// else is read as plain text.
func File(path, filename string) (Result, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return fromPDF(path)
	case ".html", ".htm":
		return fromHTML(path)
	default:
		return fromPlainText(path)
	}
}

func fromPDF(path string) (Result, error) {
	if res, err := fromPdftotext(path); err == nil {
		return res, nil
	}
	return fromPDFGoLib(path)
}

// fromPdftotext shells out to the poppler-utils tool.
func fromPdftotext(path string) (Result, error) {
	if _, err := exec.LookPath("pdftotext"); err != nil {
		return Result{}, fmt.Errorf("pdftotext not found: %w", err)
	}
	cmd := exec.Command("pdftotext", "-layout", "-enc", "UTF-8", path, "-")
	output, err := cmd.Output()
	if err != nil {
		return Result{}, fmt.Errorf("pdftotext failed: %w", err)
	}
	if len(bytes.TrimSpace(output)) == 0 {
		return Result{}, fmt.Errorf("pdftotext produced no text")
	}
	return Result{Text: string(output), PageCount: countPages(path)}, nil
}

func countPages(path string) int {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return 0
	}
	defer file.Close()
	return reader.NumPage()
}

func fromPDFGoLib(path string) (Result, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()
	totalPages := reader.NumPage()
	var sb strings.Builder
	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip problematic pages instead of failing entirely.
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return Result{Text: sb.String(), PageCount: totalPages}, nil
}

func fromHTML(path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("read file: %w", err)
	}
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("parse html: %w", err)
	}
	return Result{Text: textContent(doc)}, nil
}

func fromPlainText(path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("read file: %w", err)
	}
	return Result{Text: string(data)}, nil
}

func textContent(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
			buf.WriteString(" ")
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" {
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if node.Type == html.ElementNode && (node.Data == "p" || node.Data == "br" || node.Data == "div" || node.Data == "li") {
			buf.WriteString(" ")
		}
	}
	walk(n)
	return buf.String()
}
