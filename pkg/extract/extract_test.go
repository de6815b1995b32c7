package extract

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestFilePlainText(t *testing.T) {
	path := writeTemp(t, "notes.txt", "hello extraction world")
	res, err := File(path, "notes.txt")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Text != "hello extraction world" {
		t.Fatalf("unexpected text: %q", res.Text)
	}
}

func TestFileHTMLStripsMarkup(t *testing.T) {
	page := `<html><head><style>p{color:red}</style><script>alert(1)</script></head>` +
		`<body><p>first paragraph</p><div>second part</div></body></html>`
	path := writeTemp(t, "page.html", page)
	res, err := File(path, "page.html")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !strings.Contains(res.Text, "first paragraph") || !strings.Contains(res.Text, "second part") {
		t.Fatalf("expected body text, got %q", res.Text)
	}
	if strings.Contains(res.Text, "alert") || strings.Contains(res.Text, "color:red") {
		t.Fatalf("script/style content leaked: %q", res.Text)
	}
}

func TestFileEmptyIsNotAnError(t *testing.T) {
	path := writeTemp(t, "empty.txt", "")
	res, err := File(path, "empty.txt")
	if err != nil {
		t.Fatalf("empty file should extract cleanly: %v", err)
	}
	if res.Text != "" {
		t.Fatalf("expected empty text, got %q", res.Text)
	}
}

func TestFileMissingFile(t *testing.T) {
	if _, err := File(filepath.Join(t.TempDir(), "gone.txt"), "gone.txt"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestFileCorruptPDF(t *testing.T) {
	path := writeTemp(t, "broken.pdf", "this is not a pdf")
	if _, err := File(path, "broken.pdf"); err == nil {
		t.Fatalf("expected error for corrupt pdf")
	}
}
