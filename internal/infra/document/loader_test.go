package document

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/doc-rag/internal/core/ingestion"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, root, rel string, content []byte) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
}

func documentIDs(docs []*ingestion.Document) []string {
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids
}

func TestLoadMissingDirectory(t *testing.T) {
	loader, err := NewDirectoryLoader(filepath.Join(t.TempDir(), "missing"), "*.txt", WithLoaderLogger(discardLogger()))
	require.NoError(t, err)

	_, err = loader.Load(context.Background())
	assert.ErrorIs(t, err, ErrCorpusNotFound)
}

func TestLoadRejectsFileAsDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "file.txt", []byte("text"))

	loader, err := NewDirectoryLoader(filepath.Join(root, "file.txt"), "*.txt", WithLoaderLogger(discardLogger()))
	require.NoError(t, err)

	_, err = loader.Load(context.Background())
	assert.ErrorIs(t, err, ErrCorpusNotFound)
}

func TestLoadEmptyDirectory(t *testing.T) {
	loader, err := NewDirectoryLoader(t.TempDir(), "*.pdf", WithLoaderLogger(discardLogger()))
	require.NoError(t, err)

	docs, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestNewDirectoryLoaderRejectsBadGlob(t *testing.T) {
	_, err := NewDirectoryLoader(t.TempDir(), "[")
	assert.Error(t, err)
}

func TestLoadTextFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", []byte("The sky is blue."))
	writeFile(t, root, "sub/b.txt", []byte("Water boils at 100°C."))
	writeFile(t, root, "sub/c.md", []byte("# not matched"))
	writeFile(t, root, "drafts/d.txt", []byte("ignored directory"))
	writeFile(t, root, "e.secret.txt", []byte("ignored file"))
	writeFile(t, root, "node_modules/pkg/f.txt", []byte("vendored"))
	writeFile(t, root, "bin.txt", []byte{0x00, 0x01, 0x02, 0x00, 0xff, 0x00})
	writeFile(t, root, IgnoreFileName, []byte("# comment\ndrafts\n*.secret.txt\n"))

	loader, err := NewDirectoryLoader(root, "*.txt", WithLoaderLogger(discardLogger()))
	require.NoError(t, err)

	docs, err := loader.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"a.txt", "sub/b.txt"}, documentIDs(docs))
	assert.Equal(t, "Water boils at 100°C.", docs[1].Content)
}

func TestLoadCancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", []byte("text"))

	loader, err := NewDirectoryLoader(root, "*.txt", WithLoaderLogger(discardLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = loader.Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadPDFOneDocumentPerPage(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "base/facts.pdf", buildTestPDF([]string{"The sky is blue.", "", "Water boils at 100 C."}))

	loader, err := NewDirectoryLoader(root, DefaultGlob, WithLoaderLogger(discardLogger()))
	require.NoError(t, err)

	docs, err := loader.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"base/facts.pdf#page=1", "base/facts.pdf#page=3"}, documentIDs(docs), "空ページは除外")
	assert.Contains(t, docs[0].Content, "The sky is blue.")
	assert.Contains(t, docs[1].Content, "Water boils at 100 C.")
}

func TestLoadBrokenPDF(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "broken.pdf", []byte("not a pdf"))

	loader, err := NewDirectoryLoader(root, DefaultGlob, WithLoaderLogger(discardLogger()))
	require.NoError(t, err)

	_, err = loader.Load(context.Background())
	assert.Error(t, err)
}

func TestLoadTruncatedPDF(t *testing.T) {
	root := t.TempDir()
	full := buildTestPDF([]string{"The sky is blue."})
	writeFile(t, root, "truncated.pdf", full[:len(full)/2])

	loader, err := NewDirectoryLoader(root, DefaultGlob, WithLoaderLogger(discardLogger()))
	require.NoError(t, err)

	require.NotPanics(t, func() {
		_, err = loader.Load(context.Background())
	})
	assert.ErrorContains(t, err, "truncated.pdf")
}

func TestRecoverPDFConvertsPanic(t *testing.T) {
	parse := func() (pages []string, err error) {
		defer recoverPDF(&err)
		panic("invalid xref entry")
	}

	var (
		pages []string
		err   error
	)
	require.NotPanics(t, func() {
		pages, err = parse()
	})
	assert.Nil(t, pages)
	assert.ErrorContains(t, err, "malformed pdf: invalid xref entry")
}

// buildTestPDF はページごとに1行のテキストを持つ最小限のPDFを生成します
func buildTestPDF(pages []string) []byte {
	var objects []string

	// 1: Catalog, 2: Pages, 3: Font, 以降ページごとに Page と Contents
	kids := ""
	for i := range pages {
		kids += fmt.Sprintf("%d 0 R ", 4+2*i)
	}
	objects = append(objects,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, len(pages)),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	)
	for i, text := range pages {
		stream := ""
		if text != "" {
			stream = fmt.Sprintf("BT /F1 12 Tf 72 712 Td (%s) Tj ET", text)
		}
		objects = append(objects,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
		)
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)

	return buf.Bytes()
}
