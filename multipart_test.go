package netpro

import (
	"bytes"
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decodedPart is one part of an encoded form, read back for assertions.
type decodedPart struct {
	name        string
	filename    string
	contentType string
	data        []byte
}

func decodeParts(t *testing.T, body []byte, contentType string) []decodedPart {
	t.Helper()
	_, params, err := mime.ParseMediaType(contentType)
	require.NoError(t, err)
	mr := multipart.NewReader(bytes.NewReader(body), params["boundary"])
	var parts []decodedPart
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			return parts
		}
		require.NoError(t, err)
		data, err := io.ReadAll(p)
		require.NoError(t, err)
		parts = append(parts, decodedPart{
			name:        p.FormName(),
			filename:    p.FileName(),
			contentType: p.Header.Get("Content-Type"),
			data:        data,
		})
	}
}

// ============================================================================
// Fields
// ============================================================================

func TestFormFields(t *testing.T) {
	t.Run("fields round-trip through the standard parser", func(t *testing.T) {
		body, ct, err := NewForm().
			AddField("name", "gopher").
			AddField("note", "hi there").
			Build()
		require.NoError(t, err)
		assert.Contains(t, ct, "multipart/form-data; boundary=")

		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
		req.Header.Set("Content-Type", ct)
		require.NoError(t, req.ParseMultipartForm(32<<20))
		assert.Equal(t, "gopher", req.FormValue("name"))
		assert.Equal(t, "hi there", req.FormValue("note"))
	})

	t.Run("AddFields encodes in sorted key order", func(t *testing.T) {
		body, ct, err := NewForm().
			AddFields(map[string]string{"c": "3", "a": "1", "b": "2"}).
			Build()
		require.NoError(t, err)

		parts := decodeParts(t, body, ct)
		require.Len(t, parts, 3)
		assert.Equal(t, "a", parts[0].name)
		assert.Equal(t, "b", parts[1].name)
		assert.Equal(t, "c", parts[2].name)
	})

	t.Run("quotes in names and filenames survive the round-trip", func(t *testing.T) {
		body, ct, err := NewForm().
			AddFileTyped(`fi"eld`, `weird "name".txt`, "text/plain", []byte("x")).
			Build()
		require.NoError(t, err)

		parts := decodeParts(t, body, ct)
		require.Len(t, parts, 1)
		assert.Equal(t, `fi"eld`, parts[0].name)
		assert.Equal(t, `weird "name".txt`, parts[0].filename)
	})
}

// ============================================================================
// Files
// ============================================================================

func TestFormFiles(t *testing.T) {
	pngData := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 16)...)

	t.Run("content is sniffed from magic bytes", func(t *testing.T) {
		// The misleading extension proves the bytes win.
		body, ct, err := NewForm().AddFile("image", "shot.bin", pngData).Build()
		require.NoError(t, err)

		parts := decodeParts(t, body, ct)
		require.Len(t, parts, 1)
		assert.Equal(t, "image", parts[0].name)
		assert.Equal(t, "shot.bin", parts[0].filename)
		assert.Equal(t, "image/png", parts[0].contentType)
		assert.Equal(t, pngData, parts[0].data)
	})

	t.Run("unsniffable bytes fall back to the extension", func(t *testing.T) {
		body, ct, err := NewForm().AddFile("blob", "pic.webp", []byte{0x00, 0x01, 0x02}).Build()
		require.NoError(t, err)

		parts := decodeParts(t, body, ct)
		require.Len(t, parts, 1)
		assert.Equal(t, "image/webp", parts[0].contentType)
	})

	t.Run("reader parts resolve the type from the extension", func(t *testing.T) {
		body, ct, err := NewForm().
			AddFileReader("doc", "notes.md", strings.NewReader("# heading")).
			Build()
		require.NoError(t, err)

		parts := decodeParts(t, body, ct)
		require.Len(t, parts, 1)
		assert.Equal(t, "text/markdown", parts[0].contentType)
		assert.Equal(t, "# heading", string(parts[0].data))
	})

	t.Run("no extension means octet-stream", func(t *testing.T) {
		body, ct, err := NewForm().
			AddFileReader("bin", "blob", strings.NewReader("???")).
			Build()
		require.NoError(t, err)

		parts := decodeParts(t, body, ct)
		require.Len(t, parts, 1)
		assert.Equal(t, "application/octet-stream", parts[0].contentType)
	})

	t.Run("an explicit type wins over detection", func(t *testing.T) {
		body, ct, err := NewForm().
			AddFileTyped("raw", "shot.png", "application/x-custom", pngData).
			Build()
		require.NoError(t, err)

		parts := decodeParts(t, body, ct)
		require.Len(t, parts, 1)
		assert.Equal(t, "application/x-custom", parts[0].contentType)
	})

	t.Run("fields and files mix in insertion order", func(t *testing.T) {
		body, ct, err := NewForm().
			AddField("caption", "sunset").
			AddFile("image", "sunset.png", pngData).
			AddField("album", "holiday").
			Build()
		require.NoError(t, err)

		parts := decodeParts(t, body, ct)
		require.Len(t, parts, 3)
		assert.Equal(t, []string{"caption", "image", "album"},
			[]string{parts[0].name, parts[1].name, parts[2].name})
	})
}

func TestFormFilePath(t *testing.T) {
	t.Run("reads the file and keeps the base name", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "report.yaml")
		require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0o600))

		form := NewForm()
		require.NoError(t, form.AddFilePath("file", path))
		body, ct, err := form.Build()
		require.NoError(t, err)

		parts := decodeParts(t, body, ct)
		require.Len(t, parts, 1)
		assert.Equal(t, "report.yaml", parts[0].filename)
		assert.Equal(t, "a: 1\n", string(parts[0].data))
		// Sniffing sees plain text before the extension is consulted.
		assert.True(t, strings.HasPrefix(parts[0].contentType, "text/plain"),
			"got content type %q", parts[0].contentType)
	})

	t.Run("missing files report the path error", func(t *testing.T) {
		err := NewForm().AddFilePath("file", filepath.Join(t.TempDir(), "nope.txt"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "read file")
	})
}

// ============================================================================
// Upload via Client
// ============================================================================

func TestPostMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseMultipartForm(32<<20)) {
			return
		}
		assert.Equal(t, "dataset", r.FormValue("kind"))

		file, hdr, err := r.FormFile("payload")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		b, err := io.ReadAll(file)
		assert.NoError(t, err)
		assert.Equal(t, "col1,col2\n1,2\n", string(b))
		assert.Equal(t, "rows.csv", hdr.Filename)
		assert.Equal(t, "text/csv", hdr.Header.Get("Content-Type"))
	}))
	defer srv.Close()

	form := NewForm().
		AddField("kind", "dataset").
		AddFileTyped("payload", "rows.csv", "text/csv", []byte("col1,col2\n1,2\n"))

	c := NewClient(WithBaseURL(srv.URL))
	resp, err := c.PostMultipart(context.Background(), "/upload", form)
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())
}
