package netpro

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ============================================================================
// Multipart Forms
// ============================================================================

// Form accumulates text fields and file attachments for a
// multipart/form-data body. Parts are encoded in the order they were
// added.
type Form struct {
	parts []formPart
}

type formPart struct {
	field       string
	filename    string
	value       string
	data        []byte
	reader      io.Reader
	contentType string
	isFile      bool
}

// NewForm returns an empty form.
func NewForm() *Form { return &Form{} }

// AddField appends one text field.
func (f *Form) AddField(name, value string) *Form {
	f.parts = append(f.parts, formPart{field: name, value: value})
	return f
}

// AddFields appends a set of text fields in sorted key order so the
// encoded body is deterministic.
func (f *Form) AddFields(fields map[string]string) *Form {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		f.AddField(k, fields[k])
	}
	return f
}

// AddFile appends a file part. The content type is sniffed from the
// data, falling back to the filename extension.
func (f *Form) AddFile(field, filename string, data []byte) *Form {
	f.parts = append(f.parts, formPart{
		field:       field,
		filename:    filename,
		data:        data,
		contentType: detectContentType(filename, data),
		isFile:      true,
	})
	return f
}

// AddFileTyped appends a file part with an explicit content type.
func (f *Form) AddFileTyped(field, filename, contentType string, data []byte) *Form {
	f.parts = append(f.parts, formPart{
		field:       field,
		filename:    filename,
		data:        data,
		contentType: contentType,
		isFile:      true,
	})
	return f
}

// AddFileReader appends a file part streamed from r at Build time. The
// content type comes from the filename extension since the data is not
// available for sniffing.
func (f *Form) AddFileReader(field, filename string, r io.Reader) *Form {
	f.parts = append(f.parts, formPart{
		field:       field,
		filename:    filename,
		reader:      r,
		contentType: extensionMimeType(filename),
		isFile:      true,
	})
	return f
}

// AddFilePath reads a local file and appends it, using the base name as
// the part filename.
func (f *Form) AddFilePath(field, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	f.AddFile(field, filepath.Base(path), data)
	return nil
}

// Build encodes the form and returns the body together with the
// Content-Type header value, boundary included. Reader-backed parts are
// consumed, so Build is single-shot for forms that contain them.
func (f *Form) Build() ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range f.parts {
		if !p.isFile {
			if err := w.WriteField(p.field, p.value); err != nil {
				return nil, "", fmt.Errorf("write field %q: %w", p.field, err)
			}
			continue
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			escapeQuotes(p.field), escapeQuotes(p.filename)))
		h.Set("Content-Type", p.contentType)
		pw, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("create part %q: %w", p.field, err)
		}
		if p.reader != nil {
			if _, err := io.Copy(pw, p.reader); err != nil {
				return nil, "", fmt.Errorf("copy part %q: %w", p.field, err)
			}
		} else if _, err := pw.Write(p.data); err != nil {
			return nil, "", fmt.Errorf("write part %q: %w", p.field, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// ── Content Type Detection ──────────────────────────────────────────

func detectContentType(filename string, data []byte) string {
	if len(data) > 0 {
		if mt := mimetype.Detect(data); mt.String() != "application/octet-stream" {
			return mt.String()
		}
	}
	return extensionMimeType(filename)
}

// extensionMimeType resolves a MIME type from the file extension.
func extensionMimeType(filename string) string {
	ext := filepath.Ext(filename)
	if ext == "" {
		return "application/octet-stream"
	}
	// Types missing from Go's builtin registry
	fallback := map[string]string{
		".md": "text/markdown", ".yaml": "text/yaml", ".yml": "text/yaml",
		".webp": "image/webp", ".webm": "video/webm",
	}
	if m, ok := fallback[ext]; ok {
		return m
	}
	if t := mime.TypeByExtension(ext); t != "" {
		// Strip charset parameter ("text/plain; charset=utf-8" → "text/plain")
		if idx := strings.Index(t, ";"); idx > 0 {
			t = strings.TrimSpace(t[:idx])
		}
		return t
	}
	return "application/octet-stream"
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string { return quoteEscaper.Replace(s) }
