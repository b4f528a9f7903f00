package attachments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm_chat/internal/apperr"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

// minimalPDF builds a one-page document with a valid xref table
func minimalPDF() []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>",
	}
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

func requireAppErr(t *testing.T, err error, typ apperr.Type) {
	t.Helper()
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr), "expected *apperr.Error, got %T", err)
	assert.Equal(t, typ, appErr.Type)
	assert.Equal(t, apperr.SurfaceFiles, appErr.Surface)
}

func TestValidate(t *testing.T) {
	t.Run("png", func(t *testing.T) {
		f, err := Validate("pic.png", pngHeader, 1<<20)
		require.NoError(t, err)
		assert.Equal(t, "image/png", f.ContentType)
		assert.Equal(t, KindImage, f.Kind)
		assert.Equal(t, ".png", f.Extension)
		assert.Equal(t, int64(len(pngHeader)), f.Size)
	})

	t.Run("plain text drops charset", func(t *testing.T) {
		f, err := Validate("notes.txt", []byte("just some notes\nline two\n"), 1<<20)
		require.NoError(t, err)
		assert.Equal(t, "text/plain", f.ContentType)
		assert.Equal(t, KindText, f.Kind)
	})

	t.Run("pdf counts pages", func(t *testing.T) {
		f, err := Validate("doc.pdf", minimalPDF(), 1<<20)
		require.NoError(t, err)
		assert.Equal(t, "application/pdf", f.ContentType)
		assert.Equal(t, KindPDF, f.Kind)
		assert.Equal(t, 1, f.Pages)
	})

	t.Run("broken pdf", func(t *testing.T) {
		_, err := Validate("doc.pdf", []byte("%PDF-1.4\nthis is not a real document"), 1<<20)
		requireAppErr(t, err, apperr.UnsupportedFileType)
	})

	t.Run("too large", func(t *testing.T) {
		_, err := Validate("big.txt", []byte(strings.Repeat("a", 11)), 10)
		requireAppErr(t, err, apperr.FileTooLarge)

		var appErr *apperr.Error
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, http.StatusRequestEntityTooLarge, appErr.StatusCode())
	})

	t.Run("unsupported type", func(t *testing.T) {
		_, err := Validate("page.html", []byte("<!DOCTYPE html><html><body>hi</body></html>"), 1<<20)
		requireAppErr(t, err, apperr.UnsupportedFileType)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := Validate("empty.txt", nil, 1<<20)
		requireAppErr(t, err, apperr.BadRequest)
	})
}

type failingStore struct{}

func (failingStore) Put(context.Context, string, string, []byte) (string, error) {
	return "", errors.New("bucket unavailable")
}

func TestUploader(t *testing.T) {
	ctx := context.Background()

	t.Run("stores valid file", func(t *testing.T) {
		store := NewMemoryStore("http://localhost:8080/files/")
		u := NewUploader(store, 1<<20)

		up, err := u.Upload(ctx, "user-1", "pic.png", pngHeader)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(up.Key, "uploads/user-1/"))
		assert.True(t, strings.HasSuffix(up.Key, ".png"))
		assert.Equal(t, "http://localhost:8080/files/"+up.Key, up.URL)

		obj, ok := store.Get(up.Key)
		require.True(t, ok)
		assert.Equal(t, "image/png", obj.ContentType)
		assert.Equal(t, pngHeader, obj.Body)
	})

	t.Run("rejects before storing", func(t *testing.T) {
		store := NewMemoryStore("")
		u := NewUploader(store, 4)

		_, err := u.Upload(ctx, "user-1", "pic.png", pngHeader)
		requireAppErr(t, err, apperr.FileTooLarge)
		assert.Equal(t, 0, store.Len())
	})

	t.Run("store failure", func(t *testing.T) {
		u := NewUploader(failingStore{}, 1<<20)

		_, err := u.Upload(ctx, "user-1", "notes.txt", []byte("hello there"))
		requireAppErr(t, err, apperr.UploadFailed)
	})
}

func TestMemoryStoreCopiesBody(t *testing.T) {
	store := NewMemoryStore("")
	body := []byte("abc")
	_, err := store.Put(context.Background(), "k", "text/plain", body)
	require.NoError(t, err)

	body[0] = 'z'
	obj, _ := store.Get("k")
	assert.Equal(t, "abc", string(obj.Body))
}
