// Package attachments validates uploaded files and stores them in blob storage.
package attachments

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"rsc.io/pdf"

	"llm_chat/internal/apperr"
)

// Kind groups accepted content types
type Kind string

const (
	KindImage Kind = "image"
	KindPDF   Kind = "pdf"
	KindText  Kind = "text"
)

var allowed = map[string]Kind{
	"image/png":       KindImage,
	"image/jpeg":      KindImage,
	"image/webp":      KindImage,
	"image/gif":       KindImage,
	"application/pdf": KindPDF,
	"text/plain":      KindText,
}

// File describes a validated upload
type File struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Extension   string `json:"extension"`
	Kind        Kind   `json:"kind"`
	Size        int64  `json:"size"`
	Pages       int    `json:"pages,omitempty"`
}

// Validate sniffs the content type of body and checks it against the accepted set.
// The declared type from the client is ignored.
func Validate(name string, body []byte, maxSize int64) (*File, error) {
	size := int64(len(body))
	if maxSize > 0 && size > maxSize {
		return nil, apperr.Newf(apperr.FileTooLarge, apperr.SurfaceFiles,
			"File exceeds the maximum size of %d bytes", maxSize)
	}
	if size == 0 {
		return nil, apperr.Newf(apperr.BadRequest, apperr.SurfaceFiles, "File is empty")
	}

	mt := mimetype.Detect(body)
	contentType := baseType(mt.String())
	kind, ok := allowed[contentType]
	if !ok {
		return nil, apperr.Newf(apperr.UnsupportedFileType, apperr.SurfaceFiles,
			"Files of type %s are not supported", contentType)
	}

	f := &File{
		Name:        name,
		ContentType: contentType,
		Extension:   mt.Extension(),
		Kind:        kind,
		Size:        size,
	}

	if kind == KindPDF {
		pages, err := pdfPages(body)
		if err != nil {
			return nil, apperr.Wrap(apperr.UnsupportedFileType, apperr.SurfaceFiles, err)
		}
		f.Pages = pages
		if f.Pages == 0 {
			return nil, apperr.Newf(apperr.UnsupportedFileType, apperr.SurfaceFiles, "PDF has no pages")
		}
	}

	return f, nil
}

// pdfPages opens the document and counts its pages. The parser panics on
// some malformed inputs, so panics are turned into errors.
func pdfPages(body []byte) (pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return 0, err
	}
	return r.NumPage(), nil
}

// baseType strips parameters such as "; charset=utf-8"
func baseType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(strings.ToLower(ct))
}
