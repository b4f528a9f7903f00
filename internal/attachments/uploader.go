package attachments

import (
	"context"

	"llm_chat/internal/apperr"
	"llm_chat/internal/utils"
)

// Upload is a stored attachment as returned to clients
type Upload struct {
	File
	Key string `json:"key"`
	URL string `json:"url"`
}

// Uploader validates files and writes them to a BlobStore
type Uploader struct {
	store   BlobStore
	maxSize int64
	logger  *utils.Logger
}

// NewUploader creates an uploader limited to maxSize bytes per file
func NewUploader(store BlobStore, maxSize int64) *Uploader {
	return &Uploader{
		store:   store,
		maxSize: maxSize,
		logger:  utils.NewLogger("attachments"),
	}
}

// MaxSize returns the per-file limit
func (u *Uploader) MaxSize() int64 {
	return u.maxSize
}

// Upload validates body and stores it for userID
func (u *Uploader) Upload(ctx context.Context, userID, name string, body []byte) (*Upload, error) {
	f, err := Validate(name, body, u.maxSize)
	if err != nil {
		return nil, err
	}

	key := ObjectKey(userID, f.Extension)
	url, err := u.store.Put(ctx, key, f.ContentType, body)
	if err != nil {
		u.logger.Error("Upload failed", "user_id", userID, "key", key, "error", err)
		return nil, apperr.Wrap(apperr.UploadFailed, apperr.SurfaceFiles, err)
	}

	return &Upload{File: *f, Key: key, URL: url}, nil
}
