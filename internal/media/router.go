package media

import (
	"fmt"

	"wacompose/internal/constants"
	"wacompose/internal/models"
	"wacompose/pkg/whatsapp/types"
)

// Router resolves per-media-type upload settings
type Router interface {
	// UploadPath returns the host-relative path uploads of mediaType are posted to
	UploadPath(mediaType types.MediaType) (string, error)
	// MaxSize returns the largest accepted payload in bytes, or 0 for no limit
	MaxSize(mediaType types.MediaType) int64
}

var uploadPaths = map[types.MediaType]string{
	types.MediaTypeImage:    "/mms/image",
	types.MediaTypeVideo:    "/mms/video",
	types.MediaTypeSticker:  "/mms/image",
	types.MediaTypeAudio:    "/mms/audio",
	types.MediaTypeDocument: "/mms/document",
	types.MediaTypeHistory:  "/mms/md-msg-hist",
	types.MediaTypeAppState: "/mms/md-app-state",
}

type router struct {
	config models.MediaConfig
}

// NewRouter creates a new Router instance
func NewRouter(config models.MediaConfig) Router {
	return &router{config: config}
}

func (r *router) UploadPath(mediaType types.MediaType) (string, error) {
	path, ok := uploadPaths[mediaType]
	if !ok {
		return "", fmt.Errorf("unknown media type %q", mediaType)
	}
	return path, nil
}

func (r *router) MaxSize(mediaType types.MediaType) int64 {
	var mb int
	switch mediaType {
	case types.MediaTypeImage:
		mb = r.config.MaxSizeMB.Image
	case types.MediaTypeVideo:
		mb = r.config.MaxSizeMB.Video
	case types.MediaTypeAudio:
		mb = r.config.MaxSizeMB.Audio
	case types.MediaTypeSticker:
		mb = r.config.MaxSizeMB.Sticker
	case types.MediaTypeDocument:
		mb = r.config.MaxSizeMB.Document
	}
	if mb <= 0 {
		return 0
	}
	return int64(mb) * constants.BytesPerMegabyte
}
