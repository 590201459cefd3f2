package constants

import (
	"path/filepath"
	"strings"
)

// MimeTypes maps file extensions to their corresponding MIME types
var MimeTypes = map[string]string{
	// Image formats
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",

	// Video formats
	".mp4": "video/mp4",
	".mov": "video/quicktime",
	".3gp": "video/3gpp",

	// Document formats
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".txt":  "text/plain",
	".csv":  "text/csv",
	".zip":  "application/zip",

	// Audio formats
	".ogg":  "audio/ogg; codecs=opus",
	".opus": "audio/ogg; codecs=opus",
	".mp3":  "audio/mpeg",
	".aac":  "audio/aac",
	".m4a":  "audio/mp4",
}

// DefaultMimeType is the fallback MIME type for unknown file extensions
const DefaultMimeType = "application/octet-stream"

// MimetypeForFileName looks up the MIME type of a file name by extension
func MimetypeForFileName(name string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	mimetype, ok := MimeTypes[ext]
	return mimetype, ok
}
