package sftpsvc

import "strings"

// PreviewKind classifies a remote file for inline preview (spec §4.6
// "preview classifier").
type PreviewKind string

const (
	PreviewText   PreviewKind = "text"
	PreviewImage  PreviewKind = "image"
	PreviewBinary PreviewKind = "binary"
)

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".go": true, ".rs": true, ".py": true,
	".js": true, ".ts": true, ".json": true, ".yaml": true, ".yml": true,
	".toml": true, ".ini": true, ".conf": true, ".sh": true, ".log": true,
	".xml": true, ".html": true, ".css": true,
}

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
	".bmp": true, ".svg": true,
}

// ClassifyPreview picks a preview kind from a file name's extension,
// falling back to Binary for anything unrecognized.
func ClassifyPreview(name string) PreviewKind {
	ext := strings.ToLower(extOf(name))
	if textExtensions[ext] {
		return PreviewText
	}
	if imageExtensions[ext] {
		return PreviewImage
	}
	return PreviewBinary
}

func extOf(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return ""
	}
	return name[i:]
}
