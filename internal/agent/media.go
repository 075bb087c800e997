package agent

import (
	"encoding/base64"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nextlevelbuilder/xbot/internal/providers"
)

// maxImageBytes bounds a single vision attachment read into memory.
const maxImageBytes = 10 * 1024 * 1024

// loadImages reads local image files referenced by an incoming
// message and returns them as base64 payloads for a vision-capable
// model. A file that can't be read, isn't a recognized image
// extension, or exceeds maxImageBytes is skipped with a warning
// rather than failing the whole turn over one bad attachment.
func loadImages(paths []string) []providers.ImageContent {
	if len(paths) == 0 {
		return nil
	}
	var images []providers.ImageContent
	for _, p := range paths {
		mime := inferImageMime(p)
		if mime == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			slog.Warn("agent.vision_read_failed", "path", p, "error", err)
			continue
		}
		if len(data) > maxImageBytes {
			slog.Warn("agent.vision_image_too_large", "path", p, "size", len(data))
			continue
		}
		images = append(images, providers.ImageContent{
			MimeType: mime,
			Data:     base64.StdEncoding.EncodeToString(data),
		})
	}
	return images
}

func inferImageMime(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return ""
	}
}
