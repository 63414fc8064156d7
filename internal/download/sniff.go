package download

import (
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// sniffLen is how much of a payload we look at to guess its type.
const sniffLen = 512

// ISO-BMFF major brands we accept as video.
var videoBrands = map[string]bool{
	"isom": true, "iso2": true, "iso4": true, "iso5": true, "iso6": true,
	"mp41": true, "mp42": true, "avc1": true, "M4V ": true,
	"qt  ": true, "dash": true, "3gp4": true, "3gp5": true, "MSNV": true,
	"f4v ": true,
}

// Brands that mark an MPEG-4 audio file.
var audioBrands = map[string]bool{"M4A ": true, "M4B ": true}

// HasVideoFtyp reports whether head starts with an ftyp box carrying a
// known video brand.
func HasVideoFtyp(head []byte) bool {
	if len(head) < 12 || string(head[4:8]) != "ftyp" {
		return false
	}
	return videoBrands[string(head[8:12])]
}

// ResolveContentType picks the type to store a payload under. A declared
// video or audio type is trusted; anything else is re-read as video/mp4
// (or audio/mp4 for audio brands) when the bytes carry an ftyp box.
func ResolveContentType(declared string, head []byte) string {
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil {
		mediaType = ""
	}
	mediaType = strings.ToLower(mediaType)

	if strings.HasPrefix(mediaType, "video/") || strings.HasPrefix(mediaType, "audio/") {
		return mediaType
	}
	if HasVideoFtyp(head) {
		return "video/mp4"
	}
	if len(head) >= 12 && string(head[4:8]) == "ftyp" && audioBrands[string(head[8:12])] {
		return "audio/mp4"
	}
	if mediaType != "" {
		return mediaType
	}
	if len(head) > 0 {
		detected, _, _ := mime.ParseMediaType(http.DetectContentType(head))
		return detected
	}
	return "application/octet-stream"
}

var extensions = map[string]string{
	"video/mp4":       ".mp4",
	"video/quicktime": ".mov",
	"video/webm":      ".webm",
	"audio/mpeg":      ".mp3",
	"audio/mp4":       ".m4a",
	"audio/wav":       ".wav",
	"audio/x-wav":     ".wav",
	"audio/ogg":       ".ogg",
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
}

// ExtensionFor returns a file extension for contentType, falling back to
// the extension in rawURL.
func ExtensionFor(contentType, rawURL string) string {
	if ext, ok := extensions[contentType]; ok {
		return ext
	}
	if u, err := url.Parse(rawURL); err == nil {
		if ext := path.Ext(u.Path); ext != "" && len(ext) <= 6 {
			return strings.ToLower(ext)
		}
	}
	return ".bin"
}
