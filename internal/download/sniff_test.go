package download

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ftyp(brand string) []byte {
	return append([]byte{0, 0, 0, 0x20, 'f', 't', 'y', 'p'}, []byte(brand)...)
}

func TestHasVideoFtyp(t *testing.T) {
	for _, brand := range []string{"isom", "mp42", "qt  ", "M4V ", "3gp5", "dash"} {
		assert.True(t, HasVideoFtyp(ftyp(brand)), brand)
	}
	assert.False(t, HasVideoFtyp(ftyp("heic")))
	assert.False(t, HasVideoFtyp(ftyp("M4A ")))
	assert.False(t, HasVideoFtyp([]byte("ftypisom")))
	assert.False(t, HasVideoFtyp(nil))
}

func TestResolveContentType(t *testing.T) {
	tests := []struct {
		name     string
		declared string
		head     []byte
		want     string
	}{
		{"declared video wins", "video/webm", nil, "video/webm"},
		{"declared video with params", "Video/MP4; codecs=avc1", nil, "video/mp4"},
		{"octet stream with ftyp", "application/octet-stream", ftyp("mp41"), "video/mp4"},
		{"text with ftyp", "text/plain; charset=utf-8", ftyp("isom"), "video/mp4"},
		{"declared audio with m4a box", "audio/mp4", ftyp("M4A "), "audio/mp4"},
		{"declared audio with video box", "audio/mpeg", ftyp("isom"), "audio/mpeg"},
		{"octet stream with m4a box", "application/octet-stream", ftyp("M4A "), "audio/mp4"},
		{"unknown brand keeps declared", "application/octet-stream", ftyp("heic"), "application/octet-stream"},
		{"nothing declared sniffs", "", []byte("\xff\xd8\xff\xe0 jpeg"), "image/jpeg"},
		{"nothing at all", "", nil, "application/octet-stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveContentType(tt.declared, tt.head))
		})
	}
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, ".mp4", ExtensionFor("video/mp4", "https://x.test/a"))
	assert.Equal(t, ".mkv", ExtensionFor("video/x-matroska", "https://x.test/clip.MKV?sig=1"))
	assert.Equal(t, ".bin", ExtensionFor("application/octet-stream", "https://x.test/clip"))
}
