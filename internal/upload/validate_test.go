package upload

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateFileAcceptsMedia(t *testing.T) {
	for _, ct := range []string{
		"image/jpeg", "image/jpg", "image/png", "image/gif", "image/webp",
		"video/mp4", "video/webm", "video/ogg", "video/quicktime",
	} {
		require.NoError(t, ValidateFile("a.bin", ct, 1024), "type %s", ct)
	}
}

func TestValidateFileRejectsType(t *testing.T) {
	for _, ct := range []string{"application/pdf", "text/html", "image/svg+xml", ""} {
		err := ValidateFile("doc.pdf", ct, 1024)
		require.Error(t, err, "type %s", ct)
		require.Contains(t, err.Error(), "doc.pdf", "error should name the file")
	}
}

func TestValidateFileRejectsOversize(t *testing.T) {
	require.Error(t, ValidateFile("big.mp4", "video/mp4", MaxFileSize+1))
	require.NoError(t, ValidateFile("ok.mp4", "video/mp4", MaxFileSize), "file at the limit should pass")
}

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"photo.jpg", "photo.jpg"},
		{"my photo.jpg", "my_photo.jpg"},
		{"a, b, c.png", "a_b_c.png"},
		{"weird$chars%here!.gif", "weirdcharshere.gif"},
		{"  spaced  .png", "spaced_.png"},
		{"___already___messy___.webp", "already_messy_.webp"},
		{"$$$", "file"},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, SanitizeFileName(tc.in), "SanitizeFileName(%q)", tc.in)
	}
}

func TestSanitizeFileNameIsIdempotent(t *testing.T) {
	inputs := []string{"my photo.jpg", "a, b, c.png", "weird$chars!.gif", "clean.webp"}
	for _, in := range inputs {
		once := SanitizeFileName(in)
		require.Equal(t, once, SanitizeFileName(once), "sanitize not idempotent for %q", in)
	}
}

func TestObjectKey(t *testing.T) {
	require.Equal(t, "blog-posts/1700000000000-my_photo.jpg", ObjectKey("blog-posts", 1700000000000, "my photo.jpg"))
	require.Equal(t, "1700000000000-a.png", ObjectKey("", 1700000000000, "a.png"))
	require.Equal(t, "nested/prefix/1-a.png", ObjectKey("/nested/prefix/", 1, "a.png"))
}
