package service

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"homework_eval_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.Black)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestImageValidator_FiltersNonImages(t *testing.T) {
	v := NewImageValidator(0)
	files := []AnswerImage{
		{Filename: "p1.jpg", ContentType: "image/jpeg", Data: []byte("1")},
		{Filename: "notes.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4")},
		{Filename: "p2.png", ContentType: "image/png", Data: []byte("2")},
	}

	accepted, rejected := v.Validate(files)
	require.Len(t, accepted, 2)
	assert.Equal(t, "p1.jpg", accepted[0].Filename)
	assert.Equal(t, "p2.png", accepted[1].Filename)
	assert.Equal(t, []Rejection{{Filename: "notes.pdf", Reason: "not an image"}}, rejected)

	// 输入未被修改
	assert.Equal(t, "application/pdf", files[1].ContentType)
}

func TestImageValidator_SniffsUndeclaredType(t *testing.T) {
	v := NewImageValidator(0)
	accepted, rejected := v.Validate([]AnswerImage{
		{Filename: "scan", ContentType: util.MimeOctetStream, Data: pngBytes(t, 4, 4)},
		{Filename: "blob", ContentType: "", Data: []byte("just some text")},
	})

	require.Len(t, accepted, 1)
	assert.Equal(t, "scan", accepted[0].Filename)
	assert.Equal(t, "image/png", accepted[0].ContentType)
	require.Len(t, rejected, 1)
	assert.Equal(t, "blob", rejected[0].Filename)
}

func TestImageValidator_SizeAndEmpty(t *testing.T) {
	v := NewImageValidator(4)
	accepted, rejected := v.Validate([]AnswerImage{
		{Filename: "big.jpg", ContentType: "image/jpeg", Data: []byte("12345")},
		{Filename: "empty.jpg", ContentType: "image/jpeg"},
		{Filename: "ok.jpg", ContentType: "image/jpeg", Data: []byte("1234")},
	})

	require.Len(t, accepted, 1)
	assert.Equal(t, "ok.jpg", accepted[0].Filename)
	assert.Equal(t, []Rejection{
		{Filename: "big.jpg", Reason: "file too large"},
		{Filename: "empty.jpg", Reason: "empty file"},
	}, rejected)
}

func TestImageValidator_NothingAccepted(t *testing.T) {
	accepted, rejected := NewImageValidator(0).Validate(nil)
	assert.Empty(t, accepted)
	assert.Empty(t, rejected)
}

func TestImageNormalizer_DownscalesToJPEG(t *testing.T) {
	n := NewImageNormalizer(100)
	out := n.Normalize(AnswerImage{Filename: "wide.png", ContentType: "image/png", Data: pngBytes(t, 400, 200)})

	assert.Equal(t, util.MimeJPEG, out.ContentType)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(out.Data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)
}

func TestImageNormalizer_RenamesToJPEGExtension(t *testing.T) {
	n := NewImageNormalizer(100)

	out := n.Normalize(AnswerImage{Filename: "page.png", ContentType: "image/png", Data: pngBytes(t, 40, 30)})
	assert.Equal(t, "page.jpg", out.Filename)
	assert.Equal(t, util.MimeJPEG, out.ContentType)

	out = n.Normalize(AnswerImage{Filename: "scan", Data: pngBytes(t, 40, 30)})
	assert.Equal(t, "scan.jpg", out.Filename)

	assert.Equal(t, "photo.JPEG", jpegName("photo.JPEG"))
	assert.Equal(t, "my.page.jpg", jpegName("my.page.webp"))
}

func TestImageNormalizer_KeepsSmallImageSize(t *testing.T) {
	n := NewImageNormalizer(1000)
	out := n.Normalize(AnswerImage{Filename: "small.png", Data: pngBytes(t, 40, 30)})

	cfg, _, err := image.DecodeConfig(bytes.NewReader(out.Data))
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Width)
	assert.Equal(t, 30, cfg.Height)
}

func TestImageNormalizer_PassesThroughUndecodable(t *testing.T) {
	in := AnswerImage{Filename: "broken.jpg", ContentType: "image/jpeg", Data: []byte("not really a jpeg")}
	out := NewImageNormalizer(100).Normalize(in)
	assert.Equal(t, in, out)

	var nilNormalizer *ImageNormalizer
	assert.Equal(t, in, nilNormalizer.Normalize(in))
}
