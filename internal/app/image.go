package app

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"golang.org/x/crypto/blake2b"
	_ "golang.org/x/image/webp"

	"gradeflow/internal/model"
)

var imageFormats = map[string]model.ImageFormat{
	"png":  model.FormatPNG,
	"jpeg": model.FormatJPEG,
	"jpg":  model.FormatJPEG,
	"webp": model.FormatWebP,
}

type DecodedImage struct {
	Format   model.ImageFormat
	Data     []byte
	Width    int
	Height   int
	Checksum string
}

// DecodeImageData parses a data URI of the form
// data:image/<png|jpeg|jpg|webp>;base64,<payload> and checks the decoded
// bytes against maxBytes.
func DecodeImageData(raw string, maxBytes int) (*DecodedImage, error) {
	raw = strings.TrimSpace(raw)
	header, payload, ok := strings.Cut(raw, ",")
	if !ok || !strings.HasPrefix(header, "data:image/") {
		return nil, fmt.Errorf("%w: expected data:image/<format>;base64,<payload>", ErrInvalidFormat)
	}
	tag, encoding, ok := strings.Cut(strings.TrimPrefix(header, "data:image/"), ";")
	if !ok || encoding != "base64" {
		return nil, fmt.Errorf("%w: payload must be base64", ErrInvalidFormat)
	}
	format, ok := imageFormats[strings.ToLower(tag)]
	if !ok {
		return nil, fmt.Errorf("%w: image/%s", ErrInvalidFormat, tag)
	}

	if base64.StdEncoding.DecodedLen(len(payload)) > maxBytes+2 {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrImageTooLarge, maxBytes)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 payload", ErrInvalidFormat)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidFormat)
	}
	if len(data) > maxBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit is %d", ErrImageTooLarge, len(data), maxBytes)
	}

	cfg, detected, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not a readable %s image", ErrInvalidFormat, format)
	}
	if model.ImageFormat(detected) != format {
		return nil, fmt.Errorf("%w: tagged %s but payload is %s", ErrInvalidFormat, format, detected)
	}

	sum := blake2b.Sum256(data)
	return &DecodedImage{
		Format:   format,
		Data:     data,
		Width:    cfg.Width,
		Height:   cfg.Height,
		Checksum: hex.EncodeToString(sum[:]),
	}, nil
}
