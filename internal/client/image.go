package client

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
)

// DataURI wraps raw image bytes as the data URI the upload endpoint expects.
// The format is sniffed from the bytes, not taken from a file name.
func DataURI(data []byte) (string, error) {
	contentType := http.DetectContentType(data)
	switch contentType {
	case "image/png", "image/jpeg", "image/webp":
	default:
		return "", fmt.Errorf("unsupported image type %q", contentType)
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func ReadImageFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image failed: %w", err)
	}
	uri, err := DataURI(data)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return uri, nil
}
