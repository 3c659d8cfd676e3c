package qrcode

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	skipqrcode "github.com/skip2/go-qrcode"
)

var (
	// ErrEmptyPayload is returned when the payload string is empty or only whitespace.
	ErrEmptyPayload = errors.New("payload cannot be empty")
	// ErrFailedToGenerateQRCode is returned when QR code generation fails.
	ErrFailedToGenerateQRCode = errors.New("failed to generate QR code")
)

// defaultSize is the size in pixels used when no size is specified.
// 256px scans reliably on phone cameras at typical screen densities.
const defaultSize = 256

// Generate renders a payment payload (e.g. a PIX copy-and-paste code) as a
// PNG QR image. Returns the image bytes or an error if generation fails.
func Generate(payload string, size int) ([]byte, error) {
	if strings.TrimSpace(payload) == "" {
		return nil, ErrEmptyPayload
	}
	if size <= 0 {
		size = defaultSize
	}
	png, err := skipqrcode.Encode(payload, skipqrcode.Medium, size)
	if err != nil {
		return nil, errors.Join(ErrFailedToGenerateQRCode, err)
	}
	return png, nil
}

// GenerateDataURI renders the payload as a QR image and returns it as a
// base64 data URI, ready to drop into an <img src="…"> attribute.
func GenerateDataURI(payload string, size int) (string, error) {
	png, err := Generate(payload, size)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("data:image/png;base64,%s", base64.StdEncoding.EncodeToString(png)), nil
}
