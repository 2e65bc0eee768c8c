package pix

import (
	"encoding/base64"
	"errors"

	qrcode "github.com/skip2/go-qrcode"
)

const defaultQRSize = 256

// RenderQR encodes the PIX copy-and-paste payload as a base64 PNG.
func RenderQR(payload string, size int) (string, error) {
	if payload == "" {
		return "", errors.New("qr payload is required")
	}
	if size <= 0 {
		size = defaultQRSize
	}
	png, err := qrcode.Encode(payload, qrcode.Medium, size)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(png), nil
}
