package exchange

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// QR image bounds in pixels.
const (
	DefaultQRSize = 320
	MinQRSize     = 128
	MaxQRSize     = 1024
)

// RenderQR renders an encoded token as a PNG barcode of size×size pixels.
func RenderQR(encoded string, size int) ([]byte, error) {
	if encoded == "" {
		return nil, fmt.Errorf("token is empty")
	}
	if size == 0 {
		size = DefaultQRSize
	}
	if size < MinQRSize || size > MaxQRSize {
		return nil, fmt.Errorf("qr size must be between %d and %d", MinQRSize, MaxQRSize)
	}
	png, err := qrcode.Encode(encoded, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}
	return png, nil
}
