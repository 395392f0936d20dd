package pairing

import (
	"github.com/skip2/go-qrcode"
)

// RenderTerminal returns a small ASCII-art QR code for token, for a
// `pairing show` CLI to print directly to an operator's terminal.
func RenderTerminal(token string) (string, error) {
	qr, err := qrcode.New(token, qrcode.Medium)
	if err != nil {
		return "", err
	}
	return qr.ToSmallString(false), nil
}

// RenderPNG returns a size x size PNG-encoded QR code for token, grounded
// on the teacher's internal/web provider-pairing QR endpoint.
func RenderPNG(token string, size int) ([]byte, error) {
	return qrcode.Encode(token, qrcode.Medium, size)
}
