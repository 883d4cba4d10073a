package qr

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

const defaultSize = 256

// Generator кодирует коды билетов в PNG для печати и email-вложений.
type Generator struct {
	size int
}

func NewGenerator() *Generator {
	return &Generator{size: defaultSize}
}

func (g *Generator) EncodePNG(content string) ([]byte, error) {
	if content == "" {
		return nil, fmt.Errorf("qr content is empty")
	}
	png, err := qrcode.Encode(content, qrcode.Medium, g.size)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qr code: %w", err)
	}
	return png, nil
}
