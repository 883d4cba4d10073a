package qr

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G'}

func TestEncodePNG(t *testing.T) {
	gen := NewGenerator()

	png, err := gen.EncodePNG("BOD-AB12CD34")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, pngHeader))
}

func TestEncodePNGEmptyContent(t *testing.T) {
	gen := NewGenerator()
	_, err := gen.EncodePNG("")
	assert.Error(t, err)
}
