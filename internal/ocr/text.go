package ocr

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// IsPlainText reports whether contentType is text/plain.
func IsPlainText(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "text/plain"
}

// DecodeText returns text produced by an external OCR tool as UTF-8. Input
// that is not valid UTF-8 is read as Windows-1252, the usual encoding of
// Spanish text exported on Windows.
func DecodeText(data []byte) string {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data)
	}
	out, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), data)
	if err != nil {
		return string(bytes.ToValidUTF8(data, []byte("�")))
	}
	return string(out)
}

// Text decodes plain-text pages locally and hands every other page to Next.
// A nil Next rejects non-text pages.
type Text struct {
	Next Recognizer
}

func (t Text) Recognize(ctx context.Context, data []byte, contentType string) (string, error) {
	if IsPlainText(contentType) {
		return DecodeText(data), nil
	}
	if t.Next == nil {
		return "", fmt.Errorf("%w: %s (no OCR backend configured)", ErrUnsupportedContent, contentType)
	}
	return t.Next.Recognize(ctx, data, contentType)
}

func (t Text) Close() error {
	if t.Next == nil {
		return nil
	}
	return t.Next.Close()
}
