package ocr

import (
	"context"
	"errors"
)

var (
	// ErrUnsupportedContent is returned for documents a backend cannot read.
	ErrUnsupportedContent = errors.New("unsupported content type")
	// ErrEmptyTranscript is returned when a backend reads no text at all.
	ErrEmptyTranscript = errors.New("no text recognized")
)

// Recognizer turns one invoice page into raw text.
type Recognizer interface {
	// Recognize transcribes an image or PDF page
	Recognize(ctx context.Context, data []byte, contentType string) (string, error)
	// Close releases the backend's resources
	Close() error
}

const transcribePrompt = `Transcribe all text in this electricity invoice exactly as printed.

Rules:
- Keep the reading order, one printed line per output line.
- Copy numbers, currency symbols, punctuation and accents exactly; do not reformat decimals.
- Keep table rows on one line with their cells separated by spaces.
- Do not translate, summarize, correct or comment.
- Output plain text only, without markdown.`
