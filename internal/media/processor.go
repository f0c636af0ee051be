package media

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"strings"
)

// describePrompt accompanies an encoded photo so the model treats it as part
// of the user's turn.
const describePrompt = "The user sent the attached photo."

// FileFetcher resolves a platform file reference to its content.
type FileFetcher interface {
	FetchFile(ctx context.Context, fileID string) (string, []byte, error)
}

// SpeechRecognizer converts audio bytes to text.
type SpeechRecognizer interface {
	Transcribe(ctx context.Context, filename string, audio []byte) (string, error)
}

// Processor resolves media payloads into oracle-ready content. Failures are
// reported to the caller, which substitutes placeholders; a broken media
// message never blocks its batch.
type Processor struct {
	files FileFetcher
	stt   SpeechRecognizer
}

// NewProcessor creates a Processor over the given file and speech backends.
func NewProcessor(files FileFetcher, stt SpeechRecognizer) (*Processor, error) {
	if files == nil {
		return nil, errors.New("media: file fetcher must not be nil")
	}
	if stt == nil {
		return nil, errors.New("media: speech recognizer must not be nil")
	}
	return &Processor{files: files, stt: stt}, nil
}

// Transcribe downloads a voice payload and converts it to text.
func (p *Processor) Transcribe(ctx context.Context, mediaRef string) (string, error) {
	name, data, err := p.files.FetchFile(ctx, mediaRef)
	if err != nil {
		return "", fmt.Errorf("media: fetch voice file: %w", err)
	}
	if len(data) == 0 {
		return "", errors.New("media: voice file is empty")
	}
	text, err := p.stt.Transcribe(ctx, name, data)
	if err != nil {
		return "", fmt.Errorf("media: transcribe: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Describe downloads a photo payload and returns the prompt fragment plus
// the image encoded as a data URL for a multi-modal completion request.
func (p *Processor) Describe(ctx context.Context, mediaRef string) (string, string, error) {
	name, data, err := p.files.FetchFile(ctx, mediaRef)
	if err != nil {
		return "", "", fmt.Errorf("media: fetch photo file: %w", err)
	}
	if len(data) == 0 {
		return "", "", errors.New("media: photo file is empty")
	}
	encoded := "data:" + imageMIME(name) + ";base64," + base64.StdEncoding.EncodeToString(data)
	return describePrompt, encoded, nil
}

func imageMIME(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "image/jpeg"
	}
}
