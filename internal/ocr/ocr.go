// Package ocr reads a work-order number, a confidence score, and the raw text
// out of a signed PDF. The pipeline treats every provider as an external
// collaborator: failures surface as errors and are never retried by callers.
package ocr

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/signmatch/internal/config"
	"github.com/sells-group/signmatch/internal/model"
	"github.com/sells-group/signmatch/internal/resilience"
	"github.com/sells-group/signmatch/pkg/anthropic"
)

// Input is one document to read.
type Input struct {
	Filename string
	Content  []byte
	// Crop locates the number region; the zero value means the whole document.
	Crop model.CropGeometry
}

// Extractor turns PDF bytes into an Extraction.
type Extractor interface {
	Extract(ctx context.Context, in Input) (model.Extraction, error)
}

// NewExtractor creates an Extractor based on config.
func NewExtractor(cfg config.OCRConfig, anth config.AnthropicConfig) (Extractor, error) {
	switch cfg.Provider {
	case "service", "":
		if cfg.ServiceURL == "" {
			return nil, eris.New("ocr: service provider requires ocr.service_url")
		}
		return NewServiceClient(cfg.ServiceURL, cfg.APIKey, time.Duration(cfg.TimeoutSecs)*time.Second), nil
	case "pdftotext":
		return NewPdfToText(cfg.PdfToTextPath, cfg.NumberPattern)
	case "anthropic":
		if anth.Key == "" {
			return nil, eris.New("ocr: anthropic provider requires anthropic.key")
		}
		text, err := NewPdfToText(cfg.PdfToTextPath, cfg.NumberPattern)
		if err != nil {
			return nil, err
		}
		return NewLLMExtractor(text, anthropic.NewClient(anth.Key), anth.Model, anth.MaxTokens), nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}

type guarded struct {
	next  Extractor
	guard *resilience.Guard
}

// Guarded routes next through the OCR circuit breaker, retrying transient
// failures. A nil guard returns next unchanged.
func Guarded(next Extractor, g *resilience.Guard) Extractor {
	if g == nil {
		return next
	}
	return &guarded{next: next, guard: g}
}

func (g *guarded) Extract(ctx context.Context, in Input) (model.Extraction, error) {
	return resilience.GuardVal(ctx, g.guard, resilience.ServiceOCR, "extract", func(ctx context.Context) (model.Extraction, error) {
		return g.next.Extract(ctx, in)
	})
}
