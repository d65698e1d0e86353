package model

import (
	"github.com/rotisserie/eris"
)

// ConfidenceTier buckets a numeric OCR confidence score.
type ConfidenceTier string

const (
	TierHigh   ConfidenceTier = "HIGH"
	TierMedium ConfidenceTier = "MEDIUM"
	TierLow    ConfidenceTier = "LOW"
)

// Extraction is the OCR collaborator's reading of one signed document.
type Extraction struct {
	CandidateNumber *string `json:"candidate_number"`
	Confidence      float64 `json:"confidence"`
	RawText         string  `json:"raw_text"`
	SnippetImageURL *string `json:"snippet_image_url,omitempty"`
}

// Candidate returns the candidate number, or "" when nothing legible was read.
func (e Extraction) Candidate() string {
	if e.CandidateNumber == nil {
		return ""
	}
	return *e.CandidateNumber
}

// Snippet returns the snippet URL or "".
func (e Extraction) Snippet() string {
	if e.SnippetImageURL == nil {
		return ""
	}
	return *e.SnippetImageURL
}

// CropGeometry locates the work-order number region on a page. X, Y, Width
// and Height are fractions of the page with the origin at the top-left.
type CropGeometry struct {
	Page   int     `json:"page" yaml:"page" mapstructure:"page"`
	X      float64 `json:"x" yaml:"x" mapstructure:"x"`
	Y      float64 `json:"y" yaml:"y" mapstructure:"y"`
	Width  float64 `json:"width" yaml:"width" mapstructure:"width"`
	Height float64 `json:"height" yaml:"height" mapstructure:"height"`
}

// IsZero reports whether no geometry was provided.
func (g CropGeometry) IsZero() bool {
	return g == CropGeometry{}
}

// Validate checks that the region lies within the page.
func (g CropGeometry) Validate() error {
	switch {
	case g.Page < 1:
		return eris.Errorf("page must be >= 1, got %d", g.Page)
	case g.X < 0 || g.X >= 1 || g.Y < 0 || g.Y >= 1:
		return eris.Errorf("origin (%.3f, %.3f) must be within [0, 1)", g.X, g.Y)
	case g.Width <= 0 || g.Height <= 0:
		return eris.Errorf("size %.3fx%.3f must be positive", g.Width, g.Height)
	case g.X+g.Width > 1 || g.Y+g.Height > 1:
		return eris.New("region extends past the page edge")
	}
	return nil
}
