package ocr

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/signmatch/internal/model"
)

// Confidence reported by the text-layer reader. A text layer is read
// exactly, so the only uncertainty is which of several numbers is meant.
const (
	textLayerUniqueConfidence    = 0.95
	textLayerAmbiguousConfidence = 0.70
)

// PdfToText reads the embedded text layer with the pdftotext CLI tool and
// picks the work-order number out with a regular expression. Scanned PDFs
// without a text layer yield no candidate and land in manual review.
type PdfToText struct {
	binPath string
	pattern *regexp.Regexp
}

// NewPdfToText creates a PdfToText extractor. If binPath is empty,
// "pdftotext" is used. The pattern's first capture group, or the whole
// match when it has none, is the candidate number.
func NewPdfToText(binPath, pattern string) (*PdfToText, error) {
	if binPath == "" {
		binPath = "pdftotext"
	}
	if pattern == "" {
		return nil, eris.New("ocr: pdftotext requires a number pattern")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, eris.Wrapf(err, "ocr: compile number pattern %q", pattern)
	}
	return &PdfToText{binPath: binPath, pattern: re}, nil
}

// Extract reads the text layer and scores the numbers found in it.
func (p *PdfToText) Extract(ctx context.Context, in Input) (model.Extraction, error) {
	text, err := p.ReadText(ctx, in)
	if err != nil {
		return model.Extraction{}, err
	}
	return p.extractFromText(text), nil
}

// ReadText runs pdftotext -layout on the document and returns stdout. A
// crop restricts the read to its page.
func (p *PdfToText) ReadText(ctx context.Context, in Input) (string, error) {
	tmp, err := os.CreateTemp("", "signmatch-*.pdf")
	if err != nil {
		return "", eris.Wrap(err, "ocr: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(in.Content); err != nil {
		tmp.Close() //nolint:errcheck
		return "", eris.Wrap(err, "ocr: write temp file")
	}
	if err := tmp.Close(); err != nil {
		return "", eris.Wrap(err, "ocr: close temp file")
	}

	args := []string{"-layout"}
	if !in.Crop.IsZero() {
		page := strconv.Itoa(in.Crop.Page)
		args = append(args, "-f", page, "-l", page)
	}
	args = append(args, tmp.Name(), "-")

	cmd := exec.CommandContext(ctx, p.binPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "ocr: pdftotext failed for %s: %s", in.Filename, stderr.String())
	}

	return stdout.String(), nil
}

func (p *PdfToText) extractFromText(text string) model.Extraction {
	ex := model.Extraction{RawText: text}

	var first string
	distinct := map[string]struct{}{}
	for _, m := range p.pattern.FindAllStringSubmatch(text, -1) {
		num := m[0]
		if len(m) > 1 {
			num = m[1]
		}
		num = strings.TrimSpace(num)
		if num == "" {
			continue
		}
		if first == "" {
			first = num
		}
		distinct[strings.ToUpper(num)] = struct{}{}
	}

	if first == "" {
		return ex
	}
	ex.CandidateNumber = &first
	ex.Confidence = textLayerUniqueConfidence
	if len(distinct) > 1 {
		ex.Confidence = textLayerAmbiguousConfidence
	}
	return ex
}
