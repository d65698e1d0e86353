package ocr

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/signmatch/internal/model"
	"github.com/sells-group/signmatch/internal/resilience"
	"github.com/sells-group/signmatch/pkg/anthropic"
)

const (
	defaultLLMModel     = "claude-haiku-4-5-20251001"
	defaultLLMMaxTokens = 512
	// maxPromptChars bounds the text sent to the model; signed work orders
	// carry the number near the top.
	maxPromptChars = 12000
)

const extractionPrompt = `You read the text layer of a signed field-service work order and report its work-order number.

Respond with a single JSON object and nothing else:
{"candidate_number": string or null, "confidence": number between 0 and 1}

Rules:
- candidate_number is the work-order number exactly as printed, without labels such as "WO#" or "Work Order:".
- Use null when no work-order number is legible. Never guess from invoice, PO, or phone numbers.
- confidence is your certainty that candidate_number is the document's work-order number.`

// TextReader returns the text of a document.
type TextReader interface {
	ReadText(ctx context.Context, in Input) (string, error)
}

// LLMExtractor asks Claude to find the work-order number in a document's
// text layer.
type LLMExtractor struct {
	text      TextReader
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewLLMExtractor creates an LLMExtractor. Empty model and zero maxTokens
// use defaults.
func NewLLMExtractor(text TextReader, client anthropic.Client, model string, maxTokens int) *LLMExtractor {
	if model == "" {
		model = defaultLLMModel
	}
	if maxTokens <= 0 {
		maxTokens = defaultLLMMaxTokens
	}
	return &LLMExtractor{text: text, client: client, model: model, maxTokens: int64(maxTokens)}
}

type llmAnswer struct {
	CandidateNumber *string `json:"candidate_number"`
	Confidence      score   `json:"confidence"`
}

// Extract reads the text layer and prompts the model for the number. A
// document without text skips the model call and yields no candidate.
func (l *LLMExtractor) Extract(ctx context.Context, in Input) (model.Extraction, error) {
	raw, err := l.text.ReadText(ctx, in)
	if err != nil {
		return model.Extraction{}, err
	}
	ex := model.Extraction{RawText: raw}
	if strings.TrimSpace(raw) == "" {
		return ex, nil
	}

	prompt := raw
	if len(prompt) > maxPromptChars {
		prompt = prompt[:maxPromptChars]
	}

	resp, err := l.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     l.model,
		MaxTokens: l.maxTokens,
		System:    extractionPrompt,
		Prompt:    "Filename: " + in.Filename + "\n\n" + prompt,
	})
	if err != nil {
		err = eris.Wrap(err, "ocr: anthropic extract")
		if code := anthropic.StatusCode(err); resilience.IsTransientHTTPStatus(code) {
			return model.Extraction{}, resilience.NewTransientError(err, code)
		}
		return model.Extraction{}, err
	}
	resp.Usage.LogCost(l.model, "ocr")

	answer, err := parseAnswer(resp)
	if err != nil {
		return model.Extraction{}, err
	}
	ex.CandidateNumber = trimmed(answer.CandidateNumber)
	ex.Confidence = float64(answer.Confidence)
	return ex, nil
}

func parseAnswer(resp *anthropic.MessageResponse) (llmAnswer, error) {
	text := resp.Text

	// Tolerate fenced or chatty replies by taking the outermost object.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return llmAnswer{}, eris.Errorf("ocr: no JSON object in model reply: %s", truncate(text, 200))
	}

	var a llmAnswer
	if err := json.Unmarshal([]byte(text[start:end+1]), &a); err != nil {
		return llmAnswer{}, eris.Wrap(err, "ocr: unmarshal model reply")
	}
	return a, nil
}
