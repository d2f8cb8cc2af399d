// Package classify labels the blocks of a parsed model as STATIC or
// DYNAMIC template sections. Classification runs in two stages: a
// rule-based pass over regex patterns, block structure, and text-shape
// heuristics, then an optional Gemini pass for blocks the rules cannot
// settle. A block neither stage labels confidently falls back to STATIC
// with confidence 0.5.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/drafterhq/drafter-core/internal/core/domain"
	"github.com/drafterhq/drafter-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.SectionClassifier = (*Classifier)(nil)

const (
	// defaultModel is the Gemini model used when none is configured.
	defaultModel = "gemini-3-flash-preview"
	// defaultThreshold is the minimum confidence at which a rule or model
	// label is accepted without falling through to the next stage.
	defaultThreshold = 0.85
	// maxContentRunes bounds the block text sent to the model.
	maxContentRunes = 1000
)

// classifyInstructions frames the task for the model. The output contract
// is strict JSON so the verdict survives round-tripping through chat-style
// responses.
const classifyInstructions = `You classify sections of a document template as either STATIC or DYNAMIC.

STATIC means boilerplate that stays exactly the same in every document made
from the template: disclaimers, standard terms, fixed instructional headers
such as "Meeting Notes" or "Action Items".

DYNAMIC means content that must be filled in or rewritten for each new
document: person names, dates and times, meeting details and attendees,
client-specific information or recommendations, action items with specific
details, table data rows (not header rows), numerical or financial figures,
project or case details, email addresses, phone numbers, addresses.

Rules:
1. Any specific person name, date, or client data makes the section DYNAMIC.
2. Placeholder-like content or sample data that would need to change is DYNAMIC.
3. Only classify as STATIC when the content is truly generic boilerplate.
4. When in doubt, prefer DYNAMIC: regenerating static content is recoverable,
   missing dynamic content is not.

Respond with valid JSON only, no other text:
{"classification": "STATIC" or "DYNAMIC", "confidence": 0.0 to 1.0, "reasoning": "brief explanation"}`

// Config holds classifier settings.
type Config struct {
	// APIKey enables the Gemini pass. When empty the classifier runs
	// rules-only and unresolved blocks take the conservative fallback.
	APIKey string
	// Model is the Gemini model name. Empty selects defaultModel.
	Model string
	// Threshold is the minimum accepted confidence. Zero selects
	// defaultThreshold.
	Threshold float64
	Logger    *slog.Logger
}

// Classifier implements SectionClassifier with the two-stage rule/LLM
// scheme. A model failure on one block never fails the batch: the block
// takes the fallback label and classification continues.
type Classifier struct {
	threshold float64
	logger    *slog.Logger
	client    *genai.Client

	// complete sends one prompt to the language model. Nil disables the
	// LLM stage entirely.
	complete func(ctx context.Context, prompt string) (string, error)
}

// NewClassifier creates a section classifier. The context is only used to
// establish the Gemini client connection.
func NewClassifier(ctx context.Context, cfg Config) (*Classifier, error) {
	c := &Classifier{
		threshold: cfg.Threshold,
		logger:    cfg.Logger,
	}
	if c.threshold == 0 {
		c.threshold = defaultThreshold
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if cfg.APIKey == "" {
		return c, nil
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	name := cfg.Model
	if name == "" {
		name = defaultModel
	}
	model := client.GenerativeModel(name)
	model.SetTemperature(0)

	c.client = client
	c.complete = func(ctx context.Context, prompt string) (string, error) {
		resp, err := model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			return "", err
		}
		return responseText(resp)
	}
	return c, nil
}

// Classify labels every body block of the model exactly once, in document
// order. Per-block model failures degrade to the fallback label; only a
// cancelled context fails the batch.
func (c *Classifier) Classify(ctx context.Context, model *domain.ParsedModel) ([]domain.SectionLabel, error) {
	labels := make([]domain.SectionLabel, 0, len(model.Blocks))
	for i := range model.Blocks {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrClassify, err)
		}
		labels = append(labels, c.classifyBlock(ctx, model.Blocks, i))
	}
	return labels, nil
}

// Close releases the Gemini client, if any.
func (c *Classifier) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *Classifier) classifyBlock(ctx context.Context, blocks []domain.Block, i int) domain.SectionLabel {
	block := &blocks[i]

	ruled, ok := ruleLabel(block)
	if ok && ruled.Confidence >= c.threshold {
		return ruled
	}

	if c.complete != nil {
		label, err := c.llmLabel(ctx, blocks, i)
		switch {
		case err != nil:
			c.logger.Warn("llm classification failed, using fallback",
				"path", block.Path, "error", err)
		case label.Confidence >= c.threshold:
			return label
		default:
			c.logger.Debug("llm label below threshold, using fallback",
				"path", block.Path, "confidence", label.Confidence)
		}
	}

	return fallbackLabel(block)
}

func (c *Classifier) llmLabel(ctx context.Context, blocks []domain.Block, i int) (domain.SectionLabel, error) {
	block := &blocks[i]
	raw, err := c.complete(ctx, classifyPrompt(blocks, i))
	if err != nil {
		return domain.SectionLabel{}, err
	}
	v, err := parseVerdict(raw)
	if err != nil {
		return domain.SectionLabel{}, err
	}
	return domain.SectionLabel{
		Path:          block.Path,
		Type:          v.Type,
		Confidence:    v.Confidence,
		Method:        domain.ClassifiedByLLM,
		Justification: "LLM-assisted: " + v.Reasoning,
	}, nil
}

// blockContext is the structural metadata handed to the model alongside
// the block text.
type blockContext struct {
	BlockType          string `json:"block_type"`
	Sequence           int    `json:"sequence"`
	TextLength         int    `json:"text_length"`
	HeadingLevel       int    `json:"heading_level,omitempty"`
	StyleName          string `json:"style_name,omitempty"`
	PreviousBlockType  string `json:"previous_block_type,omitempty"`
	NextBlockType      string `json:"next_block_type,omitempty"`
	PositionInDocument int    `json:"position_in_document"`
	TotalBlocks        int    `json:"total_blocks"`
}

func classifyPrompt(blocks []domain.Block, i int) string {
	block := &blocks[i]
	text := block.Text()

	bc := blockContext{
		BlockType:          string(block.Type),
		Sequence:           block.Sequence,
		TextLength:         utf8.RuneCountInString(text),
		HeadingLevel:       block.Level,
		PositionInDocument: i,
		TotalBlocks:        len(blocks),
	}
	if block.Format != nil {
		bc.StyleName = block.Format.StyleName
	}
	if i > 0 {
		bc.PreviousBlockType = string(blocks[i-1].Type)
	}
	if i < len(blocks)-1 {
		bc.NextBlockType = string(blocks[i+1].Type)
	}
	meta, _ := json.MarshalIndent(bc, "", "  ")

	return fmt.Sprintf(`%s

Classify this section:

BLOCK TYPE: %s
CONTENT: %s

STRUCTURAL CONTEXT:
%s`, classifyInstructions, block.Type, truncateRunes(text, maxContentRunes), meta)
}

// verdict is the model's parsed answer.
type verdict struct {
	Type       domain.SectionType
	Confidence float64
	Reasoning  string
}

// parseVerdict extracts the JSON verdict from a model response. The JSON
// object is located by brace scanning so markdown fences or prose around
// it do not matter.
func parseVerdict(raw string) (verdict, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end < start {
		return verdict{}, fmt.Errorf("no JSON object in response %q", truncateRunes(raw, 200))
	}

	var body struct {
		Classification string  `json:"classification"`
		Confidence     float64 `json:"confidence"`
		Reasoning      string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &body); err != nil {
		return verdict{}, fmt.Errorf("parse verdict: %w", err)
	}

	sectionType := domain.SectionType(strings.ToUpper(strings.TrimSpace(body.Classification)))
	if sectionType != domain.SectionStatic && sectionType != domain.SectionDynamic {
		return verdict{}, fmt.Errorf("invalid classification %q", body.Classification)
	}

	confidence := body.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	reasoning := body.Reasoning
	if reasoning == "" {
		reasoning = "No reasoning provided"
	}

	return verdict{Type: sectionType, Confidence: confidence, Reasoning: reasoning}, nil
}

// responseText flattens the text parts of a Gemini response.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("empty model response")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("model response contains no text")
	}
	return sb.String(), nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
