// Package generate produces the text of dynamic sections through Gemini.
// The adapter turns a generation request into a single bounded prompt and
// returns the model's text; output acceptance rules live with the caller.
package generate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/drafterhq/drafter-core/internal/core/domain"
	"github.com/drafterhq/drafter-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ContentGenerator = (*Generator)(nil)

// defaultModel is the Gemini model used when none is configured.
const defaultModel = "gemini-3-flash-preview"

// generateInstructions frames the writing task. The output constraints
// mirror what the assembly stage accepts: plain prose with no markup.
const generateInstructions = `You write the final text of one section of a business document, replacing
template placeholder text with document-specific content.

Write plain prose only: no markdown, no HTML, no code fences, no headings
syntax. Do not add a preamble, commentary, or quotation marks around the
content. Match the tone and approximate length of the template text unless
instructed otherwise. Output only the section content.`

// Config holds generator settings.
type Config struct {
	// APIKey authenticates against the Gemini API. Required.
	APIKey string
	// Model is the Gemini model name. Empty selects defaultModel.
	Model  string
	Logger *slog.Logger
}

// Generator implements ContentGenerator against the Gemini API.
type Generator struct {
	logger *slog.Logger
	client *genai.Client

	// complete sends one prompt to the language model. Overridden in tests.
	complete func(ctx context.Context, prompt string) (string, error)
}

// NewGenerator creates a Gemini-backed content generator. The context is
// only used to establish the client connection.
func NewGenerator(ctx context.Context, cfg Config) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
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

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Generator{
		logger: logger,
		client: client,
		complete: func(ctx context.Context, prompt string) (string, error) {
			resp, err := model.GenerateContent(ctx, genai.Text(prompt))
			if err != nil {
				return "", err
			}
			return responseText(resp)
		},
	}, nil
}

// Generate produces the content for one dynamic section.
func (g *Generator) Generate(ctx context.Context, req driven.GenerationRequest) (string, error) {
	raw, err := g.complete(ctx, buildPrompt(req))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrGeneration, err)
	}

	text := strings.TrimSpace(stripFence(raw))
	if text == "" {
		return "", fmt.Errorf("%w: model returned empty content", domain.ErrGeneration)
	}

	g.logger.Debug("generated section content",
		"path", req.SectionPath, "chars", len(text))
	return text, nil
}

// Close releases the Gemini client.
func (g *Generator) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// buildPrompt assembles the generation prompt from the request, one
// context line per fact. Document context keys are sorted so identical
// requests produce identical prompts.
func buildPrompt(req driven.GenerationRequest) string {
	parts := []string{
		generateInstructions,
		"",
		"Section path: " + req.SectionPath,
		"Content shape: " + string(req.BlockType),
	}

	if len(req.DocumentContext) > 0 {
		keys := make([]string, 0, len(req.DocumentContext))
		for k := range req.DocumentContext {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s: %s", k, req.DocumentContext[k]))
		}
	}

	if req.TemplateText != "" {
		parts = append(parts, "Template text: "+req.TemplateText)
	}
	if req.Prompt.Instruction != "" {
		parts = append(parts, req.Prompt.Instruction)
	}
	if req.Prompt.MaxLength > 0 {
		parts = append(parts, fmt.Sprintf("Keep the content under %d characters.", req.Prompt.MaxLength))
	}

	return strings.Join(parts, "\n")
}

// stripFence unwraps a response the model wrapped in a markdown code
// fence. Fences inside the content are left alone and rejected downstream.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	rest := s[3:]
	if i := strings.Index(rest, "\n"); i >= 0 {
		// Drop the opening fence line, including any language tag.
		rest = rest[i+1:]
	}
	if j := strings.LastIndex(rest, "```"); j >= 0 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest)
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
