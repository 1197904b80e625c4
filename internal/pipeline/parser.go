package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const statementPrompt = "You are a parser for PDF card and bank statements.\n\n" +
	"Task:\n" +
	"- Extract every card payment or debit in the attached statement.\n" +
	"- Skip credits, refunds, opening and closing balances.\n" +
	"- Output STRICT JSON only (no comments, no trailing commas, no extra text).\n" +
	"- Output a JSON array of objects.\n\n" +
	"Each object must have these fields:\n" +
	"- \"transaction_id\": string or null (statement reference, if printed)\n" +
	"- \"date\": string, ISO format \"YYYY-MM-DD\"\n" +
	"- \"merchant\": string (payee as printed)\n" +
	"- \"amount\": number (positive, the amount paid)\n" +
	"- \"currency\": string or null (ISO 4217, e.g. \"USD\")\n" +
	"- \"country\": string or null (ISO 3166 alpha-2 of the merchant, if printed)\n" +
	"- \"card_number\": string or null (masked card number, if printed)\n\n" +
	"Return ONLY valid raw JSON.\n" +
	"Do NOT wrap the response in code fences.\n" +
	"Output must begin with \"[\" and end with \"]\".\n"

// GeminiParser is a StatementParser backed by Gemini.
type GeminiParser struct {
	client *genai.Client
	model  string
}

// NewGeminiParser creates a GenAI client from the environment
// (GOOGLE_API_KEY or Vertex AI settings). An empty model uses DefaultModelName.
func NewGeminiParser(ctx context.Context, model string) (*GeminiParser, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiParser: create genai client: %w", err)
	}
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiParser{client: client, model: model}, nil
}

// ParseStatement implements StatementParser.
func (p *GeminiParser) ParseStatement(ctx context.Context, pdfBytes []byte) (map[string]interface{}, error) {
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: statementPrompt},
				{
					InlineData: &genai.Blob{
						MIMEType: MIMETypePDF,
						Data:     pdfBytes,
					},
				},
			},
		},
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("ParseStatement: generate content: %w", err)
	}

	rawText := resp.Text()
	if rawText == "" {
		return nil, fmt.Errorf("ParseStatement: empty response from model")
	}
	return decodeModelOutput(rawText)
}

// decodeModelOutput parses the model text, tolerating Markdown fences, and
// wraps the array under "transactions".
func decodeModelOutput(rawText string) (map[string]interface{}, error) {
	var parsed interface{}
	if err := json.Unmarshal([]byte(cleanModelJSON(rawText)), &parsed); err != nil {
		return nil, fmt.Errorf("ParseStatement: unmarshal JSON: %w", err)
	}
	return map[string]interface{}{
		"transactions": parsed,
	}, nil
}

func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// ```json ... ``` or ``` ... ```
	if strings.HasPrefix(s, "```") {
		idx := strings.Index(s, "\n")
		if idx == -1 {
			return s
		}
		s = strings.TrimSpace(s[idx+1:])
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	// keep only the outermost array
	if start := strings.Index(s, "["); start != -1 {
		if end := strings.LastIndex(s, "]"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}
