package inference

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// inputPlaceholder is substituted with the order payload JSON in the user
// prompt template.
const inputPlaceholder = "{INPUT_DATA_JSON}"

const defaultSystemPrompt = `You are a data extraction assistant for a custom printing workshop. You read marketplace order data and emit personalization instructions for production.

Rules:
- Work only from the data provided. Never invent names, colors, or quantities.
- Each personalization covers the units sharing identical text and colors. The quantities across an item's personalizations must sum to the item's ordered quantity.
- If the data is ambiguous, contradictory, or missing, set needsReview to true and explain why in reviewReason.
- Respond with a single JSON object and nothing else: no prose, no markdown fences.`

const defaultUserTemplate = `Extract the personalization details for every item in the order below.

For each item in the 'items' array, first check whether 'extractedCustomText', 'extractedColor1', or 'extractedColor2' are present. If they are, use them verbatim as the personalization for that item; the 'dataSourceNote' confirms they came from an authoritative source. Do not re-derive or second-guess them. If they are absent, analyze 'printSettings' and 'customerNotes' to determine the personalization.

Respond with a JSON object keyed by each item's id (as a string). Each value must have this shape:
{"personalizations": [{"customText": string, "color1": string|null, "color2": string|null, "quantity": integer, "needsReview": boolean, "reviewReason": string|null, "annotation": string|null}], "overallNeedsReview": boolean, "overallReviewReason": string|null}

Every item in the input must appear in the response. An item with no derivable personalization gets an empty personalizations array and overallNeedsReview true.

Order data:
{INPUT_DATA_JSON}`

// Prompts holds the system prompt and user prompt template for extraction.
type Prompts struct {
	System       string `yaml:"system_prompt"`
	UserTemplate string `yaml:"user_prompt_template"`
}

// DefaultPrompts returns the built-in prompt pair.
func DefaultPrompts() Prompts {
	return Prompts{
		System:       defaultSystemPrompt,
		UserTemplate: defaultUserTemplate,
	}
}

// LoadPrompts returns the defaults, optionally overridden from a YAML file.
// A file may override either prompt independently.
func LoadPrompts(path string) (Prompts, error) {
	p := DefaultPrompts()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Prompts{}, eris.Wrapf(err, "inference: read prompts file %s", path)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Prompts{}, eris.Wrapf(err, "inference: parse prompts file %s", path)
	}
	if !strings.Contains(p.UserTemplate, inputPlaceholder) {
		return Prompts{}, eris.Errorf("inference: user prompt template missing %s placeholder", inputPlaceholder)
	}
	return p, nil
}

// UserPrompt substitutes the order payload into the template.
func (p Prompts) UserPrompt(inputJSON string) string {
	return strings.Replace(p.UserTemplate, inputPlaceholder, inputJSON, 1)
}
