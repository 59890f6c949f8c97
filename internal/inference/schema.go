package inference

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Sentinel errors distinguishing the two response-rejection modes. Both abort
// the current order only.
var (
	ErrUnparseable   = eris.New("inference: response is not valid JSON")
	ErrSchemaInvalid = eris.New("inference: response does not match the expected schema")
)

// responseSchema is the contract for the model's output: an object keyed by
// item ID string, one entry per input item.
const responseSchema = `{
	"type": "object",
	"additionalProperties": {
		"type": "object",
		"required": ["personalizations", "overallNeedsReview"],
		"properties": {
			"personalizations": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["customText", "quantity"],
					"properties": {
						"customText": {"type": ["string", "null"]},
						"color1": {"type": ["string", "null"]},
						"color2": {"type": ["string", "null"]},
						"quantity": {"type": "integer", "minimum": 1},
						"needsReview": {"type": "boolean"},
						"reviewReason": {"type": ["string", "null"]},
						"annotation": {"type": ["string", "null"]}
					}
				}
			},
			"overallNeedsReview": {"type": "boolean"},
			"overallReviewReason": {"type": ["string", "null"]}
		}
	}
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("response.json", strings.NewReader(responseSchema)); err != nil {
		panic(err)
	}
	return compiler.MustCompile("response.json")
}

// validateResponse checks cleaned response bytes against the contract.
func validateResponse(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return eris.Wrap(ErrUnparseable, err.Error())
	}
	if err := compiledSchema.Validate(v); err != nil {
		return eris.Wrap(ErrSchemaInvalid, err.Error())
	}
	return nil
}

// cleanJSON strips markdown fences and extracts the JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
