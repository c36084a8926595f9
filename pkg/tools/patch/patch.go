package patch

import (
	"context"
	"fmt"
)

// Schema is the input schema exposed to the LLM for apply_patch.
var Schema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"patch": map[string]interface{}{
			"type":        "string",
			"description": "A patch document beginning with '*** Begin Patch' and ending with '*** End Patch'",
		},
	},
	"required": []string{"patch"},
}

// Run parses and applies a patch document against workDir.
func Run(_ context.Context, workDir string, input map[string]interface{}) (string, error) {
	raw, _ := input["patch"].(string)
	if raw == "" {
		return "", fmt.Errorf("apply_patch requires 'patch' string")
	}
	hunks, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return Apply(hunks, workDir)
}
