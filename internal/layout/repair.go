package layout

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeMergedBlocks parses the textual payload returned by the AI merge
// service into text blocks. The payload is expected to contain a JSON array,
// optionally wrapped in a markdown code fence. Parsing is lenient: a strict
// parse is attempted first; on failure the payload gets one best-effort
// repair pass that closes unbalanced braces/brackets (LLM output is
// frequently truncated mid-array) before the attempt is declared failed.
func DecodeMergedBlocks(payload string) ([]TextBlock, error) {
	content := stripCodeFence(payload)
	if content == "" {
		return nil, fmt.Errorf("merge response contained no JSON payload")
	}

	var blocks []TextBlock
	if err := json.Unmarshal([]byte(content), &blocks); err == nil {
		return blocks, nil
	}

	repaired := balanceBrackets(content)
	if err := json.Unmarshal([]byte(repaired), &blocks); err != nil {
		return nil, fmt.Errorf("parse merged blocks: %w", err)
	}
	return blocks, nil
}

// stripCodeFence extracts the body of the first markdown code fence, or
// returns the trimmed input when no fence is present.
func stripCodeFence(s string) string {
	if i := strings.Index(s, "```json"); i >= 0 {
		s = s[i+len("```json"):]
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	} else if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	return strings.TrimSpace(s)
}

// balanceBrackets appends closing braces/brackets for any left open. This is
// a truncation heuristic, not a parser: counts ignore string context, so it
// only helps for output cut off between tokens.
func balanceBrackets(s string) string {
	openBraces := strings.Count(s, "{") - strings.Count(s, "}")
	openBrackets := strings.Count(s, "[") - strings.Count(s, "]")
	if openBraces > 0 {
		s += strings.Repeat("}", openBraces)
	}
	if openBrackets > 0 {
		s += strings.Repeat("]", openBrackets)
	}
	return s
}
