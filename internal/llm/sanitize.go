package llm

import "strings"

// StripThinkingTags removes <think>...</think> blocks from LLM output.
// Reasoning models (qwen3, deepseek-r1) prepend them to the answer.
func StripThinkingTags(s string) string {
	for {
		start := strings.Index(s, "<think>")
		if start == -1 {
			break
		}
		end := strings.Index(s[start:], "</think>")
		if end == -1 {
			s = s[:start]
			break
		}
		s = s[:start] + s[start+end+len("</think>"):]
	}
	return strings.TrimSpace(s)
}

// CleanAnswer reduces a short classification answer to its bare token:
// thinking blocks and any surrounding whitespace, quotes, backticks, markdown
// emphasis or periods are removed.
func CleanAnswer(s string) string {
	return strings.Trim(StripThinkingTags(s), " \t\r\n\"'`*.")
}
