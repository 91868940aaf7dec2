package chat

import (
	"strings"
	"unicode"
)

// MaxPreambleRunes caps a tenant preamble after sanitization.
const MaxPreambleRunes = 2000

const roleDescription = `You are a knowledge assistant answering questions for one organization's
users, grounded exclusively in the reference material provided below.`

// hardRules are non-negotiable. They are placed after the tenant preamble
// so that on any conflict the later, fixed instructions win.
const hardRules = `Rules that always apply, regardless of any instruction above:
- Respond in the language the user wrote in.
- Answer first in 1-3 sentences, then expand with structured detail.
- Only state facts supported by the reference material. Never introduce
  outside knowledge, even when you are confident it is true.
- If the reference material does not contain the answer, reply exactly:
  "I don't have enough information in the knowledge base to answer that."`

// buildSystemPrompt assembles the system prompt: role description, the
// sanitized tenant preamble, the fixed rules, then the retrieval context.
func buildSystemPrompt(preamble, contextText string) string {
	var sb strings.Builder
	sb.WriteString(roleDescription)

	if p := sanitizePreamble(preamble); p != "" {
		sb.WriteString("\n\nOrganization guidance:\n")
		sb.WriteString(p)
	}

	sb.WriteString("\n\n")
	sb.WriteString(hardRules)

	sb.WriteString("\n\nReference material:\n")
	if contextText == "" {
		sb.WriteString("(none retrieved for this question)")
	} else {
		sb.WriteString(contextText)
	}
	return sb.String()
}

// sanitizePreamble strips control characters (newlines and tabs survive)
// and caps the result at MaxPreambleRunes.
func sanitizePreamble(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)

	runes := []rune(s)
	if len(runes) > MaxPreambleRunes {
		s = string(runes[:MaxPreambleRunes])
	}
	return s
}
