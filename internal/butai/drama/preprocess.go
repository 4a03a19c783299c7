package drama

import (
	"regexp"
	"strings"
)

// quoteReply matches the chat-app quote format:
//
//	「alice：quoted text」
//	- - - - - - - - - -
//	reply
var quoteReply = regexp.MustCompile(`(?s)^「(?:[^：」\n]*：)?(.*?)」\s*-[- ]*\n(.+)$`)

// Preprocess normalises an inbound text before it enters the dialogue.
// Quoted replies (Matrix reply fallbacks and the 「」 quote format) become
// "quoted<joiner>reply", newlines become joiner, and surrounding space is
// trimmed.
func Preprocess(text, joiner string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if quoted, reply, ok := splitMatrixReply(text); ok {
		text = quoted + joiner + reply
	} else if m := quoteReply.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1]) + joiner + strings.TrimSpace(m[2])
	}

	lines := strings.Split(strings.TrimSpace(text), "\n")
	kept := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, joiner)
}

// splitMatrixReply parses the plain-text reply fallback:
//
//	> <@alice:example.com> quoted text
//	> more quoted text
//
//	reply
func splitMatrixReply(text string) (quoted, reply string, ok bool) {
	if !strings.HasPrefix(text, "> ") {
		return "", "", false
	}
	head, tail, found := strings.Cut(text, "\n\n")
	if !found {
		return "", "", false
	}
	var parts []string
	for i, line := range strings.Split(head, "\n") {
		line, isQuote := strings.CutPrefix(line, ">")
		if !isQuote {
			return "", "", false
		}
		line = strings.TrimSpace(line)
		if i == 0 && strings.HasPrefix(line, "<") {
			if _, rest, closed := strings.Cut(line, ">"); closed {
				line = strings.TrimSpace(rest)
			}
		}
		if line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, "\n"), strings.TrimSpace(tail), true
}
