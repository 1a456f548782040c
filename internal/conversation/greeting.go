package conversation

import (
	"regexp"
	"strings"
)

// A salutation ends at a separator or at the end of the text.
var greetingRe = regexp.MustCompile(`(?i)^\s*(bonjour|bonsoir|salut|coucou|hello|hey|hi|yo|bjr|slt|hola)(\s+(à\s+tous|a\s+tous|tout\s+le\s+monde))?(?:[\s,;:!.]+|$)`)

// StripGreeting removes a leading salutation. It reports whether one was
// found and returns what the user wrote after it.
func StripGreeting(text string) (rest string, greeted bool) {
	loc := greetingRe.FindStringIndex(text)
	if loc == nil {
		return strings.TrimSpace(text), false
	}
	return strings.TrimSpace(text[loc[1]:]), true
}
