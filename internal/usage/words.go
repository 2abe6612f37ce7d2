package usage

import "regexp"

// Unicode-aware equivalent of \b\w+\b; Go's \w only covers ASCII.
var wordPattern = regexp.MustCompile(`[\p{L}\p{M}\p{N}_]+`)

func CountWords(text string) int {
	if text == "" {
		return 0
	}
	return len(wordPattern.FindAllStringIndex(text, -1))
}
