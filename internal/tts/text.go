package tts

import (
	"regexp"
	"strings"
)

var sentenceEnd = regexp.MustCompile(`[.!?]+`)

// sentences splits on runs of terminal punctuation, keeping the punctuation.
func sentences(text string) []string {
	var out []string
	start := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[start:loc[1]]); strings.TrimFunc(s, isPunct) != "" {
			out = append(out, s)
		}
		start = loc[1]
	}
	if s := strings.TrimSpace(text[start:]); strings.TrimFunc(s, isPunct) != "" {
		out = append(out, s)
	}
	return out
}

func isPunct(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// utterances splits text into the units piper renders one at a time: every
// sentence of every non-blank line.
func utterances(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		out = append(out, sentences(line)...)
	}
	return out
}
