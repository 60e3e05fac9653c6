package tools

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/chefcode-ai/chefcode/internal/consts"
)

// noiseFilters lists substrings of known-noisy progress chatter from the
// deploy/build tooling. A line containing any of them is dropped before
// output is returned as a tool result.
var noiseFilters = []string{
	"Preparing Convex functions...",
	"Downloading current deployment state",
	"Diffing local code and deployment state",
	"Analyzing and deploying source code",
	"Bundling modules",
	"Schema validation complete",
	"Transforming (",
	"npm notice",
	"npm fund",
	"[webpack.Progress]",
}

// truncationNotice is prepended when output exceeds the token budget
const truncationNotice = "[earlier output truncated]\n"

// Sanitizer cleans process output before it enters the conversational
// context: noisy lines are dropped and the remainder is capped to a token
// budget so long install/deploy logs do not flood the model.
type Sanitizer struct {
	filters []string
	budget  int

	encOnce sync.Once
	encoder *tiktoken.Tiktoken
}

// NewSanitizer creates a sanitizer with optional extra noise filters and
// the given token budget (0 uses the default).
func NewSanitizer(extraFilters []string, budget int) *Sanitizer {
	if budget <= 0 {
		budget = consts.DefaultToolOutputTokenBudget
	}
	filters := make([]string, 0, len(noiseFilters)+len(extraFilters))
	filters = append(filters, noiseFilters...)
	filters = append(filters, extraFilters...)
	return &Sanitizer{filters: filters, budget: budget}
}

// Clean normalizes line endings and drops denylisted lines. It is pure and
// idempotent: cleaning already-clean output returns it unchanged.
func (s *Sanitizer) Clean(output string) string {
	if output == "" {
		return ""
	}

	normalized := strings.ReplaceAll(output, "\r\n", "\n")
	lines := strings.Split(normalized, "\n")

	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if s.isNoise(line) {
			continue
		}
		kept = append(kept, line)
	}

	return strings.Join(kept, "\n")
}

func (s *Sanitizer) isNoise(line string) bool {
	for _, filter := range s.filters {
		if strings.Contains(line, filter) {
			return true
		}
	}
	return false
}

// Truncate caps text to the sanitizer's token budget, keeping the tail
// (failures show up at the end of command output).
func (s *Sanitizer) Truncate(text string) string {
	if text == "" {
		return text
	}

	if enc := s.encoding(); enc != nil {
		tokens := enc.Encode(text, nil, nil)
		if len(tokens) <= s.budget {
			return text
		}
		return truncationNotice + enc.Decode(tokens[len(tokens)-s.budget:])
	}

	// No encoder available: fall back to the rough 4-chars-per-token
	// heuristic.
	limit := s.budget * 4
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return truncationNotice + string(runes[len(runes)-limit:])
}

func (s *Sanitizer) encoding() *tiktoken.Tiktoken {
	s.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			s.encoder = enc
		}
	})
	return s.encoder
}
