// Package chunker splits a transcript into token-budgeted chunks along
// sentence boundaries, falling back to a hard split for oversize sentences.
package chunker

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// encoding is shared package-wide; tiktoken's BPE tables are expensive to
// build and the encoding is stateless once constructed.
const encodingName = "cl100k_base"

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

func encoder() (*tiktoken.Tiktoken, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.GetEncoding(encodingName)
	})
	return enc, encErr
}

// CountTokens returns the number of model tokens s encodes to.
func CountTokens(s string) int {
	e, err := encoder()
	if err != nil {
		// Fall back to a conservative rune-count estimate if the BPE tables
		// fail to load; this keeps the chunker degrading gracefully instead
		// of panicking on a transcript.
		return len([]rune(s)) / 3
	}
	return len(e.Encode(s, nil, nil))
}

// sentenceEnders are punctuation marks that can end a sentence.
var sentenceEnders = map[byte]bool{'.': true, '!': true, '?': true}

// abbreviations are title/honorific/ordinal markers that must not be treated
// as sentence boundaries, even though they end in a period. Parliamentary
// transcripts are dense with "Hon." and "Mr. Speaker".
var abbreviations = []string{
	"Mr.", "Mrs.", "Ms.", "Dr.", "Prof.", "Hon.", "Sen.", "Rep.", "Rt.",
	"No.", "vs.", "etc.", "Jr.", "Sr.", "St.", "M.P.",
}

// splitSentences segments transcript into sentences, keeping the trailing
// punctuation and any following spaces attached to each
// sentence so reassembly via strings.Join(sentences, "") round-trips.
func splitSentences(transcript string) []string {
	var sentences []string
	start := 0

	for i := 0; i < len(transcript); i++ {
		if !sentenceEnders[transcript[i]] {
			continue
		}
		if endsWithAbbreviation(transcript[start : i+1]) {
			continue
		}

		end := i + 1
		for end < len(transcript) && transcript[end] == ' ' {
			end++
		}
		// Only treat this as a boundary if followed by whitespace-then-capital
		// or by end of string; a mid-sentence decimal point like "3.5" or an
		// abbreviation-like token otherwise stays attached.
		if end == len(transcript) || isBoundaryFollow(transcript, end) {
			sentences = append(sentences, transcript[start:end])
			start = end
		}
	}
	if start < len(transcript) {
		sentences = append(sentences, transcript[start:])
	}
	return sentences
}

func isBoundaryFollow(s string, at int) bool {
	if at >= len(s) {
		return true
	}
	r := s[at]
	return r >= 'A' && r <= 'Z' || r == '"' || r == '\n'
}

func endsWithAbbreviation(prefix string) bool {
	trimmed := strings.TrimRight(prefix, " ")
	for _, abbr := range abbreviations {
		if strings.HasSuffix(trimmed, abbr) {
			return true
		}
	}
	// Guard against splitting inside a decimal number like "3.5".
	if len(trimmed) >= 2 {
		last := trimmed[len(trimmed)-1]
		beforeDot := trimmed[len(trimmed)-2]
		if last == '.' && beforeDot >= '0' && beforeDot <= '9' {
			return true
		}
	}
	return false
}

// Split greedily packs sentences into chunks no larger than window tokens.
// A single sentence that itself exceeds window is hard-split on word
// boundaries as a fallback.
func Split(transcript string, window int) ([]string, error) {
	if window <= 0 {
		return nil, fmt.Errorf("chunker: window must be positive, got %d", window)
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, nil
	}

	sentences := splitSentences(transcript)

	var chunks []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunks = append(chunks, strings.TrimSpace(current.String()))
		current.Reset()
		currentTokens = 0
	}

	for _, sentence := range sentences {
		tokens := CountTokens(sentence)

		if tokens > window {
			flush()
			chunks = append(chunks, hardSplit(sentence, window)...)
			continue
		}

		if currentTokens+tokens > window {
			flush()
		}
		current.WriteString(sentence)
		currentTokens += tokens
	}
	flush()

	return chunks, nil
}

// hardSplit breaks an oversize sentence into word-boundary pieces each at
// or under window tokens.
func hardSplit(sentence string, window int) []string {
	words := strings.Fields(sentence)
	if len(words) == 0 {
		return nil
	}

	var pieces []string
	var current strings.Builder
	currentTokens := 0

	for _, word := range words {
		wordTokens := CountTokens(word + " ")
		if currentTokens+wordTokens > window && current.Len() > 0 {
			pieces = append(pieces, strings.TrimSpace(current.String()))
			current.Reset()
			currentTokens = 0
		}
		current.WriteString(word)
		current.WriteByte(' ')
		currentTokens += wordTokens
	}
	if current.Len() > 0 {
		pieces = append(pieces, strings.TrimSpace(current.String()))
	}
	return pieces
}
