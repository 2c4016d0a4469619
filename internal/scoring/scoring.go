// Package scoring implements the Ground-Truth Scorer (§4.9): a punctuation-
// and case-insensitive word-bag comparison between the final Markdown table
// and a reference transcript, scored both for the final result and for the
// raw ASR baseline.
package scoring

import (
	"regexp"
	"strings"

	"github.com/overlapdiarize/pipeline/internal/segment"
)

// WordBagScore is one comparison's result (§4.9).
type WordBagScore struct {
	MatchPercent float64  `json:"matchPercent"`
	Matched      int      `json:"matched"`
	Unmatched    []string `json:"unmatched"`
	Total        int      `json:"total"`
	Extra        []string `json:"extra"`
}

// Comparison reports whether the final result beat the raw ASR baseline.
type Comparison struct {
	NextLevelBetter bool    `json:"nextLevelBetter"`
	Improvement     float64 `json:"improvement"`
}

// Metrics is the §4.9 output shape. Speechmatics is nil when no baseline
// comparison was requested (B5: report null, not an empty object).
type Metrics struct {
	NextLevel   WordBagScore  `json:"nextLevel"`
	Speechmatics *WordBagScore `json:"speechmatics"`
	Comparison  Comparison    `json:"comparison"`
}

var speakerPrefix = regexp.MustCompile(`(?i)^speaker\s*\d*\s*:\s*`)

// Score compares finalRows' Text cells and rawSegments' Text against a
// reference transcript (§4.9). rawSegments may be nil to skip the baseline.
func Score(finalRows []segment.MarkdownRow, rawSegments []segment.Segment, referenceTranscript string) Metrics {
	refWords := extractReferenceWords(referenceTranscript)

	finalWords := wordsFromRows(finalRows)
	nextLevel := compareWordBags(finalWords, refWords)

	var baseline *WordBagScore
	var comparison Comparison
	if rawSegments != nil {
		rawWords := wordsFromSegments(rawSegments)
		b := compareWordBags(rawWords, refWords)
		baseline = &b
		comparison = Comparison{
			NextLevelBetter: nextLevel.MatchPercent > baseline.MatchPercent,
			Improvement:     nextLevel.MatchPercent - baseline.MatchPercent,
		}
	}

	return Metrics{NextLevel: nextLevel, Speechmatics: baseline, Comparison: comparison}
}

func wordsFromRows(rows []segment.MarkdownRow) []string {
	var words []string
	for _, r := range rows {
		words = append(words, segment.TokenizeWords(r.Text)...)
	}
	return words
}

func wordsFromSegments(segs []segment.Segment) []string {
	var words []string
	for _, s := range segs {
		words = append(words, segment.TokenizeWords(s.Text)...)
	}
	return words
}

// extractReferenceWords strips `SpeakerN:`-style prefixes from each line of
// the reference transcript before tokenizing (§4.9).
func extractReferenceWords(transcript string) []string {
	var words []string
	for _, line := range strings.Split(transcript, "\n") {
		stripped := speakerPrefix.ReplaceAllString(line, "")
		words = append(words, segment.TokenizeWords(stripped)...)
	}
	return words
}

func wordBag(words []string) map[string]int {
	bag := make(map[string]int, len(words))
	for _, w := range words {
		bag[w]++
	}
	return bag
}

// compareWordBags computes matched = Σ over distinct words of
// min(count_in_candidate, count_in_ref); percent = matched / total_ref * 100.
func compareWordBags(candidate, reference []string) WordBagScore {
	candBag := wordBag(candidate)
	refBag := wordBag(reference)

	matched := 0
	var unmatched []string
	for word, refCount := range refBag {
		candCount := candBag[word]
		m := refCount
		if candCount < m {
			m = candCount
		}
		matched += m
		if candCount < refCount {
			unmatched = append(unmatched, word)
		}
	}

	var extra []string
	for word := range candBag {
		if _, ok := refBag[word]; !ok {
			extra = append(extra, word)
		}
	}

	total := len(reference)
	percent := 0.0
	if total > 0 {
		percent = float64(matched) / float64(total) * 100
	}

	return WordBagScore{
		MatchPercent: percent,
		Matched:      matched,
		Unmatched:    unmatched,
		Total:        total,
		Extra:        extra,
	}
}
