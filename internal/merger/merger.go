// Package merger implements the Programmatic Merger (§4.6): folds per-stem
// voice-track segments into the primary Diarization without ever changing
// the primary's speaker labels or time bounds.
package merger

import (
	"github.com/overlapdiarize/pipeline/internal/segment"
)

const (
	g2MinOverlap    = 0.1 // seconds
	g3MaxMidDistance = 2.0 // seconds
	g4MinSimilarity  = 0.3
	g5MinSimilarity  = 0.8
	g5MinLengthRatio = 0.9
)

// Stats summarizes one merge pass (§4.6). Merge returns it beside the
// segment list; it is not attached to the segments themselves.
type Stats struct {
	PrimaryCount     int
	VoiceEnhancedCount int
	PrimaryKeptCount int
}

// Merge runs the §4.6 algorithm. primary must be chronologically sorted;
// voiceTracks is the concatenation of every stem's Voice-Track Aggregator
// output. Returns the corrected segment list and merge stats.
func Merge(primary []segment.Segment, voiceTracks []segment.Segment) ([]segment.Segment, Stats) {
	used := make([]bool, len(voiceTracks))
	out := make([]segment.Segment, len(primary))
	stats := Stats{PrimaryCount: len(primary)}

	for i, p := range primary {
		bestIdx := -1
		bestScore := 0.0
		for j, v := range voiceTracks {
			if used[j] {
				continue
			}
			if !guardsPass(p, v) {
				continue
			}
			score := matchScore(p, v)
			if score > bestScore {
				bestScore = score
				bestIdx = j
			}
		}

		if bestIdx >= 0 {
			v := voiceTracks[bestIdx]
			used[bestIdx] = true
			merged := p
			if shouldReplaceText(p, v) {
				merged.Text = v.Text
			}
			merged.Source = segment.SourceVoiceEnhanced
			merged.MergeConfidence = "high"
			out[i] = merged
			stats.VoiceEnhancedCount++
		} else {
			kept := p
			kept.Source = segment.SourcePrimary
			kept.MergeConfidence = "low"
			out[i] = kept
			stats.PrimaryKeptCount++
		}
	}

	segment.MarkOverlapFlags(out)
	return out, stats
}

// guardsPass evaluates G1-G4 (match eligibility); G5 is evaluated
// separately since it governs text replacement, not eligibility.
func guardsPass(primary, voice segment.Segment) bool {
	if primary.Speaker != voice.Speaker { // G1
		return false
	}
	overlap := segment.OverlapDuration(primary.Start, primary.End, voice.Start, voice.End)
	if overlap < g2MinOverlap { // G2
		return false
	}
	pMid := (primary.Start + primary.End) / 2
	vMid := (voice.Start + voice.End) / 2
	dist := pMid - vMid
	if dist < 0 {
		dist = -dist
	}
	if dist > g3MaxMidDistance { // G3
		return false
	}
	if segment.JaccardSimilarity(primary.Text, voice.Text) < g4MinSimilarity { // G4
		return false
	}
	return true
}

// shouldReplaceText applies G5: replace only if highly similar AND the
// voice-track text is at least 0.9× the primary text's length.
func shouldReplaceText(primary, voice segment.Segment) bool {
	if segment.JaccardSimilarity(primary.Text, voice.Text) < g5MinSimilarity {
		return false
	}
	return float64(len(voice.Text)) >= g5MinLengthRatio*float64(len(primary.Text))
}

// matchScore ranks candidate voice-track segments for a given primary
// segment: overlap seconds weighted by text similarity (§4.6).
func matchScore(primary, voice segment.Segment) float64 {
	overlap := segment.OverlapDuration(primary.Start, primary.End, voice.Start, voice.End)
	similarity := segment.JaccardSimilarity(primary.Text, voice.Text)
	return overlap * similarity
}
