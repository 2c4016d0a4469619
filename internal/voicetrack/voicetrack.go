// Package voicetrack implements the Voice-Track Aggregator (§4.5): turns one
// stem's noisy, crosstalk-laden Diarization into a clean list of Segments
// all relabeled to the stem's nominal speaker.
package voicetrack

import (
	"sort"
	"strings"

	"github.com/overlapdiarize/pipeline/internal/segment"
)

const (
	mainBucketShare    = 0.60
	dedupOverlapFrac   = 0.65
	dedupJaccardMin    = 0.85
	dedupLevenshtein   = 0.85
	dedupSimOverlapMin = 0.3
	dedupContainOverlap = 0.1
)

// Warning is emitted when the main-bucket fallback (largest regardless of
// share) is taken instead of the ≥60%-share rule.
type Warning struct {
	StemSpeaker string
	BucketLabel string
	Share       float64
}

// Aggregate runs the §4.5 algorithm over one stem's raw segments, producing
// the deduplicated, relabeled survivor list. warn may be nil.
func Aggregate(stemSpeaker string, rawSegments []segment.Segment, warn func(Warning)) []segment.Segment {
	buckets := bucketByLabel(rawSegments)
	if len(buckets) == 0 {
		return nil
	}

	mainLabel, mainShare, isFallback := selectMainBucket(buckets)
	if isFallback && warn != nil {
		warn(Warning{StemSpeaker: stemSpeaker, BucketLabel: mainLabel, Share: mainShare})
	}

	kept := make([]segment.Segment, 0, len(buckets[mainLabel]))
	for _, s := range buckets[mainLabel] {
		s.Speaker = stemSpeaker
		s.TrackSpeaker = stemSpeaker
		s.Source = segment.SourceVoiceTrack
		kept = append(kept, s)
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })

	return dedupe(kept)
}

func bucketByLabel(segs []segment.Segment) map[string][]segment.Segment {
	buckets := make(map[string][]segment.Segment)
	for _, s := range segs {
		buckets[s.Speaker] = append(buckets[s.Speaker], s)
	}
	return buckets
}

func bucketDuration(segs []segment.Segment) float64 {
	var total float64
	for _, s := range segs {
		if s.End > s.Start {
			total += s.End - s.Start
		}
	}
	return total
}

// selectMainBucket picks the bucket with the largest total duration AND
// ≥60% share of the stem's total speaking time; if no bucket clears the
// share threshold, falls back to the largest bucket regardless of share.
func selectMainBucket(buckets map[string][]segment.Segment) (label string, share float64, isFallback bool) {
	var grandTotal float64
	durations := make(map[string]float64, len(buckets))
	for label, segs := range buckets {
		d := bucketDuration(segs)
		durations[label] = d
		grandTotal += d
	}

	labels := make([]string, 0, len(buckets))
	for label := range buckets {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })

	best := labels[0]
	for _, l := range labels {
		if durations[l] > durations[best] {
			best = l
		}
	}

	bestShare := 0.0
	if grandTotal > 0 {
		bestShare = durations[best] / grandTotal
	}
	if bestShare >= mainBucketShare {
		return best, bestShare, false
	}
	return best, bestShare, true
}

// dedupe removes survivors that are duplicates of an earlier-kept segment
// under any of the §4.5 rule (i)-(iii), keeping the longer-text one.
func dedupe(segs []segment.Segment) []segment.Segment {
	kept := make([]segment.Segment, 0, len(segs))
	for _, cand := range segs {
		dupIdx := -1
		for i, k := range kept {
			if isDuplicate(cand, k) {
				dupIdx = i
				break
			}
		}
		if dupIdx < 0 {
			kept = append(kept, cand)
			continue
		}
		if len(cand.Text) > len(kept[dupIdx].Text) {
			kept[dupIdx] = cand
		}
	}
	return kept
}

func isDuplicate(a, b segment.Segment) bool {
	overlap := segment.OverlapDuration(a.Start, a.End, b.Start, b.End)

	// (i) strong temporal overlap: >65% of both durations.
	aDur := a.End - a.Start
	bDur := b.End - b.Start
	if aDur > 0 && bDur > 0 {
		if overlap/aDur > dedupOverlapFrac && overlap/bDur > dedupOverlapFrac {
			return true
		}
	}

	// (ii) similar text with meaningful overlap.
	if overlap > dedupSimOverlapMin {
		jaccard := segment.JaccardSimilarity(a.Text, b.Text)
		lev := segment.LevenshteinRatio(a.Text, b.Text)
		if jaccard >= dedupJaccardMin && lev >= dedupLevenshtein {
			return true
		}
	}

	// (iii) one normalized text contains the other, with minimal overlap.
	if overlap > dedupContainOverlap {
		na := segment.NormalizeText(a.Text)
		nb := segment.NormalizeText(b.Text)
		if na != "" && nb != "" {
			if strings.Contains(na, nb) || strings.Contains(nb, na) {
				return true
			}
		}
	}

	return false
}
