package voicetrack

import (
	"testing"

	"github.com/overlapdiarize/pipeline/internal/segment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateSelectsMainBucketByShare(t *testing.T) {
	segs := []segment.Segment{
		{Speaker: "SPEAKER_00", Text: "hello there", Start: 0, End: 5},
		{Speaker: "SPEAKER_00", Text: "how are you", Start: 5, End: 10},
		{Speaker: "SPEAKER_01", Text: "crosstalk", Start: 2, End: 3},
	}
	out := Aggregate("SPEAKER_00", segs, nil)
	require.Len(t, out, 2)
	for _, s := range out {
		assert.Equal(t, "SPEAKER_00", s.Speaker)
		assert.Equal(t, segment.SourceVoiceTrack, s.Source)
	}
}

func TestAggregateFallsBackToLargestWhenNoMajority(t *testing.T) {
	segs := []segment.Segment{
		{Speaker: "A", Text: "one", Start: 0, End: 3},
		{Speaker: "B", Text: "two", Start: 3, End: 5.5},
	}
	var warned bool
	out := Aggregate("SPEAKER_00", segs, func(w Warning) { warned = true })
	require.NotEmpty(t, out)
	assert.True(t, warned)
}

func TestDedupeRemovesStrongTemporalOverlap(t *testing.T) {
	segs := []segment.Segment{
		{Speaker: "SPEAKER_00", Text: "hello world how are you", Start: 0, End: 5},
		{Speaker: "SPEAKER_00", Text: "hello world how are you today", Start: 0.1, End: 4.9},
	}
	out := dedupe(segs)
	assert.Len(t, out, 1)
	assert.Equal(t, "hello world how are you today", out[0].Text)
}

func TestDedupeKeepsDistinctNonOverlapping(t *testing.T) {
	segs := []segment.Segment{
		{Speaker: "SPEAKER_00", Text: "first segment", Start: 0, End: 2},
		{Speaker: "SPEAKER_00", Text: "second segment", Start: 10, End: 12},
	}
	out := dedupe(segs)
	assert.Len(t, out, 2)
}
