package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSpeakerIdempotent(t *testing.T) {
	cases := []string{"SPEAKER_00", "speaker3", "agent-1", ""}
	for _, c := range cases {
		once := NormalizeSpeaker(c, 0)
		twice := NormalizeSpeaker(once, 0)
		assert.Equal(t, once, twice, "NormalizeSpeaker should be idempotent for %q", c)
	}
}

func TestNormalizeSpeakerFallback(t *testing.T) {
	assert.Equal(t, "SPEAKER_07", NormalizeSpeaker("", 7))
	assert.Equal(t, "SPEAKER_02", NormalizeSpeaker("client_2", 9))
}

func TestRemoveFillerWordsIdempotent(t *testing.T) {
	in := "um so uh I think, hmm, that works"
	once := RemoveFillerWords(in)
	twice := RemoveFillerWords(once)
	assert.Equal(t, once, twice)
	assert.NotContains(t, once, "um")
	assert.Contains(t, once, "think")
}

func TestJaccardSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, JaccardSimilarity("hello world", "world hello"))
	assert.Equal(t, 0.0, JaccardSimilarity("hello", "goodbye"))
	assert.InDelta(t, 0.5, JaccardSimilarity("a b c", "a b d"), 0.02)
}

func TestRangesOverlap(t *testing.T) {
	assert.True(t, RangesOverlap(0, 5, 4, 10))
	assert.False(t, RangesOverlap(0, 5, 5, 10))
	assert.False(t, RangesOverlap(0, 5, 6, 10))
}

func TestSanitizeSegmentClampsEnd(t *testing.T) {
	s := SanitizeSegment(Segment{Start: 5, End: 2})
	assert.Equal(t, 5.0, s.End)
}

func TestDetectPausesFlagsLongGap(t *testing.T) {
	segs := []Segment{
		{Start: 0, End: 1},
		{Start: 3, End: 4},
	}
	DetectPauses(segs, DefaultPauseConfig())
	require.Len(t, segs, 2)
	assert.InDelta(t, 2.0, segs[1].PauseBefore, 0.001)
	assert.True(t, segs[1].IsReplicaBoundary)
}

func TestMarkOverlapFlags(t *testing.T) {
	segs := []Segment{
		{Speaker: "SPEAKER_00", Start: 0, End: 5},
		{Speaker: "SPEAKER_01", Start: 4, End: 8},
	}
	MarkOverlapFlags(segs)
	assert.True(t, segs[0].Overlap)
	assert.True(t, segs[1].Overlap)
}

func TestMergeConsecutiveSameSpeakerIdempotent(t *testing.T) {
	rows := []MarkdownRow{
		{Speaker: "Agent", Text: "hello there", Start: 0, End: 1},
		{Speaker: "Agent", Text: "how are you", Start: 1.2, End: 2},
		{Speaker: "Client", Text: "good thanks", Start: 2.1, End: 3},
		{Speaker: "SPEAKER_02", Text: "noise", Start: 3, End: 3.5},
	}
	once := MergeConsecutiveSameSpeaker(rows, 2.0)
	twice := MergeConsecutiveSameSpeaker(once, 2.0)
	assert.Equal(t, once, twice)
	require.Len(t, once, 2)
	assert.Equal(t, "Agent", once[0].Speaker)
	assert.Contains(t, once[0].Text, "hello there")
	assert.Contains(t, once[0].Text, "how are you")
}

func TestMergeConsecutiveSameSpeakerPreservesDoubleTurnOnTopicChange(t *testing.T) {
	rows := []MarkdownRow{
		{Speaker: "Agent", Text: "the weather is nice today", Start: 0, End: 1},
		{Speaker: "Agent", Text: "your invoice total is ninety dollars", Start: 10, End: 11},
	}
	out := MergeConsecutiveSameSpeaker(rows, 2.0)
	require.Len(t, out, 2)
}
