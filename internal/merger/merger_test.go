package merger

import (
	"testing"

	"github.com/overlapdiarize/pipeline/internal/segment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeReplacesTextWhenGuardsPassAndVoiceIsLonger(t *testing.T) {
	primary := []segment.Segment{
		{Speaker: "SPEAKER_00", Text: "hello there how are you doing", Start: 0, End: 5},
	}
	voice := []segment.Segment{
		{Speaker: "SPEAKER_00", Text: "hello there how are you doing today", Start: 0.2, End: 5.1, Source: segment.SourceVoiceTrack},
	}
	out, stats := Merge(primary, voice)
	require.Len(t, out, 1)
	assert.Equal(t, "hello there how are you doing today", out[0].Text)
	assert.Equal(t, segment.SourceVoiceEnhanced, out[0].Source)
	assert.Equal(t, 1, stats.VoiceEnhancedCount)
}

func TestMergeKeepsPrimaryWhenSpeakerMismatches(t *testing.T) {
	primary := []segment.Segment{
		{Speaker: "SPEAKER_00", Text: "hello there", Start: 0, End: 5},
	}
	voice := []segment.Segment{
		{Speaker: "SPEAKER_01", Text: "hello there how are you", Start: 0.2, End: 5.1},
	}
	out, stats := Merge(primary, voice)
	require.Len(t, out, 1)
	assert.Equal(t, "hello there", out[0].Text)
	assert.Equal(t, segment.SourcePrimary, out[0].Source)
	assert.Equal(t, 1, stats.PrimaryKeptCount)
}

func TestMergePreservesPrimarySpeakerAndBounds(t *testing.T) {
	primary := []segment.Segment{
		{Speaker: "SPEAKER_00", Text: "hello there", Start: 1.0, End: 4.0},
	}
	voice := []segment.Segment{
		{Speaker: "SPEAKER_00", Text: "hello there friend", Start: 0.0, End: 6.0},
	}
	out, _ := Merge(primary, voice)
	assert.Equal(t, "SPEAKER_00", out[0].Speaker)
	assert.Equal(t, 1.0, out[0].Start)
	assert.Equal(t, 4.0, out[0].End)
}

func TestMergeNeverReplacesTextWhenVoiceShorter(t *testing.T) {
	primary := []segment.Segment{
		{Speaker: "SPEAKER_00", Text: "hello there how are you today", Start: 0, End: 5},
	}
	voice := []segment.Segment{
		{Speaker: "SPEAKER_00", Text: "hello there", Start: 0.1, End: 5.0},
	}
	out, _ := Merge(primary, voice)
	assert.Equal(t, "hello there how are you today", out[0].Text)
}
