package scoring

import (
	"testing"

	"github.com/overlapdiarize/pipeline/internal/segment"
	"github.com/stretchr/testify/assert"
)

func TestScoreComputesMatchPercent(t *testing.T) {
	rows := []segment.MarkdownRow{{Speaker: "Agent", Text: "hello world how are you"}}
	reference := "Speaker1: hello world how are you"
	m := Score(rows, nil, reference)
	assert.Equal(t, 100.0, m.NextLevel.MatchPercent)
	assert.Nil(t, m.Speechmatics)
}

func TestScoreReportsUnmatchedWords(t *testing.T) {
	rows := []segment.MarkdownRow{{Speaker: "Agent", Text: "hello world"}}
	reference := "Speaker1: hello world how are you"
	m := Score(rows, nil, reference)
	assert.NotEmpty(t, m.NextLevel.Unmatched)
	assert.Less(t, m.NextLevel.MatchPercent, 100.0)
}

func TestScoreComparesAgainstBaseline(t *testing.T) {
	rows := []segment.MarkdownRow{{Speaker: "Agent", Text: "hello world how are you"}}
	raw := []segment.Segment{{Text: "hello world"}}
	reference := "Speaker1: hello world how are you"
	m := Score(rows, raw, reference)
	assert.NotNil(t, m.Speechmatics)
	assert.True(t, m.Comparison.NextLevelBetter)
}
