package textanalysis

import (
	"testing"

	"github.com/overlapdiarize/pipeline/internal/segment"
	"github.com/stretchr/testify/assert"
)

func TestClassifyScriptTagsGreenWhenInBoth(t *testing.T) {
	rows := []segment.MarkdownRow{{Speaker: "Agent", Text: "how can I help you", Start: 0, End: 2}}
	primary := []segment.Segment{{Text: "how can I help you", Start: 0, End: 2}}
	stems := []segment.Segment{{Text: "how can I help you today", Start: 0.1, End: 2.1}}
	out := ClassifyScript(rows, primary, stems)
	assert.Equal(t, TagGreen, out[0].Tag)
}

func TestClassifyScriptTagsBlueWhenPrimaryOnly(t *testing.T) {
	rows := []segment.MarkdownRow{{Speaker: "Agent", Text: "how can I help you", Start: 0, End: 2}}
	primary := []segment.Segment{{Text: "how can I help you", Start: 0, End: 2}}
	out := ClassifyScript(rows, primary, nil)
	assert.Equal(t, TagBlue, out[0].Tag)
}

func TestClassifyScriptTagsRedWhenStemOnly(t *testing.T) {
	rows := []segment.MarkdownRow{{Speaker: "Agent", Text: "how can I help you", Start: 0, End: 2}}
	stems := []segment.Segment{{Text: "how can I help you", Start: 0, End: 2}}
	out := ClassifyScript(rows, nil, stems)
	assert.Equal(t, TagRed, out[0].Tag)
}
