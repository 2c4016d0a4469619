// Package textanalysis implements the Text-Analysis Classifier (§4.8):
// tags every segment of the final output as Green (primary + stem),
// Blue (primary only), or Red (stem only).
package textanalysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/overlapdiarize/pipeline/internal/jsonsalvage"
	"github.com/overlapdiarize/pipeline/internal/llmclient"
	"github.com/overlapdiarize/pipeline/internal/segment"
	"github.com/tidwall/gjson"
)

// Tag is one of the three classification colors.
type Tag string

const (
	TagGreen Tag = "green"
	TagBlue  Tag = "blue"
	TagRed   Tag = "red"
)

// TaggedSegment is one row of the final table with its classification.
type TaggedSegment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Tag   Tag     `json:"tag"`
}

// timeWindow bounds how far apart two segments' midpoints may be and still
// be considered "the same moment" for cross-source matching (§4.8).
const timeWindow = 2.0

// minOverlapJaccard is the token-overlap threshold for considering a final
// segment "present in" a source.
const minOverlapJaccard = 0.3

// ClassifyScript runs the deterministic script mode: token overlap + time
// windows, no LLM call.
func ClassifyScript(finalRows []segment.MarkdownRow, primary []segment.Segment, stems []segment.Segment) []TaggedSegment {
	out := make([]TaggedSegment, 0, len(finalRows))
	for _, row := range finalRows {
		inPrimary := presentIn(row, primary)
		inStem := presentIn(row, stems)
		out = append(out, TaggedSegment{Text: row.Text, Start: row.Start, End: row.End, Tag: tagFor(inPrimary, inStem)})
	}
	return out
}

func tagFor(inPrimary, inStem bool) Tag {
	switch {
	case inPrimary && inStem:
		return TagGreen
	case inPrimary:
		return TagBlue
	default:
		return TagRed
	}
}

func presentIn(row segment.MarkdownRow, source []segment.Segment) bool {
	for _, s := range source {
		mid := (row.Start + row.End) / 2
		sMid := (s.Start + s.End) / 2
		dist := mid - sMid
		if dist < 0 {
			dist = -dist
		}
		if dist > timeWindow {
			continue
		}
		if segment.JaccardSimilarity(row.Text, s.Text) >= minOverlapJaccard {
			return true
		}
	}
	return false
}

// ClassifyLLM runs the LLM mode with the same {primary, stems, final
// markdown} → tagged-segment contract as the script mode (§4.8).
func ClassifyLLM(ctx context.Context, chat llmclient.ChatModel, model string, finalRows []segment.MarkdownRow, primaryDialogue, stemDialogue string) ([]TaggedSegment, error) {
	prompt := buildLLMPrompt(finalRows, primaryDialogue, stemDialogue)
	raw, err := chat.Chat(ctx, llmclient.Request{
		Model:       model,
		System:      "You classify transcript segments as green (seen in both sources), blue (primary only), or red (stem only). Respond as strict JSON.",
		User:        prompt,
		Temperature: 0,
	})
	if err != nil {
		return nil, err
	}

	jsonText, ok := jsonsalvage.Recover(raw)
	if !ok {
		return nil, fmt.Errorf("textanalysis: no salvageable JSON in LLM output")
	}

	var out []TaggedSegment
	tags := gjson.Get(jsonText, "segments")
	if !tags.Exists() {
		return nil, fmt.Errorf("textanalysis: missing segments array")
	}
	tags.ForEach(func(_, v gjson.Result) bool {
		out = append(out, TaggedSegment{
			Text:  v.Get("text").String(),
			Start: v.Get("start").Float(),
			End:   v.Get("end").Float(),
			Tag:   Tag(v.Get("tag").String()),
		})
		return true
	})
	return out, nil
}

func buildLLMPrompt(finalRows []segment.MarkdownRow, primaryDialogue, stemDialogue string) string {
	var sb strings.Builder
	sb.WriteString("Final table rows:\n")
	for _, r := range finalRows {
		fmt.Fprintf(&sb, "%s: %s (%.2f-%.2f)\n", r.Speaker, r.Text, r.Start, r.End)
	}
	sb.WriteString("\nPrimary dialogue:\n")
	sb.WriteString(primaryDialogue)
	sb.WriteString("\n\nStem dialogue:\n")
	sb.WriteString(stemDialogue)
	sb.WriteString("\n\nRespond as JSON: {\"segments\": [{\"text\": string, \"start\": number, \"end\": number, \"tag\": \"green\"|\"blue\"|\"red\"}]}.")
	return sb.String()
}
