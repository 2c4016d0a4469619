// Package markdown implements the Markdown Pipeline (§4.7): turns the
// merged segment list into the final `| Segment ID | Speaker | Text |
// Start Time | End Time |` table, either via one LLM call plus optional
// verification (single-shot mode) or six strictly ordered cached calls
// (multi-step mode, used for local models or when USE_MULTI_STEP_MARKDOWN
// is set).
package markdown

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/overlapdiarize/pipeline/internal/cache"
	"github.com/overlapdiarize/pipeline/internal/jsonsalvage"
	"github.com/overlapdiarize/pipeline/internal/llmclient"
	"github.com/overlapdiarize/pipeline/internal/segment"
	"github.com/tidwall/sjson"
)

const mergeConsecutiveMaxGap = 2.0

// RoleGuidance is one entry of the role-guidance JSON fed to the LLM (§4.7).
type RoleGuidance struct {
	Role       string  `json:"role"`
	Confidence float64 `json:"confidence"`
}

// TimestampEntry maps one dialogue line to its numeric bounds (§4.7).
type TimestampEntry struct {
	Line  int     `json:"line"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Context is the full prompt context for a markdown generation run (§4.7).
type Context struct {
	PrimaryDialogue string
	RawDialogues    map[string]string // SPEAKER_00/SPEAKER_01 only
	StemDialogues   map[string]string // "Agent"/"Client" -> dialogue
	RoleGuidance    map[string]RoleGuidance
	Timestamps      []TimestampEntry
	GroundTruth     string
}

// BuildContext assembles a Context from the merged segment list, the
// per-stem agent/client dialogues the Role Classifier labeled, and the
// role-guidance map. Only SPEAKER_00/SPEAKER_01 are kept in RawDialogues,
// per §4.7's explicit filter.
func BuildContext(merged []segment.Segment, stemDialogues map[string]string, roleGuidance map[string]RoleGuidance, groundTruth string) Context {
	var primary strings.Builder
	raw := map[string]*strings.Builder{}
	var timestamps []TimestampEntry

	for i, s := range merged {
		fmt.Fprintf(&primary, "%s: %s\n", s.Speaker, s.Text)
		if s.Speaker == "SPEAKER_00" || s.Speaker == "SPEAKER_01" {
			if raw[s.Speaker] == nil {
				raw[s.Speaker] = &strings.Builder{}
			}
			fmt.Fprintf(raw[s.Speaker], "%s\n", s.Text)
		}
		timestamps = append(timestamps, TimestampEntry{Line: i, Start: s.Start, End: s.End})
	}

	rawDialogues := make(map[string]string, len(raw))
	for k, v := range raw {
		rawDialogues[k] = v.String()
	}

	return Context{
		PrimaryDialogue: primary.String(),
		RawDialogues:    rawDialogues,
		StemDialogues:   stemDialogues,
		RoleGuidance:    roleGuidance,
		Timestamps:      timestamps,
		GroundTruth:     groundTruth,
	}
}

// Generator produces the final table for one run.
type Generator struct {
	Chat        llmclient.ChatModel
	Model       string
	FastModel   string // checked as an additional cache probe in local mode
	IsLocalMode bool
	Cache       *cache.Store // nil disables caching
	BaseName    string
	DemoMode    string
}

// Generate runs either single-shot or multi-step mode (§4.7) and always
// falls back to a deterministic table built from merged if every LLM path
// fails or produces an unusable result.
func (g *Generator) Generate(ctx context.Context, merged []segment.Segment, mdCtx Context, multiStep bool) string {
	var table string
	var err error
	if multiStep {
		table, err = g.runMultiStep(ctx, mdCtx)
	} else {
		table, err = g.runSingleShot(ctx, mdCtx)
	}
	if err != nil || strings.TrimSpace(table) == "" {
		table = BuildDeterministicTable(merged)
	}
	return postProcess(table)
}

func (g *Generator) runSingleShot(ctx context.Context, mdCtx Context) (string, error) {
	prompt := singleShotPrompt(mdCtx)

	table, err := g.cachedChat(ctx, prompt, "markdown-single-shot")
	if err != nil {
		return "", err
	}

	verifyPrompt := verificationPrompt(mdCtx, table)
	verified, vErr := g.cachedChat(ctx, verifyPrompt, "markdown-verify")
	if vErr == nil && strings.TrimSpace(verified) != "" {
		return verified, nil
	}
	return table, nil
}

// runMultiStep runs the six ordered calls of §4.7. Any step that fails or
// comes back empty/unsalvageable falls back to the previous step's output;
// step 4 (format table) must be non-empty or the whole run falls back to
// the deterministic table.
func (g *Generator) runMultiStep(ctx context.Context, mdCtx Context) (string, error) {
	step1, err := g.cachedChat(ctx, validateReplicasPrompt(mdCtx), "markdown-step1-validate")
	if _, ok := jsonsalvage.Recover(step1); err != nil || strings.TrimSpace(step1) == "" || !ok {
		step1 = mdCtx.PrimaryDialogue
	}

	step2, err := g.cachedChat(ctx, assignRolesPrompt(mdCtx, step1), "markdown-step2-roles")
	if _, ok := jsonsalvage.Recover(step2); err != nil || strings.TrimSpace(step2) == "" || !ok {
		step2 = step1
	}

	step3, err := g.cachedChat(ctx, dedupeReplicasPrompt(step2), "markdown-step3-dedupe")
	if _, ok := jsonsalvage.Recover(step3); err != nil || strings.TrimSpace(step3) == "" || !ok {
		step3 = step2
	}

	step4, err := g.cachedChat(ctx, formatTablePrompt(step3), "markdown-step4-format")
	if err != nil || strings.TrimSpace(step4) == "" {
		return "", fmt.Errorf("markdown multi-step: step 4 produced no table")
	}

	step5, err := g.cachedChat(ctx, verifyTablePrompt(step4), "markdown-step5-verify")
	result := step4
	if err == nil && strings.TrimSpace(step5) != "" {
		result = step5
	}

	if mdCtx.GroundTruth != "" {
		// Step 6 only produces recommendations for an auto-test report; it
		// never mutates the table (§4.7).
		_, _ = g.cachedChat(ctx, groundTruthAnalysisPrompt(mdCtx, result), "markdown-step6-ground-truth")
	}

	return result, nil
}

// cachedChat wraps a single chat call in the §4.7 "markdown-fixes" cache
// variant, probing the fast-mode key first when running in local mode
// (models differ, but the same input/prompt/variant/demo-mode can reuse a
// result across local/fast when the cache key matches).
func (g *Generator) cachedChat(ctx context.Context, prompt, step string) (string, error) {
	model := g.Model
	if g.Cache != nil {
		if g.IsLocalMode && g.FastModel != "" {
			fastKey := cache.LLMKey(g.BaseName, prompt, g.FastModel, step, "markdown-fixes", g.DemoMode)
			var cached string
			if g.Cache.Get(fastKey, &cached) == cache.Hit {
				return cached, nil
			}
		}
		key := cache.LLMKey(g.BaseName, prompt, model, step, "markdown-fixes", g.DemoMode)
		var cached string
		if g.Cache.Get(key, &cached) == cache.Hit {
			return cached, nil
		}
		text, err := g.chat(ctx, model, step, prompt)
		if err != nil {
			return "", err
		}
		_ = g.Cache.Put(key, text)
		return text, nil
	}
	return g.chat(ctx, model, step, prompt)
}

// chat issues one chat call and, if the backend comes back with empty
// content, falls back to whatever text it put in its reasoning trace
// instead of failing outright (§4.2, §4.7 Scenario 4) — some reasoning
// models emit the table or JSON answer there when they judge it already
// said. Callers already run the result through jsonOrRaw/postProcess,
// which extract fenced blocks and parse table rows, so the raw reasoning
// text is handed back unprocessed rather than pre-filtered here.
func (g *Generator) chat(ctx context.Context, model, step, prompt string) (string, error) {
	text, err := g.Chat.Chat(ctx, llmclient.Request{Model: model, System: systemPromptFor(step), User: prompt, Temperature: 0})
	if err == nil {
		return text, nil
	}
	var emptyErr *llmclient.EmptyContentError
	if errors.As(err, &emptyErr) && strings.TrimSpace(emptyErr.Reasoning) != "" {
		return emptyErr.Reasoning, nil
	}
	return "", err
}

// postProcess applies the §4.7 post-processing chain: fenced-block
// extraction, filler-word removal in Text cells, and consecutive-same-
// speaker merging.
func postProcess(raw string) string {
	table := jsonsalvage.ExtractFencedBlock(raw)
	rows := parseTableRows(table)
	for i := range rows {
		rows[i].Text = segment.RemoveFillerWords(rows[i].Text)
	}
	rows = segment.MergeConsecutiveSameSpeaker(rows, mergeConsecutiveMaxGap)
	return renderTable(rows)
}

// BuildDeterministicTable produces a table directly from merged segments,
// with no LLM involvement — the last-resort fallback when every LLM path
// in the pipeline fails (§4.7, §7).
func BuildDeterministicTable(merged []segment.Segment) string {
	rows := make([]segment.MarkdownRow, 0, len(merged))
	for _, s := range merged {
		speaker := string(s.Role)
		if speaker != "Agent" && speaker != "Client" {
			continue
		}
		rows = append(rows, segment.MarkdownRow{Speaker: speaker, Text: s.Text, Start: s.Start, End: s.End})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Start < rows[j].Start })
	rows = segment.MergeConsecutiveSameSpeaker(rows, mergeConsecutiveMaxGap)
	return renderTable(rows)
}

// ParseTableRows parses a rendered Markdown table back into rows, for
// callers downstream of Generate (text-analysis, scoring) that need
// structured access to the final table (§4.8, §4.9).
func ParseTableRows(table string) []segment.MarkdownRow {
	return parseTableRows(table)
}

func parseTableRows(table string) []segment.MarkdownRow {
	var rows []segment.MarkdownRow
	for _, line := range strings.Split(table, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "|") {
			continue
		}
		cells := splitTableRow(line)
		if len(cells) != 5 {
			continue
		}
		if strings.EqualFold(cells[0], "Segment ID") || strings.HasPrefix(cells[0], "---") {
			continue
		}
		var start, end float64
		fmt.Sscanf(cells[3], "%f", &start)
		fmt.Sscanf(cells[4], "%f", &end)
		rows = append(rows, segment.MarkdownRow{Speaker: cells[1], Text: cells[2], Start: start, End: end})
	}
	return rows
}

func splitTableRow(line string) []string {
	trimmed := strings.Trim(line, "|")
	parts := strings.Split(trimmed, "|")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.TrimSpace(p)
	}
	return out
}

func renderTable(rows []segment.MarkdownRow) string {
	var sb strings.Builder
	sb.WriteString("| Segment ID | Speaker | Text | Start Time | End Time |\n")
	sb.WriteString("|---|---|---|---|---|\n")
	for i, r := range rows {
		fmt.Fprintf(&sb, "| %d | %s | %s | %.2f | %.2f |\n", i+1, r.Speaker, r.Text, r.Start, r.End)
	}
	return sb.String()
}

func systemPromptFor(step string) string {
	return "You are formatting a two-party support call transcript into a strict Markdown table. " +
		"Never invent text that does not appear verbatim in the provided dialogues. Step: " + step
}

func jsonOrRaw(text string) string {
	if j, ok := jsonsalvage.Recover(text); ok {
		return j
	}
	return text
}

func singleShotPrompt(c Context) string {
	var sb strings.Builder
	sb.WriteString("Produce a Markdown table with exactly the columns | Segment ID | Speaker | Text | Start Time | End Time |.\n")
	sb.WriteString("Rules: speakers are strictly Agent or Client; alternate speakers as much as real speech allows; ")
	sb.WriteString("merge consecutive same-speaker lines; keep timestamps verbatim in seconds; never invent text not present below.\n\n")
	writeContext(&sb, c)
	return sb.String()
}

func verificationPrompt(c Context, candidate string) string {
	var sb strings.Builder
	sb.WriteString("Critique and correct the following Markdown table against the source dialogues. ")
	sb.WriteString("Fix any hallucinated text, wrong speaker, or broken alternation. Output only the corrected table.\n\n")
	sb.WriteString("Candidate table:\n")
	sb.WriteString(candidate)
	sb.WriteString("\n\n")
	writeContext(&sb, c)
	return sb.String()
}

func validateReplicasPrompt(c Context) string {
	var sb strings.Builder
	sb.WriteString("List every replica (sentence) that appears verbatim in the source dialogues below. ")
	sb.WriteString("Drop any sentence not found verbatim in a source dialogue. Respond as JSON: {\"replicas\": [string, ...]}.\n\n")
	writeContext(&sb, c)
	return sb.String()
}

func assignRolesPrompt(c Context, step1Output string) string {
	var sb strings.Builder
	sb.WriteString("For each replica below, assign a role of Agent or Client using the role-guidance JSON. ")
	sb.WriteString("Respond as JSON: {\"replicas\": [{\"text\": string, \"role\": \"Agent\"|\"Client\"}]}.\n\n")
	sb.WriteString("Replicas:\n")
	sb.WriteString(jsonOrRaw(step1Output))
	sb.WriteString("\n\nRole guidance:\n")
	sb.WriteString(roleGuidanceJSON(c))
	return sb.String()
}

func dedupeReplicasPrompt(step2Output string) string {
	var sb strings.Builder
	sb.WriteString("Remove any replica assigned to the wrong speaker or duplicated. ")
	sb.WriteString("Respond as JSON with the same shape as the input.\n\n")
	sb.WriteString(jsonOrRaw(step2Output))
	return sb.String()
}

func formatTablePrompt(step3Output string) string {
	var sb strings.Builder
	sb.WriteString("Format the following role-assigned replicas into a Markdown table with columns ")
	sb.WriteString("| Segment ID | Speaker | Text | Start Time | End Time |. Output only the table.\n\n")
	sb.WriteString(jsonOrRaw(step3Output))
	return sb.String()
}

func verifyTablePrompt(step4Output string) string {
	return "Strictly critique and correct this Markdown table for role accuracy and alternation. " +
		"If it is already correct, return it unchanged. Output only the table.\n\n" + step4Output
}

func groundTruthAnalysisPrompt(c Context, result string) string {
	var sb strings.Builder
	sb.WriteString("Compare the final table against the ground-truth transcript and list discrepancies as recommendations. ")
	sb.WriteString("This output is for a report only and must not be treated as the final table. ")
	sb.WriteString("Respond as JSON: {\"recommendations\": [string, ...]}.\n\n")
	sb.WriteString("Final table:\n")
	sb.WriteString(result)
	sb.WriteString("\n\nGround truth:\n")
	sb.WriteString(c.GroundTruth)
	return sb.String()
}

func writeContext(sb *strings.Builder, c Context) {
	sb.WriteString("Primary combined dialogue:\n")
	sb.WriteString(c.PrimaryDialogue)
	sb.WriteString("\n\n")

	for _, spk := range []string{"SPEAKER_00", "SPEAKER_01"} {
		if d, ok := c.RawDialogues[spk]; ok {
			fmt.Fprintf(sb, "Raw dialogue (%s):\n%s\n\n", spk, d)
		}
	}

	for _, role := range []string{"Agent", "Client"} {
		if d, ok := c.StemDialogues[role]; ok {
			fmt.Fprintf(sb, "Stem dialogue (%s):\n%s\n\n", role, d)
		}
	}

	sb.WriteString("Role guidance:\n")
	sb.WriteString(roleGuidanceJSON(c))
	sb.WriteString("\n\n")

	if c.GroundTruth != "" {
		sb.WriteString("Ground-truth transcript:\n")
		sb.WriteString(c.GroundTruth)
		sb.WriteString("\n\n")
	}
}

func roleGuidanceJSON(c Context) string {
	out := "{}"
	for speaker, g := range c.RoleGuidance {
		out, _ = sjson.Set(out, speaker+".role", g.Role)
		out, _ = sjson.Set(out, speaker+".confidence", g.Confidence)
	}
	return out
}
