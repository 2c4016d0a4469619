package separation

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/overlapdiarize/pipeline/internal/errs"
	"github.com/overlapdiarize/pipeline/internal/progress"
)

// SpeechBrain implements Separator by invoking a local SpeechBrain-based
// separation script. Unlike PyAnnote it accepts the optional debug knobs
// (§4.2, §6): chunked processing and spectral-gating post-filter, useful
// for tuning separation quality on noisy recordings.
type SpeechBrain struct {
	Command string
	Args    []string
}

// NewSpeechBrain builds a SpeechBrain backend invoking command with the
// given leading args.
func NewSpeechBrain(command string, args ...string) *SpeechBrain {
	if command == "" {
		command = "python3"
	}
	return &SpeechBrain{Command: command, Args: args}
}

func (s *SpeechBrain) Name() string { return "SpeechBrain" }

func (s *SpeechBrain) Separate(ctx context.Context, req Request, sink progress.Sink) (*Result, error) {
	args := append(append([]string{}, s.Args...), req.AudioRef)
	args = append(args, debugFlags(req.Debug)...)

	cmd := exec.CommandContext(ctx, s.Command, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("speechbrain: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("speechbrain: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, &errs.TransientError{Vendor: "speechbrain", Err: fmt.Errorf("start: %w", err)}
	}

	done := make(chan struct{})
	go streamStderrProgress(stderr, sink, "step2", done)

	outBytes, readErr := readAllStdout(stdout)
	<-done

	if waitErr := cmd.Wait(); waitErr != nil {
		return nil, &errs.TransientError{Vendor: "speechbrain", Err: fmt.Errorf("exit: %w", waitErr)}
	}
	if readErr != nil {
		return nil, fmt.Errorf("speechbrain: read stdout: %w", readErr)
	}

	var out pyAnnoteOutput
	if err := json.Unmarshal(outBytes, &out); err != nil {
		return nil, &errs.ParseError{Stage: "separation_speechbrain", Err: err}
	}
	if !out.Success {
		return nil, &errs.PermanentError{Vendor: "speechbrain", Reason: out.Error}
	}

	stems := make([]Stem, 0, len(out.Speakers))
	for i, sp := range out.Speakers {
		name := sp.Name
		if name == "" {
			name = fmt.Sprintf("SPEAKER_%02d", i)
		}
		stems = append(stems, Stem{Name: name, AudioRef: sp.LocalPath, IsBackground: sp.IsBackground, Format: sp.Format})
	}
	return &Result{TaskID: "", Stems: stems}, nil
}

// debugFlags translates DebugParams into CLI flags for the subprocess.
// Zero-value params are omitted so the script's own defaults apply.
func debugFlags(d DebugParams) []string {
	var flags []string
	if d.ChunkSeconds > 0 {
		flags = append(flags, "--chunk-seconds", strconv.FormatFloat(d.ChunkSeconds, 'f', -1, 64))
	}
	if d.EnableSpectralGating {
		flags = append(flags, "--enable-spectral-gating")
		if d.GateThreshold > 0 {
			flags = append(flags, "--gate-threshold", strconv.FormatFloat(d.GateThreshold, 'f', -1, 64))
		}
		if d.GateAlpha > 0 {
			flags = append(flags, "--gate-alpha", strconv.FormatFloat(d.GateAlpha, 'f', -1, 64))
		}
	}
	return flags
}
