package separation

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/overlapdiarize/pipeline/internal/errs"
	"github.com/overlapdiarize/pipeline/internal/progress"
)

// PyAnnote implements Separator by invoking a local speaker-separation
// process (a pyannote-based script) rather than a remote HTTPS API — no
// presigned URL is needed since the audio path stays on disk (§4.2, §9).
type PyAnnote struct {
	// Command is the executable to run, typically a Python interpreter
	// wrapping a pyannote pipeline. Exposed for test substitution.
	Command string
	Args    []string
}

// NewPyAnnote builds a PyAnnote backend invoking command with the given
// leading args; the local audio path is appended as the final argument.
func NewPyAnnote(command string, args ...string) *PyAnnote {
	if command == "" {
		command = "python3"
	}
	return &PyAnnote{Command: command, Args: args}
}

func (p *PyAnnote) Name() string { return "PyAnnote" }

// pyAnnoteOutput is the stdout JSON contract shared by the local
// subprocess back-ends (§4.2, §6): one isolated file per detected speaker.
type pyAnnoteOutput struct {
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Speakers []struct {
		Name         string `json:"name"`
		LocalPath    string `json:"local_path"`
		Format       string `json:"format"`
		IsBackground bool   `json:"isBackground"`
	} `json:"speakers"`
	Timeline []struct {
		Speaker string  `json:"speaker"`
		Start   float64 `json:"start"`
		End     float64 `json:"end"`
	} `json:"timeline"`
}

func (p *PyAnnote) Separate(ctx context.Context, req Request, sink progress.Sink) (*Result, error) {
	args := append(append([]string{}, p.Args...), req.AudioRef)
	cmd := exec.CommandContext(ctx, p.Command, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("pyannote: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("pyannote: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, &errs.TransientError{Vendor: "pyannote", Err: fmt.Errorf("start: %w", err)}
	}

	done := make(chan struct{})
	go streamStderrProgress(stderr, sink, "step2", done)

	outBytes, readErr := readAllStdout(stdout)
	<-done

	waitErr := cmd.Wait()
	if waitErr != nil {
		return nil, &errs.TransientError{Vendor: "pyannote", Err: fmt.Errorf("exit: %w", waitErr)}
	}
	if readErr != nil {
		return nil, fmt.Errorf("pyannote: read stdout: %w", readErr)
	}

	var out pyAnnoteOutput
	if err := json.Unmarshal(outBytes, &out); err != nil {
		return nil, &errs.ParseError{Stage: "separation_pyannote", Err: err}
	}
	if !out.Success {
		return nil, &errs.PermanentError{Vendor: "pyannote", Reason: out.Error}
	}

	stems := make([]Stem, 0, len(out.Speakers))
	for i, s := range out.Speakers {
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("SPEAKER_%02d", i)
		}
		stems = append(stems, Stem{Name: name, AudioRef: s.LocalPath, IsBackground: s.IsBackground, Format: s.Format})
	}
	return &Result{TaskID: "", Stems: stems}, nil
}

// streamStderrProgress translates free-form progress lines on stderr into
// progress events; local subprocess tooling has no structured progress
// channel, only log lines, so this is a best-effort forward.
func streamStderrProgress(r interface{ Read([]byte) (int, error) }, sink progress.Sink, step string, done chan<- struct{}) {
	defer close(done)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		progress.Emit(sink, progress.Event{Type: "step-progress", Step: step, Status: "processing", Description: line})
	}
}

func readAllStdout(r interface{ Read([]byte) (int, error) }) ([]byte, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var sb strings.Builder
	for scanner.Scan() {
		sb.WriteString(scanner.Text())
		sb.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}
