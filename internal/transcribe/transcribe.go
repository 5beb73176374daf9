// Package transcribe runs the openai-whisper CLI over an audio file and
// returns timed segments.
package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/scriptgen/backend/internal/command"
	"github.com/scriptgen/backend/internal/logger"
	"github.com/scriptgen/backend/internal/transcript"
)

// Result is the output of one transcription.
type Result struct {
	FullText string
	Segments []transcript.Segment
	Language string
}

// CommandLog captures one whisper invocation.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stderr   string   `json:"stderr"`
}

// EngineError reports a failed transcription attempt.
type EngineError struct {
	Attempt    string
	Message    string
	CommandLog CommandLog
	Err        error
}

func (e *EngineError) Error() string {
	if e.CommandLog.Command == "" {
		return fmt.Sprintf("%s: %s", e.Attempt, e.Message)
	}
	return fmt.Sprintf("%s: %s (cmd=%s exit=%d)", e.Attempt, e.Message, e.CommandLog.Command, e.CommandLog.ExitCode)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// Config configures the whisper CLI.
type Config struct {
	WhisperPath string
	Model       string
	Language    string
}

// Engine transcribes audio with a tuned parameter set and one plain retry.
type Engine struct {
	cfg    Config
	runner command.Runner
	log    *logger.Logger
}

func New(cfg Config) *Engine {
	return NewWithRunner(cfg, command.ExecRunner{})
}

func NewWithRunner(cfg Config, runner command.Runner) *Engine {
	if cfg.WhisperPath == "" {
		cfg.WhisperPath = "whisper"
	}
	if cfg.Model == "" {
		cfg.Model = "base"
	}
	return &Engine{cfg: cfg, runner: runner, log: logger.Default().WithComponent("transcribe")}
}

// Transcribe converts audioPath into ordered segments. Intermediate files
// live in a private temp dir that is removed before returning.
func (e *Engine) Transcribe(ctx context.Context, audioPath string) (*Result, error) {
	if _, err := os.Stat(audioPath); err != nil {
		return nil, &EngineError{Attempt: "input", Message: "audio file missing", Err: err}
	}

	outDir, err := os.MkdirTemp("", "scriptgen-whisper-*")
	if err != nil {
		return nil, &EngineError{Attempt: "input", Message: "failed to create output dir", Err: err}
	}
	defer os.RemoveAll(outDir)

	res, firstErr := e.attempt(ctx, "tuned", buildArgs(e.cfg, audioPath, outDir, true), audioPath, outDir)
	if firstErr == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return nil, firstErr
	}

	e.log.Warn(ctx, "tuned transcription failed, retrying with defaults", map[string]interface{}{
		"audio": filepath.Base(audioPath),
		"error": firstErr.Error(),
	})

	res, err = e.attempt(ctx, "fallback", buildArgs(e.cfg, audioPath, outDir, false), audioPath, outDir)
	if err != nil {
		return nil, firstErr
	}
	return res, nil
}

func (e *Engine) attempt(ctx context.Context, name string, args []string, audioPath, outDir string) (*Result, error) {
	cmdRes, runErr := e.runner.Run(ctx, e.cfg.WhisperPath, args...)
	log := CommandLog{Command: e.cfg.WhisperPath, Args: args, ExitCode: cmdRes.ExitCode, Stderr: cmdRes.Stderr}
	if runErr != nil {
		return nil, &EngineError{Attempt: name, Message: "whisper exited with an error", CommandLog: log, Err: runErr}
	}

	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	data, err := os.ReadFile(filepath.Join(outDir, base+".json"))
	if err != nil {
		return nil, &EngineError{Attempt: name, Message: "whisper output missing", CommandLog: log, Err: err}
	}

	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &EngineError{Attempt: name, Message: "whisper output unreadable", CommandLog: log, Err: err}
	}
	return out.toResult(), nil
}

type whisperSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type whisperOutput struct {
	Text     string           `json:"text"`
	Segments []whisperSegment `json:"segments"`
	Language string           `json:"language"`
}

func (o whisperOutput) toResult() *Result {
	r := &Result{
		FullText: strings.TrimSpace(o.Text),
		Segments: make([]transcript.Segment, 0, len(o.Segments)),
		Language: o.Language,
	}
	for _, s := range o.Segments {
		r.Segments = append(r.Segments, transcript.Segment{Start: s.Start, End: s.End, Text: s.Text})
	}
	return r
}

// buildArgs assembles the CLI flags. The tuned set trades speed for fewer
// hallucinated repeats on long or quiet recordings.
func buildArgs(cfg Config, audioPath, outDir string, tuned bool) []string {
	args := []string{
		audioPath,
		"--model", cfg.Model,
		"--output_format", "json",
		"--output_dir", outDir,
		"--verbose", "False",
	}
	if cfg.Language != "" {
		args = append(args, "--language", cfg.Language)
	}
	if tuned {
		args = append(args,
			"--temperature", "0",
			"--compression_ratio_threshold", "2.4",
			"--logprob_threshold", "-1.0",
			"--no_speech_threshold", "0.6",
			"--condition_on_previous_text", "True",
		)
	}
	return args
}
