// Package executor runs one submission inside a fresh sandbox container.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"ownide/internal/sandbox/command"
	"ownide/internal/sandbox/model"
	"ownide/internal/sandbox/runtime"
	"ownide/pkg/utils/contextkey"
	"ownide/pkg/utils/logger"

	"go.uber.org/zap"
)

// TimeoutExitCode is reported for runs killed by the wall-clock bound.
const TimeoutExitCode = 124

// DefaultImages maps each language to its runtime image.
var DefaultImages = map[model.Language]string{
	model.LanguagePython:     "python:3.12-alpine",
	model.LanguageJavaScript: "node:20-alpine",
	model.LanguageJava:       "eclipse-temurin:21-jdk-alpine",
	model.LanguageCPP:        "gcc:13.4.0-bookworm",
}

// Runtime is the container lifecycle the executor needs.
type Runtime interface {
	Run(ctx context.Context, image string, labels map[string]string) (runtime.Handle, error)
	Exec(ctx context.Context, h runtime.Handle, argv, env []string, timeout time.Duration, maxOutput int) (runtime.ExecOutput, error)
	Stop(ctx context.Context, h runtime.Handle) error
}

// Config holds execution policy.
type Config struct {
	Images         map[model.Language]string
	Timeout        time.Duration
	Overhead       time.Duration
	MaxOutputBytes int
	StopTimeout    time.Duration
}

// Executor orchestrates provision, exec and teardown for one request.
type Executor struct {
	rt  Runtime
	cfg Config
}

// New creates an executor. Zero config values fall back to defaults.
func New(rt Runtime, cfg Config) *Executor {
	if len(cfg.Images) == 0 {
		cfg.Images = DefaultImages
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Overhead < 0 {
		cfg.Overhead = 0
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = 1 << 20
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	return &Executor{rt: rt, cfg: cfg}
}

// Images returns the distinct images used by the configured languages.
func (e *Executor) Images() []string {
	seen := make(map[string]bool, len(e.cfg.Images))
	out := make([]string, 0, len(e.cfg.Images))
	for _, lang := range model.Languages {
		img, ok := e.cfg.Images[lang]
		if !ok || seen[img] {
			continue
		}
		seen[img] = true
		out = append(out, img)
	}
	return out
}

// Execute runs req and always returns a result; failures are folded into it.
func (e *Executor) Execute(ctx context.Context, req model.ExecutionRequest) model.ExecutionResult {
	image, ok := e.cfg.Images[req.Language]
	if !ok {
		return model.SystemResult(fmt.Sprintf("Unsupported language: %s", req.Language))
	}

	cmd, err := command.Synthesize(req.Language, req.Code, req.InputData)
	if err != nil {
		return model.SystemResult(err.Error())
	}

	labels := map[string]string{}
	if taskID, ok := ctx.Value(contextkey.TaskID).(string); ok && taskID != "" {
		labels[runtime.LabelTaskID] = taskID
	}

	handle, err := e.rt.Run(ctx, image, labels)
	if err != nil {
		logger.Error(ctx, "provision sandbox failed", zap.String("image", image), zap.Error(err))
		return model.SystemResult(err.Error())
	}
	defer e.teardown(ctx, handle)

	out, err := e.rt.Exec(ctx, handle, cmd.Argv, cmd.Env, e.cfg.Timeout, e.cfg.MaxOutputBytes)
	if errors.Is(err, runtime.ErrExecTimeout) {
		logger.Info(ctx, "sandbox execution timed out", zap.String("language", string(req.Language)), zap.Duration("timeout", e.cfg.Timeout))
		return timeoutResult(e.cfg.Timeout)
	}
	if err != nil {
		logger.Error(ctx, "sandbox execution failed", zap.String("language", string(req.Language)), zap.Error(err))
		return model.SystemResult(err.Error())
	}

	result := e.classify(out)
	logger.Info(ctx, "sandbox execution finished",
		zap.String("language", string(req.Language)),
		zap.Int("exit_code", out.ExitCode),
		zap.String("error_type", string(result.ErrorType)),
		zap.Float64("execution_time", result.ExecutionTime),
	)
	return result
}

// teardown stops the container on a context that survives caller cancellation.
func (e *Executor) teardown(ctx context.Context, handle runtime.Handle) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.StopTimeout)
	defer cancel()
	if err := e.rt.Stop(stopCtx, handle); err != nil {
		logger.Warn(ctx, "stop sandbox failed", zap.String("container_id", handle.ID), zap.Error(err))
	}
}

func (e *Executor) classify(out runtime.ExecOutput) model.ExecutionResult {
	stdout := decode(out.Stdout)
	stderr := decode(out.Stderr)
	exitCode := out.ExitCode

	errType := model.ErrorTypeNone
	if exitCode != 0 {
		// Compilers write diagnostics to stderr only; programs that crash
		// usually leave some stdout behind. This is a heuristic.
		if stdout == nil && stderr != nil {
			errType = model.ErrorTypeCompile
		} else {
			errType = model.ErrorTypeRuntime
		}
	}

	return model.ExecutionResult{
		Stdout:        stdout,
		Stderr:        stderr,
		ExitCode:      &exitCode,
		ExecutionTime: netSeconds(out.Duration, e.cfg.Overhead),
		ErrorType:     errType,
		Truncated:     out.Truncated,
	}
}

func timeoutResult(timeout time.Duration) model.ExecutionResult {
	exitCode := TimeoutExitCode
	msg := fmt.Sprintf("Execution timed out after %s", timeout)
	return model.ExecutionResult{
		Stderr:        &msg,
		ExitCode:      &exitCode,
		ExecutionTime: round4(timeout.Seconds()),
		ErrorType:     model.ErrorTypeTimeout,
	}
}

// decode returns nil for an empty stream and replaces invalid UTF-8.
func decode(b []byte) *string {
	if len(b) == 0 {
		return nil
	}
	s := strings.ToValidUTF8(string(b), "�")
	return &s
}

func netSeconds(elapsed, overhead time.Duration) float64 {
	net := elapsed - overhead
	if net < 0 {
		net = 0
	}
	return round4(net.Seconds())
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
