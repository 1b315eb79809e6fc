package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"ownide/pkg/utils/logger"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"
)

const (
	// LabelManaged marks every container this service creates.
	LabelManaged = "ownide.sandbox"
	// LabelTaskID records the submission a container belongs to.
	LabelTaskID = "ownide.task_id"

	idleCommand = "infinity"
)

var (
	// ErrExecTimeout is returned when an exec outlives its wall-clock bound.
	ErrExecTimeout = errors.New("exec timed out")
	// ErrNotConnected is returned when the client is used before Connect succeeds.
	ErrNotConnected = errors.New("docker client is not connected")
)

// Config holds connection and container policy settings.
type Config struct {
	Host        string        `yaml:"host"`
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseBackoff time.Duration `yaml:"baseBackoff"`
	MaxBackoff  time.Duration `yaml:"maxBackoff"`

	MemoryBytes int64  `yaml:"memoryBytes"`
	NanoCPUs    int64  `yaml:"nanoCPUs"`
	PidsLimit   int64  `yaml:"pidsLimit"`
	WorkingDir  string `yaml:"workingDir"`

	StopGrace   time.Duration `yaml:"stopGrace"`
	StopTimeout time.Duration `yaml:"stopTimeout"`
}

func (c *Config) setDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.MemoryBytes <= 0 {
		c.MemoryBytes = 256 << 20
	}
	if c.NanoCPUs <= 0 {
		c.NanoCPUs = 500_000_000
	}
	if c.PidsLimit <= 0 {
		c.PidsLimit = 64
	}
	if c.WorkingDir == "" {
		c.WorkingDir = "/sandbox"
	}
	// A negative grace kills immediately; zero means unset.
	if c.StopGrace == 0 {
		c.StopGrace = time.Second
	} else if c.StopGrace < 0 {
		c.StopGrace = 0
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
}

// Handle identifies a running sandbox container.
type Handle struct {
	ID    string
	Image string
}

// ExecOutput is the raw outcome of one exec.
type ExecOutput struct {
	ExitCode  int
	Stdout    []byte
	Stderr    []byte
	Duration  time.Duration
	Truncated bool
}

// Client owns the shared Docker connection.
type Client struct {
	cfg     Config
	factory EngineFactory
	sleep   func(ctx context.Context, d time.Duration) error

	mu     sync.RWMutex
	engine Engine
}

// NewClient creates a client that connects lazily through factory.
// A nil factory uses NewDockerEngine.
func NewClient(cfg Config, factory EngineFactory) *Client {
	cfg.setDefaults()
	if factory == nil {
		factory = NewDockerEngine
	}
	return &Client{cfg: cfg, factory: factory, sleep: sleepContext}
}

// NewClientWithEngine wraps an already connected engine.
func NewClientWithEngine(cfg Config, engine Engine) *Client {
	c := NewClient(cfg, func(string) (Engine, error) { return engine, nil })
	c.engine = engine
	return c
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// Connect establishes the shared engine connection, retrying with linear
// backoff. It is a no-op once connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine != nil {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		engine, err := c.factory(c.cfg.Host)
		if err == nil {
			if _, err = engine.Ping(ctx); err == nil {
				c.engine = engine
				logger.Info(ctx, "docker engine connected", zap.Int("attempt", attempt))
				return nil
			}
			_ = engine.Close()
		}
		lastErr = err
		logger.Warn(ctx, "docker engine connect failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt == c.cfg.MaxAttempts {
			break
		}
		if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
			return fmt.Errorf("connect docker engine: %w", err)
		}
	}
	return fmt.Errorf("connect docker engine after %d attempts: %w", c.cfg.MaxAttempts, lastErr)
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.cfg.BaseBackoff * time.Duration(attempt)
	if d > c.cfg.MaxBackoff {
		return c.cfg.MaxBackoff
	}
	return d
}

func (c *Client) current() (Engine, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.engine == nil {
		return nil, ErrNotConnected
	}
	return c.engine, nil
}

// Run creates and starts a locked-down idle container.
func (c *Client) Run(ctx context.Context, imageRef string, labels map[string]string) (Handle, error) {
	engine, err := c.current()
	if err != nil {
		return Handle{}, err
	}

	allLabels := map[string]string{LabelManaged: "true"}
	for k, v := range labels {
		allLabels[k] = v
	}
	pids := c.cfg.PidsLimit

	created, err := engine.ContainerCreate(ctx, &container.Config{
		Image:           imageRef,
		Cmd:             []string{"sleep", idleCommand},
		WorkingDir:      c.cfg.WorkingDir,
		NetworkDisabled: true,
		Labels:          allLabels,
	}, &container.HostConfig{
		AutoRemove:  true,
		NetworkMode: "none",
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges"},
		Resources: container.Resources{
			Memory:     c.cfg.MemoryBytes,
			MemorySwap: c.cfg.MemoryBytes,
			NanoCPUs:   c.cfg.NanoCPUs,
			PidsLimit:  &pids,
		},
	}, nil, nil, "")
	if err != nil {
		return Handle{}, fmt.Errorf("create container: %w", err)
	}

	handle := Handle{ID: created.ID, Image: imageRef}
	if err := engine.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		// AutoRemove only applies once a container has run.
		rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.StopTimeout)
		defer cancel()
		if rmErr := engine.ContainerRemove(rmCtx, created.ID, container.RemoveOptions{Force: true}); rmErr != nil && !errdefs.IsNotFound(rmErr) {
			logger.Warn(ctx, "remove unstarted container failed", zap.String("container_id", created.ID), zap.Error(rmErr))
		}
		return Handle{}, fmt.Errorf("start container: %w", err)
	}
	return handle, nil
}

// Exec runs argv inside the container and collects demultiplexed output.
// When timeout elapses the attached stream is closed and ErrExecTimeout returned.
func (c *Client) Exec(ctx context.Context, h Handle, argv, env []string, timeout time.Duration, maxOutput int) (ExecOutput, error) {
	engine, err := c.current()
	if err != nil {
		return ExecOutput{}, err
	}

	execCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	created, err := engine.ContainerExecCreate(execCtx, h.ID, container.ExecOptions{
		Cmd:          argv,
		Env:          env,
		WorkingDir:   c.cfg.WorkingDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecOutput{}, c.execError(ctx, execCtx, "create exec", err)
	}

	start := time.Now()
	hijacked, err := engine.ContainerExecAttach(execCtx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecOutput{Duration: time.Since(start)}, c.execError(ctx, execCtx, "attach exec", err)
	}
	defer hijacked.Close()

	stdout := newCappedBuffer(maxOutput)
	stderr := newCappedBuffer(maxOutput)
	copyDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(stdout, stderr, hijacked.Reader)
		copyDone <- err
	}()

	select {
	case err := <-copyDone:
		if err != nil && !errors.Is(err, io.EOF) {
			return ExecOutput{Duration: time.Since(start)}, fmt.Errorf("read exec output: %w", err)
		}
	case <-execCtx.Done():
		hijacked.Close()
		return ExecOutput{Duration: time.Since(start)}, c.execError(ctx, execCtx, "wait exec", execCtx.Err())
	}
	duration := time.Since(start)

	exitCode, err := c.waitExit(ctx, engine, created.ID)
	if err != nil {
		return ExecOutput{Duration: duration}, err
	}

	return ExecOutput{
		ExitCode:  exitCode,
		Stdout:    stdout.Bytes(),
		Stderr:    stderr.Bytes(),
		Duration:  duration,
		Truncated: stdout.Truncated() || stderr.Truncated(),
	}, nil
}

// execError reports ErrExecTimeout when the exec bound, not the caller, ended the call.
func (c *Client) execError(parent, execCtx context.Context, op string, err error) error {
	if parent.Err() == nil && errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return ErrExecTimeout
	}
	return fmt.Errorf("%s: %w", op, err)
}

// waitExit polls exec inspect until the process is reported finished. The
// output stream can close slightly before the daemon records the exit code.
func (c *Client) waitExit(ctx context.Context, engine Engine, execID string) (int, error) {
	inspectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	for {
		inspect, err := engine.ContainerExecInspect(inspectCtx, execID)
		if err != nil {
			return 0, fmt.Errorf("inspect exec: %w", err)
		}
		if !inspect.Running {
			return inspect.ExitCode, nil
		}
		if err := c.sleep(inspectCtx, 10*time.Millisecond); err != nil {
			return 0, fmt.Errorf("inspect exec: %w", err)
		}
	}
}

// Stop stops the container within StopTimeout. A container that is already
// gone counts as stopped. When stop fails the container is force-removed.
func (c *Client) Stop(ctx context.Context, h Handle) error {
	engine, err := c.current()
	if err != nil {
		return err
	}
	stopCtx, cancel := context.WithTimeout(ctx, c.cfg.StopTimeout)
	defer cancel()

	grace := int(c.cfg.StopGrace / time.Second)
	err = engine.ContainerStop(stopCtx, h.ID, container.StopOptions{Timeout: &grace})
	if err == nil || errdefs.IsNotFound(err) {
		return nil
	}
	rmErr := engine.ContainerRemove(stopCtx, h.ID, container.RemoveOptions{Force: true})
	if rmErr == nil || errdefs.IsNotFound(rmErr) {
		return nil
	}
	return fmt.Errorf("stop container: %w", errors.Join(err, rmErr))
}

// EnsureImages pulls every image that is not present locally.
func (c *Client) EnsureImages(ctx context.Context, images []string) error {
	engine, err := c.current()
	if err != nil {
		return err
	}
	var errs []error
	for _, ref := range images {
		if _, _, err := engine.ImageInspectWithRaw(ctx, ref); err == nil {
			continue
		} else if !errdefs.IsNotFound(err) {
			errs = append(errs, fmt.Errorf("inspect image %s: %w", ref, err))
			continue
		}
		logger.Info(ctx, "pulling sandbox image", zap.String("image", ref))
		out, err := engine.ImagePull(ctx, ref, image.PullOptions{})
		if err != nil {
			errs = append(errs, fmt.Errorf("pull image %s: %w", ref, err))
			continue
		}
		// The pull only completes once the progress stream is drained.
		_, copyErr := io.Copy(io.Discard, out)
		_ = out.Close()
		if copyErr != nil {
			errs = append(errs, fmt.Errorf("pull image %s: %w", ref, copyErr))
		}
	}
	return errors.Join(errs...)
}

// SweepOrphans force-removes managed containers left behind by a previous run.
func (c *Client) SweepOrphans(ctx context.Context) (int, error) {
	engine, err := c.current()
	if err != nil {
		return 0, err
	}
	list, err := engine.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelManaged+"=true")),
	})
	if err != nil {
		return 0, fmt.Errorf("list containers: %w", err)
	}
	removed := 0
	var errs []error
	for _, item := range list {
		if err := engine.ContainerRemove(ctx, item.ID, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
			errs = append(errs, fmt.Errorf("remove container %s: %w", item.ID, err))
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// Ping checks the engine is reachable.
func (c *Client) Ping(ctx context.Context) error {
	engine, err := c.current()
	if err != nil {
		return err
	}
	_, err = engine.Ping(ctx)
	return err
}

// Close releases the engine connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine == nil {
		return nil
	}
	err := c.engine.Close()
	c.engine = nil
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
