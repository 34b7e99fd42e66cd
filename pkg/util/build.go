package util

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/sirupsen/logrus"

	"github.com/pershinghar/pwa-deploy/pkg/models"
)

// ErrBuildFailed wraps every failure of the local frontend build.
var ErrBuildFailed = errors.New("frontend build failed")

// LocalRunner runs shell commands on this machine
type LocalRunner struct {
	// Shell used to interpret commands (default: sh)
	Shell string
}

// Run executes command through the shell in dir, streaming output to stdout and stderr.
func (r LocalRunner) Run(ctx context.Context, dir, command string, stdout, stderr io.Writer) error {
	shell := r.Shell
	if shell == "" {
		shell = "sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}

// FrontendBuilder runs the configured build and checks that it produced output
type FrontendBuilder struct {
	Config models.BuildConfig
	Runner LocalRunner
	Log    logrus.FieldLogger
}

// NewFrontendBuilder returns a builder for cfg
func NewFrontendBuilder(cfg models.BuildConfig, logger logrus.FieldLogger) *FrontendBuilder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &FrontendBuilder{Config: cfg, Log: logger}
}

// Build runs the build command. It fails if the command exits non-zero or the
// output directory is missing afterwards.
func (b *FrontendBuilder) Build(ctx context.Context) error {
	entry := b.Log.WithField("phase", models.PhaseBuild)
	entry.Infof("Running %q in %s", b.Config.Command, b.Config.Dir)

	stdout := entry.WriterLevel(logrus.InfoLevel)
	defer stdout.Close()
	stderr := entry.WriterLevel(logrus.WarnLevel)
	defer stderr.Close()

	if err := b.Runner.Run(ctx, b.Config.Dir, b.Config.Command, stdout, stderr); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%w: %q exited with status %d", ErrBuildFailed, b.Config.Command, exitErr.ExitCode())
		}
		return fmt.Errorf("%w: %v", ErrBuildFailed, err)
	}

	out := b.Config.OutputPath()
	if out == "" {
		return nil
	}
	info, err := os.Stat(out)
	if err != nil {
		return fmt.Errorf("%w: output directory %s: %v", ErrBuildFailed, out, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: output %s is not a directory", ErrBuildFailed, out)
	}
	return nil
}
