// Package deploy runs the deployment runbook: build the frontend, connect to
// the server, upload both artifacts, run the install commands and check that
// the backend came up.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pershinghar/pwa-deploy/pkg/models"
	"github.com/pershinghar/pwa-deploy/pkg/util"
)

var (
	// ErrConnectFailed means the SSH connection could not be established.
	ErrConnectFailed = errors.New("connection failed")
	// ErrUploadFailed means an artifact could not be copied to the server.
	ErrUploadFailed = errors.New("upload failed")
	// ErrCommandFailed means a remote command could not run, or exited
	// non-zero in strict mode.
	ErrCommandFailed = errors.New("remote command failed")
	// ErrBackendNotRunning means no backend process was found after restart.
	ErrBackendNotRunning = errors.New("backend is not running")
)

// Runner executes the runbook once against one server
type Runner struct {
	Config  *models.DeployConfig
	Builder Builder
	Remote  Remote
	Events  util.EventSink
	Log     logrus.FieldLogger

	// SkipBuild uploads the existing bundle without rebuilding it
	SkipBuild bool

	// sleep waits between steps; replaced in tests
	sleep func(ctx context.Context, d time.Duration) error

	report *Report
	steps  int
	log    logrus.FieldLogger
}

// NewRunner wires a runner. A nil events sink disables events.
func NewRunner(cfg *models.DeployConfig, builder Builder, remote Remote, events util.EventSink, logger logrus.FieldLogger) *Runner {
	if events == nil {
		events = util.NopSink{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Runner{
		Config:  cfg,
		Builder: builder,
		Remote:  remote,
		Events:  events,
		Log:     logger,
		sleep:   sleepContext,
	}
}

// Run performs build, connect, upload, install and verify in order and stops
// at the first failing phase. The connection is closed before Run returns.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	r.start(len(models.Phases))

	if r.SkipBuild {
		r.log.Infof("Step 1/%d: Skipping frontend build", r.steps)
		r.record(models.PhaseBuild, models.StatusSucceeded, 0, nil)
		r.emit(ctx, models.PhaseBuild, models.StatusSucceeded, "Build skipped", nil)
	} else if err := r.phase(ctx, 1, models.PhaseBuild, "Building frontend", r.build); err != nil {
		return r.report, err
	}

	defer r.closeRemote()

	if err := r.phase(ctx, 2, models.PhaseConnect, "Connecting to "+r.Config.SSH.Host, r.connect); err != nil {
		return r.report, err
	}

	if err := r.phase(ctx, 3, models.PhaseUpload, "Uploading artifacts", r.upload); err != nil {
		r.log.Warn("Check that the frontend bundle exists and the backend file path is correct")
		return r.report, err
	}

	if err := r.phase(ctx, 4, models.PhaseInstall, "Installing and restarting backend", r.install); err != nil {
		return r.report, err
	}

	if err := r.phase(ctx, 5, models.PhaseVerify, "Checking backend status", r.verify(r.Config.Runbook.VerifyDelay)); err != nil {
		return r.report, err
	}

	r.log.Info("Deployment succeeded")
	return r.report, nil
}

// Verify connects and runs only the backend check, without the initial delay.
func (r *Runner) Verify(ctx context.Context) (*Report, error) {
	r.start(2)
	defer r.closeRemote()

	if err := r.phase(ctx, 1, models.PhaseConnect, "Connecting to "+r.Config.SSH.Host, r.connect); err != nil {
		return r.report, err
	}

	err := r.phase(ctx, 2, models.PhaseVerify, "Checking backend status", r.verify(0))
	return r.report, err
}

func (r *Runner) start(steps int) {
	r.steps = steps
	r.report = &Report{
		RunID:   uuid.NewString(),
		Host:    r.Config.SSH.Host,
		Started: time.Now(),
	}
	r.log = r.Log.WithFields(logrus.Fields{
		"run_id": r.report.RunID,
		"host":   r.Config.SSH.Host,
	})
}

func (r *Runner) phase(ctx context.Context, step int, phase models.Phase, title string, fn func(context.Context) error) error {
	r.log.Infof("Step %d/%d: %s", step, r.steps, title)
	r.emit(ctx, phase, models.StatusStarted, title, nil)

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	if err != nil {
		r.log.WithField("phase", phase).Errorf("%s failed: %v", title, err)
		r.record(phase, models.StatusFailed, elapsed, err)
		r.emit(ctx, phase, models.StatusFailed, err.Error(), nil)
		return err
	}

	r.log.WithField("phase", phase).Infof("%s done (%s)", title, elapsed.Round(time.Millisecond))
	r.record(phase, models.StatusSucceeded, elapsed, nil)
	r.emit(ctx, phase, models.StatusSucceeded, title, nil)
	return nil
}

func (r *Runner) record(phase models.Phase, status models.EventStatus, d time.Duration, err error) {
	r.report.Phases = append(r.report.Phases, PhaseResult{Phase: phase, Status: status, Duration: d, Err: err})
}

func (r *Runner) emit(ctx context.Context, phase models.Phase, status models.EventStatus, message string, output *string) {
	event := &models.DeployEvent{
		RunID:     r.report.RunID,
		Host:      r.report.Host,
		Phase:     phase,
		Status:    status,
		Message:   message,
		Output:    output,
		Timestamp: time.Now().UTC(),
	}
	if err := r.Events.Publish(ctx, event); err != nil {
		r.log.Warnf("Failed to publish %s/%s event: %v", phase, status, err)
	}
}

func (r *Runner) build(ctx context.Context) error {
	return r.Builder.Build(ctx)
}

func (r *Runner) connect(ctx context.Context) error {
	if err := r.Remote.Connect(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
	return nil
}

func (r *Runner) upload(ctx context.Context) error {
	fe := r.Config.Frontend
	be := r.Config.Backend

	localDir := r.Config.FrontendDir()
	r.log.Infof("Uploading frontend %s -> %s", localDir, fe.RemoteTmp)
	stats, err := r.Remote.UploadDir(ctx, localDir, fe.RemoteTmp)
	r.report.Upload.Add(stats)
	if err != nil {
		return fmt.Errorf("%w: frontend: %w", ErrUploadFailed, err)
	}

	r.log.Infof("Uploading backend %s -> %s", be.LocalFile, be.RemoteTmp)
	stats, err = r.Remote.UploadFile(ctx, be.LocalFile, be.RemoteTmp)
	r.report.Upload.Add(stats)
	if err != nil {
		return fmt.Errorf("%w: backend: %w", ErrUploadFailed, err)
	}

	r.log.Infof("Uploaded %d files in %d directories (%d bytes)",
		r.report.Upload.Files, r.report.Upload.Dirs, r.report.Upload.Bytes)
	return nil
}

func (r *Runner) install(ctx context.Context) error {
	commands := Plan(r.Config)
	for i, command := range commands {
		r.log.Infof("Executing: %s", command)

		res, err := r.Remote.Run(ctx, command)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrCommandFailed, command, err)
		}
		r.report.Commands = append(r.report.Commands, res)

		if out := strings.TrimSpace(res.Output); out != "" {
			r.log.Debug(out)
		}
		if !res.OK() {
			if r.Config.Runbook.Strict {
				return fmt.Errorf("%w: %s exited with status %d", ErrCommandFailed, command, res.ExitCode)
			}
			msg := fmt.Sprintf("%s exited with status %d", command, res.ExitCode)
			r.log.Warn(msg)
			r.emit(ctx, models.PhaseInstall, models.StatusWarning, msg, &res.Output)
		}

		if i < len(commands)-1 {
			if err := r.sleep(ctx, r.Config.Runbook.StepDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Runner) verify(delay time.Duration) func(context.Context) error {
	return func(ctx context.Context) error {
		be := r.Config.Backend

		if err := r.sleep(ctx, delay); err != nil {
			return err
		}

		res, err := r.Remote.Run(ctx, ProcessCheckCommand(be))
		if err != nil {
			return fmt.Errorf("%w: process check: %w", ErrCommandFailed, err)
		}

		process := strings.TrimSpace(res.Output)
		if process != "" {
			r.report.Process = process
			r.log.Infof("Backend is running:\n%s", process)
			return nil
		}

		r.log.Warn("Backend is not running, reading log")
		logRes, err := r.Remote.Run(ctx, LogCommand(be))
		if err != nil {
			return fmt.Errorf("%w (log unavailable: %v)", ErrBackendNotRunning, err)
		}
		r.report.BackendLog = logRes.Output
		r.log.Warnf("%s:\n%s", be.LogFile(), logRes.Output)
		r.emit(ctx, models.PhaseVerify, models.StatusWarning, "backend log", &logRes.Output)
		return ErrBackendNotRunning
	}
}

func (r *Runner) closeRemote() {
	if err := r.Remote.Close(); err != nil {
		r.log.Warnf("Failed to close connection: %v", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
