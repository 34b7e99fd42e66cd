package models

import (
	"path"
	"path/filepath"
	"time"
)

// BuildConfig describes the local frontend build
type BuildConfig struct {
	// Shell command that builds the bundle
	Command string `yaml:"command"`

	// Working directory for the command
	Dir string `yaml:"dir"`

	// Directory the build must produce, relative to Dir
	OutputDir string `yaml:"output_dir"`
}

// OutputPath is OutputDir resolved against Dir. Empty when no output is expected.
func (b BuildConfig) OutputPath() string {
	if b.OutputDir == "" || filepath.IsAbs(b.OutputDir) {
		return b.OutputDir
	}
	return filepath.Join(b.Dir, b.OutputDir)
}

// FrontendConfig describes where the bundle goes on the server
type FrontendConfig struct {
	// Local bundle directory uploaded to the server.
	// Empty means the build output directory.
	LocalDir string `yaml:"local_dir"`

	// Temporary remote directory the bundle is uploaded into
	RemoteTmp string `yaml:"remote_tmp"`

	// Directory served by the web server
	WebRoot string `yaml:"web_root"`

	// chmod mode applied recursively to WebRoot
	Mode string `yaml:"mode"`
}

// BackendConfig describes the API server script and how it is started
type BackendConfig struct {
	// Local script uploaded to the server
	LocalFile string `yaml:"local_file"`

	// Temporary remote path the script is uploaded to
	RemoteTmp string `yaml:"remote_tmp"`

	// Directory the script is installed into
	RemoteDir string `yaml:"remote_dir"`

	// Log file name inside RemoteDir
	LogName string `yaml:"log_name"`

	// Interpreter used to start the script
	Interpreter string `yaml:"interpreter"`

	// Package installer invoked as "<pip> install <packages>"
	PipCommand string `yaml:"pip_command"`

	// Runtime packages installed before restart
	Packages []string `yaml:"packages"`
}

// ProcessName is the pattern used to find and kill the backend process.
func (b BackendConfig) ProcessName() string {
	return filepath.Base(b.LocalFile)
}

// RemoteFile is the installed script path on the server.
func (b BackendConfig) RemoteFile() string {
	return path.Join(b.RemoteDir, b.ProcessName())
}

// LogFile is the remote file the backend output is redirected to.
func (b BackendConfig) LogFile() string {
	return path.Join(b.RemoteDir, b.LogName)
}

// RunbookConfig tunes the remote command sequence
type RunbookConfig struct {
	// Pause after each remote command
	StepDelay time.Duration `yaml:"step_delay"`

	// Pause before checking that the backend is running
	VerifyDelay time.Duration `yaml:"verify_delay"`

	// Abort on the first remote command that exits non-zero.
	// When false, failures are logged and the sequence continues.
	Strict bool `yaml:"strict"`
}

// DeployConfig is the complete deployment configuration
type DeployConfig struct {
	SSH      SSHConfig      `yaml:"ssh"`
	Build    BuildConfig    `yaml:"build"`
	Frontend FrontendConfig `yaml:"frontend"`
	Backend  BackendConfig  `yaml:"backend"`
	Runbook  RunbookConfig  `yaml:"runbook"`
	Events   EventsConfig   `yaml:"events"`
}

// FrontendDir is the local directory uploaded as the frontend bundle.
func (c *DeployConfig) FrontendDir() string {
	if c.Frontend.LocalDir != "" {
		return c.Frontend.LocalDir
	}
	return c.Build.OutputPath()
}

// DefaultDeployConfig returns the stock PWA + API server layout
func DefaultDeployConfig() *DeployConfig {
	return &DeployConfig{
		SSH: DefaultSSHConfig(),
		Build: BuildConfig{
			Command:   "npm run build",
			Dir:       ".",
			OutputDir: "dist",
		},
		Frontend: FrontendConfig{
			RemoteTmp: "/tmp/pwa_dist",
			WebRoot:   "/www/wwwroot/pwa",
			Mode:      "755",
		},
		Backend: BackendConfig{
			LocalFile:   "../2X/backend/api_server.py",
			RemoteTmp:   "/tmp/api_server_new.py",
			RemoteDir:   "/home/deploy/web/2X/backend",
			LogName:     "api.log",
			Interpreter: "python3",
			PipCommand:  "pip3",
			Packages:    []string{"flask", "flask-cors"},
		},
		Runbook: RunbookConfig{
			StepDelay:   1 * time.Second,
			VerifyDelay: 3 * time.Second,
		},
		Events: DefaultEventsConfig(),
	}
}
