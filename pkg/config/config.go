// Package config loads the deployment configuration from a YAML file and the
// environment, on top of the defaults in pkg/models.
package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pershinghar/pwa-deploy/pkg/models"
)

// DefaultPath is where the CLI looks for a config file when none is given.
const DefaultPath = "config/deploy.yaml"

// Environment overrides, applied after the config file.
const (
	EnvHost      = "PWADEPLOY_HOST"
	EnvPort      = "PWADEPLOY_PORT"
	EnvUser      = "PWADEPLOY_USER"
	EnvPassword  = "PWADEPLOY_PASSWORD"
	EnvKeyPath   = "PWADEPLOY_KEY"
	EnvEventsURL = "PWADEPLOY_EVENTS_URL"
)

// ErrInvalidConfig is returned for any config the runbook cannot use.
var ErrInvalidConfig = errors.New("invalid config")

// Load reads the configuration and validates it.
func Load(configPath string) (*models.DeployConfig, error) {
	cfg, err := Read(configPath)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read builds a DeployConfig from defaults, the file at configPath and the
// environment, without validating it. A missing file is tolerated only when
// configPath is DefaultPath.
func Read(configPath string) (*models.DeployConfig, error) {
	cfg := models.DefaultDeployConfig()

	if configPath == "" {
		configPath = DefaultPath
	}

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file %s: %w", configPath, err)
		}
	case errors.Is(err, os.ErrNotExist) && configPath == DefaultPath:
		// defaults and environment only
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("config file not found: %s", configPath)
	default:
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := applyEnv(cfg, os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *models.DeployConfig, getenv func(string) string) error {
	if v := strings.TrimSpace(getenv(EnvHost)); v != "" {
		cfg.SSH.Host = v
	}
	if v := strings.TrimSpace(getenv(EnvPort)); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a port", ErrInvalidConfig, EnvPort, v)
		}
		cfg.SSH.Port = port
	}
	if v := strings.TrimSpace(getenv(EnvUser)); v != "" {
		cfg.SSH.Username = v
	}
	if v := getenv(EnvPassword); v != "" {
		cfg.SSH.Password = v
	}
	if v := strings.TrimSpace(getenv(EnvKeyPath)); v != "" {
		cfg.SSH.PrivateKeyPath = v
	}
	if v := strings.TrimSpace(getenv(EnvEventsURL)); v != "" {
		cfg.Events.URL = v
	}
	return nil
}

// Validate checks the fields the runbook cannot work without.
func Validate(cfg *models.DeployConfig) error {
	var problems []string

	if strings.TrimSpace(cfg.SSH.Host) == "" {
		problems = append(problems, "ssh.host is required")
	}
	if cfg.SSH.Port <= 0 || cfg.SSH.Port > 65535 {
		problems = append(problems, fmt.Sprintf("ssh.port %d out of range", cfg.SSH.Port))
	}
	if cfg.SSH.Username == "" {
		problems = append(problems, "ssh.username is required")
	}
	if !cfg.SSH.HasAuth() {
		problems = append(problems, "ssh.password or ssh.private_key_path is required")
	}
	if strings.TrimSpace(cfg.Build.Command) == "" {
		problems = append(problems, "build.command is required")
	}
	switch out := cfg.Build.OutputPath(); {
	case cfg.FrontendDir() == "":
		problems = append(problems, "frontend.local_dir or build.output_dir is required")
	case out != "" && filepath.Clean(cfg.FrontendDir()) != filepath.Clean(out):
		problems = append(problems, fmt.Sprintf("frontend.local_dir %q is not the build output %q", cfg.Frontend.LocalDir, out))
	}
	if cfg.Backend.LocalFile == "" {
		problems = append(problems, "backend.local_file is required")
	}
	if cfg.Backend.LogName == "" || strings.ContainsRune(cfg.Backend.LogName, '/') || cfg.Backend.LogName == "." || cfg.Backend.LogName == ".." {
		problems = append(problems, fmt.Sprintf("backend.log_name %q must be a plain file name", cfg.Backend.LogName))
	}
	if cfg.Backend.Interpreter == "" {
		problems = append(problems, "backend.interpreter is required")
	}
	if len(cfg.Backend.Packages) > 0 && cfg.Backend.PipCommand == "" {
		problems = append(problems, "backend.pip_command is required when packages are listed")
	}

	remotePaths := []struct{ key, value string }{
		{"frontend.remote_tmp", cfg.Frontend.RemoteTmp},
		{"frontend.web_root", cfg.Frontend.WebRoot},
		{"backend.remote_tmp", cfg.Backend.RemoteTmp},
		{"backend.remote_dir", cfg.Backend.RemoteDir},
	}
	for _, rp := range remotePaths {
		if !path.IsAbs(rp.value) || path.Clean(rp.value) == "/" {
			problems = append(problems, fmt.Sprintf("%s must be an absolute path below /, got %q", rp.key, rp.value))
		}
	}

	if _, err := strconv.ParseUint(cfg.Frontend.Mode, 8, 32); err != nil {
		problems = append(problems, fmt.Sprintf("frontend.mode %q is not an octal mode", cfg.Frontend.Mode))
	}
	if cfg.Runbook.StepDelay < 0 {
		problems = append(problems, "runbook.step_delay must not be negative")
	}
	if cfg.Runbook.VerifyDelay < 0 {
		problems = append(problems, "runbook.verify_delay must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
