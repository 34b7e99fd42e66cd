package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pershinghar/pwa-deploy/pkg/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "deploy.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvHost, EnvPort, EnvUser, EnvPassword, EnvKeyPath, EnvEventsURL} {
		t.Setenv(key, "")
	}
}

func TestLoad_OverlaysFileOnDefaults(t *testing.T) {
	clearEnv(t)
	p := writeConfig(t, `
ssh:
  host: 10.0.0.5
  password: secret
backend:
  packages: [flask]
runbook:
  step_delay: 250ms
`)

	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.5", cfg.SSH.Host)
	assert.Equal(t, 22, cfg.SSH.Port)
	assert.Equal(t, "root", cfg.SSH.Username)
	assert.Equal(t, []string{"flask"}, cfg.Backend.Packages)
	assert.Equal(t, 250*time.Millisecond, cfg.Runbook.StepDelay)
	// untouched sections keep their defaults
	assert.Equal(t, "/www/wwwroot/pwa", cfg.Frontend.WebRoot)
	assert.Equal(t, 3*time.Second, cfg.Runbook.VerifyDelay)
	assert.Equal(t, "npm run build", cfg.Build.Command)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	p := writeConfig(t, "ssh:\n  host: file-host\n  password: file-pass\n")
	t.Setenv(EnvHost, "env-host")
	t.Setenv(EnvPort, "2222")
	t.Setenv(EnvPassword, "env-pass")
	t.Setenv(EnvEventsURL, "amqp://guest:guest@mq:5672/")

	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "env-host", cfg.SSH.Host)
	assert.Equal(t, 2222, cfg.SSH.Port)
	assert.Equal(t, "env-pass", cfg.SSH.Password)
	assert.True(t, cfg.Events.Enabled())
}

func TestLoad_BadPortEnv(t *testing.T) {
	clearEnv(t)
	p := writeConfig(t, "ssh:\n  host: h\n  password: p\n")
	t.Setenv(EnvPort, "twenty-two")

	_, err := Load(p)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoad_MissingDefaultFileUsesEnv(t *testing.T) {
	clearEnv(t)
	// Load resolves DefaultPath relative to the working directory.
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv(EnvHost, "example.com")
	t.Setenv(EnvPassword, "pw")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "example.com", cfg.SSH.Host)
}

func TestRead_SkipsValidation(t *testing.T) {
	clearEnv(t)
	p := writeConfig(t, "frontend:\n  web_root: /srv/pwa\n")

	cfg, err := Read(p)
	require.NoError(t, err)
	assert.Equal(t, "/srv/pwa", cfg.Frontend.WebRoot)

	_, err = Load(p)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoad_FrontendDirFollowsBuildDir(t *testing.T) {
	clearEnv(t)
	p := writeConfig(t, "ssh:\n  host: h\n  password: p\nbuild:\n  dir: web\n")

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("web", "dist"), cfg.FrontendDir())
}

func TestLoad_ParseError(t *testing.T) {
	clearEnv(t)
	p := writeConfig(t, "ssh: [unterminated")

	_, err := Load(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error parsing config file")
}

func TestValidate(t *testing.T) {
	valid := func() *models.DeployConfig {
		cfg := models.DefaultDeployConfig()
		cfg.SSH.Host = "example.com"
		cfg.SSH.Password = "pw"
		return cfg
	}

	require.NoError(t, Validate(valid()))

	tests := []struct {
		name   string
		mutate func(*models.DeployConfig)
		want   string
	}{
		{"missing host", func(c *models.DeployConfig) { c.SSH.Host = " " }, "ssh.host is required"},
		{"no auth", func(c *models.DeployConfig) { c.SSH.Password = "" }, "ssh.password or ssh.private_key_path"},
		{"key auth is enough", func(c *models.DeployConfig) { c.SSH.Password = ""; c.SSH.PrivateKeyPath = "/k" }, ""},
		{"relative web root", func(c *models.DeployConfig) { c.Frontend.WebRoot = "www/pwa" }, "frontend.web_root"},
		{"root dir as tmp", func(c *models.DeployConfig) { c.Backend.RemoteTmp = "/" }, "backend.remote_tmp"},
		{"bad mode", func(c *models.DeployConfig) { c.Frontend.Mode = "rwx" }, "frontend.mode"},
		{"empty build", func(c *models.DeployConfig) { c.Build.Command = "" }, "build.command"},
		{"packages without pip", func(c *models.DeployConfig) { c.Backend.PipCommand = "" }, "backend.pip_command"},
		{"empty log name", func(c *models.DeployConfig) { c.Backend.LogName = "" }, "backend.log_name"},
		{"log name with slash", func(c *models.DeployConfig) { c.Backend.LogName = "logs/api.log" }, "backend.log_name"},
		{"log name dot dot", func(c *models.DeployConfig) { c.Backend.LogName = ".." }, "backend.log_name"},
		{"build in subdir", func(c *models.DeployConfig) { c.Build.Dir = "web" }, ""},
		{"upload dir matches build output", func(c *models.DeployConfig) { c.Build.Dir = "web"; c.Frontend.LocalDir = "web/dist/" }, ""},
		{"upload dir differs from build output", func(c *models.DeployConfig) { c.Build.Dir = "web"; c.Frontend.LocalDir = "dist" }, "frontend.local_dir"},
		{"no upload dir at all", func(c *models.DeployConfig) { c.Build.OutputDir = "" }, "frontend.local_dir or build.output_dir"},
		{"negative delay", func(c *models.DeployConfig) { c.Runbook.StepDelay = -time.Second }, "runbook.step_delay"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
