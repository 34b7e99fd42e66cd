package deploy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pershinghar/pwa-deploy/pkg/models"
)

func TestPlan_Defaults(t *testing.T) {
	cfg := models.DefaultDeployConfig()

	want := []string{
		"mkdir -p '/www/wwwroot/pwa'",
		"cp -r '/tmp/pwa_dist/.' '/www/wwwroot/pwa/'",
		"chmod -R 755 '/www/wwwroot/pwa'",
		"mkdir -p '/home/deploy/web/2X/backend'",
		"cp '/tmp/api_server_new.py' '/home/deploy/web/2X/backend/api_server.py'",
		"pip3 install 'flask' 'flask-cors'",
		"pkill -f '[a]pi_server.py' || true",
		"nohup python3 '/home/deploy/web/2X/backend/api_server.py' > '/home/deploy/web/2X/backend/api.log' 2>&1 &",
		"rm -rf '/tmp/pwa_dist' '/tmp/api_server_new.py'",
	}
	assert.Equal(t, want, Plan(cfg))
}

func TestPlan_NoPackagesSkipsInstall(t *testing.T) {
	cfg := models.DefaultDeployConfig()
	cfg.Backend.Packages = nil

	for _, cmd := range Plan(cfg) {
		assert.NotContains(t, cmd, "install")
	}
	assert.Len(t, Plan(cfg), 8)
}

func TestPlan_TrailingSlashesAndQuotes(t *testing.T) {
	cfg := models.DefaultDeployConfig()
	cfg.Frontend.RemoteTmp = "/tmp/pwa dist/"
	cfg.Frontend.WebRoot = "/srv/it's/"

	plan := Plan(cfg)
	assert.Equal(t, `cp -r '/tmp/pwa dist/.' '/srv/it'"'"'s/'`, plan[1])
}

func TestProcessCheckAndLogCommands(t *testing.T) {
	be := models.DefaultDeployConfig().Backend

	assert.Equal(t, "ps -ef | grep '[a]pi_server.py' || true", ProcessCheckCommand(be))
	assert.Equal(t, "cat '/home/deploy/web/2X/backend/api.log'", LogCommand(be))
}

func TestProcessPattern(t *testing.T) {
	assert.Equal(t, "[a]pi_server.py", processPattern("api_server.py"))
	assert.Equal(t, "[x]", processPattern("x"))
	assert.Equal(t, "", processPattern(""))
	assert.Equal(t, "[a]pi", processPattern("[a]pi"))
	assert.Equal(t, "[ñ]api.py", processPattern("ñapi.py"))
	assert.Equal(t, "[服]务.py", processPattern("服务.py"))
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "''", shellQuote(""))
	assert.Equal(t, "'plain'", shellQuote("plain"))
	assert.Equal(t, `'a'"'"'b'`, shellQuote("a'b"))
}
