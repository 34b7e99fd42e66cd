package deploy

import (
	"path"
	"strings"
	"unicode/utf8"

	"github.com/pershinghar/pwa-deploy/pkg/models"
)

// Plan returns the remote commands that install the uploaded artifacts and
// restart the backend, in execution order.
func Plan(cfg *models.DeployConfig) []string {
	fe := cfg.Frontend
	be := cfg.Backend

	commands := []string{
		// frontend
		"mkdir -p " + shellQuote(fe.WebRoot),
		"cp -r " + shellQuote(path.Clean(fe.RemoteTmp)+"/.") + " " + shellQuote(path.Clean(fe.WebRoot)+"/"),
		"chmod -R " + fe.Mode + " " + shellQuote(fe.WebRoot),

		// backend
		"mkdir -p " + shellQuote(be.RemoteDir),
		"cp " + shellQuote(be.RemoteTmp) + " " + shellQuote(be.RemoteFile()),
	}

	if len(be.Packages) > 0 {
		commands = append(commands, be.PipCommand+" install "+joinQuoted(be.Packages))
	}

	commands = append(commands,
		// restart
		"pkill -f "+shellQuote(processPattern(be.ProcessName()))+" || true",
		"nohup "+be.Interpreter+" "+shellQuote(be.RemoteFile())+" > "+shellQuote(be.LogFile())+" 2>&1 &",

		// cleanup
		"rm -rf "+shellQuote(fe.RemoteTmp)+" "+shellQuote(be.RemoteTmp),
	)

	return commands
}

// ProcessCheckCommand lists running backend processes. Output is empty when
// the backend is not running.
func ProcessCheckCommand(be models.BackendConfig) string {
	return "ps -ef | grep " + shellQuote(processPattern(be.ProcessName())) + " || true"
}

// LogCommand prints the backend log.
func LogCommand(be models.BackendConfig) string {
	return "cat " + shellQuote(be.LogFile())
}

// processPattern turns api_server.py into [a]pi_server.py. The bracket
// expression still matches the process, but not the shell or grep whose own
// command line carries the pattern.
func processPattern(name string) string {
	if name == "" || strings.HasPrefix(name, "[") {
		return name
	}
	_, size := utf8.DecodeRuneInString(name)
	return "[" + name[:size] + "]" + name[size:]
}

func joinQuoted(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = shellQuote(v)
	}
	return strings.Join(quoted, " ")
}

func shellQuote(value string) string {
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}
