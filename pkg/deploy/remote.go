package deploy

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/pershinghar/pwa-deploy/pkg/models"
	"github.com/pershinghar/pwa-deploy/pkg/util"
)

// Builder produces the local frontend bundle
type Builder interface {
	Build(ctx context.Context) error
}

// Remote is the server side of a deployment
type Remote interface {
	Connect(ctx context.Context) error
	Run(ctx context.Context, command string) (util.CommandResult, error)
	UploadDir(ctx context.Context, localDir, remoteDir string) (util.TransferStats, error)
	UploadFile(ctx context.Context, localPath, remotePath string) (util.TransferStats, error)
	Close() error
}

// SSHRemote implements Remote with an SSH connection and SFTP transfers
type SSHRemote struct {
	*util.SSHClient
}

// NewSSHRemote returns a Remote for the configured host. It does not connect.
func NewSSHRemote(cfg *models.SSHConfig, logger logrus.FieldLogger) *SSHRemote {
	return &SSHRemote{SSHClient: util.NewSSHClient(cfg, logger)}
}

func (r *SSHRemote) UploadDir(ctx context.Context, localDir, remoteDir string) (util.TransferStats, error) {
	if err := ctx.Err(); err != nil {
		return util.TransferStats{}, err
	}
	client, err := r.SFTP()
	if err != nil {
		return util.TransferStats{}, err
	}
	return util.UploadDir(client, localDir, remoteDir)
}

func (r *SSHRemote) UploadFile(ctx context.Context, localPath, remotePath string) (util.TransferStats, error) {
	if err := ctx.Err(); err != nil {
		return util.TransferStats{}, err
	}
	client, err := r.SFTP()
	if err != nil {
		return util.TransferStats{}, err
	}
	return util.UploadFile(client, localPath, remotePath)
}
