package util

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/sftp"
)

// TransferStats counts what an upload wrote to the server
type TransferStats struct {
	Files int
	Dirs  int
	Bytes int64
}

// Add accumulates another upload's counters.
func (s *TransferStats) Add(other TransferStats) {
	s.Files += other.Files
	s.Dirs += other.Dirs
	s.Bytes += other.Bytes
}

// UploadDir copies the contents of localDir into remoteDir, creating
// remoteDir and any subdirectories. Existing remote files are overwritten.
func UploadDir(client *sftp.Client, localDir, remoteDir string) (TransferStats, error) {
	var stats TransferStats

	info, err := os.Stat(localDir)
	if err != nil {
		return stats, fmt.Errorf("local directory %s: %w", localDir, err)
	}
	if !info.IsDir() {
		return stats, fmt.Errorf("local path %s is not a directory", localDir)
	}

	if err := client.MkdirAll(remoteDir); err != nil {
		return stats, fmt.Errorf("failed to create remote directory %s: %w", remoteDir, err)
	}

	err = filepath.WalkDir(localDir, func(localPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(localDir, localPath)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		remotePath := path.Join(remoteDir, filepath.ToSlash(rel))

		if d.IsDir() {
			if err := client.MkdirAll(remotePath); err != nil {
				return fmt.Errorf("failed to create remote directory %s: %w", remotePath, err)
			}
			stats.Dirs++
			return nil
		}

		// symlinks and other special files are not part of a build bundle
		if !d.Type().IsRegular() {
			return nil
		}

		n, err := copyFile(client, localPath, remotePath)
		if err != nil {
			return err
		}
		stats.Files++
		stats.Bytes += n
		return nil
	})
	if err != nil {
		return stats, err
	}

	return stats, nil
}

// UploadFile copies a single local file to remotePath, creating the parent directory.
func UploadFile(client *sftp.Client, localPath, remotePath string) (TransferStats, error) {
	var stats TransferStats

	if err := client.MkdirAll(path.Dir(remotePath)); err != nil {
		return stats, fmt.Errorf("failed to create remote directory %s: %w", path.Dir(remotePath), err)
	}

	n, err := copyFile(client, localPath, remotePath)
	if err != nil {
		return stats, err
	}
	stats.Files = 1
	stats.Bytes = n
	return stats, nil
}

func copyFile(client *sftp.Client, localPath, remotePath string) (int64, error) {
	src, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", localPath, err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("local path %s is a directory", localPath)
	}

	dst, err := client.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return 0, fmt.Errorf("failed to create remote file %s: %w", remotePath, err)
	}

	n, err := io.Copy(dst, src)
	if err != nil {
		dst.Close()
		return n, fmt.Errorf("failed to upload %s -> %s: %w", localPath, remotePath, err)
	}
	if err := dst.Close(); err != nil {
		return n, fmt.Errorf("failed to close remote file %s: %w", remotePath, err)
	}

	if err := client.Chmod(remotePath, info.Mode().Perm()); err != nil {
		return n, fmt.Errorf("failed to chmod %s: %w", remotePath, err)
	}
	return n, nil
}
