// Package util provides the SSH, SFTP, build and RabbitMQ clients used by the
// deployment runbook.
//
// Example usage:
//
//	config := &models.SSHConfig{
//		Host:     "example.com",
//		Port:     22,
//		Username: "root",
//		Password: "password",
//	}
//
//	client := util.NewSSHClient(config, logger)
//	defer client.Close()
//
//	ctx := context.Background()
//	if err := client.Connect(ctx); err != nil {
//		log.Fatal(err)
//	}
//
//	res, err := client.Run(ctx, "ls -la")
package util

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/pershinghar/pwa-deploy/pkg/models"
)

// CommandResult is the outcome of one remote command
type CommandResult struct {
	Command  string
	Output   string
	ExitCode int
	Duration time.Duration
}

// OK reports whether the command exited with status 0.
func (r CommandResult) OK() bool {
	return r.ExitCode == 0
}

// SSHClient represents an SSH connection to the deployment target
type SSHClient struct {
	config   *models.SSHConfig
	client   *ssh.Client
	sftp     *sftp.Client
	log      logrus.FieldLogger
	isClosed bool
	mu       sync.Mutex
}

// NewSSHClient creates a new SSH client instance
func NewSSHClient(config *models.SSHConfig, logger logrus.FieldLogger) *SSHClient {
	// Set default port if not specified
	if config.Port == 0 {
		config.Port = 22
	}

	// Set default timeout if not specified
	if config.Timeout == 0 {
		config.Timeout = 30
	}

	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &SSHClient{
		config: config,
		log:    logger.WithField("host", config.Host),
	}
}

// Address returns host:port of the target.
func (c *SSHClient) Address() string {
	return net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))
}

// Connect establishes an SSH connection to the remote host
func (c *SSHClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed {
		return fmt.Errorf("client is closed")
	}
	if c.client != nil {
		return nil
	}

	sshConfig, err := c.prepareSSHConfig()
	if err != nil {
		return fmt.Errorf("failed to prepare SSH config: %w", err)
	}

	// Create connection with timeout
	address := c.Address()
	dialer := net.Dialer{
		Timeout: time.Duration(c.config.Timeout) * time.Second,
	}

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", address, err)
	}

	// Perform SSH handshake. NewClientConn ignores sshConfig.Timeout, so bound
	// it with a deadline and close the socket if ctx ends first.
	if sshConfig.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(sshConfig.Timeout))
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, sshConfig)
	interrupted := !stop()
	if err != nil {
		conn.Close()
		if interrupted {
			return fmt.Errorf("failed to establish SSH connection: %w", ctx.Err())
		}
		return fmt.Errorf("failed to establish SSH connection: %w", err)
	}
	if interrupted {
		sshConn.Close()
		return fmt.Errorf("failed to establish SSH connection: %w", ctx.Err())
	}
	_ = conn.SetDeadline(time.Time{})

	c.client = ssh.NewClient(sshConn, chans, reqs)
	c.log.WithField("server_version", string(sshConn.ServerVersion())).Debug("SSH connection established")
	return nil
}

// prepareSSHConfig prepares the SSH client configuration
func (c *SSHClient) prepareSSHConfig() (*ssh.ClientConfig, error) {
	hostKeyCallback, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            c.config.Username,
		HostKeyCallback: hostKeyCallback,
		Timeout:         time.Duration(c.config.Timeout) * time.Second,
	}

	// Try key-based authentication first
	if c.config.PrivateKeyPath != "" || len(c.config.PrivateKey) > 0 {
		var signer ssh.Signer

		if c.config.PrivateKeyPath != "" {
			key, err := loadPrivateKeyFromFile(c.config.PrivateKeyPath, c.config.KeyPassphrase)
			if err != nil {
				return nil, fmt.Errorf("failed to load private key from file: %w", err)
			}
			signer = key
		} else {
			key, err := loadPrivateKeyFromBytes(c.config.PrivateKey, c.config.KeyPassphrase)
			if err != nil {
				return nil, fmt.Errorf("failed to load private key from bytes: %w", err)
			}
			signer = key
		}

		config.Auth = append(config.Auth, ssh.PublicKeys(signer))
	}

	// Password is offered after the key, if both are set
	if c.config.Password != "" {
		config.Auth = append(config.Auth, ssh.Password(c.config.Password))
	}

	if len(config.Auth) == 0 {
		return nil, fmt.Errorf("no authentication method provided (need password or private key)")
	}

	return config, nil
}

func (c *SSHClient) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.config.KnownHostsPath == "" {
		c.log.Warn("known_hosts_path not set, accepting any host key")
		return ssh.InsecureIgnoreHostKey(), nil
	}
	callback, err := knownhosts.New(c.config.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts %s: %w", c.config.KnownHostsPath, err)
	}
	return callback, nil
}

// Run executes a command in a new session and waits for it to finish.
// A non-zero exit status is reported in the result, not as an error.
func (c *SSHClient) Run(ctx context.Context, command string) (CommandResult, error) {
	result := CommandResult{Command: command}

	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return result, fmt.Errorf("not connected: call Connect() first")
	}

	session, err := client.NewSession()
	if err != nil {
		return result, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	var output lockedBuffer
	session.Stdout = &output
	session.Stderr = &output

	start := time.Now()
	if err := session.Start(command); err != nil {
		return result, fmt.Errorf("failed to start command: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		session.Close()
		return result, ctx.Err()
	}

	result.Duration = time.Since(start)
	result.Output = output.String()

	var exitErr *ssh.ExitError
	var missingErr *ssh.ExitMissingError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitStatus()
	case errors.As(err, &missingErr):
		result.ExitCode = -1
	default:
		return result, fmt.Errorf("command failed: %w", err)
	}

	c.log.WithFields(logrus.Fields{
		"exit_code": result.ExitCode,
		"duration":  result.Duration.Round(time.Millisecond),
	}).Debugf("Command completed: %s", command)
	return result, nil
}

// SFTP returns an SFTP client sharing this connection. It is created on first use.
func (c *SSHClient) SFTP() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil, fmt.Errorf("not connected: call Connect() first")
	}
	if c.sftp != nil {
		return c.sftp, nil
	}

	client, err := sftp.NewClient(c.client)
	if err != nil {
		return nil, fmt.Errorf("failed to start sftp subsystem: %w", err)
	}
	c.sftp = client
	return client, nil
}

// Close closes the SSH connection and cleans up resources
func (c *SSHClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed {
		return nil
	}

	var errs []error

	if c.sftp != nil {
		if err := c.sftp.Close(); err != nil && !errors.Is(err, io.EOF) {
			errs = append(errs, err)
		}
	}

	if c.client != nil {
		if err := c.client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}

	c.isClosed = true

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %w", errors.Join(errs...))
	}

	return nil
}

// IsConnected returns true if the client is connected
func (c *SSHClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil && !c.isClosed
}

// lockedBuffer lets stdout and stderr share one buffer.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Helper functions for loading private keys

func loadPrivateKeyFromFile(path, passphrase string) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return loadPrivateKeyFromBytes(key, passphrase)
}

func loadPrivateKeyFromBytes(key []byte, passphrase string) (ssh.Signer, error) {
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
	}
	return ssh.ParsePrivateKey(key)
}
