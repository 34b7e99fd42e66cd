package models

// SSHConfig holds configuration for the SSH connection to the target server
type SSHConfig struct {
	// Host address (IP or hostname)
	Host string `yaml:"host"`

	// Port number (default: 22)
	Port int `yaml:"port"`

	// Username for authentication (default: root)
	Username string `yaml:"username"`

	// Password-based authentication
	Password string `yaml:"password"`

	// Key-based authentication (path to private key file)
	PrivateKeyPath string `yaml:"private_key_path"`

	// Private key content (alternative to PrivateKeyPath)
	PrivateKey []byte `yaml:"-"`

	// Passphrase for encrypted private key (if applicable)
	KeyPassphrase string `yaml:"key_passphrase"`

	// known_hosts file used to verify the server key.
	// Empty accepts any host key.
	KnownHostsPath string `yaml:"known_hosts_path"`

	// Timeout in seconds for connection establishment
	Timeout int `yaml:"timeout"`
}

// DefaultSSHConfig returns the SSH defaults. Host and credentials have no default.
func DefaultSSHConfig() SSHConfig {
	return SSHConfig{
		Port:     22,
		Username: "root",
		Timeout:  30,
	}
}

// HasAuth reports whether a password or a private key is configured.
func (c SSHConfig) HasAuth() bool {
	return c.Password != "" || c.PrivateKeyPath != "" || len(c.PrivateKey) > 0
}
