package sftp

import (
	"log/slog"
	"os"
	"strconv"

	"github.com/grokify/objectdal"
)

// Config holds configuration for the SFTP backend.
type Config struct {
	// Host is the SFTP server hostname or IP address (required).
	Host string

	// Port is the SSH port. Default: 22.
	Port int

	// User is the SSH username (required).
	User string

	// Password is the SSH password.
	// Either Password or KeyFile must be provided.
	Password string

	// KeyFile is the path to an SSH private key file.
	// Either Password or KeyFile must be provided.
	KeyFile string

	// KeyPassphrase is the passphrase for encrypted private keys.
	KeyPassphrase string

	// Root is the base directory on the remote server.
	// All paths are relative to this directory. A relative root is
	// resolved against the login directory.
	Root string

	// KnownHostsFile is the path to the known_hosts file.
	// If empty, host key verification is disabled (insecure).
	KnownHostsFile string

	// Timeout is the connection timeout in seconds.
	// Default: 30.
	Timeout int

	// Logger receives debug records from the builder. Default: discard.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Port:    22,
		Timeout: 30,
	}
}

// ConfigFromEnv creates a Config from environment variables.
// Environment variables:
//   - OBJECTDAL_SFTP_HOST: server hostname
//   - OBJECTDAL_SFTP_PORT: SSH port (default: 22)
//   - OBJECTDAL_SFTP_USER: username
//   - OBJECTDAL_SFTP_PASSWORD: password
//   - OBJECTDAL_SFTP_KEY_FILE: path to private key
//   - OBJECTDAL_SFTP_KEY_PASSPHRASE: passphrase for encrypted key
//   - OBJECTDAL_SFTP_ROOT: base directory
//   - OBJECTDAL_SFTP_KNOWN_HOSTS: path to known_hosts file
//   - OBJECTDAL_SFTP_TIMEOUT: connection timeout in seconds
func ConfigFromEnv() Config {
	config := DefaultConfig()

	if v := os.Getenv("OBJECTDAL_SFTP_HOST"); v != "" {
		config.Host = v
	}
	if v := os.Getenv("OBJECTDAL_SFTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			config.Port = port
		}
	}
	if v := os.Getenv("OBJECTDAL_SFTP_USER"); v != "" {
		config.User = v
	}
	if v := os.Getenv("OBJECTDAL_SFTP_PASSWORD"); v != "" {
		config.Password = v
	}
	if v := os.Getenv("OBJECTDAL_SFTP_KEY_FILE"); v != "" {
		config.KeyFile = v
	}
	if v := os.Getenv("OBJECTDAL_SFTP_KEY_PASSPHRASE"); v != "" {
		config.KeyPassphrase = v
	}
	if v := os.Getenv("OBJECTDAL_SFTP_ROOT"); v != "" {
		config.Root = v
	}
	if v := os.Getenv("OBJECTDAL_SFTP_KNOWN_HOSTS"); v != "" {
		config.KnownHostsFile = v
	}
	if v := os.Getenv("OBJECTDAL_SFTP_TIMEOUT"); v != "" {
		if timeout, err := strconv.Atoi(v); err == nil && timeout > 0 {
			config.Timeout = timeout
		}
	}

	return config
}

// ConfigFromMap creates a Config from a string map.
// Supported keys:
//   - host: server hostname (required)
//   - port: SSH port (default: 22)
//   - user: username (required)
//   - pass or password: password
//   - key_file: path to private key
//   - key_passphrase: passphrase for encrypted key
//   - root: base directory
//   - known_hosts: path to known_hosts file
//   - timeout: connection timeout in seconds
func ConfigFromMap(m map[string]string) Config {
	config := DefaultConfig()

	if v, ok := m["host"]; ok {
		config.Host = v
	}
	if v, ok := m["port"]; ok {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			config.Port = port
		}
	}
	if v, ok := m["user"]; ok {
		config.User = v
	}
	if v, ok := m["pass"]; ok {
		config.Password = v
	}
	if v, ok := m["password"]; ok {
		config.Password = v
	}
	if v, ok := m["key_file"]; ok {
		config.KeyFile = v
	}
	if v, ok := m["key_passphrase"]; ok {
		config.KeyPassphrase = v
	}
	if v, ok := m["root"]; ok {
		config.Root = v
	}
	if v, ok := m["known_hosts"]; ok {
		config.KnownHostsFile = v
	}
	if v, ok := m["timeout"]; ok {
		if timeout, err := strconv.Atoi(v); err == nil && timeout > 0 {
			config.Timeout = timeout
		}
	}
	return config
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.Host == "" {
		return configError("host is empty", nil)
	}
	if c.User == "" {
		return configError("user is empty", nil)
	}
	if c.Password == "" && c.KeyFile == "" {
		return configError("no authentication method provided (password or key_file required)", nil)
	}
	return nil
}

func configError(msg string, err error) error {
	return objectdal.NewError(objectdal.ErrorKindBackendConfigInvalid, msg).
		WithContext("service", objectdal.SchemeSftp).WithSource(err)
}
