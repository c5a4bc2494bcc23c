package ftp

import (
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/grokify/objectdal"
)

// Config holds configuration for the FTP backend.
type Config struct {
	// Endpoint is the server address: "ftp://host[:port]" or
	// "ftps://host[:port]" for explicit TLS. A bare "host:port" means ftp.
	Endpoint string

	// Root is the base directory on the server.
	Root string

	// User and Password log in. An empty user logs in as anonymous.
	User     string
	Password string

	// Timeout bounds dialing and each command. Default: 30s.
	Timeout time.Duration

	// PoolSize is the number of idle control connections kept. Default: 4.
	PoolSize int

	// Logger receives debug records. Default: discard.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Root:     "/",
		Timeout:  30 * time.Second,
		PoolSize: 4,
	}
}

// ConfigFromEnv creates a Config from OBJECTDAL_FTP_* variables:
// ENDPOINT, ROOT, USER, PASSWORD.
func ConfigFromEnv() Config {
	config := DefaultConfig()
	if v := os.Getenv("OBJECTDAL_FTP_ENDPOINT"); v != "" {
		config.Endpoint = v
	}
	if v := os.Getenv("OBJECTDAL_FTP_ROOT"); v != "" {
		config.Root = v
	}
	config.User = os.Getenv("OBJECTDAL_FTP_USER")
	config.Password = os.Getenv("OBJECTDAL_FTP_PASSWORD")
	return config
}

// ConfigFromMap creates a Config from a string map.
// Supported keys: endpoint, root, user, password, timeout (seconds), pool_size.
func ConfigFromMap(m map[string]string) Config {
	config := DefaultConfig()
	if v, ok := m["endpoint"]; ok {
		config.Endpoint = v
	}
	if v, ok := m["root"]; ok {
		config.Root = v
	}
	if v, ok := m["user"]; ok {
		config.User = v
	}
	if v, ok := m["password"]; ok {
		config.Password = v
	}
	if v, ok := m["timeout"]; ok {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			config.Timeout = time.Duration(secs) * time.Second
		}
	}
	if v, ok := m["pool_size"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.PoolSize = n
		}
	}
	return config
}

// Validate checks the endpoint.
func (c Config) Validate() error {
	_, _, err := c.address()
	return err
}

// address returns host:port and whether explicit TLS is requested.
func (c Config) address() (addr string, secure bool, err error) {
	if c.Endpoint == "" {
		return "", false, configError("endpoint is empty", nil)
	}
	raw := c.Endpoint
	if !strings.Contains(raw, "://") {
		raw = "ftp://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, configError("endpoint is invalid", err)
	}
	switch u.Scheme {
	case "ftp":
	case "ftps":
		secure = true
	default:
		return "", false, configError("endpoint scheme must be ftp or ftps", nil).
			WithContext("scheme", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", false, configError("endpoint has no host", nil)
	}
	port := u.Port()
	if port == "" {
		port = "21"
	}
	return u.Hostname() + ":" + port, secure, nil
}

func configError(msg string, err error) *objectdal.Error {
	return objectdal.NewError(objectdal.ErrorKindBackendConfigInvalid, msg).
		WithContext("service", objectdal.SchemeFtp).WithSource(err)
}
