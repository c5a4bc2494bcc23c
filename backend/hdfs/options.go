package hdfs

import (
	"log/slog"
	"os"
	"strings"

	"github.com/grokify/objectdal"
)

// Config holds configuration for the HDFS backend.
type Config struct {
	// NameNode is a comma separated list of namenode addresses, host:port.
	NameNode string

	// Root is the base directory. It must be absolute.
	Root string

	// User is the HDFS user. Default: the current OS user.
	User string

	// UseDatanodeHostname dials datanodes by hostname instead of IP.
	UseDatanodeHostname bool

	// Logger receives debug records. Default: discard.
	Logger *slog.Logger
}

// ConfigFromEnv creates a Config from OBJECTDAL_HDFS_NAME_NODE,
// OBJECTDAL_HDFS_ROOT and OBJECTDAL_HDFS_USER.
func ConfigFromEnv() Config {
	return Config{
		NameNode: os.Getenv("OBJECTDAL_HDFS_NAME_NODE"),
		Root:     os.Getenv("OBJECTDAL_HDFS_ROOT"),
		User:     os.Getenv("OBJECTDAL_HDFS_USER"),
	}
}

// ConfigFromMap creates a Config from a string map.
// Supported keys: name_node, root, user, use_datanode_hostname.
func ConfigFromMap(m map[string]string) Config {
	return Config{
		NameNode:            m["name_node"],
		Root:                m["root"],
		User:                m["user"],
		UseDatanodeHostname: m["use_datanode_hostname"] == "true",
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if len(c.addresses()) == 0 {
		return configError("name_node is empty")
	}
	if c.Root != "" && !strings.HasPrefix(c.Root, "/") {
		return configError("root must be absolute").WithContext("root", c.Root)
	}
	return nil
}

func (c Config) addresses() []string {
	var out []string
	for _, a := range strings.Split(c.NameNode, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func configError(msg string) *objectdal.Error {
	return objectdal.NewError(objectdal.ErrorKindBackendConfigInvalid, msg).
		WithContext("service", objectdal.SchemeHdfs)
}
