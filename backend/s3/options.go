package s3

import (
	"crypto/md5"
	"encoding/base64"
	"net/http"
	"os"
	"strconv"

	"github.com/grokify/objectdal"
)

// Config holds configuration for the S3 backend.
type Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string

	// Region is the AWS region (e.g., "us-east-1").
	// If empty, uses AWS_REGION or AWS_DEFAULT_REGION environment variable.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible services.
	// Examples:
	//   - MinIO: "http://localhost:9000"
	//   - Cloudflare R2: "https://<account_id>.r2.cloudflarestorage.com"
	//   - Wasabi: "https://s3.wasabisys.com"
	// Leave empty for AWS S3.
	Endpoint string

	// Root is the prefix every key is stored under.
	Root string

	// AccessKeyID is the AWS access key ID.
	// If empty, uses AWS_ACCESS_KEY_ID environment variable or IAM role.
	AccessKeyID string

	// SecretAccessKey is the AWS secret access key.
	// If empty, uses AWS_SECRET_ACCESS_KEY environment variable or IAM role.
	SecretAccessKey string

	// SessionToken is an optional session token for temporary credentials.
	SessionToken string

	// UsePathStyle forces path-style addressing instead of virtual-hosted-style.
	// Required for some S3-compatible services like MinIO.
	UsePathStyle bool

	// ServerSideEncryption is "AES256" or "aws:kms". Empty leaves the
	// bucket default.
	ServerSideEncryption string

	// SSEKMSKeyID selects the KMS key when ServerSideEncryption is "aws:kms".
	SSEKMSKeyID string

	// SSECustomerKey enables SSE-C with this raw 32 byte key. It is sent
	// on every object request, reads included.
	SSECustomerKey string

	// Client overrides the HTTP client used by the SDK.
	Client *http.Client
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{Root: "/"}
}

// ConfigFromEnv creates a Config from environment variables.
// Environment variables:
//   - OBJECTDAL_S3_BUCKET or AWS_S3_BUCKET: bucket name
//   - OBJECTDAL_S3_REGION or AWS_REGION or AWS_DEFAULT_REGION: region
//   - OBJECTDAL_S3_ENDPOINT: custom endpoint
//   - OBJECTDAL_S3_ROOT: key prefix
//   - AWS_ACCESS_KEY_ID: access key
//   - AWS_SECRET_ACCESS_KEY: secret key
//   - AWS_SESSION_TOKEN: session token
//   - OBJECTDAL_S3_USE_PATH_STYLE: "true" for path-style addressing
//   - OBJECTDAL_S3_SSE: server side encryption
func ConfigFromEnv() Config {
	config := DefaultConfig()

	if v := os.Getenv("OBJECTDAL_S3_BUCKET"); v != "" {
		config.Bucket = v
	} else if v := os.Getenv("AWS_S3_BUCKET"); v != "" {
		config.Bucket = v
	}

	if v := os.Getenv("OBJECTDAL_S3_REGION"); v != "" {
		config.Region = v
	} else if v := os.Getenv("AWS_REGION"); v != "" {
		config.Region = v
	} else if v := os.Getenv("AWS_DEFAULT_REGION"); v != "" {
		config.Region = v
	}

	if v := os.Getenv("OBJECTDAL_S3_ENDPOINT"); v != "" {
		config.Endpoint = v
	}
	if v := os.Getenv("OBJECTDAL_S3_ROOT"); v != "" {
		config.Root = v
	}

	// Credentials from environment (AWS SDK will also pick these up)
	config.AccessKeyID = os.Getenv("AWS_ACCESS_KEY_ID")
	config.SecretAccessKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	config.SessionToken = os.Getenv("AWS_SESSION_TOKEN")

	config.UsePathStyle, _ = strconv.ParseBool(os.Getenv("OBJECTDAL_S3_USE_PATH_STYLE"))
	config.ServerSideEncryption = os.Getenv("OBJECTDAL_S3_SSE")
	return config
}

// ConfigFromMap creates a Config from a string map.
// Supported keys:
//   - bucket: bucket name (required)
//   - region: AWS region
//   - endpoint: custom endpoint URL
//   - root: key prefix
//   - access_key_id: AWS access key
//   - secret_access_key: AWS secret key
//   - session_token: session token
//   - use_path_style: "true" for path-style addressing
//   - server_side_encryption, sse_kms_key_id, sse_customer_key
func ConfigFromMap(m map[string]string) Config {
	config := DefaultConfig()

	if v, ok := m["bucket"]; ok {
		config.Bucket = v
	}
	if v, ok := m["region"]; ok {
		config.Region = v
	}
	if v, ok := m["endpoint"]; ok {
		config.Endpoint = v
	}
	if v, ok := m["root"]; ok {
		config.Root = v
	}
	if v, ok := m["access_key_id"]; ok {
		config.AccessKeyID = v
	}
	if v, ok := m["secret_access_key"]; ok {
		config.SecretAccessKey = v
	}
	if v, ok := m["session_token"]; ok {
		config.SessionToken = v
	}
	if v, ok := m["use_path_style"]; ok {
		config.UsePathStyle, _ = strconv.ParseBool(v)
	}
	config.ServerSideEncryption = m["server_side_encryption"]
	config.SSEKMSKeyID = m["sse_kms_key_id"]
	config.SSECustomerKey = m["sse_customer_key"]

	return config
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.Bucket == "" {
		return configError("bucket is empty")
	}
	switch c.ServerSideEncryption {
	case "", "AES256", "aws:kms":
	default:
		return configError("server side encryption must be AES256 or aws:kms")
	}
	if c.SSEKMSKeyID != "" && c.ServerSideEncryption != "aws:kms" {
		return configError("sse kms key id requires aws:kms encryption")
	}
	if c.SSECustomerKey != "" && len(c.SSECustomerKey) != 32 {
		return configError("sse customer key must be 32 bytes")
	}
	return nil
}

func configError(msg string) error {
	return objectdal.NewError(objectdal.ErrorKindBackendConfigInvalid, msg).
		WithContext("service", objectdal.SchemeS3)
}

// sseCustomer holds the SSE-C headers derived from the raw key.
type sseCustomer struct {
	algorithm string
	key       string
	keyMD5    string
}

func newSSECustomer(key string) *sseCustomer {
	if key == "" {
		return nil
	}
	sum := md5.Sum([]byte(key))
	return &sseCustomer{
		algorithm: "AES256",
		key:       base64.StdEncoding.EncodeToString([]byte(key)),
		keyMD5:    base64.StdEncoding.EncodeToString(sum[:]),
	}
}
