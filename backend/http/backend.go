// Package http provides a read-only backend over a plain HTTP server.
//
// Objects are fetched with GET (honoring Range) and described with HEAD.
// Listing is not served; wrap the operator with the immutable layer to
// list a known set of keys.
package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/grokify/mogo/log/slogutil"

	"github.com/grokify/objectdal"
	"github.com/grokify/objectdal/internal/httputil"
)

func init() {
	objectdal.Register(objectdal.SchemeHTTP, NewFromConfig)
}

// Config holds configuration for the http backend.
type Config struct {
	// Endpoint is the base URL, for example "https://example.com/files".
	Endpoint string

	// Root is prefixed to every path.
	Root string

	// Username and Password enable basic auth when Username is set.
	Username string
	Password string

	// Token enables bearer auth. It wins over basic auth.
	Token string

	// Client overrides the HTTP client. Default: a pooled client.
	Client *http.Client

	// Logger receives debug records from the builder. Default: discard.
	Logger *slog.Logger
}

// ConfigFromMap creates a Config from a string map.
// Supported keys: endpoint, root, username, password, token.
func ConfigFromMap(m map[string]string) Config {
	return Config{
		Endpoint: m["endpoint"],
		Root:     m["root"],
		Username: m["username"],
		Password: m["password"],
		Token:    m["token"],
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return objectdal.NewError(objectdal.ErrorKindBackendConfigInvalid, "endpoint is empty").
			WithContext("service", objectdal.SchemeHTTP)
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return objectdal.NewError(objectdal.ErrorKindBackendConfigInvalid, "endpoint is invalid").
			WithContext("service", objectdal.SchemeHTTP).
			WithContext("endpoint", c.Endpoint).
			WithSource(err)
	}
	return nil
}

// Backend is a read-only Accessor over HTTP.
type Backend struct {
	objectdal.UnimplementedAccessor

	config   Config
	endpoint string
	root     string
	client   *http.Client
}

// New validates cfg and returns the backend.
func New(cfg Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := cfg.Client
	if client == nil {
		client = httputil.NewClient()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slogutil.Null()
	}
	b := &Backend{
		config:   cfg,
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		root:     objectdal.NormalizeRoot(cfg.Root),
		client:   client,
	}
	logger.Debug("http backend ready",
		slog.String("endpoint", b.endpoint),
		slog.String("root", b.root))
	return b, nil
}

// NewFromConfig creates an http backend from a config map.
func NewFromConfig(m map[string]string) (objectdal.Accessor, error) {
	return New(ConfigFromMap(m))
}

// Metadata describes the backend.
func (b *Backend) Metadata() objectdal.AccessorMetadata {
	return objectdal.AccessorMetadata{
		Scheme:       objectdal.SchemeHTTP,
		Root:         b.root,
		Name:         b.endpoint,
		Capabilities: objectdal.CapabilityRead,
		Hints:        objectdal.HintReadIsStreamable,
	}
}

// Read fetches the selected range of p.
func (b *Backend) Read(ctx context.Context, p string, args objectdal.OpRead) (objectdal.RpRead, io.ReadCloser, error) {
	if args.Range.IsEmpty() {
		return objectdal.EmptyRead(ctx, b, p)
	}
	req, err := b.request(ctx, http.MethodGet, p)
	if err != nil {
		return objectdal.RpRead{}, nil, err
	}
	if err := httputil.RangeHeader(req, args.Range); err != nil {
		return objectdal.RpRead{}, nil, objectdal.AsError(err).WithOperation(objectdal.OperationRead).WithContext("path", p)
	}

	resp, err := httputil.Send(b.client, req, objectdal.OperationRead, objectdal.SchemeHTTP, p)
	if err != nil {
		return objectdal.RpRead{}, nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
		meta, err := httputil.ParseMetadata(resp.Header, objectdal.ObjectModeFile)
		if err != nil {
			httputil.Drain(resp.Body)
			return objectdal.RpRead{}, nil, objectdal.AsError(err).
				WithOperation(objectdal.OperationRead).WithContext("path", p)
		}
		return objectdal.RpRead{Metadata: meta}, resp.Body, nil
	default:
		return objectdal.RpRead{}, nil, httputil.ParseError(resp, objectdal.OperationRead, objectdal.SchemeHTTP, p)
	}
}

// Stat sends HEAD for p. The root and any 404 on a directory path are
// reported as directories.
func (b *Backend) Stat(ctx context.Context, p string, _ objectdal.OpStat) (objectdal.ObjectMetadata, error) {
	if p == "/" {
		return objectdal.NewObjectMetadata(objectdal.ObjectModeDir), nil
	}
	req, err := b.request(ctx, http.MethodHead, p)
	if err != nil {
		return objectdal.ObjectMetadata{}, err
	}
	resp, err := httputil.Send(b.client, req, objectdal.OperationStat, objectdal.SchemeHTTP, p)
	if err != nil {
		return objectdal.ObjectMetadata{}, err
	}
	mode := objectdal.ModeOfPath(p)
	switch {
	case resp.StatusCode == http.StatusOK:
		httputil.Drain(resp.Body)
		meta, err := httputil.ParseMetadata(resp.Header, mode)
		if err != nil {
			return objectdal.ObjectMetadata{}, objectdal.AsError(err).
				WithOperation(objectdal.OperationStat).WithContext("path", p)
		}
		return meta, nil
	case resp.StatusCode == http.StatusNotFound && mode.IsDir():
		httputil.Drain(resp.Body)
		return objectdal.NewObjectMetadata(objectdal.ObjectModeDir), nil
	default:
		return objectdal.ObjectMetadata{}, httputil.ParseError(resp, objectdal.OperationStat, objectdal.SchemeHTTP, p)
	}
}

func (b *Backend) request(ctx context.Context, method, p string) (*http.Request, error) {
	u := b.endpoint + "/" + httputil.EncodePath(objectdal.BuildAbsPath(b.root, p))
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, objectdal.NewError(objectdal.ErrorKindUnexpected, "build http request").
			WithContext("service", objectdal.SchemeHTTP).WithContext("path", p).WithSource(err)
	}
	switch {
	case b.config.Token != "":
		req.Header.Set("Authorization", "Bearer "+b.config.Token)
	case b.config.Username != "":
		req.SetBasicAuth(b.config.Username, b.config.Password)
	}
	return req, nil
}

var _ objectdal.Accessor = (*Backend)(nil)
