// Package ghac provides a backend over the GitHub Actions cache service.
//
// It only works inside a workflow run, where the runner exports the cache
// URL and token. Each object is a cache entry keyed by its absolute path and
// a version string; entries are immutable once committed.
//
// Writes follow the service's three steps: reserve an entry, upload the
// bytes, commit. Reads query the entry for its archive location and fetch
// the bytes from there.
package ghac

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/grokify/mogo/log/slogutil"

	"github.com/grokify/objectdal"
	"github.com/grokify/objectdal/internal/httputil"
)

func init() {
	objectdal.Register(objectdal.SchemeGhac, NewFromConfig)
}

const (
	cacheURLBase      = "_apis/artifactcache"
	cacheHeaderAccept = "application/json;api-version=6.0-preview.1"
	githubAPIVersion  = "2022-11-28"

	defaultAPIURL  = "https://api.github.com"
	defaultVersion = "objectdal"
)

// sentinel is the body stored for an empty file, since the service rejects
// zero byte uploads.
var sentinel = []byte{0}

// Environment variables set by the Actions runner.
const (
	EnvCacheURL     = "ACTIONS_CACHE_URL"
	EnvRuntimeToken = "ACTIONS_RUNTIME_TOKEN"
	EnvGithubToken  = "GITHUB_TOKEN"
	EnvAPIURL       = "GITHUB_API_URL"
	EnvRepository   = "GITHUB_REPOSITORY"
)

// Config holds configuration for the ghac backend.
type Config struct {
	// Root is prefixed to every cache key.
	Root string

	// Version scopes cache entries. Default: "objectdal".
	Version string

	// EnableCreateSimulation stores empty files as a one byte sentinel,
	// since the service refuses empty uploads. Stat then reports objects
	// of length 1 as empty.
	EnableCreateSimulation bool

	// CacheURL and RuntimeToken address the cache service. Required.
	CacheURL     string
	RuntimeToken string

	// APIURL, APIToken and Repository address the REST API, used only by
	// Delete. Without APIToken Delete is denied.
	APIURL     string
	APIToken   string
	Repository string

	// Client overrides the HTTP client. Default: a pooled client.
	Client *http.Client

	// Logger receives debug records from the builder. Default: discard.
	Logger *slog.Logger
}

// ConfigFromEnv creates a Config from the variables the runner exports.
func ConfigFromEnv() Config {
	cfg := Config{
		Version:      defaultVersion,
		CacheURL:     os.Getenv(EnvCacheURL),
		RuntimeToken: os.Getenv(EnvRuntimeToken),
		APIURL:       os.Getenv(EnvAPIURL),
		APIToken:     os.Getenv(EnvGithubToken),
		Repository:   os.Getenv(EnvRepository),
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	return cfg
}

// ConfigFromMap creates a Config from the environment and a string map.
// Supported keys: root, version, enable_create_simulation.
func ConfigFromMap(m map[string]string) Config {
	cfg := ConfigFromEnv()
	cfg.Root = m["root"]
	if v := m["version"]; v != "" {
		cfg.Version = v
	}
	if v := m["enable_create_simulation"]; v != "" {
		cfg.EnableCreateSimulation, _ = strconv.ParseBool(v)
	}
	return cfg
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.CacheURL == "" {
		return configError(EnvCacheURL + " not found, maybe not in github action environment?")
	}
	if c.RuntimeToken == "" {
		return configError(EnvRuntimeToken + " not found, maybe not in github action environment?")
	}
	return nil
}

func configError(msg string) error {
	return objectdal.NewError(objectdal.ErrorKindBackendConfigInvalid, msg).
		WithContext("service", objectdal.SchemeGhac)
}

// Backend is an Accessor over the Actions cache.
type Backend struct {
	objectdal.UnimplementedAccessor

	config   Config
	root     string
	cacheURL string
	client   *http.Client
}

// New validates cfg and returns the backend.
func New(cfg Config) (*Backend, error) {
	if cfg.Version == "" {
		cfg.Version = defaultVersion
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Backend{
		config:   cfg,
		root:     objectdal.NormalizeRoot(cfg.Root),
		cacheURL: strings.TrimSuffix(cfg.CacheURL, "/") + "/",
		client:   cfg.Client,
	}
	if b.client == nil {
		b.client = httputil.NewClient()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slogutil.Null()
	}
	logger.Debug("ghac backend ready",
		slog.String("root", b.root),
		slog.String("version", cfg.Version),
		slog.Bool("create_simulation", cfg.EnableCreateSimulation))
	return b, nil
}

// NewFromConfig creates a ghac backend from the environment and a config map.
func NewFromConfig(m map[string]string) (objectdal.Accessor, error) {
	return New(ConfigFromMap(m))
}

// Metadata describes the backend.
func (b *Backend) Metadata() objectdal.AccessorMetadata {
	return objectdal.AccessorMetadata{
		Scheme:       objectdal.SchemeGhac,
		Root:         b.root,
		Name:         b.config.Version,
		Capabilities: objectdal.CapabilityRead | objectdal.CapabilityWrite,
		Hints:        objectdal.HintReadIsStreamable,
	}
}

// Create stores an empty file through the sentinel when simulation is on.
// Directories need no entry. An entry that already exists is left alone.
func (b *Backend) Create(ctx context.Context, p string, _ objectdal.OpCreate) error {
	if objectdal.ModeOfPath(p).IsDir() {
		return nil
	}
	if !b.config.EnableCreateSimulation {
		return objectdal.NewError(objectdal.ErrorKindUnsupported, "ghac service doesn't support create empty file").
			WithOperation(objectdal.OperationCreate).WithContext("service", objectdal.SchemeGhac).
			WithContext("path", p)
	}
	err := b.upload(ctx, objectdal.OperationCreate, p, bytes.NewReader(sentinel), 1)
	if objectdal.KindOf(err) == objectdal.ErrorKindObjectAlreadyExists {
		return nil
	}
	return err
}

// Read queries the entry and fetches the selected range from its archive.
// Suffix ranges are unsupported.
func (b *Backend) Read(ctx context.Context, p string, args objectdal.OpRead) (objectdal.RpRead, io.ReadCloser, error) {
	if args.Range.IsEmpty() {
		return objectdal.EmptyRead(ctx, b, p)
	}
	if args.Range.IsSuffix() {
		return objectdal.RpRead{}, nil, objectdal.NewError(objectdal.ErrorKindUnsupported, "ghac doesn't support read with suffix range").
			WithOperation(objectdal.OperationRead).WithContext("service", objectdal.SchemeGhac).
			WithContext("path", p).WithContext("range", args.Range)
	}
	location, err := b.query(ctx, objectdal.OperationRead, p)
	if err != nil {
		return objectdal.RpRead{}, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return objectdal.RpRead{}, nil, buildError(objectdal.OperationRead, p, err)
	}
	if err := httputil.RangeHeader(req, args.Range); err != nil {
		return objectdal.RpRead{}, nil, objectdal.AsError(err).WithOperation(objectdal.OperationRead).WithContext("path", p)
	}
	resp, err := httputil.Send(b.client, req, objectdal.OperationRead, objectdal.SchemeGhac, p)
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
		if b.config.EnableCreateSimulation && args.Range.IsFull() && meta.ContentLengthRaw == 1 {
			return readSentinel(resp.Body, meta, p)
		}
		return objectdal.RpRead{Metadata: meta}, resp.Body, nil
	default:
		return objectdal.RpRead{}, nil, httputil.ParseError(resp, objectdal.OperationRead, objectdal.SchemeGhac, p)
	}
}

// readSentinel buffers a one byte body. The 0x00 sentinel left by Create
// reads back as an empty file; any other byte is returned as stored. A real
// object holding the single byte 0x00 is indistinguishable from the
// sentinel while simulation is on.
func readSentinel(body io.ReadCloser, meta objectdal.ObjectMetadata, p string) (objectdal.RpRead, io.ReadCloser, error) {
	data, err := io.ReadAll(io.LimitReader(body, 2))
	httputil.Drain(body)
	if err != nil {
		return objectdal.RpRead{}, nil, objectdal.NewError(objectdal.ErrorKindUnexpected, "read body failed").
			WithOperation(objectdal.OperationRead).WithContext("service", objectdal.SchemeGhac).
			WithContext("path", p).WithSource(err).SetTemporary()
	}
	if bytes.Equal(data, sentinel) {
		data = nil
	}
	meta.ContentLength = int64(len(data))
	return objectdal.RpRead{Metadata: meta}, io.NopCloser(bytes.NewReader(data)), nil
}

// Write reserves, uploads and commits one entry. Bodies of unknown size are
// buffered since the reservation needs the size. An existing entry fails
// with ErrorKindObjectAlreadyExists.
func (b *Backend) Write(ctx context.Context, p string, args objectdal.OpWrite, r io.Reader) (objectdal.RpWrite, error) {
	if objectdal.ModeOfPath(p).IsDir() {
		return objectdal.RpWrite{}, objectdal.NewError(objectdal.ErrorKindObjectIsADirectory, "write requires a file path").
			WithOperation(objectdal.OperationWrite).WithContext("service", objectdal.SchemeGhac).WithContext("path", p)
	}
	body, size, err := httputil.SizedBody(r, args.Size)
	if err != nil {
		return objectdal.RpWrite{}, objectdal.AsError(err).
			WithOperation(objectdal.OperationWrite).WithContext("path", p)
	}
	if size == 0 {
		if err := b.Create(ctx, p, objectdal.OpCreate{Mode: objectdal.ObjectModeFile}); err != nil {
			return objectdal.RpWrite{}, objectdal.AsError(err).WithOperation(objectdal.OperationWrite)
		}
		return objectdal.RpWrite{}, nil
	}
	if err := b.upload(ctx, objectdal.OperationWrite, p, body, size); err != nil {
		return objectdal.RpWrite{}, err
	}
	return objectdal.RpWrite{Written: size}, nil
}

// Stat queries the entry and heads its archive. With simulation on, a one
// byte object reports a length of 0.
func (b *Backend) Stat(ctx context.Context, p string, _ objectdal.OpStat) (objectdal.ObjectMetadata, error) {
	if p == "/" {
		return objectdal.NewObjectMetadata(objectdal.ObjectModeDir), nil
	}
	location, err := b.query(ctx, objectdal.OperationStat, p)
	if err != nil {
		if objectdal.IsNotFound(err) && objectdal.ModeOfPath(p).IsDir() {
			return objectdal.NewObjectMetadata(objectdal.ObjectModeDir), nil
		}
		return objectdal.ObjectMetadata{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, location, nil)
	if err != nil {
		return objectdal.ObjectMetadata{}, buildError(objectdal.OperationStat, p, err)
	}
	resp, err := httputil.Send(b.client, req, objectdal.OperationStat, objectdal.SchemeGhac, p)
	if err != nil {
		return objectdal.ObjectMetadata{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return objectdal.ObjectMetadata{}, httputil.ParseError(resp, objectdal.OperationStat, objectdal.SchemeGhac, p)
	}
	httputil.Drain(resp.Body)
	meta, err := httputil.ParseMetadata(resp.Header, objectdal.ModeOfPath(p))
	if err != nil {
		return objectdal.ObjectMetadata{}, objectdal.AsError(err).
			WithOperation(objectdal.OperationStat).WithContext("path", p)
	}
	if b.config.EnableCreateSimulation && meta.ContentLengthRaw == 1 {
		meta.ContentLength = 0
	}
	return meta, nil
}

// Delete removes the entry through the REST API, which needs a token.
func (b *Backend) Delete(ctx context.Context, p string, _ objectdal.OpDelete) error {
	if b.config.APIToken == "" {
		return objectdal.NewError(objectdal.ErrorKindObjectPermissionDenied, "github token is not configured, delete is permission denied").
			WithOperation(objectdal.OperationDelete).WithContext("service", objectdal.SchemeGhac).WithContext("path", p)
	}
	u := strings.TrimSuffix(b.config.APIURL, "/") + "/repos/" + b.config.Repository +
		"/actions/caches?key=" + url.QueryEscape(b.key(p))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return buildError(objectdal.OperationDelete, p, err)
	}
	req.Header.Set("Authorization", "Bearer "+b.config.APIToken)
	req.Header.Set("User-Agent", "objectdal/"+objectdal.Version+" (service ghac)")
	req.Header.Set("X-GitHub-Api-Version", githubAPIVersion)

	resp, err := httputil.Send(b.client, req, objectdal.OperationDelete, objectdal.SchemeGhac, p)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 == 2 || resp.StatusCode == http.StatusNotFound {
		httputil.Drain(resp.Body)
		return nil
	}
	return httputil.ParseError(resp, objectdal.OperationDelete, objectdal.SchemeGhac, p)
}

func (b *Backend) key(p string) string {
	return objectdal.BuildAbsPath(b.root, p)
}

func buildError(op objectdal.Operation, p string, err error) error {
	return objectdal.NewError(objectdal.ErrorKindUnexpected, "build http request").
		WithOperation(op).WithContext("service", objectdal.SchemeGhac).
		WithContext("path", p).WithSource(err)
}

var _ objectdal.Accessor = (*Backend)(nil)
