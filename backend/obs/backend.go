// Package obs provides a backend for Huawei Cloud Object Storage Service and
// other stores speaking the same S3-style REST dialect.
//
// Requests are sent over plain HTTP and signed with AWS Signature Version 4,
// which OBS accepts. Without credentials requests go out unsigned.
package obs

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/grokify/mogo/log/slogutil"

	"github.com/grokify/objectdal"
	"github.com/grokify/objectdal/internal/httputil"
)

func init() {
	objectdal.Register(objectdal.SchemeObs, NewFromConfig)
}

const (
	signingService = "s3"
	defaultRegion  = "us-east-1"

	// unsignedPayload skips hashing bodies, which may be streams.
	unsignedPayload = "UNSIGNED-PAYLOAD"

	defaultPresignExpire = 15 * time.Minute
)

// Config holds configuration for the obs backend.
type Config struct {
	// Endpoint is the service URL, for example
	// "https://obs.cn-north-4.myhuaweicloud.com". A missing scheme means https.
	Endpoint string

	// Bucket is the bucket name. Required.
	Bucket string

	// Root is the prefix every key is stored under.
	Root string

	// Region used for signing. Default: parsed from a default OBS endpoint,
	// else "us-east-1".
	Region string

	// AccessKeyID and SecretAccessKey sign requests when both are set.
	AccessKeyID     string
	SecretAccessKey string

	// Client overrides the HTTP client. Default: a pooled client.
	Client *http.Client

	// Logger receives debug records from the builder. Default: discard.
	Logger *slog.Logger
}

// ConfigFromMap creates a Config from a string map.
// Supported keys: endpoint, bucket, root, region, access_key_id, secret_access_key.
func ConfigFromMap(m map[string]string) Config {
	return Config{
		Endpoint:        m["endpoint"],
		Bucket:          m["bucket"],
		Root:            m["root"],
		Region:          m["region"],
		AccessKeyID:     m["access_key_id"],
		SecretAccessKey: m["secret_access_key"],
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Bucket == "" {
		return configError("bucket is empty", nil)
	}
	if c.Endpoint == "" {
		return configError("endpoint is empty", nil)
	}
	if _, err := url.Parse(withScheme(c.Endpoint)); err != nil {
		return configError("endpoint is invalid", err)
	}
	return nil
}

func configError(msg string, err error) error {
	return objectdal.NewError(objectdal.ErrorKindBackendConfigInvalid, msg).
		WithContext("service", objectdal.SchemeObs).WithSource(err)
}

func withScheme(endpoint string) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	return "https://" + endpoint
}

// Backend is an Accessor over an OBS bucket.
type Backend struct {
	objectdal.UnimplementedAccessor

	endpoint string
	bucket   string
	root     string
	region   string
	creds    *aws.Credentials
	signer   *v4.Signer
	client   *http.Client
}

// New validates cfg and returns the backend.
func New(cfg Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	u, _ := url.Parse(withScheme(cfg.Endpoint))
	host := u.Host
	region := cfg.Region
	// The default domain is virtual hosted: the bucket goes in front of it.
	if h := u.Hostname(); strings.HasPrefix(h, "obs.") && strings.HasSuffix(h, ".myhuaweicloud.com") {
		host = cfg.Bucket + "." + host
		if region == "" {
			region = strings.TrimSuffix(strings.TrimPrefix(h, "obs."), ".myhuaweicloud.com")
		}
	}
	if region == "" {
		region = defaultRegion
	}

	b := &Backend{
		endpoint: u.Scheme + "://" + host,
		bucket:   cfg.Bucket,
		root:     objectdal.NormalizeRoot(cfg.Root),
		region:   region,
		signer:   v4.NewSigner(),
		client:   cfg.Client,
	}
	if b.client == nil {
		b.client = httputil.NewClient()
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		b.creds = &aws.Credentials{AccessKeyID: cfg.AccessKeyID, SecretAccessKey: cfg.SecretAccessKey}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slogutil.Null()
	}
	logger.Debug("obs backend ready",
		slog.String("endpoint", b.endpoint),
		slog.String("bucket", b.bucket),
		slog.String("root", b.root),
		slog.String("region", b.region),
		slog.Bool("signed", b.creds != nil))
	return b, nil
}

// NewFromConfig creates an obs backend from a config map.
func NewFromConfig(m map[string]string) (objectdal.Accessor, error) {
	return New(ConfigFromMap(m))
}

// Metadata describes the backend. Presign is declared only with credentials.
func (b *Backend) Metadata() objectdal.AccessorMetadata {
	caps := objectdal.CapabilityRead | objectdal.CapabilityWrite | objectdal.CapabilityList
	if b.creds != nil {
		caps |= objectdal.CapabilityPresign
	}
	return objectdal.AccessorMetadata{
		Scheme:       objectdal.SchemeObs,
		Root:         b.root,
		Name:         b.bucket,
		Capabilities: caps,
		Hints:        objectdal.HintReadIsStreamable,
	}
}

// Create puts an empty object. Directories are stored as "dir/" keys.
func (b *Backend) Create(ctx context.Context, p string, _ objectdal.OpCreate) error {
	req, err := b.objectRequest(ctx, http.MethodPut, p, http.NoBody)
	if err != nil {
		return err
	}
	req.ContentLength = 0
	resp, err := b.send(req, objectdal.OperationCreate, p)
	if err != nil {
		return err
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		httputil.Drain(resp.Body)
		return nil
	default:
		return httputil.ParseError(resp, objectdal.OperationCreate, objectdal.SchemeObs, p)
	}
}

// Read gets the selected range of p.
func (b *Backend) Read(ctx context.Context, p string, args objectdal.OpRead) (objectdal.RpRead, io.ReadCloser, error) {
	if args.Range.IsEmpty() {
		return objectdal.EmptyRead(ctx, b, p)
	}
	req, err := b.objectRequest(ctx, http.MethodGet, p, nil)
	if err != nil {
		return objectdal.RpRead{}, nil, err
	}
	if err := httputil.RangeHeader(req, args.Range); err != nil {
		return objectdal.RpRead{}, nil, objectdal.AsError(err).WithOperation(objectdal.OperationRead).WithContext("path", p)
	}
	resp, err := b.send(req, objectdal.OperationRead, p)
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
		return objectdal.RpRead{}, nil, httputil.ParseError(resp, objectdal.OperationRead, objectdal.SchemeObs, p)
	}
}

// Write puts the body at p. Bodies of unknown size are buffered.
func (b *Backend) Write(ctx context.Context, p string, args objectdal.OpWrite, r io.Reader) (objectdal.RpWrite, error) {
	if objectdal.ModeOfPath(p).IsDir() {
		return objectdal.RpWrite{}, objectdal.NewError(objectdal.ErrorKindObjectIsADirectory, "write requires a file path").
			WithOperation(objectdal.OperationWrite).WithContext("service", objectdal.SchemeObs).WithContext("path", p)
	}
	body, size, err := httputil.SizedBody(r, args.Size)
	if err != nil {
		return objectdal.RpWrite{}, objectdal.AsError(err).
			WithOperation(objectdal.OperationWrite).WithContext("path", p)
	}
	req, err := b.objectRequest(ctx, http.MethodPut, p, io.NopCloser(body))
	if err != nil {
		return objectdal.RpWrite{}, err
	}
	req.ContentLength = size
	if args.ContentType != "" {
		req.Header.Set("Content-Type", args.ContentType)
	}
	resp, err := b.send(req, objectdal.OperationWrite, p)
	if err != nil {
		return objectdal.RpWrite{}, err
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		httputil.Drain(resp.Body)
		return objectdal.RpWrite{Written: size}, nil
	default:
		return objectdal.RpWrite{}, httputil.ParseError(resp, objectdal.OperationWrite, objectdal.SchemeObs, p)
	}
}

// Stat heads p. A 404 on a directory path still reports a directory, since
// prefixes need not have a key of their own.
func (b *Backend) Stat(ctx context.Context, p string, _ objectdal.OpStat) (objectdal.ObjectMetadata, error) {
	if p == "/" {
		return objectdal.NewObjectMetadata(objectdal.ObjectModeDir), nil
	}
	req, err := b.objectRequest(ctx, http.MethodHead, p, nil)
	if err != nil {
		return objectdal.ObjectMetadata{}, err
	}
	resp, err := b.send(req, objectdal.OperationStat, p)
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
		return objectdal.ObjectMetadata{}, httputil.ParseError(resp, objectdal.OperationStat, objectdal.SchemeObs, p)
	}
}

// Delete removes p. Missing keys are not an error.
func (b *Backend) Delete(ctx context.Context, p string, _ objectdal.OpDelete) error {
	req, err := b.objectRequest(ctx, http.MethodDelete, p, nil)
	if err != nil {
		return err
	}
	resp, err := b.send(req, objectdal.OperationDelete, p)
	if err != nil {
		return err
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent, http.StatusNotFound:
		httputil.Drain(resp.Body)
		return nil
	default:
		return httputil.ParseError(resp, objectdal.OperationDelete, objectdal.SchemeObs, p)
	}
}

// List pages through the direct children of p.
func (b *Backend) List(_ context.Context, p string, _ objectdal.OpList) (objectdal.Pager, error) {
	if !objectdal.ModeOfPath(p).IsDir() {
		return nil, objectdal.NewError(objectdal.ErrorKindObjectNotADirectory, "list requires a directory").
			WithOperation(objectdal.OperationList).WithContext("service", objectdal.SchemeObs).WithContext("path", p)
	}
	return &pager{b: b, path: p, prefix: objectdal.BuildAbsPath(b.root, p)}, nil
}

// Presign returns a query-signed request for p.
func (b *Backend) Presign(ctx context.Context, p string, args objectdal.OpPresign) (objectdal.PresignedRequest, error) {
	if b.creds == nil {
		return objectdal.PresignedRequest{}, objectdal.NewError(objectdal.ErrorKindUnsupported, "presign requires credentials").
			WithOperation(objectdal.OperationPresign).WithContext("service", objectdal.SchemeObs).WithContext("path", p)
	}
	method := http.MethodHead
	switch args.Operation {
	case objectdal.PresignRead:
		method = http.MethodGet
	case objectdal.PresignWrite:
		method = http.MethodPut
	}
	expire := args.Expire
	if expire <= 0 {
		expire = defaultPresignExpire
	}

	req, err := http.NewRequestWithContext(ctx, method, b.objectURL(p), nil)
	if err != nil {
		return objectdal.PresignedRequest{}, buildError(objectdal.OperationPresign, p, err)
	}
	q := req.URL.Query()
	q.Set("X-Amz-Expires", strconv.FormatInt(int64(expire/time.Second), 10))
	req.URL.RawQuery = q.Encode()
	if args.Operation == objectdal.PresignRead {
		if err := httputil.RangeHeader(req, args.Range); err != nil {
			return objectdal.PresignedRequest{}, objectdal.AsError(err).
				WithOperation(objectdal.OperationPresign).WithContext("service", objectdal.SchemeObs).WithContext("path", p)
		}
	}
	if args.Operation == objectdal.PresignWrite && args.ContentType != "" {
		req.Header.Set("Content-Type", args.ContentType)
	}

	signed, header, err := b.signer.PresignHTTP(ctx, *b.creds, req, unsignedPayload, signingService, b.region, time.Now())
	if err != nil {
		return objectdal.PresignedRequest{}, objectdal.NewError(objectdal.ErrorKindUnexpected, "presign request").
			WithOperation(objectdal.OperationPresign).WithContext("service", objectdal.SchemeObs).
			WithContext("path", p).WithSource(err)
	}
	return objectdal.PresignedRequest{Method: method, URL: signed, Header: header}, nil
}

func (b *Backend) objectURL(p string) string {
	return b.endpoint + "/" + httputil.EncodePath(objectdal.BuildAbsPath(b.root, p))
}

func (b *Backend) objectRequest(ctx context.Context, method, p string, body io.ReadCloser) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, b.objectURL(p), body)
	if err != nil {
		return nil, buildError(objectdal.OperationMetadata, p, err)
	}
	return req, nil
}

// send signs req when credentials are configured and sends it.
func (b *Backend) send(req *http.Request, op objectdal.Operation, p string) (*http.Response, error) {
	if b.creds != nil {
		req.Header.Set("X-Amz-Content-Sha256", unsignedPayload)
		if err := b.signer.SignHTTP(req.Context(), *b.creds, req, unsignedPayload, signingService, b.region, time.Now()); err != nil {
			return nil, objectdal.NewError(objectdal.ErrorKindUnexpected, "sign request").
				WithOperation(op).WithContext("service", objectdal.SchemeObs).
				WithContext("path", p).WithSource(err)
		}
	}
	return httputil.Send(b.client, req, op, objectdal.SchemeObs, p)
}

func buildError(op objectdal.Operation, p string, err error) error {
	return objectdal.NewError(objectdal.ErrorKindUnexpected, "build http request").
		WithOperation(op).WithContext("service", objectdal.SchemeObs).
		WithContext("path", p).WithSource(err)
}

var _ objectdal.Accessor = (*Backend)(nil)
