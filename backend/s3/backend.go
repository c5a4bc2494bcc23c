// Package s3 provides an S3-compatible backend for objectdal.
//
// This backend works with:
//   - AWS S3
//   - Cloudflare R2
//   - MinIO
//   - Wasabi
//   - DigitalOcean Spaces
//   - Any S3-compatible object storage
//
// Basic usage:
//
//	backend, err := s3.New(s3.Config{
//	    Bucket: "my-bucket",
//	    Region: "us-east-1",
//	})
//
// For S3-compatible services:
//
//	backend, err := s3.New(s3.Config{
//	    Bucket:       "my-bucket",
//	    Endpoint:     "https://play.min.io",
//	    UsePathStyle: true,
//	})
package s3

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/grokify/objectdal"
	"github.com/grokify/objectdal/internal/httputil"
)

func init() {
	objectdal.Register(objectdal.SchemeS3, NewFromConfig)
}

const defaultPresignExpire = 15 * time.Minute

// Backend is an Accessor over an S3 bucket.
type Backend struct {
	objectdal.UnimplementedAccessor

	client  *s3.Client
	presign *s3.PresignClient
	config  Config
	root    string
	ssec    *sseCustomer
}

// New creates a new S3 backend with the given configuration.
func New(cfg Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Build AWS config options
	var optFns []func(*config.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			cfg.SessionToken,
		)
		optFns = append(optFns, config.WithCredentialsProvider(creds))
	}
	if cfg.Client != nil {
		optFns = append(optFns, config.WithHTTPClient(cfg.Client))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), optFns...)
	if err != nil {
		return nil, objectdal.NewError(objectdal.ErrorKindBackendConfigInvalid, "load aws config").
			WithContext("service", objectdal.SchemeS3).WithSource(err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
		// Checksums only where the API demands them; many compatible
		// services reject the trailing checksum encoding.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return &Backend{
		client:  client,
		presign: s3.NewPresignClient(client),
		config:  cfg,
		root:    objectdal.NormalizeRoot(cfg.Root),
		ssec:    newSSECustomer(cfg.SSECustomerKey),
	}, nil
}

// NewFromConfig creates a new S3 backend from a config map.
// This is used by the objectdal registry.
func NewFromConfig(configMap map[string]string) (objectdal.Accessor, error) {
	return New(ConfigFromMap(configMap))
}

// Metadata describes the backend.
func (b *Backend) Metadata() objectdal.AccessorMetadata {
	return objectdal.AccessorMetadata{
		Scheme: objectdal.SchemeS3,
		Root:   b.root,
		Name:   b.config.Bucket,
		Capabilities: objectdal.CapabilityRead | objectdal.CapabilityWrite | objectdal.CapabilityList |
			objectdal.CapabilityPresign | objectdal.CapabilityMultipart,
		Hints: objectdal.HintReadIsStreamable,
	}
}

func (b *Backend) key(p string) *string {
	return aws.String(objectdal.BuildAbsPath(b.root, p))
}

// unsignedPayload lets bodies be streamed without hashing them first.
var unsignedPayload = s3.WithAPIOptions(v4.SwapComputePayloadSHA256ForUnsignedPayloadMiddleware)

// Create puts an empty object. Directories become "dir/" marker keys.
func (b *Backend) Create(ctx context.Context, p string, _ objectdal.OpCreate) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(b.config.Bucket),
		Key:           b.key(p),
		Body:          strings.NewReader(""),
		ContentLength: aws.Int64(0),
	}
	b.encryptPut(input)
	if _, err := b.client.PutObject(ctx, input); err != nil {
		return translateError(err, objectdal.OperationCreate, p)
	}
	return nil
}

// Read gets the selected range of p.
func (b *Backend) Read(ctx context.Context, p string, args objectdal.OpRead) (objectdal.RpRead, io.ReadCloser, error) {
	if args.Range.IsEmpty() {
		return objectdal.EmptyRead(ctx, b, p)
	}
	input := &s3.GetObjectInput{
		Bucket: aws.String(b.config.Bucket),
		Key:    b.key(p),
	}
	if !args.Range.IsFull() {
		input.Range = aws.String(args.Range.String())
	}
	if b.ssec != nil {
		input.SSECustomerAlgorithm = aws.String(b.ssec.algorithm)
		input.SSECustomerKey = aws.String(b.ssec.key)
		input.SSECustomerKeyMD5 = aws.String(b.ssec.keyMD5)
	}

	out, err := b.client.GetObject(ctx, input)
	if err != nil {
		return objectdal.RpRead{}, nil, translateError(err, objectdal.OperationRead, p)
	}
	meta := objectMetadata(objectdal.ObjectModeFile, out.ContentLength, out.ContentType, out.ETag, out.LastModified)
	if out.ContentRange != nil {
		if cr, err := objectdal.ParseBytesContentRange(*out.ContentRange); err == nil {
			meta.ContentRange = &cr
		}
	}
	return objectdal.RpRead{Metadata: meta}, out.Body, nil
}

// Write puts the body at p. Bodies of unknown size are buffered.
func (b *Backend) Write(ctx context.Context, p string, args objectdal.OpWrite, r io.Reader) (objectdal.RpWrite, error) {
	if objectdal.ModeOfPath(p).IsDir() {
		return objectdal.RpWrite{}, objectdal.NewError(objectdal.ErrorKindObjectIsADirectory, "write requires a file path").
			WithOperation(objectdal.OperationWrite).WithContext("service", objectdal.SchemeS3).WithContext("path", p)
	}
	body, size, err := httputil.SizedBody(r, args.Size)
	if err != nil {
		return objectdal.RpWrite{}, objectdal.AsError(err).
			WithOperation(objectdal.OperationWrite).WithContext("path", p)
	}
	input := &s3.PutObjectInput{
		Bucket:        aws.String(b.config.Bucket),
		Key:           b.key(p),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if args.ContentType != "" {
		input.ContentType = aws.String(args.ContentType)
	}
	b.encryptPut(input)
	if _, err := b.client.PutObject(ctx, input, unsignedPayload); err != nil {
		return objectdal.RpWrite{}, translateError(err, objectdal.OperationWrite, p)
	}
	return objectdal.RpWrite{Written: size}, nil
}

// Stat heads p. A missing directory key still reports a directory, since
// prefixes need not have a key of their own.
func (b *Backend) Stat(ctx context.Context, p string, _ objectdal.OpStat) (objectdal.ObjectMetadata, error) {
	if p == "/" {
		return objectdal.NewObjectMetadata(objectdal.ObjectModeDir), nil
	}
	input := &s3.HeadObjectInput{
		Bucket: aws.String(b.config.Bucket),
		Key:    b.key(p),
	}
	if b.ssec != nil {
		input.SSECustomerAlgorithm = aws.String(b.ssec.algorithm)
		input.SSECustomerKey = aws.String(b.ssec.key)
		input.SSECustomerKeyMD5 = aws.String(b.ssec.keyMD5)
	}
	mode := objectdal.ModeOfPath(p)
	out, err := b.client.HeadObject(ctx, input)
	if err != nil {
		err = translateError(err, objectdal.OperationStat, p)
		if objectdal.IsNotFound(err) && mode.IsDir() {
			return objectdal.NewObjectMetadata(objectdal.ObjectModeDir), nil
		}
		return objectdal.ObjectMetadata{}, err
	}
	return objectMetadata(mode, out.ContentLength, out.ContentType, out.ETag, out.LastModified), nil
}

// Delete removes p. S3 deletes are idempotent.
func (b *Backend) Delete(ctx context.Context, p string, _ objectdal.OpDelete) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.config.Bucket),
		Key:    b.key(p),
	})
	if err != nil {
		if err = translateError(err, objectdal.OperationDelete, p); objectdal.IsNotFound(err) {
			return nil
		}
		return err
	}
	return nil
}

// List pages through the direct children of p with delimiter "/".
func (b *Backend) List(_ context.Context, p string, _ objectdal.OpList) (objectdal.Pager, error) {
	if !objectdal.ModeOfPath(p).IsDir() {
		return nil, objectdal.NewError(objectdal.ErrorKindObjectNotADirectory, "list requires a directory").
			WithOperation(objectdal.OperationList).WithContext("service", objectdal.SchemeS3).WithContext("path", p)
	}
	prefix := objectdal.BuildAbsPath(b.root, p)
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.config.Bucket),
		Delimiter: aws.String("/"),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	return &pager{
		root:      b.root,
		path:      p,
		prefix:    prefix,
		paginator: s3.NewListObjectsV2Paginator(b.client, input),
	}, nil
}

// Presign returns a query-signed request for p.
func (b *Backend) Presign(ctx context.Context, p string, args objectdal.OpPresign) (objectdal.PresignedRequest, error) {
	expire := args.Expire
	if expire <= 0 {
		expire = defaultPresignExpire
	}
	opt := s3.WithPresignExpires(expire)

	var (
		req *v4.PresignedHTTPRequest
		err error
	)
	switch args.Operation {
	case objectdal.PresignRead:
		input := &s3.GetObjectInput{Bucket: aws.String(b.config.Bucket), Key: b.key(p)}
		if args.Range.IsEmpty() {
			return objectdal.PresignedRequest{}, objectdal.NewError(objectdal.ErrorKindUnsupported, "empty range has no Range header").
				WithOperation(objectdal.OperationPresign).WithContext("service", objectdal.SchemeS3).
				WithContext("path", p).WithContext("range", args.Range)
		}
		if !args.Range.IsFull() {
			input.Range = aws.String(args.Range.String())
		}
		req, err = b.presign.PresignGetObject(ctx, input, opt)
	case objectdal.PresignWrite:
		input := &s3.PutObjectInput{Bucket: aws.String(b.config.Bucket), Key: b.key(p)}
		if args.ContentType != "" {
			input.ContentType = aws.String(args.ContentType)
		}
		req, err = b.presign.PresignPutObject(ctx, input, opt)
	default:
		req, err = b.presign.PresignHeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(b.config.Bucket), Key: b.key(p)}, opt)
	}
	if err != nil {
		return objectdal.PresignedRequest{}, translateError(err, objectdal.OperationPresign, p)
	}
	header := req.SignedHeader
	if header == nil {
		header = http.Header{}
	}
	return objectdal.PresignedRequest{Method: req.Method, URL: req.URL, Header: header}, nil
}

// CreateMultipart starts an upload.
func (b *Backend) CreateMultipart(ctx context.Context, p string, _ objectdal.OpCreateMultipart) (objectdal.RpCreateMultipart, error) {
	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(b.config.Bucket),
		Key:    b.key(p),
	}
	if b.config.ServerSideEncryption != "" {
		input.ServerSideEncryption = types.ServerSideEncryption(b.config.ServerSideEncryption)
	}
	if b.config.SSEKMSKeyID != "" {
		input.SSEKMSKeyId = aws.String(b.config.SSEKMSKeyID)
	}
	if b.ssec != nil {
		input.SSECustomerAlgorithm = aws.String(b.ssec.algorithm)
		input.SSECustomerKey = aws.String(b.ssec.key)
		input.SSECustomerKeyMD5 = aws.String(b.ssec.keyMD5)
	}
	out, err := b.client.CreateMultipartUpload(ctx, input)
	if err != nil {
		return objectdal.RpCreateMultipart{}, translateError(err, objectdal.OperationCreateMultipart, p)
	}
	return objectdal.RpCreateMultipart{UploadID: aws.ToString(out.UploadId)}, nil
}

// WriteMultipart uploads one part. Parts of unknown size are buffered.
func (b *Backend) WriteMultipart(ctx context.Context, p string, args objectdal.OpWriteMultipart, r io.Reader) (objectdal.ObjectPart, error) {
	body, size, err := httputil.SizedBody(r, args.Size)
	if err != nil {
		return objectdal.ObjectPart{}, objectdal.AsError(err).
			WithOperation(objectdal.OperationWriteMultipart).WithContext("path", p)
	}
	input := &s3.UploadPartInput{
		Bucket:        aws.String(b.config.Bucket),
		Key:           b.key(p),
		UploadId:      aws.String(args.UploadID),
		PartNumber:    aws.Int32(int32(args.PartNumber)),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if b.ssec != nil {
		input.SSECustomerAlgorithm = aws.String(b.ssec.algorithm)
		input.SSECustomerKey = aws.String(b.ssec.key)
		input.SSECustomerKeyMD5 = aws.String(b.ssec.keyMD5)
	}
	out, err := b.client.UploadPart(ctx, input, unsignedPayload)
	if err != nil {
		return objectdal.ObjectPart{}, translateError(err, objectdal.OperationWriteMultipart, p)
	}
	return objectdal.ObjectPart{PartNumber: args.PartNumber, ETag: aws.ToString(out.ETag)}, nil
}

// CompleteMultipart joins the listed parts into the object.
func (b *Backend) CompleteMultipart(ctx context.Context, p string, args objectdal.OpCompleteMultipart) error {
	parts := make([]types.CompletedPart, 0, len(args.Parts))
	for _, part := range args.Parts {
		parts = append(parts, types.CompletedPart{
			ETag:       aws.String(part.ETag),
			PartNumber: aws.Int32(int32(part.PartNumber)),
		})
	}
	_, err := b.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(b.config.Bucket),
		Key:             b.key(p),
		UploadId:        aws.String(args.UploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return translateError(err, objectdal.OperationCompleteMultipart, p)
	}
	return nil
}

// AbortMultipart discards an upload and its parts.
func (b *Backend) AbortMultipart(ctx context.Context, p string, args objectdal.OpAbortMultipart) error {
	_, err := b.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(b.config.Bucket),
		Key:      b.key(p),
		UploadId: aws.String(args.UploadID),
	})
	if err != nil {
		return translateError(err, objectdal.OperationAbortMultipart, p)
	}
	return nil
}

func (b *Backend) encryptPut(input *s3.PutObjectInput) {
	if b.config.ServerSideEncryption != "" {
		input.ServerSideEncryption = types.ServerSideEncryption(b.config.ServerSideEncryption)
	}
	if b.config.SSEKMSKeyID != "" {
		input.SSEKMSKeyId = aws.String(b.config.SSEKMSKeyID)
	}
	if b.ssec != nil {
		input.SSECustomerAlgorithm = aws.String(b.ssec.algorithm)
		input.SSECustomerKey = aws.String(b.ssec.key)
		input.SSECustomerKeyMD5 = aws.String(b.ssec.keyMD5)
	}
}

func objectMetadata(mode objectdal.ObjectMode, length *int64, contentType, etag *string, modTime *time.Time) objectdal.ObjectMetadata {
	meta := objectdal.NewObjectMetadata(mode)
	if length != nil {
		meta = meta.WithContentLength(*length)
	}
	meta.ContentType = aws.ToString(contentType)
	meta.ETag = aws.ToString(etag)
	// The ETag is the MD5 for objects not uploaded in parts.
	if e := strings.Trim(meta.ETag, `"`); len(e) == 32 && !strings.Contains(e, "-") {
		meta.ContentMD5 = e
	}
	meta.LastModified = aws.ToTime(modTime)
	return meta
}

// translateError maps SDK errors onto objectdal error kinds.
func translateError(err error, op objectdal.Operation, p string) error {
	kind := objectdal.ErrorKindUnexpected
	temporary := false

	var status interface{ HTTPStatusCode() int }
	if errors.As(err, &status) {
		kind = httputil.KindOfStatus(status.HTTPStatusCode())
		temporary = httputil.IsTemporaryStatus(status.HTTPStatusCode())
	}
	var apiErr interface{ ErrorCode() string }
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchUpload":
			kind = objectdal.ErrorKindObjectNotFound
		case "AccessDenied", "Forbidden":
			kind = objectdal.ErrorKindObjectPermissionDenied
		case "InvalidRange":
			kind = objectdal.ErrorKindUnsupported
		case "NoSuchBucket":
			kind = objectdal.ErrorKindBackendConfigInvalid
		case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable":
			temporary = true
		}
	}
	if !errors.As(err, &status) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		// No response at all: the request never reached the service.
		temporary = true
	}

	e := objectdal.NewError(kind, "s3 request failed").
		WithOperation(op).
		WithContext("service", objectdal.SchemeS3).
		WithContext("path", p).
		WithSource(err)
	if temporary {
		e = e.SetTemporary()
	}
	return e
}

var _ objectdal.Accessor = (*Backend)(nil)
