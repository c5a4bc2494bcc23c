package s3

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/grokify/objectdal"
)

// fakeS3 serves one path-style bucket with the calls the backend makes.
type fakeS3 struct {
	mu       sync.Mutex
	bucket   string
	objects  map[string][]byte
	uploads  map[string]map[string][]byte
	nextID   int
	pageSize int
}

type listResult struct {
	XMLName               xml.Name `xml:"ListBucketResult"`
	Name                  string   `xml:"Name"`
	Prefix                string   `xml:"Prefix"`
	KeyCount              int      `xml:"KeyCount"`
	IsTruncated           bool     `xml:"IsTruncated"`
	NextContinuationToken string   `xml:"NextContinuationToken,omitempty"`
	Contents              []struct {
		Key  string `xml:"Key"`
		Size int64  `xml:"Size"`
	} `xml:"Contents"`
	CommonPrefixes []struct {
		Prefix string `xml:"Prefix"`
	} `xml:"CommonPrefixes"`
}

type completeRequest struct {
	Parts []struct {
		ETag       string `xml:"ETag"`
		PartNumber int    `xml:"PartNumber"`
	} `xml:"Part"`
}

func newFake(t *testing.T) (*fakeS3, *Backend) {
	t.Helper()
	f := &fakeS3{
		bucket:   "bucket",
		objects:  map[string][]byte{},
		uploads:  map[string]map[string][]byte{},
		pageSize: 2,
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	b, err := New(Config{
		Bucket:          "bucket",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		Root:            "/root",
		AccessKeyID:     "AKID",
		SecretAccessKey: "SECRET",
		UsePathStyle:    true,
		Client:          srv.Client(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return f, b
}

func s3Error(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, "<Error><Code>%s</Code><Message>%s</Message></Error>", code, code)
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/"+f.bucket), "/")
	q := r.URL.Query()
	switch {
	case key == "" && r.Method == http.MethodGet && q.Get("list-type") == "2":
		f.list(w, q.Get("prefix"), q.Get("continuation-token"))

	case r.Method == http.MethodPost && q.Has("uploads"):
		f.nextID++
		id := fmt.Sprintf("upload-%d", f.nextID)
		f.uploads[id] = map[string][]byte{}
		_, _ = fmt.Fprintf(w, "<InitiateMultipartUploadResult><Bucket>%s</Bucket><Key>%s</Key><UploadId>%s</UploadId></InitiateMultipartUploadResult>", f.bucket, key, id)

	case r.Method == http.MethodPut && q.Has("uploadId"):
		parts, ok := f.uploads[q.Get("uploadId")]
		if !ok {
			s3Error(w, http.StatusNotFound, "NoSuchUpload")
			return
		}
		data, _ := io.ReadAll(r.Body)
		parts[q.Get("partNumber")] = data
		sum := md5.Sum(data)
		w.Header().Set("ETag", `"`+hex.EncodeToString(sum[:])+`"`)

	case r.Method == http.MethodPost && q.Has("uploadId"):
		parts, ok := f.uploads[q.Get("uploadId")]
		if !ok {
			s3Error(w, http.StatusNotFound, "NoSuchUpload")
			return
		}
		var req completeRequest
		_ = xml.NewDecoder(r.Body).Decode(&req)
		var buf bytes.Buffer
		for _, p := range req.Parts {
			buf.Write(parts[fmt.Sprint(p.PartNumber)])
		}
		f.objects[key] = buf.Bytes()
		delete(f.uploads, q.Get("uploadId"))
		_, _ = fmt.Fprintf(w, `<CompleteMultipartUploadResult><Bucket>%s</Bucket><Key>%s</Key><ETag>"x-2"</ETag></CompleteMultipartUploadResult>`, f.bucket, key)

	case r.Method == http.MethodDelete && q.Has("uploadId"):
		if _, ok := f.uploads[q.Get("uploadId")]; !ok {
			s3Error(w, http.StatusNotFound, "NoSuchUpload")
			return
		}
		delete(f.uploads, q.Get("uploadId"))
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[key] = data
		sum := md5.Sum(data)
		w.Header().Set("ETag", `"`+hex.EncodeToString(sum[:])+`"`)

	case r.Method == http.MethodGet || r.Method == http.MethodHead:
		data, ok := f.objects[key]
		if !ok {
			s3Error(w, http.StatusNotFound, "NoSuchKey")
			return
		}
		sum := md5.Sum(data)
		w.Header().Set("ETag", `"`+hex.EncodeToString(sum[:])+`"`)
		http.ServeContent(w, r, "", time.Unix(1667900000, 0), bytes.NewReader(data))

	case r.Method == http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)

	default:
		s3Error(w, http.StatusMethodNotAllowed, "MethodNotAllowed")
	}
}

func (f *fakeS3) list(w http.ResponseWriter, prefix, token string) {
	seen := map[string]bool{}
	var items []string
	for k := range f.objects {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		item := k
		if i := strings.Index(k[len(prefix):], "/"); i >= 0 {
			item = k[:len(prefix)+i+1]
		}
		if !seen[item] && item > token {
			seen[item] = true
			items = append(items, item)
		}
	}
	sort.Strings(items)

	out := listResult{Name: f.bucket, Prefix: prefix}
	if len(items) > f.pageSize {
		items = items[:f.pageSize]
		out.IsTruncated = true
		out.NextContinuationToken = items[len(items)-1]
	}
	for _, item := range items {
		if strings.HasSuffix(item, "/") && item != prefix {
			out.CommonPrefixes = append(out.CommonPrefixes, struct {
				Prefix string `xml:"Prefix"`
			}{item})
			continue
		}
		out.Contents = append(out.Contents, struct {
			Key  string `xml:"Key"`
			Size int64  `xml:"Size"`
		}{item, int64(len(f.objects[item]))})
	}
	out.KeyCount = len(items)
	w.Header().Set("Content-Type", "application/xml")
	_ = xml.NewEncoder(w).Encode(out)
}

func TestWriteReadStatDelete(t *testing.T) {
	f, b := newFake(t)
	ctx := context.Background()

	rp, err := b.Write(ctx, "a/hello.txt", objectdal.OpWrite{Size: 13, ContentType: "text/plain"}, strings.NewReader("Hello, World!"))
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if rp.Written != 13 {
		t.Errorf("Written = %d, want 13", rp.Written)
	}
	if string(f.objects["root/a/hello.txt"]) != "Hello, World!" {
		t.Fatalf("stored objects = %v", f.objects)
	}

	rpr, r, err := b.Read(ctx, "a/hello.txt", objectdal.OpRead{Range: objectdal.RangeBounded(0, 5)})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	data, _ := objectdal.ReadAll(r)
	if string(data) != "Hello" || rpr.Metadata.ContentLength != 5 {
		t.Errorf("Read = %q (length %d), want %q (length 5)", data, rpr.Metadata.ContentLength, "Hello")
	}
	if rpr.Metadata.ContentRange == nil || rpr.Metadata.ContentRange.Total != 13 {
		t.Errorf("ContentRange = %v, want total 13", rpr.Metadata.ContentRange)
	}

	_, r, err = b.Read(ctx, "a/hello.txt", objectdal.OpRead{Range: objectdal.RangeSuffix(6)})
	if err != nil {
		t.Fatalf("suffix Read failed: %v", err)
	}
	data, _ = objectdal.ReadAll(r)
	if string(data) != "World!" {
		t.Errorf("suffix Read = %q, want %q", data, "World!")
	}

	meta, err := b.Stat(ctx, "a/hello.txt", objectdal.OpStat{})
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if meta.ContentLength != 13 || meta.ContentMD5 == "" {
		t.Errorf("Stat = %+v", meta)
	}

	if err := b.Delete(ctx, "a/hello.txt", objectdal.OpDelete{}); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := b.Stat(ctx, "a/hello.txt", objectdal.OpStat{}); !objectdal.IsNotFound(err) {
		t.Errorf("Stat after Delete = %v, want not found", err)
	}
	if _, _, err := b.Read(ctx, "a/hello.txt", objectdal.OpRead{}); !objectdal.IsNotFound(err) {
		t.Errorf("Read after Delete = %v, want not found", err)
	}
}

func TestStatDirectory(t *testing.T) {
	_, b := newFake(t)
	for _, p := range []string{"/", "missing/"} {
		meta, err := b.Stat(context.Background(), p, objectdal.OpStat{})
		if err != nil {
			t.Fatalf("Stat(%q) failed: %v", p, err)
		}
		if !meta.Mode.IsDir() {
			t.Errorf("Stat(%q) mode = %v, want dir", p, meta.Mode)
		}
	}
}

func TestList(t *testing.T) {
	_, b := newFake(t)
	ctx := context.Background()
	if err := b.Create(ctx, "dir/", objectdal.OpCreate{Mode: objectdal.ObjectModeDir}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	for _, p := range []string{"dir/a", "dir/b", "dir/sub/x", "top"} {
		if _, err := b.Write(ctx, p, objectdal.OpWrite{Size: -1}, strings.NewReader(p)); err != nil {
			t.Fatalf("Write(%s) failed: %v", p, err)
		}
	}

	pg, err := b.List(ctx, "dir/", objectdal.OpList{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	entries, err := objectdal.CollectPager(ctx, pg)
	if err != nil {
		t.Fatalf("CollectPager failed: %v", err)
	}
	var got []string
	for _, e := range entries {
		got = append(got, e.Path+":"+e.Mode().String())
	}
	sort.Strings(got)
	want := "dir/a:file,dir/b:file,dir/sub/:dir"
	if strings.Join(got, ",") != want {
		t.Errorf("List = %v, want %s", got, want)
	}

	if _, err := b.List(ctx, "top", objectdal.OpList{}); objectdal.KindOf(err) != objectdal.ErrorKindObjectNotADirectory {
		t.Errorf("List(top) kind = %v, want not a directory", objectdal.KindOf(err))
	}
}

func TestMultipart(t *testing.T) {
	f, b := newFake(t)
	ctx := context.Background()

	rp, err := b.CreateMultipart(ctx, "big", objectdal.OpCreateMultipart{})
	if err != nil {
		t.Fatalf("CreateMultipart failed: %v", err)
	}
	var parts []objectdal.ObjectPart
	for i, chunk := range []string{"hello ", "world"} {
		part, err := b.WriteMultipart(ctx, "big", objectdal.OpWriteMultipart{
			UploadID: rp.UploadID, PartNumber: i + 1, Size: int64(len(chunk)),
		}, strings.NewReader(chunk))
		if err != nil {
			t.Fatalf("WriteMultipart(%d) failed: %v", i+1, err)
		}
		if part.ETag == "" {
			t.Errorf("part %d has no ETag", i+1)
		}
		parts = append(parts, part)
	}
	if err := b.CompleteMultipart(ctx, "big", objectdal.OpCompleteMultipart{UploadID: rp.UploadID, Parts: parts}); err != nil {
		t.Fatalf("CompleteMultipart failed: %v", err)
	}
	if got := string(f.objects["root/big"]); got != "hello world" {
		t.Errorf("object = %q, want %q", got, "hello world")
	}

	err = b.AbortMultipart(ctx, "big", objectdal.OpAbortMultipart{UploadID: rp.UploadID})
	if !objectdal.IsNotFound(err) {
		t.Errorf("Abort of completed upload = %v, want not found", err)
	}
}

func TestPresign(t *testing.T) {
	_, b := newFake(t)
	req, err := b.Presign(context.Background(), "a.txt", objectdal.OpPresign{Operation: objectdal.PresignRead, Expire: time.Minute})
	if err != nil {
		t.Fatalf("Presign failed: %v", err)
	}
	if req.Method != http.MethodGet {
		t.Errorf("Method = %q, want GET", req.Method)
	}
	for _, part := range []string{"/bucket/root/a.txt?", "X-Amz-Expires=60", "X-Amz-Signature="} {
		if !strings.Contains(req.URL, part) {
			t.Errorf("URL %q does not contain %q", req.URL, part)
		}
	}
}

type apiError struct {
	code   string
	status int
}

func (e apiError) Error() string       { return e.code }
func (e apiError) ErrorCode() string   { return e.code }
func (e apiError) HTTPStatusCode() int { return e.status }

func TestTranslateError(t *testing.T) {
	tests := []struct {
		err       error
		kind      objectdal.ErrorKind
		temporary bool
	}{
		{apiError{"NoSuchKey", 404}, objectdal.ErrorKindObjectNotFound, false},
		{apiError{"AccessDenied", 403}, objectdal.ErrorKindObjectPermissionDenied, false},
		{apiError{"InvalidRange", 416}, objectdal.ErrorKindUnsupported, false},
		{apiError{"SlowDown", 503}, objectdal.ErrorKindUnexpected, true},
		{apiError{"NoSuchBucket", 404}, objectdal.ErrorKindBackendConfigInvalid, false},
		{io.ErrUnexpectedEOF, objectdal.ErrorKindUnexpected, true},
		{context.Canceled, objectdal.ErrorKindUnexpected, false},
	}
	for _, tt := range tests {
		err := translateError(tt.err, objectdal.OperationRead, "p")
		if objectdal.KindOf(err) != tt.kind {
			t.Errorf("translateError(%v) kind = %v, want %v", tt.err, objectdal.KindOf(err), tt.kind)
		}
		if objectdal.IsTemporary(err) != tt.temporary {
			t.Errorf("translateError(%v) temporary = %v, want %v", tt.err, objectdal.IsTemporary(err), tt.temporary)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "empty bucket", config: Config{}, wantErr: true},
		{name: "valid config", config: Config{Bucket: "my-bucket"}},
		{name: "kms", config: Config{Bucket: "b", ServerSideEncryption: "aws:kms", SSEKMSKeyID: "k"}},
		{name: "bad sse", config: Config{Bucket: "b", ServerSideEncryption: "rot13"}, wantErr: true},
		{name: "kms key without kms", config: Config{Bucket: "b", SSEKMSKeyID: "k"}, wantErr: true},
		{name: "short customer key", config: Config{Bucket: "b", SSECustomerKey: "short"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigFromMap(t *testing.T) {
	cfg := ConfigFromMap(map[string]string{
		"bucket":         "my-bucket",
		"region":         "eu-west-1",
		"endpoint":       "http://localhost:9000",
		"root":           "/data",
		"use_path_style": "true",
	})
	if cfg.Bucket != "my-bucket" || cfg.Region != "eu-west-1" || cfg.Root != "/data" || !cfg.UsePathStyle {
		t.Errorf("ConfigFromMap = %+v", cfg)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OBJECTDAL_S3_BUCKET", "env-bucket")
	t.Setenv("OBJECTDAL_S3_REGION", "ap-south-1")
	t.Setenv("OBJECTDAL_S3_USE_PATH_STYLE", "1")
	cfg := ConfigFromEnv()
	if cfg.Bucket != "env-bucket" || cfg.Region != "ap-south-1" || !cfg.UsePathStyle {
		t.Errorf("ConfigFromEnv = %+v", cfg)
	}
}

// Integration test against a real S3-compatible service. Set
// OBJECTDAL_S3_TEST_BUCKET (and credentials) to run it.
func TestIntegration(t *testing.T) {
	bucket := os.Getenv("OBJECTDAL_S3_TEST_BUCKET")
	if bucket == "" {
		t.Skip("OBJECTDAL_S3_TEST_BUCKET not set, skipping integration test")
	}
	b, err := New(Config{
		Bucket:       bucket,
		Region:       os.Getenv("OBJECTDAL_S3_TEST_REGION"),
		Endpoint:     os.Getenv("OBJECTDAL_S3_TEST_ENDPOINT"),
		Root:         "objectdal-test-" + time.Now().Format("20060102-150405"),
		UsePathStyle: os.Getenv("OBJECTDAL_S3_USE_PATH_STYLE") == "true",
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	op := objectdal.NewOperator(b)
	ctx := context.Background()
	o := op.Object("integration.txt")
	if err := o.Write(ctx, []byte("integration")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	defer func() { _ = o.Delete(ctx) }()
	data, err := o.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != "integration" {
		t.Errorf("Read = %q, want %q", data, "integration")
	}
}
