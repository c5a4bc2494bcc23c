package obs

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/grokify/objectdal"
	"github.com/grokify/objectdal/internal/httputil"
)

// listBucketResult is the body of a ListObjects response.
type listBucketResult struct {
	XMLName        xml.Name       `xml:"ListBucketResult"`
	IsTruncated    bool           `xml:"IsTruncated"`
	NextMarker     string         `xml:"NextMarker"`
	CommonPrefixes []commonPrefix `xml:"CommonPrefixes"`
	Contents       []content      `xml:"Contents"`
}

type commonPrefix struct {
	Prefix string `xml:"Prefix"`
}

type content struct {
	Key          string `xml:"Key"`
	Size         int64  `xml:"Size"`
	ETag         string `xml:"ETag"`
	LastModified string `xml:"LastModified"`
}

// pager walks ListObjects pages with delimiter "/" until a response is not
// truncated.
type pager struct {
	b      *Backend
	path   string
	prefix string
	marker string
	done   bool
}

func (p *pager) NextPage(ctx context.Context) ([]objectdal.ObjectEntry, error) {
	if p.done {
		return nil, io.EOF
	}
	q := url.Values{}
	q.Set("delimiter", "/")
	if p.prefix != "" {
		q.Set("prefix", p.prefix)
	}
	if p.marker != "" {
		q.Set("marker", p.marker)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.b.endpoint+"/?"+q.Encode(), nil)
	if err != nil {
		return nil, buildError(objectdal.OperationPagerNext, p.path, err)
	}
	resp, err := p.b.send(req, objectdal.OperationPagerNext, p.path)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, httputil.ParseError(resp, objectdal.OperationPagerNext, objectdal.SchemeObs, p.path)
	}
	defer httputil.Drain(resp.Body)

	var out listBucketResult
	if err := xml.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, objectdal.NewError(objectdal.ErrorKindUnexpected, "deserialize xml").
			WithOperation(objectdal.OperationPagerNext).WithContext("service", objectdal.SchemeObs).
			WithContext("path", p.path).WithSource(err)
	}

	entries := make([]objectdal.ObjectEntry, 0, len(out.CommonPrefixes)+len(out.Contents))
	for _, cp := range out.CommonPrefixes {
		entries = append(entries, objectdal.NewObjectEntry(
			objectdal.BuildRelPath(p.b.root, cp.Prefix), objectdal.NewObjectMetadata(objectdal.ObjectModeDir)))
	}
	for _, c := range out.Contents {
		// The directory key itself shows up among its own contents.
		if c.Key == p.prefix {
			continue
		}
		rel := objectdal.BuildRelPath(p.b.root, c.Key)
		meta := objectdal.NewObjectMetadata(objectdal.ModeOfPath(rel)).WithContentLength(c.Size)
		meta.ETag = c.ETag
		if t, err := time.Parse(time.RFC3339, c.LastModified); err == nil {
			meta.LastModified = t
		}
		entries = append(entries, objectdal.NewObjectEntry(rel, meta))
	}

	p.done = !out.IsTruncated
	switch {
	case out.NextMarker != "":
		p.marker = out.NextMarker
	case len(out.Contents) > 0:
		p.marker = out.Contents[len(out.Contents)-1].Key
	default:
		// Truncated without a marker would loop forever.
		p.done = true
	}
	return entries, nil
}

func (p *pager) Close() error {
	p.done = true
	return nil
}
