package s3

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/grokify/objectdal"
)

// pager turns ListObjectsV2 pages into entries.
type pager struct {
	root      string
	path      string
	prefix    string
	paginator *s3.ListObjectsV2Paginator
	closed    bool
}

func (p *pager) NextPage(ctx context.Context) ([]objectdal.ObjectEntry, error) {
	if p.closed || !p.paginator.HasMorePages() {
		return nil, io.EOF
	}
	page, err := p.paginator.NextPage(ctx)
	if err != nil {
		return nil, translateError(err, objectdal.OperationPagerNext, p.path)
	}

	entries := make([]objectdal.ObjectEntry, 0, len(page.CommonPrefixes)+len(page.Contents))
	for _, cp := range page.CommonPrefixes {
		entries = append(entries, objectdal.NewObjectEntry(
			objectdal.BuildRelPath(p.root, aws.ToString(cp.Prefix)),
			objectdal.NewObjectMetadata(objectdal.ObjectModeDir)))
	}
	for _, obj := range page.Contents {
		key := aws.ToString(obj.Key)
		// The directory marker shows up among its own contents.
		if key == p.prefix {
			continue
		}
		rel := objectdal.BuildRelPath(p.root, key)
		entries = append(entries, objectdal.NewObjectEntry(rel,
			objectMetadata(objectdal.ModeOfPath(rel), obj.Size, nil, obj.ETag, obj.LastModified)))
	}
	return entries, nil
}

func (p *pager) Close() error {
	p.closed = true
	return nil
}
