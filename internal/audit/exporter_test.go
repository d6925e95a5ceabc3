package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/lychee-technology/extid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sliceSource []*extid.IdentifierMapping

func (s sliceSource) Scan(ctx context.Context, fn func(*extid.IdentifierMapping) error) error {
	for _, m := range s {
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}

type fakeBuckets struct {
	headErr   error
	createErr error
	created   []string
	copies    []s3.CopyObjectInput
	deleted   []string
}

func (f *fakeBuckets) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.headErr
}

func (f *fakeBuckets) CreateBucket(ctx context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.created = append(f.created, aws.ToString(in.Bucket))
	return &s3.CreateBucketOutput{}, f.createErr
}

func (f *fakeBuckets) CopyObject(ctx context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.copies = append(f.copies, *in)
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeBuckets) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

type fakeUploader struct {
	key  string
	body []byte
}

func (f *fakeUploader) Upload(ctx context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.key = aws.ToString(in.Key)
	f.body = data
	return &manager.UploadOutput{}, nil
}

func newTestExporter(buckets *fakeBuckets, up *fakeUploader) *Exporter {
	e := newExporter(buckets, up, extid.AuditConfig{Bucket: "ledger-audit", Prefix: "/extid-audit/"}, zap.NewNop())
	e.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	e.newID = func() string { return "run-1" }
	return e
}

func TestExporter_ExportWritesJSONLines(t *testing.T) {
	ctx := context.Background()
	buckets := &fakeBuckets{}
	up := &fakeUploader{}
	exporter := newTestExporter(buckets, up)

	created := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	src := sliceSource{
		{Element: extid.ElementHeader{GUID: "E1", TypeName: "Asset"}, SystemGUID: "S1", Identifier: extid.ExternalIdentifier{IdentifierValue: "EXT-1"}, CreatedAt: created},
		{Element: extid.ElementHeader{GUID: "E2", TypeName: "Asset"}, SystemGUID: "S1", Identifier: extid.ExternalIdentifier{IdentifierValue: "EXT-1"}, CreatedAt: created},
	}

	result, err := exporter.Export(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, "run-1", result.RunID)
	assert.Equal(t, 2, result.Count)
	assert.Equal(t, "extid-audit/2025/03/01/run-1.jsonl", result.Key)
	assert.Equal(t, "extid-audit/_tmp/run-1.jsonl", up.key)
	assert.Empty(t, buckets.created, "existing bucket is not recreated")

	require.Len(t, buckets.copies, 1)
	assert.Equal(t, "ledger-audit/extid-audit/_tmp/run-1.jsonl", aws.ToString(buckets.copies[0].CopySource))
	assert.Equal(t, []string{"extid-audit/_tmp/run-1.jsonl"}, buckets.deleted)

	var guids []string
	scanner := bufio.NewScanner(bytes.NewReader(up.body))
	for scanner.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		assert.Equal(t, "run-1", rec.RunID)
		guids = append(guids, rec.Mapping.Element.GUID)
	}
	assert.Equal(t, []string{"E1", "E2"}, guids)
	assert.Equal(t, len(up.body), result.Bytes)
}

func TestExporter_CreatesMissingBucket(t *testing.T) {
	buckets := &fakeBuckets{headErr: errors.New("not found")}
	exporter := newTestExporter(buckets, &fakeUploader{})

	_, err := exporter.Export(context.Background(), sliceSource{})
	require.NoError(t, err)
	assert.Equal(t, []string{"ledger-audit"}, buckets.created)
}

func TestExporter_TolerantOfBucketRace(t *testing.T) {
	buckets := &fakeBuckets{
		headErr:   errors.New("not found"),
		createErr: &smithy.GenericAPIError{Code: "BucketAlreadyOwnedByYou", Message: "owned"},
	}
	exporter := newTestExporter(buckets, &fakeUploader{})

	_, err := exporter.Export(context.Background(), sliceSource{})
	require.NoError(t, err)

	buckets.createErr = &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}
	_, err = exporter.Export(context.Background(), sliceSource{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create bucket")
}

func TestExporter_RequiresBucket(t *testing.T) {
	exporter := newExporter(&fakeBuckets{}, &fakeUploader{}, extid.AuditConfig{}, nil)
	_, err := exporter.Export(context.Background(), sliceSource{})
	require.Error(t, err)
}
