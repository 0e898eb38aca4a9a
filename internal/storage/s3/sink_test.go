package s3

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = body
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestUploadPutsObject(t *testing.T) {
	t.Parallel()

	fake := &fakePutter{}
	sink := &Sink{client: fake, cfg: Config{Bucket: "cvs", Prefix: "captures", Region: "eu-west-1"}}

	obj, err := sink.Upload(context.Background(), "report.pdf", "application/pdf", []byte("%PDF"))
	require.NoError(t, err)
	require.Equal(t, "s3://cvs/captures/report.pdf", obj.ID)
	require.Equal(t, "https://cvs.s3.eu-west-1.amazonaws.com/captures/report.pdf", obj.ViewURL)
	require.Equal(t, "cvs", aws.ToString(fake.input.Bucket))
	require.Equal(t, "captures/report.pdf", aws.ToString(fake.input.Key))
	require.Equal(t, "application/pdf", aws.ToString(fake.input.ContentType))
	require.Equal(t, int64(4), aws.ToInt64(fake.input.ContentLength))
	require.Equal(t, []byte("%PDF"), fake.body)
}

func TestUploadCustomEndpointURL(t *testing.T) {
	t.Parallel()

	sink := &Sink{client: &fakePutter{}, cfg: Config{Bucket: "cvs", Endpoint: "http://minio:9000/"}}
	obj, err := sink.Upload(context.Background(), "my cv.pdf", "", nil)
	require.NoError(t, err)
	require.Equal(t, "http://minio:9000/cvs/my%20cv.pdf", obj.ViewURL)
}

func TestUploadErrors(t *testing.T) {
	t.Parallel()

	sink := &Sink{client: &fakePutter{err: errors.New("AccessDenied")}, cfg: Config{Bucket: "cvs"}}
	_, err := sink.Upload(context.Background(), "cv.pdf", "application/pdf", []byte("x"))
	require.ErrorContains(t, err, "AccessDenied")

	_, err = sink.Upload(context.Background(), "", "application/pdf", nil)
	require.Error(t, err)
}

func TestNewRequiresBucket(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)

	sink, err := New(context.Background(), Config{
		Bucket:          "cvs",
		Region:          "us-east-2",
		AccessKeyID:     "AKID",
		SecretAccessKey: "SECRET",
		Endpoint:        "http://localhost:9000",
		UsePathStyle:    true,
	})
	require.NoError(t, err)
	require.Equal(t, "s3", sink.Name())
}
