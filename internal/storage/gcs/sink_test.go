package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = New(client, Config{})
	require.Error(t, err)

	sink, err := New(client, Config{Bucket: "captures", Prefix: "cv"})
	require.NoError(t, err)
	require.Equal(t, "gcs", sink.Name())

	_, err = sink.Upload(context.Background(), " ", "application/pdf", []byte("x"))
	require.Error(t, err)
}

func TestObjectFor(t *testing.T) {
	t.Parallel()

	obj := objectFor("captures", "cv/report.pdf")
	require.Equal(t, "gs://captures/cv/report.pdf", obj.ID)
	require.Equal(t, "https://storage.cloud.google.com/captures/cv/report.pdf", obj.ViewURL)
}
