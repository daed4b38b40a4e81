package storage_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boddenberg/lead-router-go/internal/domain"
	"github.com/boddenberg/lead-router-go/internal/infra/storage"
)

func newStore(t *testing.T, h http.HandlerFunc) *storage.S3Store {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	store, err := storage.NewS3Store(context.Background(), storage.S3Config{
		Endpoint:  srv.URL,
		Region:    "us-east-1",
		Bucket:    "imports",
		AccessKey: "test",
		SecretKey: "test",
	})
	require.NoError(t, err)
	return store
}

func TestS3Store_GetObject(t *testing.T) {
	store := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/imports/uploads/leads.csv", r.URL.Path)
		_, _ = w.Write([]byte("email\na@example.com\n"))
	})

	body, err := store.GetObject(context.Background(), "uploads/leads.csv")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "email\na@example.com\n", string(data))
}

func TestS3Store_MissingKeyIsNotFound(t *testing.T) {
	store := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`))
	})

	_, err := store.GetObject(context.Background(), "missing.csv")
	var nf *domain.ErrNotFound
	assert.ErrorAs(t, err, &nf)
}
