package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/deckconvert/constants"
)

func TestUpload_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/convert", r.URL.Path)

		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "deck.pptx", header.Filename)
		assert.Equal(t, "slides", string(data))

		_ = json.NewEncoder(w).Encode(map[string]string{"jobId": "job-1"})
	}))
	defer server.Close()

	c := New(server.URL+"/", WithHTTPClient(server.Client()))
	jobID, err := c.Upload(context.Background(), "deck.pptx", strings.NewReader("slides"))
	require.NoError(t, err)
	assert.Equal(t, "job-1", jobID)
}

func TestUpload_ServerErrorMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Only .pptx files supported"}`))
	}))
	defer server.Close()

	c := New(server.URL, WithHTTPClient(server.Client()))
	_, err := c.Upload(context.Background(), "deck.key", strings.NewReader("x"))
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "Only .pptx files supported", UploadErrorMessage(err))
}

func TestUpload_GenericFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	c := New(server.URL, WithHTTPClient(server.Client()))
	_, err := c.Upload(context.Background(), "deck.pptx", strings.NewReader("x"))
	require.Error(t, err)
	assert.Equal(t, constants.MsgUploadFailed, UploadErrorMessage(err))

	// Transport failures fall back too.
	assert.Equal(t, constants.MsgUploadFailed, UploadErrorMessage(errors.New("connection refused")))
}

func TestUpload_MissingJobID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := New(server.URL, WithHTTPClient(server.Client()))
	_, err := c.Upload(context.Background(), "deck.pptx", strings.NewReader("x"))
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/status/done":
			_, _ = w.Write([]byte(`{"status":"done","url":"https://cdn.example.com/a.pdf"}`))
		case "/status/bad-type":
			_, _ = w.Write([]byte(`{"status":42}`))
		case "/status/html":
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`<html>bad gateway</html>`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"job not found"}`))
		}
	}))
	defer server.Close()

	c := New(server.URL, WithHTTPClient(server.Client()))
	ctx := context.Background()

	st, err := c.Status(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, StatusResponse{Status: "done", URL: "https://cdn.example.com/a.pdf"}, st)

	_, err = c.Status(ctx, "bad-type")
	require.ErrorIs(t, err, ErrMalformedResponse)

	_, err = c.Status(ctx, "html")
	require.ErrorIs(t, err, ErrMalformedResponse)

	st, err = c.Status(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, "", st.Status)
	assert.Equal(t, "job not found", st.Error)
}
