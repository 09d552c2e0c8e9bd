package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-bowyer/internal/embedding"
)

func newTestEmbeddings(t *testing.T) *embedding.Embeddings {
	t.Helper()
	words := []string{"east", "west", "north", "northeast"}
	vecs := []float32{
		1, 0,
		-1, 0,
		0, 1,
		1, 1,
	}
	e, err := embedding.New(words, vecs, 2)
	require.NoError(t, err)
	return e
}

func postNeighbors(srv *Server, target string, words []string) *httptest.ResponseRecorder {
	data, _ := cbor.Marshal(words)
	req, _ := http.NewRequest("POST", target, bytes.NewReader(data))
	rr := httptest.NewRecorder()
	http.HandlerFunc(srv.handleNeighbors).ServeHTTP(rr, req)
	return rr
}

func TestServer_Full(t *testing.T) {
	srv := NewServer(newTestEmbeddings(t), 8)

	t.Run("HandleNeighbors", func(t *testing.T) {
		rr := postNeighbors(srv, "/neighbors", []string{"east", "west"})

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "application/cbor", rr.Header().Get("Content-Type"))

		var results [][]embedding.Neighbor
		require.NoError(t, cbor.Unmarshal(rr.Body.Bytes(), &results))
		require.Len(t, results, 2)
		assert.Equal(t, "northeast", results[0][0].Word)
		assert.Equal(t, "north", results[1][0].Word)
	})

	t.Run("HandleNeighbors with k", func(t *testing.T) {
		rr := postNeighbors(srv, "/neighbors?k=1", []string{"east"})

		assert.Equal(t, http.StatusOK, rr.Code)
		var results [][]embedding.Neighbor
		require.NoError(t, cbor.Unmarshal(rr.Body.Bytes(), &results))
		require.Len(t, results, 1)
		assert.Len(t, results[0], 1)
	})

	t.Run("HandleNeighbors bad k", func(t *testing.T) {
		rr := postNeighbors(srv, "/neighbors?k=0", []string{"east"})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("HandleNeighbors unknown word", func(t *testing.T) {
		rr := postNeighbors(srv, "/neighbors", []string{"zz"})

		assert.Equal(t, http.StatusOK, rr.Code)
		var results [][]embedding.Neighbor
		require.NoError(t, cbor.Unmarshal(rr.Body.Bytes(), &results))
		require.Len(t, results, 1)
		assert.Empty(t, results[0])
	})

	t.Run("HandleNeighbors cached", func(t *testing.T) {
		local := NewServer(newTestEmbeddings(t), 8)

		first := postNeighbors(local, "/neighbors", []string{"east", "west"})
		require.Equal(t, http.StatusOK, first.Code)
		size := local.cache.Size()
		assert.Equal(t, 2, size)

		second := postNeighbors(local, "/neighbors", []string{"east", "west"})
		require.Equal(t, http.StatusOK, second.Code)
		assert.Equal(t, size, local.cache.Size())
		assert.Equal(t, first.Body.Bytes(), second.Body.Bytes())
	})

	t.Run("HandleNeighbors bad CBOR", func(t *testing.T) {
		req, _ := http.NewRequest("POST", "/neighbors", bytes.NewReader([]byte{0xff, 0xff}))
		rr := httptest.NewRecorder()
		http.HandlerFunc(srv.handleNeighbors).ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("HandleNeighbors wrong method", func(t *testing.T) {
		req, _ := http.NewRequest("GET", "/neighbors", nil)
		rr := httptest.NewRecorder()
		http.HandlerFunc(srv.handleNeighbors).ServeHTTP(rr, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	})

	t.Run("HandleNeighbors empty list", func(t *testing.T) {
		rr := postNeighbors(srv, "/neighbors", []string{})
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Zero(t, rr.Body.Len())
	})

	t.Run("HandleNeighbors over weight limit", func(t *testing.T) {
		small := NewServer(newTestEmbeddings(t), 2)
		rr := postNeighbors(small, "/neighbors", []string{"east", "west", "north"})
		assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	})

	t.Run("HandleVector", func(t *testing.T) {
		req, _ := http.NewRequest("GET", "/vector?word=east", nil)
		rr := httptest.NewRecorder()
		http.HandlerFunc(srv.handleVector).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		var vec []float32
		require.NoError(t, cbor.Unmarshal(rr.Body.Bytes(), &vec))
		require.Len(t, vec, 2)
		assert.InDelta(t, 1.0, vec[0], 1e-6)
		assert.InDelta(t, 0.0, vec[1], 1e-6)
	})

	t.Run("HandleVector missing word", func(t *testing.T) {
		req, _ := http.NewRequest("GET", "/vector", nil)
		rr := httptest.NewRecorder()
		http.HandlerFunc(srv.handleVector).ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("HandleVector unknown word", func(t *testing.T) {
		req, _ := http.NewRequest("GET", "/vector?word=zz", nil)
		rr := httptest.NewRecorder()
		http.HandlerFunc(srv.handleVector).ServeHTTP(rr, req)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("HandleVector wrong method", func(t *testing.T) {
		req, _ := http.NewRequest("POST", "/vector", nil)
		rr := httptest.NewRecorder()
		http.HandlerFunc(srv.handleVector).ServeHTTP(rr, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	})

	t.Run("Health Check", func(t *testing.T) {
		req, _ := http.NewRequest("GET", "/health", nil)
		rr := httptest.NewRecorder()

		srv.handleHealth(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "OK", rr.Body.String())
	})
}
