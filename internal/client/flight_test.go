package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-bowyer/internal/embedding"
)

type mockFlightServer struct {
	flight.BaseFlightServer
	mu       sync.Mutex
	datasets []string
	rows     []int64
	fields   [][]string
}

func (s *mockFlightServer) DoPut(stream flight.FlightService_DoPutServer) error {
	reader, err := flight.NewRecordReader(stream)
	if err != nil {
		return err
	}
	defer reader.Release()

	var dataset string
	if desc := reader.LatestFlightDescriptor(); desc != nil && len(desc.Path) > 0 {
		dataset = desc.Path[0]
	}
	for reader.Next() {
		rec := reader.Record()
		names := make([]string, 0, rec.Schema().NumFields())
		for _, f := range rec.Schema().Fields() {
			names = append(names, f.Name)
		}
		s.mu.Lock()
		s.datasets = append(s.datasets, dataset)
		s.rows = append(s.rows, rec.NumRows())
		s.fields = append(s.fields, names)
		s.mu.Unlock()
	}
	return reader.Err()
}

func (s *mockFlightServer) received() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.datasets)
}

func startMockServer(t *testing.T) (*mockFlightServer, string) {
	t.Helper()
	mock := &mockFlightServer{}
	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(mock)

	require.NoError(t, server.Init("localhost:0"))
	go func() {
		_ = server.Serve()
	}()
	t.Cleanup(server.Shutdown)
	return mock, server.Addr().String()
}

func testEmbeddings(t *testing.T) *embedding.Embeddings {
	t.Helper()
	e, err := embedding.New([]string{"east", "west"}, []float32{1, 0, -1, 0}, 2)
	require.NoError(t, err)
	return e
}

func TestFlightClientDoPut(t *testing.T) {
	mock, addr := startMockServer(t)

	client, err := NewFlightClient(addr)
	require.NoError(t, err)
	defer client.Close()

	pool := memory.NewGoAllocator()
	schema := arrow.NewSchema(
		[]arrow.Field{{Name: "f1", Type: arrow.PrimitiveTypes.Float32}},
		nil,
	)
	b := array.NewFloat32Builder(pool)
	defer b.Release()
	b.AppendValues([]float32{1.0, 2.0}, nil)
	a := b.NewArray()
	defer a.Release()

	rb := array.NewRecordBatch(schema, []arrow.Array{a}, 2)
	defer rb.Release()

	require.NoError(t, client.DoPut(context.Background(), "test-dataset", rb))
	require.Eventually(t, func() bool { return mock.received() == 1 }, 2*time.Second, 10*time.Millisecond)

	mock.mu.Lock()
	defer mock.mu.Unlock()
	assert.Equal(t, "test-dataset", mock.datasets[0])
	assert.Equal(t, int64(2), mock.rows[0])
}

func TestPushVectors(t *testing.T) {
	mock, addr := startMockServer(t)

	client, err := NewFlightClient(addr)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.PushVectors(context.Background(), "words", testEmbeddings(t)))
	require.Eventually(t, func() bool { return mock.received() == 1 }, 2*time.Second, 10*time.Millisecond)

	mock.mu.Lock()
	defer mock.mu.Unlock()
	assert.Equal(t, "words", mock.datasets[0])
	assert.Equal(t, int64(2), mock.rows[0])
	assert.Equal(t, []string{"word", "vector"}, mock.fields[0])
}

func TestPushVectorsCircuitOpen(t *testing.T) {
	// Nothing listens on port 1, grpc dials lazily.
	client, err := NewFlightClient("localhost:1")
	require.NoError(t, err)
	defer client.Close()

	for i := 0; i < 5; i++ {
		client.breaker.Failure()
	}
	require.Equal(t, StateOpen, client.breaker.State())

	err = client.PushVectors(context.Background(), "words", testEmbeddings(t))
	require.ErrorIs(t, err, ErrCircuitOpen)
}

func TestPushVectorsFailureTripsBreaker(t *testing.T) {
	client, err := NewFlightClient("localhost:1")
	require.NoError(t, err)
	defer client.Close()

	e := testEmbeddings(t)
	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		err := client.PushVectors(ctx, "words", e)
		cancel()
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrCircuitOpen)
	}
	assert.Equal(t, StateOpen, client.breaker.State())
}
