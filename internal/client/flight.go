package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/longbow-bowyer/internal/embedding"
)

// ErrCircuitOpen is returned when the breaker is rejecting uploads.
var ErrCircuitOpen = errors.New("client: circuit open")

// FlightClient ships embedding tables to a Longbow server via Apache Flight.
type FlightClient struct {
	client  flight.Client
	conn    *grpc.ClientConn
	breaker *CircuitBreaker
}

// NewFlightClient creates a new Flight client connected to the given address.
func NewFlightClient(addr string) (*FlightClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}

	return &FlightClient{
		client:  flight.NewClientFromConn(conn, nil),
		conn:    conn,
		breaker: NewCircuitBreaker(5, 30*time.Second),
	}, nil
}

// DoPut sends a RecordBatch to the given dataset on the Longbow server. The
// dataset name travels as the flight descriptor path.
func (c *FlightClient) DoPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error {
	desc := &flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{datasetName},
	}

	stream, err := c.client.DoPut(ctx)
	if err != nil {
		return err
	}

	writer := flight.NewRecordWriter(stream)
	writer.SetFlightDescriptor(desc)

	if err := writer.Write(record); err != nil {
		return err
	}

	return writer.Close()
}

// PushVectors uploads the full embedding table as a single record batch,
// guarded by the circuit breaker.
func (c *FlightClient) PushVectors(ctx context.Context, dataset string, e *embedding.Embeddings) error {
	if !c.breaker.Allow() {
		return ErrCircuitOpen
	}

	rec, err := e.Record(memory.DefaultAllocator)
	if err != nil {
		return err
	}
	defer rec.Release()

	if err := c.DoPut(ctx, dataset, rec); err != nil {
		c.breaker.Failure()
		return fmt.Errorf("client: push %q: %w", dataset, err)
	}
	c.breaker.Success()
	return nil
}

// Close closes the client connection.
func (c *FlightClient) Close() error {
	return c.conn.Close()
}
