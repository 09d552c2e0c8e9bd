package embedding

import (
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Schema describes the Arrow layout of an embedding table:
// { "word": utf8, "vector": fixed_size_list<float32>[dim] }.
func (e *Embeddings) Schema() *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "word", Type: arrow.BinaryTypes.String},
			{Name: "vector", Type: arrow.FixedSizeListOf(int32(e.dim), arrow.PrimitiveTypes.Float32)},
		},
		nil,
	)
}

// Record materializes all vectors as a single Arrow record batch. The caller
// owns the returned record and must Release it.
func (e *Embeddings) Record(mem memory.Allocator) (arrow.RecordBatch, error) {
	if e.dim < 1 {
		return nil, fmt.Errorf("embedding: dim %d, cannot build record", e.dim)
	}
	schema := e.Schema()

	wordBuilder := array.NewStringBuilder(mem)
	defer wordBuilder.Release()

	vecBuilder := array.NewFixedSizeListBuilder(mem, int32(e.dim), arrow.PrimitiveTypes.Float32)
	defer vecBuilder.Release()
	floatBuilder := vecBuilder.ValueBuilder().(*array.Float32Builder)

	for id, word := range e.words {
		wordBuilder.Append(word)
		vecBuilder.Append(true)
		floatBuilder.AppendValues(e.row(id), nil)
	}

	wordArr := wordBuilder.NewArray()
	defer wordArr.Release()
	vecArr := vecBuilder.NewArray()
	defer vecArr.Release()

	rec := array.NewRecordBatch(schema, []arrow.Array{wordArr, vecArr}, int64(len(e.words)))
	return rec, nil
}

// WriteArrowIPC streams the embedding table to w as a single-batch Arrow IPC
// stream.
func (e *Embeddings) WriteArrowIPC(w io.Writer) error {
	rec, err := e.Record(memory.DefaultAllocator)
	if err != nil {
		return err
	}
	defer rec.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return fmt.Errorf("embedding: ipc write: %w", err)
	}
	return writer.Close()
}
