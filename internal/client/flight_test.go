package client

import (
	"context"
	"sync"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-ndgate/internal/device"
	"github.com/23skdu/longbow-ndgate/internal/shape"
)

type mockFlightServer struct {
	flight.BaseFlightServer

	mu       sync.Mutex
	datasets []string
	rows     int64
}

func (s *mockFlightServer) DoPut(stream flight.FlightService_DoPutServer) error {
	reader, err := flight.NewRecordReader(stream)
	if err != nil {
		return err
	}
	defer reader.Release()

	s.mu.Lock()
	if desc := reader.LatestFlightDescriptor(); desc != nil && len(desc.Path) > 0 {
		s.datasets = append(s.datasets, desc.Path[0])
	}
	s.mu.Unlock()

	for reader.Next() {
		s.mu.Lock()
		s.rows += reader.Record().NumRows()
		s.mu.Unlock()
	}
	return reader.Err()
}

// DoExchange doubles every value of the "x" column.
func (s *mockFlightServer) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	reader, err := flight.NewRecordReader(stream)
	if err != nil {
		return err
	}
	defer reader.Release()

	var writer *flight.Writer
	defer func() {
		if writer != nil {
			writer.Close()
		}
	}()

	for reader.Next() {
		in, err := ArrayFromRecord(reader.Record())
		if err != nil {
			return err
		}
		data := in.Float64s()
		for i := range data {
			data[i] *= 2
		}
		rec, err := NewRecordBatchBuilder(memory.NewGoAllocator()).BuildRecordBatch(in)
		if err != nil {
			return err
		}
		if writer == nil {
			writer = flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()))
		}
		err = writer.Write(rec)
		rec.Release()
		if err != nil {
			return err
		}
	}
	return reader.Err()
}

func startFlightServer(t *testing.T) (*mockFlightServer, string) {
	t.Helper()
	svc := &mockFlightServer{}
	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(svc)

	require.NoError(t, server.Init("localhost:0"))
	go func() {
		_ = server.Serve()
	}()
	t.Cleanup(server.Shutdown)
	return svc, server.Addr().String()
}

func TestFlightClient_DoPut(t *testing.T) {
	svc, addr := startFlightServer(t)

	client, err := NewFlightClient(addr)
	require.NoError(t, err)
	defer client.Close()

	pool := memory.NewGoAllocator()
	schema := arrow.NewSchema(
		[]arrow.Field{{Name: ColumnValues, Type: arrow.PrimitiveTypes.Float64}},
		nil,
	)
	b := array.NewFloat64Builder(pool)
	defer b.Release()
	b.AppendValues([]float64{1.0, 2.0}, nil)
	a := b.NewArray()
	defer a.Release()

	rb := array.NewRecordBatch(schema, []arrow.Array{a}, 2)
	defer rb.Release()

	err = client.DoPut(context.Background(), "test-dataset", rb)
	require.NoError(t, err)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Equal(t, []string{"test-dataset"}, svc.datasets)
	assert.Equal(t, int64(2), svc.rows)
}

func TestFlightClient_DoExchange(t *testing.T) {
	_, addr := startFlightServer(t)

	client, err := NewFlightClient(addr)
	require.NoError(t, err)
	defer client.Close()

	in := device.NewHost(shape.Of(2, 2), device.Float64, []float64{1, 2, 3, 4})
	rb, err := NewRecordBatchBuilder(memory.NewGoAllocator()).BuildRecordBatch(in)
	require.NoError(t, err)
	defer rb.Release()

	reply, err := client.DoExchange(context.Background(), "double", rb)
	require.NoError(t, err)
	defer reply.Release()

	out, err := ArrayFromRecord(reply)
	require.NoError(t, err)
	assert.Equal(t, shape.Of(2, 2), out.Shape())
	assert.Equal(t, []float64{2, 4, 6, 8}, out.Float64s())
}
