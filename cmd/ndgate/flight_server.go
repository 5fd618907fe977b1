package main

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-ndgate/internal/client"
	"github.com/23skdu/longbow-ndgate/internal/device"
)

var flightRows = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ndgate_flight_rows_total",
	Help: "Rows received over Flight by method",
}, []string{"method"})

// NdgateFlightServer serves transforms over DoExchange and accepts sample
// batches over DoPut.
type NdgateFlightServer struct {
	flight.BaseFlightServer
	gateway Gateway
	alloc   memory.Allocator
	builder *client.RecordBatchBuilder
}

func NewNdgateFlightServer(g Gateway) *NdgateFlightServer {
	alloc := memory.NewGoAllocator()
	return &NdgateFlightServer{
		gateway: g,
		alloc:   alloc,
		builder: client.NewRecordBatchBuilder(alloc),
	}
}

// parseCommand splits a DoExchange command of the form "op" or "op:norm".
func parseCommand(cmd []byte) (op, norm string) {
	op, norm, _ = strings.Cut(strings.TrimSpace(string(cmd)), ":")
	return strings.ToLower(op), norm
}

// DoExchange applies the transform named by the descriptor command to every
// batch and streams the results back.
func (s *NdgateFlightServer) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.alloc))
	if err != nil {
		return err
	}
	defer reader.Release()

	desc := reader.LatestFlightDescriptor()
	if desc == nil || len(desc.Cmd) == 0 {
		return fmt.Errorf("exchange: missing command descriptor")
	}
	op, norm := parseCommand(desc.Cmd)

	var writer *flight.Writer
	defer func() {
		if writer != nil {
			_ = writer.Close()
		}
	}()

	ctx := stream.Context()
	for reader.Next() {
		rec := reader.Record()
		flightRows.WithLabelValues("exchange").Add(float64(rec.NumRows()))

		x, err := client.ArrayFromRecord(rec)
		if err != nil {
			return err
		}
		out, err := runTransform(ctx, s.gateway, op, x, nil, nil, nil, nil, norm)
		if err != nil {
			return err
		}
		reply, err := s.builder.BuildRecordBatch(out)
		if sa, ok := out.(*device.SharedArray); ok {
			sa.Release()
		}
		if err != nil {
			return err
		}
		if writer == nil {
			writer = flight.NewRecordWriter(stream, ipc.WithSchema(reply.Schema()), ipc.WithAllocator(s.alloc))
		}
		err = writer.Write(reply)
		reply.Release()
		if err != nil {
			return err
		}
	}
	return reader.Err()
}

func (s *NdgateFlightServer) DoPut(stream flight.FlightService_DoPutServer) error {
	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.alloc))
	if err != nil {
		return err
	}
	defer reader.Release()

	dataset := ""
	if desc := reader.LatestFlightDescriptor(); desc != nil && len(desc.Path) > 0 {
		dataset = desc.Path[0]
	}

	for reader.Next() {
		rec := reader.Record()
		flightRows.WithLabelValues("put").Add(float64(rec.NumRows()))
		log.Info().Str("dataset", dataset).Int64("rows", rec.NumRows()).Msg("DoPut received batch")
	}
	return reader.Err()
}

func StartFlightServer(addr string, g Gateway) {
	server := flight.NewFlightServer()
	server.RegisterFlightService(NewNdgateFlightServer(g))

	if err := server.Init(addr); err != nil {
		log.Fatal().Err(err).Msg("Failed to init Flight server")
	}

	log.Info().Str("addr", addr).Msg("Starting ndgate Flight server")
	if err := server.Serve(); err != nil {
		log.Fatal().Err(err).Msg("Flight server failed")
	}
}
