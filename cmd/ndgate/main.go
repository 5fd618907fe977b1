package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"golang.org/x/sys/cpu"

	"github.com/23skdu/longbow-ndgate/internal/backend"
	"github.com/23skdu/longbow-ndgate/internal/client"
	"github.com/23skdu/longbow-ndgate/internal/device"
	"github.com/23skdu/longbow-ndgate/internal/dispatch"
	"github.com/23skdu/longbow-ndgate/internal/engine"
	"github.com/23skdu/longbow-ndgate/internal/random"
	"github.com/23skdu/longbow-ndgate/internal/shape"
)

var (
	cpuProfile       = flag.String("cpuprofile", "", "Write cpu profile to file")
	deviceName       = flag.String("device", "", "Shared-memory accelerator device name; empty runs host only")
	deviceFP64       = flag.Bool("fp64", true, "Accelerator executes double precision natively")
	seed             = flag.Uint64("seed", 0, "Random seed (0 uses the clock)")
	breakerThreshold = flag.Int("breaker-threshold", 5, "Consecutive accelerator failures before falling back (0 disables)")
	breakerCooldown  = flag.Duration("breaker-cooldown", 30*time.Second, "Time before a failed accelerator is probed again")
	distName         = flag.String("dist", "standard_normal", "Distribution to sample in CLI mode")
	distParams       = flag.String("params", "", "Distribution parameters in CLI mode (e.g. loc=0,scale=2)")
	sizeFlag         = flag.String("size", "8", "Output shape in CLI mode (e.g. 4,3); empty for the broadcast shape")
	dtypeFlag        = flag.String("dtype", "", "Result dtype in CLI mode")
	transform        = flag.String("transform", "", "Apply fft, ifft, fft2 or fftn to the samples in CLI mode")
	serverAddr       = flag.String("server", "", "Flight server address to forward results to (e.g., localhost:3000)")
	datasetName      = flag.String("dataset", "ndgate_dataset", "Target dataset name on server")
	listenAddr       = flag.String("listen", "", "Address to listen on for HTTP Server (e.g. :8080)")
	flightAddr       = flag.String("flight", "", "Address to listen on for Flight Server (e.g. :9090)")
	maxConcurrent    = flag.Int("max-concurrent", 1<<20, "Maximum number of array elements processed concurrently")
	enableOTel       = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer shutdown(context.Background())
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	s := *seed
	if s == 0 {
		s = uint64(time.Now().UnixNano())
	}
	eng, dev := newEngine(s)

	if *listenAddr != "" {
		var fc FlightClientInterface
		if *serverAddr != "" {
			c, err := client.NewFlightClient(*serverAddr)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to create flight client")
			}
			log.Info().Str("addr", *serverAddr).Msg("Connected to Flight Server")
			fc = c
		}

		srv := NewServer(eng, dev, fc, *datasetName, *maxConcurrent)
		go startServer(*listenAddr, srv)
		if *flightAddr == "" {
			select {}
		}
	}

	if *flightAddr != "" {
		StartFlightServer(*flightAddr, eng)
		return
	}

	if err := runOnce(context.Background(), eng); err != nil {
		log.Fatal().Err(err).Msg("Run failed")
	}
}

// newEngine builds the engine from flags and the NDGATE_* environment.
// Without -device every call takes the reference path.
func newEngine(seed uint64) (*engine.Engine, *device.SharedBackend) {
	cfg := dispatch.ConfigFromEnv()

	opts := engine.Options{
		Config:           cfg,
		Reference:        backend.NewHostReference(seed),
		BreakerThreshold: *breakerThreshold,
		BreakerCooldown:  *breakerCooldown,
	}

	var dev *device.SharedBackend
	if *deviceName != "" {
		dev = device.NewSharedBackend(*deviceName, device.Aspects{Float64: *deviceFP64})
		opts.Accelerated = backend.NewSharedExecutor(dev, seed+1)
	}

	log.Info().
		Str("device", *deviceName).
		Bool("fp64", *deviceFP64).
		Bool("force_reference", cfg.ForceReference).
		Bool("allow_fallback", cfg.AllowFallback).
		Bool("avx2", cpu.X86.HasAVX2).
		Bool("asimd", cpu.ARM64.HasASIMD).
		Msg("Engine configured")

	return engine.New(opts), dev
}

// runOnce draws one sample, optionally transforms it, and writes the result
// as an Arrow stream to stdout or forwards it to -server.
func runOnce(ctx context.Context, eng *engine.Engine) error {
	req, err := cliRequest(*distName, *distParams, *sizeFlag, *dtypeFlag)
	if err != nil {
		return err
	}

	start := time.Now()
	out, err := eng.Sample(ctx, req)
	if err != nil {
		return err
	}
	if *transform != "" {
		out, err = runTransform(ctx, eng, *transform, out, nil, nil, nil, nil, "")
		if err != nil {
			return err
		}
	}
	log.Info().
		Str("distribution", req.Distribution).
		Str("shape", out.Shape().String()).
		Str("dtype", out.DType().String()).
		Dur("elapsed", time.Since(start)).
		Msg("Computed result")
	if sa, ok := out.(*device.SharedArray); ok {
		defer sa.Release()
	}

	rec, err := client.NewRecordBatchBuilder(memory.NewGoAllocator()).BuildRecordBatch(out)
	if err != nil {
		return err
	}
	defer rec.Release()

	if *serverAddr == "" {
		return writeArrowStream(os.Stdout, rec)
	}

	log.Info().Str("server", *serverAddr).Str("dataset", *datasetName).Msg("Sending result to Flight server")
	fc, err := client.NewFlightClient(*serverAddr)
	if err != nil {
		return err
	}
	defer func() {
		if err := fc.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close flight client")
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	return fc.DoPut(ctx, *datasetName, rec)
}

// cliRequest builds a sampling request from command-line strings. A
// parameter value of "none" is an explicit None.
func cliRequest(dist, params, size, dtype string) (random.Request, error) {
	req := random.Request{Distribution: dist, Params: map[string]random.Value{}}

	for _, kv := range strings.Split(params, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		name, raw, ok := strings.Cut(kv, "=")
		if !ok {
			return random.Request{}, fmt.Errorf("parameter %q: expected name=value", kv)
		}
		if strings.EqualFold(raw, "none") {
			req.Params[name] = random.None
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return random.Request{}, fmt.Errorf("parameter %s: %w", name, err)
		}
		req.Params[name] = random.Scalar(v)
	}

	if size != "" {
		var dims []int
		for _, d := range strings.Split(size, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(d))
			if err != nil {
				return random.Request{}, fmt.Errorf("size %q: %w", size, err)
			}
			dims = append(dims, n)
		}
		req.Size = shape.Of(dims...)
	}

	if dtype != "" {
		d, err := device.ParseDType(dtype)
		if err != nil {
			return random.Request{}, err
		}
		req.DType = &d
	}
	return req, nil
}

func writeArrowStream(w io.Writer, rec arrow.RecordBatch) error {
	writer := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("ndgate"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
