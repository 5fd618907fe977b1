package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-ndgate/internal/backend"
	"github.com/23skdu/longbow-ndgate/internal/client"
	"github.com/23skdu/longbow-ndgate/internal/device"
	"github.com/23skdu/longbow-ndgate/internal/dispatch"
	"github.com/23skdu/longbow-ndgate/internal/random"
	"github.com/23skdu/longbow-ndgate/internal/shape"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ndgate_http_requests_total",
		Help: "HTTP requests by handler and status code",
	}, []string{"handler", "code"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ndgate_request_duration_seconds",
		Help:    "Time spent processing HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"handler"})

	samplesProduced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ndgate_samples_produced_total",
		Help: "The total number of random variates returned",
	})

	admissionInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ndgate_admission_inflight_elements",
		Help: "Elements currently admitted by the request semaphore",
	})
)

// Gateway is the engine surface the servers use.
type Gateway interface {
	FFT(ctx context.Context, x device.Array, n, axis *int, norm string) (device.Array, error)
	IFFT(ctx context.Context, x device.Array, n, axis *int, norm string) (device.Array, error)
	FFT2(ctx context.Context, x device.Array, s, axes []int, norm string) (device.Array, error)
	FFTN(ctx context.Context, x device.Array, s, axes []int, norm string) (device.Array, error)
	Window(ctx context.Context, name string, m int) (device.Array, error)
	Sample(ctx context.Context, req random.Request) (device.Array, error)
}

type FlightClientInterface interface {
	DoPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error
	Close() error
}

type Server struct {
	gateway      Gateway
	device       *device.SharedBackend
	flightClient FlightClientInterface
	datasetName  string
	alloc        memory.Allocator
	builder      *client.RecordBatchBuilder
	sem          *semaphore.Weighted
	maxWeight    int64
}

// NewServer creates an HTTP server. dev may be nil, in which case requests
// asking for device-resident input are served from host memory.
func NewServer(g Gateway, dev *device.SharedBackend, fc FlightClientInterface, dataset string, maxConcurrent int) *Server {
	alloc := memory.NewGoAllocator()
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Server{
		gateway:      g,
		device:       dev,
		flightClient: fc,
		datasetName:  dataset,
		alloc:        alloc,
		builder:      client.NewRecordBatchBuilder(alloc),
		sem:          semaphore.NewWeighted(int64(maxConcurrent)),
		maxWeight:    int64(maxConcurrent),
	}
}

// Routes registers the handlers on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("POST /fft", s.handleFFT)
	mux.HandleFunc("POST /fft/arrow", s.handleFFTArrow)
	mux.HandleFunc("POST /random/{dist}", s.handleSample)
	mux.HandleFunc("GET /window/{name}", s.handleWindow)
	mux.HandleFunc("/health", s.handleHealth)
}

func startServer(addr string, srv *Server) {
	mux := http.NewServeMux()
	srv.Routes(mux)

	log.Info().Str("addr", addr).Msg("Starting ndgate server")
	if srv.flightClient != nil {
		log.Info().Str("dataset", srv.datasetName).Msg("Forwarding samples to Flight server")
	}

	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

var tracer = otel.Tracer("ndgate-server")

// fftRequest is the CBOR body of POST /fft. Imag is omitted for real input.
type fftRequest struct {
	Op     string    `cbor:"op,omitempty"`
	Shape  []int     `cbor:"shape"`
	Real   []float64 `cbor:"real"`
	Imag   []float64 `cbor:"imag,omitempty"`
	N      *int      `cbor:"n,omitempty"`
	Axis   *int      `cbor:"axis,omitempty"`
	S      []int     `cbor:"s,omitempty"`
	Axes   []int     `cbor:"axes,omitempty"`
	Norm   string    `cbor:"norm,omitempty"`
	Device bool      `cbor:"device,omitempty"`
}

// paramValue is a distribution parameter on the wire. A missing data field
// is None.
type paramValue struct {
	Shape []int     `cbor:"shape,omitempty"`
	Data  []float64 `cbor:"data"`
	DType string    `cbor:"dtype,omitempty"`
}

// sampleRequest is the CBOR body of POST /random/{dist}. A missing size
// means one draw per broadcast parameter element; an empty size is a
// 0-d result.
type sampleRequest struct {
	Params map[string]paramValue `cbor:"params,omitempty"`
	Size   []int                 `cbor:"size"`
	DType  string                `cbor:"dtype,omitempty"`
}

// arrayResponse carries a result array. float16 results are sent as
// binary16 bit patterns in Half.
type arrayResponse struct {
	Shape []int     `cbor:"shape"`
	DType string    `cbor:"dtype"`
	Real  []float64 `cbor:"real,omitempty"`
	Imag  []float64 `cbor:"imag,omitempty"`
	Half  []uint16  `cbor:"half,omitempty"`
}

func (s *Server) handleFFT(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleFFT")
	defer span.End()
	defer observe("fft", time.Now())

	var req fftRequest
	if err := cbor.NewDecoder(r.Body).Decode(&req); err != nil {
		span.RecordError(err)
		s.fail(w, "fft", fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
		return
	}

	var x device.Array
	host, err := req.array()
	if err != nil {
		span.RecordError(err)
		s.fail(w, "fft", err.Error(), http.StatusBadRequest)
		return
	}
	x = host
	if req.Device && s.device != nil {
		up := s.device.Upload(x)
		defer up.Release()
		x = up
	}

	span.SetAttributes(
		attribute.String("op", req.op()),
		attribute.Int("elements", x.Size()),
	)

	release, ok := s.admit(ctx, x.Size())
	if !ok {
		s.fail(w, "fft", "Server busy", http.StatusServiceUnavailable)
		return
	}
	defer release()

	out, err := runTransform(ctx, s.gateway, req.op(), x, req.N, req.Axis, req.S, req.Axes, req.Norm)
	if err != nil {
		span.RecordError(err)
		s.fail(w, "fft", err.Error(), statusFor(err))
		return
	}
	s.respond(w, "fft", out)
}

func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleSample")
	defer span.End()
	defer observe("random", time.Now())

	var body sampleRequest
	if err := cbor.NewDecoder(r.Body).Decode(&body); err != nil {
		span.RecordError(err)
		s.fail(w, "random", fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
		return
	}

	req, err := body.request(r.PathValue("dist"))
	if err != nil {
		span.RecordError(err)
		s.fail(w, "random", err.Error(), http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("distribution", req.Distribution))

	weight := 1
	if req.Size != nil {
		weight = req.Size.NumElements()
	}
	release, ok := s.admit(ctx, weight)
	if !ok {
		s.fail(w, "random", "Server busy", http.StatusServiceUnavailable)
		return
	}
	defer release()

	out, err := s.gateway.Sample(ctx, req)
	if err != nil {
		span.RecordError(err)
		s.fail(w, "random", err.Error(), statusFor(err))
		return
	}
	samplesProduced.Add(float64(out.Size()))

	if s.flightClient != nil {
		if err := s.forward(ctx, out); err != nil {
			log.Error().Err(err).Str("distribution", req.Distribution).Msg("Error forwarding samples")
		}
	}
	s.respond(w, "random", out)
}

func (s *Server) handleWindow(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleWindow")
	defer span.End()
	defer observe("window", time.Now())

	m, err := strconv.Atoi(r.URL.Query().Get("m"))
	if err != nil {
		s.fail(w, "window", "Bad Request: m must be an integer", http.StatusBadRequest)
		return
	}

	out, err := s.gateway.Window(ctx, r.PathValue("name"), m)
	if err != nil {
		span.RecordError(err)
		s.fail(w, "window", err.Error(), statusFor(err))
		return
	}
	s.respond(w, "window", out)
}

// handleFFTArrow transforms each batch of an Arrow IPC stream and streams the
// results back. The op and norm query parameters select the transform.
func (s *Server) handleFFTArrow(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleFFTArrow")
	defer span.End()
	defer observe("fft_arrow", time.Now())

	op := r.URL.Query().Get("op")
	if op == "" {
		op = dispatch.OpFFT
	}
	norm := r.URL.Query().Get("norm")

	reader, err := ipc.NewReader(r.Body, ipc.WithAllocator(s.alloc))
	if err != nil {
		s.fail(w, "fft_arrow", fmt.Sprintf("Failed to create IPC reader: %v", err), http.StatusBadRequest)
		return
	}
	defer reader.Release()

	var writer *ipc.Writer
	batches := 0
	for reader.Next() {
		x, err := client.ArrayFromRecord(reader.Record())
		if err != nil {
			log.Warn().Err(err).Msg("Skipping unreadable batch")
			continue
		}

		release, ok := s.admit(ctx, x.Size())
		if !ok {
			break
		}
		out, err := runTransform(ctx, s.gateway, op, x, nil, nil, nil, nil, norm)
		release()
		if err != nil {
			span.RecordError(err)
			if writer == nil {
				s.fail(w, "fft_arrow", err.Error(), statusFor(err))
				return
			}
			log.Error().Err(err).Int("batch", batches).Msg("Transform failed mid-stream")
			break
		}

		rec, err := s.builder.BuildRecordBatch(out)
		if err != nil {
			log.Error().Err(err).Msg("Failed to build record batch")
			break
		}
		if writer == nil {
			w.Header().Set("Content-Type", "application/vnd.apache.arrow.stream")
			writer = ipc.NewWriter(w, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(s.alloc))
		}
		err = writer.Write(rec)
		rec.Release()
		if err != nil {
			log.Error().Err(err).Msg("Failed to write Arrow batch")
			break
		}
		batches++
	}

	if reader.Err() != nil && writer == nil {
		log.Error().Err(reader.Err()).Msg("Error reading Arrow stream")
		s.fail(w, "fft_arrow", "Stream error", http.StatusBadRequest)
		return
	}
	if writer == nil {
		w.WriteHeader(http.StatusNoContent)
		requestsTotal.WithLabelValues("fft_arrow", strconv.Itoa(http.StatusNoContent)).Inc()
		return
	}
	if err := writer.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close Arrow stream")
	}
	span.SetAttributes(attribute.Int("batches", batches))
	requestsTotal.WithLabelValues("fft_arrow", strconv.Itoa(http.StatusOK)).Inc()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// admit acquires weight elements from the admission semaphore. Requests
// larger than the whole budget take all of it.
func (s *Server) admit(ctx context.Context, n int) (func(), bool) {
	weight := int64(n)
	if weight < 1 {
		weight = 1
	}
	if weight > s.maxWeight {
		weight = s.maxWeight
	}
	if err := s.sem.Acquire(ctx, weight); err != nil {
		log.Error().Err(err).Msg("Failed to acquire semaphore")
		return nil, false
	}
	admissionInFlight.Add(float64(weight))
	return func() {
		admissionInFlight.Sub(float64(weight))
		s.sem.Release(weight)
	}, true
}

func (s *Server) forward(ctx context.Context, a device.Array) error {
	rec, err := s.builder.BuildRecordBatch(a)
	if err != nil {
		return err
	}
	defer rec.Release()
	return s.flightClient.DoPut(ctx, s.datasetName, rec)
}

func (s *Server) respond(w http.ResponseWriter, handler string, a device.Array) {
	if sa, ok := a.(*device.SharedArray); ok {
		defer sa.Release()
	}
	body, err := cbor.Marshal(newArrayResponse(a))
	if err != nil {
		s.fail(w, handler, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/cbor")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
	requestsTotal.WithLabelValues(handler, strconv.Itoa(http.StatusOK)).Inc()
}

func (s *Server) fail(w http.ResponseWriter, handler, msg string, code int) {
	requestsTotal.WithLabelValues(handler, strconv.Itoa(code)).Inc()
	http.Error(w, msg, code)
}

func observe(handler string, start time.Time) {
	requestDuration.WithLabelValues(handler).Observe(time.Since(start).Seconds())
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		domain    *random.DomainError
		broadcast *random.ShapeBroadcastError
		shapes    *shape.BroadcastError
		points    *backend.DataPointsError
	)
	switch {
	case errors.Is(err, random.ErrUnknownDistribution), errors.Is(err, backend.ErrUnsupportedOp):
		return http.StatusNotFound
	case errors.Is(err, dispatch.ErrFallbackNotAllowed):
		return http.StatusNotImplemented
	case errors.As(err, &domain), errors.As(err, &broadcast), errors.As(err, &shapes), errors.As(err, &points),
		errors.Is(err, random.ErrMissingParameter), errors.Is(err, random.ErrUnexpectedParameter),
		errors.Is(err, random.ErrUnsupportedDType), errors.Is(err, backend.ErrInvalidNorm),
		errors.Is(err, shape.ErrAxisOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// runTransform dispatches op to the matching engine call.
func runTransform(ctx context.Context, g Gateway, op string, x device.Array, n, axis *int, s, axes []int, norm string) (device.Array, error) {
	switch op {
	case "", dispatch.OpFFT:
		return g.FFT(ctx, x, n, axis, norm)
	case dispatch.OpIFFT:
		return g.IFFT(ctx, x, n, axis, norm)
	case dispatch.OpFFT2:
		return g.FFT2(ctx, x, s, axes, norm)
	case dispatch.OpFFTN:
		return g.FFTN(ctx, x, s, axes, norm)
	}
	return nil, fmt.Errorf("%w: %q", backend.ErrUnsupportedOp, op)
}

func (r fftRequest) op() string {
	if r.Op == "" {
		return dispatch.OpFFT
	}
	return r.Op
}

func (r fftRequest) array() (*device.HostArray, error) {
	s := shape.Of(r.Shape...)
	if r.Shape == nil {
		s = shape.Of(len(r.Real))
	}
	if len(r.Real) != s.NumElements() {
		return nil, fmt.Errorf("real holds %d elements, shape %v needs %d", len(r.Real), s, s.NumElements())
	}
	if r.Imag == nil {
		return device.NewHost(s, device.Float64, r.Real), nil
	}
	if len(r.Imag) != len(r.Real) {
		return nil, fmt.Errorf("imag holds %d elements, real holds %d", len(r.Imag), len(r.Real))
	}
	data := make([]complex128, len(r.Real))
	for i := range data {
		data[i] = complex(r.Real[i], r.Imag[i])
	}
	return device.NewHostComplex(s, device.Complex128, data), nil
}

func (b sampleRequest) request(dist string) (random.Request, error) {
	req := random.Request{
		Distribution: dist,
		Params:       make(map[string]random.Value, len(b.Params)),
	}
	if b.Size != nil {
		req.Size = shape.Of(b.Size...)
	}
	if b.DType != "" {
		d, err := device.ParseDType(b.DType)
		if err != nil {
			return random.Request{}, err
		}
		req.DType = &d
	}
	for name, p := range b.Params {
		v, err := p.value()
		if err != nil {
			return random.Request{}, fmt.Errorf("parameter %s: %w", name, err)
		}
		req.Params[name] = v
	}
	return req, nil
}

func (p paramValue) value() (random.Value, error) {
	if p.Data == nil {
		return random.None, nil
	}
	dtype := device.Float64
	if p.DType != "" {
		d, err := device.ParseDType(p.DType)
		if err != nil {
			return random.None, err
		}
		dtype = d
	}
	return random.NewValue(shape.Of(p.Shape...), p.Data, dtype)
}

func newArrayResponse(a device.Array) arrayResponse {
	resp := arrayResponse{
		Shape: []int(a.Shape()),
		DType: a.DType().String(),
	}
	if resp.Shape == nil {
		resp.Shape = []int{}
	}
	if c := a.Complex128s(); c != nil {
		resp.Real = make([]float64, len(c))
		resp.Imag = make([]float64, len(c))
		for i, v := range c {
			resp.Real[i] = real(v)
			resp.Imag[i] = imag(v)
		}
		return resp
	}
	if a.DType() == device.Float16 {
		data := a.Float64s()
		resp.Half = make([]uint16, len(data))
		for i, v := range data {
			resp.Half[i] = device.Float16Bits(float32(v))
		}
		return resp
	}
	resp.Real = a.Float64s()
	return resp
}
