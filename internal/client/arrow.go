package client

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-ndgate/internal/device"
	"github.com/23skdu/longbow-ndgate/internal/shape"
)

// Column and metadata names used on the wire.
const (
	ColumnValues = "x"
	ColumnReal   = "re"
	ColumnImag   = "im"

	MetaShape = "ndgate.shape"
	MetaDType = "ndgate.dtype"
)

// RecordBatchBuilder converts between device arrays and Arrow record batches.
// A real array becomes one float64 column "x"; a complex array becomes "re"
// and "im". The logical shape and dtype travel in schema metadata.
type RecordBatchBuilder struct {
	mem memory.Allocator
}

// NewRecordBatchBuilder creates a new builder.
func NewRecordBatchBuilder(mem memory.Allocator) *RecordBatchBuilder {
	return &RecordBatchBuilder{mem: mem}
}

// BuildRecordBatch flattens a into a record batch in row-major order.
func (b *RecordBatchBuilder) BuildRecordBatch(a device.Array) (arrow.RecordBatch, error) {
	if a == nil {
		return nil, nil
	}

	md := arrow.NewMetadata(
		[]string{MetaShape, MetaDType},
		[]string{formatShape(a.Shape()), a.DType().String()},
	)

	if c := a.Complex128s(); c != nil {
		re := array.NewFloat64Builder(b.mem)
		defer re.Release()
		im := array.NewFloat64Builder(b.mem)
		defer im.Release()
		re.Reserve(len(c))
		im.Reserve(len(c))
		for _, v := range c {
			re.Append(real(v))
			im.Append(imag(v))
		}

		schema := arrow.NewSchema([]arrow.Field{
			{Name: ColumnReal, Type: arrow.PrimitiveTypes.Float64},
			{Name: ColumnImag, Type: arrow.PrimitiveTypes.Float64},
		}, &md)
		cols := []arrow.Array{re.NewArray(), im.NewArray()}
		defer cols[0].Release()
		defer cols[1].Release()
		return array.NewRecordBatch(schema, cols, int64(len(c))), nil
	}

	values := array.NewFloat64Builder(b.mem)
	defer values.Release()
	values.AppendValues(a.Float64s(), nil)

	schema := arrow.NewSchema([]arrow.Field{
		{Name: ColumnValues, Type: arrow.PrimitiveTypes.Float64},
	}, &md)
	cols := []arrow.Array{values.NewArray()}
	defer cols[0].Release()
	return array.NewRecordBatch(schema, cols, int64(a.Size())), nil
}

// ArrayFromRecord reads a record batch produced by BuildRecordBatch, or any
// batch with a numeric "x" column, into a host array. Without shape metadata
// the array is one-dimensional.
func ArrayFromRecord(rec arrow.RecordBatch) (*device.HostArray, error) {
	md := rec.Schema().Metadata()
	s := shape.Of(int(rec.NumRows()))
	if i := md.FindKey(MetaShape); i >= 0 {
		parsed, err := parseShape(md.Values()[i])
		if err != nil {
			return nil, err
		}
		if parsed.NumElements() != int(rec.NumRows()) {
			return nil, fmt.Errorf("record has %d rows, shape %v needs %d", rec.NumRows(), parsed, parsed.NumElements())
		}
		s = parsed
	}

	if re, im := columnIndex(rec, ColumnReal), columnIndex(rec, ColumnImag); re >= 0 && im >= 0 {
		rv, err := float64Column(rec.Column(re))
		if err != nil {
			return nil, err
		}
		iv, err := float64Column(rec.Column(im))
		if err != nil {
			return nil, err
		}
		data := make([]complex128, len(rv))
		for k := range rv {
			data[k] = complex(rv[k], iv[k])
		}
		return device.NewHostComplex(s, device.Complex128, data), nil
	}

	idx := columnIndex(rec, ColumnValues)
	if idx < 0 {
		return nil, fmt.Errorf("record has no %q column", ColumnValues)
	}
	data, err := float64Column(rec.Column(idx))
	if err != nil {
		return nil, err
	}

	dtype := dtypeOf(rec.Column(idx).DataType())
	if i := md.FindKey(MetaDType); i >= 0 {
		if d, err := device.ParseDType(md.Values()[i]); err == nil && !d.IsComplex() {
			dtype = d
		}
	}
	return device.NewHost(s, dtype, data), nil
}

func columnIndex(rec arrow.RecordBatch, name string) int {
	for i, f := range rec.Schema().Fields() {
		if f.Name == name {
			return i
		}
	}
	return -1
}

func float64Column(col arrow.Array) ([]float64, error) {
	out := make([]float64, col.Len())
	switch c := col.(type) {
	case *array.Float64:
		copy(out, c.Float64Values())
	case *array.Float32:
		for i, v := range c.Float32Values() {
			out[i] = float64(v)
		}
	case *array.Int64:
		for i, v := range c.Int64Values() {
			out[i] = float64(v)
		}
	case *array.Int32:
		for i, v := range c.Int32Values() {
			out[i] = float64(v)
		}
	default:
		return nil, fmt.Errorf("unsupported column type %s", col.DataType())
	}
	return out, nil
}

func dtypeOf(dt arrow.DataType) device.DType {
	switch dt.ID() {
	case arrow.FLOAT32:
		return device.Float32
	case arrow.INT64:
		return device.Int64
	case arrow.INT32:
		return device.Int32
	}
	return device.Float64
}

func formatShape(s shape.Shape) string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

func parseShape(v string) (shape.Shape, error) {
	if v == "" {
		return shape.Shape{}, nil
	}
	parts := strings.Split(v, ",")
	s := make(shape.Shape, len(parts))
	for i, p := range parts {
		d, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || d < 0 {
			return nil, fmt.Errorf("invalid shape metadata %q", v)
		}
		s[i] = d
	}
	return s, nil
}
