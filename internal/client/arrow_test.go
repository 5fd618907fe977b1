package client

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-ndgate/internal/device"
	"github.com/23skdu/longbow-ndgate/internal/shape"
)

func TestBuildRecordBatch(t *testing.T) {
	pool := memory.NewGoAllocator()
	builder := NewRecordBatchBuilder(pool)

	t.Run("Empty input", func(t *testing.T) {
		rb, err := builder.BuildRecordBatch(nil)
		assert.NoError(t, err)
		assert.Nil(t, rb)
	})

	t.Run("Real array", func(t *testing.T) {
		a := device.NewHost(shape.Of(2, 3), device.Float32, []float64{1, 2, 3, 4, 5, 6})

		rb, err := builder.BuildRecordBatch(a)
		require.NoError(t, err)
		defer rb.Release()

		assert.Equal(t, int64(6), rb.NumRows())
		assert.Equal(t, int64(1), rb.NumCols())
		assert.Equal(t, ColumnValues, rb.ColumnName(0))

		md := rb.Schema().Metadata()
		assert.Equal(t, "2,3", md.Values()[md.FindKey(MetaShape)])
		assert.Equal(t, "float32", md.Values()[md.FindKey(MetaDType)])

		values := rb.Column(0).(*array.Float64)
		assert.Equal(t, 1.0, values.Value(0))
		assert.Equal(t, 6.0, values.Value(5))
	})

	t.Run("Complex array", func(t *testing.T) {
		a := device.NewHostComplex(shape.Of(2), device.Complex128, []complex128{complex(1, -1), complex(0, 2)})

		rb, err := builder.BuildRecordBatch(a)
		require.NoError(t, err)
		defer rb.Release()

		assert.Equal(t, int64(2), rb.NumCols())
		assert.Equal(t, ColumnReal, rb.ColumnName(0))
		assert.Equal(t, ColumnImag, rb.ColumnName(1))
		assert.Equal(t, -1.0, rb.Column(1).(*array.Float64).Value(0))
	})
}

func TestArrayFromRecord(t *testing.T) {
	pool := memory.NewGoAllocator()
	builder := NewRecordBatchBuilder(pool)

	t.Run("Round trip real", func(t *testing.T) {
		in := device.NewHost(shape.Of(3, 2), device.Float64, []float64{0, 1, 2, 3, 4, 5})
		rb, err := builder.BuildRecordBatch(in)
		require.NoError(t, err)
		defer rb.Release()

		out, err := ArrayFromRecord(rb)
		require.NoError(t, err)
		assert.Equal(t, shape.Of(3, 2), out.Shape())
		assert.Equal(t, device.Float64, out.DType())
		assert.Equal(t, in.Float64s(), out.Float64s())
	})

	t.Run("Round trip complex", func(t *testing.T) {
		in := device.NewHostComplex(shape.Of(1, 2), device.Complex128, []complex128{complex(3, 4), complex(-1, 0)})
		rb, err := builder.BuildRecordBatch(in)
		require.NoError(t, err)
		defer rb.Release()

		out, err := ArrayFromRecord(rb)
		require.NoError(t, err)
		assert.Equal(t, shape.Of(1, 2), out.Shape())
		assert.Equal(t, in.Complex128s(), out.Complex128s())
	})

	t.Run("Plain float32 column", func(t *testing.T) {
		b := array.NewFloat32Builder(pool)
		defer b.Release()
		b.AppendValues([]float32{1, 2, 3, 4}, nil)
		col := b.NewArray()
		defer col.Release()

		schema := arrow.NewSchema([]arrow.Field{{Name: ColumnValues, Type: arrow.PrimitiveTypes.Float32}}, nil)
		rb := array.NewRecordBatch(schema, []arrow.Array{col}, 4)
		defer rb.Release()

		out, err := ArrayFromRecord(rb)
		require.NoError(t, err)
		assert.Equal(t, shape.Of(4), out.Shape())
		assert.Equal(t, device.Float32, out.DType())
		assert.Equal(t, []float64{1, 2, 3, 4}, out.Float64s())
	})

	t.Run("Missing column", func(t *testing.T) {
		b := array.NewFloat64Builder(pool)
		defer b.Release()
		b.Append(1)
		col := b.NewArray()
		defer col.Release()

		schema := arrow.NewSchema([]arrow.Field{{Name: "other", Type: arrow.PrimitiveTypes.Float64}}, nil)
		rb := array.NewRecordBatch(schema, []arrow.Array{col}, 1)
		defer rb.Release()

		_, err := ArrayFromRecord(rb)
		assert.Error(t, err)
	})

	t.Run("Shape mismatch", func(t *testing.T) {
		b := array.NewFloat64Builder(pool)
		defer b.Release()
		b.AppendValues([]float64{1, 2, 3}, nil)
		col := b.NewArray()
		defer col.Release()

		md := arrow.NewMetadata([]string{MetaShape}, []string{"2,2"})
		schema := arrow.NewSchema([]arrow.Field{{Name: ColumnValues, Type: arrow.PrimitiveTypes.Float64}}, &md)
		rb := array.NewRecordBatch(schema, []arrow.Array{col}, 3)
		defer rb.Release()

		_, err := ArrayFromRecord(rb)
		assert.Error(t, err)
	})
}

func TestParseShape(t *testing.T) {
	s, err := parseShape("")
	require.NoError(t, err)
	assert.Equal(t, shape.Shape{}, s)

	s, err = parseShape("4, 5")
	require.NoError(t, err)
	assert.Equal(t, shape.Of(4, 5), s)

	_, err = parseShape("4,-1")
	assert.Error(t, err)
	_, err = parseShape("a")
	assert.Error(t, err)
}
