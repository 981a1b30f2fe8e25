package typemap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	strataerrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/pkg/types"
)

func TestAffinityOf(t *testing.T) {
	tests := []struct {
		declared string
		want     types.Affinity
	}{
		{"INTEGER", types.AffinityInteger},
		{"BIGINT", types.AffinityInteger},
		{"int8", types.AffinityInteger},
		{"VARCHAR(255)", types.AffinityText},
		{"NCHAR(10)", types.AffinityText},
		{"CLOB", types.AffinityText},
		{"BLOB", types.AffinityBlob},
		{"", types.AffinityBlob},
		{"REAL", types.AffinityReal},
		{"DOUBLE PRECISION", types.AffinityReal},
		{"FLOAT", types.AffinityReal},
		{"NUMERIC", types.AffinityNumeric},
		{"DECIMAL(10,5)", types.AffinityNumeric},
		{"BOOLEAN", types.AffinityNumeric},
		{"DATETIME", types.AffinityNumeric},
		// "INT" wins over "CHAR" because it is checked first.
		{"CHARINT", types.AffinityInteger},
		// "FLOATING POINT" contains "INT".
		{"FLOATING POINT", types.AffinityInteger},
	}
	for _, tt := range tests {
		t.Run(tt.declared, func(t *testing.T) {
			assert.Equal(t, tt.want, AffinityOf(tt.declared))
		})
	}
}

func TestLogicalOf(t *testing.T) {
	assert.Equal(t, "timestamp", LogicalOf("DATETIME"))
	assert.Equal(t, "decimal", LogicalOf("DECIMAL(10, 2)"))
	assert.Equal(t, "boolean", LogicalOf("bool"))
	assert.Equal(t, "json", LogicalOf("JSON"))
	assert.Equal(t, "", LogicalOf("TEXT"))
}

func col(name, declared string) types.ColumnDef {
	return types.ColumnDef{Name: name, DeclaredType: declared, Affinity: AffinityOf(declared)}
}

func TestChoose(t *testing.T) {
	tests := []struct {
		name     string
		col      types.ColumnDef
		observed []types.Value
		want     types.PhysicalType
	}{
		{"integers", col("id", "INTEGER"), []types.Value{types.Integer(1), types.Integer(2)}, types.PhysicalInt64},
		{"reals", col("score", "REAL"), []types.Value{types.Real(1.5), types.Null()}, types.PhysicalFloat64},
		{"integers widen with reals", col("x", ""), []types.Value{types.Integer(1), types.Real(2.5)}, types.PhysicalFloat64},
		{"integers in real column", col("score", "REAL"), []types.Value{types.Integer(2)}, types.PhysicalFloat64},
		{"text", col("name", "TEXT"), []types.Value{types.Text("a"), types.Null()}, types.PhysicalString},
		{"text in integer column", col("n", "INTEGER"), []types.Value{types.Text("n/a")}, types.PhysicalString},
		{"blob", col("data", "BLOB"), []types.Value{types.Blob([]byte{1})}, types.PhysicalBytes},
		{"boolean", col("flag", "BOOLEAN"), []types.Value{types.Integer(0), types.Integer(1)}, types.PhysicalBoolean},
		{"boolean with other ints", col("flag", "BOOLEAN"), []types.Value{types.Integer(0), types.Integer(7)}, types.PhysicalInt64},
		{"all null integer", col("id", "INTEGER"), []types.Value{types.Null(), types.Null()}, types.PhysicalInt64},
		{"all null numeric", col("n", "NUMERIC"), nil, types.PhysicalInt64},
		{"all null real", col("r", "DOUBLE"), nil, types.PhysicalFloat64},
		{"all null text", col("s", "VARCHAR(10)"), nil, types.PhysicalString},
		{"all null untyped", col("u", ""), nil, types.PhysicalBytes},
		{"all null boolean", col("b", "BOOL"), nil, types.PhysicalBoolean},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Choose("t", tt.col, tt.observed)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChoose_Incompatible(t *testing.T) {
	cases := [][]types.Value{
		{types.Text("a"), types.Blob([]byte{1})},
		{types.Integer(1), types.Text("a")},
		{types.Real(1), types.Blob(nil)},
	}
	for _, observed := range cases {
		_, err := Choose("events", col("payload", ""), observed)
		require.Error(t, err)
		assert.True(t, errors.Is(err, strataerrors.ErrSchemaIncompatible))

		var se *strataerrors.StrataError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, "events", se.Table)
		assert.Equal(t, "payload", se.Column)
	}
}

func TestCoerce(t *testing.T) {
	v, err := Coerce("t", "c", types.Integer(3), types.PhysicalFloat64)
	require.NoError(t, err)
	assert.True(t, v.Equal(types.Real(3)))

	v, err = Coerce("t", "c", types.Null(), types.PhysicalString)
	require.NoError(t, err)
	assert.True(t, v.IsNull())

	v, err = Coerce("t", "c", types.Integer(1), types.PhysicalBoolean)
	require.NoError(t, err)
	assert.True(t, v.Equal(types.Integer(1)))

	_, err = Coerce("t", "c", types.Integer(2), types.PhysicalBoolean)
	assert.ErrorIs(t, err, strataerrors.ErrSchemaIncompatible)

	_, err = Coerce("t", "c", types.Real(1.5), types.PhysicalInt64)
	assert.ErrorIs(t, err, strataerrors.ErrSchemaIncompatible)

	_, err = Coerce("t", "c", types.Blob([]byte("x")), types.PhysicalString)
	assert.ErrorIs(t, err, strataerrors.ErrSchemaIncompatible)
}

func TestReverse(t *testing.T) {
	assert.Equal(t, "VARCHAR(20)", Reverse("VARCHAR(20)", types.PhysicalString))
	assert.Equal(t, "INTEGER", Reverse("", types.PhysicalInt64))
	assert.Equal(t, "REAL", Reverse("", types.PhysicalFloat64))
	assert.Equal(t, "", Reverse("", types.PhysicalBytes))
}
