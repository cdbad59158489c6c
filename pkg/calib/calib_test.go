package calib

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePowerTable(t *testing.T) {
	src := `
# frequency expression
6 x*1e-7
10,5 x^2*1e-14 + 0.001
18 2
`
	tbl, err := ParsePowerTable(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, 3, tbl.Len())

	tests := []struct {
		name string
		ghz  float64
		code float64
		want float64
	}{
		{name: "exact", ghz: 6, code: 1e6, want: 0.1},
		{name: "closest low", ghz: 7.9, code: 2e6, want: 0.2},
		{name: "closest middle", ghz: 11, code: 1e6, want: 0.011},
		{name: "integer expression", ghz: 17, code: 123, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, err := tbl.Closest(tt.ghz)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, fn(tt.code), 1e-9)
		})
	}
}

func TestParsePowerTable_Errors(t *testing.T) {
	_, err := ParsePowerTable(strings.NewReader("abc x"))
	assert.Error(t, err)

	_, err = ParsePowerTable(strings.NewReader("10 x +* 2"))
	assert.Error(t, err)

	_, err = ParsePowerTable(strings.NewReader("10"))
	assert.Error(t, err)
}

func TestPowerTable_Replace(t *testing.T) {
	tbl, err := NewPowerTable([]PowerPoint{{GHz: 10, Expr: "1"}, {GHz: 8, Expr: "3"}, {GHz: 10, Expr: "2"}})
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Len())

	fn, err := tbl.Closest(10)
	require.NoError(t, err)
	assert.Equal(t, 2.0, fn(0))
}

func TestEmptyTables(t *testing.T) {
	_, err := (&PowerTable{}).Closest(10)
	assert.ErrorIs(t, err, ErrEmptyTable)

	_, err = NewGainTable(nil).Closest(10)
	assert.ErrorIs(t, err, ErrEmptyTable)
}

func TestParseGainTable(t *testing.T) {
	src := "6\t44,5\n12 40\n\n18 36.2\n"
	tbl, err := ParseGainTable(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, 3, tbl.Len())

	g, err := tbl.Closest(6.5)
	require.NoError(t, err)
	assert.Equal(t, 44.5, g)

	g, err = tbl.Closest(16)
	require.NoError(t, err)
	assert.Equal(t, 36.2, g)

	_, err = ParseGainTable(strings.NewReader("6 abc"))
	assert.Error(t, err)
}

func TestLoadTables(t *testing.T) {
	f, err := os.CreateTemp("", "gain_*.txt")
	require.NoError(t, err)
	defer os.Remove(f.Name())
	_, err = f.WriteString("10 45\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	tbl, err := LoadGainTable(f.Name())
	require.NoError(t, err)
	assert.Equal(t, 1, tbl.Len())

	_, err = LoadPowerTable("nonexistent.txt")
	assert.Error(t, err)
}
