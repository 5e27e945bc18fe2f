package frame

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leeksaver/leeksaver/internal/errkind"
)

func TestRequire_MissingColumnIsSchemaDrift(t *testing.T) {
	f := New("日期", "收盘")
	err := f.Require("日期", "成交量")
	require.Error(t, err)
	assert.Equal(t, errkind.SchemaDrift, errkind.KindOf(err))
	assert.Contains(t, err.Error(), "成交量")
}

func TestRename_ThenSelect(t *testing.T) {
	f := New("日期", "收盘", "成交量")
	f.AppendRow("2026-08-25", 1850.5, int64(32000))

	f.Rename(map[string]string{
		"日期":  "trade_date",
		"收盘":  "close",
		"成交量": "volume",
		"不存在": "ignored",
	})

	out, err := f.Select("trade_date", "close")
	require.NoError(t, err)
	assert.Equal(t, []string{"trade_date", "close"}, out.Columns())
	assert.Equal(t, 1, out.Len())

	c, err := out.Float64(0, "close")
	require.NoError(t, err)
	assert.Equal(t, 1850.5, c)
}

func TestFloat64_ParsesStringsRejectsGarbage(t *testing.T) {
	f := New("v")
	f.AppendRow("12.5")
	f.AppendRow(7)
	f.AppendRow("-")
	f.AppendRow(nil)
	f.AppendRow("abc")

	v, err := f.Float64(0, "v")
	require.NoError(t, err)
	assert.Equal(t, 12.5, v)

	v, err = f.Float64(1, "v")
	require.NoError(t, err)
	assert.Equal(t, 7.0, v)

	for _, row := range []int{2, 3, 4} {
		_, err = f.Float64(row, "v")
		assert.Error(t, err, "row %d", row)
	}
}

func TestInt64_RejectsFractional(t *testing.T) {
	f := New("v")
	f.AppendRow(3.0)
	f.AppendRow(3.5)
	f.AppendRow("1.5e+03")

	v, err := f.Int64(0, "v")
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	_, err = f.Int64(1, "v")
	assert.Error(t, err)

	v, err = f.Int64(2, "v")
	require.NoError(t, err)
	assert.Equal(t, int64(1500), v)
}

func TestTime_TriesLayouts(t *testing.T) {
	f := New("d")
	f.AppendRow("2026-08-25")
	f.AppendRow("2026-08-25 14:30:00")

	d, err := f.Time(0, "d")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC), d)

	d, err = f.Time(1, "d")
	require.NoError(t, err)
	assert.Equal(t, 14, d.Hour())
}

func TestFromRecords_MissingKeysBecomeNil(t *testing.T) {
	f := FromRecords([]string{"code", "close"}, []map[string]any{
		{"code": "600519", "close": 1850.0},
		{"code": "000001"},
	})
	assert.Equal(t, 2, f.Len())
	assert.False(t, f.IsNil(0, "close"))
	assert.True(t, f.IsNil(1, "close"))
}
