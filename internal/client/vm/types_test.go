package vm

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryResponse_IsSuccess(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{"success", true},
		{"error", false},
		{"", false},
	}
	for _, tt := range tests {
		r := &QueryResponse{Status: tt.status}
		assert.Equal(t, tt.want, r.IsSuccess(), tt.status)
	}
}

func TestPoint_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    float64
		wantTS  time.Time
		finite  bool
		wantErr bool
	}{
		{name: "string_value", input: `[1700000000, "96.5"]`, want: 96.5, wantTS: time.Unix(1700000000, 0), finite: true},
		{name: "fractional_timestamp", input: `[1700000000.5, "1"]`, want: 1, wantTS: time.Unix(1700000000, 500000000), finite: true},
		{name: "numeric_value", input: `[1700000000, 42]`, want: 42, wantTS: time.Unix(1700000000, 0), finite: true},
		{name: "nan", input: `[1700000000, "NaN"]`, wantTS: time.Unix(1700000000, 0)},
		{name: "inf", input: `[1700000000, "+Inf"]`, wantTS: time.Unix(1700000000, 0)},
		{name: "garbage_value", input: `[1700000000, "abc"]`, wantErr: true},
		{name: "not_array", input: `{"a":1}`, wantErr: true},
		{name: "bad_timestamp", input: `["x", "1"]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p Point
			err := json.Unmarshal([]byte(tt.input), &p)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, p.Time.Equal(tt.wantTS), "timestamp %s", p.Time)
			assert.Equal(t, tt.finite, p.IsFinite())
			if tt.finite {
				assert.Equal(t, tt.want, p.Value)
			}
		})
	}
}

func TestQueryResponse_JSONParsing(t *testing.T) {
	body := `{
		"status": "success",
		"data": {
			"resultType": "vector",
			"result": [
				{"metric": {"__name__": "mem_used_percent", "ident": "db-1"}, "value": [1700000000, "NaN"]},
				{"metric": {"__name__": "mem_used_percent", "ident": "db-2"}, "value": [1700000001, "96"]},
				{"metric": {"__name__": "mem_used_percent", "ident": "db-3"}, "value": [1700000002, "50"]}
			]
		}
	}`

	var resp QueryResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.True(t, resp.IsSuccess())
	require.Len(t, resp.Data.Result, 3)
	assert.Equal(t, "db-2", resp.Data.Result[1].Metric["ident"])
	assert.True(t, math.IsNaN(resp.Data.Result[0].Value.Value))

	point, series, ok := resp.Latest()
	assert.True(t, ok)
	assert.Equal(t, 2, series)
	assert.Equal(t, 96.0, point.Value)
	assert.True(t, point.Time.Equal(time.Unix(1700000001, 0)))
}

func TestQueryResponse_ScalarParsing(t *testing.T) {
	body := `{"status":"success","data":{"resultType":"scalar","result":[1700000000,"3.5"]}}`

	var resp QueryResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	point, series, ok := resp.Latest()
	assert.True(t, ok)
	assert.Equal(t, 1, series)
	assert.Equal(t, 3.5, point.Value)
}

func TestQueryResponse_ErrorParsing(t *testing.T) {
	body := `{"status":"error","errorType":"bad_data","error":"parse error at char 5"}`

	var resp QueryResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.False(t, resp.IsSuccess())
	assert.Equal(t, "bad_data", resp.ErrorType)
	_, _, ok := resp.Latest()
	assert.False(t, ok)
}

func TestQueryData_MatrixRejected(t *testing.T) {
	body := `{"resultType":"matrix","result":[{"metric":{},"values":[[1,"1"]]}]}`
	var d QueryData
	assert.Error(t, json.Unmarshal([]byte(body), &d))
}
