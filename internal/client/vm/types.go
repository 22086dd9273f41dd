// Package vm provides a VictoriaMetrics/Prometheus metric source for the alerting engine.
package vm

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// QueryResponse represents the API response from the /api/v1/query endpoint.
type QueryResponse struct {
	Status    string    `json:"status"`    // 响应状态：success 或 error
	Data      QueryData `json:"data"`      // 查询数据
	ErrorType string    `json:"errorType"` // 错误类型（仅在 status=error 时存在）
	Error     string    `json:"error"`     // 错误信息（仅在 status=error 时存在）
	Warnings  []string  `json:"warnings"`  // 警告信息列表
}

// IsSuccess returns true if the query was successful.
func (r *QueryResponse) IsSuccess() bool {
	return r.Status == "success"
}

// QueryData contains the result of an instant query.
type QueryData struct {
	ResultType string   `json:"resultType"` // 结果类型：vector, scalar
	Result     []Sample `json:"result"`     // 结果样本列表
}

// Sample is one series of an instant vector.
type Sample struct {
	Metric map[string]string `json:"metric"` // 指标标签
	Value  Point             `json:"value"`  // [timestamp, "value"]
}

// Point is a decoded [unix_seconds, "value"] pair.
type Point struct {
	Time  time.Time // 采样时间
	Value float64   // 采样值
}

// UnmarshalJSON decodes the two-element Prometheus array form.
func (p *Point) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid sample point: %w", err)
	}

	var ts float64
	if err := json.Unmarshal(raw[0], &ts); err != nil {
		return fmt.Errorf("invalid sample timestamp: %w", err)
	}
	sec, frac := math.Modf(ts)
	p.Time = time.Unix(int64(sec), int64(frac*1e9))

	// Prometheus encodes values as strings; tolerate plain numbers too.
	var s string
	if err := json.Unmarshal(raw[1], &s); err != nil {
		var f float64
		if err := json.Unmarshal(raw[1], &f); err != nil {
			return fmt.Errorf("invalid sample value %s", string(raw[1]))
		}
		p.Value = f
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("failed to parse value %q: %w", s, err)
	}
	p.Value = f
	return nil
}

// IsFinite reports whether the value is usable for threshold comparison.
func (p Point) IsFinite() bool {
	return !math.IsNaN(p.Value) && !math.IsInf(p.Value, 0)
}

// UnmarshalJSON accepts both vector results and the scalar form [ts, "v"].
func (d *QueryData) UnmarshalJSON(data []byte) error {
	var raw struct {
		ResultType string          `json:"resultType"`
		Result     json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.ResultType = raw.ResultType
	d.Result = nil
	if len(raw.Result) == 0 || string(raw.Result) == "null" {
		return nil
	}

	switch raw.ResultType {
	case "scalar":
		var p Point
		if err := json.Unmarshal(raw.Result, &p); err != nil {
			return err
		}
		d.Result = []Sample{{Value: p}}
		return nil
	case "vector":
		return json.Unmarshal(raw.Result, &d.Result)
	default:
		return fmt.Errorf("unexpected result type: %s (expected vector or scalar)", raw.ResultType)
	}
}

// Latest returns the first finite sample of the response.
// Queries are expected to aggregate to a single series.
func (r *QueryResponse) Latest() (Point, int, bool) {
	n := 0
	var first Point
	found := false
	for _, s := range r.Data.Result {
		if !s.Value.IsFinite() {
			continue
		}
		n++
		if !found {
			first = s.Value
			found = true
		}
	}
	return first, n, found
}
