package influxdb

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Columns the Flux CSV dialect adds around the data itself.
var structuralColumns = map[string]bool{
	"":             true,
	"result":       true,
	"table":        true,
	"_start":       true,
	"_stop":        true,
	"_time":        true,
	"_value":       true,
	"_field":       true,
	"_measurement": true,
}

// parseCSVExport turns an annotated Flux CSV export back into write
// points. Annotation rows introduce a fresh header; every other column
// beyond the structural ones is treated as a tag.
func parseCSVExport(path string) ([]*write.Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open export: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var points []*write.Point
	var header []string
	expectHeader := true

	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read export row: %w", err)
		}
		if len(record) == 0 {
			continue
		}
		if strings.HasPrefix(record[0], "#") {
			expectHeader = true
			continue
		}
		if expectHeader {
			header = record
			expectHeader = false
			continue
		}
		if header == nil {
			return nil, fmt.Errorf("export has data rows before any header")
		}

		point, err := pointFromRow(header, record)
		if err != nil {
			return nil, err
		}
		if point != nil {
			points = append(points, point)
		}
	}
	return points, nil
}

func pointFromRow(header, record []string) (*write.Point, error) {
	row := make(map[string]string, len(header))
	for i, col := range header {
		if i < len(record) {
			row[col] = record[i]
		}
	}

	measurement := row["_measurement"]
	if measurement == "" {
		measurement = "data"
	}
	point := influxdb2.NewPointWithMeasurement(measurement)

	field := row["_field"]
	if field == "" {
		return nil, nil
	}
	point.AddField(field, parseFieldValue(row["_value"]))

	if ts := row["_time"]; ts != "" {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("bad timestamp %q: %w", ts, err)
		}
		point.SetTime(t)
	}

	for _, col := range header {
		if structuralColumns[col] {
			continue
		}
		if v := row[col]; v != "" {
			point.AddTag(col, v)
		}
	}
	return point, nil
}

// parseFieldValue narrows a CSV cell to the most specific field type.
func parseFieldValue(s string) any {
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}
