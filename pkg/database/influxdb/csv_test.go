package influxdb

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleExport = `#datatype,string,long,dateTime:RFC3339,dateTime:RFC3339,dateTime:RFC3339,double,string,string,string
#group,false,false,true,true,false,false,true,true,true
#default,_result,,,,,,,,
,result,table,_start,_stop,_time,_value,_field,_measurement,host
,,0,2026-01-01T00:00:00Z,2026-02-01T00:00:00Z,2026-01-15T10:00:00Z,23.5,temperature,sensors,web-1
,,0,2026-01-01T00:00:00Z,2026-02-01T00:00:00Z,2026-01-15T11:00:00Z,24.1,temperature,sensors,web-1
`

func writeExport(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseCSVExport(t *testing.T) {
	points, err := parseCSVExport(writeExport(t, sampleExport))
	require.NoError(t, err)
	require.Len(t, points, 2)

	p := points[0]
	assert.Equal(t, "sensors", p.Name())
	assert.Equal(t, time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC), p.Time())

	fields := p.FieldList()
	require.Len(t, fields, 1)
	assert.Equal(t, "temperature", fields[0].Key)
	assert.Equal(t, 23.5, fields[0].Value)

	tags := p.TagList()
	require.Len(t, tags, 1, "structural columns must not become tags")
	assert.Equal(t, "host", tags[0].Key)
	assert.Equal(t, "web-1", tags[0].Value)
}

func TestParseCSVExportNewAnnotationBlockResetsHeader(t *testing.T) {
	export := sampleExport +
		"#datatype,string,long,dateTime:RFC3339,double,string,string,string\n" +
		",result,table,_time,_value,_field,_measurement,region\n" +
		",,1,2026-01-16T00:00:00Z,99,requests,api,eu-west\n"

	points, err := parseCSVExport(writeExport(t, export))
	require.NoError(t, err)
	require.Len(t, points, 3)

	p := points[2]
	assert.Equal(t, "api", p.Name())
	tags := p.TagList()
	require.Len(t, tags, 1)
	assert.Equal(t, "region", tags[0].Key)
	assert.Equal(t, "eu-west", tags[0].Value)
}

func TestParseCSVExportSkipsRowsWithoutField(t *testing.T) {
	export := sampleExport +
		",,0,2026-01-01T00:00:00Z,2026-02-01T00:00:00Z,2026-01-15T12:00:00Z,25.0,,sensors,web-1\n"

	points, err := parseCSVExport(writeExport(t, export))
	require.NoError(t, err)
	assert.Len(t, points, 2)
}

func TestParseCSVExportBadTimestamp(t *testing.T) {
	export := "#datatype,string\n" +
		",result,table,_time,_value,_field,_measurement\n" +
		",,0,not-a-time,1,f,m\n"

	_, err := parseCSVExport(writeExport(t, export))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad timestamp")
}

func TestParseFieldValue(t *testing.T) {
	assert.Equal(t, 23.5, parseFieldValue("23.5"))
	assert.Equal(t, float64(10), parseFieldValue("10"))
	assert.Equal(t, true, parseFieldValue("true"))
	assert.Equal(t, "web-1", parseFieldValue("web-1"))
}
