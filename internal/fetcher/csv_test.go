package fetcher

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestReadCSVRecords_Basic(t *testing.T) {
	in := "registration_no,status\n国械注准20243170001,active\n国械注准20243170002,expired\n"

	records, err := ReadCSVRecords(strings.NewReader(in), CSVOptions{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "国械注准20243170001", records[0]["registration_no"])
	assert.Equal(t, "active", records[0]["status"])
	assert.Equal(t, "expired", records[1]["status"])
}

func TestReadCSVRecords_BOMAndWhitespace(t *testing.T) {
	in := "\uFEFFregistration_no, status \n 国械注准20243170001 , active \n"

	records, err := ReadCSVRecords(strings.NewReader(in), CSVOptions{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	// BOM stripped from first header, values trimmed.
	assert.Equal(t, "国械注准20243170001", records[0]["registration_no"])
	assert.Equal(t, "active", records[0]["status"])
}

func TestReadCSVRecords_RaggedRows(t *testing.T) {
	in := "a,b,c\n1,2\n1,2,3,4\n"

	records, err := ReadCSVRecords(strings.NewReader(in), CSVOptions{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "", records[0]["c"])
	assert.Equal(t, "3", records[1]["c"])
}

func TestReadCSVRecords_CustomDelimiter(t *testing.T) {
	in := "a|b\n1|2\n"

	records, err := ReadCSVRecords(strings.NewReader(in), CSVOptions{Delimiter: '|'})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "2", records[0]["b"])
}

func TestReadCSVRecords_Empty(t *testing.T) {
	records, err := ReadCSVRecords(strings.NewReader(""), CSVOptions{})
	assert.NoError(t, err)
	assert.Empty(t, records)
}
