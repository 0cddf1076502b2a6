package export

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	apperrors "github.com/wallet-tracker/internal/errors"
	"github.com/wallet-tracker/internal/types"
)

func sampleSnapshots() []types.WalletSnapshot {
	captured := time.Date(2025, 6, 1, 0, 0, 0, 123000, time.UTC)
	return []types.WalletSnapshot{
		{
			Address:    "34xp4vRoCGJym3xR7yCVPFHoCNxv4Twseo",
			Balance:    decimal.RequireFromString("248597.00012345"),
			FirstIn:    "2018-10-18",
			LastIn:     "2025-05-30",
			LastOut:    "2025-05-29",
			CapturedAt: captured,
			ScanID:     "scan-1",
		},
		{
			Address:    "bc1qgdjqv0av3q56jvd82tkdjpy7gdp9ut8tlqmgrpmv24sq90ecnvqqjwvw97",
			Balance:    decimal.RequireFromString("140574.5"),
			FirstIn:    "2022-01-01",
			LastIn:     "2025-05-01",
			LastOut:    types.NeverSentinel,
			CapturedAt: captured,
			ScanID:     "scan-1",
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input string
		want  Format
		ok    bool
	}{
		{"", FormatCSV, true},
		{"csv", FormatCSV, true},
		{" XLSX ", FormatXLSX, true},
		{"pdf", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if !tt.ok {
				require.Error(t, err)
				assert.True(t, apperrors.Is(err, apperrors.CategoryValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleSnapshots()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, Header, rows[0])
	assert.Equal(t, "34xp4vRoCGJym3xR7yCVPFHoCNxv4Twseo", rows[1][0])
	assert.Equal(t, "248597.00012345", rows[1][1])
	assert.Equal(t, "2025-06-01T00:00:00.000123Z", rows[1][5])
	assert.Equal(t, "Never", rows[2][4])
}

func TestWriteCSV_EmptyListingHasHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{Header}, rows)
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatXLSX, "latest", sampleSnapshots()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"latest"}, f.GetSheetList())

	rows, err := f.GetRows("latest")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Header, rows[0])
	assert.Equal(t, "248597.00012345", rows[1][1])
	assert.Equal(t, "140574.5", rows[2][1])
}

func TestFormatMetadata(t *testing.T) {
	assert.Equal(t, "latest.csv", FormatCSV.Filename("latest"))
	assert.Equal(t, "groups.xlsx", FormatXLSX.Filename("groups"))
	assert.Contains(t, FormatCSV.ContentType(), "text/csv")
	assert.Contains(t, FormatXLSX.ContentType(), "spreadsheetml")
}
