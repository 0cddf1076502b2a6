package adapter

import (
	"fmt"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallet-tracker/internal/config"
	apperrors "github.com/wallet-tracker/internal/errors"
)

var testColumns = config.ColumnLayout{Address: 1, Balance: 2, FirstIn: 4, LastIn: 5, LastOut: 8}

const rankingPage = `<html><body>
<table id="tblOne" class="table">
<thead><tr><th>#</th><th>Address</th><th>Balance</th><th>% of coins</th><th>First In</th><th>Last In</th><th>Ins</th><th>First Out</th><th>Last Out</th><th>Outs</th></tr></thead>
<tbody>
<tr><td>1</td><td><a href="/a/34xp4vRoCGJym3xR7yCVPFHoCNxv4Twseo">34xp4vRoCGJym3xR7yCVPFHoCNxv4Twseo</a> <small>wallet: Binance-coldwallet</small></td><td>248,597 BTC ($16,012,345,678)</td><td>1.25%</td><td>2018-10-18 09:14:35 UTC</td><td>2025-06-01 12:00:00 UTC</td><td>1000</td><td>2018-10-18</td><td>2019-03-14 20:00:00 UTC</td><td>400</td></tr>
<tr><td>2</td><td>bc1qgdjqv0av3q56jvd82tkdjpy7gdp9ut8tlqmgrpmv24sq90ecnvqqjwvw97</td><td>140,575.12345678 BTC</td><td>0.7%</td><td>2022-01-05</td><td>2025-05-30</td><td>12</td><td></td><td>Never</td><td>0</td></tr>
<tr><td>3</td><td>1FeexV6bAHb8ybZjqQMjJrcCrHGW9sb6uF</td><td>n/a BTC</td><td>0.4%</td><td>2011-03-01</td><td>2011-03-01</td><td>1</td><td></td><td>Never</td><td>0</td></tr>
<tr><td>4</td><td>short row</td></tr>
</tbody>
</table>
<table id="tblOne2"><tbody>
<tr><td>5</td><td>3LYJfcfHPXYJreMsASk2jkn69LWEYKzexb</td><td>115,177 BTC</td><td>0.6%</td><td>2019-01-01</td><td>2025-05-29</td><td>5</td><td>2020-01-01</td><td>2025-05-28</td><td>2</td></tr>
</tbody></table>
</body></html>`

func TestRankingParser_Parse(t *testing.T) {
	parser := NewRankingParser("tblOne", testColumns)

	result, err := parser.Parse(1, []byte(rankingPage))
	require.NoError(t, err)
	assert.True(t, result.TableFound)

	require.Len(t, result.Records, 3)
	first := result.Records[0]
	assert.Equal(t, "34xp4vRoCGJym3xR7yCVPFHoCNxv4Twseo", first.Address)
	assert.True(t, decimal.NewFromInt(248597).Equal(first.Balance))
	assert.Equal(t, "2018-10-18 09:14:35 UTC", first.FirstIn)
	assert.Equal(t, "2025-06-01 12:00:00 UTC", first.LastIn)
	assert.Equal(t, "2019-03-14 20:00:00 UTC", first.LastOut)

	second := result.Records[1]
	assert.Equal(t, "bc1qgdjqv0av3q56jvd82tkdjpy7gdp9ut8tlqmgrpmv24sq90ecnvqqjwvw97", second.Address)
	assert.Equal(t, "140575.12345678", second.Balance.String())
	assert.Equal(t, "Never", second.LastOut)

	assert.Equal(t, "3LYJfcfHPXYJreMsASk2jkn69LWEYKzexb", result.Records[2].Address)

	// malformed balance and short row are dropped individually
	require.Len(t, result.RowErrors, 2)
	for _, rowErr := range result.RowErrors {
		assert.True(t, apperrors.Is(rowErr, apperrors.CategoryParse))
	}
}

func TestRankingParser_MissingTableIsEmpty(t *testing.T) {
	parser := NewRankingParser("tblOne", testColumns)

	result, err := parser.Parse(2, []byte(`<html><body><p>Too many requests</p></body></html>`))
	require.NoError(t, err)
	assert.False(t, result.TableFound)
	assert.Empty(t, result.Records)
	assert.Empty(t, result.RowErrors)
}

func TestRankingParser_RejectsOverlongAddress(t *testing.T) {
	parser := NewRankingParser("tblOne", testColumns)
	row := `<tr><td>%d</td><td>%s</td><td>1 BTC</td><td>0%%</td><td>2020-01-01</td><td>2020-01-01</td><td>1</td><td></td><td>Never</td><td>0</td></tr>`
	// matches neither address pattern, so the cell text is kept whole
	longest := strings.Repeat("Z", MaxAddressLength)
	page := `<table id="tblOne"><tbody>` +
		fmt.Sprintf(row, 1, longest+"Z") +
		fmt.Sprintf(row, 2, longest) +
		fmt.Sprintf(row, 3, "1FeexV6bAHb8ybZjqQMjJrcCrHGW9sb6uF") +
		`</tbody></table>`

	result, err := parser.Parse(4, []byte(page))
	require.NoError(t, err)

	require.Len(t, result.Records, 2)
	assert.Equal(t, longest, result.Records[0].Address)
	assert.Equal(t, "1FeexV6bAHb8ybZjqQMjJrcCrHGW9sb6uF", result.Records[1].Address)

	require.Len(t, result.RowErrors, 1)
	assert.True(t, apperrors.Is(result.RowErrors[0], apperrors.CategoryParse))
	assert.Contains(t, result.RowErrors[0].Error(), "exceeds 128 characters")
}

func TestParseBalance(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "248,597 BTC ($16,012,345,678)", want: "248597"},
		{in: "1,234.5 BTC", want: "1234.5"},
		{in: "0.00000001", want: "0.00000001"},
		{in: " 12BTC ", want: "12"},
		{in: "BTC 7", want: "7"},
		{in: "-5 BTC", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "", wantErr: true},
		{in: "1.2.3 BTC", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBalance(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}
