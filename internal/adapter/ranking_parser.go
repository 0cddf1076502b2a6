package adapter

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/wallet-tracker/internal/config"
	apperrors "github.com/wallet-tracker/internal/errors"
	"github.com/wallet-tracker/internal/types"
)

// RankingParser turns one ranking page into wallet records.
// The upstream page is expected to hold the ranking in a table whose id
// starts with TableID (the source splits long pages into "tblOne" and
// "tblOne2"); columns are mapped by fixed position.
type RankingParser struct {
	tableID string
	columns config.ColumnLayout
}

// PageParseResult holds the rows of one page and the rows that were dropped
type PageParseResult struct {
	Records    []types.WalletRecord
	RowErrors  []error
	TableFound bool
}

// NewRankingParser creates a parser for the configured table layout
func NewRankingParser(tableID string, columns config.ColumnLayout) *RankingParser {
	return &RankingParser{tableID: tableID, columns: columns}
}

// Parse parses page markup. Only unreadable markup is a page-level error;
// a missing table yields an empty result and malformed rows are reported
// in RowErrors while the remaining rows are kept.
func (p *RankingParser) Parse(page int, body []byte) (*PageParseResult, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.NewParseError(page, 0, "unreadable markup", err)
	}

	result := &PageParseResult{}
	row := 0
	for _, table := range p.findTables(doc) {
		result.TableFound = true
		for _, tr := range findAll(table, atom.Tr) {
			cells := findAll(tr, atom.Td)
			if len(cells) == 0 {
				continue // header row
			}
			row++

			record, err := p.parseRow(page, row, cells)
			if err != nil {
				result.RowErrors = append(result.RowErrors, err)
				continue
			}
			result.Records = append(result.Records, record)
		}
	}

	return result, nil
}

// MaxAddressLength matches the width of the address column in storage
const MaxAddressLength = 128

func (p *RankingParser) parseRow(page, row int, cells []*html.Node) (types.WalletRecord, error) {
	maxCol := max(p.columns.Address, p.columns.Balance, p.columns.FirstIn, p.columns.LastIn, p.columns.LastOut)
	if len(cells) <= maxCol {
		return types.WalletRecord{}, apperrors.NewParseError(page, row,
			fmt.Sprintf("expected at least %d cells, got %d", maxCol+1, len(cells)), nil)
	}

	address := NormalizeAddress(textContent(cells[p.columns.Address]))
	if address == "" {
		return types.WalletRecord{}, apperrors.NewParseError(page, row, "empty address cell", nil)
	}
	if len(address) > MaxAddressLength {
		return types.WalletRecord{}, apperrors.NewParseError(page, row,
			fmt.Sprintf("address exceeds %d characters", MaxAddressLength), nil)
	}

	balance, err := ParseBalance(textContent(cells[p.columns.Balance]))
	if err != nil {
		return types.WalletRecord{}, apperrors.NewParseError(page, row, "malformed balance", err)
	}

	return types.WalletRecord{
		Address: address,
		Balance: balance,
		FirstIn: cleanText(textContent(cells[p.columns.FirstIn])),
		LastIn:  cleanText(textContent(cells[p.columns.LastIn])),
		LastOut: cleanText(textContent(cells[p.columns.LastOut])),
	}, nil
}

// ParseBalance converts upstream balance text such as
// "248,597.12 BTC ($16,012,345,678)" into a decimal. Thousands separators,
// the unit token and any parenthesised fiat value are discarded.
func ParseBalance(text string) (decimal.Decimal, error) {
	if idx := strings.Index(text, "("); idx >= 0 {
		text = text[:idx]
	}
	text = strings.ReplaceAll(text, ",", "")

	for _, field := range strings.Fields(text) {
		numeric := strings.TrimRightFunc(field, unicode.IsLetter)
		if numeric == "" {
			continue
		}

		value, err := decimal.NewFromString(numeric)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid numeric text %q: %w", field, err)
		}
		if value.IsNegative() {
			return decimal.Zero, fmt.Errorf("negative balance %q", field)
		}
		return value, nil
	}

	return decimal.Zero, fmt.Errorf("no numeric value in %q", text)
}

func (p *RankingParser) findTables(doc *html.Node) []*html.Node {
	var tables []*html.Node
	for _, table := range findAll(doc, atom.Table) {
		if strings.HasPrefix(attr(table, "id"), p.tableID) {
			tables = append(tables, table)
		}
	}
	return tables
}

// findAll returns the descendants of n with the given tag, in document order.
// Nested tables are not descended into.
func findAll(n *html.Node, tag atom.Atom) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			if c.DataAtom == tag {
				out = append(out, c)
				if tag == atom.Table {
					continue
				}
			}
			if c.DataAtom == atom.Table && tag != atom.Table {
				continue
			}
			walk(c)
		}
	}
	walk(n)
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
			sb.WriteByte(' ')
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
