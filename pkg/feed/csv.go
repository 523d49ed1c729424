package feed

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// column aliases accepted in the header, matched case-insensitively
var columnAliases = map[string][]string{
	"timestamp": {"timestamp", "time", "datetime"},
	"open":      {"open"},
	"high":      {"high"},
	"low":       {"low"},
	"close":     {"close"},
	"volume":    {"volume", "tick_volume", "vol"},
}

var requiredColumns = []string{"timestamp", "open", "high", "low", "close"}

// timestamp layouts tried in order; values without an offset are read as UTC
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006.01.02 15:04:05",
	"2006.01.02 15:04",
	"2006-01-02",
}

// LoadCSV reads bars from a CSV file
func LoadCSV(path string) ([]Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return ReadCSV(f, path)
}

// ReadCSV reads bars with a `timestamp,open,high,low,close[,volume]` header.
// UTF-16 exports (as written by MT5) and UTF-8 BOMs are handled, and the
// delimiter (comma, semicolon or tab) is inferred from the header line.
func ReadCSV(r io.Reader, name string) ([]Bar, error) {
	br := bufio.NewReader(r)

	// MT5 writes UTF-16 with a byte order mark
	if bom, _ := br.Peek(2); len(bom) == 2 &&
		((bom[0] == 0xFF && bom[1] == 0xFE) || (bom[0] == 0xFE && bom[1] == 0xFF)) {
		decoder := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
		br = bufio.NewReader(transform.NewReader(br, decoder))
	}

	head, _ := br.Peek(4096)
	reader := csv.NewReader(br)
	reader.Comma = inferDelimiter(head)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &DataFormatError{Source: name, Reason: "empty file, header is missing"}
	}
	if err != nil {
		return nil, &DataFormatError{Source: name, Reason: fmt.Sprintf("unreadable header: %v", err)}
	}

	index, err := mapColumns(header, name)
	if err != nil {
		return nil, err
	}

	var bars []Bar
	row := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		row++
		if err != nil {
			return nil, &DataFormatError{Source: name, Row: row, Reason: err.Error()}
		}

		bar, err := parseRecord(record, index, name, row)
		if err != nil {
			return nil, err
		}
		if n := len(bars); n > 0 && !bar.Time.After(bars[n-1].Time) {
			return nil, &DataFormatError{
				Source: name,
				Row:    row,
				Column: "timestamp",
				Value:  record[index["timestamp"]],
				Reason: "timestamps must be strictly increasing",
			}
		}
		bars = append(bars, bar)
	}

	if err := ValidateBars(name, bars); err != nil {
		return nil, err
	}
	return bars, nil
}

// inferDelimiter picks the most frequent candidate on the first line
func inferDelimiter(head []byte) rune {
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	best, bestCount := ',', 0
	for _, c := range []rune{',', ';', '\t'} {
		if n := bytes.Count(head, []byte(string(c))); n > bestCount {
			best, bestCount = c, n
		}
	}
	return best
}

// mapColumns resolves canonical column names to record positions
func mapColumns(header []string, name string) (map[string]int, error) {
	positions := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		key = strings.Trim(key, "<>")
		if _, dup := positions[key]; !dup {
			positions[key] = i
		}
	}

	index := make(map[string]int, len(columnAliases))
	for canonical, aliases := range columnAliases {
		for _, alias := range aliases {
			if pos, ok := positions[alias]; ok {
				index[canonical] = pos
				break
			}
		}
	}

	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, &DataFormatError{Source: name, Column: col, Reason: "missing required column"}
		}
	}
	return index, nil
}

func parseRecord(record []string, index map[string]int, name string, row int) (Bar, error) {
	field := func(col string) (string, error) {
		pos := index[col]
		if pos >= len(record) {
			return "", &DataFormatError{Source: name, Row: row, Column: col, Reason: "field is missing"}
		}
		return strings.TrimSpace(record[pos]), nil
	}
	number := func(col string) (float64, error) {
		raw, err := field(col)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, &DataFormatError{Source: name, Row: row, Column: col, Value: raw, Reason: "not a number"}
		}
		return v, nil
	}

	var bar Bar
	raw, err := field("timestamp")
	if err != nil {
		return bar, err
	}
	if bar.Time, err = ParseTimestamp(raw); err != nil {
		return bar, &DataFormatError{Source: name, Row: row, Column: "timestamp", Value: raw, Reason: err.Error()}
	}
	if bar.Open, err = number("open"); err != nil {
		return bar, err
	}
	if bar.High, err = number("high"); err != nil {
		return bar, err
	}
	if bar.Low, err = number("low"); err != nil {
		return bar, err
	}
	if bar.Close, err = number("close"); err != nil {
		return bar, err
	}
	if _, ok := index["volume"]; ok {
		if bar.Volume, err = number("volume"); err != nil {
			return bar, err
		}
	}
	return bar, nil
}

// ParseTimestamp parses the accepted timestamp formats. Bare integers are unix
// seconds, or milliseconds when larger than 1e12.
func ParseTimestamp(s string) (time.Time, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1_000_000_000_000 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format")
}
