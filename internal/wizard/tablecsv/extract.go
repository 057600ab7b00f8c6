// Package tablecsv extracts Markdown pipe tables and encodes them as CSV or
// Excel workbooks.
package tablecsv

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"regexp"
	"strings"
)

// NoTableMessage is returned instead of CSV when the input holds no usable table
const NoTableMessage = "No valid Markdown table found in the generated content."

var (
	separatorRow = regexp.MustCompile(`^\s*\|?\s*:?-+:?\s*(\|\s*:?-+:?\s*)*\|?\s*$`)
	spaceRun     = regexp.MustCompile(`\s+`)
	fencedBlock  = regexp.MustCompile("(?s)```([a-zA-Z]*)\\s*(.*?)```")
	payloadMark  = regexp.MustCompile(`(^|[^A-Za-z])\s*(Headers:|Body:|Status Code:|DB:)`)
	fenceMark    = regexp.MustCompile("\\s*```")
)

// payloadColumns are header fragments of columns that carry request or
// response payloads
var payloadColumns = []string{"test data", "testdata", "test_data", "testdaten", "expected", "erwartet"}

type table struct {
	headers []string
	rows    [][]string
}

// HasTable reports whether s contains at least one Markdown table
func HasTable(s string) bool {
	return len(findTables(s)) > 0
}

// Extract converts every Markdown table in s into a single CSV document.
// Rows of later tables are mapped positionally onto the first table's
// headers. When no table is found NoTableMessage is returned.
func Extract(s string) string {
	tables := findTables(s)
	if len(tables) == 0 || len(tables[0].headers) == 0 {
		return NoTableMessage
	}

	headers := tables[0].headers
	payload := make([]bool, len(headers))
	for i, h := range headers {
		payload[i] = isPayloadColumn(h)
	}

	var records [][]string
	for _, t := range tables {
		for _, row := range t.rows {
			record := make([]string, len(headers))
			keep := false
			for i := range headers {
				if i >= len(row) {
					break
				}
				cell := cleanCell(row[i], payload[i])
				if cell != "" {
					keep = true
				}
				record[i] = cell
			}
			if keep {
				records = append(records, record)
			}
		}
	}

	out, err := Encode(headers, records)
	if err != nil {
		return NoTableMessage
	}
	return out
}

// Encode writes headers and records as CSV with standard escaping
func Encode(headers []string, records [][]string) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(headers); err != nil {
		return "", err
	}
	if err := w.WriteAll(records); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func findTables(s string) []table {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")

	var tables []table
	for i := 0; i+2 < len(lines); i++ {
		if !isRow(lines[i]) || separatorRow.MatchString(lines[i]) || !separatorRow.MatchString(lines[i+1]) || !isRow(lines[i+2]) || separatorRow.MatchString(lines[i+2]) {
			continue
		}

		headers := splitRow(lines[i])
		if allEmpty(headers) {
			continue
		}
		t := table{headers: headers}

		j := i + 2
		for ; j < len(lines) && isRow(lines[j]); j++ {
			t.rows = append(t.rows, splitRow(lines[j]))
		}
		tables = append(tables, t)
		i = j - 1
	}
	return tables
}

func isRow(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed != "" && strings.Contains(trimmed, "|")
}

// splitRow splits a table row on unescaped pipes and drops the empty
// pseudo-columns produced by leading and trailing pipes
func splitRow(line string) []string {
	var cells []string
	var cur strings.Builder
	runes := []rune(strings.TrimSpace(line))
	for i := 0; i < len(runes); i++ {
		switch {
		case runes[i] == '\\' && i+1 < len(runes) && runes[i+1] == '|':
			cur.WriteRune('|')
			i++
		case runes[i] == '|':
			cells = append(cells, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteRune(runes[i])
		}
	}
	cells = append(cells, strings.TrimSpace(cur.String()))

	if len(cells) > 0 && cells[0] == "" {
		cells = cells[1:]
	}
	if len(cells) > 0 && cells[len(cells)-1] == "" {
		cells = cells[:len(cells)-1]
	}
	return cells
}

func allEmpty(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}

func isPayloadColumn(header string) bool {
	h := strings.ToLower(header)
	for _, p := range payloadColumns {
		if strings.Contains(h, p) {
			return true
		}
	}
	return false
}

func cleanCell(cell string, payload bool) string {
	cell = strings.TrimSpace(spaceRun.ReplaceAllString(cell, " "))
	if !payload || cell == "" {
		return cell
	}

	cell = fencedBlock.ReplaceAllStringFunc(cell, prettyFence)

	// markers inside code fences stay where they are
	parts := strings.Split(cell, "```")
	for i := range parts {
		if i%2 == 1 {
			continue
		}
		parts[i] = payloadMark.ReplaceAllStringFunc(parts[i], breakBeforeMark)
	}
	cell = strings.Join(parts, "```")
	cell = fenceMark.ReplaceAllString(cell, "\n```")
	return strings.TrimLeft(cell, "\n")
}

// prettyFence re-indents a fenced JSON block; other blocks are left as they are
func prettyFence(block string) string {
	m := fencedBlock.FindStringSubmatch(block)
	lang, body := m[1], strings.TrimSpace(m[2])
	if lang != "" && !strings.EqualFold(lang, "json") {
		return block
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, []byte(body), "", "  "); err != nil {
		return block
	}
	if lang == "" {
		lang = "json"
	}
	return "```" + lang + "\n" + pretty.String() + "\n```"
}

// breakBeforeMark moves a payload label onto its own line. Labels glued to
// a word, as in RequestBody:, never match.
func breakBeforeMark(m string) string {
	sub := payloadMark.FindStringSubmatch(m)
	return strings.TrimSpace(sub[1]) + "\n" + sub[2]
}
