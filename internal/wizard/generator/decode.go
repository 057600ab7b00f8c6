package generator

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/docflow/docflow-backend/internal/wizard/tablecsv"
)

// Variant names a known response shape of the generation service
type Variant string

const (
	VariantCSVData       Variant = "csvData"
	VariantMarkdownArray Variant = "markdownArray"
	VariantCSV           Variant = "csv"
	VariantData          Variant = "data"
	VariantFile          Variant = "file"
	VariantMarkdown      Variant = "markdown"
	VariantRawTable      Variant = "rawTable"
	VariantPlaceholder   Variant = "placeholder"
)

// PlaceholderCSV is the result of a response without extractable data
const PlaceholderCSV = "Status,Message\ncompleted,Generation completed with no extractable data\n"

// Response is a classified generation response
type Response struct {
	Variant Variant
	Payload string
}

// Classify sorts a response body into the first matching variant:
// csvData, an array of markdown objects, csv, data, file or fileContent,
// markdown, a raw string holding a table, and finally the placeholder.
func Classify(body []byte) Response {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return classifyText(string(body))
	}

	switch v := decoded.(type) {
	case map[string]any:
		if s, ok := stringField(v, "csvData"); ok {
			return Response{VariantCSVData, s}
		}
		if s, ok := stringField(v, "csv"); ok {
			return Response{VariantCSV, s}
		}
		if s, ok := stringField(v, "data"); ok {
			return Response{VariantData, s}
		}
		for _, key := range []string{"file", "fileContent"} {
			if s, ok := stringField(v, key); ok {
				return Response{VariantFile, decodeFile(s)}
			}
		}
		if s, ok := stringField(v, "markdown"); ok {
			return Response{VariantMarkdown, s}
		}
	case []any:
		if len(v) > 0 {
			if first, ok := v[0].(map[string]any); ok {
				if s, ok := stringField(first, "markdown"); ok {
					return Response{VariantMarkdownArray, s}
				}
			}
		}
	case string:
		return classifyText(v)
	}

	return Response{Variant: VariantPlaceholder}
}

// CSV converts the classified payload to CSV text
func (r Response) CSV() string {
	switch r.Variant {
	case VariantCSVData, VariantCSV, VariantFile:
		return r.Payload
	case VariantData:
		if tablecsv.HasTable(r.Payload) {
			return tablecsv.Extract(r.Payload)
		}
		return r.Payload
	case VariantMarkdownArray, VariantMarkdown, VariantRawTable:
		return tablecsv.Extract(r.Payload)
	}
	return PlaceholderCSV
}

// Decode classifies body and returns its CSV rendition
func Decode(body []byte) string {
	return Classify(body).CSV()
}

func classifyText(s string) Response {
	if tablecsv.HasTable(s) {
		return Response{VariantRawTable, s}
	}
	return Response{Variant: VariantPlaceholder}
}

func stringField(m map[string]any, key string) (string, bool) {
	s, ok := m[key].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

func decodeFile(s string) string {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil || !utf8.Valid(decoded) {
		return s
	}
	return string(decoded)
}
