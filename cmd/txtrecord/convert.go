package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"github.com/go-gum/txtrecord"
	"github.com/tidwall/jsonc"
	"github.com/tidwall/pretty"
	"github.com/toon-format/toon-go"
	"gopkg.in/yaml.v3"
	"io"
	"path/filepath"
	"strings"
)

const (
	formatJSON  = "json"
	formatJSONC = "jsonc"
	formatYAML  = "yaml"
	formatTOON  = "toon"

	formatLines = "lines"
	formatZone  = "zone"
	formatEnv   = "env"
)

func isDocumentFormat(format string) bool {
	return format == formatJSON || format == formatJSONC || format == formatYAML
}

func isRecordFormat(format string) bool {
	return format == formatLines || format == formatZone || format == formatEnv
}

// documentFormatOf guesses the format of a document by its file extension.
// JSONC is a superset of JSON and the fallback.
func documentFormatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	case ".json":
		return formatJSON
	default:
		return formatJSONC
	}
}

// decodeDocument parses data into generic maps, slices and scalars.
// JSON numbers are kept as json.Number to flatten them without loss.
func decodeDocument(data []byte, format string) (any, error) {
	var document any

	switch format {
	case formatYAML:
		if err := yaml.Unmarshal(data, &document); err != nil {
			return nil, fmt.Errorf("parsing yaml: %w", err)
		}

		return normalizeYAML(document)

	case formatJSON, formatJSONC:
		if format == formatJSONC {
			data = jsonc.ToJSON(data)
		}

		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.UseNumber()

		if err := decoder.Decode(&document); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", format, err)
		}

		return document, nil

	default:
		return nil, fmt.Errorf("unknown document format %q", format)
	}
}

// normalizeYAML converts mappings with non-string keys, which yaml decodes
// into map[any]any, into map[string]any.
func normalizeYAML(value any) (any, error) {
	switch value := value.(type) {
	case map[string]any:
		for key, child := range value {
			normalized, err := normalizeYAML(child)
			if err != nil {
				return nil, err
			}

			value[key] = normalized
		}

		return value, nil

	case map[any]any:
		result := make(map[string]any, len(value))
		for key, child := range value {
			normalized, err := normalizeYAML(child)
			if err != nil {
				return nil, err
			}

			switch key.(type) {
			case string, int, int64, uint64, float64, bool:
				result[fmt.Sprint(key)] = normalized
			default:
				return nil, fmt.Errorf("unsupported yaml mapping key %v of type %T", key, key)
			}
		}

		return result, nil

	case []any:
		for idx, child := range value {
			normalized, err := normalizeYAML(child)
			if err != nil {
				return nil, err
			}

			value[idx] = normalized
		}

		return value, nil

	default:
		return value, nil
	}
}

func writeRecords(w io.Writer, records txtrecord.Records, format, zoneName string) error {
	out := bufio.NewWriter(w)

	switch format {
	case formatLines:
		for _, record := range records {
			fmt.Fprintln(out, record.String())
		}

	case formatZone:
		fmt.Fprintf(out, "%s IN TXT", zoneName)
		for _, record := range records {
			fmt.Fprintf(out, " %s", zoneQuote(record.String()))
		}

		fmt.Fprintln(out)

	case formatEnv:
		for _, record := range records {
			fmt.Fprintf(out, "%s=%s\n", record.Key, shellQuote(record.Value))
		}

	default:
		return fmt.Errorf("unknown record format %q", format)
	}

	return out.Flush()
}

// zoneQuote renders text as a quoted character-string of a zone file.
func zoneQuote(text string) string {
	var buf strings.Builder
	buf.WriteByte('"')

	for idx := 0; idx < len(text); idx++ {
		ch := text[idx]

		switch {
		case ch == '"' || ch == '\\':
			buf.WriteByte('\\')
			buf.WriteByte(ch)

		case ch < 0x20 || ch >= 0x7f:
			// non printable bytes use the decimal escape \DDD
			fmt.Fprintf(&buf, "\\%03d", ch)

		default:
			buf.WriteByte(ch)
		}
	}

	buf.WriteByte('"')
	return buf.String()
}

// shellQuote single quotes text unless it only contains characters that are
// safe in a posix shell word.
func shellQuote(text string) string {
	if text != "" && strings.Trim(text, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-.,:/@%+=") == "" {
		return text
	}

	return "'" + strings.ReplaceAll(text, "'", `'\''`) + "'"
}

// readRecords parses one record per line. Empty lines and lines starting
// with '#' are skipped.
func readRecords(data []byte) (txtrecord.Records, error) {
	var records txtrecord.Records

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNumber := 0
	for scanner.Scan() {
		lineNumber++

		line := strings.TrimSuffix(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}

		record, err := txtrecord.ParseRecord(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNumber, err)
		}

		records = append(records, record)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

func isOutputFormat(format string) bool {
	return format == formatJSON || format == formatYAML || format == formatTOON
}

func writeDocument(w io.Writer, document any, format string, compact bool) error {
	switch format {
	case formatJSON:
		var buf bytes.Buffer

		encoder := json.NewEncoder(&buf)
		encoder.SetEscapeHTML(false)
		if err := encoder.Encode(document); err != nil {
			return err
		}

		var formatted []byte
		if compact {
			formatted = append(pretty.Ugly(buf.Bytes()), '\n')
		} else {
			formatted = pretty.PrettyOptions(buf.Bytes(), &pretty.Options{Indent: "  ", SortKeys: true})
		}

		_, err := w.Write(formatted)
		return err

	case formatYAML:
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)

		if err := encoder.Encode(document); err != nil {
			return err
		}

		return encoder.Close()

	case formatTOON:
		encoded, err := toon.Marshal(document)
		if err != nil {
			return fmt.Errorf("encoding toon: %w", err)
		}

		if _, err := w.Write(encoded); err != nil {
			return err
		}

		_, err = io.WriteString(w, "\n")
		return err

	default:
		return fmt.Errorf("unknown document format %q", format)
	}
}
