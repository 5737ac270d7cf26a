package main

import (
	"bytes"
	"github.com/stretchr/testify/require"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runCommand(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	code := run(args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFlattenJSON(t *testing.T) {
	code, stdout, stderr := runCommand(t,
		`{"name": "Alice", "age": 30, "servers": ["web1", "web2"], "database": {"host": "localhost", "port": 5432}}`,
		"flatten", "--input", "json")

	require.Equal(t, code, exitOK, stderr)
	require.Equal(t, stdout, strings.Join([]string{
		"age=30",
		"database.host=localhost",
		"database.port=5432",
		"name=Alice",
		"servers_0=web1",
		"servers_1=web2",
		"servers_len=2",
		"",
	}, "\n"))
}

func TestFlattenJSONC(t *testing.T) {
	path := writeFile(t, "service.jsonc", `{
		// the public name
		"name": "api",
		"ratio": 0.25,
		"tags": ["a", "b",],
	}`)

	code, stdout, stderr := runCommand(t, "", "flatten", path)
	require.Equal(t, code, exitOK, stderr)
	require.Equal(t, stdout, "name=api\nratio=0.25\ntags_0=a\ntags_1=b\ntags_len=2\n")
}

func TestFlattenYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
app: demo
ports:
  80: http
  443: https
enabled: true
empty: []
`)

	code, stdout, stderr := runCommand(t, "", "flatten", path)
	require.Equal(t, code, exitOK, stderr)
	require.Equal(t, stdout, "app=demo\nempty_len=0\nenabled=true\nports.443=https\nports.80=http\n")
}

func TestFlattenCustomConfig(t *testing.T) {
	code, stdout, stderr := runCommand(t, `{"items": ["item1", "item2"]}`,
		"flatten", "--array-separator", "-", "--array-len-suffix", ".count")

	require.Equal(t, code, exitOK, stderr)
	require.Equal(t, stdout, "items-0=item1\nitems-1=item2\nitems.count=2\n")
}

func TestFlattenZone(t *testing.T) {
	code, stdout, stderr := runCommand(t, `{"txt": "say \"hi\"", "v": "1"}`,
		"flatten", "--format", "zone", "--name", "_svc.example.com.")

	require.Equal(t, code, exitOK, stderr)
	require.Equal(t, stdout, `_svc.example.com. IN TXT "txt=say \"hi\"" "v=1"`+"\n")
}

func TestFlattenEnv(t *testing.T) {
	code, stdout, stderr := runCommand(t, `{"HOST": "localhost", "GREETING": "it's me"}`,
		"flatten", "--format", "env")

	require.Equal(t, code, exitOK, stderr)
	require.Equal(t, stdout, "GREETING='it'\\''s me'\nHOST=localhost\n")
}

func TestFlattenRecordTooLong(t *testing.T) {
	code, stdout, stderr := runCommand(t, `{"key": "very_long_value_that_exceeds"}`,
		"flatten", "--record-len", "20")

	require.Equal(t, code, exitFailure)
	require.Empty(t, stdout)
	require.Contains(t, stderr, "too long")
}

func TestFlattenInvalidDocument(t *testing.T) {
	code, _, stderr := runCommand(t, `{"key": `, "flatten")
	require.Equal(t, code, exitFailure)
	require.Contains(t, stderr, "parsing jsonc")

	code, _, stderr = runCommand(t, `"just a string"`, "flatten")
	require.Equal(t, code, exitFailure)
	require.Contains(t, stderr, "not supported")
}

func TestUnflatten(t *testing.T) {
	input := strings.Join([]string{
		"# service description",
		"name=api",
		"",
		"paths_0=/v1",
		"paths_1=/v2",
		"paths_len=2",
		"owner.team=platform",
	}, "\n")

	code, stdout, stderr := runCommand(t, input, "unflatten")
	require.Equal(t, code, exitOK, stderr)
	require.JSONEq(t, stdout, `{"name": "api", "paths": ["/v1", "/v2"], "owner": {"team": "platform"}}`)

	code, stdout, stderr = runCommand(t, input, "unflatten", "--output", "yaml")
	require.Equal(t, code, exitOK, stderr)
	require.YAMLEq(t, stdout, "name: api\npaths: [/v1, /v2]\nowner:\n  team: platform\n")
}

func TestUnflattenFormats(t *testing.T) {
	input := "name=api\nports_0=80\nports_len=1\n"

	code, stdout, stderr := runCommand(t, input, "unflatten", "--compact")
	require.Equal(t, code, exitOK, stderr)
	require.Equal(t, stdout, `{"name":"api","ports":["80"]}`+"\n")

	code, stdout, stderr = runCommand(t, input, "unflatten", "--output", "toon")
	require.Equal(t, code, exitOK, stderr)
	require.Contains(t, stdout, "api")
}

func TestUnflattenEmpty(t *testing.T) {
	code, stdout, stderr := runCommand(t, "\n# nothing\n", "unflatten")
	require.Equal(t, code, exitOK, stderr)
	require.JSONEq(t, stdout, `{}`)
}

func TestUnflattenMalformed(t *testing.T) {
	code, _, stderr := runCommand(t, "a=1\nbroken\n", "unflatten")
	require.Equal(t, code, exitFailure)
	require.Contains(t, stderr, "line 2")

	code, _, stderr = runCommand(t, "items_0=a\nitems_len=many\n", "unflatten")
	require.Equal(t, code, exitFailure)
	require.Contains(t, stderr, "invalid format")
}

func TestRoundTrip(t *testing.T) {
	document := `{"name": "Alice", "tags": ["a", "b"], "nested": {"matrix": [["1"], []]}}`

	code, records, stderr := runCommand(t, document, "flatten")
	require.Equal(t, code, exitOK, stderr)

	code, stdout, stderr := runCommand(t, records, "unflatten")
	require.Equal(t, code, exitOK, stderr)
	require.JSONEq(t, stdout, document)
}

func TestVerbose(t *testing.T) {
	code, _, stderr := runCommand(t, `{"a": "b"}`, "flatten", "--verbose")
	require.Equal(t, code, exitOK)
	require.Contains(t, stderr, "flattened document")
	require.Contains(t, stderr, "records=1")

	code, _, stderr = runCommand(t, `{"a": "b"}`, "flatten")
	require.Equal(t, code, exitOK)
	require.Empty(t, stderr)
}

func TestUsage(t *testing.T) {
	code, _, stderr := runCommand(t, "")
	require.Equal(t, code, exitUsage)
	require.Contains(t, stderr, "USAGE")

	code, _, stderr = runCommand(t, "", "frobnicate")
	require.Equal(t, code, exitUsage)
	require.Contains(t, stderr, "unknown command: frobnicate")

	code, _, _ = runCommand(t, "", "flatten", "--no-such-flag")
	require.Equal(t, code, exitUsage)

	code, _, _ = runCommand(t, "", "flatten", "--format", "xml")
	require.Equal(t, code, exitUsage)

	code, _, _ = runCommand(t, "", "unflatten", "--output", "toml")
	require.Equal(t, code, exitUsage)

	code, _, _ = runCommand(t, "", "flatten", "a.json", "b.json")
	require.Equal(t, code, exitUsage)

	code, stdout, _ := runCommand(t, "", "help")
	require.Equal(t, code, exitOK)
	require.Contains(t, stdout, "COMMANDS")

	code, _, stderr = runCommand(t, "", "flatten", "--help")
	require.Equal(t, code, exitOK)
	require.Contains(t, stderr, "--array-separator")
}

func TestMissingFile(t *testing.T) {
	code, _, stderr := runCommand(t, "", "flatten", filepath.Join(t.TempDir(), "missing.json"))
	require.Equal(t, code, exitFailure)
	require.Contains(t, stderr, "reading")
}
