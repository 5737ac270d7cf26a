// txtrecord converts structured documents into flat key=value records and back.
//
// Usage:
//
//	txtrecord flatten [flags] [file]
//	txtrecord unflatten [flags] [file]
//
// Without a file, or with "-", the input is read from stdin.
package main

import (
	"errors"
	"fmt"
	"github.com/go-gum/txtrecord"
	"github.com/spf13/pflag"
	"io"
	"log/slog"
	"os"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// usageError marks errors caused by a wrong invocation.
type usageError struct {
	err error
}

func (e usageError) Error() string {
	return e.err.Error()
}

func (e usageError) Unwrap() error {
	return e.err
}

func usagef(format string, args ...any) error {
	return usageError{err: fmt.Errorf(format, args...)}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return exitUsage
	}

	var err error
	switch args[0] {
	case "flatten":
		err = flattenCmd(args[1:], stdin, stdout, stderr)
	case "unflatten":
		err = unflattenCmd(args[1:], stdin, stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n\n", args[0])
		printUsage(stderr)
		return exitUsage
	}

	if err == nil {
		return exitOK
	}

	fmt.Fprintf(stderr, "error: %v\n", err)

	var usage usageError
	if errors.As(err, &usage) {
		return exitUsage
	}

	return exitFailure
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `txtrecord - flatten structured documents into key=value records

USAGE
    txtrecord <command> [flags] [file]

COMMANDS
    flatten      Read a JSON, JSONC or YAML document and print its records
    unflatten    Read key=value records and print the document as JSON, YAML or TOON

EXAMPLES
    # Records for a DNS TXT entry
    txtrecord flatten --format zone --name _service.example.com service.yaml

    # Environment variables with shell friendly keys
    txtrecord flatten --object-separator __ --format env config.json

    # Back to YAML
    txtrecord unflatten --output yaml records.txt

Run "txtrecord <command> --help" for the flags of a command.
`)
}

// options are the flags shared by all commands.
type options struct {
	config  txtrecord.Config
	verbose bool
}

func (o *options) AddFlags(flagSet *pflag.FlagSet) {
	defaults := txtrecord.DefaultConfig()

	flagSet.StringVar(&o.config.ArraySeparator, "array-separator", defaults.ArraySeparator, "separator between a sequence and the index of an element")
	flagSet.StringVar(&o.config.ObjectSeparator, "object-separator", defaults.ObjectSeparator, "separator between an object and the name of a field")
	flagSet.IntVar(&o.config.RecordLen, "record-len", defaults.RecordLen, "maximum length of a key=value record in bytes, 0 disables the check")
	flagSet.StringVar(&o.config.ArrayLenSuffix, "array-len-suffix", defaults.ArrayLenSuffix, "suffix of the key holding the number of elements of a sequence")
	flagSet.BoolVarP(&o.verbose, "verbose", "v", false, "log diagnostics to stderr")
}

func (o *options) Logger(stderr io.Writer) *slog.Logger {
	logLevel := slog.LevelWarn
	if o.verbose {
		logLevel = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

// parseFlags parses args and returns the optional input path. A request for
// help is reported as (help=true, err=nil).
func parseFlags(flagSet *pflag.FlagSet, args []string) (path string, help bool, err error) {
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return "", true, nil
		}

		return "", false, usageError{err: err}
	}

	rest := flagSet.Args()
	switch {
	case len(rest) > 1:
		return "", false, usagef("unexpected argument: %s", rest[1])
	case len(rest) == 1:
		return rest[0], false, nil
	default:
		return "", false, nil
	}
}

func flattenCmd(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var opts options
	var inputFormat string
	var outputFormat string
	var zoneName string

	flagSet := pflag.NewFlagSet("txtrecord flatten", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	opts.AddFlags(flagSet)
	flagSet.StringVarP(&inputFormat, "input", "i", "", "input format: json, jsonc or yaml (default: by file extension)")
	flagSet.StringVarP(&outputFormat, "format", "f", formatLines, "output format: lines, zone or env")
	flagSet.StringVar(&zoneName, "name", "@", "owner name of the TXT record for --format zone")

	path, help, err := parseFlags(flagSet, args)
	if err != nil || help {
		return err
	}

	if inputFormat == "" {
		inputFormat = documentFormatOf(path)
	}

	if !isDocumentFormat(inputFormat) {
		return usagef("unknown input format: %q", inputFormat)
	}

	if !isRecordFormat(outputFormat) {
		return usagef("unknown output format: %q", outputFormat)
	}

	logger := opts.Logger(stderr)

	data, err := readInput(path, stdin)
	if err != nil {
		return err
	}

	logger.Debug("read document", "path", displayPath(path), "format", inputFormat, "bytes", len(data))

	document, err := decodeDocument(data, inputFormat)
	if err != nil {
		return err
	}

	records, err := txtrecord.MarshalConfig(document, opts.config)
	if err != nil {
		return fmt.Errorf("flatten %s: %w", displayPath(path), err)
	}

	logger.Debug("flattened document", "records", len(records))

	return writeRecords(stdout, records, outputFormat, zoneName)
}

func unflattenCmd(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var opts options
	var outputFormat string
	var compact bool

	flagSet := pflag.NewFlagSet("txtrecord unflatten", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	opts.AddFlags(flagSet)
	flagSet.StringVarP(&outputFormat, "output", "o", formatJSON, "output format: json, yaml or toon")
	flagSet.BoolVar(&compact, "compact", false, "print json on a single line")

	path, help, err := parseFlags(flagSet, args)
	if err != nil || help {
		return err
	}

	if !isOutputFormat(outputFormat) {
		return usagef("unknown output format: %q", outputFormat)
	}

	logger := opts.Logger(stderr)

	data, err := readInput(path, stdin)
	if err != nil {
		return err
	}

	records, err := readRecords(data)
	if err != nil {
		return fmt.Errorf("read %s: %w", displayPath(path), err)
	}

	logger.Debug("read records", "path", displayPath(path), "records", len(records))

	// an empty record set is an empty object
	var document any = map[string]any{}

	if len(records) > 0 {
		if err := txtrecord.UnmarshalConfig(records, opts.config, &document); err != nil {
			return fmt.Errorf("unflatten %s: %w", displayPath(path), err)
		}
	}

	return writeDocument(stdout, document, outputFormat, compact)
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}

		return data, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return data, nil
}

func displayPath(path string) string {
	if path == "" || path == "-" {
		return "<stdin>"
	}

	return path
}
