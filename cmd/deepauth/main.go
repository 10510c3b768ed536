package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	gqlparser "github.com/vektah/gqlparser/v2"

	"github.com/hanpama/deepauth/internal/config"
	"github.com/hanpama/deepauth/internal/deepauth"
	"github.com/hanpama/deepauth/internal/language"
	"github.com/hanpama/deepauth/internal/schema"
)

const rootUsage = `deepauth - GraphQL authorization filter rewriting

USAGE:
  deepauth <command> [flags]

COMMANDS:
  serve            Run the HTTP rewrite service
  validate         Check @deepAuth directives against the schema
  rewrite          Rewrite one query file and print the result
  compile-sdl      Merge GraphQL SDL files into a single schema
  help             Show help for any command
`

const serveUsage = `serve FLAGS:
  -config <file>                  YAML configuration file
  -schema <glob>                  SDL file or glob. Repeatable; overrides the config file
  -listen <addr>                  HTTP listen address (default: :8080)
  -param <Header=$name>           Map a request header to a deepAuth param. Repeatable
  -log.level <level>              debug, info, warn or error (default: info)
  -log.format <format>            json or text (default: json)
  -server.timeout <duration>      Per-request timeout, e.g. 10s (default: 10s)
  -server.max-body-bytes <n>      Request body limit in bytes (default: 1048576)
  -server.pretty                  Pretty-print JSON responses
  -server.cors <origin>           Allowed CORS origin. Repeatable
  -otel.endpoint <addr>           OTLP collector endpoint
  -otel.service <name>            OpenTelemetry service name (default: deepauth)
`

const validateUsage = `validate FLAGS:
  -schema <glob>   SDL file or glob. Repeatable (required)
  -strict          Also run full GraphQL schema validation
  (Exits non-zero when violations are found)
`

const rewriteUsage = `rewrite FLAGS:
  -schema <glob>          SDL file or glob. Repeatable (required)
  -query <file>           Query document, or - for stdin (required)
  -operation <name>       Operation to rewrite when the document has several
  -variables <json>       Request variables as a JSON object
  -param <$name=value>    deepAuth request param. Repeatable
  -json                   Print the rewritten query and auth params as JSON
`

const compileSDLUsage = `compile-sdl FLAGS:
  -schema <glob>   SDL file or glob. Repeatable (required)
  -out <file>      Write compiled SDL to file (default: stdout)
  (deepAuth validation always runs; exits non-zero on errors)
`

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		log.Fatal(err)
	}
}

type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	c := &cli{stdin: stdin, stdout: stdout, stderr: stderr}
	if len(args) == 0 {
		fmt.Fprint(stderr, rootUsage)
		return errors.New("missing command")
	}

	cmd := args[0]
	cmdArgs := args[1:]
	switch cmd {
	case "serve":
		return c.serve(cmdArgs)
	case "validate":
		return c.validate(cmdArgs)
	case "rewrite":
		return c.rewrite(cmdArgs)
	case "compile-sdl":
		return c.compileSDL(cmdArgs)
	case "help", "-h", "-help", "--help":
		return c.help(cmdArgs)
	default:
		fmt.Fprint(stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (c *cli) help(args []string) error {
	if len(args) == 0 {
		fmt.Fprint(c.stdout, rootUsage)
		return nil
	}
	switch args[0] {
	case "serve":
		fmt.Fprint(c.stdout, serveUsage)
	case "validate":
		fmt.Fprint(c.stdout, validateUsage)
	case "rewrite":
		fmt.Fprint(c.stdout, rewriteUsage)
	case "compile-sdl":
		fmt.Fprint(c.stdout, compileSDLUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

type stringListFlag []string

func (s *stringListFlag) String() string { return strings.Join(*s, ",") }

func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// pairFlag collects repeatable key=value flags.
type pairFlag struct {
	keys []string
	m    map[string]string
}

func (p *pairFlag) String() string { return "" }

func (p *pairFlag) Set(v string) error {
	key, value, ok := strings.Cut(v, "=")
	key, value = strings.TrimSpace(key), strings.TrimSpace(value)
	if !ok || key == "" {
		return fmt.Errorf("invalid pair %q, expected key=value", v)
	}
	if p.m == nil {
		p.m = map[string]string{}
	}
	if _, seen := p.m[key]; !seen {
		p.keys = append(p.keys, key)
	}
	p.m[key] = value
	return nil
}

// loadSchema expands globs, builds the schema and checks its @deepAuth
// directives.
func loadSchema(globs []string) (*schema.Schema, []*language.Source, error) {
	if len(globs) == 0 {
		return nil, nil, errors.New("-schema is required")
	}
	files, err := config.ExpandGlobs(globs)
	if err != nil {
		return nil, nil, err
	}
	sources := make([]*language.Source, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, nil, fmt.Errorf("read schema: %w", err)
		}
		sources = append(sources, &language.Source{Name: f, Input: string(data)})
	}
	sch, err := schema.Build(sources...)
	if err != nil {
		return nil, nil, fmt.Errorf("build schema: %w", err)
	}
	if err := deepauth.ValidateSchema(sch); err != nil {
		return nil, nil, err
	}
	return sch, sources, nil
}

func (c *cli) validate(args []string) error {
	var globs stringListFlag
	strict := false
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.Var(&globs, "schema", "SDL file or glob")
	fs.BoolVar(&strict, "strict", strict, "Run full GraphQL schema validation")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(c.stderr, validateUsage)
		return err
	}

	_, sources, err := loadSchema(globs)
	if err != nil {
		return err
	}
	if strict {
		if _, err := gqlparser.LoadSchema(sources...); err != nil {
			return fmt.Errorf("strict validation: %w", err)
		}
	}
	fmt.Fprintf(c.stdout, "ok: %d schema file(s)\n", len(sources))
	return nil
}

func (c *cli) compileSDL(args []string) error {
	var globs stringListFlag
	outFile := ""
	fs := flag.NewFlagSet("compile-sdl", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.Var(&globs, "schema", "SDL file or glob")
	fs.StringVar(&outFile, "out", outFile, "Write compiled SDL to file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(c.stderr, compileSDLUsage)
		return err
	}

	sch, _, err := loadSchema(globs)
	if err != nil {
		return err
	}
	sdl := schema.Render(sch)
	if outFile == "" {
		fmt.Fprint(c.stdout, sdl)
		return nil
	}
	return os.WriteFile(outFile, []byte(sdl), 0o644)
}

func (c *cli) rewrite(args []string) error {
	var globs stringListFlag
	var params pairFlag
	queryFile := ""
	operation := ""
	variables := ""
	asJSON := false
	fs := flag.NewFlagSet("rewrite", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.Var(&globs, "schema", "SDL file or glob")
	fs.StringVar(&queryFile, "query", queryFile, "Query document")
	fs.StringVar(&operation, "operation", operation, "Operation name")
	fs.StringVar(&variables, "variables", variables, "Variables as JSON")
	fs.Var(&params, "param", "deepAuth request param")
	fs.BoolVar(&asJSON, "json", asJSON, "Print JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(c.stderr, rewriteUsage)
		return err
	}
	if queryFile == "" {
		fmt.Fprint(c.stderr, rewriteUsage)
		return errors.New("-query is required")
	}

	sch, _, err := loadSchema(globs)
	if err != nil {
		return err
	}
	var query []byte
	if queryFile == "-" {
		query, err = io.ReadAll(c.stdin)
	} else {
		query, err = os.ReadFile(queryFile)
	}
	if err != nil {
		return fmt.Errorf("read query: %w", err)
	}
	vars := map[string]any{}
	if variables != "" {
		if err := json.Unmarshal([]byte(variables), &vars); err != nil {
			return fmt.Errorf("invalid -variables: %w", err)
		}
	}

	doc, err := language.ParseQuery(string(query))
	if err != nil {
		return fmt.Errorf("parse query: %w", err)
	}
	info, err := deepauth.ResolveInfoFromDocument(sch, doc, operation, vars)
	if err != nil {
		return err
	}

	bag := deepauth.Params{}
	for _, k := range params.keys {
		bag[k] = params.m[k]
	}
	ctx := deepauth.WithParams(context.Background(), bag)
	res, err := deepauth.ApplyDeepAuth(ctx, nil, info)
	if err != nil {
		return fmt.Errorf("rewrite (%s): %w", deepauth.Code(err), err)
	}
	text := language.FormatQuery(res.Document(), false)
	if !asJSON {
		fmt.Fprint(c.stdout, text)
		return nil
	}
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"query": text, "authParams": res.AuthParams})
}
