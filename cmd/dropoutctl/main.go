package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"dropout-risk/internal/client"
	"dropout-risk/internal/common"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	urfave "github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

const clientKey = "client"

var (
	serverFlag = &urfave.StringFlag{
		Name:    "server",
		Usage:   "Prediction server base URL",
		Value:   common.DefaultServerURL,
		EnvVars: []string{common.EnvServerURL},
	}

	timeoutFlag = &urfave.DurationFlag{
		Name:  "timeout",
		Usage: "Request timeout",
		Value: common.PredictTimeout,
	}

	inputFlag = &urfave.StringFlag{
		Name:    "input",
		Aliases: []string{"i"},
		Usage:   "JSON or YAML file with feature values (\"-\" for stdin)",
	}

	setFlag = &urfave.StringSliceFlag{
		Name:  "set",
		Usage: "Feature value as name=value (repeatable, overrides --input)",
	}

	requestIDFlag = &urfave.StringFlag{
		Name:  "request-id",
		Usage: "Request ID echoed by the server",
	}

	predictCmd = &urfave.Command{
		Name:    "predict",
		Aliases: []string{"p"},
		Usage:   "Submit one student's attributes and print the prediction",
		Action:  cmdPredict,
		Flags: []urfave.Flag{
			inputFlag,
			setFlag,
			requestIDFlag,
		},
	}

	schemaCmd = &urfave.Command{
		Name:    "schema",
		Aliases: []string{"s"},
		Usage:   "Print the fields the server accepts",
		Action:  cmdSchema,
	}

	healthCmd = &urfave.Command{
		Name:   "health",
		Usage:  "Check that the server is up",
		Action: cmdHealth,
	}
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := newApp(os.Stdin, os.Stdout).Run(os.Args); err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			fmt.Fprintf(os.Stdout, "Error during prediction: %s\n", apiErr.Message)
			os.Exit(1)
		}
		log.Fatal().Err(err).Msg("command failed")
	}
}

func newApp(stdin io.Reader, stdout io.Writer) *urfave.App {
	return &urfave.App{
		Name:            "dropoutctl",
		Usage:           "Command line client for the dropout-risk prediction server",
		HideHelpCommand: true,
		Reader:          stdin,
		Writer:          stdout,
		Flags: []urfave.Flag{
			serverFlag,
			timeoutFlag,
		},
		Commands: []*urfave.Command{
			predictCmd,
			schemaCmd,
			healthCmd,
		},
		Before: func(c *urfave.Context) error {
			c.App.Metadata = map[string]interface{}{
				clientKey: client.New(c.String(serverFlag.Name), c.Duration(timeoutFlag.Name)),
			}
			return nil
		},
	}
}

func getClient(c *urfave.Context) *client.Client {
	return c.App.Metadata[clientKey].(*client.Client)
}

func withTimeout(c *urfave.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Context, c.Duration(timeoutFlag.Name))
}

func cmdPredict(c *urfave.Context) error {
	sets, err := parseSets(c.StringSlice(setFlag.Name))
	if err != nil {
		return err
	}
	feats, err := buildFeatures(c.String(inputFlag.Name), sets, c.App.Reader)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	ctx, cancel := withTimeout(c)
	defer cancel()

	p, err := getClient(c).Predict(ctx, client.Request{Features: feats, RequestID: c.String(requestIDFlag.Name)})
	if err != nil {
		return err
	}

	for _, line := range p.Lines() {
		fmt.Fprintln(c.App.Writer, line)
	}
	if len(p.Filled) > 0 {
		log.Warn().Strs("columns", p.Filled).Msg("server filled missing columns with 0")
	}
	return nil
}

func cmdSchema(c *urfave.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()

	s, err := getClient(c).Schema(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch schema: %w", err)
	}
	printSchema(c.App.Writer, s)
	return nil
}

func cmdHealth(c *urfave.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()

	if err := getClient(c).Health(ctx); err != nil {
		return fmt.Errorf("server unhealthy: %w", err)
	}
	fmt.Fprintln(c.App.Writer, "ok")
	return nil
}

// parseSets turns name=value pairs into a map; later pairs win.
func parseSets(pairs []string) (map[string]string, error) {
	sets := make(map[string]string, len(pairs))
	for _, v := range pairs {
		name, value, ok := strings.Cut(v, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("expected name=value, got %q", v)
		}
		sets[strings.TrimSpace(name)] = value
	}
	return sets, nil
}

// buildFeatures merges the input file (if any) with --set overrides.
func buildFeatures(path string, sets map[string]string, stdin io.Reader) (map[string]any, error) {
	feats := map[string]any{}

	if path != "" {
		var (
			data []byte
			err  error
		)
		if path == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(path)
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		// JSON is valid YAML, so one decoder covers both formats.
		if err := yaml.Unmarshal(data, &feats); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if feats == nil {
			feats = map[string]any{}
		}
	}

	for k, v := range sets {
		feats[k] = v
	}
	for k, v := range feats {
		switch v.(type) {
		case string, int, float64:
		default:
			return nil, fmt.Errorf("feature %s: unsupported value %v (%T)", k, v, v)
		}
	}
	return feats, nil
}

func printSchema(w io.Writer, s *client.Schema) {
	for _, f := range s.Fields {
		line := fmt.Sprintf("%-46s %-12s default=%s", f.Name, f.Kind, f.Default)
		if len(f.Options) > 0 {
			line += " options=" + strings.Join(f.Options, "|")
		}
		fmt.Fprintln(w, line)
	}
	if s.Strict {
		fmt.Fprintln(w, "strict schema: every column is required")
	}
}
