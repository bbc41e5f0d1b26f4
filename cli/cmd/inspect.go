package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/sluice/cli/reader"
	"github.com/pithecene-io/sluice/cli/render"
	"github.com/pithecene-io/sluice/cli/tui"
	"github.com/pithecene-io/sluice/lode"
)

// InspectCommand returns the inspect command.
// Inspect reads a persisted trace back from a results dataset.
func InspectCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:  "output-backend",
			Usage: "Results dataset backend: fs or s3",
			Value: outputBackendFS,
		},
		&cli.StringFlag{
			Name:     "output-path",
			Usage:    "Results dataset location (fs: directory, s3: bucket/prefix)",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "output-dataset",
			Usage: "Results dataset ID",
			Value: lode.DefaultDataset,
		},
		&cli.StringFlag{
			Name:  "output-region",
			Usage: "AWS region for the s3 backend",
		},
		&cli.StringFlag{
			Name:  "output-endpoint",
			Usage: "Custom S3 endpoint (MinIO, R2)",
		},
		&cli.BoolFlag{
			Name:  "output-s3-path-style",
			Usage: "Force path-style S3 addressing",
		},
		&cli.StringFlag{
			Name:  "trace-id",
			Usage: "Trace to inspect (default: most recent)",
		},
		&cli.IntFlag{
			Name:  "limit",
			Usage: "Maximum results to show (0 = all)",
			Value: reader.DefaultResultLimit,
		},
	}
	return &cli.Command{
		Name:   "inspect",
		Usage:  "Inspect a persisted trace: summary and first results",
		Flags:  append(flags, ReadOnlyFlags()...),
		Action: inspectAction,
	}
}

func inspectAction(c *cli.Context) error {
	o := outputChoice{
		backend:   c.String("output-backend"),
		dataset:   c.String("output-dataset"),
		path:      c.String("output-path"),
		region:    c.String("output-region"),
		endpoint:  c.String("output-endpoint"),
		pathStyle: c.Bool("output-s3-path-style"),
	}
	if o.backend == outputBackendNone {
		return cli.Exit("--output-backend none has nothing to inspect", exitInvalidInput)
	}
	if err := o.validate(); err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}
	limit := c.Int("limit")
	if limit < 0 {
		return cli.Exit(fmt.Sprintf("--limit must be >= 0, got %d", limit), exitInvalidInput)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	ds, err := openReadDataset(c.Context, o)
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot open results dataset: %v", err), exitTraceError)
	}
	resp, err := reader.NewDatasetReader(ds).InspectTrace(c.Context, c.String("trace-id"), limit)
	if err != nil {
		if errors.Is(err, reader.ErrTraceNotFound) {
			return cli.Exit(err.Error(), exitTraceError)
		}
		return cli.Exit(fmt.Sprintf("cannot read trace: %v", err), exitTraceError)
	}

	if limit > 0 && int64(len(resp.Results)) < resp.Summary.ResultsDelivered && isStderrTTY() {
		fmt.Fprintf(os.Stderr, "Showing %d of %d results; use --limit 0 for all\n",
			len(resp.Results), resp.Summary.ResultsDelivered)
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewInspectTrace, resp)
	}
	return r.Render(resp)
}
