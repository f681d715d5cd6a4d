package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/kwv/tactiletrack/tactile"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line.
type AppOptions struct {
	ConfigFile  string
	ParentDir   string
	Method      string
	LongHorizon bool
	Samples     int
	Seed        int64
	SeedSet     bool
	OutputDir   string
	TruthFile   string
	RenderFile  string
	PlotFile    string
	PreviewDir  string
	StorePath   string
	ListRuns    bool
	MqttMode    bool
	HttpMode    bool
	HttpPort    int
	Debug       bool
}

// Runner executes the modes selected on the command line.
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunTrack(ctx context.Context) error
	RunService(ctx context.Context) error
	RunListRuns(ctx context.Context) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, NewApp(os.Stdout)); err != nil {
		fmt.Fprintf(os.Stderr, "tactiletrack: %v\n", err)
		os.Exit(1)
	}
}

// run parses args and dispatches to r.
func run(ctx context.Context, args []string, out io.Writer, r Runner) error {
	fs := flag.NewFlagSet("tactiletrack", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	var seed int64
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.ParentDir, "parent-dir", ".", "Directory containing gradient_maps.npy and contact_masks.npy")
	fs.StringVar(&opts.Method, "method", "", "Registration method: nf, icp, filterreg or fpfh (default from config)")
	fs.BoolVar(&opts.LongHorizon, "long-horizon", false, "Enable drift detection and reference resets")
	fs.IntVar(&opts.Samples, "samples", -1, "Maximum contact points per frame, 0 for all (default from config)")
	fs.Int64Var(&seed, "seed", 0, "Random seed for sampling and RANSAC (default time based)")
	fs.StringVar(&opts.OutputDir, "output", "", "Directory for <method>_transforms.json (default parent-dir)")
	fs.StringVar(&opts.TruthFile, "truth", "", "Ground-truth transforms (.npy or .json) to compare against")
	fs.StringVar(&opts.RenderFile, "render", "", "Write the trajectory path as .svg or .png")
	fs.StringVar(&opts.PlotFile, "plot", "", "Write pose (and drift) plots as .png or .svg")
	fs.StringVar(&opts.PreviewDir, "preview-dir", "", "Write a preview PNG for every tracked frame")
	fs.StringVar(&opts.StorePath, "store", "", "SQLite database recording runs (default from config)")
	fs.BoolVar(&opts.ListRuns, "list-runs", false, "List runs recorded in the store and exit")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Publish poses and resets over MQTT")
	fs.BoolVar(&opts.HttpMode, "http", false, "Serve run status over HTTP until interrupted")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port")
	fs.BoolVar(&opts.Debug, "debug", false, "Enable debug logging")

	if err := fs.Parse(args); err != nil {
		return err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			opts.Seed = seed
			opts.SeedSet = true
		}
	})
	if opts.Method != "" {
		if _, err := tactile.ParseKind(opts.Method); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "tactiletrack version: %s\n", Version)
	r.ApplyOptions(opts)

	switch {
	case opts.ListRuns:
		return r.RunListRuns(ctx)
	case opts.HttpMode:
		return r.RunService(ctx)
	default:
		return r.RunTrack(ctx)
	}
}
