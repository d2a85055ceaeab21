// Package main is the chroma command line: offline detection, the detection service and
// label file checks.
package main

import (
	"encoding/json"
	"fmt"
	"image"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/disintegration/imaging"
	"github.com/nvr-ai/chroma/config"
	"github.com/nvr-ai/chroma/decoder"
	"github.com/nvr-ai/chroma/images"
	"github.com/nvr-ai/chroma/inference"
	"github.com/nvr-ai/chroma/logging"
	"github.com/nvr-ai/chroma/overlay"
	"github.com/nvr-ai/chroma/remote"
	"github.com/nvr-ai/chroma/server"
	"github.com/nvr-ai/chroma/util"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

const (
	flagConfig   = "config"
	flagEnv      = "env"
	flagDebug    = "debug"
	flagOut      = "out"
	flagJSON     = "json"
	flagMode     = "mode"
	flagChannels = "channels"
	flagAnchors  = "anchors"
)

func main() {
	app := &cli.App{
		Name:            "chroma",
		Usage:           "detect and color-tag climbing holds",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.StringSliceFlag{
				Name:  flagEnv,
				Value: cli.NewStringSlice(".env"),
				Usage: "load environment overrides from `FILE`",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "detect",
				Usage:     "run detection on an image file or a directory of frames",
				ArgsUsage: "<image|dir>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagMode,
						Usage: "override the provider mode (local or remote)",
					},
					&cli.StringFlag{
						Name:  flagOut,
						Usage: "write annotated frames into `DIR`",
					},
					&cli.BoolFlag{
						Name:  flagJSON,
						Usage: "print predictions as JSON",
					},
				},
				Action: detectAction,
			},
			{
				Name:   "serve",
				Usage:  "run the detection service",
				Action: serveAction,
			},
			{
				Name:      "labels",
				Usage:     "check a label file against the model output",
				ArgsUsage: "[labels.txt]",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  flagChannels,
						Value: 60,
						Usage: "channel count of the model output tensor",
					},
					&cli.IntFlag{
						Name:  flagAnchors,
						Usage: "number of anchor priors (default: the configured anchors)",
					},
				},
				Action: labelsAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (config.Config, logging.Logger, error) {
	cfg := config.Default()
	if path := c.String(flagConfig); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cfg, nil, err
		}
		cfg = loaded
	}
	if err := config.LoadEnv(&cfg, c.StringSlice(flagEnv)...); err != nil {
		return cfg, nil, err
	}
	if c.Bool(flagDebug) {
		cfg.LogLevel = "debug"
	}

	logger, err := logging.FromLevel(cfg.LogLevel, "chroma")
	if err != nil {
		return cfg, nil, err
	}
	return cfg, logger, nil
}

func detectAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("detect needs exactly one image file or directory")
	}
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if mode := c.String(flagMode); mode != "" {
		cfg.Provider.Mode = config.Mode(mode)
	}

	files, err := inputFiles(c.Args().First())
	if err != nil {
		return err
	}
	if out := c.String(flagOut); out != "" {
		if err := os.MkdirAll(out, 0o755); err != nil {
			return errors.Wrapf(err, "failed to create %s", out)
		}
	}

	engine, err := inference.NewEngineBuilder().WithConfig(cfg).WithLogger(logger).Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	size := cfg.Decoder.InputSize
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		img, _, err := images.Decode(f.Data)
		if err != nil {
			logger.Warnw("skipping unreadable image", "path", f.Path, "error", err)
			continue
		}

		// Both providers see the centered square at the network input size, so boxes
		// come back in that space and map onto the crop.
		square, crop := images.CropSquare(img, size)
		dets, err := engine.Detect(ctx, square)
		if err != nil {
			return errors.Wrapf(err, "detection failed on %s", f.Path)
		}
		dets = overlay.FrameTransform{Input: size, Crop: crop}.Apply(dets)

		if err := printDetections(c, f.Path, dets); err != nil {
			return err
		}
		if out := c.String(flagOut); out != "" {
			if err := writeAnnotated(out, f.Path, img, dets); err != nil {
				return err
			}
		}
	}
	return nil
}

func inputFiles(path string) ([]util.ImageFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat %s", path)
	}
	if info.IsDir() {
		return util.LoadDirectoryImageFiles(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	return []util.ImageFile{{Path: path, Data: data, Frame: -1}}, nil
}

func printDetections(c *cli.Context, path string, dets []decoder.Detection) error {
	w := c.App.Writer
	if c.Bool(flagJSON) {
		preds := make([]remote.Prediction, 0, len(dets))
		for _, d := range dets {
			preds = append(preds, remote.FromDetection(d))
		}
		return json.NewEncoder(w).Encode(struct {
			Path        string              `json:"path"`
			Predictions []remote.Prediction `json:"predictions"`
		}{path, preds})
	}

	fmt.Fprintf(w, "%s: %d detections\n", path, len(dets))
	for _, d := range dets {
		fmt.Fprintf(w, "  %s\n", d)
	}
	return nil
}

func writeAnnotated(dir, src string, img image.Image, dets []decoder.Detection) error {
	name := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src)) + ".jpg"
	out := overlay.Annotate(img, dets, overlay.DefaultOptions())
	if err := imaging.Save(out, filepath.Join(dir, name), imaging.JPEGQuality(90)); err != nil {
		return errors.Wrapf(err, "failed to write %s", name)
	}
	return nil
}

func serveAction(c *cli.Context) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	engine, err := inference.NewEngineBuilder().WithConfig(cfg).WithLogger(logger).Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	inputSize := 0
	if cfg.Provider.Mode == config.ModeLocal {
		inputSize = cfg.Decoder.InputSize
	}
	srv := server.New(engine, cfg.Server, inputSize, logger)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})
	g.Go(func() error {
		srv.Profiler().Run(gctx, time.Minute)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Infow("shutting down", "metrics", srv.Metrics())
		return nil
	})
	return g.Wait()
}

func labelsAction(c *cli.Context) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	path := cfg.Decoder.Labels
	if c.NArg() > 0 {
		path = c.Args().First()
	}
	labels, err := decoder.LoadLabelsFile(path)
	if err != nil {
		return err
	}

	numAnchors := c.Int(flagAnchors)
	if numAnchors == 0 {
		anchors, err := cfg.Decoder.AnchorTemplate()
		if err != nil {
			return err
		}
		numAnchors = anchors.Len()
	}

	w := c.App.Writer
	for i, name := range labels.Names() {
		fmt.Fprintf(w, "%d\t%s\n", i, name)
	}
	if err := decoder.CheckChannels(c.Int(flagChannels), numAnchors, labels.Len()); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d labels match %d channels with %d anchors\n", labels.Len(), c.Int(flagChannels), numAnchors)
	return nil
}
