package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nvr-ai/chroma/config"
	"github.com/nvr-ai/chroma/decoder"
	"github.com/nvr-ai/chroma/images"
	"github.com/nvr-ai/chroma/inference"
	"github.com/nvr-ai/chroma/logging"
	"github.com/nvr-ai/chroma/overlay"
	"github.com/nvr-ai/chroma/palette"
	"github.com/nvr-ai/chroma/pipeline"
	"github.com/nvr-ai/chroma/profiler"
	"gocv.io/x/gocv"
)

func main() {
	deviceID := flag.Int("device", 0, "video capture device")
	configPath := flag.String("config", "", "configuration file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Println(err)
			return
		}
		cfg = loaded
	}
	if err := config.LoadEnv(&cfg, ".env"); err != nil {
		fmt.Println(err)
		return
	}

	logger, err := logging.FromLevel(cfg.LogLevel, "webcam")
	if err != nil {
		fmt.Println(err)
		return
	}
	defer logger.Sync() //nolint:errcheck

	engine, err := inference.NewEngineBuilder().WithConfig(cfg).WithLogger(logger).Build()
	if err != nil {
		logger.Errorw("failed to build engine", "error", err)
		return
	}
	defer engine.Close()

	// open webcam
	webcam, err := gocv.OpenVideoCapture(*deviceID)
	if err != nil {
		logger.Errorw("failed to open device", "device", *deviceID, "error", err)
		return
	}
	defer webcam.Close()

	window := gocv.NewWindow("chroma")
	defer window.Close()

	img := gocv.NewMat()
	defer img.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prof := profiler.New(0, logger)
	go prof.Run(ctx, 10*time.Second)

	size := cfg.Decoder.InputSize
	sink := pipeline.NewLatestSink(func(r pipeline.Result) {
		prof.Record("detect", r.Latency)
	})
	p := pipeline.New(ctx, cropDetector{engine: engine, size: size}, sink,
		pipeline.WithTimeout(cfg.Remote.Timeout), pipeline.WithLogger(logger))
	defer p.Close()

	colors := overlay.DefaultOptions().Colors
	holds := palette.Holds()

	// FPS tracking variables
	fps := 0.0
	frameCount := 0
	lastTime := time.Now()

	logger.Infow("start reading camera", "device", *deviceID, "mode", cfg.Provider.Mode)
	for ctx.Err() == nil {
		if ok := webcam.Read(&img); !ok {
			logger.Errorw("cannot read device", "device", *deviceID)
			return
		}
		if img.Empty() {
			continue
		}

		frameCount++
		if elapsed := time.Since(lastTime).Seconds(); elapsed >= 1.0 {
			fps = float64(frameCount) / elapsed
			frameCount = 0
			lastTime = time.Now()
		}

		if frame, err := img.ToImage(); err == nil {
			p.Submit(frame)
		}

		if res, ok := sink.Latest(); ok {
			for _, d := range res.Detections {
				drawDetection(&img, d, holds.Classify(res.Frame.Image, d.Box), colors)
			}
		}
		gocv.PutText(&img, fmt.Sprintf("%.1f fps", fps), image.Pt(8, 20),
			gocv.FontHersheyPlain, 1.2, color.RGBA{R: 255, G: 255, B: 255, A: 255}, 2)

		window.IMShow(img)
		if window.WaitKey(1) == 27 {
			break
		}
	}

	stats := p.Stats()
	logger.Infow("stopped", "submitted", stats.Submitted, "dropped", stats.Dropped,
		"failed", stats.Failed, "completed", stats.Completed)
}

// cropDetector feeds the centered square of each frame to the engine and maps the boxes
// back onto the frame.
type cropDetector struct {
	engine inference.Engine
	size   int
}

func (d cropDetector) Detect(ctx context.Context, img image.Image) ([]decoder.Detection, error) {
	square, crop := images.CropSquare(img, d.size)
	dets, err := d.engine.Detect(ctx, square)
	if err != nil {
		return nil, err
	}
	return overlay.FrameTransform{Input: d.size, Crop: crop}.Apply(dets), nil
}

func drawDetection(img *gocv.Mat, d decoder.Detection, tag string, colors map[string]color.Color) {
	c := color.RGBA{R: 0, G: 255, B: 0, A: 255}
	if named, ok := colors[d.Label]; ok {
		r, g, b, _ := named.RGBA()
		c = color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: 255}
	}
	rect := d.Box.ToRect()
	gocv.Rectangle(img, rect, c, 2)

	label := d.Label
	if tag != "" && tag != d.Label {
		label = fmt.Sprintf("%s (%s)", d.Label, tag)
	}
	gocv.PutText(img, fmt.Sprintf("%s %.2f", label, d.Confidence), image.Pt(rect.Min.X, rect.Min.Y-4),
		gocv.FontHersheyPlain, 1.0, c, 1)
}
