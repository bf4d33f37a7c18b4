package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"ctslices/internal/models"
	"ctslices/pkg/config"
	"ctslices/pkg/dicom"
	"ctslices/pkg/filters"
	"ctslices/pkg/journal"
	"ctslices/pkg/session"
	"ctslices/pkg/tasks"
	"ctslices/pkg/visualization"
)

func main() {
	// Parse command line arguments
	inputDir := flag.String("input", "", "Directory containing a DICOM series to load")
	phantom := flag.String("phantom", "", "Generate a synthetic CT volume of size WxHxD instead of loading one")
	configPath := flag.String("config", "ctslices.yaml", "Path to the YAML configuration file")
	filterName := flag.String("filter", "", "Filter to apply: median, threshold, mip, gradient, roberts or sobel")
	scopeName := flag.String("scope", "active", "Filter scope: all or active")
	planes := flag.String("planes", "", "Active planes as x,y,z (default: centre of the volume)")
	navigate := flag.String("navigate", "", "Move one plane after filtering, as axis=index")
	exportPrefix := flag.String("export", "", "Export the displayed volume as DICOM files named <prefix>-NNNN.dcm")
	snapshots := flag.String("snapshots", "", "Directory for TIFF snapshots of the three views")
	sequence := flag.String("sequence", "", "Save every view along this axis (x, y or z) to the snapshot directory")
	histogram := flag.String("histogram", "", "Write an intensity histogram image to this path")
	history := flag.Bool("history", false, "Print the job journal and exit")
	numCores := flag.Int("cores", 0, "Number of CPU cores to use (default: from config)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	writeConfig := flag.String("write-config", "", "Write a default configuration file to this path and exit")
	flag.Parse()

	if *writeConfig != "" {
		if err := config.CreateDefaultConfigFile(*writeConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Default configuration written to %s\n", *writeConfig)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *numCores > 0 {
		cfg.Processing.NumCores = *numCores
	}
	if *snapshots != "" {
		cfg.Viewer.SnapshotDir = *snapshots
	}

	logger := initLogger(*debugMode || cfg.Logging.Debug, cfg.Logging.JSON)

	var jobs *journal.Journal
	if cfg.Journal.Path != "" {
		jobs, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			logger.WithError(err).Fatal("Failed to open job journal")
		}
		defer jobs.Close()
	}

	if *history {
		if err := printHistory(jobs); err != nil {
			logger.WithError(err).Fatal("Failed to read job journal")
		}
		return
	}

	if *inputDir == "" && *phantom == "" {
		flag.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, logger, jobs, options{
		inputDir:     *inputDir,
		phantom:      *phantom,
		filterName:   *filterName,
		scopeName:    *scopeName,
		planes:       *planes,
		navigate:     *navigate,
		exportPrefix: *exportPrefix,
		sequence:     *sequence,
		histogram:    *histogram,
	}); err != nil {
		logger.WithFields(logrus.Fields{"kind": models.KindOf(err).String()}).WithError(err).Error("Run failed")
		os.Exit(1)
	}
}

type options struct {
	inputDir     string
	phantom      string
	filterName   string
	scopeName    string
	planes       string
	navigate     string
	exportPrefix string
	sequence     string
	histogram    string
}

// run drives one headless viewing session: load, optional plane moves,
// filter, navigation and export, in that order
func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger, jobs *journal.Journal, opts options) error {
	runnerOpts := []tasks.Option{tasks.WithLogger(logger)}
	if jobs != nil {
		runnerOpts = append(runnerOpts, tasks.WithJournal(jobs))
	}

	viewer := visualization.NewViewer(
		visualization.WithSnapshotDir(cfg.Viewer.SnapshotDir),
		visualization.WithLogger(logger),
	)

	sess := session.New(
		session.WithLogger(logger),
		session.WithRenderer(viewer),
		session.WithEngine(filters.NewEngine(
			filters.WithNumCores(cfg.Processing.NumCores),
			filters.WithLogger(logger),
		)),
		session.WithRunner(tasks.NewRunner(runnerOpts...)),
		session.WithExporter(dicom.NewExporter(dicom.WithLogger(logger))),
		session.WithMetadata(cfg.Export.Metadata),
		session.WithExtension(cfg.Export.Extension),
		session.OnProgress(func(ev tasks.Event) {
			fmt.Fprintf(os.Stderr, "\r%s: %3.0f%%", ev.Name, ev.Percent)
		}),
		session.OnComplete(func(c session.Completion) {
			fmt.Fprintln(os.Stderr)
			entry := logger.WithFields(logrus.Fields{"job": c.JobID, "op": c.Op.String(), "state": c.State.String()})
			if c.Stale {
				entry.Warn("Result discarded, the planes moved while it was computed")
			}
		}),
	)
	go sess.Run(ctx)
	defer sess.Close()

	fmt.Println("================================")
	fmt.Println("CT SLICE VIEWER: FILTERS AND DICOM EXPORT")
	fmt.Println("================================")

	if err := loadVolume(ctx, sess, opts); err != nil {
		return err
	}
	vol := sess.CurrentGrid()
	stats := vol.Stats()
	fmt.Printf("Volume: %dx%dx%d, range [%d, %d], mean %.1f\n",
		vol.Width, vol.Height, vol.Depth, stats.Min, stats.Max, stats.Mean)

	if opts.planes != "" {
		p, err := models.ParsePlanes(opts.planes)
		if err != nil {
			return fmt.Errorf("%v: %w", err, models.ErrInvalidParameters)
		}
		for _, axis := range models.Axes {
			if err := sess.NavigateSlice(axis, p.Get(axis)); err != nil {
				return err
			}
		}
	}

	if opts.histogram != "" {
		lower, upper := float64(cfg.Filters.Threshold.Lower), float64(cfg.Filters.Threshold.Upper)
		if err := visualization.WriteHistogram(sess.CurrentGrid(), opts.histogram, cfg.Viewer.HistogramBins, lower, upper); err != nil {
			return err
		}
		fmt.Printf("Histogram written to %s\n", opts.histogram)
	}

	if opts.filterName != "" {
		scope, err := models.ParseScope(opts.scopeName)
		if err != nil {
			return fmt.Errorf("%v: %w", err, models.ErrInvalidParameters)
		}
		req, err := cfg.FilterRequest(opts.filterName, scope)
		if err != nil {
			return err
		}

		start := time.Now()
		h, err := sess.ApplyFilter(req)
		if err != nil {
			return err
		}
		if _, err := h.Wait(ctx); err != nil {
			return err
		}
		fmt.Printf("%s finished in %.2f seconds (%s)\n", req, time.Since(start).Seconds(), sess.State())
	}

	if opts.navigate != "" {
		axis, index, err := parseNavigate(opts.navigate)
		if err != nil {
			return err
		}
		if err := sess.NavigateSlice(axis, index); err != nil {
			return err
		}
		fmt.Printf("Moved %s plane to %d, planes now %s (%s)\n", axis, index, sess.Planes(), sess.State())
	}

	if opts.sequence != "" {
		if err := saveSequence(sess.CurrentGrid(), opts.sequence, cfg.Viewer.SnapshotDir); err != nil {
			return err
		}
	}

	if opts.exportPrefix != "" {
		h, err := sess.ExportVolume(opts.exportPrefix)
		if err != nil {
			return err
		}
		value, err := h.Wait(ctx)
		if err != nil {
			return err
		}
		paths, _ := value.([]string)
		fmt.Printf("Exported %d DICOM files with prefix %s\n", len(paths), opts.exportPrefix)
	}

	return nil
}

func loadVolume(ctx context.Context, sess *session.Session, opts options) error {
	if opts.inputDir != "" {
		fmt.Printf("Loading DICOM series from %s...\n", opts.inputDir)
		return sess.LoadVolume(ctx, opts.inputDir)
	}
	w, h, d, err := models.ParseDimensions(opts.phantom)
	if err != nil {
		return fmt.Errorf("%v: %w", err, models.ErrInvalidParameters)
	}
	fmt.Printf("Generating %dx%dx%d phantom...\n", w, h, d)
	return sess.SetVolume(models.NewPhantom(w, h, d, 30, 1))
}

// saveSequence writes every view along axis using a private viewer, so the
// session's renderer is never touched from this goroutine
func saveSequence(v *models.Volume, axisName, dir string) error {
	axis, err := models.ParseAxis(axisName)
	if err != nil {
		return fmt.Errorf("%v: %w", err, models.ErrInvalidParameters)
	}
	if dir == "" {
		dir = "slices"
	}
	viewer := visualization.NewViewer()
	viewer.SetVolume(v)
	if err := viewer.SaveSliceSequence(axis, dir); err != nil {
		return fmt.Errorf("%w: %w", models.ErrIOFailure, err)
	}
	fmt.Printf("Saved %d %s views to %s\n", v.Extent(axis), axis, dir)
	return nil
}

func parseNavigate(s string) (models.Axis, int, error) {
	name, value, ok := strings.Cut(s, "=")
	if !ok {
		return 0, 0, fmt.Errorf("invalid navigation %q (want axis=index): %w", s, models.ErrInvalidParameters)
	}
	axis, err := models.ParseAxis(name)
	if err != nil {
		return 0, 0, fmt.Errorf("%v: %w", err, models.ErrInvalidParameters)
	}
	index, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid index %q: %w", value, models.ErrInvalidParameters)
	}
	return axis, index, nil
}

func printHistory(jobs *journal.Journal) error {
	if jobs == nil {
		return errors.New("no journal configured (set journal.path)")
	}
	recs, err := jobs.List(context.Background())
	if err != nil {
		return err
	}
	for _, r := range recs {
		line := fmt.Sprintf("%s  %-40s %-10s %5.1f%%", r.CreatedAt.Format(time.DateTime), r.Name, r.State, r.Percent)
		if r.Error != "" {
			line += "  " + r.Error
		}
		fmt.Println(line)
	}
	return nil
}

// initLogger initializes the logger with appropriate level
func initLogger(debugMode, jsonOutput bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	if debugMode {
		logger.SetLevel(logrus.DebugLevel)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
		logger.Debug("Debug logging enabled")
	} else {
		logger.SetLevel(logrus.InfoLevel)
		if jsonOutput {
			logger.SetFormatter(&logrus.JSONFormatter{
				TimestampFormat: "2006-01-02 15:04:05",
			})
		}
	}

	return logger
}
