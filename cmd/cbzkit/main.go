package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/yuanying/cbzkit/internal/archive"
	"github.com/yuanying/cbzkit/internal/canvas"
	"github.com/yuanying/cbzkit/internal/comic"
	"github.com/yuanying/cbzkit/internal/config"
	"github.com/yuanying/cbzkit/internal/metadata"
)

// flagKeys maps config keys to the flags that override them.
var flagKeys = map[string]string{
	"log.level":          "log-level",
	"log.format":         "log-format",
	"load.workers":       "workers",
	"load.ignore":        "ignore",
	"load.strict":        "strict",
	"codec.format":       "format",
	"codec.jpeg_quality": "quality",
	"codec.auto_orient":  "auto-orient",
	"save.merge":         "merge",
	"thumbnail.size":     "size",
}

type cliOptions struct {
	InputPath  string
	OutputPath string
	Config     *config.Config
	Logger     *slog.Logger

	Metadata  metadata.Record
	Container archive.Format
	AssumeYes bool
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cbzkit",
		Short: "Inspect and convert comic book archives",
		Long: `cbzkit maps comic book archives (.cbz, .cbt) onto layered page documents
and writes them back.

Pages are ordered by file name, folders become page groups, and the canvas
grows to fit the largest page. Saving stages the new archive next to the
destination and only replaces it once every page has been written.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.String("config", "", "Config file (default ./cbzkit.yaml or ~/.config/cbzkit/cbzkit.yaml)")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.String("log-format", "text", "Log format: text, json")
	pf.BoolP("verbose", "v", false, "Shorthand for --log-level debug")
	pf.Int("workers", runtime.NumCPU(), "Parallel page decoders")
	pf.StringSlice("ignore", nil, "Gitignore-style patterns for entries to skip")
	pf.Bool("strict", false, "Fail when no page can be decoded")
	pf.Bool("auto-orient", true, "Rotate pages upright from their EXIF orientation")

	cmd.AddCommand(newInspectCmd(), newThumbnailCmd(), newConvertCmd())
	return cmd
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <archive>",
		Short: "Print the page tree, canvas size and skipped entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := readCLIOptions(cmd, args)
			if err != nil {
				return err
			}
			engine, err := newEngine(opts, nil)
			if err != nil {
				return err
			}

			res, err := engine.Load(cmd.Context(), opts.InputPath)
			if err != nil {
				return fmt.Errorf("inspect failed: %w", err)
			}
			printInspection(cmd.OutOrStdout(), opts.InputPath, res)
			return nil
		},
	}
}

func newThumbnailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thumbnail <archive>",
		Short: "Write a preview of the first page entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := readCLIOptions(cmd, args)
			if err != nil {
				return err
			}
			engine, err := newEngine(opts, nil)
			if err != nil {
				return err
			}

			img, err := engine.Thumbnail(cmd.Context(), opts.InputPath)
			if err != nil {
				return fmt.Errorf("thumbnail failed: %w", err)
			}
			if err := imaging.Save(img, opts.OutputPath); err != nil {
				return fmt.Errorf("failed to write thumbnail: %w", err)
			}
			opts.Logger.Info("thumbnail written", "path", opts.OutputPath,
				"width", img.Bounds().Dx(), "height", img.Bounds().Dy())
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "", "Output image path (default: input name with .png)")
	cmd.Flags().Int("size", 256, "Fit the preview into a size x size box (0 keeps the page size)")
	return cmd
}

func newConvertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <archive>",
		Short: "Load an archive and save it again, re-encoding every page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := readCLIOptions(cmd, args)
			if err != nil {
				return err
			}
			engine, err := newEngine(opts, promptOverwrite(os.Stdin, cmd.ErrOrStderr(), opts.AssumeYes))
			if err != nil {
				return err
			}

			opts.Logger.Info("converting", "input", opts.InputPath, "output", opts.OutputPath)
			res, err := engine.Load(cmd.Context(), opts.InputPath)
			if err != nil {
				return fmt.Errorf("conversion failed: %w", err)
			}
			for _, d := range res.Diagnostics {
				opts.Logger.Warn("skipped entry", "entry", d.Path, "reason", d.Reason)
			}

			rec := opts.Metadata
			if res.Metadata != nil {
				rec = res.Metadata.Overlay(opts.Metadata)
			}
			saved, err := engine.Save(cmd.Context(), res.Document, rec, opts.OutputPath)
			if err != nil {
				return fmt.Errorf("conversion failed: %w", err)
			}

			opts.Logger.Info("done", "output", saved.Path, "pages", len(saved.Entries), "metadata", saved.MetadataWritten)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringP("output", "o", "", "Output archive path (default: input name with .cbz)")
	f.String("container", "", "Output container: zip or tar (default: from output extension)")
	f.String("format", "jpeg", "Page format: jpeg, png, gif, tiff, bmp, auto")
	f.Int("quality", 85, "JPEG quality (1-100)")
	f.String("merge", "node", "Flatten scope per page: node, document")
	f.Bool("yes", false, "Overwrite the output without asking")
	f.String("title", "", "Metadata title")
	f.String("series", "", "Metadata series")
	f.String("genre", "", "Metadata genre")
	f.String("year", "", "Metadata year")
	f.String("month", "", "Metadata month")
	f.String("day", "", "Metadata day")
	f.String("tags", "", "Metadata tags")
	f.Bool("save-metadata", false, "Write metadata.xml into the output")
	return cmd
}

// readCLIOptions merges config file, environment and flags for cmd.
func readCLIOptions(cmd *cobra.Command, args []string) (*cliOptions, error) {
	flags := cmd.Flags()
	flags.AddFlagSet(cmd.PersistentFlags())
	flags.AddFlagSet(cmd.InheritedFlags())

	v := config.New()
	if err := config.BindFlags(v, flags, flagKeys); err != nil {
		return nil, err
	}
	if verbose, _ := flags.GetBool("verbose"); verbose {
		v.Set("log.level", "debug")
	}

	configPath, _ := flags.GetString("config")
	cfg, err := config.Load(v, configPath)
	if err != nil {
		return nil, flagError(err)
	}

	opts := &cliOptions{
		Config: cfg,
		Logger: buildLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format),
	}
	if len(args) > 0 {
		opts.InputPath = args[0]
	}

	if flags.Lookup("output") != nil {
		opts.OutputPath, _ = flags.GetString("output")
		if opts.OutputPath == "" && opts.InputPath != "" {
			ext := "cbz"
			if cmd.Name() == "thumbnail" {
				ext = "png"
			}
			opts.OutputPath = defaultOutputPath(opts.InputPath, ext)
		}
	}

	if flags.Lookup("container") != nil {
		name, _ := flags.GetString("container")
		switch strings.ToLower(name) {
		case "":
		case "zip", "cbz":
			opts.Container = archive.FormatZip
		case "tar", "cbt":
			opts.Container = archive.FormatTar
		default:
			return nil, fmt.Errorf("invalid --container %q: must be zip or tar", name)
		}
	}

	if flags.Lookup("save-metadata") != nil {
		rec := metadata.Record{}
		rec.Title, _ = flags.GetString("title")
		rec.Series, _ = flags.GetString("series")
		rec.Genre, _ = flags.GetString("genre")
		rec.Year, _ = flags.GetString("year")
		rec.Month, _ = flags.GetString("month")
		rec.Day, _ = flags.GetString("day")
		rec.Tags, _ = flags.GetString("tags")
		rec.SaveRequested, _ = flags.GetBool("save-metadata")
		if err := rec.Validate(); err != nil {
			return nil, err
		}
		opts.Metadata = rec
	}
	if flags.Lookup("yes") != nil {
		opts.AssumeYes, _ = flags.GetBool("yes")
	}

	return opts, nil
}

// flagError rewrites config validation errors in terms of the flags a user
// would pass.
func flagError(err error) error {
	msg := err.Error()
	for key, name := range flagKeys {
		if strings.Contains(msg, "invalid "+key+" ") || strings.Contains(msg, "invalid "+key+":") {
			return fmt.Errorf("--%s: %w", name, err)
		}
	}
	return err
}

func newEngine(opts *cliOptions, confirm func(string) bool) (*comic.Engine, error) {
	engineOpts, err := opts.Config.EngineOptions()
	if err != nil {
		return nil, err
	}
	engineOpts.Host = canvas.New()
	engineOpts.Fs = afero.NewOsFs()
	engineOpts.Logger = opts.Logger
	engineOpts.ContainerFormat = opts.Container
	engineOpts.Confirm = confirm
	return comic.New(engineOpts), nil
}

func printInspection(w io.Writer, path string, res *comic.LoadResult) {
	fmt.Fprint(w, res.Tree.Render(filepath.Base(path)))
	fmt.Fprintf(w, "format: %s\npages: %d\ncanvas: %s\n", res.Format, res.Pages, res.Canvas)
	if res.Metadata != nil && !res.Metadata.IsZero() {
		m := res.Metadata
		fmt.Fprintf(w, "metadata: title=%q series=%q genre=%q date=%s-%s-%s tags=%q\n",
			m.Title, m.Series, m.Genre, m.Year, m.Month, m.Day, m.Tags)
	}
	if len(res.Diagnostics) > 0 {
		fmt.Fprintf(w, "skipped: %d\n", len(res.Diagnostics))
		for _, d := range res.Diagnostics {
			fmt.Fprintf(w, "  %s\n", d)
		}
	}
}

func buildLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

func defaultOutputPath(inputPath, ext string) string {
	return strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + "." + ext
}

// exitCode maps an outcome onto the process status; a cancelled run is not
// an error.
func exitCode(err error) int {
	if comic.StatusOf(err) == comic.StatusFailed {
		return 1
	}
	return 0
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)

	err := newRootCmd().ExecuteContext(ctx)
	switch {
	case err == nil:
	case errors.Is(err, comic.ErrCancelled) || errors.Is(err, context.Canceled):
		fmt.Fprintln(os.Stderr, "cancelled")
	default:
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	stop()
	os.Exit(exitCode(err))
}
