package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/yuanying/cbzkit/internal/archive"
	"github.com/yuanying/cbzkit/internal/comic"
	"github.com/yuanying/cbzkit/internal/metadata"
)

// isolate keeps user config files out of the test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
}

func subcommand(t *testing.T, name string, flagArgs ...string) *cobra.Command {
	t.Helper()
	root := newRootCmd()
	cmd, _, err := root.Find([]string{name})
	if err != nil {
		t.Fatalf("Find(%q) error = %v", name, err)
	}
	if err := cmd.ParseFlags(flagArgs); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}
	return cmd
}

func readConvertOptionsForTest(t *testing.T, flagArgs ...string) error {
	t.Helper()
	_, err := readCLIOptions(subcommand(t, "convert", flagArgs...), []string{"./input/book.cbt"})
	return err
}

func TestReadCLIOptions_Defaults(t *testing.T) {
	isolate(t)
	cmd := newRootCmd()
	opts, err := readCLIOptions(cmd, []string{"./input/book.cbz"})
	if err != nil {
		t.Fatalf("readCLIOptions() error = %v", err)
	}

	if opts.InputPath != "./input/book.cbz" {
		t.Fatalf("InputPath = %q", opts.InputPath)
	}
	if opts.Config.Codec.JPEGQuality != 85 {
		t.Fatalf("JPEGQuality = %d, want 85", opts.Config.Codec.JPEGQuality)
	}
	if opts.Config.Load.Workers < 1 {
		t.Fatalf("Workers = %d, want >= 1", opts.Config.Load.Workers)
	}
	if opts.Logger == nil {
		t.Fatal("Logger is nil, want non-nil")
	}
	if !opts.Logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("Logger should be enabled at INFO level by default")
	}
	if opts.Logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("Logger should not be enabled at DEBUG level by default")
	}
}

func TestRootCmd_WorkersDefaultMatchesCPUs(t *testing.T) {
	isolate(t)
	cmd := newRootCmd()
	f := cmd.PersistentFlags().Lookup("workers")
	if f == nil {
		t.Fatal("--workers flag missing")
	}
	if want := strconv.Itoa(runtime.NumCPU()); f.DefValue != want {
		t.Fatalf("--workers default = %s, want %s", f.DefValue, want)
	}

	opts, err := readCLIOptions(cmd, []string{"book.cbz"})
	if err != nil {
		t.Fatalf("readCLIOptions() error = %v", err)
	}
	if opts.Config.Load.Workers != runtime.NumCPU() {
		t.Fatalf("Workers = %d, want %d", opts.Config.Load.Workers, runtime.NumCPU())
	}
}

func TestReadCLIOptions_ConvertFlags(t *testing.T) {
	isolate(t)
	cmd := subcommand(t, "convert",
		"--output", "./out/custom.cbz",
		"--container", "tar",
		"--format", "png",
		"--quality", "90",
		"--merge", "document",
		"--workers", "3",
		"--ignore", "*.nfo,junk/",
		"--strict",
		"--title", "First Flight",
		"--year", "2021",
		"--save-metadata",
		"--yes",
		"--verbose",
	)

	opts, err := readCLIOptions(cmd, []string{"./input/book.cbt"})
	if err != nil {
		t.Fatalf("readCLIOptions() error = %v", err)
	}

	if opts.OutputPath != "./out/custom.cbz" {
		t.Fatalf("OutputPath = %q", opts.OutputPath)
	}
	if opts.Container != archive.FormatTar {
		t.Fatalf("Container = %v, want tar", opts.Container)
	}
	if opts.Config.Codec.Format != "png" || opts.Config.Codec.JPEGQuality != 90 {
		t.Fatalf("Codec = %+v", opts.Config.Codec)
	}
	if opts.Config.Save.Merge != "document" {
		t.Fatalf("Merge = %q", opts.Config.Save.Merge)
	}
	if opts.Config.Load.Workers != 3 || !opts.Config.Load.Strict {
		t.Fatalf("Load = %+v", opts.Config.Load)
	}
	if got := strings.Join(opts.Config.Load.Ignore, "|"); got != "*.nfo|junk/" {
		t.Fatalf("Ignore = %q", got)
	}
	want := metadata.Record{Title: "First Flight", Year: "2021", SaveRequested: true}
	if opts.Metadata != want {
		t.Fatalf("Metadata = %+v, want %+v", opts.Metadata, want)
	}
	if !opts.AssumeYes {
		t.Fatal("AssumeYes = false, want true")
	}
	// --verbose overrides log-level to debug
	if !opts.Logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("Logger should be enabled at DEBUG level when --verbose is set")
	}
}

func TestReadCLIOptions_DefaultOutputs(t *testing.T) {
	isolate(t)
	opts, err := readCLIOptions(subcommand(t, "convert"), []string{"./input/book.cbt"})
	if err != nil {
		t.Fatalf("readCLIOptions() error = %v", err)
	}
	if opts.OutputPath != "./input/book.cbz" {
		t.Fatalf("convert OutputPath = %q", opts.OutputPath)
	}

	opts, err = readCLIOptions(subcommand(t, "thumbnail"), []string{"./input/book.cbz"})
	if err != nil {
		t.Fatalf("readCLIOptions() error = %v", err)
	}
	if opts.OutputPath != "./input/book.png" {
		t.Fatalf("thumbnail OutputPath = %q", opts.OutputPath)
	}
	if opts.Config.Thumbnail.Size != 256 {
		t.Fatalf("Thumbnail.Size = %d", opts.Config.Thumbnail.Size)
	}
}

func TestReadCLIOptions_InvalidFlags(t *testing.T) {
	isolate(t)
	cases := []struct {
		args []string
		want string
	}{
		{[]string{"--quality", "0"}, "--quality"},
		{[]string{"--quality", "101"}, "--quality"},
		{[]string{"--log-level", "trace"}, "--log-level"},
		{[]string{"--log-format", "yaml"}, "--log-format"},
		{[]string{"--format", "webp"}, "--format"},
		{[]string{"--merge", "page"}, "--merge"},
		{[]string{"--workers", "0"}, "--workers"},
		{[]string{"--container", "rar"}, "--container"},
		{[]string{"--month", "13"}, "month"},
	}
	for _, tc := range cases {
		err := readConvertOptionsForTest(t, tc.args...)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%v: expected error mentioning %q, got %v", tc.args, tc.want, err)
		}
	}
}

func TestReadCLIOptions_ConfigFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	if err := os.WriteFile(path, []byte("codec:\n  jpeg_quality: 70\nlog:\n  format: json\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	opts, err := readCLIOptions(subcommand(t, "convert", "--config", path), []string{"in.cbz"})
	if err != nil {
		t.Fatalf("readCLIOptions() error = %v", err)
	}
	if opts.Config.Codec.JPEGQuality != 70 {
		t.Fatalf("JPEGQuality = %d, want 70", opts.Config.Codec.JPEGQuality)
	}
	if opts.Config.Log.Format != "json" {
		t.Fatalf("Log.Format = %q, want json", opts.Config.Log.Format)
	}
}

func TestBuildLogger_FormatNormalization(t *testing.T) {
	var buf bytes.Buffer
	logger := buildLogger(&buf, "info", "JSON")
	logger.Info("test message")
	// JSON format should produce JSON output (starts with '{')
	output := buf.String()
	if len(output) == 0 || output[0] != '{' {
		t.Fatalf("expected JSON output for format 'JSON', got: %s", output)
	}
}

func TestBuildLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := buildLogger(&buf, "WARN", "text")
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("INFO should be disabled at WARN level")
	}
	if !logger.Enabled(context.Background(), slog.LevelWarn) {
		t.Fatal("WARN should be enabled at WARN level")
	}
}

func TestDefaultOutputPath(t *testing.T) {
	got := defaultOutputPath("./books/sample.cbt", "cbz")
	if got != "./books/sample.cbz" {
		t.Fatalf("defaultOutputPath() = %q", got)
	}
}

func TestExitCode(t *testing.T) {
	if got := exitCode(nil); got != 0 {
		t.Fatalf("exitCode(nil) = %d", got)
	}
	if got := exitCode(fmt.Errorf("conversion failed: %w", comic.ErrCancelled)); got != 0 {
		t.Fatalf("exitCode(cancelled) = %d, want 0", got)
	}
	if got := exitCode(errors.New("boom")); got != 1 {
		t.Fatalf("exitCode(failure) = %d, want 1", got)
	}
}

func TestPromptOverwrite_WithoutTerminal(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "book.cbz")
	if err := os.WriteFile(existing, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	in, err := os.Open(existing)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer in.Close()

	var out bytes.Buffer
	if !promptOverwrite(in, &out, false)(filepath.Join(dir, "new.cbz")) {
		t.Fatal("missing destination should not need confirmation")
	}
	if promptOverwrite(in, &out, false)(existing) {
		t.Fatal("existing destination without a terminal should be declined")
	}
	if !strings.Contains(out.String(), "--yes") {
		t.Fatalf("expected --yes hint, got %q", out.String())
	}
	if !promptOverwrite(in, &out, true)(existing) {
		t.Fatal("--yes should confirm")
	}
	if !isYes('Y') || isYes('n') || isYes('\r') {
		t.Fatal("isYes() mismatch")
	}
}

func writeTestArchive(t *testing.T, path string) {
	t.Helper()
	w, err := archive.Create(afero.NewOsFs(), path, archive.FormatZip)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	for i, name := range []string{"ch1/002.png", "001.png", "ch1/001.png", "notes.txt"} {
		data := []byte("text")
		if strings.HasSuffix(name, ".png") {
			var buf bytes.Buffer
			img := image.NewNRGBA(image.Rect(0, 0, 10+i*10, 20))
			img.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})
			if err := png.Encode(&buf, img); err != nil {
				t.Fatalf("png.Encode() error = %v", err)
			}
			data = buf.Bytes()
		}
		if err := w.Append(name, data); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCLI_Inspect(t *testing.T) {
	isolate(t)
	in := filepath.Join(t.TempDir(), "book.cbz")
	writeTestArchive(t, in)

	out, err := runCLI(t, "inspect", in)
	if err != nil {
		t.Fatalf("inspect error = %v", err)
	}
	for _, want := range []string{"book.cbz", "ch1/", "001.png", "pages: 3", "canvas: 30x20", "notes.txt: unsupported-format"} {
		if !strings.Contains(out, want) {
			t.Fatalf("inspect output missing %q:\n%s", want, out)
		}
	}
}

func TestCLI_ConvertWithMetadata(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "book.cbz")
	outPath := filepath.Join(dir, "out.cbt")
	writeTestArchive(t, in)

	if _, err := runCLI(t, "convert", in, "-o", outPath, "--title", "X", "--save-metadata"); err != nil {
		t.Fatalf("convert error = %v", err)
	}

	r, err := archive.Open(outPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()
	if r.Format() != archive.FormatTar {
		t.Fatalf("Format() = %v, want tar", r.Format())
	}
	var got []string
	for _, e := range r.Entries() {
		got = append(got, e.Path)
	}
	want := "metadata.xml,001.jpeg,ch1/001.jpeg,ch1/002.jpeg"
	if strings.Join(got, ",") != want {
		t.Fatalf("entries = %v, want %s", got, want)
	}
	if _, err := os.Stat(outPath + comic.TempSuffix); !os.IsNotExist(err) {
		t.Fatalf("staged file left behind: %v", err)
	}
}

func TestCLI_Thumbnail(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "book.cbz")
	writeTestArchive(t, in)
	outPath := filepath.Join(dir, "thumb.png")

	if _, err := runCLI(t, "thumbnail", in, "-o", outPath, "--size", "5"); err != nil {
		t.Fatalf("thumbnail error = %v", err)
	}
	f, err := os.Open(outPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	if err != nil {
		t.Fatalf("DecodeConfig() error = %v", err)
	}
	// first raw page entry is ch1/002.png (10x20), fitted into 5x5
	if cfg.Width > 5 || cfg.Height != 5 {
		t.Fatalf("thumbnail %dx%d, want height 5 within 5x5", cfg.Width, cfg.Height)
	}
}
