// SPDX-License-Identifier: Apache-2.0
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"github.com/urfave/cli/v2"

	"tailrec/grammar"
	"tailrec/internal/archive"
	"tailrec/internal/config"
	diag "tailrec/internal/errors"
	"tailrec/internal/tailrec"
)

var version = "0.1.0"

var (
	verbosityFlag = &cli.IntFlag{
		Name:    "verbosity",
		Aliases: []string{"v"},
		Usage:   "Log verbosity; 1 shows each optimized class, 2 each skipped one",
	}
	logFileFlag = &cli.StringFlag{
		Name:  "log",
		Usage: "Write the log to `FILE` instead of stderr",
	}
	outputFlag = &cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "Write the optimized class file, directory or jar to `PATH`",
	}
	overwriteFlag = &cli.BoolFlag{
		Name:  "overwrite",
		Usage: "Replace existing output files, or the input when no output is given",
	}
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "Load settings from `FILE` (default: " + config.FileName + " in the working directory)",
	}
	workersFlag = &cli.IntFlag{
		Name:  "workers",
		Usage: "Number of class files optimized at once",
	}
	includeFlag = &cli.StringSliceFlag{
		Name:  "include",
		Usage: "Only optimize class files matching `PATTERN`",
	}
	excludeFlag = &cli.StringSliceFlag{
		Name:  "exclude",
		Usage: "Copy class files matching `PATTERN` without optimizing them",
	}
	optimizedFlag = &cli.BoolFlag{
		Name:  "optimized",
		Usage: "Disassemble the class as the optimizer rewrites it",
	}
)

func newApp() *cli.App {
	return &cli.App{
		Name:    "tailrec",
		Usage:   "Eliminate self-recursive tail calls from JVM class files",
		Version: version,
		Flags:   []cli.Flag{verbosityFlag, logFileFlag},
		Before: func(ctx *cli.Context) error {
			configureLogging(ctx.Int(verbosityFlag.Name), ctx.String(logFileFlag.Name))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "optimize",
				Usage:     "Optimize a class file, a class directory or a jar",
				ArgsUsage: "INPUT",
				Action:    optimize,
				Flags: []cli.Flag{
					outputFlag,
					overwriteFlag,
					configFlag,
					workersFlag,
					includeFlag,
					excludeFlag,
				},
				Description: `
The output has the shape of the input: a class file for a class file, a
directory for a directory and a jar for a jar. Files that are not class
files are copied. Either --output or --overwrite is required; --overwrite
alone replaces the input.`,
			},
			{
				Name:      "disasm",
				Usage:     "Print a class file in assembler syntax",
				ArgsUsage: "CLASS",
				Action:    disassemble,
				Flags:     []cli.Flag{optimizedFlag},
			},
			{
				Name:      "asm",
				Usage:     "Assemble a source file into class files",
				ArgsUsage: "SOURCE OUTPUT",
				Action:    assemble,
				Description: `
OUTPUT is the class file written when SOURCE holds one class. With more
classes OUTPUT is a directory and each class is written below it by name.`,
			},
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		color.Red("%s", err)
		os.Exit(1)
	}
}

func configureLogging(verbosity int, file string) {
	var path *string
	if file != "" {
		path = &file
	}
	commonlog.Configure(verbosity, path)
}

func optimize(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("optimize takes one INPUT, got %d arguments", ctx.NArg())
	}
	input := ctx.Args().First()
	startTime := time.Now()

	var cfg *config.Config
	var err error
	if ctx.IsSet(configFlag.Name) {
		cfg, err = config.Load(ctx.String(configFlag.Name))
	} else {
		cfg, err = config.Find(".")
	}
	if err != nil {
		return err
	}
	if ctx.IsSet(outputFlag.Name) {
		cfg.Output = ctx.String(outputFlag.Name)
	}
	if ctx.IsSet(overwriteFlag.Name) {
		cfg.Overwrite = ctx.Bool(overwriteFlag.Name)
	}
	if ctx.IsSet(workersFlag.Name) {
		cfg.Workers = ctx.Int(workersFlag.Name)
	}
	if ctx.IsSet(includeFlag.Name) {
		cfg.Include = ctx.StringSlice(includeFlag.Name)
	}
	if ctx.IsSet(excludeFlag.Name) {
		cfg.Exclude = ctx.StringSlice(excludeFlag.Name)
	}
	// The file only sets logging the command line left alone.
	if !ctx.IsSet(verbosityFlag.Name) && !ctx.IsSet(logFileFlag.Name) &&
		(cfg.Log.Verbosity != 0 || cfg.Log.File != "") {
		configureLogging(cfg.Log.Verbosity, cfg.Log.File)
	}

	stats, err := archive.New(cfg).Run(input)
	duration := formatDuration(time.Since(startTime))
	if err != nil {
		color.Red("Optimization failed after %s", duration)
		return err
	}
	color.Green("Optimized %d of %d class files in %s", stats.Optimized, stats.Classes, duration)
	if stats.Copied > 0 {
		fmt.Printf("Copied %d other files\n", stats.Copied)
	}
	return nil
}

func disassemble(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("disasm takes one CLASS, got %d arguments", ctx.NArg())
	}
	class, err := os.ReadFile(ctx.Args().First())
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	if ctx.Bool(optimizedFlag.Name) {
		if class, err = tailrec.Optimize(class); err != nil {
			return err
		}
	}
	text, err := grammar.Disassemble(class)
	if err != nil {
		return err
	}
	fmt.Fprint(ctx.App.Writer, text)
	return nil
}

func assemble(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return fmt.Errorf("asm takes SOURCE and OUTPUT, got %d arguments", ctx.NArg())
	}
	path, output := ctx.Args().Get(0), ctx.Args().Get(1)

	source, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	file, err := grammar.ParseFile(path)
	if err != nil {
		// Already reported with the offending line.
		return cli.Exit("", 1)
	}

	reporter := diag.NewErrorReporter(path, string(source))
	classes, err := grammar.Assemble(file)
	if err != nil {
		// The list carries the warnings too.
		var l diag.List
		if errors.As(err, &l) {
			fmt.Fprint(ctx.App.Writer, reporter.FormatAll(l))
			return cli.Exit("", 1)
		}
		return err
	}
	fmt.Fprint(ctx.App.Writer, reporter.FormatAll(grammar.Warnings(file)))

	if len(classes) == 1 {
		return writeClass(output, classes[0].Bytes())
	}
	for _, cf := range classes {
		if err := writeClass(filepath.Join(output, filepath.FromSlash(cf.Name)+".class"), cf.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

func writeClass(path string, class []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, class, 0o644); err != nil {
		return err
	}
	color.Green("Wrote %s", strings.TrimPrefix(path, "./"))
	return nil
}

func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Minute:
		return fmt.Sprintf("%.2fmin", d.Minutes())
	case d >= time.Second:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d >= time.Millisecond:
		return fmt.Sprintf("%.1fms", float64(d.Nanoseconds())/1000000.0)
	case d >= time.Microsecond:
		return fmt.Sprintf("%.1fμs", float64(d.Nanoseconds())/1000.0)
	default:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	}
}
