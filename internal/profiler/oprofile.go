package profiler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/roach88/runsystem/internal/disasm"
	"github.com/roach88/runsystem/internal/offsets"
)

// Defaults for the oprofile argument flags.
const (
	DefaultCounter = "CPU_CLK_UNHALTED"
	DefaultCPUNum  = 100000
	DefaultLLCNum  = 10000
)

// OprofileOptions are the per-invocation oprofile settings.
type OprofileOptions struct {
	Counter string
	CPUNum  int
	LLCNum  int
}

// ParseOprofileArgs parses adapter arguments. Positional arguments are
// rejected.
func ParseOprofileArgs(args []string) (OprofileOptions, error) {
	opts := OprofileOptions{}
	fs := pflag.NewFlagSet("oprofile", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.Counter, "oprof-counter", DefaultCounter, "counter used for time sampling")
	fs.IntVar(&opts.CPUNum, "oprof-cpu-num", DefaultCPUNum, "sample interval of the time counter")
	fs.IntVar(&opts.LLCNum, "oprof-llc-num", DefaultLLCNum, "sample interval of LLC_MISSES")
	if err := fs.Parse(args); err != nil {
		return OprofileOptions{}, fmt.Errorf("parse oprofile args: %w", err)
	}
	if fs.NArg() > 0 {
		return OprofileOptions{}, fmt.Errorf("parse oprofile args: unexpected argument %q", fs.Arg(0))
	}
	if opts.CPUNum <= 0 || opts.LLCNum <= 0 {
		return OprofileOptions{}, errors.New("parse oprofile args: sample intervals must be positive")
	}
	return opts, nil
}

// Oprofile drives operf and opannotate.
type Oprofile struct {
	AdapterName string
	Classifier  disasm.Classifier
	// LLC adds an LLC_MISSES event to the recording.
	LLC bool
	// Counter overrides DefaultCounter when --oprof-counter is not given.
	Counter string
	Logger  *slog.Logger
}

func (o *Oprofile) Name() string { return o.AdapterName }

// Tools lists the programs Run invokes.
func (o *Oprofile) Tools() []string { return []string{"operf", "opannotate"} }

// Run records a profile of pc.RunLine, writes the annotated disassembly
// to pc.LogPath and extracts block metrics from it.
func (o *Oprofile) Run(ctx context.Context, pc Context, args []string, offsetFiles []string) (disasm.Metrics, error) {
	if o.Counter != "" && !hasFlag(args, "oprof-counter") {
		args = append([]string{"--oprof-counter=" + o.Counter}, args...)
	}
	opts, err := ParseOprofileArgs(args)
	if err != nil {
		return nil, err
	}
	runLine := strings.Fields(pc.RunLine)
	if len(runLine) == 0 {
		return nil, fmt.Errorf("%s: empty run line for %s", o.Name(), pc.Application)
	}
	idx, err := offsets.Load(pc.Application, offsetFiles)
	if err != nil {
		return nil, err
	}
	logger := o.logger().With("adapter", o.Name(), "application", pc.Application)
	runner := pc.runner()

	record := Command{Name: pc.Tool("operf"), Args: o.operfArgs(opts, runLine), Dir: pc.WorkDir}
	logger.Debug("recording profile", "command", record.String())
	if err := runner.Run(ctx, record); err != nil {
		return nil, err
	}

	if err := o.annotate(ctx, pc, runner, runLine); err != nil {
		return nil, err
	}

	ex := &disasm.Extractor{Classifier: o.Classifier, Logger: logger}
	metrics, err := ex.ExtractFile(pc.LogPath, idx)
	if err != nil {
		return nil, err
	}
	logger.Debug("extracted block metrics", "blocks", len(metrics), "ranges", len(idx.Entries()))
	return metrics, nil
}

func (o *Oprofile) operfArgs(opts OprofileOptions, runLine []string) []string {
	var args []string
	if o.LLC {
		args = append(args, "-e", "LLC_MISSES:"+strconv.Itoa(opts.LLCNum))
	}
	args = append(args, "-e", opts.Counter+":"+strconv.Itoa(opts.CPUNum)+":0:0:1")
	return append(args, runLine...)
}

func (o *Oprofile) annotate(ctx context.Context, pc Context, runner Runner, runLine []string) (err error) {
	f, err := os.Create(pc.LogPath)
	if err != nil {
		return fmt.Errorf("create profiler log: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close profiler log: %w", cerr)
		}
	}()
	return runner.Run(ctx, Command{
		Name:   pc.Tool("opannotate"),
		Args:   append([]string{"--source", "--assembly"}, runLine...),
		Dir:    pc.WorkDir,
		Stdout: f,
	})
}

func (o *Oprofile) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func hasFlag(args []string, name string) bool {
	for _, a := range args {
		if a == "--"+name || strings.HasPrefix(a, "--"+name+"=") {
			return true
		}
	}
	return false
}
