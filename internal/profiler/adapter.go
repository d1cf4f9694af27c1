package profiler

import (
	"context"
	"path/filepath"

	"github.com/roach88/runsystem/internal/disasm"
)

// Adapter profiles one executable and returns metrics for the blocks
// described by offsetFiles.
type Adapter interface {
	Name() string
	Run(ctx context.Context, pc Context, args []string, offsetFiles []string) (disasm.Metrics, error)
}

// ToolUser is implemented by adapters that can name the external programs
// they need, so that a missing tool is reported before any profiling.
type ToolUser interface {
	Tools() []string
}

// Context is everything an adapter may use for a single invocation.
type Context struct {
	// Application names the executable; it prefixes every qualified block ID.
	Application string
	// RunLine is the invocation of the executable under test.
	RunLine string
	// LogPath is where the annotated disassembly is written.
	LogPath string
	// ProfilerPath is the directory holding the profiler's tools. Empty
	// means they are looked up on $PATH.
	ProfilerPath string
	WorkDir      string
	Runner       Runner
}

// Tool returns the path used to invoke the named profiler tool.
func (pc Context) Tool(name string) string {
	if pc.ProfilerPath == "" {
		return name
	}
	return filepath.Join(pc.ProfilerPath, name)
}

func (pc Context) runner() Runner {
	if pc.Runner == nil {
		return ExecRunner{}
	}
	return pc.Runner
}
