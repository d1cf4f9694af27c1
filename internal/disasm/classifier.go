package disasm

import (
	"fmt"
	"sort"
	"strings"
)

// Classifier decides how far one instruction advances the ordinal counter
// used to match offset ranges. size is the instruction's decoded byte size
// (its address minus the previous instruction's address).
type Classifier interface {
	Name() string
	Step(mnemonic string, size int64) int64
}

// IsNop reports whether mnemonic is a no-op. No-ops are not executed
// instructions in the profiler's numbering and never advance the ordinal.
func IsNop(mnemonic string) bool {
	return strings.HasPrefix(mnemonic, "nop")
}

// IsJump reports whether mnemonic belongs to the jump class (jmp, je, jne, ...).
func IsJump(mnemonic string) bool {
	return strings.HasPrefix(mnemonic, "j")
}

// FlatStep counts every non-nop instruction as one ordinal.
type FlatStep struct{}

func (FlatStep) Name() string { return "flat" }

func (FlatStep) Step(mnemonic string, _ int64) int64 {
	if IsNop(mnemonic) {
		return 0
	}
	return 1
}

// ByteDeltaStep advances by the decoded byte size of each non-nop instruction.
type ByteDeltaStep struct{}

func (ByteDeltaStep) Name() string { return "bytes" }

func (ByteDeltaStep) Step(mnemonic string, size int64) int64 {
	if IsNop(mnemonic) {
		return 0
	}
	return size
}

// JumpAwareStep advances jumps by a fixed 2 and everything else by its
// decoded byte size.
type JumpAwareStep struct{}

func (JumpAwareStep) Name() string { return "jumps" }

func (JumpAwareStep) Step(mnemonic string, size int64) int64 {
	switch {
	case IsNop(mnemonic):
		return 0
	case IsJump(mnemonic):
		return 2
	default:
		return size
	}
}

var classifiers = map[string]Classifier{
	FlatStep{}.Name():      FlatStep{},
	ByteDeltaStep{}.Name(): ByteDeltaStep{},
	JumpAwareStep{}.Name(): JumpAwareStep{},
}

// ClassifierByName resolves a classifier policy by name.
func ClassifierByName(name string) (Classifier, error) {
	c, ok := classifiers[name]
	if !ok {
		return nil, fmt.Errorf("unknown instruction classifier %q (known: %s)", name, strings.Join(ClassifierNames(), ", "))
	}
	return c, nil
}

// ClassifierNames returns the known classifier names, sorted.
func ClassifierNames() []string {
	names := make([]string, 0, len(classifiers))
	for n := range classifiers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
