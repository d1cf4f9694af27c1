package disasm

import (
	"regexp"
	"strconv"
	"strings"
)

// The fraction group is lazy so that the optional LLC columns are not
// swallowed by it.
var (
	instructionPattern = regexp.MustCompile(`^\s*(\d+)?\s+(\d+\.\d+.*?)?(\s+(\d+)\s+(\d+(\.\d+)*.*))?\s*:\s*([0-9a-fA-F]+):\s*(\w+)`)
	headerPattern      = regexp.MustCompile(`^([0-9a-fA-F]+)\s*<`)
)

// Instruction is one parsed instruction line.
type Instruction struct {
	Address    uint64
	Samples    int64
	LLCSamples int64
	Mnemonic   string
}

// ParseInstruction parses an instruction line. ok is false when the line
// does not have the instruction shape.
func ParseInstruction(line string) (ins Instruction, ok bool) {
	m := instructionPattern.FindStringSubmatch(line)
	if m == nil {
		return Instruction{}, false
	}
	addr, err := strconv.ParseUint(m[7], 16, 64)
	if err != nil {
		return Instruction{}, false
	}
	ins.Address = addr
	ins.Mnemonic = m[8]
	if m[1] != "" {
		if ins.Samples, err = strconv.ParseInt(m[1], 10, 64); err != nil {
			return Instruction{}, false
		}
	}
	if m[4] != "" {
		if ins.LLCSamples, err = strconv.ParseInt(m[4], 10, 64); err != nil {
			return Instruction{}, false
		}
	}
	return ins, true
}

// IsHeader reports whether line starts a function body.
func IsHeader(line string) bool {
	return headerPattern.MatchString(line)
}

// ParseHeaderFor returns the start address when line is the header of
// function name.
func ParseHeaderFor(line, name string) (addr uint64, ok bool) {
	loc := headerPattern.FindStringSubmatchIndex(line)
	if loc == nil {
		return 0, false
	}
	// loc[1] is just past the '<'.
	if !strings.HasPrefix(line[loc[1]:], name+">") {
		return 0, false
	}
	addr, err := strconv.ParseUint(line[loc[2]:loc[3]], 16, 64)
	if err != nil {
		return 0, false
	}
	return addr, true
}
