// Package profiler runs an external sampling profiler against one
// executable and reduces its annotated disassembly to per-block metrics.
//
// An Adapter is selected by name from a Registry. The built-in adapters
// drive oprofile (operf + opannotate) and differ only in which instruction
// classifier they hand to the disassembly extractor and whether they sample
// last-level cache misses. Additional variants of the same family can be
// described in YAML files and loaded with Registry.LoadDir.
//
// External programs are executed through a Runner so that tests can
// substitute canned output for real tool invocations.
package profiler
