// Package disasm folds a profiler-annotated disassembly log into per-block
// metrics.
//
// The log is shared by every function and translation unit of one
// profiling run. Function bodies start at a header line
//
//	0000000000401126 <main>:
//
// and continue with instruction lines of the form
//
//	[samples] [fraction] [[llcSamples] [llcFraction]] : address: mnemonic ...
//
// Sample fields are optional; the profiler omits zero-sample annotations,
// so absent counts read as zero rather than as missing data.
//
// Offset ranges from package offsets are expressed in instruction
// ordinals, not bytes. How far one instruction advances the ordinal
// counter differs between profiler/disassembler combinations, so the
// policy is injected as a Classifier rather than fixed here.
package disasm
