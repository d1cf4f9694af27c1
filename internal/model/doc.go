// Package model defines the entities recorded by the profiling pipeline.
//
// Every entity is a document in the result store and carries a
// store-assigned ID. The orchestrator is the only writer; comparison and
// the read-only views never mutate a stored entity.
//
// Entity graph:
//
//	Run 1──* Function 1──* Loop 1──* LoopFeatures *──1 Features
//
// Loops are correlated across runs by value, never by store ID: two loops
// correspond when their (application, filename, function_name, loop_id)
// keys are equal. See QualifiedID for the key shared by offset files,
// disassembly logs and feature snapshots.
//
// Key design constraints:
//   - Feature values are int64 or bool; anything else is preserved verbatim
//     as FeatureRaw and never interpreted
//   - All JSON tags use snake_case
//   - LoopFeatures.Order only breaks ties between snapshots of one loop
package model
