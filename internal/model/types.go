package model

// Run represents one build+test invocation under a specific flag combination.
type Run struct {
	ID             string `json:"id,omitempty"`
	Options        string `json:"options"`
	DateTime       string `json:"date_time"`
	ConnectedRunID string `json:"connected_run_id,omitempty"` // Optional paired run
}

// Function is unique per (application, filename, function_name) within a Run.
type Function struct {
	ID           string `json:"id,omitempty"`
	Application  string `json:"application"`
	Filename     string `json:"filename"`
	FunctionName string `json:"function_name"`
	RunID        string `json:"run_id"`
}

// Key returns the find-or-create key of the function within its run.
func (f Function) Key() string {
	return f.RunID + "\x00" + f.Application + "\x00" + f.Filename + "\x00" + f.FunctionName
}

// Loop holds the measured metrics of one basic block.
type Loop struct {
	ID         string `json:"id,omitempty"`
	LoopID     string `json:"loop_id"`
	ExecTime   int64  `json:"exec_time"`
	CodeSize   int64  `json:"code_size"`
	LLCMisses  int64  `json:"llc_misses"`
	FunctionID string `json:"function_id"`
}

// Features is a single compiler-pass feature snapshot.
type Features struct {
	ID          string     `json:"id,omitempty"`
	PassName    string     `json:"pass_name"`
	Place       Place      `json:"place"`
	FeaturesSet FeatureSet `json:"features_set"`
}

// LoopFeatures links a Loop to a Features record.
type LoopFeatures struct {
	ID         string `json:"id,omitempty"`
	BlockID    string `json:"block_id"`    // Loop.ID
	FeaturesID string `json:"features_id"` // Features.ID
	Order      int64  `json:"order"`       // Emission order, tie-breaking only
}

// Collection names used in the result store.
const (
	CollectionRuns         = "runs"
	CollectionFunctions    = "functions"
	CollectionLoops        = "loops"
	CollectionFeatures     = "features"
	CollectionLoopFeatures = "loop_features"
)
