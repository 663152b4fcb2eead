package storage

import "time"

// Project is a namespace for experiments, created implicitly on first scan.
type Project struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// Experiment is one date+scenario combination within a project. Experiments
// are never deleted automatically; one whose child tests all vanished stays
// as a historical record with a zero test count.
type Experiment struct {
	ID          int64
	ProjectID   int64
	Date        string
	Scenario    string
	Description string
	CreatedAt   time.Time
}

// Test is one subject's run within an experiment.
type Test struct {
	ID           int64
	ExperimentID int64
	Sequence     int
	Subject      string
	SubjectID    string
	DurationSec  *float64
	// SensorSetting is the configuration code declared by the test's
	// metadata, empty when untracked.
	SensorSetting string
	Notes         string
	MetadataPath  string
	ContentHash   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Sensor is one sensor data file belonging to a test.
type Sensor struct {
	ID           int64
	TestID       int64
	SensorID     string
	Type         string
	Position     string
	Sequence     int
	SampleRateHz float64
	FileName     string
	FilePath     string
}

// DataQuality is the optional per-test quality record.
type DataQuality struct {
	TestID       int64
	Completeness float64
	Anomalies    int
	Notes        string
}

// Strategy is a seeded optimization scoping rule, number 0-4.
type Strategy struct {
	Number              int
	Name                string
	Description         string
	SubjectScoped       bool
	ScenarioScoped      bool
	SensorSettingScoped bool
}

// SensorSetting is a sensor-configuration lookup row keyed by its code.
type SensorSetting struct {
	ID          int64
	Code        string
	Description string
	// Components is a JSON array of component codes.
	Components string
}

// Parameter is one optimization parameter file.
type Parameter struct {
	ID             int64
	StrategyNumber int
	Kind           string
	DataType       string
	// Signature groups a parameter with its result and visualization files,
	// which carry the same scope tokens in their names.
	Signature    string
	FileName     string
	FilePath     string
	ContentHash  string
	MetadataJSON string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Result is one result file belonging to exactly one parameter.
type Result struct {
	ID           int64
	ParameterID  int64
	ModelName    string
	FileName     string
	FilePath     string
	ContentHash  string
	MetadataJSON string
}

// Visualization types.
const (
	VizModelSpecific = "model_specific"
	VizComparison    = "comparison"
)

// Visualization is one image file belonging to exactly one parameter.
type Visualization struct {
	ID          int64
	ParameterID int64
	VizType     string
	// ModelName is set only for model_specific visualizations.
	ModelName   string
	FileName    string
	FilePath    string
	ContentHash string
}
