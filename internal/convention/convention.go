// Package convention parses directory and file names against the data-tree
// naming convention. Entity identity comes from the path alone; file contents
// are never consulted here and nothing in this package performs I/O.
package convention

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"sdx/internal/errors"
)

// Canonical scenario names used throughout the index.
const (
	ScenarioSingleLaneChange = "single_lane_change"
	ScenarioStopAndGo        = "stop_and_go"
	ScenarioLaneWeaving      = "lane_weaving"
)

// Parameter kinds and data types recognized in optimization filenames.
const (
	KindFullOpt = "fullopt"
	Kind3Opt    = "3opt"

	DataTypeDriving     = "driving"
	DataTypeDrivingRest = "driving+rest"
)

// ExperimentName is the decomposition of an experiment directory name.
type ExperimentName struct {
	Date     time.Time
	Scenario string
}

// TestName is the decomposition of a test directory name.
type TestName struct {
	Sequence int
	Subject  string
	// SubjectID is set only when the subject token itself carries an id
	// (e.g. "sub02_이서윤" yields "S002"); otherwise empty and derived
	// downstream from the sequence.
	SubjectID string
}

// SensorFileName is the decomposition of a sensor data file name.
type SensorFileName struct {
	Type     string
	Position string
	Sequence int
	Ext      string
}

// LegacyTestName is the decomposition of a historical free-text test
// directory name.
type LegacyTestName struct {
	// Date is zero when the name carries no MMDD token.
	Date      time.Time
	Sequence  int
	Subject   string
	SubjectID string
	// Scenario is empty when the name carries no scenario token; callers
	// fall back to the parent experiment directory.
	Scenario string
}

// OptimizationName is the decomposition of an optimization artifact file
// name. Token order in the filename is not significant.
type OptimizationName struct {
	Strategy      int
	SubjectID     string
	Scenario      string
	SensorSetting string
	DataType      string
	Kind          string
	// Extra holds tokens the grammar does not recognize, preserved in
	// filename order. Result files carry their model name here.
	Extra []string
}

// ModelName returns the unrecognized remainder of the filename joined back
// together. Result and model-specific visualization files encode the model
// name this way.
func (o *OptimizationName) ModelName() string {
	return strings.Join(o.Extra, "_")
}

var (
	experimentDirRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})_([a-z0-9_]+)$`)
	testDirRe       = regexp.MustCompile(`^test_(\d{3})_(.+)$`)
	sensorFileRe    = regexp.MustCompile(`^([a-z][a-z0-9]*)_(.+)_(\d{3})\.([a-z0-9]+)$`)

	legacyDateRe = regexp.MustCompile(`^(\d{2})(\d{2})$`)
	legacyTestRe = regexp.MustCompile(`^(?i)test[\s_]?(\d+)$`)
	subjectIDRe  = regexp.MustCompile(`^(?i)(?:sub|s)(\d{1,3})$`)
	strategyRe   = regexp.MustCompile(`^(?i)strategy[\s_]?(\d+)$`)
	hyphenCodeRe = regexp.MustCompile(`^[A-Z0-9]+(-[A-Z0-9]+)+$`)
)

// scenarioAbbrevs maps historical abbreviations to canonical scenario names.
var scenarioAbbrevs = map[string]string{
	"SLC": ScenarioSingleLaneChange,
	"S&G": ScenarioStopAndGo,
	"SNG": ScenarioStopAndGo,
	"LW":  ScenarioLaneWeaving,
}

// scenarioNames maps normalized full scenario names to canonical form.
var scenarioNames = map[string]string{
	"single_lane_change": ScenarioSingleLaneChange,
	"stop_and_go":        ScenarioStopAndGo,
	"lane_weaving":       ScenarioLaneWeaving,
}

// koreanPositions maps Korean sensor position names to canonical English
// tokens. Historical ingest folders used these verbatim.
var koreanPositions = map[string]string{
	"콘솔":    "console",
	"조수석후방": "passenger_rear",
	"대시보드":  "dashboard",
	"지붕":    "roof",
}

// legacyYear is assumed for MMDD date tokens, matching the year the
// historical folders were recorded in.
const legacyYear = 2024

func violation(format string, args ...any) error {
	return errors.Newf(errors.ConventionViolation, format, args...)
}

// ParseExperimentDir parses a strict experiment directory name such as
// "2024-08-11_single_lane_change".
func ParseExperimentDir(name string) (*ExperimentName, error) {
	m := experimentDirRe.FindStringSubmatch(name)
	if m == nil {
		return nil, violation("experiment directory %q does not match YYYY-MM-DD_scenario", name)
	}
	date, err := time.Parse("2006-01-02", m[1])
	if err != nil {
		return nil, violation("experiment directory %q has invalid date %q", name, m[1])
	}
	return &ExperimentName{Date: date, Scenario: m[2]}, nil
}

// ParseTestDir parses a strict test directory name such as "test_003_Kim".
// The sequence must be exactly three digits; see ParseLegacyTestDir for the
// tolerant grammar.
func ParseTestDir(name string) (*TestName, error) {
	m := testDirRe.FindStringSubmatch(name)
	if m == nil {
		return nil, violation("test directory %q does not match test_NNN_subject", name)
	}
	seq, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, violation("test directory %q has invalid sequence %q", name, m[1])
	}
	subject := m[2]
	tn := &TestName{Sequence: seq, Subject: subject}
	if head, _, ok := strings.Cut(subject, "_"); ok {
		if id := NormalizeSubjectID(head); id != "" {
			tn.SubjectID = id
		}
	} else if id := NormalizeSubjectID(subject); id != "" {
		tn.SubjectID = id
	}
	return tn, nil
}

// ParseSensorFile parses a sensor data file name such as
// "imu_console_001.csv" or "imu_passenger_rear_001.csv". The position may
// itself contain underscores.
func ParseSensorFile(name string) (*SensorFileName, error) {
	m := sensorFileRe.FindStringSubmatch(name)
	if m == nil {
		return nil, violation("sensor file %q does not match type_position_NNN.ext", name)
	}
	seq, err := strconv.Atoi(m[3])
	if err != nil {
		return nil, violation("sensor file %q has invalid sequence %q", name, m[3])
	}
	return &SensorFileName{
		Type:     m[1],
		Position: TranslatePosition(m[2]),
		Sequence: seq,
		Ext:      m[4],
	}, nil
}

// ParseLegacyTestDir parses a historical free-text test directory name such
// as "0811 Test01 sub02 이서윤 SLC" or "0630_test1_Single Lane Change_최지웅".
// Tokens may appear in any order. A missing test token or subject fails;
// nothing is guessed.
func ParseLegacyTestDir(name string) (*LegacyTestName, error) {
	sep := " "
	if strings.Contains(name, "_") {
		sep = "_"
	}

	out := &LegacyTestName{Sequence: -1}
	var subjectParts []string

	tokens := strings.Split(name, sep)
	for i := 0; i < len(tokens); i++ {
		tok := strings.TrimSpace(tokens[i])
		if tok == "" {
			continue
		}

		if m := legacyDateRe.FindStringSubmatch(tok); m != nil && out.Date.IsZero() {
			month, _ := strconv.Atoi(m[1])
			day, _ := strconv.Atoi(m[2])
			if month >= 1 && month <= 12 && day >= 1 && day <= 31 {
				out.Date = time.Date(legacyYear, time.Month(month), day, 0, 0, 0, 0, time.UTC)
				continue
			}
		}
		if m := legacyTestRe.FindStringSubmatch(tok); m != nil && out.Sequence < 0 {
			seq, err := strconv.Atoi(m[1])
			if err != nil {
				return nil, violation("test directory %q has invalid test token %q", name, tok)
			}
			out.Sequence = seq
			continue
		}
		// "test" and its number separated by the delimiter itself.
		if strings.EqualFold(tok, "test") && out.Sequence < 0 && i+1 < len(tokens) {
			if seq, err := strconv.Atoi(strings.TrimSpace(tokens[i+1])); err == nil {
				out.Sequence = seq
				i++
				continue
			}
		}
		if s, ok := scenarioAbbrevs[strings.ToUpper(tok)]; ok && out.Scenario == "" {
			out.Scenario = s
			continue
		}
		if s, ok := scenarioNames[normalizeScenario(tok)]; ok && out.Scenario == "" {
			out.Scenario = s
			continue
		}
		if subjectIDRe.MatchString(tok) && out.SubjectID == "" {
			out.SubjectID = NormalizeSubjectID(tok)
			continue
		}
		subjectParts = append(subjectParts, tok)
	}

	if out.Sequence < 0 {
		return nil, violation("test directory %q has no test-number token", name)
	}
	if len(subjectParts) == 0 {
		if out.SubjectID == "" {
			return nil, violation("test directory %q has no subject token", name)
		}
		out.Subject = out.SubjectID
	} else {
		out.Subject = strings.Join(subjectParts, "_")
	}
	return out, nil
}

// ParseOptimizationFile parses an optimization artifact file name such as
// "strategy0_sub09_slc_H-IMU_N-VV_driving_fullopt.m". Unrecognized tokens
// are preserved in Extra rather than rejected; only the strategy number is
// load-bearing, and a value outside 0-4 fails with STRATEGY_UNSCOPED.
func ParseOptimizationFile(name string) (*OptimizationName, error) {
	base := name
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}

	tokens := strings.Split(base, "_")
	out := &OptimizationName{Strategy: -1}

	for i := 0; i < len(tokens); i++ {
		tok := strings.TrimSpace(tokens[i])
		if tok == "" {
			continue
		}

		if m := strategyRe.FindStringSubmatch(tok); m != nil && out.Strategy < 0 {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return nil, violation("optimization file %q has invalid strategy token %q", name, tok)
			}
			out.Strategy = n
			continue
		}
		// "strategy" followed by a bare digit token.
		if strings.EqualFold(tok, "strategy") && out.Strategy < 0 && i+1 < len(tokens) {
			if n, err := strconv.Atoi(tokens[i+1]); err == nil {
				out.Strategy = n
				i++
				continue
			}
		}
		if subjectIDRe.MatchString(tok) && out.SubjectID == "" {
			out.SubjectID = NormalizeSubjectID(tok)
			continue
		}
		if s := ScenarioFromCode(tok); s != "" && out.Scenario == "" {
			out.Scenario = s
			continue
		}
		// Sensor-setting codes are hyphenated component tokens; consecutive
		// ones form a single underscore-joined code (H-IMU_N-VV).
		if hyphenCodeRe.MatchString(tok) {
			code := tok
			for i+1 < len(tokens) && hyphenCodeRe.MatchString(tokens[i+1]) {
				code += "_" + tokens[i+1]
				i++
			}
			if out.SensorSetting == "" {
				out.SensorSetting = code
			} else {
				out.Extra = append(out.Extra, code)
			}
			continue
		}
		low := strings.ToLower(tok)
		switch {
		case low == DataTypeDrivingRest && out.DataType == "":
			out.DataType = DataTypeDrivingRest
		case low == DataTypeDriving && out.DataType == "":
			// "driving_rest" split across two tokens.
			if i+1 < len(tokens) && strings.EqualFold(tokens[i+1], "rest") {
				out.DataType = DataTypeDrivingRest
				i++
			} else {
				out.DataType = DataTypeDriving
			}
		case (low == KindFullOpt || low == Kind3Opt) && out.Kind == "":
			out.Kind = low
		default:
			out.Extra = append(out.Extra, tok)
		}
	}

	if out.Strategy < 0 {
		return nil, violation("optimization file %q has no strategy token", name)
	}
	if out.Strategy > 4 {
		return nil, errors.Newf(errors.StrategyUnscoped,
			"optimization file %q names strategy %d, outside 0-4", name, out.Strategy)
	}
	return out, nil
}

// NormalizeSubjectID canonicalizes subject identifiers to the S-prefixed
// three-digit form: "sub09", "S9", and "9" all yield "S009". Returns the
// empty string when the token is not a subject id.
func NormalizeSubjectID(tok string) string {
	m := subjectIDRe.FindStringSubmatch(tok)
	if m == nil {
		if n, err := strconv.Atoi(tok); err == nil && n >= 0 && n < 1000 {
			return fmt.Sprintf("S%03d", n)
		}
		return ""
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return ""
	}
	return fmt.Sprintf("S%03d", n)
}

// ScenarioFromCode resolves an abbreviation or full name to the canonical
// scenario, or returns "" when the token is not a scenario.
func ScenarioFromCode(tok string) string {
	if s, ok := scenarioAbbrevs[strings.ToUpper(tok)]; ok {
		return s
	}
	if s, ok := scenarioNames[normalizeScenario(tok)]; ok {
		return s
	}
	return ""
}

// TranslatePosition maps Korean sensor position names to canonical English
// tokens; already-canonical positions pass through unchanged.
func TranslatePosition(pos string) string {
	if en, ok := koreanPositions[pos]; ok {
		return en
	}
	return pos
}

func normalizeScenario(tok string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(tok)), " ", "_")
}
