package convention

import (
	"testing"
	"time"

	"sdx/internal/errors"
)

func TestParseExperimentDir(t *testing.T) {
	tests := []struct {
		name     string
		date     string
		scenario string
		wantErr  bool
	}{
		{"2024-08-11_single_lane_change", "2024-08-11", "single_lane_change", false},
		{"2024-06-30_stop_and_go", "2024-06-30", "stop_and_go", false},
		{"2024-08-11_lane_weaving", "2024-08-11", "lane_weaving", false},
		{"20240811_single_lane_change", "", "", true},
		{"2024-08-11", "", "", true},
		{"2024-13-40_single_lane_change", "", "", true},
		{"2024-08-11_Single_Lane_Change", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseExperimentDir(tt.name)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if errors.CodeOf(err) != errors.ConventionViolation {
					t.Errorf("expected CONVENTION_VIOLATION, got %s", errors.CodeOf(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseExperimentDir failed: %v", err)
			}
			if got.Date.Format("2006-01-02") != tt.date {
				t.Errorf("date = %s, want %s", got.Date.Format("2006-01-02"), tt.date)
			}
			if got.Scenario != tt.scenario {
				t.Errorf("scenario = %s, want %s", got.Scenario, tt.scenario)
			}
		})
	}
}

func TestParseTestDir(t *testing.T) {
	got, err := ParseTestDir("test_003_Kim")
	if err != nil {
		t.Fatalf("ParseTestDir failed: %v", err)
	}
	if got.Sequence != 3 {
		t.Errorf("sequence = %d, want 3", got.Sequence)
	}
	if got.Subject != "Kim" {
		t.Errorf("subject = %s, want Kim", got.Subject)
	}
}

func TestParseTestDirSubjectID(t *testing.T) {
	got, err := ParseTestDir("test_001_sub02_이서윤")
	if err != nil {
		t.Fatalf("ParseTestDir failed: %v", err)
	}
	if got.Subject != "sub02_이서윤" {
		t.Errorf("subject = %s", got.Subject)
	}
	if got.SubjectID != "S002" {
		t.Errorf("subject id = %s, want S002", got.SubjectID)
	}
}

// The strict grammar requires a zero-padded three-digit sequence; the
// tolerant grammar accepts any digit count. Both entry points hold their
// behavior for the same name.
func TestSequencePadding(t *testing.T) {
	if _, err := ParseTestDir("test_3_Kim"); err == nil {
		t.Error("strict parser must reject an unpadded sequence")
	}

	got, err := ParseLegacyTestDir("test_3_Kim")
	if err != nil {
		t.Fatalf("legacy parser failed: %v", err)
	}
	if got.Sequence != 3 || got.Subject != "Kim" {
		t.Errorf("got sequence=%d subject=%s, want 3/Kim", got.Sequence, got.Subject)
	}
}

func TestParseSensorFile(t *testing.T) {
	tests := []struct {
		name     string
		typ      string
		position string
		sequence int
		ext      string
		wantErr  bool
	}{
		{"imu_console_001.csv", "imu", "console", 1, "csv", false},
		{"imu_passenger_rear_001.csv", "imu", "passenger_rear", 1, "csv", false},
		{"imu_대시보드_002.csv", "imu", "dashboard", 2, "csv", false},
		{"camera_roof_010.mp4", "camera", "roof", 10, "mp4", false},
		{"imu_console.csv", "", "", 0, "", true},
		{"imu_console_1.csv", "", "", 0, "", true},
		{"readme.txt", "", "", 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSensorFile(tt.name)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSensorFile failed: %v", err)
			}
			if got.Type != tt.typ || got.Position != tt.position ||
				got.Sequence != tt.sequence || got.Ext != tt.ext {
				t.Errorf("got %+v", got)
			}
		})
	}
}

func TestParseLegacyTestDir(t *testing.T) {
	got, err := ParseLegacyTestDir("0811 Test01 sub02 이서윤 SLC")
	if err != nil {
		t.Fatalf("ParseLegacyTestDir failed: %v", err)
	}
	want := time.Date(2024, 8, 11, 0, 0, 0, 0, time.UTC)
	if !got.Date.Equal(want) {
		t.Errorf("date = %v, want %v", got.Date, want)
	}
	if got.Sequence != 1 {
		t.Errorf("sequence = %d, want 1", got.Sequence)
	}
	if got.SubjectID != "S002" {
		t.Errorf("subject id = %s, want S002", got.SubjectID)
	}
	if got.Subject != "이서윤" {
		t.Errorf("subject = %s, want 이서윤", got.Subject)
	}
	if got.Scenario != ScenarioSingleLaneChange {
		t.Errorf("scenario = %s, want %s", got.Scenario, ScenarioSingleLaneChange)
	}
}

func TestParseLegacyTestDirUnderscoreFullScenario(t *testing.T) {
	got, err := ParseLegacyTestDir("0630_test1_Single Lane Change_최지웅")
	if err != nil {
		t.Fatalf("ParseLegacyTestDir failed: %v", err)
	}
	if got.Scenario != ScenarioSingleLaneChange {
		t.Errorf("scenario = %s, want %s", got.Scenario, ScenarioSingleLaneChange)
	}
	if got.Subject != "최지웅" {
		t.Errorf("subject = %s, want 최지웅", got.Subject)
	}
	if got.Date.Month() != 6 || got.Date.Day() != 30 {
		t.Errorf("date = %v", got.Date)
	}
}

func TestParseLegacyTestDirMissingSubject(t *testing.T) {
	_, err := ParseLegacyTestDir("0811 Test01 SLC")
	if err == nil {
		t.Fatal("expected error for missing subject token")
	}
	if errors.CodeOf(err) != errors.ConventionViolation {
		t.Errorf("expected CONVENTION_VIOLATION, got %s", errors.CodeOf(err))
	}
}

func TestParseOptimizationFile(t *testing.T) {
	got, err := ParseOptimizationFile("strategy0_sub09_slc_H-IMU_N-VV_driving_fullopt.m")
	if err != nil {
		t.Fatalf("ParseOptimizationFile failed: %v", err)
	}
	if got.Strategy != 0 {
		t.Errorf("strategy = %d, want 0", got.Strategy)
	}
	if got.SubjectID != "S009" {
		t.Errorf("subject id = %s, want S009", got.SubjectID)
	}
	if got.Scenario != ScenarioSingleLaneChange {
		t.Errorf("scenario = %s, want %s", got.Scenario, ScenarioSingleLaneChange)
	}
	if got.SensorSetting != "H-IMU_N-VV" {
		t.Errorf("sensor setting = %s, want H-IMU_N-VV", got.SensorSetting)
	}
	if got.DataType != DataTypeDriving {
		t.Errorf("data type = %s, want driving", got.DataType)
	}
	if got.Kind != KindFullOpt {
		t.Errorf("kind = %s, want fullopt", got.Kind)
	}
	if len(got.Extra) != 0 {
		t.Errorf("unexpected extra tokens: %v", got.Extra)
	}
}

func TestParseOptimizationFileGlobal(t *testing.T) {
	got, err := ParseOptimizationFile("strategy4_driving_rest_3opt.m")
	if err != nil {
		t.Fatalf("ParseOptimizationFile failed: %v", err)
	}
	if got.Strategy != 4 {
		t.Errorf("strategy = %d, want 4", got.Strategy)
	}
	if got.DataType != DataTypeDrivingRest {
		t.Errorf("data type = %s, want driving+rest", got.DataType)
	}
	if got.Kind != Kind3Opt {
		t.Errorf("kind = %s, want 3opt", got.Kind)
	}
	if got.SubjectID != "" || got.Scenario != "" || got.SensorSetting != "" {
		t.Errorf("global parameter should carry no scope tokens: %+v", got)
	}
}

func TestParseOptimizationFileModelName(t *testing.T) {
	got, err := ParseOptimizationFile("strategy2_sub03_sng_driving_fullopt_oman.mat")
	if err != nil {
		t.Fatalf("ParseOptimizationFile failed: %v", err)
	}
	if got.Scenario != ScenarioStopAndGo {
		t.Errorf("scenario = %s, want %s", got.Scenario, ScenarioStopAndGo)
	}
	if got.ModelName() != "oman" {
		t.Errorf("model name = %s, want oman", got.ModelName())
	}
}

func TestParseOptimizationFileUnknownTokensPreserved(t *testing.T) {
	got, err := ParseOptimizationFile("strategy1_sub02_v2_experimental_driving_fullopt.m")
	if err != nil {
		t.Fatalf("ParseOptimizationFile failed: %v", err)
	}
	if len(got.Extra) != 2 || got.Extra[0] != "v2" || got.Extra[1] != "experimental" {
		t.Errorf("extra = %v, want [v2 experimental]", got.Extra)
	}
}

func TestParseOptimizationFileStrategyOutOfRange(t *testing.T) {
	_, err := ParseOptimizationFile("strategy7_sub01_slc_driving_fullopt.m")
	if err == nil {
		t.Fatal("expected error for strategy outside 0-4")
	}
	if errors.CodeOf(err) != errors.StrategyUnscoped {
		t.Errorf("expected STRATEGY_UNSCOPED, got %s", errors.CodeOf(err))
	}
}

func TestParseOptimizationFileMissingStrategy(t *testing.T) {
	_, err := ParseOptimizationFile("sub01_slc_driving_fullopt.m")
	if err == nil {
		t.Fatal("expected error for missing strategy token")
	}
	if errors.CodeOf(err) != errors.ConventionViolation {
		t.Errorf("expected CONVENTION_VIOLATION, got %s", errors.CodeOf(err))
	}
}

func TestNormalizeSubjectID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"sub09", "S009"},
		{"sub2", "S002"},
		{"S9", "S009"},
		{"S009", "S009"},
		{"9", "S009"},
		{"Kim", ""},
		{"subject", ""},
	}
	for _, tt := range tests {
		if got := NormalizeSubjectID(tt.in); got != tt.want {
			t.Errorf("NormalizeSubjectID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestScenarioFromCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SLC", ScenarioSingleLaneChange},
		{"slc", ScenarioSingleLaneChange},
		{"S&G", ScenarioStopAndGo},
		{"sng", ScenarioStopAndGo},
		{"LW", ScenarioLaneWeaving},
		{"Single Lane Change", ScenarioSingleLaneChange},
		{"stop_and_go", ScenarioStopAndGo},
		{"unknown", ""},
	}
	for _, tt := range tests {
		if got := ScenarioFromCode(tt.in); got != tt.want {
			t.Errorf("ScenarioFromCode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
