package query

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"sdx/internal/errors"
	"sdx/internal/slogutil"
	"sdx/internal/storage"
)

type env struct {
	root   string
	db     *storage.DB
	engine *Engine
}

func setup(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	db, err := storage.Open(root, slogutil.NewDiscardLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return &env{
		root:   root,
		db:     db,
		engine: NewEngine(db, root, slogutil.NewDiscardLogger()),
	}
}

// seedHong creates test_001_Hong (single_lane_change, 2024-08-11) with two
// sensors, and returns its id.
func (e *env) seedHong(t *testing.T) int64 {
	t.Helper()
	repo := storage.NewTestRepository(e.db)
	var id int64
	err := e.db.WithTx(func(tx *sql.Tx) error {
		projID, err := repo.GetOrCreateProject(tx, "motion_sickness")
		if err != nil {
			return err
		}
		expID, err := repo.GetOrCreateExperiment(tx, projID, "2024-08-11", "single_lane_change", "")
		if err != nil {
			return err
		}
		id, _, err = repo.ReplaceTest(tx, &storage.Test{
			ExperimentID: expID,
			Sequence:     1,
			Subject:      "Hong",
			SubjectID:    "S001",
			MetadataPath: "data/motion_sickness/2024-08-11_single_lane_change/test_001_Hong/metadata.json",
			ContentHash:  "h",
		}, []storage.Sensor{
			{SensorID: "imu_console_001", Type: "imu", Position: "console", Sequence: 1,
				SampleRateHz: 100, FileName: "imu_console_001.csv",
				FilePath: "data/motion_sickness/2024-08-11_single_lane_change/test_001_Hong/imu_console_001.csv"},
			{SensorID: "imu_roof_001", Type: "imu", Position: "roof", Sequence: 1,
				SampleRateHz: 100, FileName: "imu_roof_001.csv",
				FilePath: "data/motion_sickness/2024-08-11_single_lane_change/test_001_Hong/imu_roof_001.csv"},
		}, nil)
		return err
	})
	if err != nil {
		t.Fatalf("seedHong failed: %v", err)
	}
	return id
}

func (e *env) seedParameter(t *testing.T, subjectID, scenario, model string, strategy int) int64 {
	t.Helper()
	opt := storage.NewOptimizationRepository(e.db)
	var id int64
	err := e.db.WithTx(func(tx *sql.Tx) error {
		sid, err := opt.GetOrCreateSensorSetting(tx, "H-IMU_N-VV")
		if err != nil {
			return err
		}
		id, _, err = opt.UpsertParameter(tx, &storage.Parameter{
			StrategyNumber: strategy, Kind: "fullopt", DataType: "driving",
			Signature: subjectID + "|" + scenario,
			FileName:  subjectID + ".m", FilePath: "optimization/parameters/" + subjectID + scenario + ".m",
			ContentHash: "h", MetadataJSON: "{}",
		}, []string{subjectID}, []string{scenario}, []int64{sid})
		if err != nil {
			return err
		}
		if _, _, err := opt.UpsertResult(tx, &storage.Result{
			ParameterID: id, ModelName: model,
			FileName: model + ".mat", FilePath: "optimization/results/" + subjectID + scenario + model + ".mat",
			ContentHash: "h", MetadataJSON: "{}",
		}); err != nil {
			return err
		}
		_, _, err = opt.UpsertVisualization(tx, &storage.Visualization{
			ParameterID: id, VizType: storage.VizModelSpecific, ModelName: model,
			FileName: model + ".png", FilePath: "optimization/visualizations/" + subjectID + scenario + model + ".png",
			ContentHash: "h",
		})
		return err
	})
	if err != nil {
		t.Fatalf("seedParameter failed: %v", err)
	}
	return id
}

func TestSearchTestsByScenario(t *testing.T) {
	e := setup(t)
	e.seedHong(t)

	hits, err := e.engine.SearchTests(Filters{Scenario: "single_lane_change"})
	if err != nil {
		t.Fatalf("SearchTests failed: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("hits = %d, want 1", len(hits))
	}
	if hits[0].SensorCount != 2 {
		t.Errorf("sensor_count = %d, want 2", hits[0].SensorCount)
	}
	if hits[0].Project != "motion_sickness" || hits[0].Date != "2024-08-11" {
		t.Errorf("hit = %+v", hits[0])
	}

	empty, err := e.engine.SearchTests(Filters{Scenario: "stop_and_go"})
	if err != nil {
		t.Fatalf("no-match search must not error: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("no-match search returned %d hits", len(empty))
	}
}

func TestSearchTestsFilterAND(t *testing.T) {
	e := setup(t)
	e.seedHong(t)

	hits, err := e.engine.SearchTests(Filters{
		Scenario:  "single_lane_change",
		SubjectID: "S001",
		SensorID:  "imu_console_001",
	})
	if err != nil {
		t.Fatalf("SearchTests failed: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("hits = %d, want 1", len(hits))
	}

	none, err := e.engine.SearchTests(Filters{
		Scenario:  "single_lane_change",
		SubjectID: "S999",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Error("conflicting filters must match nothing")
	}
}

func TestGetTestPaths(t *testing.T) {
	e := setup(t)
	id := e.seedHong(t)

	bundle, err := e.engine.GetTestPaths(id)
	if err != nil {
		t.Fatalf("GetTestPaths failed: %v", err)
	}
	wantMeta := "data/motion_sickness/2024-08-11_single_lane_change/test_001_Hong/metadata.json"
	if bundle.MetadataPath != wantMeta {
		t.Errorf("metadata path = %s", bundle.MetadataPath)
	}
	if bundle.ExperimentPath != "data/motion_sickness/2024-08-11_single_lane_change" {
		t.Errorf("experiment path = %s", bundle.ExperimentPath)
	}
	if len(bundle.SensorFiles) != 2 {
		t.Errorf("sensor files = %d, want 2", len(bundle.SensorFiles))
	}
}

func TestGetTestPathsNotFound(t *testing.T) {
	e := setup(t)
	_, err := e.engine.GetTestPaths(42)
	if !errors.IsNotFound(err) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestGetTestSensors(t *testing.T) {
	e := setup(t)
	id := e.seedHong(t)

	sensors, err := e.engine.GetTestSensors(id)
	if err != nil {
		t.Fatalf("GetTestSensors failed: %v", err)
	}
	if len(sensors) != 2 {
		t.Fatalf("sensors = %d, want 2", len(sensors))
	}
	if sensors[0].SensorID != "imu_console_001" || sensors[0].Position != "console" {
		t.Errorf("sensor = %+v", sensors[0])
	}

	if _, err := e.engine.GetTestSensors(9999); !errors.IsNotFound(err) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestSearchParameters(t *testing.T) {
	e := setup(t)
	e.seedParameter(t, "S009", "single_lane_change", "oman", 0)
	e.seedParameter(t, "S003", "stop_and_go", "uc_davis", 2)

	bySubject, err := e.engine.SearchParameters(ParamFilters{SubjectID: "S009"})
	if err != nil {
		t.Fatalf("SearchParameters failed: %v", err)
	}
	if len(bySubject) != 1 {
		t.Fatalf("hits = %d, want 1", len(bySubject))
	}
	d := bySubject[0]
	if d.Strategy.Number != 0 || !d.Strategy.SensorSettingScoped {
		t.Errorf("strategy = %+v", d.Strategy)
	}
	if len(d.Results) != 1 || d.Results[0].ModelName != "oman" {
		t.Errorf("results = %+v", d.Results)
	}
	if len(d.Visualizations) != 1 || d.Visualizations[0].URL == "" {
		t.Errorf("visualizations = %+v", d.Visualizations)
	}
	if len(d.SensorSettings) != 1 || d.SensorSettings[0] != "H-IMU_N-VV" {
		t.Errorf("sensor settings = %+v", d.SensorSettings)
	}

	byModel, err := e.engine.SearchParameters(ParamFilters{ModelName: "uc_davis"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byModel) != 1 || byModel[0].SubjectIDs[0] != "S003" {
		t.Errorf("model search = %+v", byModel)
	}

	two := 2
	byStrategy, err := e.engine.SearchParameters(ParamFilters{Strategy: &two})
	if err != nil {
		t.Fatal(err)
	}
	if len(byStrategy) != 1 {
		t.Errorf("strategy search hits = %d, want 1", len(byStrategy))
	}

	none, err := e.engine.SearchParameters(ParamFilters{SubjectID: "S009", Scenario: "stop_and_go"})
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Error("AND semantics must exclude partial matches")
	}
}

func TestGetParameterNotFound(t *testing.T) {
	e := setup(t)
	_, err := e.engine.GetParameter(123)
	if !errors.IsNotFound(err) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestResolveOptimizationFile(t *testing.T) {
	e := setup(t)

	rel := "optimization/visualizations/plot.png"
	abs := filepath.Join(e.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte("png"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := e.engine.ResolveOptimizationFile(rel)
	if err != nil {
		t.Fatalf("ResolveOptimizationFile failed: %v", err)
	}
	if got != abs {
		t.Errorf("resolved = %s, want %s", got, abs)
	}
}

func TestResolveOptimizationFileForbidden(t *testing.T) {
	e := setup(t)
	_, err := e.engine.ResolveOptimizationFile("../../etc/passwd")
	if !errors.IsForbidden(err) {
		t.Errorf("expected FORBIDDEN, got %v", err)
	}
}

func TestResolveOptimizationFileMissing(t *testing.T) {
	e := setup(t)
	_, err := e.engine.ResolveOptimizationFile("optimization/absent.png")
	if !errors.IsNotFound(err) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}
