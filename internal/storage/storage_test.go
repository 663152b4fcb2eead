package storage

import (
	"database/sql"
	"testing"
	"time"

	"sdx/internal/slogutil"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir(), slogutil.NewDiscardLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedTest(t *testing.T, db *DB, path, subjectID, scenario string) int64 {
	t.Helper()
	repo := NewTestRepository(db)
	var id int64
	err := db.WithTx(func(tx *sql.Tx) error {
		projID, err := repo.GetOrCreateProject(tx, "motion_sickness")
		if err != nil {
			return err
		}
		expID, err := repo.GetOrCreateExperiment(tx, projID, "2024-08-11", scenario, "")
		if err != nil {
			return err
		}
		id, _, err = repo.ReplaceTest(tx, &Test{
			ExperimentID: expID,
			Sequence:     1,
			Subject:      "Hong",
			SubjectID:    subjectID,
			MetadataPath: path,
			ContentHash:  "hash-" + path,
		}, nil, nil)
		return err
	})
	if err != nil {
		t.Fatalf("seedTest failed: %v", err)
	}
	return id
}

func TestOpenSeedsStrategies(t *testing.T) {
	db := openTestDB(t)
	repo := NewOptimizationRepository(db)

	strategies, err := repo.ListStrategies()
	if err != nil {
		t.Fatalf("ListStrategies failed: %v", err)
	}
	if len(strategies) != 5 {
		t.Fatalf("strategy count = %d, want 5", len(strategies))
	}

	s0 := strategies[0]
	if !s0.SubjectScoped || !s0.ScenarioScoped || !s0.SensorSettingScoped {
		t.Errorf("strategy 0 flags = %+v, want all scoped", s0)
	}
	s4 := strategies[4]
	if s4.SubjectScoped || s4.ScenarioScoped || s4.SensorSettingScoped {
		t.Errorf("strategy 4 flags = %+v, want none scoped", s4)
	}
}

func TestGetOrCreateProjectIdempotent(t *testing.T) {
	db := openTestDB(t)
	repo := NewTestRepository(db)

	var first, second int64
	err := db.WithTx(func(tx *sql.Tx) error {
		var err error
		first, err = repo.GetOrCreateProject(tx, "motion_sickness")
		if err != nil {
			return err
		}
		second, err = repo.GetOrCreateProject(tx, "motion_sickness")
		return err
	})
	if err != nil {
		t.Fatalf("GetOrCreateProject failed: %v", err)
	}
	if first != second {
		t.Errorf("project ids differ: %d vs %d", first, second)
	}
}

func TestReplaceTestKeepsID(t *testing.T) {
	db := openTestDB(t)
	repo := NewTestRepository(db)

	sensors := []Sensor{
		{SensorID: "imu_console_001", Type: "imu", Position: "console", Sequence: 1,
			SampleRateHz: 100, FileName: "imu_console_001.csv", FilePath: "data/x/imu_console_001.csv"},
		{SensorID: "imu_roof_001", Type: "imu", Position: "roof", Sequence: 1,
			SampleRateHz: 100, FileName: "imu_roof_001.csv", FilePath: "data/x/imu_roof_001.csv"},
	}

	var firstID int64
	err := db.WithTx(func(tx *sql.Tx) error {
		projID, err := repo.GetOrCreateProject(tx, "p")
		if err != nil {
			return err
		}
		expID, err := repo.GetOrCreateExperiment(tx, projID, "2024-08-11", "single_lane_change", "")
		if err != nil {
			return err
		}
		var created bool
		firstID, created, err = repo.ReplaceTest(tx, &Test{
			ExperimentID: expID, Sequence: 1, Subject: "Hong", SubjectID: "S001",
			MetadataPath: "data/p/e/t/metadata.json", ContentHash: "h1",
		}, sensors, &DataQuality{Completeness: 0.97, Anomalies: 2})
		if err != nil {
			return err
		}
		if !created {
			t.Error("first upsert should report created")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("first ReplaceTest failed: %v", err)
	}

	// Second write at the same path keeps the id and fully replaces the
	// sensor set. The lookup runs outside the transaction: the pool is
	// pinned to one connection, so a DB-handle query inside WithTx would
	// block on the connection the transaction holds.
	got, err := repo.GetTestByPath("data/p/e/t/metadata.json")
	if err != nil {
		t.Fatalf("GetTestByPath failed: %v", err)
	}
	err = db.WithTx(func(tx *sql.Tx) error {
		id, created, err := repo.ReplaceTest(tx, &Test{
			ExperimentID: got.ExperimentID, Sequence: 1, Subject: "Hong", SubjectID: "S001",
			MetadataPath: "data/p/e/t/metadata.json", ContentHash: "h2",
		}, sensors[:1], nil)
		if err != nil {
			return err
		}
		if created {
			t.Error("second upsert should not report created")
		}
		if id != firstID {
			t.Errorf("id changed across upsert: %d vs %d", id, firstID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("second ReplaceTest failed: %v", err)
	}

	var sensorCount int
	if err := db.QueryRow("SELECT COUNT(*) FROM sensors WHERE test_id = ?", firstID).Scan(&sensorCount); err != nil {
		t.Fatal(err)
	}
	if sensorCount != 1 {
		t.Errorf("sensor count = %d, want 1 after full replace", sensorCount)
	}

	var dqCount int
	if err := db.QueryRow("SELECT COUNT(*) FROM data_quality WHERE test_id = ?", firstID).Scan(&dqCount); err != nil {
		t.Fatal(err)
	}
	if dqCount != 0 {
		t.Error("data quality row should be removed when absent from the new document")
	}
}

func TestDeleteTestCascades(t *testing.T) {
	db := openTestDB(t)
	repo := NewTestRepository(db)
	opt := NewOptimizationRepository(db)

	id := seedTest(t, db, "data/p/e/t1/metadata.json", "S001", "single_lane_change")

	err := db.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO sensors (test_id, sensor_id, type, position, sequence, file_name, file_path)
			VALUES (?, 'imu_console_001', 'imu', 'console', 1, 'f.csv', 'data/f.csv')
		`, id)
		if err != nil {
			return err
		}
		_, err = tx.Exec(
			"INSERT INTO data_quality (test_id, completeness, anomalies) VALUES (?, 1.0, 0)", id)
		if err != nil {
			return err
		}
		pid, _, err := opt.UpsertParameter(tx, &Parameter{
			StrategyNumber: 4, Kind: "fullopt", DataType: "driving",
			Signature: "4||||driving|fullopt", FileName: "p.m", FilePath: "opt/p.m",
			ContentHash: "h", MetadataJSON: "{}",
		}, nil, nil, nil)
		if err != nil {
			return err
		}
		return opt.ReplaceLinks(tx, pid, []int64{id})
	})
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	if err := db.WithTx(func(tx *sql.Tx) error {
		return repo.DeleteTest(tx, id)
	}); err != nil {
		t.Fatalf("DeleteTest failed: %v", err)
	}

	for _, table := range []string{"sensors", "data_quality", "parameter_test_links"} {
		var n int
		if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			t.Fatal(err)
		}
		if n != 0 {
			t.Errorf("%s has %d orphan rows after cascade delete", table, n)
		}
	}
}

func TestUpsertParameterUnchangedHash(t *testing.T) {
	db := openTestDB(t)
	opt := NewOptimizationRepository(db)

	p := &Parameter{
		StrategyNumber: 0, Kind: "fullopt", DataType: "driving",
		Signature: "0|S009|single_lane_change|H-IMU_N-VV|driving|fullopt",
		FileName:  "strategy0_sub09_slc_H-IMU_N-VV_driving_fullopt.m",
		FilePath:  "opt/parameters/strategy0_sub09_slc_H-IMU_N-VV_driving_fullopt.m",
		ContentHash: "abc", MetadataJSON: "{}",
	}

	var firstID int64
	err := db.WithTx(func(tx *sql.Tx) error {
		sid, err := opt.GetOrCreateSensorSetting(tx, "H-IMU_N-VV")
		if err != nil {
			return err
		}
		var changed bool
		firstID, changed, err = opt.UpsertParameter(tx, p,
			[]string{"S009"}, []string{"single_lane_change"}, []int64{sid})
		if err != nil {
			return err
		}
		if !changed {
			t.Error("first upsert should report a write")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}

	got, err := opt.GetParameterByPath(p.FilePath)
	if err != nil {
		t.Fatal(err)
	}
	firstUpdated := got.UpdatedAt

	time.Sleep(1100 * time.Millisecond)

	err = db.WithTx(func(tx *sql.Tx) error {
		id, changed, err := opt.UpsertParameter(tx, p, []string{"S009"}, []string{"single_lane_change"}, nil)
		if err != nil {
			return err
		}
		if changed {
			t.Error("unchanged hash must be a no-op")
		}
		if id != firstID {
			t.Errorf("id changed: %d vs %d", id, firstID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	got, err = opt.GetParameterByPath(p.FilePath)
	if err != nil {
		t.Fatal(err)
	}
	if !got.UpdatedAt.Equal(firstUpdated) {
		t.Errorf("updated_at moved on unchanged content: %v vs %v", got.UpdatedAt, firstUpdated)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM optimization_parameters").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("parameter count = %d, want 1", count)
	}
}

func TestUpsertParameterChangedHashKeepsID(t *testing.T) {
	db := openTestDB(t)
	opt := NewOptimizationRepository(db)

	p := &Parameter{
		StrategyNumber: 4, Kind: "3opt", DataType: "driving",
		Signature: "4||||driving|3opt", FileName: "p.m", FilePath: "opt/p.m",
		ContentHash: "v1", MetadataJSON: "{}",
	}

	var firstID int64
	if err := db.WithTx(func(tx *sql.Tx) error {
		var err error
		firstID, _, err = opt.UpsertParameter(tx, p, nil, nil, nil)
		return err
	}); err != nil {
		t.Fatal(err)
	}

	p.ContentHash = "v2"
	if err := db.WithTx(func(tx *sql.Tx) error {
		id, changed, err := opt.UpsertParameter(tx, p, nil, nil, nil)
		if err != nil {
			return err
		}
		if !changed {
			t.Error("changed hash must report a write")
		}
		if id != firstID {
			t.Errorf("changed content must update in place, got id %d want %d", id, firstID)
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM optimization_parameters").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("parameter count = %d, want 1 after in-place update", count)
	}
}

func TestUpsertResultUniquePerModel(t *testing.T) {
	db := openTestDB(t)
	opt := NewOptimizationRepository(db)

	var pid int64
	if err := db.WithTx(func(tx *sql.Tx) error {
		var err error
		pid, _, err = opt.UpsertParameter(tx, &Parameter{
			StrategyNumber: 4, Kind: "fullopt", DataType: "driving",
			Signature: "sig", FileName: "p.m", FilePath: "opt/p.m",
			ContentHash: "h", MetadataJSON: "{}",
		}, nil, nil, nil)
		return err
	}); err != nil {
		t.Fatal(err)
	}

	res := &Result{
		ParameterID: pid, ModelName: "oman",
		FileName: "r.mat", FilePath: "opt/results/r.mat",
		ContentHash: "h1", MetadataJSON: "{}",
	}
	for _, hash := range []string{"h1", "h1", "h2"} {
		res.ContentHash = hash
		if err := db.WithTx(func(tx *sql.Tx) error {
			_, _, err := opt.UpsertResult(tx, res)
			return err
		}); err != nil {
			t.Fatalf("UpsertResult failed: %v", err)
		}
	}

	var count int
	if err := db.QueryRow(
		"SELECT COUNT(*) FROM optimization_results WHERE parameter_id = ?", pid,
	).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("result count = %d, want 1 for one (parameter, model)", count)
	}
}

func TestGetParameterBySignature(t *testing.T) {
	db := openTestDB(t)
	opt := NewOptimizationRepository(db)

	if err := db.WithTx(func(tx *sql.Tx) error {
		_, _, err := opt.UpsertParameter(tx, &Parameter{
			StrategyNumber: 2, Kind: "fullopt", DataType: "driving",
			Signature: "2|S003|stop_and_go||driving|fullopt",
			FileName:  "p.m", FilePath: "opt/p.m", ContentHash: "h", MetadataJSON: "{}",
		}, []string{"S003"}, []string{"stop_and_go"}, nil)
		return err
	}); err != nil {
		t.Fatal(err)
	}

	got, err := opt.GetParameterBySignature("2|S003|stop_and_go||driving|fullopt")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected parameter by signature")
	}

	missing, err := opt.GetParameterBySignature("no-such")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Error("unknown signature must return nil")
	}
}
