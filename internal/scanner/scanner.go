// Package scanner brings the index into agreement with the data tree. It
// walks the raw-data and optimization roots, feeds parser, loader, and
// fingerprint output into the store, and removes rows whose backing files
// vanished.
package scanner

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"sdx/internal/config"
	"sdx/internal/convention"
	"sdx/internal/errors"
	"sdx/internal/fingerprint"
	"sdx/internal/linker"
	"sdx/internal/metadata"
	"sdx/internal/paths"
	"sdx/internal/storage"
)

// Counts tallies row-level outcomes for one entity kind.
type Counts struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Deleted   int `json:"deleted"`
	// Orphaned counts artifacts whose owning parameter is not indexed yet.
	// They are not errors; the file is retried on the next scan.
	Orphaned int `json:"orphaned,omitempty"`
}

// ItemError records one skipped item and why.
type ItemError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Report summarizes one scan.
type Report struct {
	ScanID         string      `json:"scan_id"`
	StartedAt      time.Time   `json:"started_at"`
	DurationMs     int64       `json:"duration_ms"`
	Tests          Counts      `json:"tests"`
	Parameters     Counts      `json:"parameters"`
	Results        Counts      `json:"results"`
	Visualizations Counts      `json:"visualizations"`
	Errors         []ItemError `json:"errors,omitempty"`
}

// Changed reports whether the scan wrote or deleted anything.
func (r *Report) Changed() bool {
	for _, c := range []Counts{r.Tests, r.Parameters, r.Results, r.Visualizations} {
		if c.Inserted != 0 || c.Updated != 0 || c.Deleted != 0 {
			return true
		}
	}
	return false
}

// Engine is the single writer of the index.
type Engine struct {
	db     *storage.DB
	tests  *storage.TestRepository
	opt    *storage.OptimizationRepository
	linker *linker.Linker
	logger *slog.Logger

	workspaceRoot string
	dataRoot      string
	optRoot       string
	ignore        []string
}

// NewEngine creates a scan engine over the store.
func NewEngine(db *storage.DB, cfg *config.Config, logger *slog.Logger) *Engine {
	return &Engine{
		db:            db,
		tests:         storage.NewTestRepository(db),
		opt:           storage.NewOptimizationRepository(db),
		linker:        linker.New(logger),
		logger:        logger,
		workspaceRoot: cfg.WorkspaceRoot,
		dataRoot:      cfg.AbsDataRoot(),
		optRoot:       cfg.AbsOptimizationRoot(),
		ignore:        cfg.Watcher.IgnorePatterns,
	}
}

// Scan runs one full scan-and-reconcile pass. Item-level failures are
// recorded in the report and never abort sibling items.
func (e *Engine) Scan(ctx context.Context) (*Report, error) {
	report := &Report{
		ScanID:    uuid.New().String(),
		StartedAt: time.Now().UTC(),
	}

	e.logger.Info("Scan started",
		"scan_id", report.ScanID,
		"data_root", e.dataRoot,
		"optimization_root", e.optRoot)

	seenTests := make(map[string]bool)
	if err := e.scanRawData(ctx, report, seenTests); err != nil {
		return nil, err
	}

	seenParams := make(map[string]bool)
	seenResults := make(map[string]bool)
	seenViz := make(map[string]bool)
	if err := e.scanOptimization(ctx, report, seenParams, seenResults, seenViz); err != nil {
		return nil, err
	}

	if err := e.reconcile(ctx, report, seenTests, seenParams, seenResults, seenViz); err != nil {
		return nil, err
	}

	// Links derive from both sides of the parameter-test junction, so a
	// raw-data change must refresh them even for parameters whose own file
	// did not change.
	if report.Tests.Inserted+report.Tests.Updated+report.Tests.Deleted > 0 {
		if err := e.relinkParameters(ctx, report); err != nil {
			return nil, err
		}
	}

	report.DurationMs = time.Since(report.StartedAt).Milliseconds()
	e.logger.Info("Scan finished",
		"scan_id", report.ScanID,
		"duration_ms", report.DurationMs,
		"tests", fmt.Sprintf("%+v", report.Tests),
		"parameters", fmt.Sprintf("%+v", report.Parameters),
		"errors", len(report.Errors))
	return report, nil
}

func (e *Engine) recordError(report *Report, path string, err error) {
	report.Errors = append(report.Errors, ItemError{
		Path:    path,
		Code:    string(errors.CodeOf(err)),
		Message: err.Error(),
	})
	e.logger.Warn("Skipping item", "path", path, "error", err)
}

func (e *Engine) ignored(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range e.ignore {
		// Directory patterns like ".sdx/**" match on the path prefix.
		if dir, ok := strings.CutSuffix(pattern, "/**"); ok {
			if strings.Contains(filepath.ToSlash(path), "/"+dir+"/") || base == dir {
				return true
			}
			continue
		}
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

// scanRawData walks the data root for metadata documents and upserts one
// test per document.
func (e *Engine) scanRawData(ctx context.Context, report *Report, seen map[string]bool) error {
	walkErr := filepath.WalkDir(e.dataRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// A missing data root is an empty tree, not a failure.
			if path == e.dataRoot {
				return filepath.SkipAll
			}
			e.recordError(report, path, err)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if e.ignored(path) || strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != "metadata.json" || e.ignored(path) {
			return nil
		}

		rel, err := paths.Canonicalize(path, e.workspaceRoot)
		if err != nil {
			e.recordError(report, path, err)
			return nil
		}
		if err := e.processMetadata(path, rel, report); err != nil {
			e.recordError(report, rel, err)
		} else {
			seen[rel] = true
		}
		return nil
	})
	if walkErr != nil && walkErr != filepath.SkipAll {
		return walkErr
	}
	return nil
}

// testIdentity is derived from the document's position in the tree, not its
// content.
type testIdentity struct {
	project   string
	date      string
	scenario  string
	sequence  int
	subject   string
	subjectID string
}

// identifyFromPath resolves project, experiment, and test identity from the
// three directory levels above a metadata document, trying the strict
// grammar first and the legacy grammar second.
func identifyFromPath(absPath string) (*testIdentity, error) {
	testDir := filepath.Base(filepath.Dir(absPath))
	expDir := filepath.Base(filepath.Dir(filepath.Dir(absPath)))
	project := filepath.Base(filepath.Dir(filepath.Dir(filepath.Dir(absPath))))

	id := &testIdentity{project: project}

	if tn, err := convention.ParseTestDir(testDir); err == nil {
		id.sequence = tn.Sequence
		id.subject = tn.Subject
		id.subjectID = tn.SubjectID
	} else if ln, lerr := convention.ParseLegacyTestDir(testDir); lerr == nil {
		id.sequence = ln.Sequence
		id.subject = ln.Subject
		id.subjectID = ln.SubjectID
		id.scenario = ln.Scenario
		if !ln.Date.IsZero() {
			id.date = ln.Date.Format("2006-01-02")
		}
	} else {
		return nil, err
	}

	if en, err := convention.ParseExperimentDir(expDir); err == nil {
		id.date = en.Date.Format("2006-01-02")
		id.scenario = en.Scenario
	} else if id.date == "" || id.scenario == "" {
		// Neither the experiment directory nor the legacy test name
		// yields a full experiment identity.
		return nil, err
	}

	return id, nil
}

func (e *Engine) processMetadata(absPath, rel string, report *Report) error {
	id, err := identifyFromPath(absPath)
	if err != nil {
		return err
	}

	hash, err := fingerprint.File(absPath)
	if err != nil {
		return err
	}

	existing, err := e.tests.GetTestByPath(rel)
	if err != nil {
		return err
	}
	if existing != nil && existing.ContentHash == hash {
		report.Tests.Unchanged++
		return nil
	}

	doc, err := metadata.Load(absPath)
	if err != nil {
		return err
	}

	subjectID := id.subjectID
	if subjectID == "" {
		subjectID = doc.Test.SubjectID
	}

	relDir := filepath.ToSlash(filepath.Dir(rel))
	sensors := make([]storage.Sensor, 0, len(doc.Sensors))
	for _, s := range doc.Sensors {
		sensors = append(sensors, storage.Sensor{
			SensorID:     s.ID,
			Type:         s.Type,
			Position:     s.Position,
			Sequence:     s.Sequence,
			SampleRateHz: s.SampleRateHz,
			FileName:     s.File,
			FilePath:     relDir + "/" + s.File,
		})
	}

	var dq *storage.DataQuality
	if doc.DataQuality != nil {
		dq = &storage.DataQuality{
			Completeness: doc.DataQuality.Completeness,
			Anomalies:    doc.DataQuality.Anomalies,
			Notes:        doc.DataQuality.Notes,
		}
	}

	var created bool
	err = e.db.WithTx(func(tx *sql.Tx) error {
		projID, err := e.tests.GetOrCreateProject(tx, id.project)
		if err != nil {
			return err
		}
		expID, err := e.tests.GetOrCreateExperiment(tx, projID, id.date, id.scenario, doc.Experiment.Description)
		if err != nil {
			return err
		}
		_, created, err = e.tests.ReplaceTest(tx, &storage.Test{
			ExperimentID:  expID,
			Sequence:      id.sequence,
			Subject:       id.subject,
			SubjectID:     subjectID,
			DurationSec:   doc.Test.DurationSec,
			SensorSetting: doc.Test.SensorSetting,
			Notes:         doc.Test.Notes,
			MetadataPath:  rel,
			ContentHash:   hash,
		}, sensors, dq)
		return err
	})
	if err != nil {
		return errors.Wrap(errors.StoreIntegrity, "upsert test", err)
	}

	if created {
		report.Tests.Inserted++
	} else {
		report.Tests.Updated++
	}
	return nil
}

// artifact is one optimization file found during the walk.
type artifact struct {
	absPath string
	rel     string
	// dataTypeHint comes from a Driving / Driving+Rest directory segment
	// when the filename itself does not carry a data-type token.
	dataTypeHint string
}

// scanOptimization walks the optimization root and processes parameters
// before results and visualizations, since the latter resolve their owner by
// scope signature.
func (e *Engine) scanOptimization(ctx context.Context, report *Report, seenParams, seenResults, seenViz map[string]bool) error {
	var params, results, viz []artifact

	walkErr := filepath.WalkDir(e.optRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == e.optRoot {
				return filepath.SkipAll
			}
			e.recordError(report, path, err)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if e.ignored(path) || strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if e.ignored(path) {
			return nil
		}

		kind := classifyArtifact(path, filepath.Ext(d.Name()))
		if kind == "" {
			return nil
		}
		rel, cerr := paths.Canonicalize(path, e.workspaceRoot)
		if cerr != nil {
			e.recordError(report, path, cerr)
			return nil
		}
		a := artifact{absPath: path, rel: rel, dataTypeHint: dataTypeFromPath(path)}
		switch kind {
		case "parameter":
			params = append(params, a)
		case "result":
			results = append(results, a)
		case "visualization":
			viz = append(viz, a)
		}
		return nil
	})
	if walkErr != nil && walkErr != filepath.SkipAll {
		return walkErr
	}

	for _, a := range params {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.processParameter(a, report); err != nil {
			e.recordError(report, a.rel, err)
		} else {
			seenParams[a.rel] = true
		}
	}
	for _, a := range results {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.processResult(a, report); err != nil {
			e.recordError(report, a.rel, err)
		} else {
			seenResults[a.rel] = true
		}
	}
	for _, a := range viz {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.processVisualization(a, report); err != nil {
			e.recordError(report, a.rel, err)
		} else {
			seenViz[a.rel] = true
		}
	}
	return nil
}

// classifyArtifact decides the artifact kind from the directory segments and
// the file extension. Files outside a recognized segment are ignored.
func classifyArtifact(path, ext string) string {
	segment := ""
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		switch strings.ToLower(part) {
		case "parameters", "parameter":
			segment = "parameter"
		case "results", "result":
			segment = "result"
		case "visualizations", "visualization", "plots", "figures":
			segment = "visualization"
		}
	}

	switch strings.ToLower(ext) {
	case ".m":
		if segment == "" || segment == "parameter" {
			return "parameter"
		}
	case ".mat":
		if segment == "" || segment == "result" {
			return "result"
		}
	case ".png", ".jpg", ".jpeg", ".svg":
		if segment == "" || segment == "visualization" {
			return "visualization"
		}
	}
	return ""
}

// dataTypeFromPath recognizes Driving / Driving+Rest directory segments.
func dataTypeFromPath(path string) string {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		switch strings.ToLower(part) {
		case "driving":
			return convention.DataTypeDriving
		case "driving+rest", "driving_rest":
			return convention.DataTypeDrivingRest
		}
	}
	return ""
}

// signature groups a parameter with the result and visualization files that
// carry the same scope tokens.
func signature(on *convention.OptimizationName, dataType string) string {
	return strings.Join([]string{
		strconv.Itoa(on.Strategy),
		on.SubjectID,
		on.Scenario,
		on.SensorSetting,
		dataType,
		on.Kind,
	}, "|")
}

func (e *Engine) parseArtifact(a artifact) (*convention.OptimizationName, string, error) {
	on, err := convention.ParseOptimizationFile(filepath.Base(a.absPath))
	if err != nil {
		return nil, "", err
	}
	dataType := on.DataType
	if dataType == "" {
		dataType = a.dataTypeHint
	}
	return on, dataType, nil
}

func (e *Engine) processParameter(a artifact, report *Report) error {
	on, dataType, err := e.parseArtifact(a)
	if err != nil {
		return err
	}

	hash, err := fingerprint.File(a.absPath)
	if err != nil {
		return err
	}

	existing, err := e.opt.GetParameterByPath(a.rel)
	if err != nil {
		return err
	}
	if existing != nil && existing.ContentHash == hash {
		report.Parameters.Unchanged++
		return nil
	}

	strategy, err := e.opt.GetStrategy(on.Strategy)
	if err != nil {
		return err
	}
	if strategy == nil {
		return errors.Newf(errors.StrategyUnscoped, "strategy %d is not seeded", on.Strategy)
	}

	kind := on.Kind
	if kind == "" {
		kind = convention.KindFullOpt
	}

	meta, err := json.Marshal(map[string]interface{}{
		"strategy":        on.Strategy,
		"subject_ids":     scopeList(on.SubjectID),
		"scenarios":       scopeList(on.Scenario),
		"sensor_settings": scopeList(on.SensorSetting),
		"data_type":       dataType,
		"parameter_type":  kind,
		"extra_tokens":    on.Extra,
	})
	if err != nil {
		return err
	}

	p := &storage.Parameter{
		StrategyNumber: on.Strategy,
		Kind:           kind,
		DataType:       dataType,
		Signature:      signature(on, dataType),
		FileName:       filepath.Base(a.absPath),
		FilePath:       a.rel,
		ContentHash:    hash,
		MetadataJSON:   string(meta),
	}

	err = e.db.WithTx(func(tx *sql.Tx) error {
		var settingIDs []int64
		if on.SensorSetting != "" {
			sid, err := e.opt.GetOrCreateSensorSetting(tx, on.SensorSetting)
			if err != nil {
				return err
			}
			settingIDs = append(settingIDs, sid)
		}

		_, _, err := e.opt.UpsertParameter(tx, p,
			scopeList(on.SubjectID), scopeList(on.Scenario), settingIDs)
		if err != nil {
			return err
		}

		_, err = e.linker.Relink(tx, p.ID, strategy, linker.Scope{
			SubjectIDs:     scopeList(on.SubjectID),
			Scenarios:      scopeList(on.Scenario),
			SensorSettings: scopeList(on.SensorSetting),
		})
		return err
	})
	if err != nil {
		return errors.Wrap(errors.StoreIntegrity, "upsert parameter", err)
	}

	if existing == nil {
		report.Parameters.Inserted++
	} else {
		report.Parameters.Updated++
	}
	return nil
}

func (e *Engine) processResult(a artifact, report *Report) error {
	on, dataType, err := e.parseArtifact(a)
	if err != nil {
		return err
	}

	hash, err := fingerprint.File(a.absPath)
	if err != nil {
		return err
	}

	param, err := e.opt.GetParameterBySignature(signature(on, dataType))
	if err != nil {
		return err
	}
	if param == nil {
		// No owner indexed yet; the file is picked up once a matching
		// parameter lands.
		e.logger.Debug("result has no matching parameter", "path", a.rel)
		report.Results.Orphaned++
		return nil
	}

	// A result with no extra tokens keeps its filename stem as the model
	// name, so two unnamed models never collide on (parameter, model_name).
	modelName := on.ModelName()
	if modelName == "" {
		base := filepath.Base(a.absPath)
		modelName = strings.TrimSuffix(base, filepath.Ext(base))
	}

	res := &storage.Result{
		ParameterID:  param.ID,
		ModelName:    modelName,
		FileName:     filepath.Base(a.absPath),
		FilePath:     a.rel,
		ContentHash:  hash,
		MetadataJSON: "{}",
	}

	var created, changed bool
	err = e.db.WithTx(func(tx *sql.Tx) error {
		var err error
		created, changed, err = e.opt.UpsertResult(tx, res)
		return err
	})
	if err != nil {
		return errors.Wrap(errors.StoreIntegrity, "upsert result", err)
	}

	switch {
	case created:
		report.Results.Inserted++
	case changed:
		report.Results.Updated++
	default:
		report.Results.Unchanged++
	}
	return nil
}

func (e *Engine) processVisualization(a artifact, report *Report) error {
	on, dataType, err := e.parseArtifact(a)
	if err != nil {
		return err
	}

	hash, err := fingerprint.File(a.absPath)
	if err != nil {
		return err
	}

	param, err := e.opt.GetParameterBySignature(signature(on, dataType))
	if err != nil {
		return err
	}
	if param == nil {
		e.logger.Debug("visualization has no matching parameter", "path", a.rel)
		report.Visualizations.Orphaned++
		return nil
	}

	vizType := storage.VizComparison
	modelName := on.ModelName()
	if modelName != "" {
		vizType = storage.VizModelSpecific
	}

	v := &storage.Visualization{
		ParameterID: param.ID,
		VizType:     vizType,
		ModelName:   modelName,
		FileName:    filepath.Base(a.absPath),
		FilePath:    a.rel,
		ContentHash: hash,
	}

	var created, changed bool
	err = e.db.WithTx(func(tx *sql.Tx) error {
		var err error
		created, changed, err = e.opt.UpsertVisualization(tx, v)
		return err
	})
	if err != nil {
		return errors.Wrap(errors.StoreIntegrity, "upsert visualization", err)
	}

	switch {
	case created:
		report.Visualizations.Inserted++
	case changed:
		report.Visualizations.Updated++
	default:
		report.Visualizations.Unchanged++
	}
	return nil
}

// reconcile deletes rows whose backing files were not seen this scan. It
// runs after the insert pass, so a rename lands as a delete of the old path
// and an insert at the new one.
func (e *Engine) reconcile(ctx context.Context, report *Report, seenTests, seenParams, seenResults, seenViz map[string]bool) error {
	testRows, err := e.tests.ListTestPaths()
	if err != nil {
		return err
	}
	for _, row := range testRows {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if seenTests[row.Path] {
			continue
		}
		if err := e.db.WithTx(func(tx *sql.Tx) error {
			return e.tests.DeleteTest(tx, row.ID)
		}); err != nil {
			e.recordError(report, row.Path, err)
			continue
		}
		report.Tests.Deleted++
	}

	paramRows, err := e.opt.ListParameterPaths()
	if err != nil {
		return err
	}
	for _, row := range paramRows {
		if seenParams[row.Path] {
			continue
		}
		if err := e.db.WithTx(func(tx *sql.Tx) error {
			return e.opt.DeleteParameter(tx, row.ID)
		}); err != nil {
			e.recordError(report, row.Path, err)
			continue
		}
		report.Parameters.Deleted++
	}

	// Results and visualizations owned by a deleted parameter are already
	// gone via cascade; list the survivors.
	resultRows, err := e.opt.ListResultPaths()
	if err != nil {
		return err
	}
	for _, row := range resultRows {
		if seenResults[row.Path] {
			continue
		}
		if err := e.db.WithTx(func(tx *sql.Tx) error {
			return e.opt.DeleteResult(tx, row.ID)
		}); err != nil {
			e.recordError(report, row.Path, err)
			continue
		}
		report.Results.Deleted++
	}

	vizRows, err := e.opt.ListVisualizationPaths()
	if err != nil {
		return err
	}
	for _, row := range vizRows {
		if seenViz[row.Path] {
			continue
		}
		if err := e.db.WithTx(func(tx *sql.Tx) error {
			return e.opt.DeleteVisualization(tx, row.ID)
		}); err != nil {
			e.recordError(report, row.Path, err)
			continue
		}
		report.Visualizations.Deleted++
	}

	return nil
}

// relinkParameters recomputes the test links of every stored parameter. The
// scan calls it after the raw-data tables changed; the unchanged-hash fast
// path in processParameter skips the linker, so a new or updated test would
// otherwise never attach to parameters indexed in an earlier scan.
func (e *Engine) relinkParameters(ctx context.Context, report *Report) error {
	params, err := e.opt.ListParameters()
	if err != nil {
		return err
	}
	for i := range params {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p := &params[i]

		strategy, err := e.opt.GetStrategy(p.StrategyNumber)
		if err != nil {
			return err
		}
		if strategy == nil {
			continue
		}

		subjects, scenarios, settings, err := e.opt.GetParameterScope(p.ID)
		if err != nil {
			e.recordError(report, p.FilePath, err)
			continue
		}

		err = e.db.WithTx(func(tx *sql.Tx) error {
			_, err := e.linker.Relink(tx, p.ID, strategy, linker.Scope{
				SubjectIDs:     subjects,
				Scenarios:      scenarios,
				SensorSettings: settings,
			})
			return err
		})
		if err != nil {
			e.recordError(report, p.FilePath, err)
		}
	}
	return nil
}

func scopeList(v string) []string {
	if v == "" {
		return nil
	}
	return []string{v}
}
