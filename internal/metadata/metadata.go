// Package metadata loads and normalizes per-test metadata documents. Two
// document shapes exist on disk: the current nested schema and a legacy flat
// schema from early recordings. Both normalize to Document here so no other
// package branches on schema version.
package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"sdx/internal/convention"
	"sdx/internal/errors"
)

// Document is the canonical in-memory form of a test metadata document.
type Document struct {
	Project     string       `json:"project"`
	Experiment  Experiment   `json:"experiment"`
	Test        Test         `json:"test"`
	Sensors     []Sensor     `json:"sensors"`
	DataQuality *DataQuality `json:"data_quality,omitempty"`
}

// Experiment describes the experiment block of a metadata document.
type Experiment struct {
	ID          string `json:"id,omitempty"`
	Date        string `json:"date"`
	Scenario    string `json:"scenario"`
	Description string `json:"description,omitempty"`
}

// Test describes the test block of a metadata document.
type Test struct {
	ID        string   `json:"id,omitempty"`
	Sequence  int      `json:"sequence"`
	Subject   string   `json:"subject"`
	SubjectID string   `json:"subject_id"`
	// DurationSec is nil when the document does not record a duration.
	DurationSec *float64 `json:"duration_sec,omitempty"`
	// SensorSetting is the configuration code in effect for this run, when
	// the document records one.
	SensorSetting string `json:"sensor_setting,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

// Sensor describes one sensor file entry.
type Sensor struct {
	ID           string   `json:"id"`
	File         string   `json:"file"`
	Type         string   `json:"type"`
	Position     string   `json:"position"`
	Sequence     int      `json:"sequence"`
	SampleRateHz float64  `json:"sample_rate_hz,omitempty"`
	DataPoints   int64    `json:"data_points,omitempty"`
	Channels     []string `json:"channels,omitempty"`
	Description  string   `json:"description,omitempty"`
}

// DataQuality describes the optional per-test quality block.
type DataQuality struct {
	Completeness float64 `json:"completeness"`
	Anomalies    int     `json:"anomalies"`
	Notes        string  `json:"notes,omitempty"`
}

// rawDocument accepts both the nested and the legacy flat shape.
type rawDocument struct {
	Project    string      `json:"project"`
	Experiment *Experiment `json:"experiment"`
	Test       *rawTest    `json:"test"`

	// Legacy flat keys.
	Date     string `json:"date"`
	Scenario string `json:"scenario"`
	TestName string `json:"test_name"`
	Subject  string `json:"subject"`
	Sequence *int   `json:"sequence"`

	Sensors     []Sensor     `json:"sensors"`
	DataQuality *DataQuality `json:"data_quality"`
}

type rawTest struct {
	ID            string   `json:"id"`
	Sequence      *int     `json:"sequence"`
	Subject       string   `json:"subject"`
	SubjectID     string   `json:"subject_id"`
	DurationSec   *float64 `json:"duration_sec"`
	SensorSetting string   `json:"sensor_setting"`
	Notes         string   `json:"notes"`
}

func invalid(field string) error {
	return errors.Newf(errors.MetadataInvalid, "metadata missing required field %q", field)
}

// Load reads the metadata document at path and returns its normalized form.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.MetadataMalformed, "read metadata", err)
	}
	return Parse(data)
}

// Parse normalizes and validates a metadata document from raw bytes.
func Parse(data []byte) (*Document, error) {
	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(errors.MetadataMalformed, "parse metadata", err)
	}

	doc := &Document{
		Project:     raw.Project,
		Sensors:     raw.Sensors,
		DataQuality: raw.DataQuality,
	}

	if raw.Experiment != nil {
		doc.Experiment = *raw.Experiment
	} else {
		doc.Experiment = Experiment{Date: raw.Date, Scenario: raw.Scenario}
	}

	if raw.Test != nil {
		doc.Test = Test{
			ID:            raw.Test.ID,
			Subject:       raw.Test.Subject,
			SubjectID:     raw.Test.SubjectID,
			DurationSec:   raw.Test.DurationSec,
			SensorSetting: raw.Test.SensorSetting,
			Notes:         raw.Test.Notes,
		}
		if raw.Test.Sequence != nil {
			doc.Test.Sequence = *raw.Test.Sequence
		} else {
			return nil, invalid("test.sequence")
		}
	} else {
		doc.Test = Test{Subject: raw.Subject}
		switch {
		case raw.Sequence != nil:
			doc.Test.Sequence = *raw.Sequence
		case raw.TestName != "":
			tn, err := convention.ParseLegacyTestDir(raw.TestName)
			if err != nil {
				return nil, errors.Wrap(errors.MetadataInvalid, "test_name", err)
			}
			doc.Test.Sequence = tn.Sequence
			if doc.Test.Subject == "" {
				doc.Test.Subject = tn.Subject
			}
			if tn.SubjectID != "" {
				doc.Test.SubjectID = tn.SubjectID
			}
		default:
			return nil, invalid("test.sequence")
		}
	}

	if doc.Project == "" {
		return nil, invalid("project")
	}
	if doc.Experiment.Date == "" {
		return nil, invalid("experiment.date")
	}
	if doc.Experiment.Scenario == "" {
		return nil, invalid("experiment.scenario")
	}
	if doc.Test.Subject == "" {
		return nil, invalid("test.subject")
	}

	doc.Experiment.Scenario = canonicalScenario(doc.Experiment.Scenario)

	if doc.Test.SubjectID == "" {
		doc.Test.SubjectID = fmt.Sprintf("S%03d", doc.Test.Sequence)
	}

	if doc.Sensors == nil {
		doc.Sensors = []Sensor{}
	}
	for i := range doc.Sensors {
		s := &doc.Sensors[i]
		s.Position = convention.TranslatePosition(s.Position)
		if s.ID == "" {
			s.ID = fmt.Sprintf("%s_%s_%03d", s.Type, s.Position, s.Sequence)
		}
	}

	if doc.DataQuality != nil {
		if doc.DataQuality.Completeness < 0 {
			doc.DataQuality.Completeness = 0
		}
		if doc.DataQuality.Completeness > 1 {
			doc.DataQuality.Completeness = 1
		}
	}

	return doc, nil
}

// canonicalScenario maps abbreviations and display names to canonical form;
// already-canonical values pass through.
func canonicalScenario(s string) string {
	if c := convention.ScenarioFromCode(s); c != "" {
		return c
	}
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
}
