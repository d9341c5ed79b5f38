package assembler

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardiovision-risk-engine/internal/domain"
)

func completeRecord() domain.PatientRecord {
	return domain.PatientRecord{
		"PatientInfo": {
			"age":                70,
			"gender":             "Female",
			"family_history_cad": false,
		},
		"SymptomsObservations": {
			"chest_pain_type":         "Non-Anginal Pain",
			"exercise_induced_angina": "No",
		},
		"VitalParameters": {
			"resting_heart_rate": 68.0,
			"max_heart_rate":     165,
			"has_hypertension":   0,
		},
		"LaboratoryValues": {
			"serum_cholesterol":        280,
			"high_fasting_blood_sugar": false,
			"st_depression":            0.2,
		},
		"SocialFactors": {
			"cigarettes_per_day": 0,
			"years_smoking":      0,
		},
		"ECGResults": {
			"resting_ecg_results": "Normal",
		},
	}
}

func TestAssemble_CompleteRecord(t *testing.T) {
	a := NewDefault()

	fv, err := a.Assemble(completeRecord())
	require.NoError(t, err)

	assert.Equal(t, 14, fv.Len())
	assert.Equal(t, []string{
		"age", "gender", "chest_pain_type", "family_history_cad",
		"resting_heart_rate", "max_heart_rate", "has_hypertension",
		"exercise_induced_angina", "serum_cholesterol", "high_fasting_blood_sugar",
		"st_depression", "cigarettes_per_day", "years_smoking", "resting_ecg_results",
	}, fv.Names())

	age, ok := fv.Get("age")
	require.True(t, ok)
	assert.Equal(t, domain.NumberValue(70), age)

	angina, _ := fv.Get("exercise_induced_angina")
	assert.Equal(t, domain.BoolValue(false), angina)

	ecg, _ := fv.Get("resting_ecg_results")
	assert.Equal(t, "Normal", ecg.Label)
}

func TestAssemble_DeterministicOrder(t *testing.T) {
	a := NewDefault()
	first, err := a.Assemble(completeRecord())
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		fv, err := a.Assemble(completeRecord())
		require.NoError(t, err)
		assert.Equal(t, first.Names(), fv.Names())
	}
}

func TestAssemble_ListsEveryMissingField(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r domain.PatientRecord)
		missing []string
	}{
		{
			name:    "single missing field",
			mutate:  func(r domain.PatientRecord) { delete(r["VitalParameters"], "resting_heart_rate") },
			missing: []string{"resting_heart_rate"},
		},
		{
			name: "null values count as missing",
			mutate: func(r domain.PatientRecord) {
				r["PatientInfo"]["age"] = nil
				r["LaboratoryValues"]["serum_cholesterol"] = nil
			},
			missing: []string{"age", "serum_cholesterol"},
		},
		{
			name:    "blank strings count as missing",
			mutate:  func(r domain.PatientRecord) { r["ECGResults"]["resting_ecg_results"] = "  " },
			missing: []string{"resting_ecg_results"},
		},
		{
			name:    "missing section reports each of its fields",
			mutate:  func(r domain.PatientRecord) { delete(r, "SocialFactors") },
			missing: []string{"cigarettes_per_day", "years_smoking"},
		},
		{
			name: "fields across sections",
			mutate: func(r domain.PatientRecord) {
				delete(r["PatientInfo"], "gender")
				delete(r["SymptomsObservations"], "exercise_induced_angina")
				delete(r["ECGResults"], "resting_ecg_results")
			},
			missing: []string{"gender", "exercise_induced_angina", "resting_ecg_results"},
		},
	}

	a := NewDefault()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := completeRecord()
			tt.mutate(record)

			_, err := a.Assemble(record)
			require.Error(t, err)

			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.missing, verr.Missing)
			for _, f := range tt.missing {
				assert.Contains(t, err.Error(), f)
			}
		})
	}
}

func TestAssemble_EmptyRecord(t *testing.T) {
	_, err := NewDefault().Assemble(domain.PatientRecord{})

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Missing, 14)
}

func TestAssemble_InvalidValues(t *testing.T) {
	record := completeRecord()
	record["PatientInfo"]["age"] = "seventy"
	record["VitalParameters"]["has_hypertension"] = 3
	record["PatientInfo"]["gender"] = 1
	delete(record["LaboratoryValues"], "st_depression")

	_, err := NewDefault().Assemble(record)

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"st_depression"}, verr.Missing)
	require.Len(t, verr.Invalid, 3)
	assert.Equal(t, "age", verr.Invalid[0].Field)
	assert.Equal(t, "gender", verr.Invalid[1].Field)
	assert.Equal(t, "has_hypertension", verr.Invalid[2].Field)
}

func TestAssemble_PersonalDataAlias(t *testing.T) {
	record := completeRecord()
	record["PersonalData"] = record["PatientInfo"]
	delete(record, "PatientInfo")

	fv, err := NewDefault().Assemble(record)
	require.NoError(t, err)
	gender, _ := fv.Get("gender")
	assert.Equal(t, "Female", gender.Label)
}

func TestAssemble_JSONDecodedRecord(t *testing.T) {
	raw := []byte(`{
		"PatientInfo": {"age": 52, "gender": "Male", "family_history_cad": true},
		"SymptomsObservations": {"chest_pain_type": "Typical Angina", "exercise_induced_angina": true},
		"VitalParameters": {"resting_heart_rate": 80, "max_heart_rate": 130, "has_hypertension": true},
		"LaboratoryValues": {"serum_cholesterol": 250, "high_fasting_blood_sugar": false, "st_depression": 2.1},
		"SocialFactors": {"cigarettes_per_day": 10, "years_smoking": 20},
		"ECGResults": {"resting_ecg_results": "ST-T Wave Abnormality"}
	}`)
	var record domain.PatientRecord
	require.NoError(t, json.Unmarshal(raw, &record))

	fv, err := NewDefault().Assemble(record)
	require.NoError(t, err)
	st, _ := fv.Get("st_depression")
	assert.InDelta(t, 2.1, st.Number, 1e-12)
}

func TestAssembleFlat(t *testing.T) {
	row := map[string]string{
		"age": "61", "gender": "Male", "chest_pain_type": "Asymptomatic",
		"family_history_cad": "1", "resting_heart_rate": "72", "max_heart_rate": "150",
		"has_hypertension": "0", "exercise_induced_angina": "no", "serum_cholesterol": "233",
		"high_fasting_blood_sugar": "true", "st_depression": "1.4", "cigarettes_per_day": "0",
		"years_smoking": "0", "resting_ecg_results": "Normal",
	}

	fv, err := NewDefault().AssembleFlat(row)
	require.NoError(t, err)
	fh, _ := fv.Get("family_history_cad")
	assert.Equal(t, domain.BoolValue(true), fh)

	delete(row, "age")
	row["serum_cholesterol"] = "n/a"
	_, err = NewDefault().AssembleFlat(row)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"age"}, verr.Missing)
	require.Len(t, verr.Invalid, 1)
	assert.Equal(t, "serum_cholesterol", verr.Invalid[0].Field)
}

func TestDisplayName(t *testing.T) {
	a := NewDefault()
	assert.Equal(t, "Serum cholesterol", a.DisplayName("serum_cholesterol"))
	assert.Equal(t, "unknown_field", a.DisplayName("unknown_field"))
}

func TestAssemble_SectionNotAnObject(t *testing.T) {
	var record domain.PatientRecord
	require.NoError(t, json.Unmarshal([]byte(`{"PatientInfo": "oops", "VitalParameters": {"resting_heart_rate": 70}}`), &record))

	_, err := NewDefault().Assemble(record)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	require.Len(t, verr.Invalid, 1)
	assert.Equal(t, "PatientInfo", verr.Invalid[0].Field)
	assert.Equal(t, "oops", verr.Invalid[0].Value)
	assert.Len(t, verr.Missing, 13)
	assert.Equal(t, []string{"age", "gender"}, verr.Missing[:2])
}

func TestAssemble_ValueChecks(t *testing.T) {
	rejectLabel := func(feature string, v domain.FeatureValue) error {
		if v.Kind == domain.KindCategorical && v.Label == "Normal" {
			return assert.AnError
		}
		return nil
	}

	_, err := NewDefault().Assemble(completeRecord(), rejectLabel)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Invalid, 1)
	assert.Equal(t, "resting_ecg_results", verr.Invalid[0].Field)
	assert.Equal(t, "Normal", verr.Invalid[0].Value)

	_, err = NewDefault().Assemble(completeRecord())
	assert.NoError(t, err)
}
