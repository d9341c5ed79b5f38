// Package fixtures builds a small, fully specified set of demo artifacts:
// a fitted preprocessor, a gradient-boosted ensemble, a neural network and a
// synthetic reference population. They back the test suites and the
// riskctl demo-artifacts command.
package fixtures

import (
	"fmt"

	"github.com/cardiovision-risk-engine/internal/assembler"
	"github.com/cardiovision-risk-engine/internal/domain"
	"github.com/cardiovision-risk-engine/internal/model"
	"github.com/cardiovision-risk-engine/internal/preprocess"
)

// Version stamped on every demo artifact
const Version = "demo-2024.1"

type scalerParams struct {
	feature     string
	mean, scale float64
}

var numeric = []scalerParams{
	{"age", 54, 9},
	{"resting_heart_rate", 75, 12},
	{"max_heart_rate", 150, 22},
	{"serum_cholesterol", 240, 50},
	{"st_depression", 1.0, 1.1},
	{"cigarettes_per_day", 5, 8},
	{"years_smoking", 10, 12},
}

var binary = []string{"family_history_cad", "has_hypertension", "exercise_induced_angina", "high_fasting_blood_sugar"}

// Category labels offered by the intake forms
var (
	Genders           = []string{"Female", "Male"}
	ChestPainTypes    = []string{"Asymptomatic", "Atypical Angina", "Non-Anginal Pain", "Typical Angina"}
	RestingECGResults = []string{"Left Ventricular Hypertrophy", "Normal", "ST-T Wave Abnormality"}
)

// Preprocessor returns the fitted transform artifact
func Preprocessor() *preprocess.Artifact {
	a := &preprocess.Artifact{
		Version:       Version,
		InputFeatures: assembler.NewDefault().Names(),
	}
	for _, p := range numeric {
		a.Steps = append(a.Steps, preprocess.Step{
			Group: "num", Feature: p.feature, Kind: preprocess.KindStandardScaler, Mean: p.mean, Scale: p.scale,
		})
	}
	for _, f := range binary {
		a.Steps = append(a.Steps, preprocess.Step{Group: "bin", Feature: f, Kind: preprocess.KindPassthrough})
	}
	for _, c := range []struct {
		feature    string
		categories []string
	}{
		{"gender", Genders},
		{"chest_pain_type", ChestPainTypes},
		{"resting_ecg_results", RestingECGResults},
	} {
		a.Steps = append(a.Steps, preprocess.Step{
			Group: "cat", Feature: c.feature, Kind: preprocess.KindOneHot,
			Categories: append([]string(nil), c.categories...), HandleUnknown: preprocess.HandleUnknownError,
		})
	}
	return a
}

// Transformer returns the compiled demo transform
func Transformer() *preprocess.Transformer {
	t, err := preprocess.New(Preprocessor())
	if err != nil {
		panic(fmt.Sprintf("demo preprocessor is invalid: %v", err))
	}
	return t
}

// Columns returns the encoded column names of the demo transform
func Columns() []string {
	return Transformer().FeatureNamesOut()
}

// Column returns the index of an encoded column
func Column(name string) int {
	for i, c := range Columns() {
		if c == name {
			return i
		}
	}
	panic("unknown demo column " + name)
}

// Scaled maps a raw numeric value into the demo scaler's space
func Scaled(feature string, raw float64) float64 {
	for _, p := range numeric {
		if p.feature == feature {
			return (raw - p.mean) / p.scale
		}
	}
	panic("unknown numeric feature " + feature)
}

func stump(col int, threshold, leftValue, leftCover, rightValue, rightCover float64) model.TreeSpec {
	return model.TreeSpec{Nodes: []model.Node{
		{Feature: col, Threshold: threshold, Left: 1, Right: 2, Cover: leftCover + rightCover},
		{Left: model.LeafIndex, Right: model.LeafIndex, Value: leftValue, Cover: leftCover},
		{Left: model.LeafIndex, Right: model.LeafIndex, Value: rightValue, Cover: rightCover},
	}}
}

// TreeArtifact returns the demo gradient-boosted ensemble.
// Older age, high cholesterol, exercise angina, an abnormal ECG, ST depression
// and smoking raise the log-odds; a high maximum heart rate lowers them.
func TreeArtifact() *model.TreeArtifact {
	cols := Columns()
	return &model.TreeArtifact{
		Version:      Version,
		NumFeatures:  len(cols),
		FeatureNames: cols,
		LearningRate: 1.0,
		InitScore:    -1.0,
		Trees: []model.TreeSpec{
			stump(Column("num__age"), Scaled("age", 60), -0.4, 70, 1.2, 30),
			stump(Column("num__serum_cholesterol"), Scaled("serum_cholesterol", 250), -0.3, 50, 0.9, 50),
			stump(Column("num__max_heart_rate"), Scaled("max_heart_rate", 140), 0.5, 35, -0.3, 65),
			stump(Column("bin__exercise_induced_angina"), 0.5, -0.2, 70, 0.8, 30),
			stump(Column("cat__resting_ecg_results_Normal"), 0.5, 0.4, 45, -0.2, 55),
			{Nodes: []model.Node{
				{Feature: Column("num__st_depression"), Threshold: Scaled("st_depression", 1.5), Left: 1, Right: 2, Cover: 100},
				{Feature: Column("num__cigarettes_per_day"), Threshold: Scaled("cigarettes_per_day", 10), Left: 3, Right: 4, Cover: 55},
				{Left: model.LeafIndex, Right: model.LeafIndex, Value: 0.7, Cover: 45},
				{Left: model.LeafIndex, Right: model.LeafIndex, Value: -0.1, Cover: 40},
				{Left: model.LeafIndex, Right: model.LeafIndex, Value: 0.3, Cover: 15},
			}},
		},
	}
}

// TreeModel returns the compiled demo ensemble
func TreeModel() *model.TreeEnsemble {
	m, err := model.NewTreeEnsemble(TreeArtifact(), "demo"+model.TreeSuffix)
	if err != nil {
		panic(fmt.Sprintf("demo tree artifact is invalid: %v", err))
	}
	return m
}

// NeuralArtifact returns the demo network: two ReLU hidden units and a sigmoid output.
func NeuralArtifact() *model.NeuralArtifact {
	cols := Columns()
	w := func(weights map[string]float64) []float64 {
		row := make([]float64, len(cols))
		for name, v := range weights {
			row[Column(name)] = v
		}
		return row
	}

	return &model.NeuralArtifact{
		Version:      Version,
		FeatureNames: cols,
		Layers: []model.LayerSpec{
			{
				Weights: [][]float64{
					w(map[string]float64{
						"num__age":                           0.8,
						"num__serum_cholesterol":             0.6,
						"bin__exercise_induced_angina":       0.5,
						"num__st_depression":                 0.4,
						"num__max_heart_rate":                -0.3,
						"bin__has_hypertension":              0.3,
						"bin__family_history_cad":            0.3,
						"num__cigarettes_per_day":            0.2,
						"cat__chest_pain_type_Asymptomatic":  0.4,
						"cat__chest_pain_type_Typical Angina": 0.2,
					}),
					w(map[string]float64{
						"cat__resting_ecg_results_Normal": 0.5,
						"num__max_heart_rate":             0.3,
					}),
				},
				Bias:       []float64{0, -0.2},
				Activation: model.ActivationReLU,
			},
			{
				Weights:    [][]float64{{1.5, -1.0}},
				Bias:       []float64{-0.6},
				Activation: model.ActivationSigmoid,
			},
		},
	}
}

// NeuralModel returns the compiled demo network
func NeuralModel() *model.NeuralNetwork {
	m, err := model.NewNeuralNetwork(NeuralArtifact(), "demo"+model.NeuralSuffix)
	if err != nil {
		panic(fmt.Sprintf("demo neural artifact is invalid: %v", err))
	}
	return m
}

// HighRiskRecord is a 70 year old with cholesterol 280 and otherwise healthy values.
func HighRiskRecord() domain.PatientRecord {
	return domain.PatientRecord{
		domain.SectionPatientInfo: {
			"age":                70,
			"gender":             "Female",
			"family_history_cad": false,
		},
		domain.SectionSymptomsObservations: {
			"chest_pain_type":         "Non-Anginal Pain",
			"exercise_induced_angina": false,
		},
		domain.SectionVitalParameters: {
			"resting_heart_rate": 68,
			"max_heart_rate":     165,
			"has_hypertension":   false,
		},
		domain.SectionLaboratoryValues: {
			"serum_cholesterol":        280,
			"high_fasting_blood_sugar": false,
			"st_depression":            0.2,
		},
		domain.SectionSocialFactors: {
			"cigarettes_per_day": 0,
			"years_smoking":      0,
		},
		domain.SectionECGResults: {
			"resting_ecg_results": "Normal",
		},
	}
}

// LowRiskRecord is a 45 year old with healthy values throughout.
func LowRiskRecord() domain.PatientRecord {
	r := HighRiskRecord()
	r[domain.SectionPatientInfo]["age"] = 45
	r[domain.SectionLaboratoryValues]["serum_cholesterol"] = 190
	r[domain.SectionLaboratoryValues]["st_depression"] = 0.0
	r[domain.SectionVitalParameters]["max_heart_rate"] = 175
	return r
}
