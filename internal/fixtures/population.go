package fixtures

import (
	"encoding/csv"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cardiovision-risk-engine/internal/assembler"
	"github.com/cardiovision-risk-engine/internal/model"
)

// Artifact file names written by WriteArtifacts
const (
	PreprocessorFile = "preprocessor.json"
	ModelBase        = "model"
	PopulationFile   = "population.csv"
)

// PopulationRows generates a synthetic reference population.
// Every age is below 70 and every cholesterol value below 280, so the demo
// high risk patient sits above the whole population on both.
func PopulationRows(n int, seed uint64) []map[string]string {
	rng := rand.New(rand.NewPCG(seed, seed^0x5bd1e995))
	pick := func(options []string) string { return options[rng.IntN(len(options))] }
	flag := func(p float64) string {
		if rng.Float64() < p {
			return "1"
		}
		return "0"
	}
	between := func(lo, hi int) string { return strconv.Itoa(lo + rng.IntN(hi-lo+1)) }

	rows := make([]map[string]string, 0, n)
	for i := 0; i < n; i++ {
		cigs := "0"
		years := "0"
		if rng.Float64() < 0.4 {
			cigs = between(1, 20)
			years = between(1, 30)
		}
		rows = append(rows, map[string]string{
			"age":                      between(35, 68),
			"gender":                   pick(Genders),
			"chest_pain_type":          pick(ChestPainTypes),
			"family_history_cad":       flag(0.3),
			"resting_heart_rate":       between(60, 90),
			"max_heart_rate":           between(120, 185),
			"has_hypertension":         flag(0.35),
			"exercise_induced_angina":  flag(0.3),
			"serum_cholesterol":        between(160, 270),
			"high_fasting_blood_sugar": flag(0.15),
			"st_depression":            strconv.FormatFloat(float64(rng.IntN(31))/10, 'f', 1, 64),
			"cigarettes_per_day":       cigs,
			"years_smoking":            years,
			"resting_ecg_results":      pick(RestingECGResults),
		})
	}
	return rows
}

// WritePopulationCSV writes population rows with a header of feature names
func WritePopulationCSV(path string, rows []map[string]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create population file: %w", err)
	}
	defer f.Close()

	header := assembler.NewDefault().Names()
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write population header: %w", err)
	}
	record := make([]string, len(header))
	for _, row := range rows {
		for i, name := range header {
			record[i] = row[name]
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write population row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

// WriteArtifacts writes the preprocessor, one model and the population into dir.
// kind selects which model family is written.
func WriteArtifacts(dir, kind string, populationSize int, seed uint64) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}
	if err := Preprocessor().Save(filepath.Join(dir, PreprocessorFile)); err != nil {
		return err
	}

	base := filepath.Join(dir, ModelBase)
	switch kind {
	case "tree", "gbt":
		if err := model.SaveJSON(base+model.TreeSuffix, TreeArtifact()); err != nil {
			return err
		}
	case "neural", "nn":
		if err := model.SaveJSON(base+model.NeuralSuffix, NeuralArtifact()); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown model kind %q", kind)
	}

	return WritePopulationCSV(filepath.Join(dir, PopulationFile), PopulationRows(populationSize, seed))
}
