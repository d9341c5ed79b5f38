package explain

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"

	"github.com/cardiovision-risk-engine/internal/domain"
)

// BackgroundSample is a set of encoded reference rows for neural explanations
type BackgroundSample struct {
	Rows [][]float64
}

// Size returns the number of reference rows
func (b BackgroundSample) Size() int {
	return len(b.Rows)
}

// Encoder turns feature vectors into model input
type Encoder interface {
	Transform(fv domain.FeatureVector) (domain.EncodedTensor, error)
}

// RowAssembler validates flat tabular rows
type RowAssembler interface {
	AssembleFlat(row map[string]string) (domain.FeatureVector, error)
}

// Population is the read-only reference dataset, encoded once at load.
type Population struct {
	encoded [][]float64
}

// NewPopulation encodes feature vectors with the fitted transform
func NewPopulation(rows []domain.FeatureVector, enc Encoder) (*Population, error) {
	p := &Population{encoded: make([][]float64, 0, len(rows))}
	for i, fv := range rows {
		t, err := enc.Transform(fv)
		if err != nil {
			return nil, fmt.Errorf("population row %d: %w", i, err)
		}
		p.encoded = append(p.encoded, t.Values)
	}
	return p, nil
}

// LoadPopulation reads a CSV whose header names the raw features.
func LoadPopulation(path string, asm RowAssembler, enc Encoder) (*Population, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, domain.NewArtifactError("population", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err != nil {
		return nil, domain.NewArtifactError("population", path, fmt.Errorf("failed to read header: %w", err))
	}

	var rows []domain.FeatureVector
	line := 1
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, domain.NewArtifactError("population", path, fmt.Errorf("line %d: %w", line, err))
		}
		flat := make(map[string]string, len(header))
		for i, name := range header {
			flat[name] = record[i]
		}
		fv, err := asm.AssembleFlat(flat)
		if err != nil {
			return nil, domain.NewArtifactError("population", path, fmt.Errorf("line %d: %w", line, err))
		}
		rows = append(rows, fv)
	}
	if len(rows) == 0 {
		return nil, domain.NewArtifactError("population", path, fmt.Errorf("no rows"))
	}

	p, err := NewPopulation(rows, enc)
	if err != nil {
		return nil, domain.NewArtifactError("population", path, err)
	}
	return p, nil
}

// Len returns the number of rows
func (p *Population) Len() int {
	return len(p.encoded)
}

// Sample draws up to n rows without replacement. The same seed yields the same
// rows; the population itself is never reordered.
func (p *Population) Sample(n int, seed uint64) BackgroundSample {
	total := len(p.encoded)
	if n <= 0 || total == 0 {
		return BackgroundSample{}
	}
	if n > total {
		n = total
	}

	idx := make([]int, total)
	for i := range idx {
		idx[i] = i
	}
	rng := rand.New(rand.NewPCG(seed, seed))
	for i := 0; i < n; i++ {
		j := i + rng.IntN(total-i)
		idx[i], idx[j] = idx[j], idx[i]
	}

	rows := make([][]float64, n)
	for i := 0; i < n; i++ {
		rows[i] = append([]float64(nil), p.encoded[idx[i]]...)
	}
	return BackgroundSample{Rows: rows}
}
