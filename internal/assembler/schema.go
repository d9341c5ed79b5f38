package assembler

import (
	"github.com/cardiovision-risk-engine/internal/domain"
)

// Slot describes one required feature and where it lives in a patient record
type Slot struct {
	Name        string
	Section     string
	Kind        domain.ValueKind
	DisplayName string
}

// DefaultSlots returns the fourteen features the risk model is trained on, in vector order.
func DefaultSlots() []Slot {
	return []Slot{
		{Name: "age", Section: domain.SectionPatientInfo, Kind: domain.KindNumeric, DisplayName: "Age"},
		{Name: "gender", Section: domain.SectionPatientInfo, Kind: domain.KindCategorical, DisplayName: "Gender"},
		{Name: "chest_pain_type", Section: domain.SectionSymptomsObservations, Kind: domain.KindCategorical, DisplayName: "Chest pain type"},
		{Name: "family_history_cad", Section: domain.SectionPatientInfo, Kind: domain.KindBoolean, DisplayName: "Family history of CAD"},
		{Name: "resting_heart_rate", Section: domain.SectionVitalParameters, Kind: domain.KindNumeric, DisplayName: "Resting heart rate"},
		{Name: "max_heart_rate", Section: domain.SectionVitalParameters, Kind: domain.KindNumeric, DisplayName: "Maximum heart rate"},
		{Name: "has_hypertension", Section: domain.SectionVitalParameters, Kind: domain.KindBoolean, DisplayName: "Hypertension"},
		{Name: "exercise_induced_angina", Section: domain.SectionSymptomsObservations, Kind: domain.KindBoolean, DisplayName: "Exercise-induced angina"},
		{Name: "serum_cholesterol", Section: domain.SectionLaboratoryValues, Kind: domain.KindNumeric, DisplayName: "Serum cholesterol"},
		{Name: "high_fasting_blood_sugar", Section: domain.SectionLaboratoryValues, Kind: domain.KindBoolean, DisplayName: "High fasting blood sugar"},
		{Name: "st_depression", Section: domain.SectionLaboratoryValues, Kind: domain.KindNumeric, DisplayName: "ST depression"},
		{Name: "cigarettes_per_day", Section: domain.SectionSocialFactors, Kind: domain.KindNumeric, DisplayName: "Cigarettes per day"},
		{Name: "years_smoking", Section: domain.SectionSocialFactors, Kind: domain.KindNumeric, DisplayName: "Years smoking"},
		{Name: "resting_ecg_results", Section: domain.SectionECGResults, Kind: domain.KindCategorical, DisplayName: "Resting ECG results"},
	}
}

// DefaultSectionAliases maps alternate section names onto the canonical ones.
// PersonalData is the section name used by the intake forms.
func DefaultSectionAliases() map[string]string {
	return map[string]string{
		"PersonalData": domain.SectionPatientInfo,
	}
}
