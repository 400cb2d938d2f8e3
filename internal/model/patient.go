// Package model defines the records produced by the harvest pipeline.
package model

import "strconv"

// Patient is one harvested record, keyed by ExternalID (the clinical
// history number as shown by the source). All fields are strings in
// their canonical form: dates as YYYY-MM-DD or empty, monetary amounts
// as non-negative decimal strings with "." as separator ("0" when
// absent), gender as an enumerated code ("1"/"2"/"3") or empty.
type Patient struct {
	ExternalID          string `json:"external_id"`
	Name                string `json:"name"`
	Lastname            string `json:"lastname"`
	Document            string `json:"document"`
	Email               string `json:"email"`
	Address             string `json:"address"`
	Municipality        string `json:"municipality"`
	Province            string `json:"province"`
	Phone               string `json:"phone"`
	HealthInsurance     string `json:"health_insurance"`
	HealthInsurancePlan string `json:"health_insurance_plan"`
	HealthInsuranceNum  string `json:"health_insurance_number"`
	BirthDate           string `json:"birth_date"`
	GenderID            string `json:"gender_id"`
	DebtPesos           string `json:"debt_pesos"`
	DebtDollars         string `json:"debt_dollars"`
}

// PatientColumns is the ordered header of the tabular export.
var PatientColumns = []string{
	"external_id", "name", "lastname", "document", "email", "address",
	"municipality", "province", "phone", "health_insurance", "health_insurance_plan",
	"health_insurance_number", "birth_date", "gender_id", "debt_pesos", "debt_dollars",
}

// Row returns the patient's values in PatientColumns order.
func (p *Patient) Row() []string {
	return []string{
		p.ExternalID, p.Name, p.Lastname, p.Document, p.Email, p.Address,
		p.Municipality, p.Province, p.Phone, p.HealthInsurance, p.HealthInsurancePlan,
		p.HealthInsuranceNum, p.BirthDate, p.GenderID, p.DebtPesos, p.DebtDollars,
	}
}

// Evolution is one visit entry belonging to a patient. ExternalID is a
// loose foreign key: dangling references are tolerated and evolutions
// are never deduplicated.
type Evolution struct {
	ExternalID string `json:"external_id"`
	Date       string `json:"date"`
	Doctor     string `json:"doctor"`
	PlanID     string `json:"plan_id"`
	Content    string `json:"content"`
}

// EvolutionColumns is the ordered header of the delimited-text export.
var EvolutionColumns = []string{"external_id", "date", "doctor", "plan_id", "content"}

// Row returns the evolution's values in EvolutionColumns order.
func (e *Evolution) Row() []string {
	return []string{e.ExternalID, e.Date, e.Doctor, e.PlanID, e.Content}
}

// DebtStats aggregates peso debt over a set of patients.
type DebtStats struct {
	Patients   int     `json:"patients"`
	Debtors    int     `json:"debtors"`
	TotalPesos float64 `json:"total_pesos"`
}

// ComputeDebtStats counts patients, patients with debt_pesos > 0, and
// the summed peso debt. Unparseable amounts count as zero.
func ComputeDebtStats(patients []Patient) DebtStats {
	stats := DebtStats{Patients: len(patients)}
	for _, p := range patients {
		amount, err := strconv.ParseFloat(p.DebtPesos, 64)
		if err != nil || amount <= 0 {
			continue
		}
		stats.Debtors++
		stats.TotalPesos += amount
	}
	return stats
}
