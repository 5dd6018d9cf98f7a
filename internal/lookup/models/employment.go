package models

// CurrentlyEmployed is the exit date providers report for an open employment.
const CurrentlyEmployed = "NA"

// DualEmploymentResult is one employer finding from a UAN full-history check.
type DualEmploymentResult struct {
	EstablishmentName string `json:"establishment_name"`
	JoinDate          string `json:"join_date"`
	ExitDate          string `json:"exit_date"`
	Overlap           bool   `json:"overlap"`
	MemberID          string `json:"member_id"`
	Name              string `json:"name"`
	GuardianName      string `json:"guardian_name"`
}

// IsCurrent reports an employment with no exit date.
func (r DualEmploymentResult) IsCurrent() bool {
	return r.ExitDate == CurrentlyEmployed || r.ExitDate == ""
}
