package document

import (
	"regexp"
	"strings"
	"time"
)

// Certificate is the structured form of a certificate of fitness.
type Certificate struct {
	Patient       Patient       `json:"patient"`
	Examination   Examination   `json:"examination_results"`
	Certification Certification `json:"certification"`
	Restrictions  Restrictions  `json:"restrictions"`
	IDDetails     *IDDetails    `json:"id_details,omitempty"`
	RawContent    string        `json:"raw_content,omitempty"`
}

type Patient struct {
	Name        string `json:"name"`
	EmployeeID  string `json:"employee_id"`
	Company     string `json:"company"`
	Occupation  string `json:"occupation"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
	Gender      string `json:"gender,omitempty"`
}

type ExaminationType struct {
	PreEmployment bool `json:"pre_employment"`
	Periodical    bool `json:"periodical"`
	Exit          bool `json:"exit"`
}

type TestResult struct {
	Done   bool   `json:"done"`
	Result string `json:"result,omitempty"`
}

type Examination struct {
	Date          string                `json:"date"`
	FitnessStatus string                `json:"fitness_status"`
	Type          ExaminationType       `json:"type"`
	TestResults   map[string]TestResult `json:"test_results"`
}

type Certification struct {
	Fit                 bool   `json:"fit"`
	FitWithRestrictions bool   `json:"fit_with_restrictions"`
	FitWithCondition    bool   `json:"fit_with_condition"`
	TemporarilyUnfit    bool   `json:"temporarily_unfit"`
	Unfit               bool   `json:"unfit"`
	FollowUp            string `json:"follow_up"`
	ReviewDate          string `json:"review_date"`
	Comments            string `json:"comments"`
	ValidUntil          string `json:"valid_until"`
}

type Restrictions struct {
	Heights               bool `json:"heights"`
	DustExposure          bool `json:"dust_exposure"`
	MotorizedEquipment    bool `json:"motorized_equipment"`
	WearHearingProtection bool `json:"wear_hearing_protection"`
	ConfinedSpaces        bool `json:"confined_spaces"`
	ChemicalExposure      bool `json:"chemical_exposure"`
	WearSpectacles        bool `json:"wear_spectacles"`
	RemainOnTreatment     bool `json:"remain_on_treatment_for_chronic_conditions"`
}

var medicalTests = []struct{ name, key string }{
	{"Bloods", "bloods"},
	{"Far, Near Vision", "far_near_vision"},
	{"Side & Depth", "side_depth"},
	{"Night Vision", "night_vision"},
	{"Hearing", "hearing"},
	{"Working at Heights", "heights"},
	{"Lung Function", "lung_function"},
	{"X-Ray", "x_ray"},
	{"Drug Screen", "drug_screen"},
}

// phrases containing FIT or UNFIT that must not count as the bare status
var fitnessMasks = []string{"Fit with Restriction", "Fit with Condition", "Temporarily Unfit", "Temporary Unfit"}

var crossedOutHints = []string{"crossing it out", "crossed out", `large "X"`, `crossing out of the word "FIT"`}

var (
	reFollowUp    = regexp.MustCompile(`(?is)Referred or follow up actions:?[ \t]*(.*?)(?:\n\s*\n|Review Date|$)`)
	reReviewDate  = regexp.MustCompile(`(?i)Review Date:?[ \t]*([^\n\r<]*)`)
	reComments    = regexp.MustCompile(`(?is)Comments:?[ \t]*(.*?)(?:\n\s*\n|<|$)`)
	reIDCandidate = regexp.MustCompile(`\b\d{6}\s?\d{4}\s?\d{3}\b`)
)

// field returns the first non-empty value found for any of the labels, which
// are regular expression fragments. Both "**Label**: value" and "Label: value"
// forms are accepted.
func field(markdown string, labels ...string) string {
	for _, label := range labels {
		for _, p := range []string{
			`(?i)\*\*` + label + `\*\*:?[ \t]*([^\n\r]*?)(?:\*\*|\r|\n|$)`,
			`(?i)` + label + `[ \t]*[:\-][ \t]*([^\n\r]*?)(?:\*\*|<!--|\r|\n|$)`,
		} {
			m := compiled(p).FindStringSubmatch(markdown)
			if len(m) > 1 {
				if v := cleanValue(m[1]); v != "" {
					return v
				}
			}
		}
	}
	return ""
}

// ParseCertificate reshapes extracted markdown into a Certificate.
func ParseCertificate(markdown string, now time.Time) Certificate {
	c := Certificate{
		Patient: Patient{Name: "Unknown"},
		Examination: Examination{
			FitnessStatus: "Unknown",
			TestResults:   map[string]TestResult{},
		},
		RawContent: markdown,
	}
	if strings.TrimSpace(markdown) == "" {
		return c
	}

	if v := field(markdown, `Initials\s*&\s*Surname`); v != "" {
		c.Patient.Name = v
	}
	c.Patient.EmployeeID = field(markdown, `ID\s*No[.:]?`, `ID\s*Number`)
	c.Patient.Company = field(markdown, `Company\s*Name`)
	c.Patient.Occupation = field(markdown, `Job\s*Title`)
	c.Examination.Date = field(markdown, `Date\s*of\s*Examination`)
	c.Certification.ValidUntil = field(markdown, `Expiry\s*Date`)

	c.Examination.Type = ExaminationType{
		PreEmployment: isChecked(markdown, "Pre-Employment"),
		Periodical:    isChecked(markdown, "Periodical"),
		Exit:          isChecked(markdown, "Exit"),
	}
	for _, t := range medicalTests {
		c.Examination.TestResults[t.key] = testResult(markdown, t.name)
	}

	parseFitness(markdown, &c.Certification)
	c.Examination.FitnessStatus = fitnessStatus(c.Certification)

	c.Restrictions = Restrictions{
		Heights:               isChecked(markdown, "Heights", "Working at Heights"),
		DustExposure:          isChecked(markdown, "Dust Exposure"),
		MotorizedEquipment:    isChecked(markdown, "Motorized Equipment"),
		WearHearingProtection: isChecked(markdown, "Wear Hearing Protection"),
		ConfinedSpaces:        isChecked(markdown, "Confined Spaces"),
		ChemicalExposure:      isChecked(markdown, "Chemical Exposure"),
		WearSpectacles:        isChecked(markdown, "Wear Spectacles"),
		RemainOnTreatment:     isChecked(markdown, "Remain on Treatment"),
	}

	idSource := c.Patient.EmployeeID
	if NormalizeID(idSource) == "" {
		idSource = reIDCandidate.FindString(markdown)
	}
	if d, ok := ParseSAID(idSource, now); ok {
		c.IDDetails = &d
		if d.Valid {
			c.Patient.DateOfBirth = d.Birthdate
			c.Patient.Gender = d.Gender
		}
	}
	return c
}

func parseFitness(markdown string, cert *Certification) {
	cert.Fit = isChecked(markdown, "FIT", fitnessMasks...)
	cert.FitWithRestrictions = isChecked(markdown, "Fit with Restriction")
	cert.FitWithCondition = isChecked(markdown, "Fit with Condition")
	cert.TemporarilyUnfit = isChecked(markdown, "Temporary Unfit") || isChecked(markdown, "Temporarily Unfit")
	cert.Unfit = isChecked(markdown, "UNFIT", fitnessMasks...)

	for _, hint := range crossedOutHints {
		if strings.Contains(markdown, hint) {
			cert.Fit = false
			cert.Unfit = true
			break
		}
	}

	if m := reFollowUp.FindStringSubmatch(markdown); len(m) > 1 {
		cert.FollowUp = cleanValue(m[1])
	}
	if m := reReviewDate.FindStringSubmatch(markdown); len(m) > 1 {
		cert.ReviewDate = cleanValue(m[1])
	}
	if m := reComments.FindStringSubmatch(markdown); len(m) > 1 {
		if v := cleanValue(m[1]); v != "N/A" {
			cert.Comments = v
		}
	}
}

// fitnessStatus summarizes the ticked boxes, most restrictive first.
func fitnessStatus(c Certification) string {
	switch {
	case c.Unfit:
		return "Unfit"
	case c.TemporarilyUnfit:
		return "Temporarily Unfit"
	case c.FitWithRestrictions:
		return "Fit with Restrictions"
	case c.FitWithCondition:
		return "Fit with Condition"
	case c.Fit:
		return "Fit"
	default:
		return "Unknown"
	}
}

func testResult(markdown, name string) TestResult {
	t := termPattern(name)
	patterns := []string{
		`(?i)<tr>\s*<td>[^<]*\b` + t + `\b[^<]*</td>\s*<td>\[([^\[\]]?)\]</td>\s*<td>([^<]*)</td>`,
		`(?i)\|\s*` + t + `\s*\|\s*\[([^\[\]]?)\]\s*\|\s*([^|\n]*)\|`,
		`(?i)-\s*\*\*` + t + `\*\*:\s*\[([^\[\]]?)\]\s*([^\n]*)`,
		`(?i)\b` + t + `\b[^\n\[]*:\s*\[([^\[\]]?)\]\s*([^\n]*)`,
	}
	for _, p := range patterns {
		m := compiled(p).FindStringSubmatch(markdown)
		if len(m) < 3 {
			continue
		}
		res := TestResult{Done: strings.TrimSpace(m[1]) != ""}
		if v := cleanValue(m[2]); v != "N/A" {
			res.Result = v
		}
		return res
	}
	return TestResult{Done: isChecked(markdown, name)}
}
