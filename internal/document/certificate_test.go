package document

import (
	"testing"
	"time"
)

const sampleCertificate = `# CERTIFICATE OF FITNESS <!-- text, from page 0 (l=0.300,t=0.020,r=0.700,b=0.050), with ID 1f0e -->

**Initials & Surname**: J. Mokoena <!-- text, from page 0 (l=0.064,t=0.188,r=0.436,b=0.204), with ID 5d5dece1-814c-40b8-ac21-2d9877814985 -->
**ID No**: 800101 5009 087
**Company Name**: Acme Mining (Pty) Ltd
**Date of Examination**: 2024-02-01
**Expiry Date**: 2025-02-01
**Job Title**: Underground Fitter

| PRE-EMPLOYMENT | [ ] | PERIODICAL | [x] | EXIT | [ ] |

<table>
<tr><td>Bloods</td><td>[x]</td><td>Normal</td></tr>
<tr><td>Far, Near Vision</td><td>[x]</td><td>20/20</td></tr>
<tr><td>Hearing</td><td>[x]</td><td>Mild loss</td></tr>
<tr><td>Working at Heights</td><td>[ ]</td><td>N/A</td></tr>
<tr><td>X-Ray</td><td>[ ]</td><td>N/A</td></tr>
</table>

- **Drug Screen**: [x] Negative

Referred or follow up actions: Audiologist review
Review Date: 2024-08-01

Restrictions:
Heights [ ] Dust Exposure [x] Wear Hearing Protection [x] Confined Spaces [ ]

Medical Fitness Declaration:
FIT [ ] Fit with Restriction [x] Fit with Condition [ ] Temporarily Unfit [ ] UNFIT [ ]

Comments: Hearing protection mandatory underground
`

func TestParseCertificate(t *testing.T) {
	c := ParseCertificate(sampleCertificate, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	if c.Patient.Name != "J. Mokoena" {
		t.Errorf("name = %q", c.Patient.Name)
	}
	if c.Patient.EmployeeID != "800101 5009 087" {
		t.Errorf("id = %q", c.Patient.EmployeeID)
	}
	if c.Patient.Company != "Acme Mining (Pty) Ltd" || c.Patient.Occupation != "Underground Fitter" {
		t.Errorf("patient = %+v", c.Patient)
	}
	if c.Examination.Date != "2024-02-01" || c.Certification.ValidUntil != "2025-02-01" {
		t.Errorf("dates = %q %q", c.Examination.Date, c.Certification.ValidUntil)
	}
	if c.Examination.Type != (ExaminationType{Periodical: true}) {
		t.Errorf("type = %+v", c.Examination.Type)
	}

	tests := c.Examination.TestResults
	if r := tests["bloods"]; !r.Done || r.Result != "Normal" {
		t.Errorf("bloods = %+v", r)
	}
	if r := tests["far_near_vision"]; !r.Done || r.Result != "20/20" {
		t.Errorf("vision = %+v", r)
	}
	if r := tests["heights"]; r.Done || r.Result != "" {
		t.Errorf("heights = %+v", r)
	}
	if r := tests["drug_screen"]; !r.Done || r.Result != "Negative" {
		t.Errorf("drug screen = %+v", r)
	}

	cert := c.Certification
	if cert.Fit || !cert.FitWithRestrictions || cert.FitWithCondition || cert.TemporarilyUnfit || cert.Unfit {
		t.Errorf("fitness = %+v", cert)
	}
	if c.Examination.FitnessStatus != "Fit with Restrictions" {
		t.Errorf("status = %q", c.Examination.FitnessStatus)
	}
	if cert.FollowUp != "Audiologist review" || cert.ReviewDate != "2024-08-01" {
		t.Errorf("follow up = %q review = %q", cert.FollowUp, cert.ReviewDate)
	}
	if cert.Comments != "Hearing protection mandatory underground" {
		t.Errorf("comments = %q", cert.Comments)
	}

	r := c.Restrictions
	if r.Heights || !r.DustExposure || !r.WearHearingProtection || r.ConfinedSpaces {
		t.Errorf("restrictions = %+v", r)
	}

	if c.IDDetails == nil || !c.IDDetails.Valid {
		t.Fatalf("id details = %+v", c.IDDetails)
	}
	if c.Patient.DateOfBirth != "1980-01-01" || c.Patient.Gender != "male" {
		t.Errorf("derived = %q %q", c.Patient.DateOfBirth, c.Patient.Gender)
	}
}

func TestParseCertificateEmpty(t *testing.T) {
	c := ParseCertificate("", time.Now())
	if c.Patient.Name != "Unknown" || c.Examination.FitnessStatus != "Unknown" {
		t.Fatalf("defaults = %+v", c)
	}
	if c.Examination.TestResults == nil {
		t.Fatal("test results should be an empty map")
	}
}

func TestCrossedOutFit(t *testing.T) {
	md := "FIT [x]\nThe word FIT has a large \"X\" crossing it out."
	c := ParseCertificate(md, time.Now())
	if c.Certification.Fit || !c.Certification.Unfit {
		t.Fatalf("fitness = %+v", c.Certification)
	}
}

func TestCleanValue(t *testing.T) {
	cases := map[string]string{
		"J. Smith <!-- text, from page 0 (l=0.1,t=0.2,r=0.3,b=0.4), with ID ab-12 -->": "J. Smith",
		"Acme (l=0.064,t=0.188,r=0.936,b=0.284) Ltd":                                    "Acme Ltd",
		"n/a":   "N/A",
		"[ ]":   "N/A",
		"":      "",
		"  Fit ": "Fit",
	}
	for in, want := range cases {
		if got := cleanValue(in); got != want {
			t.Errorf("cleanValue(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCleanValueStripsMarkup(t *testing.T) {
	if got := cleanValue("<b>Acme &amp; Sons</b> <i>Ltd</i>"); got != "Acme & Sons Ltd" {
		t.Errorf("cleanValue = %q", got)
	}
	if got := cleanValue("<td>[ ]</td>"); got != "N/A" {
		t.Errorf("empty cell = %q", got)
	}
}

func TestIsChecked(t *testing.T) {
	md := "Pre-Employment [✓] Periodical [ ] Exit [ ]\n<tr><td>Night Vision</td>\n<td>[X]</td></tr>\nChemical Exposure: ticked"
	checks := map[string]bool{
		"Pre Employment":    true,
		"Periodical":        false,
		"Exit":              false,
		"Night Vision":      true,
		"Chemical Exposure": true,
		"Wear Spectacles":   false,
	}
	for term, want := range checks {
		if got := isChecked(md, term); got != want {
			t.Errorf("isChecked(%q) = %v, want %v", term, got, want)
		}
	}
}

func TestFitWithRestrictionsPluralLabel(t *testing.T) {
	layouts := map[string]string{
		"inline":     "Medical Fitness Declaration:\nFIT [ ] Fit with Restrictions [x] UNFIT [ ]",
		"pipe table": "| FIT | [ ] |\n| Fit with Restrictions | [x] |\n| UNFIT | [ ] |",
		"html table": "<table>\n<tr><td>FIT</td><td>[ ]</td></tr>\n<tr><td>Fit with Restrictions</td><td>[x]</td></tr>\n<tr><td>UNFIT</td><td>[ ]</td></tr>\n</table>",
	}
	for name, md := range layouts {
		c := ParseCertificate(md, time.Now())
		cert := c.Certification
		if cert.Fit || !cert.FitWithRestrictions || cert.Unfit {
			t.Errorf("%s: fitness = %+v", name, cert)
		}
		if c.Examination.FitnessStatus != "Fit with Restrictions" {
			t.Errorf("%s: status = %q", name, c.Examination.FitnessStatus)
		}
	}
}

func TestPlainFitNotMaskedByPluralLabel(t *testing.T) {
	c := ParseCertificate("FIT [x] Fit with Restrictions [ ] UNFIT [ ]", time.Now())
	if !c.Certification.Fit || c.Certification.FitWithRestrictions {
		t.Fatalf("fitness = %+v", c.Certification)
	}
	if c.Examination.FitnessStatus != "Fit" {
		t.Fatalf("status = %q", c.Examination.FitnessStatus)
	}
}

func TestPatternsCompiledOnce(t *testing.T) {
	if compiled(`(?i)\bExits?\b`) != compiled(`(?i)\bExits?\b`) {
		t.Fatal("expected the cached expression to be reused")
	}

	count := func() int {
		n := 0
		patternCache.Range(func(_, _ any) bool { n++; return true })
		return n
	}
	ParseCertificate(sampleCertificate, time.Now())
	before := count()
	ParseCertificate(sampleCertificate, time.Now())
	if after := count(); after != before {
		t.Fatalf("second parse compiled %d new expressions", after-before)
	}
}
