package document

import (
	"fmt"
	"strconv"
	"time"
)

// IDDetails is what a South African ID number encodes.
//
// Layout: YYMMDD SSSS C A Z, where SSSS < 5000 is female, C is 0 for citizens
// and 1 for permanent residents, and Z is a Luhn check digit.
type IDDetails struct {
	Number      string `json:"number"`
	Birthdate   string `json:"birthdate,omitempty"`
	Gender      string `json:"gender,omitempty"`
	Citizenship string `json:"citizenship_status,omitempty"`
	Valid       bool   `json:"is_valid"`
}

// NormalizeID strips everything but digits and returns "" unless exactly
// thirteen remain.
func NormalizeID(s string) string {
	digits := make([]byte, 0, 13)
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			digits = append(digits, s[i])
		}
	}
	if len(digits) != 13 {
		return ""
	}
	return string(digits)
}

// ParseSAID decodes id. now decides the century: two digit years greater than
// the current one are taken as 19xx.
func ParseSAID(id string, now time.Time) (IDDetails, bool) {
	n := NormalizeID(id)
	if n == "" {
		return IDDetails{Number: id}, false
	}
	d := IDDetails{Number: n, Valid: luhnValid(n)}
	d.Birthdate = birthdate(n, now)

	if seq, err := strconv.Atoi(n[6:10]); err == nil {
		if seq < 5000 {
			d.Gender = "female"
		} else {
			d.Gender = "male"
		}
	}
	switch n[10] {
	case '0':
		d.Citizenship = "citizen"
	case '1':
		d.Citizenship = "permanent_resident"
	}
	return d, true
}

func birthdate(n string, now time.Time) string {
	yy, _ := strconv.Atoi(n[0:2])
	mm, _ := strconv.Atoi(n[2:4])
	dd, _ := strconv.Atoi(n[4:6])
	if mm < 1 || mm > 12 || dd < 1 || dd > 31 {
		return ""
	}
	year := 2000 + yy
	if yy > now.Year()%100 {
		year = 1900 + yy
	}
	t := time.Date(year, time.Month(mm), dd, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes Feb 30 into March
	if t.Day() != dd || int(t.Month()) != mm {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", year, mm, dd)
}

func luhnValid(n string) bool {
	sum := 0
	for i := 0; i < len(n); i++ {
		d := int(n[len(n)-1-i] - '0')
		if i%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return sum%10 == 0
}
