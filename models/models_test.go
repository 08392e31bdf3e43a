package models

import "testing"

func TestParseDocumentType(t *testing.T) {
	cases := map[string]DocumentType{
		"certificate-of-fitness": DocumentTypeCertificateOfFitness,
		" Certificate ":          DocumentTypeCertificateOfFitness,
		"certificate_of_fitness": DocumentTypeCertificateOfFitness,
		"medical-questionnaire":  DocumentTypeGeneric,
		"questionnaire":          DocumentTypeGeneric,
		"":                       DocumentTypeGeneric,
		"invoice":                DocumentTypeGeneric,
	}
	for in, want := range cases {
		if got := ParseDocumentType(in); got != want {
			t.Errorf("ParseDocumentType(%q) = %q, want %q", in, got, want)
		}
	}
}
