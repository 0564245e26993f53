package sync

import (
	"encoding/json"
	"testing"

	"github.com/clinicgallery/casesync/gallery"
)

// TestTransformCase verifies the canonical case maps onto the record
// shape with structured fields encoded as JSON
func TestTransformCase(t *testing.T) {
	c := &gallery.CanonicalCase{
		ID:        5001,
		Title:     "Rhinoplasty Result",
		Details:   "Narrative",
		CreatedAt: "2024-01-15T10:00:00Z",
		Patient:   gallery.PatientInfo{Age: "34", Gender: "Female"},
		SEO:       gallery.SEOInfo{SuffixURL: "rhinoplasty-result-5001"},
		PhotoSets: []gallery.PhotoSet{{BeforeURL: "b.jpg", AfterURL: "a.jpg"}},
	}

	data := TransformCase(c, 3051, "3051:5001")

	if data["external_key"] != "3051:5001" {
		t.Errorf("external_key = %v", data["external_key"])
	}
	if data["case_id"] != 5001 || data["procedure_id"] != 3051 {
		t.Errorf("ids = %v / %v", data["case_id"], data["procedure_id"])
	}
	if data["title"] != "Rhinoplasty Result" {
		t.Errorf("title = %v", data["title"])
	}
	if data["slug"] != "rhinoplasty-result-5001" {
		t.Errorf("slug = %v, want SEO suffix", data["slug"])
	}

	var patient gallery.PatientInfo
	if err := json.Unmarshal([]byte(data["patient"].(string)), &patient); err != nil {
		t.Fatalf("patient is not valid JSON: %v", err)
	}
	if patient.Age != "34" {
		t.Errorf("patient.Age = %q, want %q", patient.Age, "34")
	}

	var photoSets []gallery.PhotoSet
	if err := json.Unmarshal([]byte(data["photo_sets"].(string)), &photoSets); err != nil {
		t.Fatalf("photo_sets is not valid JSON: %v", err)
	}
	if len(photoSets) != 1 || photoSets[0].BeforeURL != "b.jpg" {
		t.Errorf("photoSets = %+v", photoSets)
	}
}

// TestTransformCase_Fallbacks covers missing title, missing SEO suffix
// and empty photo sets
func TestTransformCase_Fallbacks(t *testing.T) {
	c := &gallery.CanonicalCase{ID: 7}
	data := TransformCase(c, 3051, "3051:7")

	if data["title"] != "Case 7" {
		t.Errorf("title = %v, want %q", data["title"], "Case 7")
	}
	if data["slug"] != "case-7-7" {
		t.Errorf("slug = %v, want %q", data["slug"], "case-7-7")
	}
	if data["photo_sets"] != "[]" {
		t.Errorf("photo_sets = %v, want empty array", data["photo_sets"])
	}
}

// TestSlugify covers the collapse rules
func TestSlugify(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Rhinoplasty Result", "rhinoplasty-result"},
		{"Breast Augmentation (Silicone)", "breast-augmentation-silicone"},
		{"  spaced   out  ", "spaced-out"},
		{"UPPER", "upper"},
		{"", ""},
		{"---", ""},
	}

	for _, tt := range tests {
		if got := slugify(tt.input); got != tt.want {
			t.Errorf("slugify(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
