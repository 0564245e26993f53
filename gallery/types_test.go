package gallery

import (
	"encoding/json"
	"testing"
)

// TestFlexID_UnmarshalJSON verifies the identifier field tolerates the
// shapes different deployments return
func TestFlexID_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"number", `123`, 123},
		{"float number", `123.0`, 123},
		{"numeric string", `"456"`, 456},
		{"padded numeric string", `" 789 "`, 789},
		{"null", `null`, 0},
		{"empty string", `""`, 0},
		{"non-numeric string", `"abc"`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var id FlexID
			if err := json.Unmarshal([]byte(tt.input), &id); err != nil {
				t.Fatalf("unmarshal %s: %v", tt.input, err)
			}
			if id.Int() != tt.want {
				t.Errorf("FlexID(%s) = %d, want %d", tt.input, id.Int(), tt.want)
			}
		})
	}
}

// TestCategoryNode_ExternalID verifies the first ID wins and empty lists
// read as zero
func TestCategoryNode_ExternalID(t *testing.T) {
	node := CategoryNode{IDs: []FlexID{3051, 3052}}
	if got := node.ExternalID(); got != 3051 {
		t.Errorf("ExternalID() = %d, want 3051", got)
	}

	empty := CategoryNode{}
	if got := empty.ExternalID(); got != 0 {
		t.Errorf("ExternalID() on empty node = %d, want 0", got)
	}
}

// TestCaseDetailV2_Normalize verifies the nested v2 shape maps onto the
// canonical case
func TestCaseDetailV2_Normalize(t *testing.T) {
	raw := `{
		"case": {
			"id": 5001,
			"title": "Rhinoplasty Case",
			"details": "Some details",
			"isForWebsite": true,
			"procedureIds": [3051, "3052", 0],
			"createdAt": "2024-01-15T10:00:00Z",
			"patientInfo": {"age": 34, "gender": "Female", "ethnicity": "Caucasian"},
			"seoInfo": {"seoHeadline": "Headline", "seoSuffixUrl": "rhinoplasty-5001"},
			"photoSets": [
				{"beforeLocationUrl": "b.jpg", "afterLocationUrl1": "a.jpg", "orderIndex": 2, "isNude": true},
				{"beforeLocationUrl": "b2.jpg", "afterLocationUrl1": "a2.jpg", "orderIndex": 1}
			]
		}
	}`

	var v2 CaseDetailV2
	if err := json.Unmarshal([]byte(raw), &v2); err != nil {
		t.Fatalf("unmarshal v2: %v", err)
	}

	c := v2.Normalize()
	if c.ID != 5001 {
		t.Errorf("ID = %d, want 5001", c.ID)
	}
	if !c.Approved {
		t.Error("Approved = false, want true")
	}
	if len(c.ProcedureIDs) != 2 || c.ProcedureIDs[0] != 3051 || c.ProcedureIDs[1] != 3052 {
		t.Errorf("ProcedureIDs = %v, want [3051 3052]", c.ProcedureIDs)
	}
	if c.Patient.Age != "34" || c.Patient.Gender != "Female" {
		t.Errorf("Patient = %+v", c.Patient)
	}
	if c.SEO.SuffixURL != "rhinoplasty-5001" {
		t.Errorf("SEO.SuffixURL = %q", c.SEO.SuffixURL)
	}
	if len(c.PhotoSets) != 2 {
		t.Fatalf("len(PhotoSets) = %d, want 2", len(c.PhotoSets))
	}
	if c.PhotoSets[0].OrderIndex != 2 || !c.PhotoSets[0].IsNude {
		t.Errorf("PhotoSets[0] = %+v", c.PhotoSets[0])
	}
}

// TestCaseDetailV2_Normalize_AbsentFlagMeansPublishable verifies that a
// missing isForWebsite flag does not exclude a case
func TestCaseDetailV2_Normalize_AbsentFlagMeansPublishable(t *testing.T) {
	var v2 CaseDetailV2
	if err := json.Unmarshal([]byte(`{"case": {"id": 7}}`), &v2); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !v2.Normalize().Approved {
		t.Error("Approved = false for absent isForWebsite, want true")
	}

	if err := json.Unmarshal([]byte(`{"case": {"id": 7, "isForWebsite": false}}`), &v2); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v2.Normalize().Approved {
		t.Error("Approved = true for explicit isForWebsite=false, want false")
	}
}

// TestCaseDetailV1_Normalize verifies the flat v1 shape maps onto the
// canonical case with photo order taken from array position
func TestCaseDetailV1_Normalize(t *testing.T) {
	raw := `{
		"id": "6001",
		"title": "Facelift",
		"isForWebsite": true,
		"procedureIds": [2001],
		"age": "42",
		"gender": "Female",
		"seoHeadline": "Headline",
		"seoSuffixUrl": "facelift-6001",
		"photoSets": [
			{"images": {"before": "b1.jpg", "after": "a1.jpg"}, "seoAltText": "first"},
			{"images": {"before": "b2.jpg", "after": "a2.jpg"}, "seoAltText": "second"}
		]
	}`

	var v1 CaseDetailV1
	if err := json.Unmarshal([]byte(raw), &v1); err != nil {
		t.Fatalf("unmarshal v1: %v", err)
	}

	c := v1.Normalize()
	if c.ID != 6001 {
		t.Errorf("ID = %d, want 6001", c.ID)
	}
	if c.Patient.Age != "42" {
		t.Errorf("Patient.Age = %q, want %q", c.Patient.Age, "42")
	}
	if len(c.PhotoSets) != 2 {
		t.Fatalf("len(PhotoSets) = %d, want 2", len(c.PhotoSets))
	}
	if c.PhotoSets[0].BeforeURL != "b1.jpg" || c.PhotoSets[0].OrderIndex != 0 {
		t.Errorf("PhotoSets[0] = %+v", c.PhotoSets[0])
	}
	if c.PhotoSets[1].OrderIndex != 1 {
		t.Errorf("PhotoSets[1].OrderIndex = %d, want 1", c.PhotoSets[1].OrderIndex)
	}
}

// TestDecodeCaseDetail_ShapeFallback verifies the v2 shape is preferred
// and the v1 array shape is the fallback
func TestDecodeCaseDetail_ShapeFallback(t *testing.T) {
	v2Body := `{"success": true, "data": {"case": {"id": 5001, "title": "V2"}}}`
	c, err := decodeCaseDetail([]byte(v2Body))
	if err != nil {
		t.Fatalf("decode v2: %v", err)
	}
	if c.ID != 5001 || c.Title != "V2" {
		t.Errorf("v2 decoded to %+v", c)
	}

	v1Body := `{"success": true, "data": [{"id": 6001, "title": "V1"}]}`
	c, err = decodeCaseDetail([]byte(v1Body))
	if err != nil {
		t.Fatalf("decode v1: %v", err)
	}
	if c.ID != 6001 || c.Title != "V1" {
		t.Errorf("v1 decoded to %+v", c)
	}
}

// TestDecodeCaseDetail_Errors covers failure and garbage payloads
func TestDecodeCaseDetail_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"reported failure", `{"success": false, "data": {}}`},
		{"empty data", `{"success": true}`},
		{"unrecognized shape", `{"success": true, "data": "nonsense"}`},
		{"not json", `<html>error</html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeCaseDetail([]byte(tt.body)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
