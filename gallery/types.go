package gallery

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// FlexID decodes the gallery API's identifier fields, which arrive as
// numbers, numeric strings, or null depending on the deployment.
// Unparseable values decode to 0 and are filtered out downstream.
type FlexID int

// UnmarshalJSON implements json.Unmarshaler for FlexID
func (f *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			*f = 0
			return nil
		}
		*f = FlexID(n)
		return nil
	}

	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexID(int(n))
	return nil
}

// Int returns the identifier as a plain int
func (f FlexID) Int() int {
	return int(f)
}

// CategoryNode is one entry of the remote category tree returned by the
// sidebar endpoint. Categories carry one level of child procedures; a
// procedure's IDs[0] is the canonical external key used for lookups.
type CategoryNode struct {
	Name        string         `json:"name"`
	Slug        string         `json:"slugName"`
	IDs         []FlexID       `json:"ids"`
	Nudity      bool           `json:"nudity"`
	Description string         `json:"description"`
	TotalCases  int            `json:"totalCase"`
	Procedures  []CategoryNode `json:"procedures,omitempty"`
}

// ExternalID returns the canonical external identifier for the node
func (n *CategoryNode) ExternalID() int {
	if len(n.IDs) == 0 {
		return 0
	}
	return n.IDs[0].Int()
}

// ExternalIDs returns every positive external identifier carried by the
// node, in remote order. The first entry is the canonical key; the rest
// are aliases the remote also files the node under.
func (n *CategoryNode) ExternalIDs() []int {
	ids := make([]int, 0, len(n.IDs))
	for _, id := range n.IDs {
		if v := id.Int(); v > 0 {
			ids = append(ids, v)
		}
	}
	return ids
}

// CaseListPage is one page of the paginated case listing for a procedure.
// HasNext is nil when the deployment returns no pagination object; callers
// must then fall back to duplicate/empty page detection.
type CaseListPage struct {
	IDs     []int
	HasNext *bool
}

type caseStub struct {
	ID FlexID `json:"id"`
}

type listPagination struct {
	CurrentPage int   `json:"currentPage"`
	TotalPages  int   `json:"totalPages"`
	HasNext     *bool `json:"hasNext"`
}

type listResponse struct {
	Success    bool            `json:"success"`
	Data       []caseStub      `json:"data"`
	Pagination *listPagination `json:"pagination"`
}

// detailEnvelope defers the data payload so the two known response shapes
// can be tried in order: v2 {data:{case:{...}}}, then v1 {data:[{...}]}.
type detailEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

// PatientInfo holds the patient attributes attached to a case
type PatientInfo struct {
	Age       string `json:"age"`
	Gender    string `json:"gender"`
	Ethnicity string `json:"ethnicity"`
	Height    string `json:"height"`
	Weight    string `json:"weight"`
}

// SEOInfo holds the per-case SEO fields
type SEOInfo struct {
	Headline        string `json:"headline"`
	PageTitle       string `json:"pageTitle"`
	PageDescription string `json:"pageDescription"`
	SuffixURL       string `json:"suffixUrl"`
}

// PhotoSet describes one before/after image pair of a case
type PhotoSet struct {
	BeforeURL  string `json:"before"`
	AfterURL   string `json:"after"`
	Processed  string `json:"processed"`
	HighRes    string `json:"highRes"`
	AltText    string `json:"altText"`
	IsNude     bool   `json:"isNude"`
	OrderIndex int    `json:"order"`
}

// CanonicalCase is the normalized case detail shape consumed by the
// pipeline, independent of which API variant produced it.
type CanonicalCase struct {
	ID           int
	ProcedureIDs []int
	Approved     bool
	Title        string
	Details      string
	Patient      PatientInfo
	SEO          SEOInfo
	PhotoSets    []PhotoSet
	CreatedAt    string
}

// CaseDetailV2 is the current detail response shape: data.case holds the
// record with nested patientInfo and seoInfo objects.
type CaseDetailV2 struct {
	Case struct {
		ID           FlexID   `json:"id"`
		Title        string   `json:"title"`
		Details      string   `json:"details"`
		ForWebsite   *bool    `json:"isForWebsite"`
		ProcedureIDs []FlexID `json:"procedureIds"`
		CreatedAt    string   `json:"createdAt"`

		PatientInfo *struct {
			Age       FlexID `json:"age"`
			Gender    string `json:"gender"`
			Ethnicity string `json:"ethnicity"`
			Height    string `json:"height"`
			Weight    string `json:"weight"`
		} `json:"patientInfo"`

		SEOInfo *struct {
			Headline        string `json:"seoHeadline"`
			PageTitle       string `json:"seoPageTitle"`
			PageDescription string `json:"seoPageDescription"`
			SuffixURL       string `json:"seoSuffixUrl"`
		} `json:"seoInfo"`

		PhotoSets []struct {
			PostProcessedImageLocation        string `json:"postProcessedImageLocation"`
			HighResPostProcessedImageLocation string `json:"highResPostProcessedImageLocation"`
			BeforeLocationURL                 string `json:"beforeLocationUrl"`
			AfterLocationURL                  string `json:"afterLocationUrl1"`
			SEOAltText                        string `json:"seoAltText"`
			IsNude                            bool   `json:"isNude"`
			OrderIndex                        int    `json:"orderIndex"`
		} `json:"photoSets"`

		Creator *struct {
			Name string `json:"name"`
		} `json:"creator"`
	} `json:"case"`
}

// Normalize converts the v2 shape into the canonical case
func (d *CaseDetailV2) Normalize() *CanonicalCase {
	c := &d.Case

	out := &CanonicalCase{
		ID:        c.ID.Int(),
		Title:     c.Title,
		Details:   c.Details,
		CreatedAt: c.CreatedAt,
		// Absent flag means publishable; only an explicit false excludes
		Approved: c.ForWebsite == nil || *c.ForWebsite,
	}

	for _, pid := range c.ProcedureIDs {
		if pid.Int() > 0 {
			out.ProcedureIDs = append(out.ProcedureIDs, pid.Int())
		}
	}

	if c.PatientInfo != nil {
		out.Patient = PatientInfo{
			Gender:    c.PatientInfo.Gender,
			Ethnicity: c.PatientInfo.Ethnicity,
			Height:    c.PatientInfo.Height,
			Weight:    c.PatientInfo.Weight,
		}
		if age := c.PatientInfo.Age.Int(); age > 0 {
			out.Patient.Age = strconv.Itoa(age)
		}
	}

	if c.SEOInfo != nil {
		out.SEO = SEOInfo{
			Headline:        c.SEOInfo.Headline,
			PageTitle:       c.SEOInfo.PageTitle,
			PageDescription: c.SEOInfo.PageDescription,
			SuffixURL:       c.SEOInfo.SuffixURL,
		}
	}

	for _, ps := range c.PhotoSets {
		out.PhotoSets = append(out.PhotoSets, PhotoSet{
			BeforeURL:  ps.BeforeLocationURL,
			AfterURL:   ps.AfterLocationURL,
			Processed:  ps.PostProcessedImageLocation,
			HighRes:    ps.HighResPostProcessedImageLocation,
			AltText:    ps.SEOAltText,
			IsNude:     ps.IsNude,
			OrderIndex: ps.OrderIndex,
		})
	}

	return out
}

// CaseDetailV1 is the older detail response shape: data is an array whose
// first element holds the record, with SEO fields inlined and photo sets
// carrying a nested images object.
type CaseDetailV1 struct {
	ID           FlexID   `json:"id"`
	Title        string   `json:"title"`
	Details      string   `json:"details"`
	ForWebsite   *bool    `json:"isForWebsite"`
	ProcedureIDs []FlexID `json:"procedureIds"`
	CreatedAt    string   `json:"createdAt"`

	Age       FlexID `json:"age"`
	Gender    string `json:"gender"`
	Ethnicity string `json:"ethnicity"`
	Height    string `json:"height"`
	Weight    string `json:"weight"`

	SEOHeadline        string `json:"seoHeadline"`
	SEOPageTitle       string `json:"seoPageTitle"`
	SEOPageDescription string `json:"seoPageDescription"`
	SEOSuffixURL       string `json:"seoSuffixUrl"`

	PhotoSets []struct {
		Images struct {
			Before string `json:"before"`
			After  string `json:"after"`
		} `json:"images"`
		SEOAltText string `json:"seoAltText"`
		IsNude     bool   `json:"isNude"`
	} `json:"photoSets"`
}

// Normalize converts the v1 shape into the canonical case
func (d *CaseDetailV1) Normalize() *CanonicalCase {
	out := &CanonicalCase{
		ID:        d.ID.Int(),
		Title:     d.Title,
		Details:   d.Details,
		CreatedAt: d.CreatedAt,
		Approved:  d.ForWebsite == nil || *d.ForWebsite,
		Patient: PatientInfo{
			Gender:    d.Gender,
			Ethnicity: d.Ethnicity,
			Height:    d.Height,
			Weight:    d.Weight,
		},
		SEO: SEOInfo{
			Headline:        d.SEOHeadline,
			PageTitle:       d.SEOPageTitle,
			PageDescription: d.SEOPageDescription,
			SuffixURL:       d.SEOSuffixURL,
		},
	}

	if age := d.Age.Int(); age > 0 {
		out.Patient.Age = strconv.Itoa(age)
	}

	for _, pid := range d.ProcedureIDs {
		if pid.Int() > 0 {
			out.ProcedureIDs = append(out.ProcedureIDs, pid.Int())
		}
	}

	for i, ps := range d.PhotoSets {
		out.PhotoSets = append(out.PhotoSets, PhotoSet{
			BeforeURL:  ps.Images.Before,
			AfterURL:   ps.Images.After,
			AltText:    ps.SEOAltText,
			IsNude:     ps.IsNude,
			OrderIndex: i,
		})
	}

	return out
}
