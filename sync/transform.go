package sync

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clinicgallery/casesync/gallery"
)

// TransformCase maps a canonical case onto the gallery_cases record shape.
// Structured sub-objects are stored as JSON strings so FieldEquals can
// compare them semantically on update.
func TransformCase(c *gallery.CanonicalCase, procedureID int, key string) map[string]interface{} {
	title := strings.TrimSpace(c.Title)
	if title == "" {
		title = fmt.Sprintf("Case %d", c.ID)
	}

	slug := strings.TrimSpace(c.SEO.SuffixURL)
	if slug == "" {
		slug = fmt.Sprintf("%s-%d", slugify(title), c.ID)
	}

	data := map[string]interface{}{
		"external_key": key,
		"case_id":      c.ID,
		"procedure_id": procedureID,
		"title":        title,
		"slug":         slug,
		"content":      c.Details,
		"created_at":   c.CreatedAt,
	}

	if patient, err := json.Marshal(c.Patient); err == nil {
		data["patient"] = string(patient)
	}
	if seo, err := json.Marshal(c.SEO); err == nil {
		data["seo"] = string(seo)
	}
	if photoSets := c.PhotoSets; len(photoSets) > 0 {
		if encoded, err := json.Marshal(photoSets); err == nil {
			data["photo_sets"] = string(encoded)
		}
	} else {
		data["photo_sets"] = "[]"
	}

	return data
}

// slugify lowercases and collapses everything non-alphanumeric into hyphens
func slugify(s string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
