package model

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
)

// CampaignFilter is the contact-selection specification attached to a
// campaign. Segment predicates run against the external segmentation
// source; attribute predicates filter locally stored contacts.
type CampaignFilter struct {
	// Segment predicates, resolved via the segmentation source.
	Tags         []string          `json:"tags,omitempty"`
	Surveys      []string          `json:"surveys,omitempty"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`

	// Local attribute predicates.
	ContactStatus ContactStatus `json:"contact_status,omitempty"`
	PhoneNumbers  []string      `json:"phone_numbers,omitempty"`
}

// Empty reports whether the filter selects nothing at all.
func (f CampaignFilter) Empty() bool {
	return len(f.Tags) == 0 && len(f.Surveys) == 0 && len(f.CustomFields) == 0 &&
		f.ContactStatus == "" && len(f.PhoneNumbers) == 0
}

// HasSegmentPredicates reports whether the external segmentation source
// must be consulted to resolve this filter.
func (f CampaignFilter) HasSegmentPredicates() bool {
	return len(f.Tags) > 0 || len(f.Surveys) > 0 || len(f.CustomFields) > 0
}

// EncodeFilter marshals a filter into the campaign's JSONB column.
func EncodeFilter(f CampaignFilter) (datatypes.JSON, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode campaign filter: %w", err)
	}
	return datatypes.JSON(data), nil
}

// DecodeFilter unmarshals a campaign's stored filter column.
func DecodeFilter(data datatypes.JSON) (CampaignFilter, error) {
	var f CampaignFilter
	if len(data) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("decode campaign filter: %w", err)
	}
	return f, nil
}
