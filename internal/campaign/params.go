package campaign

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gorm.io/datatypes"

	"gitlab.com/dubbox/api/wa-campaign-engine/internal/gateway"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/model"
)

const customFieldPrefix = "custom."

// personalizeParameters resolves a campaign's positional template slots for
// one contact. Slot values naming a contact field ("name", "phone" or
// "custom.<key>") are substituted; anything else passes through literally.
// Slots are ordered by their numeric key, so {"1": ..., "2": ..., "10": ...}
// yields ten parameters in template order.
func personalizeParameters(templateParams datatypes.JSON, contact *model.Contact) ([]string, error) {
	if len(templateParams) == 0 {
		return nil, nil
	}

	var slots map[string]string
	if err := json.Unmarshal(templateParams, &slots); err != nil {
		return nil, fmt.Errorf("decode template params: %w", err)
	}
	if len(slots) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(slots))
	for key := range slots {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, aErr := strconv.Atoi(keys[i])
		b, bErr := strconv.Atoi(keys[j])
		if aErr != nil || bErr != nil {
			return keys[i] < keys[j]
		}
		return a < b
	})

	customFields := decodeCustomFields(contact.CustomFields)

	params := make([]string, 0, len(keys))
	for _, key := range keys {
		params = append(params, resolveSlot(slots[key], contact, customFields))
	}
	return params, nil
}

func resolveSlot(value string, contact *model.Contact, customFields map[string]string) string {
	switch {
	case value == "name":
		return contact.Name
	case value == "phone" || value == "phone_number":
		return contact.PhoneNumber
	case strings.HasPrefix(value, customFieldPrefix):
		return customFields[value[len(customFieldPrefix):]]
	default:
		return value
	}
}

func decodeCustomFields(data datatypes.JSON) map[string]string {
	if len(data) == 0 {
		return nil
	}
	var fields map[string]string
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil
	}
	return fields
}

// renderTemplateBody substitutes positional {{n}} placeholders in the
// template's body component, for the denormalized conversation history copy
// of a campaign send. Without a body component the template name is used.
func renderTemplateBody(tpl gateway.Template, params []string) string {
	body := ""
	for _, component := range tpl.Components {
		if strings.EqualFold(component.Type, "BODY") {
			body = component.Text
			break
		}
	}
	if body == "" {
		return tpl.Name
	}
	for i, param := range params {
		body = strings.ReplaceAll(body, fmt.Sprintf("{{%d}}", i+1), param)
	}
	return body
}

// encodeParameters marshals resolved positional parameters into the
// CampaignContact JSONB column.
func encodeParameters(params []string) (datatypes.JSON, error) {
	if len(params) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode campaign parameters: %w", err)
	}
	return datatypes.JSON(data), nil
}

// decodeParameters unmarshals stored positional parameters; an empty column
// yields nil.
func decodeParameters(data datatypes.JSON) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var params []string
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("decode campaign parameters: %w", err)
	}
	return params, nil
}
