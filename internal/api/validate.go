package api

import (
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// qualifiedKeyRe matches "<group>.<setting>" keys: a dotless group segment
// followed by a non-empty setting segment.
var qualifiedKeyRe = regexp.MustCompile(`^[^.\s]+\.\S+$`)

type putSettingRequest struct {
	Value any `json:"value"`
}

func (r putSettingRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Value, validation.NotNil.Error("value is required")),
	)
}

type patchSettingsRequest struct {
	Values map[string]any `json:"values"`
}

func (r patchSettingsRequest) Validate() error {
	if err := validation.ValidateStruct(&r,
		validation.Field(&r.Values,
			validation.Required.Error("values must not be empty"),
		),
	); err != nil {
		return err
	}
	return validation.Validate(keysOf(r.Values),
		validation.Each(validation.Match(qualifiedKeyRe).
			Error("keys must be of the form \"group.setting\"")),
	)
}

type resetRequest struct {
	Group string `json:"group"`
}

func (r resetRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Group,
			validation.Match(regexp.MustCompile(`^[^.\s]*$`)).
				Error("group must not contain dots or whitespace"),
		),
	)
}

func keysOf(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
