// Package schema loads group and setting declarations from a JSON document,
// so a daemon can be configured without recompiling.
//
// The document shape is:
//
//	{
//	  "groups": [
//	    {
//	      "key": "audio",
//	      "settings": [
//	        {
//	          "key": "volume",
//	          "type": "int",
//	          "defaultValue": 5,
//	          "userConfigurable": true,
//	          "validator": {"type": "range", "min": 0, "max": 10}
//	        }
//	      ]
//	    }
//	  ]
//	}
package schema

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mvail/prefd/internal/settings"
)

type document struct {
	Groups []groupDoc `json:"groups"`
}

type groupDoc struct {
	Key      string           `json:"key"`
	Settings []map[string]any `json:"settings"`
}

// Load reads and parses the schema file at path.
func Load(path string) ([]settings.GroupConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema: %w", err)
	}
	return Parse(data)
}

// Parse builds group configurations from a JSON schema document.
func Parse(data []byte) ([]settings.GroupConfig, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing schema: %w", err)
	}
	if len(doc.Groups) == 0 {
		return nil, fmt.Errorf("schema declares no groups")
	}

	seen := make(map[string]bool, len(doc.Groups))
	groups := make([]settings.GroupConfig, 0, len(doc.Groups))
	for _, gd := range doc.Groups {
		if gd.Key == "" {
			return nil, fmt.Errorf("schema group without a key")
		}
		if seen[gd.Key] {
			return nil, fmt.Errorf("schema declares group %q twice", gd.Key)
		}
		seen[gd.Key] = true

		items := make([]*settings.Setting, 0, len(gd.Settings))
		for i, sm := range gd.Settings {
			s, err := settings.SettingFromMap(sm)
			if err != nil {
				return nil, fmt.Errorf("group %q, setting %d: %w", gd.Key, i, err)
			}
			if raw, ok := sm["validator"].(map[string]any); ok {
				v, err := settings.FromMap(raw)
				if err != nil {
					return nil, fmt.Errorf("group %q, setting %q: validator: %w", gd.Key, s.Key, err)
				}
				if verr := s.WithValidator(v).ValidateValue(s.Default); verr != nil {
					return nil, fmt.Errorf("group %q, setting %q: default rejected by its own validator: %w",
						gd.Key, s.Key, verr)
				}
			}
			items = append(items, s)
		}
		groups = append(groups, settings.GroupConfig{Key: gd.Key, Items: items})
	}
	return groups, nil
}
