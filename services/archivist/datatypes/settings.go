// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// SettingType declares how a stored string value is parsed and rendered.
type SettingType string

const (
	SettingText   SettingType = "text"
	SettingSecret SettingType = "secret"
	SettingInt    SettingType = "int"
	SettingFloat  SettingType = "float"
	SettingBool   SettingType = "bool"
	SettingSelect SettingType = "select"
)

// SettingSpec is a plugin-declared setting default. Registered with
// insert-if-absent semantics so user-edited values survive restarts.
type SettingSpec struct {
	Key         string      `json:"key"`
	Default     string      `json:"default"`
	Category    string      `json:"category"`
	Type        SettingType `json:"type"`
	Description string      `json:"description"`
}

// CategoryMeta drives settings-UI grouping.
type CategoryMeta struct {
	Label string `json:"label"`
	Order int    `json:"order"`
}
