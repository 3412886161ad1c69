// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package identity

import "testing"

func TestDetectScript(t *testing.T) {
	tests := []struct {
		text string
		want Script
	}{
		{"Shiran Waintrob", ScriptLatin},
		{"שירן ויינטרוב", ScriptHebrew},
		{"Shiran שירן", ScriptMixed},
		{"12345", ScriptUnknown},
		{"", ScriptUnknown},
		{"!!!", ScriptUnknown},
	}
	for _, tt := range tests {
		if got := DetectScript(tt.text); got != tt.want {
			t.Errorf("DetectScript(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestIsValidPersonName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"David Cohen", true},
		{"שירן", true},
		{"", false},
		{"a", false},
		{"123456", false},
		{"!!!", false},
		{"(‎)", false},
		{"''", false},
		{"*K", false},
		{"😀😀", false},
		{"David123", true},
	}
	for _, tt := range tests {
		if got := IsValidPersonName(tt.name); got != tt.want {
			t.Errorf("IsValidPersonName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+972-50-123-4567", "972501234567"},
		{"0501234567", "501234567"},
		{"(050) 123 4567", "501234567"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizePhone(tt.in); got != tt.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLidPhoneImpostor(t *testing.T) {
	if !lidPhoneImpostor("196121158754445@lid", "196121158754445") {
		t.Error("LID digits must be detected as a phone impostor")
	}
	if lidPhoneImpostor("972501234567@c.us", "972501234567") {
		t.Error("regular whatsapp ids are not linked ids")
	}
	if lidPhoneImpostor("196121158754445@lid", "972501234567") {
		t.Error("a differing phone is not an impostor")
	}
}

func TestComputeDisplayName(t *testing.T) {
	aliases := []Alias{
		{Alias: "Shiran Waintrob", Script: ScriptLatin},
		{Alias: "Shiran", Script: ScriptLatin},
		{Alias: "שירן ויינטרוב", Script: ScriptHebrew},
		{Alias: "שירן", Script: ScriptHebrew},
		{Alias: "+972501234567", Script: ScriptNumeric},
	}
	got := ComputeDisplayName("Shiran Waintrob", aliases)
	want := "Shiran Waintrob / שירן ויינטרוב"
	if got != want {
		t.Errorf("ComputeDisplayName = %q, want %q", got, want)
	}

	// Mixed canonical names stay untouched.
	if got := ComputeDisplayName("Shiran שירן", aliases); got != "Shiran שירן" {
		t.Errorf("mixed canonical changed: %q", got)
	}

	// One script only falls back to canonical.
	latin := []Alias{{Alias: "Shiran", Script: ScriptLatin}}
	if got := ComputeDisplayName("Shiran", latin); got != "Shiran" {
		t.Errorf("single-script fallback broken: %q", got)
	}
}
