package regno

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_CurrentFormat(t *testing.T) {
	tests := []struct {
		name       string
		in         string
		normalized string
		origin     Origin
		class      int
	}{
		{
			name:       "national domestic",
			in:         "国械注准20243170001",
			normalized: "国械注准20243170001",
			origin:     OriginDomestic,
			class:      3,
		},
		{
			name:       "national import",
			in:         "国械注进20242080123",
			normalized: "国械注进20242080123",
			origin:     OriginImport,
			class:      2,
		},
		{
			name:       "national permit",
			in:         "国械注许20241060042",
			normalized: "国械注许20241060042",
			origin:     OriginPermit,
			class:      1,
		},
		{
			name:       "provincial domestic",
			in:         "苏械注准20242140055",
			normalized: "苏械注准20242140055",
			origin:     OriginDomestic,
			class:      2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			assert.Equal(t, LevelFull, got.Level)
			assert.Equal(t, EraCurrent, got.Era)
			assert.Equal(t, tt.normalized, got.Normalized)
			assert.Equal(t, tt.origin, got.Origin)
			assert.Equal(t, tt.class, got.Class)
			assert.InDelta(t, 1.0, got.Confidence, 0.001)
			assert.True(t, got.Level.Anchorable())
		})
	}
}

func TestNormalize_FoldsVariants(t *testing.T) {
	// Full-width digits, embedded whitespace, and glyph variants must fold
	// to the same canonical string as the clean form.
	clean := Normalize("国械注准20243170001")
	require.Equal(t, LevelFull, clean.Level)

	variants := []string{
		"国械注准２０２４３１７０００１", // full-width digits
		"国械注准 2024 317 0001", // embedded spaces
		" 国械注准20243170001\t",  // surrounding whitespace
	}
	for _, v := range variants {
		got := Normalize(v)
		assert.Equal(t, clean.Normalized, got.Normalized, "input %q", v)
		assert.Equal(t, LevelFull, got.Level, "input %q", v)
	}
}

func TestNormalize_FilingFormat(t *testing.T) {
	got := Normalize("京械备20180001号")
	assert.Equal(t, LevelFull, got.Level)
	assert.Equal(t, OriginFiling, got.Origin)
	assert.Equal(t, 1, got.Class)
	assert.Equal(t, "京械备20180001号", got.Normalized)

	// Trailing 号 is optional on input but always present in canonical form.
	without := Normalize("京械备20180001")
	assert.Equal(t, got.Normalized, without.Normalized)
}

func TestNormalize_LegacyFormat(t *testing.T) {
	got := Normalize("国食药监械(准)字2013第3400123号")
	assert.Equal(t, LevelFull, got.Level)
	assert.Equal(t, EraLegacy, got.Era)
	assert.Equal(t, OriginDomestic, got.Origin)
	assert.Equal(t, 3, got.Class)

	// Full-width parentheses and the 號 variant fold into the same identity.
	variant := Normalize("国食药监械（准）字2013第3400123號")
	assert.Equal(t, got.Normalized, variant.Normalized)
}

func TestNormalize_LegacyUnknownAgency(t *testing.T) {
	got := Normalize("某某监械(进)字2009第2150034号")
	assert.Equal(t, LevelPartial, got.Level)
	assert.Equal(t, EraLegacy, got.Era)
	assert.Equal(t, OriginImport, got.Origin)
	assert.True(t, got.Level.Anchorable())
}

func TestNormalize_ClassifiedOnly(t *testing.T) {
	got := Normalize("川械试字2005第12号")
	assert.Equal(t, LevelClassified, got.Level)
	assert.Equal(t, EraLegacy, got.Era)
	assert.Equal(t, OriginUnknown, got.Origin)
	assert.True(t, got.Level.Anchorable())
}

func TestNormalize_Failures(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		reason Reason
	}{
		{"empty", "", ReasonMissing},
		{"whitespace only", "   \t", ReasonMissing},
		{"unrecognized pattern", "ABC-123-XYZ", ReasonUnknownPattern},
		{"year out of range", "国械注准19993170001", ReasonUnknownPattern},
		{"class out of range", "国械注准20244170001", ReasonUnknownPattern},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			assert.Equal(t, LevelFail, got.Level)
			assert.Equal(t, tt.reason, got.Reason)
			assert.False(t, got.Level.Anchorable())
		})
	}
}

func TestNormalize_UnknownPatternKeepsFoldedForm(t *testing.T) {
	got := Normalize(" abc１２３ ")
	assert.Equal(t, LevelFail, got.Level)
	// The folded form is retained for triage display.
	assert.Equal(t, "ABC123", got.Normalized)
}

func TestNormalize_Deterministic(t *testing.T) {
	inputs := []string{
		"国械注准20243170001",
		"京械备20180001",
		"国食药监械（准）字2013第3400123号",
		"garbage",
		"",
	}
	for _, in := range inputs {
		first := Normalize(in)
		for range 5 {
			assert.Equal(t, first, Normalize(in), "input %q", in)
		}
	}
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "FULL", LevelFull.String())
	assert.Equal(t, "PARTIAL", LevelPartial.String())
	assert.Equal(t, "CLASSIFIED", LevelClassified.String())
	assert.Equal(t, "FAIL", LevelFail.String())
}
