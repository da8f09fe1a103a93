// Package regno normalizes and classifies medical-device registration numbers.
//
// Registration numbers arrive in thousands of formatting variants: full-width
// digits and parentheses, embedded whitespace, pre-2014 agency names, and the
// post-2014 NMPA format. Normalize collapses these into one canonical string
// and reports how much structure it recognized, so callers can decide whether
// the key is trustworthy enough to anchor a write.
package regno

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

// Era is the format generation of a registration number.
type Era string

const (
	EraCurrent Era = "current" // post-2014 NMPA format
	EraLegacy  Era = "legacy"  // pre-2014 SFDA/CFDA formats
	EraUnknown Era = "unknown"
)

// Origin is the regulatory origin encoded in the number.
type Origin string

const (
	OriginDomestic Origin = "domestic" // 准: domestic approval
	OriginImport   Origin = "import"   // 进: imported device
	OriginPermit   Origin = "permit"   // 许: HK/Macao/Taiwan permit
	OriginFiling   Origin = "filing"   // 备: class I filing
	OriginUnknown  Origin = "unknown"
)

// Level reports how much structure the normalizer recognized.
// Ordering matters: FULL > PARTIAL > CLASSIFIED > FAIL.
type Level int

const (
	LevelFail Level = iota
	LevelClassified
	LevelPartial
	LevelFull
)

// String returns the tag used in logs and persisted metadata.
func (l Level) String() string {
	switch l {
	case LevelFull:
		return "FULL"
	case LevelPartial:
		return "PARTIAL"
	case LevelClassified:
		return "CLASSIFIED"
	default:
		return "FAIL"
	}
}

// Anchorable reports whether the parse recognized enough structure for the
// key to serve as a canonical registration identity.
func (l Level) Anchorable() bool { return l > LevelFail }

// Reason is a stable failure code for unanchorable inputs.
type Reason string

const (
	ReasonMissing         Reason = "REGNO_MISSING"
	ReasonNormalizeFailed Reason = "REGNO_NORMALIZE_FAILED"
	ReasonUnknownPattern  Reason = "UNKNOWN_PATTERN"
)

// Result is the outcome of normalizing one raw registration number.
type Result struct {
	Normalized string  `json:"normalized"`
	Era        Era     `json:"era"`
	Origin     Origin  `json:"origin"`
	Class      int     `json:"class,omitempty"` // management class 1-3, 0 when not derivable
	Confidence float64 `json:"confidence"`
	Level      Level   `json:"level"`
	Reason     Reason  `json:"reason,omitempty"` // set when Level == LevelFail
}

// MarshalJSON renders the level tag rather than its numeric value.
func (l Level) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.String() + `"`), nil
}

var originByMark = map[string]Origin{
	"准": OriginDomestic,
	"进": OriginImport,
	"许": OriginPermit,
}

// formatPattern pairs a format regexp with its classifier. Patterns are
// evaluated in order and the first match wins, so newer formats must come
// before the looser legacy heuristics.
type formatPattern struct {
	re       *regexp.Regexp
	classify func(m []string) Result
}

var patterns = []formatPattern{
	// Current NMPA format: 国械注准20243170001 or provincial 苏械注准2024xxx.
	// Digits after the mark: year(4) class(1) category(2) serial(4).
	{
		re: regexp.MustCompile(`^([\p{Han}])械注(准|进|许)(20\d{2})([1-3])(\d{2})(\d{4})$`),
		classify: func(m []string) Result {
			return Result{
				Normalized: m[0],
				Era:        EraCurrent,
				Origin:     originByMark[m[2]],
				Class:      int(m[4][0] - '0'),
				Confidence: 1.0,
				Level:      LevelFull,
			}
		},
	},
	// Class I filing format: 京械备20180001号. Trailing 号 is optional on
	// input but part of the canonical form.
	{
		re: regexp.MustCompile(`^([\p{Han}]{1,4})械备(20\d{2})(\d{4,5})号?$`),
		classify: func(m []string) Result {
			return Result{
				Normalized: m[1] + "械备" + m[2] + m[3] + "号",
				Era:        EraCurrent,
				Origin:     OriginFiling,
				Class:      1,
				Confidence: 0.95,
				Level:      LevelFull,
			}
		},
	},
	// Legacy formats with a known agency name:
	// 国食药监械(准)字2013第3400123号, 国药监械(进)字..., provincial 苏食药监械(准)字...
	// Serial digits: class(1) category(2) serial(4).
	{
		re: regexp.MustCompile(`^([\p{Han}]{0,2})(国食药监|国药监|食药监|药监)械\((准|进|许)\)字(\d{4})第(\d{7})号$`),
		classify: func(m []string) Result {
			return Result{
				Normalized: m[0],
				Era:        EraLegacy,
				Origin:     originByMark[m[3]],
				Class:      legacyClass(m[5]),
				Confidence: 0.9,
				Level:      LevelFull,
			}
		},
	},
	// Legacy shape with an unrecognized agency name: parse origin and year
	// but treat the agency segment as opaque.
	{
		re: regexp.MustCompile(`^([\p{Han}]+)械\((准|进|许)\)字(\d{4})第(\d+)号$`),
		classify: func(m []string) Result {
			return Result{
				Normalized: m[0],
				Era:        EraLegacy,
				Origin:     originByMark[m[2]],
				Class:      legacyClass(m[4]),
				Confidence: 0.6,
				Level:      LevelPartial,
			}
		},
	},
	// Generic "looks legacy" heuristic: a device mark plus a 字...第N号 tail.
	// Enough to classify the era, not enough to trust the parse.
	{
		re: regexp.MustCompile(`^[\p{Han}]*械[\p{Han}()]*字[\p{Han}\d]*第\d+号$`),
		classify: func(m []string) Result {
			return Result{
				Normalized: m[0],
				Era:        EraLegacy,
				Origin:     OriginUnknown,
				Confidence: 0.3,
				Level:      LevelClassified,
			}
		},
	},
}

// variantFolder maps character variants that width folding does not cover.
var variantFolder = strings.NewReplacer(
	"號", "号",
	"〔", "(",
	"〕", ")",
	"【", "(",
	"】", ")",
	"[", "(",
	"]", ")",
)

// Normalize folds a raw registration-number string into canonical form and
// classifies its structure. It is pure and deterministic: the same input
// always yields the same Result.
func Normalize(raw string) Result {
	if strings.TrimSpace(raw) == "" {
		return Result{Level: LevelFail, Reason: ReasonMissing}
	}

	s := fold(raw)
	if s == "" {
		return Result{Level: LevelFail, Reason: ReasonNormalizeFailed}
	}

	for _, p := range patterns {
		if m := p.re.FindStringSubmatch(s); m != nil {
			return p.classify(m)
		}
	}

	return Result{
		Normalized: s,
		Era:        EraUnknown,
		Origin:     OriginUnknown,
		Level:      LevelFail,
		Reason:     ReasonUnknownPattern,
	}
}

// fold collapses formatting variants: full-width characters to their narrow
// forms, whitespace removed, ASCII uppercased, bracket and glyph variants
// unified.
func fold(raw string) string {
	s := width.Fold.String(raw)
	s = variantFolder.Replace(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// legacyClass derives the management class from a legacy serial segment,
// whose first digit carries the class when the segment is fully formed.
func legacyClass(serial string) int {
	if len(serial) != 7 {
		return 0
	}
	c := int(serial[0] - '0')
	if c < 1 || c > 3 {
		return 0
	}
	return c
}
