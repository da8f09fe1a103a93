// Package ingest drives source runs: gating, deduplication, raw persistence,
// policy-based upsert, and the reconciliation backlog.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/medreg-data/regsync/internal/registry"
)

// Row is one incoming record as a flat string-keyed map. Connectors adapt
// their native shapes (CSV columns, JSON objects, spreadsheet cells) into
// this form; the core only ever sees named accessors over it.
type Row map[string]string

// CanonicalJSON returns the canonical JSON form of the row. Go's map
// marshaling sorts keys, so the encoding is stable for hashing.
func (r Row) CanonicalJSON() []byte {
	b, _ := json.Marshal(r)
	return b
}

// Hash returns the content hash of the row's canonical JSON form.
func (r Row) Hash() string {
	sum := sha256.Sum256(r.CanonicalJSON())
	return hex.EncodeToString(sum[:])
}

// first returns the row's first non-empty value among the given keys.
func (r Row) first(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(r[k]); v != "" {
			return v
		}
	}
	return ""
}

// keyAliases is the priority-ordered list of field names that may carry the
// registration number. Earlier aliases win.
var keyAliases = []string{
	"registration_no",
	"reg_no",
	"registration_number",
	"registry_no",
	"注册证编号",
	"注册证号",
	"udi_reg_no",
}

// fieldAliases maps each tracked field to its known source spellings.
var fieldAliases = map[registry.Field][]string{
	registry.FieldFilingNo:   {"filing_no", "filing_number", "record_no", "备案凭证编号"},
	registry.FieldApprovedAt: {"approved_at", "approval_date", "issue_date", "批准日期"},
	registry.FieldExpiresAt:  {"expires_at", "expiry_date", "valid_until", "有效期至"},
	registry.FieldStatus:     {"status", "reg_status", "注册证状态"},
}

// dateLayouts are the input date formats sources are known to use.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"20060102",
	"2006.01.02",
	"2006年01月02日",
	"2006年1月2日",
}

// TrackedValues extracts tracked-field values from a row in canonical
// textual form. Date fields are normalized to YYYY-MM-DD; values that fail
// date parsing are dropped (empty values are noops downstream).
func (r Row) TrackedValues() map[registry.Field]string {
	out := make(map[registry.Field]string)
	for field, aliases := range fieldAliases {
		v := r.first(aliases...)
		if v == "" {
			continue
		}
		if field == registry.FieldApprovedAt || field == registry.FieldExpiresAt {
			v = normalizeDate(v)
			if v == "" {
				continue
			}
		}
		out[field] = v
	}
	return out
}

// KeyCandidates returns up to two distinct raw key candidates from the row,
// in alias priority order.
func (r Row) KeyCandidates() []string {
	var cands []string
	for _, alias := range keyAliases {
		v := strings.TrimSpace(r[alias])
		if v == "" {
			continue
		}
		if len(cands) > 0 && cands[0] == v {
			continue
		}
		cands = append(cands, v)
		if len(cands) == 2 {
			break
		}
	}
	return cands
}

// TriageCandidates captures best-effort identifier-ish values from a row
// that failed the gate, for human reconciliation.
func (r Row) TriageCandidates() map[string]string {
	out := make(map[string]string)
	for _, alias := range keyAliases {
		if v := strings.TrimSpace(r[alias]); v != "" {
			out[alias] = v
		}
	}
	for _, alias := range []string{"udi_di", "di", "product_name", "产品名称", "manufacturer", "注册人名称"} {
		if v := strings.TrimSpace(r[alias]); v != "" {
			out[alias] = v
		}
	}
	return out
}

// observedAtAliases name the row fields that may carry the source-side
// observation timestamp.
var observedAtAliases = []string{"observed_at", "updated_at", "last_updated", "数据更新时间"}

var observedAtLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
}

// ObservedAt extracts the source-side observation timestamp from a row. The
// second return is false when the row carries none (or an unparseable one).
func (r Row) ObservedAt() (time.Time, bool) {
	v := r.first(observedAtAliases...)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range observedAtLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}
