package ingest

import (
	"fmt"

	"github.com/medreg-data/regsync/internal/regno"
)

// ErrorCode is a stable gate-rejection code. These codes are an external
// contract consumed by admin and reconciliation tooling; do not rename.
type ErrorCode string

const (
	CodeKeyMissing      ErrorCode = "CANONICAL_KEY_MISSING"
	CodeNormalizeFailed ErrorCode = "REG_NO_NORMALIZE_FAILED"
	CodeKeyConflict     ErrorCode = "CANONICAL_KEY_CONFLICT"
	CodeUDIWithoutReg   ErrorCode = "E_UDI_DI_WITHOUT_REG"
)

// GateResult is the accept/reject decision for one row.
type GateResult struct {
	OK     bool
	RegNo  string       // normalized canonical key when OK
	Norm   regno.Result // full normalizer output when OK
	Code   ErrorCode    // set when not OK
	Reason string       // human-readable rejection reason
}

// Gate validates that a row carries a usable, unambiguous canonical key.
// It never mutates state: it is a precondition check only. udiSource marks
// device-identifier feeds, whose missing-key rejections get their own code.
func Gate(row Row, udiSource bool) GateResult {
	cands := row.KeyCandidates()
	if len(cands) == 0 {
		if udiSource {
			return GateResult{
				Code:   CodeUDIWithoutReg,
				Reason: "device-identifier row carries no registry reference",
			}
		}
		return GateResult{
			Code:   CodeKeyMissing,
			Reason: "no registration-number field present",
		}
	}

	norm := regno.Normalize(cands[0])
	if !norm.Level.Anchorable() {
		return GateResult{
			Code:   CodeNormalizeFailed,
			Reason: fmt.Sprintf("registration number %q did not normalize: %s", cands[0], norm.Reason),
		}
	}

	// A second candidate field asserting a different identity means the
	// payload is self-contradictory and must not anchor a write.
	if len(cands) == 2 {
		second := regno.Normalize(cands[1])
		if second.Level.Anchorable() && second.Normalized != norm.Normalized {
			return GateResult{
				Code: CodeKeyConflict,
				Reason: fmt.Sprintf("candidate keys normalize to different identities: %s vs %s",
					norm.Normalized, second.Normalized),
			}
		}
	}

	return GateResult{OK: true, RegNo: norm.Normalized, Norm: norm}
}
