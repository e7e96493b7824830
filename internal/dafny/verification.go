package dafny

// verification.go parses the log of a verify request into diagnostics and a
// summary result.

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	diagnosticRe      = regexp.MustCompile(`\((-?\d+),(-?\d+)\): (Error|Warning|Info)( [A-Za-z0-9_]+)?: (.*)`)
	proofObligationRe = regexp.MustCompile(`\[(\d+) proof obligations?\]`)
)

// ParseVerificationLog scans log line by line. Every diagnostic line becomes a
// Diagnostic; only "Error" lines count towards ErrorCount. Proof obligation
// counts are summed across all summary lines.
func ParseVerificationLog(log string) (VerificationResult, []Diagnostic) {
	var result VerificationResult
	diags := []Diagnostic{}

	for _, line := range strings.Split(log, "\n") {
		line = strings.TrimRight(line, "\r")

		if m := diagnosticRe.FindStringSubmatch(line); m != nil {
			d := Diagnostic{
				Range: Range{
					Start: Position{Line: toZeroBased(m[1]), Character: toZeroBased(m[2])},
				},
				Severity: severityOf(m[3]),
				Code:     strings.TrimSpace(m[4]),
				Message:  strings.TrimSpace(m[5]),
				Source:   "dafny",
			}
			d.Range.End = d.Range.Start
			diags = append(diags, d)
			if m[3] == "Error" {
				result.ErrorCount++
			}
		}

		if m := proofObligationRe.FindStringSubmatch(line); m != nil {
			n, err := strconv.Atoi(m[1])
			if err == nil {
				result.ProofObligations += n
			}
		}
	}

	switch {
	case strings.Contains(log, failureMarker):
		result.Status = StatusFailed
	case result.ErrorCount > 0:
		result.Status = StatusNotVerified
	default:
		result.Status = StatusVerified
	}
	return result, diags
}

// CrashedResult is recorded for a request whose process died under it.
func CrashedResult() VerificationResult {
	return VerificationResult{Status: StatusFailed, Crashed: true}
}

// toZeroBased converts a one-based coordinate. The verifier sometimes reports
// 0 despite the one-based convention, so values below 1 clamp to 0.
func toZeroBased(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0
	}
	return n - 1
}

func severityOf(keyword string) Severity {
	switch keyword {
	case "Error":
		return SeverityError
	case "Warning":
		return SeverityWarning
	}
	return SeverityInformation
}
