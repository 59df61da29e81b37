package lifecycle

// VerificationResult compares the counts a transfer reported with the
// counts recorded when the operation was created.
type VerificationResult struct {
	Matched       bool
	ExpectedBytes int64
	ExpectedFiles int64
	ActualBytes   *int64
	ActualFiles   *int64
}

// Verify checks reported byte and file counts against the expected totals.
// Missing counts never match.
func Verify(expectedBytes, expectedFiles int64, actualBytes, actualFiles *int64) VerificationResult {
	return VerificationResult{
		Matched: actualBytes != nil && actualFiles != nil &&
			*actualBytes == expectedBytes && *actualFiles == expectedFiles,
		ExpectedBytes: expectedBytes,
		ExpectedFiles: expectedFiles,
		ActualBytes:   actualBytes,
		ActualFiles:   actualFiles,
	}
}

// Mismatches names the counters that did not match
func (r VerificationResult) Mismatches() []string {
	var out []string
	if r.ActualBytes == nil || *r.ActualBytes != r.ExpectedBytes {
		out = append(out, "bytes")
	}
	if r.ActualFiles == nil || *r.ActualFiles != r.ExpectedFiles {
		out = append(out, "files")
	}
	return out
}

// Details renders the comparison for an operation's error_details
func (r VerificationResult) Details() map[string]any {
	return map[string]any{
		"expected_bytes": r.ExpectedBytes,
		"expected_files": r.ExpectedFiles,
		"actual_bytes":   derefOrNil(r.ActualBytes),
		"actual_files":   derefOrNil(r.ActualFiles),
		"mismatches":     r.Mismatches(),
	}
}

func derefOrNil(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
