package domain

// DetectedViolation is one finding returned by the violation detector.
// Offsets are half-open character ranges into the screened text and are
// clamped by the processor before persistence.
type DetectedViolation struct {
	StartPos     int
	EndPos       int
	Reason       string
	DictionaryID string // empty when no direct dictionary match
}

// DetectionResult is the structured verdict of the violation detector:
// a compliant rewrite of the text plus the findings that motivated it.
type DetectionResult struct {
	ModifiedText string
	Violations   []DetectedViolation
}
