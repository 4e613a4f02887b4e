package analyzer

import "github.com/fatih/color"

// Severity is the danger level of a finding.
type Severity int

const (
	Safe Severity = iota
	Low
	Medium
	// High means a long lock or a table rewrite.
	High
	// Critical means data is lost.
	Critical
)

// String returns the uppercase label for the severity level.
func (s Severity) String() string {
	switch s {
	case Safe:
		return "SAFE"
	case Low:
		return "LOW"
	case Medium:
		return "MEDIUM"
	case High:
		return "HIGH"
	case Critical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Color returns the terminal style used for the severity label.
func (s Severity) Color() *color.Color {
	switch s {
	case Safe:
		return color.New(color.FgGreen)
	case Low:
		return color.New(color.FgCyan)
	case Medium:
		return color.New(color.FgYellow)
	case High:
		return color.New(color.FgRed)
	case Critical:
		return color.New(color.FgHiRed, color.Bold)
	default:
		return color.New(color.Reset)
	}
}
