// Package filter decides which source rows are admitted into the stream.
// Empty criteria admit everything, so an unconfigured filter is a no-op.
package filter

import "strings"

// Filter holds the admission criteria for forms, registrants, and years.
type Filter struct {
	forms map[string]struct{}
	ciks  map[string]struct{}
	years map[int]struct{}
}

// New builds a filter. Forms are normalized before matching, CIKs compare
// with leading zeros ignored, years compare exactly.
func New(forms, ciks []string, years []int) *Filter {
	f := &Filter{}
	if len(forms) > 0 {
		f.forms = make(map[string]struct{}, len(forms))
		for _, form := range forms {
			f.forms[NormalizeForm(form)] = struct{}{}
		}
	}
	if len(ciks) > 0 {
		f.ciks = make(map[string]struct{}, len(ciks))
		for _, cik := range ciks {
			f.ciks[NormalizeCIK(cik)] = struct{}{}
		}
	}
	if len(years) > 0 {
		f.years = make(map[int]struct{}, len(years))
		for _, y := range years {
			f.years[y] = struct{}{}
		}
	}
	return f
}

// NormalizeForm upper-cases and trims a form type so "10-k " matches "10-K".
func NormalizeForm(form string) string {
	return strings.ToUpper(strings.TrimSpace(form))
}

// NormalizeCIK trims whitespace and leading zeros. EDGAR renders the same
// registrant as both "0000320193" and "320193".
func NormalizeCIK(cik string) string {
	trimmed := strings.TrimLeft(strings.TrimSpace(cik), "0")
	if trimmed == "" && strings.TrimSpace(cik) != "" {
		return "0"
	}
	return trimmed
}

// AdmitForm reports whether the form type passes.
func (f *Filter) AdmitForm(form string) bool {
	if f.forms == nil {
		return true
	}
	_, ok := f.forms[NormalizeForm(form)]
	return ok
}

// AdmitCIK reports whether the registrant passes.
func (f *Filter) AdmitCIK(cik string) bool {
	if f.ciks == nil {
		return true
	}
	_, ok := f.ciks[NormalizeCIK(cik)]
	return ok
}

// AdmitYear reports whether the filing year passes.
func (f *Filter) AdmitYear(year int) bool {
	if f.years == nil {
		return true
	}
	_, ok := f.years[year]
	return ok
}

// Admit applies all criteria.
func (f *Filter) Admit(form, cik string, year int) bool {
	return f.AdmitForm(form) && f.AdmitCIK(cik) && f.AdmitYear(year)
}
