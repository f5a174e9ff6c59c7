package catalog

import (
	"fmt"
	"strings"
)

// Violation describes one broken dataset invariant.
type Violation struct {
	URLID   string
	License int
	Message string
}

func (v Violation) String() string {
	if v.URLID != "" {
		return fmt.Sprintf("%s: %s", v.URLID, v.Message)
	}
	return fmt.Sprintf("license %d: %s", v.License, v.Message)
}

// VerifyError lists every invariant violation found by Verify.
type VerifyError struct {
	Violations []Violation
}

func (e *VerifyError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.String())
	}
	return fmt.Sprintf("dataset invariant violated (%d): %s", len(e.Violations), strings.Join(parts, "; "))
}

// Verify checks that every active listing references a known license and that
// each license count equals the number of active listings referencing it.
// A listing that was never health-checked and has no license is pending
// intake rather than a violation.
func (d *Dataset) Verify() error {
	known := d.KnownIDs()
	counts := make(map[int]int, len(known))
	var violations []Violation
	for _, l := range d.Listings {
		if l.Status != StatusActive {
			continue
		}
		if l.License == nil {
			if l.Pending() {
				continue
			}
			violations = append(violations, Violation{URLID: l.URLID, Message: "active listing has no license"})
			continue
		}
		if _, ok := known[*l.License]; !ok {
			violations = append(violations, Violation{
				URLID:   l.URLID,
				License: *l.License,
				Message: fmt.Sprintf("active listing references unknown license %d", *l.License),
			})
			continue
		}
		counts[*l.License]++
	}
	for _, lic := range d.Licenses {
		if lic.Count != counts[lic.BCID] {
			violations = append(violations, Violation{
				License: lic.BCID,
				Message: fmt.Sprintf("count %d but %d active listings", lic.Count, counts[lic.BCID]),
			})
		}
	}
	if len(violations) > 0 {
		return &VerifyError{Violations: violations}
	}
	return nil
}
