package evidence

// Rule names the reconciliation rule that decided a page.
type Rule string

// Reconciliation rules in priority order.
const (
	RuleTypeMarker     Rule = "type_marker"
	RuleCombinedSingle Rule = "combined_single"
	RuleSectionLink    Rule = "section_link"
	RuleNameMarker     Rule = "name_marker"
)

// Reasons reported when no rule decides.
const (
	ReasonAmbiguous  = "ambiguous_evidence"
	ReasonNoEvidence = "no_evidence"
)

// Decision is the reconciled result for one page.
type Decision struct {
	LicenseID int
	Rule      Rule
	Decided   bool
	Reason    string
}

// Reconcile applies the precedence rules; the first satisfied rule wins.
// Conflicting ids are never averaged: a lone strategy singleton is accepted
// only when no other strategy holds a different singleton.
func Reconcile(ev Evidence) Decision {
	if id, ok := ev.Get(KindTypeMarker).Single(); ok {
		return Decision{LicenseID: id, Rule: RuleTypeMarker, Decided: true}
	}

	sets := make([]IDSet, 0, len(ev))
	for _, s := range ev {
		sets = append(sets, s)
	}
	if id, ok := Union(sets...).Single(); ok {
		return Decision{LicenseID: id, Rule: RuleCombinedSingle, Decided: true}
	}

	for _, step := range []struct {
		kind Kind
		rule Rule
	}{
		{KindSectionLink, RuleSectionLink},
		{KindNameMarker, RuleNameMarker},
	} {
		id, ok := ev.Get(step.kind).Single()
		if ok && !conflictingSingleton(ev, step.kind, id) {
			return Decision{LicenseID: id, Rule: step.rule, Decided: true}
		}
	}

	if ev.Any() {
		return Decision{Reason: ReasonAmbiguous}
	}
	return Decision{Reason: ReasonNoEvidence}
}

func conflictingSingleton(ev Evidence, kind Kind, id int) bool {
	for other, s := range ev {
		if other == kind {
			continue
		}
		if otherID, ok := s.Single(); ok && otherID != id {
			return true
		}
	}
	return false
}
