package detect

import (
	"sort"
	"strings"

	"github.com/memohai/rolodex/internal/domain"
)

// Outcome is the classification of one local/remote pair.
type Outcome string

const (
	NoOp      Outcome = "noop"
	AutoApply Outcome = "auto_apply"
	Conflict  Outcome = "conflict"
)

// Decision is the result of Classify. For AutoApply, ToLocal and ToRemote hold the cleaned values to
// write on each side (disjoint changes from both sides are merged). For Conflict nothing is applied.
type Decision struct {
	Outcome Outcome
	// Create is set when there is no local counterpart and the remote record becomes a new person.
	Create   bool
	ToLocal  domain.FieldSet
	ToRemote domain.FieldSet
	// Converged holds the values both sides share once the decision is applied; it becomes the link
	// baseline. On Conflict it only contains fields that already agree.
	Converged domain.FieldSet
	// Proposed is Converged plus the one-sided changes a Conflict held back. Resolving a review
	// starts from it and only decides the conflict fields.
	Proposed       domain.FieldSet
	ReviewType     domain.ReviewType
	ConflictFields []string
	Local          domain.FieldSet
	Remote         domain.FieldSet
	LocalChanges   []domain.FieldChange
	RemoteChanges  []domain.FieldChange
}

// Detector classifies pairs against a field ownership policy.
type Detector struct {
	policy        Policy
	nameThreshold float64
}

// New returns a detector. A nil policy means DefaultPolicy; nameThreshold outside (0,1] means 0.6.
func New(policy Policy, nameThreshold float64) *Detector {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if nameThreshold <= 0 || nameThreshold > 1 {
		nameThreshold = 0.6
	}
	return &Detector{policy: policy, nameThreshold: nameThreshold}
}

var nameFields = []string{domain.FieldFirstName, domain.FieldMiddleName, domain.FieldLastName}

// Classify compares a local person (nil when the remote record has no local counterpart) with its
// remote record. link carries the baseline agreed at the last successful sync; nil or an empty
// baseline means both sides are compared without history.
func (d *Detector) Classify(local *domain.Person, remote domain.RemoteRecord, link *domain.Link) Decision {
	rf := CleanSet(remote.Fields())
	if local == nil {
		dec := Decision{Outcome: AutoApply, Create: true, ToLocal: domain.FieldSet{}, ToRemote: domain.FieldSet{}, Remote: rf, Converged: rf.Clone(), Proposed: rf.Clone()}
		for _, f := range rf.Names() {
			if rf[f] != "" {
				dec.ToLocal[f] = rf[f]
				dec.LocalChanges = append(dec.LocalChanges, domain.FieldChange{Field: f, New: rf[f]})
			}
		}
		return dec
	}

	lf := CleanSet(local.Fields())
	var base domain.FieldSet
	hasBase := link != nil && len(link.Baseline) > 0
	if hasBase {
		base = CleanSet(link.Baseline)
	}
	// An unchanged etag means the remote still holds the baseline values.
	remoteUnchanged := hasBase && link.ETag != "" && remote.ETag == link.ETag

	dec := Decision{
		ToLocal:   domain.FieldSet{},
		ToRemote:  domain.FieldSet{},
		Converged: domain.FieldSet{},
		Local:     lf,
		Remote:    rf,
	}
	agreed := domain.FieldSet{}
	var conflicts []string

	for _, f := range d.fields(lf, rf) {
		l, r := lf[f], rf[f]
		b, inBase := base[f]
		if remoteUnchanged && inBase {
			r = b
		}
		if Same(f, l, r) {
			agreed[f] = l
			continue
		}
		switch d.policy.For(f) {
		case FromRemote:
			if (inBase && !Same(f, r, b)) || (!inBase && r != "") {
				dec.ToLocal[f] = r
			}
		case FromLocal:
			if (inBase && !Same(f, l, b)) || (!inBase && l != "") {
				dec.ToRemote[f] = l
			}
		case TwoWay:
			if inBase {
				localChanged, remoteChanged := !Same(f, l, b), !Same(f, r, b)
				switch {
				case localChanged && !remoteChanged:
					dec.ToRemote[f] = l
				case remoteChanged && !localChanged:
					dec.ToLocal[f] = r
				default:
					conflicts = append(conflicts, f)
				}
				continue
			}
			switch {
			case l == "":
				dec.ToLocal[f] = r
			case r == "":
				dec.ToRemote[f] = l
			default:
				conflicts = append(conflicts, f)
			}
		default:
			conflicts = append(conflicts, f)
		}
	}

	if d.nameConflict(lf, rf, dec.ToLocal, conflicts, hasBase) {
		for _, f := range nameFields {
			if !Same(f, lf[f], rf[f]) && !contains(conflicts, f) {
				conflicts = append(conflicts, f)
			}
		}
		sort.Strings(conflicts)
		dec.hold(domain.ReviewNameConflict, conflicts, agreed)
		return dec
	}
	if len(conflicts) > 0 {
		sort.Strings(conflicts)
		dec.hold(domain.ReviewDataConflict, conflicts, agreed)
		return dec
	}

	dec.Converged = agreed
	for _, f := range dec.ToLocal.Names() {
		dec.Converged[f] = dec.ToLocal[f]
		dec.LocalChanges = append(dec.LocalChanges, domain.FieldChange{Field: f, Old: lf[f], New: dec.ToLocal[f]})
	}
	for _, f := range dec.ToRemote.Names() {
		dec.Converged[f] = dec.ToRemote[f]
		dec.RemoteChanges = append(dec.RemoteChanges, domain.FieldChange{Field: f, Old: rf[f], New: dec.ToRemote[f]})
	}
	dec.Proposed = dec.Converged.Clone()
	if len(dec.ToLocal) == 0 && len(dec.ToRemote) == 0 {
		dec.Outcome = NoOp
	} else {
		dec.Outcome = AutoApply
	}
	return dec
}

// hold turns the decision into a Conflict. Nothing is applied; the one-sided changes move to Proposed.
func (dec *Decision) hold(kind domain.ReviewType, conflicts []string, agreed domain.FieldSet) {
	dec.Proposed = agreed.Clone()
	for f, v := range dec.ToLocal {
		dec.Proposed[f] = v
	}
	for f, v := range dec.ToRemote {
		dec.Proposed[f] = v
	}
	for _, f := range conflicts {
		delete(dec.Proposed, f)
	}
	dec.Outcome = Conflict
	dec.ReviewType = kind
	dec.ConflictFields = conflicts
	dec.ToLocal, dec.ToRemote = domain.FieldSet{}, domain.FieldSet{}
	dec.Converged = agreed
}

// nameConflict reports a substantively different name on a pair whose names were not agreed before,
// or whose remote side renamed the person. A purely local rename is trusted.
func (d *Detector) nameConflict(lf, rf, toLocal domain.FieldSet, conflicts []string, hasBase bool) bool {
	touched := !hasBase
	for _, f := range nameFields {
		if _, ok := toLocal[f]; ok || contains(conflicts, f) {
			touched = true
		}
	}
	if !touched {
		return false
	}
	ln, rn := fullName(lf), fullName(rf)
	if ln == "" || rn == "" {
		return false
	}
	return NameSimilarity(ln, rn) < d.nameThreshold
}

// ClassifyCandidate flags an unlinked local person that looks like the same contact as a remote
// record (shared normalized email). It always escalates.
func (d *Detector) ClassifyCandidate(candidate domain.Person, remote domain.RemoteRecord) Decision {
	lf, rf := CleanSet(candidate.Fields()), CleanSet(remote.Fields())
	dec := Decision{
		Outcome:    Conflict,
		ReviewType: domain.ReviewDuplicateSuspect,
		Local:      lf,
		Remote:     rf,
		Converged:  domain.FieldSet{},
	}
	for _, f := range d.fields(lf, rf) {
		if !Same(f, lf[f], rf[f]) {
			dec.ConflictFields = append(dec.ConflictFields, f)
		}
	}
	return dec
}

// SharedEmails returns the normalized addresses present on both sides.
func SharedEmails(p domain.Person, r domain.RemoteRecord) []string {
	local := map[string]struct{}{}
	for _, a := range domain.SplitList(Clean(domain.FieldEmails, p.Field(domain.FieldEmails))) {
		local[a] = struct{}{}
	}
	var out []string
	for _, a := range domain.SplitList(Clean(domain.FieldEmails, r.Field(domain.FieldEmails))) {
		if _, ok := local[a]; ok {
			out = append(out, a)
		}
	}
	return out
}

func (d *Detector) fields(sets ...domain.FieldSet) []string {
	seen := map[string]struct{}{}
	for f := range d.policy {
		seen[f] = struct{}{}
	}
	for _, fs := range sets {
		for f := range fs {
			seen[f] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func fullName(fs domain.FieldSet) string {
	return strings.Join(strings.Fields(fs[domain.FieldFirstName]+" "+fs[domain.FieldMiddleName]+" "+fs[domain.FieldLastName]), " ")
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
