package detect

import (
	"github.com/memohai/rolodex/internal/domain"
)

func pushable(o Ownership) bool {
	return o == TwoWay || o == FromLocal
}

// Outbound builds the record written to an existing remote contact. Fields the local side may
// not push keep their baseline value.
func (d *Detector) Outbound(p domain.Person, link domain.Link, groups []string) domain.RemoteRecord {
	rec := domain.RemoteFromPerson(p, link.ResourceID, link.ETag, groups)
	if len(link.Baseline) == 0 {
		return rec
	}
	for _, f := range domain.SyncedFields {
		if !pushable(d.policy.For(f)) {
			rec.SetField(f, link.Baseline[f])
		}
	}
	return rec
}

// PushChanges lists the pushable fields whose local value moved away from the baseline.
func (d *Detector) PushChanges(p domain.Person, baseline domain.FieldSet) []domain.FieldChange {
	lf, base := CleanSet(p.Fields()), CleanSet(baseline)
	var out []domain.FieldChange
	for _, f := range lf.Names() {
		if !pushable(d.policy.For(f)) || Same(f, lf[f], base[f]) {
			continue
		}
		out = append(out, domain.FieldChange{Field: f, Old: base[f], New: lf[f]})
	}
	return out
}
