package detect

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/rolodex/internal/domain"
)

func person() domain.Person {
	return domain.Person{
		ID:        uuid.New(),
		FirstName: "Jane",
		LastName:  "Doe",
		Title:     "Engineer",
		Notes:     "met at conf",
		Phone:     "+1 (555) 123-4567",
		Emails:    []domain.Email{{Address: "jane@x.com", IsPrimary: true}},
	}
}

func remoteOf(p domain.Person) domain.RemoteRecord {
	return domain.RemoteFromPerson(p, "people/1", "etag-2", nil)
}

func linkOf(p domain.Person) *domain.Link {
	return &domain.Link{ResourceID: "people/1", ETag: "etag-1", Baseline: p.Fields()}
}

func TestClassifyNoOpIgnoresFormatting(t *testing.T) {
	p := person()
	link := linkOf(p)
	r := remoteOf(p)
	r.FirstName = "  Jane "
	r.Phone = "+1 555-123-4567"
	r.Emails = []domain.RemoteEmail{{Address: "JANE@X.COM"}}

	dec := New(nil, 0).Classify(&p, r, link)
	assert.Equal(t, NoOp, dec.Outcome)
	assert.Empty(t, dec.ToLocal)
	assert.Empty(t, dec.ToRemote)
}

func TestClassifyDisjointChangesMergeBothWays(t *testing.T) {
	p := person()
	link := linkOf(p)
	r := remoteOf(p)
	p.Title = "CTO"
	r.Notes = "prefers email"

	dec := New(nil, 0).Classify(&p, r, link)
	require.Equal(t, AutoApply, dec.Outcome)
	assert.Equal(t, domain.FieldSet{domain.FieldNotes: "prefers email"}, dec.ToLocal)
	assert.Equal(t, domain.FieldSet{domain.FieldTitle: "CTO"}, dec.ToRemote)
	assert.Equal(t, "CTO", dec.Converged[domain.FieldTitle])
	assert.Equal(t, "prefers email", dec.Converged[domain.FieldNotes])
	assert.Equal(t, []domain.FieldChange{{Field: domain.FieldNotes, Old: "met at conf", New: "prefers email"}}, dec.LocalChanges)
	assert.Equal(t, []domain.FieldChange{{Field: domain.FieldTitle, Old: "Engineer", New: "CTO"}}, dec.RemoteChanges)
}

func TestClassifySameFieldBothSidesConflicts(t *testing.T) {
	p := person()
	link := linkOf(p)
	r := remoteOf(p)
	p.Title = "CTO"
	r.Title = "VP Engineering"
	r.Notes = "prefers email"

	dec := New(nil, 0).Classify(&p, r, link)
	require.Equal(t, Conflict, dec.Outcome)
	assert.Equal(t, domain.ReviewDataConflict, dec.ReviewType)
	assert.Equal(t, []string{domain.FieldTitle}, dec.ConflictFields)
	assert.Empty(t, dec.ToLocal, "conflicts never auto-apply")
	_, ok := dec.Converged[domain.FieldTitle]
	assert.False(t, ok)
	assert.Equal(t, "Jane", dec.Converged[domain.FieldFirstName])
	assert.Equal(t, "prefers email", dec.Proposed[domain.FieldNotes], "one-sided changes are kept for resolution")
	_, ok = dec.Proposed[domain.FieldTitle]
	assert.False(t, ok)
}

func TestClassifyOnlyRemoteChangedWins(t *testing.T) {
	p := person()
	link := linkOf(p)
	r := remoteOf(p)
	r.Phone = "+1 555 999 0000"

	dec := New(nil, 0).Classify(&p, r, link)
	require.Equal(t, AutoApply, dec.Outcome)
	assert.Equal(t, domain.FieldSet{domain.FieldPhone: "+1 555 999 0000"}, dec.ToLocal)
	assert.Empty(t, dec.ToRemote)
}

func TestClassifyMatchingETagMeansRemoteUnchanged(t *testing.T) {
	p := person()
	link := linkOf(p)
	r := remoteOf(p)
	r.ETag = link.ETag
	r.Title = "Stale Title"
	p.Title = "CTO"

	dec := New(nil, 0).Classify(&p, r, link)
	require.Equal(t, AutoApply, dec.Outcome)
	assert.Equal(t, domain.FieldSet{domain.FieldTitle: "CTO"}, dec.ToRemote)
}

func TestClassifyRemoteRenameToDifferentPersonEscalates(t *testing.T) {
	p := person()
	link := linkOf(p)
	r := remoteOf(p)
	r.FirstName = "Robert"
	r.LastName = "Paulson"

	dec := New(nil, 0.6).Classify(&p, r, link)
	require.Equal(t, Conflict, dec.Outcome)
	assert.Equal(t, domain.ReviewNameConflict, dec.ReviewType)
	assert.Equal(t, []string{domain.FieldFirstName, domain.FieldLastName}, dec.ConflictFields)
}

func TestClassifySimilarRemoteRenameApplies(t *testing.T) {
	p := person()
	p.FirstName = "Jon"
	link := linkOf(p)
	r := remoteOf(p)
	r.FirstName = "John"

	dec := New(nil, 0.6).Classify(&p, r, link)
	require.Equal(t, AutoApply, dec.Outcome)
	assert.Equal(t, "John", dec.ToLocal[domain.FieldFirstName])
}

func TestClassifyLocalRenameIsTrusted(t *testing.T) {
	p := person()
	link := linkOf(p)
	r := remoteOf(p)
	p.LastName = "Smith-Oduya"
	p.FirstName = "Janet"

	dec := New(nil, 0.9).Classify(&p, r, link)
	require.Equal(t, AutoApply, dec.Outcome)
	assert.Equal(t, "Smith-Oduya", dec.ToRemote[domain.FieldLastName])
}

func TestClassifyWithoutLocalCreates(t *testing.T) {
	r := remoteOf(person())
	dec := New(nil, 0).Classify(nil, r, nil)
	require.Equal(t, AutoApply, dec.Outcome)
	assert.True(t, dec.Create)
	assert.Equal(t, "Jane", dec.ToLocal[domain.FieldFirstName])
	assert.Equal(t, "jane@x.com", dec.Converged[domain.FieldEmails])
}

func TestClassifyWithoutBaseline(t *testing.T) {
	p := person()
	p.Notes = ""
	r := remoteOf(person())
	r.Title = "Director"

	dec := New(nil, 0).Classify(&p, r, &domain.Link{ResourceID: "people/1"})
	require.Equal(t, Conflict, dec.Outcome)
	assert.Equal(t, []string{domain.FieldTitle}, dec.ConflictFields)

	r.Title = p.Title
	dec = New(nil, 0).Classify(&p, r, nil)
	require.Equal(t, AutoApply, dec.Outcome)
	assert.Equal(t, domain.FieldSet{domain.FieldNotes: "met at conf"}, dec.ToLocal)
}

func TestClassifyFieldMissingFromPolicyAlwaysConflicts(t *testing.T) {
	policy := DefaultPolicy()
	delete(policy, domain.FieldTitle)

	p := person()
	link := linkOf(p)
	r := remoteOf(p)
	r.Title = "CTO"

	dec := New(policy, 0).Classify(&p, r, link)
	require.Equal(t, Conflict, dec.Outcome)
	assert.Equal(t, []string{domain.FieldTitle}, dec.ConflictFields)
}

func TestClassifyRemoteOwnedImage(t *testing.T) {
	p := person()
	p.ImageURL = "https://img/old"
	link := linkOf(p)
	r := remoteOf(p)

	p.ImageURL = "https://img/local"
	dec := New(nil, 0).Classify(&p, r, link)
	assert.Equal(t, NoOp, dec.Outcome, "local photo edits are not pushed")

	r.PhotoURL = "https://img/remote"
	dec = New(nil, 0).Classify(&p, r, link)
	require.Equal(t, AutoApply, dec.Outcome)
	assert.Equal(t, "https://img/remote", dec.ToLocal[domain.FieldImageURL])
}

func TestClassifyCandidate(t *testing.T) {
	p := person()
	r := remoteOf(p)
	r.Title = "Founder"
	dec := New(nil, 0).ClassifyCandidate(p, r)
	assert.Equal(t, Conflict, dec.Outcome)
	assert.Equal(t, domain.ReviewDuplicateSuspect, dec.ReviewType)
	assert.Equal(t, []string{domain.FieldTitle}, dec.ConflictFields)
	assert.Equal(t, []string{"jane@x.com"}, SharedEmails(p, r))
}

func TestNameSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"Jane Doe", "jane doe", 1, 1},
		{"Doe Jane", "Jane Doe", 1, 1},
		{"Jon Smith", "John Smith", 0.85, 0.95},
		{"Jane Doe", "Robert Paulson", 0, 0.3},
		{"", "Jane", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.a+"/"+tt.b, func(t *testing.T) {
			got := NameSimilarity(tt.a, tt.b)
			assert.GreaterOrEqual(t, got, tt.min)
			assert.LessOrEqual(t, got, tt.max)
		})
	}
}

func TestSameNormalizes(t *testing.T) {
	assert.True(t, Same(domain.FieldPhone, "+1 (555) 123-4567", "+15551234567"))
	assert.True(t, Same(domain.FieldEmails, "B@x.com, a@x.com", "a@x.com,b@x.com"))
	assert.True(t, Same(domain.FieldLinkedInURL, "https://www.linkedin.com/in/jane/", "linkedin.com/in/jane"))
	assert.True(t, Same(domain.FieldSocialHandle, "@Jane", "jane"))
	assert.False(t, Same(domain.FieldTitle, "CTO", "VP"))
}

func TestOutboundKeepsRemoteOwnedFields(t *testing.T) {
	p := person()
	p.ImageURL = "https://img/remote"
	link := linkOf(p)
	link.ETag = "e1"
	p.ImageURL = "https://img/local"
	p.Title = "CTO"

	d := New(nil, 0)
	rec := d.Outbound(p, *link, []string{"g1"})
	assert.Equal(t, "https://img/remote", rec.PhotoURL)
	assert.Equal(t, "CTO", rec.Title)
	assert.Equal(t, "e1", rec.ETag)
	assert.Equal(t, []string{"g1"}, rec.Groups)

	changes := d.PushChanges(p, link.Baseline)
	assert.Equal(t, []domain.FieldChange{{Field: domain.FieldTitle, Old: "Engineer", New: "CTO"}}, changes)

	rec = d.Outbound(p, domain.Link{ResourceID: "people/1"}, nil)
	assert.Equal(t, "https://img/local", rec.PhotoURL, "without a baseline everything is sent")
}
