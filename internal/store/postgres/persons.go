package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/rolodex/internal/db"
	"github.com/memohai/rolodex/internal/domain"
	"github.com/memohai/rolodex/internal/store"
)

const personColumns = `id, first_name, middle_name, last_name, nickname, title, phone, linkedin_url,
	social_handle, notes, image_url, sync_enabled, sync_status, last_synced_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanPerson(row scanner) (domain.Person, error) {
	var (
		p        domain.Person
		status   string
		syncedAt sql.NullTime
	)
	err := row.Scan(&p.ID, &p.FirstName, &p.MiddleName, &p.LastName, &p.Nickname, &p.Title, &p.Phone,
		&p.LinkedInURL, &p.SocialHandle, &p.Notes, &p.ImageURL, &p.SyncEnabled, &status, &syncedAt,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Person{}, err
	}
	p.SyncStatus = domain.SyncStatus(status)
	p.LastSyncedAt = db.TimePtr(syncedAt)
	return p, nil
}

func (q *queries) CreatePerson(ctx context.Context, p domain.Person) error {
	return q.atomic(ctx, func(q *queries) error {
		_, err := q.db.ExecContext(ctx, `
			insert into persons (`+personColumns+`)
			values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
			p.ID, p.FirstName, p.MiddleName, p.LastName, p.Nickname, p.Title, p.Phone, p.LinkedInURL,
			p.SocialHandle, p.Notes, p.ImageURL, p.SyncEnabled, string(p.SyncStatus), db.NullTime(p.LastSyncedAt),
			p.CreatedAt, p.UpdatedAt)
		if err != nil {
			return mapErr(err)
		}
		return q.insertEmails(ctx, p.ID, p.Emails)
	})
}

func (q *queries) insertEmails(ctx context.Context, personID uuid.UUID, emails []domain.Email) error {
	for i, e := range emails {
		id := e.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		if _, err := q.db.ExecContext(ctx, `
			insert into person_emails (id, person_id, address, label, is_primary, position)
			values ($1,$2,$3,$4,$5,$6)`,
			id, personID, e.Address, e.Label, e.IsPrimary, i); err != nil {
			return mapErr(err)
		}
	}
	return nil
}

// GetPerson locks the row when called inside a transaction, so a concurrent sync and a delete
// decide on the same state.
func (q *queries) GetPerson(ctx context.Context, id uuid.UUID) (domain.Person, error) {
	query := `select ` + personColumns + ` from persons where id = $1`
	if q.inTx() {
		query += ` for update`
	}
	p, err := scanPerson(q.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return domain.Person{}, mapErr(err)
	}
	if err := q.hydrate(ctx, &p); err != nil {
		return domain.Person{}, err
	}
	return p, nil
}

// hydrate loads the email rows and the link-registry view of a person.
func (q *queries) hydrate(ctx context.Context, p *domain.Person) error {
	rows, err := q.db.QueryContext(ctx, `
		select id, address, label, is_primary from person_emails
		where person_id = $1 order by position, address`, p.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	p.Emails = nil
	for rows.Next() {
		var e domain.Email
		if err := rows.Scan(&e.ID, &e.Address, &e.Label, &e.IsPrimary); err != nil {
			return err
		}
		p.Emails = append(p.Emails, e)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	links, err := q.ListLinksByEntity(ctx, domain.EntityPerson, p.ID)
	if err != nil {
		return err
	}
	p.RemoteIDs = nil
	for _, l := range links {
		if p.RemoteIDs == nil {
			p.RemoteIDs = map[uuid.UUID]string{}
		}
		p.RemoteIDs[l.AccountID] = l.ResourceID
	}
	return nil
}

func (q *queries) UpdatePerson(ctx context.Context, p domain.Person) error {
	return q.atomic(ctx, func(q *queries) error {
		res, err := q.db.ExecContext(ctx, `
			update persons set first_name=$2, middle_name=$3, last_name=$4, nickname=$5, title=$6, phone=$7,
				linkedin_url=$8, social_handle=$9, notes=$10, image_url=$11, sync_enabled=$12, sync_status=$13,
				last_synced_at=$14, updated_at=$15
			where id = $1`,
			p.ID, p.FirstName, p.MiddleName, p.LastName, p.Nickname, p.Title, p.Phone, p.LinkedInURL,
			p.SocialHandle, p.Notes, p.ImageURL, p.SyncEnabled, string(p.SyncStatus), db.NullTime(p.LastSyncedAt),
			p.UpdatedAt)
		if err := expectRow(res, err); err != nil {
			return err
		}
		if _, err := q.db.ExecContext(ctx, `delete from person_emails where person_id = $1`, p.ID); err != nil {
			return err
		}
		return q.insertEmails(ctx, p.ID, p.Emails)
	})
}

func (q *queries) DeletePerson(ctx context.Context, id uuid.UUID) error {
	return q.atomic(ctx, func(q *queries) error {
		if _, err := q.db.ExecContext(ctx,
			`delete from sync_links where entity_kind = $1 and entity_id = $2`, string(domain.EntityPerson), id); err != nil {
			return err
		}
		res, err := q.db.ExecContext(ctx, `delete from persons where id = $1`, id)
		return expectRow(res, err)
	})
}

func (q *queries) ListPersons(ctx context.Context, f store.PersonFilter) ([]domain.Person, error) {
	var w where
	if f.SyncEnabled != nil {
		w.add("sync_enabled = ?", *f.SyncEnabled)
	}
	if f.SyncStatus != "" {
		w.add("sync_status = ?", string(f.SyncStatus))
	}
	if email := strings.ToLower(strings.TrimSpace(f.Email)); email != "" {
		w.add("exists (select 1 from person_emails e where e.person_id = persons.id and lower(e.address) = ?)", email)
	}
	query := `select ` + personColumns + ` from persons` + w.String() + ` order by created_at, id` + w.limit(f.Limit)
	rows, err := q.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	var out []domain.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for i := range out {
		if err := q.hydrate(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (q *queries) SetPersonSyncStatus(ctx context.Context, id uuid.UUID, status domain.SyncStatus, syncedAt *time.Time) error {
	res, err := q.db.ExecContext(ctx, `
		update persons set sync_status = $2, last_synced_at = coalesce($3, last_synced_at), updated_at = now()
		where id = $1`, id, string(status), db.NullTime(syncedAt))
	return expectRow(res, err)
}

func (q *queries) EnsureTag(ctx context.Context, name string) (domain.Tag, error) {
	name = strings.TrimSpace(name)
	if _, err := q.db.ExecContext(ctx,
		`insert into tags (id, name) values ($1, $2) on conflict ((lower(name))) do nothing`, uuid.New(), name); err != nil {
		return domain.Tag{}, err
	}
	var t domain.Tag
	err := q.db.QueryRowContext(ctx, `select id, name from tags where lower(name) = lower($1)`, name).Scan(&t.ID, &t.Name)
	return t, mapErr(err)
}

func (q *queries) ListPersonTags(ctx context.Context, personID uuid.UUID) ([]domain.Tag, error) {
	rows, err := q.db.QueryContext(ctx, `
		select t.id, t.name from person_tags pt join tags t on t.id = pt.tag_id
		where pt.person_id = $1 order by pt.created_at, t.name`, personID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Tag
	for rows.Next() {
		var t domain.Tag
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (q *queries) AttachTag(ctx context.Context, personID, tagID uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, `
		insert into person_tags (person_id, tag_id) values ($1, $2) on conflict do nothing`, personID, tagID)
	return mapErr(err)
}

func (q *queries) ListInteractions(ctx context.Context, personID uuid.UUID) ([]domain.Interaction, error) {
	rows, err := q.db.QueryContext(ctx, `
		select id, person_id, kind, note, occurred_at from interactions
		where person_id = $1 order by occurred_at`, personID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Interaction
	for rows.Next() {
		var in domain.Interaction
		if err := rows.Scan(&in.ID, &in.PersonID, &in.Kind, &in.Note, &in.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (q *queries) AddInteraction(ctx context.Context, in domain.Interaction) error {
	_, err := q.db.ExecContext(ctx, `
		insert into interactions (id, person_id, kind, note, occurred_at) values ($1,$2,$3,$4,$5)`,
		in.ID, in.PersonID, in.Kind, in.Note, in.OccurredAt)
	return mapErr(err)
}

func (q *queries) MoveInteraction(ctx context.Context, id, to uuid.UUID) error {
	res, err := q.db.ExecContext(ctx, `update interactions set person_id = $2 where id = $1`, id, to)
	return expectRow(res, err)
}

func (q *queries) ListAffiliations(ctx context.Context, personID uuid.UUID) ([]domain.Affiliation, error) {
	rows, err := q.db.QueryContext(ctx, `
		select id, person_id, organization, role from affiliations
		where person_id = $1 order by organization`, personID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Affiliation
	for rows.Next() {
		var a domain.Affiliation
		if err := rows.Scan(&a.ID, &a.PersonID, &a.Organization, &a.Role); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AddAffiliation and MoveAffiliation report a collision as ErrDuplicate without raising a
// constraint violation, so callers may skip it and keep their transaction usable.
func (q *queries) AddAffiliation(ctx context.Context, a domain.Affiliation) error {
	res, err := q.db.ExecContext(ctx, `
		insert into affiliations (id, person_id, organization, role) values ($1,$2,$3,$4)
		on conflict do nothing`,
		a.ID, a.PersonID, a.Organization, a.Role)
	if err := expectRow(res, err); errors.Is(err, store.ErrNotFound) {
		return store.ErrDuplicate
	} else if err != nil {
		return err
	}
	return nil
}

func (q *queries) MoveAffiliation(ctx context.Context, id, to uuid.UUID) error {
	res, err := q.db.ExecContext(ctx, `
		update affiliations a set person_id = $2 where a.id = $1 and not exists (
			select 1 from affiliations b where b.person_id = $2 and b.id <> a.id
			and lower(b.organization) = lower(a.organization) and lower(b.role) = lower(a.role))`, id, to)
	err = expectRow(res, err)
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	var exists bool
	if err := q.db.QueryRowContext(ctx, `select exists(select 1 from affiliations where id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return store.ErrDuplicate
	}
	return store.ErrNotFound
}
