package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/rolodex/internal/db"
	"github.com/memohai/rolodex/internal/domain"
	"github.com/memohai/rolodex/internal/store"
)

const linkColumns = `account_id, resource_id, entity_kind, entity_id, etag, baseline, last_synced_at`

func scanLink(row scanner) (domain.Link, error) {
	var (
		l        domain.Link
		kind     string
		baseline []byte
		syncedAt sql.NullTime
	)
	if err := row.Scan(&l.AccountID, &l.ResourceID, &kind, &l.EntityID, &l.ETag, &baseline, &syncedAt); err != nil {
		return domain.Link{}, err
	}
	l.EntityKind = domain.EntityKind(kind)
	l.LastSyncedAt = db.TimePtr(syncedAt)
	if err := unmarshalJSON(baseline, &l.Baseline); err != nil {
		return domain.Link{}, err
	}
	return l, nil
}

func (q *queries) queryLinks(ctx context.Context, query string, args ...any) ([]domain.Link, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (q *queries) GetLinkByResource(ctx context.Context, accountID uuid.UUID, resourceID string) (domain.Link, error) {
	l, err := scanLink(q.db.QueryRowContext(ctx,
		`select `+linkColumns+` from sync_links where account_id = $1 and resource_id = $2`, accountID, resourceID))
	return l, mapErr(err)
}

func (q *queries) GetLinkByEntity(ctx context.Context, accountID uuid.UUID, kind domain.EntityKind, entityID uuid.UUID) (domain.Link, error) {
	l, err := scanLink(q.db.QueryRowContext(ctx,
		`select `+linkColumns+` from sync_links where account_id = $1 and entity_kind = $2 and entity_id = $3`,
		accountID, string(kind), entityID))
	return l, mapErr(err)
}

func (q *queries) ListLinksByAccount(ctx context.Context, accountID uuid.UUID, kind domain.EntityKind) ([]domain.Link, error) {
	if kind == "" {
		return q.queryLinks(ctx, `select `+linkColumns+` from sync_links where account_id = $1 order by resource_id`, accountID)
	}
	return q.queryLinks(ctx,
		`select `+linkColumns+` from sync_links where account_id = $1 and entity_kind = $2 order by resource_id`,
		accountID, string(kind))
}

func (q *queries) ListLinksByEntity(ctx context.Context, kind domain.EntityKind, entityID uuid.UUID) ([]domain.Link, error) {
	return q.queryLinks(ctx,
		`select `+linkColumns+` from sync_links where entity_kind = $1 and entity_id = $2 order by account_id, resource_id`,
		string(kind), entityID)
}

func (q *queries) UpsertLink(ctx context.Context, l domain.Link) error {
	baseline, err := marshalJSON(emptyIfNil(l.Baseline))
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		insert into sync_links (`+linkColumns+`) values ($1,$2,$3,$4,$5,$6,$7)
		on conflict (account_id, resource_id) do update set
			entity_kind = excluded.entity_kind, entity_id = excluded.entity_id, etag = excluded.etag,
			baseline = excluded.baseline, last_synced_at = excluded.last_synced_at`,
		l.AccountID, l.ResourceID, string(l.EntityKind), l.EntityID, l.ETag, baseline, db.NullTime(l.LastSyncedAt))
	return mapErr(err)
}

func emptyIfNil(fs domain.FieldSet) domain.FieldSet {
	if fs == nil {
		return domain.FieldSet{}
	}
	return fs
}

func (q *queries) DeleteLink(ctx context.Context, accountID uuid.UUID, resourceID string) error {
	res, err := q.db.ExecContext(ctx, `delete from sync_links where account_id = $1 and resource_id = $2`, accountID, resourceID)
	return expectRow(res, err)
}

const accountColumns = `id, provider, identity, sync_enabled, pull_enabled, push_enabled, sync_status, paused_at,
	last_error, failure_count, last_full_sync_at, next_sync_at, timezone, collection_etag, created_at, updated_at`

func scanAccount(row scanner) (domain.LinkedAccount, error) {
	var (
		a                      domain.LinkedAccount
		provider, status       string
		paused, lastFull, next sql.NullTime
	)
	err := row.Scan(&a.ID, &provider, &a.Identity, &a.SyncEnabled, &a.PullEnabled, &a.PushEnabled, &status, &paused,
		&a.LastError, &a.FailureCount, &lastFull, &next, &a.Timezone, &a.CollectionETag, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return domain.LinkedAccount{}, err
	}
	a.Provider = domain.Provider(provider)
	a.SyncStatus = domain.SyncStatus(status)
	a.PausedAt = db.TimePtr(paused)
	a.LastFullSyncAt = db.TimePtr(lastFull)
	a.NextSyncAt = db.TimePtr(next)
	return a, nil
}

func (q *queries) CreateAccount(ctx context.Context, a domain.LinkedAccount) error {
	_, err := q.db.ExecContext(ctx, `
		insert into linked_accounts (`+accountColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		a.ID, string(a.Provider), a.Identity, a.SyncEnabled, a.PullEnabled, a.PushEnabled, string(a.SyncStatus),
		db.NullTime(a.PausedAt), a.LastError, a.FailureCount, db.NullTime(a.LastFullSyncAt), db.NullTime(a.NextSyncAt),
		a.Timezone, a.CollectionETag, a.CreatedAt, a.UpdatedAt)
	return mapErr(err)
}

func (q *queries) GetAccount(ctx context.Context, id uuid.UUID) (domain.LinkedAccount, error) {
	a, err := scanAccount(q.db.QueryRowContext(ctx, `select `+accountColumns+` from linked_accounts where id = $1`, id))
	return a, mapErr(err)
}

func (q *queries) ListAccounts(ctx context.Context) ([]domain.LinkedAccount, error) {
	rows, err := q.db.QueryContext(ctx, `select `+accountColumns+` from linked_accounts order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.LinkedAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (q *queries) UpdateAccount(ctx context.Context, a domain.LinkedAccount) error {
	res, err := q.db.ExecContext(ctx, `
		update linked_accounts set sync_enabled=$2, pull_enabled=$3, push_enabled=$4, sync_status=$5, paused_at=$6,
			last_error=$7, failure_count=$8, last_full_sync_at=$9, next_sync_at=$10, timezone=$11,
			collection_etag=$12, updated_at=$13
		where id = $1`,
		a.ID, a.SyncEnabled, a.PullEnabled, a.PushEnabled, string(a.SyncStatus), db.NullTime(a.PausedAt), a.LastError,
		a.FailureCount, db.NullTime(a.LastFullSyncAt), db.NullTime(a.NextSyncAt), a.Timezone, a.CollectionETag, a.UpdatedAt)
	return expectRow(res, err)
}

func (q *queries) FinishAccountRun(ctx context.Context, id uuid.UUID, u domain.AccountRunUpdate) error {
	var etag sql.NullString
	if u.CollectionETag != nil {
		etag = sql.NullString{String: *u.CollectionETag, Valid: true}
	}
	res, err := q.db.ExecContext(ctx, `
		update linked_accounts set sync_status = $2, last_error = $3, failure_count = $4,
			last_full_sync_at = coalesce($5, last_full_sync_at),
			next_sync_at = coalesce($6, next_sync_at),
			paused_at = coalesce($7, paused_at),
			collection_etag = coalesce($8, collection_etag),
			updated_at = now()
		where id = $1`,
		id, string(u.SyncStatus), u.LastError, u.FailureCount, db.NullTime(u.LastFullSyncAt), db.NullTime(u.NextSyncAt),
		db.NullTime(u.PausedAt), etag)
	return expectRow(res, err)
}

func (q *queries) GetAccountToken(ctx context.Context, accountID uuid.UUID) (domain.AccountToken, error) {
	var (
		t      domain.AccountToken
		expiry sql.NullTime
	)
	err := q.db.QueryRowContext(ctx, `
		select account_id, access_token, refresh_token, token_type, expiry from account_tokens where account_id = $1`,
		accountID).Scan(&t.AccountID, &t.AccessToken, &t.RefreshToken, &t.TokenType, &expiry)
	if err != nil {
		return domain.AccountToken{}, mapErr(err)
	}
	if expiry.Valid {
		t.Expiry = expiry.Time
	}
	return t, nil
}

func (q *queries) SaveAccountToken(ctx context.Context, t domain.AccountToken) error {
	var expiry *time.Time
	if !t.Expiry.IsZero() {
		expiry = &t.Expiry
	}
	_, err := q.db.ExecContext(ctx, `
		insert into account_tokens (account_id, access_token, refresh_token, token_type, expiry, updated_at)
		values ($1,$2,$3,$4,$5,now())
		on conflict (account_id) do update set access_token = excluded.access_token,
			refresh_token = excluded.refresh_token, token_type = excluded.token_type,
			expiry = excluded.expiry, updated_at = now()`,
		t.AccountID, t.AccessToken, t.RefreshToken, t.TokenType, db.NullTime(expiry))
	return mapErr(err)
}

func (q *queries) InsertAudit(ctx context.Context, rec domain.AuditRecord) error {
	changes, err := marshalJSON(nonNilChanges(rec.Changes))
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		insert into sync_audit (id, person_id, account_id, person_name, run_id, direction, action, status, changes, error, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		rec.ID, db.NullUUID(rec.PersonID), db.NullUUID(rec.AccountID), rec.PersonName, rec.RunID, string(rec.Direction),
		string(rec.Action), string(rec.Status), changes, rec.Error, rec.CreatedAt)
	return mapErr(err)
}

func nonNilChanges(c []domain.FieldChange) []domain.FieldChange {
	if c == nil {
		return []domain.FieldChange{}
	}
	return c
}

func (q *queries) ListAudit(ctx context.Context, f store.AuditFilter) ([]domain.AuditRecord, error) {
	var w where
	if f.PersonID != nil {
		w.add("person_id = ?", *f.PersonID)
	}
	if f.AccountID != nil {
		w.add("account_id = ?", *f.AccountID)
	}
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	if f.RunID != "" {
		w.add("run_id = ?", f.RunID)
	}
	if f.Since != nil {
		w.add("created_at >= ?", *f.Since)
	}
	if f.Until != nil {
		w.add("created_at < ?", *f.Until)
	}
	query := `select id, person_id, account_id, person_name, run_id, direction, action, status, changes, error, created_at
		from sync_audit` + w.String() + ` order by created_at desc, id desc` + w.limit(f.Limit)
	rows, err := q.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.AuditRecord
	for rows.Next() {
		var (
			rec                       domain.AuditRecord
			personID, accountID       uuid.NullUUID
			direction, action, status string
			changes                   []byte
		)
		if err := rows.Scan(&rec.ID, &personID, &accountID, &rec.PersonName, &rec.RunID, &direction, &action, &status,
			&changes, &rec.Error, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.PersonID = db.UUIDPtr(personID)
		rec.AccountID = db.UUIDPtr(accountID)
		rec.Direction = domain.Direction(direction)
		rec.Action = domain.Action(action)
		rec.Status = domain.AuditStatus(status)
		if err := unmarshalJSON(changes, &rec.Changes); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
