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

const archiveColumns = `id, person_id, person_name, snapshot, deleted_from, remote_ids, created_at, expires_at,
	restored_at, restored_person_id`

func scanArchive(row scanner) (domain.ArchivedPerson, error) {
	var (
		a                   domain.ArchivedPerson
		snapshot, remoteIDs []byte
		deletedFrom         string
		restoredAt          sql.NullTime
		restoredID          uuid.NullUUID
	)
	err := row.Scan(&a.ID, &a.PersonID, &a.PersonName, &snapshot, &deletedFrom, &remoteIDs, &a.CreatedAt, &a.ExpiresAt,
		&restoredAt, &restoredID)
	if err != nil {
		return domain.ArchivedPerson{}, err
	}
	a.DeletedFrom = domain.DeletedFrom(deletedFrom)
	a.RestoredAt = db.TimePtr(restoredAt)
	a.RestoredPersonID = db.UUIDPtr(restoredID)
	if err := unmarshalJSON(snapshot, &a.Snapshot); err != nil {
		return domain.ArchivedPerson{}, err
	}
	if err := unmarshalJSON(remoteIDs, &a.RemoteIDs); err != nil {
		return domain.ArchivedPerson{}, err
	}
	return a, nil
}

func (q *queries) InsertArchive(ctx context.Context, a domain.ArchivedPerson) error {
	snapshot, err := marshalJSON(a.Snapshot)
	if err != nil {
		return err
	}
	remoteIDs := a.RemoteIDs
	if remoteIDs == nil {
		remoteIDs = map[uuid.UUID]string{}
	}
	ids, err := marshalJSON(remoteIDs)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		insert into archived_persons (`+archiveColumns+`) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		a.ID, a.PersonID, a.PersonName, snapshot, string(a.DeletedFrom), ids, a.CreatedAt, a.ExpiresAt,
		db.NullTime(a.RestoredAt), db.NullUUID(a.RestoredPersonID))
	return mapErr(err)
}

func (q *queries) GetArchive(ctx context.Context, id uuid.UUID) (domain.ArchivedPerson, error) {
	a, err := scanArchive(q.db.QueryRowContext(ctx, `select `+archiveColumns+` from archived_persons where id = $1`, id))
	return a, mapErr(err)
}

func (q *queries) ListArchives(ctx context.Context, f store.ArchiveFilter) ([]domain.ArchivedPerson, error) {
	var w where
	if !f.IncludeRestored {
		w.conds = append(w.conds, "restored_at is null")
	}
	if f.DeletedFrom != "" {
		w.add("deleted_from = ?", string(f.DeletedFrom))
	}
	query := `select ` + archiveColumns + ` from archived_persons` + w.String() + ` order by created_at desc` + w.limit(f.Limit)
	rows, err := q.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ArchivedPerson
	for rows.Next() {
		a, err := scanArchive(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (q *queries) MarkArchiveRestored(ctx context.Context, id uuid.UUID, at time.Time, personID uuid.UUID) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		update archived_persons set restored_at = $2, restored_person_id = $3
		where id = $1 and restored_at is null`, id, at, personID)
	if err != nil {
		return false, err
	}
	return q.transitioned(ctx, res, `select 1 from archived_persons where id = $1`, id)
}

// transitioned reports whether a conditional update hit a row, telling "not found" apart from
// "condition no longer holds".
func (q *queries) transitioned(ctx context.Context, res sql.Result, existsQuery string, id uuid.UUID) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	var one int
	if err := q.db.QueryRowContext(ctx, existsQuery, id).Scan(&one); err != nil {
		return false, mapErr(err)
	}
	return false, nil
}

func (q *queries) PurgeArchives(ctx context.Context, now time.Time) (int, error) {
	res, err := q.db.ExecContext(ctx, `delete from archived_persons where restored_at is null and expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (q *queries) EnqueueRemoteDeletion(ctx context.Context, d domain.RemoteDeletion) error {
	_, err := q.db.ExecContext(ctx, `
		insert into remote_deletions (account_id, resource_id, person_id, created_at) values ($1,$2,$3,$4)
		on conflict (account_id, resource_id) do nothing`, d.AccountID, d.ResourceID, d.PersonID, d.CreatedAt)
	return mapErr(err)
}

func (q *queries) ListRemoteDeletions(ctx context.Context, accountID uuid.UUID) ([]domain.RemoteDeletion, error) {
	rows, err := q.db.QueryContext(ctx, `
		select account_id, resource_id, person_id, created_at from remote_deletions
		where account_id = $1 order by created_at`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.RemoteDeletion
	for rows.Next() {
		var d domain.RemoteDeletion
		if err := rows.Scan(&d.AccountID, &d.ResourceID, &d.PersonID, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (q *queries) DeleteRemoteDeletion(ctx context.Context, accountID uuid.UUID, resourceID string) (bool, error) {
	res, err := q.db.ExecContext(ctx, `delete from remote_deletions where account_id = $1 and resource_id = $2`, accountID, resourceID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

const reviewColumns = `id, person_id, other_person_id, account_id, resource_id, review_type, remote_data, local_data,
	remote_etag, conflict_fields, status, resolution, created_at, updated_at, resolved_at`

func scanReview(row scanner) (domain.ReviewItem, error) {
	var (
		r                                    domain.ReviewItem
		personID, otherID, accountID         uuid.NullUUID
		reviewType, status                   string
		remote, local, conflicts, resolution []byte
		resolvedAt                           sql.NullTime
	)
	err := row.Scan(&r.ID, &personID, &otherID, &accountID, &r.ResourceID, &reviewType, &remote, &local, &r.RemoteETag,
		&conflicts, &status, &resolution, &r.CreatedAt, &r.UpdatedAt, &resolvedAt)
	if err != nil {
		return domain.ReviewItem{}, err
	}
	r.PersonID = db.UUIDPtr(personID)
	r.OtherPersonID = db.UUIDPtr(otherID)
	r.AccountID = db.UUIDPtr(accountID)
	r.ReviewType = domain.ReviewType(reviewType)
	r.Status = domain.ReviewStatus(status)
	r.ResolvedAt = db.TimePtr(resolvedAt)
	for _, col := range []struct {
		raw []byte
		dst any
	}{{remote, &r.RemoteData}, {local, &r.LocalData}, {conflicts, &r.ConflictFields}} {
		if err := unmarshalJSON(col.raw, col.dst); err != nil {
			return domain.ReviewItem{}, err
		}
	}
	if len(resolution) > 0 {
		var res domain.Resolution
		if err := unmarshalJSON(resolution, &res); err != nil {
			return domain.ReviewItem{}, err
		}
		r.Resolution = &res
	}
	return r, nil
}

type reviewJSON struct {
	remote, local, conflicts []byte
}

func encodeReview(item domain.ReviewItem) (reviewJSON, error) {
	var (
		out reviewJSON
		err error
	)
	if out.remote, err = marshalJSON(emptyIfNil(item.RemoteData)); err != nil {
		return out, err
	}
	if out.local, err = marshalJSON(emptyIfNil(item.LocalData)); err != nil {
		return out, err
	}
	conflicts := item.ConflictFields
	if conflicts == nil {
		conflicts = []string{}
	}
	out.conflicts, err = marshalJSON(conflicts)
	return out, err
}

func (q *queries) InsertReview(ctx context.Context, item domain.ReviewItem) error {
	enc, err := encodeReview(item)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		insert into review_items (id, person_id, other_person_id, account_id, resource_id, review_type, remote_data,
			local_data, remote_etag, conflict_fields, status, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		item.ID, db.NullUUID(item.PersonID), db.NullUUID(item.OtherPersonID), db.NullUUID(item.AccountID),
		item.ResourceID, string(item.ReviewType), enc.remote, enc.local, item.RemoteETag, enc.conflicts,
		string(item.Status), item.CreatedAt, item.UpdatedAt)
	return mapErr(err)
}

func (q *queries) GetReview(ctx context.Context, id uuid.UUID) (domain.ReviewItem, error) {
	r, err := scanReview(q.db.QueryRowContext(ctx, `select `+reviewColumns+` from review_items where id = $1`, id))
	return r, mapErr(err)
}

func (q *queries) FindPendingReview(ctx context.Context, key store.ReviewKey) (domain.ReviewItem, error) {
	r, err := scanReview(q.db.QueryRowContext(ctx, `
		select `+reviewColumns+` from review_items
		where status = 'pending' and review_type = $1
			and account_id is not distinct from $2
			and person_id is not distinct from $3
			and other_person_id is not distinct from $5
			and (($3::uuid is not null and $1 <> 'duplicate_suspect') or resource_id = $4)
		order by created_at limit 1`,
		string(key.ReviewType), db.NullUUID(key.AccountID), db.NullUUID(key.PersonID), key.ResourceID, db.NullUUID(key.OtherPersonID)))
	return r, mapErr(err)
}

func (q *queries) ListReviews(ctx context.Context, f store.ReviewFilter) ([]domain.ReviewItem, error) {
	var w where
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	if f.ReviewType != "" {
		w.add("review_type = ?", string(f.ReviewType))
	}
	if f.PersonID != nil {
		w.add("person_id = ?", *f.PersonID)
	}
	if f.AccountID != nil {
		w.add("account_id = ?", *f.AccountID)
	}
	if f.ResourceID != "" {
		w.add("resource_id = ?", f.ResourceID)
	}
	query := `select ` + reviewColumns + ` from review_items` + w.String() + ` order by created_at` + w.limit(f.Limit)
	rows, err := q.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ReviewItem
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q *queries) UpdateReviewSnapshots(ctx context.Context, item domain.ReviewItem) error {
	enc, err := encodeReview(item)
	if err != nil {
		return err
	}
	res, err := q.db.ExecContext(ctx, `
		update review_items set remote_data = $2, local_data = $3, remote_etag = $4, resource_id = $5,
			other_person_id = $6, conflict_fields = $7, updated_at = $8
		where id = $1`,
		item.ID, enc.remote, enc.local, item.RemoteETag, item.ResourceID, db.NullUUID(item.OtherPersonID),
		enc.conflicts, item.UpdatedAt)
	return expectRow(res, err)
}

func (q *queries) TransitionReview(ctx context.Context, id uuid.UUID, status domain.ReviewStatus, res *domain.Resolution, at time.Time) (bool, error) {
	var resolution any
	if res != nil {
		b, err := marshalJSON(res)
		if err != nil {
			return false, err
		}
		resolution = b
	}
	result, err := q.db.ExecContext(ctx, `
		update review_items set status = $2, resolution = $3, resolved_at = $4, updated_at = $4
		where id = $1 and status = 'pending'`, id, string(status), resolution, at)
	if err != nil {
		return false, err
	}
	return q.transitioned(ctx, result, `select 1 from review_items where id = $1`, id)
}

func (q *queries) GetSettings(ctx context.Context) (domain.SyncSettings, error) {
	var s domain.SyncSettings
	err := q.db.QueryRowContext(ctx, `
		select auto_sync, morning_time, evening_time, timezone, retention_days, updated_at
		from sync_settings where id = 1`).
		Scan(&s.AutoSync, &s.MorningTime, &s.EveningTime, &s.Timezone, &s.RetentionDays, &s.UpdatedAt)
	return s, mapErr(err)
}

func (q *queries) UpsertSettings(ctx context.Context, s domain.SyncSettings) error {
	_, err := q.db.ExecContext(ctx, `
		insert into sync_settings (id, auto_sync, morning_time, evening_time, timezone, retention_days, updated_at)
		values (1, $1, $2, $3, $4, $5, $6)
		on conflict (id) do update set auto_sync = excluded.auto_sync, morning_time = excluded.morning_time,
			evening_time = excluded.evening_time, timezone = excluded.timezone,
			retention_days = excluded.retention_days, updated_at = excluded.updated_at`,
		s.AutoSync, s.MorningTime, s.EveningTime, s.Timezone, s.RetentionDays, s.UpdatedAt)
	return mapErr(err)
}

func (q *queries) AddExclusion(ctx context.Context, e domain.DuplicateExclusion) error {
	ordered := domain.NewExclusion(e.PersonA, e.PersonB)
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := q.db.ExecContext(ctx, `
		insert into duplicate_exclusions (person_a, person_b, created_at) values ($1, $2, $3)
		on conflict (person_a, person_b) do nothing`, ordered.PersonA, ordered.PersonB, created)
	return mapErr(err)
}

func (q *queries) RemoveExclusion(ctx context.Context, a, b uuid.UUID) error {
	ordered := domain.NewExclusion(a, b)
	_, err := q.db.ExecContext(ctx, `delete from duplicate_exclusions where person_a = $1 and person_b = $2`,
		ordered.PersonA, ordered.PersonB)
	return err
}

func (q *queries) ListExclusions(ctx context.Context) ([]domain.DuplicateExclusion, error) {
	rows, err := q.db.QueryContext(ctx, `select person_a, person_b, created_at from duplicate_exclusions order by person_a, person_b`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.DuplicateExclusion
	for rows.Next() {
		var e domain.DuplicateExclusion
		if err := rows.Scan(&e.PersonA, &e.PersonB, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
