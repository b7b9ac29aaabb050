package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"golang.org/x/sync/errgroup"

	"github.com/laporketua/identity/internal/apperror"
	"github.com/laporketua/identity/internal/model"
	"github.com/laporketua/identity/internal/repository"
)

var _ repository.IdentityRepository = (*DB)(nil)

const selectUserDetail = `
	SELECT u.id, u.name, u.email, u.password_hash, u.created_at, u.updated_at,
	       COALESCE((SELECT array_agg(r.name ORDER BY r.name)
	                   FROM user_roles ur JOIN roles r ON r.id = ur.role_id
	                  WHERE ur.user_id = u.id), '{}'::text[]) AS roles,
	       p.user_id, p.phone, p.work_area, p.address, p.coordinates, p.created_at, p.updated_at
	  FROM users u
	  LEFT JOIN technician_profiles p ON p.user_id = u.id`

func scanUserDetail(row pgx.Row) (*model.UserDetail, error) {
	var (
		d         model.UserDetail
		roleNames []string

		pUserID      pgtype.Int8
		pPhone       pgtype.Text
		pWorkArea    pgtype.Text
		pAddress     pgtype.Text
		pCoordinates pgtype.Text
		pCreatedAt   pgtype.Timestamptz
		pUpdatedAt   pgtype.Timestamptz
	)

	err := row.Scan(
		&d.ID, &d.Name, &d.Email, &d.PasswordHash, &d.CreatedAt, &d.UpdatedAt,
		&roleNames,
		&pUserID, &pPhone, &pWorkArea, &pAddress, &pCoordinates, &pCreatedAt, &pUpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Roles = model.RoleSetFromNames(roleNames)
	if pUserID.Valid {
		d.Profile = &model.TechnicianProfile{
			UserID:      pUserID.Int64,
			Phone:       pPhone.String,
			WorkArea:    pWorkArea.String,
			Address:     textPtr(pAddress),
			Coordinates: textPtr(pCoordinates),
			CreatedAt:   pCreatedAt.Time,
			UpdatedAt:   pUpdatedAt.Time,
		}
	}
	return &d, nil
}

func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	v := t.String
	return &v
}

// CreateUserWithRolesAndProfile provisions a user in one transaction:
// email check, hash, user insert, role links, then the optional technician
// profile. The deferred Rollback undoes every insert on any early return and
// is a no-op after Commit.
//
// Role ids are resolved before Begin. The lookups borrow pool connections,
// and a caller already holding a transaction connection while waiting for
// more can starve the pool once MaxConns creates run at the same time.
func (db *DB) CreateUserWithRolesAndProfile(ctx context.Context, u repository.NewUser) (*model.UserDetail, error) {
	l := db.logger.With(slog.String("method", "CreateUserWithRolesAndProfile"))

	roleIDs, err := db.resolveRoleIDs(ctx, u.Roles)
	if err != nil {
		return nil, err
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: beginning provisioning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var taken bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`, u.Email,
	).Scan(&taken); err != nil {
		return nil, fmt.Errorf("postgres: checking email: %w", err)
	}
	if taken {
		return nil, apperror.EmailAlreadyExists(u.Email)
	}

	hash, err := db.hasher.Hash(u.Password)
	if err != nil {
		return nil, fmt.Errorf("postgres: hashing password: %w", err)
	}

	now := time.Now().UTC()
	var userID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO users (name, email, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4) RETURNING id`,
		u.Name, u.Email, hash, now,
	).Scan(&userID)
	if err != nil {
		if isEmailViolation(err) {
			l.WarnContext(ctx, "email taken by a concurrent insert")
			return nil, apperror.EmailAlreadyExists(u.Email)
		}
		return nil, fmt.Errorf("postgres: inserting user: %w", err)
	}

	for _, roleID := range roleIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)`, userID, roleID,
		); err != nil {
			return nil, fmt.Errorf("postgres: linking role %d to user %d: %w", roleID, userID, err)
		}
	}

	if model.NewRoleSet(u.Roles...).Has(model.RoleTechnician) && !u.Profile.IsEmpty() {
		f := u.Profile.Normalized()
		if _, err := tx.Exec(ctx,
			`INSERT INTO technician_profiles (user_id, phone, work_area, address, coordinates, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $6)`,
			userID, f.Phone, f.WorkArea, f.Address, f.Coordinates, now,
		); err != nil {
			return nil, fmt.Errorf("postgres: inserting technician profile for user %d: %w", userID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: committing provisioning of user %d: %w", userID, err)
	}

	l.DebugContext(ctx, "user provisioned", slog.Int64("userID", userID), slog.Int("roles", len(roleIDs)))
	return db.GetUserByID(ctx, userID)
}

// resolveRoleIDs looks up every distinct role concurrently on the pool.
// A pgx.Tx is bound to one connection and cannot run queries in parallel,
// so the lookups use the pool; roles are seeded reference data that no
// transaction writes.
func (db *DB) resolveRoleIDs(ctx context.Context, roles []model.Role) ([]int64, error) {
	distinct := model.NewRoleSet(roles...).Slice()
	ids := make([]int64, len(distinct))

	g, gctx := errgroup.WithContext(ctx)
	for i, role := range distinct {
		g.Go(func() error {
			err := db.pool.QueryRow(gctx, `SELECT id FROM roles WHERE name = $1`, string(role)).Scan(&ids[i])
			if errors.Is(err, pgx.ErrNoRows) {
				return apperror.InvalidRole(string(role))
			}
			if err != nil {
				return fmt.Errorf("postgres: resolving role %s: %w", role, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteUserCascade deletes role links, profile and user, in that order.
func (db *DB) DeleteUserCascade(ctx context.Context, userID int64) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: beginning delete transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("postgres: deleting role links of user %d: %w", userID, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM technician_profiles WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("postgres: deleting profile of user %d: %w", userID, err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("postgres: deleting user %d: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("user", userID)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: committing delete of user %d: %w", userID, err)
	}
	return nil
}

func (db *DB) UpdateTechnicianProfile(ctx context.Context, userID int64, fields model.ProfileFields) (*model.TechnicianProfile, error) {
	if err := replaceProfile(ctx, db.pool, userID, fields); err != nil {
		return nil, err
	}
	return db.GetTechnicianProfile(ctx, userID)
}

// UpdateTechnician applies patch and replaces the profile in one
// transaction.
func (db *DB) UpdateTechnician(ctx context.Context, userID int64, patch repository.IdentityPatch, fields model.ProfileFields) (*model.UserDetail, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: beginning technician update: %w", err)
	}
	defer tx.Rollback(ctx)

	if !patch.IsEmpty() {
		tag, err := tx.Exec(ctx,
			`UPDATE users SET name = COALESCE($1, name), email = COALESCE($2, email), updated_at = $3
			 WHERE id = $4`,
			patch.Name, patch.Email, time.Now().UTC(), userID,
		)
		if err != nil {
			if isEmailViolation(err) && patch.Email != nil {
				return nil, apperror.EmailAlreadyExists(*patch.Email)
			}
			return nil, fmt.Errorf("postgres: updating user %d: %w", userID, err)
		}
		if tag.RowsAffected() == 0 {
			return nil, apperror.NotFound("user", userID)
		}
	}

	if err := replaceProfile(ctx, tx, userID, fields); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: committing technician update for user %d: %w", userID, err)
	}
	return db.GetUserByID(ctx, userID)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func replaceProfile(ctx context.Context, q execer, userID int64, fields model.ProfileFields) error {
	f := fields.Normalized()
	tag, err := q.Exec(ctx,
		`UPDATE technician_profiles
		    SET phone = $1, work_area = $2, address = $3, coordinates = $4, updated_at = $5
		  WHERE user_id = $6`,
		f.Phone, f.WorkArea, f.Address, f.Coordinates, time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("postgres: updating technician profile %d: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("technician profile", userID)
	}
	return nil
}

func (db *DB) SetPasswordHash(ctx context.Context, userID int64, hash string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`,
		hash, time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("postgres: setting password of user %d: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("user", userID)
	}
	return nil
}

func (db *DB) GetUserByID(ctx context.Context, id int64) (*model.UserDetail, error) {
	d, err := scanUserDetail(db.pool.QueryRow(ctx, selectUserDetail+` WHERE u.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("postgres: getting user %d: %w", id, err)
	}
	return d, nil
}

func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.UserDetail, error) {
	d, err := scanUserDetail(db.pool.QueryRow(ctx, selectUserDetail+` WHERE u.email = $1`, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &apperror.AppError{Err: apperror.ErrNotFound, Message: "user not found"}
		}
		return nil, fmt.Errorf("postgres: getting user by email: %w", err)
	}
	return d, nil
}

func (db *DB) GetTechnicianProfile(ctx context.Context, userID int64) (*model.TechnicianProfile, error) {
	var (
		p                    model.TechnicianProfile
		address, coordinates pgtype.Text
	)
	err := db.pool.QueryRow(ctx,
		`SELECT user_id, phone, work_area, address, coordinates, created_at, updated_at
		   FROM technician_profiles WHERE user_id = $1`,
		userID,
	).Scan(&p.UserID, &p.Phone, &p.WorkArea, &address, &coordinates, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("technician profile", userID)
		}
		return nil, fmt.Errorf("postgres: getting technician profile %d: %w", userID, err)
	}
	p.Address = textPtr(address)
	p.Coordinates = textPtr(coordinates)
	return &p, nil
}

func (db *DB) ListUsersWithRole(ctx context.Context, role model.Role) ([]model.UserDetail, error) {
	rows, err := db.pool.Query(ctx, selectUserDetail+`
		WHERE EXISTS (SELECT 1 FROM user_roles ur JOIN roles r ON r.id = ur.role_id
		               WHERE ur.user_id = u.id AND r.name = $1)
		ORDER BY u.id`,
		string(role),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: listing users with role %s: %w", role, err)
	}
	defer rows.Close()

	users := []model.UserDetail{}
	for rows.Next() {
		d, err := scanUserDetail(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scanning user row: %w", err)
		}
		users = append(users, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterating user rows: %w", err)
	}
	return users, nil
}
