package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/laporketua/identity/internal/apperror"
	"github.com/laporketua/identity/internal/model"
	"github.com/laporketua/identity/internal/repository"
)

// compile-time check that *DB implements repository.IdentityRepository
var _ repository.IdentityRepository = (*DB)(nil)

// selectUserDetail returns one row per user: the user columns, its role
// names joined with commas, and the (possibly NULL) profile columns.
const selectUserDetail = `
	SELECT u.id, u.name, u.email, u.password_hash, u.created_at, u.updated_at,
	       COALESCE((SELECT GROUP_CONCAT(r.name, ',')
	                   FROM user_roles ur JOIN roles r ON r.id = ur.role_id
	                  WHERE ur.user_id = u.id), ''),
	       p.user_id, p.phone, p.work_area, p.address, p.coordinates, p.created_at, p.updated_at
	  FROM users u
	  LEFT JOIN technician_profiles p ON p.user_id = u.id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUserDetail(row rowScanner) (*model.UserDetail, error) {
	var (
		d         model.UserDetail
		roleNames string

		pUserID      sql.NullInt64
		pPhone       sql.NullString
		pWorkArea    sql.NullString
		pAddress     sql.NullString
		pCoordinates sql.NullString
		pCreatedAt   sql.NullTime
		pUpdatedAt   sql.NullTime
	)

	err := row.Scan(
		&d.ID, &d.Name, &d.Email, &d.PasswordHash, &d.CreatedAt, &d.UpdatedAt,
		&roleNames,
		&pUserID, &pPhone, &pWorkArea, &pAddress, &pCoordinates, &pCreatedAt, &pUpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Roles = model.RoleSetFromNames(splitNames(roleNames))
	if pUserID.Valid {
		d.Profile = &model.TechnicianProfile{
			UserID:      pUserID.Int64,
			Phone:       pPhone.String,
			WorkArea:    pWorkArea.String,
			Address:     nullableString(pAddress),
			Coordinates: nullableString(pCoordinates),
			CreatedAt:   pCreatedAt.Time,
			UpdatedAt:   pUpdatedAt.Time,
		}
	}
	return &d, nil
}

func splitNames(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

// =========================================================================
// COMPOSITE WRITES
// =========================================================================

// CreateUserWithRolesAndProfile provisions a user in a single transaction.
//
// Steps, in order:
//
//	(a) reject a taken email
//	(b) hash the password
//	(c) insert the user row
//	(d) link each distinct role
//	(e) insert the technician profile when requested and non-empty
//
// TRANSACTIONS IN database/sql:
// BeginTx pins one pooled connection. Every statement on tx runs on it, and
// nothing is visible to other connections until Commit. The deferred
// Rollback is a no-op after a successful Commit and undoes everything on any
// early return, so a failure at (d) or (e) leaves no user row behind.
//
// Role names are resolved to ids before BeginTx, concurrently on the pool.
// Waiting for extra connections while holding the transaction's connection
// could exhaust a bounded pool.
func (db *DB) CreateUserWithRolesAndProfile(ctx context.Context, u repository.NewUser) (*model.UserDetail, error) {
	roleIDs, err := db.resolveRoleIDs(ctx, u.Roles)
	if err != nil {
		return nil, err
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: beginning provisioning transaction: %w", err)
	}
	defer tx.Rollback()

	// (a)
	var taken int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE email = ?`, u.Email,
	).Scan(&taken); err != nil {
		return nil, fmt.Errorf("sqlite: checking email: %w", err)
	}
	if taken > 0 {
		return nil, apperror.EmailAlreadyExists(u.Email)
	}

	// (b)
	hash, err := db.hasher.Hash(u.Password)
	if err != nil {
		return nil, fmt.Errorf("sqlite: hashing password: %w", err)
	}

	// (c)
	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO users (name, email, password_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		u.Name, u.Email, hash, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperror.EmailAlreadyExists(u.Email)
		}
		return nil, fmt.Errorf("sqlite: inserting user: %w", err)
	}
	userID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("sqlite: reading new user id: %w", err)
	}

	// (d)
	for _, roleID := range roleIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_roles (user_id, role_id) VALUES (?, ?)`, userID, roleID,
		); err != nil {
			return nil, fmt.Errorf("sqlite: linking role %d to user %d: %w", roleID, userID, err)
		}
	}

	// (e)
	if model.NewRoleSet(u.Roles...).Has(model.RoleTechnician) && !u.Profile.IsEmpty() {
		f := u.Profile.Normalized()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO technician_profiles (user_id, phone, work_area, address, coordinates, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			userID, f.Phone, f.WorkArea, f.Address, f.Coordinates, now, now,
		); err != nil {
			return nil, fmt.Errorf("sqlite: inserting technician profile for user %d: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: committing provisioning of user %d: %w", userID, err)
	}

	db.logger.Debug("user provisioned",
		slog.Int64("userID", userID),
		slog.Int("roles", len(roleIDs)),
	)

	return db.GetUserByID(ctx, userID)
}

// resolveRoleIDs maps each distinct role to its id in the roles table.
//
// The lookups are independent reads of seeded reference data, so they run
// concurrently on pooled connections. errgroup.Wait returns only
// after every lookup has finished, so no link is inserted before all ids are
// known. A role missing from the table fails the whole provisioning.
func (db *DB) resolveRoleIDs(ctx context.Context, roles []model.Role) ([]int64, error) {
	distinct := model.NewRoleSet(roles...).Slice()
	ids := make([]int64, len(distinct))

	g, gctx := errgroup.WithContext(ctx)
	for i, role := range distinct {
		g.Go(func() error {
			err := db.conn.QueryRowContext(gctx,
				`SELECT id FROM roles WHERE name = ?`, string(role),
			).Scan(&ids[i])
			if errors.Is(err, sql.ErrNoRows) {
				return apperror.InvalidRole(string(role))
			}
			if err != nil {
				return fmt.Errorf("sqlite: resolving role %s: %w", role, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteUserCascade removes a user and everything it owns.
//
// Dependents go first (role links, then profile), then the user row. The
// foreign keys have no ON DELETE CASCADE, so getting this order wrong fails
// loudly instead of leaving orphans.
func (db *DB) DeleteUserCascade(ctx context.Context, userID int64) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("sqlite: deleting role links of user %d: %w", userID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM technician_profiles WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("sqlite: deleting profile of user %d: %w", userID, err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID)
	if err != nil {
		return fmt.Errorf("sqlite: deleting user %d: %w", userID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected for user %d: %w", userID, err)
	}
	if rows == 0 {
		return apperror.NotFound("user", userID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing delete of user %d: %w", userID, err)
	}
	return nil
}

// UpdateTechnicianProfile fully replaces the profile fields of userID.
func (db *DB) UpdateTechnicianProfile(ctx context.Context, userID int64, fields model.ProfileFields) (*model.TechnicianProfile, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: beginning profile update: %w", err)
	}
	defer tx.Rollback()

	if err := replaceProfile(ctx, tx, userID, fields); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: committing profile update for user %d: %w", userID, err)
	}
	return db.GetTechnicianProfile(ctx, userID)
}

// UpdateTechnician applies an optional name/email change and replaces the
// profile in one transaction. A missing profile rolls back the name/email
// change too.
func (db *DB) UpdateTechnician(ctx context.Context, userID int64, patch repository.IdentityPatch, fields model.ProfileFields) (*model.UserDetail, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: beginning technician update: %w", err)
	}
	defer tx.Rollback()

	if !patch.IsEmpty() {
		result, err := tx.ExecContext(ctx,
			`UPDATE users SET name = COALESCE(?, name), email = COALESCE(?, email), updated_at = ?
			 WHERE id = ?`,
			patch.Name, patch.Email, time.Now().UTC(), userID,
		)
		if err != nil {
			if isUniqueViolation(err) && patch.Email != nil {
				return nil, apperror.EmailAlreadyExists(*patch.Email)
			}
			return nil, fmt.Errorf("sqlite: updating user %d: %w", userID, err)
		}
		if rows, err := result.RowsAffected(); err != nil {
			return nil, fmt.Errorf("sqlite: checking rows affected for user %d: %w", userID, err)
		} else if rows == 0 {
			return nil, apperror.NotFound("user", userID)
		}
	}

	if err := replaceProfile(ctx, tx, userID, fields); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: committing technician update for user %d: %w", userID, err)
	}
	return db.GetUserByID(ctx, userID)
}

func replaceProfile(ctx context.Context, tx *sql.Tx, userID int64, fields model.ProfileFields) error {
	f := fields.Normalized()
	result, err := tx.ExecContext(ctx,
		`UPDATE technician_profiles
		    SET phone = ?, work_area = ?, address = ?, coordinates = ?, updated_at = ?
		  WHERE user_id = ?`,
		f.Phone, f.WorkArea, f.Address, f.Coordinates, time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating technician profile %d: %w", userID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected for profile %d: %w", userID, err)
	}
	if rows == 0 {
		return apperror.NotFound("technician profile", userID)
	}
	return nil
}

// SetPasswordHash replaces the stored digest of userID.
func (db *DB) SetPasswordHash(ctx context.Context, userID int64, hash string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting password of user %d: %w", userID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected for user %d: %w", userID, err)
	}
	if rows == 0 {
		return apperror.NotFound("user", userID)
	}
	return nil
}

// =========================================================================
// LOOKUPS
// =========================================================================

// GetUserByID retrieves a user with its roles and profile.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id int64) (*model.UserDetail, error) {
	d, err := scanUserDetail(db.conn.QueryRowContext(ctx, selectUserDetail+` WHERE u.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %d: %w", id, err)
	}
	return d, nil
}

// GetUserByEmail retrieves a user by exact (case-sensitive) email.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.UserDetail, error) {
	d, err := scanUserDetail(db.conn.QueryRowContext(ctx, selectUserDetail+` WHERE u.email = ?`, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &apperror.AppError{Err: apperror.ErrNotFound, Message: "user not found"}
		}
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}
	return d, nil
}

func (db *DB) GetTechnicianProfile(ctx context.Context, userID int64) (*model.TechnicianProfile, error) {
	var (
		p           model.TechnicianProfile
		address     sql.NullString
		coordinates sql.NullString
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT user_id, phone, work_area, address, coordinates, created_at, updated_at
		   FROM technician_profiles WHERE user_id = ?`,
		userID,
	).Scan(&p.UserID, &p.Phone, &p.WorkArea, &address, &coordinates, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("technician profile", userID)
		}
		return nil, fmt.Errorf("sqlite: getting technician profile %d: %w", userID, err)
	}
	p.Address = nullableString(address)
	p.Coordinates = nullableString(coordinates)
	return &p, nil
}

// ListUsersWithRole returns every user holding role, oldest first.
//
// ROWS MUST BE CLOSED:
// sql.Rows holds a pooled connection until Close. The defer returns it even
// when a Scan fails halfway through.
func (db *DB) ListUsersWithRole(ctx context.Context, role model.Role) ([]model.UserDetail, error) {
	rows, err := db.conn.QueryContext(ctx, selectUserDetail+`
		WHERE EXISTS (SELECT 1 FROM user_roles ur JOIN roles r ON r.id = ur.role_id
		               WHERE ur.user_id = u.id AND r.name = ?)
		ORDER BY u.id`,
		string(role),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing users with role %s: %w", role, err)
	}
	defer rows.Close()

	users := []model.UserDetail{}
	for rows.Next() {
		d, err := scanUserDetail(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning user row: %w", err)
		}
		users = append(users, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating user rows: %w", err)
	}
	return users, nil
}
