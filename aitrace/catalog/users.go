package catalog

import (
	"aitrace_platform/aitrace/schema"
	"aitrace_platform/aitrace/utils"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrEmailInUse      = errors.New("email is already in use")
	ErrDeleteSelf      = errors.New("users cannot delete themselves")
	ErrLastAdmin       = errors.New("the team must keep at least one admin")
	ErrInvalidRole     = errors.New("role must be 'admin' or 'user'")
	ErrInvalidEmail    = errors.New("invalid email address")
	ErrInvalidPassword = errors.New("password must be between 8 characters and 72 bytes")
)

type NewUser struct {
	Email        string
	Role         string
	PasswordHash []byte
	MustResetPwd bool
}

func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", utils.Validation(ErrInvalidEmail)
	}
	return email, nil
}

const (
	minPasswordLength = 8
	// bcrypt only accepts this many bytes
	maxPasswordBytes = 72
)

func CheckPassword(password string) error {
	if utf8.RuneCountInString(password) < minPasswordLength || len(password) > maxPasswordBytes {
		return utils.Validation(ErrInvalidPassword)
	}
	return nil
}

func checkRole(role string) error {
	if role != schema.RoleAdmin && role != schema.RoleUser {
		return utils.Validation(ErrInvalidRole)
	}
	return nil
}

func CreateUser(txn *gorm.DB, teamId uuid.UUID, input NewUser) (schema.User, error) {
	email, err := NormalizeEmail(input.Email)
	if err != nil {
		return schema.User{}, err
	}
	if input.Role == "" {
		input.Role = schema.RoleUser
	}
	if err := checkRole(input.Role); err != nil {
		return schema.User{}, err
	}

	var existing int64
	if err := txn.Model(&schema.User{}).Where("email = ?", email).Count(&existing).Error; err != nil {
		slog.Error("sql error checking for existing email", "error", err)
		return schema.User{}, utils.Internal(schema.ErrDbAccessFailed)
	}
	if existing > 0 {
		return schema.User{}, utils.Duplicate(ErrEmailInUse)
	}

	user := schema.User{
		Id:           uuid.New(),
		TeamId:       teamId,
		Email:        email,
		Password:     input.PasswordHash,
		Role:         input.Role,
		MustResetPwd: input.MustResetPwd,
	}
	if err := txn.Create(&user).Error; err != nil {
		if schema.IsUniqueViolation(err) {
			return schema.User{}, utils.Duplicate(ErrEmailInUse)
		}
		slog.Error("sql error creating user", "team_id", teamId, "error", err)
		return schema.User{}, utils.Internal(schema.ErrDbAccessFailed)
	}

	slog.Info("created user", "user_id", user.Id, "team_id", teamId, "role", user.Role)

	return user, nil
}

func GetTeamUser(txn *gorm.DB, userId, teamId uuid.UUID) (schema.User, error) {
	user, err := schema.GetTeamUser(userId, teamId, txn)
	if err != nil {
		if errors.Is(err, schema.ErrUserNotFound) {
			return user, utils.NotFound(err)
		}
		return user, utils.Internal(err)
	}
	return user, nil
}

func ListUsers(txn *gorm.DB, teamId uuid.UUID, page utils.Pagination) ([]schema.User, int64, error) {
	var total int64
	if err := txn.Model(&schema.User{}).Where("team_id = ?", teamId).Count(&total).Error; err != nil {
		slog.Error("sql error counting users", "team_id", teamId, "error", err)
		return nil, 0, utils.Internal(schema.ErrDbAccessFailed)
	}

	var users []schema.User
	result := txn.Where("team_id = ?", teamId).Order("created_at ASC").Offset(page.Offset()).Limit(page.PageSize).Find(&users)
	if result.Error != nil {
		slog.Error("sql error listing users", "team_id", teamId, "error", result.Error)
		return nil, 0, utils.Internal(schema.ErrDbAccessFailed)
	}

	return users, total, nil
}

func countAdmins(txn *gorm.DB, teamId uuid.UUID) (int64, error) {
	var count int64
	err := txn.Model(&schema.User{}).Where("team_id = ? AND role = ?", teamId, schema.RoleAdmin).Count(&count).Error
	if err != nil {
		slog.Error("sql error counting admins", "team_id", teamId, "error", err)
		return 0, utils.Internal(schema.ErrDbAccessFailed)
	}
	return count, nil
}

// UpdateUserRole changes the role of a user, refusing to demote the last admin of the team.
func UpdateUserRole(txn *gorm.DB, userId, teamId uuid.UUID, role string) (schema.User, error) {
	if err := checkRole(role); err != nil {
		return schema.User{}, err
	}

	user, err := GetTeamUser(txn, userId, teamId)
	if err != nil {
		return schema.User{}, err
	}

	if user.IsAdmin() && role != schema.RoleAdmin {
		admins, err := countAdmins(txn, teamId)
		if err != nil {
			return schema.User{}, err
		}
		if admins <= 1 {
			return schema.User{}, utils.Forbidden(ErrLastAdmin)
		}
	}

	result := txn.Model(&schema.User{}).Where("id = ?", userId).Updates(map[string]interface{}{
		"role":       role,
		"updated_at": time.Now().UTC(),
	})
	if result.Error != nil {
		slog.Error("sql error updating user role", "user_id", userId, "error", result.Error)
		return schema.User{}, utils.Internal(schema.ErrDbAccessFailed)
	}

	user.Role = role
	return user, nil
}

// DeleteUser removes a user of the team. Nobody can delete themselves and the
// last admin of a team cannot be deleted.
func DeleteUser(txn *gorm.DB, userId, teamId, requesterId uuid.UUID) error {
	if userId == requesterId {
		return utils.Forbidden(ErrDeleteSelf)
	}

	user, err := GetTeamUser(txn, userId, teamId)
	if err != nil {
		return err
	}

	if user.IsAdmin() {
		admins, err := countAdmins(txn, teamId)
		if err != nil {
			return err
		}
		if admins <= 1 {
			return utils.Forbidden(ErrLastAdmin)
		}
	}

	for _, column := range []string{"created_by", "updated_by"} {
		err := txn.Model(&schema.DatasetRow{}).Where(column+" = ?", userId).Update(column, nil).Error
		if err != nil {
			slog.Error("sql error clearing row references to user", "user_id", userId, "error", err)
			return utils.Internal(schema.ErrDbAccessFailed)
		}
	}

	if err := txn.Where("created_by = ?", userId).Delete(&schema.APIKey{}).Error; err != nil {
		slog.Error("sql error deleting api keys of user", "user_id", userId, "error", err)
		return utils.Internal(schema.ErrDbAccessFailed)
	}

	if err := txn.Delete(&schema.User{}, "id = ?", userId).Error; err != nil {
		slog.Error("sql error deleting user", "user_id", userId, "error", err)
		return utils.Internal(schema.ErrDbAccessFailed)
	}

	slog.Info("deleted user", "user_id", userId, "team_id", teamId)

	return nil
}

// SetPassword replaces the password hash of the user. mustReset marks it as a
// temporary password.
func SetPassword(txn *gorm.DB, userId uuid.UUID, hash []byte, mustReset bool) error {
	result := txn.Model(&schema.User{}).Where("id = ?", userId).Updates(map[string]interface{}{
		"password":       hash,
		"must_reset_pwd": mustReset,
		"updated_at":     time.Now().UTC(),
	})
	if result.Error != nil {
		slog.Error("sql error updating password", "user_id", userId, "error", result.Error)
		return utils.Internal(schema.ErrDbAccessFailed)
	}
	if result.RowsAffected == 0 {
		return utils.NotFound(schema.ErrUserNotFound)
	}
	return nil
}
