package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"gitlab.com/dubbox/api/wa-campaign-engine/internal/apperrors"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/model"
)

func newTestCampaignRepo(t *testing.T) (*PostgresRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		Logger:                 gormLogger.Default.LogMode(gormLogger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return &PostgresRepo{db: gormDB}, mock
}

func TestMarkCampaignRunning_FromDraft(t *testing.T) {
	repo, mock := newTestCampaignRepo(t)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectBegin()
	lockQuery := `SELECT * FROM "campaigns" WHERE id = $1 ORDER BY "campaigns"."id" LIMIT $2 FOR UPDATE`
	rows := sqlmock.NewRows([]string{"id", "account_id", "name", "type", "status", "template_name", "rate_limit_per_min", "created_at", "updated_at"}).
		AddRow(int64(5), int64(1), "spring promo", "immediate", "draft", "promo_v1", int32(20), now.Add(-time.Hour), now.Add(-time.Hour))
	mock.ExpectQuery(lockQuery).WithArgs(int64(5), 1).WillReturnRows(rows)

	updateQuery := `UPDATE "campaigns" SET "started_at"=$1,"status"=$2,"updated_at"=$3 WHERE "id" = $4`
	mock.ExpectExec(updateQuery).
		WithArgs(AnyTime{}, "running", AnyTime{}, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	campaign, err := repo.MarkCampaignRunning(ctx, 5)
	assert.NoError(t, err)
	require.NotNil(t, campaign)
	assert.Equal(t, model.CampaignStatusRunning, campaign.Status)
	require.NotNil(t, campaign.StartedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkCampaignRunning_RejectsNonStartable(t *testing.T) {
	repo, mock := newTestCampaignRepo(t)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectBegin()
	lockQuery := `SELECT * FROM "campaigns" WHERE id = $1 ORDER BY "campaigns"."id" LIMIT $2 FOR UPDATE`
	rows := sqlmock.NewRows([]string{"id", "account_id", "name", "type", "status", "created_at", "updated_at"}).
		AddRow(int64(5), int64(1), "spring promo", "immediate", "completed", now.Add(-time.Hour), now.Add(-time.Hour))
	mock.ExpectQuery(lockQuery).WithArgs(int64(5), 1).WillReturnRows(rows)
	mock.ExpectRollback()

	campaign, err := repo.MarkCampaignRunning(ctx, 5)
	assert.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	// The rejection names the blocking status for the operator.
	assert.Contains(t, err.Error(), "completed")
	assert.Nil(t, campaign)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkCampaignCompleted(t *testing.T) {
	t.Run("Transitions Running Campaign", func(t *testing.T) {
		repo, mock := newTestCampaignRepo(t)
		ctx := context.Background()

		updateQuery := `UPDATE "campaigns" SET "completed_at"=$1,"status"=$2,"updated_at"=$3 WHERE id = $4 AND status = $5`
		mock.ExpectExec(updateQuery).
			WithArgs(AnyTime{}, "completed", AnyTime{}, int64(5), "running").
			WillReturnResult(sqlmock.NewResult(0, 1))

		transitioned, err := repo.MarkCampaignCompleted(ctx, 5)
		assert.NoError(t, err)
		assert.True(t, transitioned)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("No-Op When Not Running", func(t *testing.T) {
		repo, mock := newTestCampaignRepo(t)
		ctx := context.Background()

		updateQuery := `UPDATE "campaigns" SET "completed_at"=$1,"status"=$2,"updated_at"=$3 WHERE id = $4 AND status = $5`
		mock.ExpectExec(updateQuery).
			WithArgs(AnyTime{}, "completed", AnyTime{}, int64(5), "running").
			WillReturnResult(sqlmock.NewResult(0, 0))

		transitioned, err := repo.MarkCampaignCompleted(ctx, 5)
		assert.NoError(t, err)
		assert.False(t, transitioned)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSetCampaignStatus_PauseRunning(t *testing.T) {
	repo, mock := newTestCampaignRepo(t)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectBegin()
	lockQuery := `SELECT * FROM "campaigns" WHERE id = $1 ORDER BY "campaigns"."id" LIMIT $2 FOR UPDATE`
	rows := sqlmock.NewRows([]string{"id", "account_id", "name", "type", "status", "created_at", "updated_at"}).
		AddRow(int64(5), int64(1), "spring promo", "immediate", "running", now.Add(-time.Hour), now.Add(-time.Minute))
	mock.ExpectQuery(lockQuery).WithArgs(int64(5), 1).WillReturnRows(rows)

	updateQuery := `UPDATE "campaigns" SET "status"=$1,"updated_at"=$2 WHERE "id" = $3`
	mock.ExpectExec(updateQuery).
		WithArgs("paused", AnyTime{}, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	campaign, err := repo.SetCampaignStatus(ctx, 5, []model.CampaignStatus{model.CampaignStatusRunning}, model.CampaignStatusPaused)
	assert.NoError(t, err)
	require.NotNil(t, campaign)
	assert.Equal(t, model.CampaignStatusPaused, campaign.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetCampaignStatus_RejectsDisallowedTransition(t *testing.T) {
	repo, mock := newTestCampaignRepo(t)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectBegin()
	lockQuery := `SELECT * FROM "campaigns" WHERE id = $1 ORDER BY "campaigns"."id" LIMIT $2 FOR UPDATE`
	rows := sqlmock.NewRows([]string{"id", "account_id", "name", "type", "status", "created_at", "updated_at"}).
		AddRow(int64(5), int64(1), "spring promo", "immediate", "cancelled", now.Add(-time.Hour), now.Add(-time.Minute))
	mock.ExpectQuery(lockQuery).WithArgs(int64(5), 1).WillReturnRows(rows)
	mock.ExpectRollback()

	campaign, err := repo.SetCampaignStatus(ctx, 5, []model.CampaignStatus{model.CampaignStatusRunning}, model.CampaignStatusPaused)
	assert.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Contains(t, err.Error(), "cancelled")
	assert.Nil(t, campaign)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountPendingCampaignContacts(t *testing.T) {
	repo, mock := newTestCampaignRepo(t)
	ctx := context.Background()

	countQuery := `SELECT count(*) FROM "campaign_contacts" WHERE campaign_id = $1 AND status = $2`
	mock.ExpectQuery(countQuery).
		WithArgs(int64(5), "pending").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))

	count, err := repo.CountPendingCampaignContacts(ctx, 5)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindDueScheduledCampaigns(t *testing.T) {
	repo, mock := newTestCampaignRepo(t)
	ctx := context.Background()
	now := time.Now()

	selectQuery := `SELECT * FROM "campaigns" WHERE status = $1 AND scheduled_at IS NOT NULL AND scheduled_at <= $2 ORDER BY scheduled_at ASC`
	rows := sqlmock.NewRows([]string{"id", "account_id", "name", "type", "status", "scheduled_at", "created_at", "updated_at"}).
		AddRow(int64(5), int64(1), "spring promo", "scheduled", "scheduled", now.Add(-time.Minute), now.Add(-time.Hour), now.Add(-time.Hour))
	mock.ExpectQuery(selectQuery).WithArgs("scheduled", AnyTime{}).WillReturnRows(rows)

	campaigns, err := repo.FindDueScheduledCampaigns(ctx, now)
	assert.NoError(t, err)
	require.Len(t, campaigns, 1)
	assert.Equal(t, int64(5), campaigns[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
