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

func newTestConversationRepo(t *testing.T) (*PostgresRepo, sqlmock.Sqlmock) {
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

func TestGetOrCreateOpenConversation_ExistingOpen(t *testing.T) {
	repo, mock := newTestConversationRepo(t)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectBegin()
	lockOpenQuery := `SELECT * FROM "conversations" WHERE contact_id = $1 AND account_id = $2 AND status = $3 ORDER BY "conversations"."id" LIMIT $4 FOR UPDATE`
	rows := sqlmock.NewRows([]string{"id", "contact_id", "account_id", "status", "is_ai_handled", "unread_count", "created_at", "updated_at"}).
		AddRow(int64(7), int64(10), int64(20), "open", true, int32(2), now.Add(-time.Hour), now.Add(-time.Minute))
	mock.ExpectQuery(lockOpenQuery).WithArgs(int64(10), int64(20), "open", 1).WillReturnRows(rows)
	mock.ExpectCommit()

	conversation, isNew, err := repo.GetOrCreateOpenConversation(ctx, 10, 20)
	assert.NoError(t, err)
	require.NotNil(t, conversation)
	assert.False(t, isNew)
	assert.Equal(t, int64(7), conversation.ID)
	assert.Equal(t, model.ConversationStatusOpen, conversation.Status)
	assert.Equal(t, int32(2), conversation.UnreadCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateOpenConversation_ReopensClosed(t *testing.T) {
	repo, mock := newTestConversationRepo(t)
	ctx := context.Background()
	now := time.Now()
	assignedUser := int64(55)

	mock.ExpectBegin()
	lockOpenQuery := `SELECT * FROM "conversations" WHERE contact_id = $1 AND account_id = $2 AND status = $3 ORDER BY "conversations"."id" LIMIT $4 FOR UPDATE`
	mock.ExpectQuery(lockOpenQuery).WithArgs(int64(10), int64(20), "open", 1).WillReturnError(gorm.ErrRecordNotFound)

	lockLatestQuery := `SELECT * FROM "conversations" WHERE contact_id = $1 AND account_id = $2 ORDER BY updated_at DESC,"conversations"."id" LIMIT $3 FOR UPDATE`
	closedRows := sqlmock.NewRows([]string{"id", "contact_id", "account_id", "status", "is_ai_handled", "assigned_user_id", "chatbot_state", "created_at", "updated_at"}).
		AddRow(int64(7), int64(10), int64(20), "closed", false, assignedUser, "awaiting_location", now.Add(-48*time.Hour), now.Add(-24*time.Hour))
	mock.ExpectQuery(lockLatestQuery).WithArgs(int64(10), int64(20), 1).WillReturnRows(closedRows)

	reopenUpdate := `UPDATE "conversations" SET "assigned_user_id"=$1,"chatbot_context"=$2,"chatbot_state"=$3,"is_ai_handled"=$4,"status"=$5,"updated_at"=$6 WHERE "id" = $7`
	mock.ExpectExec(reopenUpdate).
		WithArgs(nil, nil, "", true, "open", AnyTime{}, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	conversation, isNew, err := repo.GetOrCreateOpenConversation(ctx, 10, 20)
	assert.NoError(t, err)
	require.NotNil(t, conversation)
	assert.True(t, isNew)
	assert.Equal(t, model.ConversationStatusOpen, conversation.Status)
	assert.True(t, conversation.IsAIHandled)
	assert.Nil(t, conversation.AssignedUserID)
	assert.Equal(t, model.StateIdle, conversation.ChatbotState)
	assert.Nil(t, conversation.ChatbotContext)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateConversationChatbotState_Success(t *testing.T) {
	repo, mock := newTestConversationRepo(t)
	ctx := context.Background()

	stateContext := model.AwaitingLocationContext{Intent: "find_service_point", PromptCount: 1}
	updateQuery := `UPDATE "conversations" SET "chatbot_context"=$1,"chatbot_state"=$2,"updated_at"=$3 WHERE id = $4`
	mock.ExpectExec(updateQuery).
		WithArgs(AnyJSON{}, string(model.StateAwaitingLocation), AnyTime{}, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateConversationChatbotState(ctx, 7, model.StateAwaitingLocation, stateContext)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateConversationChatbotState_NotFound(t *testing.T) {
	repo, mock := newTestConversationRepo(t)
	ctx := context.Background()

	updateQuery := `UPDATE "conversations" SET "chatbot_context"=$1,"chatbot_state"=$2,"updated_at"=$3 WHERE id = $4`
	mock.ExpectExec(updateQuery).
		WithArgs(AnyJSON{}, "", AnyTime{}, int64(404)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateConversationChatbotState(ctx, 404, model.StateIdle, nil)
	assert.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordConversationInboundActivity(t *testing.T) {
	repo, mock := newTestConversationRepo(t)
	ctx := context.Background()
	at := time.Now()

	updateQuery := `UPDATE "conversations" SET "last_message_at"=$1,"unread_count"=unread_count + 1,"updated_at"=$2 WHERE id = $3`
	mock.ExpectExec(updateQuery).
		WithArgs(AnyTime{}, AnyTime{}, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.RecordConversationInboundActivity(ctx, 7, at)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetConversationStatus_NotFound(t *testing.T) {
	repo, mock := newTestConversationRepo(t)
	ctx := context.Background()

	updateQuery := `UPDATE "conversations" SET "status"=$1,"updated_at"=$2 WHERE id = $3`
	mock.ExpectExec(updateQuery).
		WithArgs("closed", AnyTime{}, int64(404)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetConversationStatus(ctx, 404, model.ConversationStatusClosed)
	assert.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindIdleAIHandledConversations(t *testing.T) {
	repo, mock := newTestConversationRepo(t)
	ctx := context.Background()
	now := time.Now()
	idleSince := now.Add(-5 * time.Minute)

	selectQuery := `SELECT * FROM "conversations" WHERE status = $1 AND is_ai_handled = $2 AND updated_at < $3 ORDER BY updated_at ASC`
	rows := sqlmock.NewRows([]string{"id", "contact_id", "account_id", "status", "is_ai_handled", "updated_at"}).
		AddRow(int64(1), int64(10), int64(20), "open", true, now.Add(-time.Hour)).
		AddRow(int64(2), int64(11), int64(20), "open", true, now.Add(-10*time.Minute))
	mock.ExpectQuery(selectQuery).WithArgs("open", true, AnyTime{}).WillReturnRows(rows)

	conversations, err := repo.FindIdleAIHandledConversations(ctx, idleSince)
	assert.NoError(t, err)
	require.Len(t, conversations, 2)
	assert.Equal(t, int64(1), conversations[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
