package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/iter"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"gitlab.com/dubbox/api/wa-campaign-engine/internal/apperrors"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/config"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/events"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/gateway"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/model"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/observer"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/segment"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/storage"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/taskqueue"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/validator"
	"gitlab.com/dubbox/api/wa-campaign-engine/pkg/logger"
	"gitlab.com/dubbox/api/wa-campaign-engine/pkg/utils"
)

// Engine is the campaign dispatch engine: it resolves target contacts,
// paces outbound sends at the campaign's rate limit, tracks per-contact
// outcomes and detects completion. Sends run as independently delayed tasks,
// not a tight loop, so the outbound rate is steady rather than bursty.
type Engine struct {
	gateway  TemplateGateway
	segments SegmentSource

	accounts         storage.AccountRepo
	contacts         storage.ContactRepo
	conversations    storage.ConversationRepo
	messages         storage.MessageRepo
	campaigns        storage.CampaignRepo
	campaignContacts storage.CampaignContactRepo

	dispatcher *events.Dispatcher
	tasks      taskqueue.Submitter
	cfg        config.CampaignConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	timers    map[int64][]*time.Timer
	scheduled int
}

// NewEngine wires the campaign dispatch engine.
func NewEngine(
	gw TemplateGateway,
	segments SegmentSource,
	accounts storage.AccountRepo,
	contacts storage.ContactRepo,
	conversations storage.ConversationRepo,
	messages storage.MessageRepo,
	campaigns storage.CampaignRepo,
	campaignContacts storage.CampaignContactRepo,
	dispatcher *events.Dispatcher,
	tasks taskqueue.Submitter,
	cfg config.CampaignConfig,
) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	if logger.Log != nil {
		ctx = logger.WithLogger(ctx, logger.Log.With(zap.String("component", "campaign_engine")))
	}
	return &Engine{
		gateway:          gw,
		segments:         segments,
		accounts:         accounts,
		contacts:         contacts,
		conversations:    conversations,
		messages:         messages,
		campaigns:        campaigns,
		campaignContacts: campaignContacts,
		dispatcher:       dispatcher,
		tasks:            tasks,
		cfg:              cfg,
		ctx:              ctx,
		cancel:           cancel,
		timers:           make(map[int64][]*time.Timer),
	}
}

// Stop cancels every scheduled send timer. In-flight tasks finish on their
// own; only not-yet-fired timers are dropped.
func (e *Engine) Stop() {
	e.cancel()
	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.timers {
		e.cancelTimersLocked(id)
	}
}

// Create validates and persists a new campaign with its filter, then
// populates the target list. Scheduled campaigns require a schedule time.
func (e *Engine) Create(ctx context.Context, campaign *model.Campaign) error {
	if campaign.Type == "" {
		campaign.Type = model.CampaignTypeImmediate
	}
	if err := validator.Validate(campaign); err != nil {
		return err
	}
	if campaign.Type == model.CampaignTypeScheduled && campaign.ScheduledAt == nil {
		return fmt.Errorf("%w: scheduled campaign requires scheduled_at", apperrors.ErrValidation)
	}
	if campaign.RateLimitPerMin <= 0 {
		campaign.RateLimitPerMin = e.cfg.DefaultRatePerMinute
	}

	campaign.Status = model.CampaignStatusDraft
	if campaign.Type == model.CampaignTypeScheduled {
		campaign.Status = model.CampaignStatusScheduled
	}

	if err := e.campaigns.Create(ctx, campaign); err != nil {
		return err
	}
	return e.Populate(ctx, campaign.ID)
}

// Populate resolves the campaign's filter into a concrete contact list and
// replaces the existing target rows with one pending row per contact. The
// purge and repopulation happen in one storage transaction.
func (e *Engine) Populate(ctx context.Context, campaignID int64) error {
	log := logger.FromContext(ctx)

	campaign, err := e.campaigns.FindByID(ctx, campaignID)
	if err != nil {
		return err
	}
	filter, err := model.DecodeFilter(campaign.Filters)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}

	var resolved []model.Contact
	if filter.HasSegmentPredicates() {
		resolved, err = e.resolveSegmentContacts(ctx, filter)
	} else {
		resolved, err = e.contacts.FindByAttributes(ctx, filter.ContactStatus, filter.PhoneNumbers)
	}
	if err != nil {
		return err
	}

	rows := make([]model.CampaignContact, 0, len(resolved))
	for i := range resolved {
		params, paramErr := personalizeParameters(campaign.TemplateParams, &resolved[i])
		if paramErr != nil {
			return fmt.Errorf("%w: %v", apperrors.ErrValidation, paramErr)
		}
		encoded, encErr := encodeParameters(params)
		if encErr != nil {
			return encErr
		}
		rows = append(rows, model.CampaignContact{
			CampaignID: campaignID,
			ContactID:  resolved[i].ID,
			Status:     model.CampaignContactPending,
			Parameters: encoded,
		})
	}

	if err := e.campaignContacts.ReplaceForCampaign(ctx, campaignID, rows); err != nil {
		return err
	}
	log.Info("Campaign populated",
		zap.Int64("campaign_id", campaignID),
		zap.Int("total_contacts", len(rows)))
	return nil
}

// resolveSegmentContacts queries the segmentation source and upserts the
// resulting people as local contacts, merging tags with existing rows.
func (e *Engine) resolveSegmentContacts(ctx context.Context, filter model.CampaignFilter) ([]model.Contact, error) {
	searchFilter := segment.SearchFilter{TagIDs: filter.Tags}
	for _, surveyID := range filter.Surveys {
		searchFilter.Surveys = append(searchFilter.Surveys, segment.SurveyFilter{SurveyID: surveyID})
	}

	people, err := e.segments.SearchPeople(ctx, searchFilter)
	if err != nil {
		return nil, err
	}
	people = filterByCustomFields(people, filter.CustomFields)

	candidates := iter.Map(people, func(p *segment.Person) model.Contact {
		return segmentPersonToContact(*p)
	})

	withPhone := candidates[:0]
	for _, c := range candidates {
		if c.PhoneNumber != "" {
			withPhone = append(withPhone, c)
		}
	}
	if len(withPhone) == 0 {
		return nil, nil
	}
	return e.contacts.BulkUpsert(ctx, withPhone)
}

func segmentPersonToContact(p segment.Person) model.Contact {
	tags, _ := json.Marshal(append(p.Tags, model.DefaultContactTag))
	var customFields datatypes.JSON
	if len(p.CustomFields) > 0 {
		encoded, err := json.Marshal(p.CustomFields)
		if err == nil {
			customFields = datatypes.JSON(encoded)
		}
	}
	return model.Contact{
		PhoneNumber:  p.PrimaryPhone(),
		ProviderID:   p.ID,
		Name:         p.FullName,
		Tags:         datatypes.JSON(tags),
		CustomFields: customFields,
		Status:       model.ContactStatusActive,
	}
}

// filterByCustomFields keeps people whose custom fields match every
// predicate; the segmentation API cannot filter on these server-side.
func filterByCustomFields(people []segment.Person, predicates map[string]string) []segment.Person {
	if len(predicates) == 0 {
		return people
	}
	matched := people[:0]
	for _, p := range people {
		ok := true
		for key, want := range predicates {
			if p.CustomFields[key] != want {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, p)
		}
	}
	return matched
}

// Start transitions the campaign to running and schedules one delayed send
// task per pending contact, spaced by 60/rate seconds. Illegal from any
// status but draft or scheduled.
func (e *Engine) Start(ctx context.Context, campaignID int64) error {
	campaign, err := e.campaigns.MarkRunning(ctx, campaignID)
	if err != nil {
		return err
	}
	return e.scheduleSends(ctx, campaign)
}

// Pause stops further dispatch: status to paused and every not-yet-fired
// send timer for the campaign is cancelled, so no sends leak out after the
// operator acted. Pending rows are left untouched for a later resume.
func (e *Engine) Pause(ctx context.Context, campaignID int64) error {
	if _, err := e.campaigns.SetStatus(ctx, campaignID,
		[]model.CampaignStatus{model.CampaignStatusRunning}, model.CampaignStatusPaused); err != nil {
		return err
	}
	e.cancelTimers(campaignID)
	logger.FromContext(ctx).Info("Campaign paused", zap.Int64("campaign_id", campaignID))
	return nil
}

// Resume re-enters the throttled scheduling loop over the remaining pending
// rows.
func (e *Engine) Resume(ctx context.Context, campaignID int64) error {
	campaign, err := e.campaigns.SetStatus(ctx, campaignID,
		[]model.CampaignStatus{model.CampaignStatusPaused}, model.CampaignStatusRunning)
	if err != nil {
		return err
	}
	return e.scheduleSends(ctx, campaign)
}

// Cancel terminally stops the campaign. Pending rows keep their status; they
// are simply never dispatched.
func (e *Engine) Cancel(ctx context.Context, campaignID int64) error {
	if _, err := e.campaigns.SetStatus(ctx, campaignID, []model.CampaignStatus{
		model.CampaignStatusDraft,
		model.CampaignStatusScheduled,
		model.CampaignStatusRunning,
		model.CampaignStatusPaused,
	}, model.CampaignStatusCancelled); err != nil {
		return err
	}
	e.cancelTimers(campaignID)
	logger.FromContext(ctx).Info("Campaign cancelled", zap.Int64("campaign_id", campaignID))
	return nil
}

// ResendContact re-arms one failed contact row and dispatches a single send
// task immediately, reusing the normal send path.
func (e *Engine) ResendContact(ctx context.Context, campaignID, campaignContactID int64) error {
	row, err := e.campaignContacts.FindByID(ctx, campaignContactID)
	if err != nil {
		return err
	}
	if row.CampaignID != campaignID {
		return fmt.Errorf("%w: contact row %d does not belong to campaign %d",
			apperrors.ErrBadRequest, campaignContactID, campaignID)
	}
	reset, err := e.campaignContacts.ResetToPending(ctx, campaignContactID)
	if err != nil {
		return err
	}
	if !reset {
		return fmt.Errorf("%w: contact row %d is not failed", apperrors.ErrConflict, campaignContactID)
	}
	e.submitSend(campaignID, campaignContactID)
	return nil
}

// ResendFailed re-arms every failed row of the campaign and re-enters the
// throttled dispatch loop.
func (e *Engine) ResendFailed(ctx context.Context, campaignID int64) (int64, error) {
	reset, err := e.campaignContacts.ResetFailed(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	if reset == 0 {
		return 0, nil
	}
	campaign, err := e.campaigns.SetStatus(ctx, campaignID,
		[]model.CampaignStatus{model.CampaignStatusRunning, model.CampaignStatusCompleted},
		model.CampaignStatusRunning)
	if err != nil {
		return 0, err
	}
	if err := e.scheduleSends(ctx, campaign); err != nil {
		return reset, err
	}
	return reset, nil
}

// scheduleSends arms one timer per pending contact at 60/rate spacing. The
// first send fires immediately, the Nth at (N-1) intervals, so a campaign
// with rate 30 and 90 contacts finishes scheduling at t=178s.
func (e *Engine) scheduleSends(ctx context.Context, campaign *model.Campaign) error {
	pending, err := e.campaignContacts.FindPendingByCampaign(ctx, campaign.ID)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		e.checkCompletion(ctx, campaign.ID)
		return nil
	}

	spacing := sendSpacing(campaign.RateLimitPerMin, e.cfg.DefaultRatePerMinute)

	e.mu.Lock()
	for i := range pending {
		rowID := pending[i].ID
		campaignID := campaign.ID
		timer := time.AfterFunc(time.Duration(i)*spacing, func() {
			e.timerFired()
			e.submitSend(campaignID, rowID)
		})
		e.timers[campaign.ID] = append(e.timers[campaign.ID], timer)
	}
	e.scheduled += len(pending)
	observer.SetCampaignTasksScheduled(e.scheduled)
	e.mu.Unlock()

	logger.FromContext(ctx).Info("Campaign sends scheduled",
		zap.Int64("campaign_id", campaign.ID),
		zap.Int("pending", len(pending)),
		zap.Duration("spacing", spacing))
	return nil
}

// sendSpacing is the delay between consecutive sends: 60/rate seconds, with
// the configured default as the floor against zero or unset rates.
func sendSpacing(rate, defaultRate int) time.Duration {
	if rate <= 0 {
		rate = defaultRate
	}
	if rate <= 0 {
		rate = 1
	}
	return time.Minute / time.Duration(rate)
}

func (e *Engine) timerFired() {
	e.mu.Lock()
	e.scheduled--
	observer.SetCampaignTasksScheduled(e.scheduled)
	e.mu.Unlock()
}

func (e *Engine) cancelTimers(campaignID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelTimersLocked(campaignID)
}

func (e *Engine) cancelTimersLocked(campaignID int64) {
	for _, timer := range e.timers[campaignID] {
		if timer.Stop() {
			e.scheduled--
		}
	}
	delete(e.timers, campaignID)
	observer.SetCampaignTasksScheduled(e.scheduled)
}

// submitSend queues one send task with the configured retry budget. Retries
// cover task-level transient failures; a provider rejection is terminal and
// never re-attempted.
func (e *Engine) submitSend(campaignID, campaignContactID int64) {
	spec := taskqueue.TaskSpec{
		Name:        "campaign_send",
		MaxAttempts: e.cfg.MaxAttempts,
		Backoff:     e.cfg.RetryDelay,
		Timeout:     e.cfg.SendTimeout,
	}
	err := e.tasks.Submit(e.ctx, spec, func(taskCtx context.Context) error {
		return e.SendOne(taskCtx, campaignID, campaignContactID)
	})
	if err != nil {
		logger.FromContext(e.ctx).Error("Failed to submit campaign send task",
			zap.Error(err),
			zap.Int64("campaign_id", campaignID),
			zap.Int64("campaign_contact_id", campaignContactID))
	}
}

// SendOne dispatches the template message for one campaign contact. It
// no-ops unless the campaign is running and the row is still pending, so
// duplicate or stale tasks resolve to exactly one provider call.
func (e *Engine) SendOne(ctx context.Context, campaignID, campaignContactID int64) error {
	log := logger.FromContext(ctx)
	started := utils.Now()

	campaign, err := e.campaigns.FindByID(ctx, campaignID)
	if err != nil {
		return err
	}
	if campaign.Status != model.CampaignStatusRunning {
		log.Debug("Skipping send for non-running campaign",
			zap.Int64("campaign_id", campaignID),
			zap.String("status", string(campaign.Status)))
		return nil
	}

	row, err := e.campaignContacts.FindByID(ctx, campaignContactID)
	if err != nil {
		return err
	}
	if row.Status != model.CampaignContactPending {
		return nil
	}

	contact, err := e.contacts.FindByID(ctx, row.ContactID)
	if err != nil {
		return err
	}
	account, err := e.accounts.FindByID(ctx, campaign.AccountID)
	if err != nil {
		return err
	}

	// The template name alone is not sendable: the provider requires the
	// language code of an approved template.
	tpl, err := e.gateway.GetTemplateByName(ctx, *account, campaign.TemplateName)
	if err != nil {
		if apperrors.IsRetryable(err) {
			return err
		}
		return e.recordFailure(ctx, campaign, row, fmt.Sprintf("template %q: %v", campaign.TemplateName, err))
	}

	params, err := decodeParameters(row.Parameters)
	if err != nil || len(params) == 0 {
		params, err = personalizeParameters(campaign.TemplateParams, contact)
		if err != nil {
			return e.recordFailure(ctx, campaign, row, fmt.Sprintf("parameters: %v", err))
		}
	}

	providerMessageID, err := e.gateway.SendTemplate(ctx, *account, contact.PhoneNumber,
		campaign.TemplateName, tpl.Language, params)
	if err != nil {
		if apperrors.IsRetryable(err) {
			return err
		}
		return e.recordFailure(ctx, campaign, row, err.Error())
	}

	sent, err := e.campaignContacts.MarkSent(ctx, row.ID, providerMessageID, utils.Now())
	if err != nil {
		return err
	}
	if !sent {
		// A concurrent worker won the row; its outcome stands.
		return nil
	}

	observer.IncCampaignSend("sent")
	observer.ObserveCampaignSendDuration(time.Since(started))

	e.appendConversationHistory(ctx, campaign, contact, account, *tpl, params, providerMessageID)
	e.finishAttempt(ctx, campaign.ID)
	return nil
}

// recordFailure marks the row failed with the provider's reason. Terminal:
// the task retry budget does not apply to provider rejections.
func (e *Engine) recordFailure(ctx context.Context, campaign *model.Campaign, row *model.CampaignContact, reason string) error {
	failed, err := e.campaignContacts.MarkFailed(ctx, row.ID, reason)
	if err != nil {
		return err
	}
	if failed {
		observer.IncCampaignSend("failed")
		logger.FromContext(ctx).Warn("Campaign send rejected",
			zap.Int64("campaign_id", campaign.ID),
			zap.Int64("campaign_contact_id", row.ID),
			zap.String("reason", reason))
	}
	e.finishAttempt(ctx, campaign.ID)
	return nil
}

// appendConversationHistory stores a denormalized copy of the sent template
// in the contact's conversation, creating the conversation when the contact
// never wrote in. History failures are logged; the send already succeeded.
func (e *Engine) appendConversationHistory(ctx context.Context, campaign *model.Campaign, contact *model.Contact, account *model.Account, tpl gateway.Template, params []string, providerMessageID string) {
	log := logger.FromContext(ctx)

	conversation, _, err := e.conversations.GetOrCreateOpen(ctx, contact.ID, account.ID)
	if err != nil {
		log.Warn("Failed to resolve conversation for campaign history",
			zap.Error(err), zap.Int64("contact_id", contact.ID))
		return
	}

	body := renderTemplateBody(tpl, params)
	now := utils.Now()
	message := &model.Message{
		ConversationID:    conversation.ID,
		ContactID:         contact.ID,
		Direction:         model.DirectionOutbound,
		Type:              model.TypeTemplate,
		Status:            model.MessageStatusSent,
		Content:           &body,
		TemplateName:      campaign.TemplateName,
		ProviderMessageID: &providerMessageID,
		ProviderTimestamp: now,
		SentAt:            &now,
	}
	if err := e.messages.Save(ctx, message); err != nil {
		log.Warn("Failed to append campaign message to conversation history",
			zap.Error(err), zap.Int64("conversation_id", conversation.ID))
		return
	}
	e.dispatcher.PublishChatMessageSent(ctx, events.ChatMessageSent{
		Message:      message,
		Conversation: conversation,
	})
}

// finishAttempt refreshes the aggregate counters and completes the campaign
// when nothing is left pending. MarkCompleted's status guard makes the check
// safe under concurrent send tasks: only one caller flips the row.
func (e *Engine) finishAttempt(ctx context.Context, campaignID int64) {
	log := logger.FromContext(ctx)

	if err := e.campaigns.RecomputeCounters(ctx, campaignID); err != nil {
		log.Warn("Failed to recompute campaign counters",
			zap.Error(err), zap.Int64("campaign_id", campaignID))
	}
	e.checkCompletion(ctx, campaignID)
}

func (e *Engine) checkCompletion(ctx context.Context, campaignID int64) {
	log := logger.FromContext(ctx)

	pending, err := e.campaigns.CountPendingContacts(ctx, campaignID)
	if err != nil {
		log.Warn("Failed to count pending campaign contacts",
			zap.Error(err), zap.Int64("campaign_id", campaignID))
		return
	}
	if pending > 0 {
		return
	}

	completed, err := e.campaigns.MarkCompleted(ctx, campaignID)
	if err != nil {
		log.Warn("Failed to complete campaign", zap.Error(err), zap.Int64("campaign_id", campaignID))
		return
	}
	if completed {
		e.cancelTimers(campaignID)
		log.Info("Campaign completed", zap.Int64("campaign_id", campaignID))
	}
}
