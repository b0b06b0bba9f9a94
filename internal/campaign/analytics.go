package campaign

import (
	"context"
	"time"

	"go.uber.org/zap"

	"gitlab.com/dubbox/api/wa-campaign-engine/internal/model"
	"gitlab.com/dubbox/api/wa-campaign-engine/pkg/logger"
	"gitlab.com/dubbox/api/wa-campaign-engine/pkg/utils"
)

// Analytics is a derived snapshot of a campaign's funnel. The counter
// recompute already folds later receipt stages into the earlier ones
// (a read row counts as sent and delivered too), so the stored counters
// are cumulative and can be compared directly.
type Analytics struct {
	CampaignID      int64                `json:"campaign_id"`
	Status          model.CampaignStatus `json:"status"`
	TotalContacts   int                  `json:"total_contacts"`
	Sent            int                  `json:"sent"`
	Delivered       int                  `json:"delivered"`
	Read            int                  `json:"read"`
	Failed          int                  `json:"failed"`
	ProgressPercent float64              `json:"progress_percent"`
	DeliveryPercent float64              `json:"delivery_percent"`
	ReadPercent     float64              `json:"read_percent"`
	StartedAt       *time.Time           `json:"started_at,omitempty"`
	CompletedAt     *time.Time           `json:"completed_at,omitempty"`
}

// Stats refreshes the campaign's aggregate counters from the per-contact
// rows and returns the row.
func (e *Engine) Stats(ctx context.Context, campaignID int64) (*model.Campaign, error) {
	if err := e.campaigns.RecomputeCounters(ctx, campaignID); err != nil {
		return nil, err
	}
	return e.campaigns.FindByID(ctx, campaignID)
}

// Analytics computes the funnel snapshot for a campaign.
func (e *Engine) Analytics(ctx context.Context, campaignID int64) (*Analytics, error) {
	campaign, err := e.Stats(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	a := &Analytics{
		CampaignID:    campaign.ID,
		Status:        campaign.Status,
		TotalContacts: campaign.TotalContacts,
		Sent:          campaign.SentCount,
		Delivered:     campaign.DeliveredCount,
		Read:          campaign.ReadCount,
		Failed:        campaign.FailedCount,
		StartedAt:     campaign.StartedAt,
		CompletedAt:   campaign.CompletedAt,
	}
	if campaign.TotalContacts > 0 {
		a.ProgressPercent = percent(campaign.SentCount+campaign.FailedCount, campaign.TotalContacts)
	}
	if campaign.SentCount > 0 {
		a.DeliveryPercent = percent(campaign.DeliveredCount, campaign.SentCount)
	}
	if campaign.DeliveredCount > 0 {
		a.ReadPercent = percent(campaign.ReadCount, campaign.DeliveredCount)
	}
	return a, nil
}

func percent(part, whole int) float64 {
	return float64(part) / float64(whole) * 100
}

// StartScheduler begins the periodic pass that starts scheduled campaigns
// whose time has come. It stops when the engine is stopped.
func (e *Engine) StartScheduler(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		logger.FromContext(e.ctx).Info("Campaign scheduler started",
			zap.Duration("interval", interval))
		for {
			select {
			case <-e.ctx.Done():
				return
			case <-ticker.C:
				e.startDueCampaigns(e.ctx)
			}
		}
	}()
}

func (e *Engine) startDueCampaigns(ctx context.Context) {
	log := logger.FromContext(ctx)

	due, err := e.campaigns.FindDueScheduled(ctx, utils.Now())
	if err != nil {
		log.Error("Failed to scan for due scheduled campaigns", zap.Error(err))
		return
	}
	for i := range due {
		if err := e.Start(ctx, due[i].ID); err != nil {
			// A concurrent operator action may have moved the campaign on.
			log.Warn("Failed to start due campaign",
				zap.Error(err), zap.Int64("campaign_id", due[i].ID))
		}
	}
}
