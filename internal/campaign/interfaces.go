package campaign

import (
	"context"

	"gitlab.com/dubbox/api/wa-campaign-engine/internal/gateway"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/model"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/segment"
)

// TemplateGateway is the provider surface the dispatch engine needs: the
// approved-template catalog and the template send call.
type TemplateGateway interface {
	GetTemplateByName(ctx context.Context, account model.Account, templateName string) (*gateway.Template, error)
	SendTemplate(ctx context.Context, account model.Account, to, templateName, language string, bodyParams []string) (string, error)
}

// SegmentSource resolves segment predicates to concrete people. Only campaign
// population consults it.
type SegmentSource interface {
	SearchPeople(ctx context.Context, filter segment.SearchFilter) ([]segment.Person, error)
}

var (
	_ TemplateGateway = (*gateway.Client)(nil)
	_ SegmentSource   = (*segment.Client)(nil)
)
