package portal

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"clientportal/internal/platform/crm"
)

const (
	maxDeals         = 100
	dealFetchWorkers = 5
)

var dealProperties = []string{"dealname", "amount", "dealstage", "closedate", "createdate", "pipeline"}

type stageStyle struct {
	Label string
	Color string
}

var dealStages = map[string]stageStyle{
	"appointmentscheduled":  {"Appointment Scheduled", "#87909e"},
	"qualifiedtobuy":        {"Qualified to Buy", "#4194f6"},
	"presentationscheduled": {"Presentation Scheduled", "#a875ff"},
	"decisionmakerboughtin": {"Decision Maker Bought-In", "#f9a825"},
	"contractsent":          {"Contract Sent", "#ff7800"},
	"closedwon":             {"Closed Won", "#6bc950"},
	"closedlost":            {"Closed Lost", "#e44356"},
}

// DealView is the browser-facing shape of a CRM deal.
type DealView struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Amount     *float64 `json:"amount"`
	Stage      string   `json:"stage"`
	StageLabel string   `json:"stageLabel"`
	StageColor string   `json:"stageColor"`
	CloseDate  *string  `json:"closeDate"`
	CreateDate *string  `json:"createDate"`
	Pipeline   string   `json:"pipeline"`
}

func NewDealView(o crm.Object) DealView {
	stage := o.Property("dealstage")
	style, ok := dealStages[strings.ToLower(stage)]
	if !ok {
		style = stageStyle{Label: stage, Color: defaultColor}
	}

	var amount *float64
	if v, err := strconv.ParseFloat(strings.TrimSpace(o.Property("amount")), 64); err == nil {
		amount = &v
	}

	return DealView{
		ID:         o.ID,
		Name:       o.Property("dealname"),
		Amount:     amount,
		Stage:      stage,
		StageLabel: style.Label,
		StageColor: style.Color,
		CloseDate:  crmDate(o.Property("closedate")),
		CreateDate: crmDate(o.Property("createdate")),
		Pipeline:   o.Property("pipeline"),
	}
}

// DealSource is the part of the CRM client deals are read through.
type DealSource interface {
	SearchObjects(ctx context.Context, objectType string, search crm.SearchRequest) ([]crm.Object, error)
	GetObject(ctx context.Context, objectType, id string, properties []string) (*crm.Object, error)
	ListAssociations(ctx context.Context, fromType, fromID, toType string) ([]string, error)
}

// DealResolver lists an organization's deals. It searches by company
// association first and falls back to walking the association list. When
// both fail the organization simply has no deals.
type DealResolver struct {
	crm   DealSource
	cache *dealCache
}

func NewDealResolver(source DealSource) *DealResolver {
	return &DealResolver{crm: source}
}

// WithCache keeps each organization's deal list for ttl. A ttl of zero or
// less leaves caching off.
func (r *DealResolver) WithCache(ttl time.Duration) *DealResolver {
	if ttl > 0 {
		r.cache = newDealCache(ttl)
	}
	return r
}

func (r *DealResolver) Resolve(ctx context.Context, orgID string) []DealView {
	if views, ok := r.cache.get(orgID); ok {
		return views
	}

	deals, err := r.search(ctx, orgID)
	if err == nil {
		views := toDealViews(deals)
		r.cache.set(orgID, views)
		return views
	}
	log.Warn().Err(err).Str("org_id", orgID).Msg("deal search failed, falling back to associations")

	deals, complete, err := r.byAssociation(ctx, orgID)
	if err != nil {
		log.Error().Err(err).Str("org_id", orgID).Msg("deal association lookup failed")
		return []DealView{}
	}

	views := toDealViews(deals)
	// Only a complete fallback result is cached.
	if complete {
		r.cache.set(orgID, views)
	}
	return views
}

func (r *DealResolver) search(ctx context.Context, orgID string) ([]crm.Object, error) {
	return r.crm.SearchObjects(ctx, crm.ObjectDeals, crm.SearchRequest{
		FilterGroups: []crm.FilterGroup{{
			Filters: []crm.Filter{{PropertyName: "associations.company", Operator: "EQ", Value: orgID}},
		}},
		Properties: dealProperties,
		Sorts:      []crm.Sort{{PropertyName: "createdate", Direction: "DESCENDING"}},
		Limit:      maxDeals,
	})
}

// byAssociation fetches every associated deal concurrently and waits for all
// of them. Deals that fail to load are skipped and complete is false.
func (r *DealResolver) byAssociation(ctx context.Context, orgID string) (deals []crm.Object, complete bool, err error) {
	ids, err := r.crm.ListAssociations(ctx, crm.ObjectCompanies, orgID, crm.ObjectDeals)
	if err != nil {
		return nil, false, err
	}
	if len(ids) > maxDeals {
		ids = ids[:maxDeals]
	}

	fetched := make([]*crm.Object, len(ids))

	g := new(errgroup.Group)
	g.SetLimit(dealFetchWorkers)
	for i, id := range ids {
		g.Go(func() error {
			deal, err := r.crm.GetObject(ctx, crm.ObjectDeals, id, dealProperties)
			if err != nil {
				log.Warn().Err(err).Str("deal_id", id).Msg("failed to fetch deal")
				return nil
			}
			fetched[i] = deal
			return nil
		})
	}
	g.Wait()

	deals = make([]crm.Object, 0, len(ids))
	for _, d := range fetched {
		if d != nil {
			deals = append(deals, *d)
		}
	}
	return deals, len(deals) == len(ids), nil
}

func toDealViews(deals []crm.Object) []DealView {
	views := make([]DealView, 0, len(deals))
	for _, d := range deals {
		views = append(views, NewDealView(d))
	}
	return views
}

// crmDate accepts either epoch milliseconds or an ISO-8601 timestamp.
func crmDate(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		s := time.UnixMilli(ms).UTC().Format(time.RFC3339)
		return &s
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			s := t.UTC().Format(time.RFC3339)
			return &s
		}
	}
	return nil
}
