package threshold

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	allocationdomain "github.com/smallbiznis/allocledger/internal/allocation/domain"
	"github.com/smallbiznis/allocledger/internal/config"
	eventdomain "github.com/smallbiznis/allocledger/internal/event/domain"
	obsmetrics "github.com/smallbiznis/allocledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// namespace seeds the name-based uuids of emitted threshold_met events.
var namespace = uuid.MustParse("0b7f9a52-3c1e-5d8a-9f4b-6e2d1c0a8b73")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Repo       allocationdomain.Repository
	Appender   eventdomain.Appender
	Reader     eventdomain.Reader
	Policy     *config.PolicyHolder
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Detector emits threshold_met when a source snapshot crosses a configured
// usage percentage. It must run before the projector so the stored snapshot
// is still the pre-image.
type Detector struct {
	db         *gorm.DB
	log        *zap.Logger
	repo       allocationdomain.Repository
	appender   eventdomain.Appender
	reader     eventdomain.Reader
	policy     *config.PolicyHolder
	obsMetrics *obsmetrics.Metrics
}

func NewDetector(p Params) *Detector {
	return &Detector{
		db:         p.DB,
		log:        p.Log.Named("threshold.detector"),
		repo:       p.Repo,
		appender:   p.Appender,
		reader:     p.Reader,
		policy:     p.Policy,
		obsMetrics: p.ObsMetrics,
	}
}

func (d *Detector) Name() string { return "threshold.detector" }

func (d *Detector) Handle(ctx context.Context, evt eventdomain.Event) error {
	decoded, err := eventdomain.DecodeEvent(evt)
	if err != nil {
		return err
	}
	snapshot, ok := decoded.(eventdomain.SourceSnapshot)
	if !ok {
		return nil
	}

	source, err := d.repo.FindSource(ctx, d.db, snapshot.AllocationSourceName)
	if err != nil {
		return err
	}
	if source == nil || !source.ComputeAllowed.IsPositive() {
		return nil
	}

	previousUsed := decimal.Zero
	current, err := d.repo.FindSnapshot(ctx, d.db, snapshot.AllocationSourceName)
	if err != nil {
		return err
	}
	if current != nil {
		previousUsed = current.ComputeUsed
	}

	previousPct := allocationdomain.UsagePercent(previousUsed, source.ComputeAllowed)
	newPct := allocationdomain.UsagePercent(snapshot.ComputeUsed, source.ComputeAllowed)
	crossed := Crossed(d.policy.Get().Thresholds, previousPct, newPct)
	if len(crossed) == 0 {
		return nil
	}

	emitted, err := d.emittedThisEpoch(ctx, evt.EntityID)
	if err != nil {
		return err
	}

	for _, threshold := range crossed {
		if _, ok := emitted[threshold]; ok {
			continue
		}
		if err := d.emit(ctx, evt, snapshot.AllocationSourceName, threshold, newPct); err != nil {
			return err
		}
	}
	return nil
}

// emittedThisEpoch returns the thresholds already recorded for entityID since
// its last created_or_renewed event.
func (d *Detector) emittedThisEpoch(ctx context.Context, entityID string) (map[int]struct{}, error) {
	filter := eventdomain.ListFilter{
		Names:    []eventdomain.Name{eventdomain.EventThresholdMet},
		EntityID: entityID,
	}
	renewal, err := d.reader.Latest(ctx, eventdomain.EventAllocationSourceCreatedOrRenewed, entityID)
	if err != nil {
		return nil, err
	}
	if renewal != nil {
		filter.AfterID = renewal.ID
	}

	events, err := d.reader.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	emitted := make(map[int]struct{}, len(events))
	for _, evt := range events {
		decoded, err := eventdomain.DecodeEvent(evt)
		if err != nil {
			return nil, err
		}
		emitted[decoded.(eventdomain.ThresholdMet).Threshold] = struct{}{}
	}
	return emitted, nil
}

func (d *Detector) emit(ctx context.Context, cause eventdomain.Event, sourceName string, threshold int, actual decimal.Decimal) error {
	key := uuid.NewSHA1(namespace, []byte(fmt.Sprintf("%s|%d", cause.UUID, threshold))).String()
	req, err := eventdomain.NewRequest(cause.EntityID, eventdomain.ThresholdMet{
		AllocationSource: sourceName,
		Threshold:        threshold,
		ActualValue:      actual,
	}, &key)
	if err != nil {
		return err
	}
	req.Timestamp = cause.Timestamp

	if _, err := d.appender.Append(ctx, req); err != nil {
		return err
	}
	if d.obsMetrics != nil {
		d.obsMetrics.RecordThresholdCrossing(ctx, threshold)
	}
	d.log.Info("threshold met",
		zap.String("allocation_source", sourceName),
		zap.Int("threshold", threshold),
		zap.String("actual_value", actual.String()),
	)
	return nil
}

// Crossed returns, in ascending order, every threshold t with prev < t <= next.
func Crossed(thresholds []int, prev, next decimal.Decimal) []int {
	sorted := append([]int(nil), thresholds...)
	sort.Ints(sorted)

	var crossed []int
	for _, t := range sorted {
		value := decimal.NewFromInt(int64(t))
		if prev.LessThan(value) && value.LessThanOrEqual(next) {
			crossed = append(crossed, t)
		}
	}
	return crossed
}
