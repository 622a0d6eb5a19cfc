package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	allocationdomain "github.com/smallbiznis/allocledger/internal/allocation/domain"
	"github.com/smallbiznis/allocledger/internal/cache"
	"github.com/smallbiznis/allocledger/internal/clock"
	"github.com/smallbiznis/allocledger/internal/config"
	eventdomain "github.com/smallbiznis/allocledger/internal/event/domain"
	obslogger "github.com/smallbiznis/allocledger/internal/observability/logger"
	reconciledomain "github.com/smallbiznis/allocledger/internal/reconcile/domain"
	"github.com/smallbiznis/allocledger/internal/remote"
	"github.com/smallbiznis/allocledger/pkg/batch"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	JobName = "reconciliation"

	defaultConcurrency = 4
	defaultStrategy    = "default"
)

// namespace seeds the name-based uuids of reconciler events.
var namespace = uuid.MustParse("5d3c0f6e-8a1b-5c27-b4e9-2f7a6d1c9e40")

type Params struct {
	fx.In

	Config    config.Config
	Log       *zap.Logger
	Clock     clock.Clock
	Client    remote.Client
	Appender  eventdomain.Appender
	Reader    eventdomain.Reader
	Accounts  allocationdomain.Service
	Directory reconciledomain.UserDirectory
}

type Service struct {
	log         *zap.Logger
	clock       clock.Clock
	client      remote.Client
	appender    eventdomain.Appender
	reader      eventdomain.Reader
	accounts    allocationdomain.Service
	directory   reconciledomain.UserDirectory
	resource    string
	concurrency int

	mappings cache.Cache[string, reconciledomain.Mapping]
}

func NewService(p Params) (reconciledomain.Service, error) {
	concurrency := p.Config.Scheduler.ReconcileConcurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Service{
		log:         p.Log.Named("reconcile.service"),
		clock:       p.Clock,
		client:      p.Client,
		appender:    p.Appender,
		reader:      p.Reader,
		accounts:    p.Accounts,
		directory:   p.Directory,
		resource:    strings.TrimSpace(p.Config.Remote.Resource),
		concurrency: concurrency,
		mappings:    cache.NewUnboundedCache[string, reconciledomain.Mapping](),
	}, nil
}

func (s *Service) ClearCache() {
	s.mappings.Purge()
	s.client.ClearCache()
}

func (s *Service) Sync(ctx context.Context, username string) ([]allocationdomain.AllocationSource, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, allocationdomain.ErrInvalidUsername
	}
	log := obslogger.WithContext(ctx, s.log).With(zap.String("username", username))

	confirmed, err := s.remoteAllocations(ctx, username)
	if err != nil {
		return nil, err
	}

	previous, err := s.accounts.ListMemberships(ctx, username)
	if err != nil {
		return nil, err
	}
	member := make(map[string]allocationdomain.UserAllocationSource, len(previous))
	for _, m := range previous {
		member[m.AllocationSourceName] = m
	}

	names := make([]string, 0, len(confirmed))
	for name := range confirmed {
		names = append(names, name)
	}
	sort.Strings(names)

	assigned := make([]allocationdomain.AllocationSource, 0, len(names))
	for _, name := range names {
		source, err := s.ensureSource(ctx, name, confirmed[name].Allocation)
		if err != nil {
			return nil, err
		}
		if _, ok := member[name]; !ok {
			if err := s.addMembership(ctx, username, name); err != nil {
				return nil, err
			}
			log.Info("membership added", zap.String("allocation_source", name))
		}
		assigned = append(assigned, *source)
	}

	stale := make([]allocationdomain.UserAllocationSource, 0)
	for name, m := range member {
		if _, ok := confirmed[name]; !ok {
			stale = append(stale, m)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].AllocationSourceName < stale[j].AllocationSourceName })
	for _, m := range stale {
		if err := s.removeMembership(ctx, m); err != nil {
			return nil, err
		}
		log.Info("membership removed", zap.String("allocation_source", m.AllocationSourceName))
	}

	return assigned, nil
}

func (s *Service) SyncAll(ctx context.Context) (*batch.Result, error) {
	usernames, err := s.directory.Usernames(ctx)
	if err != nil {
		return nil, err
	}

	result := batch.New(JobName)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, username := range usernames {
		username := username
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				result.Record(username, err)
				return nil
			}
			_, err := s.Sync(gctx, username)
			if err != nil {
				obslogger.WithContext(gctx, s.log).Warn("sync failed",
					zap.String("username", username),
					zap.Error(err),
				)
			}
			result.Record(username, err)
			return nil
		})
	}
	_ = g.Wait()
	return result, ctx.Err()
}

// remoteAllocations returns the active in-window allocations of the user,
// one per allocation source name.
func (s *Service) remoteAllocations(ctx context.Context, username string) (map[string]remote.ProjectAllocation, error) {
	mapping, err := s.mapping(ctx, username)
	if err != nil {
		return nil, err
	}
	if !mapping.Found {
		return map[string]remote.ProjectAllocation{}, nil
	}

	projects, err := s.client.Projects(ctx, mapping.RemoteUsername)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	out := make(map[string]remote.ProjectAllocation)
	for _, project := range projects {
		name := strings.TrimSpace(project.ChargeCode)
		if name == "" {
			continue
		}
		for _, alloc := range project.Allocations {
			if !alloc.ActiveAt(now) {
				continue
			}
			if s.resource != "" && !strings.EqualFold(alloc.Resource, s.resource) {
				continue
			}
			current, ok := out[name]
			if ok && !newer(alloc, current.Allocation) {
				continue
			}
			out[name] = remote.ProjectAllocation{Project: project, Allocation: alloc}
		}
	}
	return out, nil
}

func newer(a, b remote.Allocation) bool {
	if !a.Start.Equal(b.Start) {
		return a.Start.After(b.Start)
	}
	return a.ID > b.ID
}

func (s *Service) mapping(ctx context.Context, username string) (reconciledomain.Mapping, error) {
	if cached, ok := s.mappings.Get(username); ok {
		return cached, nil
	}

	remoteUsername, err := s.client.RemoteUsername(ctx, username)
	var noMapping *remote.NoMappingError
	switch {
	case errors.As(err, &noMapping):
		mapping := reconciledomain.Mapping{}
		s.mappings.Set(username, mapping)
		return mapping, nil
	case err != nil:
		return reconciledomain.Mapping{}, err
	}

	mapping := reconciledomain.Mapping{RemoteUsername: remoteUsername, Found: true}
	s.mappings.Set(username, mapping)
	return mapping, nil
}

// ensureSource makes the local source reflect the remote allocation. A
// created_or_renewed event is appended when the source is unknown, removed,
// or started before the remote allocation did; otherwise only a changed
// compute_allowed is forwarded.
func (s *Service) ensureSource(ctx context.Context, name string, alloc remote.Allocation) (*allocationdomain.AllocationSource, error) {
	allocID := fmt.Sprint(alloc.ID)

	source, err := s.accounts.GetSource(ctx, name)
	if err != nil && !errors.Is(err, allocationdomain.ErrSourceNotFound) {
		return nil, err
	}
	if source == nil || !source.Active() || source.StartDate.Before(alloc.Start) {
		removed, err := s.count(ctx, eventdomain.EventAllocationSourceRemoved, name)
		if err != nil {
			return nil, err
		}
		key := deriveKey(name, allocID, string(eventdomain.EventAllocationSourceCreatedOrRenewed), fmt.Sprint(removed))
		if err := s.append(ctx, name, eventdomain.SourceCreatedOrRenewed{
			AllocationSourceName: name,
			ComputeAllowed:       alloc.ComputeAllocated,
			RenewalStrategy:      defaultStrategy,
		}, key); err != nil {
			return nil, err
		}
		if source, err = s.accounts.GetSource(ctx, name); err != nil {
			return nil, err
		}
	}
	if source.ComputeAllowed.Equal(alloc.ComputeAllocated) {
		return source, nil
	}

	// keyed by change count: a return to an earlier value is a new event
	changes, err := s.count(ctx, eventdomain.EventAllocationSourceComputeAllowedChanged, name)
	if err != nil {
		return nil, err
	}
	key := deriveKey(name, allocID, string(eventdomain.EventAllocationSourceComputeAllowedChanged),
		source.ComputeAllowed.String(), alloc.ComputeAllocated.String(), fmt.Sprint(changes))
	if err := s.append(ctx, name, eventdomain.ComputeAllowedChanged{
		AllocationSourceName: name,
		ComputeAllowed:       alloc.ComputeAllocated,
	}, key); err != nil {
		return nil, err
	}
	return s.accounts.GetSource(ctx, name)
}

func (s *Service) addMembership(ctx context.Context, username, sourceName string) error {
	generation, err := s.removals(ctx, username, sourceName)
	if err != nil {
		return err
	}
	key := deriveKey(sourceName, username, string(eventdomain.EventUserAllocationSourceCreated), fmt.Sprint(generation))
	return s.append(ctx, username, eventdomain.UserSourceCreated{
		Username:             username,
		AllocationSourceName: sourceName,
	}, key)
}

func (s *Service) removeMembership(ctx context.Context, m allocationdomain.UserAllocationSource) error {
	key := deriveKey(m.AllocationSourceName, m.Username, string(eventdomain.EventUserAllocationSourceDeleted), fmt.Sprint(m.CreatedAt.UnixNano()))
	return s.append(ctx, m.Username, eventdomain.UserSourceDeleted{
		Username:             m.Username,
		AllocationSourceName: m.AllocationSourceName,
	}, key)
}

// removals counts past deletions of the membership so that a re-added
// membership gets a fresh idempotency key.
func (s *Service) removals(ctx context.Context, username, sourceName string) (int, error) {
	events, err := s.reader.List(ctx, eventdomain.ListFilter{
		Names:    []eventdomain.Name{eventdomain.EventUserAllocationSourceDeleted},
		EntityID: username,
	})
	if err != nil {
		return 0, err
	}
	count := 0
	for _, evt := range events {
		payload, err := eventdomain.DecodeEvent(evt)
		if err != nil {
			return 0, err
		}
		if deleted, ok := payload.(eventdomain.UserSourceDeleted); ok && deleted.AllocationSourceName == sourceName {
			count++
		}
	}
	return count, nil
}

// count returns how many events of name were stored for entityID.
func (s *Service) count(ctx context.Context, name eventdomain.Name, entityID string) (int, error) {
	events, err := s.reader.List(ctx, eventdomain.ListFilter{
		Names:    []eventdomain.Name{name},
		EntityID: entityID,
	})
	if err != nil {
		return 0, err
	}
	return len(events), nil
}

func (s *Service) append(ctx context.Context, entityID string, payload eventdomain.Payload, key string) error {
	req, err := eventdomain.NewRequest(entityID, payload, &key)
	if err != nil {
		return err
	}
	_, err = s.appender.Append(ctx, req)
	return err
}

func deriveKey(parts ...string) string {
	return uuid.NewSHA1(namespace, []byte(strings.Join(parts, "|"))).String()
}
