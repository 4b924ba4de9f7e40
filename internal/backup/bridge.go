// Package backup mirrors the tracking aggregates into a secondary medium and
// restores them when the primary store starts out empty.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/runnerr0/sitetracker/internal/logging"
	"github.com/runnerr0/sitetracker/internal/storage"
)

// Primary is the part of the aggregate store the bridge needs.
type Primary interface {
	GetTrackingData(ctx context.Context) (*storage.TrackingData, error)
	SetTrackingData(ctx context.Context, data *storage.TrackingData) error
	HasAggregates(ctx context.Context) (bool, error)
	Audit(ctx context.Context, action, detail string) error
}

// Medium stores named text entries.
type Medium interface {
	Set(ctx context.Context, name, value string) error
	Get(ctx context.Context, name string) (string, error)
}

// RestoreOutcome reports which path Restore took.
type RestoreOutcome int

const (
	// RestoreSkipped: the primary already held aggregates.
	RestoreSkipped RestoreOutcome = iota
	// RestoreFromBackup: the primary was repopulated from the medium.
	RestoreFromBackup
	// RestoreInitialized: nothing usable was backed up; the primary was set empty.
	RestoreInitialized
)

func (o RestoreOutcome) String() string {
	switch o {
	case RestoreFromBackup:
		return "restored"
	case RestoreInitialized:
		return "initialized"
	default:
		return "skipped"
	}
}

// Bridge keeps the medium in step with the primary store.
type Bridge struct {
	primary Primary
	medium  Medium
	log     logging.Logger
}

// NewBridge returns a Bridge between primary and medium.
func NewBridge(primary Primary, medium Medium, log logging.Logger) *Bridge {
	if log == nil {
		log = logging.NewNop()
	}
	return &Bridge{primary: primary, medium: medium, log: log}
}

// Mirror copies all three aggregates from the primary into the medium.
func (b *Bridge) Mirror(ctx context.Context) error {
	data, err := b.primary.GetTrackingData(ctx)
	if err != nil {
		return fmt.Errorf("read primary: %w", err)
	}
	return b.write(ctx, data)
}

// Reset writes empty aggregates into the medium.
func (b *Bridge) Reset(ctx context.Context) error {
	return b.write(ctx, storage.EmptyTrackingData())
}

// Watch mirrors the primary after every signal on changes until ctx is
// cancelled. Failures are logged and otherwise ignored.
func (b *Bridge) Watch(ctx context.Context, changes <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			if err := b.Mirror(ctx); err != nil {
				b.log.Warn("backup mirror failed", "error", err.Error())
			}
		}
	}
}

// Load decodes the aggregates held by the medium. Missing entries decode as
// empty; found reports whether any entry was present. A malformed entry
// fails the whole load.
func (b *Bridge) Load(ctx context.Context) (data *storage.TrackingData, found bool, err error) {
	data = storage.EmptyTrackingData()
	targets := map[string]any{
		storage.KeySiteTimes:   &data.SiteTimes,
		storage.KeyUniqueSites: &data.UniqueSites,
		storage.KeyMediaTimes:  &data.MediaTimes,
	}
	for _, key := range storage.AggregateKeys {
		raw, err := b.medium.Get(ctx, key)
		if errors.Is(err, ErrNoBackup) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		if err := json.Unmarshal([]byte(raw), targets[key]); err != nil {
			return nil, false, fmt.Errorf("decode backup %s: %w", key, err)
		}
		found = true
	}
	// A backed-up JSON null decodes to nil; keep collections non-nil.
	if data.SiteTimes == nil {
		data.SiteTimes = map[string]int64{}
	}
	if data.UniqueSites == nil {
		data.UniqueSites = []string{}
	}
	if data.MediaTimes == nil {
		data.MediaTimes = map[string]int64{}
	}
	return data, found, nil
}

// Restore repopulates an empty primary from the medium. When the medium is
// absent or unreadable the primary is initialized with empty aggregates.
// A primary that already holds aggregates is left untouched.
func (b *Bridge) Restore(ctx context.Context) (RestoreOutcome, error) {
	has, err := b.primary.HasAggregates(ctx)
	if err != nil {
		return RestoreSkipped, fmt.Errorf("inspect primary: %w", err)
	}
	if has {
		return RestoreSkipped, nil
	}
	return b.restore(ctx)
}

// ForceRestore copies the medium over the primary even if the primary holds
// data. An unusable medium leaves the primary unchanged.
func (b *Bridge) ForceRestore(ctx context.Context) (RestoreOutcome, error) {
	data, found, err := b.Load(ctx)
	if err != nil {
		return RestoreSkipped, err
	}
	if !found {
		return RestoreSkipped, ErrNoBackup
	}
	if err := b.primary.SetTrackingData(ctx, data); err != nil {
		return RestoreSkipped, fmt.Errorf("write primary: %w", err)
	}
	b.audit(ctx, "restore", "forced")
	return RestoreFromBackup, nil
}

func (b *Bridge) restore(ctx context.Context) (RestoreOutcome, error) {
	data, found, err := b.Load(ctx)
	outcome := RestoreFromBackup
	if err != nil || !found {
		if err != nil {
			b.log.Warn("backup unreadable, starting empty", "error", err.Error())
		}
		data = storage.EmptyTrackingData()
		outcome = RestoreInitialized
	}

	if err := b.primary.SetTrackingData(ctx, data); err != nil {
		return RestoreSkipped, fmt.Errorf("write primary: %w", err)
	}
	b.audit(ctx, "restore", outcome.String())
	b.log.Info("primary store restored", "outcome", outcome.String(), "sites", len(data.SiteTimes))
	return outcome, nil
}

func (b *Bridge) write(ctx context.Context, data *storage.TrackingData) error {
	values := map[string]any{
		storage.KeySiteTimes:   data.SiteTimes,
		storage.KeyUniqueSites: data.UniqueSites,
		storage.KeyMediaTimes:  data.MediaTimes,
	}
	var errs []error
	for _, key := range storage.AggregateKeys {
		raw, err := json.Marshal(values[key])
		if err != nil {
			errs = append(errs, fmt.Errorf("encode %s: %w", key, err))
			continue
		}
		if err := b.medium.Set(ctx, key, string(raw)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bridge) audit(ctx context.Context, action, detail string) {
	if err := b.primary.Audit(ctx, action, detail); err != nil {
		b.log.Warn("audit failed", "action", action, "error", err.Error())
	}
}
