package backup

import (
	"context"
	"fmt"
	"path"
	"time"

	"mysql-oss-backup/internal/errors"
)

// PlanSweep picks the expired artifacts out of objects. Age comes from the
// timestamp embedded in the key, not from store metadata, so re-uploaded
// or migrated objects keep their original age. An artifact is expired once
// strictly more than keepDays whole days have passed; objects whose keys
// do not follow the artifact naming scheme are never selected.
func PlanSweep(objects []Object, keepDays int, now time.Time) []Object {
	var expired []Object
	for _, obj := range objects {
		ts, ok := ParseArtifactTime(path.Base(obj.Key))
		if !ok {
			continue
		}
		ageDays := int(now.Sub(ts).Hours() / 24)
		if ageDays > keepDays {
			expired = append(expired, obj)
		}
	}
	return expired
}

// sweepRemote deletes expired artifacts under the configured prefix. A
// failed delete is logged and the sweep moves on; any failure at all still
// fails the run so the operator learns retention is not being enforced.
func (p *Pipeline) sweepRemote(ctx context.Context) ([]string, error) {
	objects, err := p.store.List(ctx, p.prefix)
	if err != nil {
		return nil, errors.NewSweepError(p.bucket, []error{fmt.Errorf("list %q: %w", p.prefix, err)})
	}

	expired := PlanSweep(objects, p.keepDays, p.now())
	if len(expired) == 0 {
		p.log.Infow("no expired backups", "prefix", p.prefix, "keep_days", p.keepDays)
		return nil, nil
	}

	var deleted []string
	var errs []error
	for _, obj := range expired {
		if err := p.store.Delete(ctx, obj.Key); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", obj.Key, err))
			p.log.Errorw("failed to delete expired backup", "key", obj.Key, "error", err)
			continue
		}
		deleted = append(deleted, obj.Key)
		p.log.Infow("deleted expired backup", "key", obj.Key)
	}

	if len(errs) > 0 {
		return deleted, errors.NewSweepError(p.bucket, errs)
	}

	return deleted, nil
}
