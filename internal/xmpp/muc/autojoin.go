package muc

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// AutoJoin opens every configured room. Entries are normalized first;
// malformed ones are logged and skipped, per-room failures are logged
// and do not abort the rest. The completion event fires exactly once,
// after all opens have settled.
func (s *Service) AutoJoin(ctx context.Context, entries []interface{}) {
	specs, errs := ParseRoomEntries(entries)
	for _, err := range errs {
		s.log.Error("auto-join: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, spec := range specs {
		spec := spec
		g.Go(func() error {
			if _, err := s.OpenRoom(gctx, spec); err != nil {
				s.log.Error("auto-join failed for %s: %v", spec.JID, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if s.OnAutoJoined != nil {
		s.OnAutoJoined()
	}
}
