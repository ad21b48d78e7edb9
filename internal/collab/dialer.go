package collab

import (
	"context"

	"setlist-service/internal/remote"
	"setlist-service/internal/setlist"
)

// ServiceDialer adapts an in-process document service to the Session
// contract, for single-node deployments and tests. Remote transports
// provide their own dialer (see remote.DialSession).
func ServiceDialer(svc remote.Service, setlistID string) Dialer {
	return func(ctx context.Context, sinceVersion uint64) (Session, error) {
		events, cancel, err := svc.Subscribe(ctx, setlistID, sinceVersion)
		if err != nil {
			return nil, err
		}
		return &serviceSession{svc: svc, events: events, cancel: cancel}, nil
	}
}

type serviceSession struct {
	svc    remote.Service
	events <-chan setlist.Event
	cancel func()
}

func (s *serviceSession) Submit(ctx context.Context, m setlist.Mutation) (uint64, error) {
	return s.svc.Submit(ctx, m)
}

func (s *serviceSession) Events() <-chan setlist.Event { return s.events }

func (s *serviceSession) Close() error {
	s.cancel()
	return nil
}
