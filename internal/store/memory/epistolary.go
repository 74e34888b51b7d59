package memory

import (
	"context"
	"sort"

	"github.com/epistola/epistola-auth/internal/model"
	"github.com/epistola/epistola-auth/internal/store"
)

func (s *Store) CreateEpistolary(_ context.Context, e model.Epistolary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epistolaries[e.ID] = e
	return nil
}

func (s *Store) ListEpistolaries(_ context.Context, ownerID string) ([]model.Epistolary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Epistolary
	for _, e := range s.epistolaries {
		if e.UserID == ownerID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetEpistolary(_ context.Context, id, ownerID string) (*model.Epistolary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.epistolaries[id]
	if !ok || e.UserID != ownerID {
		return nil, store.ErrNotFound
	}
	return &e, nil
}

func (s *Store) GetEpistolaryByID(_ context.Context, id string) (*model.Epistolary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.epistolaries[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &e, nil
}

func (s *Store) GetEpistolaryByClientID(_ context.Context, clientID string) (*model.Epistolary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.epistolaries {
		if e.ClientID == clientID && e.Active {
			return &e, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetEpistolaryByCredentials(_ context.Context, clientID, clientSecret string) (*model.Epistolary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.epistolaries {
		if e.ClientID == clientID && e.ClientSecret == clientSecret && e.Active {
			return &e, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpdateEpistolary(_ context.Context, id, ownerID string, u store.EpistolaryUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.epistolaries[id]
	if !ok || e.UserID != ownerID {
		return store.ErrNotFound
	}
	e.Name = u.Name
	e.Description = u.Description
	e.RedirectURIs = u.RedirectURIs
	e.LogoURL = u.LogoURL
	e.WebsiteURL = u.WebsiteURL
	e.Active = u.Active
	s.epistolaries[id] = e
	return nil
}

func (s *Store) RotateEpistolarySecret(_ context.Context, id, ownerID, newSecret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.epistolaries[id]
	if !ok || e.UserID != ownerID {
		return store.ErrNotFound
	}
	e.ClientSecret = newSecret
	s.epistolaries[id] = e
	return nil
}

func (s *Store) DeleteEpistolary(_ context.Context, id, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.epistolaries[id]
	if !ok || e.UserID != ownerID {
		return store.ErrNotFound
	}
	delete(s.epistolaries, id)
	return nil
}

func (s *Store) CreateDeleteRequest(_ context.Context, r model.EpistolaryDeleteRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteRequests[r.Token] = r
	return nil
}

func (s *Store) GetDeleteRequest(_ context.Context, token string) (*model.EpistolaryDeleteRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.deleteRequests[token]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (s *Store) ConsumeDeleteRequest(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.deleteRequests[token]; !ok {
		return store.ErrNotFound
	}
	delete(s.deleteRequests, token)
	return nil
}
