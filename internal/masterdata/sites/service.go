package sites

import (
	"context"
	"errors"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, filters ListFilters) ([]Site, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Site, error) {
	if id <= 0 {
		return Site{}, errors.New("invalid site ID")
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, site Site) (Site, error) {
	if err := s.validate(site); err != nil {
		return Site{}, err
	}
	return s.repo.Create(ctx, site)
}

func (s *Service) Update(ctx context.Context, id int64, site Site) error {
	if id <= 0 {
		return errors.New("invalid site ID")
	}
	if err := s.validate(site); err != nil {
		return err
	}
	return s.repo.Update(ctx, id, site)
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return errors.New("invalid site ID")
	}
	return s.repo.Delete(ctx, id)
}
