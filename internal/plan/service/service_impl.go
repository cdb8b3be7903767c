package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/washline/internal/plan/domain"
	"github.com/smallbiznis/washline/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  repository.Repository[plandomain.Plan]
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

func NewService(p ServiceParam) plandomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("plan.service"),
		genID: p.GenID,
		repo:  repository.ProvideStore[plandomain.Plan](p.DB),
	}
}

func (s *Service) List(ctx context.Context) ([]plandomain.Plan, error) {
	rows, err := s.repo.Find(ctx, &plandomain.Plan{}, repository.OrderBy("monthly_price ASC"))
	if err != nil {
		return nil, err
	}
	plans := make([]plandomain.Plan, 0, len(rows))
	for _, row := range rows {
		plans = append(plans, *row)
	}
	return plans, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (plandomain.Plan, error) {
	row, err := s.repo.FindOne(ctx, &plandomain.Plan{ID: id})
	if err != nil {
		return plandomain.Plan{}, err
	}
	if row == nil {
		return plandomain.Plan{}, plandomain.ErrPlanNotFound
	}
	return *row, nil
}

func (s *Service) Create(ctx context.Context, req plandomain.CreatePlanRequest) (plandomain.Plan, error) {
	if req.Name == "" || req.MonthlyPrice <= 0 || req.MaxWeightPerMonth <= 0 {
		return plandomain.Plan{}, plandomain.ErrInvalidPlan
	}

	plan := plandomain.Plan{
		ID:                s.genID.Generate(),
		Name:              req.Name,
		MonthlyPrice:      req.MonthlyPrice,
		MaxWeightPerMonth: req.MaxWeightPerMonth,
		Description:       req.Description,
	}
	if err := s.repo.Create(ctx, &plan); err != nil {
		return plandomain.Plan{}, err
	}
	return plan, nil
}

func (s *Service) Update(ctx context.Context, id snowflake.ID, req plandomain.UpdatePlanRequest) error {
	existing, err := s.repo.FindOne(ctx, &plandomain.Plan{ID: id})
	if err != nil {
		return err
	}
	if existing == nil {
		return plandomain.ErrPlanNotFound
	}

	updates := map[string]any{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.MonthlyPrice != nil {
		if *req.MonthlyPrice <= 0 {
			return plandomain.ErrInvalidPlan
		}
		updates["monthly_price"] = *req.MonthlyPrice
	}
	if req.MaxWeightPerMonth != nil {
		if *req.MaxWeightPerMonth <= 0 {
			return plandomain.ErrInvalidPlan
		}
		updates["max_weight_per_month"] = *req.MaxWeightPerMonth
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if len(updates) == 0 {
		return nil
	}
	return s.repo.Update(ctx, int64(id), updates)
}

func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	existing, err := s.repo.FindOne(ctx, &plandomain.Plan{ID: id})
	if err != nil {
		return err
	}
	if existing == nil {
		return plandomain.ErrPlanNotFound
	}
	return s.repo.Delete(ctx, int64(id))
}
