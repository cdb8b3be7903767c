// Package domain contains the subscription plan catalog.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Plan is an immutable catalog entry; billing logic reads it, never writes it.
type Plan struct {
	ID                snowflake.ID `gorm:"primaryKey" json:"id"`
	Name              string       `gorm:"type:text;not null" json:"name"`
	MonthlyPrice      float64      `gorm:"not null" json:"monthly_price"`
	MaxWeightPerMonth float64      `gorm:"not null" json:"max_weight_per_month"`
	Description       string       `gorm:"type:text" json:"description"`
	CreatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }

type CreatePlanRequest struct {
	Name              string  `json:"name"`
	MonthlyPrice      float64 `json:"monthly_price"`
	MaxWeightPerMonth float64 `json:"max_weight_per_month"`
	Description       string  `json:"description"`
}

type UpdatePlanRequest struct {
	Name              *string  `json:"name,omitempty"`
	MonthlyPrice      *float64 `json:"monthly_price,omitempty"`
	MaxWeightPerMonth *float64 `json:"max_weight_per_month,omitempty"`
	Description       *string  `json:"description,omitempty"`
}

type Service interface {
	List(ctx context.Context) ([]Plan, error)
	GetByID(ctx context.Context, id snowflake.ID) (Plan, error)
	Create(ctx context.Context, req CreatePlanRequest) (Plan, error)
	Update(ctx context.Context, id snowflake.ID, req UpdatePlanRequest) error
	Delete(ctx context.Context, id snowflake.ID) error
}

var (
	ErrPlanNotFound = errors.New("plan_not_found")
	ErrInvalidPlan  = errors.New("invalid_plan")
)
