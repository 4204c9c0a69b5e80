package repo

import (
	"context"
	"errors"
	"time"

	"github.com/LeventeLantos/whatsapp-relay/internal/model"
)

var ErrNotFound = errors.New("record not found")

type BotRepository interface {
	ListRecoverable(ctx context.Context) ([]model.BotRecord, error)
	ResolveRelay(ctx context.Context, customerID, botID string) (model.RelayConfig, error)
	SaveConnected(ctx context.Context, botID, phone string, at time.Time) error
	UpdateStatus(ctx context.Context, botID string, status model.Status) error
	TouchLastActive(ctx context.Context, botID string, at time.Time) error
}

type DistributionGroupRepository interface {
	ListGroups(ctx context.Context, botID string) ([]model.DistributionGroup, error)
	AddGroup(ctx context.Context, botID, groupID, groupName string) (model.DistributionGroup, error)
	DeleteGroup(ctx context.Context, botID string, id int64) error
}
