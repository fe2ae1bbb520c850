package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"fxbilling/internal/db"
	"fxbilling/internal/models"
	"fxbilling/internal/store"
)

var ErrInvalidStrategyStatus = errors.New("invalid strategy status")

type StrategyAdminStore interface {
	GetByID(ctx context.Context, id string) (models.Strategy, error)
	List(ctx context.Context) ([]models.Strategy, error)
	UpdateParameters(ctx context.Context, tx store.Execer, id string, status models.StrategyStatus, allowedSymbols, parameters json.RawMessage) error
}

type StrategySyncer interface {
	StrategySaved(ctx context.Context, strategy *models.Strategy, changed []string)
}

// StrategyService applies catalog updates coming from the optimization
// pipeline and from admins. One version bump per update reaches every
// account running the strategy.
type StrategyService struct {
	txRunner   db.TxRunner
	strategies StrategyAdminStore
	audit      AuditStore
	sync       StrategySyncer
	logger     *slog.Logger
}

func NewStrategyService(txRunner db.TxRunner, strategies StrategyAdminStore, audit AuditStore, sync StrategySyncer, logger *slog.Logger) *StrategyService {
	return &StrategyService{
		txRunner:   txRunner,
		strategies: strategies,
		audit:      audit,
		sync:       sync,
		logger:     logger,
	}
}

type StrategyUpdate struct {
	ActorID        string
	StrategyID     string
	Status         models.StrategyStatus
	AllowedSymbols []string
	Parameters     map[string]json.RawMessage
}

func (s *StrategyService) UpdateParameters(ctx context.Context, req StrategyUpdate) error {
	if !models.ValidStrategyStatus(string(req.Status)) {
		return ErrInvalidStrategyStatus
	}
	strategy, err := s.strategies.GetByID(ctx, req.StrategyID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrStrategyNotFound
	}
	if err != nil {
		return err
	}
	symbols, err := json.Marshal(req.AllowedSymbols)
	if err != nil {
		return err
	}
	parameters, err := json.Marshal(req.Parameters)
	if err != nil {
		return err
	}
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.strategies.UpdateParameters(ctx, tx, strategy.ID, req.Status, symbols, parameters); err != nil {
			return err
		}
		return s.audit.Log(ctx, tx, req.ActorID, "strategy_update", "strategy", strategy.ID, "{}")
	})
	if err != nil {
		return err
	}
	strategy.Status = req.Status
	strategy.AllowedSymbols = symbols
	strategy.ParametersRaw = parameters
	s.sync.StrategySaved(ctx, &strategy, []string{"current_parameters", "status", "allowed_symbols"})
	return nil
}

func (s *StrategyService) List(ctx context.Context) ([]models.Strategy, error) {
	return s.strategies.List(ctx)
}
