package catalog

import (
	"context"
	"fmt"

	domain "github.com/warutora/stockroom/internal/domain/catalog"
	"github.com/warutora/stockroom/internal/observability"
	"github.com/warutora/stockroom/internal/observability/logctx"
)

const componentCatalog = "catalog_service"

// Service is the catalog collaborator: plain CRUD over products. It never
// participates in purchase transactions; stock decrements belong solely to
// the purchase coordinator.
type Service struct {
	repo        domain.Repository
	idGenerator IDGenerator
	log         observability.Logger
}

type IDGenerator interface {
	NewID() string
}

func NewService(repo domain.Repository, idGen IDGenerator, logger observability.Logger) *Service {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Service{
		repo:        repo,
		idGenerator: idGen,
		log:         logger.With(observability.F("component", componentCatalog)),
	}
}

type CreateProductInput struct {
	LotCode        string
	Name           string
	UnitPriceCents int64
	Quantity       int
}

func (s *Service) CreateProduct(ctx context.Context, input CreateProductInput) (*domain.Product, error) {
	logger := logctx.FromOr(ctx, s.log)

	product, err := domain.New(s.idGenerator.NewID(), input.LotCode, input.Name, input.UnitPriceCents, input.Quantity)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Insert(ctx, product); err != nil {
		logger.Error("product_insert_failed",
			observability.F("lot_code", input.LotCode),
			observability.F("error", err.Error()),
		)
		return nil, fmt.Errorf("catalog: insert: %w", err)
	}

	logger.Info("product_created",
		observability.F("product_id", product.ID),
		observability.F("lot_code", product.LotCode),
	)
	return product, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Product, error) {
	if id == "" {
		return nil, domain.ErrNotFound
	}
	return s.repo.FindByID(ctx, id)
}

func (s *Service) ListActive(ctx context.Context) ([]*domain.Product, error) {
	return s.repo.ListActive(ctx)
}

// Restock tops up available stock. The repository applies the change as a
// relative adjustment under the product's row lock, so a restock racing an
// in-flight purchase transaction can never clobber its decrement.
func (s *Service) Restock(ctx context.Context, id string, quantity int) (*domain.Product, error) {
	if quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	product, err := s.repo.AdjustQuantity(ctx, id, quantity)
	if err != nil {
		return nil, err
	}

	logctx.FromOr(ctx, s.log).Info("product_restocked",
		observability.F("product_id", id),
		observability.F("quantity", product.Quantity),
	)
	return product, nil
}

func (s *Service) Deactivate(ctx context.Context, id string) error {
	product, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	product.Deactivate()
	if err := s.repo.Update(ctx, product); err != nil {
		return fmt.Errorf("catalog: update: %w", err)
	}
	return nil
}
