package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"example.com/fulfillment-system/services/catalog/internal/domain"
)

// ProductRepository определяет интерфейс для работы с товарами в БД.
type ProductRepository interface {
	// Create создаёт новый товар.
	Create(ctx context.Context, product *domain.Product) error

	// GetByID возвращает товар по ID.
	GetByID(ctx context.Context, id string) (*domain.Product, error)
}

// toDomain преобразует GORM модель в доменную.
func (m *ProductModel) toDomain() *domain.Product {
	return &domain.Product{
		ID:        m.ID,
		Name:      m.Name,
		Stock:     m.Stock,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// fromDomainProduct преобразует доменную модель в GORM модель.
func fromDomainProduct(p *domain.Product) *ProductModel {
	return &ProductModel{
		ID:        p.ID,
		Name:      p.Name,
		Stock:     p.Stock,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

// productRepository — GORM реализация ProductRepository.
type productRepository struct {
	db *gorm.DB
}

// NewProductRepository создаёт новый репозиторий товаров.
func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepository{db: db}
}

// Create создаёт новый товар.
func (r *productRepository) Create(ctx context.Context, product *domain.Product) error {
	model := fromDomainProduct(product)

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicateKeyError(err) {
			return domain.ErrProductExists
		}
		return fmt.Errorf("создание товара: %w", err)
	}

	return nil
}

// GetByID возвращает товар по ID.
func (r *productRepository) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	var model ProductModel

	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrProductNotFound
		}
		return nil, fmt.Errorf("поиск товара по ID: %w", err)
	}

	return model.toDomain(), nil
}

// isDuplicateKeyError определяет, является ли ошибка нарушением уникальности.
func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "1062")
}
