// Package repository содержит реализацию доступа к данным для Users Service.
package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"example.com/fulfillment-system/services/users/internal/domain"
)

// CustomerRepository определяет интерфейс для работы с покупателями в БД.
type CustomerRepository interface {
	// Create создаёт нового покупателя.
	Create(ctx context.Context, customer *domain.Customer) error

	// GetByID возвращает покупателя по ID.
	GetByID(ctx context.Context, id string) (*domain.Customer, error)

	// GetByEmail возвращает покупателя по email.
	GetByEmail(ctx context.Context, email string) (*domain.Customer, error)
}

// CustomerModel — GORM модель для таблицы customers.
// Отделена от доменной сущности для гибкости.
type CustomerModel struct {
	ID        string    `gorm:"column:id;type:varchar(36);primaryKey"`
	Name      string    `gorm:"column:name;type:varchar(100);not null"`
	Email     string    `gorm:"column:email;type:varchar(255);uniqueIndex;not null"`
	Active    bool      `gorm:"column:active;not null;default:true"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (CustomerModel) TableName() string {
	return "customers"
}

// toDomain конвертирует GORM модель в доменную сущность.
func (m *CustomerModel) toDomain() *domain.Customer {
	return &domain.Customer{
		ID:        m.ID,
		Name:      m.Name,
		Email:     m.Email,
		Active:    m.Active,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// fromDomain конвертирует доменную сущность в GORM модель.
func fromDomain(c *domain.Customer) *CustomerModel {
	return &CustomerModel{
		ID:        c.ID,
		Name:      c.Name,
		Email:     c.Email,
		Active:    c.Active,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// customerRepository — GORM реализация CustomerRepository.
type customerRepository struct {
	db *gorm.DB
}

// NewCustomerRepository создаёт новый репозиторий покупателей.
func NewCustomerRepository(db *gorm.DB) CustomerRepository {
	return &customerRepository{db: db}
}

// Create создаёт нового покупателя в БД.
func (r *customerRepository) Create(ctx context.Context, customer *domain.Customer) error {
	model := fromDomain(customer)

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		// Дубликат email (MySQL error 1062)
		if isDuplicateKeyError(err) {
			return domain.ErrEmailExists
		}
		return err
	}

	customer.CreatedAt = model.CreatedAt
	customer.UpdatedAt = model.UpdatedAt

	return nil
}

// GetByID возвращает покупателя по ID.
func (r *customerRepository) GetByID(ctx context.Context, id string) (*domain.Customer, error) {
	var model CustomerModel

	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCustomerNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// GetByEmail возвращает покупателя по email.
func (r *customerRepository) GetByEmail(ctx context.Context, email string) (*domain.Customer, error) {
	var model CustomerModel

	err := r.db.WithContext(ctx).Where("email = ?", email).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCustomerNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// isDuplicateKeyError проверяет, является ли ошибка нарушением уникального ключа.
func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "1062")
}
