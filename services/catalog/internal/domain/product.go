// Package domain содержит бизнес-сущности и доменные ошибки Catalog Service.
package domain

import (
	"strings"
	"time"
)

// Product представляет товар каталога с доступным остатком.
type Product struct {
	ID        string    // Уникальный идентификатор (UUID)
	Name      string    // Название товара
	Stock     int32     // Доступный остаток (за вычетом активных резервов)
	CreatedAt time.Time // Дата создания
	UpdatedAt time.Time // Дата последнего обновления
}

// Validate проверяет корректность полей товара.
func (p *Product) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrInvalidProductName
	}
	if p.Stock < 0 {
		return ErrInvalidStock
	}
	return nil
}

// Reservation — резерв товара под конкретный заказ.
// Строка резерва делает компенсацию ReleaseReservation идемпотентной:
// снятие уже снятого или не существовавшего резерва — no-op.
type Reservation struct {
	ID         string    // Уникальный идентификатор (UUID)
	OrderID    string    // Заказ, под который зарезервирован товар
	ProductID  string    // Зарезервированный товар
	Quantity   int32     // Количество зарезервированных единиц
	ReleasedAt *time.Time // Время снятия резерва (nil — резерв активен)
	CreatedAt  time.Time  // Время создания резерва
}

// Active возвращает true, если резерв не снят.
func (r *Reservation) Active() bool {
	return r.ReleasedAt == nil
}
