// Package domain содержит бизнес-сущности и доменные ошибки Users Service.
package domain

import (
	"regexp"
	"strings"
	"time"
)

// emailRegex — регулярное выражение для валидации email.
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Customer представляет покупателя.
// Это доменная сущность без зависимостей от инфраструктуры (GORM, Kafka).
type Customer struct {
	ID        string    // Уникальный идентификатор (UUID)
	Name      string    // Имя покупателя
	Email     string    // Email покупателя (уникальный)
	Active    bool      // Активен ли аккаунт (false — заблокирован или удалён)
	CreatedAt time.Time // Дата создания аккаунта
	UpdatedAt time.Time // Дата последнего обновления
}

// Validate проверяет корректность полей покупателя.
func (c *Customer) Validate() error {
	if err := c.ValidateName(); err != nil {
		return err
	}
	return c.ValidateEmail()
}

// ValidateEmail проверяет корректность email.
func (c *Customer) ValidateEmail() error {
	email := strings.TrimSpace(c.Email)
	if email == "" || !emailRegex.MatchString(email) {
		return ErrInvalidEmail
	}
	return nil
}

// ValidateName проверяет, что имя покупателя не пустое.
func (c *Customer) ValidateName() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyName
	}
	return nil
}

// CanOrder возвращает true, если покупатель может оформлять заказы.
// Сага трактует false так же, как отсутствие покупателя.
func (c *Customer) CanOrder() bool {
	return c.Active
}
