// Package domain содержит бизнес-сущности и доменные ошибки Users Service.
package domain

import "errors"

// Доменные ошибки Users Service.
var (
	// ErrCustomerNotFound возвращается, когда покупатель не найден в базе данных.
	ErrCustomerNotFound = errors.New("покупатель не найден")

	// ErrEmailExists возвращается при попытке создать покупателя с занятым email.
	ErrEmailExists = errors.New("покупатель с таким email уже существует")

	// ErrInvalidEmail возвращается при некорректном формате email.
	ErrInvalidEmail = errors.New("некорректный формат email")

	// ErrEmptyName возвращается, если имя покупателя пустое.
	ErrEmptyName = errors.New("имя покупателя не может быть пустым")
)
