// Package domain содержит бизнес-сущности и доменные ошибки Catalog Service.
package domain

import "errors"

// Доменные ошибки Catalog Service.
var (
	// ErrProductNotFound возвращается, когда товар не найден в каталоге.
	ErrProductNotFound = errors.New("товар не найден")

	// ErrProductExists возвращается при попытке создать товар с занятым ID.
	ErrProductExists = errors.New("товар с таким ID уже существует")

	// ErrInvalidProductName возвращается, если название товара пустое.
	ErrInvalidProductName = errors.New("название товара не может быть пустым")

	// ErrInvalidStock возвращается при отрицательном остатке.
	ErrInvalidStock = errors.New("остаток товара не может быть отрицательным")
)
