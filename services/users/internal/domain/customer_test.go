package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validCustomer() *Customer {
	return &Customer{
		ID:     "customer-1",
		Name:   "Иван Иванов",
		Email:  "ivan@example.com",
		Active: true,
	}
}

func TestCustomer_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Customer)
		wantErr error
	}{
		{
			name:    "валидный покупатель",
			mutate:  func(c *Customer) {},
			wantErr: nil,
		},
		{
			name:    "пустое имя",
			mutate:  func(c *Customer) { c.Name = "   " },
			wantErr: ErrEmptyName,
		},
		{
			name:    "пустой email",
			mutate:  func(c *Customer) { c.Email = "" },
			wantErr: ErrInvalidEmail,
		},
		{
			name:    "email без домена",
			mutate:  func(c *Customer) { c.Email = "ivan@" },
			wantErr: ErrInvalidEmail,
		},
		{
			name:    "email без @",
			mutate:  func(c *Customer) { c.Email = "ivan.example.com" },
			wantErr: ErrInvalidEmail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validCustomer()
			tt.mutate(c)

			err := c.Validate()

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCustomer_CanOrder(t *testing.T) {
	c := validCustomer()
	assert.True(t, c.CanOrder())

	c.Active = false
	assert.False(t, c.CanOrder())
}
