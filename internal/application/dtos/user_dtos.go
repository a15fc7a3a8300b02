// Package dtos - User DTOs.
package dtos

import "time"

// RegisterUserCommand - команда регистрации пользователя.
// Пользователь и его кошелёк в дефолтной валюте создаются атомарно.
type RegisterUserCommand struct {
	Name     string `json:"name" validate:"required,min=1,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Currency string `json:"currency" validate:"omitempty,len=3"`
}

// UserDTO - представление пользователя.
type UserDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// RegisterUserResultDTO - ответ на регистрацию: пользователь + кошелёк.
type RegisterUserResultDTO struct {
	User   UserDTO   `json:"user"`
	Wallet WalletDTO `json:"wallet"`
}
