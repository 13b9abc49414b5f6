package models

import "errors"

var (
	// ErrValidation - некорректный черновик или параметры запроса
	ErrValidation = errors.New("validation error")
	// ErrNotFound - происшествие с таким id не существует
	ErrNotFound = errors.New("incident not found")
	// ErrInvalidTransition - недопустимая смена статуса
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrIO - сбой хранилища или сети
	ErrIO = errors.New("i/o error")
)
