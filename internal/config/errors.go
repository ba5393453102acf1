package config

import "errors"

var (
	ErrMissingJWTSecret = errors.New("JWT secret is required (set COURIER_JWT_SECRET or JWT_SECRET)")
	ErrInvalidBackend   = errors.New("store backend must be memory, sqlite or redis")
	ErrMissingRedisURL  = errors.New("redis backend requires a redis URL")
)
