package room

import "errors"

var (
	ErrInfoNotFound = errors.New("room info not found")
)
