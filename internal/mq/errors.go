package mq

import "errors"

var (
	// ErrConnectionClosed — соединение закрыто через Close.
	ErrConnectionClosed = errors.New("amqp connection closed")

	// ErrNoChannel — канал ещё не открыт или потерян при разрыве.
	ErrNoChannel = errors.New("no amqp channel available")
)
