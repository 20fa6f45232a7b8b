package engine

import (
	"fmt"

	stderrors "github.com/netpulse/netpulse/internal/errors"
)

// Error categories for the throughput engine. Reuses the StandardError
// shape (category + code + context + caller) from internal/errors rather
// than inventing a parallel one.
const (
	CategoryInvalidArg        stderrors.ErrorCategory = "INVALID_ARG"
	CategorySocketBind        stderrors.ErrorCategory = "SOCKET_BIND"
	CategorySocketAccept      stderrors.ErrorCategory = "SOCKET_ACCEPT"
	CategorySocketConnect     stderrors.ErrorCategory = "SOCKET_CONNECT"
	CategoryTimeout           stderrors.ErrorCategory = "TIMEOUT"
	CategoryInstanceNotFound  stderrors.ErrorCategory = "INSTANCE_NOT_FOUND"
	CategoryInstanceExhausted stderrors.ErrorCategory = "INSTANCE_EXHAUSTED"
	CategoryFatal             stderrors.ErrorCategory = "FATAL"
)

// EngineError is the engine's error type; an alias over StandardError so
// callers can errors.As against one shape across every package built on
// internal/errors.
type EngineError = stderrors.StandardError

func newEngineError(category stderrors.ErrorCategory, code, message string, ctx map[string]interface{}) *EngineError {
	return stderrors.NewStandardError(category, code, message, ctx)
}

func errInvalidArg(field string, value interface{}) *EngineError {
	return newEngineError(CategoryInvalidArg, "INVALID_ARG",
		fmt.Sprintf("invalid value for %s: %v", field, value),
		map[string]interface{}{"field": field, "value": value})
}

func errInstanceExhausted() *EngineError {
	return newEngineError(CategoryInstanceExhausted, "INSTANCE_EXHAUSTED",
		"requested instance id is already live", nil)
}

func errInstanceNotFound(id int) *EngineError {
	return newEngineError(CategoryInstanceNotFound, "INSTANCE_NOT_FOUND",
		fmt.Sprintf("no live instance with id %d", id), map[string]interface{}{"id": id})
}

func errSocket(category stderrors.ErrorCategory, op string, err error) *EngineError {
	return newEngineError(category, "SOCKET_"+op,
		fmt.Sprintf("%s: %v", op, err), map[string]interface{}{"cause": err.Error()})
}

func errFatal(instanceID int, detail string) *EngineError {
	return newEngineError(CategoryFatal, "FATAL", detail, map[string]interface{}{"instance_id": instanceID})
}
