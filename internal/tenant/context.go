package tenant

import (
	"context"
	"errors"
)

type contextKey string

const (
	companyIDKey contextKey = "companyID"
	requestIDKey contextKey = "requestID"
	instanceKey  contextKey = "instanceName"
)

// ErrCompanyIDNotFound is returned when no tenant ID is found in context
var ErrCompanyIDNotFound = errors.New("company ID not found in context")

// ErrNoRequestIDInContext is returned when no request ID is found in context
var ErrNoRequestIDInContext = errors.New("no request ID found in context")

// WithCompanyID adds a tenant ID to the context
func WithCompanyID(ctx context.Context, companyID string) context.Context {
	return context.WithValue(ctx, companyIDKey, companyID)
}

// FromContext extracts the tenant ID from the context
func FromContext(ctx context.Context) (string, error) {
	companyID, ok := ctx.Value(companyIDKey).(string)
	if !ok || companyID == "" {
		return "", ErrCompanyIDNotFound
	}
	return companyID, nil
}

// MustFromContext extracts the tenant ID from the context or panics
func MustFromContext(ctx context.Context) string {
	companyID, err := FromContext(ctx)
	if err != nil {
		panic(err)
	}
	return companyID
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FromRequestIDContext extracts the request ID from the context
func FromRequestIDContext(ctx context.Context) (string, error) {
	requestID, ok := ctx.Value(requestIDKey).(string)
	if !ok || requestID == "" {
		return "", ErrNoRequestIDInContext
	}
	return requestID, nil
}

// WithInstanceName records the messaging channel instance a webhook arrived on.
func WithInstanceName(ctx context.Context, instance string) context.Context {
	return context.WithValue(ctx, instanceKey, instance)
}

// InstanceNameFromContext returns the channel instance name, or "" when unset.
func InstanceNameFromContext(ctx context.Context) string {
	instance, _ := ctx.Value(instanceKey).(string)
	return instance
}

// Detach returns a background context carrying the tenant, request and instance values of ctx.
// Work that must outlive the inbound request (attribution tasks) starts from it.
func Detach(ctx context.Context) context.Context {
	out := context.Background()
	if companyID, err := FromContext(ctx); err == nil {
		out = WithCompanyID(out, companyID)
	}
	if requestID, err := FromRequestIDContext(ctx); err == nil {
		out = WithRequestID(out, requestID)
	}
	if instance := InstanceNameFromContext(ctx); instance != "" {
		out = WithInstanceName(out, instance)
	}
	return out
}
