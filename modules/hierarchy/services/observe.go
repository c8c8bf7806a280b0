package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("iota-hierarchy-services")

// begin opens a span for operation and returns the function that closes it.
// Rejected writes (4xx service errors) are reported to the audit sink.
func (o *options) begin(ctx context.Context, tenantID uuid.UUID, operation string) (context.Context, func(*error)) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "hierarchy."+operation, trace.WithAttributes(
		attribute.String("hierarchy.operation", operation),
		attribute.String("hierarchy.tenant_id", tenantID.String()),
	))
	return ctx, func(errp *error) {
		var err error
		if errp != nil {
			err = *errp
		}
		hierarchyOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
		recordOperation(operation, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, Code(err))
			var svcErr *ServiceError
			if errors.As(err, &svcErr) && svcErr.Status < http.StatusInternalServerError {
				o.audit.Rejected(ctx, tenantID, operation, svcErr)
			} else {
				o.log.WithError(err).WithField("operation", operation).Error("hierarchy operation failed")
			}
		}
		span.End()
	}
}
