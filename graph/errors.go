package graph

import (
	"context"
	"errors"

	"github.com/99designs/gqlgen/graphql"
	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/closing_backend/config"
	"github.com/mmdatafocus/closing_backend/models"
	"github.com/mmdatafocus/closing_backend/utils"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

const retryAfterSeconds = 5

// ErrorPresenter tags every error with extensions.code. Internal errors are logged and their
// message replaced.
func ErrorPresenter(ctx context.Context, err error) *gqlerror.Error {
	gqlErr := graphql.DefaultErrorPresenter(ctx, err)
	if gqlErr.Extensions == nil {
		gqlErr.Extensions = map[string]interface{}{}
	}
	if _, ok := gqlErr.Extensions["code"]; ok {
		return gqlErr
	}

	cause := gqlErr.Unwrap()
	if cause == nil {
		// parse and validation failures carry no cause
		gqlErr.Extensions["code"] = models.CodeInvalidInput
		return gqlErr
	}

	code := models.ErrorCode(cause)
	gqlErr.Extensions["code"] = code
	var validationErrors validator.ValidationErrors
	switch {
	case code == models.CodeInternal:
		config.LogError(config.GetLogger(), "graph/errors.go", "ErrorPresenter", gqlErr.Path.String(), nil, cause)
		gqlErr.Message = "internal server error"
	case code == models.CodeReconciliationInProgress:
		gqlErr.Extensions["retryAfterSeconds"] = retryAfterSeconds
	case errors.As(cause, &validationErrors):
		gqlErr.Message = "invalid input"
		gqlErr.Extensions["fields"] = utils.ProcessValidationErrors(cause)
	}
	return gqlErr
}
