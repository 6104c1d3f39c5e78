package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/closing_backend/config"
	"github.com/mmdatafocus/closing_backend/models"
	"github.com/mmdatafocus/closing_backend/utils"
)

const retryAfterSeconds = "5"

var errorStatus = map[string]int{
	models.CodeMalformedExtract:         http.StatusBadRequest,
	models.CodeInvalidJustification:     http.StatusUnprocessableEntity,
	models.CodeInvalidDecision:          http.StatusUnprocessableEntity,
	models.CodeInvalidInput:             http.StatusUnprocessableEntity,
	models.CodeReconciliationInProgress: http.StatusConflict,
	models.CodeAlreadyIngested:          http.StatusConflict,
	models.CodeAlreadyResolved:          http.StatusConflict,
	models.CodeNotFound:                 http.StatusNotFound,
	models.CodeUnauthorized:             http.StatusUnauthorized,
}

// writeError maps domain errors onto HTTP statuses. Anything unrecognised is logged and returned as 500.
func writeError(c *gin.Context, err error) {
	code := models.ErrorCode(err)
	status, ok := errorStatus[code]
	if !ok {
		config.LogError(config.GetLogger(), "httpErrors.go", "writeError", c.FullPath(), c.Params, err)
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error", "code": models.CodeInternal})
		return
	}

	var validationErrors validator.ValidationErrors
	switch {
	case errors.As(err, &validationErrors):
		c.JSON(status, gin.H{"error": "invalid input", "code": code, "fields": utils.ProcessValidationErrors(err)})
		return
	case code == models.CodeReconciliationInProgress:
		c.Header("Retry-After", retryAfterSeconds)
	case code == models.CodeUnauthorized:
		c.JSON(status, gin.H{"error": "unauthorized", "code": code})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}
