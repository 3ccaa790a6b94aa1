// Package response implements the gateway's single JSON response envelope.
//
// The teacher codebase shipped two overlapping envelope packages
// (pkg/response and pkg/utils) with slightly different field names; this
// package consolidates them into the one shape the HTTP surface promises:
// {status: "success"|"error", data|message: ...}.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Envelope is the wire shape of every JSON response the gateway returns.
type Envelope struct {
	Status  string      `json:"status"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// OK sends a 200 success envelope carrying data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Envelope{Status: "success", Data: data})
}

// OKMessage sends a 200 success envelope carrying a message instead of data.
func OKMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, Envelope{Status: "success", Message: message})
}

// Created sends a 201 success envelope carrying data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Envelope{Status: "success", Data: data})
}

// Error sends an error envelope at the given status code.
func Error(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, Envelope{Status: "error", Message: message})
}

// ErrorWithData sends an error envelope that also carries structured data,
// used for the 423 SessionLocked response which must hint the owner.
func ErrorWithData(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, Envelope{Status: "error", Message: message, Data: data})
}
