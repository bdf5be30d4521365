package graphql

import (
	"context"
	"net/http"

	"github.com/graphql-go/graphql"
	graphqlhandler "github.com/graphql-go/handler"
	"go.uber.org/zap"
)

// Handler handles GraphQL requests
type Handler struct {
	schema  *Schema
	handler *graphqlhandler.Handler
	logger  *zap.Logger
}

// NewHandler creates a new GraphQL handler. The playground is served on GET
// requests from browsers.
func NewHandler(source Source, logger *zap.Logger) (*Handler, error) {
	schema, err := NewSchema(source, logger)
	if err != nil {
		return nil, err
	}

	h := graphqlhandler.New(&graphqlhandler.Config{
		Schema:     &schema.schema,
		Pretty:     true,
		GraphiQL:   false,
		Playground: true,
	})

	return &Handler{
		schema:  schema,
		handler: h,
		logger:  schema.logger,
	}, nil
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

// ExecuteQuery executes a query against the schema
func (h *Handler) ExecuteQuery(ctx context.Context, query string, variables map[string]interface{}) *graphql.Result {
	result := graphql.Do(graphql.Params{
		Schema:         h.schema.schema,
		RequestString:  query,
		VariableValues: variables,
		Context:        ctx,
	})
	if result.HasErrors() {
		h.logger.Debug("graphql query failed", zap.Any("errors", result.Errors))
	}
	return result
}
