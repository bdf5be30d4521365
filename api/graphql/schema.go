package graphql

import (
	"github.com/graphql-go/graphql"
	"go.uber.org/zap"
)

// Schema holds the GraphQL schema
type Schema struct {
	schema graphql.Schema
	source Source
	logger *zap.Logger
}

// NewSchema creates the read-only query schema over source
func NewSchema(source Source, logger *zap.Logger) (*Schema, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Schema{
		source: source,
		logger: logger,
	}

	limitArg := &graphql.ArgumentConfig{
		Type:        graphql.Int,
		Description: "Maximum number of entries, newest first",
	}

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"transactions": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(transactionType))),
				Args: graphql.FieldConfigArgument{
					"status": &graphql.ArgumentConfig{Type: txStatusEnumType},
					"limit":  limitArg,
				},
				Resolve: s.resolveTransactions,
			},
			"transaction": &graphql.Field{
				Type: transactionType,
				Args: graphql.FieldConfigArgument{
					"hash": &graphql.ArgumentConfig{Type: graphql.NewNonNull(hashType)},
				},
				Resolve: s.resolveTransaction,
			},
			"transfers": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(transferType))),
				Args: graphql.FieldConfigArgument{
					"address": &graphql.ArgumentConfig{
						Type:        addressType,
						Description: "Only transfers from or to this address",
					},
					"limit": limitArg,
				},
				Resolve: s.resolveTransfers,
			},
			"feeds": &graphql.Field{
				Type:    graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(feedStatusType))),
				Resolve: s.resolveFeeds,
			},
			"token": &graphql.Field{
				Type:    tokenType,
				Resolve: s.resolveToken,
			},
		},
	})

	schema, err := graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
	if err != nil {
		return nil, err
	}

	s.schema = schema
	return s, nil
}
