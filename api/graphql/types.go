package graphql

import (
	"github.com/graphql-go/graphql"
)

var (
	// Scalar types
	bigIntType  = graphql.String
	addressType = graphql.String
	hashType    = graphql.String

	transactionType *graphql.Object
	transferType    *graphql.Object
	feedStatusType  *graphql.Object
	tokenType       *graphql.Object

	txStatusEnumType *graphql.Enum
)

func init() {
	initTypes()
}

func initTypes() {
	txStatusEnumType = graphql.NewEnum(graphql.EnumConfig{
		Name: "TxStatus",
		Values: graphql.EnumValueConfigMap{
			"PENDING":   &graphql.EnumValueConfig{Value: "pending"},
			"CONFIRMED": &graphql.EnumValueConfig{Value: "confirmed"},
			"FAILED":    &graphql.EnumValueConfig{Value: "failed"},
		},
	})

	transactionType = graphql.NewObject(graphql.ObjectConfig{
		Name: "Transaction",
		Fields: graphql.Fields{
			"hash":        &graphql.Field{Type: graphql.NewNonNull(hashType)},
			"from":        &graphql.Field{Type: graphql.NewNonNull(addressType)},
			"to":          &graphql.Field{Type: addressType},
			"value":       &graphql.Field{Type: graphql.NewNonNull(graphql.String), Description: "Value in ether"},
			"valueWei":    &graphql.Field{Type: graphql.NewNonNull(bigIntType)},
			"status":      &graphql.Field{Type: graphql.NewNonNull(txStatusEnumType)},
			"blockNumber": &graphql.Field{Type: graphql.NewNonNull(bigIntType)},
			"contractCreation": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Boolean),
			},
		},
	})

	transferType = graphql.NewObject(graphql.ObjectConfig{
		Name: "Transfer",
		Fields: graphql.Fields{
			"from":            &graphql.Field{Type: graphql.NewNonNull(addressType)},
			"to":              &graphql.Field{Type: graphql.NewNonNull(addressType)},
			"amount":          &graphql.Field{Type: graphql.NewNonNull(graphql.String), Description: "Amount in token units"},
			"rawAmount":       &graphql.Field{Type: graphql.NewNonNull(bigIntType)},
			"timestamp":       &graphql.Field{Type: graphql.NewNonNull(bigIntType)},
			"transactionHash": &graphql.Field{Type: graphql.NewNonNull(hashType)},
			"blockNumber":     &graphql.Field{Type: graphql.NewNonNull(bigIntType)},
			"logIndex":        &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
		},
	})

	feedStatusType = graphql.NewObject(graphql.ObjectConfig{
		Name: "FeedStatus",
		Fields: graphql.Fields{
			"feed":      &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"enabled":   &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
			"connected": &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
			"lastError": &graphql.Field{Type: graphql.String},
			"updatedAt": &graphql.Field{Type: graphql.String},
		},
	})

	tokenType = graphql.NewObject(graphql.ObjectConfig{
		Name: "Token",
		Fields: graphql.Fields{
			"address":     &graphql.Field{Type: graphql.NewNonNull(addressType)},
			"name":        &graphql.Field{Type: graphql.String},
			"symbol":      &graphql.Field{Type: graphql.String},
			"decimals":    &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"totalSupply": &graphql.Field{Type: graphql.String},
		},
	})
}
