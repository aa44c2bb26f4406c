// Package mongodb persists pending authentication requests in MongoDB so
// callbacks can be handled by any replica of the relying party.
package mongodb

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-jose/go-jose/v4"
	"github.com/italia/spid-cie-oidc-go/pkg/rp"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type AuthnRequestManager struct {
	Collection *mongo.Collection
}

func NewAuthnRequestManager(database *mongo.Database) AuthnRequestManager {
	return AuthnRequestManager{
		Collection: database.Collection("authentication_requests"),
	}
}

// document flattens the provider key set to a JSON string, the jose type does
// not round-trip through BSON.
type document struct {
	rp.AuthnRequest `bson:",inline"`
	ProviderJWKS    string `bson:"provider_jwks"`
}

func (manager AuthnRequestManager) Write(ctx context.Context, request rp.AuthnRequest) error {
	jwks, err := json.Marshal(request.ProviderJWKS)
	if err != nil {
		return err
	}

	shouldUpsert := true
	filter := bson.D{{Key: "_id", Value: request.State}}
	doc := document{AuthnRequest: request, ProviderJWKS: string(jwks)}
	_, err = manager.Collection.ReplaceOne(ctx, filter, doc,
		&options.ReplaceOptions{Upsert: &shouldUpsert})
	return err
}

func (manager AuthnRequestManager) Read(ctx context.Context, state string) (rp.AuthnRequest, error) {
	result := manager.Collection.FindOne(ctx, bson.D{{Key: "_id", Value: state}})
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return rp.AuthnRequest{}, rp.ErrAuthnRequestNotFound
		}
		return rp.AuthnRequest{}, err
	}

	var doc document
	if err := result.Decode(&doc); err != nil {
		return rp.AuthnRequest{}, err
	}

	var jwks jose.JSONWebKeySet
	if err := json.Unmarshal([]byte(doc.ProviderJWKS), &jwks); err != nil {
		return rp.AuthnRequest{}, err
	}
	request := doc.AuthnRequest
	request.ProviderJWKS = jwks
	return request, nil
}

func (manager AuthnRequestManager) Delete(ctx context.Context, state string) error {
	_, err := manager.Collection.DeleteOne(ctx, bson.D{{Key: "_id", Value: state}})
	return err
}
