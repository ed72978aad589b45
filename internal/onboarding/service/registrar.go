package service

import (
	"context"
	"fmt"
	"math/big"

	"deedgate/internal/fingerprint"
	id "deedgate/pkg/domain"
	"deedgate/pkg/requestcontext"
)

// TokenRegistrar mints property tokens on the downstream registry. The
// registry is an external collaborator; the workflow only consumes its
// transaction reference.
type TokenRegistrar interface {
	Mint(ctx context.Context, propertyID id.PropertyID, totalTokens *big.Int) (txRef string, err error)
}

// LocalRegistrar synthesizes deterministic transaction references without a
// chain connection. It stands in until a real registry client is wired, the
// same way the mock attestor stands in for the live oracle.
type LocalRegistrar struct{}

func (LocalRegistrar) Mint(ctx context.Context, propertyID id.PropertyID, totalTokens *big.Int) (string, error) {
	seed := fmt.Sprintf("mint:%s:%s:%d", propertyID, totalTokens, requestcontext.Now(ctx).Unix())
	return fingerprint.HashBytes([]byte(seed)), nil
}
