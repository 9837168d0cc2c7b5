package execution

import (
	"github.com/google/uuid"

	"github.com/minhle/hooktrader/internal/types"
)

// BuildRequest constructs an immutable order request from a side, quantity
// and price decision. Every request carries a fresh client order ID.
func BuildRequest(side types.Side, quantity int, decision PriceDecision) (types.OrderRequest, error) {
	if quantity <= 0 {
		return types.OrderRequest{}, types.ErrInvalidQuantity
	}

	return types.OrderRequest{
		ClientOrderID: uuid.New().String(),
		Side:          side,
		Quantity:      quantity,
		Mode:          decision.Mode,
		LimitPrice:    decision.Price,
	}, nil
}
