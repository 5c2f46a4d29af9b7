package tool

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type GenerateStockAlertParams struct {
	ProdutoRef string `json:"produto_ref" validate:"required"`
	Tipo       string `json:"tipo" validate:"required,oneof=low_stock stockout expiring recall"`
	Mensagem   string `json:"mensagem,omitempty"`
}

// StockAlert is ephemeral: the executor resolves the product and echoes the
// alert; delivery and persistence belong to other systems.
type StockAlert struct {
	ProductID   string    `json:"product_id"`
	ProductName string    `json:"product_name"`
	Kind        string    `json:"kind"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"created_at"`
}

func runGenerateStockAlert(ctx context.Context, r *Runtime, raw map[string]any, scope Scope) (any, error) {
	params, err := decodeParams[GenerateStockAlertParams](raw)
	if err != nil {
		return nil, err
	}

	product, err := r.store.FindProduct(ctx, scope.TenantID, params.ProdutoRef)
	if err != nil {
		return nil, fmt.Errorf("product ref %q: %w", params.ProdutoRef, err)
	}

	msg := strings.TrimSpace(params.Mensagem)
	if msg == "" {
		msg = fmt.Sprintf("%s alert for %s", params.Tipo, product.Name)
	}

	return StockAlert{
		ProductID:   product.ID,
		ProductName: product.Name,
		Kind:        params.Tipo,
		Message:     msg,
		CreatedAt:   r.now().UTC(),
	}, nil
}
