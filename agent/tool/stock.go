package tool

import (
	"context"
	"errors"
	"fmt"
	"time"

	storex "github.com/orthotrace/opsagent/store"
)

var ErrInsufficientQuantity = errors.New("insufficient available quantity")

type ReserveMaterialParams struct {
	LoteID     string `json:"lote_id" validate:"required"`
	CirurgiaID string `json:"cirurgia_id" validate:"required"`
	Quantidade int    `json:"quantidade" validate:"required,gt=0"`
}

type ReserveOutput struct {
	ReservationID  string    `json:"reservation_id"`
	LotID          string    `json:"lot_id"`
	SurgeryID      string    `json:"surgery_id"`
	Quantity       int       `json:"quantity"`
	ExpiresAt      time.Time `json:"expires_at"`
	AvailableAfter int       `json:"available_after"`
}

// runReserveMaterial places a soft hold on a lot. The load, availability
// check and both writes run inside one transaction with the lot row locked,
// so concurrent reservations on the same lot cannot jointly overcommit it.
func runReserveMaterial(ctx context.Context, r *Runtime, raw map[string]any, scope Scope) (any, error) {
	params, err := decodeParams[ReserveMaterialParams](raw)
	if err != nil {
		return nil, err
	}

	var out ReserveOutput
	err = r.store.WithTx(ctx, func(tx storex.Store) error {
		if _, err := tx.GetSurgery(ctx, scope.TenantID, params.CirurgiaID); err != nil {
			return fmt.Errorf("surgery %s: %w", params.CirurgiaID, err)
		}

		lot, err := tx.LotForUpdate(ctx, scope.TenantID, params.LoteID)
		if err != nil {
			return fmt.Errorf("lot %s: %w", params.LoteID, err)
		}

		if params.Quantidade > lot.Available() {
			return fmt.Errorf("%w: lot %s has %d available, requested %d",
				ErrInsufficientQuantity, lot.ID, lot.Available(), params.Quantidade)
		}

		now := r.now().UTC()
		res := &storex.Reservation{
			ID:        r.newID(),
			TenantID:  scope.TenantID,
			LotID:     lot.ID,
			SurgeryID: params.CirurgiaID,
			Quantity:  params.Quantidade,
			ExpiresAt: now.Add(storex.ReservationTTL),
			CreatedAt: now,
			CreatedBy: scope.UserID,
		}
		if err := tx.InsertReservation(ctx, res); err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}

		lot.QuantityReserved += params.Quantidade
		if err := tx.UpdateLotQuantities(ctx, lot); err != nil {
			return fmt.Errorf("update lot quantities: %w", err)
		}

		out = ReserveOutput{
			ReservationID:  res.ID,
			LotID:          lot.ID,
			SurgeryID:      params.CirurgiaID,
			Quantity:       params.Quantidade,
			ExpiresAt:      res.ExpiresAt,
			AvailableAfter: lot.Available(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type RegisterConsumptionParams struct {
	CirurgiaID string `json:"cirurgia_id" validate:"required"`
	LoteID     string `json:"lote_id" validate:"required"`
	Quantidade int    `json:"quantidade" validate:"required,gt=0"`
	Tipo       string `json:"tipo" validate:"required,oneof=consumption return loss"`
}

type ConsumptionOutput struct {
	ConsumptionID    string `json:"consumption_id"`
	MovementID       string `json:"movement_id"`
	LotID            string `json:"lot_id"`
	SurgeryID        string `json:"surgery_id"`
	Kind             string `json:"kind"`
	Quantity         int    `json:"quantity"`
	QuantityBefore   int    `json:"quantity_before"`
	QuantityAfter    int    `json:"quantity_after"`
	QuantityReserved int    `json:"quantity_reserved"`
}

// runRegisterConsumption permanently settles reserved stock. The lot
// update, the consumption record and the movement ledger entry are one
// transaction; partial application would corrupt the inventory.
func runRegisterConsumption(ctx context.Context, r *Runtime, raw map[string]any, scope Scope) (any, error) {
	params, err := decodeParams[RegisterConsumptionParams](raw)
	if err != nil {
		return nil, err
	}
	kind := storex.ConsumptionKind(params.Tipo)

	var out ConsumptionOutput
	err = r.store.WithTx(ctx, func(tx storex.Store) error {
		if _, err := tx.GetSurgery(ctx, scope.TenantID, params.CirurgiaID); err != nil {
			return fmt.Errorf("surgery %s: %w", params.CirurgiaID, err)
		}

		lot, err := tx.LotForUpdate(ctx, scope.TenantID, params.LoteID)
		if err != nil {
			return fmt.Errorf("lot %s: %w", params.LoteID, err)
		}

		before := lot.QuantityOnHand
		after := before
		switch kind {
		case storex.KindConsumption:
			if params.Quantidade > before {
				return fmt.Errorf("%w: lot %s has %d on hand, consuming %d",
					ErrInsufficientQuantity, lot.ID, before, params.Quantidade)
			}
			after = before - params.Quantidade
		case storex.KindReturn, storex.KindLoss:
			after = before + params.Quantidade
		}

		now := r.now().UTC()
		rec := &storex.ConsumptionRecord{
			ID:        r.newID(),
			TenantID:  scope.TenantID,
			SurgeryID: params.CirurgiaID,
			LotID:     lot.ID,
			Quantity:  params.Quantidade,
			Kind:      kind,
			CreatedAt: now,
			CreatedBy: scope.UserID,
		}
		if err := tx.InsertConsumption(ctx, rec); err != nil {
			return fmt.Errorf("insert consumption record: %w", err)
		}

		lot.QuantityOnHand = after
		lot.QuantityReserved = max(0, lot.QuantityReserved-params.Quantidade)
		if err := tx.UpdateLotQuantities(ctx, lot); err != nil {
			return fmt.Errorf("update lot quantities: %w", err)
		}

		mov := &storex.StockMovement{
			ID:             r.newID(),
			TenantID:       scope.TenantID,
			LotID:          lot.ID,
			Kind:           kind,
			Quantity:       params.Quantidade,
			QuantityBefore: before,
			QuantityAfter:  after,
			ReferenceID:    rec.ID,
			CreatedAt:      now,
			CreatedBy:      scope.UserID,
		}
		if err := tx.InsertMovement(ctx, mov); err != nil {
			return fmt.Errorf("insert stock movement: %w", err)
		}

		out = ConsumptionOutput{
			ConsumptionID:    rec.ID,
			MovementID:       mov.ID,
			LotID:            lot.ID,
			SurgeryID:        params.CirurgiaID,
			Kind:             string(kind),
			Quantity:         params.Quantidade,
			QuantityBefore:   before,
			QuantityAfter:    after,
			QuantityReserved: lot.QuantityReserved,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
