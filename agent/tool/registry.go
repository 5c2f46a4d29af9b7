package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	contractx "github.com/orthotrace/opsagent/agent/contract"
	storex "github.com/orthotrace/opsagent/store"
)

// The closed set of operations the planner may request. No dynamic
// registration: lookup is a switch so adding a tool forces a compile-time
// touch point here.
const (
	ToolListSurgeries       = "listar_cirurgias"
	ToolListInventory       = "listar_estoque"
	ToolListLots            = "listar_lotes"
	ToolReserveMaterial     = "reservar_material"
	ToolRegisterConsumption = "registrar_consumo"
	ToolUpdateSurgeryStatus = "atualizar_status_cirurgia"
	ToolRegisterTrace       = "registrar_rastreabilidade"
	ToolGenerateStockAlert  = "gerar_alerta_estoque"
)

var ErrInvalidParams = errors.New("invalid tool params")

// Scope carries the tenant and acting user a call executes under.
type Scope struct {
	TenantID string
	UserID   string
}

// Runtime binds the eight executors to the datastore and audit ledger.
type Runtime struct {
	store  storex.Store
	ledger storex.AuditLedger
	now    func() time.Time
	newID  func() string
}

func NewRuntime(st storex.Store, ledger storex.AuditLedger) (*Runtime, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if ledger == nil {
		return nil, errors.New("audit ledger is required")
	}
	return &Runtime{
		store:  st,
		ledger: ledger,
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}, nil
}

type handler func(ctx context.Context, r *Runtime, raw map[string]any, scope Scope) (any, error)

// lookup is the sealed dispatch table.
func lookup(name string) (handler, bool) {
	switch name {
	case ToolListSurgeries:
		return runListSurgeries, true
	case ToolListInventory:
		return runListInventory, true
	case ToolListLots:
		return runListLots, true
	case ToolReserveMaterial:
		return runReserveMaterial, true
	case ToolRegisterConsumption:
		return runRegisterConsumption, true
	case ToolUpdateSurgeryStatus:
		return runUpdateSurgeryStatus, true
	case ToolRegisterTrace:
		return runRegisterTraceability, true
	case ToolGenerateStockAlert:
		return runGenerateStockAlert, true
	}
	return nil, false
}

// Dispatch validates and executes one planner-requested call. This is the
// security boundary: no executor ever sees unvalidated input, and executor
// failure comes back as a failed ToolResult, never as control flow.
func (r *Runtime) Dispatch(ctx context.Context, call contractx.ToolCall, scope Scope) contractx.ToolResult {
	run, ok := lookup(call.Tool)
	if !ok {
		return contractx.ToolResult{
			Tool:  call.Tool,
			Error: fmt.Sprintf("%v: %s", contractx.ErrUnknownTool, call.Tool),
		}
	}

	data, err := func() (out any, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("tool panicked: %v", rec)
			}
		}()
		return run(ctx, r, call.Params, scope)
	}()
	if err != nil {
		log.Warn().Str("tool", call.Tool).Str("tenant", scope.TenantID).Err(err).Msg("tool execution failed")
		return contractx.ToolResult{Tool: call.Tool, Error: err.Error()}
	}

	return contractx.ToolResult{Tool: call.Tool, Success: true, Data: data}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeParams round-trips raw params through JSON into T and then applies
// T's validate tags, reporting every failing field in one error.
func decodeParams[T any](raw map[string]any) (T, error) {
	var params T
	if raw == nil {
		raw = map[string]any{}
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return params, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&params); err != nil {
		return params, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	if err := validate.Struct(&params); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				details = append(details, fmt.Sprintf("%s: failed %q", jsonFieldName[T](fe.StructField()), fe.Tag()))
			}
			return params, fmt.Errorf("%w: %s", ErrInvalidParams, strings.Join(details, "; "))
		}
		return params, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return params, nil
}

// jsonFieldName maps a struct field back to its json tag so param errors
// use the wire names the planner produced.
func jsonFieldName[T any](structField string) string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if f, ok := t.FieldByName(structField); ok {
		if name, _, _ := strings.Cut(f.Tag.Get("json"), ","); name != "" && name != "-" {
			return name
		}
	}
	return snakeCase(structField)
}

func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				prev := rune(s[i-1])
				if prev < 'A' || prev > 'Z' {
					b.WriteByte('_')
				}
			}
			b.WriteRune(r - 'A' + 'a')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
