package booking

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/backend-booking/internal/autosave"
	"github.com/noah-isme/backend-booking/internal/common"
	"github.com/noah-isme/backend-booking/internal/engine"
	"github.com/noah-isme/backend-booking/internal/selection"
	"github.com/noah-isme/backend-booking/internal/totals"
	"github.com/noah-isme/backend-booking/internal/voucher"
)

// DefaultWaitTimeout bounds ?wait=true reads.
const DefaultWaitTimeout = 10 * time.Second

var validate = validator.New()

// Handler wires the booking registry to HTTP.
type Handler struct {
	Registry    *Registry
	WaitTimeout time.Duration
}

// View is the presentation state of a booking.
type View struct {
	ID            string              `json:"id"`
	Item          *selection.CartItem `json:"item"`
	Nodes         []engine.NodeState  `json:"nodes"`
	Breakdown     *totals.Breakdown   `json:"breakdown,omitempty"`
	Loading       bool                `json:"loading"`
	Dirty         bool                `json:"dirty"`
	Settled       bool                `json:"settled"`
	CountedGuests int                 `json:"countedGuests"`
	Autosave      *autosave.State     `json:"autosave,omitempty"`
}

type dateRangePayload struct {
	From string `json:"from" validate:"required"`
	To   string `json:"to" validate:"required"`
}

type quantityPayload struct {
	Qty *int `json:"qty" validate:"required"`
}

type togglePayload struct {
	Selected *bool `json:"selected" validate:"required"`
}

type dayPayload struct {
	Day string `json:"day" validate:"required"`
}

type childPayload struct {
	ItemID string         `json:"itemId" validate:"required"`
	Params map[string]int `json:"params" validate:"dive,gte=0"`
}

type menuPayload struct {
	Lines []selection.MenuLine `json:"lines" validate:"dive"`
}

type voucherPayload struct {
	Scope string `json:"scope" validate:"required"`
	Code  string `json:"code" validate:"required"`
}

// Routes returns the booking router, meant to be mounted under /bookings.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Route("/{bookingID}", func(b chi.Router) {
		b.Get("/", h.Get)
		b.Delete("/", h.Delete)
		b.Get("/totals", h.Totals)
		b.Post("/save", h.Save)
		b.Put("/dates", h.SetDates)
		b.Delete("/dates", h.ClearDates)
		b.Put("/params/{param}", h.SetQuantity)
		b.Put("/menu", h.SetMenu)
		b.Post("/vouchers", h.ApplyVoucher)
		b.Delete("/vouchers/{scope}", h.RemoveVoucher)
		b.Route("/addons/{addonID}", func(a chi.Router) {
			a.Put("/", h.ToggleAddon)
			a.Put("/params/{param}", h.SetAddonQuantity)
			a.Put("/day", h.SetAddonDay)
			a.Put("/range", h.SetAddonRange)
			a.Put("/child", h.SelectChild)
			a.Delete("/child", h.ClearChild)
			a.Put("/child/params/{param}", h.SetChildQuantity)
		})
	})
	return r
}

// Create opens a booking session from a cart item.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Registry == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "booking registry not configured", nil)
		return
	}
	var item selection.CartItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_JSON", "invalid JSON body", nil)
		return
	}
	b, err := h.Registry.Create(&item)
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, viewOf(b))
}

// Get renders the booking. With ?wait=true it blocks until pricing settles.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	b, ok := h.booking(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("wait") == "true" {
		if err := h.wait(r.Context(), b); err != nil {
			writeError(w, err)
			return
		}
	}
	common.Data(w, http.StatusOK, viewOf(b))
}

// Delete closes the booking session.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Registry.Delete(chi.URLParam(r, "bookingID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Totals returns the breakdown, or 409 while pricing is in progress.
func (h *Handler) Totals(w http.ResponseWriter, r *http.Request) {
	b, ok := h.booking(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("wait") == "true" {
		if err := h.wait(r.Context(), b); err != nil {
			writeError(w, err)
			return
		}
	}
	breakdown, err := b.Session.Totals()
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, breakdown)
}

// Save persists the booking now instead of waiting for autosave.
func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	b, ok := h.booking(w, r)
	if !ok {
		return
	}
	if b.Saver == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "autosave disabled", nil)
		return
	}
	if err := b.Saver.Flush(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, b.Saver.State())
}

// SetDates replaces the accommodation stay.
func (h *Handler) SetDates(w http.ResponseWriter, r *http.Request) {
	var payload dateRangePayload
	h.mutate(w, r, &payload, func(b *Booking) error {
		dr, err := parseRange(payload)
		if err != nil {
			return err
		}
		return b.Session.SetDates(dr)
	})
}

// ClearDates removes the accommodation stay.
func (h *Handler) ClearDates(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, nil, func(b *Booking) error { return b.Session.ClearDates() })
}

// SetQuantity sets an accommodation parameter.
func (h *Handler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	var payload quantityPayload
	h.mutate(w, r, &payload, func(b *Booking) error {
		return b.Session.SetQuantity(chi.URLParam(r, "param"), *payload.Qty)
	})
}

// ToggleAddon selects or deselects an add-on.
func (h *Handler) ToggleAddon(w http.ResponseWriter, r *http.Request) {
	var payload togglePayload
	h.mutate(w, r, &payload, func(b *Booking) error {
		return b.Session.ToggleAddon(chi.URLParam(r, "addonID"), *payload.Selected)
	})
}

// SetAddonQuantity sets an add-on parameter.
func (h *Handler) SetAddonQuantity(w http.ResponseWriter, r *http.Request) {
	var payload quantityPayload
	h.mutate(w, r, &payload, func(b *Booking) error {
		return b.Session.SetAddonQuantity(chi.URLParam(r, "addonID"), chi.URLParam(r, "param"), *payload.Qty)
	})
}

// SetAddonDay picks the day of an inherit_parent add-on.
func (h *Handler) SetAddonDay(w http.ResponseWriter, r *http.Request) {
	var payload dayPayload
	h.mutate(w, r, &payload, func(b *Booking) error {
		day, err := time.Parse("2006-01-02", strings.TrimSpace(payload.Day))
		if err != nil {
			return invalidInput("day", err)
		}
		return b.Session.SetAddonDay(chi.URLParam(r, "addonID"), day)
	})
}

// SetAddonRange narrows a custom window or sets a free range.
func (h *Handler) SetAddonRange(w http.ResponseWriter, r *http.Request) {
	var payload dateRangePayload
	h.mutate(w, r, &payload, func(b *Booking) error {
		dr, err := parseRange(payload)
		if err != nil {
			return err
		}
		return b.Session.SetAddonRange(chi.URLParam(r, "addonID"), dr)
	})
}

// SelectChild chooses the item of a product-group add-on.
func (h *Handler) SelectChild(w http.ResponseWriter, r *http.Request) {
	var payload childPayload
	h.mutate(w, r, &payload, func(b *Booking) error {
		return b.Session.SelectChild(chi.URLParam(r, "addonID"), selection.ChildSelection{
			ItemID: strings.TrimSpace(payload.ItemID),
			Params: payload.Params,
		})
	})
}

// ClearChild removes the chosen item of a product-group add-on.
func (h *Handler) ClearChild(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, nil, func(b *Booking) error {
		return b.Session.ClearChild(chi.URLParam(r, "addonID"))
	})
}

// SetChildQuantity sets a parameter of the chosen child.
func (h *Handler) SetChildQuantity(w http.ResponseWriter, r *http.Request) {
	var payload quantityPayload
	h.mutate(w, r, &payload, func(b *Booking) error {
		return b.Session.SetChildQuantity(chi.URLParam(r, "addonID"), chi.URLParam(r, "param"), *payload.Qty)
	})
}

// SetMenu replaces the meal lines.
func (h *Handler) SetMenu(w http.ResponseWriter, r *http.Request) {
	var payload menuPayload
	h.mutate(w, r, &payload, func(b *Booking) error { return b.Session.SetMenu(payload.Lines) })
}

// ApplyVoucher validates a code against the scoped node and attaches it.
func (h *Handler) ApplyVoucher(w http.ResponseWriter, r *http.Request) {
	var payload voucherPayload
	h.mutate(w, r, &payload, func(b *Booking) error {
		scope, err := selection.ParseScope(payload.Scope)
		if err != nil {
			return err
		}
		_, err = b.Session.ApplyVoucher(r.Context(), scope, payload.Code)
		return err
	})
}

// RemoveVoucher detaches the voucher of a scope.
func (h *Handler) RemoveVoucher(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, nil, func(b *Booking) error {
		scope, err := selection.ParseScope(chi.URLParam(r, "scope"))
		if err != nil {
			return err
		}
		return b.Session.RemoveVoucher(scope)
	})
}

func (h *Handler) booking(w http.ResponseWriter, r *http.Request) (*Booking, bool) {
	if h.Registry == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "booking registry not configured", nil)
		return nil, false
	}
	b, err := h.Registry.Get(chi.URLParam(r, "bookingID"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return b, true
}

// mutate decodes payload when given, runs fn and renders the new view.
func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, payload any, fn func(*Booking) error) {
	b, ok := h.booking(w, r)
	if !ok {
		return
	}
	if payload != nil {
		if err := json.NewDecoder(r.Body).Decode(payload); err != nil {
			common.JSONError(w, http.StatusBadRequest, "INVALID_JSON", "invalid JSON body", nil)
			return
		}
		if err := validate.Struct(payload); err != nil {
			common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body", fieldErrors(err))
			return
		}
	}
	if err := fn(b); err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, viewOf(b))
}

func (h *Handler) wait(ctx context.Context, b *Booking) error {
	timeout := h.WaitTimeout
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return b.Session.Wait(ctx)
}

func viewOf(b *Booking) View {
	s := b.Session
	v := View{
		ID:            b.ID,
		Item:          s.View(),
		Nodes:         s.NodeStates(),
		Loading:       s.Loading(),
		Dirty:         s.Dirty(),
		Settled:       s.Settled(),
		CountedGuests: s.CountedGuests(),
	}
	if breakdown, err := s.Totals(); err == nil {
		v.Breakdown = &breakdown
	}
	if b.Saver != nil {
		state := b.Saver.State()
		v.Autosave = &state
	}
	return v
}

func parseRange(p dateRangePayload) (selection.DateRange, error) {
	dr, err := selection.NewDateRange(strings.TrimSpace(p.From), strings.TrimSpace(p.To))
	if err != nil {
		return selection.DateRange{}, invalidInput("range", err)
	}
	return dr, nil
}

func invalidInput(field string, err error) error {
	return selection.ValidationErrors{{Field: field, Message: err.Error()}}
}

func fieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[strings.ToLower(fe.Field())] = fe.Tag()
	}
	return out
}

func writeError(w http.ResponseWriter, err error) {
	common.WriteError(w, classify(err))
}

// classify maps domain errors onto API error codes.
func classify(err error) *common.AppError {
	var verrs selection.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return common.NewAppError("VALIDATION_ERROR", "invalid selection", http.StatusBadRequest, err).WithDetails(verrs)
	case errors.Is(err, ErrNotFound), errors.Is(err, engine.ErrClosed):
		return common.NewAppError("NOT_FOUND", "booking not found", http.StatusNotFound, err)
	case errors.Is(err, selection.ErrUnknownAddon):
		return common.NewAppError("ADDON_NOT_FOUND", "", http.StatusNotFound, err)
	case errors.Is(err, selection.ErrInvalidInput), errors.Is(err, selection.ErrInvalidScope):
		return common.NewAppError("VALIDATION_ERROR", "", http.StatusBadRequest, err)
	case errors.Is(err, selection.ErrNotProductGroup), errors.Is(err, selection.ErrNoChild):
		return common.NewAppError("CONFLICT", "", http.StatusConflict, err)
	case errors.Is(err, voucher.ErrRejected):
		return common.NewAppError("VOUCHER_REJECTED", "", http.StatusUnprocessableEntity, err)
	case errors.Is(err, totals.ErrUnsettled), errors.Is(err, autosave.ErrUnsettled):
		return common.NewAppError("PRICING_PENDING", "pricing still in progress", http.StatusConflict, err)
	case errors.Is(err, context.DeadlineExceeded):
		return common.NewAppError("PRICING_TIMEOUT", "pricing did not settle in time", http.StatusGatewayTimeout, err)
	case errors.Is(err, voucher.ErrUnavailable), errors.Is(err, engine.ErrVouchersDisabled),
		errors.Is(err, ErrCapacity), errors.Is(err, autosave.ErrStoreUnavailable):
		return common.NewAppError("SERVICE_UNAVAILABLE", "", http.StatusServiceUnavailable, err)
	default:
		return common.NewAppError("INTERNAL", "unexpected error", http.StatusInternalServerError, err)
	}
}
