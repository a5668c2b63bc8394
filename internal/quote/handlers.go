package quote

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-totals/internal/catalog"
	"github.com/noah-isme/toko-totals/internal/common"
	"github.com/noah-isme/toko-totals/internal/coupon"
	"github.com/noah-isme/toko-totals/internal/obs"
	"github.com/noah-isme/toko-totals/internal/tax"
	"github.com/noah-isme/toko-totals/internal/totals"
)

// Handler wires the totals engine to HTTP.
type Handler struct {
	Catalog  catalog.Source
	Rates    tax.Source
	Validate *validator.Validate
	Settings totals.Settings
	Currency string
	// PricesIncludeTax is the default for items that do not say whether
	// their price already contains tax.
	PricesIncludeTax bool
}

// ItemInput is one cart line. Lines referencing a productId take their
// price, tax class and taxability from the catalog unless overridden.
type ItemInput struct {
	Key              string           `json:"key"`
	ProductID        string           `json:"productId" validate:"omitempty,uuid"`
	Title            string           `json:"title"`
	Price            *decimal.Decimal `json:"price"`
	Quantity         int              `json:"quantity" validate:"required,gt=0"`
	TaxClass         string           `json:"taxClass"`
	Taxable          *bool            `json:"taxable"`
	PriceIncludesTax *bool            `json:"priceIncludesTax"`
}

// CouponInput is one coupon code with its discount rule.
type CouponInput struct {
	Code               string          `json:"code" validate:"required"`
	Kind               string          `json:"kind" validate:"required,oneof=fixed_cart percent fixed_product percent_product"`
	Amount             decimal.Decimal `json:"amount"`
	ProductIDs         []string        `json:"productIds" validate:"dive,uuid"`
	ExcludedProductIDs []string        `json:"excludedProductIds" validate:"dive,uuid"`
}

// FeeInput is one flat fee line.
type FeeInput struct {
	Key      string          `json:"key" validate:"required"`
	Amount   decimal.Decimal `json:"amount"`
	Taxable  bool            `json:"taxable"`
	TaxClass string          `json:"taxClass"`
}

// ShippingTaxInput is one rate's share of a shipping line's tax.
type ShippingTaxInput struct {
	RateID string          `json:"rateId" validate:"required"`
	Amount decimal.Decimal `json:"amount"`
}

// ShippingInput is one shipping method line.
type ShippingInput struct {
	Key   string             `json:"key" validate:"required"`
	Cost  decimal.Decimal    `json:"cost"`
	Taxes []ShippingTaxInput `json:"taxes" validate:"dive"`
}

// QuoteRequest is the full cart snapshot to total.
type QuoteRequest struct {
	Items        []ItemInput     `json:"items" validate:"required,min=1,dive"`
	Coupons      []CouponInput   `json:"coupons" validate:"dive"`
	Fees         []FeeInput      `json:"fees" validate:"dive"`
	Shipping     []ShippingInput `json:"shipping" validate:"dive"`
	CalculateTax *bool           `json:"calculateTax"`
}

// ItemQuote is the per-line result, amounts formatted to currency precision.
type ItemQuote struct {
	Key             string `json:"key"`
	ProductID       string `json:"productId,omitempty"`
	Quantity        int    `json:"quantity"`
	Subtotal        string `json:"subtotal"`
	SubtotalTax     string `json:"subtotalTax"`
	DiscountedPrice string `json:"discountedPrice"`
	Total           string `json:"total"`
	TotalTax        string `json:"totalTax"`
}

// CouponQuote is one coupon's accumulated effect.
type CouponQuote struct {
	Code     string `json:"code"`
	Count    int    `json:"count"`
	Total    string `json:"total"`
	TotalTax string `json:"totalTax"`
}

// RateQuote is one tax rate's aggregate across items, fees and shipping.
type RateQuote struct {
	RateID           string `json:"rateId"`
	TaxTotal         string `json:"taxTotal"`
	ShippingTaxTotal string `json:"shippingTaxTotal"`
}

// QuoteResponse is the published totals for one quote.
type QuoteResponse struct {
	Currency         string        `json:"currency"`
	ItemsSubtotal    string        `json:"itemsSubtotal"`
	ItemsSubtotalTax string        `json:"itemsSubtotalTax"`
	ItemsTotal       string        `json:"itemsTotal"`
	ItemsTotalTax    string        `json:"itemsTotalTax"`
	Items            []ItemQuote   `json:"items"`
	Coupons          []CouponQuote `json:"coupons"`
	FeesTotal        string        `json:"feesTotal"`
	FeesTotalTax     string        `json:"feesTotalTax"`
	ShippingTotal    string        `json:"shippingTotal"`
	ShippingTaxTotal string        `json:"shippingTaxTotal"`
	Rates            []RateQuote   `json:"rates"`
	TaxTotal         string        `json:"taxTotal"`
	Total            string        `json:"total"`
}

// Quote totals a cart snapshot and returns the breakdown.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	if h.Rates == nil && h.Settings.TaxEnabled {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "tax rate source not configured", nil)
		return
	}
	start := time.Now()

	var payload QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		obs.RecordQuote("invalid", time.Since(start))
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(payload); err != nil {
			obs.RecordQuote("invalid", time.Since(start))
			common.JSONError(w, http.StatusBadRequest, "VALIDATION", "invalid quote request", validationDetails(err))
			return
		}
	}

	lines, err := h.buildLines(r, payload.Items)
	if err != nil {
		obs.RecordQuote("invalid", time.Since(start))
		h.writeError(w, err)
		return
	}
	rules, err := buildCouponRules(payload.Coupons)
	if err != nil {
		obs.RecordQuote("invalid", time.Since(start))
		h.writeError(w, err)
		return
	}

	engine := totals.New(h.Settings, h.Rates, totals.Hooks{})
	engine.SetItems(lines)
	engine.SetCoupons(rules)
	engine.SetFees(buildFees(payload.Fees))
	engine.SetShipping(buildShipping(payload.Shipping))
	if payload.CalculateTax != nil {
		engine.SetCalculateTax(*payload.CalculateTax)
	}

	result, err := engine.Calculate(r.Context())
	if err != nil {
		obs.RecordQuote("error", time.Since(start))
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "totals calculation failed", nil)
		return
	}

	obs.RecordQuote("ok", time.Since(start))
	common.JSON(w, http.StatusOK, map[string]any{"data": h.buildResponse(result)})
}

func (h *Handler) buildLines(r *http.Request, items []ItemInput) ([]totals.Line, error) {
	lines := make([]totals.Line, 0, len(items))
	for _, in := range items {
		line := totals.ProductLine{
			Key:              in.Key,
			Quantity:         in.Quantity,
			PriceIncludesTax: h.PricesIncludeTax,
			Product: catalog.Product{
				Title:    in.Title,
				TaxClass: in.TaxClass,
				Taxable:  true,
			},
		}
		if in.PriceIncludesTax != nil {
			line.PriceIncludesTax = *in.PriceIncludesTax
		}
		if in.Key == "" {
			line.Key = uuid.NewString()
		}
		if in.Taxable != nil {
			line.Product.Taxable = *in.Taxable
		}
		if in.ProductID != "" {
			id, err := uuid.Parse(in.ProductID)
			if err != nil {
				return nil, common.NewAppError("BAD_REQUEST", "invalid product id", http.StatusBadRequest, err)
			}
			if h.Catalog == nil {
				return nil, common.NewAppError("INTERNAL", "catalog not configured", http.StatusInternalServerError, nil)
			}
			p, err := h.Catalog.ProductByID(r.Context(), id)
			if err != nil {
				if errors.Is(err, catalog.ErrNotFound) {
					return nil, common.NewAppError("NOT_FOUND", "product "+in.ProductID+" not found", http.StatusNotFound, err)
				}
				return nil, common.NewAppError("INTERNAL", "unable to load product", http.StatusInternalServerError, err)
			}
			line.Product = p
			if in.Taxable != nil {
				line.Product.Taxable = *in.Taxable
			}
			if in.TaxClass != "" {
				line.Product.TaxClass = in.TaxClass
			}
			line.Price = p.Price
		}
		if in.Price != nil {
			line.Price = *in.Price
		} else if in.ProductID == "" {
			return nil, common.NewAppError("BAD_REQUEST", "item needs a price or a productId", http.StatusBadRequest, nil)
		}
		if line.Price.IsNegative() {
			return nil, common.NewAppError("BAD_REQUEST", "item price must not be negative", http.StatusBadRequest, nil)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func buildCouponRules(inputs []CouponInput) ([]coupon.Rule, error) {
	rules := make([]coupon.Rule, 0, len(inputs))
	for _, in := range inputs {
		rule := coupon.Rule{
			Code:   strings.TrimSpace(in.Code),
			Kind:   coupon.Kind(in.Kind),
			Amount: in.Amount,
		}
		if !rule.Kind.Valid() {
			return nil, common.NewAppError("BAD_REQUEST", "unknown coupon kind "+in.Kind, http.StatusBadRequest, nil)
		}
		if rule.Amount.IsNegative() {
			return nil, common.NewAppError("BAD_REQUEST", "coupon amount must not be negative", http.StatusBadRequest, nil)
		}
		var err error
		if rule.ProductIDs, err = parseUUIDs(in.ProductIDs); err != nil {
			return nil, common.NewAppError("BAD_REQUEST", "invalid coupon product id", http.StatusBadRequest, err)
		}
		if rule.ExcludedProductIDs, err = parseUUIDs(in.ExcludedProductIDs); err != nil {
			return nil, common.NewAppError("BAD_REQUEST", "invalid coupon product id", http.StatusBadRequest, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func buildFees(inputs []FeeInput) []totals.Fee {
	fees := make([]totals.Fee, 0, len(inputs))
	for _, in := range inputs {
		fees = append(fees, totals.Fee{
			Key:      in.Key,
			Amount:   in.Amount,
			Taxable:  in.Taxable,
			TaxClass: in.TaxClass,
		})
	}
	return fees
}

func buildShipping(inputs []ShippingInput) []totals.ShippingLine {
	lines := make([]totals.ShippingLine, 0, len(inputs))
	for _, in := range inputs {
		var bd tax.Breakdown
		for _, t := range in.Taxes {
			bd.Add(t.RateID, t.Amount)
		}
		lines = append(lines, totals.ShippingLine{Key: in.Key, Cost: in.Cost, Taxes: bd})
	}
	return lines
}

func (h *Handler) buildResponse(t totals.Totals) QuoteResponse {
	fix := func(d decimal.Decimal) string {
		return d.StringFixed(h.Settings.CurrencyDecimals)
	}
	resp := QuoteResponse{
		Currency:         h.Currency,
		ItemsSubtotal:    fix(t.ItemsSubtotal),
		ItemsSubtotalTax: fix(t.ItemsSubtotalTax),
		ItemsTotal:       fix(t.ItemsTotal),
		ItemsTotalTax:    fix(t.ItemsTotalTax),
		Items:            make([]ItemQuote, 0, len(t.ItemTotals)),
		Coupons:          make([]CouponQuote, 0, len(t.Coupons)),
		FeesTotal:        fix(t.FeesTotal),
		FeesTotalTax:     fix(t.FeesTotalTax),
		ShippingTotal:    fix(t.ShippingTotal),
		ShippingTaxTotal: fix(t.ShippingTaxTotal),
		Rates:            make([]RateQuote, 0, len(t.RateTotals)),
		TaxTotal:         fix(t.TaxTotal),
		Total:            fix(t.Total),
	}
	for _, it := range t.ItemTotals {
		iq := ItemQuote{
			Key:             it.Key,
			Quantity:        it.Quantity,
			Subtotal:        fix(it.Subtotal),
			SubtotalTax:     fix(it.SubtotalTax),
			DiscountedPrice: fix(it.DiscountedPrice),
			Total:           fix(it.Total),
			TotalTax:        fix(it.TotalTax),
		}
		if it.ProductID != uuid.Nil {
			iq.ProductID = it.ProductID.String()
		}
		resp.Items = append(resp.Items, iq)
	}
	for _, c := range t.Coupons {
		resp.Coupons = append(resp.Coupons, CouponQuote{
			Code:     c.Code,
			Count:    c.Count,
			Total:    fix(c.Total),
			TotalTax: fix(c.TotalTax),
		})
	}
	for _, rt := range t.RateTotals {
		resp.Rates = append(resp.Rates, RateQuote{
			RateID:           rt.RateID,
			TaxTotal:         fix(rt.TaxTotal),
			ShippingTaxTotal: fix(rt.ShippingTaxTotal),
		})
	}
	return resp
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusBadRequest
		}
		common.JSONError(w, status, appErr.Code, appErr.Message, appErr.Details)
		return
	}
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
}

func parseUUIDs(ids []string) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	out := make([]uuid.UUID, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func validationDetails(err error) any {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	details := make([]map[string]string, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, map[string]string{
			"field": fe.Namespace(),
			"rule":  fe.Tag(),
		})
	}
	return details
}
