package coupon

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-totals/internal/catalog"
)

func TestValidForCart(t *testing.T) {
	cases := map[Kind]bool{
		FixedCart:      true,
		Percent:        true,
		FixedProduct:   false,
		PercentProduct: false,
	}
	for kind, want := range cases {
		rule := Rule{Code: "c", Kind: kind, Amount: decimal.NewFromInt(10)}
		if got := rule.ValidForCart(); got != want {
			t.Fatalf("kind %s: ValidForCart = %v, want %v", kind, got, want)
		}
	}
}

func TestValidForProductUnscoped(t *testing.T) {
	p := catalog.Product{ID: uuid.New()}
	rule := Rule{Kind: FixedProduct, Amount: decimal.NewFromInt(5)}
	if !rule.ValidForProduct(p) {
		t.Fatal("unscoped product coupon should apply to any product")
	}
	cart := Rule{Kind: FixedCart, Amount: decimal.NewFromInt(5)}
	if cart.ValidForProduct(p) {
		t.Fatal("cart coupon must not report product validity")
	}
}

func TestValidForProductScoped(t *testing.T) {
	in := uuid.New()
	out := uuid.New()
	rule := Rule{Kind: PercentProduct, Amount: decimal.NewFromInt(10), ProductIDs: []uuid.UUID{in}}
	if !rule.ValidForProduct(catalog.Product{ID: in}) {
		t.Fatal("listed product should be eligible")
	}
	if rule.ValidForProduct(catalog.Product{ID: out}) {
		t.Fatal("unlisted product should not be eligible")
	}
}

func TestValidForProductExclusionWins(t *testing.T) {
	id := uuid.New()
	rule := Rule{
		Kind:               FixedProduct,
		Amount:             decimal.NewFromInt(5),
		ProductIDs:         []uuid.UUID{id},
		ExcludedProductIDs: []uuid.UUID{id},
	}
	if rule.ValidForProduct(catalog.Product{ID: id}) {
		t.Fatal("excluded product must not be eligible")
	}
}

func TestKindValid(t *testing.T) {
	if !FixedCart.Valid() || Kind("bogus").Valid() {
		t.Fatal("kind validity misbehaves")
	}
}
