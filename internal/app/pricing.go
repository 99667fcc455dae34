package app

// defaultReferencePrice is the assumed average share price (KRW) used for
// sizing when no quote source is wired in.
const defaultReferencePrice = 50000

// PricingStrategy supplies the reference price used to size buy orders and
// to derive limit prices. A quote-feed implementation can be dropped in
// without touching the engine.
type PricingStrategy interface {
	ReferencePrice(symbol string) int64
}

// FixedPricing sizes every order against a single assumed price.
type FixedPricing struct {
	Price int64
}

func (f FixedPricing) ReferencePrice(string) int64 {
	if f.Price <= 0 {
		return defaultReferencePrice
	}
	return f.Price
}
