package billing

// FeePolicy describes the processor's transaction fee: a percentage of the
// charged amount, in basis points, plus a fixed amount in cents.
type FeePolicy struct {
	RateBasisPoints int64
	FixedCents      int64
}

// StripeCardFees is the processor's card pricing: 2.9% + 30c.
var StripeCardFees = FeePolicy{RateBasisPoints: 290, FixedCents: 30}

const basisPoints = 10_000

// Gross returns the amount to charge so that, after the processor takes its
// fee, at least price is left. A zero price is never charged.
func (p FeePolicy) Gross(price int64) int64 {
	if price <= 0 {
		return 0
	}
	return ceilDiv((price+p.FixedCents)*basisPoints, basisPoints-p.RateBasisPoints)
}

// ProcessorFee is what the processor deducts from a charge of gross cents.
func (p FeePolicy) ProcessorFee(gross int64) int64 {
	if gross <= 0 {
		return 0
	}
	return ceilDiv(gross*p.RateBasisPoints, basisPoints) + p.FixedCents
}

// ServiceFee is the fee shown to the customer for a base price.
func (p FeePolicy) ServiceFee(price int64) int64 {
	return p.ProcessorFee(p.Gross(price))
}

// Net is what remains of a charge after the processor fee.
func (p FeePolicy) Net(gross int64) int64 {
	return gross - p.ProcessorFee(gross)
}

// Quote is the breakdown shown before checkout.
type Quote struct {
	EntryCost      int64 `json:"entry_cost"`
	RecurringPrice int64 `json:"recurring_price"`
	EntryGross     int64 `json:"entry_gross"`
	RecurringGross int64 `json:"recurring_gross"`
	ServiceFee     int64 `json:"service_fee"`
	DueToday       int64 `json:"due_today"`
}

func (p FeePolicy) Quote(entryCost, recurringPrice int64) Quote {
	q := Quote{
		EntryCost:      entryCost,
		RecurringPrice: recurringPrice,
		EntryGross:     p.Gross(entryCost),
		RecurringGross: p.Gross(recurringPrice),
	}
	q.ServiceFee = p.ServiceFee(entryCost) + p.ServiceFee(recurringPrice)
	q.DueToday = q.EntryGross + q.RecurringGross
	return q
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
