package memberships

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"membership-app/internal/domain/billing"
	"membership-app/internal/domain/memberships"
	"membership-app/internal/infra/gateway"

	"github.com/gosimple/slug"
	"github.com/microcosm-cc/bluemonday"
	"github.com/stripe/stripe-go/v75"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalid   = errors.New("memberships: invalid membership")
	ErrNotFound  = errors.New("memberships: not found")
	ErrSlugTaken = errors.New("memberships: slug already in use")
)

// Gateway is the part of the gateway client membership administration uses.
type Gateway interface {
	CreateProduct(ctx context.Context, in gateway.ProductInput) (*stripe.Product, error)
	UpdateProduct(ctx context.Context, id string, in gateway.ProductInput) (*stripe.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	UpdateSubscriptionPrice(ctx context.Context, subscriptionID, productID string, amount int64, interval string) (*stripe.Subscription, error)
}

type Params struct {
	DB      *gorm.DB
	Gateway Gateway
	Log     *zap.Logger
	Fees    billing.FeePolicy
	// EntryFeeProductName names the gateway product entry fees are billed
	// against.
	EntryFeeProductName string
}

type Service struct {
	db       *gorm.DB
	gw       Gateway
	log      *zap.Logger
	fees     billing.FeePolicy
	feeName  string
	sanitize *bluemonday.Policy
}

func New(p Params) *Service {
	s := &Service{
		db:       p.DB,
		gw:       p.Gateway,
		log:      p.Log.Named("memberships"),
		fees:     p.Fees,
		feeName:  p.EntryFeeProductName,
		sanitize: bluemonday.StrictPolicy(),
	}
	if s.fees == (billing.FeePolicy{}) {
		s.fees = billing.StripeCardFees
	}
	if s.feeName == "" {
		s.feeName = "Initial payment"
	}
	return s
}

type Input struct {
	Name           string               `json:"name"`
	Slug           string               `json:"slug"`
	Description    string               `json:"description"`
	EntryCost      int64                `json:"entry_cost"`
	RecurringPrice int64                `json:"recurring_price"`
	Interval       memberships.Interval `json:"interval"`
	IsVisible      bool                 `json:"is_visible"`
	IsPurchasable  bool                 `json:"is_purchasable"`
}

func (s *Service) normalize(in *Input) error {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(s.sanitize.Sanitize(in.Description))
	in.Slug = strings.TrimSpace(in.Slug)
	if in.Slug == "" {
		in.Slug = slug.Make(in.Name)
	} else {
		in.Slug = slug.Make(in.Slug)
	}
	if in.Interval == "" {
		in.Interval = memberships.IntervalMonth
	}

	switch {
	case in.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalid)
	case in.Slug == "" || in.Slug == memberships.EntryFeeSlug:
		return fmt.Errorf("%w: slug %q is not allowed", ErrInvalid, in.Slug)
	case in.EntryCost < 0 || in.RecurringPrice < 0:
		return fmt.Errorf("%w: prices cannot be negative", ErrInvalid)
	case !in.Interval.Valid():
		return fmt.Errorf("%w: unknown interval %q", ErrInvalid, in.Interval)
	}
	return nil
}

func (s *Service) product(m *memberships.Membership) gateway.ProductInput {
	return gateway.ProductInput{
		Name:        m.Name,
		Description: m.Description,
		Metadata:    map[string]string{"slug": m.Slug},
	}
}

func (s *Service) slugTaken(ctx context.Context, slugValue string, exceptID uint) error {
	var n int64
	err := s.db.WithContext(ctx).Model(&memberships.Membership{}).
		Where("slug = ? AND id <> ?", slugValue, exceptID).Count(&n).Error
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrSlugTaken
	}
	return nil
}

// Create stores a membership after its gateway product exists. A failed
// local write removes the product again.
func (s *Service) Create(ctx context.Context, in Input) (*memberships.Membership, error) {
	if err := s.normalize(&in); err != nil {
		return nil, err
	}
	if err := s.slugTaken(ctx, in.Slug, 0); err != nil {
		return nil, err
	}

	m := &memberships.Membership{
		Name:           in.Name,
		Slug:           in.Slug,
		Description:    in.Description,
		EntryCost:      in.EntryCost,
		RecurringPrice: in.RecurringPrice,
		Interval:       in.Interval,
		IsVisible:      in.IsVisible,
		IsPurchasable:  in.IsPurchasable,
	}
	prod, err := s.gw.CreateProduct(ctx, s.product(m))
	if err != nil {
		return nil, fmt.Errorf("create product for %s: %w", m.Slug, err)
	}
	m.RemoteProductID = prod.ID

	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		if delErr := s.gw.DeleteProduct(ctx, prod.ID); delErr != nil {
			s.log.Error("removing orphaned product", zap.String("product", prod.ID), zap.Error(delErr))
		}
		return nil, fmt.Errorf("save membership %s: %w", m.Slug, err)
	}
	s.log.Info("membership created", zap.Uint("id", m.ID), zap.String("product", m.RemoteProductID))
	return m, nil
}

// Update pushes the change to the gateway product first. Existing
// subscriptions keep the price they were sold at.
func (s *Service) Update(ctx context.Context, id uint, in Input) (*memberships.Membership, error) {
	if err := s.normalize(&in); err != nil {
		return nil, err
	}
	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.slugTaken(ctx, in.Slug, id); err != nil {
		return nil, err
	}

	m.Name = in.Name
	m.Slug = in.Slug
	m.Description = in.Description
	m.EntryCost = in.EntryCost
	m.RecurringPrice = in.RecurringPrice
	m.Interval = in.Interval
	m.IsVisible = in.IsVisible
	m.IsPurchasable = in.IsPurchasable

	prod, err := s.gw.UpdateProduct(ctx, m.RemoteProductID, s.product(m))
	if err != nil {
		return nil, fmt.Errorf("update product for %s: %w", m.Slug, err)
	}
	if prod.ID != m.RemoteProductID {
		s.log.Info("membership bound to a new product", zap.Uint("id", m.ID),
			zap.String("old", m.RemoteProductID), zap.String("new", prod.ID))
	}
	m.RemoteProductID = prod.ID

	if err := s.db.WithContext(ctx).Save(m).Error; err != nil {
		return nil, fmt.Errorf("save membership %d: %w", id, err)
	}
	return m, nil
}

// Delete removes a membership and its product. It is refused, without any
// gateway call, while live subscriptions use the membership. Memberships
// with only past subscriptions are retired instead of removed.
func (s *Service) Delete(ctx context.Context, id uint) error {
	m, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	live, err := memberships.CountLiveSubscriptions(ctx, s.db, m.ID)
	if err != nil {
		return err
	}
	if live > 0 {
		return fmt.Errorf("%w: %d live", memberships.ErrMembershipInUse, live)
	}

	if err := s.gw.DeleteProduct(ctx, m.RemoteProductID); err != nil {
		return fmt.Errorf("delete product for %s: %w", m.Slug, err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		total, err := memberships.CountSubscriptions(ctx, tx, m.ID)
		if err != nil {
			return err
		}
		if total > 0 {
			return memberships.Retire(ctx, tx, m)
		}
		return tx.Delete(m).Error
	})
}

func (s *Service) Get(ctx context.Context, id uint) (*memberships.Membership, error) {
	var m memberships.Membership
	err := s.db.WithContext(ctx).First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// List returns every membership except the entry fee carrier.
func (s *Service) List(ctx context.Context) ([]memberships.Membership, error) {
	var out []memberships.Membership
	err := s.db.WithContext(ctx).Where("slug <> ?", memberships.EntryFeeSlug).Order("id").Find(&out).Error
	return out, err
}

func (s *Service) ListVisible(ctx context.Context) ([]memberships.Membership, error) {
	var out []memberships.Membership
	err := s.db.WithContext(ctx).
		Where("is_visible = ? AND slug <> ?", true, memberships.EntryFeeSlug).
		Order("recurring_price, id").
		Find(&out).Error
	return out, err
}

func (s *Service) GetBySlug(ctx context.Context, slugValue string) (*memberships.Membership, error) {
	var m memberships.Membership
	err := s.db.WithContext(ctx).
		Where("slug = ? AND is_visible = ? AND slug <> ?", slugValue, true, memberships.EntryFeeSlug).
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Service) Quote(m *memberships.Membership) billing.Quote {
	return s.fees.Quote(m.EntryCost, m.RecurringPrice)
}

// EnsureEntryFeeProduct makes sure the hidden membership carrying the entry
// fee product exists and is bound to a gateway product.
func (s *Service) EnsureEntryFeeProduct(ctx context.Context) (*memberships.Membership, error) {
	var m memberships.Membership
	err := s.db.WithContext(ctx).Where("slug = ?", memberships.EntryFeeSlug).Take(&m).Error
	switch {
	case err == nil:
		if m.RemoteProductID != "" && m.Name == s.feeName {
			return &m, nil
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		m = memberships.Membership{Slug: memberships.EntryFeeSlug, Interval: memberships.IntervalMonth}
	default:
		return nil, err
	}

	m.Name = s.feeName
	m.IsVisible = false
	m.IsPurchasable = false
	prod, err := s.gw.UpdateProduct(ctx, m.RemoteProductID, gateway.ProductInput{
		Name:     s.feeName,
		Metadata: map[string]string{"slug": memberships.EntryFeeSlug},
	})
	if err != nil {
		return nil, fmt.Errorf("entry fee product: %w", err)
	}
	m.RemoteProductID = prod.ID

	if err := s.db.WithContext(ctx).Save(&m).Error; err != nil {
		return nil, fmt.Errorf("save entry fee membership: %w", err)
	}
	s.log.Info("entry fee product ready", zap.String("product", m.RemoteProductID))
	return &m, nil
}

type PriceUpdate struct {
	SubscriptionIDs []uint               `json:"subscription_ids"`
	RecurringPrice  int64                `json:"recurring_price"`
	Interval        memberships.Interval `json:"interval"`
}

type PriceUpdateResult struct {
	Updated []string          `json:"updated"`
	Failed  map[string]string `json:"failed"`
}

// UpdateSubscriptionPrices reprices each selected subscription on the
// gateway and only then locally. One failure does not stop the others.
func (s *Service) UpdateSubscriptionPrices(ctx context.Context, in PriceUpdate) (PriceUpdateResult, error) {
	res := PriceUpdateResult{Updated: []string{}, Failed: map[string]string{}}
	if in.Interval == "" {
		in.Interval = memberships.IntervalMonth
	}
	if in.RecurringPrice < 0 || !in.Interval.Valid() {
		return res, fmt.Errorf("%w: bad price or interval", ErrInvalid)
	}
	if len(in.SubscriptionIDs) == 0 {
		return res, fmt.Errorf("%w: no subscriptions selected", ErrInvalid)
	}
	gross := s.fees.Gross(in.RecurringPrice)

	var subs []memberships.Subscription
	err := s.db.WithContext(ctx).Preload("Membership").Where("id IN ?", in.SubscriptionIDs).Find(&subs).Error
	if err != nil {
		return res, err
	}
	found := make(map[uint]bool, len(subs))

	for i := range subs {
		sub := &subs[i]
		found[sub.ID] = true
		ref := sub.RemoteSubscriptionID

		if sub.Membership == nil || sub.Membership.RemoteProductID == "" {
			res.Failed[ref] = "membership has no gateway product"
			continue
		}
		_, err := s.gw.UpdateSubscriptionPrice(ctx, ref, sub.Membership.RemoteProductID, gross, string(in.Interval))
		if err != nil {
			s.log.Warn("repricing subscription failed", zap.String("subscription", ref), zap.Error(err))
			res.Failed[ref] = "gateway update failed"
			continue
		}

		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Model(sub).Updates(map[string]interface{}{
				"recurring_price":    gross,
				"recurring_interval": in.Interval,
			}).Error
		})
		if err != nil {
			s.log.Error("subscription repriced remotely but not locally", zap.String("subscription", ref), zap.Error(err))
			res.Failed[ref] = "local update failed"
			continue
		}
		res.Updated = append(res.Updated, ref)
	}

	for _, id := range in.SubscriptionIDs {
		if !found[id] {
			res.Failed[strconv.FormatUint(uint64(id), 10)] = "subscription not found"
		}
	}
	return res, nil
}
