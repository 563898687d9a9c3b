package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/segyhp/installment-engine/internal/domain"
	"github.com/segyhp/installment-engine/internal/repository"
	customError "github.com/segyhp/installment-engine/pkg/errors"
	"github.com/segyhp/installment-engine/pkg/utils"
)

// Store is an in-process repository.Store for tests. Transactions are
// serialized and run against a copy of the data that replaces the live copy
// on commit. Writes made through Repos() outside a transaction are not
// isolated from a concurrent transaction and should only be used for seeding.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	data *memData
}

type memData struct {
	dues           map[uuid.UUID]domain.DuesBalance
	eligibility    map[uuid.UUID]domain.Eligibility
	plans          map[uuid.UUID]domain.InstallmentPlan
	payments       map[uuid.UUID]domain.InstallmentPayment
	charges        map[uuid.UUID]domain.ChargeRecord
	payoutAccounts map[uuid.UUID]domain.ConnectedPayoutAccount
	paymentMethods map[string]domain.PaymentMethod
}

func newMemData() *memData {
	return &memData{
		dues:           make(map[uuid.UUID]domain.DuesBalance),
		eligibility:    make(map[uuid.UUID]domain.Eligibility),
		plans:          make(map[uuid.UUID]domain.InstallmentPlan),
		payments:       make(map[uuid.UUID]domain.InstallmentPayment),
		charges:        make(map[uuid.UUID]domain.ChargeRecord),
		payoutAccounts: make(map[uuid.UUID]domain.ConnectedPayoutAccount),
		paymentMethods: make(map[string]domain.PaymentMethod),
	}
}

func (d *memData) clone() *memData {
	c := newMemData()
	for k, v := range d.dues {
		c.dues[k] = v
	}
	for k, v := range d.eligibility {
		v.AllowedPlanSizes = append([]int(nil), v.AllowedPlanSizes...)
		c.eligibility[k] = v
	}
	for k, v := range d.plans {
		c.plans[k] = v
	}
	for k, v := range d.payments {
		c.payments[k] = v
	}
	for k, v := range d.charges {
		c.charges[k] = v
	}
	for k, v := range d.payoutAccounts {
		c.payoutAccounts[k] = v
	}
	for k, v := range d.paymentMethods {
		c.paymentMethods[k] = v
	}
	return c
}

var _ repository.Store = (*Store)(nil)

func New() *Store {
	return &Store{data: newMemData()}
}

func (s *Store) Repos() repository.Repositories {
	return memRepositories(&memRepo{mu: &s.mu, data: func() *memData { return s.data }})
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	s.mu.Lock()
	working := s.data.clone()
	s.mu.Unlock()

	var txMu sync.Mutex
	repos := memRepositories(&memRepo{mu: &txMu, data: func() *memData { return working }})
	if err := fn(ctx, repos); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = working
	s.mu.Unlock()
	return nil
}

// memRepo implements every repository interface over one memData.
type memRepo struct {
	mu   *sync.Mutex
	data func() *memData
}

func memRepositories(r *memRepo) repository.Repositories {
	return repository.Repositories{
		Dues:           memDues{r},
		Eligibility:    memEligibility{r},
		Plans:          memPlans{r},
		Payments:       memPayments{r},
		Charges:        memCharges{r},
		PayoutAccounts: memPayoutAccounts{r},
		PaymentMethods: memPaymentMethods{r},
	}
}

func (r *memRepo) with(fn func(d *memData) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(r.data())
}

type memDues struct{ *memRepo }

func (r memDues) Create(_ context.Context, dues *domain.DuesBalance) error {
	return r.with(func(d *memData) error {
		if _, ok := d.dues[dues.ID]; ok {
			return fmt.Errorf("insert dues balance %s: duplicate id", dues.ID)
		}
		d.dues[dues.ID] = *dues
		return nil
	})
}

func (r memDues) GetByID(_ context.Context, id uuid.UUID) (*domain.DuesBalance, error) {
	var out *domain.DuesBalance
	err := r.with(func(d *memData) error {
		dues, ok := d.dues[id]
		if !ok {
			return fmt.Errorf("get dues balance %s: %w", id, customError.ErrDuesNotFound)
		}
		out = &dues
		return nil
	})
	return out, err
}

func (r memDues) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.DuesBalance, error) {
	return r.GetByID(ctx, id)
}

func (r memDues) Update(_ context.Context, dues *domain.DuesBalance) error {
	return r.with(func(d *memData) error {
		if _, ok := d.dues[dues.ID]; !ok {
			return fmt.Errorf("update dues balance %s: %w", dues.ID, customError.ErrDuesNotFound)
		}
		d.dues[dues.ID] = *dues
		return nil
	})
}

type memEligibility struct{ *memRepo }

func (r memEligibility) GetByDuesID(_ context.Context, duesID uuid.UUID) (*domain.Eligibility, error) {
	var out *domain.Eligibility
	err := r.with(func(d *memData) error {
		e, ok := d.eligibility[duesID]
		if !ok {
			return fmt.Errorf("get eligibility %s: %w", duesID, customError.ErrEligibilityNotFound)
		}
		e.AllowedPlanSizes = append([]int(nil), e.AllowedPlanSizes...)
		out = &e
		return nil
	})
	return out, err
}

func (r memEligibility) Upsert(_ context.Context, eligibility *domain.Eligibility) error {
	return r.with(func(d *memData) error {
		e := *eligibility
		e.AllowedPlanSizes = append([]int(nil), eligibility.AllowedPlanSizes...)
		d.eligibility[e.DuesID] = e
		return nil
	})
}

type memPlans struct{ *memRepo }

func (r memPlans) Create(_ context.Context, plan *domain.InstallmentPlan) error {
	return r.with(func(d *memData) error {
		if plan.Status == domain.PlanStatusActive {
			for _, existing := range d.plans {
				if existing.DuesID == plan.DuesID && existing.Status == domain.PlanStatusActive {
					return fmt.Errorf("insert plan for dues %s: %w", plan.DuesID, customError.ErrActivePlanExists)
				}
			}
		}
		d.plans[plan.ID] = *plan
		return nil
	})
}

func (r memPlans) GetByID(_ context.Context, id uuid.UUID) (*domain.InstallmentPlan, error) {
	var out *domain.InstallmentPlan
	err := r.with(func(d *memData) error {
		plan, ok := d.plans[id]
		if !ok {
			return fmt.Errorf("get plan %s: %w", id, customError.ErrPlanNotFound)
		}
		out = &plan
		return nil
	})
	return out, err
}

func (r memPlans) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.InstallmentPlan, error) {
	return r.GetByID(ctx, id)
}

func (r memPlans) GetActiveByDuesID(_ context.Context, duesID uuid.UUID) (*domain.InstallmentPlan, error) {
	var out *domain.InstallmentPlan
	err := r.with(func(d *memData) error {
		for _, plan := range d.plans {
			if plan.DuesID == duesID && plan.Status == domain.PlanStatusActive {
				out = &plan
				return nil
			}
		}
		return fmt.Errorf("get active plan for dues %s: %w", duesID, customError.ErrPlanNotFound)
	})
	return out, err
}

func (r memPlans) Update(_ context.Context, plan *domain.InstallmentPlan) error {
	return r.with(func(d *memData) error {
		if _, ok := d.plans[plan.ID]; !ok {
			return fmt.Errorf("update plan %s: %w", plan.ID, customError.ErrPlanNotFound)
		}
		d.plans[plan.ID] = *plan
		return nil
	})
}

func (r memPlans) ListNeedingAttention(_ context.Context, chapterID uuid.UUID) ([]*domain.InstallmentPlan, error) {
	var out []*domain.InstallmentPlan
	err := r.with(func(d *memData) error {
		for _, plan := range d.plans {
			if plan.ChapterID == chapterID && plan.NeedsAttention {
				p := plan
				out = append(out, &p)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, err
}

type memPayments struct{ *memRepo }

func (r memPayments) CreateBatch(_ context.Context, payments []*domain.InstallmentPayment) error {
	return r.with(func(d *memData) error {
		for _, payment := range payments {
			for _, existing := range d.payments {
				if existing.PlanID == payment.PlanID && existing.InstallmentNumber == payment.InstallmentNumber {
					return fmt.Errorf("insert installment %d: duplicate installment number", payment.InstallmentNumber)
				}
			}
			d.payments[payment.ID] = *payment
		}
		return nil
	})
}

func (r memPayments) GetByID(_ context.Context, id uuid.UUID) (*domain.InstallmentPayment, error) {
	var out *domain.InstallmentPayment
	err := r.with(func(d *memData) error {
		payment, ok := d.payments[id]
		if !ok {
			return fmt.Errorf("get payment %s: %w", id, customError.ErrPaymentNotFound)
		}
		out = &payment
		return nil
	})
	return out, err
}

func (r memPayments) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.InstallmentPayment, error) {
	return r.GetByID(ctx, id)
}

func (r memPayments) ListByPlanID(_ context.Context, planID uuid.UUID) ([]*domain.InstallmentPayment, error) {
	var out []*domain.InstallmentPayment
	err := r.with(func(d *memData) error {
		for _, payment := range d.payments {
			if payment.PlanID == planID {
				p := payment
				out = append(out, &p)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].InstallmentNumber < out[j].InstallmentNumber })
	return out, err
}

func (r memPayments) ListSweepCandidates(_ context.Context, now time.Time, maxAttempts int) ([]*domain.InstallmentPayment, error) {
	var out []*domain.InstallmentPayment
	err := r.with(func(d *memData) error {
		for _, payment := range d.payments {
			plan, ok := d.plans[payment.PlanID]
			if !ok || plan.Status != domain.PlanStatusActive {
				continue
			}

			due := payment.Status == domain.PaymentStatusScheduled && utils.IsDue(payment.ScheduledDate, now)
			retry := payment.Status == domain.PaymentStatusFailed &&
				payment.AttemptCount < maxAttempts &&
				payment.NextAttemptAt != nil && !payment.NextAttemptAt.After(now)
			if due || retry {
				p := payment
				out = append(out, &p)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].PlanID != out[j].PlanID {
			return out[i].PlanID.String() < out[j].PlanID.String()
		}
		return out[i].InstallmentNumber < out[j].InstallmentNumber
	})
	return out, err
}

func (r memPayments) Update(_ context.Context, payment *domain.InstallmentPayment) error {
	return r.with(func(d *memData) error {
		if _, ok := d.payments[payment.ID]; !ok {
			return fmt.Errorf("update payment %s: %w", payment.ID, customError.ErrPaymentNotFound)
		}
		d.payments[payment.ID] = *payment
		return nil
	})
}

type memCharges struct{ *memRepo }

func (r memCharges) Create(_ context.Context, charge *domain.ChargeRecord) error {
	return r.with(func(d *memData) error {
		if charge.ExternalChargeRef != nil {
			for _, existing := range d.charges {
				if existing.ExternalChargeRef != nil && *existing.ExternalChargeRef == *charge.ExternalChargeRef {
					return fmt.Errorf("insert charge record: duplicate external ref %s", *charge.ExternalChargeRef)
				}
			}
		}
		d.charges[charge.ID] = *charge
		return nil
	})
}

func (r memCharges) GetByExternalRef(_ context.Context, chargeRef string) (*domain.ChargeRecord, error) {
	var out *domain.ChargeRecord
	err := r.with(func(d *memData) error {
		for _, charge := range d.charges {
			if charge.ExternalChargeRef != nil && *charge.ExternalChargeRef == chargeRef {
				c := charge
				out = &c
				return nil
			}
		}
		return fmt.Errorf("get charge %s: %w", chargeRef, customError.ErrChargeNotFound)
	})
	return out, err
}

func (r memCharges) ListByPaymentID(_ context.Context, paymentID uuid.UUID) ([]*domain.ChargeRecord, error) {
	var out []*domain.ChargeRecord
	err := r.with(func(d *memData) error {
		for _, charge := range d.charges {
			if charge.PaymentID == paymentID {
				c := charge
				out = append(out, &c)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

func (r memCharges) Update(_ context.Context, charge *domain.ChargeRecord) error {
	return r.with(func(d *memData) error {
		if _, ok := d.charges[charge.ID]; !ok {
			return fmt.Errorf("update charge %s: %w", charge.ID, customError.ErrChargeNotFound)
		}
		d.charges[charge.ID] = *charge
		return nil
	})
}

type memPayoutAccounts struct{ *memRepo }

func (r memPayoutAccounts) GetByChapterID(_ context.Context, chapterID uuid.UUID) (*domain.ConnectedPayoutAccount, error) {
	var out *domain.ConnectedPayoutAccount
	err := r.with(func(d *memData) error {
		account, ok := d.payoutAccounts[chapterID]
		if !ok {
			return fmt.Errorf("get payout account %s: %w", chapterID, customError.ErrPayoutAccountNotFound)
		}
		out = &account
		return nil
	})
	return out, err
}

func (r memPayoutAccounts) Upsert(_ context.Context, account *domain.ConnectedPayoutAccount) error {
	return r.with(func(d *memData) error {
		d.payoutAccounts[account.ChapterID] = *account
		return nil
	})
}

type memPaymentMethods struct{ *memRepo }

func (r memPaymentMethods) Create(_ context.Context, method *domain.PaymentMethod) error {
	return r.with(func(d *memData) error {
		if _, ok := d.paymentMethods[method.Ref]; ok {
			return fmt.Errorf("insert payment method: duplicate ref")
		}
		d.paymentMethods[method.Ref] = *method
		return nil
	})
}

func (r memPaymentMethods) GetByRef(_ context.Context, ref string) (*domain.PaymentMethod, error) {
	var out *domain.PaymentMethod
	err := r.with(func(d *memData) error {
		method, ok := d.paymentMethods[ref]
		if !ok {
			return fmt.Errorf("get payment method: %w", customError.ErrPaymentMethodNotFound)
		}
		out = &method
		return nil
	})
	return out, err
}
