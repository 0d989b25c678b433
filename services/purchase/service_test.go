package purchase

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"smallbiznis-cashback/pkg/config"
	"smallbiznis-cashback/pkg/errutil"
	"smallbiznis-cashback/pkg/middleware"
	"smallbiznis-cashback/services/account"
	"smallbiznis-cashback/services/ledger"
	"smallbiznis-cashback/services/notification"
	"smallbiznis-cashback/services/notification/mock_notification"
	"smallbiznis-cashback/services/rate"
	"smallbiznis-cashback/services/session"
	"smallbiznis-cashback/services/testutil"
	"smallbiznis-cashback/services/tier"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

const (
	tenantID      = "tenant-1"
	webhookSecret = "whsec_test"
)

type memorySessions struct {
	mu   sync.Mutex
	data map[string]session.Session
}

func (m *memorySessions) Create(_ context.Context, s *session.Session, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = "sess-" + s.LinkID
	s.ExpiresAt = time.Now().Add(ttl)
	m.data[s.ID] = *s
	return nil
}

func (m *memorySessions) Get(_ context.Context, id string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.data[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return &s, nil
}

func (m *memorySessions) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}

type fixture struct {
	db       *gorm.DB
	cfg      *config.Config
	svc      *Service
	rates    *rate.Service
	accounts *account.Service
	sessions *memorySessions
	storeA   *account.Store
	storeB   *account.Store
	customer *account.Customer
	card     *account.Card
}

func newFixture(t *testing.T, dispatcher notification.Dispatcher) *fixture {
	t.Helper()
	ctx := context.Background()

	models := append(append(append(rate.Models(), account.Models()...), ledger.Models()...), Models()...)
	db := testutil.NewTestDB(t, models...)
	node := testutil.NewNode(t)
	seq := testutil.NewSequence()

	cfg := &config.Config{}
	cfg.Ledger.PaymentLinkTTL = 10 * time.Minute
	cfg.Ledger.MaxSettlementAttempts = 3
	cfg.Stripe.WebhookSecret = webhookSecret
	cfg.RateLimit.RPS = 100
	cfg.RateLimit.Burst = 100

	repo := rate.NewRepository(db)
	cache := rate.NewRuleCache(time.Minute)
	resolver := rate.NewResolver(rate.ResolverParams{Repository: repo, Cache: cache})
	rates := rate.NewService(rate.ServiceParams{Repository: repo, Cache: cache, Node: node})
	require.NoError(t, rates.InitializeDefaults(ctx, tenantID))

	ledgerSvc := ledger.NewService(ledger.ServiceParams{
		DB:         db,
		Node:       node,
		Resolver:   resolver,
		Evaluator:  tier.NewEvaluator(tier.Params{Resolver: resolver}),
		Dispatcher: dispatcher,
	})

	sessions := &memorySessions{data: map[string]session.Session{}}
	accounts := account.NewService(account.ServiceParams{DB: db, Node: node, Sequence: seq})

	f := &fixture{
		db:       db,
		cfg:      cfg,
		rates:    rates,
		accounts: accounts,
		sessions: sessions,
		svc: NewService(ServiceParams{
			DB:         db,
			Node:       node,
			Config:     cfg,
			Sequence:   seq,
			Ledger:     ledgerSvc,
			Resolver:   resolver,
			Sessions:   sessions,
			Dispatcher: dispatcher,
		}),
	}

	var err error
	f.storeA, err = accounts.CreateStore(ctx, tenantID, "Main Street")
	require.NoError(t, err)
	f.storeB, err = accounts.CreateStore(ctx, tenantID, "Harbour")
	require.NoError(t, err)
	f.customer, err = accounts.CreateCustomer(ctx, account.CreateCustomerParams{TenantID: tenantID, Name: "Ana", Tier: rate.DefaultTier})
	require.NoError(t, err)

	card, err := accounts.IssueCard(ctx, tenantID)
	require.NoError(t, err)
	f.card, err = accounts.ActivateCard(ctx, tenantID, card.Code, f.customer.ID, f.storeA.ID)
	require.NoError(t, err)
	return f
}

func (f *fixture) create(t *testing.T, kind Kind, method PaymentMethod, amount int64, withCard bool) (*PurchaseTransaction, *PaymentLinkToken) {
	t.Helper()
	p := CreatePurchaseParams{
		TenantID:      tenantID,
		StoreID:       f.storeA.ID,
		ActorID:       "cashier-1",
		ActorRole:     ledger.RoleCashier,
		Amount:        amount,
		Kind:          kind,
		PaymentMethod: method,
	}
	if withCard {
		p.CardCode = f.card.Code
	}
	purchase, token, err := f.svc.CreatePendingPurchase(context.Background(), p)
	require.NoError(t, err)
	return purchase, token
}

func (f *fixture) state(t *testing.T, purchaseID string) (*PurchaseTransaction, *account.Card, *account.Customer, int64) {
	t.Helper()

	var p PurchaseTransaction
	require.NoError(t, f.db.First(&p, "id = ?", purchaseID).Error)
	var card account.Card
	require.NoError(t, f.db.First(&card, "id = ?", f.card.ID).Error)
	var customer account.Customer
	require.NoError(t, f.db.First(&customer, "id = ?", f.customer.ID).Error)
	var rows int64
	require.NoError(t, f.db.Model(&ledger.Transaction{}).Where("card_id = ?", f.card.ID).Count(&rows).Error)
	return &p, &card, &customer, rows
}

func TestCreatePendingPurchase_PrecomputesCashback(t *testing.T) {
	f := newFixture(t, nil)

	purchase, token := f.create(t, KindRegular, MethodCash, 5000, true)
	require.Nil(t, token)
	require.Equal(t, StatusPending, purchase.Status)
	require.Equal(t, int64(150), purchase.CashbackAmount)
	require.Equal(t, int64(300), purchase.RateBps)
	require.Equal(t, "PURCHASE", purchase.Category)
	require.Equal(t, f.card.ID, *purchase.CardID)
	require.Equal(t, f.customer.ID, *purchase.CustomerID)

	_, card, customer, rows := f.state(t, purchase.ID)
	require.Zero(t, card.Balance)
	require.Zero(t, customer.TotalSpend)
	require.Zero(t, rows)
}

func TestCreatePendingPurchase_Validation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, _, err := f.svc.CreatePendingPurchase(ctx, CreatePurchaseParams{
		TenantID: tenantID, StoreID: f.storeA.ID, Amount: 100, Kind: KindStoreCredit, PaymentMethod: MethodCash,
	})
	require.Equal(t, errutil.StatusBadRequest, errutil.StatusOf(err))

	_, _, err = f.svc.CreatePendingPurchase(ctx, CreatePurchaseParams{
		TenantID: tenantID, StoreID: f.storeA.ID, Amount: 0, PaymentMethod: MethodCash,
	})
	require.Equal(t, errutil.StatusBadRequest, errutil.StatusOf(err))

	_, _, err = f.svc.CreatePendingPurchase(ctx, CreatePurchaseParams{
		TenantID: tenantID, StoreID: "store-x", Amount: 100, PaymentMethod: MethodCash,
	})
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))

	_, _, err = f.svc.CreatePendingPurchase(ctx, CreatePurchaseParams{
		TenantID: tenantID, StoreID: f.storeB.ID, CardCode: f.card.Code, ActorRole: ledger.RoleCashier,
		Amount: 100, PaymentMethod: MethodCash,
	})
	require.Equal(t, errutil.StatusPolicyViolation, errutil.StatusOf(err))

	var n int64
	require.NoError(t, f.db.Model(&PurchaseTransaction{}).Count(&n).Error)
	require.Zero(t, n)
}

func TestConfirm_ConcurrentConfirmationsApplyOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.rates.UpsertCashbackRule(ctx, tenantID, "PURCHASE", 500, true)
	require.NoError(t, err)

	purchase, _ := f.create(t, KindRegular, MethodCash, 5000, true)
	require.Equal(t, int64(250), purchase.CashbackAmount)

	results := make([]*ConfirmResult, 2)
	var g errgroup.Group
	for i := range results {
		g.Go(func() error {
			res, err := f.svc.ConfirmCash(ctx, tenantID, purchase.ID, "cashier-1")
			results[i] = res
			return err
		})
	}
	require.NoError(t, g.Wait())

	outcomes := []Outcome{results[0].Outcome, results[1].Outcome}
	require.ElementsMatch(t, []Outcome{OutcomeApplied, OutcomeAlreadyProcessed}, outcomes)

	p, card, customer, rows := f.state(t, purchase.ID)
	require.Equal(t, StatusCompleted, p.Status)
	require.Equal(t, SettlementSettled, p.Settlement)
	require.NotNil(t, p.TransactionID)
	require.Equal(t, int64(250), card.Balance)
	require.Equal(t, int64(5000), customer.TotalSpend)
	require.Equal(t, int64(1), rows)

	var row ledger.Transaction
	require.NoError(t, f.db.First(&row, "id = ?", *p.TransactionID).Error)
	require.Equal(t, ledger.TypeEarn, row.Type)
	require.Equal(t, ledger.PurchaseReference(purchase.ID), *row.ReferenceID)
}

func TestConfirm_CallerReferenceCannotBlockSettlement(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	purchase, _ := f.create(t, KindRegular, MethodCash, 5000, true)

	apply := func(ref string) error {
		_, err := f.svc.ledger.ApplyTransaction(ctx, ledger.ApplyParams{
			TenantID:    tenantID,
			CardCode:    f.card.Code,
			StoreID:     f.storeA.ID,
			ActorID:     "cashier-1",
			ActorRole:   ledger.RoleCashier,
			Type:        ledger.TypeAdjust,
			Amount:      100,
			ReferenceID: ref,
		})
		return err
	}

	// the raw purchase id is an ordinary caller key
	require.NoError(t, apply(purchase.ID))
	require.Equal(t, errutil.StatusBadRequest, errutil.StatusOf(apply(ledger.PurchaseReference(purchase.ID))))
	require.Equal(t, errutil.StatusBadRequest, errutil.StatusOf(apply("PURCHASE:"+purchase.ID)))

	res, err := f.svc.ConfirmCash(ctx, tenantID, purchase.ID, "cashier-1")
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, res.Outcome)

	p, card, customer, rows := f.state(t, purchase.ID)
	require.Equal(t, StatusCompleted, p.Status)
	require.Equal(t, SettlementSettled, p.Settlement)
	require.Equal(t, int64(250), card.Balance)
	require.Equal(t, int64(5000), customer.TotalSpend)
	require.Equal(t, int64(2), rows)
}

func TestConfirm_PaymentLinkSingleUse(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	purchase, token := f.create(t, KindRegular, MethodQRPayment, 10000, true)
	require.NotNil(t, token)
	require.Equal(t, "/v1/pay/"+token.Token, token.Path)

	var link PaymentLink
	require.NoError(t, f.db.First(&link, "purchase_id = ?", purchase.ID).Error)
	require.Equal(t, HashToken(token.Token), link.TokenHash)
	require.NotEqual(t, token.Token, link.TokenHash)

	res, err := f.svc.ConfirmPaymentLink(ctx, token.Token)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, res.Outcome)
	require.True(t, res.Tier.Changed)
	require.Equal(t, "GOLD", res.Tier.Tier)

	res, err = f.svc.ConfirmPaymentLink(ctx, token.Token)
	require.NoError(t, err)
	require.Equal(t, OutcomeAlreadyProcessed, res.Outcome)

	res, err = f.svc.ConfirmCash(ctx, tenantID, purchase.ID, "cashier-1")
	require.NoError(t, err)
	require.Equal(t, OutcomeAlreadyProcessed, res.Outcome)

	_, card, customer, rows := f.state(t, purchase.ID)
	require.Equal(t, int64(300), card.Balance)
	require.Equal(t, int64(10000), customer.TotalSpend)
	require.Equal(t, "GOLD", customer.Tier)
	require.Equal(t, int64(1), rows)

	_, err = f.svc.ConfirmPaymentLink(ctx, "unknown")
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))
}

func TestConfirm_ExpiredLinkIsNoop(t *testing.T) {
	f := newFixture(t, nil)
	purchase, token := f.create(t, KindRegular, MethodQRPayment, 1000, true)

	f.svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	res, err := f.svc.ConfirmPaymentLink(context.Background(), token.Token)
	require.NoError(t, err)
	require.Equal(t, OutcomeExpired, res.Outcome)

	p, card, _, rows := f.state(t, purchase.ID)
	require.Equal(t, StatusPending, p.Status)
	require.Zero(t, card.Balance)
	require.Zero(t, rows)

	_, err = f.svc.OpenPaymentLink(context.Background(), token.Token)
	require.Equal(t, errutil.StatusInvalidState, errutil.StatusOf(err))
}

func TestConfirm_StoreCreditTopUp(t *testing.T) {
	f := newFixture(t, nil)

	purchase, _ := f.create(t, KindStoreCredit, MethodCard, 2000, true)
	require.Zero(t, purchase.CashbackAmount)

	res, err := f.svc.ConfirmCash(context.Background(), tenantID, purchase.ID, "cashier-1")
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, res.Outcome)
	require.Equal(t, ledger.TypeAdjust, res.Transaction.Type)
	require.Equal(t, int64(2000), res.Transaction.Amount)
	require.False(t, res.Tier.Changed)

	_, card, customer, rows := f.state(t, purchase.ID)
	require.Equal(t, int64(2000), card.Balance)
	require.Zero(t, customer.TotalSpend)
	require.Equal(t, rate.DefaultTier, customer.Tier)
	require.Equal(t, int64(1), rows)
}

func TestConfirm_WithoutCardIsNotApplicable(t *testing.T) {
	f := newFixture(t, nil)
	purchase, _ := f.create(t, KindRegular, MethodCash, 1000, false)
	require.Zero(t, purchase.CashbackAmount)

	res, err := f.svc.ConfirmCash(context.Background(), tenantID, purchase.ID, "cashier-1")
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, res.Outcome)
	require.Nil(t, res.Transaction)
	require.Equal(t, SettlementNotApplicable, res.Purchase.Settlement)
}

func TestConfirm_TenantMismatch(t *testing.T) {
	f := newFixture(t, nil)
	purchase, _ := f.create(t, KindRegular, MethodCash, 1000, true)

	_, err := f.svc.ConfirmCash(context.Background(), "tenant-2", purchase.ID, "cashier-1")
	require.Equal(t, errutil.StatusUnauthorized, errutil.StatusOf(err))

	p, _, _, _ := f.state(t, purchase.ID)
	require.Equal(t, StatusPending, p.Status)
}

func TestConfirm_MissingCardIsUnsettledThenSwept(t *testing.T) {
	ctrl := gomock.NewController(t)
	dispatcher := mock_notification.NewMockDispatcher(ctrl)

	var (
		mu     sync.Mutex
		events []notification.Event
	)
	dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e notification.Event) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
		return nil
	}).AnyTimes()

	f := newFixture(t, dispatcher)
	ctx := context.Background()
	purchase, _ := f.create(t, KindRegular, MethodCash, 5000, true)

	card := *f.card
	require.NoError(t, f.db.Delete(&account.Card{}, "id = ?", card.ID).Error)

	res, err := f.svc.ConfirmCash(ctx, tenantID, purchase.ID, "cashier-1")
	require.NoError(t, err)
	require.Equal(t, OutcomeUnsettled, res.Outcome)
	require.Equal(t, StatusCompleted, res.Purchase.Status)
	require.Equal(t, SettlementUnsettled, res.Purchase.Settlement)
	require.Equal(t, 1, res.Purchase.SettlementAttempts)

	require.Len(t, events, 1)
	require.Equal(t, notification.KindPurchaseUnsettled, events[0].Kind)
	require.Equal(t, purchase.ID, events[0].PurchaseID)

	n, err := f.svc.RetryUnsettled(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Len(t, events, 2)

	require.NoError(t, f.db.Create(&card).Error)

	n, err = f.svc.RetryUnsettled(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	p, c, customer, rows := f.state(t, purchase.ID)
	require.Equal(t, SettlementSettled, p.Settlement)
	require.Equal(t, int64(150), c.Balance)
	require.Equal(t, int64(5000), customer.TotalSpend)
	require.Equal(t, int64(1), rows)
	require.Equal(t, notification.KindCashbackEarned, events[len(events)-1].Kind)

	n, err = f.svc.RetryUnsettled(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRetryUnsettled_StopsAfterMaxAttempts(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	purchase, _ := f.create(t, KindRegular, MethodCash, 5000, true)
	require.NoError(t, f.db.Delete(&account.Card{}, "id = ?", f.card.ID).Error)

	_, err := f.svc.ConfirmCash(ctx, tenantID, purchase.ID, "cashier-1")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := f.svc.RetryUnsettled(ctx)
		require.NoError(t, err)
	}

	var p PurchaseTransaction
	require.NoError(t, f.db.First(&p, "id = ?", purchase.ID).Error)
	require.Equal(t, f.cfg.Ledger.MaxSettlementAttempts, p.SettlementAttempts)
}

func TestCheckoutSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	purchase, token := f.create(t, KindRegular, MethodQRPayment, 1000, true)

	checkout, err := f.svc.OpenPaymentLink(ctx, token.Token)
	require.NoError(t, err)
	require.Equal(t, purchase.ID, checkout.Purchase.ID)
	require.NotEmpty(t, checkout.SessionID)

	res, err := f.svc.ConfirmCheckoutSession(ctx, checkout.SessionID)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, res.Outcome)

	_, err = f.svc.ConfirmCheckoutSession(ctx, checkout.SessionID)
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))

	_, err = f.svc.OpenPaymentLink(ctx, token.Token)
	require.Equal(t, errutil.StatusInvalidState, errutil.StatusOf(err))

	_, card, _, rows := f.state(t, purchase.ID)
	require.Equal(t, int64(30), card.Balance)
	require.Equal(t, int64(1), rows)
}

func (f *fixture) router() *gin.Engine {
	r := gin.New()
	r.Use(middleware.Error(), middleware.Channel())
	RegisterRoutes(r, NewHandler(f.svc, f.cfg), NewWebhookHandler(f.svc, f.cfg))
	return r
}

func stripeEvent(t *testing.T, eventType string, object map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"id":          "evt_test_1",
		"object":      "event",
		"type":        eventType,
		"api_version": "2020-08-27",
		"data":        map[string]any{"object": object},
	})
	require.NoError(t, err)
	return b
}

func postWebhook(r http.Handler, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signature)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStripeWebhook_CheckoutSessionCompleted(t *testing.T) {
	f := newFixture(t, nil)
	r := f.router()
	purchase, _ := f.create(t, KindRegular, MethodCard, 10000, true)

	payload := stripeEvent(t, "checkout.session.completed", map[string]any{
		"id":                  "cs_test_1",
		"object":              "checkout.session",
		"client_reference_id": purchase.ID,
	})
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    webhookSecret,
		Timestamp: time.Now(),
	})

	w := postWebhook(r, payload, signed.Header)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), string(OutcomeApplied))

	w = postWebhook(r, payload, signed.Header)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), string(OutcomeAlreadyProcessed))

	p, card, _, rows := f.state(t, purchase.ID)
	require.Equal(t, StatusCompleted, p.Status)
	require.Equal(t, "cs_test_1", *p.ProcessorRef)
	require.Equal(t, int64(300), card.Balance)
	require.Equal(t, int64(1), rows)
}

func TestStripeWebhook_PaymentIntentSucceeded(t *testing.T) {
	f := newFixture(t, nil)
	r := f.router()
	purchase, _ := f.create(t, KindStoreCredit, MethodCard, 2000, true)

	payload := stripeEvent(t, "payment_intent.succeeded", map[string]any{
		"id":       "pi_test_1",
		"object":   "payment_intent",
		"metadata": map[string]string{"purchase_id": purchase.ID},
	})
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    webhookSecret,
		Timestamp: time.Now(),
	})

	w := postWebhook(r, payload, signed.Header)
	require.Equal(t, http.StatusOK, w.Code)

	_, card, _, _ := f.state(t, purchase.ID)
	require.Equal(t, int64(2000), card.Balance)
}

func TestStripeWebhook_RejectsBadSignature(t *testing.T) {
	f := newFixture(t, nil)
	r := f.router()

	payload := stripeEvent(t, "payment_intent.succeeded", map[string]any{"id": "pi_test_1", "object": "payment_intent"})
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_other",
		Timestamp: time.Now(),
	})

	w := postWebhook(r, payload, signed.Header)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStripeWebhook_IgnoresUnknownEventsAndPurchases(t *testing.T) {
	f := newFixture(t, nil)
	r := f.router()

	for _, payload := range [][]byte{
		stripeEvent(t, "invoice.paid", map[string]any{"id": "in_1", "object": "invoice"}),
		stripeEvent(t, "payment_intent.succeeded", map[string]any{
			"id": "pi_2", "object": "payment_intent", "metadata": map[string]string{"purchase_id": "nope"},
		}),
	} {
		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload:   payload,
			Secret:    webhookSecret,
			Timestamp: time.Now(),
		})
		w := postWebhook(r, payload, signed.Header)
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestHandler_CreateAndConfirm(t *testing.T) {
	f := newFixture(t, nil)
	r := f.router()

	body := bytes.NewBufferString(`{"card_code":"` + f.card.Code + `","amount":10000,"payment_method":"qr_payment"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/purchases", body)
	req.Header.Set("X-Tenant-ID", tenantID)
	req.Header.Set("X-Store-ID", f.storeA.ID)
	req.Header.Set("X-Actor-ID", "cashier-1")
	req.Header.Set("X-Actor-Role", "cashier")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		Purchase    PurchaseTransaction `json:"purchase"`
		PaymentLink PaymentLinkToken    `json:"payment_link"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.Equal(t, int64(300), created.Purchase.CashbackAmount)

	req = httptest.NewRequest(http.MethodPost, created.PaymentLink.Path+"/confirm", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Contains(t, w.Body.String(), string(OutcomeApplied))

	req = httptest.NewRequest(http.MethodPost, "/v1/purchases", bytes.NewBufferString(`{"amount":1,"payment_method":"CASH"}`))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
