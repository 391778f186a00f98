//go:build integration

package test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"golang.org/x/crypto/bcrypt"

	"github.com/joao-fontenele/salesflow/internal/access"
	"github.com/joao-fontenele/salesflow/internal/auth"
	"github.com/joao-fontenele/salesflow/internal/catalog"
	"github.com/joao-fontenele/salesflow/internal/clients"
	"github.com/joao-fontenele/salesflow/internal/domain"
	"github.com/joao-fontenele/salesflow/internal/messaging"
	"github.com/joao-fontenele/salesflow/internal/orders"
	"github.com/joao-fontenele/salesflow/internal/reports"
	"github.com/joao-fontenele/salesflow/internal/store"
	"github.com/joao-fontenele/salesflow/internal/worker"
)

const tokenSecret = "integration-secret-0123456789abcdef"

type app struct {
	server   *httptest.Server
	accounts *auth.Accounts
	products *catalog.Repository
	catalog  *catalog.Service
	clients  *clients.Directory
	engine   *orders.Engine
	reports  *reports.Service
}

func newApp(t *testing.T, pg *PostgresSetup) *app {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	creds, err := auth.NewCredentials([]byte(tokenSecret), time.Hour)
	if err != nil {
		t.Fatalf("NewCredentials() error = %v", err)
	}
	accounts, err := auth.NewAccounts(auth.NewSellerRepository(pg.DB), creds, bcrypt.MinCost, logger)
	if err != nil {
		t.Fatalf("NewAccounts() error = %v", err)
	}

	products := catalog.NewRepository(pg.DB)
	clientRepo := clients.NewRepository(pg.DB)
	directory := clients.NewDirectory(clientRepo, logger)
	engine, err := orders.NewEngine(orders.NewOrderRepository(pg.DB), products, clientRepo, logger,
		orders.WithStoreTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	productSvc := catalog.NewService(products, logger)
	reportSvc := reports.NewService(reports.NewRepository(pg.DB), products, nil)

	authHandler := auth.NewHandler(accounts, logger)
	clientHandler := clients.NewHandler(directory, creds, logger)
	orderHandler := orders.NewHandler(engine, creds, logger)
	productHandler := catalog.NewHandler(productSvc, creds, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sellers", authHandler.HandleRegister)
	mux.HandleFunc("POST /login", authHandler.HandleLogin)
	mux.HandleFunc("POST /products", productHandler.HandleCreate)
	mux.HandleFunc("GET /products/{id}", productHandler.HandleGet)
	mux.HandleFunc("POST /clients", clientHandler.HandleCreate)
	mux.HandleFunc("GET /clients/{id}", clientHandler.HandleGet)
	mux.HandleFunc("POST /orders", orderHandler.HandleCreate)
	mux.HandleFunc("DELETE /orders/{id}", orderHandler.HandleDelete)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &app{
		server:   server,
		accounts: accounts,
		products: products,
		catalog:  productSvc,
		clients:  directory,
		engine:   engine,
		reports:  reportSvc,
	}
}

func (a *app) do(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req, err := http.NewRequest(method, a.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

// signUp registers a seller over HTTP and returns its token.
func (a *app) signUp(t *testing.T, email string) string {
	t.Helper()

	status := a.do(t, http.MethodPost, "/sellers", "", auth.RegisterInput{
		Name: "Test", Surname: "Seller", Email: email, Password: "correct horse",
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("register %s: status %d", email, status)
	}

	var login struct {
		Token string `json:"token"`
	}
	if status := a.do(t, http.MethodPost, "/login", "", auth.LoginInput{Email: email, Password: "correct horse"}, &login); status != http.StatusOK {
		t.Fatalf("login %s: status %d", email, status)
	}
	return login.Token
}

func (a *app) seller(t *testing.T, token string) access.Caller {
	t.Helper()
	seller, err := a.accounts.WhoAmI(context.Background(), token)
	if err != nil {
		t.Fatalf("WhoAmI() error = %v", err)
	}
	return access.AsSeller(seller.ID)
}

func (a *app) product(t *testing.T, name string, stock int, price int64) *domain.Product {
	t.Helper()
	p, err := a.catalog.Create(context.Background(), catalog.ProductInput{Name: name, Stock: stock, Price: price})
	if err != nil {
		t.Fatalf("create product %s: %v", name, err)
	}
	return p
}

func (a *app) client(t *testing.T, caller access.Caller, email string) *domain.Client {
	t.Helper()
	c, err := a.clients.Create(context.Background(), clients.ClientInput{
		Name: "Client", Surname: email, Email: email, Company: "Acme",
	}, caller)
	if err != nil {
		t.Fatalf("create client %s: %v", email, err)
	}
	return c
}

func (a *app) stock(t *testing.T, id string) int {
	t.Helper()
	p, err := a.products.Get(context.Background(), id)
	if err != nil || p == nil {
		t.Fatalf("get product %s: %v", id, err)
	}
	return p.Stock
}

func TestWidgetLifecycleOverHTTP(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	a := newApp(t, pg)

	token := a.signUp(t, "alice@example.com")
	widget := a.product(t, "Widget", 5, 1500)

	var client domain.Client
	if status := a.do(t, http.MethodPost, "/clients", token, clients.ClientInput{
		Name: "Acme", Surname: "Corp", Email: "buyer@acme.test", Company: "Acme",
	}, &client); status != http.StatusCreated {
		t.Fatalf("create client: status %d", status)
	}

	var first domain.Order
	status := a.do(t, http.MethodPost, "/orders", token, orders.OrderInput{
		ClientID: client.ID,
		Items:    []domain.LineItem{{ProductID: widget.ID, Quantity: 5}},
	}, &first)
	if status != http.StatusCreated {
		t.Fatalf("first order: status %d", status)
	}
	if first.Total != 7500 {
		t.Errorf("expected total 7500, got %d", first.Total)
	}
	if got := a.stock(t, widget.ID); got != 0 {
		t.Errorf("expected stock 0, got %d", got)
	}

	status = a.do(t, http.MethodPost, "/orders", token, orders.OrderInput{
		ClientID: client.ID,
		Items:    []domain.LineItem{{ProductID: widget.ID, Quantity: 1}},
	}, nil)
	if status != http.StatusConflict {
		t.Errorf("second order: expected status %d, got %d", http.StatusConflict, status)
	}
	if got := a.stock(t, widget.ID); got != 0 {
		t.Errorf("expected stock to stay 0, got %d", got)
	}

	if status := a.do(t, http.MethodDelete, "/orders/"+first.ID, token, nil, nil); status != http.StatusOK {
		t.Fatalf("delete order: status %d", status)
	}
	if got := a.stock(t, widget.ID); got != 5 {
		t.Errorf("expected stock 5 after delete, got %d", got)
	}
}

func TestClientOwnershipOverHTTP(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	a := newApp(t, pg)

	alice := a.signUp(t, "alice@example.com")
	bob := a.signUp(t, "bob@example.com")

	var acme domain.Client
	if status := a.do(t, http.MethodPost, "/clients", alice, clients.ClientInput{
		Name: "Acme", Surname: "Corp", Email: "acme@example.com", Company: "Acme",
	}, &acme); status != http.StatusCreated {
		t.Fatalf("create client: status %d", status)
	}

	if status := a.do(t, http.MethodGet, "/clients/"+acme.ID, bob, nil, nil); status != http.StatusForbidden {
		t.Errorf("bob reading alice's client: expected %d, got %d", http.StatusForbidden, status)
	}
	if status := a.do(t, http.MethodGet, "/clients/"+acme.ID, alice, nil, nil); status != http.StatusOK {
		t.Errorf("alice reading her client: expected %d, got %d", http.StatusOK, status)
	}
	if status := a.do(t, http.MethodGet, "/clients/"+acme.ID, "not-a-token", nil, nil); status != http.StatusUnauthorized {
		t.Errorf("bad token: expected %d, got %d", http.StatusUnauthorized, status)
	}

	// Duplicate seller email is rejected by the unique constraint.
	status := a.do(t, http.MethodPost, "/sellers", "", auth.RegisterInput{
		Name: "Again", Surname: "Alice", Email: "ALICE@example.com", Password: "another password",
	}, nil)
	if status != http.StatusConflict {
		t.Errorf("duplicate email: expected %d, got %d", http.StatusConflict, status)
	}
}

func TestConcurrentOrdersNeverOversell(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	a := newApp(t, pg)

	caller := a.seller(t, a.signUp(t, "alice@example.com"))
	client := a.client(t, caller, "buyer@example.com")
	const stock, buyers = 10, 40
	product := a.product(t, "Last units", stock, 100)

	var wg sync.WaitGroup
	var succeeded, refused atomic.Int64
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.engine.Create(ctx, orders.OrderInput{
				ClientID: client.ID,
				Items:    []domain.LineItem{{ProductID: product.ID, Quantity: 1}},
			}, caller)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				refused.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded.Load() != stock {
		t.Errorf("expected %d orders, got %d", stock, succeeded.Load())
	}
	if refused.Load() != buyers-stock {
		t.Errorf("expected %d refusals, got %d", buyers-stock, refused.Load())
	}
	if got := a.stock(t, product.ID); got != 0 {
		t.Errorf("expected stock 0, got %d", got)
	}

	mine, err := a.engine.ListMine(ctx, caller)
	if err != nil {
		t.Fatalf("ListMine() error = %v", err)
	}
	if len(mine) != stock {
		t.Errorf("expected %d stored orders, got %d", stock, len(mine))
	}
}

func TestUpdateAndCancelAdjustStock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	a := newApp(t, pg)

	caller := a.seller(t, a.signUp(t, "alice@example.com"))
	client := a.client(t, caller, "buyer@example.com")
	widget := a.product(t, "Widget", 10, 100)
	gadget := a.product(t, "Gadget", 10, 300)

	order, err := a.engine.Create(ctx, orders.OrderInput{
		ClientID: client.ID,
		Items:    []domain.LineItem{{ProductID: widget.ID, Quantity: 4}, {ProductID: gadget.ID, Quantity: 1}},
	}, caller)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	updated, err := a.engine.Update(ctx, order.ID, orders.OrderInput{
		ClientID: client.ID,
		Items:    []domain.LineItem{{ProductID: widget.ID, Quantity: 6}},
	}, caller)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Total != 600 {
		t.Errorf("expected total 600, got %d", updated.Total)
	}
	if a.stock(t, widget.ID) != 4 || a.stock(t, gadget.ID) != 10 {
		t.Errorf("after update: widget=%d gadget=%d", a.stock(t, widget.ID), a.stock(t, gadget.ID))
	}

	stored, err := a.engine.Get(ctx, order.ID, caller)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(stored.Items) != 1 || stored.Items[0].Quantity != 6 {
		t.Errorf("unexpected stored items %+v", stored.Items)
	}

	if _, err := a.engine.SetStatus(ctx, order.ID, domain.OrderStatusCancelled, caller); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	if got := a.stock(t, widget.ID); got != 10 {
		t.Errorf("expected widget stock 10 after cancel, got %d", got)
	}

	if err := a.engine.Delete(ctx, order.ID, caller); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got := a.stock(t, widget.ID); got != 10 {
		t.Errorf("expected widget stock 10 after deleting cancelled order, got %d", got)
	}
}

func TestTopClientsCountsCompletedOrdersOnly(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	a := newApp(t, pg)

	alice := a.seller(t, a.signUp(t, "alice@example.com"))
	bob := a.seller(t, a.signUp(t, "bob@example.com"))
	unit := a.product(t, "Unit", 2000, 1)

	place := func(caller access.Caller, client *domain.Client, amount int, status domain.OrderStatus) {
		t.Helper()
		order, err := a.engine.Create(ctx, orders.OrderInput{
			ClientID: client.ID,
			Items:    []domain.LineItem{{ProductID: unit.ID, Quantity: amount}},
		}, caller)
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if status != domain.OrderStatusPending {
			if _, err := a.engine.SetStatus(ctx, order.ID, status, caller); err != nil {
				t.Fatalf("SetStatus() error = %v", err)
			}
		}
	}

	big := a.client(t, alice, "big@example.com")
	mid := a.client(t, bob, "mid@example.com")
	small := a.client(t, alice, "small@example.com")

	place(alice, big, 100, domain.OrderStatusCompleted)
	place(bob, mid, 50, domain.OrderStatusCompleted)
	place(alice, small, 30, domain.OrderStatusCompleted)
	place(alice, small, 500, domain.OrderStatusPending)
	place(alice, small, 400, domain.OrderStatusCancelled)

	top, err := a.reports.TopClients(ctx, 2)
	if err != nil {
		t.Fatalf("TopClients() error = %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("expected 2 clients, got %d", len(top))
	}
	if top[0].Client.ID != big.ID || top[0].TotalSpend != 100 {
		t.Errorf("expected %s with 100 first, got %s with %d", big.ID, top[0].Client.ID, top[0].TotalSpend)
	}
	if top[1].Client.ID != mid.ID || top[1].TotalSpend != 50 {
		t.Errorf("expected %s with 50 second, got %s with %d", mid.ID, top[1].Client.ID, top[1].TotalSpend)
	}

	sellers, err := a.reports.TopSellers(ctx, 0)
	if err != nil {
		t.Fatalf("TopSellers() error = %v", err)
	}
	if len(sellers) != 2 || sellers[0].Seller.ID != alice.SellerID || sellers[0].TotalSpend != 130 {
		t.Errorf("unexpected seller ranking %+v", sellers)
	}
}

func TestSearchProductsRanksByName(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	a := newApp(t, pg)

	a.product(t, "Blue Widget", 1, 100)
	a.product(t, "Red Widget", 1, 100)
	a.product(t, "Gadget", 1, 100)

	found, err := a.reports.SearchProducts(ctx, "widget", 0)
	if err != nil {
		t.Fatalf("SearchProducts() error = %v", err)
	}
	if len(found) != 2 {
		t.Errorf("expected 2 widgets, got %+v", found)
	}

	found, err = a.reports.SearchProducts(ctx, "widget", 1)
	if err != nil {
		t.Fatalf("SearchProducts() error = %v", err)
	}
	if len(found) != 1 {
		t.Errorf("expected limit to apply, got %d", len(found))
	}
}

func TestDeferredReleaseIsAppliedOnce(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	brokers, cleanupKafka := SetupKafka(ctx, t)
	defer cleanupKafka()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := newApp(t, pg)
	widget := a.product(t, "Widget", 3, 100)

	producer := messaging.NewProducer(brokers, "stock.release")
	defer func() { _ = producer.Close() }()
	queue := messaging.NewReleaseQueue(producer)

	rel := domain.StockRelease{ID: store.NewID(), ProductID: widget.ID, Quantity: 4, Reason: "test", Timestamp: time.Now().UTC()}
	marker := domain.StockRelease{ID: store.NewID(), ProductID: widget.ID, Quantity: 1, Reason: "marker", Timestamp: time.Now().UTC()}
	for _, r := range []domain.StockRelease{rel, rel, marker} {
		if err := queue.Enqueue(ctx, r); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	reconciler, err := worker.NewReconciler(a.products, logger)
	if err != nil {
		t.Fatalf("NewReconciler() error = %v", err)
	}
	consumer := messaging.NewConsumer(brokers, "stock.release", "reconciler-test", logger,
		messaging.WithStartOffset(kafka.FirstOffset))
	defer func() { _ = consumer.Close() }()

	consumeCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = consumer.Consume(consumeCtx, reconciler.Handle) }()

	// The marker shares the partition, so once it lands both copies of rel
	// have been handled.
	deadline := time.Now().Add(90 * time.Second)
	for a.stock(t, widget.ID) < 8 && time.Now().Before(deadline) {
		time.Sleep(500 * time.Millisecond)
	}

	if got := a.stock(t, widget.ID); got != 8 {
		t.Errorf("expected stock 3+4+1=8, got %d", got)
	}
}
