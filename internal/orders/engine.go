package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/salesflow/internal/access"
	"github.com/joao-fontenele/salesflow/internal/domain"
	"github.com/joao-fontenele/salesflow/internal/store"
)

var (
	tracer = otel.Tracer("orders/engine")
	meter  = otel.Meter("orders/engine")
)

// maxAttempts bounds optimistic retries when another writer bumps an order's
// version between our read and our write.
const maxAttempts = 3

// maxQuantity is the largest quantity the stock column can hold.
const maxQuantity = math.MaxInt32

var errConcurrentModification = fmt.Errorf("%w: order modified concurrently", domain.ErrStoreUnavailable)

// Catalog is the stock side of the engine. Reserve must check and decrement
// in one indivisible store operation.
type Catalog interface {
	Get(ctx context.Context, id string) (*domain.Product, error)
	Reserve(ctx context.Context, productID string, quantity int) (bool, error)
	Release(ctx context.Context, productID string, quantity int) error
}

// ClientLookup resolves clients without applying ownership; the engine does
// that itself.
type ClientLookup interface {
	Get(ctx context.Context, id string) (*domain.Client, error)
}

type Store interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	List(ctx context.Context) ([]domain.Order, error)
	ListBySeller(ctx context.Context, sellerID string, status domain.OrderStatus) ([]domain.Order, error)
	ReplaceItems(ctx context.Context, order *domain.Order) (bool, error)
	SetStatus(ctx context.Context, order *domain.Order, next domain.OrderStatus) (bool, error)
	Delete(ctx context.Context, order *domain.Order) (bool, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// ReleaseQueue accepts stock releases that failed inline so a reconciler can
// apply them later.
type ReleaseQueue interface {
	Enqueue(ctx context.Context, rel domain.StockRelease) error
}

type Option func(*Engine)

func WithEvents(p EventPublisher) Option {
	return func(e *Engine) { e.events = p }
}

func WithReleaseQueue(q ReleaseQueue) Option {
	return func(e *Engine) { e.releases = q }
}

// WithStoreTimeout bounds the stock-mutating section of each operation,
// which runs detached from caller cancellation.
func WithStoreTimeout(d time.Duration) Option {
	return func(e *Engine) { e.storeTimeout = d }
}

type instruments struct {
	created         metric.Int64Counter
	rejected        metric.Int64Counter
	releasesQueued  metric.Int64Counter
	releasesDropped metric.Int64Counter
}

func newInstruments() (instruments, error) {
	var ins instruments
	var err error
	if ins.created, err = meter.Int64Counter("salesflow.orders.created",
		metric.WithDescription("Orders committed")); err != nil {
		return ins, err
	}
	if ins.rejected, err = meter.Int64Counter("salesflow.stock.reservations.rejected",
		metric.WithDescription("Reservations refused for insufficient stock")); err != nil {
		return ins, err
	}
	if ins.releasesQueued, err = meter.Int64Counter("salesflow.stock.releases.deferred",
		metric.WithDescription("Stock releases handed to the reconciler")); err != nil {
		return ins, err
	}
	if ins.releasesDropped, err = meter.Int64Counter("salesflow.stock.releases.lost",
		metric.WithDescription("Stock releases that could neither be applied nor deferred")); err != nil {
		return ins, err
	}
	return ins, nil
}

// Engine validates and commits orders against the catalog, enforcing stock
// and ownership, and drives the order status machine.
type Engine struct {
	store        Store
	catalog      Catalog
	clients      ClientLookup
	events       EventPublisher
	releases     ReleaseQueue
	storeTimeout time.Duration
	logger       *slog.Logger
	metrics      instruments
	now          func() time.Time
	newID        func() string
}

func NewEngine(st Store, catalog Catalog, clients ClientLookup, logger *slog.Logger, opts ...Option) (*Engine, error) {
	ins, err := newInstruments()
	if err != nil {
		return nil, fmt.Errorf("create order metrics: %w", err)
	}

	e := &Engine{
		store:        st,
		catalog:      catalog,
		clients:      clients,
		storeTimeout: 5 * time.Second,
		logger:       logger,
		metrics:      ins,
		now:          time.Now,
		newID:        store.NewID,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

type OrderInput struct {
	ClientID string            `json:"client_id"`
	Items    []domain.LineItem `json:"items"`
}

func (in OrderInput) validate() error {
	if in.ClientID == "" {
		return domain.Invalid("client_id", "required")
	}
	if len(in.Items) == 0 {
		return domain.Invalid("items", "at least one line item is required")
	}
	for _, it := range in.Items {
		if it.ProductID == "" {
			return domain.Invalid("items.product_id", "required")
		}
		if it.Quantity <= 0 {
			return domain.Invalid("items.quantity", "must be positive")
		}
		if it.Quantity > maxQuantity {
			return domain.Invalid("items.quantity", fmt.Sprintf("must not exceed %d", maxQuantity))
		}
	}
	return nil
}

// Create reserves stock for every line item and persists a PENDING order.
// Either every reservation holds and the order is stored, or none holds.
func (e *Engine) Create(ctx context.Context, in OrderInput, caller access.Caller) (_ *domain.Order, err error) {
	ctx, span := tracer.Start(ctx, "orders.create", trace.WithAttributes(attribute.String("client.id", in.ClientID)))
	defer func() { endSpan(span, err) }()

	if err := access.Require(caller); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	client, err := e.clients.Get(ctx, in.ClientID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, domain.NewNotFound("client", in.ClientID)
	}
	if err := access.Authorize(caller, client.SellerID); err != nil {
		return nil, err
	}

	items, err := e.price(ctx, in.Items)
	if err != nil {
		return nil, err
	}

	order := &domain.Order{
		ClientID:  client.ID,
		SellerID:  client.SellerID,
		Items:     items,
		Total:     total(items),
		Status:    domain.OrderStatusPending,
		CreatedAt: e.now().UTC(),
	}

	opCtx, cancel := e.detached(ctx)
	defer cancel()

	if err := e.reserve(ctx, opCtx, "", items); err != nil {
		return nil, err
	}

	if err := e.store.Create(opCtx, order); err != nil {
		e.logger.Error("failed to persist order, releasing stock", "error", err, "client_id", client.ID)
		e.release(opCtx, "", items, "order persist failed")
		return nil, err
	}

	e.metrics.created.Add(opCtx, 1)
	e.logger.Info("order created", "order_id", order.ID, "seller_id", order.SellerID, "total", order.Total)
	e.publish(opCtx, domain.OrderCreated, order)
	return order, nil
}

// Update replaces the client and line items of a PENDING order. Stock is
// adjusted by the per-product difference between old and new items, which
// is the same as releasing the old reservation and reserving the new one.
func (e *Engine) Update(ctx context.Context, id string, in OrderInput, caller access.Caller) (_ *domain.Order, err error) {
	ctx, span := tracer.Start(ctx, "orders.update", trace.WithAttributes(attribute.String("order.id", id)))
	defer func() { endSpan(span, err) }()

	if err := in.validate(); err != nil {
		return nil, err
	}

	opCtx, cancel := e.detached(ctx)
	defer cancel()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		order, err := e.store.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if order == nil {
			return nil, domain.NewNotFound("order", id)
		}

		client, err := e.clients.Get(ctx, in.ClientID)
		if err != nil {
			return nil, err
		}
		if client == nil {
			return nil, domain.NewNotFound("client", in.ClientID)
		}

		if err := access.Authorize(caller, order.SellerID); err != nil {
			return nil, err
		}
		if err := access.Authorize(caller, client.SellerID); err != nil {
			return nil, err
		}
		if order.Status != domain.OrderStatusPending {
			return nil, fmt.Errorf("%w: order is %s", domain.ErrInvalidTransition, order.Status)
		}

		items, err := e.price(ctx, in.Items)
		if err != nil {
			return nil, err
		}

		grow, shrink := diff(order.Items, items)
		if err := e.reserve(ctx, opCtx, order.ID, grow); err != nil {
			return nil, err
		}

		previous := order.Items
		order.ClientID = client.ID
		order.Items = items
		order.Total = total(items)

		ok, err := e.store.ReplaceItems(opCtx, order)
		if err != nil {
			e.release(opCtx, order.ID, grow, "order update persist failed")
			return nil, err
		}
		if !ok {
			e.release(opCtx, order.ID, grow, "order update lost race")
			e.logger.Info("order changed during update, retrying", "order_id", id, "attempt", attempt+1)
			continue
		}

		e.release(opCtx, order.ID, shrink, "order update returned stock")
		e.logger.Info("order updated", "order_id", order.ID, "previous_items", len(previous), "items", len(items), "total", order.Total)
		e.publish(opCtx, domain.OrderUpdated, order)
		return order, nil
	}

	return nil, errConcurrentModification
}

// SetStatus moves a PENDING order to COMPLETED or CANCELLED. Cancelling
// returns the order's stock to the catalog.
func (e *Engine) SetStatus(ctx context.Context, id string, next domain.OrderStatus, caller access.Caller) (_ *domain.Order, err error) {
	ctx, span := tracer.Start(ctx, "orders.set_status", trace.WithAttributes(
		attribute.String("order.id", id),
		attribute.String("order.status", string(next)),
	))
	defer func() { endSpan(span, err) }()

	if !next.Valid() {
		return nil, domain.Invalid("status", fmt.Sprintf("unknown status %q", next))
	}

	opCtx, cancel := e.detached(ctx)
	defer cancel()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		order, err := e.load(ctx, id, caller)
		if err != nil {
			return nil, err
		}
		if !order.Status.CanTransition(next) {
			return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, order.Status, next)
		}

		ok, err := e.store.SetStatus(opCtx, order, next)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		if next == domain.OrderStatusCancelled {
			e.release(opCtx, order.ID, order.Items, "order cancelled")
		}

		e.logger.Info("order status changed", "order_id", order.ID, "status", order.Status)
		e.publish(opCtx, domain.OrderStatusChanged, order)
		return order, nil
	}

	return nil, errConcurrentModification
}

// Delete removes the order and returns any stock it still holds.
func (e *Engine) Delete(ctx context.Context, id string, caller access.Caller) (err error) {
	ctx, span := tracer.Start(ctx, "orders.delete", trace.WithAttributes(attribute.String("order.id", id)))
	defer func() { endSpan(span, err) }()

	opCtx, cancel := e.detached(ctx)
	defer cancel()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		order, err := e.load(ctx, id, caller)
		if err != nil {
			return err
		}

		ok, err := e.store.Delete(opCtx, order)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		if order.Status.HoldsStock() {
			e.release(opCtx, order.ID, order.Items, "order deleted")
		}

		e.logger.Info("order deleted", "order_id", order.ID, "status", order.Status)
		e.publish(opCtx, domain.OrderDeleted, order)
		return nil
	}

	return errConcurrentModification
}

func (e *Engine) Get(ctx context.Context, id string, caller access.Caller) (*domain.Order, error) {
	return e.load(ctx, id, caller)
}

// ListAll is the unscoped administrative listing; callers must gate it
// behind an admin check.
func (e *Engine) ListAll(ctx context.Context) ([]domain.Order, error) {
	return e.store.List(ctx)
}

func (e *Engine) ListMine(ctx context.Context, caller access.Caller) ([]domain.Order, error) {
	if err := access.Require(caller); err != nil {
		return nil, err
	}
	return e.store.ListBySeller(ctx, caller.SellerID, "")
}

func (e *Engine) ListByStatus(ctx context.Context, status domain.OrderStatus, caller access.Caller) ([]domain.Order, error) {
	if !status.Valid() {
		return nil, domain.Invalid("status", fmt.Sprintf("unknown status %q", status))
	}
	if err := access.Require(caller); err != nil {
		return nil, err
	}
	return e.store.ListBySeller(ctx, caller.SellerID, status)
}

func (e *Engine) load(ctx context.Context, id string, caller access.Caller) (*domain.Order, error) {
	order, err := e.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.NewNotFound("order", id)
	}
	if err := access.Authorize(caller, order.SellerID); err != nil {
		e.logger.Warn("order access denied", "order_id", id, "caller", caller.SellerID)
		return nil, err
	}
	return order, nil
}

// price resolves every product and snapshots its current price.
func (e *Engine) price(ctx context.Context, lines []domain.LineItem) ([]domain.OrderItem, error) {
	items := make([]domain.OrderItem, 0, len(lines))
	for _, line := range lines {
		product, err := e.catalog.Get(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		if product == nil {
			return nil, domain.NewNotFound("product", line.ProductID)
		}
		items = append(items, domain.OrderItem{
			ProductID: product.ID,
			Quantity:  line.Quantity,
			Price:     product.Price,
		})
	}
	return items, nil
}

// reserve takes stock for items one by one. On the first refusal or failure
// every reservation already taken in this call is released before the error
// is returned. callerCtx is only consulted for cancellation between steps;
// the store calls themselves run on opCtx so none is cut off halfway.
func (e *Engine) reserve(callerCtx, opCtx context.Context, orderID string, items []domain.OrderItem) error {
	held := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		if err := callerCtx.Err(); err != nil {
			e.release(opCtx, orderID, held, "caller went away")
			return err
		}

		ok, err := e.catalog.Reserve(opCtx, item.ProductID, item.Quantity)
		if err == nil && !ok {
			e.metrics.rejected.Add(opCtx, 1, metric.WithAttributes(attribute.String("product.id", item.ProductID)))
			err = &domain.InsufficientStockError{ProductID: item.ProductID}
		}
		if err != nil {
			e.release(opCtx, orderID, held, "reservation aborted")
			return err
		}
		held = append(held, item)
	}
	return nil
}

// release returns stock for items. A release that cannot be applied now is
// handed to the release queue; it is never silently dropped. Each release and
// each enqueue gets its own store timeout, so one that ran out the clock does
// not starve the ones after it.
func (e *Engine) release(ctx context.Context, orderID string, items []domain.OrderItem, reason string) {
	for _, item := range items {
		err := e.releaseOne(ctx, item)
		if err == nil {
			continue
		}
		if errors.Is(err, domain.ErrNotFound) {
			e.logger.Warn("product gone, nothing to restock", "product_id", item.ProductID, "order_id", orderID)
			continue
		}

		rel := domain.StockRelease{
			ID:        e.newID(),
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			OrderID:   orderID,
			Reason:    reason,
			Timestamp: e.now().UTC(),
		}
		e.logger.Error("stock release failed, deferring", "error", err, "product_id", item.ProductID, "quantity", item.Quantity, "order_id", orderID)

		if e.releases == nil {
			e.metrics.releasesDropped.Add(ctx, 1)
			e.logger.Error("no release queue configured, stock release lost", "release_id", rel.ID, "product_id", rel.ProductID, "quantity", rel.Quantity)
			continue
		}
		if qerr := e.enqueue(ctx, rel); qerr != nil {
			e.metrics.releasesDropped.Add(ctx, 1)
			e.logger.Error("failed to defer stock release", "error", qerr, "release_id", rel.ID, "product_id", rel.ProductID, "quantity", rel.Quantity)
			continue
		}
		e.metrics.releasesQueued.Add(ctx, 1)
	}
}

func (e *Engine) releaseOne(ctx context.Context, item domain.OrderItem) error {
	ctx, cancel := e.detached(ctx)
	defer cancel()
	return e.catalog.Release(ctx, item.ProductID, item.Quantity)
}

func (e *Engine) enqueue(ctx context.Context, rel domain.StockRelease) error {
	ctx, cancel := e.detached(ctx)
	defer cancel()
	return e.releases.Enqueue(ctx, rel)
}

func (e *Engine) publish(ctx context.Context, typ domain.OrderEventType, order *domain.Order) {
	if e.events == nil {
		return
	}
	event := domain.OrderEvent{
		Type:      typ,
		OrderID:   order.ID,
		ClientID:  order.ClientID,
		SellerID:  order.SellerID,
		Status:    order.Status,
		Items:     order.Items,
		Total:     order.Total,
		Timestamp: e.now().UTC(),
	}
	if err := e.events.Publish(ctx, order.ID, event); err != nil {
		e.logger.Error("failed to publish order event", "error", err, "order_id", order.ID, "type", typ)
	}
}

// detached returns a context that survives caller cancellation but still
// honors the store timeout, for stock mutations and their compensations.
func (e *Engine) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.storeTimeout)
}

// diff splits the change from old to next into quantities to reserve and
// quantities to give back, per product, in a stable order.
func diff(old, next []domain.OrderItem) (grow, shrink []domain.OrderItem) {
	before := domain.Quantities(old)
	after := domain.Quantities(next)

	ids := make([]string, 0, len(before)+len(after))
	seen := make(map[string]bool, len(before)+len(after))
	for _, set := range []map[string]int{before, after} {
		for id := range set {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		switch d := after[id] - before[id]; {
		case d > 0:
			grow = append(grow, domain.OrderItem{ProductID: id, Quantity: d})
		case d < 0:
			shrink = append(shrink, domain.OrderItem{ProductID: id, Quantity: -d})
		}
	}
	return grow, shrink
}

func total(items []domain.OrderItem) int64 {
	var sum int64
	for _, item := range items {
		sum += int64(item.Quantity) * item.Price
	}
	return sum
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
