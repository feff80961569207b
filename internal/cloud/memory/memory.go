package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"snapspend/internal/cloud"
	"snapspend/internal/core"
)

// Gateway is an in-process cloud replica.
type Gateway struct {
	mu          sync.Mutex
	collections map[string]core.SharedCollectionDoc
	expenses    map[string]map[string]core.SharedExpenseDoc
	nextErr     error

	nextSubID      int
	detailSubs     map[string]map[int]*stream[*core.SharedCollectionDoc]
	expenseSubs    map[string]map[int]*stream[[]core.SharedExpenseDoc]
	expenseWrites  int
	detailsUpdates int
}

var _ cloud.Gateway = (*Gateway)(nil)

func New() *Gateway {
	return &Gateway{
		collections: make(map[string]core.SharedCollectionDoc),
		expenses:    make(map[string]map[string]core.SharedExpenseDoc),
		detailSubs:  make(map[string]map[int]*stream[*core.SharedCollectionDoc]),
		expenseSubs: make(map[string]map[int]*stream[[]core.SharedExpenseDoc]),
	}
}

// FailNext makes the next gateway call return err.
func (g *Gateway) FailNext(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextErr = err
}

// BreakStreams ends every open subscription of pin with err.
func (g *Gateway) BreakStreams(pin string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range g.detailSubs[pin] {
		s.fail(err)
	}
	for _, s := range g.expenseSubs[pin] {
		s.fail(err)
	}
}

// takeErr must be called with the lock held.
func (g *Gateway) takeErr() error {
	err := g.nextErr
	g.nextErr = nil
	return err
}

func (g *Gateway) CreateSharedCollection(_ context.Context, doc core.SharedCollectionDoc) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeErr(); err != nil {
		return err
	}
	doc.Members = slices.Clone(doc.Members)
	g.collections[doc.Pin] = doc
	g.publishDetails(doc.Pin)
	return nil
}

func (g *Gateway) GetByPin(_ context.Context, pin string) (core.SharedCollectionDoc, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeErr(); err != nil {
		return core.SharedCollectionDoc{}, err
	}
	doc, ok := g.collections[pin]
	if !ok {
		return core.SharedCollectionDoc{}, cloud.ErrNotFound
	}
	doc.Members = slices.Clone(doc.Members)
	return doc, nil
}

func (g *Gateway) AddMember(_ context.Context, pin string, member core.Member) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeErr(); err != nil {
		return err
	}
	doc, ok := g.collections[pin]
	if !ok {
		return cloud.ErrNotFound
	}
	if slices.Contains(doc.Members, member) {
		return nil
	}
	doc.Members = append(slices.Clone(doc.Members), member)
	g.collections[pin] = doc
	g.publishDetails(pin)
	return nil
}

func (g *Gateway) UpdateDetails(_ context.Context, pin string, details core.CollectionDetails) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeErr(); err != nil {
		return err
	}
	doc, ok := g.collections[pin]
	if !ok {
		return cloud.ErrNotFound
	}
	doc.Budget = details.Budget
	doc.IconName = details.IconName
	doc.ColorHex = details.ColorHex
	g.collections[pin] = doc
	g.detailsUpdates++
	g.publishDetails(pin)
	return nil
}

func (g *Gateway) UpsertExpense(_ context.Context, pin string, doc core.SharedExpenseDoc) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeErr(); err != nil {
		return err
	}
	if g.expenses[pin] == nil {
		g.expenses[pin] = make(map[string]core.SharedExpenseDoc)
	}
	g.expenses[pin][doc.ID] = doc
	g.expenseWrites++
	g.publishExpenses(pin)
	return nil
}

func (g *Gateway) DeleteExpense(_ context.Context, pin string, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeErr(); err != nil {
		return err
	}
	if _, ok := g.expenses[pin][id]; !ok {
		return nil
	}
	delete(g.expenses[pin], id)
	g.publishExpenses(pin)
	return nil
}

// DeleteSharedCollection drops the document and its expenses, as another
// member's client or a console cleanup would.
func (g *Gateway) DeleteSharedCollection(pin string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.collections, pin)
	delete(g.expenses, pin)
	g.publishDetails(pin)
	g.publishExpenses(pin)
}

func (g *Gateway) SubscribeDetails(ctx context.Context, pin string) (cloud.Stream[*core.SharedCollectionDoc], error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeErr(); err != nil {
		return nil, err
	}
	id := g.nextSubID
	g.nextSubID++
	s := newStream[*core.SharedCollectionDoc](ctx, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.detailSubs[pin], id)
	})
	if g.detailSubs[pin] == nil {
		g.detailSubs[pin] = make(map[int]*stream[*core.SharedCollectionDoc])
	}
	g.detailSubs[pin][id] = s
	s.deliver(g.detailsSnapshot(pin))
	return s, nil
}

func (g *Gateway) SubscribeExpenses(ctx context.Context, pin string) (cloud.Stream[[]core.SharedExpenseDoc], error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.takeErr(); err != nil {
		return nil, err
	}
	id := g.nextSubID
	g.nextSubID++
	s := newStream[[]core.SharedExpenseDoc](ctx, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.expenseSubs[pin], id)
	})
	if g.expenseSubs[pin] == nil {
		g.expenseSubs[pin] = make(map[int]*stream[[]core.SharedExpenseDoc])
	}
	g.expenseSubs[pin][id] = s
	s.deliver(g.expensesSnapshot(pin))
	return s, nil
}

func (g *Gateway) detailsSnapshot(pin string) *core.SharedCollectionDoc {
	doc, ok := g.collections[pin]
	if !ok {
		return nil
	}
	doc.Members = slices.Clone(doc.Members)
	return &doc
}

func (g *Gateway) expensesSnapshot(pin string) []core.SharedExpenseDoc {
	out := make([]core.SharedExpenseDoc, 0, len(g.expenses[pin]))
	for _, doc := range g.expenses[pin] {
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (g *Gateway) publishDetails(pin string) {
	for _, s := range g.detailSubs[pin] {
		s.deliver(g.detailsSnapshot(pin))
	}
}

func (g *Gateway) publishExpenses(pin string) {
	for _, s := range g.expenseSubs[pin] {
		s.deliver(g.expensesSnapshot(pin))
	}
}

// Expenses returns the current expense documents of pin.
func (g *Gateway) Expenses(pin string) []core.SharedExpenseDoc {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.expensesSnapshot(pin)
}

// Expense returns one expense document.
func (g *Gateway) Expense(pin, id string) (core.SharedExpenseDoc, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	doc, ok := g.expenses[pin][id]
	return doc, ok
}

// ExpenseWrites counts successful UpsertExpense calls.
func (g *Gateway) ExpenseWrites() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.expenseWrites
}

// DetailsUpdates counts successful UpdateDetails calls.
func (g *Gateway) DetailsUpdates() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.detailsUpdates
}

// Subscriptions counts open subscriptions of pin.
func (g *Gateway) Subscriptions(pin string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.detailSubs[pin]) + len(g.expenseSubs[pin])
}
