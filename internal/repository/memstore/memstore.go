// Package memstore is an in-memory implementation of the store contracts.
// Transactions are serialised by one mutex and rolled back by restoring a
// snapshot taken when they begin.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"task-reward-engine/internal/model"
	"task-reward-engine/internal/store"
)

// Store is an in-memory store.Store.
type Store struct {
	mu  sync.Mutex
	d   *data
	now func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{d: newData(), now: time.Now}
}

// SetClock overrides the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// WithUserLock runs fn holding the store lock. The user must exist.
func (s *Store) WithUserLock(ctx context.Context, userID int64, fn store.TxFunc) error {
	return s.run(ctx, func(tx *txn) error {
		if _, err := tx.wallets().LockForUpdate(ctx, userID); err != nil {
			return err
		}
		return fn(ctx, tx)
	})
}

// View runs fn holding the store lock.
func (s *Store) View(ctx context.Context, fn store.TxFunc) error {
	return s.run(ctx, func(tx *txn) error {
		return fn(ctx, tx)
	})
}

func (s *Store) run(ctx context.Context, fn func(tx *txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.d.clone()
	if err := fn(&txn{d: s.d, now: s.now}); err != nil {
		s.d = snapshot
		return err
	}
	return nil
}

type data struct {
	users       map[int64]*model.User
	wallets     map[int64]*model.Wallet
	commissions []*model.CommissionRecord
	settings    map[int64]*model.CommissionSetting
	stopPoints  map[int64]*model.StopPoint
	progress    map[int64]*model.StopPointProgress
	tasks       map[int64]*model.UserProductTask
	products    map[int64]*model.Product
	ledger      []*model.LedgerEntry
	recharges   map[int64]*model.RechargeRequest
	seq         int64
}

func newData() *data {
	return &data{
		users:      make(map[int64]*model.User),
		wallets:    make(map[int64]*model.Wallet),
		settings:   make(map[int64]*model.CommissionSetting),
		stopPoints: make(map[int64]*model.StopPoint),
		progress:   make(map[int64]*model.StopPointProgress),
		tasks:      make(map[int64]*model.UserProductTask),
		products:   make(map[int64]*model.Product),
		recharges:  make(map[int64]*model.RechargeRequest),
	}
}

func (d *data) nextID() int64 {
	d.seq++
	return d.seq
}

func (d *data) clone() *data {
	c := newData()
	c.seq = d.seq
	for k, v := range d.users {
		c.users[k] = cloneUser(v)
	}
	for k, v := range d.wallets {
		c.wallets[k] = cloneWallet(v)
	}
	for _, v := range d.commissions {
		rec := *v
		c.commissions = append(c.commissions, &rec)
	}
	for k, v := range d.settings {
		st := *v
		c.settings[k] = &st
	}
	for k, v := range d.stopPoints {
		c.stopPoints[k] = cloneStopPoint(v)
	}
	for k, v := range d.progress {
		c.progress[k] = cloneProgress(v)
	}
	for k, v := range d.tasks {
		c.tasks[k] = cloneTask(v)
	}
	for k, v := range d.products {
		p := *v
		c.products[k] = &p
	}
	for _, v := range d.ledger {
		c.ledger = append(c.ledger, cloneLedger(v))
	}
	for k, v := range d.recharges {
		c.recharges[k] = cloneRecharge(v)
	}
	return c
}

// txn implements store.Tx over the shared data.
type txn struct {
	d   *data
	now func() time.Time
}

func (t *txn) users() *users     { return &users{t} }
func (t *txn) wallets() *wallets { return &wallets{t} }

func (t *txn) Users() store.UserStore             { return t.users() }
func (t *txn) Wallets() store.WalletStore         { return t.wallets() }
func (t *txn) Commissions() store.CommissionStore { return &commissions{t} }
func (t *txn) Settings() store.SettingsStore      { return &settings{t} }
func (t *txn) StopPoints() store.StopPointStore   { return &stopPoints{t} }
func (t *txn) Progress() store.ProgressStore      { return &progress{t} }
func (t *txn) Tasks() store.TaskStore             { return &tasks{t} }
func (t *txn) Products() store.ProductCatalog     { return &products{t} }
func (t *txn) Ledger() store.LedgerStore          { return &ledger{t} }
func (t *txn) Recharges() store.RechargeStore     { return &recharges{t} }

type users struct{ *txn }

func (r *users) Get(_ context.Context, userID int64) (*model.User, error) {
	u, ok := r.d.users[userID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (r *users) GetOrCreate(ctx context.Context, userID int64, username string, referredBy *int64) (*model.User, bool, error) {
	if u, ok := r.d.users[userID]; ok {
		return cloneUser(u), false, nil
	}
	if referredBy != nil {
		if _, ok := r.d.users[*referredBy]; !ok {
			return nil, false, store.ErrUserNotFound
		}
	}
	u := &model.User{ID: userID, Username: username, ReferredBy: copyInt(referredBy), CreatedAt: r.now()}
	r.d.users[userID] = u
	return cloneUser(u), true, nil
}

type wallets struct{ *txn }

func (r *wallets) Get(_ context.Context, userID int64) (*model.Wallet, error) {
	if w, ok := r.d.wallets[userID]; ok {
		return cloneWallet(w), nil
	}
	return model.NewWallet(userID), nil
}

func (r *wallets) LockForUpdate(_ context.Context, userID int64) (*model.Wallet, error) {
	if _, ok := r.d.users[userID]; !ok {
		return nil, store.ErrUserNotFound
	}
	w, ok := r.d.wallets[userID]
	if !ok {
		w = model.NewWallet(userID)
		w.UpdatedAt = r.now()
		r.d.wallets[userID] = w
	}
	return cloneWallet(w), nil
}

func (r *wallets) Save(_ context.Context, w *model.Wallet) error {
	if _, ok := r.d.users[w.UserID]; !ok {
		return store.ErrUserNotFound
	}
	if w.Spendable.IsNegative() {
		return errNegativeBalance
	}
	w.UpdatedAt = r.now()
	r.d.wallets[w.UserID] = cloneWallet(w)
	return nil
}

type commissions struct{ *txn }

func (r *commissions) GetOrCreate(ctx context.Context, rec *model.CommissionRecord) (*model.CommissionRecord, bool, error) {
	if existing, err := r.Find(ctx, rec.UserID, rec.TaskLabel, rec.Type, rec.TriggeredBy); err == nil {
		return existing, false, nil
	}
	c := *rec
	c.ID = r.d.nextID()
	c.CreatedAt = r.now()
	r.d.commissions = append(r.d.commissions, &c)
	out := c
	return &out, true, nil
}

func (r *commissions) Find(_ context.Context, userID int64, label, commissionType string, triggeredBy int64) (*model.CommissionRecord, error) {
	for _, c := range r.d.commissions {
		if c.UserID == userID && c.TaskLabel == label && c.Type == commissionType && c.TriggeredBy == triggeredBy {
			out := *c
			return &out, nil
		}
	}
	return nil, store.ErrCommissionMissing
}

func (r *commissions) ListByUser(_ context.Context, userID int64, limit int) ([]*model.CommissionRecord, error) {
	var out []*model.CommissionRecord
	for i := len(r.d.commissions) - 1; i >= 0 && len(out) < limit; i-- {
		if c := r.d.commissions[i]; c.UserID == userID {
			rec := *c
			out = append(out, &rec)
		}
	}
	return out, nil
}

func (r *commissions) TopEarners(_ context.Context, from, to time.Time, limit int) ([]*model.EarningRank, error) {
	totals := make(map[int64]decimal.Decimal)
	for _, c := range r.d.commissions {
		if c.CreatedAt.Before(from) || !c.CreatedAt.Before(to) {
			continue
		}
		totals[c.UserID] = totals[c.UserID].Add(c.Amount)
	}

	var ranks []*model.EarningRank
	for userID, total := range totals {
		if !total.IsPositive() {
			continue
		}
		rank := &model.EarningRank{UserID: userID, Total: total}
		if u, ok := r.d.users[userID]; ok {
			rank.Username = u.Username
		}
		ranks = append(ranks, rank)
	}
	sort.Slice(ranks, func(i, j int) bool {
		if !ranks[i].Total.Equal(ranks[j].Total) {
			return ranks[i].Total.GreaterThan(ranks[j].Total)
		}
		return ranks[i].UserID < ranks[j].UserID
	})
	if len(ranks) > limit {
		ranks = ranks[:limit]
	}
	return ranks, nil
}

type settings struct{ *txn }

func (r *settings) Get(_ context.Context, userID int64) (*model.CommissionSetting, error) {
	if s, ok := r.d.settings[userID]; ok {
		out := *s
		return &out, nil
	}
	return model.NewCommissionSetting(userID), nil
}

func (r *settings) Save(_ context.Context, s *model.CommissionSetting) error {
	if _, ok := r.d.users[s.UserID]; !ok {
		return store.ErrUserNotFound
	}
	s.UpdatedAt = r.now()
	c := *s
	r.d.settings[s.UserID] = &c
	return nil
}

func (r *settings) Delete(_ context.Context, userID int64) error {
	delete(r.d.settings, userID)
	return nil
}

type stopPoints struct{ *txn }

func (r *stopPoints) byUser(userID int64, keep func(*model.StopPoint) bool) []*model.StopPoint {
	var out []*model.StopPoint
	for _, sp := range r.d.stopPoints {
		if sp.UserID == userID && keep(sp) {
			out = append(out, cloneStopPoint(sp))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Point < out[j].Point })
	return out
}

func (r *stopPoints) ListByUser(_ context.Context, userID int64) ([]*model.StopPoint, error) {
	return r.byUser(userID, func(*model.StopPoint) bool { return true }), nil
}

func (r *stopPoints) PendingFrom(_ context.Context, userID int64, taskNumber int) ([]*model.StopPoint, error) {
	return r.byUser(userID, func(sp *model.StopPoint) bool {
		return sp.Point >= taskNumber && sp.Open()
	}), nil
}

func (r *stopPoints) Get(_ context.Context, userID, id int64) (*model.StopPoint, error) {
	sp, ok := r.d.stopPoints[id]
	if !ok || sp.UserID != userID {
		return nil, store.ErrStopPointNotFound
	}
	return cloneStopPoint(sp), nil
}

func (r *stopPoints) taken(userID int64, point int, exceptID int64) bool {
	for _, sp := range r.d.stopPoints {
		if sp.UserID == userID && sp.Point == point && sp.ID != exceptID {
			return true
		}
	}
	return false
}

func (r *stopPoints) Create(_ context.Context, sp *model.StopPoint) error {
	if _, ok := r.d.users[sp.UserID]; !ok {
		return store.ErrUserNotFound
	}
	if r.taken(sp.UserID, sp.Point, 0) {
		return store.ErrDuplicateStop
	}
	sp.ID = r.d.nextID()
	sp.CreatedAt = r.now()
	r.d.stopPoints[sp.ID] = cloneStopPoint(sp)
	return nil
}

func (r *stopPoints) Save(_ context.Context, sp *model.StopPoint) error {
	existing, ok := r.d.stopPoints[sp.ID]
	if !ok || existing.UserID != sp.UserID {
		return store.ErrStopPointNotFound
	}
	if r.taken(sp.UserID, sp.Point, sp.ID) {
		return store.ErrDuplicateStop
	}
	r.d.stopPoints[sp.ID] = cloneStopPoint(sp)
	return nil
}

func (r *stopPoints) Delete(_ context.Context, userID, id int64) error {
	sp, ok := r.d.stopPoints[id]
	if !ok || sp.UserID != userID {
		return store.ErrStopPointNotFound
	}
	delete(r.d.stopPoints, id)
	r.detach(id)
	return nil
}

func (r *stopPoints) DeleteByUser(_ context.Context, userID int64) error {
	for id, sp := range r.d.stopPoints {
		if sp.UserID == userID {
			delete(r.d.stopPoints, id)
			r.detach(id)
		}
	}
	return nil
}

// detach mirrors ON DELETE SET NULL on progress references.
func (r *stopPoints) detach(id int64) {
	for _, p := range r.d.progress {
		if p.LastClearedID != nil && *p.LastClearedID == id {
			p.LastClearedID = nil
		}
		if p.ActiveSliceStopPointID != nil && *p.ActiveSliceStopPointID == id {
			p.ActiveSliceStopPointID = nil
		}
	}
}

type progress struct{ *txn }

func (r *progress) Get(_ context.Context, userID int64) (*model.StopPointProgress, error) {
	if p, ok := r.d.progress[userID]; ok {
		return cloneProgress(p), nil
	}
	return &model.StopPointProgress{UserID: userID, ActiveSlicePoolBase: decimal.Zero}, nil
}

func (r *progress) Save(_ context.Context, p *model.StopPointProgress) error {
	p.UpdatedAt = r.now()
	r.d.progress[p.UserID] = cloneProgress(p)
	return nil
}

func (r *progress) Delete(_ context.Context, userID int64) error {
	delete(r.d.progress, userID)
	return nil
}

type tasks struct{ *txn }

func (r *tasks) CountCompleted(_ context.Context, userID int64) (int, error) {
	n := 0
	for _, t := range r.d.tasks {
		if t.UserID == userID && t.IsCompleted {
			n++
		}
	}
	return n, nil
}

func (r *tasks) FindIncomplete(_ context.Context, userID int64) (*model.UserProductTask, error) {
	var found *model.UserProductTask
	for _, t := range r.d.tasks {
		if t.UserID == userID && !t.IsCompleted && (found == nil || t.ID < found.ID) {
			found = t
		}
	}
	if found == nil {
		return nil, store.ErrTaskNotFound
	}
	return cloneTask(found), nil
}

func (r *tasks) Get(_ context.Context, userID, taskID int64) (*model.UserProductTask, error) {
	t, ok := r.d.tasks[taskID]
	if !ok || t.UserID != userID {
		return nil, store.ErrTaskNotFound
	}
	return cloneTask(t), nil
}

func (r *tasks) ProductsInRound(_ context.Context, userID int64, round int) ([]int64, error) {
	var ids []int64
	for _, t := range r.d.tasks {
		if t.UserID == userID && t.RoundNumber == round {
			ids = append(ids, t.ProductID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *tasks) Save(_ context.Context, t *model.UserProductTask) error {
	if t.ID == 0 {
		for _, other := range r.d.tasks {
			if other.UserID == t.UserID && other.ProductID == t.ProductID && other.RoundNumber == t.RoundNumber {
				return errDuplicateTask
			}
		}
		t.ID = r.d.nextID()
		t.CreatedAt = r.now()
	} else if existing, ok := r.d.tasks[t.ID]; !ok || existing.UserID != t.UserID {
		return store.ErrTaskNotFound
	}
	r.d.tasks[t.ID] = cloneTask(t)
	return nil
}

func (r *tasks) DeleteByUser(_ context.Context, userID int64) error {
	for id, t := range r.d.tasks {
		if t.UserID == userID {
			delete(r.d.tasks, id)
		}
	}
	return nil
}

type products struct{ *txn }

func (r *products) ListActive(_ context.Context) ([]*model.Product, error) {
	var out []*model.Product
	for _, p := range r.d.products {
		if p.IsActive {
			c := *p
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *products) Get(_ context.Context, id int64) (*model.Product, error) {
	p, ok := r.d.products[id]
	if !ok {
		return nil, store.ErrProductNotFound
	}
	c := *p
	return &c, nil
}

func (r *products) Create(_ context.Context, p *model.Product) error {
	p.ID = r.d.nextID()
	p.CreatedAt = r.now()
	c := *p
	r.d.products[p.ID] = &c
	return nil
}

type ledger struct{ *txn }

func (r *ledger) Append(_ context.Context, userID int64, amount decimal.Decimal, entryType string, description *string) (*model.LedgerEntry, error) {
	if _, ok := r.d.users[userID]; !ok {
		return nil, store.ErrUserNotFound
	}
	e := &model.LedgerEntry{
		ID:          r.d.nextID(),
		UserID:      userID,
		Amount:      amount,
		Type:        entryType,
		Description: copyString(description),
		CreatedAt:   r.now(),
	}
	r.d.ledger = append(r.d.ledger, e)
	return cloneLedger(e), nil
}

func (r *ledger) ListByUser(_ context.Context, userID int64, limit int) ([]*model.LedgerEntry, error) {
	var out []*model.LedgerEntry
	for i := len(r.d.ledger) - 1; i >= 0 && len(out) < limit; i-- {
		if e := r.d.ledger[i]; e.UserID == userID {
			out = append(out, cloneLedger(e))
		}
	}
	return out, nil
}

type recharges struct{ *txn }

func (r *recharges) Create(_ context.Context, rr *model.RechargeRequest) error {
	if _, ok := r.d.users[rr.UserID]; !ok {
		return store.ErrUserNotFound
	}
	rr.ID = r.d.nextID()
	rr.CreatedAt = r.now()
	r.d.recharges[rr.ID] = cloneRecharge(rr)
	return nil
}

func (r *recharges) Get(_ context.Context, id int64) (*model.RechargeRequest, error) {
	rr, ok := r.d.recharges[id]
	if !ok {
		return nil, store.ErrRechargeNotFound
	}
	return cloneRecharge(rr), nil
}

func (r *recharges) Save(_ context.Context, rr *model.RechargeRequest) error {
	if _, ok := r.d.recharges[rr.ID]; !ok {
		return store.ErrRechargeNotFound
	}
	r.d.recharges[rr.ID] = cloneRecharge(rr)
	return nil
}

func (r *recharges) ListPending(_ context.Context, limit int) ([]*model.RechargeRequest, error) {
	var out []*model.RechargeRequest
	for _, rr := range r.d.recharges {
		if rr.Status == model.RechargePending {
			out = append(out, cloneRecharge(rr))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
