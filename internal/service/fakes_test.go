package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/lexdocs/access-core/internal/domain/model"
	"github.com/bigkaa/lexdocs/access-core/internal/notify"
	"github.com/bigkaa/lexdocs/access-core/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDocs — in-memory DocumentRepository. Условные операции выполняются
// под одним мьютексом, как условный UPDATE в PostgreSQL.
type fakeDocs struct {
	mu   sync.Mutex
	docs map[string]*model.Document
	// unlockErr — ошибка UnlockByVersion для указанных документов
	unlockErr map[string]error
	// storeErr — ошибка TryLock, UnlockByHolder и UnlockByVersion для всех документов
	storeErr error
	// getErr — ошибка GetByID
	getErr error
	// contend — условные UPDATE всегда не проходят, документ при этом свободен
	contend bool
}

func newFakeDocs(docs ...*model.Document) *fakeDocs {
	f := &fakeDocs{docs: map[string]*model.Document{}, unlockErr: map[string]error{}}
	for _, d := range docs {
		f.docs[d.ID] = d
	}
	return f
}

func copyDoc(d *model.Document) *model.Document {
	c := *d
	return &c
}

func (f *fakeDocs) Create(_ context.Context, doc *model.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[doc.ID]; ok {
		return repository.ErrConflict
	}
	f.docs[doc.ID] = copyDoc(doc)
	return nil
}

func (f *fakeDocs) GetByID(_ context.Context, id string) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	d, ok := f.docs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyDoc(d), nil
}

func (f *fakeDocs) TryLock(_ context.Context, id, userID string, now time.Time) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.storeErr != nil {
		return nil, f.storeErr
	}
	d, ok := f.docs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if d.IsLocked || f.contend {
		return nil, repository.ErrPreconditionFailed
	}
	d.IsLocked = true
	d.LockedBy = &userID
	d.LockedAt = &now
	d.Version++
	return copyDoc(d), nil
}

func (f *fakeDocs) UnlockByHolder(_ context.Context, id, holder string) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.storeErr != nil {
		return nil, f.storeErr
	}
	d, ok := f.docs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !d.HeldBy(holder) || f.contend {
		return nil, repository.ErrPreconditionFailed
	}
	unlock(d)
	return copyDoc(d), nil
}

func (f *fakeDocs) UnlockByVersion(_ context.Context, id string, version int64) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unlockErr[id]; err != nil {
		return nil, err
	}
	if f.storeErr != nil {
		return nil, f.storeErr
	}
	d, ok := f.docs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !d.IsLocked || d.Version != version {
		return nil, repository.ErrPreconditionFailed
	}
	unlock(d)
	return copyDoc(d), nil
}

// ListLockedBefore повторяет keyset-выборку: порядок (locked_at, id), строки после курсора.
func (f *fakeDocs) ListLockedBefore(_ context.Context, before time.Time, after repository.Cursor, limit int) ([]*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Document
	for _, d := range f.docs {
		if d.IsLocked && d.LockedAt.Before(before) && afterCursor(*d.LockedAt, d.ID, after) {
			out = append(out, copyDoc(d))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return keyLess(*out[i].LockedAt, out[i].ID, *out[j].LockedAt, out[j].ID)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func keyLess(at1 time.Time, id1 string, at2 time.Time, id2 string) bool {
	if !at1.Equal(at2) {
		return at1.Before(at2)
	}
	return id1 < id2
}

func afterCursor(at time.Time, id string, c repository.Cursor) bool {
	if c == (repository.Cursor{}) {
		return true
	}
	return keyLess(c.At, c.ID, at, id)
}

func unlock(d *model.Document) {
	d.IsLocked = false
	d.LockedBy = nil
	d.LockedAt = nil
	d.Version++
}

// fakeLinks — in-memory SharedLinkRepository и LinkAccessLogRepository.
type fakeLinks struct {
	mu    sync.Mutex
	docs  map[string]bool
	links map[string]*model.SharedLink
	logs  []*model.LinkAccessLog
	// tokenErr, getErr, recordErr — ошибки GetByToken, GetByID и RecordAccess
	tokenErr  error
	getErr    error
	recordErr error
	// contend — RecordAccess всегда не проходит, ссылка при этом действительна
	contend bool
	// deactivateErr — ошибка DeactivateIfStale для указанных ссылок
	deactivateErr map[string]error
}

func newFakeLinks(documentIDs ...string) *fakeLinks {
	f := &fakeLinks{docs: map[string]bool{}, links: map[string]*model.SharedLink{}, deactivateErr: map[string]error{}}
	for _, id := range documentIDs {
		f.docs[id] = true
	}
	return f
}

func copyLink(l *model.SharedLink) *model.SharedLink {
	c := *l
	return &c
}

func (f *fakeLinks) Create(_ context.Context, link *model.SharedLink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.docs[link.DocumentID] {
		return repository.ErrNotFound
	}
	for _, l := range f.links {
		if l.Token == link.Token {
			return repository.ErrConflict
		}
	}
	f.links[link.ID] = copyLink(link)
	return nil
}

func (f *fakeLinks) GetByID(_ context.Context, id string) (*model.SharedLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	l, ok := f.links[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyLink(l), nil
}

func (f *fakeLinks) GetByToken(_ context.Context, token string) (*model.SharedLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tokenErr != nil {
		return nil, f.tokenErr
	}
	for _, l := range f.links {
		if l.Token == token {
			return copyLink(l), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeLinks) ListByDocument(_ context.Context, documentID string, limit, _ int) ([]*model.SharedLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.SharedLink
	for _, l := range f.links {
		if l.DocumentID == documentID && len(out) < limit {
			out = append(out, copyLink(l))
		}
	}
	return out, nil
}

func (f *fakeLinks) CountByDocument(_ context.Context, documentID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, l := range f.links {
		if l.DocumentID == documentID {
			n++
		}
	}
	return n, nil
}

func (f *fakeLinks) RecordAccess(_ context.Context, linkID string, entry *model.LinkAccessLog) (*model.SharedLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return nil, f.recordErr
	}
	l, ok := f.links[linkID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !l.IsActive || l.Expired(entry.AccessedAt) || l.Exhausted() || f.contend {
		return nil, repository.ErrPreconditionFailed
	}
	l.CurrentAccessCount++
	l.Version++
	f.logs = append(f.logs, entry)
	return copyLink(l), nil
}

func (f *fakeLinks) Deactivate(_ context.Context, id, reason string, now time.Time) (*model.SharedLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.links[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !l.IsActive {
		return nil, repository.ErrPreconditionFailed
	}
	deactivateLink(l, reason, now)
	return copyLink(l), nil
}

// DeactivateIfStale повторяет условие UPDATE: ссылка активна и устарела на момент now.
func (f *fakeLinks) DeactivateIfStale(_ context.Context, id, reason string, now time.Time) (*model.SharedLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deactivateErr[id]; err != nil {
		return nil, err
	}
	l, ok := f.links[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !l.IsActive || !(l.Expired(now) || l.Exhausted()) {
		return nil, repository.ErrPreconditionFailed
	}
	deactivateLink(l, reason, now)
	return copyLink(l), nil
}

func deactivateLink(l *model.SharedLink, reason string, now time.Time) {
	l.IsActive = false
	l.DeactivatedAt = &now
	l.DeactivationReason = &reason
	l.Version++
}

func (f *fakeLinks) Reactivate(_ context.Context, id string, version int64, expiresAt *time.Time, maxAccessCount *int) (*model.SharedLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.links[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if l.IsActive || l.Version != version {
		return nil, repository.ErrPreconditionFailed
	}
	if expiresAt != nil {
		l.ExpiresAt = *expiresAt
	}
	if maxAccessCount != nil {
		l.MaxAccessCount = maxAccessCount
	}
	l.IsActive = true
	l.DeactivatedAt = nil
	l.DeactivationReason = nil
	l.Version++
	return copyLink(l), nil
}

// ListStale повторяет keyset-выборку: порядок (expires_at, id), строки после курсора.
func (f *fakeLinks) ListStale(_ context.Context, now time.Time, after repository.Cursor, limit int) ([]*model.SharedLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.SharedLink
	for _, l := range f.links {
		if l.IsActive && (l.Expired(now) || l.Exhausted()) && afterCursor(l.ExpiresAt, l.ID, after) {
			out = append(out, copyLink(l))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return keyLess(out[i].ExpiresAt, out[i].ID, out[j].ExpiresAt, out[j].ID)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeLinks) Insert(_ context.Context, entry *model.LinkAccessLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, entry)
	return nil
}

func (f *fakeLinks) ListByLink(_ context.Context, linkID string, limit, _ int) ([]*model.LinkAccessLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.LinkAccessLog
	for _, e := range f.logs {
		if e.LinkID == linkID && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeLinks) CountByLink(_ context.Context, linkID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.logs {
		if e.LinkID == linkID {
			n++
		}
	}
	return n, nil
}

func (f *fakeLinks) accessLogCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.logs)
}

func (f *fakeLinks) get(id string) *model.SharedLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyLink(f.links[id])
}

// fakeRecorder собирает записи аудита.
type fakeRecorder struct {
	mu      sync.Mutex
	entries []*model.AuditEntry
}

func (r *fakeRecorder) Record(_ context.Context, e *model.AuditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

// byAction возвращает записи с указанным action.
func (r *fakeRecorder) byAction(action string) []*model.AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.AuditEntry
	for _, e := range r.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func (r *fakeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// fakeNotifier собирает уведомления.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (n *fakeNotifier) Publish(msg notify.Notification) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return true
}

func (n *fakeNotifier) byType(typ string) []notify.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Notification
	for _, m := range n.sent {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

// brokenAuditRepo — хранилище аудита, которое всегда недоступно.
type brokenAuditRepo struct{}

var errAuditDown = errors.New("audit storage down")

func (brokenAuditRepo) Insert(context.Context, *model.AuditEntry) error { return errAuditDown }

func (brokenAuditRepo) List(context.Context, model.AuditFilter, int, int) ([]*model.AuditEntry, error) {
	return nil, errAuditDown
}

func (brokenAuditRepo) Count(context.Context, model.AuditFilter) (int, error) { return 0, errAuditDown }

func member(id string) Actor {
	return Actor{ID: id, Name: id, Role: "member", IP: "10.0.0.1"}
}

func admin(id string) Actor {
	return Actor{ID: id, Name: id, Role: "admin", IP: "10.0.0.2"}
}

func ptr[T any](v T) *T {
	return &v
}
