package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/bigkaa/lexdocs/access-core/internal/clock"
	"github.com/bigkaa/lexdocs/access-core/internal/domain/model"
	"github.com/bigkaa/lexdocs/access-core/internal/notify"
	"github.com/bigkaa/lexdocs/access-core/internal/repository"
)

type sweeperFixture struct {
	sweeper  *SweeperService
	docs     *fakeDocs
	links    *fakeLinks
	share    *ShareLinkService
	recorder *fakeRecorder
	notifier *fakeNotifier
	clock    *clock.Manual
}

func newSweeperFixture(batchSize int, docs ...*model.Document) *sweeperFixture {
	f := &sweeperFixture{
		docs:     newFakeDocs(docs...),
		links:    newFakeLinks(docID),
		recorder: &fakeRecorder{},
		notifier: &fakeNotifier{},
		clock:    clock.NewManual(t0),
	}
	locks := NewLockService(f.docs, f.recorder, f.notifier, f.clock, 8*time.Hour, discardLogger())
	f.share = NewShareLinkService(f.links, f.links, f.recorder, f.notifier, f.clock, 0, bcrypt.MinCost, discardLogger())
	f.sweeper = NewSweeperService(f.docs, f.links, locks, f.share, f.clock,
		time.Hour, 24*time.Hour, batchSize, discardLogger())
	return f
}

func lockedDoc(id, holder string, lockedAt time.Time) *model.Document {
	return &model.Document{ID: id, IsLocked: true, LockedBy: &holder, LockedAt: &lockedAt, Version: 1}
}

func TestRunLockSweep_ReleasesOnlyExpired(t *testing.T) {
	f := newSweeperFixture(2,
		lockedDoc("old-1", "alice", t0.Add(-9*time.Hour)),
		lockedDoc("old-2", "bob", t0.Add(-10*time.Hour)),
		lockedDoc("old-3", "carol", t0.Add(-30*time.Hour)),
		lockedDoc("fresh", "dave", t0.Add(-7*time.Hour)),
		&model.Document{ID: "free"},
	)

	result, err := f.sweeper.RunLockSweep(context.Background())
	if err != nil {
		t.Fatalf("RunLockSweep() ошибка: %v", err)
	}
	if result.Processed != 3 || result.Failed != 0 {
		t.Errorf("result = %+v, ожидается 3 снятых блокировки", result)
	}

	for _, id := range []string{"old-1", "old-2", "old-3"} {
		d, _ := f.docs.GetByID(context.Background(), id)
		if d.IsLocked {
			t.Errorf("%s остался заблокирован", id)
		}
	}
	if d, _ := f.docs.GetByID(context.Background(), "fresh"); !d.IsLocked {
		t.Error("блокировка моложе TTL снята")
	}

	released := f.recorder.byAction(model.ActionLockAutoReleased)
	if len(released) != 3 {
		t.Fatalf("записей lock_auto_released = %d, ожидается 3", len(released))
	}
	for _, e := range released {
		if e.SubjectID == nil || *e.SubjectID != SystemActorID {
			t.Errorf("субъект = %v, ожидается system", e.SubjectID)
		}
	}
	if n := len(f.notifier.byType(notify.TypeLockAutoReleased)); n != 3 {
		t.Errorf("уведомлений lock.auto_released = %d, ожидается 3", n)
	}

	// Повторный проход ничего не меняет
	again, err := f.sweeper.RunLockSweep(context.Background())
	if err != nil || again.Processed != 0 {
		t.Errorf("повторный проход: %+v, %v", again, err)
	}
}

func TestRunLockSweep_RowFailureDoesNotAbort(t *testing.T) {
	f := newSweeperFixture(10,
		lockedDoc("broken", "alice", t0.Add(-9*time.Hour)),
		lockedDoc("ok", "bob", t0.Add(-9*time.Hour)),
	)
	f.docs.unlockErr["broken"] = errors.New("connection reset")

	result, err := f.sweeper.RunLockSweep(context.Background())
	if err != nil {
		t.Fatalf("RunLockSweep() ошибка: %v", err)
	}
	if result.Processed != 1 || result.Failed != 1 {
		t.Errorf("result = %+v, ожидается processed=1 failed=1", result)
	}
}

func TestRunLockSweep_FailingRowsDoNotBlockLaterRows(t *testing.T) {
	// Строки с ошибкой записи идут первыми и заполняют пакет целиком
	f := newSweeperFixture(2,
		lockedDoc("bad-1", "alice", t0.Add(-30*time.Hour)),
		lockedDoc("bad-2", "bob", t0.Add(-29*time.Hour)),
		lockedDoc("good", "carol", t0.Add(-9*time.Hour)),
	)
	f.docs.unlockErr["bad-1"] = errors.New("connection reset")
	f.docs.unlockErr["bad-2"] = errors.New("connection reset")

	tests := []struct {
		name      string
		scanned   int
		processed int
	}{
		{"первый проход доходит до строки за ошибками", 3, 1},
		{"второй проход повторяет только строки с ошибкой", 2, 0},
	}
	for _, tt := range tests {
		result, err := f.sweeper.RunLockSweep(context.Background())
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if result.Scanned != tt.scanned || result.Processed != tt.processed || result.Failed != 2 {
			t.Errorf("%s: result = %+v", tt.name, result)
		}
	}

	if d, _ := f.docs.GetByID(context.Background(), "good"); d.IsLocked {
		t.Error("просроченная блокировка за строками с ошибкой не снята")
	}
	if n := len(f.recorder.byAction(model.ActionLockAutoReleased)); n != 1 {
		t.Errorf("записей lock_auto_released = %d, ожидается 1", n)
	}
}

func TestRunLinkSweep_FailingRowsDoNotBlockLaterRows(t *testing.T) {
	f := newSweeperFixture(1)
	ctx := context.Background()
	creator := member("alice")

	bad, err := f.share.CreateLink(ctx, CreateLinkParams{DocumentID: docID, ExpiresAt: t0.Add(time.Hour)}, creator)
	if err != nil {
		t.Fatal(err)
	}
	good, err := f.share.CreateLink(ctx, CreateLinkParams{DocumentID: docID, ExpiresAt: t0.Add(2 * time.Hour)}, creator)
	if err != nil {
		t.Fatal(err)
	}
	f.links.deactivateErr[bad.ID] = errors.New("connection reset")

	f.clock.Advance(3 * time.Hour)
	result, err := f.sweeper.RunLinkSweep(ctx)
	if err != nil {
		t.Fatalf("RunLinkSweep() ошибка: %v", err)
	}
	if result.Failed != 1 || result.Processed != 1 {
		t.Errorf("result = %+v, ожидается failed=1 processed=1", result)
	}
	if f.links.get(good.ID).IsActive {
		t.Error("истёкшая ссылка за строкой с ошибкой не деактивирована")
	}
}

func TestRunLinkSweep_StaleSnapshot(t *testing.T) {
	f := newSweeperFixture(10)
	ctx := context.Background()

	link, err := f.share.CreateLink(ctx, CreateLinkParams{DocumentID: docID, ExpiresAt: t0.Add(time.Hour)}, member("alice"))
	if err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(2 * time.Hour)
	now := f.clock.Now()

	snapshot, err := f.links.ListStale(ctx, now, repository.Cursor{}, 10)
	if err != nil || len(snapshot) != 1 {
		t.Fatalf("ListStale() = %d, %v", len(snapshot), err)
	}

	// Между выборкой и деактивацией: ленивая деактивация при обращении
	// и повторная активация администратором с новым сроком
	if _, err := f.share.Access(ctx, link.Token, nil, guest); !errors.Is(err, ErrLinkExpired) {
		t.Fatalf("Access() = %v, ожидается ErrLinkExpired", err)
	}
	newExpiry := now.Add(48 * time.Hour)
	if _, err := f.share.Reactivate(ctx, link.ID, ReactivateParams{ExpiresAt: &newExpiry}, admin("root")); err != nil {
		t.Fatalf("Reactivate() ошибка: %v", err)
	}
	before := len(f.recorder.byAction(model.ActionLinkAutoDeactivated))

	deactivated, err := f.share.DeactivateStale(ctx, snapshot[0], model.DeactivationExpired, now)
	if err != nil || deactivated {
		t.Fatalf("DeactivateStale() по старому снимку = %v, %v, ожидается false", deactivated, err)
	}
	if got := f.links.get(link.ID); !got.IsActive || !got.ExpiresAt.Equal(newExpiry) {
		t.Errorf("ссылка после DeactivateStale: %+v", got)
	}
	if n := len(f.recorder.byAction(model.ActionLinkAutoDeactivated)); n != before {
		t.Errorf("записей link_auto_deactivated = %d, ожидается %d", n, before)
	}
}

func TestRunLockSweep_Overlap(t *testing.T) {
	f := newSweeperFixture(10)
	f.sweeper.lockMu.Lock()
	defer f.sweeper.lockMu.Unlock()

	if _, err := f.sweeper.RunLockSweep(context.Background()); !errors.Is(err, ErrSweepInProgress) {
		t.Fatalf("RunLockSweep() = %v, ожидается ErrSweepInProgress", err)
	}
	// Очистка ссылок независима от очистки блокировок
	if _, err := f.sweeper.RunLinkSweep(context.Background()); err != nil {
		t.Fatalf("RunLinkSweep() ошибка: %v", err)
	}
}

func TestRunLinkSweep(t *testing.T) {
	f := newSweeperFixture(10)
	ctx := context.Background()
	creator := member("alice")

	expiring, err := f.share.CreateLink(ctx, CreateLinkParams{DocumentID: docID, ExpiresAt: t0.Add(time.Hour)}, creator)
	if err != nil {
		t.Fatal(err)
	}
	exhausted, err := f.share.CreateLink(ctx, CreateLinkParams{
		DocumentID: docID, ExpiresAt: t0.Add(48 * time.Hour), MaxAccessCount: ptr(1),
	}, creator)
	if err != nil {
		t.Fatal(err)
	}
	alive, err := f.share.CreateLink(ctx, CreateLinkParams{DocumentID: docID, ExpiresAt: t0.Add(48 * time.Hour)}, creator)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.share.Access(ctx, exhausted.Token, nil, guest); err != nil {
		t.Fatal(err)
	}

	f.clock.Advance(2 * time.Hour)
	result, err := f.sweeper.RunLinkSweep(ctx)
	if err != nil {
		t.Fatalf("RunLinkSweep() ошибка: %v", err)
	}
	if result.Processed != 2 {
		t.Errorf("Processed = %d, ожидается 2", result.Processed)
	}

	if l := f.links.get(expiring.ID); l.IsActive || *l.DeactivationReason != model.DeactivationExpired {
		t.Errorf("истёкшая ссылка: %+v", l)
	}
	if l := f.links.get(exhausted.ID); l.IsActive || *l.DeactivationReason != model.DeactivationLimitReached {
		t.Errorf("исчерпанная ссылка: %+v", l)
	}
	if !f.links.get(alive.ID).IsActive {
		t.Error("действующая ссылка деактивирована")
	}
	if n := len(f.recorder.byAction(model.ActionLinkAutoDeactivated)); n != 2 {
		t.Errorf("записей link_auto_deactivated = %d, ожидается 2", n)
	}
}

func TestSweeper_StartStop(t *testing.T) {
	f := newSweeperFixture(10)
	f.sweeper.lockEvery = 10 * time.Millisecond
	f.sweeper.linkEvery = 10 * time.Millisecond

	f.sweeper.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	f.sweeper.Stop()
}
