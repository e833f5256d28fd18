package core

import (
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"lendchain/core/events"
	"lendchain/crypto"
	"lendchain/native/borrower"
	nativecommon "lendchain/native/common"
	"lendchain/native/member"
	"lendchain/native/score"
)

func mustKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestNode(t *testing.T, admin [20]byte, opts Options) *Node {
	t.Helper()
	opts.Admin = admin
	node, err := NewNode(MemoryOpener(), opts)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	t.Cleanup(node.Close)
	return node
}

func TestNodeWiresReferences(t *testing.T) {
	admin := mustKey(t).Identity()
	node := newTestNode(t, admin, Options{})

	appAddr, err := node.Borrowers().AppRegistryAddress()
	if err != nil || appAddr != node.Apps().Address() {
		t.Fatalf("borrower app reference = %x err=%v", appAddr, err)
	}
	oracleAddr, err := node.Borrowers().AuthOracleAddress()
	if err != nil || oracleAddr != node.Auth().Address() {
		t.Fatalf("borrower auth reference = %x err=%v", oracleAddr, err)
	}
	borrowerAddr, err := node.Members().BorrowerRegistryAddress()
	if err != nil || borrowerAddr != node.Borrowers().Address() {
		t.Fatalf("member borrower reference = %x err=%v", borrowerAddr, err)
	}

	logged := node.Events().List(0, 0)
	if len(logged) != 4 {
		t.Fatalf("expected 4 reference events, got %d", len(logged))
	}
	for _, evt := range logged {
		if evt.Type != events.TypeReferenceSet {
			t.Fatalf("unexpected event %s", evt.Type)
		}
	}

	info := node.Info()
	if len(info) != 5 || info[2].Name != RegistryBorrowers || len(info[2].References) != 2 {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestNodeAccessors(t *testing.T) {
	admin := mustKey(t).Identity()
	node := newTestNode(t, admin, Options{Version: 3})

	if node.Admin() != admin || node.Version() != 3 {
		t.Fatalf("unexpected admin %x version %d", node.Admin(), node.Version())
	}
	if node.Apps().Version() != 3 || node.Scores().Admin() != admin {
		t.Fatalf("registries not opened with node settings")
	}
	for _, name := range []string{RegistryApps, RegistryAuth, RegistryBorrowers, RegistryMembers, RegistryScores} {
		if node.State(name) == nil {
			t.Fatalf("missing state for %s", name)
		}
	}
	if node.State("unknown") != nil {
		t.Fatalf("expected nil state for unknown registry")
	}
	if node.Events() == nil || node.Logger() == nil {
		t.Fatalf("expected event log and logger")
	}
}

func TestNodeRejectsZeroAdmin(t *testing.T) {
	if _, err := NewNode(MemoryOpener(), Options{}); err == nil {
		t.Fatalf("expected zero admin to be rejected")
	}
}

func TestLendingScenario(t *testing.T) {
	adminKey := mustKey(t)
	admin := adminKey.Identity()
	appID := mustKey(t).Identity()
	borrowerKey := mustKey(t)
	borrowerID := borrowerKey.Identity()

	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	node := newTestNode(t, admin, Options{Now: clk.Now})
	before := node.Events().Latest()

	if _, err := node.Apps().Add(admin, appID, "Acme"); err != nil {
		t.Fatalf("add app: %v", err)
	}
	sig, err := crypto.SignConsent(borrowerKey, appID)
	if err != nil {
		t.Fatalf("sign consent: %v", err)
	}

	if _, err := node.Borrowers().Add(appID, borrowerID, sig); !errors.Is(err, borrower.ErrNotAuthenticated) {
		t.Fatalf("expected unauthenticated borrower rejected, got %v", err)
	}
	if err := node.Auth().Grant(admin, borrowerID); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, err := node.Borrowers().Add(appID, borrowerID, sig); err != nil {
		t.Fatalf("add borrower: %v", err)
	}
	if _, err := node.Members().Join(appID, borrowerID, sig); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := node.Members().Join(appID, borrowerID, sig); !errors.Is(err, member.ErrAlreadyJoined) {
		t.Fatalf("expected duplicate join rejected, got %v", err)
	}

	count, err := node.Members().CountByApp(admin, appID)
	if err != nil || count != 1 {
		t.Fatalf("count by app = %d err=%v", count, err)
	}
	got, err := node.Members().BorrowerAtIndexForApp(admin, appID, 0)
	if err != nil || got != borrowerID {
		t.Fatalf("borrower at index = %x err=%v", got, err)
	}

	if _, err := node.Scores().Add(admin, appID, borrowerID, big.NewInt(29)); err != nil {
		t.Fatalf("add score: %v", err)
	}
	total, err := node.Scores().Get(appID, borrowerID, clk.now)
	if err != nil || total.Cmp(big.NewInt(29)) != 0 {
		t.Fatalf("score = %v err=%v", total, err)
	}
	later, err := node.Scores().Get(appID, borrowerID, clk.now.Add(30*24*time.Hour))
	if err != nil || later.Sign() != 0 {
		t.Fatalf("score a period later = %v err=%v", later, err)
	}

	wantTypes := []string{
		events.TypeAppAdded,
		events.TypeAuthGranted,
		events.TypeBorrowerAdded,
		events.TypeMemberJoined,
		events.TypeScoreAdded,
	}
	logged := node.Events().List(before+1, 0)
	if len(logged) != len(wantTypes) {
		t.Fatalf("expected %d events, got %d", len(wantTypes), len(logged))
	}
	for i, evt := range logged {
		if evt.Type != wantTypes[i] {
			t.Fatalf("event %d type = %s, want %s", i, evt.Type, wantTypes[i])
		}
	}
	if logged[4].Attr("amount") != "29" || logged[4].Attr("period") != "655" {
		t.Fatalf("unexpected score event %+v", logged[4])
	}
}

func TestNodePausesRegistries(t *testing.T) {
	adminKey := mustKey(t)
	admin := adminKey.Identity()
	node := newTestNode(t, admin, Options{Pauses: map[string]bool{"scores": true}})

	app := mustKey(t).Identity()
	if _, err := node.Apps().Add(admin, app, "Acme"); err != nil {
		t.Fatalf("apps should not be paused: %v", err)
	}
	if _, err := node.Scores().Add(admin, app, app, big.NewInt(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused score ledger, got %v", err)
	}
	total, err := node.Scores().GetByPeriod(app, app, score.PeriodOf(time.Now()))
	if err != nil || total.Sign() != 0 {
		t.Fatalf("paused ledger reads should still work: %v %v", total, err)
	}
}

func TestApplySeedIsIdempotent(t *testing.T) {
	admin := mustKey(t).Identity()
	node := newTestNode(t, admin, Options{})
	seed := Seed{
		Apps:          []SeedApp{{ID: mustKey(t).Identity(), Name: "Acme"}},
		Authenticated: [][20]byte{mustKey(t).Identity()},
	}
	if err := node.ApplySeed(seed); err != nil {
		t.Fatalf("apply seed: %v", err)
	}
	after := node.Events().Latest()
	if err := node.ApplySeed(seed); err != nil {
		t.Fatalf("re-apply seed: %v", err)
	}
	if node.Events().Latest() != after {
		t.Fatalf("re-applying the seed emitted events")
	}
	ok, err := node.Auth().IsAuthenticated(seed.Authenticated[0])
	if err != nil || !ok {
		t.Fatalf("seeded verdict missing: %v %v", ok, err)
	}
}

func TestNodeReopensFromLevelDB(t *testing.T) {
	admin := mustKey(t).Identity()
	dir := t.TempDir()
	opener := LevelDBOpener(func(name string) string { return filepath.Join(dir, name) })

	node, err := NewNode(opener, Options{Admin: admin})
	if err != nil {
		t.Fatalf("open node: %v", err)
	}
	app := mustKey(t).Identity()
	if _, err := node.Apps().Add(admin, app, "Acme"); err != nil {
		t.Fatalf("add app: %v", err)
	}
	root := node.Apps().Root()
	node.Close()

	reopened, err := NewNode(opener, Options{Admin: admin})
	if err != nil {
		t.Fatalf("reopen node: %v", err)
	}
	defer reopened.Close()
	if reopened.Apps().Root() != root {
		t.Fatalf("root changed across restart")
	}
	size, err := reopened.Apps().Size(admin)
	if err != nil || size != 1 {
		t.Fatalf("size after restart = %d err=%v", size, err)
	}
	if reopened.Events().Latest() != 0 {
		t.Fatalf("restored references should not be re-emitted")
	}
	if addr, _ := reopened.Members().AppRegistryAddress(); addr != reopened.Apps().Address() {
		t.Fatalf("member app reference not restored")
	}
}

func TestConcurrentRegistrationsAcrossRegistries(t *testing.T) {
	admin := mustKey(t).Identity()
	node := newTestNode(t, admin, Options{})

	apps := make([][20]byte, 4)
	for i := range apps {
		apps[i] = mustKey(t).Identity()
		if _, err := node.Apps().Add(admin, apps[i], "App"); err != nil {
			t.Fatalf("add app: %v", err)
		}
	}
	type signup struct {
		app      [20]byte
		borrower [20]byte
		sig      []byte
	}
	signups := make([]signup, 16)
	for i := range signups {
		key := mustKey(t)
		app := apps[i%len(apps)]
		sig, err := crypto.SignConsent(key, app)
		if err != nil {
			t.Fatalf("sign consent: %v", err)
		}
		if err := node.Auth().Grant(admin, key.Identity()); err != nil {
			t.Fatalf("grant: %v", err)
		}
		signups[i] = signup{app: app, borrower: key.Identity(), sig: sig}
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(signups)+4)
	for _, s := range signups {
		wg.Add(1)
		go func(s signup) {
			defer wg.Done()
			if _, err := node.Borrowers().Add(s.app, s.borrower, s.sig); err != nil {
				errs <- err
				return
			}
			if _, err := node.Members().Join(s.app, s.borrower, s.sig); err != nil {
				errs <- err
			}
		}(s)
	}
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 32; i++ {
				ids, err := node.Apps().IDs(admin)
				if err != nil {
					errs <- err
					return
				}
				if len(ids) != len(apps) {
					errs <- errors.New("app enumeration changed during reads")
					return
				}
				if _, err := node.Borrowers().Contains(signups[i%len(signups)].borrower); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent access: %v", err)
	}

	total, err := node.Members().TotalCount(admin)
	if err != nil || total != uint64(len(signups)) {
		t.Fatalf("membership total = %d err=%v", total, err)
	}
	for _, app := range apps {
		n, err := node.Members().CountByApp(admin, app)
		if err != nil || n != uint64(len(signups)/len(apps)) {
			t.Fatalf("count by app = %d err=%v", n, err)
		}
	}
}
