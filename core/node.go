package core

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"lendchain/core/events"
	"lendchain/core/state"
	"lendchain/crypto"
	"lendchain/native/auth"
	"lendchain/native/borrower"
	"lendchain/native/borrowerapp"
	nativecommon "lendchain/native/common"
	"lendchain/native/member"
	"lendchain/native/score"
	"lendchain/observability"
	"lendchain/storage"
)

// Registry names double as state names and database directory names.
const (
	RegistryApps      = "apps"
	RegistryAuth      = "auth"
	RegistryBorrowers = "borrowers"
	RegistryMembers   = "members"
	RegistryScores    = "scores"
)

var registryNames = []string{RegistryApps, RegistryAuth, RegistryBorrowers, RegistryMembers, RegistryScores}

// Opener returns the database backing the named registry.
type Opener func(name string) (storage.Database, error)

// MemoryOpener backs every registry with a fresh in-memory database.
func MemoryOpener() Opener {
	return func(string) (storage.Database, error) {
		return storage.NewMemDB(), nil
	}
}

// LevelDBOpener opens a LevelDB database per registry at dir(name).
func LevelDBOpener(dir func(name string) string) Opener {
	return func(name string) (storage.Database, error) {
		return storage.NewLevelDB(dir(name))
	}
}

// Options configures a Node.
type Options struct {
	Admin        [20]byte
	Version      uint64
	Pauses       map[string]bool
	Logger       *slog.Logger
	Now          func() time.Time
	EventHistory int
	// Emitters receive every registry event after the node's own log.
	Emitters []events.Emitter
}

// Node owns the registries, their state and the event log, and wires the
// cross-registry references.
type Node struct {
	admin   [20]byte
	version uint64
	logger  *slog.Logger

	dbs    []storage.Database
	states map[string]*state.Manager

	apps      *borrowerapp.Registry
	auth      *auth.Registry
	borrowers *borrower.Registry
	members   *member.Index
	scores    *score.Ledger

	events *EventLog
}

// NewNode opens every registry through open, restores references recorded
// by a previous run and wires any reference that was never set.
func NewNode(open Opener, opts Options) (*Node, error) {
	if open == nil {
		return nil, fmt.Errorf("core: opener required")
	}
	if opts.Admin == ([20]byte{}) {
		return nil, fmt.Errorf("core: administrator must not be the zero address")
	}
	if opts.Version == 0 {
		opts.Version = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	n := &Node{
		admin:   opts.Admin,
		version: opts.Version,
		logger:  logger,
		states:  make(map[string]*state.Manager, len(registryNames)),
		events:  NewEventLog(opts.EventHistory),
	}
	for _, name := range registryNames {
		db, err := open(name)
		if err != nil {
			n.Close()
			return nil, fmt.Errorf("core: open %s database: %w", name, err)
		}
		n.dbs = append(n.dbs, db)
		st, err := state.Open(db, name)
		if err != nil {
			n.Close()
			return nil, err
		}
		n.states[name] = st
	}

	n.apps = borrowerapp.NewRegistry(n.states[RegistryApps], opts.Admin, opts.Version)
	n.auth = auth.NewRegistry(n.states[RegistryAuth], opts.Admin, opts.Version)
	n.borrowers = borrower.NewRegistry(n.states[RegistryBorrowers], opts.Admin, opts.Version)
	n.members = member.NewIndex(n.states[RegistryMembers], opts.Admin, opts.Version)
	n.scores = score.NewLedger(n.states[RegistryScores], opts.Admin, opts.Version)

	emitter := events.Multi{n.events, metricsEmitter{}}
	for _, extra := range opts.Emitters {
		emitter = append(emitter, extra)
	}
	pauses := nativecommon.Pauses(opts.Pauses)

	n.apps.SetEmitter(emitter)
	n.apps.SetPauses(pauses)
	n.auth.SetEmitter(emitter)
	n.borrowers.SetEmitter(emitter)
	n.borrowers.SetPauses(pauses)
	n.members.SetEmitter(emitter)
	n.members.SetPauses(pauses)
	n.scores.SetEmitter(emitter)
	n.scores.SetPauses(pauses)
	if opts.Now != nil {
		n.apps.SetNowFunc(opts.Now)
		n.auth.SetNowFunc(opts.Now)
		n.borrowers.SetNowFunc(opts.Now)
		n.members.SetNowFunc(opts.Now)
		n.scores.SetNowFunc(opts.Now)
	}

	if err := n.wireReferences(); err != nil {
		n.Close()
		return nil, err
	}
	n.publishSizes()
	for _, info := range n.Info() {
		logger.Info("registry opened",
			slog.String("registry", info.Name),
			slog.String("address", info.Address),
			slog.String("root", info.Root))
	}
	return n, nil
}

func (n *Node) wireReferences() error {
	if err := n.borrowers.RestoreReferences(n.apps, n.auth); err != nil {
		return fmt.Errorf("core: restore borrower references: %w", err)
	}
	if err := n.members.RestoreReferences(n.apps, n.borrowers); err != nil {
		return fmt.Errorf("core: restore member references: %w", err)
	}

	steps := []struct {
		name    string
		current func() ([20]byte, error)
		set     func() error
	}{
		{"borrowers.borrowerapp", n.borrowers.AppRegistryAddress, func() error { return n.borrowers.SetAppRegistry(n.admin, n.apps) }},
		{"borrowers.auth", n.borrowers.AuthOracleAddress, func() error { return n.borrowers.SetAuthOracle(n.admin, n.auth) }},
		{"members.borrowerapp", n.members.AppRegistryAddress, func() error { return n.members.SetAppRegistry(n.admin, n.apps) }},
		{"members.borrower", n.members.BorrowerRegistryAddress, func() error { return n.members.SetBorrowerRegistry(n.admin, n.borrowers) }},
	}
	for _, step := range steps {
		addr, err := step.current()
		if err != nil {
			return fmt.Errorf("core: read reference %s: %w", step.name, err)
		}
		if addr != ([20]byte{}) {
			continue
		}
		if err := step.set(); err != nil {
			return fmt.Errorf("core: wire reference %s: %w", step.name, err)
		}
		n.logger.Info("reference wired", slog.String("reference", step.name))
	}
	return nil
}

func (n *Node) publishSizes() {
	m := observability.Registries()
	if size, err := n.apps.Size(n.admin); err == nil {
		m.SetEntries(RegistryApps, size)
	}
	if size, err := n.borrowers.Size(n.admin); err == nil {
		m.SetEntries(RegistryBorrowers, size)
	}
	if size, err := n.members.TotalCount(n.admin); err == nil {
		m.SetEntries(RegistryMembers, size)
	}
}

// Seed lists the apps and authentication verdicts applied by ApplySeed.
type Seed struct {
	Apps          []SeedApp
	Authenticated [][20]byte
}

type SeedApp struct {
	ID   [20]byte
	Name string
}

// ApplySeed registers the seed's apps and grants its verdicts as the
// administrator. Entries that already exist are left untouched, so applying
// the same seed twice is harmless.
func (n *Node) ApplySeed(seed Seed) error {
	var added, granted int
	for _, app := range seed.Apps {
		known, err := n.apps.Contains(app.ID)
		if err != nil {
			return err
		}
		if known {
			continue
		}
		if _, err := n.apps.Add(n.admin, app.ID, app.Name); err != nil {
			return fmt.Errorf("core: seed app %s: %w", crypto.FormatIdentity(app.ID), err)
		}
		added++
	}
	for _, id := range seed.Authenticated {
		err := n.auth.Grant(n.admin, id)
		if errors.Is(err, auth.ErrAlreadyGranted) {
			continue
		}
		if err != nil {
			return fmt.Errorf("core: seed verdict %s: %w", crypto.FormatIdentity(id), err)
		}
		granted++
	}
	n.logger.Info("seed applied", slog.Int("apps", added), slog.Int("verdicts", granted))
	return nil
}

// RegistryInfo describes one registry for operators.
type RegistryInfo struct {
	Name       string            `json:"name"`
	Address    string            `json:"address"`
	Version    uint64            `json:"version"`
	Root       string            `json:"stateRoot"`
	References map[string]string `json:"references,omitempty"`
}

// Info returns the addresses, versions, state roots and references of every
// registry.
func (n *Node) Info() []RegistryInfo {
	describe := func(name string, addr [20]byte, version uint64, root ethcommon.Hash) RegistryInfo {
		return RegistryInfo{
			Name:    name,
			Address: crypto.FormatIdentity(addr),
			Version: version,
			Root:    root.Hex(),
		}
	}
	type ref struct {
		which   string
		address func() ([20]byte, error)
	}
	refs := func(list ...ref) map[string]string {
		out := make(map[string]string, len(list))
		for _, r := range list {
			addr, err := r.address()
			if err != nil || addr == ([20]byte{}) {
				continue
			}
			out[r.which] = crypto.FormatIdentity(addr)
		}
		return out
	}

	apps := describe(RegistryApps, n.apps.Address(), n.apps.Version(), n.apps.Root())
	authInfo := describe(RegistryAuth, n.auth.Address(), n.auth.Version(), n.auth.Root())
	borrowers := describe(RegistryBorrowers, n.borrowers.Address(), n.borrowers.Version(), n.borrowers.Root())
	borrowers.References = refs(ref{borrower.RefApp, n.borrowers.AppRegistryAddress}, ref{borrower.RefAuth, n.borrowers.AuthOracleAddress})
	members := describe(RegistryMembers, n.members.Address(), n.members.Version(), n.members.Root())
	members.References = refs(ref{member.RefApp, n.members.AppRegistryAddress}, ref{member.RefBorrower, n.members.BorrowerRegistryAddress})
	scores := describe(RegistryScores, n.scores.Address(), n.scores.Version(), n.scores.Root())
	return []RegistryInfo{apps, authInfo, borrowers, members, scores}
}

// Admin returns the administrator every registry was opened with.
func (n *Node) Admin() [20]byte {
	return n.admin
}

// Version returns the registry version.
func (n *Node) Version() uint64 {
	return n.version
}

func (n *Node) Apps() *borrowerapp.Registry {
	return n.apps
}

func (n *Node) Auth() *auth.Registry {
	return n.auth
}

func (n *Node) Borrowers() *borrower.Registry {
	return n.borrowers
}

func (n *Node) Members() *member.Index {
	return n.members
}

func (n *Node) Scores() *score.Ledger {
	return n.scores
}

// Events returns the node's event log.
func (n *Node) Events() *EventLog {
	return n.events
}

func (n *Node) Logger() *slog.Logger {
	return n.logger
}

// State returns the state manager backing the named registry, or nil.
func (n *Node) State(name string) *state.Manager {
	return n.states[name]
}

// Close releases every registry database. It is safe to call more than once.
func (n *Node) Close() {
	for _, db := range n.dbs {
		db.Close()
	}
}

type metricsEmitter struct{}

func (metricsEmitter) Emit(evt events.Event) {
	m := observability.Registries()
	m.RecordEvent(evt.EventType())
	switch evt.(type) {
	case events.AppAdded:
		m.IncEntries(RegistryApps)
	case events.BorrowerAdded:
		m.IncEntries(RegistryBorrowers)
	case events.MemberJoined:
		m.IncEntries(RegistryMembers)
	}
}
