package rpc

import (
	"lendchain/core"
	"lendchain/core/types"
	"lendchain/crypto"
	"lendchain/native/borrower"
	"lendchain/native/borrowerapp"
	"lendchain/native/member"
	"lendchain/native/score"
)

type handlerFunc func(caller [20]byte, p params) (interface{}, error)

type method struct {
	handler handlerFunc
	// public methods accept unsigned requests.
	public bool
}

func (s *Server) registerMethods() map[string]method {
	signed := func(h handlerFunc) method { return method{handler: h} }
	public := func(h handlerFunc) method { return method{handler: h, public: true} }
	return map[string]method{
		"app_add":        signed(s.appAdd),
		"app_update":     signed(s.appUpdate),
		"app_get":        signed(s.appGet),
		"app_getByIndex": signed(s.appGetByIndex),
		"app_size":       signed(s.appSize),
		"app_ids":        signed(s.appIDs),

		"borrower_add":        signed(s.borrowerAdd),
		"borrower_get":        signed(s.borrowerGet),
		"borrower_getByIndex": signed(s.borrowerGetByIndex),
		"borrower_size":       signed(s.borrowerSize),
		"borrower_ids":        signed(s.borrowerIDs),

		"member_join":                  signed(s.memberJoin),
		"member_totalCount":            signed(s.memberTotalCount),
		"member_byIndex":               signed(s.memberByIndex),
		"member_get":                   signed(s.memberGet),
		"member_countByApp":            signed(s.memberCountByApp),
		"member_borrowerAtIndexForApp": signed(s.memberBorrowerAtIndexForApp),
		"member_countByBorrower":       signed(s.memberCountByBorrower),
		"member_appAtIndexForBorrower": signed(s.memberAppAtIndexForBorrower),

		"score_add":         signed(s.scoreAdd),
		"score_get":         public(s.scoreGet),
		"score_getByPeriod": public(s.scoreGetByPeriod),
		"score_history":     public(s.scoreHistory),

		"auth_grant":           signed(s.authGrant),
		"auth_revoke":          signed(s.authRevoke),
		"auth_isAuthenticated": public(s.authIsAuthenticated),

		"registry_info": public(s.registryInfo),
		"events_list":   public(s.eventsList),
	}
}

type AppResult struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	UpdatedAt uint64 `json:"updatedAt"`
}

func appResult(app *borrowerapp.App) AppResult {
	return AppResult{ID: crypto.FormatIdentity(app.ID), Name: app.Name, UpdatedAt: app.UpdatedAt}
}

type BorrowerResult struct {
	ID           string `json:"id"`
	RegisteredBy string `json:"registeredBy"`
	RegisteredAt uint64 `json:"registeredAt"`
}

func borrowerResult(b *borrower.Borrower) BorrowerResult {
	return BorrowerResult{
		ID:           crypto.FormatIdentity(b.ID),
		RegisteredBy: crypto.FormatIdentity(b.RegisteredBy),
		RegisteredAt: b.RegisteredAt,
	}
}

type MembershipResult struct {
	AppID      string `json:"appId"`
	BorrowerID string `json:"borrowerId"`
	JoinedAt   uint64 `json:"joinedAt"`
}

func membershipResult(m *member.Membership) MembershipResult {
	return MembershipResult{
		AppID:      crypto.FormatIdentity(m.AppID),
		BorrowerID: crypto.FormatIdentity(m.BorrowerID),
		JoinedAt:   m.JoinedAt,
	}
}

type ScoreResult struct {
	AppID       string `json:"appId"`
	BorrowerID  string `json:"borrowerId"`
	Period      uint64 `json:"period"`
	PeriodStart int64  `json:"periodStart"`
	Total       string `json:"total"`
}

type VerdictResult struct {
	ID            string `json:"id"`
	Authenticated bool   `json:"authenticated"`
	UpdatedAt     uint64 `json:"updatedAt"`
}

type InfoResult struct {
	Network    string              `json:"network"`
	Admin      string              `json:"admin"`
	Version    uint64              `json:"version"`
	Registries []core.RegistryInfo `json:"registries"`
}

type EventsResult struct {
	Latest uint64        `json:"latest"`
	Events []types.Event `json:"events"`
}

func formatIDs(ids [][20]byte) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = crypto.FormatIdentity(id)
	}
	return out
}

// --- borrower apps ---

func (s *Server) appAdd(caller [20]byte, p params) (interface{}, error) {
	if err := p.expect(2, 2); err != nil {
		return nil, err
	}
	id, err := p.identity(0, "id")
	if err != nil {
		return nil, err
	}
	name, err := p.str(1, "name")
	if err != nil {
		return nil, err
	}
	app, err := s.node.Apps().Add(caller, id, name)
	if err != nil {
		return nil, err
	}
	return appResult(app), nil
}

func (s *Server) appUpdate(caller [20]byte, p params) (interface{}, error) {
	if err := p.expect(2, 2); err != nil {
		return nil, err
	}
	id, err := p.identity(0, "id")
	if err != nil {
		return nil, err
	}
	name, err := p.str(1, "name")
	if err != nil {
		return nil, err
	}
	app, err := s.node.Apps().Update(caller, id, name)
	if err != nil {
		return nil, err
	}
	return appResult(app), nil
}

func (s *Server) appGet(caller [20]byte, p params) (interface{}, error) {
	if err := p.expect(1, 1); err != nil {
		return nil, err
	}
	id, err := p.identity(0, "id")
	if err != nil {
		return nil, err
	}
	app, err := s.node.Apps().Get(caller, id)
	if err != nil {
		return nil, err
	}
	return appResult(app), nil
}

func (s *Server) appGetByIndex(caller [20]byte, p params) (interface{}, error) {
	if err := p.expect(1, 1); err != nil {
		return nil, err
	}
	index, err := p.uint64(0, "index")
	if err != nil {
		return nil, err
	}
	app, err := s.node.Apps().GetByIndex(caller, index)
	if err != nil {
		return nil, err
	}
	return appResult(app), nil
}

func (s *Server) appSize(caller [20]byte, p params) (interface{}, error) {
	if err := p.expect(0, 0); err != nil {
		return nil, err
	}
	return s.node.Apps().Size(caller)
}

func (s *Server) appIDs(caller [20]byte, p params) (interface{}, error) {
	if err := p.expect(0, 0); err != nil {
		return nil, err
	}
	ids, err := s.node.Apps().IDs(caller)
	if err != nil {
		return nil, err
	}
	return formatIDs(ids), nil
}

// --- borrowers ---

func (s *Server) borrowerAdd(caller [20]byte, p params) (interface{}, error) {
	if err := p.expect(2, 2); err != nil {
		return nil, err
	}
	id, err := p.identity(0, "id")
	if err != nil {
		return nil, err
	}
	sig, err := p.signature(1, "signature")
	if err != nil {
		return nil, err
	}
	record, err := s.node.Borrowers().Add(caller, id, sig)
	if err != nil {
		return nil, err
	}
	return borrowerResult(record), nil
}

func (s *Server) borrowerGet(caller [20]byte, p params) (interface{}, error) {
	if err := p.expect(1, 1); err != nil {
		return nil, err
	}
	id, err := p.identity(0, "id")
	if err != nil {
		return nil, err
	}
	record, err := s.node.Borrowers().Get(caller, id)
	if err != nil {
		return nil, err
	}
	return borrowerResult(record), nil
}

func (s *Server) borrowerGetByIndex(caller [20]byte, p params) (interface{}, error) {
	if err := p.expect(1, 1); err != nil {
		return nil, err
	}
	index, err := p.uint64(0, "index")
	if err != nil {
		return nil, err
	}
	record, err := s.node.Borrowers().GetByIndex(caller, index)
	if err != nil {
		return nil, err
	}
	return borrowerResult(record), nil
}

func (s *Server) borrowerSize(caller [20]byte, p params) (interface{}, error) {
	if err := p.expect(0, 0); err != nil {
		return nil, err
	}
	return s.node.Borrowers().Size(caller)
}

func (s *Server) borrowerIDs(caller [20]byte, p params) (interface{}, error) {
	if err := p.expect(0, 0); err != nil {
		return nil, err
	}
	ids, err := s.node.Borrowers().IDs(caller)
	if err != nil {
		return nil, err
	}
	return formatIDs(ids), nil
}

// --- memberships ---

func (s *Server) memberJoin(caller [20]byte, p params) (interface{}, error) {
	if err := p.expect(2, 2); err != nil {
		return nil, err
	}
	borrowerID, err := p.identity(0, "borrowerId")
	if err != nil {
		return nil, err
	}
	sig, err := p.signature(1, "signature")
	if err != nil {
		return nil, err
	}
	m, err := s.node.Members().Join(caller, borrowerID, sig)
	if err != nil {
		return nil, err
	}
	return membershipResult(m), nil
}

func (s *Server) memberTotalCount(caller [20]byte, p params) (interface{}, error) {
	if err := p.expect(0, 0); err != nil {
		return nil, err
	}
	return s.node.Members().TotalCount(caller)
}

func (s *Server) memberByIndex(caller [20]byte, p params) (interface{}, error) {
	if err := p.expect(1, 1); err != nil {
		return nil, err
	}
	index, err := p.uint64(0, "index")
	if err != nil {
		return nil, err
	}
	m, err := s.node.Members().ByIndex(caller, index)
	if err != nil {
		return nil, err
	}
	return membershipResult(m), nil
}

func (s *Server) memberGet(caller [20]byte, p params) (interface{}, error) {
	if err := p.expect(2, 2); err != nil {
		return nil, err
	}
	appID, err := p.identity(0, "appId")
	if err != nil {
		return nil, err
	}
	borrowerID, err := p.identity(1, "borrowerId")
	if err != nil {
		return nil, err
	}
	m, err := s.node.Members().Get(caller, appID, borrowerID)
	if err != nil {
		return nil, err
	}
	return membershipResult(m), nil
}

func (s *Server) memberCountByApp(caller [20]byte, p params) (interface{}, error) {
	if err := p.expect(1, 1); err != nil {
		return nil, err
	}
	appID, err := p.identity(0, "appId")
	if err != nil {
		return nil, err
	}
	return s.node.Members().CountByApp(caller, appID)
}

func (s *Server) memberBorrowerAtIndexForApp(caller [20]byte, p params) (interface{}, error) {
	if err := p.expect(2, 2); err != nil {
		return nil, err
	}
	appID, err := p.identity(0, "appId")
	if err != nil {
		return nil, err
	}
	index, err := p.uint64(1, "index")
	if err != nil {
		return nil, err
	}
	id, err := s.node.Members().BorrowerAtIndexForApp(caller, appID, index)
	if err != nil {
		return nil, err
	}
	return crypto.FormatIdentity(id), nil
}

func (s *Server) memberCountByBorrower(caller [20]byte, p params) (interface{}, error) {
	if err := p.expect(1, 1); err != nil {
		return nil, err
	}
	borrowerID, err := p.identity(0, "borrowerId")
	if err != nil {
		return nil, err
	}
	return s.node.Members().CountByBorrower(caller, borrowerID)
}

func (s *Server) memberAppAtIndexForBorrower(caller [20]byte, p params) (interface{}, error) {
	if err := p.expect(2, 2); err != nil {
		return nil, err
	}
	borrowerID, err := p.identity(0, "borrowerId")
	if err != nil {
		return nil, err
	}
	index, err := p.uint64(1, "index")
	if err != nil {
		return nil, err
	}
	id, err := s.node.Members().AppAtIndexForBorrower(caller, borrowerID, index)
	if err != nil {
		return nil, err
	}
	return crypto.FormatIdentity(id), nil
}

// --- scores ---

func (s *Server) scorePair(p params) ([20]byte, [20]byte, error) {
	appID, err := p.identity(0, "appId")
	if err != nil {
		return appID, [20]byte{}, err
	}
	borrowerID, err := p.identity(1, "borrowerId")
	return appID, borrowerID, err
}

func scoreResult(app, borrowerID [20]byte, period uint64, total interface{ String() string }) ScoreResult {
	return ScoreResult{
		AppID:       crypto.FormatIdentity(app),
		BorrowerID:  crypto.FormatIdentity(borrowerID),
		Period:      period,
		PeriodStart: score.PeriodStart(period).Unix(),
		Total:       total.String(),
	}
}

func (s *Server) scoreAdd(caller [20]byte, p params) (interface{}, error) {
	if err := p.expect(3, 3); err != nil {
		return nil, err
	}
	appID, borrowerID, err := s.scorePair(p)
	if err != nil {
		return nil, err
	}
	amount, err := p.amount(2, "amount")
	if err != nil {
		return nil, err
	}
	bucket, err := s.node.Scores().Add(caller, appID, borrowerID, amount)
	if err != nil {
		return nil, err
	}
	return scoreResult(appID, borrowerID, bucket.Period, bucket.Total), nil
}

func (s *Server) scoreGet(_ [20]byte, p params) (interface{}, error) {
	if err := p.expect(2, 3); err != nil {
		return nil, err
	}
	appID, borrowerID, err := s.scorePair(p)
	if err != nil {
		return nil, err
	}
	at, err := p.timestamp(2, "timestamp", s.cfg.Now())
	if err != nil {
		return nil, err
	}
	total, err := s.node.Scores().Get(appID, borrowerID, at)
	if err != nil {
		return nil, err
	}
	return scoreResult(appID, borrowerID, score.PeriodOf(at), total), nil
}

func (s *Server) scoreGetByPeriod(_ [20]byte, p params) (interface{}, error) {
	if err := p.expect(3, 3); err != nil {
		return nil, err
	}
	appID, borrowerID, err := s.scorePair(p)
	if err != nil {
		return nil, err
	}
	period, err := p.uint64(2, "period")
	if err != nil {
		return nil, err
	}
	total, err := s.node.Scores().GetByPeriod(appID, borrowerID, period)
	if err != nil {
		return nil, err
	}
	return scoreResult(appID, borrowerID, period, total), nil
}

func (s *Server) scoreHistory(_ [20]byte, p params) (interface{}, error) {
	if err := p.expect(2, 2); err != nil {
		return nil, err
	}
	appID, borrowerID, err := s.scorePair(p)
	if err != nil {
		return nil, err
	}
	buckets, err := s.node.Scores().History(appID, borrowerID)
	if err != nil {
		return nil, err
	}
	out := make([]ScoreResult, len(buckets))
	for i, bucket := range buckets {
		out[i] = scoreResult(appID, borrowerID, bucket.Period, bucket.Total)
	}
	return out, nil
}

// --- authentication verdicts ---

func (s *Server) authGrant(caller [20]byte, p params) (interface{}, error) {
	if err := p.expect(1, 1); err != nil {
		return nil, err
	}
	id, err := p.identity(0, "id")
	if err != nil {
		return nil, err
	}
	if err := s.node.Auth().Grant(caller, id); err != nil {
		return nil, err
	}
	return s.verdict(id)
}

func (s *Server) authRevoke(caller [20]byte, p params) (interface{}, error) {
	if err := p.expect(1, 1); err != nil {
		return nil, err
	}
	id, err := p.identity(0, "id")
	if err != nil {
		return nil, err
	}
	if err := s.node.Auth().Revoke(caller, id); err != nil {
		return nil, err
	}
	return s.verdict(id)
}

func (s *Server) authIsAuthenticated(_ [20]byte, p params) (interface{}, error) {
	if err := p.expect(1, 1); err != nil {
		return nil, err
	}
	id, err := p.identity(0, "id")
	if err != nil {
		return nil, err
	}
	return s.verdict(id)
}

func (s *Server) verdict(id [20]byte) (interface{}, error) {
	v, err := s.node.Auth().Verdict(id)
	if err != nil {
		return nil, err
	}
	return VerdictResult{ID: crypto.FormatIdentity(id), Authenticated: v.Authenticated, UpdatedAt: v.UpdatedAt}, nil
}

// --- operator views ---

func (s *Server) registryInfo(_ [20]byte, p params) (interface{}, error) {
	if err := p.expect(0, 0); err != nil {
		return nil, err
	}
	return InfoResult{
		Network:    s.cfg.NetworkName,
		Admin:      crypto.FormatIdentity(s.node.Admin()),
		Version:    s.node.Version(),
		Registries: s.node.Info(),
	}, nil
}

func (s *Server) eventsList(_ [20]byte, p params) (interface{}, error) {
	if err := p.expect(0, 2); err != nil {
		return nil, err
	}
	var from uint64
	limit := 100
	if p.has(0) {
		value, err := p.uint64(0, "from")
		if err != nil {
			return nil, err
		}
		from = value
	}
	if p.has(1) {
		value, err := p.uint64(1, "limit")
		if err != nil {
			return nil, err
		}
		limit = int(value)
	}
	return EventsResult{
		Latest: s.node.Events().Latest(),
		Events: s.node.Events().List(from, limit),
	}, nil
}
