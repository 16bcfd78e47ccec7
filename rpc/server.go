// Package rpc exposes the relayer HTTP API: batch vote submission, the
// dual-signed identity handshakes, stake lifecycle operations, and read-only
// queries over topics, stakes, and parameters.
package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"poolgov/core/state"
	"poolgov/crypto"
	"poolgov/native/identity"
	"poolgov/native/stakes"
	"poolgov/native/votes"
	"poolgov/observability/metrics"
)

const requestLimit = 1 << 20 // 1 MiB

// Server wires the engine behind HTTP handlers. Successful mutations are
// persisted before the response is written.
type Server struct {
	engine *votes.Engine
	store  *state.Manager
	log    *slog.Logger
}

// NewServer constructs the API server. The store may be nil for ephemeral
// deployments.
func NewServer(engine *votes.Engine, store *state.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: engine, store: store, log: logger}
}

// Router mounts every endpoint.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Post("/votes/transfers", s.submitTransfers)
		r.Post("/votes/params", s.submitParamChanges)
		r.Post("/votes/prices", s.submitPriceUpdates)
		r.Post("/identity/delegate", s.setDelegate)
		r.Post("/identity/link", s.linkIdentity)
		r.Post("/stakes/stake", s.stake)
		r.Post("/stakes/increase", s.increaseStake)
		r.Post("/stakes/extend", s.extend)
		r.Post("/stakes/unstake", s.unstake)
		r.Get("/topics/{key}", s.getTopic)
		r.Get("/stakes/{address}", s.getStake)
		r.Get("/pool", s.getPool)
		r.Get("/params", s.getParams)
	})
	return r
}

// hexBytes decodes hex-encoded signature material, with or without an 0x
// prefix.
type hexBytes []byte

func (h *hexBytes) UnmarshalText(text []byte) error {
	raw := strings.TrimPrefix(strings.TrimPrefix(string(text), "0x"), "0X")
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return err
	}
	*h = decoded
	return nil
}

type transferBatchRequest struct {
	Payloads   []votes.TransferPayload `json:"payloads"`
	Signatures []hexBytes              `json:"signatures"`
}

type paramBatchRequest struct {
	Payloads   []votes.ParamChangePayload `json:"payloads"`
	Signatures []hexBytes                 `json:"signatures"`
}

type priceBatchRequest struct {
	Payloads   []votes.PriceUpdatePayload `json:"payloads"`
	Signatures []hexBytes                 `json:"signatures"`
}

type delegateRequest struct {
	Payload   votes.DelegatePayload `json:"payload"`
	StakerSig hexBytes              `json:"stakerSignature"`
	SignerSig hexBytes              `json:"signerSignature"`
}

type linkRequest struct {
	Payload      votes.IdentityLinkPayload `json:"payload"`
	StakerSig    hexBytes                  `json:"stakerSignature"`
	AlternateSig hexBytes                  `json:"alternateSignature"`
}

type stakeRequest struct {
	Caller   crypto.Address `json:"caller"`
	Duration uint64         `json:"duration,omitempty"`
	Amount   *big.Int       `json:"amount,omitempty"`
	NftIDs   []uint64       `json:"nftIds,omitempty"`
}

func (s *Server) submitTransfers(w http.ResponseWriter, r *http.Request) {
	var req transferBatchRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.mutateBatch(w, "transfers", func() error {
		return s.engine.SubmitTransfers(req.Payloads, rawSigs(req.Signatures))
	})
}

func (s *Server) submitParamChanges(w http.ResponseWriter, r *http.Request) {
	var req paramBatchRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.mutateBatch(w, "params", func() error {
		return s.engine.SubmitParamChanges(req.Payloads, rawSigs(req.Signatures))
	})
}

func (s *Server) submitPriceUpdates(w http.ResponseWriter, r *http.Request) {
	var req priceBatchRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.mutateBatch(w, "prices", func() error {
		return s.engine.SubmitPriceUpdates(req.Payloads, rawSigs(req.Signatures))
	})
}

func (s *Server) setDelegate(w http.ResponseWriter, r *http.Request) {
	var req delegateRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.mutate(w, "delegate", func() error {
		return s.engine.SetDelegate(req.Payload, req.StakerSig, req.SignerSig)
	})
}

func (s *Server) linkIdentity(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.mutate(w, "link", func() error {
		return s.engine.LinkIdentity(req.Payload, req.StakerSig, req.AlternateSig)
	})
}

func (s *Server) stake(w http.ResponseWriter, r *http.Request) {
	var req stakeRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.mutate(w, "stake", func() error {
		return s.engine.Stake(req.Caller, req.Duration, req.Amount, req.NftIDs)
	})
}

func (s *Server) increaseStake(w http.ResponseWriter, r *http.Request) {
	var req stakeRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.mutate(w, "increase", func() error {
		return s.engine.IncreaseStake(req.Caller, req.Amount, req.NftIDs)
	})
}

func (s *Server) extend(w http.ResponseWriter, r *http.Request) {
	var req stakeRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.mutate(w, "extend", func() error {
		return s.engine.Extend(req.Caller, req.Duration)
	})
}

func (s *Server) unstake(w http.ResponseWriter, r *http.Request) {
	var req stakeRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.mutate(w, "unstake", func() error {
		return s.engine.Unstake(req.Caller)
	})
}

func (s *Server) getTopic(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "key")
	decoded, err := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
	if err != nil || len(decoded) != 32 {
		s.writeError(w, http.StatusBadRequest, errors.New("rpc: topic key must be 32 hex bytes"), -1)
		return
	}
	var key votes.TopicKey
	copy(key[:], decoded)
	topic := s.engine.Topic(key)
	if topic == nil {
		s.writeError(w, http.StatusNotFound, errors.New("rpc: topic not found"), -1)
		return
	}
	voters := make([]string, 0, len(topic.Voters))
	for addr := range topic.Voters {
		voters = append(voters, addr.String())
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"kind":       topic.Kind,
		"firstSeen":  topic.FirstSeen,
		"votedPower": topic.VotedPower.String(),
		"accepted":   topic.Accepted,
		"voters":     voters,
	})
}

func (s *Server) getStake(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.DecodeAddress(chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err, -1)
		return
	}
	record := s.engine.StakeOf(addr)
	if record == nil {
		s.writeError(w, http.StatusNotFound, errors.New("rpc: no active stake"), -1)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"amount":      record.Amount.String(),
		"unlockTime":  record.UnlockTime,
		"collateral":  record.Collateral,
		"votingPower": s.engine.VotingPower(addr).String(),
	})
}

func (s *Server) getPool(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"totalPower":    s.engine.TotalPower().String(),
		"activeStakers": s.engine.ActiveStakers(),
	})
}

func (s *Server) getParams(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.CurrentParams())
}

// mutate runs an engine mutation, persists the snapshot, updates the pool
// gauges, and writes the response.
func (s *Server) mutate(w http.ResponseWriter, op string, fn func() error) {
	s.complete(w, op, fn(), false)
}

// mutateBatch is mutate for the vote-submission endpoints; rejections feed the
// batch-rejection counter.
func (s *Server) mutateBatch(w http.ResponseWriter, op string, fn func() error) {
	s.complete(w, op, fn(), true)
}

func (s *Server) complete(w http.ResponseWriter, op string, err error, batch bool) {
	if err != nil {
		status, row := classify(err)
		if batch {
			metrics.Votes().ObserveBatchRejected(reason(err))
		}
		s.log.Warn("operation rejected", "op", op, "error", err)
		s.writeError(w, status, err, row)
		return
	}
	if s.store != nil {
		if err := s.store.SaveEngine(s.engine); err != nil {
			s.log.Error("persist snapshot", "op", op, "error", err)
			s.writeError(w, http.StatusInternalServerError, err, -1)
			return
		}
	}
	metrics.Votes().SetPool(s.engine.TotalPower(), s.engine.ActiveStakers())
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	body := http.MaxBytesReader(w, r.Body, requestLimit)
	defer body.Close()
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		s.writeError(w, http.StatusBadRequest, err, -1)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error, row int) {
	body := map[string]interface{}{"error": err.Error()}
	if row >= 0 {
		body["row"] = row
	}
	s.writeJSON(w, status, body)
}

// classify maps engine errors onto HTTP statuses and extracts the failing
// batch row when present.
func classify(err error) (int, int) {
	row := -1
	var rowError *votes.RowError
	if errors.As(err, &rowError) {
		row = rowError.Row
	}
	switch {
	case errors.Is(err, votes.ErrForbidden):
		return http.StatusForbidden, row
	case errors.Is(err, votes.ErrInvalidSignature):
		return http.StatusUnauthorized, row
	case errors.Is(err, stakes.ErrNotUnlocked):
		return http.StatusConflict, row
	default:
		return http.StatusUnprocessableEntity, row
	}
}

// reason names the rejection for the metrics label.
func reason(err error) string {
	for _, candidate := range []struct {
		target error
		label  string
	}{
		{votes.ErrLengthMismatch, "length_mismatch"},
		{votes.ErrInvalidSignature, "invalid_signature"},
		{votes.ErrVotingPowerZero, "voting_power_zero"},
		{votes.ErrTopicExpired, "topic_expired"},
		{votes.ErrStakeExpiresBeforeVote, "stake_expires"},
		{votes.ErrNonceUsed, "nonce_used"},
		{votes.ErrWrongAsset, "wrong_asset"},
		{votes.ErrForbidden, "forbidden"},
		{identity.ErrDelegateAddressInUse, "delegate_in_use"},
		{stakes.ErrAmountZero, "amount_zero"},
		{stakes.ErrAmountNegative, "amount_negative"},
		{stakes.ErrDurationZero, "duration_zero"},
		{stakes.ErrAlreadyStaked, "already_staked"},
		{stakes.ErrStakeZero, "stake_zero"},
		{stakes.ErrNotUnlocked, "not_unlocked"},
	} {
		if errors.Is(err, candidate.target) {
			return candidate.label
		}
	}
	return "other"
}

// rawSigs strips the text-decoding wrapper off the signature slice.
func rawSigs(sigs []hexBytes) [][]byte {
	out := make([][]byte, len(sigs))
	for i, sig := range sigs {
		out[i] = sig
	}
	return out
}
