// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coordrpc

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/coordinator"
	"github.com/google/uuid"
)

// RoundState is the JSON form of coordinator.RoundStatus.
type RoundState struct {
	RoundID                  uint64  `json:"roundId"`
	Phase                    string  `json:"phase"`
	Denomination             int64   `json:"denomination"`
	CoordinatorFeePercent    float64 `json:"coordinatorFeePercent"`
	RequiredPeerCount        uint32  `json:"requiredPeerCount"`
	RegisteredPeerCount      uint32  `json:"registeredPeerCount"`
	RegistrationTimeout      int64   `json:"registrationTimeout"`
	FeePerInput              int64   `json:"feePerInput"`
	FeePerOutput             int64   `json:"feePerOutput"`
	MaximumInputCountPerPeer uint32  `json:"maximumInputCountPerPeer"`
	RoundHash                string  `json:"roundHash"`
	BlindingKey              string  `json:"blindingKey"`
	PhaseDeadline            int64   `json:"phaseDeadline,omitempty"`
}

func newRoundState(s *coordinator.RoundStatus) RoundState {
	state := RoundState{
		RoundID:                  s.RoundID,
		Phase:                    s.Phase.String(),
		Denomination:             int64(s.Denomination),
		CoordinatorFeePercent:    s.CoordinatorFeePercent,
		RequiredPeerCount:        s.RequiredPeerCount,
		RegisteredPeerCount:      s.RegisteredPeerCount,
		RegistrationTimeout:      int64(s.RegistrationTimeout.Seconds()),
		FeePerInput:              int64(s.FeePerInput),
		FeePerOutput:             int64(s.FeePerOutput),
		MaximumInputCountPerPeer: s.MaximumInputCountPerPeer,
		RoundHash:                s.RoundHash.String(),
		BlindingKey:              hex.EncodeToString(s.BlindingKey),
	}
	if !s.PhaseDeadline.IsZero() {
		state.PhaseDeadline = s.PhaseDeadline.Unix()
	}

	return state
}

func (s *RoundState) status() (coordinator.RoundStatus, error) {
	phase, err := coordinator.ParsePhase(s.Phase)
	if err != nil {
		return coordinator.RoundStatus{}, err
	}
	hash, err := chainhash.NewHashFromStr(s.RoundHash)
	if err != nil {
		return coordinator.RoundStatus{}, err
	}
	key, err := hex.DecodeString(s.BlindingKey)
	if err != nil {
		return coordinator.RoundStatus{}, err
	}

	status := coordinator.RoundStatus{
		RoundID:               s.RoundID,
		Phase:                 phase,
		Denomination:          btcutil.Amount(s.Denomination),
		CoordinatorFeePercent: s.CoordinatorFeePercent,
		RequiredPeerCount:     s.RequiredPeerCount,
		RegisteredPeerCount:   s.RegisteredPeerCount,
		RegistrationTimeout: time.Duration(s.RegistrationTimeout) *
			time.Second,
		FeePerInput:              btcutil.Amount(s.FeePerInput),
		FeePerOutput:             btcutil.Amount(s.FeePerOutput),
		MaximumInputCountPerPeer: s.MaximumInputCountPerPeer,
		RoundHash:                *hash,
		BlindingKey:              key,
	}
	if s.PhaseDeadline != 0 {
		status.PhaseDeadline = time.Unix(s.PhaseDeadline, 0)
	}

	return status, nil
}

// RoundResultJSON is the JSON form of coordinator.RoundResult.
type RoundResultJSON struct {
	RoundID uint64 `json:"roundId"`
	Phase   string `json:"phase"`
	TxID    string `json:"txid,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// InputJSON is an outpoint with its ownership proof.
type InputJSON struct {
	OutPoint string `json:"outpoint"`
	Proof    string `json:"proof"`
}

// InputsRequest is the body of an input registration.
type InputsRequest struct {
	RoundHash     string      `json:"roundHash,omitempty"`
	Inputs        []InputJSON `json:"inputs"`
	BlindedOutput string      `json:"blindedOutput"`
	ChangeOutput  string      `json:"changeOutput"`
}

// InputsResponse answers an input registration.
type InputsResponse struct {
	UniqueID       string `json:"uniqueId"`
	RoundID        uint64 `json:"roundId"`
	BlindSignature string `json:"blindSignature"`
}

// ConfirmationRequest is the body of a connection confirmation.
type ConfirmationRequest struct {
	UniqueID      string `json:"uniqueId"`
	RoundHash     string `json:"roundHash,omitempty"`
	BlindedOutput string `json:"blindedOutput,omitempty"`
}

// ConfirmationResponse answers a connection confirmation.
type ConfirmationResponse struct {
	RoundID            uint64 `json:"roundId"`
	Phase              string `json:"phase"`
	NeedsBlindedOutput bool   `json:"needsBlindedOutput"`
	BlindSignature     string `json:"blindSignature,omitempty"`
}

// OutputRequest is the body of an output registration. It has no field
// naming the sender.
type OutputRequest struct {
	RoundHash    string `json:"roundHash"`
	OutputScript string `json:"outputScript"`
	Signature    string `json:"signature"`
}

// CoinJoinResponse carries the unsigned coinjoin PSBT, hex encoded.
type CoinJoinResponse struct {
	RoundID uint64 `json:"roundId"`
	PSBT    string `json:"psbt"`
}

// SignaturesRequest carries the witnesses of an Alice keyed by input index.
// Witness items are hex encoded.
type SignaturesRequest struct {
	UniqueID  string           `json:"uniqueId"`
	RoundID   uint64           `json:"roundId"`
	Witnesses map[int][]string `json:"witnesses"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Required    int64  `json:"required,omitempty"`
	Provided    int64  `json:"provided,omitempty"`
	OutPoint    string `json:"outpoint,omitempty"`
	Remaining   int64  `json:"remaining,omitempty"`
}

// newErrorResponse encodes err. Errors other than coordinator errors are
// reported without detail.
func newErrorResponse(err error) ErrorResponse {
	var e coordinator.Error
	if !errors.As(err, &e) {
		return ErrorResponse{
			Code:        "ErrInternal",
			Description: "internal error",
		}
	}

	resp := ErrorResponse{
		Code:        e.ErrorCode.String(),
		Description: e.Description,
	}

	var funds *coordinator.InsufficientFunds
	if errors.As(err, &funds) {
		resp.Required = int64(funds.Required)
		resp.Provided = int64(funds.Provided)
	}

	var banned *coordinator.BannedInput
	if errors.As(err, &banned) {
		resp.OutPoint = banned.OutPoint.String()
		resp.Remaining = int64(banned.Remaining.Seconds())
	}

	return resp
}

// err rebuilds the coordinator error.
func (r *ErrorResponse) err() error {
	code, ok := coordinator.ParseErrorCode(r.Code)
	if !ok {
		return fmt.Errorf("coordinator error %s: %s", r.Code,
			r.Description)
	}

	var detail error
	switch code {
	case coordinator.ErrInsufficientFunds:
		detail = &coordinator.InsufficientFunds{
			Required: btcutil.Amount(r.Required),
			Provided: btcutil.Amount(r.Provided),
		}

	case coordinator.ErrBannedInput:
		banned := &coordinator.BannedInput{
			Remaining: time.Duration(r.Remaining) * time.Second,
		}
		if op, err := parseOutPoint(r.OutPoint); err == nil {
			banned.OutPoint = *op
		}
		detail = banned
	}

	return coordinator.Error{
		ErrorCode:   code,
		Description: r.Description,
		Err:         detail,
	}
}

// parseOutPoint parses the txid:index form of wire.OutPoint.String.
func parseOutPoint(s string) (*wire.OutPoint, error) {
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return nil, fmt.Errorf("outpoint %q lacks an index", s)
	}

	hash, err := chainhash.NewHashFromStr(s[:i])
	if err != nil {
		return nil, err
	}
	index, err := strconv.ParseUint(s[i+1:], 10, 32)
	if err != nil {
		return nil, err
	}

	return wire.NewOutPoint(hash, uint32(index)), nil
}

// validationError reports a malformed field.
func validationError(field string, err error) error {
	return coordinator.Error{
		ErrorCode:   coordinator.ErrValidation,
		Description: fmt.Sprintf("malformed %s", field),
		Err:         err,
	}
}

func decodeHex(field, s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, validationError(field, err)
	}
	return b, nil
}

// decodeRoundHash parses an optional round hash.
func decodeRoundHash(s string) (chainhash.Hash, error) {
	if s == "" {
		return chainhash.Hash{}, nil
	}

	hash, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return chainhash.Hash{}, validationError("round hash", err)
	}

	return *hash, nil
}

func decodeUniqueID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, validationError("unique id", err)
	}
	return id, nil
}

func (r *InputsRequest) request() (*coordinator.RegisterInputRequest,
	error) {

	hash, err := decodeRoundHash(r.RoundHash)
	if err != nil {
		return nil, err
	}
	blinded, err := decodeHex("blinded output", r.BlindedOutput)
	if err != nil {
		return nil, err
	}
	change, err := decodeHex("change output", r.ChangeOutput)
	if err != nil {
		return nil, err
	}

	inputs := make([]coordinator.InputProof, len(r.Inputs))
	for i, in := range r.Inputs {
		op, err := parseOutPoint(in.OutPoint)
		if err != nil {
			return nil, validationError("outpoint", err)
		}
		proof, err := decodeHex("proof", in.Proof)
		if err != nil {
			return nil, err
		}
		inputs[i] = coordinator.InputProof{OutPoint: *op, Proof: proof}
	}

	return &coordinator.RegisterInputRequest{
		RoundHash:     hash,
		Inputs:        inputs,
		BlindedOutput: blinded,
		ChangeScript:  change,
	}, nil
}

func newInputsRequest(req *coordinator.RegisterInputRequest) *InputsRequest {
	r := &InputsRequest{
		Inputs:        make([]InputJSON, len(req.Inputs)),
		BlindedOutput: hex.EncodeToString(req.BlindedOutput),
		ChangeOutput:  hex.EncodeToString(req.ChangeScript),
	}
	if req.RoundHash != (chainhash.Hash{}) {
		r.RoundHash = req.RoundHash.String()
	}
	for i, in := range req.Inputs {
		r.Inputs[i] = InputJSON{
			OutPoint: in.OutPoint.String(),
			Proof:    hex.EncodeToString(in.Proof),
		}
	}

	return r
}

func (r *ConfirmationRequest) request() (
	*coordinator.ConfirmConnectionRequest, error) {

	id, err := decodeUniqueID(r.UniqueID)
	if err != nil {
		return nil, err
	}
	hash, err := decodeRoundHash(r.RoundHash)
	if err != nil {
		return nil, err
	}
	blinded, err := decodeHex("blinded output", r.BlindedOutput)
	if err != nil {
		return nil, err
	}

	return &coordinator.ConfirmConnectionRequest{
		UniqueID:      id,
		RoundHash:     hash,
		BlindedOutput: blinded,
	}, nil
}

func (r *OutputRequest) request() (*coordinator.RegisterOutputRequest,
	error) {

	hash, err := decodeRoundHash(r.RoundHash)
	if err != nil {
		return nil, err
	}
	script, err := decodeHex("output script", r.OutputScript)
	if err != nil {
		return nil, err
	}
	sig, err := decodeHex("signature", r.Signature)
	if err != nil {
		return nil, err
	}

	return &coordinator.RegisterOutputRequest{
		RoundHash:    hash,
		OutputScript: script,
		Signature:    sig,
	}, nil
}

func (r *SignaturesRequest) request() (
	*coordinator.SubmitSignaturesRequest, error) {

	id, err := decodeUniqueID(r.UniqueID)
	if err != nil {
		return nil, err
	}

	witnesses := make(map[int]wire.TxWitness, len(r.Witnesses))
	for idx, items := range r.Witnesses {
		witness := make(wire.TxWitness, len(items))
		for i, item := range items {
			witness[i], err = decodeHex("witness", item)
			if err != nil {
				return nil, err
			}
		}
		witnesses[idx] = witness
	}

	return &coordinator.SubmitSignaturesRequest{
		UniqueID:  id,
		RoundID:   r.RoundID,
		Witnesses: witnesses,
	}, nil
}

func newSignaturesRequest(
	req *coordinator.SubmitSignaturesRequest) *SignaturesRequest {

	witnesses := make(map[int][]string, len(req.Witnesses))
	for idx, witness := range req.Witnesses {
		items := make([]string, len(witness))
		for i, item := range witness {
			items[i] = hex.EncodeToString(item)
		}
		witnesses[idx] = items
	}

	return &SignaturesRequest{
		UniqueID:  req.UniqueID.String(),
		RoundID:   req.RoundID,
		Witnesses: witnesses,
	}
}
