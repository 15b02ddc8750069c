package computation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/shadowtrade/internal/auth"
	"github.com/aristath/shadowtrade/internal/domain"
	"github.com/aristath/shadowtrade/internal/events"
	"github.com/aristath/shadowtrade/internal/ledger"
	"github.com/aristath/shadowtrade/internal/modules/accounts"
)

// Service handles computation requests
type Service struct {
	ledger        *ledger.Ledger
	store         *accounts.Store
	gate          *auth.Gate
	inputs        *InputRepository
	maxInputBytes int
	log           zerolog.Logger
}

// NewService creates a new computation service. maxInputBytes bounds each
// ciphertext; zero disables the bound.
func NewService(l *ledger.Ledger, store *accounts.Store, gate *auth.Gate, inputs *InputRepository, maxInputBytes int, log zerolog.Logger) *Service {
	return &Service{
		ledger:        l,
		store:         store,
		gate:          gate,
		inputs:        inputs,
		maxInputBytes: maxInputBytes,
		log:           log.With().Str("service", "computation").Logger(),
	}
}

type namedInput struct {
	slot string
	data domain.Ciphertext
}

// RequestRSI records an RSI evaluation over encrypted prices.
func (s *Service) RequestRSI(ctx context.Context, caller auth.Caller, prices domain.Ciphertext, params RSIParams) (*Receipt, error) {
	if err := s.gate.RequireSigner(caller); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return s.reject(KindRSI, caller, err)
	}

	inputs := []namedInput{{SlotPrices, prices}}
	return s.request(ctx, caller, KindRSI, inputs, params, func(refs []domain.BlobRef) events.EventData {
		return &events.RSIRequestedData{
			Requester:  caller.Pubkey().String(),
			Prices:     refs[0],
			Period:     params.Period,
			Oversold:   params.Oversold,
			Overbought: params.Overbought,
		}
	})
}

// RequestPositionSize records a position sizing request over an encrypted balance.
func (s *Service) RequestPositionSize(ctx context.Context, caller auth.Caller, balance domain.Ciphertext, params PositionSizeParams) (*Receipt, error) {
	if err := s.gate.RequireSigner(caller); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return s.reject(KindPositionSize, caller, err)
	}

	inputs := []namedInput{{SlotBalance, balance}}
	return s.request(ctx, caller, KindPositionSize, inputs, params, func(refs []domain.BlobRef) events.EventData {
		return &events.PositionSizeRequestedData{
			Requester:      caller.Pubkey().String(),
			Balance:        refs[0],
			RiskPercentage: params.RiskPercentage,
			CurrentPrice:   params.CurrentPrice,
		}
	})
}

// RequestPerformance records a performance metrics request over an encrypted
// trade history and initial balance.
func (s *Service) RequestPerformance(ctx context.Context, caller auth.Caller, trades, initialBalance domain.Ciphertext) (*Receipt, error) {
	if err := s.gate.RequireSigner(caller); err != nil {
		return nil, err
	}

	inputs := []namedInput{{SlotTrades, trades}, {SlotInitialBalance, initialBalance}}
	return s.request(ctx, caller, KindPerformance, inputs, nil, func(refs []domain.BlobRef) events.EventData {
		return &events.PerformanceRequestedData{
			Requester:      caller.Pubkey().String(),
			Trades:         refs[0],
			InitialBalance: refs[1],
		}
	})
}

// request stores the inputs, bumps the registry counter and appends the event
// in one ledger operation.
func (s *Service) request(
	ctx context.Context,
	caller auth.Caller,
	kind Kind,
	inputs []namedInput,
	params interface{},
	build func(refs []domain.BlobRef) events.EventData,
) (*Receipt, error) {
	for _, in := range inputs {
		if err := in.data.Check(in.slot, s.maxInputBytes); err != nil {
			return s.reject(kind, caller, err)
		}
	}

	requestID := uuid.NewString()
	var receipt *Receipt

	err := s.ledger.Execute(ctx, kind.Operation(), func(tx *ledger.Tx) error {
		if err := tx.UseSignature(caller.Signature(), caller.Pubkey(), caller.Expires()); err != nil {
			return err
		}
		reg, err := s.store.LoadRegistry(ctx, tx.SQL())
		if err != nil {
			return err
		}
		if err := s.gate.AuthorizeRegistry(caller, reg); err != nil {
			return err
		}

		refs := make([]domain.BlobRef, 0, len(inputs))
		for _, in := range inputs {
			ref, err := s.inputs.Save(ctx, tx.SQL(), requestID, in.slot, in.data, tx.Now())
			if err != nil {
				return err
			}
			refs = append(refs, ref)
		}

		if err := s.store.IncrementComputations(ctx, tx.SQL(), 1, 0); err != nil {
			return err
		}

		event, err := tx.Emit(requestID, caller.Pubkey(), build(refs))
		if err != nil {
			return err
		}

		receipt = &Receipt{
			RequestID:   requestID,
			Kind:        kind,
			Sequence:    event.Sequence,
			Requester:   caller.Pubkey(),
			Inputs:      refs,
			Params:      params,
			RequestedAt: tx.Now().Unix(),
		}
		return nil
	})
	if err != nil {
		return s.reject(kind, caller, err)
	}

	s.log.Info().
		Str("request_id", receipt.RequestID).
		Str("kind", string(kind)).
		Str("requester", caller.String()).
		Int64("sequence", receipt.Sequence).
		Msg("Computation requested")
	return receipt, nil
}

func (s *Service) reject(kind Kind, caller auth.Caller, err error) (*Receipt, error) {
	s.log.Warn().
		Err(err).
		Str("kind", string(kind)).
		Str("requester", caller.String()).
		Msg("Computation request rejected")
	return nil, fmt.Errorf("%s: %w", kind.Operation(), err)
}

// Input returns a stored ciphertext for an MPC worker.
func (s *Service) Input(ctx context.Context, requestID, slot string) (domain.Ciphertext, domain.BlobRef, error) {
	return s.inputs.Get(ctx, requestID, slot)
}

// Request rebuilds the receipt of requestID from the audit log.
func (s *Service) Request(ctx context.Context, requestID string) (*Receipt, error) {
	correlated, err := s.ledger.Journal().ByRequestID(ctx, nil, requestID)
	if err != nil {
		return nil, err
	}
	for _, e := range correlated {
		if r := ReceiptFromEvent(e); r != nil {
			return r, nil
		}
	}
	return nil, fmt.Errorf("computation request %s: %w", requestID, domain.ErrNotFound)
}

// Pending lists performance requests not yet referenced by a settlement.
func (s *Service) Pending(ctx context.Context, limit int) ([]*Receipt, error) {
	pending, err := s.ledger.Journal().UnsettledPerformanceRequests(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*Receipt, 0, len(pending))
	for _, e := range pending {
		if r := ReceiptFromEvent(e); r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

// Undispatched lists requests after sequence that the MPC dispatcher has not
// finished, oldest first.
func (s *Service) Undispatched(ctx context.Context, after int64, limit int) ([]*Receipt, error) {
	requests, err := s.ledger.Journal().UndispatchedRequests(ctx, after, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*Receipt, 0, len(requests))
	for _, e := range requests {
		if r := ReceiptFromEvent(e); r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

// ReceiptFromEvent rebuilds a receipt from a request event, or returns nil for
// other event types.
func ReceiptFromEvent(e *events.Event) *Receipt {
	kind, ok := KindOf(e.Type)
	if !ok {
		return nil
	}
	requester, _ := domain.ParsePubkey(e.Actor)

	r := &Receipt{
		RequestID:   e.RequestID,
		Kind:        kind,
		Sequence:    e.Sequence,
		Requester:   requester,
		RequestedAt: e.Timestamp.Unix(),
	}
	switch d := e.Data.(type) {
	case *events.RSIRequestedData:
		r.Inputs = []domain.BlobRef{d.Prices}
		r.Params = RSIParams{Period: d.Period, Oversold: d.Oversold, Overbought: d.Overbought}
	case *events.PositionSizeRequestedData:
		r.Inputs = []domain.BlobRef{d.Balance}
		r.Params = PositionSizeParams{RiskPercentage: d.RiskPercentage, CurrentPrice: d.CurrentPrice}
	case *events.PerformanceRequestedData:
		r.Inputs = []domain.BlobRef{d.Trades, d.InitialBalance}
	}
	return r
}
