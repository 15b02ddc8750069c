// Package mpc hands recorded computation requests to an MPC cluster and
// settles the performance results it can sign for.
package mpc

import (
	"context"

	"github.com/aristath/shadowtrade/internal/auth"
	"github.com/aristath/shadowtrade/internal/domain"
	"github.com/aristath/shadowtrade/internal/modules/accounts"
	"github.com/aristath/shadowtrade/internal/modules/computation"
	"github.com/aristath/shadowtrade/internal/modules/settlement"
)

// Input is one encrypted input of a job.
type Input struct {
	Slot   string            `json:"slot"`
	Digest string            `json:"digest"`
	Data   domain.Ciphertext `json:"data"`
}

// Job is a computation request together with its ciphertexts.
type Job struct {
	RequestID string           `json:"request_id"`
	Kind      computation.Kind `json:"kind"`
	Sequence  int64            `json:"sequence"`
	Requester domain.Pubkey    `json:"requester"`
	Params    interface{}      `json:"params,omitempty"`
	Inputs    []Input          `json:"inputs"`
}

// Result is what the cluster returns for a job. Output is encrypted for the
// requester. Summary is only present for performance jobs whose result the
// requester agreed to reveal.
type Result struct {
	RequestID string              `json:"request_id"`
	Output    domain.Ciphertext   `json:"output,omitempty"`
	Summary   *settlement.Summary `json:"summary,omitempty"`
}

// Executor runs a job on the cluster.
type Executor interface {
	Execute(ctx context.Context, job *Job) (*Result, error)
}

// Keyring resolves the local signer for an identity.
type Keyring interface {
	SignerFor(pubkey domain.Pubkey) (*auth.Signer, bool)
}

// Settler commits a performance summary.
type Settler interface {
	Settle(ctx context.Context, caller auth.Caller, owner domain.Pubkey, summary settlement.Summary) (*accounts.Strategy, error)
}

// InputSource loads stored ciphertexts and the requests still to dispatch.
type InputSource interface {
	Input(ctx context.Context, requestID, slot string) (domain.Ciphertext, domain.BlobRef, error)
	Undispatched(ctx context.Context, after int64, limit int) ([]*computation.Receipt, error)
}

// JobRecorder persists job outcomes.
type JobRecorder interface {
	Record(ctx context.Context, rec *JobRecord) error
}
