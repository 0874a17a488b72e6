package llmq

import "errors"

// Sentinel errors for the model package, wrapped with %w at call sites, in
// the style of the teacher's module/signature/errors.go.
var (
	errNullTxID       = errors.New("llmq: islock has null txid")
	errEmptyInputs    = errors.New("llmq: islock has no inputs")
	errDuplicateInput = errors.New("llmq: islock has duplicate input")
	errMalformedSig   = errors.New("llmq: islock signature is malformed")
)
