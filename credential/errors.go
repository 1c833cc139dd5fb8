package credential

import "errors"

// Verification failure reasons. Verify never returns them as errors; they are
// reported in Result.Reason.
var (
	ErrParse             = errors.New("malformed payload")
	ErrEmptyPresentation = errors.New("presentation reveals nothing")
	ErrProofStructure    = errors.New("inclusion proof does not recompute its root")
	ErrRootMismatch      = errors.New("revealed attributes imply different roots")
	ErrLeafMismatch      = errors.New("proof leaf does not match attribute name")
	ErrValueMismatch     = errors.New("proof does not bind the revealed value")
	ErrSignatureInvalid  = errors.New("signature invalid for derived root")
	ErrIssuerMismatch    = errors.New("signer is not the expected issuer")
)
