package dkg

import "errors"

// Sentinel errors, mirroring the teacher's module/signature error taxonomy
// (sentinels named by what went wrong, wrapped with %w at call sites).
var (
	ErrWrongAnchor          = errors.New("dkg: message anchor does not match session")
	ErrNotMember            = errors.New("dkg: sender is not a quorum member")
	ErrWrongVectorLength    = errors.New("dkg: verification vector length does not match threshold")
	ErrWrongRecipientCount  = errors.New("dkg: recipient list length does not match quorum size")
	ErrInvalidSingleSig     = errors.New("dkg: single signature verification failed")
	ErrDuplicateComplaint   = errors.New("dkg: member already sent a complaint this session")
	ErrWrongPhase           = errors.New("dkg: message arrived outside its phase window")
	ErrNoComplaintPending   = errors.New("dkg: justification for member with no outstanding complaint")
	ErrInsufficientValid    = errors.New("dkg: fewer than threshold members remain valid")
	ErrUnknownJustifyTarget = errors.New("dkg: justification entry targets an unknown recipient index")
)
