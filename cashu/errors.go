package cashu

// CashuErrCode is a mint's NUT-00 numeric error code.
type CashuErrCode int

// Mint error codes. Codes under 100 are never put on the wire; the wallet
// and a local mint implementation use them to log where an error
// originated before mapping it to a proper response code.
const (
	DBErrCode               CashuErrCode = 1
	LightningBackendErrCode CashuErrCode = 2

	StandardErrCode CashuErrCode = 10000

	UnitErrCode                        CashuErrCode = 11005
	PaymentMethodErrCode               CashuErrCode = 11007
	BlindedMessageAlreadySignedErrCode CashuErrCode = 10002

	InvalidProofErrCode            CashuErrCode = 10003
	ProofAlreadyUsedErrCode        CashuErrCode = 11001
	InsufficientProofAmountErrCode CashuErrCode = 11002

	UnknownKeysetErrCode  CashuErrCode = 12001
	InactiveKeysetErrCode CashuErrCode = 12002

	AmountLimitExceeded            CashuErrCode = 11006
	MintQuoteRequestNotPaidErrCode CashuErrCode = 20001
	MintQuoteAlreadyIssuedErrCode  CashuErrCode = 20002
	MintingDisabledErrCode         CashuErrCode = 20003
	MintQuoteInvalidSigErrCode     CashuErrCode = 20008

	MeltQuotePendingErrCode     CashuErrCode = 20005
	MeltQuoteAlreadyPaidErrCode CashuErrCode = 20006

	MeltQuoteErrCode CashuErrCode = 20009
)

// Error is the shape a mint reports errors in and the wallet parses error
// responses into.
type Error struct {
	Detail string       `json:"detail"`
	Code   CashuErrCode `json:"code"`
}

func (e Error) Error() string {
	return e.Detail
}

func BuildCashuError(detail string, code CashuErrCode) *Error {
	return &Error{Detail: detail, Code: code}
}

// Prebuilt errors for the conditions a mint or the wallet's own
// state-machine checks raise repeatedly, so callers compare against a
// named value instead of reconstructing the detail string.
var (
	StandardErr                    = Error{Detail: "mint is currently unable to process request", Code: StandardErrCode}
	EmptyBodyErr                   = Error{Detail: "request body cannot be empty", Code: StandardErrCode}
	UnknownKeysetErr               = Error{Detail: "unknown keyset", Code: UnknownKeysetErrCode}
	InactiveKeysetSignatureRequest = Error{Detail: "requested signature from inactive keyset", Code: InactiveKeysetErrCode}
	PaymentMethodNotSupportedErr   = Error{Detail: "payment method not supported", Code: PaymentMethodErrCode}
	UnitNotSupportedErr            = Error{Detail: "unit not supported", Code: UnitErrCode}
	InvalidBlindedMessageAmount    = Error{Detail: "invalid amount in blinded message", Code: StandardErrCode}
	BlindedMessageAlreadySigned    = Error{Detail: "blinded message already signed", Code: BlindedMessageAlreadySignedErrCode}
	OutputsOverQuoteAmountErr      = Error{Detail: "sum of the output amounts is greater than quote amount", Code: StandardErrCode}

	InvalidProofErr          = Error{Detail: "invalid proof", Code: InvalidProofErrCode}
	NoProofsProvided         = Error{Detail: "no proofs provided", Code: InvalidProofErrCode}
	DuplicateProofs          = Error{Detail: "duplicate proofs", Code: InvalidProofErrCode}
	ProofAlreadyUsedErr      = Error{Detail: "proof already used", Code: ProofAlreadyUsedErrCode}
	ProofPendingErr          = Error{Detail: "proof is pending", Code: ProofAlreadyUsedErrCode}
	InsufficientProofsAmount = Error{
		Detail: "amount of input proofs is below amount needed for transaction",
		Code:   InsufficientProofAmountErrCode,
	}

	MintQuoteRequestNotPaid = Error{Detail: "quote request has not been paid", Code: MintQuoteRequestNotPaidErrCode}
	MintQuoteAlreadyIssued  = Error{Detail: "quote already issued", Code: MintQuoteAlreadyIssuedErrCode}
	MintingDisabled         = Error{Detail: "minting is disabled", Code: MintingDisabledErrCode}
	MintAmountExceededErr   = Error{Detail: "max amount for minting exceeded", Code: AmountLimitExceeded}
	MintQuoteInvalidSigErr  = Error{Detail: "mint quote with pubkey but no valid signature provided", Code: MintQuoteInvalidSigErrCode}

	QuoteNotExistErr          = Error{Detail: "quote does not exist", Code: MeltQuoteErrCode}
	QuotePending              = Error{Detail: "quote is pending", Code: MeltQuotePendingErrCode}
	MeltQuoteAlreadyPaid      = Error{Detail: "quote already paid", Code: MeltQuoteAlreadyPaidErrCode}
	MeltAmountExceededErr     = Error{Detail: "max amount for melting exceeded", Code: AmountLimitExceeded}
	MeltQuoteForRequestExists = Error{Detail: "melt quote for payment request already exists", Code: MeltQuoteErrCode}
)
