// ABOUTME: SSH agent protocol message numbers and the request/response variants
// ABOUTME: Closed sets of Go types the codec decodes into and encodes from

package wire

import (
	"errors"
	"fmt"
)

// ErrMalformedMessage is returned for bytes that cannot be decoded as an
// agent protocol message.
var ErrMalformedMessage = errors.New("malformed agent message")

// Message numbers from the SSH agent protocol.
const (
	MsgFailure                    byte = 5
	MsgSuccess                    byte = 6
	MsgRequestIdentities          byte = 11
	MsgIdentitiesAnswer           byte = 12
	MsgSignRequest                byte = 13
	MsgSignResponse               byte = 14
	MsgAddIdentity                byte = 17
	MsgRemoveIdentity             byte = 18
	MsgRemoveAllIdentities        byte = 19
	MsgAddSmartcardKey            byte = 20
	MsgRemoveSmartcardKey         byte = 21
	MsgLock                       byte = 22
	MsgUnlock                     byte = 23
	MsgAddIDConstrained           byte = 25
	MsgAddSmartcardKeyConstrained byte = 26
	MsgExtension                  byte = 27
)

// Sign request flags.
const (
	FlagRSASHA256 uint32 = 2
	FlagRSASHA512 uint32 = 4
)

// MaxFrameSize is the largest payload accepted in a single frame. Matches
// the limit OpenSSH's agent enforces.
const MaxFrameSize = 256 * 1024

var msgNames = map[byte]string{
	MsgFailure:                    "FAILURE",
	MsgSuccess:                    "SUCCESS",
	MsgRequestIdentities:          "REQUEST_IDENTITIES",
	MsgIdentitiesAnswer:           "IDENTITIES_ANSWER",
	MsgSignRequest:                "SIGN_REQUEST",
	MsgSignResponse:               "SIGN_RESPONSE",
	MsgAddIdentity:                "ADD_IDENTITY",
	MsgRemoveIdentity:             "REMOVE_IDENTITY",
	MsgRemoveAllIdentities:        "REMOVE_ALL_IDENTITIES",
	MsgAddSmartcardKey:            "ADD_SMARTCARD_KEY",
	MsgRemoveSmartcardKey:         "REMOVE_SMARTCARD_KEY",
	MsgLock:                       "LOCK",
	MsgUnlock:                     "UNLOCK",
	MsgAddIDConstrained:           "ADD_ID_CONSTRAINED",
	MsgAddSmartcardKeyConstrained: "ADD_SMARTCARD_KEY_CONSTRAINED",
	MsgExtension:                  "EXTENSION",
}

// TypeName returns a readable name for a message number.
func TypeName(t byte) string {
	if name, ok := msgNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", t)
}

// Request is a decoded client message. The set of implementations is closed:
// ListIdentities, SignRequest and Unsupported.
type Request interface {
	// Type returns the message number the request was decoded from.
	Type() byte
	isRequest()
}

// ListIdentities asks the agent for every identity it can sign with.
type ListIdentities struct{}

// SignRequest asks the agent to sign Data with the key whose public key
// blob is KeyBlob.
type SignRequest struct {
	KeyBlob []byte
	Data    []byte
	Flags   uint32
}

// Unsupported is any request type the agent does not implement. Payload is
// the message body after the type byte.
type Unsupported struct {
	MsgType byte
	Payload []byte
}

func (ListIdentities) Type() byte { return MsgRequestIdentities }
func (SignRequest) Type() byte    { return MsgSignRequest }
func (u Unsupported) Type() byte  { return u.MsgType }

func (ListIdentities) isRequest() {}
func (SignRequest) isRequest()    {}
func (Unsupported) isRequest()    {}

// Response is an agent reply. The set of implementations is closed:
// IdentityList, SignatureResponse, Success and Failure.
type Response interface {
	Type() byte
	isResponse()
}

// Identity is one entry of an identities answer.
type Identity struct {
	KeyBlob []byte
	Comment string
}

// IdentityList answers ListIdentities.
type IdentityList struct {
	Identities []Identity
}

// SignatureResponse carries an SSH-encoded signature blob.
type SignatureResponse struct {
	Signature []byte
}

// Success is the generic positive reply. The agent never sends it for the
// requests it handles; it exists so replies from other agents decode.
type Success struct{}

// Failure is the generic negative reply. Reason is for local logging only
// and is never put on the wire.
type Failure struct {
	Reason string
}

func (IdentityList) Type() byte      { return MsgIdentitiesAnswer }
func (SignatureResponse) Type() byte { return MsgSignResponse }
func (Success) Type() byte           { return MsgSuccess }
func (Failure) Type() byte           { return MsgFailure }

func (IdentityList) isResponse()      {}
func (SignatureResponse) isResponse() {}
func (Success) isResponse()           {}
func (Failure) isResponse()           {}

// Wire layouts marshaled with golang.org/x/crypto/ssh.

type signRequestMsg struct {
	KeyBlob []byte `sshtype:"13"`
	Data    []byte
	Flags   uint32
}

type signResponseMsg struct {
	SigBlob []byte `sshtype:"14"`
}

type identitiesAnswerMsg struct {
	NumKeys uint32 `sshtype:"12"`
	Keys    []byte `ssh:"rest"`
}

type identityEntry struct {
	KeyBlob []byte
	Comment string
}
