// ABOUTME: Stateless encode/decode between agent protocol frames and message variants
// ABOUTME: Uses golang.org/x/crypto/ssh Marshal/Unmarshal for byte-exact field layouts

package wire

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/ssh"
)

// minIdentityEntry is the smallest possible encoded identity: two empty
// strings.
const minIdentityEntry = 8

// SplitFrame separates the first frame in buf into its payload and whatever
// follows it. A declared length larger than the bytes available is
// malformed.
func SplitFrame(buf []byte) (payload, rest []byte, err error) {
	if len(buf) < 4 {
		return nil, nil, fmt.Errorf("%w: short length prefix (%d bytes)", ErrMalformedMessage, len(buf))
	}
	n := binary.BigEndian.Uint32(buf)
	if n > MaxFrameSize {
		return nil, nil, fmt.Errorf("%w: frame length %d exceeds limit %d", ErrMalformedMessage, n, MaxFrameSize)
	}
	if uint64(n) > uint64(len(buf)-4) {
		return nil, nil, fmt.Errorf("%w: declared length %d, only %d bytes available", ErrMalformedMessage, n, len(buf)-4)
	}
	end := 4 + int(n)
	return buf[4:end], buf[end:], nil
}

// Frame prefixes payload with its length.
func Frame(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[4:], payload)
	return out
}

// DecodeRequest decodes exactly one framed request.
func DecodeRequest(frame []byte) (Request, error) {
	payload, rest, err := SplitFrame(frame)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d bytes after frame", ErrMalformedMessage, len(rest))
	}
	return ParseRequest(payload)
}

// ParseRequest decodes a request payload (no length prefix).
func ParseRequest(payload []byte) (Request, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrMalformedMessage)
	}

	switch t := payload[0]; t {
	case MsgRequestIdentities:
		if len(payload) != 1 {
			return nil, fmt.Errorf("%w: request identities carries %d body bytes", ErrMalformedMessage, len(payload)-1)
		}
		return ListIdentities{}, nil

	case MsgSignRequest:
		var msg signRequestMsg
		if err := ssh.Unmarshal(payload, &msg); err != nil {
			return nil, fmt.Errorf("%w: sign request: %v", ErrMalformedMessage, err)
		}
		return SignRequest{KeyBlob: msg.KeyBlob, Data: msg.Data, Flags: msg.Flags}, nil

	case 0, MsgFailure, MsgSuccess, MsgIdentitiesAnswer, MsgSignResponse:
		// Reply types arriving as requests mean the peer is out of step.
		return nil, fmt.Errorf("%w: %s is not a request", ErrMalformedMessage, TypeName(t))

	default:
		return Unsupported{MsgType: t, Payload: payload[1:]}, nil
	}
}

// EncodeRequest frames a request the way a client sends it.
func EncodeRequest(req Request) []byte {
	return Frame(MarshalRequest(req))
}

// MarshalRequest returns the unframed payload for req.
func MarshalRequest(req Request) []byte {
	switch r := req.(type) {
	case ListIdentities:
		return []byte{MsgRequestIdentities}
	case SignRequest:
		return ssh.Marshal(signRequestMsg{KeyBlob: r.KeyBlob, Data: r.Data, Flags: r.Flags})
	case Unsupported:
		out := make([]byte, 0, 1+len(r.Payload))
		out = append(out, r.MsgType)
		return append(out, r.Payload...)
	default:
		panic(fmt.Sprintf("wire: unknown request type %T", req))
	}
}

// EncodeResponse frames resp. A nil response encodes as Failure.
func EncodeResponse(resp Response) []byte {
	return Frame(MarshalResponse(resp))
}

// MarshalResponse returns the unframed payload for resp.
func MarshalResponse(resp Response) []byte {
	switch r := resp.(type) {
	case IdentityList:
		var keys []byte
		for _, id := range r.Identities {
			keys = append(keys, ssh.Marshal(identityEntry{KeyBlob: id.KeyBlob, Comment: id.Comment})...)
		}
		return ssh.Marshal(identitiesAnswerMsg{NumKeys: uint32(len(r.Identities)), Keys: keys})
	case SignatureResponse:
		return ssh.Marshal(signResponseMsg{SigBlob: r.Signature})
	case Success:
		return []byte{MsgSuccess}
	default:
		return []byte{MsgFailure}
	}
}

// DecodeResponse decodes exactly one framed response.
func DecodeResponse(frame []byte) (Response, error) {
	payload, rest, err := SplitFrame(frame)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d bytes after frame", ErrMalformedMessage, len(rest))
	}
	return ParseResponse(payload)
}

// ParseResponse decodes a response payload (no length prefix).
func ParseResponse(payload []byte) (Response, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrMalformedMessage)
	}

	switch t := payload[0]; t {
	case MsgFailure, MsgSuccess:
		if len(payload) != 1 {
			return nil, fmt.Errorf("%w: %s carries %d body bytes", ErrMalformedMessage, TypeName(t), len(payload)-1)
		}
		if t == MsgSuccess {
			return Success{}, nil
		}
		return Failure{}, nil

	case MsgIdentitiesAnswer:
		var msg identitiesAnswerMsg
		if err := ssh.Unmarshal(payload, &msg); err != nil {
			return nil, fmt.Errorf("%w: identities answer: %v", ErrMalformedMessage, err)
		}
		ids, err := parseIdentities(msg.NumKeys, msg.Keys)
		if err != nil {
			return nil, err
		}
		return IdentityList{Identities: ids}, nil

	case MsgSignResponse:
		var msg signResponseMsg
		if err := ssh.Unmarshal(payload, &msg); err != nil {
			return nil, fmt.Errorf("%w: sign response: %v", ErrMalformedMessage, err)
		}
		return SignatureResponse{Signature: msg.SigBlob}, nil

	default:
		return nil, fmt.Errorf("%w: %s is not a response", ErrMalformedMessage, TypeName(t))
	}
}

func parseIdentities(count uint32, data []byte) ([]Identity, error) {
	if uint64(count)*minIdentityEntry > uint64(len(data)) {
		return nil, fmt.Errorf("%w: %d identities cannot fit in %d bytes", ErrMalformedMessage, count, len(data))
	}

	ids := make([]Identity, 0, count)
	for i := uint32(0); i < count; i++ {
		blob, rest, ok := parseString(data)
		if !ok {
			return nil, fmt.Errorf("%w: identity %d: truncated key blob", ErrMalformedMessage, i)
		}
		comment, rest, ok := parseString(rest)
		if !ok {
			return nil, fmt.Errorf("%w: identity %d: truncated comment", ErrMalformedMessage, i)
		}
		ids = append(ids, Identity{KeyBlob: blob, Comment: string(comment)})
		data = rest
	}
	if len(data) != 0 {
		return nil, fmt.Errorf("%w: %d bytes after %d identities", ErrMalformedMessage, len(data), count)
	}
	return ids, nil
}

// parseString reads one SSH string (uint32 length + bytes).
func parseString(in []byte) (out, rest []byte, ok bool) {
	if len(in) < 4 {
		return nil, nil, false
	}
	n := binary.BigEndian.Uint32(in)
	if uint64(n) > uint64(len(in)-4) {
		return nil, nil, false
	}
	return in[4 : 4+n], in[4+n:], true
}
