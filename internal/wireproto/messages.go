// Package wireproto implements the worker wire protocol (spec §6):
// length-delimited protobuf WorkRequest/WorkResponse messages on a
// worker's stdin/stdout. The three messages are small and fixed, so they
// are hand-encoded against google.golang.org/protobuf/encoding/protowire
// rather than generated from a .proto file.
package wireproto

import "google.golang.org/protobuf/encoding/protowire"

// Input is one {path, digest} record inside a WorkRequest.
type Input struct {
	Path   string // executable-root-relative
	Digest string // hex, lowercase; empty if unknown
}

// WorkRequest is the request half of the protocol.
type WorkRequest struct {
	Arguments []string
	Inputs    []Input
	RequestID int32 // unused by this module; always emitted as 0
}

// WorkResponse is the response half of the protocol.
type WorkResponse struct {
	ExitCode  int32
	Output    []byte
	RequestID int32 // unused by this module; ignored on read
}

const (
	fieldRequestArguments = 1
	fieldRequestInputs    = 2
	fieldRequestID        = 3

	fieldInputPath   = 1
	fieldInputDigest = 2

	fieldResponseExitCode  = 1
	fieldResponseOutput    = 2
	fieldResponseRequestID = 3
)

// Marshal encodes a WorkRequest using the standard protobuf wire format.
func (r WorkRequest) Marshal() []byte {
	var b []byte
	for _, a := range r.Arguments {
		b = protowire.AppendTag(b, fieldRequestArguments, protowire.BytesType)
		b = protowire.AppendString(b, a)
	}
	for _, in := range r.Inputs {
		b = protowire.AppendTag(b, fieldRequestInputs, protowire.BytesType)
		b = protowire.AppendBytes(b, in.marshal())
	}
	if r.RequestID != 0 {
		b = protowire.AppendTag(b, fieldRequestID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.RequestID))
	}
	return b
}

func (in Input) marshal() []byte {
	var b []byte
	if in.Path != "" {
		b = protowire.AppendTag(b, fieldInputPath, protowire.BytesType)
		b = protowire.AppendString(b, in.Path)
	}
	// Digest is appended even when empty: spec §9 requires the empty
	// string on the wire rather than omitting the record/field.
	b = protowire.AppendTag(b, fieldInputDigest, protowire.BytesType)
	b = protowire.AppendString(b, in.Digest)
	return b
}

// Marshal encodes a WorkResponse using the standard protobuf wire format.
func (r WorkResponse) Marshal() []byte {
	var b []byte
	if r.ExitCode != 0 {
		b = protowire.AppendTag(b, fieldResponseExitCode, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(uint32(r.ExitCode)))
	}
	if len(r.Output) > 0 {
		b = protowire.AppendTag(b, fieldResponseOutput, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Output)
	}
	if r.RequestID != 0 {
		b = protowire.AppendTag(b, fieldResponseRequestID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.RequestID))
	}
	return b
}

// UnmarshalWorkResponse decodes a WorkResponse from its wire bytes.
func UnmarshalWorkResponse(b []byte) (WorkResponse, error) {
	var resp WorkResponse
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return WorkResponse{}, protowire.ParseError(n)
		}
		b = b[n:]

		switch num {
		case fieldResponseExitCode:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return WorkResponse{}, protowire.ParseError(n)
			}
			resp.ExitCode = int32(v)
			b = b[n:]
		case fieldResponseOutput:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return WorkResponse{}, protowire.ParseError(n)
			}
			resp.Output = append([]byte{}, v...)
			b = b[n:]
		case fieldResponseRequestID:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return WorkResponse{}, protowire.ParseError(n)
			}
			resp.RequestID = int32(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return WorkResponse{}, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return resp, nil
}

// UnmarshalWorkRequest decodes a WorkRequest from its wire bytes. Provided
// for symmetry and for the worker-side test fixtures in other packages;
// the runner itself only ever marshals requests.
func UnmarshalWorkRequest(b []byte) (WorkRequest, error) {
	var req WorkRequest
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return WorkRequest{}, protowire.ParseError(n)
		}
		b = b[n:]

		switch num {
		case fieldRequestArguments:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return WorkRequest{}, protowire.ParseError(n)
			}
			req.Arguments = append(req.Arguments, v)
			b = b[n:]
		case fieldRequestInputs:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return WorkRequest{}, protowire.ParseError(n)
			}
			in, err := unmarshalInput(v)
			if err != nil {
				return WorkRequest{}, err
			}
			req.Inputs = append(req.Inputs, in)
			b = b[n:]
		case fieldRequestID:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return WorkRequest{}, protowire.ParseError(n)
			}
			req.RequestID = int32(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return WorkRequest{}, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return req, nil
}

func unmarshalInput(b []byte) (Input, error) {
	var in Input
	for len(b) > 0 {
		num, _, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Input{}, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldInputPath:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Input{}, protowire.ParseError(n)
			}
			in.Path = v
			b = b[n:]
		case fieldInputDigest:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Input{}, protowire.ParseError(n)
			}
			in.Digest = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, protowire.BytesType, b)
			if n < 0 {
				return Input{}, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return in, nil
}
