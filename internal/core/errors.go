package core

import "errors"

// JSON-RPC error codes used by the gateway. Clients branch on these, so the
// values are part of the wire contract.
const (
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeUpstreamError  = -32000
	CodeInternalError  = -32001
	CodeResourceError  = -32002
)

// CodedError is implemented by domain errors that carry a machine-readable code.
type CodedError interface {
	error
	ErrorCode() string
}

// ErrorInfo is the transport-facing classification of a failure: the JSON-RPC
// error code, a safe human-readable message, and the HTTP status to respond with.
type ErrorInfo struct {
	RPCCode    int
	Message    string
	HTTPStatus int
}

// MapError classifies an adapter or dispatcher failure. Raw transport errors
// never reach the JSON-RPC layer directly; everything funnels through here.
func MapError(err error) ErrorInfo {
	if err == nil {
		return ErrorInfo{RPCCode: CodeInternalError, Message: "internal server error", HTTPStatus: 500}
	}

	msg := err.Error()

	var coded CodedError
	if errors.As(err, &coded) {
		switch coded.ErrorCode() {
		case "github_api_error", "github_transport":
			return ErrorInfo{RPCCode: CodeUpstreamError, Message: msg, HTTPStatus: 502}
		case "repo_not_allowed":
			return ErrorInfo{RPCCode: CodeInvalidParams, Message: msg, HTTPStatus: 400}
		case "not_found":
			return ErrorInfo{RPCCode: CodeResourceError, Message: msg, HTTPStatus: 404}
		case "sandbox_denied", "not_a_file", "not_a_directory":
			return ErrorInfo{RPCCode: CodeResourceError, Message: msg, HTTPStatus: 400}
		}
	}

	return ErrorInfo{RPCCode: CodeInternalError, Message: "Unhandled error: " + msg, HTTPStatus: 500}
}
