package syncctl

import (
	"encoding/base64"
	"encoding/json"

	"github.com/google/uuid"

	warperrors "github.com/git-stunts/git-warp/internal/errors"
	"github.com/git-stunts/git-warp/internal/patch"
)

const (
	typeSyncRequest  = "sync-request"
	typeSyncResponse = "sync-response"
)

// wireRequest is the JSON body of a sync request.
// RequestID correlates retried attempts and remote-side logs back to one
// logical round-trip, even across the retry loop's several underlying HTTP
// requests.
type wireRequest struct {
	Type      string            `json:"type"`
	RequestID string            `json:"requestId"`
	Frontier  map[string]string `json:"frontier"`
}

// wirePatchEnvelope carries one patch across the wire. The patch itself is
// the writer's own canonical CBOR blob, base64-encoded, rather than a second
// JSON encoding of the Op sum type: it is exactly the bytes patch.Decode
// already knows how to parse, and re-deriving a parallel JSON schema for Op
// would duplicate internal/patch's wire format for no benefit.
type wirePatchEnvelope struct {
	WriterID string `json:"writerId"`
	Sha      string `json:"sha"`
	Patch    string `json:"patch"`
}

// wireResponse is the JSON body of a sync response.
type wireResponse struct {
	Type      string              `json:"type"`
	RequestID string              `json:"requestId"`
	Frontier  map[string]string   `json:"frontier"`
	Patches   []wirePatchEnvelope `json:"patches"`
}

// newRequestID mints a fresh correlation ID for one sync round-trip.
func newRequestID() string {
	return uuid.NewString()
}

func encodeEnvelope(writerID, sha string, p *patch.Patch) (wirePatchEnvelope, error) {
	blob, err := p.Encode()
	if err != nil {
		return wirePatchEnvelope{}, err
	}
	return wirePatchEnvelope{
		WriterID: writerID,
		Sha:      sha,
		Patch:    base64.StdEncoding.EncodeToString(blob),
	}, nil
}

func decodeEnvelope(e wirePatchEnvelope) (string, *patch.Patch, error) {
	blob, err := base64.StdEncoding.DecodeString(e.Patch)
	if err != nil {
		return "", nil, warperrors.Wrap(err, warperrors.SyncProtocol, warperrors.SeverityMedium, "sync: malformed patch envelope")
	}
	p, err := patch.Decode(blob)
	if err != nil {
		return "", nil, warperrors.Wrap(err, warperrors.SyncProtocol, warperrors.SeverityMedium, "sync: malformed patch blob")
	}
	return e.Sha, p, nil
}

func marshalRequest(req wireRequest) ([]byte, error) {
	return json.Marshal(req)
}

func unmarshalRequest(body []byte) (wireRequest, error) {
	var req wireRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return wireRequest{}, warperrors.Wrap(err, warperrors.SyncProtocol, warperrors.SeverityMedium, "sync: malformed request body")
	}
	if req.Type != typeSyncRequest {
		return wireRequest{}, warperrors.Newf(warperrors.SyncProtocol, warperrors.SeverityMedium, "sync: unexpected request type %q", req.Type)
	}
	return req, nil
}

func marshalResponse(resp wireResponse) ([]byte, error) {
	return json.Marshal(resp)
}

func unmarshalResponse(body []byte) (wireResponse, error) {
	var resp wireResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return wireResponse{}, warperrors.Wrap(err, warperrors.SyncProtocol, warperrors.SeverityMedium, "sync: malformed response body")
	}
	if resp.Type != typeSyncResponse {
		return wireResponse{}, warperrors.Newf(warperrors.SyncProtocol, warperrors.SeverityMedium, "sync: unexpected response type %q", resp.Type)
	}
	return resp, nil
}
