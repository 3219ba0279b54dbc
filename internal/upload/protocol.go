package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/memfault/memfaultd-go/pkg/agenterrors"
)

// prepareRequest is the body of the first upload call.
type prepareRequest struct {
	Size int64 `json:"size"`
	Gzip bool  `json:"gzip"`
}

// prepareResponse is the backend's answer: where to PUT the bundle and
// what token to reference when committing it.
type prepareResponse struct {
	UploadURL string `json:"upload_url"`
	Token     string `json:"token"`
}

// commitRequest references the token from prepare so the backend can
// locate the just-uploaded bundle.
type commitRequest struct {
	Token string `json:"token"`
}

func (u *Uploader) prepare(ctx context.Context, size int64, gzip bool) (prepareResponse, error) {
	body, err := json.Marshal(prepareRequest{Size: size, Gzip: gzip})
	if err != nil {
		return prepareResponse{}, agenterrors.New(agenterrors.CodeInternal, "failed to marshal prepare request").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.config.BaseURL+"/api/v0/upload", bytes.NewReader(body))
	if err != nil {
		return prepareResponse{}, agenterrors.New(agenterrors.CodeInternal, "failed to build prepare request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.do(req)
	if err != nil {
		return prepareResponse{}, err
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return prepareResponse{}, err
	}

	var out prepareResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return prepareResponse{}, agenterrors.New(agenterrors.CodeServerRejected, "prepare response was not valid JSON").WithCause(err)
	}
	return out, nil
}

func (u *Uploader) put(ctx context.Context, uploadURL string, body io.Reader, size int64, gzipEncoded bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, body)
	if err != nil {
		return agenterrors.New(agenterrors.CodeInternal, "failed to build PUT request").WithCause(err)
	}
	req.ContentLength = size
	if gzipEncoded {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := u.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return classifyStatus(resp.StatusCode)
}

func (u *Uploader) commit(ctx context.Context, endpoint string, token string) error {
	body, err := json.Marshal(commitRequest{Token: token})
	if err != nil {
		return agenterrors.New(agenterrors.CodeInternal, "failed to marshal commit request").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.config.BaseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return agenterrors.New(agenterrors.CodeInternal, "failed to build commit request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return classifyStatus(resp.StatusCode)
}

// classifyStatus maps an HTTP status to the agent's error taxonomy: 2xx is
// success, 5xx is retriable, everything else is fatal for this artifact.
func classifyStatus(status int) error {
	if status >= 200 && status < 300 {
		return nil
	}
	if status >= 500 {
		return agenterrors.New(agenterrors.CodeServerRejected, fmt.Sprintf("server error: %d", status)).
			WithRetryable(true)
	}
	return agenterrors.New(agenterrors.CodeServerRejected, fmt.Sprintf("request rejected: %d", status)).
		WithRetryable(false)
}
