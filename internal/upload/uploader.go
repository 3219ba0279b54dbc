package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/memfault/memfaultd-go/internal/asa"
	"github.com/memfault/memfaultd-go/internal/circuit"
	"github.com/memfault/memfaultd-go/internal/config"
	"github.com/memfault/memfaultd-go/internal/logging"
	"github.com/memfault/memfaultd-go/internal/selfmetrics"
	"github.com/memfault/memfaultd-go/internal/zipstream"
	"github.com/memfault/memfaultd-go/pkg/agenterrors"
	"github.com/memfault/memfaultd-go/pkg/retry"
)

const (
	marCommitEndpoint      = "/api/v0/upload/mar"
	coredumpCommitEndpoint = "/api/v0/upload/elf_coredump"
)

// Uploader walks an artifact staging area, bundles committed entries into
// ZIP streams, and runs the three-call HTTPS upload protocol against the
// backend, deleting each bundle's entries once the backend has
// acknowledged it.
type Uploader struct {
	stagingRoot string
	config      config.UploadConfig
	httpClient  *http.Client
	breaker     *circuit.CircuitBreaker
	retryer     *retry.Retryer
	log         *logging.Logger
}

// New builds an Uploader rooted at stagingRoot. metrics, when non-nil,
// receives circuit breaker state transitions and retry attempts so the
// agent's own health reflects the backend it's uploading to.
func New(stagingRoot string, cfg config.UploadConfig, metrics *selfmetrics.Collector, log *logging.Logger) *Uploader {
	breaker := circuit.NewCircuitBreaker(breakerName(cfg.BaseURL), circuit.Config{
		OnStateChange: func(name string, from, to circuit.State) {
			if metrics != nil {
				metrics.RecordBreakerStateChange(name, to)
			}
			if log != nil {
				log.WithFields(map[string]interface{}{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Info("circuit breaker state changed")
			}
		},
	})

	retryCfg := retry.DefaultConfig()
	if cfg.MaxAttempts > 0 {
		retryCfg.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialDelay > 0 {
		retryCfg.InitialDelay = cfg.InitialDelay
	}
	if cfg.MaxDelay > 0 {
		retryCfg.MaxDelay = cfg.MaxDelay
	}
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		if metrics != nil {
			metrics.RecordRetryAttempt("upload", delay)
		}
	}

	return &Uploader{
		stagingRoot: stagingRoot,
		config:      cfg,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		breaker:     breaker,
		retryer:     retry.New(retryCfg),
		log:         log,
	}
}

// breakerName derives a stable circuit breaker name from the backend's
// host, falling back to a generic name when baseURL doesn't parse.
func breakerName(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return "uploader"
	}
	return u.Host
}

// do executes req through the circuit breaker, translating transport
// errors into the agent's retriable network error code.
func (u *Uploader) do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := u.breaker.Execute(func() error {
		r, err := u.httpClient.Do(req)
		if err != nil {
			return agenterrors.New(agenterrors.CodeNetworkError, "http request failed").
				WithComponent("upload").WithCause(err).WithRetryable(true)
		}
		resp = r
		return nil
	})
	if err != nil {
		if err == circuit.ErrOpenState || err == circuit.ErrTooManyRequests {
			return nil, agenterrors.New(agenterrors.CodeConnectionFailed, "upload circuit breaker is open").
				WithComponent("upload").WithCause(err).WithRetryable(true)
		}
		return nil, err
	}
	return resp, nil
}

// Run uploads every bundle found in the staging area and commits each one
// to the MAR endpoint (marCommitEndpoint); no bundle is committed to the
// ELF coredump endpoint. Entries whose
// upload succeeds are deleted; a retriable error on one bundle halts the
// remaining bundles in this run without deleting anything, since later
// bundles are likely to hit the same outage.
func (u *Uploader) Run(ctx context.Context) error {
	bundles, err := GatherBundles(u.stagingRoot, u.config.MaxBundleSizeB, u.log)
	if err != nil {
		return err
	}

	for _, bundle := range bundles {
		if err := u.uploadBundle(ctx, bundle); err != nil {
			var agentErr *agenterrors.AgentError
			if errors.As(err, &agentErr) && agentErr.Retryable {
				return err
			}
			if u.log != nil {
				u.log.WithField("entries", len(bundle.EntryPaths)).Warn("bundle upload failed, discarding this batch")
			}
			continue
		}
		u.deleteEntries(bundle.EntryPaths)
	}
	return nil
}

func (u *Uploader) uploadBundle(ctx context.Context, bundle Bundle) error {
	return u.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		encoder, err := zipstream.NewEncoder(bundle.ZipInfos)
		if err != nil {
			return agenterrors.New(agenterrors.CodeInternal, "failed to construct bundle archive").WithCause(err)
		}
		size := int64(encoder.Len())

		var body io.Reader = encoder
		gzipEncoded := false
		if u.config.GzipEnabled {
			compressed, err := gzipAll(encoder)
			if err != nil {
				return agenterrors.New(agenterrors.CodeInternal, "failed to gzip bundle").WithCause(err)
			}
			body = compressed
			size = int64(compressed.Len())
			gzipEncoded = true
		}

		prep, err := u.prepare(ctx, size, gzipEncoded)
		if err != nil {
			return err
		}
		if err := u.put(ctx, prep.UploadURL, body, size, gzipEncoded); err != nil {
			return err
		}
		return u.commit(ctx, marCommitEndpoint, prep.Token)
	})
}

func (u *Uploader) deleteEntries(paths []string) {
	for _, p := range paths {
		if err := (asa.Entry{Path: p}).Remove(); err != nil && u.log != nil {
			u.log.WithField("path", p).Warn("unable to delete uploaded entry")
		}
	}
}

// gzipAll buffers r through gzip since Content-Length must be known before
// the PUT begins; bundles are already bounded by max_bundle_size so this
// buffering is intentionally small.
func gzipAll(r io.Reader) (*bytes.Buffer, error) {
	buf := &bytes.Buffer{}
	gw := gzip.NewWriter(buf)
	if _, err := io.Copy(gw, r); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf, nil
}
