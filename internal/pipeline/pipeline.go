// Package pipeline wires together the leaves-first request lifecycle of
// spec.md §2: config extraction, dialect detection/decoding, moderation,
// re-serialization, upstream forwarding, and response transcoding.
//
// Grounded on the teacher's llm/pipeline.Factory/Pipeline composition
// shape (internal/server/llm/pipeline/pipeline.go): a dependency-holding
// struct built once at process start, exposing a single entry point per
// request. GuardianBridge has no channel retry/switching concept, so the
// Executor/Retryable machinery the teacher's pipeline carries is dropped;
// what survives is the "decode once, run a linear stage chain" shape.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/looplj/guardianbridge/internal/dialect"
	"github.com/looplj/guardianbridge/internal/ichat"
	"github.com/looplj/guardianbridge/internal/log"
	"github.com/looplj/guardianbridge/internal/moderation/basic"
	"github.com/looplj/guardianbridge/internal/moderation/profile"
	"github.com/looplj/guardianbridge/internal/moderation/smart"
	"github.com/looplj/guardianbridge/internal/moderation/smart/localmodel"
	"github.com/looplj/guardianbridge/internal/pkg/httpclient"
	"github.com/looplj/guardianbridge/internal/proxyconfig"
	"github.com/looplj/guardianbridge/internal/samplestore"
	"github.com/looplj/guardianbridge/internal/sse"
)

// Inbound is the minimal shape Handle needs from the incoming HTTP
// request, independent of the server framework (internal/server adapts a
// gin.Context into this).
type Inbound struct {
	Method  string
	Path    string // raw, still-encoded path + query, per spec.md §6.1
	Headers map[string]string
	Body    []byte
}

// Outcome is the result of a non-streaming Handle call, or the terminal
// summary of a streaming one (the stream itself is written directly to the
// io.Writer passed to Handle).
type Outcome struct {
	StatusCode  int
	ContentType string
	Body        []byte
	Streamed    bool
}

// DefaultKeywordsFile is used when a request's basic_moderation config
// omits keywords_file (spec.md §6.2 "defaults to a well-known location").
const DefaultKeywordsFile = "/etc/guardianbridge/keywords.txt"

// SampleStoreOpener opens (or returns a cached handle to) the sample store
// backing a profile, so Pipeline does not hold every profile's store open
// for the lifetime of the process (spec.md §5: "Sample store handles are
// process-wide per path").
type SampleStoreOpener func(prof *profile.Profile) (*samplestore.Store, error)

// Dependencies are the long-lived, process-wide collaborators Handle reads
// from. Pipeline owns none of their lifecycles; internal/server/cmd wires
// them up and closes them on shutdown (spec.md §4.6).
type Dependencies struct {
	Profiles    *profile.Store
	ModelCache  *localmodel.Cache
	OpenSamples SampleStoreOpener
	Upstream    *httpclient.HttpClient
	// AIClient is the process-wide HTTP client the AI adjudicator calls
	// out on, kept separate from Upstream's connection pool (spec.md §5
	// "HTTP client pools and AI client pools are process-wide").
	AIClient *httpclient.HttpClient
}

// Pipeline runs the full request lifecycle over Dependencies.
type Pipeline struct {
	deps Dependencies
}

func New(deps Dependencies) *Pipeline {
	return &Pipeline{deps: deps}
}

// Handle runs the lifecycle of spec.md §2 for one inbound request, writing
// a streaming response body to w as it is produced, or returning a
// buffered Outcome for a non-streaming one.
func (p *Pipeline) Handle(ctx context.Context, in Inbound, w io.Writer) (*Outcome, error) {
	cfg, target, err := proxyconfig.Parse(in.Path)
	if err != nil {
		return nil, configParseError(err)
	}

	detectReq := dialect.Request{
		Path:    target.Path(),
		Host:    targetHost(target.BaseURL),
		Headers: in.Headers,
		Body:    in.Body,
	}

	opts := dialect.DetectOptions{
		Allowed: allowedDialects(cfg),
		Strict:  cfg.FormatTransform.StrictParse,
	}

	source, err := dialect.DetectWithOptions(detectReq, opts)
	if err != nil {
		return nil, transformError(string(source), err)
	}

	if source == dialect.Unknown {
		// Nothing matched and strict mode is off: forward untransformed
		// (spec.md §4.1), skipping moderation entirely since there is no
		// Internal Chat Request to extract text from.
		return p.forwardRaw(ctx, in, target, w)
	}

	sourceCodec, ok := dialect.Get(source)
	if !ok {
		return nil, transformError(string(source), fmt.Errorf("no codec registered for dialect %q", source))
	}

	req, err := sourceCodec.DecodeRequest(in.Body)
	if err != nil {
		return nil, transformError(string(source), err)
	}

	log.Debug(ctx, "pipeline: decoded request", log.String("dialect", string(source)), log.String("model", req.Model))

	if err := p.moderate(ctx, cfg, string(source), req); err != nil {
		return nil, err
	}

	targetDialect := source
	if cfg.FormatTransform.Enabled && cfg.FormatTransform.To != "" {
		targetDialect = dialect.Dialect(cfg.FormatTransform.To)
	}

	targetCodec, ok := dialect.Get(targetDialect)
	if !ok {
		return nil, transformError(string(source), fmt.Errorf("no codec registered for target dialect %q", targetDialect))
	}

	outBody, err := targetCodec.EncodeRequest(req)
	if err != nil {
		log.Warn(ctx, "pipeline: encoder failed, forwarding source body unchanged", log.Cause(err))
		outBody = in.Body
		targetDialect = source
		targetCodec = sourceCodec
	}

	stream := resolveStream(cfg, req.Stream)

	upstreamReq := &httpclient.Request{
		Method:  in.Method,
		URL:     target.URL(),
		Headers: cloneHeaders(in.Headers),
		Body:    outBody,
	}

	if !stream {
		return p.forwardNonStream(ctx, upstreamReq, source, sourceCodec, targetCodec)
	}

	return p.forwardStream(ctx, upstreamReq, source, targetDialect, sourceCodec, targetCodec, w)
}

func (p *Pipeline) forwardNonStream(
	ctx context.Context,
	upstreamReq *httpclient.Request,
	source dialect.Dialect,
	sourceCodec, targetCodec dialect.Codec,
) (*Outcome, error) {
	resp, err := p.deps.Upstream.Do(ctx, upstreamReq)
	if err != nil {
		return nil, upstreamError(err)
	}

	if source == targetCodec.Dialect() {
		return &Outcome{StatusCode: resp.StatusCode, ContentType: "application/json", Body: resp.Body}, nil
	}

	decoded, err := targetCodec.DecodeResponse(resp.Body)
	if err != nil {
		// Non-JSON or undecodable upstream body: return it verbatim per
		// spec.md §7 ("attempt to return text payload verbatim").
		return &Outcome{StatusCode: resp.StatusCode, ContentType: "application/json", Body: resp.Body}, nil
	}

	reencoded, err := sourceCodec.EncodeResponse(decoded)
	if err != nil {
		log.Warn(ctx, "pipeline: response encoder failed, forwarding upstream body unchanged", log.Cause(err))
		return &Outcome{StatusCode: resp.StatusCode, ContentType: "application/json", Body: resp.Body}, nil
	}

	return &Outcome{StatusCode: resp.StatusCode, ContentType: "application/json", Body: reencoded}, nil
}

func (p *Pipeline) forwardStream(
	ctx context.Context,
	upstreamReq *httpclient.Request,
	source, targetDialect dialect.Dialect,
	sourceCodec, targetCodec dialect.Codec,
	w io.Writer,
) (*Outcome, error) {
	resp, err := p.deps.Upstream.DoRawBodyStream(ctx, upstreamReq)
	if err != nil {
		return nil, upstreamError(err)
	}
	defer resp.Stream.Close()

	if source == targetDialect {
		// Identity transform: stream bytes verbatim (spec.md §4.2).
		if _, err := io.Copy(w, resp.Stream); err != nil {
			return nil, upstreamError(err)
		}

		return &Outcome{StatusCode: resp.StatusCode, ContentType: "text/event-stream", Streamed: true}, nil
	}

	transcoder := sse.NewTranscoder(ctx, resp.Stream, targetCodec.NewStreamDecoder(), sourceCodec.NewStreamEncoder(), w)
	if err := transcoder.Run(ctx); err != nil {
		return nil, upstreamError(err)
	}

	return &Outcome{StatusCode: resp.StatusCode, ContentType: "text/event-stream", Streamed: true}, nil
}

// forwardRaw handles the "nothing matched, strict mode off" branch: the
// body is forwarded untransformed and moderation is skipped (there is no
// Internal Chat Request to project text from).
func (p *Pipeline) forwardRaw(ctx context.Context, in Inbound, target *proxyconfig.Target, w io.Writer) (*Outcome, error) {
	upstreamReq := &httpclient.Request{
		Method:  in.Method,
		URL:     target.URL(),
		Headers: cloneHeaders(in.Headers),
		Body:    in.Body,
	}

	resp, err := p.deps.Upstream.Do(ctx, upstreamReq)
	if err != nil {
		return nil, upstreamError(err)
	}

	return &Outcome{StatusCode: resp.StatusCode, ContentType: resp.Headers.Get("Content-Type"), Body: resp.Body}, nil
}

// moderate runs the Basic then Smart moderation stages over req's
// projected text (spec.md §4.3), returning a *Error{Code:
// CodeModerationBlocked} on rejection.
func (p *Pipeline) moderate(ctx context.Context, cfg *proxyconfig.Config, sourceFormat string, req *ichat.Request) error {
	text := ichat.ExtractModerationText(req)

	if cfg.BasicModeration.Enabled {
		path := cfg.BasicModeration.KeywordsFile
		if path == "" {
			path = DefaultKeywordsFile
		}

		result, err := basic.ForPath(path).Check(text)
		if err != nil {
			return proxyError(fmt.Errorf("basic moderation: %w", err))
		}

		if result.Blocked {
			reason := "Matched keyword: " + result.Keyword
			if cfg.BasicModeration.ErrorCode != "" {
				reason = cfg.BasicModeration.ErrorCode + ": " + reason
			}

			return moderationBlocked(sourceFormat, reason)
		}
	}

	if !cfg.SmartModeration.Enabled {
		return nil
	}

	prof, err := p.deps.Profiles.Get(cfg.SmartModeration.Profile)
	if err != nil {
		return proxyError(fmt.Errorf("smart moderation: %w", err))
	}

	params, store, err := p.smartParams(ctx, prof)
	if err != nil {
		return proxyError(fmt.Errorf("smart moderation: %w", err))
	}

	if store != nil {
		defer store.Close()
	}

	decision, err := smart.Decide(ctx, text, params)
	if err != nil {
		return proxyError(fmt.Errorf("smart moderation: %w", err))
	}

	if decision.Violation {
		reason := decision.Reason
		if decision.Category != "" {
			reason = decision.Category + ": " + reason
		}

		return moderationBlocked(sourceFormat, reason)
	}

	return nil
}

// smartParams builds smart.Params for prof, loading its local-model
// predictor (if present and not corrupted) and opening its sample store
// for the Recorder. The returned *samplestore.Store, if non-nil, is the
// caller's to Close.
func (p *Pipeline) smartParams(ctx context.Context, prof *profile.Profile) (smart.Params, *samplestore.Store, error) {
	predictor, err := p.loadPredictor(prof)
	if err != nil {
		log.Warn(ctx, "smart moderation: local model unusable, falling back to AI",
			log.String("profile", prof.Name), log.Cause(err))

		predictor = nil
	}

	store, err := p.deps.OpenSamples(prof)
	if err != nil {
		return smart.Params{}, nil, err
	}

	adjudicator := &smart.HTTPAdjudicator{
		BaseURL:        prof.AI.BaseURL,
		APIKey:         os.Getenv(prof.AI.APIKeyEnv),
		Model:          prof.AI.Model,
		PromptTemplate: prof.AI.PromptTemplate,
		Timeout:        prof.AI.Timeout,
		Client:         p.deps.AIClient,
	}

	return smart.Params{
		AIReviewRate:  prof.Probability.AIReviewRate,
		LowThreshold:  prof.Probability.LowRiskThresh,
		HighThreshold: prof.Probability.HighRiskThresh,
		RandomSeed:    prof.Probability.RandomSeed,
		Predictor:     predictor,
		Adjudicator:   adjudicator,
		Recorder:      store,
		Rand:          smart.RandForProfile(prof.Name, prof.Probability.RandomSeed),
	}, store, nil
}

func (p *Pipeline) loadPredictor(prof *profile.Profile) (localmodel.Predictor, error) {
	path := prof.ModelPath()
	if path == "" {
		return nil, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, nil // no model present yet: spec.md §4.3 step 3
	}

	return p.deps.ModelCache.Get(prof.Name, info.ModTime(), func() (localmodel.Predictor, error) {
		predictor, _, err := localmodel.LoadForVariant(string(prof.LocalModelType), prof.Dir, prof.AI.Timeout)
		return predictor, err
	})
}

func allowedDialects(cfg *proxyconfig.Config) []dialect.Dialect {
	if !cfg.FormatTransform.Enabled || cfg.FormatTransform.FromAuto() {
		return nil
	}

	names := cfg.FormatTransform.FromList()
	allowed := make([]dialect.Dialect, 0, len(names))

	for _, n := range names {
		allowed = append(allowed, dialect.Dialect(n))
	}

	return allowed
}

// resolveStream implements format_transform.stream's "auto" | forced
// semantics (spec.md §6.2).
func resolveStream(cfg *proxyconfig.Config, requestWantsStream bool) bool {
	switch cfg.FormatTransform.Stream {
	case "", "auto":
		return requestWantsStream
	default:
		forced, err := strconv.ParseBool(cfg.FormatTransform.Stream)
		if err != nil {
			return requestWantsStream
		}

		return forced
	}
}

func cloneHeaders(h map[string]string) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		out[k] = []string{v}
	}

	return out
}

// targetHost returns the base URL unchanged as the Host for the Gemini
// detection rule, which matches on Host substring (spec.md §4.1);
// proxyconfig.Parse has already reduced it to "scheme://host".
func targetHost(baseURL string) string {
	return baseURL
}
